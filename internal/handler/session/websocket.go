package session

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/memoria/backend/internal/errs"
	"github.com/zhouzirui/memoria/backend/internal/service/ai"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 54 * time.Second
	wsWriteTimeout = 10 * time.Second
)

type inboundMessage struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type outgoingMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// wsConn serializes writes; gorilla allows one concurrent writer.
type wsConn struct {
	conn      *websocket.Conn
	sessionID string
	mu        sync.Mutex
}

func (c *wsConn) send(msgType string, data any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	msg := outgoingMessage{
		Type:      msgType,
		SessionID: c.sessionID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}
	if err := c.conn.WriteJSON(msg); err != nil {
		log.Printf("[ws] write %s failed: %v", msgType, err)
	}
}

func (c *wsConn) sendError(err error) {
	status, message := publicError(err)
	c.send("error", map[string]any{"message": message, "status": status})
}

// handleWebSocket 通过WebSocket连续处理多轮对话
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	sessionID := chi.URLParam(r, "sessionID")

	session, err := h.chatSvc.GetSession(r.Context(), owner, sessionID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	log.Printf("[ws] new connection for session: %s", sessionID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(h.readTimeout))
		return nil
	})

	client := &wsConn{conn: conn, sessionID: sessionID}
	go pingLoop(ctx, client)

	client.send("connected", map[string]any{"title": session.Title, "turnCount": session.TurnCount})

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[ws] read error: %v", err)
			}
			return
		}

		h.handleInbound(ctx, client, owner, msg)

		// a turn may outlast the read deadline
		conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	}
}

func (h *Handler) handleInbound(ctx context.Context, client *wsConn, owner string, msg inboundMessage) {
	switch msg.Type {
	case "message":
		reply, err := h.chatSvc.SendMessage(ctx, owner, client.sessionID, msg.Content, func(event ai.Event) {
			client.send(event.Type, event)
		})
		if err != nil {
			client.sendError(err)
			return
		}
		client.send("reply", reply)
	case "focus":
		if err := h.chatSvc.SetFocus(owner, msg.Content); err != nil {
			client.sendError(err)
			return
		}
		client.send("focus", map[string]string{"focus": h.chatSvc.PendingFocus(owner)})
	case "ping":
		client.send("pong", nil)
	default:
		client.sendError(errs.Validation("unsupported message type: %s", msg.Type))
	}
}

// pingLoop 定期发送ping消息
func pingLoop(ctx context.Context, client *wsConn) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := client.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		}
	}
}
