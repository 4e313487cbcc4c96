package session

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/memoria/backend/internal/errs"
	"github.com/zhouzirui/memoria/backend/internal/model/chat"
	"github.com/zhouzirui/memoria/backend/internal/service/ai"
	chatservice "github.com/zhouzirui/memoria/backend/internal/service/chat"
	memoryservice "github.com/zhouzirui/memoria/backend/internal/service/memory"
)

type fakeRunner struct {
	reply string
	err   error
	tool  bool
	delay time.Duration
}

func (f *fakeRunner) Run(_ context.Context, turn ai.Turn) (*ai.Result, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.tool && turn.Observer != nil {
		turn.Observer(ai.Event{Type: ai.EventToolCall, Iteration: 1, Tool: "add_memory", Result: "Saved memory [x]."})
	}
	return &ai.Result{Reply: f.reply, Iterations: 1}, nil
}

func setupRouter(t *testing.T, runner chatservice.Runner) (*chi.Mux, *chatservice.Service) {
	t.Helper()
	memories, err := memoryservice.NewRegistry(memoryservice.RegistryConfig{Root: t.TempDir()})
	if err != nil {
		t.Fatalf("NewRegistry err: %v", err)
	}
	t.Cleanup(memories.Close)

	chatSvc := chatservice.NewService(chatservice.NewFileStore(t.TempDir()), memories, runner)
	r := chi.NewRouter()
	New(chatSvc).RegisterRoutes(r)
	return r, chatSvc
}

func createSession(t *testing.T, svc *chatservice.Service, owner string) *chat.Session {
	t.Helper()
	session, err := svc.CreateSession(context.Background(), owner, "")
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}
	return session
}

func TestCreateSessionRunsGreeting(t *testing.T) {
	r, _ := setupRouter(t, &fakeRunner{reply: "Hello! Nice to meet you."})
	owner := uuid.NewString()

	req := httptest.NewRequest(http.MethodPost, "/sessions/"+owner, nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var session chat.Session
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if session.Owner != owner || len(session.Messages) != 1 || session.Messages[0].Role != chat.RoleAssistant {
		t.Fatalf("unexpected session: %+v", session)
	}
}

func TestInvalidOwnerRejected(t *testing.T) {
	r, _ := setupRouter(t, &fakeRunner{reply: "ok"})

	req := httptest.NewRequest(http.MethodGet, "/sessions/not-a-uuid", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	r, _ := setupRouter(t, &fakeRunner{reply: "ok"})

	req := httptest.NewRequest(http.MethodGet, "/sessions/"+uuid.NewString()+"/"+uuid.NewString(), nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestSendMessageAndList(t *testing.T) {
	r, svc := setupRouter(t, &fakeRunner{reply: "Hi there!"})
	owner := uuid.NewString()
	session := createSession(t, svc, owner)

	payload, _ := json.Marshal(map[string]string{"content": "Hello there"})
	req := httptest.NewRequest(http.MethodPost, "/sessions/"+owner+"/"+session.ID+"/messages", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var reply map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if reply["content"] != "Hi there!" || reply["sessionTitle"] != "Hello there" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	if len(reply) != 2 {
		t.Fatalf("reply should only carry content and sessionTitle: %+v", reply)
	}

	req = httptest.NewRequest(http.MethodGet, "/sessions/"+owner, nil)
	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	var summaries []chat.Summary
	if err := json.NewDecoder(resp.Body).Decode(&summaries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(summaries) != 1 || summaries[0].MessageCount != 2 || summaries[0].Title != "Hello there" {
		t.Fatalf("unexpected summaries: %+v", summaries)
	}
}

func TestSendMessageErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		runner *fakeRunner
		body   string
		want   int
	}{
		{name: "blank content", runner: &fakeRunner{reply: "ok"}, body: `{"content":"   "}`, want: http.StatusBadRequest},
		{name: "malformed body", runner: &fakeRunner{reply: "ok"}, body: `{`, want: http.StatusBadRequest},
		{name: "upstream failure", runner: &fakeRunner{err: errs.ErrUpstream}, body: `{"content":"hi"}`, want: http.StatusBadGateway},
		{name: "loop exceeded", runner: &fakeRunner{err: errs.ErrLoopExceeded}, body: `{"content":"hi"}`, want: http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, svc := setupRouter(t, tt.runner)
			owner := uuid.NewString()
			session := createSession(t, svc, owner)

			req := httptest.NewRequest(http.MethodPost, "/sessions/"+owner+"/"+session.ID+"/messages", strings.NewReader(tt.body))
			resp := httptest.NewRecorder()
			r.ServeHTTP(resp, req)

			if resp.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, resp.Code)
			}
		})
	}
}

func TestSetFocus(t *testing.T) {
	r, svc := setupRouter(t, &fakeRunner{reply: "ok"})
	owner := uuid.NewString()

	req := httptest.NewRequest(http.MethodPut, "/sessions/"+owner+"/focus", strings.NewReader(`{"focus":"gardening"}`))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if svc.PendingFocus(owner) != "gardening" {
		t.Fatalf("focus not recorded")
	}
}

func TestStreamEmitsEvents(t *testing.T) {
	r, svc := setupRouter(t, &fakeRunner{reply: "Saved!", tool: true})
	owner := uuid.NewString()
	session := createSession(t, svc, owner)

	server := httptest.NewServer(r)
	defer server.Close()

	resp, err := http.Get(server.URL + "/sessions/" + owner + "/" + session.ID + "/stream?message=remember+x")
	if err != nil {
		t.Fatalf("GET stream: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	var events []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if line := scanner.Text(); strings.HasPrefix(line, "event: ") {
			events = append(events, strings.TrimPrefix(line, "event: "))
		}
	}

	want := []string{"start", ai.EventToolCall, "message", "end"}
	if strings.Join(events, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected events %v", events)
	}
}

func TestStreamRequiresMessage(t *testing.T) {
	r, svc := setupRouter(t, &fakeRunner{reply: "ok"})
	owner := uuid.NewString()
	session := createSession(t, svc, owner)

	req := httptest.NewRequest(http.MethodGet, "/sessions/"+owner+"/"+session.ID+"/stream", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestWebSocketTurn(t *testing.T) {
	r, svc := setupRouter(t, &fakeRunner{reply: "Hello from ws", tool: true})
	owner := uuid.NewString()
	session := createSession(t, svc, owner)

	server := httptest.NewServer(r)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/sessions/" + owner + "/" + session.ID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var msg outgoingMessage
	if err := conn.ReadJSON(&msg); err != nil || msg.Type != "connected" {
		t.Fatalf("expected connected message, got %+v (%v)", msg, err)
	}

	if err := conn.WriteJSON(inboundMessage{Type: "message", Content: "hi"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	var types []string
	for len(types) < 2 {
		var out outgoingMessage
		if err := conn.ReadJSON(&out); err != nil {
			t.Fatalf("read: %v", err)
		}
		types = append(types, out.Type)
	}
	if types[0] != ai.EventToolCall || types[1] != "reply" {
		t.Fatalf("unexpected message types %v", types)
	}

	stored, err := svc.GetSession(context.Background(), owner, session.ID)
	if err != nil || stored.TurnCount != 1 {
		t.Fatalf("turn not persisted: %+v %v", stored, err)
	}
}

func TestWebSocketSurvivesTurnLongerThanReadTimeout(t *testing.T) {
	memories, err := memoryservice.NewRegistry(memoryservice.RegistryConfig{Root: t.TempDir()})
	if err != nil {
		t.Fatalf("NewRegistry err: %v", err)
	}
	t.Cleanup(memories.Close)

	svc := chatservice.NewService(chatservice.NewFileStore(t.TempDir()), memories, &fakeRunner{reply: "slow", delay: 300 * time.Millisecond})
	h := New(svc)
	h.readTimeout = 100 * time.Millisecond
	r := chi.NewRouter()
	h.RegisterRoutes(r)

	owner := uuid.NewString()
	session := createSession(t, svc, owner)
	server := httptest.NewServer(r)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/sessions/" + owner + "/" + session.ID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var msg outgoingMessage
	if err := conn.ReadJSON(&msg); err != nil || msg.Type != "connected" {
		t.Fatalf("expected connected message, got %+v (%v)", msg, err)
	}

	for i := 0; i < 2; i++ {
		if err := conn.WriteJSON(inboundMessage{Type: "message", Content: "hi"}); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
		var out outgoingMessage
		if err := conn.ReadJSON(&out); err != nil || out.Type != "reply" {
			t.Fatalf("turn %d: expected reply, got %+v (%v)", i, out, err)
		}
	}

	stored, err := svc.GetSession(context.Background(), owner, session.ID)
	if err != nil || stored.TurnCount != 2 {
		t.Fatalf("expected two persisted turns: %+v %v", stored, err)
	}
}

func TestWebSocketUnknownSession(t *testing.T) {
	r, _ := setupRouter(t, &fakeRunner{reply: "ok"})
	server := httptest.NewServer(r)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/sessions/" + uuid.NewString() + "/" + uuid.NewString() + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 handshake response, got %+v", resp)
	}
}
