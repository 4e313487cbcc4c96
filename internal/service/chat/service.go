package chat

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/zhouzirui/memoria/backend/internal/errs"
	"github.com/zhouzirui/memoria/backend/internal/model/chat"
	"github.com/zhouzirui/memoria/backend/internal/model/memory"
	"github.com/zhouzirui/memoria/backend/internal/service/ai"
	memoryservice "github.com/zhouzirui/memoria/backend/internal/service/memory"
)

const greetingInstruction = "A new conversation has just started. Greet the user warmly in one or two sentences. " +
	"If you remember anything about them, use it to make the greeting personal."

// Runner executes one orchestrated turn.
type Runner interface {
	Run(ctx context.Context, turn ai.Turn) (*ai.Result, error)
}

// Reply is the outcome of a user turn.
type Reply struct {
	Content      string        `json:"content"`
	SessionTitle string        `json:"sessionTitle"`
	Session      *chat.Session `json:"-"`
}

// Service coordinates sessions, long-term memory and the orchestrator.
// Turns of the same owner are serialized; different owners run in parallel.
type Service struct {
	store      Store
	memories   *memoryservice.Registry
	agent      Runner
	focus      *Focus
	windowSize int
	now        func() time.Time

	locksMu sync.Mutex
	locks   map[string]*ownerLock
}

// ownerLock is dropped from the map once no turn holds or waits for it.
type ownerLock struct {
	mu   sync.Mutex
	refs int
}

// ServiceOption configures the Service.
type ServiceOption func(*Service)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithWindowSize bounds the history passed to the orchestrator.
func WithWindowSize(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.windowSize = n
		}
	}
}

// NewService wires the turn coordinator.
func NewService(store Store, memories *memoryservice.Registry, agent Runner, opts ...ServiceOption) *Service {
	s := &Service{
		store:      store,
		memories:   memories,
		agent:      agent,
		focus:      NewFocus(),
		windowSize: chat.WindowSize,
		now:        func() time.Time { return time.Now().UTC() },
		locks:      make(map[string]*ownerLock),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) lock(owner string) func() {
	s.locksMu.Lock()
	l, ok := s.locks[owner]
	if !ok {
		l = &ownerLock{}
		s.locks[owner] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		s.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, owner)
		}
		s.locksMu.Unlock()
	}
}

func (s *Service) create(ctx context.Context, owner, name string) (*chat.Session, error) {
	if named, ok := s.store.(namedCreator); ok {
		return named.CreateNamed(ctx, owner, name)
	}
	return s.store.Create(ctx, owner)
}

// CreateSession creates an empty session without a greeting.
func (s *Service) CreateSession(ctx context.Context, owner, name string) (*chat.Session, error) {
	unlock := s.lock(owner)
	defer unlock()

	session, err := s.create(ctx, owner, name)
	if err != nil {
		return nil, err
	}
	log.Printf("[session] created session=%s owner=%s", session.ID, owner)
	return session, nil
}

// StartSession creates a session and lets the assistant open the conversation.
// The greeting instruction is not stored; title and turn count stay untouched.
func (s *Service) StartSession(ctx context.Context, owner, name string) (*chat.Session, error) {
	unlock := s.lock(owner)
	defer unlock()

	session, err := s.create(ctx, owner, name)
	if err != nil {
		return nil, err
	}

	result, err := s.agent.Run(ctx, ai.Turn{
		Memory:      s.memories.For(owner),
		UserMessage: greetingInstruction,
	})
	if err != nil {
		return nil, fmt.Errorf("greeting turn: %w", err)
	}

	now := s.now()
	session.AppendAssistant(result.Reply, now)
	session.UpdatedAt = now
	if err := s.store.Save(ctx, session); err != nil {
		return nil, err
	}

	log.Printf("[session] started session=%s owner=%s", session.ID, owner)
	return session, nil
}

// GetSession returns one session of owner.
func (s *Service) GetSession(ctx context.Context, owner, id string) (*chat.Session, error) {
	return s.store.Get(ctx, owner, id)
}

// ListSessions returns the session summaries of owner.
func (s *Service) ListSessions(ctx context.Context, owner string) ([]chat.Summary, error) {
	return s.store.List(ctx, owner)
}

// Memories returns the long-term memory entries of owner.
func (s *Service) Memories(owner string) []memory.Entry {
	return s.memories.For(owner).All()
}

// SetFocus records a topic hint for the owner's next turn. Blank text clears it.
func (s *Service) SetFocus(owner, text string) error {
	if strings.TrimSpace(owner) == "" {
		return errs.Validation("owner is required")
	}
	s.focus.Set(owner, text)
	return nil
}

// PendingFocus returns the hint that the next turn will carry.
func (s *Service) PendingFocus(owner string) string {
	return s.focus.Peek(owner)
}

// SendMessage runs one user turn. The session is persisted only after the model replied;
// a failed turn leaves the stored session unchanged.
func (s *Service) SendMessage(ctx context.Context, owner, id, content string, observer ai.Observer) (*Reply, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, errs.Validation("message content is required")
	}

	unlock := s.lock(owner)
	defer unlock()

	session, err := s.store.Get(ctx, owner, id)
	if err != nil {
		return nil, err
	}

	hint := s.focus.Peek(owner)
	message := ApplyFocus(hint, content)

	result, err := s.agent.Run(ctx, ai.Turn{
		Memory:      s.memories.For(owner),
		History:     session.Window(s.windowSize),
		UserMessage: message,
		Observer:    observer,
	})
	if err != nil {
		log.Printf("[session] turn failed session=%s owner=%s: %v", id, owner, err)
		return nil, err
	}

	now := s.now()
	first := !session.HasUserMessage()
	session.AppendUser(message, now)
	if first {
		session.Title = chat.DeriveTitle(content)
	}
	session.AppendAssistant(result.Reply, now)
	session.TurnCount++
	session.UpdatedAt = now

	if err := s.store.Save(ctx, session); err != nil {
		return nil, err
	}
	s.focus.Clear(owner, hint)

	log.Printf("[session] turn completed session=%s owner=%s turn=%d iterations=%d tool_calls=%d",
		session.ID, owner, session.TurnCount, result.Iterations, result.ToolCalls)

	return &Reply{Content: result.Reply, SessionTitle: session.Title, Session: session}, nil
}
