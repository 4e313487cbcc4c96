package chat

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/memoria/backend/internal/errs"
	"github.com/zhouzirui/memoria/backend/internal/model/chat"
)

// Registry is the in-process session store used by the console. Nothing survives a restart.
type Registry struct {
	mu     sync.RWMutex
	owners map[string]*ownerSessions
	now    func() time.Time
}

type ownerSessions struct {
	order    []string
	sessions map[string]*chat.Session
	active   string
}

// NewRegistry creates an empty ephemeral store.
func NewRegistry() *Registry {
	return &Registry{
		owners: make(map[string]*ownerSessions),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (r *Registry) ownerLocked(owner string) *ownerSessions {
	sessions, ok := r.owners[owner]
	if !ok {
		sessions = &ownerSessions{sessions: make(map[string]*chat.Session)}
		r.owners[owner] = sessions
	}
	return sessions
}

// Create adds a session with a generated name and makes it active.
func (r *Registry) Create(ctx context.Context, owner string) (*chat.Session, error) {
	return r.CreateNamed(ctx, owner, "")
}

// CreateNamed adds a labelled session and makes it active.
func (r *Registry) CreateNamed(_ context.Context, owner, name string) (*chat.Session, error) {
	if strings.TrimSpace(owner) == "" {
		return nil, errs.Validation("owner is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	sessions := r.ownerLocked(owner)
	name = strings.TrimSpace(name)
	if name == "" {
		name = fmt.Sprintf("session-%d", len(sessions.order)+1)
	}

	session := chat.NewSession(uuid.NewString(), owner, r.now())
	session.Name = name
	sessions.sessions[session.ID] = session
	sessions.order = append(sessions.order, session.ID)
	sessions.active = session.ID
	return session.Clone(), nil
}

// Get returns a copy of the session.
func (r *Registry) Get(_ context.Context, owner, id string) (*chat.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions, ok := r.owners[owner]
	if !ok {
		return nil, ErrSessionNotFound
	}
	session, ok := sessions.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session.Clone(), nil
}

// List returns summaries in creation order, matching the numeric switch index.
func (r *Registry) List(_ context.Context, owner string) ([]chat.Summary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions, ok := r.owners[owner]
	if !ok {
		return []chat.Summary{}, nil
	}
	summaries := make([]chat.Summary, 0, len(sessions.order))
	for _, id := range sessions.order {
		summaries = append(summaries, sessions.sessions[id].Summary())
	}
	return summaries, nil
}

// Save stores a copy of session, registering it if unknown.
func (r *Registry) Save(_ context.Context, session *chat.Session) error {
	if session == nil || session.ID == "" {
		return errs.Validation("session is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	sessions := r.ownerLocked(session.Owner)
	if _, ok := sessions.sessions[session.ID]; !ok {
		sessions.order = append(sessions.order, session.ID)
	}
	sessions.sessions[session.ID] = session.Clone()
	return nil
}

// Active returns the owner's current session.
func (r *Registry) Active(owner string) (*chat.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions, ok := r.owners[owner]
	if !ok || sessions.active == "" {
		return nil, ErrSessionNotFound
	}
	return sessions.sessions[sessions.active].Clone(), nil
}

// Switch activates a session by 1-based position or by case-insensitive name.
// On a miss the active session is left untouched.
func (r *Registry) Switch(owner, token string) (*chat.Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errs.Validation("session name or number is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	sessions, ok := r.owners[owner]
	if !ok {
		return nil, ErrSessionNotFound
	}

	target := ""
	if idx, err := strconv.Atoi(token); err == nil {
		if idx >= 1 && idx <= len(sessions.order) {
			target = sessions.order[idx-1]
		}
	} else {
		for _, id := range sessions.order {
			if strings.EqualFold(sessions.sessions[id].Name, token) {
				target = id
				break
			}
		}
	}
	if target == "" {
		return nil, fmt.Errorf("%w: %q", ErrSessionNotFound, token)
	}

	sessions.active = target
	return sessions.sessions[target].Clone(), nil
}
