package chat

import (
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// DefaultTitle is shown until the first user message names the session.
	DefaultTitle = "New conversation"
	// WindowSize bounds the short-term context handed to the model.
	WindowSize = 20

	titleLimit    = 60
	titleEllipsis = "..."
)

// Session captures one conversation owned by a single user.
type Session struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	Name      string    `json:"name,omitempty"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	TurnCount int       `json:"turnCount"`
	Messages  []Message `json:"messages"`
}

// Summary is the listing view of a session.
type Summary struct {
	ID           string    `json:"id"`
	Name         string    `json:"name,omitempty"`
	Title        string    `json:"title"`
	UpdatedAt    time.Time `json:"updatedAt"`
	MessageCount int       `json:"messageCount"`
}

// NewSession returns an empty session with the default title.
func NewSession(id, owner string, now time.Time) *Session {
	return &Session{
		ID:        id,
		Owner:     owner,
		Title:     DefaultTitle,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  make([]Message, 0, 16),
	}
}

// Summary reports the listing view of s.
func (s *Session) Summary() Summary {
	return Summary{
		ID:           s.ID,
		Name:         s.Name,
		Title:        s.Title,
		UpdatedAt:    s.UpdatedAt,
		MessageCount: len(s.Messages),
	}
}

// Clone returns a deep copy so callers can mutate it without touching stored state.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	copied := *s
	copied.Messages = append(make([]Message, 0, len(s.Messages)), s.Messages...)
	return &copied
}

// AppendUser records a user message. The first user message names the session.
func (s *Session) AppendUser(content string, at time.Time) {
	if !s.HasUserMessage() {
		s.Title = DeriveTitle(content)
	}
	s.Messages = append(s.Messages, Message{Role: RoleUser, Content: content, Timestamp: at})
}

// AppendAssistant records a model reply.
func (s *Session) AppendAssistant(content string, at time.Time) {
	s.Messages = append(s.Messages, Message{Role: RoleAssistant, Content: content, Timestamp: at})
}

// Window returns the most recent n messages. n <= 0 falls back to WindowSize.
func (s *Session) Window(n int) []Message {
	if n <= 0 {
		n = WindowSize
	}
	start := 0
	if len(s.Messages) > n {
		start = len(s.Messages) - n
	}
	return append([]Message(nil), s.Messages[start:]...)
}

// HasUserMessage reports whether the session has been named yet.
func (s *Session) HasUserMessage() bool {
	for _, msg := range s.Messages {
		if msg.Role == RoleUser {
			return true
		}
	}
	return false
}

// DeriveTitle turns a first user message into a session title of at most 60 runes.
func DeriveTitle(content string) string {
	title := strings.Join(strings.Fields(content), " ")
	if title == "" {
		return DefaultTitle
	}
	if utf8.RuneCountInString(title) <= titleLimit {
		return title
	}
	runes := []rune(title)
	return string(runes[:titleLimit-len(titleEllipsis)]) + titleEllipsis
}
