package chat

import (
	"fmt"
	"strings"
	"sync"
)

// Focus holds at most one pending topic hint per owner. A hint is applied to the
// next successful user turn and then cleared.
type Focus struct {
	mu      sync.Mutex
	pending map[string]string
}

func NewFocus() *Focus {
	return &Focus{pending: make(map[string]string)}
}

// Set replaces the pending hint. A blank text clears it.
func (f *Focus) Set(owner, text string) {
	text = strings.TrimSpace(text)

	f.mu.Lock()
	defer f.mu.Unlock()
	if text == "" {
		delete(f.pending, owner)
		return
	}
	f.pending[owner] = text
}

// Peek returns the pending hint without consuming it.
func (f *Focus) Peek(owner string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending[owner]
}

// Clear drops the pending hint if it still equals hint.
func (f *Focus) Clear(owner, hint string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending[owner] == hint {
		delete(f.pending, owner)
	}
}

// ApplyFocus prefixes message with the hint.
func ApplyFocus(hint, message string) string {
	if hint == "" {
		return message
	}
	return fmt.Sprintf("[Focus: %s] %s", hint, message)
}
