package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/zhouzirui/memoria/backend/internal/errs"
	"github.com/zhouzirui/memoria/backend/internal/model/memory"
	"github.com/zhouzirui/memoria/backend/pkg/utils"
)

// EmptyPlaceholder is injected into the prompt when nothing has been remembered yet.
const EmptyPlaceholder = "No memories stored yet."

// Store keeps an owner's long-term facts in a single JSON document.
// The document is loaded once and rewritten wholesale after every mutation.
type Store struct {
	mu      sync.RWMutex
	path    string
	entries []memory.Entry
	now     func() time.Time
}

// StoreOption customises a Store.
type StoreOption func(*Store)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore loads the document at path. A missing or corrupt file yields an empty store.
func NewStore(path string, opts ...StoreOption) *Store {
	s := &Store{
		path: path,
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.entries = load(path)
	return s
}

func load(path string) []memory.Entry {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Printf("[memory] failed to read %s, starting empty: %v", path, err)
		}
		return nil
	}

	var entries []memory.Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		log.Printf("[memory] corrupt memory file %s, starting empty: %v", path, err)
		return nil
	}
	return entries
}

// Path reports the backing file.
func (s *Store) Path() string {
	return s.path
}

// AddOrUpdate stores content under key. Keys match case-insensitively; an update keeps
// the original creation time.
func (s *Store) AddOrUpdate(key, content string) (string, error) {
	key = strings.TrimSpace(key)
	content = strings.TrimSpace(content)
	if key == "" {
		return "", errs.Validation("memory key is required")
	}
	if content == "" {
		return "", errs.Validation("memory content is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for i := range s.entries {
		if strings.EqualFold(s.entries[i].Key, key) {
			previous := s.entries[i]
			s.entries[i].Content = content
			s.entries[i].UpdatedAt = now
			if err := s.saveLocked(); err != nil {
				s.entries[i] = previous
				return "", err
			}
			return fmt.Sprintf("Updated memory [%s].", s.entries[i].Key), nil
		}
	}

	s.entries = append(s.entries, memory.Entry{
		Key:       key,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err := s.saveLocked(); err != nil {
		s.entries = s.entries[:len(s.entries)-1]
		return "", err
	}
	return fmt.Sprintf("Saved memory [%s].", key), nil
}

// Search returns entries whose key or content contains query, ignoring case.
// A blank query returns every entry.
func (s *Store) Search(query string) []memory.Entry {
	query = strings.ToLower(strings.TrimSpace(query))

	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]memory.Entry, 0, len(s.entries))
	for _, entry := range s.entries {
		if query == "" ||
			strings.Contains(strings.ToLower(entry.Key), query) ||
			strings.Contains(strings.ToLower(entry.Content), query) {
			matches = append(matches, entry)
		}
	}
	return matches
}

// All returns every entry in insertion order.
func (s *Store) All() []memory.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]memory.Entry(nil), s.entries...)
}

// Len reports the number of stored entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// FormatForPrompt renders the snapshot injected into the system prompt.
func (s *Store) FormatForPrompt() string {
	entries := s.All()
	if len(entries) == 0 {
		return EmptyPlaceholder
	}

	lines := make([]string, 0, len(entries))
	for _, entry := range entries {
		lines = append(lines, fmt.Sprintf("- [%s]: %s", entry.Key, entry.Content))
	}
	return strings.Join(lines, "\n")
}

func (s *Store) saveLocked() error {
	if s.path == "" {
		return nil
	}

	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode memories: %v", errs.ErrStorageWrite, err)
	}
	if err := utils.WriteFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrStorageWrite, err)
	}
	return nil
}
