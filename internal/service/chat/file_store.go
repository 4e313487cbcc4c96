package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/memoria/backend/internal/errs"
	"github.com/zhouzirui/memoria/backend/internal/model/chat"
	"github.com/zhouzirui/memoria/backend/pkg/utils"
)

// FileStore keeps one JSON document per session under {root}/{owner}/{id}.json.
type FileStore struct {
	root string
	now  func() time.Time
}

// NewFileStore creates a durable session store rooted at root.
func NewFileStore(root string) *FileStore {
	return &FileStore{
		root: root,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Create writes a new empty session for owner.
func (s *FileStore) Create(ctx context.Context, owner string) (*chat.Session, error) {
	return s.CreateNamed(ctx, owner, "")
}

// CreateNamed writes a new empty session carrying a label.
func (s *FileStore) CreateNamed(ctx context.Context, owner, name string) (*chat.Session, error) {
	if err := ValidateID("owner", owner); err != nil {
		return nil, err
	}

	session := chat.NewSession(uuid.NewString(), owner, s.now())
	session.Name = strings.TrimSpace(name)
	if err := s.Save(ctx, session); err != nil {
		return nil, err
	}
	return session.Clone(), nil
}

// Get loads a session. Unreadable or corrupt documents are reported as not found.
func (s *FileStore) Get(_ context.Context, owner, id string) (*chat.Session, error) {
	if err := ValidateID("owner", owner); err != nil {
		return nil, err
	}
	if err := ValidateID("session", id); err != nil {
		return nil, err
	}

	session, err := readSession(s.path(owner, id))
	if err != nil {
		return nil, err
	}
	if session.ID != id || session.Owner != owner {
		log.Printf("[session] document %s does not match owner=%s id=%s", s.path(owner, id), owner, id)
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// List returns summaries of owner's sessions, most recently updated first.
func (s *FileStore) List(_ context.Context, owner string) ([]chat.Summary, error) {
	if err := ValidateID("owner", owner); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(filepath.Join(s.root, owner))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []chat.Summary{}, nil
		}
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	summaries := make([]chat.Summary, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		session, err := readSession(filepath.Join(s.root, owner, entry.Name()))
		if err != nil {
			continue
		}
		summaries = append(summaries, session.Summary())
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})
	return summaries, nil
}

// Save overwrites the whole session document.
func (s *FileStore) Save(_ context.Context, session *chat.Session) error {
	if session == nil {
		return errs.Validation("session is required")
	}
	if err := ValidateID("owner", session.Owner); err != nil {
		return err
	}
	if err := ValidateID("session", session.ID); err != nil {
		return err
	}

	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode session: %v", errs.ErrStorageWrite, err)
	}
	if err := utils.WriteFileAtomic(s.path(session.Owner, session.ID), data); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrStorageWrite, err)
	}
	return nil
}

func (s *FileStore) path(owner, id string) string {
	return filepath.Join(s.root, owner, id+".json")
}

func readSession(path string) (*chat.Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Printf("[session] failed to read %s: %v", path, err)
		}
		return nil, ErrSessionNotFound
	}

	var session chat.Session
	if err := json.Unmarshal(data, &session); err != nil {
		log.Printf("[session] corrupt session document %s: %v", path, err)
		return nil, ErrSessionNotFound
	}
	if session.Messages == nil {
		session.Messages = []chat.Message{}
	}
	return &session, nil
}
