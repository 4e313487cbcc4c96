package chat

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/zhouzirui/memoria/backend/internal/errs"
	"github.com/zhouzirui/memoria/backend/internal/model/chat"
)

var ErrSessionNotFound = fmt.Errorf("session %w", errs.ErrNotFound)

// Store persists chat sessions per owner. Implementations hand out copies:
// mutating a returned session never changes stored state until Save.
type Store interface {
	Create(ctx context.Context, owner string) (*chat.Session, error)
	Get(ctx context.Context, owner, id string) (*chat.Session, error)
	List(ctx context.Context, owner string) ([]chat.Summary, error)
	Save(ctx context.Context, session *chat.Session) error
}

// namedCreator is implemented by stores that label sessions at creation.
type namedCreator interface {
	CreateNamed(ctx context.Context, owner, name string) (*chat.Session, error)
}

// ValidateID rejects identifiers that are not UUIDs.
func ValidateID(kind, value string) error {
	if _, err := uuid.Parse(value); err != nil {
		return errs.Validation("invalid %s id %q", kind, value)
	}
	return nil
}
