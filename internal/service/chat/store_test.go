package chat_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/memoria/backend/internal/errs"
	chat "github.com/zhouzirui/memoria/backend/internal/service/chat"
)

func TestFileStoreRoundTrip(t *testing.T) {
	root := t.TempDir()
	store := chat.NewFileStore(root)
	owner := uuid.NewString()
	ctx := context.Background()

	session, err := store.Create(ctx, owner)
	if err != nil {
		t.Fatalf("Create err: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, owner, session.ID+".json")); err != nil {
		t.Fatalf("expected session document: %v", err)
	}

	session.AppendUser("hello", time.Now().UTC())
	if err := store.Save(ctx, session); err != nil {
		t.Fatalf("Save err: %v", err)
	}
	if err := store.Save(ctx, session); err != nil {
		t.Fatalf("second Save err: %v", err)
	}

	got, err := store.Get(ctx, owner, session.ID)
	if err != nil {
		t.Fatalf("Get err: %v", err)
	}
	if len(got.Messages) != 1 || got.Title != "hello" {
		t.Fatalf("unexpected session: %+v", got)
	}
}

func TestFileStoreRejectsNonUUIDs(t *testing.T) {
	store := chat.NewFileStore(t.TempDir())
	ctx := context.Background()

	if _, err := store.Get(ctx, "../etc", uuid.NewString()); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("expected validation error for owner, got %v", err)
	}
	if _, err := store.Get(ctx, uuid.NewString(), "not-a-uuid"); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("expected validation error for id, got %v", err)
	}
	if _, err := store.Create(ctx, "alice"); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("expected validation error on create, got %v", err)
	}
}

func TestFileStoreCorruptDocumentIsNotFound(t *testing.T) {
	root := t.TempDir()
	store := chat.NewFileStore(root)
	owner, id := uuid.NewString(), uuid.NewString()

	if err := os.MkdirAll(filepath.Join(root, owner), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, owner, id+".json"), []byte("{broken"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := store.Get(context.Background(), owner, id); !errors.Is(err, chat.ErrSessionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	summaries, err := store.List(context.Background(), owner)
	if err != nil || len(summaries) != 0 {
		t.Fatalf("corrupt documents should be skipped: %v %+v", err, summaries)
	}
}

func TestFileStoreListNewestFirst(t *testing.T) {
	store := chat.NewFileStore(t.TempDir())
	owner := uuid.NewString()
	ctx := context.Background()

	older, _ := store.Create(ctx, owner)
	newer, _ := store.Create(ctx, owner)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	older.UpdatedAt = base.Add(time.Hour)
	newer.UpdatedAt = base
	_ = store.Save(ctx, older)
	_ = store.Save(ctx, newer)

	summaries, err := store.List(ctx, owner)
	if err != nil {
		t.Fatalf("List err: %v", err)
	}
	if len(summaries) != 2 || summaries[0].ID != older.ID {
		t.Fatalf("expected most recently updated first: %+v", summaries)
	}

	empty, err := store.List(ctx, uuid.NewString())
	if err != nil || len(empty) != 0 {
		t.Fatalf("unknown owner should list nothing: %v %+v", err, empty)
	}
}

func TestRegistrySwitchByIndexAndName(t *testing.T) {
	registry := chat.NewRegistry()
	ctx := context.Background()

	work, _ := registry.CreateNamed(ctx, "console", "Work")
	home, _ := registry.CreateNamed(ctx, "console", "home")

	active, err := registry.Active("console")
	if err != nil || active.ID != home.ID {
		t.Fatalf("newest session should be active: %v", err)
	}

	got, err := registry.Switch("console", "1")
	if err != nil || got.ID != work.ID {
		t.Fatalf("switch by index failed: %v", err)
	}
	got, err = registry.Switch("console", "HOME")
	if err != nil || got.ID != home.ID {
		t.Fatalf("switch by name failed: %v", err)
	}

	if _, err := registry.Switch("console", "3"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := registry.Switch("console", "gym"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	active, _ = registry.Active("console")
	if active.ID != home.ID {
		t.Fatalf("failed switch changed the active session")
	}
}

func TestRegistryCopiesSessions(t *testing.T) {
	registry := chat.NewRegistry()
	ctx := context.Background()

	session, _ := registry.Create(ctx, "console")
	session.AppendUser("not saved", time.Now())

	stored, _ := registry.Get(ctx, "console", session.ID)
	if len(stored.Messages) != 0 {
		t.Fatalf("unsaved mutation leaked into the registry")
	}

	if err := registry.Save(ctx, session); err != nil {
		t.Fatalf("Save err: %v", err)
	}
	stored, _ = registry.Get(ctx, "console", session.ID)
	if len(stored.Messages) != 1 || stored.Name != "session-1" {
		t.Fatalf("unexpected stored session: %+v", stored)
	}

	summaries, _ := registry.List(ctx, "console")
	if len(summaries) != 1 {
		t.Fatalf("save must not duplicate sessions: %+v", summaries)
	}
}

func TestApplyFocus(t *testing.T) {
	if got := chat.ApplyFocus("", "hi"); got != "hi" {
		t.Fatalf("empty hint should not change message, got %q", got)
	}
	if got := chat.ApplyFocus("cooking", "ideas?"); got != "[Focus: cooking] ideas?" {
		t.Fatalf("unexpected focus format %q", got)
	}

	focus := chat.NewFocus()
	focus.Set("a", "x")
	focus.Set("a", "  ")
	if focus.Peek("a") != "" {
		t.Fatalf("blank focus should clear")
	}
}
