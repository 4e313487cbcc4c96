package console

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zhouzirui/memoria/backend/internal/errs"
	"github.com/zhouzirui/memoria/backend/internal/service/ai"
	chatService "github.com/zhouzirui/memoria/backend/internal/service/chat"
	memoryService "github.com/zhouzirui/memoria/backend/internal/service/memory"
)

type scriptRunner struct {
	turns []string
	fail  bool
}

func (r *scriptRunner) Run(_ context.Context, turn ai.Turn) (*ai.Result, error) {
	r.turns = append(r.turns, turn.UserMessage)
	if r.fail {
		return nil, errs.ErrUpstream
	}
	if _, fact, ok := strings.Cut(turn.UserMessage, "note: "); ok {
		if _, err := turn.Memory.AddOrUpdate("note", fact); err != nil {
			return nil, err
		}
		if turn.Observer != nil {
			turn.Observer(ai.Event{Type: ai.EventToolCall, Tool: "add_memory", Result: "Saved memory [note]."})
		}
	}
	return &ai.Result{Reply: "reply #" + string(rune('0'+len(r.turns)))}, nil
}

func setup(t *testing.T, runner chatService.Runner, input string, opts ...Option) (*Console, *bytes.Buffer, *chatService.Registry) {
	t.Helper()
	memories, err := memoryService.NewRegistry(memoryService.RegistryConfig{SingleFile: filepath.Join(t.TempDir(), "memory.json")})
	if err != nil {
		t.Fatalf("NewRegistry err: %v", err)
	}
	t.Cleanup(memories.Close)

	sessions := chatService.NewRegistry()
	svc := chatService.NewService(sessions, memories, runner)
	out := &bytes.Buffer{}
	return New(svc, sessions, strings.NewReader(input), out, opts...), out, sessions
}

func TestConsoleConversation(t *testing.T) {
	runner := &scriptRunner{}
	c, out, sessions := setup(t, runner, "Hello there\n/quit\n")

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run err: %v", err)
	}

	text := out.String()
	if !strings.Contains(text, "assistant: reply #1") || !strings.Contains(text, "assistant: reply #2") {
		t.Fatalf("missing greeting or reply:\n%s", text)
	}
	active, err := sessions.Active(DefaultOwner)
	if err != nil {
		t.Fatalf("Active err: %v", err)
	}
	if active.Title != "Hello there" || active.TurnCount != 1 || len(active.Messages) != 3 {
		t.Fatalf("unexpected session: %+v", active)
	}
}

func TestConsoleSessionsCommands(t *testing.T) {
	input := strings.Join([]string{
		"/new work",
		"/list",
		"/switch 1",
		"/switch gym",
		"/switch WORK",
		"/quit",
	}, "\n")
	c, out, sessions := setup(t, &scriptRunner{}, input)

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run err: %v", err)
	}

	text := out.String()
	if !strings.Contains(text, "  1. session-1") || !strings.Contains(text, "* 2. work") {
		t.Fatalf("unexpected listing:\n%s", text)
	}
	if !strings.Contains(text, "Switched to session-1") {
		t.Fatalf("switch by index failed:\n%s", text)
	}
	if !strings.Contains(text, "error: session not found") {
		t.Fatalf("expected not found for unknown name:\n%s", text)
	}

	active, _ := sessions.Active(DefaultOwner)
	if active.Name != "work" {
		t.Fatalf("expected work to be active, got %s", active.Name)
	}
}

func TestConsoleFocusAndMemories(t *testing.T) {
	runner := &scriptRunner{}
	input := strings.Join([]string{
		"/memories",
		"/focus travel",
		"note: I like trains",
		"/memories",
		"/quit",
	}, "\n")
	c, out, _ := setup(t, runner, input, WithVerbose(true))

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run err: %v", err)
	}

	if runner.turns[1] != "[Focus: travel] note: I like trains" {
		t.Fatalf("focus not applied: %q", runner.turns[1])
	}

	text := out.String()
	if !strings.Contains(text, "Nothing remembered yet.") {
		t.Fatalf("expected empty memories first:\n%s", text)
	}
	if !strings.Contains(text, "[tool] add_memory") {
		t.Fatalf("verbose mode should print tool calls:\n%s", text)
	}
	if !strings.Contains(text, "- [note]:") {
		t.Fatalf("expected remembered note:\n%s", text)
	}
}

func TestConsoleSurvivesUpstreamFailure(t *testing.T) {
	c, out, sessions := setup(t, &scriptRunner{fail: true}, "hi\n/bogus\n")

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run err: %v", err)
	}

	text := out.String()
	if !strings.Contains(text, "greeting failed") || !strings.Contains(text, "unknown command /bogus") {
		t.Fatalf("unexpected output:\n%s", text)
	}
	active, _ := sessions.Active(DefaultOwner)
	if len(active.Messages) != 0 {
		t.Fatalf("failed turns must not be stored: %+v", active.Messages)
	}
}
