// Package console implements the single-user interactive chat loop.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/zhouzirui/memoria/backend/internal/errs"
	"github.com/zhouzirui/memoria/backend/internal/service/ai"
	chatService "github.com/zhouzirui/memoria/backend/internal/service/chat"
)

// DefaultOwner identifies the console user.
const DefaultOwner = "console"

const helpText = `Commands:
  /new [name]        start a new session
  /switch <n|name>   switch to a session by number or name
  /list              list sessions
  /focus [topic]     hint the next message at a topic (no topic clears it)
  /memories          show what the assistant remembers
  /help              show this help
  /quit              exit`

// Console reads user lines and runs them as turns against the active session.
type Console struct {
	chat     *chatService.Service
	sessions *chatService.Registry
	owner    string
	verbose  bool

	in  *bufio.Scanner
	out io.Writer
}

// Option configures the console.
type Option func(*Console)

// WithOwner overrides the owner used for sessions and memory.
func WithOwner(owner string) Option {
	return func(c *Console) {
		if owner != "" {
			c.owner = owner
		}
	}
}

// WithVerbose prints tool calls as they happen.
func WithVerbose(verbose bool) Option {
	return func(c *Console) {
		c.verbose = verbose
	}
}

// New creates a console over an ephemeral session registry.
func New(chat *chatService.Service, sessions *chatService.Registry, in io.Reader, out io.Writer, opts ...Option) *Console {
	c := &Console{
		chat:     chat,
		sessions: sessions,
		owner:    DefaultOwner,
		in:       bufio.NewScanner(in),
		out:      out,
	}
	c.in.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run opens a first session and processes input until /quit, EOF or cancellation.
func (c *Console) Run(ctx context.Context) error {
	if err := c.startSession(ctx, ""); err != nil {
		return err
	}

	for {
		fmt.Fprint(c.out, "> ")
		if !c.in.Scan() {
			fmt.Fprintln(c.out)
			return c.in.Err()
		}
		if err := ctx.Err(); err != nil {
			return nil
		}

		line := strings.TrimSpace(c.in.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			quit, err := c.command(ctx, line)
			if err != nil {
				fmt.Fprintf(c.out, "error: %v\n", err)
			}
			if quit {
				return nil
			}
			continue
		}

		if err := c.send(ctx, line); err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
		}
	}
}

func (c *Console) command(ctx context.Context, line string) (bool, error) {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(name) {
	case "/quit", "/exit":
		fmt.Fprintln(c.out, "Bye!")
		return true, nil
	case "/help":
		fmt.Fprintln(c.out, helpText)
	case "/new":
		return false, c.startSession(ctx, arg)
	case "/switch":
		session, err := c.sessions.Switch(c.owner, arg)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(c.out, "Switched to %s (%s)\n", session.Name, session.Title)
	case "/list":
		return false, c.list(ctx)
	case "/focus":
		if err := c.chat.SetFocus(c.owner, arg); err != nil {
			return false, err
		}
		if arg == "" {
			fmt.Fprintln(c.out, "Focus cleared.")
		} else {
			fmt.Fprintf(c.out, "Next message will focus on: %s\n", arg)
		}
	case "/memories":
		entries := c.chat.Memories(c.owner)
		if len(entries) == 0 {
			fmt.Fprintln(c.out, "Nothing remembered yet.")
			break
		}
		for _, entry := range entries {
			fmt.Fprintf(c.out, "- [%s]: %s\n", entry.Key, entry.Content)
		}
	default:
		return false, fmt.Errorf("unknown command %s, type /help", name)
	}
	return false, nil
}

// startSession greets the user in a new session. A failed greeting still leaves a usable session.
func (c *Console) startSession(ctx context.Context, name string) error {
	session, err := c.chat.StartSession(ctx, c.owner, name)
	if err != nil {
		if errors.Is(err, errs.ErrValidation) {
			return err
		}
		fmt.Fprintf(c.out, "error: greeting failed: %v\n", err)
		if _, err := c.sessions.Active(c.owner); err != nil {
			return err
		}
		return nil
	}

	fmt.Fprintf(c.out, "[%s]\n", session.Name)
	if n := len(session.Messages); n > 0 {
		fmt.Fprintf(c.out, "assistant: %s\n", session.Messages[n-1].Content)
	}
	return nil
}

func (c *Console) list(ctx context.Context) error {
	summaries, err := c.sessions.List(ctx, c.owner)
	if err != nil {
		return err
	}
	active, _ := c.sessions.Active(c.owner)

	for i, summary := range summaries {
		marker := " "
		if active != nil && summary.ID == active.ID {
			marker = "*"
		}
		fmt.Fprintf(c.out, "%s %d. %s - %s (%d messages)\n", marker, i+1, summary.Name, summary.Title, summary.MessageCount)
	}
	return nil
}

func (c *Console) send(ctx context.Context, line string) error {
	active, err := c.sessions.Active(c.owner)
	if err != nil {
		return err
	}

	var observer ai.Observer
	if c.verbose {
		observer = func(event ai.Event) {
			fmt.Fprintf(c.out, "  [tool] %s %s -> %s\n", event.Tool, event.Arguments, event.Result)
		}
	}

	reply, err := c.chat.SendMessage(ctx, c.owner, active.ID, line, observer)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "assistant: %s\n", reply.Content)
	return nil
}
