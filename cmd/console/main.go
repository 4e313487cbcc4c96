package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/ffcli"
	"github.com/peterbourgon/ff/v3/ffyaml"

	"github.com/zhouzirui/memoria/backend/internal/bootstrap"
	"github.com/zhouzirui/memoria/backend/internal/config"
	"github.com/zhouzirui/memoria/backend/internal/console"
	chatService "github.com/zhouzirui/memoria/backend/internal/service/chat"
)

// Build flags
var Version = ""
var Commit = ""
var Date = ""

func main() {
	// Create signal based context
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	// Launch command
	cmd := newCommand()
	if err := cmd.ParseAndRun(ctx, os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func newCommand() *ffcli.Command {
	fs := flag.NewFlagSet("memoria", flag.ExitOnError)

	return &ffcli.Command{
		ShortUsage: "memoria [flags] <subcommand>",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			return flag.ErrHelp
		},
		Subcommands: []*ffcli.Command{
			newChatCommand(),
			newVersionCommand(),
		},
	}
}

type chatOptions struct {
	envFile       string
	memoryFile    string
	owner         string
	maxIterations int
	windowSize    int
	verbose       bool
}

func newChatCommand() *ffcli.Command {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	_ = fs.String("config", "memoria.yaml", "config file (optional)")

	opts := &chatOptions{}
	fs.StringVar(&opts.envFile, "env-file", ".env", "dotenv file with backend credentials (optional)")
	fs.StringVar(&opts.memoryFile, "memory-file", "memory.json", "long-term memory document")
	fs.StringVar(&opts.owner, "owner", console.DefaultOwner, "owner label for sessions (optional)")
	fs.IntVar(&opts.maxIterations, "max-iterations", 0, "model calls per turn, 0 keeps AGENT_MAX_ITERATIONS (optional)")
	fs.IntVar(&opts.windowSize, "window", 0, "short-term window size, 0 keeps AGENT_WINDOW_SIZE (optional)")
	fs.BoolVar(&opts.verbose, "verbose", false, "print tool calls")

	return &ffcli.Command{
		Name:       "chat",
		ShortUsage: "memoria chat [flags]",
		Options: []ff.Option{
			ff.WithConfigFileFlag("config"),
			ff.WithConfigFileParser(ffyaml.Parser),
			ff.WithAllowMissingConfigFile(true),
			ff.WithEnvVarPrefix("MEMORIA"),
		},
		ShortHelp: "chat with the assistant in the terminal",
		FlagSet:   fs,
		Exec: func(ctx context.Context, args []string) error {
			return runChat(ctx, opts)
		},
	}
}

func runChat(ctx context.Context, opts *chatOptions) error {
	if err := godotenv.Load(opts.envFile); err != nil {
		log.Printf("warning: failed to load %s: %v", opts.envFile, err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg.Storage.Mode = config.StorageMemory
	cfg.Storage.MemoryFile = opts.memoryFile
	if opts.maxIterations > 0 {
		cfg.Agent.MaxIterations = opts.maxIterations
	}
	if opts.windowSize > 0 {
		cfg.Agent.WindowSize = opts.windowSize
	}

	runtime, err := bootstrap.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer runtime.Close()

	sessions, ok := runtime.Sessions.(*chatService.Registry)
	if !ok {
		return fmt.Errorf("console requires in-memory sessions, got %T", runtime.Sessions)
	}

	fmt.Println("memoria console, type /help for commands")
	return console.New(runtime.Chat, sessions, os.Stdin, os.Stdout,
		console.WithOwner(opts.owner),
		console.WithVerbose(opts.verbose),
	).Run(ctx)
}

func newVersionCommand() *ffcli.Command {
	return &ffcli.Command{
		Name:       "version",
		ShortUsage: "memoria version",
		ShortHelp:  "print version",
		Exec: func(ctx context.Context, args []string) error {
			v := Version
			if v == "" {
				if buildInfo, ok := debug.ReadBuildInfo(); ok {
					v = buildInfo.Main.Version
				}
			}
			if v == "" {
				v = "dev"
			}
			versionFields := []string{v}
			if Commit != "" {
				versionFields = append(versionFields, Commit)
			}
			if Date != "" {
				versionFields = append(versionFields, Date)
			}
			fmt.Println(strings.Join(versionFields, " "))
			return nil
		},
	}
}
