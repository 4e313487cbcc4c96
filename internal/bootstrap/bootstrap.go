// Package bootstrap assembles the runtime shared by the web server and the console.
package bootstrap

import (
	"context"
	"fmt"
	"log"

	"github.com/cloudwego/eino/components/model"

	"github.com/zhouzirui/memoria/backend/internal/config"
	"github.com/zhouzirui/memoria/backend/internal/service/ai"
	chatService "github.com/zhouzirui/memoria/backend/internal/service/chat"
	memoryService "github.com/zhouzirui/memoria/backend/internal/service/memory"
	toolService "github.com/zhouzirui/memoria/backend/internal/service/tools"
)

// Runtime holds the wired services.
type Runtime struct {
	Tools    *toolService.Registry
	Memories *memoryService.Registry
	Sessions chatService.Store
	Chat     *chatService.Service
}

// New selects the configured backend, binds the tool catalog and assembles the runtime.
func New(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	if !cfg.AI.Enabled() {
		return nil, config.ErrNoBackend
	}

	registry := toolService.Default()
	chatModel, err := cfg.AI.NewChatModel(ctx, registry.ToolInfos())
	if err != nil {
		return nil, err
	}
	log.Printf("[agent] using %s backend, model=%s", cfg.AI.Backend, cfg.AI.ModelName())

	return Assemble(cfg, chatModel, registry)
}

// Assemble wires services around an already bound chat model.
func Assemble(cfg *config.Config, chatModel model.BaseChatModel, registry *toolService.Registry) (*Runtime, error) {
	memories, err := memoryService.NewRegistry(memoryService.RegistryConfig{
		Root:         cfg.Storage.MemoriesRoot,
		SingleFile:   cfg.Storage.MemoryFile,
		CachedOwners: cfg.Storage.CachedOwners,
	})
	if err != nil {
		return nil, err
	}

	var sessions chatService.Store
	switch cfg.Storage.Mode {
	case config.StorageMemory:
		sessions = chatService.NewRegistry()
	case config.StorageFile, "":
		sessions = chatService.NewFileStore(cfg.Storage.SessionsRoot)
	default:
		memories.Close()
		return nil, fmt.Errorf("unsupported storage mode %q", cfg.Storage.Mode)
	}

	wrapped := ai.WithRetry(chatModel, ai.RetryConfig{
		MaxRetries:     cfg.Agent.MaxRetries,
		InitialBackoff: cfg.Agent.InitialBackoff,
		MaxBackoff:     cfg.Agent.MaxBackoff,
		Timeout:        cfg.Agent.RequestTimeout,
	})
	orchestrator := ai.NewOrchestrator(wrapped, registry,
		ai.WithMaxIterations(cfg.Agent.MaxIterations),
		ai.WithWindowSize(cfg.Agent.WindowSize),
	)

	return &Runtime{
		Tools:    registry,
		Memories: memories,
		Sessions: sessions,
		Chat:     chatService.NewService(sessions, memories, orchestrator, chatService.WithWindowSize(cfg.Agent.WindowSize)),
	}, nil
}

// Close releases cached resources.
func (r *Runtime) Close() {
	r.Memories.Close()
}
