package ai

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/memoria/backend/internal/errs"
	"github.com/zhouzirui/memoria/backend/internal/model/chat"
	"github.com/zhouzirui/memoria/backend/internal/service/tools"
)

// DefaultMaxIterations caps model calls per turn.
const DefaultMaxIterations = 10

const finishReasonToolCalls = "tool_calls"

// EventToolCall is emitted after each executed tool call.
const EventToolCall = "tool_call"

// Event reports progress inside a turn.
type Event struct {
	Type      string `json:"type"`
	Iteration int    `json:"iteration"`
	Tool      string `json:"tool,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	Result    string `json:"result,omitempty"`
	Failed    bool   `json:"failed,omitempty"`
}

// Observer receives turn events. It runs on the turn's goroutine.
type Observer func(Event)

// Turn is the input of one orchestrator run.
type Turn struct {
	Memory      tools.Memory
	History     []chat.Message
	UserMessage string
	Observer    Observer
}

// Result is the outcome of a completed turn.
type Result struct {
	Reply      string
	Iterations int
	ToolCalls  int
}

// Orchestrator drives the request, tool-call, response cycle until the model
// produces a final answer.
type Orchestrator struct {
	chatModel     model.BaseChatModel
	registry      *tools.Registry
	prompt        *PromptBuilder
	maxIterations int
	windowSize    int
}

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithMaxIterations bounds model calls per turn.
func WithMaxIterations(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxIterations = n
		}
	}
}

// WithWindowSize bounds the history handed to the model.
func WithWindowSize(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.windowSize = n
		}
	}
}

// WithPromptBuilder replaces the default prompt builder.
func WithPromptBuilder(b *PromptBuilder) Option {
	return func(o *Orchestrator) {
		if b != nil {
			o.prompt = b
		}
	}
}

// NewOrchestrator wires a chat model that already has the tool catalog bound.
func NewOrchestrator(chatModel model.BaseChatModel, registry *tools.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		chatModel:     chatModel,
		registry:      registry,
		prompt:        NewPromptBuilder(),
		maxIterations: DefaultMaxIterations,
		windowSize:    chat.WindowSize,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes one user turn and returns the final reply.
func (o *Orchestrator) Run(ctx context.Context, turn Turn) (*Result, error) {
	if turn.Memory == nil {
		return nil, errors.New("orchestrator: memory store is required")
	}

	history := turn.History
	if len(history) > o.windowSize {
		history = history[len(history)-o.windowSize:]
	}

	messages, err := o.prompt.Build(ctx, turn.Memory.FormatForPrompt(), history, turn.UserMessage)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	for iteration := 1; ; iteration++ {
		if iteration > o.maxIterations {
			log.Printf("[agent] aborting turn after %d model calls", o.maxIterations)
			return nil, fmt.Errorf("%w (%d)", errs.ErrLoopExceeded, o.maxIterations)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result.Iterations = iteration

		log.Printf("[agent] iteration=%d messages=%d prompt_tokens~%d", iteration, len(messages), estimateTokens(messages))

		response, err := o.chatModel.Generate(ctx, messages)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errs.ErrUpstream, err)
		}
		if response == nil {
			response = schema.AssistantMessage("", nil)
		}

		if len(response.ToolCalls) == 0 {
			if finishReason(response) == finishReasonToolCalls {
				log.Printf("[agent] finish_reason=%s without tool calls, treating as final reply", finishReasonToolCalls)
			}
			result.Reply = response.Content
			log.Printf("[agent] turn finished: iterations=%d tool_calls=%d reply_length=%d", result.Iterations, result.ToolCalls, len(result.Reply))
			return result, nil
		}

		messages = append(messages, response)
		for _, call := range response.ToolCalls {
			executed := o.registry.Execute(ctx, turn.Memory, call.Function.Name, call.Function.Arguments)
			messages = append(messages, schema.ToolMessage(executed.Text(), call.ID))
			result.ToolCalls++

			if turn.Observer != nil {
				turn.Observer(Event{
					Type:      EventToolCall,
					Iteration: iteration,
					Tool:      call.Function.Name,
					Arguments: call.Function.Arguments,
					Result:    executed.Text(),
					Failed:    executed.Err != nil,
				})
			}
		}
	}
}

func finishReason(msg *schema.Message) string {
	if msg.ResponseMeta == nil {
		return ""
	}
	return msg.ResponseMeta.FinishReason
}
