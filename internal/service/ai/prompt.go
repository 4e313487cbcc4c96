package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/memoria/backend/internal/model/chat"
)

const systemTemplate = `You are a friendly personal assistant with a long-term memory of the user.

What you currently remember about the user:
{memories}

Memory guidelines:
- When the user shares a lasting preference, a personal detail, a plan or asks you to remember something, call add_memory with a short key and a concise fact.
- Reuse an existing key to correct or refresh a fact instead of creating a near duplicate.
- Call search_memory when you need a specific fact that is not listed above.
- Call get_all_memories when the user asks what you know or remember about them.
- Never invent memories. If you do not know something, say so and ask.

Conversation style:
Keep replies warm, natural and concise. Use what you remember to personalise answers, but do not recite the memory list unprompted.`

// PromptBuilder assembles the message list for one turn: the system prompt with
// the current memory snapshot, the short-term window and the new user message.
type PromptBuilder struct {
	template prompt.ChatTemplate
}

// NewPromptBuilder creates the builder with the default instructional template.
func NewPromptBuilder() *PromptBuilder {
	return &PromptBuilder{
		template: prompt.FromMessages(
			schema.FString,
			schema.SystemMessage(systemTemplate),
			schema.MessagesPlaceholder("history", true),
			schema.UserMessage("{query}"),
		),
	}
}

// Build renders the prompt. It is called on every turn so memory changes show up immediately.
func (b *PromptBuilder) Build(ctx context.Context, snapshot string, history []chat.Message, query string) ([]*schema.Message, error) {
	messages, err := b.template.Format(ctx, map[string]any{
		"memories": snapshot,
		"history":  buildHistoryMessages(history),
		"query":    query,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to format prompt: %w", err)
	}
	return messages, nil
}

func buildHistoryMessages(messages []chat.Message) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}

	history := make([]*schema.Message, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(msg.Content))
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		}
	}
	return history
}
