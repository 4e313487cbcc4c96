package ai

import (
	"sync"

	"github.com/cloudwego/eino/schema"
	"github.com/tiktoken-go/tokenizer"
)

var (
	codecOnce sync.Once
	codec     tokenizer.Codec
	codecErr  error
)

// estimateTokens approximates the prompt size with cl100k_base plus a fixed
// per-message overhead. It returns 0 when the codec is unavailable.
func estimateTokens(messages []*schema.Message) int {
	codecOnce.Do(func() {
		codec, codecErr = tokenizer.Get(tokenizer.Cl100kBase)
	})
	if codecErr != nil {
		return 0
	}

	total := 0
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		if ids, _, err := codec.Encode(msg.Content); err == nil {
			total += len(ids)
		}
		for _, call := range msg.ToolCalls {
			if ids, _, err := codec.Encode(call.Function.Arguments); err == nil {
				total += len(ids)
			}
		}
		total += 8
	}
	return total
}
