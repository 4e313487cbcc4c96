package ai

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand"
	"regexp"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ErrRetryExhausted is wrapped together with the last upstream error once every attempt failed.
var ErrRetryExhausted = errors.New("retries exhausted")

// RetryConfig tunes the retry wrapper. Zero durations and factors take defaults;
// MaxRetries is used as given (0 disables retries).
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
	JitterFraction float64
	// Timeout bounds each attempt. Zero means no per-attempt deadline.
	Timeout time.Duration
	// Retryable reports whether an error is transient.
	Retryable func(error) bool
}

func (c *RetryConfig) applyDefaults() {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.BackoffFactor <= 0 {
		c.BackoffFactor = 2.0
	}
	if c.JitterFraction <= 0 {
		c.JitterFraction = 0.1
	}
	if c.Retryable == nil {
		c.Retryable = defaultRetryable
	}
}

// transientStatus matches 429/5xx codes the way providers print them: after a
// "status code"/"error code" label or followed by the reason phrase.
var transientStatus = regexp.MustCompile(`(?i)(?:status(?:\s+code)?|error\s+code|http)\s*[:=]?\s*(?:429|50[0234]|529)\b` +
	`|\b(?:429|50[0234]|529)\s+(?:too many requests|internal server error|bad gateway|service unavailable|gateway timeout|overloaded)`)

// defaultRetryable treats per-attempt timeouts and transient HTTP statuses as retryable.
// Provider errors carry the status code only as text.
func defaultRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	msg := err.Error()
	if strings.Contains(msg, "deadline exceeded") || strings.Contains(msg, "connection reset") {
		return true
	}
	return transientStatus.MatchString(msg)
}

func backoff(cfg RetryConfig, attempt int) time.Duration {
	base := float64(cfg.InitialBackoff) * math.Pow(cfg.BackoffFactor, float64(attempt))
	if base > float64(cfg.MaxBackoff) {
		base = float64(cfg.MaxBackoff)
	}
	jitter := base * cfg.JitterFraction * rand.Float64()
	return time.Duration(base + jitter)
}

type retryingModel struct {
	next model.BaseChatModel
	cfg  RetryConfig
}

// WithRetry wraps a chat model with per-attempt timeouts and bounded exponential backoff.
// Streaming calls pass through untouched.
func WithRetry(next model.BaseChatModel, cfg RetryConfig) model.BaseChatModel {
	cfg.applyDefaults()
	return &retryingModel{next: next, cfg: cfg}
}

func (r *retryingModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	var lastErr error

	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := backoff(r.cfg, attempt-1)
			log.Printf("[agent] completion attempt %d failed, retrying in %s: %v", attempt, wait, lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		response, err := r.generateOnce(ctx, input, opts...)
		if err == nil {
			return response, nil
		}
		lastErr = err

		if ctx.Err() != nil || !r.cfg.Retryable(err) {
			return nil, err
		}
	}

	if r.cfg.MaxRetries == 0 {
		return nil, lastErr
	}
	return nil, fmt.Errorf("%w after %d retries: %w", ErrRetryExhausted, r.cfg.MaxRetries, lastErr)
}

func (r *retryingModel) generateOnce(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}
	return r.next.Generate(ctx, input, opts...)
}

func (r *retryingModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return r.next.Stream(ctx, input, opts...)
}
