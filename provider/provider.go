// Package provider defines the generation capability consumed by the
// research nodes: a language-model call that may fail or time out.
package provider

import (
	"context"
	"fmt"
	"time"
)

// Provider generates text from a system and user prompt pair.
type Provider interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// GenerateWithRetry calls p.Generate up to attempts times with exponential
// backoff between failures. The context cancels both the calls and the
// backoff sleeps.
func GenerateWithRetry(ctx context.Context, p Provider, systemPrompt, userPrompt string, attempts int, backoff time.Duration) (string, error) {
	if attempts < 1 {
		attempts = 1
	}
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}

	var lastErr error
	delay := backoff
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		out, err := p.Generate(ctx, systemPrompt, userPrompt)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	return "", fmt.Errorf("generate after %d attempts: %w", attempts, lastErr)
}
