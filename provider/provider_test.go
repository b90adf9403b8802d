package provider

import (
	"context"
	"errors"
	"testing"
	"time"
)

type scriptedProvider struct {
	calls    int
	failures int
	err      error
}

func (p *scriptedProvider) Generate(ctx context.Context, system, user string) (string, error) {
	p.calls++
	if p.calls <= p.failures {
		return "", p.err
	}
	return "ok", nil
}

func TestGenerateWithRetrySucceedsAfterFailures(t *testing.T) {
	t.Parallel()
	p := &scriptedProvider{failures: 2, err: errors.New("rate limited")}

	out, err := GenerateWithRetry(context.Background(), p, "s", "u", 3, time.Millisecond)
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if out != "ok" {
		t.Fatalf("out = %q", out)
	}
	if p.calls != 3 {
		t.Fatalf("calls = %d, want 3", p.calls)
	}
}

func TestGenerateWithRetryExhaustsAttempts(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	p := &scriptedProvider{failures: 10, err: boom}

	_, err := GenerateWithRetry(context.Background(), p, "s", "u", 3, time.Millisecond)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped boom", err)
	}
	if p.calls != 3 {
		t.Fatalf("calls = %d, want 3", p.calls)
	}
}

func TestGenerateWithRetryRespectsContext(t *testing.T) {
	t.Parallel()
	p := &scriptedProvider{failures: 10, err: errors.New("down")}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := GenerateWithRetry(ctx, p, "s", "u", 5, 50*time.Millisecond)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if p.calls > 1 {
		t.Fatalf("calls = %d, want at most 1", p.calls)
	}
}

func TestGenerateWithRetryNormalizesArguments(t *testing.T) {
	t.Parallel()
	p := &scriptedProvider{}
	out, err := GenerateWithRetry(context.Background(), p, "s", "u", 0, 0)
	if err != nil || out != "ok" {
		t.Fatalf("out=%q err=%v", out, err)
	}
	if p.calls != 1 {
		t.Fatalf("calls = %d", p.calls)
	}
}
