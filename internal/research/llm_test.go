package research

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync"

	"github.com/inquestai/inquest/tools/search"
)

// fakeLLM routes calls by recognizing the system prompt and returns scripted
// responses. Scripted slices are consumed in order; the last entry repeats.
type fakeLLM struct {
	mu         sync.Mutex
	plans      []string
	critiques  []string
	synthesis  string
	intent     string
	chat       string
	failKinds  map[string]error
	calls      []string
	onGenerate func(kind string)
}

func (f *fakeLLM) Generate(_ context.Context, systemPrompt, _ string) (string, error) {
	kind := "unknown"
	switch {
	case strings.Contains(systemPrompt, "planning agent"):
		kind = "plan"
	case strings.Contains(systemPrompt, "synthesis expert"):
		kind = "synth"
	case strings.Contains(systemPrompt, "quality critic"):
		kind = "critic"
	case strings.Contains(systemPrompt, "classify user messages"):
		kind = "intent"
	case strings.Contains(systemPrompt, "helpful assistant"):
		kind = "chat"
	}

	f.mu.Lock()
	f.calls = append(f.calls, kind)
	hook := f.onGenerate
	var resp string
	var err error
	if ferr, ok := f.failKinds[kind]; ok {
		err = ferr
	} else {
		switch kind {
		case "plan":
			resp = pop(&f.plans)
		case "critic":
			resp = pop(&f.critiques)
		case "synth":
			resp = f.synthesis
		case "intent":
			resp = f.intent
		case "chat":
			resp = f.chat
		default:
			err = errors.New("unrecognized prompt")
		}
	}
	f.mu.Unlock()

	if hook != nil {
		hook(kind)
	}
	return resp, err
}

func (f *fakeLLM) callKinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func pop(items *[]string) string {
	if len(*items) == 0 {
		return ""
	}
	head := (*items)[0]
	if len(*items) > 1 {
		*items = (*items)[1:]
	}
	return head
}

// fakeAdapter is a scripted search provider.
type fakeAdapter struct {
	mu      sync.Mutex
	results []search.Result
	err     error
	calls   int
}

func (a *fakeAdapter) Search(_ context.Context, _ string, _ int) ([]search.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.err != nil {
		return nil, a.err
	}
	return append([]search.Result(nil), a.results...), nil
}

func (a *fakeAdapter) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}
