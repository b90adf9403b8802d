package research

import (
	"context"
	"log"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/inquestai/inquest/internal/helpers"
	"github.com/inquestai/inquest/tools/search"
)

const (
	defaultFanOut      = 4
	defaultCallTimeout = 15 * time.Second
	defaultMaxSources  = 10
	resultsPerSubQuery = 5
	maxContentChars    = 1500
)

// Retrieval is the outcome for one sub-query. Err is set when every adapter
// in the chain failed; the task continues regardless.
type Retrieval struct {
	SubQuery  SubQuery
	Documents []Document
	Err       error
}

// Worker fans sub-queries out to retrieval adapters with bounded concurrency
// and a per-call timeout.
type Worker struct {
	registry *search.Registry
	log      *log.Logger

	// FanOut bounds concurrent adapter calls across sub-queries.
	FanOut int
	// CallTimeout bounds each individual adapter call.
	CallTimeout time.Duration
	// FetchContent enables full-article extraction over plain HTTP for
	// results that only carry a snippet.
	FetchContent bool
	HTTPClient   *http.Client
}

func NewWorker(registry *search.Registry, logger *log.Logger) *Worker {
	return &Worker{
		registry:    registry,
		log:         logger,
		FanOut:      defaultFanOut,
		CallTimeout: defaultCallTimeout,
		HTTPClient:  &http.Client{Timeout: 20 * time.Second},
	}
}

// Retrieve executes the plan. The returned slice is index-aligned with the
// plan so callers can report per-sub-query progress in order.
func (w *Worker) Retrieve(ctx context.Context, taskID string, plan []SubQuery) []Retrieval {
	out := make([]Retrieval, len(plan))
	sem := make(chan struct{}, w.fanOut())
	var wg sync.WaitGroup

	for i, sq := range plan {
		wg.Add(1)
		go func(i int, sq SubQuery) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				out[i] = Retrieval{SubQuery: sq, Err: ctx.Err()}
				return
			}
			out[i] = w.retrieveOne(ctx, taskID, sq)
		}(i, sq)
	}
	wg.Wait()
	return out
}

// retrieveOne walks the adapter chain for the sub-query's hint: the primary
// first, falling back when it errors or returns nothing.
func (w *Worker) retrieveOne(ctx context.Context, taskID string, sq SubQuery) Retrieval {
	chain := w.registry.Lookup(sq.SourceType)
	var lastErr error
	for _, adapter := range chain {
		callCtx, cancel := context.WithTimeout(ctx, w.callTimeout())
		results, err := adapter.Search(callCtx, sq.Query, resultsPerSubQuery)
		cancel()
		if err != nil {
			lastErr = err
			w.log.Printf("[WORKER] task=%s adapter failed for %q (%s): %v", taskID, sq.Query, sq.SourceType, err)
			continue
		}
		if len(results) == 0 {
			continue
		}
		docs := make([]Document, 0, len(results))
		for _, r := range results {
			docs = append(docs, w.toDocument(ctx, r, sq.SourceType))
		}
		return Retrieval{SubQuery: sq, Documents: docs}
	}
	if lastErr != nil {
		lastErr = joinTransient(lastErr)
	}
	return Retrieval{SubQuery: sq, Err: lastErr}
}

func (w *Worker) toDocument(ctx context.Context, r search.Result, sourceType string) Document {
	doc := Document{
		Title:       r.Title,
		Link:        r.Link,
		Snippet:     r.Snippet,
		Content:     r.Content,
		SourceType:  sourceType,
		Credibility: CredibilityFor(sourceType),
		PublishedAt: r.PublishedAt,
	}
	if doc.Content == "" && w.FetchContent && w.HTTPClient != nil {
		if text, err := helpers.ExtractArticle(ctx, w.HTTPClient, doc.Link, maxContentChars); err == nil {
			doc.Content = text
		}
	}
	if len(doc.Content) > maxContentChars {
		doc.Content = doc.Content[:maxContentChars]
	}
	return doc
}

func (w *Worker) fanOut() int {
	if w.FanOut > 0 {
		return w.FanOut
	}
	return defaultFanOut
}

func (w *Worker) callTimeout() time.Duration {
	if w.CallTimeout > 0 {
		return w.CallTimeout
	}
	return defaultCallTimeout
}

func joinTransient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

type transientError struct{ err error }

func (e *transientError) Error() string { return ErrTransientSource.Error() + ": " + e.err.Error() }
func (e *transientError) Unwrap() error { return ErrTransientSource }

// CredibilityFor maps a source-type hint to its credibility score.
func CredibilityFor(sourceType string) float64 {
	switch sourceType {
	case SourceAcademic:
		return 0.85
	case SourceReference:
		return 0.75
	case SourceNews:
		return 0.60
	default:
		return 0.50
	}
}

// MergeDocuments combines per-sub-query results into the ranked document set:
// deduplicated by canonical link with the first occurrence winning, sorted by
// descending credibility with the original retrieval order as tie-break, and
// truncated to maxSources.
func MergeDocuments(retrievals []Retrieval, maxSources int) []Document {
	if maxSources <= 0 {
		maxSources = defaultMaxSources
	}
	seen := make(map[string]struct{})
	var merged []Document
	for _, r := range retrievals {
		for _, doc := range r.Documents {
			key, err := helpers.NormalizeLink(doc.Link)
			if err != nil {
				key = doc.Link
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			merged = append(merged, doc)
		}
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Credibility > merged[j].Credibility
	})
	if len(merged) > maxSources {
		merged = merged[:maxSources]
	}
	return merged
}
