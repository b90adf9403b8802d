package research

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/inquestai/inquest/provider"
)

const plannerSystemPrompt = `You are a research planning agent. Given a user query, you must generate a set of focused sub-queries that, when answered together, will provide a comprehensive understanding of the topic.

For each sub-query, assign a source_type:
- "academic" for scientific, peer-reviewed, or technical topics
- "news" for current events, recent developments, trends
- "reference" for definitions, historical context, established knowledge
- "general" for corporate info, social media, or anything else

Rules:
1. Generate 3-5 sub-queries. Each should cover a different angle of the topic.
2. Ensure source diversity: use at least 2 different source types.
3. If this is a RE-PLAN after a critique, incorporate the critique feedback to fill gaps.
4. Keep sub-queries focused and specific.

Respond with a JSON array of objects:
[
  {"query": "...", "source_type": "academic|news|reference|general", "rationale": "..."}
]

Return ONLY the JSON array, no other text.`

const plannerStrictSuffix = `

Your previous response was not valid JSON. Respond with NOTHING but the JSON array. No prose, no markdown fences.`

// Planner turns the query (plus, on refine rounds, the prior critique's
// feedback) into focused sub-queries.
type Planner struct {
	llm     provider.Provider
	log     *log.Logger
	retries int
	backoff time.Duration
}

func NewPlanner(llm provider.Provider, logger *log.Logger) *Planner {
	return &Planner{llm: llm, log: logger, retries: 3, backoff: 500 * time.Millisecond}
}

// Plan produces 3 to 5 sub-queries for the current iteration. It never
// returns an error a caller must treat as fatal: on exhausted retries or
// unparseable output it falls back to a single generic sub-query.
func (p *Planner) Plan(ctx context.Context, st State) []SubQuery {
	user := fmt.Sprintf("Research query: %s", st.Query)
	if st.Feedback != "" && st.Iteration > 1 {
		user = fmt.Sprintf(
			"Original query: %s\n\nPrevious critique identified these issues:\n%s\n\nCurrent iteration: %d of %d\n\nGenerate new sub-queries that address these gaps. Focus on areas not yet covered.",
			st.Query, st.Feedback, st.Iteration, st.MaxIterations,
		)
	}

	raw, err := provider.GenerateWithRetry(ctx, p.llm, plannerSystemPrompt, user, p.retries, p.backoff)
	if err != nil {
		p.log.Printf("[PLANNER] task=%s generation failed, using fallback plan: %v", st.TaskID, err)
		return fallbackPlan(st.Query)
	}

	plan, perr := validPlan(raw)
	if perr != nil {
		// One stricter retry before degrading.
		raw, err = p.llm.Generate(ctx, plannerSystemPrompt+plannerStrictSuffix, user)
		if err == nil {
			plan, perr = validPlan(raw)
		}
	}
	if perr != nil {
		p.log.Printf("[PLANNER] task=%s unusable plan, using fallback: %v", st.TaskID, perr)
		return fallbackPlan(st.Query)
	}
	if len(plan) > maxSubQueries {
		plan = plan[:maxSubQueries]
	}
	return plan
}

const (
	minSubQueries = 3
	maxSubQueries = 5
)

// validPlan parses model output and rejects plans below the minimum
// sub-query count so a degenerate plan degrades the same way as an
// unparseable one.
func validPlan(raw string) ([]SubQuery, error) {
	plan, err := parsePlan(raw)
	if err != nil {
		return nil, err
	}
	if len(plan) < minSubQueries {
		return nil, fmt.Errorf("%w: plan has %d sub-queries, want at least %d", ErrValidation, len(plan), minSubQueries)
	}
	return plan, nil
}

func fallbackPlan(query string) []SubQuery {
	return []SubQuery{{Query: query, SourceType: SourceGeneral, Rationale: "fallback to original query"}}
}

func parsePlan(raw string) ([]SubQuery, error) {
	content := StripFences(raw)
	var items []SubQuery
	if err := json.Unmarshal([]byte(content), &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	out := items[:0]
	for _, it := range items {
		if strings.TrimSpace(it.Query) == "" {
			continue
		}
		switch it.SourceType {
		case SourceAcademic, SourceNews, SourceReference, SourceGeneral:
		default:
			it.SourceType = SourceGeneral
		}
		out = append(out, it)
	}
	return out, nil
}

// StripFences removes a surrounding markdown code fence from model output.
func StripFences(s string) string {
	content := strings.TrimSpace(s)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	if idx := strings.IndexByte(content, '\n'); idx >= 0 {
		content = content[idx+1:]
	} else {
		content = strings.TrimPrefix(content, "```")
	}
	if idx := strings.LastIndex(content, "```"); idx >= 0 {
		content = content[:idx]
	}
	return strings.TrimSpace(content)
}
