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

// ScoreThreshold is the acceptance bar: a draft at or above it finalizes.
const ScoreThreshold = 0.7

const criticSystemPrompt = `You are a rigorous research quality critic. Evaluate the given research draft and determine if it needs further refinement.

Evaluate on these dimensions:
1. Gap Analysis: missing perspectives, unanswered sub-questions, uncovered aspects.
2. Source Diversity: are sources varied across academic, news, reference? Over-reliance on one type?
3. Outdated Information: could claims rest on stale data?
4. Factual Consistency: internal contradictions or unsupported claims?
5. Completeness: does the report adequately address the original query?

Respond with a JSON object:
{
  "overall_score": 0.0-1.0,
  "gaps": ["gap1", "gap2"],
  "diversity_issues": ["issue1"],
  "outdated_concerns": ["concern1"],
  "suggestions": ["suggestion1", "suggestion2"],
  "summary": "Brief overall assessment"
}

Return ONLY the JSON object.`

// Critic scores a draft and decides refine versus finalize.
type Critic struct {
	llm     provider.Provider
	log     *log.Logger
	retries int
	backoff time.Duration

	// Threshold overrides ScoreThreshold when positive.
	Threshold float64
}

func NewCritic(llm provider.Provider, logger *log.Logger) *Critic {
	return &Critic{llm: llm, log: logger, retries: 3, backoff: 500 * time.Millisecond}
}

func (c *Critic) threshold() float64 {
	if c.Threshold > 0 {
		return c.Threshold
	}
	return ScoreThreshold
}

// Review evaluates the draft. refine is true only when the score is below
// the threshold AND iterations remain; the returned critique always carries
// non-empty feedback in that case.
func (c *Critic) Review(ctx context.Context, st State) (CritiqueResult, bool) {
	critique := c.evaluate(ctx, st)

	// An empty evidence base can never clear the bar, whatever the model says.
	if len(st.Documents) == 0 && critique.Score >= c.threshold() {
		critique.Score = 0
		if critique.Summary == "" {
			critique.Summary = "No supporting documents were retrieved."
		}
	}

	refine := critique.Score < c.threshold() && st.Iteration < st.MaxIterations
	if refine {
		critique.Feedback = buildFeedback(critique)
	}
	return critique, refine
}

func (c *Critic) evaluate(ctx context.Context, st State) CritiqueResult {
	sourceTypes := make(map[string]struct{})
	for _, doc := range st.Documents {
		sourceTypes[doc.SourceType] = struct{}{}
	}
	types := make([]string, 0, len(sourceTypes))
	for t := range sourceTypes {
		types = append(types, t)
	}
	typeList := "none"
	if len(types) > 0 {
		typeList = strings.Join(types, ", ")
	}

	draft := st.Draft
	if len(draft) > 4000 {
		draft = draft[:4000]
	}
	user := fmt.Sprintf(
		"Original query: %s\n\nCurrent iteration: %d of %d\nSource types used: %s\nNumber of documents: %d\n\nDraft report:\n%s",
		st.Query, st.Iteration, st.MaxIterations, typeList, len(st.Documents), draft,
	)

	raw, err := provider.GenerateWithRetry(ctx, c.llm, criticSystemPrompt, user, c.retries, c.backoff)
	if err != nil {
		c.log.Printf("[CRITIC] task=%s generation failed, accepting draft: %v", st.TaskID, err)
		return acceptingCritique()
	}

	var critique CritiqueResult
	if err := json.Unmarshal([]byte(StripFences(raw)), &critique); err != nil {
		c.log.Printf("[CRITIC] task=%s unparseable critique, accepting draft: %v", st.TaskID, err)
		return acceptingCritique()
	}
	if critique.Score < 0 {
		critique.Score = 0
	}
	if critique.Score > 1 {
		critique.Score = 1
	}
	return critique
}

// acceptingCritique is the degraded verdict when evaluation itself failed:
// score exactly at the threshold so the loop finalizes.
func acceptingCritique() CritiqueResult {
	return CritiqueResult{
		Score:   ScoreThreshold,
		Summary: "Could not evaluate; accepting draft as-is.",
	}
}

func buildFeedback(c CritiqueResult) string {
	var parts []string
	if len(c.Gaps) > 0 {
		parts = append(parts, "Gaps: "+strings.Join(c.Gaps, "; "))
	}
	if len(c.DiversityIssues) > 0 {
		parts = append(parts, "Diversity issues: "+strings.Join(c.DiversityIssues, "; "))
	}
	if len(c.OutdatedConcerns) > 0 {
		parts = append(parts, "Outdated concerns: "+strings.Join(c.OutdatedConcerns, "; "))
	}
	if len(c.Suggestions) > 0 {
		parts = append(parts, "Suggestions: "+strings.Join(c.Suggestions, "; "))
	}
	if c.Summary != "" {
		parts = append(parts, c.Summary)
	}
	if len(parts) == 0 {
		return "The draft scored below the quality bar; broaden coverage and source diversity."
	}
	return strings.Join(parts, "\n")
}
