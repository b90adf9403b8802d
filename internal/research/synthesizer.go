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

const synthesizerSystemPrompt = `You are a research synthesis expert. Given a set of retrieved documents from multiple sources, synthesize them into a comprehensive, well-structured research report.

Your report MUST:
1. Be written in Markdown format with clear headings and sections.
2. Include an Executive Summary at the top.
3. Organize findings into logical thematic sections.
4. Cite sources inline using numbered references like [1], [2], etc.
5. Include a "Sources" section at the end listing all references.
6. Detect and explicitly note any CONFLICTS between sources in a dedicated "Conflicts & Contradictions" section.
7. Assess source credibility where relevant.

Also produce a JSON block at the very end (after ---) with detected conflicts:
` + "```json" + `
{"conflicts": [{"claim_a": "...", "source_a": "...", "claim_b": "...", "source_b": "...", "description": "..."}]}
` + "```" + `

Write a thorough, balanced report. Do not fabricate information.`

const insufficientEvidenceReport = `# Research Report

## Executive Summary

No supporting documents could be retrieved for this query, so the evidence
available is insufficient for a grounded report. The findings below should be
treated as unverified.

## Findings

Retrieval returned no usable sources. Consider rephrasing the query or
broadening its scope.`

// Synthesizer merges the retrieved document set into a cited draft report.
type Synthesizer struct {
	llm     provider.Provider
	log     *log.Logger
	retries int
	backoff time.Duration
}

func NewSynthesizer(llm provider.Provider, logger *log.Logger) *Synthesizer {
	return &Synthesizer{llm: llm, log: logger, retries: 3, backoff: 500 * time.Millisecond}
}

// Synthesize produces the draft and any conflicts the model flagged. An
// empty document set yields a well-formed insufficient-evidence report
// without a model call.
func (s *Synthesizer) Synthesize(ctx context.Context, st State) (string, []Conflict, error) {
	if len(st.Documents) == 0 {
		return insufficientEvidenceReport, nil, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Research query: %s\n\nRetrieved documents (%d total):\n\n", st.Query, len(st.Documents))
	for i, doc := range st.Documents {
		body := doc.Content
		if body == "" {
			body = doc.Snippet
		}
		fmt.Fprintf(&sb, "Source [%d]: %s\nType: %s | Credibility: %.0f%%\nURL: %s\n---\n%s\n---\n\n",
			i+1, doc.Title, doc.SourceType, doc.Credibility*100, doc.Link, body)
	}

	raw, err := provider.GenerateWithRetry(ctx, s.llm, synthesizerSystemPrompt, sb.String(), s.retries, s.backoff)
	if err != nil {
		return "", nil, fmt.Errorf("%w: synthesis: %v", ErrGeneration, err)
	}

	draft, conflicts := splitConflicts(raw)
	if strings.TrimSpace(draft) == "" {
		return "", nil, fmt.Errorf("%w: synthesis produced empty draft", ErrValidation)
	}
	return draft, conflicts, nil
}

// splitConflicts extracts the trailing conflicts JSON block and returns the
// draft without it. A malformed block is dropped, never fatal.
func splitConflicts(draft string) (string, []Conflict) {
	marker := "```json"
	idx := strings.LastIndex(draft, marker)
	if idx < 0 {
		return draft, nil
	}
	block := draft[idx+len(marker):]
	if end := strings.Index(block, "```"); end >= 0 {
		block = block[:end]
	}

	var payload struct {
		Conflicts []Conflict `json:"conflicts"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(block)), &payload); err != nil {
		return draft, nil
	}

	cleaned := strings.TrimSpace(draft[:idx])
	cleaned = strings.TrimSuffix(cleaned, "---")
	return strings.TrimSpace(cleaned), payload.Conflicts
}
