// Package tuner rewrites the solver's system prompt by applying the
// highest-priority suggestions from an aggregated critique.
package tuner

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"seagent/internal/critic"
	"seagent/internal/llm"
	"seagent/internal/logging"
)

// Config tunes prompt rewriting.
type Config struct {
	// MaxSuggestions caps how many suggestions one rewrite applies.
	MaxSuggestions int
}

// DefaultConfig returns tuner defaults.
func DefaultConfig() Config {
	return Config{MaxSuggestions: 3}
}

// RewriteResult describes the outcome of a prompt rewrite.
type RewriteResult struct {
	NewPrompt      string              `json:"new_prompt"`
	ChangesSummary string              `json:"changes_summary"`
	Applied        []critic.Suggestion `json:"applied"`
}

// Tuner applies prioritized suggestions to a system prompt.
type Tuner struct {
	client llm.Client
	config Config
}

// New creates a Tuner.
func New(client llm.Client, config Config) *Tuner {
	if config.MaxSuggestions <= 0 {
		config.MaxSuggestions = 3
	}
	return &Tuner{client: client, config: config}
}

const rewriteSystemPrompt = `You improve system prompts for problem-solving agents.
Apply the given suggestions to the current prompt. Preserve everything that works.
Return ONLY the full rewritten prompt, no commentary.`

// Rewrite applies the top suggestions to currentPrompt. With no
// suggestions it short-circuits without an LLM call and returns the prompt
// unchanged.
func (t *Tuner) Rewrite(ctx context.Context, currentPrompt string, agg *critic.Aggregation) (*RewriteResult, error) {
	timer := logging.StartTimer(logging.CategoryTuner, "Rewrite")
	defer timer.Stop()

	if agg == nil || len(agg.PrioritizedSuggestions) == 0 {
		logging.TunerDebug("No suggestions to apply, prompt unchanged")
		return &RewriteResult{
			NewPrompt:      currentPrompt,
			ChangesSummary: "No suggestions to apply",
		}, nil
	}

	selected := SelectTop(agg.PrioritizedSuggestions, t.config.MaxSuggestions)

	var suggestionText strings.Builder
	for i, s := range selected {
		fmt.Fprintf(&suggestionText, "%d. [%s] %s: %s\n   Reasoning: %s\n", i+1, s.Priority, s.Type, s.Details, s.Reasoning)
	}

	userPrompt := fmt.Sprintf(`CURRENT PROMPT:
%s

OBSERVED FAILURE PATTERNS:
%s

SUGGESTIONS TO APPLY:
%s
Rewrite the prompt so the suggestions are addressed.`,
		currentPrompt, strings.Join(agg.CommonPatterns, "\n"), suggestionText.String())

	newPrompt, err := t.client.CompleteWithSystem(ctx, rewriteSystemPrompt, userPrompt)
	if err != nil {
		return nil, fmt.Errorf("prompt rewrite failed: %w", err)
	}

	newPrompt = strings.TrimSpace(newPrompt)
	if newPrompt == "" {
		return nil, fmt.Errorf("rewrite produced an empty prompt")
	}

	types := make([]string, len(selected))
	for i, s := range selected {
		types[i] = s.Type
	}

	result := &RewriteResult{
		NewPrompt:      newPrompt,
		ChangesSummary: fmt.Sprintf("Applied %d suggestions: %s", len(selected), strings.Join(types, ", ")),
		Applied:        selected,
	}

	logging.Tuner("Rewrote prompt: %s", result.ChangesSummary)
	return result, nil
}

// SelectTop stable-sorts suggestions by priority rank and keeps the first
// max entries. Stability preserves the aggregator's ordering within a
// priority band.
func SelectTop(suggestions []critic.Suggestion, max int) []critic.Suggestion {
	sorted := make([]critic.Suggestion, len(suggestions))
	copy(sorted, suggestions)

	sort.SliceStable(sorted, func(i, j int) bool {
		return critic.PriorityRank(sorted[i].Priority) < critic.PriorityRank(sorted[j].Priority)
	})

	if max > 0 && len(sorted) > max {
		sorted = sorted[:max]
	}
	return sorted
}
