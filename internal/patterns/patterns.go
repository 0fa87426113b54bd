// Package patterns mines execution traces for recurring behavior worth
// turning into tools.
package patterns

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"seagent/internal/llm"
	"seagent/internal/logging"
	"seagent/internal/traces"
)

// Pattern is one recurring behavior recognized across traces.
type Pattern struct {
	Name        string `json:"name"`
	Type        string `json:"type,omitempty"`
	Description string `json:"description"`
	Frequency   int    `json:"frequency"`
	// AbstractionPotential estimates how well the pattern generalizes
	// into a reusable tool, in [0,1].
	AbstractionPotential float64  `json:"abstraction_potential,omitempty"`
	Reasoning            string   `json:"reasoning,omitempty"`
	TraceIDs             []string `json:"trace_ids,omitempty"`
	Examples             []string `json:"examples,omitempty"`
}

// Config tunes pattern recognition.
type Config struct {
	// MinFrequency drops patterns seen fewer times. Applied locally after
	// the LLM responds, regardless of what the model claims to have
	// filtered.
	MinFrequency int
	// MaxTraceChars truncates each trace block embedded in the prompt.
	MaxTraceChars int
}

// DefaultConfig returns recognizer defaults.
func DefaultConfig() Config {
	return Config{
		MinFrequency:  2,
		MaxTraceChars: 1500,
	}
}

// Recognizer finds recurring patterns in trace batches.
type Recognizer struct {
	client llm.Client
	config Config
}

// New creates a Recognizer.
func New(client llm.Client, config Config) *Recognizer {
	if config.MinFrequency <= 0 {
		config.MinFrequency = 1
	}
	if config.MaxTraceChars <= 0 {
		config.MaxTraceChars = 1500
	}
	return &Recognizer{client: client, config: config}
}

const recognizeSystemPrompt = `You analyze agent execution traces and identify recurring computational patterns that could be automated as deterministic tools.
Respond ONLY with JSON in this shape:
{
  "patterns": [
    {"name": "snake_case_name", "type": "calculation|parsing|transformation|validation", "description": "...", "frequency": <count>, "abstraction_potential": <0.0-1.0>, "reasoning": "why this generalizes into a tool", "trace_ids": ["..."], "examples": ["..."]}
  ]
}`

// Recognize finds patterns across the given traces. With no traces it
// returns an empty list without calling the LLM.
func (r *Recognizer) Recognize(ctx context.Context, batch []traces.Trace) ([]Pattern, error) {
	timer := logging.StartTimer(logging.CategoryPatterns, "Recognize")
	defer timer.Stop()

	if len(batch) == 0 {
		logging.PatternsDebug("No traces to analyze")
		return nil, nil
	}

	userPrompt := fmt.Sprintf(`Analyze these execution traces and list recurring patterns.
Only report patterns that appear at least %d times.

%s`, r.config.MinFrequency, FormatTraces(batch, r.config.MaxTraceChars))

	resp, err := r.client.CompleteWithSystem(ctx, recognizeSystemPrompt, userPrompt)
	if err != nil {
		return nil, fmt.Errorf("pattern recognition call failed: %w", err)
	}

	var parsed struct {
		Patterns []Pattern `json:"patterns"`
	}
	if err := json.Unmarshal([]byte(llm.ExtractJSON(resp)), &parsed); err != nil {
		return nil, llm.NewParseError(resp, err)
	}

	// The local frequency filter is authoritative.
	kept := make([]Pattern, 0, len(parsed.Patterns))
	for _, p := range parsed.Patterns {
		if strings.TrimSpace(p.Name) == "" {
			continue
		}
		if p.Frequency < r.config.MinFrequency {
			logging.PatternsDebug("Dropping pattern %s: frequency %d below minimum %d", p.Name, p.Frequency, r.config.MinFrequency)
			continue
		}
		kept = append(kept, p)
	}

	logging.Patterns("Recognized %d patterns from %d traces (%d below frequency threshold)", len(kept), len(batch), len(parsed.Patterns)-len(kept))
	return kept, nil
}

// FormatTraces renders traces as numbered blocks for the recognition
// prompt.
func FormatTraces(batch []traces.Trace, maxChars int) string {
	var b strings.Builder
	for i, tr := range batch {
		fmt.Fprintf(&b, "TRACE %d:\n", i+1)
		fmt.Fprintf(&b, "ID: %s\n", tr.ID)
		fmt.Fprintf(&b, "Operation: %s\n", tr.OpName)
		fmt.Fprintf(&b, "Problem: %s\n", llm.Truncate(tr.Problem, maxChars))
		fmt.Fprintf(&b, "Solution: %s\n", llm.Truncate(tr.Solution, maxChars))
		if len(tr.ExecutionFlow) > 0 {
			b.WriteString("Steps:\n")
			for _, step := range tr.ExecutionFlow {
				if step.Detail != "" {
					fmt.Fprintf(&b, "  - %s: %s\n", step.Name, llm.Truncate(step.Detail, 200))
				} else {
					fmt.Fprintf(&b, "  - %s\n", step.Name)
				}
			}
		}
		if len(tr.ToolsUsed) > 0 {
			fmt.Fprintf(&b, "Tools Used: %s\n", strings.Join(tr.ToolsUsed, ", "))
		}
		fmt.Fprintf(&b, "Success: %v\n\n", tr.Success)
	}
	return b.String()
}
