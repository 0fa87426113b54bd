// Package traces records and retrieves solver execution traces for
// pattern analysis.
package traces

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Step is one entry in a trace's execution flow.
type Step struct {
	Name   string `json:"name"`
	Detail string `json:"detail,omitempty"`
}

// Trace captures one solver execution.
type Trace struct {
	ID            string    `json:"trace_id"`
	OpName        string    `json:"op_name"`
	Problem       string    `json:"problem"`
	Solution      string    `json:"solution"`
	ExecutionFlow []Step    `json:"execution_flow,omitempty"`
	ToolsUsed     []string  `json:"tools_used,omitempty"`
	Steps         int       `json:"steps"`
	Success       bool      `json:"success"`
	DurationMs    int64     `json:"duration_ms"`
	CreatedAt     time.Time `json:"created_at"`
}

// Fetcher retrieves recent traces. An empty slice with a nil error means
// there is nothing to analyze; a non-nil error means retrieval itself
// failed. Callers must not conflate the two.
type Fetcher interface {
	Fetch(ctx context.Context, n int, opFilter string) ([]Trace, error)
}

// minProblemChars is the minimum number of non-whitespace characters a
// trace's problem must carry to be analyzable.
const minProblemChars = 5

// Valid reports whether a trace carries enough signal for analysis:
// it must have an ID and a problem with at least 5 non-whitespace
// characters.
func (t *Trace) Valid() bool {
	if strings.TrimSpace(t.ID) == "" {
		return false
	}
	count := 0
	for _, r := range t.Problem {
		if !isSpace(r) {
			count++
			if count >= minProblemChars {
				return true
			}
		}
	}
	return false
}

func isSpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	}
	return false
}

// ResolveProblem picks the problem statement from raw solver inputs,
// preferring an explicit question, then the first user message, then the
// prompt, then a truncated dump of the inputs.
func ResolveProblem(question string, userMessages []string, prompt string, inputs map[string]any) string {
	if strings.TrimSpace(question) != "" {
		return question
	}
	for _, m := range userMessages {
		if strings.TrimSpace(m) != "" {
			return m
		}
	}
	if strings.TrimSpace(prompt) != "" {
		return prompt
	}
	dump := fmt.Sprintf("%v", inputs)
	if len(dump) > 200 {
		dump = dump[:200]
	}
	return dump
}

// ResolveSolution normalizes a recorded output.
func ResolveSolution(output string) string {
	if strings.TrimSpace(output) == "" {
		return "No solution recorded"
	}
	return output
}
