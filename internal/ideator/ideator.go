// Package ideator turns recognized patterns into specifications for
// deterministic tools.
package ideator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"seagent/internal/llm"
	"seagent/internal/logging"
	"seagent/internal/patterns"
)

// Determinism policies.
const (
	PolicyWarn  = "warn"
	PolicyBlock = "block"
)

// ErrNonDeterministic indicates a spec failed the determinism check under
// the block policy.
var ErrNonDeterministic = errors.New("specification describes non-deterministic behavior")

// Specification describes a deterministic tool to generate.
type Specification struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	InputSpec   string   `json:"input_spec"`
	OutputSpec  string   `json:"output_spec"`
	Algorithm   string   `json:"algorithm"`
	Examples    []string `json:"examples,omitempty"`
	EdgeCases   []string `json:"edge_cases,omitempty"`
	TestCases   []string `json:"test_cases,omitempty"`
	// Deterministic is the model's own claim about the spec.
	Deterministic bool     `json:"deterministic"`
	SourceTrace   []string `json:"source_traces,omitempty"`

	// DeterministicValidated is computed locally: the model claimed
	// determinism, the algorithm is non-empty, and the denylist scan
	// found nothing. Never trusted from the model.
	DeterministicValidated bool   `json:"deterministic_validated"`
	ValidationNotes        string `json:"validation_notes,omitempty"`
}

// nonDeterministicMarkers are phrases that indicate the spec depends on
// state a pure function cannot reproduce.
var nonDeterministicMarkers = []string{
	"llm",
	"api call",
	"random",
	"datetime.now",
	"current time",
	"external service",
	"database",
	"file write",
	"network",
}

// Config tunes ideation.
type Config struct {
	// DeterminismPolicy is warn or block. Warn logs violations and keeps
	// the spec; block rejects it.
	DeterminismPolicy string
}

// DefaultConfig returns ideator defaults.
func DefaultConfig() Config {
	return Config{DeterminismPolicy: PolicyWarn}
}

// Ideator proposes tool specifications from patterns.
type Ideator struct {
	client llm.Client
	config Config
}

// New creates an Ideator.
func New(client llm.Client, config Config) *Ideator {
	if config.DeterminismPolicy != PolicyBlock {
		config.DeterminismPolicy = PolicyWarn
	}
	return &Ideator{client: client, config: config}
}

const ideateSystemPrompt = `You design small deterministic tools from observed agent behavior.
A tool takes a string input and returns a string output. It must be a pure function: no LLM calls, no network, no randomness, no clocks, no file or database access.
Respond ONLY with JSON in this shape:
{
  "name": "snake_case_name",
  "description": "...",
  "input_spec": "what the input string contains",
  "output_spec": "what the output string contains",
  "algorithm": "step-by-step deterministic procedure",
  "examples": ["input -> output", ...],
  "edge_cases": ["empty input", ...],
  "test_cases": ["input -> expected output", ...],
  "deterministic": true
}`

// Ideate proposes a tool specification for one pattern.
func (i *Ideator) Ideate(ctx context.Context, pattern patterns.Pattern) (*Specification, error) {
	timer := logging.StartTimer(logging.CategoryIdeator, "Ideate")
	defer timer.Stop()

	userPrompt := fmt.Sprintf(`Design a deterministic tool that automates this recurring pattern.

PATTERN: %s
DESCRIPTION: %s
FREQUENCY: %d
EXAMPLES:
%s`,
		pattern.Name, pattern.Description, pattern.Frequency, strings.Join(pattern.Examples, "\n"))

	resp, err := i.client.CompleteWithSystem(ctx, ideateSystemPrompt, userPrompt)
	if err != nil {
		return nil, fmt.Errorf("ideation call failed: %w", err)
	}

	var spec Specification
	if err := json.Unmarshal([]byte(llm.ExtractJSON(resp)), &spec); err != nil {
		return nil, llm.NewParseError(resp, err)
	}
	if strings.TrimSpace(spec.Name) == "" {
		return nil, llm.NewParseError(resp, fmt.Errorf("specification missing name"))
	}
	spec.Name = Sanitize(spec.Name)
	spec.SourceTrace = pattern.TraceIDs

	violations := CheckDeterminism(&spec)
	spec.DeterministicValidated = spec.Deterministic && len(violations) == 0 && strings.TrimSpace(spec.Algorithm) != ""
	if !spec.DeterministicValidated {
		switch {
		case len(violations) > 0:
			spec.ValidationNotes = "mentions: " + strings.Join(violations, ", ")
		case !spec.Deterministic:
			spec.ValidationNotes = "model did not claim determinism"
		default:
			spec.ValidationNotes = "empty algorithm"
		}
	}
	if len(violations) > 0 {
		if i.config.DeterminismPolicy == PolicyBlock {
			return nil, fmt.Errorf("%w: %s", ErrNonDeterministic, strings.Join(violations, ", "))
		}
		logging.Get(logging.CategoryIdeator).Warn("Spec %s mentions non-deterministic behavior: %s", spec.Name, strings.Join(violations, ", "))
	}

	logging.Ideator("Ideated tool spec %q from pattern %q", spec.Name, pattern.Name)
	return &spec, nil
}

// IdeateBatch proposes specs for each pattern. Failed ideations are
// skipped, not fatal.
func (i *Ideator) IdeateBatch(ctx context.Context, pats []patterns.Pattern) ([]*Specification, []error) {
	specs := make([]*Specification, 0, len(pats))
	var errs []error

	for _, p := range pats {
		spec, err := i.Ideate(ctx, p)
		if err != nil {
			logging.Get(logging.CategoryIdeator).Error("Ideation failed for pattern %s: %v", p.Name, err)
			errs = append(errs, fmt.Errorf("pattern %s: %w", p.Name, err))
			continue
		}
		specs = append(specs, spec)
	}
	return specs, errs
}

// CheckDeterminism scans a spec's text for markers of behavior a pure
// function cannot implement. Returns the markers found.
func CheckDeterminism(spec *Specification) []string {
	text := strings.ToLower(strings.Join([]string{
		spec.Description, spec.InputSpec, spec.OutputSpec, spec.Algorithm,
	}, " "))

	var found []string
	for _, marker := range nonDeterministicMarkers {
		if strings.Contains(text, marker) {
			found = append(found, marker)
		}
	}
	return found
}

// Sanitize normalizes a tool name to lower snake_case identifier form.
func Sanitize(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '_' || r == ' ' || r == '-':
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "unnamed_tool"
	}
	return out
}
