package ideator

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"seagent/internal/patterns"
)

type mockClient struct {
	responses []string
	calls     int
}

func (m *mockClient) Complete(ctx context.Context, prompt string) (string, error) {
	return m.CompleteWithSystem(ctx, "", prompt)
}

func (m *mockClient) CompleteWithSystem(ctx context.Context, system, user string) (string, error) {
	resp := m.responses[m.calls%len(m.responses)]
	m.calls++
	if resp == "FAIL" {
		return "", fmt.Errorf("model unavailable")
	}
	return resp, nil
}

const cleanSpec = `{"name": "Percentage Calc", "description": "computes percentages",
	"input_spec": "JSON with value and percent", "output_spec": "the computed value",
	"algorithm": "parse input, multiply value by percent over 100", "examples": ["{\"value\":80,\"percent\":15} -> 12"],
	"edge_cases": ["zero percent"], "test_cases": ["{\"value\":80,\"percent\":15} -> 12"], "deterministic": true}`

const dirtySpec = `{"name": "time_lookup", "description": "returns the current time via an API call",
	"input_spec": "timezone name", "output_spec": "timestamp", "algorithm": "call external service for datetime.now",
	"deterministic": true}`

func samplePattern() patterns.Pattern {
	return patterns.Pattern{Name: "percentage_calc", Description: "computes percentages", Frequency: 3, TraceIDs: []string{"t1", "t2"}}
}

func TestIdeateProducesSpec(t *testing.T) {
	i := New(&mockClient{responses: []string{cleanSpec}}, DefaultConfig())

	spec, err := i.Ideate(context.Background(), samplePattern())
	if err != nil {
		t.Fatalf("Ideate failed: %v", err)
	}
	if spec.Name != "percentage_calc" {
		t.Errorf("Name not sanitized: %q", spec.Name)
	}
	if spec.Algorithm == "" || spec.InputSpec == "" {
		t.Errorf("spec = %+v", spec)
	}
	if len(spec.SourceTrace) != 2 {
		t.Errorf("SourceTrace = %v", spec.SourceTrace)
	}
	if !spec.DeterministicValidated {
		t.Errorf("clean spec should validate, notes: %q", spec.ValidationNotes)
	}
}

func TestIdeateWarnPolicyKeepsDirtySpec(t *testing.T) {
	i := New(&mockClient{responses: []string{dirtySpec}}, Config{DeterminismPolicy: PolicyWarn})

	spec, err := i.Ideate(context.Background(), samplePattern())
	if err != nil {
		t.Fatalf("Warn policy should keep the spec: %v", err)
	}
	if spec.Name != "time_lookup" {
		t.Errorf("Name = %q", spec.Name)
	}
	if spec.DeterministicValidated {
		t.Error("dirty spec must not validate as deterministic")
	}
	if spec.ValidationNotes == "" {
		t.Error("ValidationNotes not recorded")
	}
}

func TestIdeateBlockPolicyRejectsDirtySpec(t *testing.T) {
	i := New(&mockClient{responses: []string{dirtySpec}}, Config{DeterminismPolicy: PolicyBlock})

	_, err := i.Ideate(context.Background(), samplePattern())
	if !errors.Is(err, ErrNonDeterministic) {
		t.Errorf("Expected ErrNonDeterministic, got %v", err)
	}
}

func TestIdeateBatchSkipsFailures(t *testing.T) {
	i := New(&mockClient{responses: []string{cleanSpec, "FAIL", cleanSpec}}, DefaultConfig())

	pats := []patterns.Pattern{samplePattern(), {Name: "p2"}, {Name: "p3"}}
	specs, errs := i.IdeateBatch(context.Background(), pats)

	if len(specs) != 2 {
		t.Errorf("Expected 2 specs, got %d", len(specs))
	}
	if len(errs) != 1 {
		t.Errorf("Expected 1 error, got %d", len(errs))
	}
}

func TestCheckDeterminism(t *testing.T) {
	tests := []struct {
		name      string
		algorithm string
		want      int
	}{
		{"pure", "split the string and sum the numbers", 0},
		{"random", "pick a random element", 1},
		{"multiple", "call the llm then query the database", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CheckDeterminism(&Specification{Algorithm: tt.algorithm})
			if len(got) != tt.want {
				t.Errorf("violations = %v, want %d", got, tt.want)
			}
		})
	}
}

func TestSanitize(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Percentage Calc", "percentage_calc"},
		{"already_good", "already_good"},
		{"Mixed-Case Name!", "mixed_case_name"},
		{"___", "unnamed_tool"},
		{"", "unnamed_tool"},
	}
	for _, tt := range tests {
		if got := Sanitize(tt.in); got != tt.want {
			t.Errorf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
