package atc

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"seagent/internal/codegen"
	"seagent/internal/ideator"
	"seagent/internal/patterns"
	"seagent/internal/sandbox"
	"seagent/internal/toolstore"
	"seagent/internal/traces"
)

type mockFetcher struct {
	batch []traces.Trace
	err   error
}

func (m *mockFetcher) Fetch(ctx context.Context, n int, opFilter string) ([]traces.Trace, error) {
	return m.batch, m.err
}

// routingClient dispatches on the system prompt so one mock serves the
// recognizer, ideator, and generator.
type routingClient struct {
	patternsJSON string
	specJSON     string
	toolCode     string
}

func (m *routingClient) Complete(ctx context.Context, prompt string) (string, error) {
	return m.CompleteWithSystem(ctx, "", prompt)
}

func (m *routingClient) CompleteWithSystem(ctx context.Context, system, user string) (string, error) {
	switch {
	case strings.Contains(system, "execution traces"):
		return m.patternsJSON, nil
	case strings.Contains(system, "design small deterministic tools"):
		return m.specJSON, nil
	case strings.Contains(system, "write small deterministic Go tools"):
		return m.toolCode, nil
	default:
		return "", errors.New("unexpected prompt")
	}
}

const patternsJSON = `{"patterns": [{"name": "string_reversal", "description": "reverses strings", "frequency": 3, "trace_ids": ["t1"]}]}`

const specJSON = `{"name": "reverse_string", "description": "reverses a string",
	"input_spec": "any string", "output_spec": "the reversed string",
	"algorithm": "reverse the runes", "examples": ["abc -> cba"], "deterministic": true}`

const toolCode = "```go\n" + `package main

// seatool: reverse_string

import "fmt"

func RunTool(input string) (string, error) {
	runes := []rune(input)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return string(runes), nil
}

func TestReverse() error {
	out, err := RunTool("abc")
	if err != nil {
		return err
	}
	if out != "cba" {
		return fmt.Errorf("got %s", out)
	}
	return nil
}
` + "```"

func sampleBatch() []traces.Trace {
	return []traces.Trace{
		{ID: "t1", OpName: "sea_solver.solve", Problem: "reverse the word hello", Solution: "olleh", Success: true},
		{ID: "t2", OpName: "sea_solver.solve", Problem: "reverse the word world", Solution: "dlrow", Success: true},
	}
}

func newPipeline(t *testing.T, fetcher traces.Fetcher, client *routingClient) (*Pipeline, *toolstore.Store) {
	t.Helper()
	store, err := toolstore.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	gen := codegen.New(client, sandbox.New(sandbox.DefaultConfig()), store, codegen.Config{MaxTestAttempts: 2})
	p := New(fetcher,
		patterns.New(client, patterns.Config{MinFrequency: 2}),
		ideator.New(client, ideator.DefaultConfig()),
		gen, nil, DefaultConfig())
	return p, store
}

func TestRunZeroTraces(t *testing.T) {
	p, _ := newPipeline(t, &mockFetcher{}, &routingClient{})

	if _, err := p.Run(context.Background()); !errors.Is(err, ErrNoTraces) {
		t.Errorf("Expected ErrNoTraces, got %v", err)
	}
}

func TestRunFetchError(t *testing.T) {
	p, _ := newPipeline(t, &mockFetcher{err: errors.New("db locked")}, &routingClient{})

	if _, err := p.Run(context.Background()); err == nil || errors.Is(err, ErrNoTraces) {
		t.Errorf("Fetch error must not look like an empty store: %v", err)
	}
}

func TestRunFullPipeline(t *testing.T) {
	client := &routingClient{patternsJSON: patternsJSON, specJSON: specJSON, toolCode: toolCode}
	p, store := newPipeline(t, &mockFetcher{batch: sampleBatch()}, client)

	result, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.TracesAnalyzed != 2 || result.PatternsFound != 1 || result.SpecsIdeated != 1 {
		t.Errorf("result = %+v", result)
	}
	if result.ToolsSaved != 1 {
		t.Fatalf("ToolsSaved = %d", result.ToolsSaved)
	}
	if len(result.Errors) != 0 {
		t.Errorf("Errors = %v", result.Errors)
	}

	entry, err := store.Get("reverse_string")
	if err != nil {
		t.Fatalf("Tool not persisted: %v", err)
	}
	if !strings.Contains(entry.Code, "func RunTool") {
		t.Errorf("Persisted code = %q", entry.Code)
	}
}

func TestRunNoPatternsIsNotAnError(t *testing.T) {
	client := &routingClient{patternsJSON: `{"patterns": []}`}
	p, _ := newPipeline(t, &mockFetcher{batch: sampleBatch()}, client)

	result, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.PatternsFound != 0 || result.ToolsSaved != 0 {
		t.Errorf("result = %+v", result)
	}
}

func TestWriteSummary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "summary.json")
	result := &Result{CycleID: "abc", TracesAnalyzed: 5, ToolsSaved: 1}

	if err := WriteSummary(path, result); err != nil {
		t.Fatalf("WriteSummary failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var got Result
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Summary is not valid JSON: %v", err)
	}
	if got.CycleID != "abc" || got.TracesAnalyzed != 5 {
		t.Errorf("got = %+v", got)
	}
}
