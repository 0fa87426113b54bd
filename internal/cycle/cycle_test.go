package cycle

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"seagent/internal/critic"
	"seagent/internal/dataset"
	"seagent/internal/promptstore"
	"seagent/internal/rubric"
	"seagent/internal/solver"
	"seagent/internal/tuner"
)

// routingClient dispatches on the system prompt so one mock can serve the
// solver, critic, and tuner at once.
type routingClient struct {
	mu           sync.Mutex
	evalResponse string
	aggResponse  string
	newPrompt    string
	rewriteCalls int
}

func (m *routingClient) Complete(ctx context.Context, prompt string) (string, error) {
	return m.CompleteWithSystem(ctx, "", prompt)
}

func (m *routingClient) CompleteWithSystem(ctx context.Context, system, user string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case strings.Contains(system, "evaluation critic"):
		return m.evalResponse, nil
	case strings.Contains(system, "batches of solution evaluations"):
		return m.aggResponse, nil
	case strings.Contains(system, "improve system prompts"):
		m.rewriteCalls++
		return m.newPrompt, nil
	default:
		return "solution for: " + user, nil
	}
}

func testRubric() *rubric.Rubric {
	return &rubric.Rubric{Criteria: []rubric.Criterion{
		{ID: "correctness", Weight: 0.6},
		{ID: "clarity", Weight: 0.4},
	}}
}

func evalJSON(correctness, clarity string) string {
	return `{"criterion_scores": {"correctness": ` + correctness + `, "clarity": ` + clarity + `},
		"suggestions": [{"type": "add_steps", "details": "show work", "reasoning": "skipped steps", "priority": "high"}]}`
}

const aggJSON = `{"common_patterns": ["skips intermediate steps"],
	"prioritized_suggestions": [{"type": "add_steps", "details": "require step-by-step work", "reasoning": "scores drop on multi-step problems", "priority": "high"}],
	"summary": "solver skips steps"}`

func newCycle(t *testing.T, client *routingClient, threshold float64) (*CriticTuner, *solver.Solver) {
	t.Helper()
	s := solver.New(client, nil, "base prompt", solver.Config{Concurrency: 1})
	c := critic.New(client, testRubric(), critic.Config{Concurrency: 1})
	tn := tuner.New(client, tuner.DefaultConfig())
	return New(s, c, tn, nil, Config{ScoreThreshold: threshold}), s
}

func TestRunRejectsEmptyProblemSet(t *testing.T) {
	client := &routingClient{}
	ct, _ := newCycle(t, client, 0.85)

	if _, err := ct.Run(context.Background(), nil); !errors.Is(err, ErrNoProblems) {
		t.Errorf("Expected ErrNoProblems, got %v", err)
	}
	if client.rewriteCalls != 0 {
		t.Error("Empty cycle should not reach the tuner")
	}
}

func TestRunUpdatesPromptBelowThreshold(t *testing.T) {
	client := &routingClient{
		evalResponse: evalJSON("0.5", "0.5"),
		aggResponse:  aggJSON,
		newPrompt:    "evolved prompt with step-by-step instructions",
	}
	ct, s := newCycle(t, client, 0.85)

	result, err := ct.Run(context.Background(), dataset.Default()[:2])
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !result.Updated {
		t.Error("Score 0.5 below threshold 0.85 should update the prompt")
	}
	if result.AvgScore != 0.5 {
		t.Errorf("AvgScore = %.3f, want 0.5", result.AvgScore)
	}
	if result.NewPrompt != "evolved prompt with step-by-step instructions" {
		t.Errorf("NewPrompt = %q", result.NewPrompt)
	}
	if s.Prompt() != result.NewPrompt {
		t.Error("Solver should pick up the rewritten prompt")
	}
	if !strings.HasPrefix(result.ChangesSummary, "Applied 1 suggestions:") {
		t.Errorf("ChangesSummary = %q", result.ChangesSummary)
	}
	if result.NumProblems != 2 || len(result.Evaluations) != 2 {
		t.Errorf("NumProblems=%d Evaluations=%d", result.NumProblems, len(result.Evaluations))
	}
}

func TestRunBelowThresholdWithoutSuggestionsStillUpdates(t *testing.T) {
	client := &routingClient{
		evalResponse: `{"criterion_scores": {"correctness": 0.5, "clarity": 0.5}, "suggestions": []}`,
		aggResponse:  `{"common_patterns": [], "prioritized_suggestions": [], "summary": "no actionable pattern"}`,
		newPrompt:    "should never be used",
	}
	ct, s := newCycle(t, client, 0.85)

	result, err := ct.Run(context.Background(), dataset.Default()[:2])
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !result.Updated {
		t.Error("Score 0.5 below threshold 0.85 must report an update even with no suggestions")
	}
	if result.ChangesSummary != "No suggestions to apply" {
		t.Errorf("ChangesSummary = %q", result.ChangesSummary)
	}
	if s.Prompt() != "base prompt" || result.NewPrompt != "base prompt" {
		t.Errorf("Prompt must stay unchanged, got solver=%q result=%q", s.Prompt(), result.NewPrompt)
	}
	if client.rewriteCalls != 0 {
		t.Error("Tuner must short-circuit without an LLM call when there are no suggestions")
	}
	if result.PromptVersion != 0 {
		t.Errorf("No new version should be persisted, got %d", result.PromptVersion)
	}
}

func TestRunSkipsUpdateAboveThreshold(t *testing.T) {
	client := &routingClient{
		evalResponse: evalJSON("0.95", "0.95"),
		aggResponse:  aggJSON,
		newPrompt:    "should never be used",
	}
	ct, s := newCycle(t, client, 0.85)

	result, err := ct.Run(context.Background(), dataset.Default()[:2])
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.Updated {
		t.Error("Score above threshold must not update the prompt")
	}
	if result.ChangesSummary != "Score above threshold - no update" {
		t.Errorf("ChangesSummary = %q", result.ChangesSummary)
	}
	if s.Prompt() != "base prompt" {
		t.Errorf("Prompt changed to %q", s.Prompt())
	}
	if client.rewriteCalls != 0 {
		t.Error("Above threshold the tuner must not be called")
	}
}

func TestRunAveragesCriterionScores(t *testing.T) {
	client := &routingClient{
		evalResponse: evalJSON("0.8", "0.4"),
		aggResponse:  aggJSON,
		newPrompt:    "evolved",
	}
	ct, _ := newCycle(t, client, 0.85)

	result, err := ct.Run(context.Background(), dataset.Default()[:3])
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if got := result.CriterionScores["correctness"]; got != 0.8 {
		t.Errorf("correctness avg = %.3f", got)
	}
	if got := result.CriterionScores["clarity"]; got != 0.4 {
		t.Errorf("clarity avg = %.3f", got)
	}
	// 0.8*0.6 + 0.4*0.4 = 0.64
	if result.AvgScore < 0.639 || result.AvgScore > 0.641 {
		t.Errorf("AvgScore = %.3f, want 0.640", result.AvgScore)
	}
}

func TestRunPersistsPromptVersion(t *testing.T) {
	dir := t.TempDir()
	prompts, err := promptstore.NewStore(filepath.Join(dir, "prompts.db"), "")
	if err != nil {
		t.Fatal(err)
	}
	defer prompts.Close()
	prompts.Seed("base prompt")

	client := &routingClient{
		evalResponse: evalJSON("0.3", "0.3"),
		aggResponse:  aggJSON,
		newPrompt:    "evolved prompt",
	}
	s := solver.New(client, nil, "base prompt", solver.Config{Concurrency: 1})
	c := critic.New(client, testRubric(), critic.Config{Concurrency: 1})
	ct := New(s, c, tuner.New(client, tuner.DefaultConfig()), prompts, DefaultConfig())

	result, err := ct.Run(context.Background(), dataset.Default()[:1])
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.PromptVersion != 2 {
		t.Errorf("PromptVersion = %d, want 2", result.PromptVersion)
	}
	current, err := prompts.Current()
	if err != nil {
		t.Fatal(err)
	}
	if current.Prompt != "evolved prompt" || current.Version != 2 {
		t.Errorf("Current = %+v", current)
	}
}

func TestStatsTrackCycles(t *testing.T) {
	client := &routingClient{
		evalResponse: evalJSON("0.5", "0.5"),
		aggResponse:  aggJSON,
		newPrompt:    "evolved",
	}
	ct, _ := newCycle(t, client, 0.85)

	if _, err := ct.Run(context.Background(), dataset.Default()[:1]); err != nil {
		t.Fatal(err)
	}
	client.evalResponse = evalJSON("0.9", "0.9")
	if _, err := ct.Run(context.Background(), dataset.Default()[:1]); err != nil {
		t.Fatal(err)
	}

	stats := ct.GetStats()
	if stats.CyclesRun != 2 {
		t.Errorf("CyclesRun = %d", stats.CyclesRun)
	}
	if stats.PromptsUpdated != 1 {
		t.Errorf("PromptsUpdated = %d", stats.PromptsUpdated)
	}
	if stats.LastAvgScore != 0.9 {
		t.Errorf("LastAvgScore = %.3f", stats.LastAvgScore)
	}
	if stats.BestAvgScore != 0.9 {
		t.Errorf("BestAvgScore = %.3f", stats.BestAvgScore)
	}
}
