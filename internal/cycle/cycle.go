// Package cycle orchestrates the critic-tuner evolution loop: solve,
// evaluate, aggregate, and rewrite the prompt when the batch score falls
// below threshold.
package cycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"seagent/internal/critic"
	"seagent/internal/dataset"
	"seagent/internal/logging"
	"seagent/internal/promptstore"
	"seagent/internal/solver"
	"seagent/internal/tuner"
)

// ErrNoProblems indicates Run was called with an empty problem set.
var ErrNoProblems = errors.New("no problems to run the cycle on")

// Config tunes the critic-tuner cycle.
type Config struct {
	// ScoreThreshold gates prompt updates: the prompt is rewritten
	// exactly when the average score is below this value.
	ScoreThreshold float64
}

// DefaultConfig returns cycle defaults.
func DefaultConfig() Config {
	return Config{ScoreThreshold: 0.85}
}

// Result is the outcome of one critic-tuner cycle.
type Result struct {
	CycleID         string               `json:"cycle_id"`
	AvgScore        float64              `json:"avg_score"`
	CriterionScores map[string]float64   `json:"criterion_scores"`
	Updated         bool                 `json:"updated"`
	NewPrompt       string               `json:"new_prompt"`
	PromptVersion   int                  `json:"prompt_version,omitempty"`
	ChangesSummary  string               `json:"changes_summary"`
	NumProblems     int                  `json:"num_problems"`
	Evaluations     []*critic.Evaluation `json:"evaluations"`
	Duration        time.Duration        `json:"duration"`
}

// Stats tracks cycle history.
type Stats struct {
	CyclesRun      int     `json:"cycles_run"`
	PromptsUpdated int     `json:"prompts_updated"`
	LastAvgScore   float64 `json:"last_avg_score"`
	BestAvgScore   float64 `json:"best_avg_score"`
}

// CriticTuner runs the full evolution cycle.
type CriticTuner struct {
	solver  *solver.Solver
	critic  *critic.Critic
	tuner   *tuner.Tuner
	prompts *promptstore.Store
	config  Config

	statsMu sync.RWMutex
	stats   Stats
}

// New creates a CriticTuner. prompts may be nil to skip version
// persistence.
func New(s *solver.Solver, c *critic.Critic, t *tuner.Tuner, prompts *promptstore.Store, config Config) *CriticTuner {
	if config.ScoreThreshold <= 0 {
		config.ScoreThreshold = 0.85
	}
	return &CriticTuner{
		solver:  s,
		critic:  c,
		tuner:   t,
		prompts: prompts,
		config:  config,
	}
}

// Run executes one cycle over the given problems:
// solve, evaluate, aggregate, then rewrite the prompt if the average
// score is below threshold. Updated is true exactly when the score fell
// below the threshold.
func (ct *CriticTuner) Run(ctx context.Context, problems []dataset.Problem) (*Result, error) {
	timer := logging.StartTimer(logging.CategoryCycle, "CriticTunerCycle")
	defer timer.StopWithInfo()

	if len(problems) == 0 {
		return nil, ErrNoProblems
	}

	start := time.Now()
	result := &Result{
		CycleID:     uuid.NewString(),
		NumProblems: len(problems),
	}
	logging.Cycle("Starting critic-tuner cycle %s with %d problems", result.CycleID, len(problems))

	// Step 1: solve
	questions := make([]string, len(problems))
	ids := make([]string, len(problems))
	for i, p := range problems {
		questions[i] = p.Question
		ids[i] = p.ID
	}
	solutions, solveErrs := ct.solver.SolveBatch(ctx, questions)
	for i, err := range solveErrs {
		if err != nil {
			logging.Get(logging.CategoryCycle).Error("Problem %s failed to solve: %v", ids[i], err)
		}
	}

	// Step 2: evaluate
	evaluations, evalErrs := ct.critic.EvaluateBatch(ctx, ids, questions, solutions)
	for i, err := range evalErrs {
		if err != nil {
			logging.Get(logging.CategoryCycle).Error("Problem %s failed to evaluate: %v", ids[i], err)
		}
	}
	result.Evaluations = evaluations

	avg, criterionAvgs, valid := summarize(evaluations)
	if valid == 0 {
		return nil, fmt.Errorf("cycle %s produced no valid evaluations", result.CycleID)
	}
	result.AvgScore = avg
	result.CriterionScores = criterionAvgs

	// Step 3: aggregate
	agg, err := ct.critic.Aggregate(ctx, evaluations)
	if err != nil {
		return nil, fmt.Errorf("aggregation failed: %w", err)
	}

	// Steps 4-5: threshold gate and rewrite. Updated follows the
	// threshold branch alone, even when the rewrite leaves the prompt
	// text unchanged.
	if avg < ct.config.ScoreThreshold {
		rewrite, err := ct.tuner.Rewrite(ctx, ct.solver.Prompt(), agg)
		if err != nil {
			return nil, fmt.Errorf("rewrite failed: %w", err)
		}

		result.Updated = true
		result.NewPrompt = rewrite.NewPrompt
		result.ChangesSummary = rewrite.ChangesSummary

		if rewrite.NewPrompt != ct.solver.Prompt() {
			ct.solver.SetPrompt(rewrite.NewPrompt)
			if ct.prompts != nil {
				version, err := ct.prompts.Save(rewrite.NewPrompt, avg, rewrite.ChangesSummary)
				if err != nil {
					logging.Get(logging.CategoryCycle).Error("Failed to persist prompt version: %v", err)
				} else {
					result.PromptVersion = version
				}
			}
		}
	} else {
		result.Updated = false
		result.NewPrompt = ct.solver.Prompt()
		result.ChangesSummary = "Score above threshold - no update"
	}

	result.Duration = time.Since(start)
	ct.recordStats(result)

	logging.Cycle("Cycle %s complete: avg=%.3f updated=%v (%s)", result.CycleID, avg, result.Updated, result.ChangesSummary)
	return result, nil
}

// summarize averages overall and per-criterion scores across valid
// evaluations.
func summarize(evaluations []*critic.Evaluation) (float64, map[string]float64, int) {
	var sum float64
	sums := make(map[string]float64)
	counts := make(map[string]int)
	valid := 0

	for _, e := range evaluations {
		if e == nil {
			continue
		}
		valid++
		sum += e.OverallScore
		for id, score := range e.CriterionScores {
			sums[id] += score
			counts[id]++
		}
	}
	if valid == 0 {
		return 0, nil, 0
	}

	avgs := make(map[string]float64, len(sums))
	for id, total := range sums {
		avgs[id] = total / float64(counts[id])
	}
	return sum / float64(valid), avgs, valid
}

func (ct *CriticTuner) recordStats(result *Result) {
	ct.statsMu.Lock()
	defer ct.statsMu.Unlock()

	ct.stats.CyclesRun++
	ct.stats.LastAvgScore = result.AvgScore
	if result.AvgScore > ct.stats.BestAvgScore {
		ct.stats.BestAvgScore = result.AvgScore
	}
	if result.Updated {
		ct.stats.PromptsUpdated++
	}
}

// GetStats returns a snapshot of cycle statistics.
func (ct *CriticTuner) GetStats() Stats {
	ct.statsMu.RLock()
	defer ct.statsMu.RUnlock()
	return ct.stats
}
