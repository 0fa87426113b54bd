// Package unified runs the prompt evolution cycle and the tool creation
// pipeline back to back, so freshly recorded traces feed straight into
// tool mining.
package unified

import (
	"context"
	"errors"
	"fmt"
	"time"

	"seagent/internal/atc"
	"seagent/internal/cycle"
	"seagent/internal/dataset"
	"seagent/internal/logging"
)

// Result combines both stage outcomes. A stage that failed leaves its
// result nil and its error in Errors.
type Result struct {
	Cycle    *cycle.Result `json:"cycle,omitempty"`
	ATC      *atc.Result   `json:"atc,omitempty"`
	Errors   []string      `json:"errors,omitempty"`
	Line     string        `json:"line"`
	Duration time.Duration `json:"duration"`
}

// Runner chains the critic-tuner cycle and the ATC pipeline.
type Runner struct {
	cycle    *cycle.CriticTuner
	pipeline *atc.Pipeline
}

// New creates a Runner.
func New(ct *cycle.CriticTuner, p *atc.Pipeline) *Runner {
	return &Runner{cycle: ct, pipeline: p}
}

// Run executes both stages. The critic-tuner cycle runs first so its
// traces are in the store before the pipeline fetches. Stage failures
// are captured per stage; Run errors only when both stages fail.
func (r *Runner) Run(ctx context.Context, problems []dataset.Problem) (*Result, error) {
	timer := logging.StartTimer(logging.CategoryCycle, "UnifiedRun")
	defer timer.StopWithInfo()

	start := time.Now()
	result := &Result{}

	cycleResult, err := r.cycle.Run(ctx, problems)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("cycle: %v", err))
		logging.Get(logging.CategoryCycle).Error("Unified run: cycle stage failed: %v", err)
	} else {
		result.Cycle = cycleResult
	}

	atcResult, err := r.pipeline.Run(ctx)
	if err != nil {
		// An empty trace store right after a failed cycle is expected,
		// not a second failure worth aborting on.
		if !errors.Is(err, atc.ErrNoTraces) || result.Cycle != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("atc: %v", err))
		}
		logging.Get(logging.CategoryCycle).Error("Unified run: atc stage failed: %v", err)
	} else {
		result.ATC = atcResult
	}

	result.Duration = time.Since(start)
	result.Line = summaryLine(result)

	if result.Cycle == nil && result.ATC == nil {
		return result, fmt.Errorf("both stages failed: %v", result.Errors)
	}

	logging.Cycle("Unified run complete: %s", result.Line)
	return result, nil
}

// summaryLine renders the one-line outcome, e.g.
// "Prompt: updated (score: 0.812) | Tools: 2 created/saved".
func summaryLine(result *Result) string {
	prompt := "error"
	if result.Cycle != nil {
		state := "unchanged"
		if result.Cycle.Updated {
			state = "updated"
		}
		prompt = fmt.Sprintf("%s (score: %.3f)", state, result.Cycle.AvgScore)
	}

	tools := "error"
	if result.ATC != nil {
		tools = fmt.Sprintf("%d created/saved", result.ATC.ToolsSaved)
	}

	return fmt.Sprintf("Prompt: %s | Tools: %s", prompt, tools)
}
