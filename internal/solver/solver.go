// Package solver answers problems with the current system prompt and
// records execution traces for later analysis.
package solver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"seagent/internal/llm"
	"seagent/internal/logging"
	"seagent/internal/traces"
)

// OpName identifies solver traces in the trace store.
const OpName = "sea_solver.solve"

// DefaultPrompt is the version-1 system prompt before any evolution.
const DefaultPrompt = `You are a careful problem solver.
Read the problem fully before answering. Show your reasoning step by step,
state any assumptions you make, and end with a clear final answer.`

// Recorder persists traces. The solver logs and continues when recording
// fails; a broken trace store must not block solving.
type Recorder interface {
	Save(trace traces.Trace) error
}

// Config tunes the solver.
type Config struct {
	Concurrency int
}

// DefaultConfig returns solver defaults.
func DefaultConfig() Config {
	return Config{Concurrency: 4}
}

// Solver answers problems using the current system prompt.
type Solver struct {
	client   llm.Client
	recorder Recorder
	config   Config

	mu     sync.RWMutex
	prompt string
}

// New creates a Solver. recorder may be nil to disable trace recording.
func New(client llm.Client, recorder Recorder, initialPrompt string, config Config) *Solver {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	return &Solver{
		client:   client,
		recorder: recorder,
		prompt:   initialPrompt,
		config:   config,
	}
}

// Prompt returns the current system prompt.
func (s *Solver) Prompt() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prompt
}

// SetPrompt swaps the system prompt used for subsequent solves.
func (s *Solver) SetPrompt(prompt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompt = prompt
	logging.Solver("Prompt updated (len=%d)", len(prompt))
}

// Solve answers one problem and records a trace.
func (s *Solver) Solve(ctx context.Context, question string) (string, error) {
	timer := logging.StartTimer(logging.CategorySolver, "Solve")
	defer timer.Stop()

	start := time.Now()
	solution, err := s.client.CompleteWithSystem(ctx, s.Prompt(), question)
	duration := time.Since(start)

	trace := traces.Trace{
		ID:       uuid.NewString(),
		OpName:   OpName,
		Problem:  traces.ResolveProblem(question, nil, "", nil),
		Solution: traces.ResolveSolution(solution),
		ExecutionFlow: []traces.Step{
			{Name: "prompt", Detail: fmt.Sprintf("system prompt v-len %d", len(s.Prompt()))},
			{Name: "complete"},
		},
		Steps:      2,
		Success:    err == nil,
		DurationMs: duration.Milliseconds(),
		CreatedAt:  time.Now().UTC(),
	}
	s.record(trace)

	if err != nil {
		return "", fmt.Errorf("solve failed: %w", err)
	}

	logging.SolverDebug("Solved problem in %v (solution_len=%d)", duration, len(solution))
	return solution, nil
}

// SolveBatch answers problems with bounded concurrency. Per-problem
// failures leave empty slots and are returned alongside.
func (s *Solver) SolveBatch(ctx context.Context, questions []string) ([]string, []error) {
	solutions := make([]string, len(questions))
	errs := make([]error, len(questions))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Concurrency)

	var mu sync.Mutex
	for i, q := range questions {
		i, q := i, q
		g.Go(func() error {
			solution, err := s.Solve(gctx, q)
			mu.Lock()
			solutions[i] = solution
			errs[i] = err
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	return solutions, errs
}

func (s *Solver) record(trace traces.Trace) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.Save(trace); err != nil {
		logging.Get(logging.CategorySolver).Error("Failed to record trace %s: %v", trace.ID, err)
	}
}
