// Package critic evaluates solutions against a weighted rubric and
// aggregates the results into improvement suggestions.
package critic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"seagent/internal/llm"
	"seagent/internal/logging"
	"seagent/internal/rubric"
)

// Config tunes critic behavior.
type Config struct {
	// Concurrency bounds EvaluateBatch parallelism.
	Concurrency int
	// MaxSolutionLen truncates solutions embedded in prompts.
	MaxSolutionLen int
}

// DefaultConfig returns critic defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:    4,
		MaxSolutionLen: 4000,
	}
}

// Critic scores solutions against a rubric using an LLM judge.
type Critic struct {
	client llm.Client
	rubric *rubric.Rubric
	config Config
}

// New creates a Critic. The rubric is normalized defensively.
func New(client llm.Client, r *rubric.Rubric, config Config) *Critic {
	if r == nil {
		r = rubric.Default()
	}
	r.Normalize()
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.MaxSolutionLen <= 0 {
		config.MaxSolutionLen = 4000
	}
	return &Critic{client: client, rubric: r, config: config}
}

// Rubric returns the critic's rubric.
func (c *Critic) Rubric() *rubric.Rubric {
	return c.rubric
}

const evaluateSystemPrompt = `You are a strict evaluation critic. You score solutions against a rubric.
Respond ONLY with JSON in this shape:
{
  "criterion_scores": {"<criterion_id>": <score 0.0-1.0>, ...},
  "suggestions": [
    {"type": "...", "details": "...", "reasoning": "...", "priority": "high|medium|low"}
  ]
}`

// Evaluate scores one solution. The overall score is recomputed locally as
// the weighted rubric score, so the LLM cannot inflate it.
func (c *Critic) Evaluate(ctx context.Context, problemID, problem, solution string) (*Evaluation, error) {
	timer := logging.StartTimer(logging.CategoryCritic, "Evaluate")
	defer timer.Stop()

	userPrompt := fmt.Sprintf(`Evaluate this solution against the rubric.

RUBRIC:
%s
PROBLEM:
%s

SOLUTION:
%s

Score every criterion between 0.0 and 1.0 and suggest concrete improvements.`,
		c.rubric.PromptText(), problem, llm.Truncate(solution, c.config.MaxSolutionLen))

	resp, err := c.client.CompleteWithSystem(ctx, evaluateSystemPrompt, userPrompt)
	if err != nil {
		return nil, fmt.Errorf("evaluation call failed: %w", err)
	}

	eval, err := c.parseEvaluation(resp)
	if err != nil {
		return nil, err
	}
	eval.ProblemID = problemID

	logging.CriticDebug("Evaluated problem %s: overall=%.3f suggestions=%d", problemID, eval.OverallScore, len(eval.Suggestions))
	return eval, nil
}

// parseEvaluation decodes the judge response, clamps criterion scores to
// [0,1] and recomputes the overall score from the rubric weights.
func (c *Critic) parseEvaluation(resp string) (*Evaluation, error) {
	var parsed struct {
		CriterionScores map[string]float64 `json:"criterion_scores"`
		Suggestions     []Suggestion       `json:"suggestions"`
	}

	cleaned := llm.ExtractJSON(stripFences(resp))
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return nil, llm.NewParseError(resp, err)
	}
	if parsed.CriterionScores == nil {
		return nil, llm.NewParseError(resp, fmt.Errorf("missing criterion_scores"))
	}

	scores := make(map[string]float64, len(c.rubric.Criteria))
	for _, criterion := range c.rubric.Criteria {
		scores[criterion.ID] = clamp01(parsed.CriterionScores[criterion.ID])
	}

	for i := range parsed.Suggestions {
		if strings.TrimSpace(parsed.Suggestions[i].Priority) == "" {
			parsed.Suggestions[i].Priority = PriorityLow
		}
	}

	return &Evaluation{
		OverallScore:    c.rubric.WeightedScore(scores),
		CriterionScores: scores,
		Suggestions:     parsed.Suggestions,
		Raw:             resp,
	}, nil
}

// EvaluateBatch evaluates each problem/solution pair with bounded
// concurrency. Individual failures are recorded as nil slots rather than
// aborting the batch; the error list is returned alongside.
func (c *Critic) EvaluateBatch(ctx context.Context, problemIDs, problems, solutions []string) ([]*Evaluation, []error) {
	n := len(problems)
	evaluations := make([]*Evaluation, n)
	errs := make([]error, n)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.config.Concurrency)

	var mu sync.Mutex
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			eval, err := c.Evaluate(gctx, problemIDs[i], problems[i], solutions[i])
			mu.Lock()
			evaluations[i] = eval
			errs[i] = err
			mu.Unlock()
			if err != nil {
				logging.Get(logging.CategoryCritic).Error("Evaluation %d failed: %v", i, err)
			}
			return nil
		})
	}
	g.Wait()

	return evaluations, errs
}

const aggregateSystemPrompt = `You analyze batches of solution evaluations and find what keeps going wrong.
Respond ONLY with JSON in this shape:
{
  "common_patterns": ["...", ...],
  "prioritized_suggestions": [
    {"type": "...", "details": "...", "reasoning": "...", "priority": "high|medium|low"}
  ],
  "summary": "..."
}`

// Aggregate turns a batch of evaluations into common failure patterns and
// prioritized suggestions.
func (c *Critic) Aggregate(ctx context.Context, evaluations []*Evaluation) (*Aggregation, error) {
	timer := logging.StartTimer(logging.CategoryCritic, "Aggregate")
	defer timer.Stop()

	valid := make([]*Evaluation, 0, len(evaluations))
	for _, e := range evaluations {
		if e != nil {
			valid = append(valid, e)
		}
	}
	if len(valid) == 0 {
		return &Aggregation{Summary: "No evaluations to aggregate"}, nil
	}

	userPrompt := fmt.Sprintf(`Analyze these evaluations and identify recurring weaknesses.

%s
List the common failure patterns and the highest-leverage suggestions for improving the solver's system prompt.`,
		FormatEvaluations(valid))

	resp, err := c.client.CompleteWithSystem(ctx, aggregateSystemPrompt, userPrompt)
	if err != nil {
		return nil, fmt.Errorf("aggregation call failed: %w", err)
	}

	var agg Aggregation
	cleaned := llm.ExtractJSON(stripFences(resp))
	if err := json.Unmarshal([]byte(cleaned), &agg); err != nil {
		return nil, llm.NewParseError(resp, err)
	}

	for i := range agg.PrioritizedSuggestions {
		if strings.TrimSpace(agg.PrioritizedSuggestions[i].Priority) == "" {
			agg.PrioritizedSuggestions[i].Priority = PriorityLow
		}
	}

	logging.Critic("Aggregated %d evaluations: patterns=%d suggestions=%d", len(valid), len(agg.CommonPatterns), len(agg.PrioritizedSuggestions))
	return &agg, nil
}

// FormatEvaluations renders evaluations as numbered blocks for the
// aggregation prompt.
func FormatEvaluations(evaluations []*Evaluation) string {
	var b strings.Builder
	for i, e := range evaluations {
		fmt.Fprintf(&b, "EVALUATION %d:\n", i+1)
		fmt.Fprintf(&b, "Overall Score: %.3f\n", e.OverallScore)
		fmt.Fprintf(&b, "Criterion Scores: %s\n", formatScores(e.CriterionScores))
		if len(e.Suggestions) > 0 {
			b.WriteString("Suggestions:\n")
			for _, s := range e.Suggestions {
				fmt.Fprintf(&b, "  - Type: %s\n    Details: %s\n    Reasoning: %s\n", s.Type, s.Details, s.Reasoning)
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

func formatScores(scores map[string]float64) string {
	data, err := json.Marshal(scores)
	if err != nil {
		return fmt.Sprintf("%v", scores)
	}
	return string(data)
}

// stripFences removes a leading markdown code fence if the whole response
// is wrapped in one.
func stripFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	parts := strings.Split(trimmed, "```")
	if len(parts) < 2 {
		return trimmed
	}
	inner := parts[1]
	inner = strings.TrimPrefix(inner, "json")
	return strings.TrimSpace(inner)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
