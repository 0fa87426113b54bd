// Package rubric defines the weighted evaluation criteria used by the
// critic when scoring solutions.
package rubric

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Sentinel errors
var (
	ErrEmptyRubric      = errors.New("rubric has no criteria")
	ErrDuplicateID      = errors.New("duplicate criterion id")
	ErrNegativeWeight   = errors.New("criterion weight is negative")
	ErrEmptyCriterionID = errors.New("criterion id is empty")
)

// Criterion is a single weighted evaluation dimension.
type Criterion struct {
	ID                string  `yaml:"id" json:"id"`
	Description       string  `yaml:"description" json:"description"`
	Weight            float64 `yaml:"weight" json:"weight"`
	ExcellencePattern string  `yaml:"excellence_pattern" json:"excellence_pattern"`
}

// Rubric is an ordered set of criteria. Weights are normalized to sum to
// 1.0 before any evaluation uses them.
type Rubric struct {
	Criteria []Criterion `yaml:"criteria" json:"criteria"`
}

// Default returns the built-in solver rubric.
func Default() *Rubric {
	r := &Rubric{
		Criteria: []Criterion{
			{
				ID:                "correctness",
				Description:       "The solution arrives at the right answer",
				Weight:            0.5,
				ExcellencePattern: "The final answer is correct and clearly stated",
			},
			{
				ID:                "reasoning",
				Description:       "The solution shows sound step-by-step reasoning",
				Weight:            0.3,
				ExcellencePattern: "Each step follows logically from the previous one",
			},
			{
				ID:                "clarity",
				Description:       "The solution is concise and easy to follow",
				Weight:            0.2,
				ExcellencePattern: "No redundant steps, plain language throughout",
			},
		},
	}
	r.Normalize()
	return r
}

// Load reads a rubric from a YAML file and normalizes it.
func Load(path string) (*Rubric, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rubric: %w", err)
	}

	var r Rubric
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse rubric: %w", err)
	}

	if err := r.Validate(); err != nil {
		return nil, err
	}

	r.Normalize()
	return &r, nil
}

// Validate checks structural invariants before normalization.
func (r *Rubric) Validate() error {
	if len(r.Criteria) == 0 {
		return ErrEmptyRubric
	}

	seen := make(map[string]bool, len(r.Criteria))
	for _, c := range r.Criteria {
		id := strings.TrimSpace(c.ID)
		if id == "" {
			return ErrEmptyCriterionID
		}
		if seen[id] {
			return fmt.Errorf("%w: %s", ErrDuplicateID, id)
		}
		seen[id] = true
		if c.Weight < 0 {
			return fmt.Errorf("%w: %s (%v)", ErrNegativeWeight, id, c.Weight)
		}
	}
	return nil
}

// Normalize scales weights so they sum to 1.0. When every weight is zero
// the criteria share weight uniformly.
func (r *Rubric) Normalize() {
	if len(r.Criteria) == 0 {
		return
	}

	var total float64
	for _, c := range r.Criteria {
		total += c.Weight
	}

	if total == 0 {
		uniform := 1.0 / float64(len(r.Criteria))
		for i := range r.Criteria {
			r.Criteria[i].Weight = uniform
		}
		return
	}

	for i := range r.Criteria {
		r.Criteria[i].Weight /= total
	}
}

// WeightedScore computes the weighted average over the rubric's criteria.
// A criterion missing from scores contributes 0.
func (r *Rubric) WeightedScore(scores map[string]float64) float64 {
	var sum float64
	for _, c := range r.Criteria {
		sum += c.Weight * scores[c.ID]
	}
	return sum
}

// IDs returns the criterion IDs in rubric order.
func (r *Rubric) IDs() []string {
	ids := make([]string, len(r.Criteria))
	for i, c := range r.Criteria {
		ids[i] = c.ID
	}
	return ids
}

// PromptText renders the rubric as numbered criteria blocks for LLM
// evaluation prompts.
func (r *Rubric) PromptText() string {
	var b strings.Builder
	for i, c := range r.Criteria {
		fmt.Fprintf(&b, "%d. %s (weight: %.2f)\n", i+1, c.ID, c.Weight)
		fmt.Fprintf(&b, "   Description: %s\n", c.Description)
		fmt.Fprintf(&b, "   Expected: %s\n", c.ExcellencePattern)
	}
	return b.String()
}
