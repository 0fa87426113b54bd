// Package dataset loads and samples the problem sets the evolution cycle
// runs against.
package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrEmptyDataset indicates a dataset file held no problems.
var ErrEmptyDataset = errors.New("dataset contains no problems")

// Problem is one task the solver is asked to answer.
type Problem struct {
	ID         string `yaml:"id" json:"id"`
	Question   string `yaml:"question" json:"question"`
	Category   string `yaml:"category,omitempty" json:"category,omitempty"`
	Difficulty string `yaml:"difficulty,omitempty" json:"difficulty,omitempty"`
	Answer     string `yaml:"answer,omitempty" json:"answer,omitempty"`
}

// Load reads problems from a YAML or JSON file, chosen by extension.
// Problems without an ID get one assigned from their position.
func Load(path string) ([]Problem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}

	var problems []Problem
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, &problems); err != nil {
			return nil, fmt.Errorf("failed to parse dataset JSON: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &problems); err != nil {
			return nil, fmt.Errorf("failed to parse dataset YAML: %w", err)
		}
	}

	if len(problems) == 0 {
		return nil, ErrEmptyDataset
	}

	for i := range problems {
		if problems[i].ID == "" {
			problems[i].ID = fmt.Sprintf("problem_%d", i+1)
		}
		if strings.TrimSpace(problems[i].Question) == "" {
			return nil, fmt.Errorf("problem %s has an empty question", problems[i].ID)
		}
	}
	return problems, nil
}

// Sample returns up to n problems drawn without replacement. The same
// seed always yields the same selection.
func Sample(problems []Problem, n int, seed int64) []Problem {
	if n >= len(problems) {
		out := make([]Problem, len(problems))
		copy(out, problems)
		return out
	}
	if n <= 0 {
		return nil
	}

	rng := rand.New(rand.NewSource(seed))
	perm := rng.Perm(len(problems))

	out := make([]Problem, 0, n)
	for _, idx := range perm[:n] {
		out = append(out, problems[idx])
	}
	return out
}

// Default returns a small built-in problem set for smoke runs when no
// dataset file is configured.
func Default() []Problem {
	return []Problem{
		{ID: "math_1", Question: "A train travels 120 km in 1.5 hours. What is its average speed in km/h?", Category: "math", Difficulty: "easy"},
		{ID: "math_2", Question: "If 3x + 7 = 22, what is the value of x?", Category: "math", Difficulty: "easy"},
		{ID: "logic_1", Question: "All roses are flowers. Some flowers fade quickly. Does it follow that some roses fade quickly? Explain.", Category: "logic", Difficulty: "medium"},
		{ID: "logic_2", Question: "Three boxes are labeled apples, oranges, and mixed, but every label is wrong. You may draw one fruit from one box. How do you relabel all three correctly?", Category: "logic", Difficulty: "medium"},
		{ID: "word_1", Question: "A farmer has 17 sheep. All but 9 run away. How many sheep are left?", Category: "word", Difficulty: "easy"},
	}
}
