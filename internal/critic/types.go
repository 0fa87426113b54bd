package critic

import "strings"

// Suggestion priorities
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// Suggestion is a concrete improvement proposal attached to an evaluation
// or produced by aggregation.
type Suggestion struct {
	Type      string `json:"type"`
	Details   string `json:"details"`
	Reasoning string `json:"reasoning"`
	Priority  string `json:"priority"`
}

// PriorityRank maps priorities to sort ranks. Unknown priorities sort
// last (rank 99); an empty priority is treated as low.
func PriorityRank(priority string) int {
	switch strings.ToLower(strings.TrimSpace(priority)) {
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow, "":
		return 3
	default:
		return 99
	}
}

// Evaluation is the critic's verdict on a single solution.
type Evaluation struct {
	ProblemID       string             `json:"problem_id"`
	OverallScore    float64            `json:"overall_score"`
	CriterionScores map[string]float64 `json:"criterion_scores"`
	Suggestions     []Suggestion       `json:"suggestions"`
	Raw             string             `json:"-"`
}

// Aggregation summarizes a batch of evaluations into recurring failure
// patterns and prioritized suggestions for the tuner.
type Aggregation struct {
	CommonPatterns         []string     `json:"common_patterns"`
	PrioritizedSuggestions []Suggestion `json:"prioritized_suggestions"`
	Summary                string       `json:"summary"`
}
