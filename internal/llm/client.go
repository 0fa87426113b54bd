// Package llm provides the completion client used by every SEA component
// that talks to a language model.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Client defines the minimal interface components use to call an LLM.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// ErrNoCompletion indicates the API returned an empty candidate list.
var ErrNoCompletion = errors.New("no completion returned")

// ParseError reports a response that could not be parsed as the expected
// structure. Raw retains the full model output for diagnosis and feedback
// prompts.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse LLM response: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// NewParseError wraps err with the raw response text attached.
func NewParseError(raw string, err error) *ParseError {
	return &ParseError{Raw: raw, Err: err}
}
