// Package codegen turns tool specifications into validated, tested Go
// source through a generate, validate, test, save pipeline.
package codegen

import (
	"context"
	"fmt"
	"strings"
	"time"

	"seagent/internal/ideator"
	"seagent/internal/llm"
	"seagent/internal/logging"
	"seagent/internal/sandbox"
)

// SaveStatus describes where a generated tool ended up.
type SaveStatus string

const (
	StatusSaved            SaveStatus = "saved"
	StatusValidationFailed SaveStatus = "validation_failed"
	StatusTestFailed       SaveStatus = "test_failed"
	StatusSaveError        SaveStatus = "save_error"
	StatusNotSaved         SaveStatus = "not_saved"
)

// Pipeline states.
type State string

const (
	StateGenerate State = "generate"
	StateValidate State = "validate"
	StateTest     State = "test"
	StateSave     State = "save"
)

// TestAttempt records one sandbox test run of generated code.
type TestAttempt struct {
	Attempt       int           `json:"attempt"`
	Success       bool          `json:"success"`
	ExitCode      int           `json:"exit_code"`
	ExecutionTime time.Duration `json:"execution_time"`
	Output        string        `json:"output"`
	Error         string        `json:"error,omitempty"`
}

// GeneratedTool is the pipeline's product, saved or not.
type GeneratedTool struct {
	Name            string                 `json:"name"`
	Code            string                 `json:"code"`
	Spec            *ideator.Specification `json:"spec"`
	Status          SaveStatus             `json:"status"`
	SavedPath       string                 `json:"saved_path,omitempty"`
	ValidationError string                 `json:"validation_error,omitempty"`
	TestAttempts    []TestAttempt          `json:"test_attempts,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
}

// Saver persists tools that passed validation and testing. It returns
// the path the tool was written to.
type Saver interface {
	SaveTool(tool *GeneratedTool) (string, error)
}

// Config tunes generation.
type Config struct {
	// MaxTestAttempts bounds the generate-test-regenerate loop.
	MaxTestAttempts int
}

// DefaultConfig returns generator defaults.
func DefaultConfig() Config {
	return Config{MaxTestAttempts: 3}
}

// Generator drives the code generation pipeline.
type Generator struct {
	client  llm.Client
	sandbox *sandbox.Executor
	saver   Saver
	config  Config
}

// New creates a Generator. saver may be nil, in which case passing tools
// end with status not_saved.
func New(client llm.Client, sb *sandbox.Executor, saver Saver, config Config) *Generator {
	if config.MaxTestAttempts <= 0 {
		config.MaxTestAttempts = 1
	}
	return &Generator{client: client, sandbox: sb, saver: saver, config: config}
}

const generateSystemPrompt = `You write small deterministic Go tools. Output ONLY Go source in a fenced code block.
The file must satisfy all of:
- package main
- a comment line starting with "// seatool:" followed by the tool name
- func RunTool(input string) (string, error) implementing the tool
- at least one test function named TestXxx with signature func() error, returning nil on pass
- imports restricted to: %s
No main function, no goroutines, no global mutable state.`

// Generate runs the full pipeline for one spec. Pipeline outcomes
// (validation or test failure) are reported in the tool's status with a
// nil error; the error return is reserved for LLM transport failures.
func (g *Generator) Generate(ctx context.Context, spec *ideator.Specification) (*GeneratedTool, error) {
	timer := logging.StartTimer(logging.CategoryCodegen, "Generate")
	defer timer.StopWithInfo()

	tool := &GeneratedTool{
		Name:      spec.Name,
		Spec:      spec,
		Status:    StatusNotSaved,
		CreatedAt: time.Now().UTC(),
	}

	code, err := g.generateCode(ctx, spec, "")
	if err != nil {
		return nil, err
	}
	tool.Code = code

	if err := Validate(code, spec.Name); err != nil {
		tool.Status = StatusValidationFailed
		tool.ValidationError = err.Error()
		logging.Codegen("Tool %s failed validation: %v", spec.Name, err)
		return tool, nil
	}

	for attempt := 1; attempt <= g.config.MaxTestAttempts; attempt++ {
		result := g.sandbox.RunTests(ctx, tool.Code)
		tool.TestAttempts = append(tool.TestAttempts, TestAttempt{
			Attempt:       attempt,
			Success:       result.Success,
			ExitCode:      result.ExitCode,
			ExecutionTime: result.ExecutionTime,
			Output:        result.Output,
			Error:         result.Error,
		})

		if result.Success {
			g.save(tool)
			return tool, nil
		}

		logging.Codegen("Tool %s tests failed on attempt %d/%d: %s", spec.Name, attempt, g.config.MaxTestAttempts, result.Error)
		if attempt == g.config.MaxTestAttempts {
			break
		}

		feedback := testFeedback(result)
		code, err := g.generateCode(ctx, spec, feedback)
		if err != nil {
			return nil, err
		}
		if err := Validate(code, spec.Name); err != nil {
			tool.Status = StatusValidationFailed
			tool.ValidationError = err.Error()
			return tool, nil
		}
		tool.Code = code
	}

	tool.Status = StatusTestFailed
	return tool, nil
}

// GenerateBatch runs the pipeline for each spec. LLM failures produce a
// stub entry with the error recorded rather than aborting the batch.
func (g *Generator) GenerateBatch(ctx context.Context, specs []*ideator.Specification) ([]*GeneratedTool, []error) {
	tools := make([]*GeneratedTool, 0, len(specs))
	var errs []error

	for _, spec := range specs {
		tool, err := g.Generate(ctx, spec)
		if err != nil {
			logging.Get(logging.CategoryCodegen).Error("Generation failed for %s: %v", spec.Name, err)
			errs = append(errs, fmt.Errorf("spec %s: %w", spec.Name, err))
			tools = append(tools, &GeneratedTool{
				Name:            spec.Name,
				Spec:            spec,
				Status:          StatusNotSaved,
				ValidationError: err.Error(),
				CreatedAt:       time.Now().UTC(),
			})
			continue
		}
		tools = append(tools, tool)
	}
	return tools, errs
}

// generateCode asks the LLM for tool source, optionally appending
// verbatim test feedback from the previous attempt.
func (g *Generator) generateCode(ctx context.Context, spec *ideator.Specification, feedback string) (string, error) {
	system := fmt.Sprintf(generateSystemPrompt, strings.Join(sandbox.AllowedImports(), ", "))

	var b strings.Builder
	fmt.Fprintf(&b, `Write the Go source for this tool.

NAME: %s
DESCRIPTION: %s
INPUT: %s
OUTPUT: %s
ALGORITHM:
%s
`, spec.Name, spec.Description, spec.InputSpec, spec.OutputSpec, spec.Algorithm)
	if len(spec.Examples) > 0 {
		fmt.Fprintf(&b, "EXAMPLES:\n%s\n", strings.Join(spec.Examples, "\n"))
	}
	if len(spec.EdgeCases) > 0 {
		fmt.Fprintf(&b, "EDGE CASES:\n%s\n", strings.Join(spec.EdgeCases, "\n"))
	}
	if len(spec.TestCases) > 0 {
		fmt.Fprintf(&b, "TEST CASES (cover each in a Test function):\n%s\n", strings.Join(spec.TestCases, "\n"))
	}
	if feedback != "" {
		b.WriteString("\n")
		b.WriteString(feedback)
	}

	resp, err := g.client.CompleteWithSystem(ctx, system, b.String())
	if err != nil {
		return "", fmt.Errorf("code generation call failed: %w", err)
	}

	code := llm.ExtractCodeBlock(resp, "go")
	if strings.TrimSpace(code) == "" {
		return "", llm.NewParseError(resp, fmt.Errorf("empty code block"))
	}
	return code, nil
}

// testFeedback formats a failed sandbox run for the retry prompt. The
// output is passed through verbatim so the model sees exactly what
// failed.
func testFeedback(result *sandbox.Result) string {
	var b strings.Builder
	b.WriteString("The previous code generation had test failures. Here is the test output:\n")
	if result.Output != "" {
		b.WriteString(result.Output)
	}
	if result.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", result.Error)
	}
	if result.Stderr != "" {
		fmt.Fprintf(&b, "Stderr: %s\n", result.Stderr)
	}
	b.WriteString("Please analyze the failures and regenerate the code.")
	return b.String()
}

func (g *Generator) save(tool *GeneratedTool) {
	if g.saver == nil {
		tool.Status = StatusNotSaved
		return
	}
	// Final gate: the code on the tool may have been regenerated since
	// the last structural check.
	if err := Validate(tool.Code, tool.Name); err != nil {
		tool.Status = StatusValidationFailed
		tool.ValidationError = err.Error()
		return
	}
	path, err := g.saver.SaveTool(tool)
	if err != nil {
		tool.Status = StatusSaveError
		tool.ValidationError = err.Error()
		logging.Get(logging.CategoryCodegen).Error("Failed to save tool %s: %v", tool.Name, err)
		return
	}
	tool.Status = StatusSaved
	tool.SavedPath = path
	logging.Codegen("Saved tool %s to %s", tool.Name, path)
}
