// Package sandbox executes generated tool code in an embedded Go
// interpreter, isolated from the network and the filesystem.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"go/parser"
	"go/token"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"seagent/internal/logging"
)

// ErrTimeout indicates execution exceeded the configured limit.
var ErrTimeout = errors.New("sandbox execution timed out")

// allowedImports is the closed set of packages generated tools may use.
// Everything here is pure computation.
var allowedImports = map[string]bool{
	"fmt":           true,
	"strings":       true,
	"strconv":       true,
	"math":          true,
	"sort":          true,
	"unicode":       true,
	"regexp":        true,
	"encoding/json": true,
	"errors":        true,
	"time":          true,
	"bytes":         true,
}

// TestResult is the outcome of one embedded test function.
type TestResult struct {
	Name     string        `json:"name"`
	Passed   bool          `json:"passed"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Result is the outcome of a sandbox run. ExitCode is 0 on success, 1
// when the tool or a test reported an error, and -1 on interpreter or
// timeout failures.
type Result struct {
	Success       bool          `json:"success"`
	ExitCode      int           `json:"exit_code"`
	Output        string        `json:"output"`
	Stdout        string        `json:"stdout"`
	Stderr        string        `json:"stderr"`
	TestResults   []TestResult  `json:"test_results,omitempty"`
	ExecutionTime time.Duration `json:"execution_time"`
	Error         string        `json:"error,omitempty"`
}

// Config tunes the sandbox.
type Config struct {
	Timeout time.Duration
}

// DefaultConfig returns sandbox defaults.
func DefaultConfig() Config {
	return Config{Timeout: 30 * time.Second}
}

// Executor runs tool code in a fresh interpreter per call.
type Executor struct {
	config Config
}

// New creates an Executor.
func New(config Config) *Executor {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &Executor{config: config}
}

// Run evaluates the tool source and invokes RunTool with the given
// input.
func (e *Executor) Run(ctx context.Context, code, input string) *Result {
	timer := logging.StartTimer(logging.CategorySandbox, "Run")
	defer timer.Stop()

	start := time.Now()
	result := &Result{ExitCode: -1}
	defer func() { result.ExecutionTime = time.Since(start) }()

	if err := CheckImports(code); err != nil {
		result.Error = err.Error()
		return result
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	i, stdout, stderr, err := e.evalSource(ctx, code)
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()
	if err != nil {
		result.Error = fmt.Sprintf("interpreter error: %v", err)
		return result
	}

	fn, err := lookupRunTool(i)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	output, toolErr, err := callWithDeadline(ctx, func() (string, error) { return fn(input) })
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()
	if err != nil {
		result.Error = err.Error()
		return result
	}

	result.Output = output
	if toolErr != nil {
		result.ExitCode = 1
		result.Error = toolErr.Error()
		return result
	}

	result.Success = true
	result.ExitCode = 0
	return result
}

// RunTests evaluates the tool source and runs every TestXxx function it
// declares. Tests are func() error; nil means pass.
func (e *Executor) RunTests(ctx context.Context, code string) *Result {
	timer := logging.StartTimer(logging.CategorySandbox, "RunTests")
	defer timer.Stop()

	start := time.Now()
	result := &Result{ExitCode: -1}
	defer func() { result.ExecutionTime = time.Since(start) }()

	if err := CheckImports(code); err != nil {
		result.Error = err.Error()
		return result
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	i, stdout, stderr, err := e.evalSource(ctx, code)
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()
	if err != nil {
		result.Error = fmt.Sprintf("interpreter error: %v", err)
		return result
	}

	tests := discoverTests(i)
	if len(tests) == 0 {
		result.Error = "no test functions found"
		return result
	}

	failed := 0
	for _, name := range tests {
		fn, err := lookupTest(i, name)
		if err != nil {
			result.Error = err.Error()
			return result
		}

		testStart := time.Now()
		_, testErr, err := callWithDeadline(ctx, func() (string, error) { return "", fn() })
		tr := TestResult{Name: name, Duration: time.Since(testStart)}
		if err != nil {
			result.TestResults = append(result.TestResults, TestResult{Name: name, Error: err.Error()})
			result.Error = err.Error()
			result.Stdout = stdout.String()
			result.Stderr = stderr.String()
			return result
		}
		if testErr != nil {
			tr.Error = testErr.Error()
			failed++
		} else {
			tr.Passed = true
		}
		result.TestResults = append(result.TestResults, tr)
	}

	result.Stdout = stdout.String()
	result.Stderr = stderr.String()
	result.Output = summarizeTests(result.TestResults)

	if failed > 0 {
		result.ExitCode = 1
		result.Error = fmt.Sprintf("%d of %d tests failed", failed, len(tests))
		return result
	}

	result.Success = true
	result.ExitCode = 0
	logging.SandboxDebug("All %d tests passed", len(tests))
	return result
}

// evalSource builds a fresh interpreter and evaluates the tool source.
func (e *Executor) evalSource(ctx context.Context, code string) (*interp.Interpreter, *strings.Builder, *strings.Builder, error) {
	var stdout, stderr strings.Builder
	i := interp.New(interp.Options{Stdout: &stdout, Stderr: &stderr})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, &stdout, &stderr, fmt.Errorf("failed to load stdlib symbols: %w", err)
	}
	if _, err := i.EvalWithContext(ctx, code); err != nil {
		return nil, &stdout, &stderr, err
	}
	return i, &stdout, &stderr, nil
}

func lookupRunTool(i *interp.Interpreter) (func(string) (string, error), error) {
	v, err := i.Eval("RunTool")
	if err != nil {
		return nil, fmt.Errorf("RunTool not found: %w", err)
	}
	fn, ok := v.Interface().(func(string) (string, error))
	if !ok {
		return nil, fmt.Errorf("RunTool has wrong signature %T, want func(string) (string, error)", v.Interface())
	}
	return fn, nil
}

func lookupTest(i *interp.Interpreter, name string) (func() error, error) {
	v, err := i.Eval(name)
	if err != nil {
		return nil, fmt.Errorf("test %s not found: %w", name, err)
	}
	fn, ok := v.Interface().(func() error)
	if !ok {
		return nil, fmt.Errorf("test %s has wrong signature %T, want func() error", name, v.Interface())
	}
	return fn, nil
}

// discoverTests lists declared TestXxx functions in stable order.
func discoverTests(i *interp.Interpreter) []string {
	var names []string
	for _, symbols := range i.Symbols("main") {
		for name, v := range symbols {
			if !strings.HasPrefix(name, "Test") || len(name) == len("Test") {
				continue
			}
			if _, ok := v.Interface().(func() error); ok {
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names
}

// callWithDeadline invokes fn in a goroutine so a hung tool cannot hang
// the pipeline. The abandoned goroutine keeps running until the tool
// returns; the interpreter holds no external resources so that is safe.
func callWithDeadline(ctx context.Context, fn func() (string, error)) (string, error, error) {
	type outcome struct {
		output string
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		output, err := fn()
		done <- outcome{output: output, err: err}
	}()

	select {
	case o := <-done:
		return o.output, o.err, nil
	case <-ctx.Done():
		return "", nil, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
	}
}

// CheckImports rejects source that imports anything outside the
// allowlist.
func CheckImports(code string) error {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "tool.go", code, parser.ImportsOnly)
	if err != nil {
		return fmt.Errorf("failed to parse tool source: %w", err)
	}

	for _, imp := range file.Imports {
		path, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			return fmt.Errorf("malformed import %s", imp.Path.Value)
		}
		if !allowedImports[path] {
			return fmt.Errorf("import %q is not allowed in sandboxed tools", path)
		}
	}
	return nil
}

// AllowedImports returns the sandbox import allowlist in sorted order.
func AllowedImports() []string {
	out := make([]string, 0, len(allowedImports))
	for path := range allowedImports {
		out = append(out, path)
	}
	sort.Strings(out)
	return out
}

func summarizeTests(results []TestResult) string {
	var b strings.Builder
	for _, tr := range results {
		if tr.Passed {
			fmt.Fprintf(&b, "PASS %s (%v)\n", tr.Name, tr.Duration.Round(time.Microsecond))
		} else {
			fmt.Fprintf(&b, "FAIL %s: %s\n", tr.Name, tr.Error)
		}
	}
	return b.String()
}
