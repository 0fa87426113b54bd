package sandbox

import (
	"context"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const doublerTool = `package main

import (
	"fmt"
	"strconv"
	"strings"
)

func RunTool(input string) (string, error) {
	n, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil {
		return "", fmt.Errorf("input must be an integer: %w", err)
	}
	return strconv.Itoa(n * 2), nil
}

func TestDouble() error {
	out, err := RunTool("21")
	if err != nil {
		return err
	}
	if out != "42" {
		return fmt.Errorf("RunTool(21) = %s, want 42", out)
	}
	return nil
}

func TestRejectsGarbage() error {
	if _, err := RunTool("not a number"); err == nil {
		return fmt.Errorf("expected error for garbage input")
	}
	return nil
}
`

func TestRunExecutesTool(t *testing.T) {
	e := New(DefaultConfig())

	result := e.Run(context.Background(), doublerTool, "21")
	if !result.Success || result.ExitCode != 0 {
		t.Fatalf("Run failed: %+v", result)
	}
	if result.Output != "42" {
		t.Errorf("Output = %q", result.Output)
	}
}

func TestRunToolErrorGivesExitCodeOne(t *testing.T) {
	e := New(DefaultConfig())

	result := e.Run(context.Background(), doublerTool, "banana")
	if result.Success {
		t.Error("Tool error should not be success")
	}
	if result.ExitCode != 1 {
		t.Errorf("ExitCode = %d, want 1", result.ExitCode)
	}
	if !strings.Contains(result.Error, "integer") {
		t.Errorf("Error = %q", result.Error)
	}
}

func TestRunRejectsDisallowedImport(t *testing.T) {
	e := New(DefaultConfig())
	code := `package main

import "os"

func RunTool(input string) (string, error) {
	return os.Getenv("HOME"), nil
}
`
	result := e.Run(context.Background(), code, "")
	if result.ExitCode != -1 {
		t.Errorf("ExitCode = %d, want -1", result.ExitCode)
	}
	if !strings.Contains(result.Error, "not allowed") {
		t.Errorf("Error = %q", result.Error)
	}
}

func TestRunBrokenSource(t *testing.T) {
	e := New(DefaultConfig())

	result := e.Run(context.Background(), "package main\n\nfunc RunTool(", "")
	if result.ExitCode != -1 || result.Error == "" {
		t.Errorf("result = %+v", result)
	}
}

func TestRunMissingRunTool(t *testing.T) {
	e := New(DefaultConfig())

	result := e.Run(context.Background(), "package main\n\nfunc Other() {}\n", "")
	if result.ExitCode != -1 {
		t.Errorf("ExitCode = %d", result.ExitCode)
	}
	if !strings.Contains(result.Error, "RunTool") {
		t.Errorf("Error = %q", result.Error)
	}
}

func TestRunToolPanicIsCaught(t *testing.T) {
	e := New(DefaultConfig())
	code := `package main

func RunTool(input string) (string, error) {
	var xs []string
	return xs[3], nil
}
`
	result := e.Run(context.Background(), code, "")
	if result.Success {
		t.Error("Panicking tool must not succeed")
	}
	if result.ExitCode != -1 {
		t.Errorf("ExitCode = %d", result.ExitCode)
	}
}

func TestRunTimeout(t *testing.T) {
	e := New(Config{Timeout: 50 * time.Millisecond})
	code := `package main

import "time"

func RunTool(input string) (string, error) {
	time.Sleep(300 * time.Millisecond)
	return "done", nil
}
`
	result := e.Run(context.Background(), code, "")
	if result.Success {
		t.Error("Timed out tool must not succeed")
	}
	if result.ExitCode != -1 {
		t.Errorf("ExitCode = %d, want -1", result.ExitCode)
	}
	if !strings.Contains(result.Error, "timed out") {
		t.Errorf("Error = %q", result.Error)
	}
	// Let the abandoned tool goroutine finish before goleak checks.
	time.Sleep(350 * time.Millisecond)
}

func TestRunTestsAllPass(t *testing.T) {
	e := New(DefaultConfig())

	result := e.RunTests(context.Background(), doublerTool)
	if !result.Success || result.ExitCode != 0 {
		t.Fatalf("RunTests failed: %+v", result)
	}
	if len(result.TestResults) != 2 {
		t.Fatalf("Expected 2 test results, got %d", len(result.TestResults))
	}
	for _, tr := range result.TestResults {
		if !tr.Passed {
			t.Errorf("Test %s failed: %s", tr.Name, tr.Error)
		}
	}
	if !strings.Contains(result.Output, "PASS TestDouble") {
		t.Errorf("Output = %q", result.Output)
	}
}

func TestRunTestsReportsFailure(t *testing.T) {
	e := New(DefaultConfig())
	code := `package main

import "fmt"

func RunTool(input string) (string, error) {
	return input, nil
}

func TestAlwaysFails() error {
	return fmt.Errorf("intentional failure")
}

func TestPasses() error {
	return nil
}
`
	result := e.RunTests(context.Background(), code)
	if result.Success {
		t.Error("Failing test must not be success")
	}
	if result.ExitCode != 1 {
		t.Errorf("ExitCode = %d, want 1", result.ExitCode)
	}
	if !strings.Contains(result.Error, "1 of 2 tests failed") {
		t.Errorf("Error = %q", result.Error)
	}
	if !strings.Contains(result.Output, "FAIL TestAlwaysFails: intentional failure") {
		t.Errorf("Output = %q", result.Output)
	}
}

func TestRunTestsNoTests(t *testing.T) {
	e := New(DefaultConfig())

	result := e.RunTests(context.Background(), "package main\n\nfunc RunTool(input string) (string, error) { return input, nil }\n")
	if result.ExitCode != -1 {
		t.Errorf("ExitCode = %d", result.ExitCode)
	}
	if !strings.Contains(result.Error, "no test functions") {
		t.Errorf("Error = %q", result.Error)
	}
}

func TestCheckImports(t *testing.T) {
	tests := []struct {
		name    string
		imports string
		wantErr bool
	}{
		{"allowed", `import ("fmt"; "strings"; "encoding/json")`, false},
		{"network", `import "net/http"`, true},
		{"filesystem", `import "os"`, true},
		{"exec", `import "os/exec"`, true},
		{"none", ``, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code := "package main\n\n" + tt.imports + "\n"
			err := CheckImports(code)
			if (err != nil) != tt.wantErr {
				t.Errorf("CheckImports err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
