package dataset

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "problems.yaml", `
- id: p1
  question: What is 2+2?
  category: math
- question: Why is the sky blue?
`)

	problems, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(problems) != 2 {
		t.Fatalf("Expected 2 problems, got %d", len(problems))
	}
	if problems[0].ID != "p1" || problems[0].Category != "math" {
		t.Errorf("problems[0] = %+v", problems[0])
	}
	if problems[1].ID != "problem_2" {
		t.Errorf("Missing ID should be assigned, got %q", problems[1].ID)
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "problems.json", `[{"id":"j1","question":"Define entropy."}]`)

	problems, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(problems) != 1 || problems[0].ID != "j1" {
		t.Errorf("problems = %+v", problems)
	}
}

func TestLoadEmptyDataset(t *testing.T) {
	path := writeFile(t, "empty.yaml", "[]\n")

	if _, err := Load(path); !errors.Is(err, ErrEmptyDataset) {
		t.Errorf("Expected ErrEmptyDataset, got %v", err)
	}
}

func TestLoadRejectsEmptyQuestion(t *testing.T) {
	path := writeFile(t, "bad.yaml", "- id: p1\n  question: \"   \"\n")

	if _, err := Load(path); err == nil {
		t.Error("Expected error for empty question")
	}
}

func TestSampleDeterministic(t *testing.T) {
	problems := Default()

	a := Sample(problems, 3, 42)
	b := Sample(problems, 3, 42)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("Same seed produced different samples:\n%s", diff)
	}
	if len(a) != 3 {
		t.Errorf("Sample size = %d", len(a))
	}

	seen := map[string]bool{}
	for _, p := range a {
		if seen[p.ID] {
			t.Errorf("Duplicate problem %s in sample", p.ID)
		}
		seen[p.ID] = true
	}
}

func TestSampleLargerThanSet(t *testing.T) {
	problems := Default()

	got := Sample(problems, 100, 1)
	if len(got) != len(problems) {
		t.Errorf("Expected full set, got %d", len(got))
	}

	got[0].Question = "mutated"
	if problems[0].Question == "mutated" {
		t.Error("Sample should copy, not alias")
	}
}
