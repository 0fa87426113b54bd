package promptstore

import (
	"errors"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := NewStore(filepath.Join(dir, "prompts.db"), filepath.Join(dir, "prompts"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, dir
}

func TestCurrentOnEmptyStore(t *testing.T) {
	store, _ := newTestStore(t)

	if _, err := store.Current(); !errors.Is(err, ErrNoVersions) {
		t.Errorf("Expected ErrNoVersions, got %v", err)
	}
}

func TestSeedSetsVersionOne(t *testing.T) {
	store, _ := newTestStore(t)

	if err := store.Seed("the initial prompt"); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}

	current, err := store.Current()
	if err != nil {
		t.Fatalf("Current failed: %v", err)
	}
	if current.Version != 1 || current.Prompt != "the initial prompt" {
		t.Errorf("Seeded version = %+v", current)
	}

	// Seeding twice is a no-op
	if err := store.Seed("another prompt"); err != nil {
		t.Fatalf("Second Seed failed: %v", err)
	}
	current, _ = store.Current()
	if current.Prompt != "the initial prompt" {
		t.Error("Second Seed should not overwrite")
	}
}

func TestSaveMonotonicVersions(t *testing.T) {
	store, dir := newTestStore(t)

	store.Seed("v1 prompt")

	v2, err := store.Save("v2 prompt", 0.7, "Applied 2 suggestions: a, b")
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	v3, err := store.Save("v3 prompt", 0.8, "Applied 1 suggestions: c")
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if v2 != 2 || v3 != 3 {
		t.Errorf("Versions not monotonic: got %d, %d", v2, v3)
	}

	current, err := store.Current()
	if err != nil {
		t.Fatal(err)
	}
	if current.Version != 3 || current.Prompt != "v3 prompt" || current.AvgScore != 0.8 {
		t.Errorf("Current = %+v", current)
	}

	history, err := store.History()
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 3 {
		t.Fatalf("Expected 3 versions, got %d", len(history))
	}
	for i, v := range history {
		if v.Version != i+1 {
			t.Errorf("History[%d].Version = %d", i, v.Version)
		}
	}

	// Snapshot files written for Save (not for Seed)
	matches, _ := filepath.Glob(filepath.Join(dir, "prompts", "sea_solver_evolved_*.txt"))
	if len(matches) != 2 {
		t.Errorf("Expected 2 snapshot files, got %d", len(matches))
	}
}

func TestSaveWithoutSeedStartsAtOne(t *testing.T) {
	store, _ := newTestStore(t)

	v, err := store.Save("first prompt", 0.5, "bootstrap")
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if v != 1 {
		t.Errorf("First saved version = %d, want 1", v)
	}
}
