package embedding

import (
	"context"
	"math"
	"path/filepath"
	"testing"
)

// fakeEngine hands out canned vectors keyed by text.
type fakeEngine struct {
	vectors map[string][]float32
}

func (f *fakeEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	v, ok := f.vectors[text]
	if !ok {
		return []float32{0, 0, 1}, nil
	}
	return v, nil
}

func (f *fakeEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = f.Embed(ctx, t)
	}
	return out, nil
}

func (f *fakeEngine) Dimensions() int { return 3 }
func (f *fakeEngine) Name() string    { return "fake" }
func (f *fakeEngine) Close() error    { return nil }

func newTestIndex(t *testing.T, engine Engine) *SpecIndex {
	t.Helper()
	idx, err := NewSpecIndex(engine, filepath.Join(t.TempDir(), "specs.db"), 0.92)
	if err != nil {
		t.Fatalf("NewSpecIndex failed: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestFindDuplicateAboveThreshold(t *testing.T) {
	engine := &fakeEngine{vectors: map[string][]float32{
		"reverse a string":  {1, 0, 0},
		"reverses a string": {0.99, 0.01, 0},
		"sum two integers":  {0, 1, 0},
	}}
	idx := newTestIndex(t, engine)
	ctx := context.Background()

	if err := idx.Add(ctx, "reverse_string", "reverse a string"); err != nil {
		t.Fatal(err)
	}
	if err := idx.Add(ctx, "sum_ints", "sum two integers"); err != nil {
		t.Fatal(err)
	}

	match, err := idx.FindDuplicate(ctx, "reverses a string")
	if err != nil {
		t.Fatalf("FindDuplicate failed: %v", err)
	}
	if match == nil || match.Name != "reverse_string" {
		t.Fatalf("match = %+v", match)
	}
	if match.Similarity < 0.92 {
		t.Errorf("Similarity = %.3f", match.Similarity)
	}

	// Orthogonal spec is not a duplicate
	match, err = idx.FindDuplicate(ctx, "something else entirely")
	if err != nil {
		t.Fatal(err)
	}
	if match != nil {
		t.Errorf("Unexpected match %+v", match)
	}
}

func TestNilEngineDisablesDedup(t *testing.T) {
	idx := newTestIndex(t, nil)
	ctx := context.Background()

	if err := idx.Add(ctx, "anything", "some spec"); err != nil {
		t.Fatal(err)
	}
	match, err := idx.FindDuplicate(ctx, "some spec")
	if err != nil || match != nil {
		t.Errorf("match = %+v, err = %v", match, err)
	}
	n, err := idx.Count()
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("Nil engine should index nothing, count = %d", n)
	}
}

func TestAddUpsertsByName(t *testing.T) {
	engine := &fakeEngine{vectors: map[string][]float32{
		"v1": {1, 0, 0},
		"v2": {0, 1, 0},
	}}
	idx := newTestIndex(t, engine)
	ctx := context.Background()

	idx.Add(ctx, "tool", "v1")
	idx.Add(ctx, "tool", "v2")

	n, err := idx.Count()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}

	match, err := idx.FindDuplicate(ctx, "v2")
	if err != nil {
		t.Fatal(err)
	}
	if match == nil || match.Similarity < 0.999 {
		t.Errorf("match = %+v", match)
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"length mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("CosineSimilarity = %v, want %v", got, tt.want)
			}
		})
	}
}
