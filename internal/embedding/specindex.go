package embedding

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"seagent/internal/logging"
)

// DefaultDuplicateThreshold marks two specs as duplicates at or above
// this cosine similarity.
const DefaultDuplicateThreshold = 0.92

// Match is a near-duplicate hit in the index.
type Match struct {
	Name       string  `json:"name"`
	Similarity float64 `json:"similarity"`
}

// SpecIndex remembers embeddings of tool specs so the pipeline can skip
// regenerating near-duplicates. A nil engine disables deduplication
// entirely: every lookup reports no match.
type SpecIndex struct {
	engine    Engine
	db        *sql.DB
	threshold float64
	mu        sync.Mutex
}

// NewSpecIndex opens the index database. threshold <= 0 selects the
// default.
func NewSpecIndex(engine Engine, dbPath string, threshold float64) (*SpecIndex, error) {
	if threshold <= 0 {
		threshold = DefaultDuplicateThreshold
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	db, err := sql.Open(driverName, dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open spec index: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS spec_vectors (
		name TEXT PRIMARY KEY,
		spec_text TEXT NOT NULL,
		vector BLOB NOT NULL
	);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure spec index schema: %w", err)
	}

	logging.Embedding("Spec index opened at %s (threshold=%.2f, engine=%v)", dbPath, threshold, engine != nil)
	return &SpecIndex{engine: engine, db: db, threshold: threshold}, nil
}

// FindDuplicate embeds the spec text and returns the closest indexed
// spec at or above the threshold, or nil if none. With no engine it
// always returns nil.
func (idx *SpecIndex) FindDuplicate(ctx context.Context, specText string) (*Match, error) {
	if idx.engine == nil {
		return nil, nil
	}

	vector, err := idx.engine.Embed(ctx, specText)
	if err != nil {
		return nil, fmt.Errorf("failed to embed spec: %w", err)
	}
	return idx.findNearest(vector)
}

// Add embeds and indexes a spec under the given tool name. With no
// engine it is a no-op.
func (idx *SpecIndex) Add(ctx context.Context, name, specText string) error {
	if idx.engine == nil {
		return nil
	}

	vector, err := idx.engine.Embed(ctx, specText)
	if err != nil {
		return fmt.Errorf("failed to embed spec: %w", err)
	}

	blob, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("failed to encode vector: %w", err)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	_, err = idx.db.Exec(`
		INSERT INTO spec_vectors (name, spec_text, vector) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET spec_text = excluded.spec_text, vector = excluded.vector`,
		name, specText, blob)
	if err != nil {
		return fmt.Errorf("failed to index spec %s: %w", name, err)
	}

	logging.EmbeddingDebug("Indexed spec %s (%d dims)", name, len(vector))
	return nil
}

// findNearest scans all indexed vectors for the best cosine match. The
// index holds at most a few hundred specs, a linear scan is fine.
func (idx *SpecIndex) findNearest(vector []float32) (*Match, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	rows, err := idx.db.Query("SELECT name, vector FROM spec_vectors")
	if err != nil {
		return nil, fmt.Errorf("failed to scan spec index: %w", err)
	}
	defer rows.Close()

	var best *Match
	for rows.Next() {
		var name string
		var blob []byte
		if err := rows.Scan(&name, &blob); err != nil {
			continue
		}
		var candidate []float32
		if err := json.Unmarshal(blob, &candidate); err != nil {
			continue
		}

		sim := CosineSimilarity(vector, candidate)
		if sim >= idx.threshold && (best == nil || sim > best.Similarity) {
			best = &Match{Name: name, Similarity: sim}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return best, nil
}

// Count returns the number of indexed specs.
func (idx *SpecIndex) Count() (int, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var n int
	err := idx.db.QueryRow("SELECT COUNT(*) FROM spec_vectors").Scan(&n)
	return n, err
}

// Close closes the index database.
func (idx *SpecIndex) Close() error {
	return idx.db.Close()
}
