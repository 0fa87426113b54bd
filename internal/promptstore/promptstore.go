// Package promptstore persists system prompt versions produced by the
// critic-tuner cycle.
package promptstore

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"seagent/internal/logging"
)

// ErrNoVersions indicates the store holds no prompt yet.
var ErrNoVersions = errors.New("no prompt versions stored")

// Version is one saved prompt revision. Versions are strictly monotonic,
// starting at 1.
type Version struct {
	Version        int       `json:"version"`
	Prompt         string    `json:"prompt"`
	AvgScore       float64   `json:"avg_score"`
	ChangesSummary string    `json:"changes_summary"`
	CreatedAt      time.Time `json:"created_at"`
}

// Store persists prompt versions in SQLite and writes timestamped
// snapshot files alongside.
type Store struct {
	db          *sql.DB
	mu          sync.Mutex
	snapshotDir string
}

// NewStore opens the prompt version database. snapshotDir may be empty to
// disable snapshot files.
func NewStore(dbPath, snapshotDir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open prompt database: %w", err)
	}

	store := &Store{db: db, snapshotDir: snapshotDir}
	if err := store.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure prompt schema: %w", err)
	}

	logging.Store("Prompt store initialized at %s", dbPath)
	return store, nil
}

func (s *Store) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS prompt_versions (
		version INTEGER PRIMARY KEY,
		prompt TEXT NOT NULL,
		avg_score REAL,
		changes_summary TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Seed stores the initial prompt as version 1 if the store is empty.
func (s *Store) Seed(prompt string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM prompt_versions").Scan(&count); err != nil {
		return fmt.Errorf("failed to count versions: %w", err)
	}
	if count > 0 {
		return nil
	}

	_, err := s.db.Exec(`
		INSERT INTO prompt_versions (version, prompt, avg_score, changes_summary, created_at)
		VALUES (1, ?, 0, 'Initial prompt', ?)`, prompt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to seed prompt: %w", err)
	}

	logging.Store("Seeded prompt store with initial version")
	return nil
}

// Save appends a new prompt version and writes a snapshot file.
// Returns the assigned version number.
func (s *Store) Save(prompt string, avgScore float64, changesSummary string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var maxVersion sql.NullInt64
	if err := s.db.QueryRow("SELECT MAX(version) FROM prompt_versions").Scan(&maxVersion); err != nil {
		return 0, fmt.Errorf("failed to read max version: %w", err)
	}

	next := 1
	if maxVersion.Valid {
		next = int(maxVersion.Int64) + 1
	}

	now := time.Now().UTC()
	_, err := s.db.Exec(`
		INSERT INTO prompt_versions (version, prompt, avg_score, changes_summary, created_at)
		VALUES (?, ?, ?, ?, ?)`, next, prompt, avgScore, changesSummary, now)
	if err != nil {
		return 0, fmt.Errorf("failed to save prompt version: %w", err)
	}

	if s.snapshotDir != "" {
		if err := s.writeSnapshot(prompt, now); err != nil {
			logging.Get(logging.CategoryStore).Error("Failed to write prompt snapshot: %v", err)
		}
	}

	logging.Store("Saved prompt version %d (score=%.3f)", next, avgScore)
	return next, nil
}

// writeSnapshot writes the prompt to a timestamped file for inspection.
func (s *Store) writeSnapshot(prompt string, now time.Time) error {
	if err := os.MkdirAll(s.snapshotDir, 0755); err != nil {
		return err
	}
	name := fmt.Sprintf("sea_solver_evolved_%s.txt", now.Format("20060102_150405"))
	return os.WriteFile(filepath.Join(s.snapshotDir, name), []byte(prompt), 0644)
}

// Current returns the latest prompt version.
func (s *Store) Current() (*Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`
		SELECT version, prompt, avg_score, changes_summary, created_at
		FROM prompt_versions
		ORDER BY version DESC
		LIMIT 1`)

	v, err := scanVersion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoVersions
		}
		return nil, fmt.Errorf("failed to load current prompt: %w", err)
	}
	return v, nil
}

// History returns all versions in ascending order.
func (s *Store) History() ([]Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT version, prompt, avg_score, changes_summary, created_at
		FROM prompt_versions
		ORDER BY version ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	defer rows.Close()

	var versions []Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			continue
		}
		versions = append(versions, *v)
	}
	return versions, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVersion(row rowScanner) (*Version, error) {
	var v Version
	var score sql.NullFloat64
	var summary sql.NullString

	if err := row.Scan(&v.Version, &v.Prompt, &score, &summary, &v.CreatedAt); err != nil {
		return nil, err
	}
	if score.Valid {
		v.AvgScore = score.Float64
	}
	if summary.Valid {
		v.ChangesSummary = summary.String
	}
	return &v, nil
}
