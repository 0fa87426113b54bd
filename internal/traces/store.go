package traces

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"seagent/internal/logging"
)

// ErrNotFound indicates no trace exists with the requested ID.
var ErrNotFound = errors.New("trace not found")

// Store persists solver traces in SQLite.
// Thread-safe with a read-write mutex; implements Fetcher.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// Stats summarizes the trace corpus.
type Stats struct {
	TotalTraces   int64            `json:"total_traces"`
	SuccessRate   float64          `json:"success_rate"`
	AvgSteps      float64          `json:"avg_steps"`
	AvgDurationMs float64          `json:"avg_duration_ms"`
	ByOpName      map[string]int64 `json:"by_op_name"`
}

// NewStore opens (or creates) the trace database at the given path.
func NewStore(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewStore")
	defer timer.Stop()

	logging.Store("Initializing trace store at path: %s", path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace database: %w", err)
	}

	store := &Store{db: db, dbPath: path}
	if err := store.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure trace schema: %w", err)
	}

	return store, nil
}

// ensureSchema creates the traces table if it doesn't exist.
func (s *Store) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS solver_traces (
		id TEXT PRIMARY KEY,
		op_name TEXT NOT NULL,
		problem TEXT NOT NULL,
		solution TEXT NOT NULL,
		execution_flow TEXT,
		tools_used TEXT,
		steps INTEGER NOT NULL DEFAULT 0,
		success BOOLEAN NOT NULL,
		duration_ms INTEGER,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_solver_traces_op ON solver_traces(op_name);
	CREATE INDEX IF NOT EXISTS idx_solver_traces_created ON solver_traces(created_at);
	CREATE INDEX IF NOT EXISTS idx_solver_traces_success ON solver_traces(success);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Save persists a trace. Invalid traces are dropped with a log entry and
// a nil error; dropping is not a failure.
func (s *Store) Save(trace Trace) error {
	if !trace.Valid() {
		logging.Traces("Dropping invalid trace: id=%q problem_len=%d", trace.ID, len(trace.Problem))
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	flowJSON, _ := json.Marshal(trace.ExecutionFlow)
	toolsJSON, _ := json.Marshal(trace.ToolsUsed)

	if trace.CreatedAt.IsZero() {
		trace.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO solver_traces
		(id, op_name, problem, solution, execution_flow, tools_used, steps, success, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		trace.ID, trace.OpName, trace.Problem, trace.Solution,
		string(flowJSON), string(toolsJSON), trace.Steps, trace.Success,
		trace.DurationMs, trace.CreatedAt,
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to store trace %s: %v", trace.ID, err)
		return fmt.Errorf("failed to store trace: %w", err)
	}

	logging.StoreDebug("Stored trace: id=%s op=%s success=%v", trace.ID, trace.OpName, trace.Success)
	return nil
}

// Fetch returns up to n valid traces, most recent first. With a non-empty
// opFilter it scans up to n*10 recent traces and keeps those whose op
// name contains the filter case-insensitively. Failures return a non-nil
// error; an empty result with a nil error means there are no traces.
func (s *Store) Fetch(ctx context.Context, n int, opFilter string) ([]Trace, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Fetch")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 {
		n = 50
	}

	fetchLimit := n
	if opFilter != "" {
		fetchLimit = n * 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, op_name, problem, solution, execution_flow, tools_used, steps, success, duration_ms, created_at
		FROM solver_traces
		ORDER BY created_at DESC
		LIMIT ?`, fetchLimit)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to fetch traces: %v", err)
		return nil, fmt.Errorf("failed to fetch traces: %w", err)
	}
	defer rows.Close()

	filter := strings.ToLower(opFilter)
	result := make([]Trace, 0, n)
	for rows.Next() {
		t, err := scanTrace(rows)
		if err != nil {
			continue
		}
		if filter != "" && !strings.Contains(strings.ToLower(t.OpName), filter) {
			continue
		}
		if !t.Valid() {
			logging.TracesDebug("Skipping invalid stored trace: %s", t.ID)
			continue
		}
		result = append(result, t)
		if len(result) >= n {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan traces: %w", err)
	}

	logging.TracesDebug("Fetched %d traces (filter=%q)", len(result), opFilter)
	return result, nil
}

// GetByID retrieves a single trace.
func (s *Store) GetByID(ctx context.Context, id string) (*Trace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, op_name, problem, solution, execution_flow, tools_used, steps, success, duration_ms, created_at
		FROM solver_traces
		WHERE id = ?`, id)

	t, err := scanTrace(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to load trace: %w", err)
	}
	return &t, nil
}

// Stats returns aggregate statistics over the trace corpus.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Stats")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &Stats{ByOpName: make(map[string]int64)}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM solver_traces").Scan(&stats.TotalTraces); err != nil {
		return nil, fmt.Errorf("failed to count traces: %w", err)
	}

	if stats.TotalTraces > 0 {
		var successCount int64
		s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM solver_traces WHERE success = 1").Scan(&successCount)
		stats.SuccessRate = float64(successCount) / float64(stats.TotalTraces)

		s.db.QueryRowContext(ctx, "SELECT AVG(steps) FROM solver_traces").Scan(&stats.AvgSteps)
		s.db.QueryRowContext(ctx, "SELECT AVG(duration_ms) FROM solver_traces").Scan(&stats.AvgDurationMs)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT op_name, COUNT(*) FROM solver_traces GROUP BY op_name")
	if err == nil {
		defer rows.Close()
		for rows.Next() {
			var op string
			var count int64
			if rows.Scan(&op, &count) == nil {
				stats.ByOpName[op] = count
			}
		}
	}

	return stats, nil
}

// Cleanup removes traces older than the retention period.
// Returns the number of traces deleted.
func (s *Store) Cleanup(retentionDays int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if retentionDays <= 0 {
		return 0, fmt.Errorf("retention days must be positive")
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	result, err := s.db.Exec("DELETE FROM solver_traces WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup traces: %w", err)
	}

	deleted, _ := result.RowsAffected()
	logging.Store("Cleaned up %d old traces (retention=%d days)", deleted, retentionDays)
	return deleted, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrace(row rowScanner) (Trace, error) {
	var t Trace
	var flowJSON, toolsJSON sql.NullString
	var durationMs sql.NullInt64

	err := row.Scan(&t.ID, &t.OpName, &t.Problem, &t.Solution,
		&flowJSON, &toolsJSON, &t.Steps, &t.Success, &durationMs, &t.CreatedAt)
	if err != nil {
		return t, err
	}

	if flowJSON.Valid && flowJSON.String != "" {
		json.Unmarshal([]byte(flowJSON.String), &t.ExecutionFlow)
	}
	if toolsJSON.Valid && toolsJSON.String != "" {
		json.Unmarshal([]byte(toolsJSON.String), &t.ToolsUsed)
	}
	if durationMs.Valid {
		t.DurationMs = durationMs.Int64
	}

	return t, nil
}
