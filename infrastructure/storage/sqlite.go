// Package storage archives generated ranking batches and experiment results
// in a SQLite database so sweeps can be inspected or re-fitted later.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ahrav/go-consensus/internal/domain"
	"github.com/ahrav/go-consensus/internal/ports"
)

// Verify interface compliance at compile time.
var _ ports.BatchStore = (*SQLiteStore)(nil)

const createTablesSQL = `
CREATE TABLE IF NOT EXISTS batches (
	id TEXT PRIMARY KEY,
	items TEXT NOT NULL,
	rows TEXT NOT NULL,
	assessors INTEGER NOT NULL,
	sealed INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS cell_results (
	experiment TEXT NOT NULL,
	metric TEXT NOT NULL,
	assessors INTEGER NOT NULL,
	batch_id TEXT,
	payload TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (experiment, metric, assessors)
);
`

// SQLiteStore implements ports.BatchStore on top of a pure-Go SQLite driver.
// Batches are stored as JSON item labels plus JSON rows; cell results are
// stored as a JSON document keyed by (experiment, metric, assessors).
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens the SQLite database at path, creates tables if they
// don't exist, and returns a store. Use ":memory:" for a private in-memory
// database. The store uses a single connection, so concurrent callers are
// serialized.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}
	// A single connection keeps ":memory:" databases alive and serializes writers.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("storage: %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(createTablesSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: create tables: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveBatch stores the batch under id, replacing any existing batch.
func (s *SQLiteStore) SaveBatch(ctx context.Context, id string, batch *domain.RankingBatch) error {
	if id == "" || batch == nil {
		return ports.NewStoreError(id, "save_batch",
			fmt.Errorf("%w: batch id and batch are required", domain.ErrInvalidConfiguration))
	}

	items, err := json.Marshal(batch.Items().Labels())
	if err != nil {
		return ports.NewStoreError(id, "save_batch", err)
	}
	rows, err := json.Marshal(batch.Rows())
	if err != nil {
		return ports.NewStoreError(id, "save_batch", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO batches (id, items, rows, assessors, sealed, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, string(items), string(rows), batch.Len(), batch.Sealed(), s.now().Unix(),
	)
	if err != nil {
		return ports.NewStoreError(id, "save_batch", err)
	}
	return nil
}

// LoadBatch rebuilds the batch stored under id. Rows are validated again
// on load. A missing id yields a *ports.StoreError wrapping
// ports.ErrBatchNotFound.
func (s *SQLiteStore) LoadBatch(ctx context.Context, id string) (*domain.RankingBatch, error) {
	var (
		itemsJSON, rowsJSON string
		sealed              bool
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT items, rows, sealed FROM batches WHERE id = ?`, id,
	).Scan(&itemsJSON, &rowsJSON, &sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ports.NewStoreError(id, "load_batch", ports.ErrBatchNotFound)
	}
	if err != nil {
		return nil, ports.NewStoreError(id, "load_batch", err)
	}

	var labels []string
	if err := json.Unmarshal([]byte(itemsJSON), &labels); err != nil {
		return nil, ports.NewStoreError(id, "load_batch", fmt.Errorf("decode items: %w", err))
	}
	var rows []domain.Ranking
	if err := json.Unmarshal([]byte(rowsJSON), &rows); err != nil {
		return nil, ports.NewStoreError(id, "load_batch", fmt.Errorf("decode rows: %w", err))
	}

	items, err := domain.NewItemSet(labels...)
	if err != nil {
		return nil, ports.NewStoreError(id, "load_batch", err)
	}
	batch := domain.NewRankingBatch(items, len(rows))
	for i, r := range rows {
		if err := batch.Append(r); err != nil {
			return nil, ports.NewStoreError(id, "load_batch", fmt.Errorf("row %d: %w", i, err))
		}
	}
	if sealed {
		batch.Seal()
	}
	return batch, nil
}

// ListBatches returns the ids of all stored batches in ascending order.
func (s *SQLiteStore) ListBatches(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM batches ORDER BY id`)
	if err != nil {
		return nil, ports.NewStoreError("", "list_batches", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, ports.NewStoreError("", "list_batches", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, ports.NewStoreError("", "list_batches", err)
	}
	return ids, nil
}

// SaveCellResult stores the outcome of one sweep cell, replacing a previous
// result for the same (experiment, metric, assessors) key.
func (s *SQLiteStore) SaveCellResult(ctx context.Context, result domain.CellResult) error {
	key := cellKey(result)
	if result.Experiment == "" {
		return ports.NewStoreError(key, "save_cell_result",
			fmt.Errorf("%w: experiment name is empty", domain.ErrInvalidConfiguration))
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return ports.NewStoreError(key, "save_cell_result", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO cell_results (experiment, metric, assessors, batch_id, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		result.Experiment, string(result.Metric), result.Assessors, result.BatchID, string(payload), s.now().Unix(),
	)
	if err != nil {
		return ports.NewStoreError(key, "save_cell_result", err)
	}
	return nil
}

// ListCellResults returns the stored results of an experiment ordered by
// metric name and then by number of assessors.
func (s *SQLiteStore) ListCellResults(ctx context.Context, experiment string) ([]domain.CellResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM cell_results WHERE experiment = ? ORDER BY metric, assessors`, experiment,
	)
	if err != nil {
		return nil, ports.NewStoreError(experiment, "list_cell_results", err)
	}
	defer rows.Close()

	var results []domain.CellResult
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, ports.NewStoreError(experiment, "list_cell_results", err)
		}
		var result domain.CellResult
		if err := json.Unmarshal([]byte(payload), &result); err != nil {
			return nil, ports.NewStoreError(experiment, "list_cell_results", fmt.Errorf("decode result: %w", err))
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, ports.NewStoreError(experiment, "list_cell_results", err)
	}
	return results, nil
}

func cellKey(r domain.CellResult) string {
	return fmt.Sprintf("%s/%s/%d", r.Experiment, r.Metric, r.Assessors)
}
