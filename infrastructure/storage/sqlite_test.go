package storage

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-consensus/internal/domain"
	"github.com/ahrav/go-consensus/internal/ports"
)

// newTestStore creates a store backed by a temporary SQLite database.
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newBatch(t *testing.T, labels []string, rows ...domain.Ranking) *domain.RankingBatch {
	t.Helper()
	items, err := domain.NewItemSet(labels...)
	require.NoError(t, err)
	batch := domain.NewRankingBatch(items, len(rows))
	for _, r := range rows {
		require.NoError(t, batch.Append(r))
	}
	batch.Seal()
	return batch
}

func TestNewSQLiteStore(t *testing.T) {
	t.Run("creates tables", func(t *testing.T) {
		s := newTestStore(t)
		for _, table := range []string{"batches", "cell_results"} {
			_, err := s.db.Exec("SELECT COUNT(*) FROM " + table)
			assert.NoError(t, err, "table %s missing", table)
		}
	})

	t.Run("in-memory database", func(t *testing.T) {
		s, err := NewSQLiteStore(":memory:")
		require.NoError(t, err)
		defer s.Close()

		ids, err := s.ListBatches(context.Background())
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("invalid path returns error", func(t *testing.T) {
		_, err := NewSQLiteStore("/nonexistent/dir/db.sqlite")
		assert.Error(t, err)
	})
}

func TestSQLiteStore_BatchRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	batch := newBatch(t, []string{"Alpha", "beta", "Gamma"},
		domain.Ranking{0, 1, 2},
		domain.Ranking{2, 0, 1},
		domain.Ranking{1, 2, 0},
	)

	require.NoError(t, s.SaveBatch(ctx, "exp/kendall/3", batch))

	got, err := s.LoadBatch(ctx, "exp/kendall/3")
	require.NoError(t, err)
	assert.Equal(t, batch.Items().Labels(), got.Items().Labels())
	assert.Equal(t, batch.Rows(), got.Rows())
	assert.Equal(t, batch.RankMatrix(), got.RankMatrix())
	assert.True(t, got.Sealed())
}

func TestSQLiteStore_SaveBatchReplaces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveBatch(ctx, "b", newBatch(t, []string{"x", "y"}, domain.Ranking{0, 1})))
	require.NoError(t, s.SaveBatch(ctx, "b", newBatch(t, []string{"x", "y"}, domain.Ranking{1, 0}, domain.Ranking{1, 0})))

	got, err := s.LoadBatch(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Len())
	assert.Equal(t, domain.Ranking{1, 0}, got.Row(0))
}

func TestSQLiteStore_LoadBatchNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.LoadBatch(context.Background(), "missing")

	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrBatchNotFound)
	var se *ports.StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "missing", se.Key)
	assert.Equal(t, "load_batch", se.Operation)
}

func TestSQLiteStore_LoadBatchRejectsCorruptRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.db.Exec(
		`INSERT INTO batches (id, items, rows, assessors, sealed, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		"bad", `["a","b"]`, `[[0,0]]`, 1, true, time.Now().Unix(),
	)
	require.NoError(t, err)

	_, err = s.LoadBatch(ctx, "bad")
	assert.ErrorIs(t, err, domain.ErrInvalidRanking)
}

func TestSQLiteStore_SaveBatchInvalid(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, s.SaveBatch(ctx, "", newBatch(t, []string{"a"}, domain.Ranking{0})), domain.ErrInvalidConfiguration)
	assert.ErrorIs(t, s.SaveBatch(ctx, "id", nil), domain.ErrInvalidConfiguration)
}

func TestSQLiteStore_ListBatches(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	batch := newBatch(t, []string{"a", "b"}, domain.Ranking{0, 1})

	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, s.SaveBatch(ctx, id, batch))
	}

	ids, err := s.ListBatches(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestSQLiteStore_CellResults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	results := []domain.CellResult{
		{Experiment: "sweep", Metric: domain.MetricUlam, Assessors: 50, Error: 1},
		{Experiment: "sweep", Metric: domain.MetricKendall, Assessors: 100, Error: 2},
		{Experiment: "sweep", Metric: domain.MetricKendall, Assessors: 20, Error: 3},
		{Experiment: "other", Metric: domain.MetricKendall, Assessors: 20, Error: 4},
	}
	for _, r := range results {
		require.NoError(t, s.SaveCellResult(ctx, r))
	}

	got, err := s.ListCellResults(ctx, "sweep")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, domain.MetricKendall, got[0].Metric)
	assert.Equal(t, 20, got[0].Assessors)
	assert.Equal(t, 100, got[1].Assessors)
	assert.Equal(t, domain.MetricUlam, got[2].Metric)

	none, err := s.ListCellResults(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSQLiteStore_CellResultRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	want := domain.CellResult{
		Experiment:         "sweep",
		BatchID:            "sweep/footrule/10",
		Metric:             domain.MetricFootrule,
		Assessors:          10,
		Seed:               1<<63 + 5,
		TrueConsensus:      []string{"a", "b", "c"},
		EstimatedConsensus: []string{"a", "c", "b"},
		Consensus: domain.ConsensusEstimate{
			Burnin:  5,
			Ranking: domain.Ranking{0, 2, 1},
			Items: []domain.ItemRankSummary{
				{Item: "a", MeanRank: 1.1, ModalRank: 1, ModalProbability: 0.9},
			},
		},
		Intervals: domain.PosteriorIntervals{
			Level:  0.9,
			Burnin: 5,
			Ranks:  map[string]domain.Interval{"a": {Lower: 1, Upper: 2}},
			Alpha:  domain.Interval{Lower: 0.5, Upper: 1.5},
		},
		Convergence:     domain.ConvergenceReport{Iterations: 100, ZScore: -0.3, Converged: true},
		Error:           2,
		NormalizedError: 0.5,
		Duration:        1500 * time.Millisecond,
	}
	require.NoError(t, s.SaveCellResult(ctx, want))
	require.NoError(t, s.SaveCellResult(ctx, want), "saving twice must replace")

	got, err := s.ListCellResults(ctx, "sweep")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, want, got[0])
}

func TestSQLiteStore_SaveCellResultRequiresExperiment(t *testing.T) {
	s := newTestStore(t)
	err := s.SaveCellResult(context.Background(), domain.CellResult{Metric: domain.MetricKendall})
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}

func TestSQLiteStore_ConcurrentWrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	batch := newBatch(t, []string{"a", "b", "c"}, domain.Ranking{2, 1, 0})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.SaveBatch(ctx, string(rune('a'+i)), batch))
		}()
	}
	wg.Wait()

	ids, err := s.ListBatches(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, 16)
}

func TestSQLiteStore_CancelledContext(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.SaveBatch(ctx, "x", newBatch(t, []string{"a"}, domain.Ranking{0}))
	assert.Error(t, err)
}
