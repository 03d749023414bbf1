// Package testutils provides test doubles shared by the application and
// command tests.
package testutils

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/ahrav/go-consensus/infrastructure/fitter"
	"github.com/ahrav/go-consensus/internal/domain"
	"github.com/ahrav/go-consensus/internal/ports"
)

// Verify interface compliance at compile time.
var _ ports.ModelFitter = (*MockFitter)(nil)

// FitCall records the arguments of one MockFitter.Fit call.
type FitCall struct {
	Metric     domain.DistanceMetric
	Assessors  int
	Items      int
	Iterations int
	Seed       uint64
}

// MockFitter implements ports.ModelFitter without running a real backend.
// Every posterior draw is the mean-rank consensus of the batch with a
// constant dispersion, so the analysis operations, which are the real
// ones, produce deterministic results.
type MockFitter struct {
	mu sync.Mutex

	// Error, when set, is returned by every Fit call.
	Error error
	// MetricErrors fails fits for specific metrics only.
	MetricErrors map[domain.DistanceMetric]error
	// Alpha is the constant dispersion draw. Default: 1.
	Alpha float64
	// Delay is waited before answering, honoring cancellation.
	Delay time.Duration

	calls []FitCall
}

// NewMockFitter creates a MockFitter that always succeeds.
func NewMockFitter() *MockFitter {
	return &MockFitter{
		Alpha:        1,
		MetricErrors: make(map[domain.DistanceMetric]error),
	}
}

// Fit records the call and returns the deterministic posterior.
func (m *MockFitter) Fit(
	ctx context.Context,
	batch *domain.RankingBatch,
	metric domain.DistanceMetric,
	opts ports.FitOptions,
) (*domain.PosteriorFit, error) {
	m.mu.Lock()
	m.calls = append(m.calls, FitCall{
		Metric:     metric,
		Assessors:  batch.Len(),
		Items:      batch.Width(),
		Iterations: opts.Iterations,
		Seed:       opts.Seed,
	})
	err := m.Error
	if e, ok := m.MetricErrors[metric]; ok {
		err = e
	}
	alpha, delay := m.Alpha, m.Delay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	consensus := MeanRankConsensus(batch)
	fit := &domain.PosteriorFit{
		Backend:   "mock",
		Metric:    metric,
		Items:     batch.Items(),
		Assessors: batch.Len(),
		Alpha:     make([]float64, opts.Iterations),
		Consensus: make([]domain.Ranking, opts.Iterations),
	}
	for i := range fit.Alpha {
		fit.Alpha[i] = alpha
		fit.Consensus[i] = consensus.Clone()
	}
	return fit, nil
}

// ComputeConsensus delegates to the real analysis.
func (m *MockFitter) ComputeConsensus(fit *domain.PosteriorFit, burnin int) (*domain.ConsensusEstimate, error) {
	return fitter.ComputeConsensus(fit, burnin)
}

// ComputePosteriorIntervals delegates to the real analysis.
func (m *MockFitter) ComputePosteriorIntervals(fit *domain.PosteriorFit, burnin int, level float64) (*domain.PosteriorIntervals, error) {
	return fitter.ComputePosteriorIntervals(fit, burnin, level)
}

// AssessConvergence delegates to the real analysis.
func (m *MockFitter) AssessConvergence(fit *domain.PosteriorFit) (*domain.ConvergenceReport, error) {
	return fitter.AssessConvergence(fit)
}

// Calls returns a copy of the recorded Fit calls in call order.
func (m *MockFitter) Calls() []FitCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.calls)
}

// MeanRankConsensus orders items by their mean rank across the batch,
// breaking ties by the lower index.
func MeanRankConsensus(batch *domain.RankingBatch) domain.Ranking {
	sums := make([]int, batch.Width())
	for _, ranks := range batch.RankMatrix() {
		for item, rank := range ranks {
			sums[item] += rank
		}
	}
	order := make(domain.Ranking, len(sums))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int { return cmp.Compare(sums[a], sums[b]) })
	return order
}
