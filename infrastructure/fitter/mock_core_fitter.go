package fitter

import (
	"context"
	"sync"
	"time"

	"github.com/ahrav/go-consensus/internal/domain"
	"github.com/ahrav/go-consensus/internal/ports"
)

// MockCoreFitter provides a configurable mock implementation of CoreFitter
// for testing. It allows precise control over the returned posterior,
// timing, and error conditions to facilitate middleware testing.
type MockCoreFitter struct {
	mu sync.Mutex

	// Response configuration. When Posterior is nil a posterior that repeats the
	// batch's first ranking with a constant dispersion is generated.
	Posterior     *domain.PosteriorFit
	Error         error
	Name          string
	ResponseDelay time.Duration

	// Behavior flags
	FailUntilAttempt int // Fail for first N attempts, then succeed

	// Tracking
	CallCount      int
	LastMetric     domain.DistanceMetric
	LastOptions    ports.FitOptions
	Contexts       []context.Context
	CallTimestamps []time.Time
}

// NewMockCoreFitter creates a new mock CoreFitter with default successful
// behavior.
func NewMockCoreFitter() *MockCoreFitter {
	return &MockCoreFitter{
		Name:           "mock",
		Contexts:       make([]context.Context, 0),
		CallTimestamps: make([]time.Time, 0),
	}
}

// Fit implements the CoreFitter interface with configurable behavior.
func (m *MockCoreFitter) Fit(
	ctx context.Context,
	batch *domain.RankingBatch,
	metric domain.DistanceMetric,
	opts ports.FitOptions,
) (*domain.PosteriorFit, error) {
	m.mu.Lock()
	m.CallCount++
	m.LastMetric = metric
	m.LastOptions = opts
	m.Contexts = append(m.Contexts, ctx)
	m.CallTimestamps = append(m.CallTimestamps, time.Now())
	call := m.CallCount
	delay := m.ResponseDelay
	m.mu.Unlock()

	// Simulate response delay if configured
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailUntilAttempt > 0 && call <= m.FailUntilAttempt {
		if m.Error != nil {
			return nil, m.Error
		}
		return nil, ports.NewFitterError(m.Name, "fit", ports.ErrFitterUnavailable)
	}
	if m.FailUntilAttempt == 0 && m.Error != nil {
		return nil, m.Error
	}

	if m.Posterior != nil {
		return m.Posterior, nil
	}
	fit := &domain.PosteriorFit{
		Backend:   m.Name,
		Metric:    metric,
		Items:     batch.Items(),
		Assessors: batch.Len(),
		Alpha:     make([]float64, opts.Iterations),
		Consensus: make([]domain.Ranking, opts.Iterations),
	}
	for i := range fit.Consensus {
		fit.Alpha[i] = 1
		fit.Consensus[i] = batch.Row(0)
	}
	return fit, nil
}

// Backend returns the configured backend name.
func (m *MockCoreFitter) Backend() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Name
}

// GetCallCount returns the number of times Fit was called.
func (m *MockCoreFitter) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCount
}
