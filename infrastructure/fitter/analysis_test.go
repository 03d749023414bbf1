package fitter

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-consensus/internal/domain"
)

func newTestFit(t *testing.T, alpha []float64, draws ...domain.Ranking) *domain.PosteriorFit {
	t.Helper()
	items, err := domain.NewItemSet("a", "b", "c")
	require.NoError(t, err)
	if alpha == nil {
		alpha = make([]float64, len(draws))
	}
	return &domain.PosteriorFit{
		Backend:   "test",
		Metric:    domain.MetricKendall,
		Items:     items,
		Assessors: 10,
		Alpha:     alpha,
		Consensus: draws,
	}
}

func TestComputeConsensus(t *testing.T) {
	fit := newTestFit(t, nil,
		domain.Ranking{0, 1, 2},
		domain.Ranking{0, 1, 2},
		domain.Ranking{1, 0, 2},
		domain.Ranking{0, 2, 1},
	)

	est, err := ComputeConsensus(fit, 0)
	require.NoError(t, err)

	assert.Equal(t, 0, est.Burnin)
	assert.Equal(t, domain.Ranking{0, 1, 2}, est.Ranking)
	require.Len(t, est.Items, 3)

	assert.Equal(t, "a", est.Items[0].Item)
	assert.InDelta(t, 1.25, est.Items[0].MeanRank, 1e-12)
	assert.Equal(t, 1, est.Items[0].ModalRank)
	assert.InDelta(t, 0.75, est.Items[0].ModalProbability, 1e-12)

	assert.Equal(t, "b", est.Items[1].Item)
	assert.InDelta(t, 2.0, est.Items[1].MeanRank, 1e-12)
	assert.Equal(t, 2, est.Items[1].ModalRank)
	assert.InDelta(t, 0.5, est.Items[1].ModalProbability, 1e-12)

	assert.Equal(t, "c", est.Items[2].Item)
	assert.InDelta(t, 2.75, est.Items[2].MeanRank, 1e-12)
	assert.Equal(t, 3, est.Items[2].ModalRank)
}

func TestComputeConsensus_Burnin(t *testing.T) {
	fit := newTestFit(t, nil,
		domain.Ranking{2, 1, 0},
		domain.Ranking{2, 1, 0},
		domain.Ranking{0, 1, 2},
	)

	est, err := ComputeConsensus(fit, 2)
	require.NoError(t, err)
	assert.Equal(t, domain.Ranking{0, 1, 2}, est.Ranking, "burn-in draws must be ignored")
	assert.Equal(t, 2, est.Burnin)
}

func TestComputeConsensus_TiesGoToLowerIndex(t *testing.T) {
	fit := newTestFit(t, nil,
		domain.Ranking{1, 0, 2},
		domain.Ranking{0, 1, 2},
	)

	est, err := ComputeConsensus(fit, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.Ranking{0, 1, 2}, est.Ranking)
	assert.Equal(t, 1, est.Items[0].ModalRank, "modal rank ties go to the better rank")
}

func TestComputeConsensus_InvalidInput(t *testing.T) {
	fit := newTestFit(t, nil, domain.Ranking{0, 1, 2}, domain.Ranking{0, 1, 2})

	tests := []struct {
		name   string
		fit    *domain.PosteriorFit
		burnin int
	}{
		{name: "negative burn-in", fit: fit, burnin: -1},
		{name: "burn-in equals trace length", fit: fit, burnin: 2},
		{name: "burn-in beyond trace", fit: fit, burnin: 10},
		{name: "nil fit", fit: nil, burnin: 0},
		{name: "invalid draw", fit: newTestFit(t, nil, domain.Ranking{0, 0, 2}), burnin: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ComputeConsensus(tt.fit, tt.burnin)
			assert.Error(t, err)
		})
	}

	_, err := ComputeConsensus(fit, 2)
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}

func TestComputePosteriorIntervals(t *testing.T) {
	draws := make([]domain.Ranking, 0, 100)
	alpha := make([]float64, 0, 100)
	for i := 0; i < 100; i++ {
		if i%4 == 0 {
			draws = append(draws, domain.Ranking{1, 0, 2})
		} else {
			draws = append(draws, domain.Ranking{0, 1, 2})
		}
		alpha = append(alpha, float64(i+1))
	}
	fit := newTestFit(t, alpha, draws...)

	iv, err := ComputePosteriorIntervals(fit, 0, 0.95)
	require.NoError(t, err)

	assert.Equal(t, 0.95, iv.Level)
	assert.Equal(t, domain.Interval{Lower: 1, Upper: 2}, iv.Ranks["a"])
	assert.Equal(t, domain.Interval{Lower: 1, Upper: 2}, iv.Ranks["b"])
	assert.Equal(t, domain.Interval{Lower: 3, Upper: 3}, iv.Ranks["c"])

	assert.InDelta(t, 3, iv.Alpha.Lower, 1)
	assert.InDelta(t, 98, iv.Alpha.Upper, 1)
	assert.True(t, iv.Alpha.Contains(50))
	assert.False(t, iv.Alpha.Contains(100))

	// Trace values must not be reordered in place.
	assert.Equal(t, 1.0, fit.Alpha[0])
	assert.Equal(t, 100.0, fit.Alpha[99])
}

func TestComputePosteriorIntervals_NarrowerAtLowerLevel(t *testing.T) {
	alpha := make([]float64, 200)
	draws := make([]domain.Ranking, 200)
	for i := range alpha {
		alpha[i] = float64(i)
		draws[i] = domain.Ranking{0, 1, 2}
	}
	fit := newTestFit(t, alpha, draws...)

	wide, err := ComputePosteriorIntervals(fit, 20, 0.95)
	require.NoError(t, err)
	narrow, err := ComputePosteriorIntervals(fit, 20, 0.5)
	require.NoError(t, err)

	assert.LessOrEqual(t, wide.Alpha.Lower, narrow.Alpha.Lower)
	assert.GreaterOrEqual(t, wide.Alpha.Upper, narrow.Alpha.Upper)
	assert.GreaterOrEqual(t, wide.Alpha.Lower, 20.0, "burn-in draws must be excluded")
}

func TestComputePosteriorIntervals_InvalidLevel(t *testing.T) {
	fit := newTestFit(t, nil, domain.Ranking{0, 1, 2})

	for _, level := range []float64{0, 1, -0.5, 1.5, math.NaN()} {
		_, err := ComputePosteriorIntervals(fit, 0, level)
		assert.ErrorIs(t, err, domain.ErrInvalidConfiguration, "level %v", level)
	}

	_, err := ComputePosteriorIntervals(fit, 1, 0.9)
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}

func repeatDraws(n int) []domain.Ranking {
	draws := make([]domain.Ranking, n)
	for i := range draws {
		draws[i] = domain.Ranking{0, 1, 2}
	}
	return draws
}

func TestAssessConvergence(t *testing.T) {
	const n = 200

	stationary := make([]float64, n)
	drifting := make([]float64, n)
	constant := make([]float64, n)
	for i := 0; i < n; i++ {
		stationary[i] = float64(1 + i%2)
		drifting[i] = float64(i)
		constant[i] = 3.5
	}

	tests := []struct {
		name          string
		alpha         []float64
		wantConverged bool
		wantZ         float64
	}{
		{name: "stationary trace", alpha: stationary, wantConverged: true, wantZ: 0},
		{name: "constant trace", alpha: constant, wantConverged: true, wantZ: 0},
		{name: "drifting trace", alpha: drifting, wantConverged: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fit := newTestFit(t, tt.alpha, repeatDraws(n)...)
			report, err := AssessConvergence(fit)
			require.NoError(t, err)

			assert.Equal(t, n, report.Iterations)
			assert.Equal(t, tt.wantConverged, report.Converged)
			if tt.wantConverged {
				assert.InDelta(t, tt.wantZ, report.ZScore, 1e-9)
			}
		})
	}
}

func TestAssessConvergence_DriftDirection(t *testing.T) {
	alpha := make([]float64, 100)
	for i := range alpha {
		alpha[i] = float64(i)
	}
	report, err := AssessConvergence(newTestFit(t, alpha, repeatDraws(100)...))
	require.NoError(t, err)

	assert.InDelta(t, 4.5, report.EarlyMean, 1e-12)
	assert.InDelta(t, 74.5, report.LateMean, 1e-12)
	assert.Less(t, report.ZScore, -2.0)
}

func TestAssessConvergence_ConstantSegmentsSaturate(t *testing.T) {
	alpha := make([]float64, 50)
	for i := 25; i < 50; i++ {
		alpha[i] = 1
	}
	report, err := AssessConvergence(newTestFit(t, alpha, repeatDraws(50)...))
	require.NoError(t, err)

	assert.False(t, report.Converged)
	assert.Equal(t, -math.MaxFloat64, report.ZScore)
	assert.False(t, math.IsInf(report.ZScore, 0))
}

func TestAssessConvergence_ShortTrace(t *testing.T) {
	fit := newTestFit(t, make([]float64, 19), repeatDraws(19)...)
	_, err := AssessConvergence(fit)
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}
