package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistance(t *testing.T) {
	identity := Ranking{0, 1, 2, 3}
	reversed := Ranking{3, 2, 1, 0}
	swapFirstTwo := Ranking{1, 0, 2, 3}
	rotated := Ranking{1, 2, 3, 0}

	tests := []struct {
		name   string
		metric DistanceMetric
		a, b   Ranking
		want   float64
	}{
		{name: "footrule identical", metric: MetricFootrule, a: identity, b: identity, want: 0},
		{name: "footrule reversed", metric: MetricFootrule, a: identity, b: reversed, want: 8},
		{name: "footrule adjacent swap", metric: MetricFootrule, a: identity, b: swapFirstTwo, want: 2},
		{name: "spearman reversed", metric: MetricSpearman, a: identity, b: reversed, want: 20},
		{name: "spearman adjacent swap", metric: MetricSpearman, a: identity, b: swapFirstTwo, want: 2},
		{name: "kendall reversed", metric: MetricKendall, a: identity, b: reversed, want: 6},
		{name: "kendall adjacent swap", metric: MetricKendall, a: identity, b: swapFirstTwo, want: 1},
		{name: "kendall rotation", metric: MetricKendall, a: identity, b: rotated, want: 3},
		{name: "hamming reversed", metric: MetricHamming, a: identity, b: reversed, want: 4},
		{name: "hamming adjacent swap", metric: MetricHamming, a: identity, b: swapFirstTwo, want: 2},
		{name: "cayley reversed is two transpositions", metric: MetricCayley, a: identity, b: reversed, want: 2},
		{name: "cayley adjacent swap", metric: MetricCayley, a: identity, b: swapFirstTwo, want: 1},
		{name: "cayley rotation is one 4-cycle", metric: MetricCayley, a: identity, b: rotated, want: 3},
		{name: "ulam rotation is one move", metric: MetricUlam, a: identity, b: rotated, want: 1},
		{name: "ulam reversed", metric: MetricUlam, a: identity, b: reversed, want: 3},
		{name: "ulam adjacent swap", metric: MetricUlam, a: identity, b: swapFirstTwo, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Distance(tt.metric, tt.a, tt.b)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			back, err := Distance(tt.metric, tt.b, tt.a)
			require.NoError(t, err)
			assert.Equal(t, got, back, "distance must be symmetric")
		})
	}
}

func TestDistance_BoundedByMax(t *testing.T) {
	identity := Ranking{0, 1, 2, 3, 4}
	reversed := Ranking{4, 3, 2, 1, 0}
	for _, m := range AllMetrics {
		t.Run(m.String(), func(t *testing.T) {
			d, err := Distance(m, identity, reversed)
			require.NoError(t, err)
			limit, err := MaxDistance(m, 5)
			require.NoError(t, err)
			assert.LessOrEqual(t, d, limit)
		})
	}
}

func TestDistance_Errors(t *testing.T) {
	_, err := Distance(MetricKendall, Ranking{0, 1}, Ranking{0, 1, 2})
	assert.ErrorIs(t, err, ErrInvalidRanking)

	_, err = Distance(MetricKendall, Ranking{0, 0}, Ranking{0, 1})
	assert.ErrorIs(t, err, ErrInvalidRanking)

	_, err = Distance("manhattan", Ranking{0, 1}, Ranking{1, 0})
	assert.ErrorIs(t, err, ErrUnknownMetric)
}

func TestMaxDistance(t *testing.T) {
	tests := []struct {
		metric DistanceMetric
		n      int
		want   float64
	}{
		{MetricFootrule, 4, 8},
		{MetricFootrule, 5, 12},
		{MetricSpearman, 4, 20},
		{MetricKendall, 4, 6},
		{MetricHamming, 4, 4},
		{MetricHamming, 1, 0},
		{MetricCayley, 4, 3},
		{MetricUlam, 4, 3},
	}
	for _, tt := range tests {
		got, err := MaxDistance(tt.metric, tt.n)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s n=%d", tt.metric, tt.n)
	}

	_, err := MaxDistance(MetricKendall, 0)
	assert.ErrorIs(t, err, ErrInvalidRanking)
}

func TestParseDistanceMetric(t *testing.T) {
	for _, m := range AllMetrics {
		got, err := ParseDistanceMetric(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}

	got, err := ParseDistanceMetric("  Kendall ")
	require.NoError(t, err)
	assert.Equal(t, MetricKendall, got)

	_, err = ParseDistanceMetric("kendal")
	require.ErrorIs(t, err, ErrUnknownMetric)
	assert.Contains(t, err.Error(), `did you mean "kendall"`)

	_, err = ParseDistanceMetric("footrul")
	require.ErrorIs(t, err, ErrUnknownMetric)
	assert.Contains(t, err.Error(), `did you mean "footrule"`)
}
