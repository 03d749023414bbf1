package domain

import (
	"fmt"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/samber/lo"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DistanceMetric names a distance between rankings used by the Mallows
// model family.
type DistanceMetric string

// Supported distance metrics.
const (
	// MetricFootrule is Spearman's footrule: the sum of absolute rank differences.
	MetricFootrule DistanceMetric = "footrule"

	// MetricSpearman is Spearman's rho distance: the sum of squared rank differences.
	MetricSpearman DistanceMetric = "spearman"

	// MetricCayley counts the minimum number of transpositions between rankings.
	MetricCayley DistanceMetric = "cayley"

	// MetricHamming counts items placed at different ranks.
	MetricHamming DistanceMetric = "hamming"

	// MetricKendall counts discordant item pairs.
	MetricKendall DistanceMetric = "kendall"

	// MetricUlam counts the minimum number of insertion moves between rankings.
	MetricUlam DistanceMetric = "ulam"
)

// AllMetrics lists every supported metric in a stable order.
var AllMetrics = []DistanceMetric{
	MetricFootrule,
	MetricSpearman,
	MetricCayley,
	MetricHamming,
	MetricKendall,
	MetricUlam,
}

var metricCaser = cases.Lower(language.Und)

// String returns the string representation of the metric.
func (m DistanceMetric) String() string { return string(m) }

// Valid reports whether m is one of the supported metrics.
func (m DistanceMetric) Valid() bool { return lo.Contains(AllMetrics, m) }

// ParseDistanceMetric parses a metric name case-insensitively. Unknown names
// return ErrUnknownMetric with the closest supported name as a suggestion.
func ParseDistanceMetric(name string) (DistanceMetric, error) {
	m := DistanceMetric(metricCaser.String(strings.TrimSpace(name)))
	if m.Valid() {
		return m, nil
	}
	return "", fmt.Errorf("%w: %q (did you mean %q?)", ErrUnknownMetric, name, closestMetric(string(m)))
}

func closestMetric(name string) DistanceMetric {
	return lo.MinBy(AllMetrics, func(a, b DistanceMetric) bool {
		return levenshtein.ComputeDistance(name, string(a)) < levenshtein.ComputeDistance(name, string(b))
	})
}
