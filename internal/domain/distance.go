package domain

import (
	"fmt"
	"sort"
)

// Distance computes the distance between rankings a and b under metric.
// Both rankings must be permutations of the same index set.
func Distance(metric DistanceMetric, a, b Ranking) (float64, error) {
	n := len(a)
	if err := a.Validate(n); err != nil {
		return 0, fmt.Errorf("left ranking: %w", err)
	}
	if err := b.Validate(n); err != nil {
		return 0, fmt.Errorf("right ranking: %w", err)
	}
	ra, rb := a.Ranks(), b.Ranks()

	switch metric {
	case MetricFootrule:
		var d int
		for i := range ra {
			d += abs(ra[i] - rb[i])
		}
		return float64(d), nil
	case MetricSpearman:
		var d int
		for i := range ra {
			diff := ra[i] - rb[i]
			d += diff * diff
		}
		return float64(d), nil
	case MetricHamming:
		var d int
		for i := range ra {
			if ra[i] != rb[i] {
				d++
			}
		}
		return float64(d), nil
	case MetricKendall:
		var d int
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				if (ra[i] < ra[j]) != (rb[i] < rb[j]) {
					d++
				}
			}
		}
		return float64(d), nil
	case MetricCayley:
		return float64(n - cycles(relativePositions(ra, b))), nil
	case MetricUlam:
		return float64(n - longestIncreasing(relativePositions(ra, b))), nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownMetric, metric)
	}
}

// MaxDistance returns the largest distance attainable between two rankings
// of n items under metric. It is used to normalize distances across sizes.
func MaxDistance(metric DistanceMetric, n int) (float64, error) {
	if n < 1 {
		return 0, fmt.Errorf("%w: n=%d", ErrInvalidRanking, n)
	}
	switch metric {
	case MetricFootrule:
		return float64(n * n / 2), nil
	case MetricSpearman:
		return float64(n * (n*n - 1) / 3), nil
	case MetricKendall:
		return float64(n * (n - 1) / 2), nil
	case MetricHamming:
		if n == 1 {
			return 0, nil
		}
		return float64(n), nil
	case MetricCayley, MetricUlam:
		return float64(n - 1), nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownMetric, metric)
	}
}

// relativePositions returns, for each position k of ranking b, the 0-based
// position in the other ranking (given by its 1-based ranks) of the item b[k].
func relativePositions(ranks []int, b Ranking) []int {
	pi := make([]int, len(b))
	for k, item := range b {
		pi[k] = ranks[item] - 1
	}
	return pi
}

// cycles counts the cycles of the permutation p.
func cycles(p []int) int {
	visited := make([]bool, len(p))
	count := 0
	for start := range p {
		if visited[start] {
			continue
		}
		count++
		for i := start; !visited[i]; i = p[i] {
			visited[i] = true
		}
	}
	return count
}

// longestIncreasing returns the length of the longest strictly increasing
// subsequence of seq (patience sorting, O(n log n)).
func longestIncreasing(seq []int) int {
	tails := make([]int, 0, len(seq))
	for _, v := range seq {
		i := sort.SearchInts(tails, v)
		if i == len(tails) {
			tails = append(tails, v)
		} else {
			tails[i] = v
		}
	}
	return len(tails)
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
