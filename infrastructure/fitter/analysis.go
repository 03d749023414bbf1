package fitter

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"

	"github.com/ahrav/go-consensus/internal/domain"
)

// Segment fractions and threshold of the Geweke convergence diagnostic.
const (
	gewekeEarlyFraction = 0.1
	gewekeLateFraction  = 0.5
	gewekeThreshold     = 2.0
)

// ComputeConsensus summarizes the consensus draws kept after burn-in. Each
// item's posterior mean rank orders the consensus; ties go to the lower item
// index. The modal rank and its share of draws are reported per item.
//
// Errors:
//   - ErrInvalidConfiguration if the fit is malformed or burnin is negative
//     or leaves no draws.
func ComputeConsensus(fit *domain.PosteriorFit, burnin int) (*domain.ConsensusEstimate, error) {
	draws, err := keptDraws(fit, burnin)
	if err != nil {
		return nil, err
	}

	n := fit.Items.Len()
	sums := make([]float64, n)
	counts := make([][]int, n)
	for i := range counts {
		counts[i] = make([]int, n)
	}
	for _, draw := range draws {
		for item, rank := range draw.Ranks() {
			sums[item] += float64(rank)
			counts[item][rank-1]++
		}
	}

	k := float64(len(draws))
	means := make([]float64, n)
	for i, s := range sums {
		means[i] = s / k
	}
	order := orderByMean(means)

	summaries := make([]domain.ItemRankSummary, 0, n)
	for _, item := range order {
		mode, freq := 0, -1
		for r, c := range counts[item] {
			if c > freq {
				mode, freq = r, c
			}
		}
		summaries = append(summaries, domain.ItemRankSummary{
			Item:             fit.Items.Label(item),
			MeanRank:         means[item],
			ModalRank:        mode + 1,
			ModalProbability: float64(freq) / k,
		})
	}

	return &domain.ConsensusEstimate{
		Burnin:  burnin,
		Ranking: order,
		Items:   summaries,
	}, nil
}

// ComputePosteriorIntervals returns the equal-tailed credible interval at
// level for every item's rank and for the dispersion parameter, using the
// empirical quantiles of the draws kept after burn-in.
//
// Errors:
//   - ErrInvalidConfiguration if level is outside (0, 1), the fit is
//     malformed, or burnin leaves no draws.
func ComputePosteriorIntervals(fit *domain.PosteriorFit, burnin int, level float64) (*domain.PosteriorIntervals, error) {
	if !(level > 0 && level < 1) {
		return nil, fmt.Errorf("%w: credibility level must be in (0, 1), got %v", domain.ErrInvalidConfiguration, level)
	}
	draws, err := keptDraws(fit, burnin)
	if err != nil {
		return nil, err
	}

	tail := (1 - level) / 2
	n := fit.Items.Len()
	ranks := make([][]float64, n)
	for i := range ranks {
		ranks[i] = make([]float64, 0, len(draws))
	}
	for _, draw := range draws {
		for item, rank := range draw.Ranks() {
			ranks[item] = append(ranks[item], float64(rank))
		}
	}

	intervals := &domain.PosteriorIntervals{
		Level:  level,
		Burnin: burnin,
		Ranks:  make(map[string]domain.Interval, n),
		Alpha:  quantileInterval(slices.Clone(fit.Alpha[burnin:]), tail),
	}
	for item, xs := range ranks {
		intervals.Ranks[fit.Items.Label(item)] = quantileInterval(xs, tail)
	}
	return intervals, nil
}

// AssessConvergence compares the mean of the first tenth of the dispersion
// trace with the mean of its last half. The z-score uses the naive standard
// error of each segment; the chain is reported converged when |z| < 2.
//
// Errors:
//   - ErrInvalidConfiguration if the fit is malformed or the trace is too
//     short to hold two draws in its early segment.
func AssessConvergence(fit *domain.PosteriorFit) (*domain.ConvergenceReport, error) {
	if err := fit.Validate(); err != nil {
		return nil, err
	}

	n := fit.Iterations()
	nEarly := int(float64(n) * gewekeEarlyFraction)
	nLate := int(float64(n) * gewekeLateFraction)
	if nEarly < 2 {
		return nil, fmt.Errorf("%w: convergence needs at least %d iterations, got %d",
			domain.ErrInvalidConfiguration, int(2/gewekeEarlyFraction), n)
	}

	early := fit.Alpha[:nEarly]
	late := fit.Alpha[n-nLate:]
	earlyMean, earlyVar := stat.MeanVariance(early, nil)
	lateMean, lateVar := stat.MeanVariance(late, nil)

	se := math.Sqrt(earlyVar/float64(nEarly) + lateVar/float64(nLate))
	var z float64
	switch {
	case se > 0:
		z = (earlyMean - lateMean) / se
	case earlyMean != lateMean:
		// Constant, differing segments saturate; reports must stay finite.
		z = math.Copysign(math.MaxFloat64, earlyMean-lateMean)
	}

	return &domain.ConvergenceReport{
		Iterations: n,
		EarlyMean:  earlyMean,
		LateMean:   lateMean,
		ZScore:     z,
		Converged:  math.Abs(z) < gewekeThreshold,
	}, nil
}

// keptDraws validates the fit and returns the consensus draws after burnin.
func keptDraws(fit *domain.PosteriorFit, burnin int) ([]domain.Ranking, error) {
	if err := fit.Validate(); err != nil {
		return nil, err
	}
	if burnin < 0 || burnin >= fit.Iterations() {
		return nil, fmt.Errorf("%w: burn-in %d must be in [0, %d)",
			domain.ErrInvalidConfiguration, burnin, fit.Iterations())
	}
	return fit.Consensus[burnin:], nil
}

// quantileInterval sorts xs in place and returns its empirical quantiles at
// tail and 1-tail.
func quantileInterval(xs []float64, tail float64) domain.Interval {
	slices.Sort(xs)
	return domain.Interval{
		Lower: stat.Quantile(tail, stat.Empirical, xs, nil),
		Upper: stat.Quantile(1-tail, stat.Empirical, xs, nil),
	}
}

// orderByMean returns item indices sorted by ascending mean rank, breaking
// ties by the lower index.
func orderByMean(means []float64) domain.Ranking {
	order := make(domain.Ranking, len(means))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return cmp.Compare(means[a], means[b])
	})
	return order
}
