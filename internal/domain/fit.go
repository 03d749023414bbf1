package domain

import "fmt"

// PosteriorFit is the result of fitting a rank-aggregation model to a
// RankingBatch. Backends own how the draws are produced; consumers only rely
// on the per-iteration traces below.
type PosteriorFit struct {
	// Backend names the fitter implementation that produced the draws.
	Backend string `json:"backend" yaml:"backend"`

	// Metric is the distance metric the model was fitted under.
	Metric DistanceMetric `json:"metric" yaml:"metric"`

	// Items is the item set the consensus draws rank.
	Items ItemSet `json:"-" yaml:"-"`

	// Assessors is the number of rankings in the fitted batch.
	Assessors int `json:"assessors" yaml:"assessors"`

	// Alpha is the per-iteration trace of the dispersion parameter.
	Alpha []float64 `json:"alpha" yaml:"alpha"`

	// Consensus holds the per-iteration draws of the consensus ranking,
	// index-aligned with Alpha.
	Consensus []Ranking `json:"consensus" yaml:"consensus"`
}

// Iterations returns the number of recorded iterations.
func (f *PosteriorFit) Iterations() int { return len(f.Alpha) }

// Validate checks that the traces are non-empty, aligned, and that every
// consensus draw is a permutation of the fitted item set.
func (f *PosteriorFit) Validate() error {
	if f == nil {
		return fmt.Errorf("%w: posterior fit is nil", ErrInvalidConfiguration)
	}
	if len(f.Alpha) == 0 {
		return fmt.Errorf("%w: posterior fit has no iterations", ErrInvalidConfiguration)
	}
	if len(f.Alpha) != len(f.Consensus) {
		return fmt.Errorf("%w: alpha trace has %d iterations, consensus trace has %d",
			ErrInvalidConfiguration, len(f.Alpha), len(f.Consensus))
	}
	for i, r := range f.Consensus {
		if err := r.Validate(f.Items.Len()); err != nil {
			return fmt.Errorf("consensus draw %d: %w", i, err)
		}
	}
	return nil
}

// ItemRankSummary describes the posterior distribution of one item's rank.
type ItemRankSummary struct {
	// Item is the item label.
	Item string `json:"item" yaml:"item"`

	// MeanRank is the posterior mean of the item's 1-based rank.
	MeanRank float64 `json:"mean_rank" yaml:"mean_rank"`

	// ModalRank is the most frequent rank of the item across draws.
	ModalRank int `json:"modal_rank" yaml:"modal_rank"`

	// ModalProbability is the share of draws placing the item at ModalRank.
	ModalProbability float64 `json:"modal_probability" yaml:"modal_probability"`
}

// ConsensusEstimate is the point estimate of the consensus ranking after
// discarding burn-in iterations.
type ConsensusEstimate struct {
	// Burnin is the number of leading iterations that were discarded.
	Burnin int `json:"burnin" yaml:"burnin"`

	// Ranking orders item indices from most to least preferred.
	Ranking Ranking `json:"ranking" yaml:"ranking"`

	// Items summarizes each item's rank, in consensus order.
	Items []ItemRankSummary `json:"items" yaml:"items"`
}

// Interval is an equal-tailed posterior credible interval.
type Interval struct {
	Lower float64 `json:"lower" yaml:"lower"`
	Upper float64 `json:"upper" yaml:"upper"`
}

// Contains reports whether v lies within the closed interval.
func (iv Interval) Contains(v float64) bool { return v >= iv.Lower && v <= iv.Upper }

// PosteriorIntervals holds credible intervals for every item's consensus
// rank and for the dispersion parameter.
type PosteriorIntervals struct {
	// Level is the credibility level, e.g. 0.95.
	Level float64 `json:"level" yaml:"level"`

	// Burnin is the number of leading iterations that were discarded.
	Burnin int `json:"burnin" yaml:"burnin"`

	// Ranks maps each item label to the interval of its 1-based rank.
	Ranks map[string]Interval `json:"ranks" yaml:"ranks"`

	// Alpha is the interval of the dispersion parameter.
	Alpha Interval `json:"alpha" yaml:"alpha"`
}

// ConvergenceReport summarizes a Geweke-style comparison of the early and
// late segments of the dispersion trace.
type ConvergenceReport struct {
	Iterations int     `json:"iterations" yaml:"iterations"`
	EarlyMean  float64 `json:"early_mean" yaml:"early_mean"`
	LateMean   float64 `json:"late_mean" yaml:"late_mean"`
	ZScore     float64 `json:"z_score" yaml:"z_score"`
	Converged  bool    `json:"converged" yaml:"converged"`
}
