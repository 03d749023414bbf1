package domain

import "time"

// CellResult is the outcome of one (metric, sample size) cell of an
// experiment sweep: a batch was generated, fitted and compared with the
// true consensus.
type CellResult struct {
	// Experiment names the sweep the cell belongs to.
	Experiment string `json:"experiment" yaml:"experiment"`

	// BatchID identifies the archived batch, if any.
	BatchID string `json:"batch_id" yaml:"batch_id"`

	// Metric is the distance metric the model was fitted under.
	Metric DistanceMetric `json:"metric" yaml:"metric"`

	// Assessors is the number of synthetic assessors (M).
	Assessors int `json:"assessors" yaml:"assessors"`

	// Seed is the seed of the cell's random stream.
	Seed uint64 `json:"seed" yaml:"seed"`

	// TrueConsensus lists item labels in true preference order.
	TrueConsensus []string `json:"true_consensus" yaml:"true_consensus"`

	// EstimatedConsensus lists item labels in estimated preference order.
	EstimatedConsensus []string `json:"estimated_consensus" yaml:"estimated_consensus"`

	// Consensus is the full point estimate.
	Consensus ConsensusEstimate `json:"consensus" yaml:"consensus"`

	// Intervals holds the posterior credible intervals.
	Intervals PosteriorIntervals `json:"intervals" yaml:"intervals"`

	// Convergence summarizes the dispersion trace diagnostics.
	Convergence ConvergenceReport `json:"convergence" yaml:"convergence"`

	// Error is the distance between estimated and true consensus under Metric.
	Error float64 `json:"error" yaml:"error"`

	// NormalizedError is Error divided by the largest attainable distance.
	NormalizedError float64 `json:"normalized_error" yaml:"normalized_error"`

	// Duration is the wall time spent on the cell.
	Duration time.Duration `json:"duration" yaml:"duration"`
}
