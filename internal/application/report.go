package application

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-consensus/internal/domain"
)

// Report formats.
const (
	FormatYAML = "yaml"
	FormatJSON = "json"
)

// Report is the outcome of an experiment sweep.
type Report struct {
	Experiment string          `json:"experiment" yaml:"experiment"`
	Items      []string        `json:"items" yaml:"items"`
	Weights    []float64       `json:"weights" yaml:"weights"`
	Seed       uint64          `json:"seed" yaml:"seed"`
	Backend    string          `json:"backend" yaml:"backend"`
	StartedAt  time.Time       `json:"started_at" yaml:"started_at"`
	Duration   time.Duration   `json:"duration" yaml:"duration"`
	Summary    []MetricSummary `json:"summary" yaml:"summary"`

	// Cells are ordered metric-major, then by sample size, as configured.
	Cells []domain.CellResult `json:"cells" yaml:"cells"`

	// Batches maps batch ids to the generated batches. Not serialized.
	Batches map[string]*domain.RankingBatch `json:"-" yaml:"-"`
}

// MetricSummary aggregates the cells fitted under one metric.
type MetricSummary struct {
	Metric              domain.DistanceMetric `json:"metric" yaml:"metric"`
	Cells               int                   `json:"cells" yaml:"cells"`
	MeanNormalizedError float64               `json:"mean_normalized_error" yaml:"mean_normalized_error"`
	ExactRecoveries     int                   `json:"exact_recoveries" yaml:"exact_recoveries"`
	Converged           int                   `json:"converged" yaml:"converged"`
}

// WriteReport encodes report to w as YAML or JSON.
func WriteReport(w io.Writer, report *Report, format string) error {
	if report == nil {
		return fmt.Errorf("%w: report is nil", domain.ErrInvalidConfiguration)
	}

	switch format {
	case FormatYAML, "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			return fmt.Errorf("failed to encode report: %w", err)
		}
		return enc.Close()
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return fmt.Errorf("failed to encode report: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("%w: unsupported report format %q", domain.ErrInvalidConfiguration, format)
	}
}

// WriteRankMatrixCSV writes batch as the M×N rank table consumed by
// external fitters: a header row "assessor" followed by the item labels,
// then one row per assessor holding the 1-based rank of every item.
func WriteRankMatrixCSV(w io.Writer, batch *domain.RankingBatch) error {
	if batch == nil {
		return fmt.Errorf("%w: batch is nil", domain.ErrInvalidConfiguration)
	}

	cw := csv.NewWriter(w)
	header := append([]string{"assessor"}, batch.Items().Labels()...)
	if err := cw.Write(header); err != nil {
		return err
	}

	record := make([]string, len(header))
	for a, ranks := range batch.RankMatrix() {
		record[0] = strconv.Itoa(a + 1)
		for i, rank := range ranks {
			record[i+1] = strconv.Itoa(rank)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
