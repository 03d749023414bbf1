// Command rankgen runs a synthetic rank-aggregation experiment: it samples
// assessor rankings from a latent weight profile, fits a consensus model for
// every configured metric and sample size, and reports how well the true
// consensus is recovered.
//
// Usage:
//
//	rankgen -config experiment.yaml [-out report.yaml] [-format yaml|json]
//	        [-matrix ranks.csv] [-db archive.db] [-log-format text|json]
//	        [-log-level info] [-metrics-addr :9090]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ahrav/go-consensus/infrastructure/middleware"
	"github.com/ahrav/go-consensus/infrastructure/sampler"
	"github.com/ahrav/go-consensus/infrastructure/storage"
	"github.com/ahrav/go-consensus/infrastructure/tracing"
	"github.com/ahrav/go-consensus/internal/application"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "rankgen: %v\n", err)
		os.Exit(1)
	}
}

// options holds the parsed command-line flags.
type options struct {
	configPath  string
	outPath     string
	format      string
	matrixPath  string
	dbPath      string
	logFormat   string
	logLevel    string
	metricsAddr string
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("rankgen", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var o options
	fs.StringVar(&o.configPath, "config", "", "path to the experiment YAML file (required)")
	fs.StringVar(&o.outPath, "out", "-", "report destination, - for stdout")
	fs.StringVar(&o.format, "format", application.FormatYAML, "report format: yaml or json")
	fs.StringVar(&o.matrixPath, "matrix", "", "write the first cell's rank matrix as CSV to this path")
	fs.StringVar(&o.dbPath, "db", "", "SQLite archive path, overrides storage.path")
	fs.StringVar(&o.logFormat, "log-format", "text", "log format: text or json")
	fs.StringVar(&o.logLevel, "log-level", "info", "log level: debug, info, warn or error")
	fs.StringVar(&o.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if o.configPath == "" {
		fs.Usage()
		return nil, errors.New("-config is required")
	}
	if o.format != application.FormatYAML && o.format != application.FormatJSON {
		return nil, fmt.Errorf("unsupported -format %q", o.format)
	}
	return &o, nil
}

// newLogger builds a text or JSON slog logger writing to w.
func newLogger(format, level string, w io.Writer) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid -log-level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unsupported -log-format %q", format)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	logger, err := newLogger(opts.logFormat, opts.logLevel, stderr)
	if err != nil {
		return err
	}

	cfg, err := application.LoadConfig(opts.configPath)
	if err != nil {
		return err
	}
	if opts.dbPath != "" {
		cfg.Storage.Path = opts.dbPath
	}
	logger.Info("config loaded",
		"experiment", cfg.Name,
		"metrics", cfg.Metrics,
		"sample_sizes", cfg.SampleSizes,
		"backend", cfg.Fitter.Backend,
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics := middleware.NewPrometheusMetrics(reg)
	if opts.metricsAddr != "" {
		srv := serveMetrics(opts.metricsAddr, reg, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	provider, err := tracing.NewProvider(cfg.Tracing, tracing.WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	rankSampler, err := sampler.NewRankSampler(cfg.Sampler)
	if err != nil {
		return err
	}
	generator, err := sampler.NewBatchGenerator(rankSampler,
		sampler.WithMetrics(metrics),
		sampler.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	client, err := application.NewFitterClient(
		application.NewFitterRegistry(),
		cfg.Fitter,
		metrics,
		provider.TracerProvider(),
		cfg.Tracing.ServiceName,
	)
	if err != nil {
		return err
	}

	runnerOpts := []application.RunnerOption{
		application.WithRunnerMetrics(metrics),
		application.WithRunnerLogger(logger),
		application.WithTracerProvider(provider.TracerProvider()),
	}
	if cfg.Storage.Path != "" {
		store, err := storage.NewSQLiteStore(cfg.Storage.Path)
		if err != nil {
			return err
		}
		defer store.Close()
		logger.Info("archive opened", "db_path", cfg.Storage.Path)
		runnerOpts = append(runnerOpts, application.WithStore(store))
	}

	runner, err := application.NewRunner(generator, client, runnerOpts...)
	if err != nil {
		return err
	}
	report, err := runner.Run(ctx, cfg)
	if err != nil {
		return err
	}

	if err := writeOutput(opts.outPath, stdout, func(w io.Writer) error {
		return application.WriteReport(w, report, opts.format)
	}); err != nil {
		return err
	}

	if opts.matrixPath != "" && len(report.Cells) > 0 {
		batch := report.Batches[report.Cells[0].BatchID]
		if err := writeOutput(opts.matrixPath, stdout, func(w io.Writer) error {
			return application.WriteRankMatrixCSV(w, batch)
		}); err != nil {
			return err
		}
		logger.Info("rank matrix written", "path", opts.matrixPath, "batch_id", report.Cells[0].BatchID)
	}
	return nil
}

// writeOutput calls write with stdout when path is "-", otherwise with a
// newly created file at path.
func writeOutput(path string, stdout io.Writer, write func(io.Writer) error) error {
	if path == "-" {
		return write(stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// serveMetrics exposes reg on addr/metrics in the background.
func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("metrics server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	return srv
}
