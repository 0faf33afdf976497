package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ThisIsMelika/statistical-analysis/evaluation"
	"github.com/ThisIsMelika/statistical-analysis/pkg/config"
	"github.com/ThisIsMelika/statistical-analysis/pkg/flow"
	"github.com/ThisIsMelika/statistical-analysis/pkg/metrics"
	"github.com/ThisIsMelika/statistical-analysis/pkg/report"
	"github.com/ThisIsMelika/statistical-analysis/pkg/sink"
)

const (
	reportFile  = "report.txt"
	resultsFile = "results.json"
)

type analyzeFlags struct {
	input          string
	outDir         string
	baseline       string
	updateBaseline bool
	printReport    bool
}

func newAnalyzeCmd(root *rootFlags) *cobra.Command {
	flags := &analyzeFlags{}

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run the statistical analysis of a flow dataset",
		Long: `Load a flow dataset, run every analysis step and store the results.

Each run gets its own directory under the output dir holding report.txt,
results.json and a manifest with BLAKE3 digests. A failing step does not stop
the others; it is listed in the report and the command exits with status 2.`,
		Example: `  iotstats analyze --input iot_ddos_synthetic.csv

  # Compare against a Redis-stored baseline and replace it afterwards
  IOTSTATS_BASELINE_REDIS_ADDR=localhost:6379 iotstats analyze --input flows.csv --baseline lab --update-baseline`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			if flags.outDir != "" {
				cfg.Output.Dir = flags.outDir
			}
			if flags.baseline != "" {
				cfg.Baseline.Name = flags.baseline
			}
			if flags.updateBaseline {
				cfg.Baseline.Update = true
			}
			return runAnalyze(cmd.Context(), cfg, logger, flags, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&flags.input, "input", "i", "", "Dataset CSV path (required)")
	cmd.Flags().StringVarP(&flags.outDir, "out-dir", "o", "", "Artifact directory (overrides output.dir)")
	cmd.Flags().StringVar(&flags.baseline, "baseline", "", "Baseline name (overrides baseline.name)")
	cmd.Flags().BoolVar(&flags.updateBaseline, "update-baseline", false, "Replace the baseline with this run")
	cmd.Flags().BoolVar(&flags.printReport, "print-report", false, "Print the full text report after the summary")
	cmd.MarkFlagRequired("input")

	return cmd
}

func runAnalyze(ctx context.Context, cfg *config.Config, logger *zap.Logger, flags *analyzeFlags, out io.Writer) error {
	recorder := metrics.NewRecorder()
	if cfg.Metrics.ListenAddr != "" {
		_, stop, err := startMetricsServer(cfg.Metrics.ListenAddr, recorder, logger)
		if err != nil {
			logger.Warn("Metrics endpoint disabled", zap.Error(err))
		} else {
			defer stop()
		}
	}

	ds, stats, err := flow.LoadCSV(flags.input)
	if err != nil {
		return wrapDatasetError(err, flags.input)
	}
	recorder.ObserveDataset(stats.Rows, stats.DroppedRows)
	logger.Info("Dataset loaded",
		zap.String("path", flags.input),
		zap.String("mime", stats.MIME),
		zap.Int("rows", stats.Rows),
		zap.Int("droppedRows", stats.DroppedRows))

	repro := evaluation.NewReproducibilityManager(logger)
	fingerprint, err := repro.FingerprintDataset(flags.input)
	if err != nil {
		return err
	}

	opts := []evaluation.FrameworkOption{
		evaluation.WithStepObserver(recorder),
		evaluation.WithReproducibilityManager(repro),
	}
	if cfg.Baseline.RedisAddr != "" {
		client := newRedisClient(cfg)
		defer client.Close()
		opts = append(opts, evaluation.WithBaselineManager(evaluation.NewBaselineManager(client, logger, cfg.Baseline.TTL)))
	}

	framework, err := evaluation.NewEvaluationFramework(cfg.FrameworkConfig(), logger, opts...)
	if err != nil {
		return wrapConfigError(err, "")
	}

	res, err := framework.RunEvaluation(ctx, &evaluation.EvaluationRequest{
		Dataset:     ds,
		DatasetPath: flags.input,
		Fingerprint: fingerprint,
		Load:        stats,
	})
	if err != nil {
		return fmt.Errorf("run evaluation: %w", err)
	}
	recorder.ObserveRun(res.Status)

	runDir, err := storeArtifacts(ctx, cfg, logger, res)
	if err != nil {
		return err
	}

	if cfg.Metrics.Textfile != "" {
		if err := recorder.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			logger.Warn("Failed to write metrics textfile", zap.String("path", cfg.Metrics.Textfile), zap.Error(err))
		}
	}

	sinkErr := persistResults(ctx, cfg, logger, res)

	fmt.Fprintln(out, renderSummary(res, runDir))
	if flags.printReport {
		if err := report.RenderText(out, res); err != nil {
			return fmt.Errorf("render report: %w", err)
		}
	}

	if sinkErr != nil {
		return userFriendlyError{
			Message: "Results could not be persisted to every sink",
			Hint:    "Artifacts were written to " + runDir,
			Err:     sinkErr,
		}
	}
	if res.Failed() {
		return fmt.Errorf("%w: %d of the steps failed, see %s", errStepsFailed, len(res.Errors), runDir)
	}
	return nil
}

// newRedisClient connects to the configured baseline store.
func newRedisClient(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Baseline.RedisAddr,
		Password: cfg.Baseline.RedisPassword,
		DB:       cfg.Baseline.RedisDB,
	})
}

// startMetricsServer serves the recorder on addr until stop is called and
// returns the bound address.
func startMetricsServer(addr string, recorder *metrics.Recorder, logger *zap.Logger) (string, func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	recorder.RegisterHandler(mux)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("Metrics server stopped", zap.Error(err))
		}
	}()
	bound := ln.Addr().String()
	logger.Info("Serving metrics", zap.String("addr", bound))

	stop := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("Metrics server shutdown failed", zap.Error(err))
		}
	}
	return bound, stop, nil
}

// storeArtifacts renders the reports and writes them with a manifest.
func storeArtifacts(ctx context.Context, cfg *config.Config, logger *zap.Logger, res *evaluation.EvaluationResult) (string, error) {
	files := make(map[string][]byte)

	var text bytes.Buffer
	if err := report.RenderText(&text, res); err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	files[reportFile] = text.Bytes()

	if cfg.Output.JSON {
		var js bytes.Buffer
		if err := report.RenderJSON(&js, res); err != nil {
			return "", fmt.Errorf("render results: %w", err)
		}
		files[resultsFile] = js.Bytes()
	}

	store := evaluation.NewFileSystemArtifactStore(cfg.Output.Dir, logger)
	runDir, err := store.Store(ctx, &evaluation.RunArtifact{
		Manifest: evaluation.RunManifest{
			RunID:              res.RunID,
			CreatedAt:          res.CreatedAt,
			DatasetPath:        res.Dataset.Path,
			DatasetFingerprint: res.Dataset.Fingerprint,
			Seed:               cfg.Statistical.Seed,
			Config:             res.Config,
			Environment:        res.Environment,
			Failed:             res.Failed(),
		},
		Files: files,
	})
	if err != nil {
		return "", fmt.Errorf("store artifacts: %w", err)
	}
	return runDir, nil
}

// persistResults writes the run to every configured sink. A failing sink
// does not stop the others.
func persistResults(ctx context.Context, cfg *config.Config, logger *zap.Logger, res *evaluation.EvaluationResult) error {
	var errs []error
	var sinks []sink.ResultSink

	if cfg.Sinks.PostgresDSN != "" {
		db, err := sink.OpenPostgres(ctx, cfg.Sinks.PostgresDSN)
		if err != nil {
			errs = append(errs, fmt.Errorf("postgres: %w", err))
		} else {
			defer db.Close()
			pg := sink.NewPostgresSink(db, cfg.Sinks.PostgresTable, logger)
			if err := pg.EnsureSchema(ctx); err != nil {
				errs = append(errs, fmt.Errorf("postgres: %w", err))
			} else {
				sinks = append(sinks, pg)
			}
		}
	}

	if cfg.Sinks.HistoryPath != "" {
		history, err := sink.OpenHistory(cfg.Sinks.HistoryPath, logger)
		if err != nil {
			errs = append(errs, fmt.Errorf("history: %w", err))
		} else {
			defer history.Close()
			if err := history.RecordRun(ctx, res); err != nil {
				errs = append(errs, fmt.Errorf("history: %w", err))
			}
		}
	}

	if len(sinks) > 0 {
		errs = append(errs, writeSinks(ctx, logger, res.ResultRows(), sinks...))
	}
	return errors.Join(errs...)
}

func writeSinks(ctx context.Context, logger *zap.Logger, rows []evaluation.ResultRow, sinks ...sink.ResultSink) error {
	var errs []error
	for _, s := range sinks {
		if err := s.WriteResults(ctx, rows); err != nil {
			logger.Warn("Sink write failed", zap.String("sink", s.Name()), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
