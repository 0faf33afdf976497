package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ThisIsMelika/statistical-analysis/evaluation"
	"github.com/ThisIsMelika/statistical-analysis/pkg/sink"
)

type runsFlags struct {
	history   bool
	runID     string
	baselines bool
	limit     int
}

func newRunsCmd(root *rootFlags) *cobra.Command {
	flags := &runsFlags{}

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List previous analysis runs",
		Long: `List the runs stored under output.dir, newest first. With --history the
SQLite run history (sinks.history_path) is listed instead, and --run shows the
stored result rows of one run. With --baselines the Redis baselines
(baseline.redis_addr) are listed.`,
		Example: `  # Result rows of one run from the history database
  iotstats runs --history --run 5d1c2b7a-1f3e-4c55-8a9b-0e6f7d8c9a10

  # Stored baselines
  IOTSTATS_BASELINE_REDIS_ADDR=localhost:6379 iotstats runs --baselines`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.runID != "" && !flags.history {
				return fmt.Errorf("--run requires --history")
			}
			if flags.history && flags.baselines {
				return fmt.Errorf("--history and --baselines are mutually exclusive")
			}

			cfg, logger, err := root.setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			switch {
			case flags.history:
				if cfg.Sinks.HistoryPath == "" {
					return userFriendlyError{
						Message: "No run history configured",
						Hint:    "Set sinks.history_path in the config file",
						Try:     "IOTSTATS_SINKS_HISTORY_PATH=runs/history.db iotstats runs --history",
					}
				}
				history, err := sink.OpenHistory(cfg.Sinks.HistoryPath, logger)
				if err != nil {
					return err
				}
				defer history.Close()
				if flags.runID != "" {
					return printRunResults(ctx, out, history, flags.runID)
				}
				return printHistory(ctx, out, history, flags.limit)

			case flags.baselines:
				if cfg.Baseline.RedisAddr == "" {
					return userFriendlyError{
						Message: "No baseline store configured",
						Hint:    "Set baseline.redis_addr in the config file",
						Try:     "IOTSTATS_BASELINE_REDIS_ADDR=localhost:6379 iotstats runs --baselines",
					}
				}
				client := newRedisClient(cfg)
				defer client.Close()
				bm := evaluation.NewBaselineManager(client, logger, cfg.Baseline.TTL)
				return printBaselines(ctx, out, bm, flags.limit)
			}

			store := evaluation.NewFileSystemArtifactStore(cfg.Output.Dir, logger)
			manifests, err := store.List(ctx)
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}
			if len(manifests) == 0 {
				fmt.Fprintf(out, "No runs found in %s\n", cfg.Output.Dir)
				return nil
			}
			if flags.limit > 0 && len(manifests) > flags.limit {
				manifests = manifests[:flags.limit]
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "RUN ID\tCREATED\tFAILED\tFILES\tDATASET")
			fmt.Fprintln(w, "------\t-------\t------\t-----\t-------")
			for _, m := range manifests {
				fmt.Fprintf(w, "%s\t%s\t%t\t%d\t%s\n",
					m.RunID, humanize.Time(m.CreatedAt), m.Failed, len(m.Files), truncate(m.DatasetPath, 40))
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&flags.history, "history", false, "List the SQLite run history")
	cmd.Flags().StringVar(&flags.runID, "run", "", "Show the stored result rows of this run (with --history)")
	cmd.Flags().BoolVar(&flags.baselines, "baselines", false, "List the Redis baselines")
	cmd.Flags().IntVar(&flags.limit, "limit", 20, "Maximum number of entries to list")

	return cmd
}

func printHistory(ctx context.Context, out io.Writer, history *sink.HistoryStore, limit int) error {
	records, err := history.RecentRuns(ctx, limit)
	if err != nil {
		return fmt.Errorf("list history: %w", err)
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tSTARTED\tSTATUS\tROWS\tFAILED STEPS\tDATASET")
	fmt.Fprintln(w, "------\t-------\t------\t----\t------------\t-------")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			r.RunID, humanize.Time(r.StartedAt), r.Status, humanize.Comma(int64(r.Rows)), r.FailedSteps, r.DatasetPath)
	}
	return w.Flush()
}

func printRunResults(ctx context.Context, out io.Writer, history *sink.HistoryStore, runID string) error {
	rows, err := history.RunResults(ctx, runID)
	if err != nil {
		return fmt.Errorf("load results of %s: %w", runID, err)
	}
	if len(rows) == 0 {
		fmt.Fprintf(out, "No stored results for run %s\n", runID)
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STEP\tGROUP\tVARIABLE\tTERM\tSTATISTIC\tP-VALUE\tESTIMATE\tN")
	fmt.Fprintln(w, "----\t-----\t--------\t----\t---------\t-------\t--------\t-")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			r.Step, r.GroupName, r.Variable, truncate(r.Term, 40),
			formatNullable(r.Statistic), formatNullable(r.PValue), formatNullable(r.Estimate), r.N)
	}
	return w.Flush()
}

func printBaselines(ctx context.Context, out io.Writer, bm *evaluation.BaselineManager, limit int) error {
	baselines, err := bm.ListBaselines(ctx)
	if err != nil {
		return fmt.Errorf("list baselines: %w", err)
	}
	if len(baselines) == 0 {
		fmt.Fprintln(out, "No baselines stored")
		return nil
	}
	if limit > 0 && len(baselines) > limit {
		baselines = baselines[:limit]
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tRUN ID\tCREATED\tFINGERPRINT")
	fmt.Fprintln(w, "----\t------\t-------\t-----------")
	for _, b := range baselines {
		fp := b.DatasetFingerprint[:min(12, len(b.DatasetFingerprint))]
		if fp == "" {
			fp = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", b.Name, b.RunID, humanize.Time(b.CreatedAt), fp)
	}
	return w.Flush()
}

func formatNullable(v *float64) string {
	if v == nil || math.IsNaN(*v) {
		return "-"
	}
	return strconv.FormatFloat(*v, 'g', 6, 64)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return "..." + s[len(s)-(max-3):]
}
