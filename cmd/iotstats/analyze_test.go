package main

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/ThisIsMelika/statistical-analysis/evaluation"
	"github.com/ThisIsMelika/statistical-analysis/pkg/config"
	"github.com/ThisIsMelika/statistical-analysis/pkg/sink"
)

type fakeSink struct {
	name string
	rows []evaluation.ResultRow
	err  error
}

func (f *fakeSink) Name() string { return f.name }

func (f *fakeSink) WriteResults(_ context.Context, rows []evaluation.ResultRow) error {
	if f.err != nil {
		return f.err
	}
	f.rows = append(f.rows, rows...)
	return nil
}

func summaryResult() *evaluation.EvaluationResult {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return &evaluation.EvaluationResult{
		RunID:       "5d1c2b7a-1f3e-4c55-8a9b-0e6f7d8c9a10",
		Status:      evaluation.StatusCompletedWithErrors,
		CreatedAt:   start,
		CompletedAt: start.Add(1500 * time.Millisecond),
		Dataset:     evaluation.DatasetSummary{Rows: 5000, DroppedRows: 3, Columns: 6},
		TwoSample: []evaluation.WelchResult{
			{Group1: "DDoS", Group2: "Normal", Variable: "flow_pkts_s", MeanDiff: 512.25, PValue: 0},
		},
		ANOVA: []*evaluation.ANOVAResult{
			{Group: "DDoS", Variable: "flow_pkts_s", Factor: "device_type", F: 812.5, PValue: 1e-20},
		},
		Regression: &evaluation.RegressionResult{
			Effect: &evaluation.EffectEstimate{Variable: "flow_pkts_s", Increment: 10, OddsRatio: 1.2345, Lower: 1.2, Upper: 1.27},
		},
		Baseline: &evaluation.BaselineComparison{BaselineName: "lab", SignificantChanges: 2, OverallScore: 0.75},
		Errors:   []evaluation.StepError{{Step: evaluation.StepAblation, Kind: "convergence", Err: "logit failed to converge"}},
	}
}

func TestRenderSummary(t *testing.T) {
	out := renderSummary(summaryResult(), "runs/5d1c")

	for _, want := range []string{
		"iotstats | Run 5d1c2b7a-1f3e-4c55-8a9b-0e6f7d8c9a10",
		"Rows:     5,000 (3 dropped)",
		"Duration: 1.5s",
		"Welch flow_pkts_s DDoS vs Normal: diff=512.2500, p=< 1e-300",
		"ANOVA flow_pkts_s by device_type in DDoS: F=812.5000",
		"Logit OR for +10 flow_pkts_s: 1.2345 (1.2000, 1.2700)",
		"lab: 2 significant changes, score 0.75",
		"ablation (convergence)",
		"Artifacts: runs/5d1c",
	} {
		assert.Contains(t, out, want)
	}
}

func TestWriteSinks(t *testing.T) {
	rows := []evaluation.ResultRow{{RunID: "r", Step: "describe"}, {RunID: "r", Step: "normality"}}
	ok := &fakeSink{name: "ok"}
	broken := &fakeSink{name: "broken", err: errors.New("disk full")}

	err := writeSinks(context.Background(), zaptest.NewLogger(t), rows, broken, ok)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken: disk full")
	assert.Len(t, ok.rows, 2)

	require.NoError(t, writeSinks(context.Background(), zap.NewNop(), rows))
}

func TestPersistResults_History(t *testing.T) {
	cfg := config.Default()
	cfg.Sinks.HistoryPath = filepath.Join(t.TempDir(), "history.db")
	res := summaryResult()

	require.NoError(t, persistResults(context.Background(), cfg, zaptest.NewLogger(t), res))

	history, err := sink.OpenHistory(cfg.Sinks.HistoryPath, zap.NewNop())
	require.NoError(t, err)
	defer history.Close()

	runs, err := history.RecentRuns(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, res.RunID, runs[0].RunID)
	assert.Equal(t, 1, runs[0].FailedSteps)
}

func TestPersistResults_PostgresUnreachable(t *testing.T) {
	cfg := config.Default()
	cfg.Sinks.PostgresDSN = "postgres://iotstats@127.0.0.1:1/iotstats?sslmode=disable&connect_timeout=1"

	err := persistResults(context.Background(), cfg, zap.NewNop(), summaryResult())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres")
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.LogConfig
		verbose bool
		quiet   bool
		wantErr bool
	}{
		{name: "production", cfg: config.LogConfig{Level: "info"}},
		{name: "development", cfg: config.LogConfig{Level: "warn", Development: true}},
		{name: "verbose", cfg: config.LogConfig{Level: "error"}, verbose: true},
		{name: "quiet ignores level", cfg: config.LogConfig{Level: "bogus"}, quiet: true},
		{name: "invalid level", cfg: config.LogConfig{Level: "bogus"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := newLogger(tt.cfg, tt.verbose, tt.quiet)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, logger)
			if tt.verbose {
				assert.True(t, logger.Core().Enabled(zap.DebugLevel))
			}
		})
	}
}

func TestUserFriendlyError(t *testing.T) {
	inner := errors.New("boom")
	err := userFriendlyError{Message: "Something failed", Reason: "because", Hint: "look", Try: "again", Err: inner}

	assert.Equal(t, "Something failed\n  Reason: because\n  Hint: look\n  Try: again\n  Details: boom", err.Error())
	assert.ErrorIs(t, err, inner)
	assert.Nil(t, wrapConfigError(nil, "x"))
	assert.Nil(t, wrapDatasetError(nil, "x"))
}
