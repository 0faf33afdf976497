package sink

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ThisIsMelika/statistical-analysis/evaluation"
)

func openTestHistory(t *testing.T) *HistoryStore {
	t.Helper()
	h, err := OpenHistory(filepath.Join(t.TempDir(), "history.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func historyResult(runID string, started time.Time) *evaluation.EvaluationResult {
	return &evaluation.EvaluationResult{
		RunID:       runID,
		Status:      evaluation.StatusCompleted,
		CreatedAt:   started,
		CompletedAt: started.Add(2 * time.Second),
		Dataset: evaluation.DatasetSummary{
			Path:        "data/iot.csv",
			Fingerprint: "abc123",
			Rows:        1500,
			Columns:     6,
		},
		Intervals: []evaluation.MeanInterval{
			{Variable: "flow_pkts_s", Group: "DDoS", Mean: 140, Lower: 138, Upper: 142, Level: 0.95, N: 600},
		},
	}
}

func TestHistoryStore_RecordRun(t *testing.T) {
	h := openTestHistory(t)
	ctx := context.Background()
	assert.Equal(t, "history", h.Name())

	res := historyResult("run-1", time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	require.NoError(t, h.RecordRun(ctx, res))

	runs, err := h.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].RunID)
	assert.Equal(t, evaluation.StatusCompleted, runs[0].Status)
	assert.Equal(t, 1500, runs[0].Rows)
	assert.Equal(t, "abc123", runs[0].Fingerprint)

	stored, err := h.RunResults(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, stored, len(res.ResultRows()))
	require.NotNil(t, stored[0].Estimate)
	assert.Equal(t, 140.0, *stored[0].Estimate)
	assert.Nil(t, stored[0].PValue)

	// Recording again updates the summary without duplicating rows.
	res.Status = evaluation.StatusCompletedWithErrors
	res.Errors = []evaluation.StepError{{Step: "anova", Kind: "insufficient_data", Err: "too few"}}
	require.NoError(t, h.RecordRun(ctx, res))

	runs, err = h.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, evaluation.StatusCompletedWithErrors, runs[0].Status)
	assert.Equal(t, 1, runs[0].FailedSteps)

	again, err := h.RunResults(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, again, len(stored))
}

func TestHistoryStore_RecentRunsOrder(t *testing.T) {
	h := openTestHistory(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "newest", "middle"} {
		offset := []time.Duration{0, 2 * time.Hour, time.Hour}[i]
		require.NoError(t, h.RecordRun(ctx, historyResult(id, base.Add(offset))))
	}

	runs, err := h.RecentRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "newest", runs[0].RunID)
	assert.Equal(t, "middle", runs[1].RunID)
}

func TestHistoryStore_WriteResultsIdempotent(t *testing.T) {
	h := openTestHistory(t)
	ctx := context.Background()

	rows := sampleRows()
	require.NoError(t, h.WriteResults(ctx, rows))
	require.NoError(t, h.WriteResults(ctx, rows))
	require.NoError(t, h.WriteResults(ctx, nil))

	stored, err := h.RunResults(ctx, testRunID)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}
