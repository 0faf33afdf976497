package report

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ThisIsMelika/statistical-analysis/evaluation"
	"github.com/ThisIsMelika/statistical-analysis/pkg/flow"
)

func TestFormatP(t *testing.T) {
	tests := []struct {
		p    float64
		want string
	}{
		{p: 0, want: "< 1e-300"},
		{p: 1e-320, want: "< 1e-300"},
		{p: 0.0011458, want: "0.0011458"},
		{p: 0.23019964, want: "0.2302"},
		{p: 3.5e-12, want: "3.5e-12"},
		{p: 1, want: "1"},
		{p: math.NaN(), want: "NaN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatP(tt.p))
		})
	}
}

func sampleResult() *evaluation.EvaluationResult {
	return &evaluation.EvaluationResult{
		RunID:  "7d0b8f0e-0000-4000-8000-000000000001",
		Status: evaluation.StatusCompletedWithErrors,
		Dataset: evaluation.DatasetSummary{
			Rows:         5000,
			Columns:      6,
			DroppedRows:  12,
			LabelCounts:  map[string]int{"Normal": 3262, "DDoS": 1738},
			DeviceCounts: map[string]int{"camera": 1500, "light": 1250, "thermostat": 1250, "speaker": 1000},
		},
		Descriptive: &evaluation.DescriptiveTable{
			Groups:    []string{"All", "DDoS"},
			Variables: []string{flow.ColumnFlowPktsS},
			Rows: []evaluation.GroupDescription{
				{Group: "All", Variable: flow.ColumnFlowPktsS, Stats: evaluation.DescriptiveStats{Count: 5000, Mean: 210.5, StdDev: 180.25, Min: 1, Q1: 60, Median: 110, Q3: 300, Max: 1200}},
				{Group: "DDoS", Variable: flow.ColumnFlowPktsS, Stats: evaluation.DescriptiveStats{Count: 1, Mean: 500, StdDev: math.NaN(), Min: 500, Median: 500, Max: 500}},
			},
		},
		Normality: []evaluation.NormalityResult{
			{Group: "All", Variable: flow.ColumnFlowPktsS, N: 6000, NUsed: 5000, W: 0.81, PValue: 0, Subsampled: true},
			{Group: "DDoS", Variable: flow.ColumnFlowPktsS, N: 1, NUsed: 1, Error: "insufficient data for flow_pkts_s in DDoS: have 1 observations, need 3"},
		},
		Intervals: []evaluation.MeanInterval{
			{Group: "DDoS", Variable: flow.ColumnFlowPktsS, N: 1738, Mean: 560.1234, Lower: 550.5, Upper: 569.75, Level: 0.95},
		},
		OneSample: []evaluation.OneSampleResult{
			{Group: "Normal", Variable: flow.ColumnFlowPktsS, NullMean: 75, T: 12.5, PValue: 1e-30, DF: 3261, Reject: true},
		},
		TwoSample: []evaluation.WelchResult{
			{Group1: "DDoS", Group2: "Normal", Variable: flow.ColumnFlowPktsS, T: 80.1, PValue: 0, MeanDiff: 480.5, Lower: 470, Upper: 491, DF: 1800.123},
			{Group1: "DDoS", Group2: "Normal", Variable: flow.ColumnFlowBytsS, T: 60.2, PValue: 0, MeanDiff: 150000, Lower: 140000, Upper: 160000, DF: 1790.5},
		},
		ANOVA: []*evaluation.ANOVAResult{{
			Group: "DDoS", Variable: flow.ColumnFlowPktsS, Factor: flow.ColumnDeviceType,
			Groups: []evaluation.GroupSummary{
				{Level: "camera", Count: 500, Mean: 840, StdDev: 216},
				{Level: "light", Count: 450, Mean: 315, StdDev: 81},
				{Level: "speaker", Count: 1, Mean: 525, Excluded: true},
			},
			DFBetween: 1, DFWithin: 948, F: 2500.5, PValue: 0, Alpha: 0.05, Significant: true,
			PostHoc: []evaluation.TukeyComparison{
				{Group1: "camera", Group2: "light", MeanDiff: -525, PAdj: 0, Lower: -540, Upper: -510, Reject: true},
			},
		}},
		Errors: []evaluation.StepError{
			{Step: evaluation.StepRegression, Kind: "convergence", Err: "logit failed to converge after 35 iterations: step tolerance not reached"},
		},
	}
}

func TestRenderText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderText(&buf, sampleResult()))
	out := buf.String()

	for _, want := range []string{
		"Rows: 5,000, Cols: 6",
		"Dropped rows with missing values: 12",
		"Shapiro normality tests:",
		"subsample of 6,000",
		"insufficient data for flow_pkts_s in DDoS",
		"CI(95%) for mean flow_pkts_s in DDoS: mean=560.1234, CI=(550.5000,569.7500), n=1738",
		"H0: mean(flow_pkts_s) = 75",
		"Decision: Reject H0",
		"Welch two-sample t-test: DDoS vs Normal",
		"[flow_pkts_s] t=80.100000, p=< 1e-300, mean_diff(DDoS-Normal)=480.5000, CI=(470.0000,491.0000), df~1800.12",
		"[flow_byts_s]",
		"One-way ANOVA (DDoS only): flow_pkts_s across device_type",
		"excluded (n < 2)",
		"Decision: Reject H0 (means not all equal)",
		"Tukey HSD (post-hoc), FWER=0.05:",
		"Failed steps:",
		"step tolerance not reached",
	} {
		assert.Contains(t, out, want)
	}
	assert.NotContains(t, out, "Logistic Regression:")
	assert.Equal(t, 1, strings.Count(out, "Welch two-sample t-test"))

	// sections follow pipeline order
	order := []string{"Label counts:", "Descriptive (All):", "Descriptive (By label):", "Shapiro normality tests:",
		"CI(95%)", "One-sample t-test", "Welch two-sample", "One-way ANOVA", "Tukey HSD", "Failed steps:"}
	last := -1
	for _, marker := range order {
		idx := strings.Index(out, marker)
		require.GreaterOrEqual(t, idx, 0, marker)
		assert.Greater(t, idx, last, marker)
		last = idx
	}
	assert.Less(t, strings.Index(out, "Normal  3,262"), strings.Index(out, "DDoS    1,738"))
}

func TestRenderText_Pipeline(t *testing.T) {
	records := make([]flow.Record, 0, 240)
	for i := 0; i < 240; i++ {
		r := flow.Record{
			Label:         flow.LabelNormal,
			Device:        flow.DeviceTypes[i%4],
			FlowPktsS:     80 + float64((i*37)%60),
			FlowBytsS:     20000 + float64((i*7919)%9000),
			FlowDurationS: 0.5 + float64(i%9)/3,
			AvgPktLen:     600 + float64((i*13)%90),
		}
		if i%3 == 0 {
			r.Label = flow.LabelDDoS
			r.FlowPktsS += 25 + float64(i%5)*4
		}
		records = append(records, r)
	}

	logger := zaptest.NewLogger(t)
	fw, err := evaluation.NewEvaluationFramework(nil, logger)
	require.NoError(t, err)
	res, err := fw.RunEvaluation(context.Background(), &evaluation.EvaluationRequest{Dataset: flow.NewDataset(records)})
	require.NoError(t, err)

	var text bytes.Buffer
	require.NoError(t, RenderText(&text, res))
	out := text.String()
	assert.Contains(t, out, "Rows: 240, Cols: 6")
	if res.Regression != nil {
		assert.Contains(t, out, "Logistic Regression:")
		assert.Contains(t, out, "Odds ratio for +10 in flow_pkts_s: OR10=")
		assert.Contains(t, out, "C(device_type)[T.light]")
	}

	var js bytes.Buffer
	require.NoError(t, RenderJSON(&js, res))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(js.Bytes(), &decoded))
	assert.Equal(t, res.RunID, decoded["runId"])
}
