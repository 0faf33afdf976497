package evaluation

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ThisIsMelika/statistical-analysis/pkg/flow"
)

func TestDescribe(t *testing.T) {
	stats, err := Describe([]float64{4, 1, 3, 2})
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Count)
	assert.Equal(t, 2.5, stats.Mean)
	assert.Equal(t, 2.5, stats.Median)
	assert.Equal(t, 1.75, stats.Q1)
	assert.Equal(t, 3.25, stats.Q3)
	assert.Equal(t, 1.0, stats.Min)
	assert.Equal(t, 4.0, stats.Max)
	assert.InDelta(t, math.Sqrt(5.0/3.0), stats.StdDev, 1e-12)
}

func TestDescribe_EdgeCases(t *testing.T) {
	_, err := Describe(nil)
	var insufficientErr *InsufficientDataError
	require.ErrorAs(t, err, &insufficientErr)

	single, err := Describe([]float64{7})
	require.NoError(t, err)
	assert.True(t, math.IsNaN(single.StdDev))
	assert.Equal(t, 7.0, single.Median)

	data, err := json.Marshal(single)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"std":null`)

	var back DescriptiveStats
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, math.IsNaN(back.StdDev))
	assert.Equal(t, 7.0, back.Mean)
}

func TestDescribeDataset_GroupCountsSumToTotal(t *testing.T) {
	ds := generated(t, 800)
	table, err := newTestAnalyzer(t).DescribeDataset(ds)
	require.NoError(t, err)
	assert.Equal(t, []string{GroupAll, "DDoS", "Normal"}, table.Groups)

	for _, col := range flow.ContinuousColumns {
		all, ok := table.Lookup(GroupAll, col)
		require.True(t, ok)
		assert.Equal(t, ds.Len(), all.Count)

		sum := 0
		for _, g := range table.Groups[1:] {
			s, ok := table.Lookup(g, col)
			require.True(t, ok)
			sum += s.Count
		}
		assert.Equal(t, all.Count, sum, col)
	}
}

func TestDescribeDataset_Empty(t *testing.T) {
	_, err := newTestAnalyzer(t).DescribeDataset(flow.NewDataset(nil))
	var insufficientErr *InsufficientDataError
	assert.ErrorAs(t, err, &insufficientErr)
}

func TestStatisticalConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*StatisticalConfig)
		field  string
	}{
		{name: "defaults", mutate: func(*StatisticalConfig) {}},
		{name: "confidence out of range", mutate: func(c *StatisticalConfig) { c.ConfidenceLevel = 1 }, field: "confidence_level"},
		{name: "alpha out of range", mutate: func(c *StatisticalConfig) { c.SignificanceLevel = 0 }, field: "significance_level"},
		{name: "unknown column", mutate: func(c *StatisticalConfig) { c.Columns = []string{"label"} }, field: "columns"},
		{name: "no columns", mutate: func(c *StatisticalConfig) { c.Columns = nil }, field: "columns"},
		{name: "tiny subsample", mutate: func(c *StatisticalConfig) { c.NormalityMaxN = 2 }, field: "normality_max_n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultStatisticalConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var inputErr *InputError
			require.ErrorAs(t, err, &inputErr)
			assert.Equal(t, tt.field, inputErr.Field)
		})
	}
}

func TestNewStatisticalAnalyzer_CopiesConfig(t *testing.T) {
	cfg := DefaultStatisticalConfig()
	sa := NewStatisticalAnalyzer(nil, &cfg)
	cfg.Columns[0] = "mutated"
	cfg.SignificanceLevel = 0.5
	assert.Equal(t, flow.ColumnFlowPktsS, sa.Config().Columns[0])
	assert.Equal(t, 0.05, sa.Config().SignificanceLevel)
}

func TestDistributionTails(t *testing.T) {
	// F(2, 10) has the closed form (1 + 2f/10)^-5.
	f := 17.058823529411764
	assert.InDelta(t, math.Pow(1+2*f/10, -5), fSurvival(f, 2, 10), 1e-12)
	assert.Equal(t, 1.0, fSurvival(0, 2, 10))

	// chi-square with 2 df is exponential with mean 2.
	assert.InDelta(t, math.Exp(-3), chiSquareSurvival(6, 2), 1e-12)

	assert.InDelta(t, 0.2301996, tTwoSidedP(math.Sqrt2, 4), 1e-6)
	assert.Equal(t, 0.0, tTwoSidedP(math.Inf(1), 4))
	assert.True(t, math.IsNaN(tTwoSidedP(math.NaN(), 4)))
}
