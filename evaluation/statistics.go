package evaluation

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mathext"
	"gonum.org/v1/gonum/stat"

	"github.com/ThisIsMelika/statistical-analysis/pkg/flow"
)

// GroupAll names the whole-dataset group in descriptive output.
const GroupAll = "All"

// StatisticalAnalyzer runs the statistical engines over a flow dataset with a
// fixed configuration.
type StatisticalAnalyzer struct {
	logger *zap.Logger
	config StatisticalConfig
}

// StatisticalConfig holds the analysis parameters. It is copied into the
// analyzer and never mutated afterwards.
type StatisticalConfig struct {
	ConfidenceLevel   float64  `json:"confidenceLevel" yaml:"confidence_level" mapstructure:"confidence_level"`       // Confidence level for intervals
	SignificanceLevel float64  `json:"significanceLevel" yaml:"significance_level" mapstructure:"significance_level"` // Alpha for decisions
	Columns           []string `json:"columns" yaml:"columns" mapstructure:"columns"`                                 // Continuous columns to describe and test
	NormalityMaxN     int      `json:"normalityMaxN" yaml:"normality_max_n" mapstructure:"normality_max_n"`           // Subsample cap for Shapiro-Wilk
	Seed              uint64   `json:"seed" yaml:"seed" mapstructure:"seed"`                                          // Subsampling seed
	MaxIterations     int      `json:"maxIterations" yaml:"max_iterations" mapstructure:"max_iterations"`             // Logistic fit iteration cap
	Tolerance         float64  `json:"tolerance" yaml:"tolerance" mapstructure:"tolerance"`                           // Logistic fit step tolerance
}

// DefaultStatisticalConfig returns the standard analysis parameters.
func DefaultStatisticalConfig() StatisticalConfig {
	return StatisticalConfig{
		ConfidenceLevel:   0.95,
		SignificanceLevel: 0.05,
		Columns:           append([]string(nil), flow.ContinuousColumns...),
		NormalityMaxN:     5000,
		Seed:              42,
		MaxIterations:     35,
		Tolerance:         1e-8,
	}
}

// Validate checks parameter ranges and column names.
func (c StatisticalConfig) Validate() error {
	if c.ConfidenceLevel <= 0 || c.ConfidenceLevel >= 1 {
		return &InputError{Field: "confidence_level", Reason: fmt.Sprintf("must be in (0, 1), got %v", c.ConfidenceLevel)}
	}
	if c.SignificanceLevel <= 0 || c.SignificanceLevel >= 1 {
		return &InputError{Field: "significance_level", Reason: fmt.Sprintf("must be in (0, 1), got %v", c.SignificanceLevel)}
	}
	if len(c.Columns) == 0 {
		return &InputError{Field: "columns", Reason: "at least one column is required"}
	}
	for _, col := range c.Columns {
		if !flow.IsContinuous(col) {
			return &InputError{Field: "columns", Reason: fmt.Sprintf("%q is not a numeric column", col)}
		}
	}
	if c.NormalityMaxN < 3 {
		return &InputError{Field: "normality_max_n", Reason: "must be at least 3"}
	}
	if c.MaxIterations < 1 {
		return &InputError{Field: "max_iterations", Reason: "must be positive"}
	}
	if c.Tolerance <= 0 {
		return &InputError{Field: "tolerance", Reason: "must be positive"}
	}
	return nil
}

// NewStatisticalAnalyzer creates a new statistical analyzer. A nil config
// selects DefaultStatisticalConfig.
func NewStatisticalAnalyzer(logger *zap.Logger, config *StatisticalConfig) *StatisticalAnalyzer {
	cfg := DefaultStatisticalConfig()
	if config != nil {
		cfg = *config
		cfg.Columns = append([]string(nil), config.Columns...)
	}
	return &StatisticalAnalyzer{logger: logger, config: cfg}
}

// Config returns a copy of the analyzer configuration.
func (sa *StatisticalAnalyzer) Config() StatisticalConfig {
	cfg := sa.config
	cfg.Columns = append([]string(nil), sa.config.Columns...)
	return cfg
}

// DescriptiveStats summarises one numeric sample. StdDev is the n-1
// estimate and is NaN for a single observation.
type DescriptiveStats struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std"`
	Min    float64 `json:"min"`
	Q1     float64 `json:"q1"`
	Median float64 `json:"median"`
	Q3     float64 `json:"q3"`
	Max    float64 `json:"max"`
}

// MarshalJSON writes an undefined standard deviation as null.
func (d DescriptiveStats) MarshalJSON() ([]byte, error) {
	type plain DescriptiveStats
	out := struct {
		plain
		StdDev *float64 `json:"std"`
	}{plain: plain(d)}
	if !math.IsNaN(d.StdDev) {
		out.StdDev = &d.StdDev
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts the null standard deviation written by MarshalJSON.
func (d *DescriptiveStats) UnmarshalJSON(data []byte) error {
	type plain DescriptiveStats
	var in struct {
		plain
		StdDev *float64 `json:"std"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*d = DescriptiveStats(in.plain)
	d.StdDev = math.NaN()
	if in.StdDev != nil {
		d.StdDev = *in.StdDev
	}
	return nil
}

// Describe computes count, mean, standard deviation, extremes and quartiles.
func Describe(x []float64) (DescriptiveStats, error) {
	if len(x) == 0 {
		return DescriptiveStats{}, insufficient("", "", 0, 1)
	}
	sorted := append([]float64(nil), x...)
	sort.Float64s(sorted)

	ds := DescriptiveStats{
		Count:  len(x),
		Mean:   stat.Mean(x, nil),
		StdDev: math.NaN(),
		Min:    sorted[0],
		Q1:     quantile(sorted, 0.25),
		Median: quantile(sorted, 0.5),
		Q3:     quantile(sorted, 0.75),
		Max:    sorted[len(sorted)-1],
	}
	if len(x) > 1 {
		ds.StdDev = stat.StdDev(x, nil)
	}
	return ds, nil
}

// quantile interpolates linearly between closest ranks of sorted data,
// so the median of an even sample is the mean of the middle pair.
func quantile(sorted []float64, p float64) float64 {
	h := p * float64(len(sorted)-1)
	lo := math.Floor(h)
	i := int(lo)
	if i+1 >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	return sorted[i] + (h-lo)*(sorted[i+1]-sorted[i])
}

// GroupDescription is one (group, variable) cell of a descriptive table.
type GroupDescription struct {
	Group    string           `json:"group"`
	Variable string           `json:"variable"`
	Stats    DescriptiveStats `json:"stats"`
}

// DescriptiveTable holds summaries for the whole dataset and each label.
type DescriptiveTable struct {
	Groups    []string           `json:"groups"`
	Variables []string           `json:"variables"`
	Rows      []GroupDescription `json:"rows"`
}

// Lookup returns the summary for (group, variable).
func (t *DescriptiveTable) Lookup(group, variable string) (DescriptiveStats, bool) {
	for _, r := range t.Rows {
		if r.Group == group && r.Variable == variable {
			return r.Stats, true
		}
	}
	return DescriptiveStats{}, false
}

// DescribeDataset summarises every configured column overall and per label.
func (sa *StatisticalAnalyzer) DescribeDataset(ds *flow.Dataset) (*DescriptiveTable, error) {
	if ds.Len() == 0 {
		return nil, insufficient(GroupAll, "", 0, 1)
	}
	table := &DescriptiveTable{
		Groups:    []string{GroupAll},
		Variables: append([]string(nil), sa.config.Columns...),
	}
	for _, l := range ds.ObservedLabels() {
		table.Groups = append(table.Groups, string(l))
	}

	for _, group := range table.Groups {
		subset := ds
		if group != GroupAll {
			subset = ds.WithLabel(flow.Label(group))
		}
		for _, col := range table.Variables {
			values, err := subset.Column(col)
			if err != nil {
				return nil, &InputError{Field: col, Reason: "unknown numeric column", Err: err}
			}
			stats, err := Describe(values)
			if err != nil {
				return nil, err
			}
			table.Rows = append(table.Rows, GroupDescription{Group: group, Variable: col, Stats: stats})
		}
	}

	sa.logger.Debug("Descriptive statistics computed",
		zap.Int("groups", len(table.Groups)),
		zap.Int("variables", len(table.Variables)))
	return table, nil
}

// tTwoSidedP returns P(|T| >= |t|) for Student's t with df degrees of freedom.
func tTwoSidedP(t, df float64) float64 {
	switch {
	case math.IsNaN(t):
		return math.NaN()
	case math.IsInf(t, 0):
		return 0
	}
	return mathext.RegIncBeta(df/2, 0.5, df/(df+t*t))
}

// fSurvival returns P(F >= f) for the F distribution with (d1, d2) degrees of
// freedom, computed from the incomplete beta so small tails keep precision.
func fSurvival(f, d1, d2 float64) float64 {
	if f <= 0 {
		return 1
	}
	if math.IsInf(f, 1) {
		return 0
	}
	return mathext.RegIncBeta(d2/2, d1/2, d2/(d2+d1*f))
}

// chiSquareSurvival returns P(X >= x) for a chi-square variable with k degrees of freedom.
func chiSquareSurvival(x, k float64) float64 {
	if x <= 0 {
		return 1
	}
	return mathext.GammaIncRegComp(k/2, x/2)
}
