package evaluation

import (
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/ThisIsMelika/statistical-analysis/pkg/flow"
)

// MeanInterval is a t-based confidence interval for a population mean.
type MeanInterval struct {
	Group    string  `json:"group,omitempty"`
	Variable string  `json:"variable,omitempty"`
	N        int     `json:"n"`
	Mean     float64 `json:"mean"`
	StdErr   float64 `json:"stdErr"`
	Lower    float64 `json:"lower"`
	Upper    float64 `json:"upper"`
	Level    float64 `json:"level"`
	DF       float64 `json:"df"`
}

func checkLevel(level float64) error {
	if level <= 0 || level >= 1 || math.IsNaN(level) {
		return &InputError{Field: "confidence_level", Reason: fmt.Sprintf("must be in (0, 1), got %v", level)}
	}
	return nil
}

func tCritical(level, df float64) float64 {
	return distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}.Quantile((1 + level) / 2)
}

// MeanConfidenceInterval returns mean ± t(n-1) * s/sqrt(n) at the given level.
func MeanConfidenceInterval(x []float64, level float64) (MeanInterval, error) {
	if err := checkLevel(level); err != nil {
		return MeanInterval{}, err
	}
	n := len(x)
	if n < 2 {
		return MeanInterval{}, insufficient("", "", n, 2)
	}
	mean, variance := stat.MeanVariance(x, nil)
	se := math.Sqrt(variance / float64(n))
	df := float64(n - 1)
	half := tCritical(level, df) * se
	return MeanInterval{
		N:      n,
		Mean:   mean,
		StdErr: se,
		Lower:  mean - half,
		Upper:  mean + half,
		Level:  level,
		DF:     df,
	}, nil
}

// OneSampleResult is a two-sided one-sample t-test.
type OneSampleResult struct {
	Group    string  `json:"group,omitempty"`
	Variable string  `json:"variable,omitempty"`
	N        int     `json:"n"`
	Mean     float64 `json:"mean"`
	NullMean float64 `json:"nullMean"`
	T        float64 `json:"t"`
	DF       float64 `json:"df"`
	PValue   float64 `json:"pValue"`
	Alpha    float64 `json:"alpha"`
	Reject   bool    `json:"reject"`
}

// OneSampleTTest tests H0: mean(x) = mu0 against the two-sided alternative.
func OneSampleTTest(x []float64, mu0, alpha float64) (OneSampleResult, error) {
	n := len(x)
	if n < 2 {
		return OneSampleResult{}, insufficient("", "", n, 2)
	}
	mean, variance := stat.MeanVariance(x, nil)
	if variance == 0 {
		return OneSampleResult{}, &InputError{Reason: "sample has zero variance"}
	}
	se := math.Sqrt(variance / float64(n))
	t := (mean - mu0) / se
	df := float64(n - 1)
	p := tTwoSidedP(t, df)
	return OneSampleResult{
		N:        n,
		Mean:     mean,
		NullMean: mu0,
		T:        t,
		DF:       df,
		PValue:   p,
		Alpha:    alpha,
		Reject:   p < alpha,
	}, nil
}

// WelchResult is Welch's unequal-variance two-sample t-test of mean(x1) - mean(x2).
type WelchResult struct {
	Group1   string  `json:"group1,omitempty"`
	Group2   string  `json:"group2,omitempty"`
	Variable string  `json:"variable,omitempty"`
	N1       int     `json:"n1"`
	N2       int     `json:"n2"`
	Mean1    float64 `json:"mean1"`
	Mean2    float64 `json:"mean2"`
	MeanDiff float64 `json:"meanDiff"`
	StdErr   float64 `json:"stdErr"`
	T        float64 `json:"t"`
	DF       float64 `json:"df"` // Welch-Satterthwaite
	PValue   float64 `json:"pValue"`
	Lower    float64 `json:"lower"`
	Upper    float64 `json:"upper"`
	Level    float64 `json:"level"`
	Reject   bool    `json:"reject"`
}

// WelchTTest compares two independent samples without assuming equal
// variances. The interval uses the same Welch-Satterthwaite df as the test.
func WelchTTest(x1, x2 []float64, level, alpha float64) (WelchResult, error) {
	if err := checkLevel(level); err != nil {
		return WelchResult{}, err
	}
	n1, n2 := len(x1), len(x2)
	if n1 < 2 {
		return WelchResult{}, insufficient("group1", "", n1, 2)
	}
	if n2 < 2 {
		return WelchResult{}, insufficient("group2", "", n2, 2)
	}
	m1, v1 := stat.MeanVariance(x1, nil)
	m2, v2 := stat.MeanVariance(x2, nil)
	a := v1 / float64(n1)
	b := v2 / float64(n2)
	if a+b == 0 {
		return WelchResult{}, &InputError{Reason: "both samples have zero variance"}
	}
	se := math.Sqrt(a + b)
	df := (a + b) * (a + b) / (a*a/float64(n1-1) + b*b/float64(n2-1))
	diff := m1 - m2
	t := diff / se
	p := tTwoSidedP(t, df)
	half := tCritical(level, df) * se
	return WelchResult{
		N1:       n1,
		N2:       n2,
		Mean1:    m1,
		Mean2:    m2,
		MeanDiff: diff,
		StdErr:   se,
		T:        t,
		DF:       df,
		PValue:   p,
		Lower:    diff - half,
		Upper:    diff + half,
		Level:    level,
		Reject:   p < alpha,
	}, nil
}

// EstimateIntervals computes every requested mean interval.
func (sa *StatisticalAnalyzer) EstimateIntervals(ds *flow.Dataset, targets []IntervalTarget) ([]MeanInterval, error) {
	var out []MeanInterval
	for _, t := range targets {
		values, err := groupColumn(ds, t.Group, t.Variable)
		if err != nil {
			return out, err
		}
		ci, err := MeanConfidenceInterval(values, sa.config.ConfidenceLevel)
		if err != nil {
			return out, cellError(err, t.Group, t.Variable)
		}
		ci.Group, ci.Variable = t.Group, t.Variable
		sa.logger.Debug("Confidence interval computed",
			zap.String("group", t.Group),
			zap.String("variable", t.Variable),
			zap.Float64("lower", ci.Lower),
			zap.Float64("upper", ci.Upper))
		out = append(out, ci)
	}
	return out, nil
}

// RunOneSampleTests evaluates every requested one-sample hypothesis.
func (sa *StatisticalAnalyzer) RunOneSampleTests(ds *flow.Dataset, targets []OneSampleTarget) ([]OneSampleResult, error) {
	var out []OneSampleResult
	for _, t := range targets {
		values, err := groupColumn(ds, t.Group, t.Variable)
		if err != nil {
			return out, err
		}
		res, err := OneSampleTTest(values, t.NullMean, sa.config.SignificanceLevel)
		if err != nil {
			return out, cellError(err, t.Group, t.Variable)
		}
		res.Group, res.Variable = t.Group, t.Variable
		out = append(out, res)
	}
	return out, nil
}

// RunTwoSampleTests evaluates every requested Welch comparison.
func (sa *StatisticalAnalyzer) RunTwoSampleTests(ds *flow.Dataset, targets []TwoSampleTarget) ([]WelchResult, error) {
	var out []WelchResult
	for _, t := range targets {
		x1, err := groupColumn(ds, t.Group1, t.Variable)
		if err != nil {
			return out, err
		}
		x2, err := groupColumn(ds, t.Group2, t.Variable)
		if err != nil {
			return out, err
		}
		res, err := WelchTTest(x1, x2, sa.config.ConfidenceLevel, sa.config.SignificanceLevel)
		if err != nil {
			group := t.Group1 + "-" + t.Group2
			if _, ok := err.(*InsufficientDataError); ok {
				group = t.Group1
				if len(x1) >= 2 {
					group = t.Group2
				}
			}
			return out, cellError(err, group, t.Variable)
		}
		res.Group1, res.Group2, res.Variable = t.Group1, t.Group2, t.Variable
		sa.logger.Debug("Welch test computed",
			zap.String("variable", t.Variable),
			zap.Float64("t", res.T),
			zap.Float64("df", res.DF))
		out = append(out, res)
	}
	return out, nil
}
