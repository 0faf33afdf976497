package evaluation

import (
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/ThisIsMelika/statistical-analysis/pkg/flow"
)

// GroupSummary describes one factor level entering an ANOVA.
type GroupSummary struct {
	Level    string  `json:"level"`
	Count    int     `json:"count"`
	Mean     float64 `json:"mean"`
	StdDev   float64 `json:"std"`      // zero when excluded
	Excluded bool    `json:"excluded"` // fewer than two observations
}

// TukeyComparison is one Tukey-Kramer pairwise comparison. MeanDiff is
// mean(Group2) - mean(Group1) with Group1 < Group2 lexically.
type TukeyComparison struct {
	Group1   string  `json:"group1"`
	Group2   string  `json:"group2"`
	MeanDiff float64 `json:"meanDiff"`
	StdErr   float64 `json:"stdErr"`
	Q        float64 `json:"q"`
	PAdj     float64 `json:"pAdj"`
	PRaw     float64 `json:"pRaw"` // unadjusted pooled-variance t-test
	Lower    float64 `json:"lower"`
	Upper    float64 `json:"upper"`
	Reject   bool    `json:"reject"`
}

// ANOVAResult is a one-way fixed-effects ANOVA with its Tukey HSD post-hoc.
type ANOVAResult struct {
	Group       string            `json:"group,omitempty"`
	Variable    string            `json:"variable,omitempty"`
	Factor      string            `json:"factor,omitempty"`
	Groups      []GroupSummary    `json:"groups"`
	DFBetween   int               `json:"dfBetween"`
	DFWithin    int               `json:"dfWithin"`
	SSBetween   float64           `json:"ssBetween"`
	SSWithin    float64           `json:"ssWithin"`
	MSE         float64           `json:"mse"`
	F           float64           `json:"f"`
	PValue      float64           `json:"pValue"`
	Alpha       float64           `json:"alpha"`
	Significant bool              `json:"significant"`
	CriticalQ   float64           `json:"criticalQ"`
	PostHoc     []TukeyComparison `json:"postHoc"`
}

// Included returns the summaries of the levels that entered the test.
func (r *ANOVAResult) Included() []GroupSummary {
	var out []GroupSummary
	for _, g := range r.Groups {
		if !g.Excluded {
			out = append(out, g)
		}
	}
	return out
}

// OneWayANOVA tests equality of means across groups and runs Tukey HSD on
// the same groups. Levels with fewer than two observations are reported as
// excluded; at least two levels must remain.
func OneWayANOVA(groups map[string][]float64, alpha float64) (*ANOVAResult, error) {
	levels := make([]string, 0, len(groups))
	for level := range groups {
		levels = append(levels, level)
	}
	sort.Strings(levels)

	res := &ANOVAResult{Alpha: alpha}
	var (
		included [][]float64
		total    int
		grand    float64
	)
	for _, level := range levels {
		x := groups[level]
		g := GroupSummary{Level: level, Count: len(x)}
		if len(x) > 0 {
			g.Mean = stat.Mean(x, nil)
		}
		if len(x) < 2 {
			g.Excluded = true
		} else {
			g.StdDev = stat.StdDev(x, nil)
			included = append(included, x)
			total += len(x)
			for _, v := range x {
				grand += v
			}
		}
		res.Groups = append(res.Groups, g)
	}
	if len(included) < 2 {
		return res, insufficient("", "", len(included), 2)
	}
	grand /= float64(total)

	k := len(included)
	summaries := res.Included()
	for _, g := range summaries {
		d := g.Mean - grand
		res.SSBetween += float64(g.Count) * d * d
	}
	for i, x := range included {
		m := summaries[i].Mean
		for _, v := range x {
			d := v - m
			res.SSWithin += d * d
		}
	}
	res.DFBetween = k - 1
	res.DFWithin = total - k
	if res.DFWithin < 1 {
		return res, insufficient("", "", total, k+1)
	}
	res.MSE = res.SSWithin / float64(res.DFWithin)
	if res.MSE == 0 {
		return res, &InputError{Reason: "zero within-group variance"}
	}
	res.F = (res.SSBetween / float64(res.DFBetween)) / res.MSE
	res.PValue = fSurvival(res.F, float64(res.DFBetween), float64(res.DFWithin))
	res.Significant = res.PValue < alpha

	res.PostHoc, res.CriticalQ = tukeyHSD(summaries, res.MSE, res.DFWithin, alpha)
	return res, nil
}

// tukeyTailFloor is where the studentized range upper tail stops being
// resolvable as 1 - CDF.
const tukeyTailFloor = 1e-10

// tukeyHSD compares every pair of groups, which must be sorted by level.
func tukeyHSD(groups []GroupSummary, mse float64, dfWithin int, alpha float64) ([]TukeyComparison, float64) {
	k := float64(len(groups))
	df := float64(dfWithin)
	qcrit := studentizedRangeQuantile(1-alpha, 1, k, df)

	var out []TukeyComparison
	for i := 0; i < len(groups); i++ {
		for j := i + 1; j < len(groups); j++ {
			g1, g2 := groups[i], groups[j]
			diff := g2.Mean - g1.Mean
			inv := 1/float64(g1.Count) + 1/float64(g2.Count)
			se := math.Sqrt(mse / 2 * inv)
			q := math.Abs(diff) / se
			pAdj := 1 - studentizedRangeCDF(q, 1, k, df)
			pRaw := tTwoSidedP(diff/math.Sqrt(mse*inv), df)
			if pAdj < tukeyTailFloor {
				// 1 - CDF cancels to zero in the far tail; the unadjusted p is a lower bound.
				pAdj = math.Max(pAdj, pRaw)
			}
			pAdj = math.Min(math.Max(pAdj, 0), 1)
			out = append(out, TukeyComparison{
				Group1:   g1.Level,
				Group2:   g2.Level,
				MeanDiff: diff,
				StdErr:   se,
				Q:        q,
				PAdj:     pAdj,
				PRaw:     pRaw,
				Lower:    diff - qcrit*se,
				Upper:    diff + qcrit*se,
				Reject:   pAdj < alpha,
			})
		}
	}
	return out, qcrit
}

// RunANOVA evaluates one ANOVA target.
func (sa *StatisticalAnalyzer) RunANOVA(ds *flow.Dataset, target ANOVATarget) (*ANOVAResult, error) {
	subset := ds
	if target.Group != GroupAll {
		label, err := flow.ParseLabel(target.Group)
		if err != nil {
			return nil, &InputError{Field: "group", Reason: err.Error(), Err: err}
		}
		subset = ds.WithLabel(label)
	}

	var (
		groups map[string][]float64
		err    error
	)
	switch target.Factor {
	case flow.ColumnDeviceType:
		groups, err = subset.SplitByDevice(target.Variable)
	case flow.ColumnLabel:
		groups, err = subset.SplitByLabel(target.Variable)
	default:
		return nil, &InputError{Field: "factor", Reason: fmt.Sprintf("%q is not categorical", target.Factor)}
	}
	if err != nil {
		return nil, &InputError{Field: target.Variable, Reason: "unknown numeric column", Err: err}
	}

	res, err := OneWayANOVA(groups, sa.config.SignificanceLevel)
	if res != nil {
		res.Group, res.Variable, res.Factor = target.Group, target.Variable, target.Factor
	}
	if err != nil {
		return res, cellError(err, target.Group, target.Variable)
	}
	for _, g := range res.Groups {
		if g.Excluded {
			sa.logger.Warn("Level excluded from ANOVA",
				zap.String("factor", target.Factor),
				zap.String("level", g.Level),
				zap.Int("count", g.Count))
		}
	}
	sa.logger.Debug("ANOVA computed",
		zap.String("variable", target.Variable),
		zap.Float64("f", res.F),
		zap.Int("comparisons", len(res.PostHoc)))
	return res, nil
}
