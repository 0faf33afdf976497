package evaluation

import (
	"fmt"
	"math"
)

// ResultRow is one flattened estimate or test outcome, the unit written to
// result sinks. Float fields hold NaN when not applicable to the row.
type ResultRow struct {
	RunID     string
	Step      string
	Group     string
	Variable  string
	Term      string
	Statistic float64
	PValue    float64
	Estimate  float64
	CILower   float64
	CIUpper   float64
	DF        float64
	N         int
}

func newRow(runID, step, group, variable, term string) ResultRow {
	nan := math.NaN()
	return ResultRow{
		RunID: runID, Step: step, Group: group, Variable: variable, Term: term,
		Statistic: nan, PValue: nan, Estimate: nan, CILower: nan, CIUpper: nan, DF: nan,
	}
}

// ResultRows flattens the run into sink rows. (Step, Group, Variable, Term)
// is unique within a run.
func (r *EvaluationResult) ResultRows() []ResultRow {
	var rows []ResultRow
	id := r.RunID

	if r.Descriptive != nil {
		for _, d := range r.Descriptive.Rows {
			row := newRow(id, StepDescribe, d.Group, d.Variable, "mean")
			row.Estimate = d.Stats.Mean
			row.Statistic = d.Stats.StdDev
			row.CILower, row.CIUpper = d.Stats.Min, d.Stats.Max
			row.N = d.Stats.Count
			rows = append(rows, row)
		}
	}
	for _, n := range r.Normality {
		if n.Error != "" {
			continue
		}
		row := newRow(id, StepNormality, n.Group, n.Variable, "shapiro_w")
		row.Statistic, row.PValue, row.N = n.W, n.PValue, n.NUsed
		rows = append(rows, row)
	}
	for _, ci := range r.Intervals {
		row := newRow(id, StepIntervals, ci.Group, ci.Variable, fmt.Sprintf("mean_ci_%g", ci.Level))
		row.Estimate, row.CILower, row.CIUpper = ci.Mean, ci.Lower, ci.Upper
		row.DF, row.N = ci.DF, ci.N
		rows = append(rows, row)
	}
	for _, t := range r.OneSample {
		row := newRow(id, StepOneSample, t.Group, t.Variable, fmt.Sprintf("mean=%g", t.NullMean))
		row.Statistic, row.PValue, row.Estimate = t.T, t.PValue, t.Mean
		row.DF, row.N = t.DF, t.N
		rows = append(rows, row)
	}
	for _, w := range r.TwoSample {
		row := newRow(id, StepTwoSample, w.Group1+"-"+w.Group2, w.Variable, "welch_t")
		row.Statistic, row.PValue, row.Estimate = w.T, w.PValue, w.MeanDiff
		row.CILower, row.CIUpper = w.Lower, w.Upper
		row.DF, row.N = w.DF, w.N1+w.N2
		rows = append(rows, row)
	}
	for _, a := range r.ANOVA {
		row := newRow(id, StepANOVA, a.Group, a.Variable, "f:"+a.Factor)
		row.Statistic, row.PValue = a.F, a.PValue
		row.DF = float64(a.DFBetween)
		row.N = a.DFWithin + a.DFBetween + 1
		rows = append(rows, row)
		for _, c := range a.PostHoc {
			row := newRow(id, StepANOVA, a.Group, a.Variable, "tukey:"+a.Factor+":"+c.Group1+"-"+c.Group2)
			row.Statistic, row.PValue, row.Estimate = c.Q, c.PAdj, c.MeanDiff
			row.CILower, row.CIUpper = c.Lower, c.Upper
			row.DF = float64(a.DFWithin)
			rows = append(rows, row)
		}
	}
	if reg := r.Regression; reg != nil && reg.Model != nil {
		for _, c := range reg.Model.Coefficients {
			row := newRow(id, StepRegression, GroupAll, "is_ddos", c.Name)
			row.Statistic, row.PValue, row.Estimate = c.Z, c.PValue, c.Estimate
			row.CILower, row.CIUpper = c.Lower, c.Upper
			row.N = reg.Model.NObs
			rows = append(rows, row)
		}
		if e := reg.Effect; e != nil {
			row := newRow(id, StepRegression, GroupAll, e.Variable, fmt.Sprintf("odds_ratio_%+g", e.Increment))
			row.Estimate, row.CILower, row.CIUpper = e.OddsRatio, e.Lower, e.Upper
			row.N = reg.Model.NObs
			rows = append(rows, row)
		}
		for _, a := range reg.Ablation {
			if a.Error != "" {
				continue
			}
			row := newRow(id, StepAblation, GroupAll, "is_ddos", a.Term)
			row.Statistic, row.PValue, row.DF = a.LRStatistic, a.PValue, float64(a.DF)
			row.N = reg.Model.NObs
			rows = append(rows, row)
		}
	}
	return rows
}
