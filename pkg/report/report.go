// Package report renders evaluation results for people and for machines.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"github.com/ThisIsMelika/statistical-analysis/evaluation"
)

// FormatP renders a p-value with six significant digits. Values that
// underflow double precision are shown as a bound instead of 0.
func FormatP(p float64) string {
	switch {
	case math.IsNaN(p):
		return "NaN"
	case p < 1e-300:
		return "< 1e-300"
	}
	return fmt.Sprintf("%.6g", p)
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return "NaN"
	}
	return fmt.Sprintf("%.4f", v)
}

func decision(reject bool, rejectText string) string {
	if reject {
		return rejectText
	}
	return "Fail to reject H0"
}

// RenderJSON writes res as indented JSON.
func RenderJSON(w io.Writer, res *evaluation.EvaluationResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	return nil
}

// RenderText writes the plain-text report of res to w. Sections appear in
// pipeline order; sections of failed steps are left out and the failures
// are listed at the end.
func RenderText(w io.Writer, res *evaluation.EvaluationResult) error {
	var buf bytes.Buffer
	writeDataset(&buf, res)
	writeDescriptive(&buf, res.Descriptive)
	writeNormality(&buf, res.Normality)
	writeIntervals(&buf, res.Intervals)
	writeOneSample(&buf, res.OneSample)
	writeTwoSample(&buf, res.TwoSample)
	for _, a := range res.ANOVA {
		writeANOVA(&buf, a)
	}
	writeRegression(&buf, res.Regression)
	writeBaseline(&buf, res.Baseline)
	writeErrors(&buf, res.Errors)

	_, err := w.Write(buf.Bytes())
	return err
}

func newTable(buf *bytes.Buffer) *tabwriter.Writer {
	return tabwriter.NewWriter(buf, 0, 0, 2, ' ', 0)
}

func writeCounts(buf *bytes.Buffer, title string, counts map[string]int) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	// largest first, like a frequency table
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	fmt.Fprintf(buf, "%s:\n", title)
	tw := newTable(buf)
	for _, k := range keys {
		fmt.Fprintf(tw, "  %s\t%s\n", k, humanize.Comma(int64(counts[k])))
	}
	tw.Flush()
}

func writeDataset(buf *bytes.Buffer, res *evaluation.EvaluationResult) {
	d := res.Dataset
	fmt.Fprintf(buf, "Run %s (%s)\n", res.RunID, res.Status)
	if d.Path != "" {
		fmt.Fprintf(buf, "Dataset: %s\n", d.Path)
	}
	if d.Fingerprint != "" {
		fmt.Fprintf(buf, "BLAKE3: %s\n", d.Fingerprint)
	}
	if env := res.Environment; env != nil {
		fmt.Fprintf(buf, "Environment: %s %s/%s, %d CPUs", env.GoVersion, env.GOOS, env.GOARCH, env.NumCPU)
		if env.TotalMemory > 0 {
			fmt.Fprintf(buf, ", %s memory", humanize.IBytes(env.TotalMemory))
		}
		buf.WriteString("\n")
	}
	fmt.Fprintf(buf, "\nRows: %s, Cols: %d\n", humanize.Comma(int64(d.Rows)), d.Columns)
	if d.DroppedRows > 0 {
		fmt.Fprintf(buf, "Dropped rows with missing values: %s\n", humanize.Comma(int64(d.DroppedRows)))
	}
	writeCounts(buf, "Label counts", d.LabelCounts)
	writeCounts(buf, "Device counts", d.DeviceCounts)
}

func writeDescriptive(buf *bytes.Buffer, table *evaluation.DescriptiveTable) {
	if table == nil {
		return
	}
	fmt.Fprintf(buf, "\nDescriptive (All):\n")
	tw := newTable(buf)
	fmt.Fprintln(tw, "variable\tcount\tmean\tstd\tmin\t25%\t50%\t75%\tmax")
	for _, r := range table.Rows {
		if r.Group != evaluation.GroupAll {
			continue
		}
		s := r.Stats
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n", r.Variable, s.Count,
			formatFloat(s.Mean), formatFloat(s.StdDev), formatFloat(s.Min),
			formatFloat(s.Q1), formatFloat(s.Median), formatFloat(s.Q3), formatFloat(s.Max))
	}
	tw.Flush()

	fmt.Fprintf(buf, "\nDescriptive (By label):\n")
	tw = newTable(buf)
	fmt.Fprintln(tw, "label\tvariable\tcount\tmean\tstd\tmin\tmedian\tmax")
	for _, r := range table.Rows {
		if r.Group == evaluation.GroupAll {
			continue
		}
		s := r.Stats
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\t%s\t%s\n", r.Group, r.Variable, s.Count,
			formatFloat(s.Mean), formatFloat(s.StdDev), formatFloat(s.Min),
			formatFloat(s.Median), formatFloat(s.Max))
	}
	tw.Flush()
}

func writeNormality(buf *bytes.Buffer, results []evaluation.NormalityResult) {
	if len(results) == 0 {
		return
	}
	fmt.Fprintf(buf, "\nShapiro normality tests:\n")
	tw := newTable(buf)
	fmt.Fprintln(tw, "group\tvariable\tn_used\tW\tp_value\tnote")
	for _, r := range results {
		if r.Error != "" {
			fmt.Fprintf(tw, "%s\t%s\t%d\t-\t-\t%s\n", r.Group, r.Variable, r.NUsed, r.Error)
			continue
		}
		note := ""
		if r.Subsampled {
			note = fmt.Sprintf("subsample of %s", humanize.Comma(int64(r.N)))
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%.6f\t%s\t%s\n", r.Group, r.Variable, r.NUsed, r.W, FormatP(r.PValue), note)
	}
	tw.Flush()
}

func writeIntervals(buf *bytes.Buffer, intervals []evaluation.MeanInterval) {
	for _, ci := range intervals {
		fmt.Fprintf(buf, "\nCI(%g%%) for mean %s in %s: mean=%.4f, CI=(%.4f,%.4f), n=%d\n",
			math.Round(ci.Level*1e4)/100, ci.Variable, ci.Group, ci.Mean, ci.Lower, ci.Upper, ci.N)
	}
}

func writeOneSample(buf *bytes.Buffer, tests []evaluation.OneSampleResult) {
	for _, t := range tests {
		fmt.Fprintf(buf, "\nOne-sample t-test (%s traffic):\n", t.Group)
		fmt.Fprintf(buf, "H0: mean(%s) = %g\n", t.Variable, t.NullMean)
		fmt.Fprintf(buf, "t=%.6f, p-value=%s, df=%g\n", t.T, FormatP(t.PValue), t.DF)
		fmt.Fprintf(buf, "Decision: %s\n", decision(t.Reject, "Reject H0"))
	}
}

func writeTwoSample(buf *bytes.Buffer, tests []evaluation.WelchResult) {
	pair := ""
	for _, t := range tests {
		if p := t.Group1 + " vs " + t.Group2; p != pair {
			pair = p
			fmt.Fprintf(buf, "\nWelch two-sample t-test: %s\n", pair)
		}
		fmt.Fprintf(buf, "[%s] t=%.6f, p=%s, mean_diff(%s-%s)=%.4f, CI=(%.4f,%.4f), df~%.2f\n",
			t.Variable, t.T, FormatP(t.PValue), t.Group1, t.Group2, t.MeanDiff, t.Lower, t.Upper, t.DF)
	}
}

func writeANOVA(buf *bytes.Buffer, a *evaluation.ANOVAResult) {
	scope := a.Group + " only"
	if a.Group == evaluation.GroupAll {
		scope = "all rows"
	}
	fmt.Fprintf(buf, "\nOne-way ANOVA (%s): %s across %s\n", scope, a.Variable, a.Factor)
	fmt.Fprintf(buf, "Group means:\n")
	tw := newTable(buf)
	fmt.Fprintf(tw, "%s\tcount\tmean\tstd\n", a.Factor)
	for _, g := range a.Groups {
		if g.Excluded {
			fmt.Fprintf(tw, "%s\t%d\t%s\t-\texcluded (n < 2)\n", g.Level, g.Count, formatFloat(g.Mean))
			continue
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", g.Level, g.Count, formatFloat(g.Mean), formatFloat(g.StdDev))
	}
	tw.Flush()
	fmt.Fprintf(buf, "F=%.6f, p=%s, df=(%d, %d)\n", a.F, FormatP(a.PValue), a.DFBetween, a.DFWithin)
	fmt.Fprintf(buf, "Decision: %s\n", decision(a.Significant, "Reject H0 (means not all equal)"))

	if len(a.PostHoc) == 0 {
		return
	}
	fmt.Fprintf(buf, "\nTukey HSD (post-hoc), FWER=%.2f:\n", a.Alpha)
	tw = newTable(buf)
	fmt.Fprintln(tw, "group1\tgroup2\tmeandiff\tp-adj\tlower\tupper\treject")
	for _, c := range a.PostHoc {
		fmt.Fprintf(tw, "%s\t%s\t%.4f\t%.4f\t%.4f\t%.4f\t%t\n",
			c.Group1, c.Group2, c.MeanDiff, c.PAdj, c.Lower, c.Upper, c.Reject)
	}
	tw.Flush()
}

func writeRegression(buf *bytes.Buffer, reg *evaluation.RegressionResult) {
	if reg == nil || reg.Model == nil {
		return
	}
	m := reg.Model
	fmt.Fprintf(buf, "\nLogistic Regression:\n")
	tw := newTable(buf)
	fmt.Fprintf(tw, "Dep. Variable:\tis_ddos\tNo. Observations:\t%d\n", m.NObs)
	fmt.Fprintf(tw, "Model:\tLogit\tDf Residuals:\t%d\n", m.DFResid)
	fmt.Fprintf(tw, "Method:\tMLE\tDf Model:\t%d\n", m.DFModel)
	fmt.Fprintf(tw, "Converged:\t%t\tPseudo R-squ.:\t%.4f\n", m.Converged, m.PseudoR2)
	fmt.Fprintf(tw, "Iterations:\t%d\tLog-Likelihood:\t%.3f\n", m.Iterations, m.LogLikelihood)
	fmt.Fprintf(tw, "\t\tLL-Null:\t%.3f\n", m.NullLogLikelihood)
	fmt.Fprintf(tw, "\t\tLLR p-value:\t%s\n", FormatP(m.LLRPValue))
	tw.Flush()

	buf.WriteString(strings.Repeat("=", 78) + "\n")
	tw = newTable(buf)
	fmt.Fprintln(tw, "\tcoef\tstd err\tz\tP>|z|\t[0.025\t0.975]")
	for _, c := range m.Coefficients {
		fmt.Fprintf(tw, "%s\t%.4f\t%.4f\t%.3f\t%.3f\t%.4f\t%.4f\n",
			c.Name, c.Estimate, c.StdErr, c.Z, c.PValue, c.Lower, c.Upper)
	}
	tw.Flush()
	buf.WriteString(strings.Repeat("=", 78) + "\n")
	if enc := reg.Design.Encoding; enc != nil {
		fmt.Fprintf(buf, "Reference level for device_type: %s\n", enc.Reference)
	}

	if e := reg.Effect; e != nil {
		fmt.Fprintf(buf, "Odds ratio for %+g in %s: OR%g=%.4f\n", e.Increment, e.Variable, e.Increment, e.OddsRatio)
		fmt.Fprintf(buf, "  CI=(%.4f,%.4f)\n", e.Lower, e.Upper)
	}

	if len(reg.Ablation) == 0 {
		return
	}
	fmt.Fprintf(buf, "\nPredictor ablation (likelihood-ratio tests):\n")
	tw = newTable(buf)
	fmt.Fprintln(tw, "term\tdf\tLR\tp_value\tsignificant")
	for _, a := range reg.Ablation {
		if a.Error != "" {
			fmt.Fprintf(tw, "%s\t%d\t-\t-\t%s\n", a.Term, a.DF, a.Error)
			continue
		}
		fmt.Fprintf(tw, "%s\t%d\t%.4f\t%s\t%t\n", a.Term, a.DF, a.LRStatistic, FormatP(a.PValue), a.Significant)
	}
	tw.Flush()
}

func writeBaseline(buf *bytes.Buffer, cmp *evaluation.BaselineComparison) {
	if cmp == nil {
		return
	}
	fmt.Fprintf(buf, "\nBaseline comparison against %q (run %s):\n", cmp.BaselineName, cmp.BaselineRunID)
	fmt.Fprintf(buf, "%d of %d means changed by more than 5%%, score %.2f\n",
		cmp.SignificantChanges, len(cmp.Comparisons), cmp.OverallScore)
	if cmp.SignificantChanges == 0 {
		return
	}
	tw := newTable(buf)
	fmt.Fprintln(tw, "group\tvariable\tbaseline\tcurrent\tchange")
	for _, c := range cmp.Comparisons {
		if !c.Significant {
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%.4f\t%.4f\t%+.2f%%\n", c.Group, c.Variable, c.BaselineValue, c.CurrentValue, c.PercentChange)
	}
	tw.Flush()
}

func writeErrors(buf *bytes.Buffer, errs []evaluation.StepError) {
	if len(errs) == 0 {
		return
	}
	fmt.Fprintf(buf, "\nFailed steps:\n")
	tw := newTable(buf)
	for _, e := range errs {
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", e.Step, e.Kind, e.Err)
	}
	tw.Flush()
}
