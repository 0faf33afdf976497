package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/ThisIsMelika/statistical-analysis/evaluation"
	"github.com/ThisIsMelika/statistical-analysis/pkg/report"
)

// renderSummary builds the framed overview printed after a run.
func renderSummary(res *evaluation.EvaluationResult, runDir string) string {
	titleStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	sectionStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	metaStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	okStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	frameStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("12")).
		Padding(1, 2)

	status := okStyle.Render(res.Status)
	if res.Failed() {
		status = warnStyle.Render(res.Status)
	}

	lines := []string{
		titleStyle.Render("iotstats | Run " + res.RunID),
		"",
		fmt.Sprintf("Status:   %s", status),
		fmt.Sprintf("Rows:     %s (%d dropped)", humanize.Comma(int64(res.Dataset.Rows)), res.Dataset.DroppedRows),
		fmt.Sprintf("Duration: %s", res.CompletedAt.Sub(res.CreatedAt).Round(1e6)),
	}

	var findings []string
	for _, w := range res.TwoSample {
		findings = append(findings, fmt.Sprintf("  - Welch %s %s vs %s: diff=%.4f, p=%s",
			w.Variable, w.Group1, w.Group2, w.MeanDiff, report.FormatP(w.PValue)))
	}
	for _, a := range res.ANOVA {
		findings = append(findings, fmt.Sprintf("  - ANOVA %s by %s in %s: F=%.4f, p=%s",
			a.Variable, a.Factor, a.Group, a.F, report.FormatP(a.PValue)))
	}
	if reg := res.Regression; reg != nil && reg.Effect != nil {
		findings = append(findings, fmt.Sprintf("  - Logit OR for %+g %s: %.4f (%.4f, %.4f)",
			reg.Effect.Increment, reg.Effect.Variable, reg.Effect.OddsRatio, reg.Effect.Lower, reg.Effect.Upper))
	}
	if len(findings) > 0 {
		lines = append(lines, "", sectionStyle.Render("Key Results:"))
		lines = append(lines, findings...)
	}

	if cmp := res.Baseline; cmp != nil {
		lines = append(lines, "", sectionStyle.Render("Baseline:"),
			fmt.Sprintf("  %s: %d significant changes, score %.2f", cmp.BaselineName, cmp.SignificantChanges, cmp.OverallScore))
	}

	if res.Failed() {
		lines = append(lines, "", sectionStyle.Render("Failed Steps:"))
		for _, e := range res.Errors {
			lines = append(lines, warnStyle.Render(fmt.Sprintf("  - %s (%s)", e.Step, e.Kind)))
		}
	}

	if runDir != "" {
		lines = append(lines, "", metaStyle.Render("Artifacts: "+runDir))
	}
	return frameStyle.Render(strings.Join(lines, "\n"))
}
