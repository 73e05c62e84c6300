package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/signalnine/gauntlet/internal/scenario"
)

func writeTable(rep *RunReport, w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TOTAL\tPASSED\tFAILED\tERRORED\tSKIPPED\tPASS RATE\tMEAN SCORE\tJUDGE COST")
	fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%d\t%.1f%%\t%.1f\t$%.2f\n",
		rep.Total, rep.Passed, rep.Failed, rep.Errored, rep.Skipped, rep.PassRate*100, rep.MeanScore, rep.JudgeCostUSD)
	fmt.Fprintln(tw)

	fmt.Fprintln(tw, "CATEGORY\tPRESSURE\tTOTAL\tPASSED\tFAILED")
	fmt.Fprintln(tw, strings.Repeat("-", 60))
	for _, c := range rep.Clusters {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\n", c.Category, orNone(c.Pressure), c.Total, c.Passed, c.Failed)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(rep.Failures) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "FAILURES")
		for _, f := range rep.Failures {
			fmt.Fprintf(w, "  %s #%d [%s]%s: %s\n", f.Scenario, f.Trial, f.FailureKind, graderLabel(f), oneLine(f.Result.Message))
		}
	}
	if len(rep.SkippedScenarios) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "SKIPPED: %s\n", strings.Join(rep.SkippedScenarios, ", "))
	}
	if rep.Calibrated > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "ACCURACY: %.1f%% (%d/%d scenarios reached their expected verdict)\n",
			rep.Accuracy*100, rep.Correct, rep.Calibrated)
	}
	return nil
}

func writeMarkdown(rep *RunReport, w io.Writer) error {
	if rep.RunID != "" {
		fmt.Fprintf(w, "# Run %s\n\n", rep.RunID)
	} else {
		fmt.Fprintln(w, "# Run report")
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w, "| Total | Passed | Failed | Errored | Skipped | Pass Rate | Mean Score | Judge Cost |")
	fmt.Fprintln(w, "|---|---|---|---|---|---|---|---|")
	fmt.Fprintf(w, "| %d | %d | %d | %d | %d | %.1f%% | %.1f | $%.2f |\n",
		rep.Total, rep.Passed, rep.Failed, rep.Errored, rep.Skipped, rep.PassRate*100, rep.MeanScore, rep.JudgeCostUSD)

	writeBreakdowns(w, "By category", "Category", rep.ByCategory)
	writeBreakdowns(w, "By pressure", "Pressure", rep.ByPressure)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "## Category x pressure")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "| Category | Pressure | Total | Passed | Failed |")
	fmt.Fprintln(w, "|---|---|---|---|---|")
	for _, c := range rep.Clusters {
		fmt.Fprintf(w, "| %s | %s | %d | %d | %d |\n", c.Category, orNone(c.Pressure), c.Total, c.Passed, c.Failed)
	}

	if len(rep.Failures) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "## Failures")
		fmt.Fprintln(w)
		fmt.Fprintln(w, "| Scenario | Trial | Kind | Grader | Score | Message |")
		fmt.Fprintln(w, "|---|---|---|---|---|---|")
		for _, f := range rep.Failures {
			fmt.Fprintf(w, "| %s | %d | %s | %s | %.0f | %s |\n",
				f.Scenario, f.Trial, f.FailureKind, orNone(f.Grader), f.Result.Score, cell(f.Result.Message))
		}
	}

	if len(rep.SkippedScenarios) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "## Skipped")
		fmt.Fprintln(w)
		for _, id := range rep.SkippedScenarios {
			fmt.Fprintf(w, "- %s\n", id)
		}
	}

	if repeated(rep.Consistency) {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "## Consistency")
		fmt.Fprintln(w)
		fmt.Fprintln(w, "| Scenario | Trials | Passes | pass@k | pass^k |")
		fmt.Fprintln(w, "|---|---|---|---|---|")
		for _, c := range rep.Consistency {
			fmt.Fprintf(w, "| %s | %d | %d | %s | %s |\n", c.Scenario, c.Trials, c.Passes, yesNo(c.PassAtK), yesNo(c.PassCaretK))
		}
	}

	if rep.Calibrated > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "## Calibration")
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Accuracy: %.1f%% (%d/%d)\n\n", rep.Accuracy*100, rep.Correct, rep.Calibrated)
		fmt.Fprintln(w, "| Scenario | Expected | Majority | Trials | Correct |")
		fmt.Fprintln(w, "|---|---|---|---|---|")
		for _, c := range rep.Consistency {
			if c.Expected == "" {
				continue
			}
			fmt.Fprintf(w, "| %s | %s | %s | %d | %s |\n", c.Scenario, c.Expected, verdict(c.Majority), c.Trials, yesNo(c.Correct))
		}
	}
	return nil
}

func verdict(passed bool) string {
	if passed {
		return scenario.ExpectPass
	}
	return scenario.ExpectFail
}

func writeBreakdowns(w io.Writer, title, column string, rows []Breakdown) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "## %s\n\n", title)
	fmt.Fprintf(w, "| %s | Total | Passed | Failed | Skipped | Pass Rate |\n", column)
	fmt.Fprintln(w, "|---|---|---|---|---|---|")
	for _, b := range rows {
		fmt.Fprintf(w, "| %s | %d | %d | %d | %d | %.1f%% |\n", b.Name, b.Total, b.Passed, b.Failed, b.Skipped, b.PassRate*100)
	}
}

func writeJSON(rep *RunReport, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}

func repeated(cs []Consistency) bool {
	for _, c := range cs {
		if c.Trials > 1 {
			return true
		}
	}
	return false
}

func graderLabel(f Failure) string {
	if f.Grader == "" {
		return ""
	}
	return " " + f.Grader
}

func orNone(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func cell(s string) string {
	return strings.ReplaceAll(oneLine(s), "|", `\|`)
}
