package grader

import (
	"fmt"
	"strings"
)

type TestResult struct {
	Score    float64
	Output   string
	ExitCode int
}

// ParseTestResults interprets test output and exit code into a 0-1 score.
// Exit code 0 is a full pass; otherwise the pass rate is read from
// "N passed, M failed" summaries or JUnit XML.
func ParseTestResults(output string, exitCode int) *TestResult {
	if exitCode == 0 {
		return &TestResult{Score: 1.0, Output: output, ExitCode: exitCode}
	}
	score := parsePassRate(output)
	return &TestResult{Score: score, Output: output, ExitCode: exitCode}
}

func parsePassRate(output string) float64 {
	if strings.Contains(output, "<testsuite") {
		return parseJUnitXML(output)
	}

	lines := strings.Split(output, "\n")
	for _, line := range lines {
		line = strings.Trim(strings.TrimSpace(line), "= ")
		var passed, failed int
		if n, _ := fmt.Sscanf(line, "%d passed", &passed); n == 1 {
			fmt.Sscanf(line, "%d passed, %d failed", &passed, &failed)
			total := passed + failed
			if total > 0 {
				return float64(passed) / float64(total)
			}
		}
	}
	return 0.0
}

func parseJUnitXML(output string) float64 {
	var tests, failures, errors int
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, "<testsuite") {
			continue
		}
		fmt.Sscanf(extractAttr(line, "tests"), "%d", &tests)
		fmt.Sscanf(extractAttr(line, "failures"), "%d", &failures)
		fmt.Sscanf(extractAttr(line, "errors"), "%d", &errors)
		if tests > 0 {
			passed := tests - failures - errors
			if passed < 0 {
				passed = 0
			}
			return float64(passed) / float64(tests)
		}
	}
	return 0.0
}

func extractAttr(line, attr string) string {
	key := " " + attr + `="`
	idx := strings.Index(line, key)
	if idx < 0 {
		return ""
	}
	start := idx + len(key)
	end := strings.Index(line[start:], `"`)
	if end < 0 {
		return ""
	}
	return line[start : start+end]
}

type LintResult struct {
	Score        float64
	Output       string
	NetNewIssues int
	ExitCode     int
}

// ParseLintResults counts issues beyond a baseline; each one costs a tenth of
// the score.
func ParseLintResults(output string, exitCode int, baselineIssues int) *LintResult {
	if exitCode == 0 && output == "" {
		return &LintResult{Score: 1.0, Output: output, ExitCode: exitCode}
	}
	totalIssues := 0
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && (strings.Contains(line, ": error") || strings.Contains(line, ": warning") || strings.Contains(line, "Error:") || strings.Contains(line, "Warning:")) {
			totalIssues++
		}
	}
	netNew := totalIssues - baselineIssues
	if netNew < 0 {
		netNew = 0
	}
	score := 1.0
	if netNew > 0 {
		score = 1.0 - (float64(netNew) * 0.1)
		if score < 0 {
			score = 0
		}
	}
	return &LintResult{Score: score, Output: output, NetNewIssues: netNew, ExitCode: exitCode}
}
