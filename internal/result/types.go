// Package result defines the per-scenario result model and how results are
// laid out on disk.
package result

import (
	"time"

	"github.com/signalnine/gauntlet/internal/grader"
)

type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusError   Status = "error"
	StatusSkipped Status = "skipped"
)

// FailureKind separates agent misbehavior from harness trouble.
type FailureKind string

const (
	FailureNone         FailureKind = ""
	FailureBehavioral   FailureKind = "behavioral"
	FailureTimeout      FailureKind = "timeout"
	FailureIsolation    FailureKind = "isolation"
	FailureSetup        FailureKind = "setup"
	FailureGradingInfra FailureKind = "grading_infra"
	FailureCanceled     FailureKind = "canceled"
)

// Harness reports whether the failure means the harness could not evaluate
// the agent at all.
func (k FailureKind) Harness() bool {
	switch k {
	case FailureIsolation, FailureSetup, FailureGradingInfra, FailureCanceled:
		return true
	}
	return false
}

// StatusFor is the status a failure of kind k is recorded with.
func StatusFor(k FailureKind) Status {
	switch {
	case k == FailureNone:
		return StatusPassed
	case k.Harness():
		return StatusError
	}
	return StatusFailed
}

type ScenarioResult struct {
	RunID        string            `json:"run_id"`
	Scenario     string            `json:"scenario"`
	Category     string            `json:"category"`
	Pressure     string            `json:"pressure,omitempty"`
	Trial        int               `json:"trial"`
	Advisory     bool              `json:"advisory,omitempty"`
	Expected     string            `json:"expected,omitempty"`
	Status       Status            `json:"status"`
	FailureKind  FailureKind       `json:"failure_kind,omitempty"`
	Score        float64           `json:"score"`
	Message      string            `json:"message,omitempty"`
	ExitCode     int               `json:"exit_code"`
	ExitReason   string            `json:"exit_reason,omitempty"`
	DurationS    float64           `json:"duration_s"`
	Graders      []grader.Outcome  `json:"graders,omitempty"`
	Artifacts    map[string]string `json:"artifacts,omitempty"`
	FilesChanged []string          `json:"files_changed,omitempty"`
	JudgeCostUSD float64           `json:"judge_cost_usd,omitempty"`

	// AdvisoryFailures names advisory graders that failed without
	// affecting Status.
	AdvisoryFailures []string `json:"advisory_failures,omitempty"`
}

func (r *ScenarioResult) Duration() time.Duration {
	return time.Duration(r.DurationS * float64(time.Second))
}

// Errored reports whether the harness could not evaluate this scenario.
func (r *ScenarioResult) Errored() bool {
	return r.Status == StatusError
}

// RunInfo describes one invocation of the harness.
type RunInfo struct {
	RunID     string    `json:"run_id"`
	StartedAt time.Time `json:"started_at"`
	Source    string    `json:"source"`
	Subject   string    `json:"subject,omitempty"`
	Sandbox   string    `json:"sandbox,omitempty"`
	Judge     string    `json:"judge,omitempty"`
}
