// Package grader judges agent transcripts. Deterministic graders match the
// transcript and run artifacts against fixed expectations; the model grader
// asks a language model to apply a rubric and fails closed when it cannot.
package grader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/signalnine/gauntlet/internal/judge"
	"github.com/signalnine/gauntlet/internal/pricing"
	"github.com/signalnine/gauntlet/internal/scenario"
)

// Keys the runner sets in Input.Context.
const (
	CtxScenarioID   = "scenario_id"
	CtxCategory     = "category"
	CtxPressure     = "pressure"
	CtxPrompt       = "prompt"
	CtxExitCode     = "exit_code"
	CtxTimedOut     = "timed_out"
	CtxElapsed      = "elapsed_seconds"
	CtxWorkingDir   = "working_dir"
	CtxFilesChanged = "files_changed"
	CtxDiff         = "diff"
)

// Input is what a grader judges. Graders must not modify it.
type Input struct {
	Content string
	Context map[string]any
}

// Result is a grader's verdict. Passed is always Score >= the grader's
// threshold. Infra marks a result produced because the harness could not
// judge at all.
type Result struct {
	Passed  bool           `json:"passed"`
	Score   float64        `json:"score"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Infra   bool           `json:"infra,omitempty"`
}

// Grader judges one Input.
type Grader interface {
	Name() string
	Kind() string
	Advisory() bool
	Threshold() float64
	Grade(ctx context.Context, in Input) (Result, error)
}

// Check is one sub-check of a deterministic grader.
type Check struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
}

// Deps are the shared services graders may need.
type Deps struct {
	Judge          judge.Client
	Pricing        *pricing.Table
	CommandTimeout time.Duration
	MaxTranscript  int
	Logger         *slog.Logger
}

// ErrNoJudge is returned by a model grader built without a judge client.
var ErrNoJudge = errors.New("no judge configured")

type base struct {
	name      string
	kind      string
	advisory  bool
	threshold float64
}

func (b base) Name() string       { return b.name }
func (b base) Kind() string       { return b.kind }
func (b base) Advisory() bool     { return b.advisory }
func (b base) Threshold() float64 { return b.threshold }

// result builds a Result whose Passed flag agrees with the threshold.
func (b base) result(score float64, message string, details map[string]any) Result {
	return Result{
		Passed:  score >= b.threshold,
		Score:   score,
		Message: message,
		Details: details,
	}
}

// Build constructs the grader a validated spec describes.
func Build(spec scenario.GraderSpec, deps Deps) (Grader, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	b := base{name: spec.DisplayName(), kind: spec.Kind, advisory: spec.Advisory}

	switch spec.Kind {
	case scenario.KindRegex:
		b.threshold = spec.ThresholdOr(100)
		return &RegexGrader{
			base:         b,
			mustMatch:    mustCompile(spec.MustMatch),
			mustNotMatch: mustCompile(spec.MustNotMatch),
		}, nil
	case scenario.KindKeywords:
		b.threshold = spec.ThresholdOr(100)
		return &KeywordGrader{base: b, required: spec.Required, forbidden: spec.Forbidden, caseSensitive: spec.CaseSensitive}, nil
	case scenario.KindChecklist:
		b.threshold = spec.ThresholdOr(100)
		return &ChecklistGrader{base: b, steps: spec.Steps, patterns: mustCompile(spec.Steps), ordered: spec.IsOrdered()}, nil
	case scenario.KindExitCode:
		b.threshold = spec.ThresholdOr(100)
		return &ExitCodeGrader{base: b, expect: spec.ExpectedExit()}, nil
	case scenario.KindFile:
		b.threshold = spec.ThresholdOr(100)
		return &FileGrader{base: b, path: spec.Path, contains: spec.Contains, absent: spec.Absent}, nil
	case scenario.KindCommand:
		b.threshold = spec.ThresholdOr(100)
		timeout := deps.CommandTimeout
		if timeout <= 0 {
			timeout = 5 * time.Minute
		}
		parse := spec.Parse
		if parse == "" {
			parse = scenario.ParseTests
		}
		return &CommandGrader{base: b, run: spec.Run, parse: parse, timeout: timeout}, nil
	case scenario.KindMaxDuration:
		b.threshold = spec.ThresholdOr(100)
		return &DurationGrader{base: b, limit: spec.Limit.Std()}, nil
	case scenario.KindModel:
		b.threshold = spec.ThresholdOr(DefaultModelThreshold)
		samples := spec.Samples
		if samples < 1 {
			samples = 1
		}
		maxChars := deps.MaxTranscript
		if maxChars <= 0 {
			maxChars = defaultMaxTranscript
		}
		logger := deps.Logger
		if logger == nil {
			logger = slog.Default()
		}
		return &ModelGrader{
			base:     b,
			client:   deps.Judge,
			pricing:  deps.Pricing,
			rubric:   spec.Rubric,
			criteria: spec.Criteria,
			samples:  samples,
			maxChars: maxChars,
			logger:   logger,
		}, nil
	}
	return nil, fmt.Errorf("unknown grader kind %q", spec.Kind)
}

// BuildAll constructs every grader of a scenario.
func BuildAll(specs []scenario.GraderSpec, deps Deps) ([]Grader, error) {
	graders := make([]Grader, 0, len(specs))
	for _, spec := range specs {
		g, err := Build(spec, deps)
		if err != nil {
			return nil, fmt.Errorf("grader %s: %w", spec.DisplayName(), err)
		}
		graders = append(graders, g)
	}
	return graders, nil
}

// NeedsWorkspace reports whether graders of kind inspect the working
// directory, which only exists while the scenario runs.
func NeedsWorkspace(kind string) bool {
	return kind == scenario.KindFile || kind == scenario.KindCommand
}

func mustCompile(patterns []string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		compiled[i] = regexp.MustCompile(p)
	}
	return compiled
}

func normalize(s string) string {
	return norm.NFC.String(s)
}

// scoreChecks turns sub-check outcomes into a percentage score.
func (b base) scoreChecks(checks []Check) Result {
	passed := 0
	var failed []string
	for _, c := range checks {
		if c.Passed {
			passed++
		} else {
			failed = append(failed, c.Name)
		}
	}
	score := 0.0
	if len(checks) > 0 {
		score = 100 * float64(passed) / float64(len(checks))
	}
	msg := fmt.Sprintf("%d/%d checks passed", passed, len(checks))
	if len(failed) > 0 {
		msg += fmt.Sprintf("; failed: %s", joinQuoted(failed))
	}
	return b.result(score, msg, map[string]any{"checks": checks})
}

func joinQuoted(items []string) string {
	out := ""
	for i, s := range items {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%q", s)
	}
	return out
}

func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	}
	return 0, false
}

func floatValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

func stringsValue(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
