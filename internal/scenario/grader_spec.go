package scenario

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// Grader kinds.
const (
	KindRegex       = "regex"
	KindKeywords    = "keywords"
	KindChecklist   = "checklist"
	KindExitCode    = "exit_code"
	KindFile        = "file"
	KindCommand     = "command"
	KindMaxDuration = "max_duration"
	KindModel       = "model"
)

// Output parsers of a command grader.
const (
	ParseTests = "tests"
	ParseLint  = "lint"
	ParseExit  = "exit"
)

// GraderSpec declares one grader. Kind selects the variant; only the keys
// belonging to that kind may be set.
type GraderSpec struct {
	Kind      string   `yaml:"kind" toml:"kind" json:"kind"`
	Name      string   `yaml:"name" toml:"name" json:"name,omitempty"`
	Advisory  bool     `yaml:"advisory" toml:"advisory" json:"advisory,omitempty"`
	Threshold *float64 `yaml:"threshold" toml:"threshold" json:"threshold,omitempty"`

	// regex
	MustMatch    []string `yaml:"must_match" toml:"must_match" json:"must_match,omitempty"`
	MustNotMatch []string `yaml:"must_not_match" toml:"must_not_match" json:"must_not_match,omitempty"`

	// keywords
	Required      []string `yaml:"required" toml:"required" json:"required,omitempty"`
	Forbidden     []string `yaml:"forbidden" toml:"forbidden" json:"forbidden,omitempty"`
	CaseSensitive bool     `yaml:"case_sensitive" toml:"case_sensitive" json:"case_sensitive,omitempty"`

	// checklist
	Steps   []string `yaml:"steps" toml:"steps" json:"steps,omitempty"`
	Ordered *bool    `yaml:"ordered" toml:"ordered" json:"ordered,omitempty"`

	// exit_code
	Expect *int `yaml:"expect" toml:"expect" json:"expect,omitempty"`

	// file
	Path     string   `yaml:"path" toml:"path" json:"path,omitempty"`
	Contains []string `yaml:"contains" toml:"contains" json:"contains,omitempty"`
	Absent   bool     `yaml:"absent" toml:"absent" json:"absent,omitempty"`

	// command
	Run   string `yaml:"run" toml:"run" json:"run,omitempty"`
	Parse string `yaml:"parse" toml:"parse" json:"parse,omitempty"`

	// max_duration
	Limit Duration `yaml:"limit" toml:"limit" json:"limit,omitempty"`

	// model
	Rubric   string      `yaml:"rubric" toml:"rubric" json:"rubric,omitempty"`
	Criteria []Criterion `yaml:"criteria" toml:"criteria" json:"criteria,omitempty"`
	Samples  int         `yaml:"samples" toml:"samples" json:"samples,omitempty"`
}

var kindKeys = map[string][]string{
	KindRegex:       {"must_match", "must_not_match"},
	KindKeywords:    {"required", "forbidden", "case_sensitive"},
	KindChecklist:   {"steps", "ordered"},
	KindExitCode:    {"expect"},
	KindFile:        {"path", "contains", "absent"},
	KindCommand:     {"run", "parse"},
	KindMaxDuration: {"limit"},
	KindModel:       {"rubric", "criteria", "samples"},
}

// Kinds returns every known grader kind, sorted.
func Kinds() []string {
	kinds := make([]string, 0, len(kindKeys))
	for k := range kindKeys {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// DisplayName is the grader name, defaulting to its kind.
func (g *GraderSpec) DisplayName() string {
	if g.Name != "" {
		return g.Name
	}
	return g.Kind
}

// IsOrdered reports whether checklist steps must appear in order.
func (g *GraderSpec) IsOrdered() bool {
	return g.Ordered == nil || *g.Ordered
}

// ExpectedExit is the exit code an exit_code grader expects.
func (g *GraderSpec) ExpectedExit() int {
	if g.Expect == nil {
		return 0
	}
	return *g.Expect
}

// ThresholdOr returns the configured threshold or def.
func (g *GraderSpec) ThresholdOr(def float64) float64 {
	if g.Threshold == nil {
		return def
	}
	return *g.Threshold
}

func (g *GraderSpec) presentKeys() []string {
	var keys []string
	add := func(set bool, key string) {
		if set {
			keys = append(keys, key)
		}
	}
	add(len(g.MustMatch) > 0, "must_match")
	add(len(g.MustNotMatch) > 0, "must_not_match")
	add(len(g.Required) > 0, "required")
	add(len(g.Forbidden) > 0, "forbidden")
	add(g.CaseSensitive, "case_sensitive")
	add(len(g.Steps) > 0, "steps")
	add(g.Ordered != nil, "ordered")
	add(g.Expect != nil, "expect")
	add(g.Path != "", "path")
	add(len(g.Contains) > 0, "contains")
	add(g.Absent, "absent")
	add(g.Run != "", "run")
	add(g.Parse != "", "parse")
	add(g.Limit != 0, "limit")
	add(g.Rubric != "", "rubric")
	add(len(g.Criteria) > 0, "criteria")
	add(g.Samples != 0, "samples")
	return keys
}

// Validate checks that the grader is complete for its kind and carries no keys
// of another kind.
func (g *GraderSpec) Validate() error {
	allowed, ok := kindKeys[g.Kind]
	if !ok {
		if g.Kind == "" {
			return errors.New("kind is required")
		}
		return fmt.Errorf("unknown kind %q (want one of %s)", g.Kind, strings.Join(Kinds(), ", "))
	}
	for _, key := range g.presentKeys() {
		if !contains(allowed, key) {
			return fmt.Errorf("key %q is not valid for a %s grader", key, g.Kind)
		}
	}
	// A zero threshold would pass every result, including infra failures.
	if g.Threshold != nil && (*g.Threshold <= 0 || *g.Threshold > 100) {
		return fmt.Errorf("threshold %v out of range (0, 100]", *g.Threshold)
	}

	switch g.Kind {
	case KindRegex:
		if len(g.MustMatch)+len(g.MustNotMatch) == 0 {
			return errors.New("regex grader needs must_match or must_not_match")
		}
		if err := compileAll(g.MustMatch, g.MustNotMatch); err != nil {
			return err
		}
	case KindKeywords:
		if len(g.Required)+len(g.Forbidden) == 0 {
			return errors.New("keywords grader needs required or forbidden")
		}
	case KindChecklist:
		if len(g.Steps) == 0 {
			return errors.New("checklist grader needs steps")
		}
		if err := compileAll(g.Steps); err != nil {
			return err
		}
	case KindFile:
		if g.Path == "" {
			return errors.New("file grader needs path")
		}
		if !filepath.IsLocal(g.Path) {
			return fmt.Errorf("file path %q must be relative to the working directory", g.Path)
		}
		if g.Absent && len(g.Contains) > 0 {
			return errors.New("file grader cannot combine absent with contains")
		}
	case KindCommand:
		if strings.TrimSpace(g.Run) == "" {
			return errors.New("command grader needs run")
		}
		switch g.Parse {
		case "", ParseTests, ParseLint, ParseExit:
		default:
			return fmt.Errorf("unknown parse mode %q", g.Parse)
		}
	case KindMaxDuration:
		if g.Limit <= 0 {
			return errors.New("max_duration grader needs a positive limit")
		}
	case KindModel:
		if strings.TrimSpace(g.Rubric) == "" {
			return errors.New("model grader needs rubric")
		}
		if g.Samples < 0 {
			return fmt.Errorf("samples must not be negative, got %d", g.Samples)
		}
		seen := map[string]bool{}
		for _, c := range g.Criteria {
			if c.Name == "" {
				return errors.New("criterion name is required")
			}
			if seen[c.Name] {
				return fmt.Errorf("duplicate criterion %q", c.Name)
			}
			seen[c.Name] = true
			if c.Weight <= 0 {
				return fmt.Errorf("criterion %q needs a positive weight", c.Name)
			}
		}
	}
	return nil
}

func compileAll(groups ...[]string) error {
	for _, patterns := range groups {
		for _, p := range patterns {
			if _, err := regexp.Compile(p); err != nil {
				return fmt.Errorf("invalid pattern %q: %w", p, err)
			}
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
