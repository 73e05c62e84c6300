package grader

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
)

// RegexGrader requires some patterns to match the transcript and others not to.
type RegexGrader struct {
	base
	mustMatch    []*regexp.Regexp
	mustNotMatch []*regexp.Regexp
}

func (g *RegexGrader) Grade(_ context.Context, in Input) (Result, error) {
	content := normalize(in.Content)
	var checks []Check
	for _, re := range g.mustMatch {
		checks = append(checks, Check{Name: fmt.Sprintf("matches /%s/", re), Passed: re.MatchString(content)})
	}
	for _, re := range g.mustNotMatch {
		checks = append(checks, Check{Name: fmt.Sprintf("does not match /%s/", re), Passed: !re.MatchString(content)})
	}
	return g.scoreChecks(checks), nil
}

// KeywordGrader requires and forbids literal phrases. Matching is
// case-insensitive unless configured otherwise.
type KeywordGrader struct {
	base
	required      []string
	forbidden     []string
	caseSensitive bool
}

func (g *KeywordGrader) Grade(_ context.Context, in Input) (Result, error) {
	fold := func(s string) string { return normalize(s) }
	if !g.caseSensitive {
		caser := cases.Fold()
		fold = func(s string) string { return caser.String(normalize(s)) }
	}
	content := fold(in.Content)

	var checks []Check
	for _, kw := range g.required {
		checks = append(checks, Check{Name: fmt.Sprintf("mentions %q", kw), Passed: strings.Contains(content, fold(kw))})
	}
	for _, kw := range g.forbidden {
		checks = append(checks, Check{Name: fmt.Sprintf("never says %q", kw), Passed: !strings.Contains(content, fold(kw))})
	}
	return g.scoreChecks(checks), nil
}

// ChecklistGrader requires each step pattern to appear in the transcript, in
// order unless configured otherwise.
type ChecklistGrader struct {
	base
	steps    []string
	patterns []*regexp.Regexp
	ordered  bool
}

func (g *ChecklistGrader) Grade(_ context.Context, in Input) (Result, error) {
	content := normalize(in.Content)
	checks := make([]Check, len(g.patterns))
	pos := 0
	for i, re := range g.patterns {
		name := fmt.Sprintf("step %d: /%s/", i+1, g.steps[i])
		if !g.ordered {
			checks[i] = Check{Name: name, Passed: re.MatchString(content)}
			continue
		}
		loc := re.FindStringIndex(content[pos:])
		if loc == nil {
			checks[i] = Check{Name: name, Passed: false}
			continue
		}
		checks[i] = Check{Name: name, Passed: true}
		pos += loc[1]
	}
	return g.scoreChecks(checks), nil
}
