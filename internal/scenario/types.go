package scenario

import (
	"fmt"
	"time"
)

// Set is one scenario file.
type Set struct {
	Name      string     `yaml:"name" toml:"name"`
	Defaults  Defaults   `yaml:"defaults" toml:"defaults"`
	Scenarios []Scenario `yaml:"scenarios" toml:"scenarios"`
}

// Defaults apply to every scenario in a set that does not override them.
type Defaults struct {
	Timebox Duration `yaml:"timebox" toml:"timebox"`
	Subject *Subject `yaml:"subject" toml:"subject"`
	Trials  int      `yaml:"trials" toml:"trials"`
}

// Scenario is a single behavioral test case for the agent under test.
type Scenario struct {
	ID          string            `yaml:"id" toml:"id" json:"id"`
	Category    string            `yaml:"category" toml:"category" json:"category"`
	Pressure    string            `yaml:"pressure" toml:"pressure" json:"pressure,omitempty"`
	Description string            `yaml:"description" toml:"description" json:"description,omitempty"`
	Prompt      string            `yaml:"prompt" toml:"prompt" json:"prompt"`
	Files       map[string]string `yaml:"files" toml:"files" json:"files,omitempty"`
	FixtureDir  string            `yaml:"fixture_dir" toml:"fixture_dir" json:"fixture_dir,omitempty"`
	FixtureRepo *FixtureRepo      `yaml:"fixture_repo" toml:"fixture_repo" json:"fixture_repo,omitempty"`
	Graders     []GraderSpec      `yaml:"graders" toml:"graders" json:"graders"`
	Timebox     Duration          `yaml:"timebox" toml:"timebox" json:"timebox,omitempty"`
	Advisory    bool              `yaml:"advisory" toml:"advisory" json:"advisory,omitempty"`
	Requires    []string          `yaml:"requires" toml:"requires" json:"requires,omitempty"`
	Subject     *Subject          `yaml:"subject" toml:"subject" json:"subject,omitempty"`
	Trials      int               `yaml:"trials" toml:"trials" json:"trials,omitempty"`
	// Expected is the verdict the scenario should reach, "pass" or "fail".
	// Scenarios that set it are reported for calibration.
	Expected string `yaml:"expected" toml:"expected" json:"expected,omitempty"`

	// Set and Source record where the scenario was loaded from.
	Set    string `yaml:"-" toml:"-" json:"set,omitempty"`
	Source string `yaml:"-" toml:"-" json:"source,omitempty"`
}

// Expected verdicts.
const (
	ExpectPass = "pass"
	ExpectFail = "fail"
)

// FixtureRepo is a git repository cloned into the working directory before
// the subject runs.
type FixtureRepo struct {
	URL string `yaml:"url" toml:"url" json:"url"`
	Ref string `yaml:"ref" toml:"ref" json:"ref"`
}

// Subject is the command that invokes the agent under test.
type Subject struct {
	Command string            `yaml:"command" toml:"command" json:"command" mapstructure:"command"`
	Args    []string          `yaml:"args" toml:"args" json:"args,omitempty" mapstructure:"args"`
	Env     map[string]string `yaml:"env" toml:"env" json:"env,omitempty" mapstructure:"env"`
	// Stdin sends the prompt on standard input.
	Stdin bool `yaml:"stdin" toml:"stdin" json:"stdin,omitempty" mapstructure:"stdin"`
}

// Criterion is one weighted rubric dimension of a model grader.
type Criterion struct {
	Name   string  `yaml:"name" toml:"name" json:"name"`
	Weight float64 `yaml:"weight" toml:"weight" json:"weight"`
}

// Duration is a time.Duration written as a Go duration string ("90s", "5m").
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}
