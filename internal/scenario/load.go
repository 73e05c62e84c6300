// Package scenario loads and validates scenario sets.
package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Load reads a scenario file, or every scenario file in a directory, and
// returns the validated scenarios with set defaults applied. IDs must be
// unique across everything loaded.
func Load(path string) ([]Scenario, error) {
	files, err := Files(path)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no scenario files in %s", path)
	}

	var all []Scenario
	seen := map[string]string{}
	for _, file := range files {
		set, err := LoadFile(file)
		if err != nil {
			return nil, err
		}
		for _, sc := range set.Scenarios {
			if prev, ok := seen[sc.ID]; ok {
				return nil, fmt.Errorf("%s: duplicate scenario id %q (also in %s)", file, sc.ID, prev)
			}
			seen[sc.ID] = file
			all = append(all, sc)
		}
	}
	return all, nil
}

// Files lists the scenario files at path in lexical order.
func Files(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenarios %s: %w", path, err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenarios %s: %w", path, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !IsScenarioFile(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(path, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// IsScenarioFile reports whether name has a scenario file extension.
func IsScenarioFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".toml":
		return true
	}
	return false
}

// LoadFile decodes and validates a single scenario set. Unknown keys are
// rejected.
func LoadFile(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario file %s: %w", path, err)
	}

	var set Set
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err = decodeTOML(data, &set)
	} else {
		err = decodeYAML(data, &set)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing scenario file %s: %w", path, err)
	}

	if set.Name == "" {
		set.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	set.applyDefaults(path)
	if err := set.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario file %s: %w", path, err)
	}
	return &set, nil
}

func decodeYAML(data []byte, set *Set) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(set); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("file is empty")
		}
		return err
	}
	return nil
}

func decodeTOML(data []byte, set *Set) error {
	md, err := toml.Decode(string(data), set)
	if err != nil {
		return err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}
	return nil
}

func (s *Set) applyDefaults(path string) {
	base := filepath.Dir(path)
	for i := range s.Scenarios {
		sc := &s.Scenarios[i]
		sc.Set = s.Name
		sc.Source = path
		if sc.Timebox == 0 {
			sc.Timebox = s.Defaults.Timebox
		}
		if sc.Subject == nil {
			sc.Subject = s.Defaults.Subject
		}
		if sc.Trials == 0 {
			sc.Trials = s.Defaults.Trials
		}
		if sc.FixtureDir != "" && !filepath.IsAbs(sc.FixtureDir) {
			sc.FixtureDir = filepath.Join(base, sc.FixtureDir)
		}
		for j := range sc.Graders {
			g := &sc.Graders[j]
			if g.Kind == KindModel && g.Samples == 0 {
				g.Samples = 1
			}
		}
	}
}

// Validate checks every scenario in the set.
func (s *Set) Validate() error {
	if len(s.Scenarios) == 0 {
		return errors.New("no scenarios defined")
	}
	if s.Defaults.Trials < 0 {
		return fmt.Errorf("defaults: trials must not be negative")
	}
	seen := map[string]bool{}
	for i := range s.Scenarios {
		sc := &s.Scenarios[i]
		if err := sc.Validate(); err != nil {
			if sc.ID == "" {
				return fmt.Errorf("scenario %d: %w", i, err)
			}
			return fmt.Errorf("scenario %q: %w", sc.ID, err)
		}
		if seen[sc.ID] {
			return fmt.Errorf("duplicate scenario id %q", sc.ID)
		}
		seen[sc.ID] = true
	}
	return nil
}

// Validate checks a single scenario, including all of its graders.
func (sc *Scenario) Validate() error {
	if sc.ID == "" {
		return errors.New("id is required")
	}
	if strings.ContainsAny(sc.ID, `/\ `) {
		return fmt.Errorf("id %q must not contain slashes or spaces", sc.ID)
	}
	if sc.Category == "" {
		return errors.New("category is required")
	}
	if strings.TrimSpace(sc.Prompt) == "" {
		return errors.New("prompt is required")
	}
	if sc.Timebox < 0 {
		return errors.New("timebox must not be negative")
	}
	if sc.Trials < 0 {
		return errors.New("trials must not be negative")
	}
	if sc.Expected != "" && sc.Expected != ExpectPass && sc.Expected != ExpectFail {
		return fmt.Errorf("expected %q must be %q or %q", sc.Expected, ExpectPass, ExpectFail)
	}
	for name := range sc.Files {
		if !filepath.IsLocal(name) {
			return fmt.Errorf("fixture file %q must be a relative path inside the working directory", name)
		}
	}
	if sc.FixtureRepo != nil && (sc.FixtureRepo.URL == "" || sc.FixtureRepo.Ref == "") {
		return errors.New("fixture_repo needs url and ref")
	}
	if sc.Subject != nil && sc.Subject.Command == "" {
		return errors.New("subject command is required")
	}
	if len(sc.Graders) == 0 {
		return errors.New("at least one grader is required")
	}

	required := 0
	names := map[string]bool{}
	for i := range sc.Graders {
		g := &sc.Graders[i]
		if err := g.Validate(); err != nil {
			return fmt.Errorf("grader %d (%s): %w", i, g.DisplayName(), err)
		}
		if names[g.DisplayName()] {
			return fmt.Errorf("duplicate grader name %q", g.DisplayName())
		}
		names[g.DisplayName()] = true
		if !g.Advisory {
			required++
		}
	}
	if required == 0 {
		return errors.New("at least one grader must not be advisory")
	}
	return nil
}

// HasKind reports whether any scenario uses a grader of the given kind.
func HasKind(scenarios []Scenario, kind string) bool {
	for _, sc := range scenarios {
		for _, g := range sc.Graders {
			if g.Kind == kind {
				return true
			}
		}
	}
	return false
}
