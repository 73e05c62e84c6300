package result

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
)

const (
	resultFile     = "result.json"
	transcriptFile = "transcript.txt"
	diffFile       = "diff.patch"
	runInfoFile    = "run.json"
)

// NewRunID returns a time-ordered run identifier.
func NewRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// CreateRunDir creates runs/<timestamp>-<id> under baseDir and points the
// latest symlink at it.
func CreateRunDir(baseDir, runID string) (string, error) {
	runsDir := filepath.Join(baseDir, "runs")
	stamp := time.Now().UTC().Format("2006-01-02T15-04-05")
	short := runID
	if len(short) > 8 {
		short = short[len(short)-8:]
	}
	runDir := filepath.Join(runsDir, stamp+"-"+short)
	runDir, err := filepath.Abs(runDir)
	if err != nil {
		return "", fmt.Errorf("resolving run dir: %w", err)
	}
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", fmt.Errorf("creating run dir: %w", err)
	}
	latest := filepath.Join(baseDir, "latest")
	os.Remove(latest)
	if err := os.Symlink(runDir, latest); err != nil {
		return "", fmt.Errorf("creating latest symlink: %w", err)
	}
	return runDir, nil
}

func TrialDir(runDir, scenarioID string, trial int) string {
	return filepath.Join(runDir, "scenarios", scenarioID, fmt.Sprintf("trial-%d", trial))
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating dir: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", filepath.Base(path), err)
	}
	return os.WriteFile(path, data, 0o644)
}

func WriteScenarioResult(trialDir string, r *ScenarioResult) error {
	return writeJSON(filepath.Join(trialDir, resultFile), r)
}

func ReadScenarioResult(path string) (*ScenarioResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading result: %w", err)
	}
	var r ScenarioResult
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parsing result %s: %w", path, err)
	}
	return &r, nil
}

func WriteTranscript(trialDir, transcript string) error {
	if err := os.MkdirAll(trialDir, 0o755); err != nil {
		return fmt.Errorf("creating trial dir: %w", err)
	}
	return os.WriteFile(filepath.Join(trialDir, transcriptFile), []byte(transcript), 0o644)
}

func ReadTranscript(trialDir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(trialDir, transcriptFile))
	if err != nil {
		return "", fmt.Errorf("reading transcript: %w", err)
	}
	return string(data), nil
}

// WriteDiff stores the subject's changes to a git fixture. An empty diff
// writes nothing.
func WriteDiff(trialDir, diff string) error {
	if diff == "" {
		return nil
	}
	if err := os.MkdirAll(trialDir, 0o755); err != nil {
		return fmt.Errorf("creating trial dir: %w", err)
	}
	return os.WriteFile(filepath.Join(trialDir, diffFile), []byte(diff), 0o644)
}

// ReadDiff returns the stored diff, or "" when none was written.
func ReadDiff(trialDir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(trialDir, diffFile))
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading diff: %w", err)
	}
	return string(data), nil
}

func WriteRunInfo(runDir string, info *RunInfo) error {
	return writeJSON(filepath.Join(runDir, runInfoFile), info)
}

func ReadRunInfo(runDir string) (*RunInfo, error) {
	data, err := os.ReadFile(filepath.Join(runDir, runInfoFile))
	if err != nil {
		return nil, fmt.Errorf("reading run info: %w", err)
	}
	var info RunInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parsing run info: %w", err)
	}
	return &info, nil
}

// StoredResult is a result read back from disk with the directory it lives in.
type StoredResult struct {
	Dir    string
	Result *ScenarioResult
}

// CollectResults reads every stored scenario result of a run, ordered by
// scenario id and trial.
func CollectResults(runDir string) ([]StoredResult, error) {
	paths, err := filepath.Glob(filepath.Join(runDir, "scenarios", "*", "trial-*", resultFile))
	if err != nil {
		return nil, fmt.Errorf("globbing results: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no results found in %s", runDir)
	}
	stored := make([]StoredResult, 0, len(paths))
	for _, p := range paths {
		r, err := ReadScenarioResult(p)
		if err != nil {
			return nil, err
		}
		stored = append(stored, StoredResult{Dir: filepath.Dir(p), Result: r})
	}
	sort.Slice(stored, func(i, j int) bool {
		a, b := stored[i].Result, stored[j].Result
		if a.Scenario != b.Scenario {
			return a.Scenario < b.Scenario
		}
		return a.Trial < b.Trial
	})
	return stored, nil
}

// Results strips the directories from stored results.
func Results(stored []StoredResult) []ScenarioResult {
	out := make([]ScenarioResult, len(stored))
	for i, s := range stored {
		out[i] = *s.Result
	}
	return out
}
