package scenario

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilter(t *testing.T) {
	scenarios := []Scenario{
		{ID: "a", Category: "skip-tests/time"},
		{ID: "b", Category: "skip-tests/authority"},
		{ID: "c", Category: "false-claims"},
	}

	tests := []struct {
		name     string
		ids      []string
		category string
		want     int
	}{
		{"empty filters returns all", nil, "", 3},
		{"by id", []string{"b"}, "", 1},
		{"by several ids", []string{"a", "c"}, "", 2},
		{"by exact category", nil, "false-claims", 1},
		{"by category wildcard", nil, "skip-tests/*", 2},
		{"star matches all", nil, "*", 3},
		{"no match by id", []string{"zzz"}, "", 0},
		{"id and category", []string{"a"}, "skip-tests/*", 1},
		{"id and wrong category", []string{"a"}, "false-claims", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Filter(scenarios, tt.ids, tt.category)
			if len(got) != tt.want {
				t.Errorf("Filter(ids=%v, cat=%q) returned %d, want %d", tt.ids, tt.category, len(got), tt.want)
			}
		})
	}
}

func TestMatchCategory(t *testing.T) {
	tests := []struct {
		name     string
		category string
		pattern  string
		want     bool
	}{
		{"exact match", "skip-tests/time", "skip-tests/time", true},
		{"exact mismatch", "skip-tests/time", "skip-tests/authority", false},
		{"wildcard match", "skip-tests/time", "skip-tests/*", true},
		{"wildcard mismatch", "false-claims", "skip-tests/*", false},
		{"wildcard needs slash", "skip-tests", "skip-tests/*", false},
		{"empty category", "", "skip-tests/*", false},
		{"empty pattern exact", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MatchCategory(tt.category, tt.pattern)
			if got != tt.want {
				t.Errorf("MatchCategory(%q, %q) = %v, want %v", tt.category, tt.pattern, got, tt.want)
			}
		})
	}
}

func TestWatcherDebouncesChanges(t *testing.T) {
	dir := t.TempDir()
	var calls atomic.Int32
	w := NewWatcher(dir, 50*time.Millisecond, func() { calls.Add(1) }, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx) }()

	// Give the watcher time to register.
	time.Sleep(100 * time.Millisecond)
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "set.yaml"), []byte("x"), 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 20*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
