package metrics_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/signalnine/gauntlet/internal/metrics"
)

func TestConsistency(t *testing.T) {
	tests := []struct {
		name     string
		results  []bool
		atK      bool
		caretK   bool
		rate     float64
		majority bool
	}{
		{"empty", nil, false, false, 0, false},
		{"all pass", []bool{true, true, true}, true, true, 1, true},
		{"all fail", []bool{false, false}, false, false, 0, false},
		{"one of three", []bool{false, true, false}, true, false, 1.0 / 3, false},
		{"two of three", []bool{true, false, true}, true, false, 2.0 / 3, true},
		{"even split", []bool{true, false}, true, false, 0.5, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.atK, metrics.PassAtK(tt.results))
			assert.Equal(t, tt.caretK, metrics.PassCaretK(tt.results))
			assert.InDelta(t, tt.rate, metrics.PassRate(tt.results), 1e-9)
			assert.Equal(t, tt.majority, metrics.Majority(tt.results))
		})
	}
}
