// Package metrics computes consistency measures over repeated trials of one
// scenario.
package metrics

// PassAtK reports whether at least one of the k trials passed.
func PassAtK(results []bool) bool {
	for _, passed := range results {
		if passed {
			return true
		}
	}
	return false
}

// PassCaretK reports whether all k trials passed. No trials means false.
func PassCaretK(results []bool) bool {
	if len(results) == 0 {
		return false
	}
	for _, passed := range results {
		if !passed {
			return false
		}
	}
	return true
}

// PassRate is the fraction of trials that passed.
func PassRate(results []bool) float64 {
	if len(results) == 0 {
		return 0
	}
	n := 0
	for _, passed := range results {
		if passed {
			n++
		}
	}
	return float64(n) / float64(len(results))
}

// Majority reports whether more than half of the trials passed.
func Majority(results []bool) bool {
	return len(results) > 0 && PassRate(results) > 0.5
}
