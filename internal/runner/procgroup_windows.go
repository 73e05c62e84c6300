//go:build windows

package runner

import "os/exec"

// setupProcessGroup is a no-op on Windows; cancellation kills the direct
// child only.
func setupProcessGroup(_ *exec.Cmd) {}
