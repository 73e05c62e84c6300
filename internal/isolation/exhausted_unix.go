//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package isolation

import (
	"errors"
	"syscall"
)

// Exhausted reports whether err means the host ran out of a resource needed to
// create working directories. Such a failure ends the whole run.
func Exhausted(err error) bool {
	for _, errno := range []syscall.Errno{syscall.ENOSPC, syscall.EMFILE, syscall.ENFILE, syscall.EDQUOT} {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}
