//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package isolation

import (
	"errors"
	"syscall"
)

// Exhausted reports whether err means the host ran out of disk space.
func Exhausted(err error) bool {
	return errors.Is(err, syscall.ENOSPC)
}
