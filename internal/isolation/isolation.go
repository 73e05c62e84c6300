// Package isolation provides the private working directory each scenario run
// executes in.
package isolation

import (
	"fmt"
	"os"
)

// Prefix is the name prefix of every isolation directory.
const Prefix = "gauntlet-eval-"

// Error reports a failure to create or remove an isolation directory.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("isolation %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("isolation %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Context owns one uniquely named working directory. It is not safe for
// concurrent use; a single runner owns it for the lifetime of one scenario.
type Context struct {
	dir     string
	cleaned bool
}

// Create makes a fresh working directory under the system temp root.
func Create() (*Context, error) {
	return CreateIn("")
}

// CreateIn makes a fresh working directory under root. An empty root means
// the system temp directory.
func CreateIn(root string) (*Context, error) {
	dir, err := os.MkdirTemp(root, Prefix)
	if err != nil {
		return nil, &Error{Op: "create", Path: root, Err: err}
	}
	return &Context{dir: dir}, nil
}

// WorkingDir returns the absolute path of the directory.
func (c *Context) WorkingDir() string {
	return c.dir
}

// Cleaned reports whether Cleanup has removed the directory.
func (c *Context) Cleaned() bool {
	return c.cleaned
}

// Cleanup removes the directory and everything in it. Calling it again after a
// successful cleanup is a no-op. A failed removal leaves the context uncleaned
// so the caller may retry.
func (c *Context) Cleanup() error {
	if c.cleaned {
		return nil
	}
	if err := os.RemoveAll(c.dir); err != nil {
		return &Error{Op: "cleanup", Path: c.dir, Err: err}
	}
	c.cleaned = true
	return nil
}
