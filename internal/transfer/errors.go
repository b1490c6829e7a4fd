package transfer

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrConfiguration = errors.New("invalid configuration")
	ErrDependency    = errors.New("dependency failed")
	ErrCancelled     = errors.New("operation cancelled")

	// ErrKeptContent refuses to replace a target directory that holds ignored or unreadable entries
	ErrKeptContent = errors.New("directory holds ignored or unreadable content")
)

// ConfigurationError rejects invalid options before any operation is produced.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return ErrConfiguration
}

// IOError is an endpoint failure for a specific path.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

func newIOError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var ioErr *IOError
	if errors.As(err, &ioErr) {
		return err
	}
	return &IOError{Op: op, Path: path, Err: err}
}

// DependencyError marks an operation that never ran because the directory it
// depends on failed or was cancelled.
type DependencyError struct {
	Path       string
	Dependency string
	Cause      error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%q not attempted: dependency %q failed: %v", e.Path, e.Dependency, e.Cause)
}

func (e *DependencyError) Is(target error) bool {
	return target == ErrDependency
}

func (e *DependencyError) Unwrap() error {
	return e.Cause
}

// RunError aggregates every unsuccessful outcome of a run.
type RunError struct {
	Outcomes []*Outcome
}

func (e *RunError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d operation(s) did not complete", len(e.Outcomes))
	for i, o := range e.Outcomes {
		if i == 10 {
			fmt.Fprintf(&b, "; and %d more", len(e.Outcomes)-i)
			break
		}
		fmt.Fprintf(&b, "; %s %s: %v", o.Status, o.Path, o.Err)
	}
	return b.String()
}

func (e *RunError) Unwrap() []error {
	errs := make([]error, 0, len(e.Outcomes))
	for _, o := range e.Outcomes {
		errs = append(errs, o.Err)
	}
	return errs
}
