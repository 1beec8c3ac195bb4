package aio

import (
	"errors"
	"fmt"
	"runtime"
)

// CancelledError is the failure observed at a task's suspension point once
// it has been asked to [Task.Cancel].
type CancelledError struct{}

func (CancelledError) Error() string { return "aio: cancelled" }

// DeadlockError is returned by [Run] when the loop has gone idle — no
// ready tasks, no pending timers, no pending I/O watches — while the root
// computation has not yet terminated.
type DeadlockError struct{}

func (DeadlockError) Error() string { return "aio: deadlock: no progress possible" }

// MisuseError reports a violation of this package's usage contract: for
// example spawning into a closed [Group], opening a [Group] from outside a
// running [Task], or calling [Run] re-entrantly.
type MisuseError struct {
	Reason string
}

func (e *MisuseError) Error() string { return "aio: misuse: " + e.Reason }

// UserFailure wraps an arbitrary non-error value raised by user code (via
// the built-in panic, or a non-error value passed to [Task.Throw]) so that
// it satisfies the error interface and can be told apart from this
// package's own error kinds with errors.As.
type UserFailure struct {
	Value any
}

func (e *UserFailure) Error() string { return fmt.Sprintf("%v", e.Value) }

func (e *UserFailure) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

// failureFromPanic turns whatever value a task panicked or [Task.Throw]'d
// with into an error: an error value passes through unchanged, anything
// else is wrapped in a [UserFailure].
func failureFromPanic(v any) error {
	if v == nil {
		return nil
	}
	if err, ok := v.(error); ok {
		return err
	}
	return &UserFailure{Value: v}
}

// translateRootFailure turns the panic stack a root [Task] left on its
// [Loop] into a single error, unless that panic stack holds a raw
// runtime.Error — a genuine Go bug, not a user-level failure — in which
// case it re-panics, matching this package's contract that Run panics
// when the underlying computation panics with one of those.
func translateRootFailure(ps panicstack) error {
	if len(ps) == 0 {
		return nil
	}
	for _, p := range ps {
		if _, ok := p.value.(runtime.Error); ok {
			ps.Repanic()
		}
	}
	if len(ps) == 1 {
		return failureFromPanic(ps[0].value)
	}
	return &panicvalue{items: ps}
}

// TimeoutError is raised by [WithTimeout] when its deadline elapses before
// the guarded computation ends.
type TimeoutError struct{}

func (TimeoutError) Error() string { return "aio: timeout" }

func isCancelled(err error) bool {
	var ce CancelledError
	return errors.As(err, &ce)
}
