package qjsbind

import (
	"errors"
	"fmt"
)

// Error carries a JavaScript exception across the binding boundary.
type Error struct {
	Name    string // constructor name ("TypeError", "SyntaxError", ...)
	Message string
	Stack   string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Name == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}

var (
	// ErrTerminated reports that script execution was aborted by
	// TerminateExecution before it could finish.
	ErrTerminated = errors.New("execution terminated")

	// ErrDisposed reports an operation against an isolate that has
	// already been disposed.
	ErrDisposed = errors.New("isolate disposed")

	// ErrNotInitiated reports an attempt to evaluate a module whose
	// imports have not been resolved yet.
	ErrNotInitiated = errors.New("module not initiated")

	// ErrCacheMiss reports a bytecode cache lookup that found nothing.
	ErrCacheMiss = errors.New("cache miss")
)
