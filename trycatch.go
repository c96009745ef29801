package qjsbind

import (
	"fmt"
	"strings"

	"github.com/cryguy/qjsbind/internal/qjs"
)

// TryCatch observes exceptions thrown while it is the innermost open
// handler. Operations that fail still return their error; the handler
// additionally keeps the thrown value alive for inspection.
type TryCatch struct {
	iso        *Isolate
	caught     *Value
	err        *Error
	terminated bool
	rethrow    bool
	closed     bool
}

// NewTryCatch pushes a new innermost exception handler. Pair with
// Close, innermost first.
func (s *IsolateScope) NewTryCatch() *TryCatch {
	s.valid("NewTryCatch")
	tc := &TryCatch{iso: s.iso}
	s.iso.tryCatches = append(s.iso.tryCatches, tc)
	return tc
}

// Close pops the handler. A caught exception marked for re-throw
// propagates to the next handler out; anything else is swallowed.
func (tc *TryCatch) Close() {
	if tc.closed {
		panic("qjsbind: try-catch closed twice")
	}
	iso := tc.iso
	n := len(iso.tryCatches)
	if n == 0 || iso.tryCatches[n-1] != tc {
		panic("qjsbind: try-catch must close innermost first")
	}
	iso.tryCatches = iso.tryCatches[:n-1]
	tc.closed = true
	if tc.rethrow && tc.caught != nil && !tc.caught.dead {
		v := tc.caught
		v.ctx.qc.Throw(v.ctx.qc.DupValue(v.v))
		// With a handler still open the exception moves there now.
		// Otherwise it stays pending so the surrounding engine call
		// fails with it.
		if len(iso.tryCatches) > 0 {
			_ = iso.drainError(v.ctx)
		}
	}
}

// HasCaught reports whether an exception landed in this handler.
func (tc *TryCatch) HasCaught() bool { return tc.err != nil }

// HasTerminated reports whether the caught failure came from
// TerminateExecution rather than a script throw.
func (tc *TryCatch) HasTerminated() bool { return tc.terminated }

// Exception returns the thrown value, nil when none was caught or the
// handle scope that held it has closed.
func (tc *TryCatch) Exception() *Value {
	if tc.caught != nil && tc.caught.dead {
		return nil
	}
	return tc.caught
}

// Message returns the rendered exception text, "" when none caught.
func (tc *TryCatch) Message() string {
	if tc.err == nil {
		return ""
	}
	return tc.err.Error()
}

// StackTrace returns the exception's stack property.
func (tc *TryCatch) StackTrace() (string, bool) {
	if tc.err == nil || tc.err.Stack == "" {
		return "", false
	}
	return tc.err.Stack, true
}

// ReThrow marks the caught exception to propagate outward when this
// handler closes.
func (tc *TryCatch) ReThrow() {
	if tc.caught == nil || tc.caught.dead {
		return
	}
	tc.rethrow = true
}

// Reset forgets the caught exception.
func (tc *TryCatch) Reset() {
	tc.caught = nil
	tc.err = nil
	tc.terminated = false
	tc.rethrow = false
}

// drainError consumes the pending engine exception, routes it to the
// innermost try-catch and returns it as an error. nil when nothing was
// pending. A pending termination request maps to ErrTerminated and is
// withdrawn once the run fully unwinds.
func (iso *Isolate) drainError(ctx *Context) error {
	qc := ctx.qc
	exc := qc.Exception()
	if qjs.IsNull(exc) {
		return nil
	}
	wasTerminating := iso.terminating.Load() || iso.aborted
	e := iso.buildError(ctx, exc)

	if n := len(iso.tryCatches); n > 0 {
		tc := iso.tryCatches[n-1]
		if len(iso.scopes) > 0 {
			tc.caught = iso.adopt(ctx, exc, false)
		} else {
			qc.FreeValue(exc)
		}
		tc.err = e
		tc.terminated = wasTerminating
	} else {
		qc.FreeValue(exc)
	}

	if e.Name == "InternalError" && strings.Contains(e.Message, "out of memory") {
		iso.reportOOM("javascript heap", true)
	}

	if wasTerminating {
		// At depth zero the aborted run has fully unwound and the
		// request withdraws. Deeper frames stay armed so enclosing
		// scripts unwind too.
		if iso.execDepth == 0 {
			iso.aborted = false
			iso.terminating.Store(false)
		} else {
			iso.aborted = true
		}
		return fmt.Errorf("%s: %w", e.Message, ErrTerminated)
	}
	return e
}

// captureError is drainError for paths where the engine definitely
// signalled failure.
func (iso *Isolate) captureError(ctx *Context) error {
	if err := iso.drainError(ctx); err != nil {
		return err
	}
	return fmt.Errorf("engine: failure with no pending exception")
}

func (iso *Isolate) buildError(ctx *Context, exc qjs.Value) *Error {
	qc := ctx.qc
	e := &Error{}
	if qc.IsError(exc) {
		e.Name = errProp(qc, exc, "name")
		e.Message = errProp(qc, exc, "message")
		e.Stack = errProp(qc, exc, "stack")
		return e
	}
	e.Message = qc.GoStringFromValue(exc)
	return e
}

func errProp(qc *qjs.Context, exc qjs.Value, name string) string {
	raw, err := qc.GetPropertyStr(exc, name)
	if err != nil || qjs.IsException(raw) || qjs.IsUndefined(raw) {
		return ""
	}
	s := qc.GoStringFromValue(raw)
	qc.FreeValue(raw)
	return s
}
