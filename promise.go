package qjsbind

import (
	"fmt"

	"github.com/cryguy/qjsbind/internal/qjs"
)

// PromiseState is a promise's settlement state.
type PromiseState int

const (
	PromisePending PromiseState = iota
	PromiseFulfilled
	PromiseRejected

	// PromiseUnknown is reported for values the engine does not
	// recognize as promises.
	PromiseUnknown
)

func (s PromiseState) String() string {
	switch s {
	case PromisePending:
		return "pending"
	case PromiseFulfilled:
		return "fulfilled"
	case PromiseRejected:
		return "rejected"
	}
	return "unknown"
}

// Promise views a value as a JS promise.
type Promise struct {
	val *Value
}

// Value returns the underlying value handle.
func (p *Promise) Value() *Value { return p.val }

// State reports the settlement state, PromiseUnknown when the value is
// not a promise.
func (p *Promise) State() PromiseState {
	v := p.val
	v.live()
	switch v.ctx.qc.PromiseState(v.v) {
	case qjs.PromisePending:
		return PromisePending
	case qjs.PromiseFulfilled:
		return PromiseFulfilled
	case qjs.PromiseRejected:
		return PromiseRejected
	}
	return PromiseUnknown
}

// Result returns the settled value or rejection reason, nil while the
// promise is pending or for non-promises.
func (p *Promise) Result() *Value {
	v := p.val
	v.live()
	switch p.State() {
	case PromiseFulfilled, PromiseRejected:
	default:
		return nil
	}
	raw := v.ctx.qc.PromiseResult(v.v)
	return v.iso.adopt(v.ctx, raw, false)
}

// Then chains native reactions onto the promise and returns the
// derived promise. Either callback may be nil. Reactions run during
// microtask pumping, not inside Then.
func (p *Promise) Then(onFulfilled, onRejected NativeFunc) (*Promise, error) {
	v := p.val
	v.live()
	ctx := v.ctx
	iso := v.iso

	fulRaw := qjs.Undefined()
	if onFulfilled != nil {
		fn := ctx.newNativeFunction(onFulfilled, nil, nil)
		if fn == nil {
			return nil, fmt.Errorf("engine: reaction allocation failed")
		}
		fulRaw = fn.v
	}
	rejRaw := qjs.Undefined()
	if onRejected != nil {
		fn := ctx.newNativeFunction(onRejected, nil, nil)
		if fn == nil {
			return nil, fmt.Errorf("engine: reaction allocation failed")
		}
		rejRaw = fn.v
	}

	thenFn, err := ctx.qc.GetPropertyStr(v.v, "then")
	if err != nil {
		return nil, err
	}
	if qjs.IsException(thenFn) {
		return nil, iso.captureError(ctx)
	}
	defer ctx.qc.FreeValue(thenFn)

	out := ctx.qc.Call(thenFn, v.v, []qjs.Value{fulRaw, rejRaw})
	if qjs.IsException(out) {
		return nil, iso.captureError(ctx)
	}
	return &Promise{val: iso.adopt(ctx, out, false)}, nil
}
