package qjsbind

import (
	"go.uber.org/zap"

	"github.com/cryguy/qjsbind/internal/qjs"
)

// Resolver controls a promise from the host side. It settles at most
// once: the first Resolve or Reject wins and later calls report false.
type Resolver struct {
	ctx     *Context
	promise *Value
	resolve *Value
	reject  *Value
	settled bool
}

// NewResolver creates a pending promise with host-held resolve and
// reject capabilities.
func (cs *ContextScope) NewResolver() (*Resolver, error) {
	cs.valid("NewResolver")
	ctx := cs.ctx
	iso := ctx.iso
	promise, resolve, reject, err := ctx.qc.NewPromiseCapability()
	if err != nil {
		return nil, err
	}
	return &Resolver{
		ctx:     ctx,
		promise: iso.adopt(ctx, promise, false),
		resolve: iso.adopt(ctx, resolve, false),
		reject:  iso.adopt(ctx, reject, false),
	}, nil
}

// Promise returns the controlled promise.
func (r *Resolver) Promise() *Promise {
	return &Promise{val: r.promise}
}

// Value returns the controlled promise as a plain value.
func (r *Resolver) Value() *Value { return r.promise }

// Resolve fulfills the promise with v. Reports whether this call
// settled it.
func (r *Resolver) Resolve(v *Value) bool {
	return r.settle(r.resolve, v, "resolve")
}

// Reject rejects the promise with v. Reports whether this call settled
// it.
func (r *Resolver) Reject(v *Value) bool {
	return r.settle(r.reject, v, "reject")
}

func (r *Resolver) settle(fn *Value, v *Value, what string) bool {
	if r.settled {
		Logger().Debug("resolver already settled", zap.String("op", what))
		return false
	}
	fn.live()
	v.live()
	ctx := r.ctx
	out := ctx.qc.Call(fn.v, qjs.Undefined(), []qjs.Value{v.v})
	if qjs.IsException(out) {
		exc := ctx.qc.Exception()
		ctx.qc.FreeValue(exc)
		Logger().Error("promise settle failed", zap.String("op", what), zap.Uint64("context", ctx.id))
		return false
	}
	ctx.qc.FreeValue(out)
	r.settled = true
	return true
}
