package qjsbind

import (
	"github.com/cryguy/qjsbind/internal/qjs"
)

// ContextScope is an entered context. Compilation, execution and JSON
// operations run against the innermost entered context.
type ContextScope struct {
	ctx    *Context
	owns   bool
	closed bool
}

// Exit leaves the context. Contexts exit innermost first. Scopes
// handed to native callbacks belong to the dispatcher and cannot be
// exited.
func (cs *ContextScope) Exit() {
	if cs.closed {
		panic("qjsbind: context scope exited twice")
	}
	if !cs.owns {
		panic("qjsbind: Exit on callback-owned context scope")
	}
	iso := cs.ctx.iso
	n := len(iso.enteredCtxs)
	if n == 0 || iso.enteredCtxs[n-1] != cs.ctx {
		panic("qjsbind: contexts must exit innermost first")
	}
	iso.enteredCtxs = iso.enteredCtxs[:n-1]
	cs.closed = true
}

// Context returns the underlying context.
func (cs *ContextScope) Context() *Context { return cs.ctx }

// Isolate returns the owning isolate.
func (cs *ContextScope) Isolate() *Isolate { return cs.ctx.iso }

func (cs *ContextScope) valid(op string) {
	if cs.closed {
		panic("qjsbind: " + op + " on exited context scope")
	}
	if cs.ctx.freed {
		panic("qjsbind: " + op + " on freed context")
	}
	cs.ctx.iso.requireEntered(op)
}

// Global returns the context's global object.
func (cs *ContextScope) Global() *Object {
	cs.valid("Global")
	ctx := cs.ctx
	raw := ctx.qc.Global()
	return &Object{val: ctx.iso.adopt(ctx, raw, false)}
}

// SetPrivateData stores data in the context's user slot idx.
func (cs *ContextScope) SetPrivateData(idx uint32, data any) {
	cs.valid("SetPrivateData")
	cs.ctx.SetPrivateData(idx, data)
}

// GetPrivateData reads the context's user slot idx.
func (cs *ContextScope) GetPrivateData(idx uint32) any {
	cs.valid("GetPrivateData")
	return cs.ctx.GetPrivateData(idx)
}

// ResetPrivateData clears the context's user slot idx.
func (cs *ContextScope) ResetPrivateData(idx uint32) {
	cs.valid("ResetPrivateData")
	cs.ctx.ResetPrivateData(idx)
}

// ParseJSON parses text as JSON in this context.
func (cs *ContextScope) ParseJSON(text string) (*Value, error) {
	cs.valid("ParseJSON")
	ctx := cs.ctx
	raw, err := ctx.qc.ParseJSON(text)
	if err != nil {
		return nil, err
	}
	if qjs.IsException(raw) {
		return nil, ctx.iso.captureError(ctx)
	}
	return ctx.iso.adopt(ctx, raw, false), nil
}

// JSONStringify renders v with JSON.stringify semantics. Values with
// no JSON rendering (undefined, bare functions) come back as the
// string "undefined".
func (cs *ContextScope) JSONStringify(v *Value) (string, error) {
	cs.valid("JSONStringify")
	v.live()
	ctx := cs.ctx
	raw := ctx.qc.JSONStringify(v.v)
	if qjs.IsException(raw) {
		return "", ctx.iso.captureError(ctx)
	}
	defer ctx.qc.FreeValue(raw)
	if qjs.IsUndefined(raw) {
		return "undefined", nil
	}
	return ctx.qc.GoStringFromValue(raw), nil
}
