package qjsbind

import (
	"github.com/cryguy/qjsbind/internal/qjs"
)

// HandleScope owns the values materialized while it is the innermost
// open scope. Closing it releases their engine references and marks
// the wrappers dead; touching a dead value panics.
type HandleScope struct {
	iso    *Isolate
	vals   []*Value
	closed bool
}

// OpenHandleScope pushes a new innermost handle scope. Requires the
// isolate entered.
func (iso *Isolate) OpenHandleScope() *HandleScope {
	iso.requireEntered("OpenHandleScope")
	hs := &HandleScope{iso: iso}
	iso.scopes = append(iso.scopes, hs)
	return hs
}

// Close releases every value the scope owns. Scopes close innermost
// first; closing out of order panics.
func (hs *HandleScope) Close() {
	if hs.closed {
		panic("qjsbind: handle scope closed twice")
	}
	iso := hs.iso
	n := len(iso.scopes)
	if n == 0 || iso.scopes[n-1] != hs {
		panic("qjsbind: handle scopes must close innermost first")
	}
	iso.scopes = iso.scopes[:n-1]
	hs.closed = true
	for i := len(hs.vals) - 1; i >= 0; i-- {
		v := hs.vals[i]
		if v.dead {
			continue
		}
		if !v.borrowed && qjs.IsRefCounted(v.v) {
			v.ctx.qc.FreeValue(v.v)
		}
		v.dead = true
	}
	hs.vals = nil
}

// adopt registers an engine value with the innermost scope. borrowed
// values are tracked for liveness but their engine reference belongs
// to someone else.
func (iso *Isolate) adopt(ctx *Context, raw qjs.Value, borrowed bool) *Value {
	n := len(iso.scopes)
	if n == 0 {
		panic("qjsbind: no open handle scope")
	}
	v := &Value{iso: iso, ctx: ctx, v: raw, borrowed: borrowed}
	hs := iso.scopes[n-1]
	hs.vals = append(hs.vals, v)
	return v
}
