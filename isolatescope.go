package qjsbind

import (
	"go.uber.org/zap"

	"github.com/cryguy/qjsbind/internal/qjs"
)

// IsolateScope pairs an isolate entry with a handle scope. Values it
// creates land in the current context when one is entered, otherwise
// in a hidden scratch context.
type IsolateScope struct {
	iso      *Isolate
	hs       *HandleScope
	borrowed bool
	closed   bool
}

// Isolate returns the scoped isolate.
func (s *IsolateScope) Isolate() *Isolate { return s.iso }

func (s *IsolateScope) valid(op string) {
	if s.closed {
		panic("qjsbind: " + op + " on closed scope")
	}
	s.iso.requireEntered(op)
}

// Close closes the handle scope and exits the isolate. Scopes handed
// to native callbacks belong to the dispatcher and cannot be closed.
func (s *IsolateScope) Close() {
	if s.closed {
		panic("qjsbind: isolate scope closed twice")
	}
	if s.borrowed {
		panic("qjsbind: Close on callback-owned isolate scope")
	}
	s.closed = true
	s.hs.Close()
	s.iso.Exit()
}

func (s *IsolateScope) NewUndefined() *Value {
	s.valid("NewUndefined")
	return s.iso.adopt(s.iso.currentCtx(), qjs.Undefined(), false)
}

func (s *IsolateScope) NewNull() *Value {
	s.valid("NewNull")
	return s.iso.adopt(s.iso.currentCtx(), qjs.Null(), false)
}

func (s *IsolateScope) NewBoolean(b bool) *Value {
	s.valid("NewBoolean")
	return s.iso.adopt(s.iso.currentCtx(), qjs.NewBool(b), false)
}

func (s *IsolateScope) NewNumber(f float64) *Value {
	s.valid("NewNumber")
	return s.iso.adopt(s.iso.currentCtx(), qjs.NewFloat64(f), false)
}

func (s *IsolateScope) NewLong(n int64) *Value {
	s.valid("NewLong")
	return s.iso.adopt(s.iso.currentCtx(), qjs.NewInt64(n), false)
}

// NewString materializes a JS string. Returns nil when the engine
// cannot allocate it.
func (s *IsolateScope) NewString(str string) *Value {
	s.valid("NewString")
	ctx := s.iso.currentCtx()
	raw, err := ctx.qc.NewStringLen(str)
	if err != nil || qjs.IsException(raw) {
		Logger().Error("string allocation failed", zap.Uint64("isolate", s.iso.id), zap.Error(err))
		return nil
	}
	return s.iso.adopt(ctx, raw, false)
}

func (s *IsolateScope) NewObject() *Object {
	s.valid("NewObject")
	ctx := s.iso.currentCtx()
	raw := ctx.qc.NewObject()
	if qjs.IsException(raw) {
		Logger().Error("object allocation failed", zap.Uint64("isolate", s.iso.id))
		return nil
	}
	return &Object{val: s.iso.adopt(ctx, raw, false)}
}

// NewArray builds an array holding the given values in order.
func (s *IsolateScope) NewArray(values ...*Value) *Array {
	s.valid("NewArray")
	ctx := s.iso.currentCtx()
	raw := ctx.qc.NewArray()
	if qjs.IsException(raw) {
		Logger().Error("array allocation failed", zap.Uint64("isolate", s.iso.id))
		return nil
	}
	for i, v := range values {
		v.live()
		if err := ctx.qc.SetPropertyUint32(raw, uint32(i), ctx.qc.DupValue(v.v)); err != nil {
			exc := ctx.qc.Exception()
			ctx.qc.FreeValue(exc)
			ctx.qc.FreeValue(raw)
			Logger().Error("array element store failed", zap.Uint64("isolate", s.iso.id), zap.Int("index", i))
			return nil
		}
	}
	return &Array{Object{val: s.iso.adopt(ctx, raw, false)}}
}

// NewArrayBuffer builds an ArrayBuffer holding a copy of data.
func (s *IsolateScope) NewArrayBuffer(data []byte) *ArrayBuffer {
	s.valid("NewArrayBuffer")
	ctx := s.iso.currentCtx()
	raw := ctx.qc.NewArrayBufferCopy(data)
	if qjs.IsException(raw) {
		Logger().Error("arraybuffer allocation failed", zap.Uint64("isolate", s.iso.id), zap.Int("size", len(data)))
		return nil
	}
	return &ArrayBuffer{Object{val: s.iso.adopt(ctx, raw, false)}}
}

// NewSet builds a Set seeded with the given values.
func (s *IsolateScope) NewSet(values ...*Value) *Set {
	s.valid("NewSet")
	ctx := s.iso.currentCtx()
	raw, err := ctx.callHelper(helperNewSet)
	if err != nil {
		Logger().Error("set allocation failed", zap.Uint64("isolate", s.iso.id), zap.Error(err))
		return nil
	}
	set := &Set{Object{val: s.iso.adopt(ctx, raw, false)}}
	for _, v := range values {
		set.Add(v)
	}
	return set
}

// RaiseException sets v as the pending exception of the current
// context. Meant for use inside native callbacks; the surrounding
// engine call reports it.
func (s *IsolateScope) RaiseException(v *Value) {
	s.valid("RaiseException")
	v.live()
	ctx := s.iso.currentCtx()
	ctx.qc.Throw(ctx.qc.DupValue(v.v))
}

// ThrowError throws a fresh Error with the given message in the
// current context.
func (s *IsolateScope) ThrowError(msg string) {
	s.valid("ThrowError")
	s.iso.throwError(s.iso.currentCtx(), msg)
}

func (iso *Isolate) throwError(ctx *Context, msg string) {
	qc := ctx.qc
	global := qc.Global()
	defer qc.FreeValue(global)
	ctor, err := qc.GetPropertyStr(global, "Error")
	if err != nil {
		Logger().Error("error constructor lookup failed", zap.Uint64("isolate", iso.id), zap.Error(err))
		return
	}
	defer qc.FreeValue(ctor)
	text, err := qc.NewStringLen(msg)
	if err != nil {
		Logger().Error("throw message allocation failed", zap.Uint64("isolate", iso.id), zap.Error(err))
		return
	}
	errv := qc.CallConstructor(ctor, []qjs.Value{text})
	qc.FreeValue(text)
	if qjs.IsException(errv) {
		return
	}
	qc.Throw(errv)
}
