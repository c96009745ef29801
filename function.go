package qjsbind

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/cryguy/qjsbind/internal/qjs"
)

// NativeFunc handles a JS call into Go. Returning nil yields
// undefined to the caller.
type NativeFunc func(info *FunctionCallbackInfo) *Value

const magicNativeCall = 1

// nativeRecord ties a callback and its userdata to the capsule object
// the engine holds. Records chain per-isolate so Dispose can run every
// deleter that GC never reached. The deleter runs exactly once, from
// either the capsule finalizer or Dispose.
type nativeRecord struct {
	id      uintptr
	fn      NativeFunc
	data    any
	deleter func(any)
	iso     *Isolate

	prev, next *nativeRecord
}

var (
	recordSeq atomic.Uintptr
	recordMu  sync.Mutex
	records   = make(map[uintptr]*nativeRecord)
)

func init() {
	qjs.OnCapsuleFinalize = capsuleFinalized
}

func (iso *Isolate) newRecord(fn NativeFunc, data any, deleter func(any)) *nativeRecord {
	if data != nil && deleter == nil {
		panic("qjsbind: native data without a deleter")
	}
	r := &nativeRecord{
		id:      recordSeq.Add(1),
		fn:      fn,
		data:    data,
		deleter: deleter,
		iso:     iso,
	}
	recordMu.Lock()
	records[r.id] = r
	recordMu.Unlock()
	r.next = iso.pdHead
	if iso.pdHead != nil {
		iso.pdHead.prev = r
	}
	iso.pdHead = r
	iso.pdCount++
	return r
}

func loadRecord(id uintptr) *nativeRecord {
	recordMu.Lock()
	defer recordMu.Unlock()
	return records[id]
}

// takeRecord claims r for finalization. Only the first claimant wins.
func takeRecord(id uintptr) *nativeRecord {
	recordMu.Lock()
	defer recordMu.Unlock()
	r := records[id]
	delete(records, id)
	return r
}

func capsuleFinalized(id uintptr) {
	r := takeRecord(id)
	if r == nil {
		return
	}
	r.unlink()
	r.runDeleter()
}

// finalizeRecord is the Dispose-path counterpart of capsuleFinalized.
func finalizeRecord(r *nativeRecord) {
	if takeRecord(r.id) == nil {
		return
	}
	r.unlink()
	r.runDeleter()
}

func (r *nativeRecord) unlink() {
	iso := r.iso
	if r.prev != nil {
		r.prev.next = r.next
	} else if iso.pdHead == r {
		iso.pdHead = r.next
	}
	if r.next != nil {
		r.next.prev = r.prev
	}
	r.prev, r.next = nil, nil
	iso.pdCount--
}

func (r *nativeRecord) runDeleter() {
	if r.deleter != nil {
		r.deleter(r.data)
	}
	r.fn = nil
	r.data = nil
	r.deleter = nil
}

// newCapsule wraps rec in an engine object whose finalizer retires the
// record.
func (c *Context) newCapsule(rec *nativeRecord) (qjs.Value, bool) {
	obj := c.qc.NewObjectClass(qjs.CapsuleClassID())
	if qjs.IsException(obj) {
		exc := c.qc.Exception()
		c.qc.FreeValue(exc)
		return qjs.Value{}, false
	}
	c.qc.SetOpaque(obj, rec.id)
	return obj, true
}

// NewNativeFunction builds a JS function that calls fn. data rides
// along and is handed to every invocation; deleter releases it when
// the function is collected or the isolate disposed. Non-nil data
// without a deleter panics.
func (s *IsolateScope) NewNativeFunction(fn NativeFunc, data any, deleter func(any)) *Value {
	s.valid("NewNativeFunction")
	if fn == nil {
		panic("qjsbind: nil native function")
	}
	iso := s.iso
	ctx := iso.currentCtx()
	return ctx.newNativeFunction(fn, data, deleter)
}

func (c *Context) newNativeFunction(fn NativeFunc, data any, deleter func(any)) *Value {
	iso := c.iso
	rec := iso.newRecord(fn, data, deleter)
	capsule, ok := c.newCapsule(rec)
	if !ok {
		finalizeRecord(rec)
		Logger().Error("capsule allocation failed", zap.Uint64("isolate", iso.id))
		return nil
	}
	fnv := c.qc.NewCFunctionData(0, magicNativeCall, []qjs.Value{capsule})
	c.qc.FreeValue(capsule)
	if qjs.IsException(fnv) {
		Logger().Error("native function allocation failed", zap.Uint64("isolate", iso.id))
		return nil
	}
	return iso.adopt(c, fnv, false)
}

// NewExternalData wraps opaque Go data in an engine value. The deleter
// releases it when the value is collected or the isolate disposed.
// Non-nil data without a deleter panics.
func (s *IsolateScope) NewExternalData(data any, deleter func(any)) *Value {
	s.valid("NewExternalData")
	iso := s.iso
	ctx := iso.currentCtx()
	rec := iso.newRecord(nil, data, deleter)
	capsule, ok := ctx.newCapsule(rec)
	if !ok {
		finalizeRecord(rec)
		Logger().Error("capsule allocation failed", zap.Uint64("isolate", iso.id))
		return nil
	}
	return iso.adopt(ctx, capsule, false)
}

// AsExternalData unwraps a value built by NewExternalData.
func (v *Value) AsExternalData() (any, bool) {
	v.live()
	id := v.ctx.qc.GetOpaque(v.v)
	if id == 0 {
		return nil, false
	}
	r := loadRecord(id)
	if r == nil {
		return nil, false
	}
	return r.data, true
}

// FunctionCallbackInfo carries one JS-to-Go call. Its values are
// borrowed from the engine frame and die when the callback returns.
type FunctionCallbackInfo struct {
	iso    *Isolate
	iscope *IsolateScope
	scope  *ContextScope
	this   *Value
	args   []*Value
	data   any
	raised *Value
}

// Isolate returns the isolate the call runs in.
func (info *FunctionCallbackInfo) Isolate() *Isolate { return info.iso }

// Scope returns an isolate scope for building values inside the
// callback. The scope belongs to the dispatcher; do not Close it.
func (info *FunctionCallbackInfo) Scope() *IsolateScope { return info.iscope }

// Context returns the entered context of the call. The scope belongs
// to the dispatcher; do not Exit it.
func (info *FunctionCallbackInfo) Context() *ContextScope { return info.scope }

// This returns the call's this value.
func (info *FunctionCallbackInfo) This() *Value { return info.this }

// Len returns the argument count.
func (info *FunctionCallbackInfo) Len() int { return len(info.args) }

// Get returns argument i, nil when out of range.
func (info *FunctionCallbackInfo) Get(i int) *Value {
	if i < 0 || i >= len(info.args) {
		return nil
	}
	return info.args[i]
}

// Args returns all arguments.
func (info *FunctionCallbackInfo) Args() []*Value { return info.args }

// Data returns the userdata bound at function creation.
func (info *FunctionCallbackInfo) Data() any {
	return info.data
}

// RaiseException makes v the call's thrown result.
func (info *FunctionCallbackInfo) RaiseException(v *Value) {
	v.live()
	info.raised = v
}

// RaiseError throws a fresh Error with the given message.
func (info *FunctionCallbackInfo) RaiseError(msg string) {
	if v := newErrorValue(info.scope.ctx, msg); v != nil {
		info.raised = v
	}
}

func newErrorValue(ctx *Context, msg string) *Value {
	qc := ctx.qc
	global := qc.Global()
	defer qc.FreeValue(global)
	ctor, err := qc.GetPropertyStr(global, "Error")
	if err != nil {
		return nil
	}
	defer qc.FreeValue(ctor)
	text, err := qc.NewStringLen(msg)
	if err != nil {
		return nil
	}
	errv := qc.CallConstructor(ctor, []qjs.Value{text})
	qc.FreeValue(text)
	if qjs.IsException(errv) {
		exc := qc.Exception()
		qc.FreeValue(exc)
		return nil
	}
	return ctx.iso.adopt(ctx, errv, false)
}

// dispatchCall routes an engine call on this context to the Go
// callback behind its capsule.
func (c *Context) dispatchCall(this qjs.Value, args []qjs.Value, magic int32, data qjs.Value) qjs.Value {
	iso := c.iso
	if magic != magicNativeCall {
		Logger().Error("unknown callback magic", zap.Uint64("context", c.id), zap.Int32("magic", magic))
		return qjs.Undefined()
	}
	rec := loadRecord(c.qc.GetOpaque(data))
	if rec == nil || rec.fn == nil {
		iso.throwError(c, "native callback no longer registered")
		return qjs.ExceptionValue()
	}

	hs := iso.OpenHandleScope()
	iso.enteredCtxs = append(iso.enteredCtxs, c)
	info := &FunctionCallbackInfo{
		iso:    iso,
		iscope: &IsolateScope{iso: iso, hs: hs, borrowed: true},
		scope:  &ContextScope{ctx: c, owns: false},
		this:   iso.adopt(c, this, true),
		args:   make([]*Value, len(args)),
		data:   rec.data,
	}
	for i, a := range args {
		info.args[i] = iso.adopt(c, a, true)
	}

	ret := rec.fn(info)

	var out qjs.Value
	switch {
	case info.raised != nil && !info.raised.dead:
		c.qc.Throw(c.qc.DupValue(info.raised.v))
		out = qjs.ExceptionValue()
	case c.qc.HasException():
		// The callback threw through ThrowError or RaiseException.
		out = qjs.ExceptionValue()
	case iso.terminating.Load():
		// A termination requested during the callback keeps
		// unwinding the calling script.
		iso.throwError(c, "execution terminated")
		out = qjs.ExceptionValue()
	case ret == nil:
		out = qjs.Undefined()
	default:
		ret.live()
		out = c.qc.DupValue(ret.v)
	}

	iso.enteredCtxs = iso.enteredCtxs[:len(iso.enteredCtxs)-1]
	hs.Close()
	return out
}
