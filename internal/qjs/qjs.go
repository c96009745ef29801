// Package qjs is the only package that touches the transpiled QuickJS C API.
// It exposes typed Go signatures over the raw lib.X calls so the rest of the
// module never sees a uintptr, a TLS, or a JSValue tag.
//
// Ownership notes follow the engine's reference counting: functions document
// whether they return an owned reference (caller must FreeValue), borrow an
// argument, or consume it.
package qjs

import (
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"github.com/cryguy/qjsbind/internal/cmem"
	"modernc.org/libc"
	lib "modernc.org/libquickjs"
)

// Value is an engine value handle. It is a 16-byte struct passed by value;
// whether it carries a heap reference depends on its tag.
type Value = lib.TJSValue

// Runtime wraps one engine runtime and the libc thread-local state it runs
// on. A Runtime is single-threaded; the embedding layer serializes access.
type Runtime struct {
	tls *libc.TLS
	ptr uintptr

	// OnInterrupt is polled by the engine during execution. A nonzero
	// return aborts the running job with an uncatchable error.
	OnInterrupt func() int32
}

// Context wraps one engine context (realm) belonging to a Runtime.
type Context struct {
	rt  *Runtime
	ptr uintptr

	// OnCall dispatches native-function invocations. data is the first
	// element of the function's bound data array; args are borrowed.
	OnCall func(this Value, args []Value, magic int32, data Value) Value

	// OnModuleLoad resolves an import specifier to a module definition
	// pointer, or 0 to fail the import.
	OnModuleLoad func(name string) uintptr

	// OnModuleNormalize rewrites an import specifier before OnModuleLoad
	// sees it. base is the importing module's name. When nil, relative
	// specifiers resolve against base the way the engine's default does.
	OnModuleNormalize func(base, name string) string
}

var (
	regMu    sync.RWMutex
	runtimes = make(map[uintptr]*Runtime)
	contexts = make(map[uintptr]*Context)
)

func lookupRuntime(ptr uintptr) *Runtime {
	regMu.RLock()
	defer regMu.RUnlock()
	return runtimes[ptr]
}

func lookupContext(ptr uintptr) *Context {
	regMu.RLock()
	defer regMu.RUnlock()
	return contexts[ptr]
}

// NewRuntime creates an engine runtime with its own TLS, registers the
// capsule class and installs the interrupt and module hooks.
func NewRuntime() (*Runtime, error) {
	tls := libc.NewTLS()
	ptr := lib.XJS_NewRuntime(tls)
	if ptr == 0 {
		tls.Close()
		return nil, fmt.Errorf("qjs: JS_NewRuntime failed")
	}
	r := &Runtime{tls: tls, ptr: ptr}
	if err := registerCapsuleClass(r); err != nil {
		lib.XJS_FreeRuntime(tls, ptr)
		tls.Close()
		return nil, err
	}
	lib.XJS_SetInterruptHandler(tls, ptr, interruptPtr(), 0)
	lib.XJS_SetModuleLoaderFunc(tls, ptr, moduleNormalizePtr(), moduleLoaderPtr(), 0)
	regMu.Lock()
	runtimes[ptr] = r
	regMu.Unlock()
	return r, nil
}

// Close frees the runtime and its TLS. All contexts and values must have
// been freed first.
func (r *Runtime) Close() {
	regMu.Lock()
	delete(runtimes, r.ptr)
	regMu.Unlock()
	lib.XJS_FreeRuntime(r.tls, r.ptr)
	r.tls.Close()
	r.ptr = 0
}

// SetMemoryLimit caps the engine heap. Zero means unlimited.
func (r *Runtime) SetMemoryLimit(limit uint64) {
	if limit == 0 {
		limit = ^uint64(0) >> 1
	}
	lib.XJS_SetMemoryLimit(r.tls, r.ptr, lib.Tsize_t(limit))
}

// SetMaxStackSize caps the engine's native stack accounting.
func (r *Runtime) SetMaxStackSize(n uint64) {
	lib.XJS_SetMaxStackSize(r.tls, r.ptr, lib.Tsize_t(n))
}

// UpdateStackTop re-bases stack-overflow detection for the current thread.
// Call after the executing OS thread may have changed.
func (r *Runtime) UpdateStackTop() {
	lib.XJS_UpdateStackTop(r.tls, r.ptr)
}

// RunGC forces a full garbage-collection pass.
func (r *Runtime) RunGC() {
	lib.XJS_RunGC(r.tls, r.ptr)
}

// MemoryUsage is a subset of the engine's heap accounting.
type MemoryUsage struct {
	MallocSize  int64
	MallocLimit int64
	UsedSize    int64
	MallocCount int64
	UsedCount   int64
	AtomCount   int64
	StringCount int64
	ObjectCount int64
}

// ComputeMemoryUsage walks the heap and reports usage counters.
// The engine fills a flat array of int64 fields; reading by index avoids
// depending on the generated struct type.
func (r *Runtime) ComputeMemoryUsage() MemoryUsage {
	var raw [32]int64
	lib.XJS_ComputeMemoryUsage(r.tls, r.ptr, uintptr(unsafe.Pointer(&raw[0])))
	u := MemoryUsage{
		MallocSize:  raw[0],
		MallocLimit: raw[1],
		UsedSize:    raw[2],
		MallocCount: raw[3],
		UsedCount:   raw[4],
		AtomCount:   raw[5],
		StringCount: raw[7],
		ObjectCount: raw[9],
	}
	runtime.KeepAlive(&raw)
	return u
}

// ExecutePendingJob runs one queued job. Returns a positive value if a job
// ran, zero if the queue was empty, negative on error with the job's
// exception left pending on the returned context.
func (r *Runtime) ExecutePendingJob() (int32, *Context) {
	var pctx uintptr
	ret := lib.XJS_ExecutePendingJob(r.tls, r.ptr, uintptr(unsafe.Pointer(&pctx)))
	runtime.KeepAlive(&pctx)
	return ret, lookupContext(pctx)
}

// NewContext creates a context with the default intrinsics.
func (r *Runtime) NewContext() (*Context, error) {
	ptr := lib.XJS_NewContext(r.tls, r.ptr)
	if ptr == 0 {
		return nil, fmt.Errorf("qjs: JS_NewContext failed")
	}
	c := &Context{rt: r, ptr: ptr}
	regMu.Lock()
	contexts[ptr] = c
	regMu.Unlock()
	return c, nil
}

// Close frees the context. Values owned by it must have been freed first.
func (c *Context) Close() {
	regMu.Lock()
	delete(contexts, c.ptr)
	regMu.Unlock()
	lib.XJS_FreeContext(c.rt.tls, c.ptr)
	c.ptr = 0
}

// Runtime returns the owning runtime.
func (c *Context) Runtime() *Runtime { return c.rt }

// FreeValue releases one reference.
func (c *Context) FreeValue(v Value) {
	lib.XFreeValue(c.rt.tls, c.ptr, v)
}

// DupValue takes an additional reference and returns the same value.
func (c *Context) DupValue(v Value) Value {
	return lib.XDupValue(c.rt.tls, c.ptr, v)
}

// Global returns an owned reference to the global object.
func (c *Context) Global() Value {
	return lib.XJS_GetGlobalObject(c.rt.tls, c.ptr)
}

// Eval compiles and/or runs code. The returned value is owned; an
// exception-tagged value means a JS-level failure with the exception
// pending on the context. The error return covers only infrastructure
// failures such as allocation.
func (c *Context) Eval(code, filename string, flags int32) (Value, error) {
	tls := c.rt.tls
	codePtr, err := cmem.CString(tls, code)
	if err != nil {
		return Undefined(), err
	}
	defer cmem.FreePtr(tls, codePtr)
	namePtr, err := cmem.CString(tls, filename)
	if err != nil {
		return Undefined(), err
	}
	defer cmem.FreePtr(tls, namePtr)
	return lib.XJS_Eval(tls, c.ptr, codePtr, lib.Tsize_t(len(code)), namePtr, flags), nil
}

// EvalFunction runs a compiled function or module value. Consumes fn.
func (c *Context) EvalFunction(fn Value) Value {
	return lib.XJS_EvalFunction(c.rt.tls, c.ptr, fn)
}

// Exception takes the pending exception off the context. Owned.
func (c *Context) Exception() Value {
	return lib.XJS_GetException(c.rt.tls, c.ptr)
}

// HasException reports a pending exception without consuming it.
func (c *Context) HasException() bool {
	return lib.XJS_HasException(c.rt.tls, c.ptr) != 0
}

// Throw schedules v as the pending exception. Consumes v.
func (c *Context) Throw(v Value) Value {
	return lib.XJS_Throw(c.rt.tls, c.ptr, v)
}

// NewStringLen builds an engine string from s. Owned.
func (c *Context) NewStringLen(s string) (Value, error) {
	tls := c.rt.tls
	p, err := cmem.CString(tls, s)
	if err != nil {
		return Undefined(), err
	}
	defer cmem.FreePtr(tls, p)
	return lib.XJS_NewStringLen(tls, c.ptr, p, lib.Tsize_t(len(s))), nil
}

// ToCStringLen converts v to UTF-8 in engine-owned memory. The pointer stays
// valid until FreeCString. ok is false when the conversion threw.
func (c *Context) ToCStringLen(v Value) (ptr uintptr, n int, ok bool) {
	var size lib.Tsize_t
	ptr = lib.XJS_ToCStringLen2(c.rt.tls, c.ptr, uintptr(unsafe.Pointer(&size)), v, 0)
	runtime.KeepAlive(&size)
	if ptr == 0 {
		return 0, 0, false
	}
	return ptr, int(size), true
}

// FreeCString releases memory returned by ToCStringLen.
func (c *Context) FreeCString(p uintptr) {
	lib.XJS_FreeCString(c.rt.tls, c.ptr, p)
}

// GoStringN copies n bytes of native memory into a Go string.
func GoStringN(p uintptr, n int) string {
	if p == 0 || n == 0 {
		return ""
	}
	return string(unsafe.Slice((*byte)(unsafe.Pointer(p)), n))
}

// GoStringFromValue coerces v to a JS string and copies it out.
// Returns "" when the coercion threw; the pending exception is freed.
func (c *Context) GoStringFromValue(v Value) string {
	ptr, n, ok := c.ToCStringLen(v)
	if !ok {
		exc := c.Exception()
		c.FreeValue(exc)
		return ""
	}
	s := GoStringN(ptr, n)
	c.FreeCString(ptr)
	return s
}

// NewObject returns an owned plain object.
func (c *Context) NewObject() Value {
	return lib.XJS_NewObject(c.rt.tls, c.ptr)
}

// NewObjectClass returns an owned object of the given registered class.
func (c *Context) NewObjectClass(classID uint32) Value {
	return lib.XJS_NewObjectClass(c.rt.tls, c.ptr, int32(classID))
}

// NewArray returns an owned empty array.
func (c *Context) NewArray() Value {
	return lib.XJS_NewArray(c.rt.tls, c.ptr)
}

// NewArrayBufferCopy copies b into an owned ArrayBuffer.
func (c *Context) NewArrayBufferCopy(b []byte) Value {
	if len(b) == 0 {
		var zero byte
		v := lib.XJS_NewArrayBufferCopy(c.rt.tls, c.ptr, uintptr(unsafe.Pointer(&zero)), 0)
		runtime.KeepAlive(&zero)
		return v
	}
	v := lib.XJS_NewArrayBufferCopy(c.rt.tls, c.ptr, uintptr(unsafe.Pointer(&b[0])), lib.Tsize_t(len(b)))
	runtime.KeepAlive(b)
	return v
}

// ArrayBufferData returns a view aliasing the buffer's backing store. The
// view is valid only while the value is alive and no JS runs.
func (c *Context) ArrayBufferData(v Value) ([]byte, bool) {
	var size lib.Tsize_t
	ptr := lib.XJS_GetArrayBuffer(c.rt.tls, c.ptr, uintptr(unsafe.Pointer(&size)), v)
	runtime.KeepAlive(&size)
	if ptr == 0 {
		return nil, false
	}
	if size == 0 {
		return []byte{}, true
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(ptr)), size), true
}

// NewCFunctionData builds a native function dispatched through the package
// trampoline. data values are borrowed (the engine takes its own refs).
func (c *Context) NewCFunctionData(length, magic int32, data []Value) Value {
	if len(data) == 0 {
		data = []Value{Undefined()}
	}
	v := lib.XJS_NewCFunctionData(c.rt.tls, c.ptr, cFuncDataPtr(), length, magic,
		int32(len(data)), uintptr(unsafe.Pointer(&data[0])))
	runtime.KeepAlive(data)
	return v
}

// GetPropertyStr returns an owned reference to obj[name].
func (c *Context) GetPropertyStr(obj Value, name string) (Value, error) {
	tls := c.rt.tls
	p, err := cmem.CString(tls, name)
	if err != nil {
		return Undefined(), err
	}
	defer cmem.FreePtr(tls, p)
	return lib.XJS_GetPropertyStr(tls, c.ptr, obj, p), nil
}

// SetPropertyStr sets obj[name] = v. Consumes v even on failure.
func (c *Context) SetPropertyStr(obj Value, name string, v Value) error {
	tls := c.rt.tls
	p, err := cmem.CString(tls, name)
	if err != nil {
		c.FreeValue(v)
		return err
	}
	defer cmem.FreePtr(tls, p)
	if ret := lib.XJS_SetPropertyStr(tls, c.ptr, obj, p, v); ret < 0 {
		return fmt.Errorf("qjs: setting property %q", name)
	}
	return nil
}

// GetPropertyUint32 returns an owned reference to obj[idx].
func (c *Context) GetPropertyUint32(obj Value, idx uint32) Value {
	return lib.XJS_GetPropertyUint32(c.rt.tls, c.ptr, obj, idx)
}

// SetPropertyUint32 sets obj[idx] = v. Consumes v.
func (c *Context) SetPropertyUint32(obj Value, idx uint32, v Value) error {
	if ret := lib.XJS_SetPropertyUint32(c.rt.tls, c.ptr, obj, idx, v); ret < 0 {
		return fmt.Errorf("qjs: setting index %d", idx)
	}
	return nil
}

// HasProperty reports whether obj has a property named name.
func (c *Context) HasProperty(obj Value, name string) (bool, error) {
	atom, err := c.newAtom(name)
	if err != nil {
		return false, err
	}
	defer lib.XJS_FreeAtom(c.rt.tls, c.ptr, atom)
	return lib.XJS_HasProperty(c.rt.tls, c.ptr, obj, atom) > 0, nil
}

// DeleteProperty removes obj[name], reporting whether the deletion
// succeeded.
func (c *Context) DeleteProperty(obj Value, name string) (bool, error) {
	atom, err := c.newAtom(name)
	if err != nil {
		return false, err
	}
	defer lib.XJS_FreeAtom(c.rt.tls, c.ptr, atom)
	return lib.XJS_DeleteProperty(c.rt.tls, c.ptr, obj, atom, 0) > 0, nil
}

func (c *Context) newAtom(name string) (uint32, error) {
	tls := c.rt.tls
	p, err := cmem.CString(tls, name)
	if err != nil {
		return 0, err
	}
	defer cmem.FreePtr(tls, p)
	return lib.XJS_NewAtomLen(tls, c.ptr, p, lib.Tsize_t(len(name))), nil
}

// Call invokes fn with this and args. args are borrowed. Owned result.
func (c *Context) Call(fn, this Value, args []Value) Value {
	if len(args) == 0 {
		return lib.XJS_Call(c.rt.tls, c.ptr, fn, this, 0, 0)
	}
	v := lib.XJS_Call(c.rt.tls, c.ptr, fn, this, int32(len(args)), uintptr(unsafe.Pointer(&args[0])))
	runtime.KeepAlive(args)
	return v
}

// CallConstructor invokes fn as a constructor. args are borrowed.
func (c *Context) CallConstructor(fn Value, args []Value) Value {
	if len(args) == 0 {
		return lib.XJS_CallConstructor(c.rt.tls, c.ptr, fn, 0, 0)
	}
	v := lib.XJS_CallConstructor(c.rt.tls, c.ptr, fn, int32(len(args)), uintptr(unsafe.Pointer(&args[0])))
	runtime.KeepAlive(args)
	return v
}

// ParseJSON parses s as JSON. Owned result, exception-tagged on bad input.
func (c *Context) ParseJSON(s string) (Value, error) {
	tls := c.rt.tls
	p, err := cmem.CString(tls, s)
	if err != nil {
		return Undefined(), err
	}
	defer cmem.FreePtr(tls, p)
	namePtr, err := cmem.CString(tls, "<json>")
	if err != nil {
		return Undefined(), err
	}
	defer cmem.FreePtr(tls, namePtr)
	return lib.XJS_ParseJSON(tls, c.ptr, p, lib.Tsize_t(len(s)), namePtr), nil
}

// JSONStringify serializes v. Owned string value result.
func (c *Context) JSONStringify(v Value) Value {
	return lib.XJS_JSONStringify(c.rt.tls, c.ptr, v, Undefined(), Undefined())
}

// PromiseState reports the promise's internal state, or a negative value if
// v is not a promise.
func (c *Context) PromiseState(v Value) int32 {
	return lib.XJS_PromiseState(c.rt.tls, c.ptr, v)
}

// PromiseResult returns an owned reference to the settled result.
func (c *Context) PromiseResult(v Value) Value {
	return lib.XJS_PromiseResult(c.rt.tls, c.ptr, v)
}

// NewPromiseCapability returns an owned promise plus its owned resolve and
// reject functions.
func (c *Context) NewPromiseCapability() (promise, resolve, reject Value, err error) {
	funcs := make([]Value, 2)
	p := lib.XJS_NewPromiseCapability(c.rt.tls, c.ptr, uintptr(unsafe.Pointer(&funcs[0])))
	runtime.KeepAlive(funcs)
	if Tag(p) == TagException {
		c.FreeValue(c.Exception())
		return Undefined(), Undefined(), Undefined(), fmt.Errorf("qjs: creating promise capability")
	}
	return p, funcs[0], funcs[1], nil
}

// ResolveModule resolves a compiled module's imports through the runtime's
// module loader. Zero on success.
func (c *Context) ResolveModule(v Value) int32 {
	return lib.XJS_ResolveModule(c.rt.tls, c.ptr, v)
}

// ModuleName reports the name a module value was compiled under.
func (c *Context) ModuleName(v Value) string {
	tls := c.rt.tls
	atom := lib.XJS_GetModuleName(tls, c.ptr, PtrOf(v))
	defer lib.XJS_FreeAtom(tls, c.ptr, atom)
	p := lib.XJS_AtomToCString(tls, c.ptr, atom)
	if p == 0 {
		return ""
	}
	defer lib.XJS_FreeCString(tls, c.ptr, p)
	return cmem.GoString(p)
}

// WriteObject serializes a compiled script or module to bytecode.
func (c *Context) WriteObject(v Value, flags int32) ([]byte, bool) {
	tls := c.rt.tls
	var size lib.Tsize_t
	p := lib.XJS_WriteObject(tls, c.ptr, uintptr(unsafe.Pointer(&size)), v, flags)
	runtime.KeepAlive(&size)
	if p == 0 {
		return nil, false
	}
	out := make([]byte, size)
	copy(out, unsafe.Slice((*byte)(unsafe.Pointer(p)), size))
	lib.Xjs_free(tls, c.ptr, p)
	return out, true
}

// ReadObject deserializes bytecode produced by WriteObject. Owned result,
// exception-tagged on corrupt input.
func (c *Context) ReadObject(b []byte, flags int32) (Value, error) {
	tls := c.rt.tls
	p, err := cmem.Bytes(tls, b)
	if err != nil {
		return Undefined(), err
	}
	defer cmem.FreePtr(tls, p)
	return lib.XJS_ReadObject(tls, c.ptr, p, lib.Tsize_t(len(b)), flags), nil
}

// ToFloat64 converts v to a number.
func (c *Context) ToFloat64(v Value) (float64, bool) {
	var f float64
	ret := lib.XJS_ToFloat64(c.rt.tls, c.ptr, uintptr(unsafe.Pointer(&f)), v)
	runtime.KeepAlive(&f)
	return f, ret == 0
}

// ToInt64 converts v to a 64-bit integer.
func (c *Context) ToInt64(v Value) (int64, bool) {
	var n int64
	ret := lib.XJS_ToInt64(c.rt.tls, c.ptr, uintptr(unsafe.Pointer(&n)), v)
	runtime.KeepAlive(&n)
	return n, ret == 0
}

// ToBool converts v with JS truthiness.
func (c *Context) ToBool(v Value) bool {
	return lib.XJS_ToBool(c.rt.tls, c.ptr, v) > 0
}

// IsFunction reports whether v is callable.
func (c *Context) IsFunction(v Value) bool {
	return lib.XJS_IsFunction(c.rt.tls, c.ptr, v) != 0
}

// IsError reports whether v is an Error instance.
func (c *Context) IsError(v Value) bool {
	return lib.XJS_IsError(c.rt.tls, c.ptr, v) != 0
}

// IsInstanceOf reports whether v is an instance of ctor. A negative second
// result means the check itself threw.
func (c *Context) IsInstanceOf(v, ctor Value) (bool, bool) {
	ret := lib.XJS_IsInstanceOf(c.rt.tls, c.ptr, v, ctor)
	if ret < 0 {
		c.FreeValue(c.Exception())
		return false, false
	}
	return ret > 0, true
}

// SetOpaque attaches an opaque word to a capsule-class object.
func (c *Context) SetOpaque(v Value, opaque uintptr) {
	lib.XJS_SetOpaque(c.rt.tls, v, opaque)
}

// GetOpaque reads the opaque word of a capsule-class object, or 0.
func (c *Context) GetOpaque(v Value) uintptr {
	return lib.XJS_GetOpaque(c.rt.tls, v, capsuleClassID)
}
