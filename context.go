package qjsbind

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/cryguy/qjsbind/internal/qjs"
)

// Reserved private-data slots. User indices start above these.
const (
	slotEngine    = 0 // never touched by the binding
	slotInternal  = 1 // module resolver stash
	slotIdentity  = 2 // context identity
	reservedSlots = 3
)

// Context is an isolated global environment inside an isolate. Each
// context carries a private-data side table; slots 0..2 are reserved,
// user data lives above them via SetPrivateData.
type Context struct {
	iso      *Isolate
	qc       *qjs.Context
	id       uint64
	internal bool

	data    map[uint32]any
	helpers map[helperFn]qjs.Value

	modulesByPtr    map[uintptr]*Module
	modulesByName   map[string]*Module
	moduleResolver  ModuleResolver
	currentReferrer int

	inspector *Inspector

	freed bool
}

func newContext(iso *Isolate, internal bool) (*Context, error) {
	qc, err := iso.rt.NewContext()
	if err != nil {
		return nil, err
	}
	ctx := &Context{
		iso:           iso,
		qc:            qc,
		id:            idCounter.Add(1),
		internal:      internal,
		data:          make(map[uint32]any),
		helpers:       make(map[helperFn]qjs.Value),
		modulesByPtr:  make(map[uintptr]*Module),
		modulesByName: make(map[string]*Module),
	}
	ctx.data[slotIdentity] = ctx.id
	qc.OnCall = ctx.dispatchCall
	qc.OnModuleLoad = ctx.dispatchModuleLoad
	qc.OnModuleNormalize = ctx.dispatchModuleNormalize
	iso.ctxByQC[qc] = ctx
	if !internal {
		iso.contexts[ctx] = struct{}{}
	}
	return ctx, nil
}

// NewContext creates a context with a plain global object. Returns nil
// when the engine is out of memory.
func (s *IsolateScope) NewContext() *Context {
	s.valid("NewContext")
	ctx, err := newContext(s.iso, false)
	if err != nil {
		Logger().Error("context creation failed", zap.Uint64("isolate", s.iso.id), zap.Error(err))
		return nil
	}
	Logger().Debug("context created", zap.Uint64("isolate", s.iso.id), zap.Uint64("context", ctx.id))
	return ctx
}

// Isolate returns the owning isolate.
func (c *Context) Isolate() *Isolate { return c.iso }

// ID returns the context identity. IDs start at 1; 0 is never issued.
func (c *Context) ID() uint64 { return c.id }

// Enter makes the context current. Requires the isolate entered. Pair
// with ContextScope.Exit, innermost first.
func (c *Context) Enter() *ContextScope {
	c.iso.requireEntered("Context.Enter")
	if c.freed {
		panic("qjsbind: Enter on freed context")
	}
	c.iso.enteredCtxs = append(c.iso.enteredCtxs, c)
	return &ContextScope{ctx: c, owns: true}
}

// SetPrivateData stores data in user slot idx. nil clears the slot.
func (c *Context) SetPrivateData(idx uint32, data any) {
	if c.freed {
		panic("qjsbind: SetPrivateData on freed context")
	}
	if data == nil {
		delete(c.data, reservedSlots+idx)
		return
	}
	c.data[reservedSlots+idx] = data
}

// GetPrivateData reads user slot idx, nil when empty.
func (c *Context) GetPrivateData(idx uint32) any {
	if c.freed {
		return nil
	}
	return c.data[reservedSlots+idx]
}

// ResetPrivateData clears user slot idx. Other slots are untouched.
func (c *Context) ResetPrivateData(idx uint32) {
	if c.freed {
		panic("qjsbind: ResetPrivateData on freed context")
	}
	delete(c.data, reservedSlots+idx)
}

// Free tears the context down: inspector detached, cached helpers and
// the private-data table released, then the engine context. Call with
// the isolate not entered; it re-enters internally. Freeing a context
// that is still entered panics.
func (c *Context) Free() {
	if c.freed {
		return
	}
	iso := c.iso
	iso.Enter()
	defer iso.Exit()
	c.releaseLocked()
}

// FreeWithin is Free for callers already inside the isolate.
func (c *Context) FreeWithin(s *IsolateScope) {
	s.valid("FreeWithin")
	c.releaseLocked()
}

func (c *Context) releaseLocked() {
	if c.freed {
		return
	}
	for _, entered := range c.iso.enteredCtxs {
		if entered == c {
			panic("qjsbind: Free on entered context")
		}
	}
	c.freed = true
	if c.inspector != nil {
		c.inspector.detach()
		c.inspector = nil
	}
	for _, fn := range c.helpers {
		c.qc.FreeValue(fn)
	}
	c.helpers = nil
	c.data = nil
	c.modulesByPtr = nil
	c.modulesByName = nil
	c.moduleResolver = nil
	delete(c.iso.ctxByQC, c.qc)
	delete(c.iso.contexts, c)
	c.qc.Close()
	Logger().Debug("context freed", zap.Uint64("isolate", c.iso.id), zap.Uint64("context", c.id))
}

// helperFn indexes the lazily compiled JS helpers each context keeps
// for operations QuickJS has no direct C entry point for.
type helperFn uint8

const (
	helperIsArray helperFn = iota
	helperIsArrayBuffer
	helperIsSet
	helperIsMap
	helperIsPromise
	helperIsStringObject
	helperIsAsyncFunction
	helperTypeOf
	helperStrictEq
	helperFreeze
	helperIsFrozen
	helperOwnNames
	helperEnumNames
	helperNewSet
	helperSetAdd
	helperSetHas
	helperSetDelete
	helperSetSize
	helperDefineHidden
	helperCloneProps
	helperCount
)

var helperSrc = [helperCount]string{
	helperIsArray:         `function(v){return Array.isArray(v)}`,
	helperIsArrayBuffer:   `function(v){return v instanceof ArrayBuffer}`,
	helperIsSet:           `function(v){return v instanceof Set}`,
	helperIsMap:           `function(v){return v instanceof Map}`,
	helperIsPromise:       `function(v){return v instanceof Promise}`,
	helperIsStringObject:  `function(v){return v instanceof String}`,
	helperIsAsyncFunction: `function(v){return Object.prototype.toString.call(v)==="[object AsyncFunction]"}`,
	helperTypeOf:          `function(v){return typeof v}`,
	helperStrictEq:        `function(a,b){return a===b}`,
	helperFreeze:          `function(o){Object.freeze(o);return o}`,
	helperIsFrozen:        `function(o){return Object.isFrozen(o)}`,
	helperOwnNames:        `function(o){return Object.getOwnPropertyNames(o)}`,
	helperEnumNames:       `function(o){var out=[];for(var k in o)out.push(k);return out}`,
	helperNewSet:          `function(){return new Set()}`,
	helperSetAdd:          `function(s,v){s.add(v);return s}`,
	helperSetHas:          `function(s,v){return s.has(v)}`,
	helperSetDelete:       `function(s,v){return s.delete(v)}`,
	helperSetSize:         `function(s){return s.size}`,
	helperDefineHidden:    `function(o,n,v){Object.defineProperty(o,n,{value:v,enumerable:false,configurable:true,writable:true})}`,
	helperCloneProps:      `function(src,dst){var ks=Object.getOwnPropertyNames(src);for(var i=0;i<ks.length;i++){var k=ks[i];if(k.charCodeAt(0)===91)continue;var d=Object.getOwnPropertyDescriptor(src,k);Object.defineProperty(dst,k,d)}return dst}`,
}

func (c *Context) helper(h helperFn) (qjs.Value, error) {
	if fn, ok := c.helpers[h]; ok {
		return fn, nil
	}
	fn, err := c.qc.Eval("("+helperSrc[h]+")", "<builtin>", qjs.EvalTypeGlobal)
	if err != nil {
		return qjs.Value{}, err
	}
	if qjs.IsException(fn) {
		return qjs.Value{}, c.takeException()
	}
	c.helpers[h] = fn
	return fn, nil
}

// callHelper invokes a cached helper. The result is owned by the
// caller.
func (c *Context) callHelper(h helperFn, args ...qjs.Value) (qjs.Value, error) {
	fn, err := c.helper(h)
	if err != nil {
		return qjs.Value{}, err
	}
	out := c.qc.Call(fn, qjs.Undefined(), args)
	if qjs.IsException(out) {
		return qjs.Value{}, c.takeException()
	}
	return out, nil
}

func (c *Context) helperBool(h helperFn, args ...qjs.Value) bool {
	out, err := c.callHelper(h, args...)
	if err != nil {
		return false
	}
	defer c.qc.FreeValue(out)
	return c.qc.ToBool(out)
}

// takeException consumes the pending engine exception as a plain
// error, without routing it through try-catch.
func (c *Context) takeException() error {
	exc := c.qc.Exception()
	msg := c.qc.GoStringFromValue(exc)
	c.qc.FreeValue(exc)
	return fmt.Errorf("engine: %s", msg)
}
