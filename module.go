package qjsbind

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/cryguy/qjsbind/internal/qjs"
)

// ModuleResolver maps an import specifier to a module. referrer is the
// identity hash of the importing module. Returning nil fails the
// import.
type ModuleResolver func(cs *ContextScope, specifier string, referrer int) *Module

// Module is an ES module compiled in a context. Imports resolve during
// Initiate; Evaluate runs the module body.
type Module struct {
	ctx       *Context
	val       *Value
	id        int
	initiated bool
}

// CompileAsModule compiles code as an ES module named name.
func (cs *ContextScope) CompileAsModule(name, code string) (*Module, error) {
	cs.valid("CompileAsModule")
	ctx := cs.ctx
	iso := ctx.iso
	raw, err := ctx.qc.Eval(code, name, qjs.EvalTypeModule|qjs.EvalFlagCompileOnly)
	if err != nil {
		return nil, err
	}
	if qjs.IsException(raw) {
		return nil, iso.captureError(ctx)
	}
	iso.moduleSeq++
	m := &Module{
		ctx: ctx,
		val: iso.adopt(ctx, raw, false),
		id:  iso.moduleSeq,
	}
	ctx.modulesByPtr[qjs.PtrOf(raw)] = m
	ctx.modulesByName[name] = m
	if ctx.inspector != nil {
		ctx.inspector.scriptCompiled(name)
	}
	return m, nil
}

// IdentityHash returns the module's stable identity. Hashes start at
// 1 per isolate; 0 never names a module.
func (m *Module) IdentityHash() int { return m.id }

// Initiate resolves the module's import graph through resolver. The
// resolver stays installed for the duration of the walk and sees the
// identity of whichever module requested each import.
func (m *Module) Initiate(resolver ModuleResolver) error {
	v := m.val
	v.live()
	ctx := m.ctx
	iso := ctx.iso

	prevRes := ctx.moduleResolver
	prevRef := ctx.currentReferrer
	ctx.moduleResolver = resolver
	ctx.currentReferrer = m.id
	if ctx.data != nil {
		ctx.data[slotInternal] = resolver
	}
	defer func() {
		ctx.moduleResolver = prevRes
		ctx.currentReferrer = prevRef
		if ctx.data != nil {
			if prevRes == nil {
				delete(ctx.data, slotInternal)
			} else {
				ctx.data[slotInternal] = prevRes
			}
		}
	}()

	iso.enterExec()
	ret := ctx.qc.ResolveModule(v.v)
	iso.leaveExec()
	if ret < 0 {
		return iso.captureError(ctx)
	}
	m.initiated = true
	return nil
}

// Evaluate runs the module body. The module must be initiated first.
// The result is undefined, or a promise under top-level await.
func (m *Module) Evaluate() (*Value, error) {
	if !m.initiated {
		return nil, ErrNotInitiated
	}
	v := m.val
	v.live()
	ctx := m.ctx
	iso := ctx.iso
	iso.enterExec()
	out := ctx.qc.EvalFunction(ctx.qc.DupValue(v.v))
	iso.leaveExec()
	if qjs.IsException(out) {
		return nil, iso.captureError(ctx)
	}
	return iso.adopt(ctx, out, false), nil
}

// Persist promotes the module past its handle scope.
func (m *Module) Persist() *PersistedModule {
	return &PersistedModule{p: newPersistedValue(m.val), id: m.id, initiated: m.initiated}
}

// Bytecode serializes the compiled module for caching. The bytes are
// engine-version specific.
func (m *Module) Bytecode() ([]byte, error) {
	v := m.val
	v.live()
	b, ok := m.ctx.qc.WriteObject(v.v, qjs.WriteObjBytecode)
	if !ok {
		return nil, m.ctx.iso.captureError(m.ctx)
	}
	return b, nil
}

// ModuleFromBytecode revives a module serialized by Bytecode. The
// revived module needs Initiate before Evaluate.
func (cs *ContextScope) ModuleFromBytecode(b []byte) (*Module, error) {
	cs.valid("ModuleFromBytecode")
	ctx := cs.ctx
	iso := ctx.iso
	raw, err := ctx.qc.ReadObject(b, qjs.ReadObjBytecode)
	if err != nil {
		return nil, err
	}
	if qjs.IsException(raw) {
		return nil, iso.captureError(ctx)
	}
	if !qjs.IsModule(raw) {
		ctx.qc.FreeValue(raw)
		return nil, fmt.Errorf("bytecode does not hold a module")
	}
	iso.moduleSeq++
	m := &Module{
		ctx: ctx,
		val: iso.adopt(ctx, raw, false),
		id:  iso.moduleSeq,
	}
	ctx.modulesByPtr[qjs.PtrOf(raw)] = m
	if name := ctx.qc.ModuleName(raw); name != "" {
		ctx.modulesByName[name] = m
	}
	return m, nil
}

// dispatchModuleNormalize rewrites a specifier relative to the
// importing module and, as a side effect, pins that module as the
// referrer the next load reports. The engine hands us the importer's
// name here and nowhere else.
func (c *Context) dispatchModuleNormalize(base, name string) string {
	if m, ok := c.modulesByName[base]; ok {
		c.currentReferrer = m.id
	}
	return qjs.NormalizeModuleName(base, name)
}

// dispatchModuleLoad services one engine import request. The compiled
// module definition outlives its value handle, so the raw definition
// pointer stays valid for the engine's resolution walk.
func (c *Context) dispatchModuleLoad(name string) uintptr {
	iso := c.iso
	resolver := c.moduleResolver
	if resolver == nil {
		Logger().Warn("import with no resolver installed",
			zap.Uint64("context", c.id), zap.String("specifier", name))
		return 0
	}

	hs := iso.OpenHandleScope()
	iso.enteredCtxs = append(iso.enteredCtxs, c)
	cs := &ContextScope{ctx: c, owns: false}

	m := resolver(cs, name, c.currentReferrer)

	var ptr uintptr
	if m != nil && m.val != nil && !m.val.dead {
		ptr = qjs.PtrOf(m.val.v)
	} else {
		Logger().Debug("resolver declined import",
			zap.Uint64("context", c.id), zap.String("specifier", name))
	}

	iso.enteredCtxs = iso.enteredCtxs[:len(iso.enteredCtxs)-1]
	hs.Close()
	return ptr
}
