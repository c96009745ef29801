package qjsbind

import (
	"github.com/cryguy/qjsbind/internal/qjs"
)

// PersistedValue is a handle that survives scope close. It pins one
// engine reference until Free, Forget or isolate dispose. Engine
// bookkeeping runs through the isolate's scratch context, so a
// persisted value outlives the context it came from.
type PersistedValue struct {
	iso   *Isolate
	ctx   *Context
	v     qjs.Value
	freed bool
}

func newPersistedValue(v *Value) *PersistedValue {
	iso := v.iso
	p := &PersistedValue{iso: iso, ctx: v.ctx, v: iso.scratch.qc.DupValue(v.v)}
	iso.persists[p] = struct{}{}
	return p
}

// ToLocal materializes a fresh scope-local handle on the value. The
// persistent handle stays valid.
func (p *PersistedValue) ToLocal(s *IsolateScope) *Value {
	s.valid("ToLocal")
	if p.freed {
		panic("qjsbind: ToLocal on freed persisted value")
	}
	ctx := p.homeCtx()
	return s.iso.adopt(ctx, s.iso.scratch.qc.DupValue(p.v), false)
}

func (p *PersistedValue) homeCtx() *Context {
	if p.ctx != nil && !p.ctx.freed {
		return p.ctx
	}
	return p.iso.currentCtx()
}

// Free releases the pinned reference. Call with the isolate not
// entered; it re-enters internally. No-op after isolate dispose.
func (p *PersistedValue) Free() {
	if p.freed {
		return
	}
	iso := p.iso
	if iso.disposed.Load() {
		p.freed = true
		return
	}
	iso.Enter()
	defer iso.Exit()
	p.releaseLocked()
}

// FreeWithin is Free for callers already inside the isolate.
func (p *PersistedValue) FreeWithin(s *IsolateScope) {
	s.valid("FreeWithin")
	p.releaseLocked()
}

// Forget abandons the handle without releasing the engine reference.
// The value stays alive until the isolate is disposed.
func (p *PersistedValue) Forget() {
	if p.freed {
		return
	}
	p.freed = true
	delete(p.iso.persists, p)
}

func (p *PersistedValue) releaseLocked() {
	if p.freed {
		return
	}
	p.freed = true
	p.iso.scratch.qc.FreeValue(p.v)
	delete(p.iso.persists, p)
}

// PersistedScript is a compiled script pinned past scope close.
type PersistedScript struct {
	p      *PersistedValue
	origin *Context
}

// ToLocal rebinds the script into an open scope.
func (ps *PersistedScript) ToLocal(s *IsolateScope) *Script {
	local := ps.p.ToLocal(s)
	ctx := ps.origin
	if ctx == nil || ctx.freed {
		ctx = local.ctx
	}
	return &Script{ctx: ctx, val: local}
}

// Free releases the pinned script. Re-enters the isolate.
func (ps *PersistedScript) Free() { ps.p.Free() }

// FreeWithin is Free for callers already inside the isolate.
func (ps *PersistedScript) FreeWithin(s *IsolateScope) { ps.p.FreeWithin(s) }

// PersistedModule is a compiled module pinned past scope close.
type PersistedModule struct {
	p         *PersistedValue
	id        int
	initiated bool
}

// ToLocal rebinds the module into an open scope, keeping its identity
// and initiation state.
func (pm *PersistedModule) ToLocal(s *IsolateScope) *Module {
	local := pm.p.ToLocal(s)
	m := &Module{ctx: local.ctx, val: local, id: pm.id, initiated: pm.initiated}
	if local.ctx.modulesByPtr != nil {
		local.ctx.modulesByPtr[qjs.PtrOf(local.v)] = m
	}
	return m
}

// Free releases the pinned module. Re-enters the isolate.
func (pm *PersistedModule) Free() { pm.p.Free() }

// FreeWithin is Free for callers already inside the isolate.
func (pm *PersistedModule) FreeWithin(s *IsolateScope) { pm.p.FreeWithin(s) }
