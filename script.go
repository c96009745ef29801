package qjsbind

import (
	"github.com/cryguy/qjsbind/internal/qjs"
)

// Script is code compiled in a context, runnable any number of times.
type Script struct {
	ctx *Context
	val *Value
}

// Compile compiles code without running it. origin names the script in
// stack traces.
func (cs *ContextScope) Compile(code, origin string) (*Script, error) {
	cs.valid("Compile")
	ctx := cs.ctx
	raw, err := ctx.qc.Eval(code, origin, qjs.EvalTypeGlobal|qjs.EvalFlagCompileOnly)
	if err != nil {
		return nil, err
	}
	if qjs.IsException(raw) {
		return nil, ctx.iso.captureError(ctx)
	}
	if ctx.inspector != nil {
		ctx.inspector.scriptCompiled(origin)
	}
	return &Script{ctx: ctx, val: ctx.iso.adopt(ctx, raw, false)}, nil
}

// RunScript compiles and runs code in one step.
func (cs *ContextScope) RunScript(code, origin string) (*Value, error) {
	cs.valid("RunScript")
	ctx := cs.ctx
	iso := ctx.iso
	iso.enterExec()
	raw, err := ctx.qc.Eval(code, origin, qjs.EvalTypeGlobal)
	iso.leaveExec()
	if err != nil {
		return nil, err
	}
	if qjs.IsException(raw) {
		return nil, iso.captureError(ctx)
	}
	if ctx.inspector != nil {
		ctx.inspector.scriptCompiled(origin)
	}
	return iso.adopt(ctx, raw, false), nil
}

// Value returns the compiled function object.
func (s *Script) Value() *Value { return s.val }

// Run executes the script and returns its completion value.
func (s *Script) Run() (*Value, error) {
	v := s.val
	v.live()
	ctx := s.ctx
	iso := ctx.iso
	iso.enterExec()
	out := ctx.qc.EvalFunction(ctx.qc.DupValue(v.v))
	iso.leaveExec()
	if qjs.IsException(out) {
		return nil, iso.captureError(ctx)
	}
	return iso.adopt(ctx, out, false), nil
}

// Persist promotes the script past its handle scope.
func (s *Script) Persist() *PersistedScript {
	return &PersistedScript{p: newPersistedValue(s.val), origin: s.ctx}
}

// Bytecode serializes the compiled script for caching. The bytes are
// engine-version specific.
func (s *Script) Bytecode() ([]byte, error) {
	v := s.val
	v.live()
	b, ok := s.ctx.qc.WriteObject(v.v, qjs.WriteObjBytecode)
	if !ok {
		return nil, s.ctx.iso.captureError(s.ctx)
	}
	return b, nil
}

// ScriptFromBytecode revives a script serialized by Bytecode.
func (cs *ContextScope) ScriptFromBytecode(b []byte) (*Script, error) {
	cs.valid("ScriptFromBytecode")
	ctx := cs.ctx
	raw, err := ctx.qc.ReadObject(b, qjs.ReadObjBytecode)
	if err != nil {
		return nil, err
	}
	if qjs.IsException(raw) {
		return nil, ctx.iso.captureError(ctx)
	}
	return &Script{ctx: ctx, val: ctx.iso.adopt(ctx, raw, false)}, nil
}
