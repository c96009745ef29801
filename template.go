package qjsbind

import (
	"go.uber.org/zap"

	"github.com/cryguy/qjsbind/internal/qjs"
)

// fieldCountKey stashes the internal-field count on a template
// blueprint.
const fieldCountKey = "[[FieldCount]]"

// ObjectTemplate is a blueprint for objects. Properties set on the
// template are stamped onto every instance; an internal-field count
// reserves embedder slots on each instance.
type ObjectTemplate struct {
	val *Value
}

// NewObjectTemplate creates an empty blueprint.
func (s *IsolateScope) NewObjectTemplate() *ObjectTemplate {
	s.valid("NewObjectTemplate")
	obj := s.NewObject()
	if obj == nil {
		return nil
	}
	return &ObjectTemplate{val: obj.Value()}
}

// Value returns the blueprint object.
func (t *ObjectTemplate) Value() *Value { return t.val }

// Set adds a property stamped onto every instance.
func (t *ObjectTemplate) Set(name string, v *Value) error {
	return (&Object{val: t.val}).Set(name, v)
}

// SetInternalFieldCount reserves n embedder slots on each instance.
func (t *ObjectTemplate) SetInternalFieldCount(n int) error {
	v := t.val
	v.live()
	ctx := v.ctx
	key, err := ctx.qc.NewStringLen(fieldCountKey)
	if err != nil {
		return err
	}
	out, err := ctx.callHelper(helperDefineHidden, v.v, key, qjs.NewInt64(int64(n)))
	ctx.qc.FreeValue(key)
	if err != nil {
		return err
	}
	ctx.qc.FreeValue(out)
	return nil
}

func (t *ObjectTemplate) fieldCount() int {
	v := t.val
	ctx := v.ctx
	raw, err := ctx.qc.GetPropertyStr(v.v, fieldCountKey)
	if err != nil || qjs.IsException(raw) {
		return 0
	}
	n, ok := ctx.qc.ToInt64(raw)
	ctx.qc.FreeValue(raw)
	if !ok {
		_ = ctx.iso.drainError(ctx)
		return 0
	}
	if n < 0 {
		return 0
	}
	return int(n)
}

// NewInstance stamps a fresh object in the scope's context.
func (t *ObjectTemplate) NewInstance(cs *ContextScope) (*Object, error) {
	cs.valid("NewInstance")
	v := t.val
	v.live()
	ctx := cs.ctx
	iso := ctx.iso
	dst := ctx.qc.NewObject()
	if qjs.IsException(dst) {
		return nil, iso.captureError(ctx)
	}
	out, err := ctx.callHelper(helperCloneProps, v.v, dst)
	if err != nil {
		ctx.qc.FreeValue(dst)
		return nil, err
	}
	ctx.qc.FreeValue(out)
	obj := &Object{val: iso.adopt(ctx, dst, false)}
	if n := t.fieldCount(); n > 0 {
		if err := obj.SetInternalFieldCount(n); err != nil {
			return nil, err
		}
	}
	return obj, nil
}

// Persist promotes the blueprint past its handle scope.
func (t *ObjectTemplate) Persist() *PersistedObjectTemplate {
	t.val.live()
	return &PersistedObjectTemplate{p: newPersistedValue(t.val)}
}

// PersistedObjectTemplate is a blueprint pinned past scope close.
type PersistedObjectTemplate struct {
	p *PersistedValue
}

// ToLocal rebinds the blueprint into an open scope.
func (pt *PersistedObjectTemplate) ToLocal(s *IsolateScope) *ObjectTemplate {
	return &ObjectTemplate{val: pt.p.ToLocal(s)}
}

// Free releases the pinned blueprint. Re-enters the isolate.
func (pt *PersistedObjectTemplate) Free() { pt.p.Free() }

// FreeWithin is Free for callers already inside the isolate.
func (pt *PersistedObjectTemplate) FreeWithin(s *IsolateScope) { pt.p.FreeWithin(s) }

// NewContextWithTemplate creates a context whose global object carries
// the template's properties.
func (s *IsolateScope) NewContextWithTemplate(t *ObjectTemplate) *Context {
	s.valid("NewContextWithTemplate")
	ctx := s.NewContext()
	if ctx == nil || t == nil {
		return ctx
	}
	t.val.live()
	global := ctx.qc.Global()
	defer ctx.qc.FreeValue(global)
	out, err := ctx.callHelper(helperCloneProps, t.val.v, global)
	if err != nil {
		Logger().Error("template stamp on global failed",
			zap.Uint64("context", ctx.id), zap.Error(err))
		ctx.releaseLocked()
		return nil
	}
	ctx.qc.FreeValue(out)
	return ctx
}
