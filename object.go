package qjsbind

import (
	"fmt"

	"github.com/cryguy/qjsbind/internal/qjs"
)

// Object views a value as a JS object.
type Object struct {
	val *Value
}

// Value returns the underlying value handle.
func (o *Object) Value() *Value { return o.val }

// Get reads obj[name].
func (o *Object) Get(name string) (*Value, error) {
	v := o.val
	v.live()
	ctx := v.ctx
	raw, err := ctx.qc.GetPropertyStr(v.v, name)
	if err != nil {
		return nil, err
	}
	if qjs.IsException(raw) {
		return nil, v.iso.captureError(ctx)
	}
	return v.iso.adopt(ctx, raw, false), nil
}

// Set writes obj[name] = pv.
func (o *Object) Set(name string, pv *Value) error {
	v := o.val
	v.live()
	pv.live()
	ctx := v.ctx
	if err := ctx.qc.SetPropertyStr(v.v, name, ctx.qc.DupValue(pv.v)); err != nil {
		if e := v.iso.drainError(ctx); e != nil {
			return e
		}
		return err
	}
	return nil
}

// GetIdx reads obj[idx].
func (o *Object) GetIdx(idx uint32) (*Value, error) {
	v := o.val
	v.live()
	ctx := v.ctx
	raw := ctx.qc.GetPropertyUint32(v.v, idx)
	if qjs.IsException(raw) {
		return nil, v.iso.captureError(ctx)
	}
	return v.iso.adopt(ctx, raw, false), nil
}

// SetIdx writes obj[idx] = pv.
func (o *Object) SetIdx(idx uint32, pv *Value) error {
	v := o.val
	v.live()
	pv.live()
	ctx := v.ctx
	if err := ctx.qc.SetPropertyUint32(v.v, idx, ctx.qc.DupValue(pv.v)); err != nil {
		if e := v.iso.drainError(ctx); e != nil {
			return e
		}
		return err
	}
	return nil
}

// Has reports whether obj has a property named name, own or inherited.
func (o *Object) Has(name string) (bool, error) {
	v := o.val
	v.live()
	return v.ctx.qc.HasProperty(v.v, name)
}

// Delete removes obj[name], reporting whether the property is gone.
func (o *Object) Delete(name string) (bool, error) {
	v := o.val
	v.live()
	return v.ctx.qc.DeleteProperty(v.v, name)
}

// Freeze applies Object.freeze.
func (o *Object) Freeze() error {
	v := o.val
	v.live()
	out, err := v.ctx.callHelper(helperFreeze, v.v)
	if err != nil {
		return err
	}
	v.ctx.qc.FreeValue(out)
	return nil
}

// IsFrozen reports Object.isFrozen.
func (o *Object) IsFrozen() bool {
	v := o.val
	v.live()
	return v.ctx.helperBool(helperIsFrozen, v.v)
}

// PropertyNames lists enumerable property names, own and inherited.
func (o *Object) PropertyNames() ([]string, error) {
	return o.names(helperEnumNames)
}

// OwnPropertyNames lists own property names, enumerable or not.
func (o *Object) OwnPropertyNames() ([]string, error) {
	return o.names(helperOwnNames)
}

func (o *Object) names(h helperFn) ([]string, error) {
	v := o.val
	v.live()
	ctx := v.ctx
	arr, err := ctx.callHelper(h, v.v)
	if err != nil {
		return nil, err
	}
	defer ctx.qc.FreeValue(arr)
	return ctx.stringSlice(arr)
}

// stringSlice copies a JS string array out. arr stays owned by the
// caller.
func (c *Context) stringSlice(arr qjs.Value) ([]string, error) {
	lenRaw, err := c.qc.GetPropertyStr(arr, "length")
	if err != nil {
		return nil, err
	}
	n, ok := c.qc.ToInt64(lenRaw)
	c.qc.FreeValue(lenRaw)
	if !ok {
		return nil, c.takeException()
	}
	if n < 0 {
		return nil, fmt.Errorf("engine: bad array length")
	}
	out := make([]string, 0, n)
	for i := int64(0); i < n; i++ {
		el := c.qc.GetPropertyUint32(arr, uint32(i))
		if qjs.IsException(el) {
			return nil, c.takeException()
		}
		out = append(out, c.qc.GoStringFromValue(el))
		c.qc.FreeValue(el)
	}
	return out, nil
}

// internalFieldsKey names the hidden array backing internal fields.
const internalFieldsKey = "[[InternalFields]]"

// SetInternalFieldCount sizes the object's internal-field array.
// Existing fields are discarded.
func (o *Object) SetInternalFieldCount(n int) error {
	v := o.val
	v.live()
	ctx := v.ctx
	arr := ctx.qc.NewArray()
	if qjs.IsException(arr) {
		return v.iso.captureError(ctx)
	}
	if n > 0 {
		if err := ctx.qc.SetPropertyStr(arr, "length", qjs.NewInt64(int64(n))); err != nil {
			ctx.qc.FreeValue(arr)
			return err
		}
	}
	key, err := ctx.qc.NewStringLen(internalFieldsKey)
	if err != nil {
		ctx.qc.FreeValue(arr)
		return err
	}
	out, err := ctx.callHelper(helperDefineHidden, v.v, key, arr)
	ctx.qc.FreeValue(key)
	ctx.qc.FreeValue(arr)
	if err != nil {
		return err
	}
	ctx.qc.FreeValue(out)
	return nil
}

// InternalFieldCount reports the internal-field array size, 0 when the
// object has none.
func (o *Object) InternalFieldCount() int {
	v := o.val
	v.live()
	ctx := v.ctx
	arr, err := ctx.qc.GetPropertyStr(v.v, internalFieldsKey)
	if err != nil || qjs.IsException(arr) || !qjs.IsObject(arr) {
		return 0
	}
	defer ctx.qc.FreeValue(arr)
	lenRaw, err := ctx.qc.GetPropertyStr(arr, "length")
	if err != nil {
		return 0
	}
	n, ok := ctx.qc.ToInt64(lenRaw)
	ctx.qc.FreeValue(lenRaw)
	if !ok {
		_ = v.iso.drainError(ctx)
		return 0
	}
	if n < 0 {
		return 0
	}
	return int(n)
}

// SetInternalField stores pv in internal field idx.
func (o *Object) SetInternalField(idx int, pv *Value) error {
	v := o.val
	v.live()
	pv.live()
	if idx < 0 || idx >= o.InternalFieldCount() {
		return fmt.Errorf("internal field %d out of range", idx)
	}
	ctx := v.ctx
	arr, err := ctx.qc.GetPropertyStr(v.v, internalFieldsKey)
	if err != nil {
		return err
	}
	defer ctx.qc.FreeValue(arr)
	return ctx.qc.SetPropertyUint32(arr, uint32(idx), ctx.qc.DupValue(pv.v))
}

// GetInternalField reads internal field idx, undefined when unset.
func (o *Object) GetInternalField(idx int) (*Value, error) {
	v := o.val
	v.live()
	if idx < 0 || idx >= o.InternalFieldCount() {
		return nil, fmt.Errorf("internal field %d out of range", idx)
	}
	ctx := v.ctx
	arr, err := ctx.qc.GetPropertyStr(v.v, internalFieldsKey)
	if err != nil {
		return nil, err
	}
	defer ctx.qc.FreeValue(arr)
	el := ctx.qc.GetPropertyUint32(arr, uint32(idx))
	if qjs.IsException(el) {
		return nil, v.iso.captureError(ctx)
	}
	return v.iso.adopt(ctx, el, false), nil
}

// Array views a value as a JS array.
type Array struct {
	Object
}

// Len reports the array length.
func (a *Array) Len() uint32 {
	v := a.val
	v.live()
	ctx := v.ctx
	raw, err := ctx.qc.GetPropertyStr(v.v, "length")
	if err != nil {
		return 0
	}
	n, ok := ctx.qc.ToInt64(raw)
	ctx.qc.FreeValue(raw)
	if !ok {
		_ = v.iso.drainError(ctx)
		return 0
	}
	if n < 0 {
		return 0
	}
	return uint32(n)
}

// Get reads element idx.
func (a *Array) Get(idx uint32) (*Value, error) { return a.GetIdx(idx) }

// Set writes element idx.
func (a *Array) Set(idx uint32, pv *Value) error { return a.SetIdx(idx, pv) }

// ArrayBuffer views a value as a JS ArrayBuffer.
type ArrayBuffer struct {
	Object
}

// ByteLength reports the buffer size.
func (b *ArrayBuffer) ByteLength() int {
	v := b.val
	v.live()
	data, ok := v.ctx.qc.ArrayBufferData(v.v)
	if !ok {
		return 0
	}
	return len(data)
}

// View aliases the buffer's engine memory. Valid only while the buffer
// is alive and the isolate entered; mutations are visible to JS.
func (b *ArrayBuffer) View() ([]byte, error) {
	v := b.val
	v.live()
	data, ok := v.ctx.qc.ArrayBufferData(v.v)
	if !ok {
		return nil, v.iso.captureError(v.ctx)
	}
	return data, nil
}

// Bytes copies the buffer contents out.
func (b *ArrayBuffer) Bytes() ([]byte, error) {
	view, err := b.View()
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(view))
	copy(out, view)
	return out, nil
}

// Set views a value as a JS Set.
type Set struct {
	Object
}

// Add inserts pv into the set.
func (s *Set) Add(pv *Value) error {
	v := s.val
	v.live()
	pv.live()
	out, err := v.ctx.callHelper(helperSetAdd, v.v, pv.v)
	if err != nil {
		return err
	}
	v.ctx.qc.FreeValue(out)
	return nil
}

// Has reports membership.
func (s *Set) Has(pv *Value) bool {
	v := s.val
	v.live()
	pv.live()
	return v.ctx.helperBool(helperSetHas, v.v, pv.v)
}

// Delete removes pv, reporting whether it was present.
func (s *Set) Delete(pv *Value) bool {
	v := s.val
	v.live()
	pv.live()
	return v.ctx.helperBool(helperSetDelete, v.v, pv.v)
}

// Size reports the member count.
func (s *Set) Size() int {
	v := s.val
	v.live()
	out, err := v.ctx.callHelper(helperSetSize, v.v)
	if err != nil {
		return 0
	}
	defer v.ctx.qc.FreeValue(out)
	n, ok := v.ctx.qc.ToInt64(out)
	if !ok {
		_ = v.iso.drainError(v.ctx)
		return 0
	}
	return int(n)
}
