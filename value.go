package qjsbind

import (
	"math"

	"github.com/cryguy/qjsbind/internal/qjs"
)

// Value is a scope-local handle on an engine value. It stays usable
// until the handle scope it was created in closes; after that every
// method panics. Values never move between isolates.
type Value struct {
	iso      *Isolate
	ctx      *Context
	v        qjs.Value
	borrowed bool
	dead     bool
}

func (v *Value) live() {
	if v.dead {
		panic("qjsbind: value used after its handle scope closed")
	}
	if !v.iso.entered.Load() {
		panic("qjsbind: value used outside the isolate")
	}
}

// Isolate returns the isolate the value belongs to.
func (v *Value) Isolate() *Isolate { return v.iso }

func (v *Value) IsUndefined() bool {
	v.live()
	return qjs.IsUndefined(v.v)
}

func (v *Value) IsNull() bool {
	v.live()
	return qjs.IsNull(v.v)
}

func (v *Value) IsNullOrUndefined() bool {
	v.live()
	return qjs.IsNull(v.v) || qjs.IsUndefined(v.v)
}

func (v *Value) IsBoolean() bool {
	v.live()
	return qjs.IsBool(v.v)
}

func (v *Value) IsNumber() bool {
	v.live()
	return qjs.IsNumber(v.v)
}

// IsLong reports whether the value is a number with no fractional
// part.
func (v *Value) IsLong() bool {
	v.live()
	if !qjs.IsNumber(v.v) {
		return false
	}
	f, ok := v.ctx.qc.ToFloat64(v.v)
	if !ok {
		_ = v.iso.drainError(v.ctx)
		return false
	}
	return f == float64(int64(f))
}

func (v *Value) IsString() bool {
	v.live()
	return qjs.IsString(v.v)
}

func (v *Value) IsObject() bool {
	v.live()
	return qjs.IsObject(v.v)
}

func (v *Value) IsFunction() bool {
	v.live()
	return v.ctx.qc.IsFunction(v.v)
}

func (v *Value) IsError() bool {
	v.live()
	return v.ctx.qc.IsError(v.v)
}

func (v *Value) IsArray() bool {
	return v.classify(helperIsArray)
}

func (v *Value) IsArrayBuffer() bool {
	return v.classify(helperIsArrayBuffer)
}

func (v *Value) IsSet() bool {
	return v.classify(helperIsSet)
}

func (v *Value) IsMap() bool {
	return v.classify(helperIsMap)
}

func (v *Value) IsPromise() bool {
	return v.classify(helperIsPromise)
}

// IsStringObject reports whether the value is a boxed String.
func (v *Value) IsStringObject() bool {
	return v.classify(helperIsStringObject)
}

func (v *Value) IsAsyncFunction() bool {
	return v.classify(helperIsAsyncFunction)
}

// IsExternal reports whether the value boxes Go data placed by
// NewExternalData.
func (v *Value) IsExternal() bool {
	v.live()
	return v.ctx.qc.GetOpaque(v.v) != 0
}

func (v *Value) classify(h helperFn) bool {
	v.live()
	return v.ctx.helperBool(h, v.v)
}

// ToBoolean coerces the value with JS truthiness rules.
func (v *Value) ToBoolean() bool {
	v.live()
	return v.ctx.qc.ToBool(v.v)
}

// GetNumber coerces the value to float64. NaN when the coercion
// throws; the thrown value lands in the innermost try-catch.
func (v *Value) GetNumber() float64 {
	v.live()
	f, ok := v.ctx.qc.ToFloat64(v.v)
	if !ok {
		_ = v.iso.drainError(v.ctx)
		return math.NaN()
	}
	return f
}

// GetLong coerces the value to int64. Zero when the coercion throws;
// the thrown value lands in the innermost try-catch.
func (v *Value) GetLong() int64 {
	v.live()
	n, ok := v.ctx.qc.ToInt64(v.v)
	if !ok {
		_ = v.iso.drainError(v.ctx)
		return 0
	}
	return n
}

// TypeOf reports the JS typeof string.
func (v *Value) TypeOf() string {
	v.live()
	out, err := v.ctx.callHelper(helperTypeOf, v.v)
	if err != nil {
		return "undefined"
	}
	defer v.ctx.qc.FreeValue(out)
	return v.ctx.qc.GoStringFromValue(out)
}

// StrictEquals applies the JS === operator.
func (v *Value) StrictEquals(o *Value) bool {
	v.live()
	o.live()
	if v.iso != o.iso {
		return false
	}
	return v.ctx.helperBool(helperStrictEq, v.v, o.v)
}

// String coerces to a JS string and copies it out. Returns "" when the
// coercion throws.
func (v *Value) String() string {
	u, err := v.ToUTF8()
	if err != nil {
		return ""
	}
	defer u.Free()
	return u.String()
}

// Detail renders a debug description: the typeof string plus the
// stringified value.
func (v *Value) Detail() string {
	return v.TypeOf() + ": " + v.String()
}

// AsObject views the value as an object. Cast contract: the caller has
// established IsObject.
func (v *Value) AsObject() *Object {
	v.live()
	return &Object{val: v}
}

// AsArray views the value as an array. Cast contract as with AsObject.
func (v *Value) AsArray() *Array {
	v.live()
	return &Array{Object{val: v}}
}

// AsArrayBuffer views the value as an ArrayBuffer. Cast contract as
// with AsObject.
func (v *Value) AsArrayBuffer() *ArrayBuffer {
	v.live()
	return &ArrayBuffer{Object{val: v}}
}

// AsSet views the value as a Set. Cast contract as with AsObject.
func (v *Value) AsSet() *Set {
	v.live()
	return &Set{Object{val: v}}
}

// AsPromise views the value as a promise. Cast contract as with
// AsObject.
func (v *Value) AsPromise() *Promise {
	v.live()
	return &Promise{val: v}
}

// Call invokes the value as a function. this may be nil for undefined.
// args are read, not consumed.
func (v *Value) Call(this *Value, args ...*Value) (*Value, error) {
	v.live()
	ctx := v.ctx
	iso := v.iso
	thisRaw := qjs.Undefined()
	if this != nil {
		this.live()
		thisRaw = this.v
	}
	raw := make([]qjs.Value, len(args))
	for i, a := range args {
		a.live()
		raw[i] = a.v
	}
	iso.enterExec()
	out := ctx.qc.Call(v.v, thisRaw, raw)
	iso.leaveExec()
	if qjs.IsException(out) {
		return nil, iso.captureError(ctx)
	}
	return iso.adopt(ctx, out, false), nil
}

// NewInstance invokes the value as a constructor.
func (v *Value) NewInstance(args ...*Value) (*Value, error) {
	v.live()
	ctx := v.ctx
	iso := v.iso
	raw := make([]qjs.Value, len(args))
	for i, a := range args {
		a.live()
		raw[i] = a.v
	}
	iso.enterExec()
	out := ctx.qc.CallConstructor(v.v, raw)
	iso.leaveExec()
	if qjs.IsException(out) {
		return nil, iso.captureError(ctx)
	}
	return iso.adopt(ctx, out, false), nil
}

// Persist promotes the value to a handle that survives scope close.
func (v *Value) Persist() *PersistedValue {
	v.live()
	return newPersistedValue(v)
}
