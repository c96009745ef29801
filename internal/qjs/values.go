package qjs

import "unsafe"

// A JSValue is 16 bytes on 64-bit targets: an 8-byte union (int32, float64
// or heap pointer) followed by an int64 tag. The helpers below read and
// build values through that fixed layout instead of the generated field
// names, mirroring how the transpiled engine itself accesses them.

// Tag returns the value's type tag.
func Tag(v Value) int64 {
	return *(*int64)(unsafe.Pointer(uintptr(unsafe.Pointer(&v)) + 8))
}

// PtrOf returns the union interpreted as a heap pointer. Only meaningful
// for reference tags (object, string, module, bytecode).
func PtrOf(v Value) uintptr {
	return *(*uintptr)(unsafe.Pointer(&v))
}

// Int32Of returns the union interpreted as an int32. Only meaningful for
// the int and bool tags.
func Int32Of(v Value) int32 {
	return *(*int32)(unsafe.Pointer(&v))
}

// Float64Of returns the union interpreted as a float64. Only meaningful
// for the float64 tag.
func Float64Of(v Value) float64 {
	return *(*float64)(unsafe.Pointer(&v))
}

func mkVal(tag int64, n int32) Value {
	var v Value
	*(*int32)(unsafe.Pointer(&v)) = n
	*(*int64)(unsafe.Pointer(uintptr(unsafe.Pointer(&v)) + 8)) = tag
	return v
}

// Undefined returns the undefined value.
func Undefined() Value { return mkVal(TagUndefined, 0) }

// Null returns the null value.
func Null() Value { return mkVal(TagNull, 0) }

// Uninitialized returns the uninitialized sentinel.
func Uninitialized() Value { return mkVal(TagUninitialized, 0) }

// NewBool returns an engine boolean.
func NewBool(b bool) Value {
	if b {
		return mkVal(TagBool, 1)
	}
	return mkVal(TagBool, 0)
}

// NewInt32 returns an engine integer.
func NewInt32(n int32) Value { return mkVal(TagInt, n) }

// NewInt64 returns an engine number, using the integer representation when
// n fits.
func NewInt64(n int64) Value {
	if n == int64(int32(n)) {
		return mkVal(TagInt, int32(n))
	}
	return NewFloat64(float64(n))
}

// NewFloat64 returns an engine number.
func NewFloat64(f float64) Value {
	var v Value
	*(*float64)(unsafe.Pointer(&v)) = f
	*(*int64)(unsafe.Pointer(uintptr(unsafe.Pointer(&v)) + 8)) = TagFloat64
	return v
}

// ExceptionValue returns the sentinel a native callback hands back to
// signal a pending exception.
func ExceptionValue() Value { return mkVal(TagException, 0) }

// IsException reports the exception sentinel.
func IsException(v Value) bool { return Tag(v) == TagException }

// IsUndefined reports the undefined value.
func IsUndefined(v Value) bool { return Tag(v) == TagUndefined }

// IsNull reports the null value.
func IsNull(v Value) bool { return Tag(v) == TagNull }

// IsBool reports a boolean.
func IsBool(v Value) bool { return Tag(v) == TagBool }

// IsNumber reports an int- or float-represented number.
func IsNumber(v Value) bool {
	t := Tag(v)
	return t == TagInt || t == TagFloat64
}

// IsInt reports the integer representation specifically.
func IsInt(v Value) bool { return Tag(v) == TagInt }

// IsString reports a string.
func IsString(v Value) bool { return Tag(v) == TagString }

// IsSymbol reports a symbol.
func IsSymbol(v Value) bool { return Tag(v) == TagSymbol }

// IsObject reports any object, including functions and arrays.
func IsObject(v Value) bool { return Tag(v) == TagObject }

// IsModule reports a compiled module value.
func IsModule(v Value) bool { return Tag(v) == TagModule }

// IsRefCounted reports whether v holds a heap reference that participates
// in reference counting. All reference tags are negative.
func IsRefCounted(v Value) bool { return Tag(v) < 0 }
