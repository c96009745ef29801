package qjsbind

import (
	"github.com/cryguy/qjsbind/internal/qjs"
)

// UTF8Value holds the UTF-8 rendering of a value. The engine-owned
// bytes at Data stay valid until Free; String is a Go copy that
// outlives it.
type UTF8Value struct {
	ctx   *Context
	ptr   uintptr
	n     int
	s     string
	freed bool
}

// ToUTF8 coerces the value to a JS string and renders it as UTF-8.
// Returns the thrown exception as an error when the coercion fails.
func (v *Value) ToUTF8() (*UTF8Value, error) {
	v.live()
	ptr, n, ok := v.ctx.qc.ToCStringLen(v.v)
	if !ok {
		return nil, v.iso.captureError(v.ctx)
	}
	return &UTF8Value{
		ctx: v.ctx,
		ptr: ptr,
		n:   n,
		s:   qjs.GoStringN(ptr, n),
	}, nil
}

// Data returns the address of the UTF-8 bytes. Valid until Free.
func (u *UTF8Value) Data() uintptr {
	if u.freed {
		panic("qjsbind: UTF8Value used after Free")
	}
	return u.ptr
}

// Len returns the byte length, excluding the trailing NUL.
func (u *UTF8Value) Len() int { return u.n }

// String returns the Go copy of the text. Safe after Free.
func (u *UTF8Value) String() string { return u.s }

// Free releases the engine-owned bytes. Idempotent.
func (u *UTF8Value) Free() {
	if u.freed {
		return
	}
	u.freed = true
	u.ctx.qc.FreeCString(u.ptr)
	u.ptr = 0
}
