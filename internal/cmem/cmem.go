// Package cmem routes the wrapper's native-memory traffic through a
// caller-installable allocator.
//
// Everything the binding layer hands to the engine as raw memory (C strings,
// scratch buffers) is allocated here, so an embedder that wants to account
// for or pool that memory can install its own allocator once, before any
// engine state exists. The default allocator is the libc heap that the
// transpiled engine itself allocates from.
package cmem

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"modernc.org/libc"
)

// Allocator supplies the five allocation entry points the wrapper uses for
// native memory. All fields must be non-nil. Pointers returned by Alloc,
// Realloc, Calloc and Strdup must be valid in the engine's address space and
// must remain valid until passed to Free.
type Allocator struct {
	// Alloc returns a pointer to size bytes, or 0 on failure.
	Alloc func(tls *libc.TLS, size int) uintptr
	// Realloc resizes the allocation at ptr to size bytes. A zero ptr
	// behaves like Alloc. Returns 0 on failure, leaving ptr valid.
	Realloc func(tls *libc.TLS, ptr uintptr, size int) uintptr
	// Free releases an allocation. A zero ptr is ignored.
	Free func(tls *libc.TLS, ptr uintptr)
	// Calloc returns zeroed memory for n elements of size bytes each,
	// or 0 on failure.
	Calloc func(tls *libc.TLS, n, size int) uintptr
	// Strdup returns a NUL-terminated copy of s, or 0 on failure.
	Strdup func(tls *libc.TLS, s string) uintptr
}

var installed atomic.Pointer[Allocator]

// Default returns the libc-heap allocator.
func Default() *Allocator {
	return &Allocator{
		Alloc: func(tls *libc.TLS, size int) uintptr {
			return libc.Xmalloc(tls, libc.Tsize_t(size))
		},
		Realloc: func(tls *libc.TLS, ptr uintptr, size int) uintptr {
			return libc.Xrealloc(tls, ptr, libc.Tsize_t(size))
		},
		Free: func(tls *libc.TLS, ptr uintptr) {
			if ptr != 0 {
				libc.Xfree(tls, ptr)
			}
		},
		Calloc: func(tls *libc.TLS, n, size int) uintptr {
			return libc.Xcalloc(tls, libc.Tsize_t(n), libc.Tsize_t(size))
		},
		Strdup: func(tls *libc.TLS, s string) uintptr {
			p, err := libc.CString(s)
			if err != nil {
				return 0
			}
			return p
		},
	}
}

// Install makes a the process-wide allocator. It must be called before any
// engine state is created; a nil a installs the default allocator. The
// wrapper's platform layer enforces the ordering.
func Install(a *Allocator) {
	if a == nil {
		a = Default()
	}
	if a.Alloc == nil || a.Realloc == nil || a.Free == nil || a.Calloc == nil || a.Strdup == nil {
		panic("cmem: allocator with nil entry point")
	}
	installed.Store(a)
}

// Current returns the installed allocator, installing the default on first
// use.
func Current() *Allocator {
	if a := installed.Load(); a != nil {
		return a
	}
	installed.CompareAndSwap(nil, Default())
	return installed.Load()
}

// CString copies s into allocator-owned memory with a trailing NUL and
// returns the pointer. The caller frees it with FreePtr.
func CString(tls *libc.TLS, s string) (uintptr, error) {
	p := Current().Strdup(tls, s)
	if p == 0 {
		return 0, fmt.Errorf("cmem: allocating %d byte string", len(s)+1)
	}
	return p, nil
}

// Bytes copies b into allocator-owned memory and returns the pointer. An
// empty b yields a 1-byte allocation so the result is always freeable.
func Bytes(tls *libc.TLS, b []byte) (uintptr, error) {
	n := len(b)
	if n == 0 {
		n = 1
	}
	p := Current().Alloc(tls, n)
	if p == 0 {
		return 0, fmt.Errorf("cmem: allocating %d bytes", n)
	}
	if len(b) > 0 {
		copy(unsafe.Slice((*byte)(unsafe.Pointer(p)), len(b)), b)
	}
	return p, nil
}

// FreePtr releases memory obtained from this package.
func FreePtr(tls *libc.TLS, p uintptr) {
	Current().Free(tls, p)
}

// GoString reads a NUL-terminated string out of native memory.
func GoString(p uintptr) string {
	if p == 0 {
		return ""
	}
	n := 0
	for *(*byte)(unsafe.Pointer(p + uintptr(n))) != 0 {
		n++
	}
	return string(unsafe.Slice((*byte)(unsafe.Pointer(p)), n))
}
