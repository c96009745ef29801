package qjs

import (
	"fmt"
	"strings"
	"sync"
	"unsafe"

	"github.com/cryguy/qjsbind/internal/cmem"
	"modernc.org/libc"
	lib "modernc.org/libquickjs"
)

// Go functions cross into the engine as C function pointers using the
// modernc convention: a package-level func value reinterpreted through a
// one-field struct. The engine calls back with the runtime's TLS, and the
// trampolines route to the owning Runtime or Context via the pointer
// registries in qjs.go. The func values live in package variables so they
// are never collected.

// OnCapsuleFinalize is invoked from the engine's GC when a capsule object
// dies, with the opaque record id the capsule carried. Set once by the
// embedding layer before any runtime exists.
var OnCapsuleFinalize func(id uintptr)

var (
	cFuncDataTramp = func(tls *libc.TLS, ctx uintptr, this Value, argc int32, argv uintptr, magic int32, funcData uintptr) Value {
		c := lookupContext(ctx)
		if c == nil || c.OnCall == nil {
			return Undefined()
		}
		args := make([]Value, argc)
		for i := int32(0); i < argc; i++ {
			args[i] = *(*Value)(unsafe.Pointer(argv + uintptr(i)*unsafe.Sizeof(Value{})))
		}
		var data Value
		if funcData != 0 {
			data = *(*Value)(unsafe.Pointer(funcData))
		} else {
			data = Undefined()
		}
		return c.OnCall(this, args, magic, data)
	}

	interruptTramp = func(tls *libc.TLS, rt uintptr, opaque uintptr) int32 {
		r := lookupRuntime(rt)
		if r == nil || r.OnInterrupt == nil {
			return 0
		}
		return r.OnInterrupt()
	}

	moduleLoaderTramp = func(tls *libc.TLS, ctx uintptr, moduleName uintptr, opaque uintptr) uintptr {
		c := lookupContext(ctx)
		if c == nil || c.OnModuleLoad == nil {
			return 0
		}
		return c.OnModuleLoad(cmem.GoString(moduleName))
	}

	moduleNormalizeTramp = func(tls *libc.TLS, ctx uintptr, baseName, moduleName, opaque uintptr) uintptr {
		base := cmem.GoString(baseName)
		name := cmem.GoString(moduleName)
		var out string
		if c := lookupContext(ctx); c != nil && c.OnModuleNormalize != nil {
			out = c.OnModuleNormalize(base, name)
		} else {
			out = NormalizeModuleName(base, name)
		}
		if out == "" {
			return 0
		}
		return engineCString(tls, ctx, out)
	}

	capsuleFinalizerTramp = func(tls *libc.TLS, rt uintptr, val Value) {
		if OnCapsuleFinalize == nil {
			return
		}
		id := lib.XJS_GetOpaque(tls, val, capsuleClassID)
		if id != 0 {
			OnCapsuleFinalize(id)
		}
	}
)

func cFuncDataPtr() uintptr {
	return *(*uintptr)(unsafe.Pointer(&struct {
		f func(*libc.TLS, uintptr, Value, int32, uintptr, int32, uintptr) Value
	}{cFuncDataTramp}))
}

func interruptPtr() uintptr {
	return *(*uintptr)(unsafe.Pointer(&struct {
		f func(*libc.TLS, uintptr, uintptr) int32
	}{interruptTramp}))
}

func moduleLoaderPtr() uintptr {
	return *(*uintptr)(unsafe.Pointer(&struct {
		f func(*libc.TLS, uintptr, uintptr, uintptr) uintptr
	}{moduleLoaderTramp}))
}

func moduleNormalizePtr() uintptr {
	return *(*uintptr)(unsafe.Pointer(&struct {
		f func(*libc.TLS, uintptr, uintptr, uintptr, uintptr) uintptr
	}{moduleNormalizeTramp}))
}

// engineCString copies s into engine-allocator memory. The normalizer's
// result is freed by the engine, so it cannot come from cmem.
func engineCString(tls *libc.TLS, ctx uintptr, s string) uintptr {
	p := lib.Xjs_malloc(tls, ctx, lib.Tsize_t(len(s)+1))
	if p == 0 {
		return 0
	}
	dst := unsafe.Slice((*byte)(unsafe.Pointer(p)), len(s)+1)
	copy(dst, s)
	dst[len(s)] = 0
	return p
}

// NormalizeModuleName resolves a relative import specifier against the
// importing module's name the way the engine's default loader does.
// Specifiers without a leading dot pass through unchanged.
func NormalizeModuleName(base, name string) string {
	if !strings.HasPrefix(name, ".") {
		return name
	}
	dir := ""
	if i := strings.LastIndexByte(base, '/'); i >= 0 {
		dir = base[:i]
	}
	r := name
	for {
		switch {
		case strings.HasPrefix(r, "./"):
			r = r[2:]
		case strings.HasPrefix(r, "../"):
			if dir == "" {
				return joinModulePath(dir, r)
			}
			last := dir
			if i := strings.LastIndexByte(dir, '/'); i >= 0 {
				last = dir[i+1:]
			}
			if last == "." || last == ".." {
				return joinModulePath(dir, r)
			}
			if i := strings.LastIndexByte(dir, '/'); i >= 0 {
				dir = dir[:i]
			} else {
				dir = ""
			}
			r = r[3:]
		default:
			return joinModulePath(dir, r)
		}
	}
}

func joinModulePath(dir, rest string) string {
	if dir == "" {
		return rest
	}
	return dir + "/" + rest
}

func capsuleFinalizerPtr() uintptr {
	return *(*uintptr)(unsafe.Pointer(&struct {
		f func(*libc.TLS, uintptr, Value)
	}{capsuleFinalizerTramp}))
}

// The capsule class boxes one opaque word per object and reports its death
// through the finalizer. The class id is process-wide; each runtime
// registers the class definition once at creation.
var (
	capsuleClassID  uint32
	capsuleIDOnce   sync.Once
	capsuleNamePtr  uintptr
	capsuleClassDef *lib.TJSClassDef
)

// CapsuleClassID returns the class id shared by all capsule objects.
func CapsuleClassID() uint32 { return capsuleClassID }

func registerCapsuleClass(r *Runtime) error {
	var err error
	capsuleIDOnce.Do(func() {
		var id uint32
		lib.XJS_NewClassID(r.tls, uintptr(unsafe.Pointer(&id)))
		if id == 0 {
			err = fmt.Errorf("qjs: allocating capsule class id")
			return
		}
		capsuleClassID = id
		capsuleNamePtr, err = cmem.CString(r.tls, "NativeCapsule")
		if err != nil {
			return
		}
		capsuleClassDef = &lib.TJSClassDef{
			Fclass_name: capsuleNamePtr,
			Ffinalizer:  capsuleFinalizerPtr(),
		}
	})
	if err != nil {
		return err
	}
	if capsuleClassDef == nil {
		return fmt.Errorf("qjs: capsule class unavailable")
	}
	if ret := lib.XJS_NewClass(r.tls, r.ptr, capsuleClassID, uintptr(unsafe.Pointer(capsuleClassDef))); ret < 0 {
		return fmt.Errorf("qjs: registering capsule class")
	}
	return nil
}
