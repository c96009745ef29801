package qjsbind

import (
	"strconv"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"modernc.org/libc"

	"github.com/cryguy/qjsbind/internal/cmem"
)

// Allocator supplies the C-heap entry points used for every engine
// allocation. All pointers are raw C addresses on the libc heap.
type Allocator struct {
	Alloc   func(tls *libc.TLS, size int) uintptr
	Realloc func(tls *libc.TLS, p uintptr, size int) uintptr
	Free    func(tls *libc.TLS, p uintptr)
	Calloc  func(tls *libc.TLS, n, size int) uintptr
	Strdup  func(tls *libc.TLS, s string) uintptr
}

var (
	platformReady    atomic.Bool
	platformDisposed atomic.Bool
	liveIsolates     atomic.Int64
	idCounter        atomic.Uint64

	defaultStackSize atomic.Uint64
)

// InitPlatform prepares process-wide engine state. threadPoolSize is
// accepted for embedder compatibility; the engine runs jobs on the
// calling thread so no pool is spawned. flags takes V8-style "--name" or
// "--name=value" tokens, of which only --stack-size (in KB) is honored.
// Safe to call more than once.
func InitPlatform(threadPoolSize int, flags string) bool {
	for _, tok := range strings.Fields(flags) {
		name, val, _ := strings.Cut(strings.TrimPrefix(tok, "--"), "=")
		switch name {
		case "stack-size", "stack_size":
			kb, err := strconv.ParseUint(val, 10, 64)
			if err != nil {
				Logger().Warn("ignoring malformed flag", zap.String("flag", tok))
				continue
			}
			defaultStackSize.Store(kb * 1024)
		default:
			Logger().Debug("ignoring unsupported flag", zap.String("flag", tok))
		}
	}
	platformReady.Store(true)
	return true
}

// Initialize installs the process allocator. Passing nil keeps the libc
// default. Must run before the first isolate is created; the engine
// captures the allocator at isolate construction, so swapping it under
// live isolates would split alloc/free across heaps.
func Initialize(alloc *Allocator) {
	if liveIsolates.Load() > 0 {
		panic("qjsbind: Initialize called with live isolates")
	}
	if alloc == nil {
		cmem.Install(nil)
		return
	}
	cmem.Install(&cmem.Allocator{
		Alloc:   alloc.Alloc,
		Realloc: alloc.Realloc,
		Free:    alloc.Free,
		Calloc:  alloc.Calloc,
		Strdup:  alloc.Strdup,
	})
}

// Dispose tears down process-wide state. Isolates must be disposed
// first; afterwards NewIsolate returns nil.
func Dispose() {
	if n := liveIsolates.Load(); n > 0 {
		Logger().Error("platform disposed with live isolates", zap.Int64("count", n))
	}
	platformDisposed.Store(true)
}

func platformUsable() bool {
	return !platformDisposed.Load()
}
