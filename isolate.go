package qjsbind

import (
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/cryguy/qjsbind/internal/qjs"
)

// Isolate is a single-threaded engine instance. At most one goroutine
// may be inside it at a time; Enter blocks until the isolate is free
// and pins the goroutine to its OS thread while inside. Enter is not
// recursive.
type Isolate struct {
	id uint64
	rt *qjs.Runtime

	mu      sync.Mutex
	entered atomic.Bool

	scratch  *Context
	contexts map[*Context]struct{}
	ctxByQC  map[*qjs.Context]*Context

	scopes      []*HandleScope
	enteredCtxs []*Context
	tryCatches  []*TryCatch

	persists map[*PersistedValue]struct{}

	pdHead  *nativeRecord
	pdCount int

	fatalFn   func(location, message string)
	oomFn     func(location string, isHeapOOM bool)
	nearOOMFn func(currentLimit, initialLimit uint64) uint64

	intrMu    sync.Mutex
	intrQueue []func(*Isolate)

	terminating atomic.Bool
	aborted     bool
	execDepth   int
	intrTick    uint32

	memLimit     uint64
	initialLimit uint64

	moduleSeq int

	disposed atomic.Bool
}

// NewIsolate creates an isolate with the given limits. Returns nil if
// the platform has been disposed or the engine could not start.
func NewIsolate(cfg IsolateConfig) *Isolate {
	if !platformUsable() {
		Logger().Error("isolate requested after platform dispose")
		return nil
	}
	rt, err := qjs.NewRuntime()
	if err != nil {
		Logger().Error("engine start failed", zap.Error(err))
		return nil
	}
	iso := &Isolate{
		id:       idCounter.Add(1),
		rt:       rt,
		contexts: make(map[*Context]struct{}),
		ctxByQC:  make(map[*qjs.Context]*Context),
		persists: make(map[*PersistedValue]struct{}),
	}
	limit := cfg.MemoryLimit
	if limit == 0 {
		limit = DefaultMemoryLimit
	}
	if limit != NoMemoryLimit {
		rt.SetMemoryLimit(limit)
	}
	iso.memLimit = limit
	iso.initialLimit = limit
	if stack := cfg.MaxStackSize; stack != 0 {
		rt.SetMaxStackSize(stack)
	} else if stack := defaultStackSize.Load(); stack != 0 {
		rt.SetMaxStackSize(stack)
	}
	rt.OnInterrupt = iso.onInterrupt

	sc, err := newContext(iso, true)
	if err != nil {
		rt.Close()
		Logger().Error("scratch context failed", zap.Error(err))
		return nil
	}
	iso.scratch = sc

	liveIsolates.Add(1)
	Logger().Debug("isolate created", zap.Uint64("isolate", iso.id))
	return iso
}

// ID returns the isolate identity. IDs start at 1; 0 is never issued.
func (iso *Isolate) ID() uint64 { return iso.id }

// Enter locks the isolate to the calling goroutine and pins it to its
// OS thread. Pair with Exit. Not recursive: entering an isolate the
// caller already holds deadlocks.
func (iso *Isolate) Enter() {
	if iso.disposed.Load() {
		panic("qjsbind: Enter on disposed isolate")
	}
	runtime.LockOSThread()
	iso.mu.Lock()
	iso.entered.Store(true)
	iso.rt.UpdateStackTop()
	pushCurrent(iso)
}

// Exit releases the isolate. Handle scopes and entered contexts must
// already be closed, in reverse order of opening.
func (iso *Isolate) Exit() {
	if !iso.entered.Load() {
		panic("qjsbind: Exit without Enter")
	}
	if len(iso.scopes) > 0 {
		panic("qjsbind: Exit with open handle scopes")
	}
	if len(iso.enteredCtxs) > 0 {
		panic("qjsbind: Exit with entered contexts")
	}
	if len(iso.tryCatches) > 0 {
		panic("qjsbind: Exit with open try-catch")
	}
	popCurrent()
	iso.entered.Store(false)
	iso.mu.Unlock()
	runtime.UnlockOSThread()
}

// currentStacks maps goroutine ids to the stack of isolates that
// goroutine has entered.
var currentStacks sync.Map

func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	// The trace starts "goroutine N [".
	var id uint64
	for _, c := range buf[10:n] {
		if c < '0' || c > '9' {
			break
		}
		id = id*10 + uint64(c-'0')
	}
	return id
}

func pushCurrent(iso *Isolate) {
	gid := goroutineID()
	prev, _ := currentStacks.Load(gid)
	stack, _ := prev.([]*Isolate)
	currentStacks.Store(gid, append(stack, iso))
}

func popCurrent() {
	gid := goroutineID()
	prev, _ := currentStacks.Load(gid)
	stack, _ := prev.([]*Isolate)
	switch len(stack) {
	case 0:
	case 1:
		currentStacks.Delete(gid)
	default:
		currentStacks.Store(gid, stack[:len(stack)-1])
	}
}

// CurrentIsolate returns the isolate the calling goroutine is inside,
// or nil. With nested enters it reports the innermost one.
func CurrentIsolate() *Isolate {
	prev, _ := currentStacks.Load(goroutineID())
	stack, _ := prev.([]*Isolate)
	if len(stack) == 0 {
		return nil
	}
	return stack[len(stack)-1]
}

// Scope enters the isolate and opens a handle scope in one step.
func (iso *Isolate) Scope() *IsolateScope {
	iso.Enter()
	hs := iso.OpenHandleScope()
	return &IsolateScope{iso: iso, hs: hs}
}

// SetFatalErrorHandler installs the callback invoked on unrecoverable
// engine errors. Call before running code.
func (iso *Isolate) SetFatalErrorHandler(fn func(location, message string)) {
	iso.fatalFn = fn
}

// SetOOMErrorHandler installs the callback invoked when the engine heap
// is exhausted. Call before running code.
func (iso *Isolate) SetOOMErrorHandler(fn func(location string, isHeapOOM bool)) {
	iso.oomFn = fn
}

// SetNearOOMCallback installs the callback invoked when the heap
// approaches its limit. The callback returns the new limit; returning a
// value not above the current limit aborts execution and reports OOM.
func (iso *Isolate) SetNearOOMCallback(fn func(currentLimit, initialLimit uint64) uint64) {
	iso.nearOOMFn = fn
}

// RequestInterrupt queues fn to run on the isolate thread at the next
// engine interrupt poll. Safe to call from any goroutine.
func (iso *Isolate) RequestInterrupt(fn func(*Isolate)) {
	iso.intrMu.Lock()
	iso.intrQueue = append(iso.intrQueue, fn)
	iso.intrMu.Unlock()
	Logger().Debug("interrupt queued", zap.Uint64("isolate", iso.id))
}

// TerminateExecution aborts the script currently running in the
// isolate. Safe to call from any goroutine. The flag clears once the
// aborted run has unwound, or earlier via CancelTerminateExecution.
func (iso *Isolate) TerminateExecution() {
	iso.terminating.Store(true)
	Logger().Debug("termination requested", zap.Uint64("isolate", iso.id))
}

// IsExecutionTerminating reports whether a termination request is
// still pending.
func (iso *Isolate) IsExecutionTerminating() bool {
	return iso.terminating.Load()
}

// CancelTerminateExecution withdraws a pending termination request so
// the isolate can run scripts again.
func (iso *Isolate) CancelTerminateExecution() {
	iso.terminating.Store(false)
}

// HeapStatistics describes engine heap usage.
type HeapStatistics struct {
	TotalHeapSize uint64
	UsedHeapSize  uint64
	HeapSizeLimit uint64
	MallocCount   uint64
	ObjectCount   uint64
	AtomCount     uint64
	StringCount   uint64
}

// GetHeapStatistics samples heap usage. Requires the isolate entered.
func (iso *Isolate) GetHeapStatistics() HeapStatistics {
	iso.requireEntered("GetHeapStatistics")
	u := iso.rt.ComputeMemoryUsage()
	return HeapStatistics{
		TotalHeapSize: clampU64(u.MallocSize),
		UsedHeapSize:  clampU64(u.UsedSize),
		HeapSizeLimit: clampU64(u.MallocLimit),
		MallocCount:   clampU64(u.MallocCount),
		ObjectCount:   clampU64(u.ObjectCount),
		AtomCount:     clampU64(u.AtomCount),
		StringCount:   clampU64(u.StringCount),
	}
}

// UsedHeapSize reports live heap bytes. Requires the isolate entered.
func (iso *Isolate) UsedHeapSize() uint64 {
	return iso.GetHeapStatistics().UsedHeapSize
}

// TotalHeapSize reports allocated heap bytes. Requires the isolate
// entered.
func (iso *Isolate) TotalHeapSize() uint64 {
	return iso.GetHeapStatistics().TotalHeapSize
}

// MemoryPressureLevel grades a memory-pressure notification.
type MemoryPressureLevel int

const (
	MemoryPressureNone MemoryPressureLevel = iota
	MemoryPressureModerate
	MemoryPressureCritical
)

// NotifyIdle gives the engine a garbage-collection opportunity.
// Requires the isolate entered. Returns true when no further idle work
// is pending.
func (iso *Isolate) NotifyIdle(deadlineSeconds float64) bool {
	iso.requireEntered("NotifyIdle")
	if deadlineSeconds > 0 {
		iso.rt.RunGC()
	}
	return true
}

// NotifyMemoryPressure reacts to host memory pressure. Critical
// pressure forces a full collection. Requires the isolate entered.
func (iso *Isolate) NotifyMemoryPressure(level MemoryPressureLevel) {
	iso.requireEntered("NotifyMemoryPressure")
	if level == MemoryPressureCritical {
		iso.rt.RunGC()
	}
}

// GCKind selects the collection requested by RequestGCForTesting.
type GCKind int

const (
	GCKindMinor GCKind = iota
	GCKindFull
)

// RequestGCForTesting forces a collection pass right now. The engine
// runs a single collector, so both kinds perform a full pass. Requires
// the isolate entered.
func (iso *Isolate) RequestGCForTesting(GCKind) {
	iso.requireEntered("RequestGCForTesting")
	iso.rt.RunGC()
}

// Dispose destroys the isolate: remaining persisted handles are
// released, native-data deleters run exactly once, contexts are torn
// down and the engine is freed. Call with the isolate not entered.
func (iso *Isolate) Dispose() {
	if !iso.disposed.CompareAndSwap(false, true) {
		Logger().Warn("double isolate dispose", zap.Uint64("isolate", iso.id))
		return
	}
	runtime.LockOSThread()
	iso.mu.Lock()
	iso.entered.Store(true)
	iso.rt.UpdateStackTop()
	pushCurrent(iso)

	for p := range iso.persists {
		p.releaseLocked()
	}
	iso.persists = nil

	if n := len(iso.contexts); n > 0 {
		Logger().Debug("dispose releasing live contexts", zap.Uint64("isolate", iso.id), zap.Int("count", n))
	}
	for ctx := range iso.contexts {
		ctx.releaseLocked()
	}
	iso.scratch.releaseLocked()
	iso.contexts = nil
	iso.ctxByQC = nil

	iso.rt.Close()

	// Engine teardown runs every object finalizer, which unlinks its
	// record. Anything still chained here never had a finalizer fire;
	// run those deleters now so each runs exactly once overall.
	for rec := iso.pdHead; rec != nil; {
		next := rec.next
		finalizeRecord(rec)
		rec = next
	}
	iso.pdHead = nil
	iso.pdCount = 0

	popCurrent()
	iso.entered.Store(false)
	iso.mu.Unlock()
	runtime.UnlockOSThread()
	liveIsolates.Add(-1)
	Logger().Debug("isolate disposed", zap.Uint64("isolate", iso.id))
}

func (iso *Isolate) requireEntered(op string) {
	if !iso.entered.Load() {
		panic("qjsbind: " + op + " requires an entered isolate")
	}
}

// currentCtx returns the innermost entered context, or the hidden
// scratch context when none is entered.
func (iso *Isolate) currentCtx() *Context {
	if n := len(iso.enteredCtxs); n > 0 {
		return iso.enteredCtxs[n-1]
	}
	return iso.scratch
}

func (iso *Isolate) wrapperFor(qc *qjs.Context) *Context {
	if qc == nil {
		return iso.scratch
	}
	if ctx, ok := iso.ctxByQC[qc]; ok {
		return ctx
	}
	return iso.scratch
}

func (iso *Isolate) enterExec() { iso.execDepth++ }

// leaveExec only tracks depth; drainError owns the termination flag's
// lifecycle so classification and withdrawal cannot race each other.
func (iso *Isolate) leaveExec() { iso.execDepth-- }

func (iso *Isolate) onInterrupt() int32 {
	if iso.terminating.Load() {
		return 1
	}
	for {
		iso.intrMu.Lock()
		if len(iso.intrQueue) == 0 {
			iso.intrMu.Unlock()
			break
		}
		fn := iso.intrQueue[0]
		iso.intrQueue = iso.intrQueue[1:]
		iso.intrMu.Unlock()
		fn(iso)
	}
	if iso.terminating.Load() {
		return 1
	}
	if iso.nearOOMFn != nil && iso.memLimit != NoMemoryLimit {
		iso.intrTick++
		if iso.intrTick&63 == 0 {
			u := iso.rt.ComputeMemoryUsage()
			if u.UsedSize > 0 && uint64(u.UsedSize) >= iso.memLimit-iso.memLimit/10 {
				next := iso.nearOOMFn(iso.memLimit, iso.initialLimit)
				if next > iso.memLimit {
					iso.memLimit = next
					iso.rt.SetMemoryLimit(next)
					Logger().Debug("heap limit raised", zap.Uint64("isolate", iso.id), zap.Uint64("limit", next))
				} else {
					iso.reportOOM("near-heap-limit", true)
					return 1
				}
			}
		}
	}
	return 0
}

func (iso *Isolate) reportFatal(location, message string) {
	Logger().Error("fatal engine error",
		zap.Uint64("isolate", iso.id),
		zap.String("location", location),
		zap.String("message", message))
	if iso.fatalFn != nil {
		iso.fatalFn(location, message)
	}
}

func (iso *Isolate) reportOOM(location string, isHeapOOM bool) {
	Logger().Error("engine out of memory",
		zap.Uint64("isolate", iso.id),
		zap.String("location", location))
	if iso.oomFn != nil {
		iso.oomFn(location, isHeapOOM)
		return
	}
	iso.reportFatal(location, "out of memory")
}

func clampU64(v int64) uint64 {
	if v < 0 {
		return 0
	}
	return uint64(v)
}
