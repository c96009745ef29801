package qjsbind

import (
	"runtime"
)

// Unlocker temporarily releases the isolate from inside a scope so
// other goroutines can enter it. The caller's scopes and their values
// are parked untouched; Close re-acquires the isolate and restores
// them. Anything another goroutine opened in between must be fully
// closed again by then.
type Unlocker struct {
	iso         *Isolate
	scopes      []*HandleScope
	enteredCtxs []*Context
	tryCatches  []*TryCatch
	closed      bool
}

// Unlock releases the isolate, parking this goroutine's scope stacks.
func (s *IsolateScope) Unlock() *Unlocker {
	s.valid("Unlock")
	iso := s.iso
	u := &Unlocker{
		iso:         iso,
		scopes:      iso.scopes,
		enteredCtxs: iso.enteredCtxs,
		tryCatches:  iso.tryCatches,
	}
	iso.scopes = nil
	iso.enteredCtxs = nil
	iso.tryCatches = nil
	popCurrent()
	iso.entered.Store(false)
	iso.mu.Unlock()
	runtime.UnlockOSThread()
	return u
}

// Close re-acquires the isolate and restores the parked scopes.
func (u *Unlocker) Close() {
	if u.closed {
		panic("qjsbind: unlocker closed twice")
	}
	iso := u.iso
	runtime.LockOSThread()
	iso.mu.Lock()
	iso.entered.Store(true)
	iso.rt.UpdateStackTop()
	if len(iso.scopes) > 0 || len(iso.enteredCtxs) > 0 || len(iso.tryCatches) > 0 {
		panic("qjsbind: relock with another goroutine's scopes still open")
	}
	pushCurrent(iso)
	iso.scopes = u.scopes
	iso.enteredCtxs = u.enteredCtxs
	iso.tryCatches = u.tryCatches
	u.closed = true
}
