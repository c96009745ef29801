package qjsbind

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// SetupFunc prepares a pooled isolate's context, e.g. installing
// native functions or globals.
type SetupFunc func(s *IsolateScope, cs *ContextScope) error

// PoolEntry is one pre-warmed isolate+context pair checked out of a
// pool.
type PoolEntry struct {
	Isolate *Isolate
	Context *Context
}

// Pool manages a fixed-size set of pre-warmed isolates. Entries whose
// execution was terminated, or whose reset script fails, are discarded
// on return and replaced with fresh ones.
type Pool struct {
	entries chan *PoolEntry
	cfg     PoolConfig
	setups  []SetupFunc
	mu      sync.Mutex
	closed  bool
}

// NewPool builds a pool of cfg.Size isolates, each configured with the
// given setup functions.
func NewPool(cfg PoolConfig, setups ...SetupFunc) (*Pool, error) {
	size := cfg.Size
	if size <= 0 {
		size = 1
	}
	p := &Pool{
		entries: make(chan *PoolEntry, size),
		cfg:     cfg,
		setups:  setups,
	}
	for i := 0; i < size; i++ {
		e, err := p.newEntry()
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("creating pool isolate %d: %w", i, err)
		}
		p.entries <- e
	}
	return p, nil
}

func (p *Pool) newEntry() (*PoolEntry, error) {
	iso := NewIsolate(p.cfg.Isolate)
	if iso == nil {
		return nil, fmt.Errorf("isolate creation failed")
	}
	s := iso.Scope()
	ctx := s.NewContext()
	if ctx == nil {
		s.Close()
		iso.Dispose()
		return nil, fmt.Errorf("context creation failed")
	}
	cs := ctx.Enter()
	for _, setup := range p.setups {
		if err := setup(s, cs); err != nil {
			cs.Exit()
			s.Close()
			iso.Dispose()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}
	cs.Exit()
	s.Close()
	return &PoolEntry{Isolate: iso, Context: ctx}, nil
}

// Get acquires an entry. Blocks until one is available; fails once the
// pool is closed.
func (p *Pool) Get() (*PoolEntry, error) {
	e, ok := <-p.entries
	if !ok {
		return nil, fmt.Errorf("isolate pool is closed")
	}
	return e, nil
}

// Put returns an entry to the pool. Terminated or broken entries are
// disposed and replaced.
func (p *Pool) Put(e *PoolEntry) {
	if !p.healthy(e) {
		p.replace(e)
		return
	}
	if !p.offer(e) {
		disposeEntry(e)
	}
}

// offer hands an entry to the pool. False when the pool is closed or
// already full. The send happens under mu so it cannot race Close.
func (p *Pool) offer(e *PoolEntry) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	select {
	case p.entries <- e:
		return true
	default:
		return false
	}
}

// healthy resets the entry for reuse and reports whether it is still
// serviceable.
func (p *Pool) healthy(e *PoolEntry) bool {
	iso := e.Isolate
	if iso.disposed.Load() {
		return false
	}
	if iso.IsExecutionTerminating() {
		Logger().Debug("discarding terminated pool isolate", zap.Uint64("isolate", iso.id))
		return false
	}
	if p.cfg.ResetScript == "" {
		return true
	}
	s := iso.Scope()
	defer s.Close()
	cs := e.Context.Enter()
	defer cs.Exit()
	if _, err := cs.RunScript(p.cfg.ResetScript, "reset.js"); err != nil {
		Logger().Warn("pool reset script failed", zap.Uint64("isolate", iso.id), zap.Error(err))
		return false
	}
	return true
}

func (p *Pool) replace(e *PoolEntry) {
	disposeEntry(e)
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return
	}
	fresh, err := p.newEntry()
	if err != nil {
		Logger().Error("pool replacement failed", zap.Error(err))
		return
	}
	if !p.offer(fresh) {
		disposeEntry(fresh)
	}
}

// Close disposes every pooled isolate and fails further Gets. Entries
// checked out at the time are disposed when returned.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.entries)
	p.mu.Unlock()
	for e := range p.entries {
		disposeEntry(e)
	}
}

func disposeEntry(e *PoolEntry) {
	if e == nil {
		return
	}
	if !e.Isolate.disposed.Load() {
		e.Context.Free()
		e.Isolate.Dispose()
	}
}
