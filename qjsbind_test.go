package qjsbind

import (
	"errors"
	"math"
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

func newTestIsolate(t *testing.T) *Isolate {
	t.Helper()
	iso := NewIsolate(IsolateConfig{})
	if iso == nil {
		t.Fatal("NewIsolate returned nil")
	}
	t.Cleanup(iso.Dispose)
	return iso
}

// enterTestContext yields a ready isolate with an entered context. The
// scopes unwind via t.Cleanup; tests that need manual lifecycle
// control should build their own.
func enterTestContext(t *testing.T) (*Isolate, *IsolateScope, *ContextScope) {
	t.Helper()
	iso := newTestIsolate(t)
	s := iso.Scope()
	ctx := s.NewContext()
	if ctx == nil {
		s.Close()
		t.Fatal("NewContext returned nil")
	}
	cs := ctx.Enter()
	t.Cleanup(func() {
		cs.Exit()
		s.Close()
	})
	return iso, s, cs
}

func mustRun(t *testing.T, cs *ContextScope, code string) *Value {
	t.Helper()
	v, err := cs.RunScript(code, "test.js")
	if err != nil {
		t.Fatalf("RunScript %q: %v", code, err)
	}
	return v
}

func expectPanic(t *testing.T, what string, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Errorf("%s should panic", what)
		}
	}()
	fn()
}

// ---------------------------------------------------------------------------
// 1. Basic evaluation
// ---------------------------------------------------------------------------

func TestEval_Arithmetic(t *testing.T) {
	_, _, cs := enterTestContext(t)

	v := mustRun(t, cs, "1+1")
	if !v.IsNumber() {
		t.Fatal("1+1 should evaluate to a number")
	}
	if got := v.GetNumber(); got != 2.0 {
		t.Errorf("1+1: got %v, want 2", got)
	}
}

func TestEval_String(t *testing.T) {
	_, _, cs := enterTestContext(t)

	v := mustRun(t, cs, `"he" + "llo"`)
	if !v.IsString() {
		t.Fatal("concatenation should evaluate to a string")
	}
	if got := v.String(); got != "hello" {
		t.Errorf("got %q, want %q", got, "hello")
	}
}

func TestEval_SyntaxError(t *testing.T) {
	_, _, cs := enterTestContext(t)

	_, err := cs.RunScript("function (", "bad.js")
	if err == nil {
		t.Fatal("expected a syntax error")
	}
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("got %T, want *Error", err)
	}
	if e.Name != "SyntaxError" {
		t.Errorf("error name: got %q, want %q", e.Name, "SyntaxError")
	}
}

func TestEval_ThrownNonError(t *testing.T) {
	_, _, cs := enterTestContext(t)

	_, err := cs.RunScript(`throw "plain string"`, "test.js")
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), "plain string") {
		t.Errorf("error %q should contain the thrown string", err.Error())
	}
}

func TestEval_GlobalStatePersistsAcrossRuns(t *testing.T) {
	_, _, cs := enterTestContext(t)

	mustRun(t, cs, "globalThis.counter = 10")
	v := mustRun(t, cs, "globalThis.counter + 5")
	if got := v.GetNumber(); got != 15 {
		t.Errorf("got %v, want 15", got)
	}
}

// ---------------------------------------------------------------------------
// 2. Value constructors and classification
// ---------------------------------------------------------------------------

func TestValueConstructors(t *testing.T) {
	_, s, _ := enterTestContext(t)

	if v := s.NewNumber(3.5); v.GetNumber() != 3.5 {
		t.Errorf("NewNumber: got %v, want 3.5", v.GetNumber())
	}
	if v := s.NewLong(1 << 40); v.GetLong() != 1<<40 {
		t.Errorf("NewLong: got %v, want %v", v.GetLong(), int64(1)<<40)
	}
	if v := s.NewString("straße"); v.String() != "straße" {
		t.Errorf("NewString: got %q, want %q", v.String(), "straße")
	}
	if v := s.NewBoolean(true); !v.ToBoolean() {
		t.Error("NewBoolean(true) should be truthy")
	}
	if v := s.NewUndefined(); !v.IsUndefined() {
		t.Error("NewUndefined should be undefined")
	}
	if v := s.NewNull(); !v.IsNull() {
		t.Error("NewNull should be null")
	}
	if v := s.NewNull(); !v.IsNullOrUndefined() {
		t.Error("null should report IsNullOrUndefined")
	}
}

func TestValueClassification(t *testing.T) {
	_, _, cs := enterTestContext(t)

	tests := []struct {
		code  string
		check func(*Value) bool
		name  string
	}{
		{"[1,2]", (*Value).IsArray, "IsArray"},
		{"new ArrayBuffer(4)", (*Value).IsArrayBuffer, "IsArrayBuffer"},
		{"new Set()", (*Value).IsSet, "IsSet"},
		{"new Map()", (*Value).IsMap, "IsMap"},
		{"Promise.resolve(1)", (*Value).IsPromise, "IsPromise"},
		{"new String('x')", (*Value).IsStringObject, "IsStringObject"},
		{"(async function(){})", (*Value).IsAsyncFunction, "IsAsyncFunction"},
		{"(function(){})", (*Value).IsFunction, "IsFunction"},
		{"new Error('e')", (*Value).IsError, "IsError"},
		{"({})", (*Value).IsObject, "IsObject"},
		{"42.5", (*Value).IsNumber, "IsNumber"},
		{"7", (*Value).IsLong, "IsLong"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := mustRun(t, cs, tt.code)
			if !tt.check(v) {
				t.Errorf("%s should hold for %s", tt.name, tt.code)
			}
		})
	}

	if v := mustRun(t, cs, "1.5"); v.IsLong() {
		t.Error("1.5 should not report IsLong")
	}
	if v := mustRun(t, cs, "({})"); v.IsArray() {
		t.Error("plain object should not report IsArray")
	}
}

func TestTypeOf(t *testing.T) {
	_, _, cs := enterTestContext(t)

	tests := []struct {
		code string
		want string
	}{
		{"undefined", "undefined"},
		{"null", "object"},
		{"42", "number"},
		{"'x'", "string"},
		{"true", "boolean"},
		{"({})", "object"},
		{"(function(){})", "function"},
	}
	for _, tt := range tests {
		v := mustRun(t, cs, tt.code)
		if got := v.TypeOf(); got != tt.want {
			t.Errorf("typeof %s: got %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestStrictEquals(t *testing.T) {
	_, s, cs := enterTestContext(t)

	a := mustRun(t, cs, "globalThis.obj = {}; globalThis.obj")
	b := mustRun(t, cs, "globalThis.obj")
	c := mustRun(t, cs, "({})")

	if !a.StrictEquals(b) {
		t.Error("same object should be strictly equal")
	}
	if a.StrictEquals(c) {
		t.Error("distinct objects should not be strictly equal")
	}
	if !s.NewNumber(2).StrictEquals(s.NewNumber(2)) {
		t.Error("equal numbers should be strictly equal")
	}
}

func TestGetNumber_CoercionFailure(t *testing.T) {
	_, _, cs := enterTestContext(t)

	v := mustRun(t, cs, "Symbol('s')")
	if got := v.GetNumber(); !math.IsNaN(got) {
		t.Errorf("coercing a symbol: got %v, want NaN", got)
	}
}

// ---------------------------------------------------------------------------
// 3. Enter/Exit pairing and handle scopes
// ---------------------------------------------------------------------------

func TestExit_WithoutEnterPanics(t *testing.T) {
	iso := newTestIsolate(t)
	expectPanic(t, "Exit without Enter", iso.Exit)
}

func TestExit_WithOpenHandleScopePanics(t *testing.T) {
	iso := newTestIsolate(t)
	iso.Enter()
	hs := iso.OpenHandleScope()

	expectPanic(t, "Exit with an open handle scope", iso.Exit)

	hs.Close()
	iso.Exit()
}

func TestExit_WithEnteredContextPanics(t *testing.T) {
	iso := newTestIsolate(t)
	s := iso.Scope()
	ctx := s.NewContext()
	if ctx == nil {
		t.Fatal("NewContext returned nil")
	}
	cs := ctx.Enter()

	expectPanic(t, "Close with an entered context", s.Close)

	// The failed Close already retired the handle scope; only the
	// context and the isolate entry remain to unwind.
	cs.Exit()
	iso.Exit()
}

func TestHandleScope_CloseOutOfOrderPanics(t *testing.T) {
	iso := newTestIsolate(t)
	iso.Enter()
	outer := iso.OpenHandleScope()
	inner := iso.OpenHandleScope()

	expectPanic(t, "closing the outer scope first", outer.Close)

	inner.Close()
	outer.Close()
	iso.Exit()
}

func TestHandleScope_ValueDiesOnClose(t *testing.T) {
	iso := newTestIsolate(t)
	s := iso.Scope()
	ctx := s.NewContext()
	if ctx == nil {
		t.Fatal("NewContext returned nil")
	}
	cs := ctx.Enter()

	inner := iso.OpenHandleScope()
	v := mustRun(t, cs, "({a: 1})")
	inner.Close()

	expectPanic(t, "using a value after its scope closed", func() { v.IsObject() })

	cs.Exit()
	s.Close()
}

func TestHandleScope_OuterValueSurvivesInnerClose(t *testing.T) {
	_, _, cs := enterTestContext(t)

	outer := mustRun(t, cs, "41 + 1")
	inner := cs.Isolate().OpenHandleScope()
	mustRun(t, cs, "({})")
	inner.Close()

	if got := outer.GetNumber(); got != 42 {
		t.Errorf("outer value after inner close: got %v, want 42", got)
	}
}

// ---------------------------------------------------------------------------
// 4. Isolate lifecycle
// ---------------------------------------------------------------------------

func TestIsolate_IDsAreUniqueAndNonZero(t *testing.T) {
	a := newTestIsolate(t)
	b := newTestIsolate(t)
	if a.ID() == 0 || b.ID() == 0 {
		t.Error("isolate IDs must be non-zero")
	}
	if a.ID() == b.ID() {
		t.Errorf("isolate IDs must differ, both are %d", a.ID())
	}
}

func TestIsolate_DisposeTwiceIsSafe(t *testing.T) {
	iso := NewIsolate(IsolateConfig{})
	if iso == nil {
		t.Fatal("NewIsolate returned nil")
	}
	iso.Dispose()
	iso.Dispose()
}

func TestIsolate_EnterAfterDisposePanics(t *testing.T) {
	iso := NewIsolate(IsolateConfig{})
	if iso == nil {
		t.Fatal("NewIsolate returned nil")
	}
	iso.Dispose()
	expectPanic(t, "Enter on a disposed isolate", iso.Enter)
}

func TestIsolate_HeapStatistics(t *testing.T) {
	iso, _, cs := enterTestContext(t)

	mustRun(t, cs, "globalThis.blob = 'x'.repeat(100000)")
	stats := iso.GetHeapStatistics()
	if stats.UsedHeapSize == 0 {
		t.Error("UsedHeapSize should be non-zero after allocating")
	}
	if stats.TotalHeapSize < stats.UsedHeapSize {
		t.Errorf("TotalHeapSize %d below UsedHeapSize %d",
			stats.TotalHeapSize, stats.UsedHeapSize)
	}
	if iso.UsedHeapSize() == 0 {
		t.Error("UsedHeapSize accessor should be non-zero")
	}
}

func TestIsolate_NotifyMemoryPressure(t *testing.T) {
	iso, _, cs := enterTestContext(t)

	mustRun(t, cs, "globalThis.garbage = []; for (let i = 0; i < 1000; i++) garbage.push({i}); garbage = null")
	iso.NotifyMemoryPressure(MemoryPressureCritical)
	if !iso.NotifyIdle(0.01) {
		t.Error("NotifyIdle should report completion")
	}
}

func TestIsolate_RequestInterrupt(t *testing.T) {
	iso, _, cs := enterTestContext(t)

	fired := false
	iso.RequestInterrupt(func(in *Isolate) {
		if in != iso {
			t.Error("interrupt callback received the wrong isolate")
		}
		fired = true
	})
	mustRun(t, cs, "let n = 0; for (let i = 0; i < 1000000; i++) n += i; n")
	if !fired {
		t.Error("queued interrupt should have run during execution")
	}
}

func TestCurrentIsolate(t *testing.T) {
	if got := CurrentIsolate(); got != nil {
		t.Fatalf("CurrentIsolate outside any isolate: got %v, want nil", got)
	}

	iso := newTestIsolate(t)
	s := iso.Scope()
	if got := CurrentIsolate(); got != iso {
		t.Errorf("CurrentIsolate while entered: got %v, want %v", got, iso)
	}

	elsewhere := make(chan *Isolate)
	go func() { elsewhere <- CurrentIsolate() }()
	if got := <-elsewhere; got != nil {
		t.Errorf("CurrentIsolate on another goroutine: got %v, want nil", got)
	}

	s.Close()
	if got := CurrentIsolate(); got != nil {
		t.Errorf("CurrentIsolate after exit: got %v, want nil", got)
	}
}

func TestIsolate_RequestGCForTesting(t *testing.T) {
	iso, _, cs := enterTestContext(t)

	mustRun(t, cs, "globalThis.junk = []; for (let i = 0; i < 1000; i++) junk.push({i}); junk = null")
	iso.RequestGCForTesting(GCKindFull)
	iso.RequestGCForTesting(GCKindMinor)

	v := mustRun(t, cs, "6 * 7")
	if got := v.GetNumber(); got != 42 {
		t.Errorf("after forced GC: got %v, want 42", got)
	}
}

// ---------------------------------------------------------------------------
// 5. Platform
// ---------------------------------------------------------------------------

func TestGetVersion(t *testing.T) {
	v := GetVersion()
	if v == "" {
		t.Fatal("GetVersion returned empty")
	}
	if !strings.Contains(v, Version) {
		t.Errorf("version %q should contain %q", v, Version)
	}
}

func TestInitPlatform_StackSizeFlag(t *testing.T) {
	if !InitPlatform(0, "--stack-size=2048") {
		t.Fatal("InitPlatform returned false")
	}
	if got := defaultStackSize.Load(); got != 2048*1024 {
		t.Errorf("stack size: got %d, want %d", got, 2048*1024)
	}
	defaultStackSize.Store(0)

	InitPlatform(0, "--stack-size=oops --unknown-flag")
	if got := defaultStackSize.Load(); got != 0 {
		t.Errorf("malformed flag should be ignored, got stack size %d", got)
	}
}

func TestPlatformDispose_BlocksNewIsolates(t *testing.T) {
	Dispose()
	if iso := NewIsolate(IsolateConfig{}); iso != nil {
		iso.Dispose()
		t.Error("NewIsolate should fail after platform dispose")
	}
	// Restore for the rest of the suite.
	platformDisposed.Store(false)
}
