package qjsbind

import (
	"strings"
	"testing"
)

func TestResolver_SettlesExactlyOnce(t *testing.T) {
	_, s, cs := enterTestContext(t)

	r, err := cs.NewResolver()
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	p := r.Promise()
	if got := p.State(); got != PromisePending {
		t.Fatalf("fresh promise state: got %v, want pending", got)
	}
	if p.Result() != nil {
		t.Error("pending promise should have no result")
	}

	if !r.Resolve(s.NewNumber(5)) {
		t.Error("first Resolve should settle")
	}
	if r.Resolve(s.NewNumber(6)) {
		t.Error("second Resolve should report false")
	}
	if r.Reject(s.NewString("late")) {
		t.Error("Reject after Resolve should report false")
	}

	if got := p.State(); got != PromiseFulfilled {
		t.Errorf("state: got %v, want fulfilled", got)
	}
	res := p.Result()
	if res == nil {
		t.Fatal("fulfilled promise should expose its value")
	}
	if got := res.GetNumber(); got != 5 {
		t.Errorf("result: got %v, want 5", got)
	}
}

func TestResolver_Reject(t *testing.T) {
	_, s, cs := enterTestContext(t)

	r, err := cs.NewResolver()
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	if !r.Reject(s.NewString("denied")) {
		t.Error("first Reject should settle")
	}
	p := r.Promise()
	if got := p.State(); got != PromiseRejected {
		t.Errorf("state: got %v, want rejected", got)
	}
	if got := p.Result().String(); got != "denied" {
		t.Errorf("rejection reason: got %q, want %q", got, "denied")
	}
}

func TestResolver_PromiseVisibleToScripts(t *testing.T) {
	iso, s, cs := enterTestContext(t)

	r, err := cs.NewResolver()
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	if err := cs.Global().Set("hostPromise", r.Promise().Value()); err != nil {
		t.Fatalf("Set: %v", err)
	}
	mustRun(t, cs, "hostPromise.then(v => { globalThis.sawHost = v })")

	r.Resolve(s.NewString("handoff"))
	if err := iso.RunMicrotasks(); err != nil {
		t.Fatalf("RunMicrotasks: %v", err)
	}
	v := mustRun(t, cs, "sawHost")
	if got := v.String(); got != "handoff" {
		t.Errorf("script reaction saw %q, want %q", got, "handoff")
	}
}

func TestPromise_Then(t *testing.T) {
	iso, s, cs := enterTestContext(t)

	r, err := cs.NewResolver()
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	var got float64 = -1
	derived, err := r.Promise().Then(func(info *FunctionCallbackInfo) *Value {
		got = info.Get(0).GetNumber()
		return s.NewNumber(got * 2)
	}, nil)
	if err != nil {
		t.Fatalf("Then: %v", err)
	}

	r.Resolve(s.NewNumber(21))
	if got != -1 {
		t.Error("reaction should wait for the microtask pump")
	}
	if err := iso.RunMicrotasks(); err != nil {
		t.Fatalf("RunMicrotasks: %v", err)
	}
	if got != 21 {
		t.Errorf("reaction argument: got %v, want 21", got)
	}
	if state := derived.State(); state != PromiseFulfilled {
		t.Errorf("derived state: got %v, want fulfilled", state)
	}
	if res := derived.Result().GetNumber(); res != 42 {
		t.Errorf("derived result: got %v, want 42", res)
	}
}

func TestPromise_ThenRejectionPath(t *testing.T) {
	iso, s, cs := enterTestContext(t)

	r, err := cs.NewResolver()
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	var reason string
	if _, err := r.Promise().Then(nil, func(info *FunctionCallbackInfo) *Value {
		reason = info.Get(0).String()
		return nil
	}); err != nil {
		t.Fatalf("Then: %v", err)
	}

	r.Reject(s.NewString("bad input"))
	if err := iso.RunMicrotasks(); err != nil {
		t.Fatalf("RunMicrotasks: %v", err)
	}
	if reason != "bad input" {
		t.Errorf("rejection handler saw %q, want %q", reason, "bad input")
	}
}

func TestPromise_FromScript(t *testing.T) {
	_, _, cs := enterTestContext(t)

	v := mustRun(t, cs, "Promise.resolve(9)")
	if !v.IsPromise() {
		t.Fatal("Promise.resolve should classify as a promise")
	}
	p := v.AsPromise()
	if got := p.State(); got != PromiseFulfilled {
		t.Errorf("state: got %v, want fulfilled", got)
	}
	if got := p.Result().GetNumber(); got != 9 {
		t.Errorf("result: got %v, want 9", got)
	}
}

func TestPromise_AsyncFunction(t *testing.T) {
	iso, _, cs := enterTestContext(t)

	v := mustRun(t, cs, `(async () => { await Promise.resolve(); return 'async done' })()`)
	p := v.AsPromise()
	if err := iso.RunMicrotasks(); err != nil {
		t.Fatalf("RunMicrotasks: %v", err)
	}
	if got := p.State(); got != PromiseFulfilled {
		t.Fatalf("state after pump: got %v, want fulfilled", got)
	}
	if got := p.Result().String(); got != "async done" {
		t.Errorf("result: got %q, want %q", got, "async done")
	}
}

func TestPromise_StateOfNonPromise(t *testing.T) {
	_, s, _ := enterTestContext(t)

	p := s.NewNumber(3).AsPromise()
	if got := p.State(); got != PromiseUnknown {
		t.Errorf("state of non-promise: got %v, want unknown", got)
	}
	if p.Result() != nil {
		t.Error("non-promise should have no result")
	}
}

func TestPumpMessageLoop_OneJobAtATime(t *testing.T) {
	iso, _, cs := enterTestContext(t)

	mustRun(t, cs, `
		globalThis.order = [];
		Promise.resolve().then(() => order.push('a'));
		Promise.resolve().then(() => order.push('b'));`)

	ran, err := iso.PumpMessageLoop()
	if err != nil {
		t.Fatalf("PumpMessageLoop: %v", err)
	}
	if !ran {
		t.Fatal("first pump should run a job")
	}
	v := mustRun(t, cs, "order.join(',')")
	if got := v.String(); got != "a" {
		t.Errorf("after one pump: got %q, want %q", got, "a")
	}

	for {
		ran, err := iso.PumpMessageLoop()
		if err != nil {
			t.Fatalf("PumpMessageLoop: %v", err)
		}
		if !ran {
			break
		}
	}
	v = mustRun(t, cs, "order.join(',')")
	if got := v.String(); got != "a,b" {
		t.Errorf("after drain: got %q, want %q", got, "a,b")
	}
}

func TestRunMicrotasks_DrainsChains(t *testing.T) {
	iso, _, cs := enterTestContext(t)

	mustRun(t, cs, `
		globalThis.steps = 0;
		Promise.resolve()
			.then(() => { steps++ })
			.then(() => { steps++ })
			.then(() => { steps++ });`)
	if err := iso.RunMicrotasks(); err != nil {
		t.Fatalf("RunMicrotasks: %v", err)
	}
	v := mustRun(t, cs, "steps")
	if got := v.GetNumber(); got != 3 {
		t.Errorf("chained reactions ran %v times, want 3", got)
	}
}

func TestRunMicrotasks_HandlerThrowRejectsDerived(t *testing.T) {
	iso, _, cs := enterTestContext(t)

	v := mustRun(t, cs, `
		globalThis.derived = Promise.resolve().then(() => { throw new Error('later') });
		derived`)
	p := v.AsPromise()
	if err := iso.RunMicrotasks(); err != nil {
		t.Fatalf("RunMicrotasks: %v", err)
	}
	if got := p.State(); got != PromiseRejected {
		t.Fatalf("derived state: got %v, want rejected", got)
	}
	reason := p.Result()
	msg, err := reason.AsObject().Get("message")
	if err != nil {
		t.Fatalf("Get message: %v", err)
	}
	if got := msg.String(); !strings.Contains(got, "later") {
		t.Errorf("rejection message: got %q, want it to contain %q", got, "later")
	}
}
