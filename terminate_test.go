package qjsbind

import (
	"errors"
	"testing"
	"time"
)

func TestTerminateExecution_AbortsRunningScript(t *testing.T) {
	iso, s, cs := enterTestContext(t)

	go func() {
		time.Sleep(50 * time.Millisecond)
		iso.TerminateExecution()
	}()

	tc := s.NewTryCatch()
	start := time.Now()
	_, err := cs.RunScript("for (;;) {}", "spin.js")
	if err == nil {
		t.Fatal("infinite loop should be aborted")
	}
	if !errors.Is(err, ErrTerminated) {
		t.Fatalf("error: got %v, want ErrTerminated", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("abort took %v", elapsed)
	}
	if !tc.HasCaught() {
		t.Error("handler should observe the abort")
	}
	if !tc.HasTerminated() {
		t.Error("handler should mark the abort as a termination")
	}
	tc.Close()

	if iso.IsExecutionTerminating() {
		t.Error("request should withdraw once the run has unwound")
	}
	v := mustRun(t, cs, "1+1")
	if got := v.GetNumber(); got != 2 {
		t.Errorf("isolate reuse after abort: got %v, want 2", got)
	}
}

func TestTerminateExecution_ScriptCannotCatchIt(t *testing.T) {
	iso, _, cs := enterTestContext(t)

	go func() {
		time.Sleep(50 * time.Millisecond)
		iso.TerminateExecution()
	}()

	_, err := cs.RunScript(`
		for (;;) {
			try { for (;;) {} } catch (e) { /* must not save the loop */ }
		}`, "shield.js")
	if !errors.Is(err, ErrTerminated) {
		t.Fatalf("error: got %v, want ErrTerminated", err)
	}
	mustRun(t, cs, "1+1")
}

func TestCancelTerminateExecution_RearmsIdleIsolate(t *testing.T) {
	iso, _, cs := enterTestContext(t)

	iso.TerminateExecution()
	if !iso.IsExecutionTerminating() {
		t.Fatal("request should be pending")
	}
	iso.CancelTerminateExecution()
	if iso.IsExecutionTerminating() {
		t.Fatal("cancel should withdraw the request")
	}

	v := mustRun(t, cs, "1+1")
	if got := v.GetNumber(); got != 2 {
		t.Errorf("after cancel: got %v, want 2", got)
	}
}

func TestTerminateExecution_PendingRequestKillsNextRun(t *testing.T) {
	iso, _, cs := enterTestContext(t)

	iso.TerminateExecution()
	_, err := cs.RunScript("for (;;) {}", "doomed.js")
	if !errors.Is(err, ErrTerminated) {
		t.Fatalf("error: got %v, want ErrTerminated", err)
	}
	mustRun(t, cs, "1+1")
}

func TestTerminateExecution_ErrorPassesThroughNestedCalls(t *testing.T) {
	iso, s, cs := enterTestContext(t)

	var nestedErr error
	fn := s.NewNativeFunction(func(info *FunctionCallbackInfo) *Value {
		_, nestedErr = info.Context().RunScript("for (;;) {}", "inner.js")
		return nil
	}, nil, nil)
	if err := cs.Global().Set("spinInside", fn); err != nil {
		t.Fatalf("Set: %v", err)
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		iso.TerminateExecution()
	}()

	_, err := cs.RunScript("spinInside(); 'done'", "outer.js")
	if !errors.Is(nestedErr, ErrTerminated) {
		t.Errorf("nested error: got %v, want ErrTerminated", nestedErr)
	}
	if !errors.Is(err, ErrTerminated) {
		t.Errorf("outer error: got %v, want ErrTerminated", err)
	}
	if iso.IsExecutionTerminating() {
		t.Error("request should withdraw after the outer run unwinds")
	}
	mustRun(t, cs, "1+1")
}
