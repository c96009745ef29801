package qjsbind

import "testing"

func TestUnlocker_HandsIsolateToAnotherGoroutine(t *testing.T) {
	iso, s, cs := enterTestContext(t)
	ctx := cs.Context()

	mustRun(t, cs, "globalThis.x = 1")
	u := s.Unlock()

	done := make(chan float64, 1)
	go func() {
		s2 := iso.Scope()
		defer s2.Close()
		cs2 := ctx.Enter()
		defer cs2.Exit()
		v, err := cs2.RunScript("x += 41; x", "other.js")
		if err != nil {
			t.Errorf("RunScript on second goroutine: %v", err)
			done <- 0
			return
		}
		done <- v.GetNumber()
	}()

	if got := <-done; got != 42 {
		t.Errorf("second goroutine result: got %v, want 42", got)
	}
	u.Close()

	if got := mustRun(t, cs, "x").GetNumber(); got != 42 {
		t.Errorf("after relock: got %v, want 42", got)
	}
}

func TestUnlocker_ParkedHandlesSurvive(t *testing.T) {
	iso, s, cs := enterTestContext(t)

	held := mustRun(t, cs, "({keep: 'me'})")
	u := s.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s2 := iso.Scope()
		defer s2.Close()
	}()
	<-done
	u.Close()

	v, err := held.AsObject().Get("keep")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got := v.String(); got != "me" {
		t.Errorf("parked handle: got %q, want %q", got, "me")
	}
}

func TestUnlocker_TryCatchRestored(t *testing.T) {
	_, s, cs := enterTestContext(t)

	tc := s.NewTryCatch()
	u := s.Unlock()
	u.Close()

	if _, err := cs.RunScript("throw new Error('after relock')", "tc.js"); err == nil {
		t.Error("throw should surface as an error")
	}
	if !tc.HasCaught() {
		t.Error("parked try-catch should still catch after relock")
	}
	tc.Close()
}

func TestUnlocker_CloseTwicePanics(t *testing.T) {
	_, s, _ := enterTestContext(t)

	u := s.Unlock()
	u.Close()
	expectPanic(t, "double unlocker close", u.Close)
}
