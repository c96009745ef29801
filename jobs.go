package qjsbind

// PumpMessageLoop runs at most one queued engine job (a promise
// reaction or module continuation). Reports whether a job ran.
// Requires the isolate entered.
func (iso *Isolate) PumpMessageLoop() (bool, error) {
	iso.requireEntered("PumpMessageLoop")
	iso.enterExec()
	ret, qc := iso.rt.ExecutePendingJob()
	iso.leaveExec()
	if ret == 0 {
		return false, nil
	}
	if ret < 0 {
		return true, iso.captureError(iso.wrapperFor(qc))
	}
	return true, nil
}

// RunMicrotasks drains the engine job queue. Failing jobs do not stop
// the drain; the first failure is returned once the queue is empty.
// Requires the isolate entered.
func (iso *Isolate) RunMicrotasks() error {
	iso.requireEntered("RunMicrotasks")
	var first error
	for {
		ran, err := iso.PumpMessageLoop()
		if err != nil && first == nil {
			first = err
		}
		if !ran {
			return first
		}
	}
}
