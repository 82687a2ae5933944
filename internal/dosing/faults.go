package dosing

import (
	"math"
	"time"
)

// Fault tracking: a consecutive-failure counter feeding an exponential
// backoff hint and a circuit breaker with a timed quarantine.

// CheckRecovery transitions an open circuit back to closed once the
// reset window has elapsed since the last failure, and clears the
// failure count. Called at the top of every evaluation so the system
// retries automatically after quarantine instead of waiting for manual
// intervention. Reports whether a recovery happened.
func (f *FaultState) CheckRecovery(now time.Time) bool {
	if !f.CircuitOpen {
		return false
	}
	if f.LastFailure.IsZero() || now.Sub(f.LastFailure) >= f.ResetWindow() {
		f.CircuitOpen = false
		f.CurrentFailCount = 0
		f.LastFailure = time.Time{}
		return true
	}
	return false
}

// Open reports whether the circuit is currently open at time now,
// accounting for a reset window that may already have elapsed.
func (f FaultState) Open(now time.Time) bool {
	if !f.CircuitOpen {
		return false
	}
	return !f.LastFailure.IsZero() && now.Sub(f.LastFailure) < f.ResetWindow()
}

// RecordFailure registers one more consecutive failure. It returns the
// advisory backoff before the next attempt and whether this failure
// tripped the circuit open.
func (f *FaultState) RecordFailure(now time.Time) (backoff time.Duration, opened bool) {
	f.CurrentFailCount++
	f.LastFailure = now

	backoff = f.backoffFor(f.CurrentFailCount)

	if !f.CircuitOpen && f.CircuitBreakerThreshold > 0 && f.CurrentFailCount >= f.CircuitBreakerThreshold {
		f.CircuitOpen = true
		opened = true
	}
	return backoff, opened
}

// RecordSuccess clears the failure streak. The circuit state is left
// alone: an open circuit only closes through CheckRecovery.
func (f *FaultState) RecordSuccess() {
	f.CurrentFailCount = 0
	f.LastFailure = time.Time{}
}

// Reset restores a pristine fault state, keeping the tuning knobs.
func (f *FaultState) Reset() {
	f.CurrentFailCount = 0
	f.LastFailure = time.Time{}
	f.CircuitOpen = false
}

// backoffFor computes base * factor^fails, capped at the circuit reset
// window so the hint never exceeds the quarantine it would land in.
func (f FaultState) backoffFor(fails int) time.Duration {
	base := f.BaseBackoff()
	if base <= 0 {
		base = time.Second
	}
	factor := f.BackoffFactor
	if factor < 1 {
		factor = 2
	}
	d := time.Duration(float64(base) * math.Pow(factor, float64(fails)))
	if maxD := f.ResetWindow(); maxD > 0 && d > maxD {
		d = maxD
	}
	if d < 0 {
		d = f.ResetWindow()
	}
	return d
}
