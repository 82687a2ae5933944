package dosing

import (
	"testing"
	"time"
)

func testFaultState() FaultState {
	return FaultState{
		MaxRetries:              5,
		BackoffFactor:           2.0,
		BaseBackoffMs:           1000,
		CircuitBreakerThreshold: 5,
		CircuitBreakerResetMs:   5 * 60 * 1000,
	}
}

func TestFaultBackoffGrowth(t *testing.T) {
	f := testFaultState()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	want := []time.Duration{
		2 * time.Second,  // 1s * 2^1
		4 * time.Second,  // 1s * 2^2
		8 * time.Second,  // 1s * 2^3
		16 * time.Second, // 1s * 2^4
	}
	for i, w := range want {
		backoff, opened := f.RecordFailure(now)
		if backoff != w {
			t.Fatalf("failure %d: backoff = %v, want %v", i+1, backoff, w)
		}
		if opened {
			t.Fatalf("failure %d: circuit opened below threshold", i+1)
		}
	}
	if f.CurrentFailCount != 4 {
		t.Fatalf("fail count = %d, want 4", f.CurrentFailCount)
	}
}

func TestFaultBackoffCappedAtResetWindow(t *testing.T) {
	f := testFaultState()
	f.CircuitBreakerThreshold = 0 // never open; exercise the cap alone
	now := time.Now()

	var backoff time.Duration
	for i := 0; i < 20; i++ {
		backoff, _ = f.RecordFailure(now)
	}
	if backoff != f.ResetWindow() {
		t.Fatalf("backoff = %v, want reset window cap %v", backoff, f.ResetWindow())
	}
}

func TestCircuitOpensAtThreshold(t *testing.T) {
	f := testFaultState()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for i := 1; i <= 4; i++ {
		if _, opened := f.RecordFailure(now); opened {
			t.Fatalf("opened at %d failures, threshold is 5", i)
		}
	}
	_, opened := f.RecordFailure(now)
	if !opened {
		t.Fatalf("fifth failure should open the circuit")
	}
	if !f.Open(now) {
		t.Fatalf("Open() disagrees with the trip")
	}

	// Further failures report the already-open circuit, not a new trip.
	if _, opened := f.RecordFailure(now); opened {
		t.Fatalf("already-open circuit reported as newly opened")
	}
}

func TestCircuitAutoRecovery(t *testing.T) {
	f := testFaultState()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		f.RecordFailure(now)
	}

	if f.CheckRecovery(now.Add(f.ResetWindow() - time.Second)) {
		t.Fatalf("recovered before the reset window elapsed")
	}
	if !f.CircuitOpen {
		t.Fatalf("premature recovery mutated state")
	}

	if !f.CheckRecovery(now.Add(f.ResetWindow())) {
		t.Fatalf("no recovery once the reset window elapsed")
	}
	if f.CircuitOpen || f.CurrentFailCount != 0 {
		t.Fatalf("recovery left residue: %+v", f)
	}
	if f.CheckRecovery(now.Add(f.ResetWindow())) {
		t.Fatalf("recovery is not idempotent")
	}
}

func TestRecordSuccessClearsStreakOnly(t *testing.T) {
	f := testFaultState()
	now := time.Now()
	f.RecordFailure(now)
	f.RecordFailure(now)

	f.RecordSuccess()
	if f.CurrentFailCount != 0 || !f.LastFailure.IsZero() {
		t.Fatalf("success did not clear the streak: %+v", f)
	}

	// A success never closes an open circuit; only CheckRecovery does.
	for i := 0; i < 5; i++ {
		f.RecordFailure(now)
	}
	f.RecordSuccess()
	if !f.CircuitOpen {
		t.Fatalf("RecordSuccess must not close the circuit")
	}
}

func TestFaultReset(t *testing.T) {
	f := testFaultState()
	now := time.Now()
	for i := 0; i < 6; i++ {
		f.RecordFailure(now)
	}

	f.Reset()
	if f.CurrentFailCount != 0 || f.CircuitOpen || !f.LastFailure.IsZero() {
		t.Fatalf("reset left residue: %+v", f)
	}
	if f.CircuitBreakerThreshold != 5 || f.BaseBackoffMs != 1000 {
		t.Fatalf("reset must keep tuning: %+v", f)
	}
}
