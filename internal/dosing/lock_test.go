package dosing

import (
	"testing"
	"time"
)

func TestCycleLockExclusive(t *testing.T) {
	var l cycleLock
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	gen, ok := l.TryAcquire(now, time.Minute)
	if !ok {
		t.Fatalf("free lock refused acquisition")
	}
	if _, ok := l.TryAcquire(now, time.Minute); ok {
		t.Fatalf("held lock granted a second acquisition")
	}
	if !l.Held() {
		t.Fatalf("Held() = false while held")
	}

	l.Release(gen)
	if l.Held() {
		t.Fatalf("Held() = true after release")
	}
	if _, ok := l.TryAcquire(now, time.Minute); !ok {
		t.Fatalf("released lock refused re-acquisition")
	}
}

func TestCycleLockReleaseIdempotent(t *testing.T) {
	var l cycleLock
	l.Release(0)
	l.Release(1)
	if l.Held() {
		t.Fatalf("release of a free lock left it held")
	}

	gen, _ := l.TryAcquire(time.Now(), time.Minute)
	l.Release(gen)
	l.Release(gen)
	if l.Held() {
		t.Fatalf("double release left the lock held")
	}
}

func TestCycleLockWatchdog(t *testing.T) {
	var l cycleLock
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	l.TryAcquire(now, time.Minute)

	if l.Stuck(now.Add(59 * time.Second)) {
		t.Fatalf("stuck before the deadline")
	}
	if _, ok := l.Sweep(now.Add(59 * time.Second)); ok {
		t.Fatalf("sweep reaped a healthy holder")
	}

	late := now.Add(90 * time.Second)
	if !l.Stuck(late) {
		t.Fatalf("not stuck past the deadline")
	}
	heldFor, ok := l.Sweep(late)
	if !ok {
		t.Fatalf("sweep refused a stuck lock")
	}
	if heldFor != 90*time.Second {
		t.Fatalf("heldFor = %v, want 90s", heldFor)
	}
	if l.Held() {
		t.Fatalf("swept lock still held")
	}

	// The next cycle can proceed immediately.
	if _, ok := l.TryAcquire(late, time.Minute); !ok {
		t.Fatalf("swept lock refused re-acquisition")
	}
}

// A holder the sweep already reaped eventually returns and releases.
// That stale release must not free the lock out from under the cycle
// that acquired it after the sweep.
func TestCycleLockStaleReleaseAfterSweep(t *testing.T) {
	var l cycleLock
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	genA, ok := l.TryAcquire(now, time.Minute)
	if !ok {
		t.Fatalf("cycle A failed to acquire")
	}

	if _, ok := l.Sweep(now.Add(2 * time.Minute)); !ok {
		t.Fatalf("sweep refused the stuck holder")
	}

	genB, ok := l.TryAcquire(now.Add(2*time.Minute), time.Minute)
	if !ok {
		t.Fatalf("cycle B failed to acquire after the sweep")
	}

	// A's hung dispense returns and runs its deferred release.
	l.Release(genA)
	if !l.Held() {
		t.Fatalf("stale release freed cycle B's lock")
	}
	if _, ok := l.TryAcquire(now.Add(3*time.Minute), time.Minute); ok {
		t.Fatalf("third cycle acquired while B was still dosing")
	}

	l.Release(genB)
	if l.Held() {
		t.Fatalf("current holder's release did not free the lock")
	}
}

func TestCycleLockNoDeadlineNeverStuck(t *testing.T) {
	var l cycleLock
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	l.TryAcquire(now, 0)

	far := now.Add(24 * time.Hour)
	if l.Stuck(far) {
		t.Fatalf("lock without a watchdog reported stuck")
	}
	if _, ok := l.Sweep(far); ok {
		t.Fatalf("sweep reaped a lock without a deadline")
	}
}
