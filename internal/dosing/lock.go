package dosing

import (
	"sync"
	"time"
)

// cycleLock serializes dosing cycles.
//
// Acquisition never blocks: a second caller gets false and must treat
// the cycle as "waiting" rather than queue, because a queued dose would
// fire against stale sensor data. A watchdog deadline set at acquisition
// bounds the blast radius of a hung dispense call; Sweep force-releases
// past-deadline locks.
//
// Every acquisition gets a generation token, and Release only frees the
// lock for a matching generation. A holder the watchdog already reaped
// eventually returns and calls Release too; without the token that late
// release would free the lock out from under whoever acquired it after
// the sweep.
type cycleLock struct {
	mu         sync.Mutex
	inProgress bool
	gen        uint64
	acquiredAt time.Time
	deadline   time.Time
}

// TryAcquire takes the lock if free, arms the watchdog deadline and
// returns the holder's generation token.
func (l *cycleLock) TryAcquire(now time.Time, watchdog time.Duration) (uint64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inProgress {
		return 0, false
	}
	l.gen++
	l.inProgress = true
	l.acquiredAt = now
	if watchdog > 0 {
		l.deadline = now.Add(watchdog)
	} else {
		l.deadline = time.Time{}
	}
	return l.gen, true
}

// Release frees the lock if gen still names the current holder. A stale
// generation (the holder was swept and the lock re-acquired) is a no-op.
func (l *cycleLock) Release(gen uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.inProgress || gen != l.gen {
		return
	}
	l.inProgress = false
	l.acquiredAt = time.Time{}
	l.deadline = time.Time{}
}

// Held reports whether a cycle currently holds the lock.
func (l *cycleLock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inProgress
}

// Stuck reports whether the holder has outlived its watchdog deadline.
func (l *cycleLock) Stuck(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inProgress && !l.deadline.IsZero() && now.After(l.deadline)
}

// Sweep force-releases a stuck lock and returns how long it had been
// held. ok is false when there was nothing to reap.
func (l *cycleLock) Sweep(now time.Time) (heldFor time.Duration, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.inProgress || l.deadline.IsZero() || !now.After(l.deadline) {
		return 0, false
	}
	heldFor = now.Sub(l.acquiredAt)
	l.inProgress = false
	l.acquiredAt = time.Time{}
	l.deadline = time.Time{}
	return heldFor, true
}
