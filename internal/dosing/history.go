package dosing

import (
	"sync"
	"time"
)

// Bounded, newest-first telemetry ledgers. Entries are immutable once
// appended; corrections are modeled as new events, never edits.

const (
	defaultHistorySize        = 100
	defaultReadingHistorySize = 1000
)

type doseLedger struct {
	mu     sync.Mutex
	cap    int
	nextID uint64
	events []DoseEvent // newest first
}

func newDoseLedger(capacity int) *doseLedger {
	if capacity <= 0 {
		capacity = defaultHistorySize
	}
	return &doseLedger{cap: capacity}
}

// Append assigns the next monotonic ID, inserts the event at the front
// and evicts the oldest entry once the cap is exceeded. Returns the
// stored event.
func (l *doseLedger) Append(e DoseEvent) DoseEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	e.ID = l.nextID
	l.events = append([]DoseEvent{e}, l.events...)
	if len(l.events) > l.cap {
		l.events = l.events[:l.cap]
	}
	return e
}

// Recent returns up to limit events, newest first. limit <= 0 returns
// everything retained.
func (l *doseLedger) Recent(limit int) []DoseEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.events)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]DoseEvent, n)
	copy(out, l.events[:n])
	return out
}

func (l *doseLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// usageWindow tracks per-pump dispensed volume over a trailing window,
// independent of the dose ledger. Deriving the daily limit from the
// ledger would cap what the limit can see at the ledger's retention;
// this keeps every record until it ages out of the window.
type usageWindow struct {
	mu     sync.Mutex
	window time.Duration
	byPump map[string][]usageRecord
}

type usageRecord struct {
	at time.Time
	ml float64
}

func newUsageWindow(window time.Duration) *usageWindow {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &usageWindow{window: window, byPump: make(map[string][]usageRecord)}
}

func (u *usageWindow) Add(pumpID string, at time.Time, ml float64) {
	u.mu.Lock()
	u.byPump[pumpID] = append(u.byPump[pumpID], usageRecord{at: at, ml: ml})
	u.mu.Unlock()
}

// Total returns the volume dispensed by one pump within the trailing
// window ending at now, pruning records that have aged out.
func (u *usageWindow) Total(pumpID string, now time.Time) float64 {
	cutoff := now.Add(-u.window)
	u.mu.Lock()
	defer u.mu.Unlock()

	recs := u.byPump[pumpID]
	keep := recs[:0]
	var total float64
	for _, r := range recs {
		if r.at.Before(cutoff) {
			continue
		}
		keep = append(keep, r)
		total += r.ml
	}
	if len(keep) == 0 {
		delete(u.byPump, pumpID)
	} else {
		u.byPump[pumpID] = keep
	}
	return total
}

type readingLedger struct {
	mu       sync.Mutex
	cap      int
	readings []Reading // newest first
}

func newReadingLedger(capacity int) *readingLedger {
	if capacity <= 0 {
		capacity = defaultReadingHistorySize
	}
	return &readingLedger{cap: capacity}
}

func (l *readingLedger) Append(r Reading) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.readings = append([]Reading{r}, l.readings...)
	if len(l.readings) > l.cap {
		l.readings = l.readings[:l.cap]
	}
}

func (l *readingLedger) Recent(limit int) []Reading {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.readings)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Reading, n)
	copy(out, l.readings[:n])
	return out
}
