package logx

import (
	"sync"

	"golang.org/x/time/rate"
)

// Throttle rate-limits log emission per key.
//
// Controller loops tend to repeat the same warning every cycle (a sensor
// channel stuck out of range, a pump sitting in cooldown). Wrapping those
// call sites in a Throttle keeps the first occurrence and a steady trickle
// afterwards instead of one line per tick.
type Throttle struct {
	mu    sync.Mutex
	limit rate.Limit
	burst int
	m     map[string]*rate.Limiter
}

// NewThrottle builds a Throttle allowing ratePerMin events per minute per
// key, with a burst of one so the first event always gets through.
func NewThrottle(ratePerMin int) *Throttle {
	if ratePerMin <= 0 {
		ratePerMin = 1
	}
	return &Throttle{
		limit: rate.Limit(float64(ratePerMin) / 60.0),
		burst: 1,
		m:     make(map[string]*rate.Limiter),
	}
}

// Allow reports whether an event for key may be logged now.
func (t *Throttle) Allow(key string) bool {
	if t == nil {
		return true
	}
	t.mu.Lock()
	lim := t.m[key]
	if lim == nil {
		lim = rate.NewLimiter(t.limit, t.burst)
		t.m[key] = lim
	}
	t.mu.Unlock()
	return lim.Allow()
}
