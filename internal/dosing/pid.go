package dosing

import "time"

// minDt floors the PID timestep so rapid repeated calls cannot blow up
// the derivative term.
const minDt = 100 * time.Millisecond

// pidCompute evaluates one controller step against state s and returns
// the correction together with the successor state. It never mutates s,
// which is what lets Preview and Step share the same arithmetic.
//
// The first call (zero LastTime) only establishes a baseline: the
// successor carries the timestamp and error, the correction is zero.
func pidCompute(s PIDState, current, target float64, now time.Time) (float64, PIDState) {
	err := target - current

	next := s
	next.LastError = err
	next.LastTime = now

	if s.LastTime.IsZero() {
		return 0, next
	}

	dt := now.Sub(s.LastTime)
	if dt < minDt {
		dt = minDt
	}
	dtSec := dt.Seconds()

	integral := s.Integral + err*dtSec
	if lim := s.IntegralLimit; lim > 0 {
		if integral > lim {
			integral = lim
		} else if integral < -lim {
			integral = -lim
		}
	}
	next.Integral = integral

	derivative := (err - s.LastError) / dtSec

	correction := s.Kp*err + s.Ki*integral + s.Kd*derivative
	return correction, next
}

// Preview returns the correction the controller would produce now
// without committing any state. Used while the engine is still deciding
// whether to act, and by debug surfaces.
func (s PIDState) Preview(current, target float64, now time.Time) float64 {
	correction, _ := pidCompute(s, current, target, now)
	return correction
}

// Step evaluates the controller and commits the integrator state. Only
// call it once the engine has decided to act on the result.
func (s *PIDState) Step(current, target float64, now time.Time) float64 {
	correction, next := pidCompute(*s, current, target, now)
	*s = next
	return correction
}

// Reset zeroes the integrator, last error and timestep baseline. Used on
// configuration reset and when the circuit breaker opens, so stale
// windup cannot drive an overshoot once dosing resumes.
func (s *PIDState) Reset() {
	s.Integral = 0
	s.LastError = 0
	s.LastTime = time.Time{}
}
