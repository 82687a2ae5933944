package dosing

import (
	"errors"
	"fmt"
)

// Typed configuration patches. Partial updates arrive as pointer fields
// (nil = leave alone), are merged onto the current record, validated as
// a whole, and only then committed. An invalid patch changes nothing.

// ErrInvalidConfig marks a patch rejected at the configuration boundary.
var ErrInvalidConfig = errors.New("dosing: invalid configuration")

// TargetPatch is a partial update to one channel's regulation band.
// When Target is omitted but Min/Max move, the target is recentered to
// the band midpoint. Tolerance is always derived, never set directly.
type TargetPatch struct {
	Min    *float64 `json:"min,omitempty"`
	Max    *float64 `json:"max,omitempty"`
	Target *float64 `json:"target,omitempty"`
}

// PumpPatch is a partial update to one pump's spec.
type PumpPatch struct {
	Role               *PumpRole `json:"role,omitempty"`
	Product            *string   `json:"product,omitempty"`
	DoseAmountMl       *float64  `json:"dose_amount_ml,omitempty"`
	FlowRateMlPerSec   *float64  `json:"flow_rate_ml_per_sec,omitempty"`
	MinIntervalSeconds *int      `json:"min_interval_seconds,omitempty"`
	DailyLimitMl       *float64  `json:"daily_limit_ml,omitempty"`
}

// SettingsPatch is a partial update to the loop timing knobs.
type SettingsPatch struct {
	Enabled                 *bool `json:"enabled,omitempty"`
	CheckIntervalSeconds    *int  `json:"check_interval,omitempty"`
	DosingCooldownSeconds   *int  `json:"dosing_cooldown,omitempty"`
	BetweenDoseDelaySeconds *int  `json:"between_dose_delay,omitempty"`
}

func mergeTarget(cur Target, p TargetPatch) (Target, error) {
	next := cur
	if p.Min != nil {
		next.Min = *p.Min
	}
	if p.Max != nil {
		next.Max = *p.Max
	}
	switch {
	case p.Target != nil:
		next.Target = *p.Target
	case p.Min != nil || p.Max != nil:
		next.Target = next.Min + (next.Max-next.Min)/2
	}

	if next.Min >= next.Max {
		return Target{}, fmt.Errorf("%w: min %.3f must be below max %.3f", ErrInvalidConfig, next.Min, next.Max)
	}
	if next.Target <= next.Min || next.Target >= next.Max {
		return Target{}, fmt.Errorf("%w: target %.3f must sit strictly inside (%.3f, %.3f)",
			ErrInvalidConfig, next.Target, next.Min, next.Max)
	}
	next.Tolerance = (next.Max - next.Min) / 2
	return next, nil
}

func mergePump(cur PumpSpec, p PumpPatch) (PumpSpec, error) {
	next := cur
	if p.Role != nil {
		next.Role = *p.Role
	}
	if p.Product != nil {
		next.Product = *p.Product
	}
	if p.DoseAmountMl != nil {
		next.DoseAmountMl = *p.DoseAmountMl
	}
	if p.FlowRateMlPerSec != nil {
		next.FlowRateMlPerSec = *p.FlowRateMlPerSec
	}
	if p.MinIntervalSeconds != nil {
		next.MinIntervalSeconds = *p.MinIntervalSeconds
	}
	if p.DailyLimitMl != nil {
		next.DailyLimitMl = *p.DailyLimitMl
	}

	switch next.Role {
	case RolePHUp, RolePHDown, RoleNutrient:
	default:
		return PumpSpec{}, fmt.Errorf("%w: unknown pump role %q", ErrInvalidConfig, next.Role)
	}
	if next.DoseAmountMl <= 0 {
		return PumpSpec{}, fmt.Errorf("%w: dose amount must be positive", ErrInvalidConfig)
	}
	if next.FlowRateMlPerSec <= 0 {
		return PumpSpec{}, fmt.Errorf("%w: flow rate must be positive", ErrInvalidConfig)
	}
	if next.MinIntervalSeconds < 0 {
		return PumpSpec{}, fmt.Errorf("%w: min interval cannot be negative", ErrInvalidConfig)
	}
	if next.DailyLimitMl < 0 {
		return PumpSpec{}, fmt.Errorf("%w: daily limit cannot be negative", ErrInvalidConfig)
	}
	return next, nil
}

// ApplyTargetPatch validates and commits a band update for one channel.
// Returns the committed target.
func (e *Engine) ApplyTargetPatch(ch Channel, p TargetPatch) (Target, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var cur Target
	switch ch {
	case ChannelPH:
		cur = e.cfg.Targets.PH
	case ChannelEC:
		cur = e.cfg.Targets.EC
	default:
		return Target{}, fmt.Errorf("%w: unknown channel %q", ErrInvalidConfig, ch)
	}

	next, err := mergeTarget(cur, p)
	if err != nil {
		return Target{}, err
	}

	switch ch {
	case ChannelPH:
		e.cfg.Targets.PH = next
	case ChannelEC:
		e.cfg.Targets.EC = next
	}
	e.dirty = true
	return next, nil
}

// ApplyPumpPatch validates and commits a spec update for one pump. A
// patch for an unknown pump creates it, so new nutrient lines can be
// added at runtime.
func (e *Engine) ApplyPumpPatch(pumpID string, p PumpPatch) (PumpSpec, error) {
	if pumpID == "" {
		return PumpSpec{}, fmt.Errorf("%w: pump id is required", ErrInvalidConfig)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	next, err := mergePump(e.cfg.Pumps[pumpID], p)
	if err != nil {
		return PumpSpec{}, err
	}
	if e.cfg.Pumps == nil {
		e.cfg.Pumps = make(map[string]PumpSpec)
	}
	e.cfg.Pumps[pumpID] = next
	e.dirty = true
	return next, nil
}

// ApplySettingsPatch validates and commits loop timing updates.
func (e *Engine) ApplySettingsPatch(p SettingsPatch) (Config, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.cfg
	if p.Enabled != nil {
		next.Enabled = *p.Enabled
	}
	if p.CheckIntervalSeconds != nil {
		next.CheckIntervalSeconds = *p.CheckIntervalSeconds
	}
	if p.DosingCooldownSeconds != nil {
		next.DosingCooldownSeconds = *p.DosingCooldownSeconds
	}
	if p.BetweenDoseDelaySeconds != nil {
		next.BetweenDoseDelaySeconds = *p.BetweenDoseDelaySeconds
	}

	if next.CheckIntervalSeconds <= 0 {
		return Config{}, fmt.Errorf("%w: check interval must be positive", ErrInvalidConfig)
	}
	if next.DosingCooldownSeconds < 0 || next.BetweenDoseDelaySeconds < 0 {
		return Config{}, fmt.Errorf("%w: delays cannot be negative", ErrInvalidConfig)
	}

	e.cfg = next
	e.dirty = true
	return e.cfg.Clone(), nil
}
