package dosing

import (
	"time"
)

// Channel identifies a regulated water parameter.
type Channel string

const (
	ChannelPH Channel = "ph"
	ChannelEC Channel = "ec"
)

// PumpRole describes what a pump dispenses.
//
// The engine picks candidate pumps by role: a pH correction uses the
// ph_up/ph_down pump depending on direction, an EC raise doses every
// nutrient pump in sequence.
type PumpRole string

const (
	RolePHUp     PumpRole = "ph_up"
	RolePHDown   PumpRole = "ph_down"
	RoleNutrient PumpRole = "nutrient"
)

// Target is the regulation band for one channel.
//
// Invariant: Min < Target < Max. Tolerance is half the band width; it is
// recomputed on every patch so the stored value can never drift from the
// Min/Max pair.
type Target struct {
	Min       float64 `json:"min"`
	Max       float64 `json:"max"`
	Target    float64 `json:"target"`
	Tolerance float64 `json:"tolerance"`
}

// PumpSpec describes one dosing pump.
//
// Dosing is fixed-volume: every actuation dispenses DoseAmountMl. The
// controller decides whether and which pump fires, never how much.
type PumpSpec struct {
	Role               PumpRole `json:"role"`
	Product            string   `json:"product,omitempty"`
	DoseAmountMl       float64  `json:"dose_amount_ml"`
	FlowRateMlPerSec   float64  `json:"flow_rate_ml_per_sec"`
	MinIntervalSeconds int      `json:"min_interval_seconds"`
	DailyLimitMl       float64  `json:"daily_limit_ml"`
}

// MinInterval returns the per-pump cooldown as a duration.
func (p PumpSpec) MinInterval() time.Duration {
	return time.Duration(p.MinIntervalSeconds) * time.Second
}

// PIDState holds the gains and the persisted integrator state of one
// channel's controller.
//
// A zero LastTime means the controller has not run yet; the first step
// only establishes the baseline and contributes no correction.
type PIDState struct {
	Kp            float64   `json:"kp"`
	Ki            float64   `json:"ki"`
	Kd            float64   `json:"kd"`
	IntegralLimit float64   `json:"integral_limit"`
	Integral      float64   `json:"integral"`
	LastError     float64   `json:"last_error"`
	LastTime      time.Time `json:"last_time,omitzero"`
}

// FaultState tracks consecutive actuation/sensor failures and the circuit
// breaker derived from them.
//
// CircuitOpen may only be true while the failure count has reached
// CircuitBreakerThreshold and the reset window since LastFailure has not
// elapsed; recovery is re-evaluated at the top of every cycle.
type FaultState struct {
	CurrentFailCount int       `json:"current_fail_count"`
	LastFailure      time.Time `json:"last_failure,omitzero"`
	CircuitOpen      bool      `json:"circuit_open"`

	MaxRetries              int     `json:"max_retries"`
	BackoffFactor           float64 `json:"backoff_factor"`
	BaseBackoffMs           int64   `json:"base_backoff_ms"`
	CircuitBreakerThreshold int     `json:"circuit_breaker_threshold"`
	CircuitBreakerResetMs   int64   `json:"circuit_breaker_reset_time_ms"`
}

// BaseBackoff returns the first-failure backoff as a duration.
func (f FaultState) BaseBackoff() time.Duration {
	return time.Duration(f.BaseBackoffMs) * time.Millisecond
}

// ResetWindow returns the circuit-breaker quarantine as a duration.
func (f FaultState) ResetWindow() time.Duration {
	return time.Duration(f.CircuitBreakerResetMs) * time.Millisecond
}

// Targets groups the per-channel regulation bands.
type Targets struct {
	PH Target `json:"ph"`
	EC Target `json:"ec"`
}

// PIDSet groups the per-channel controller states.
type PIDSet struct {
	PH PIDState `json:"ph"`
	EC PIDState `json:"ec"`
}

// Config is the dosing configuration and controller state that survives
// restarts. It is owned by the Engine: all mutation goes through the
// engine's public operations, persistence through the injected Store.
//
// All interval knobs are plain seconds to stay compatible with the
// on-disk shape of earlier controller generations.
type Config struct {
	Enabled bool `json:"enabled"`

	CheckIntervalSeconds    int `json:"check_interval"`
	DosingCooldownSeconds   int `json:"dosing_cooldown"`
	BetweenDoseDelaySeconds int `json:"between_dose_delay"`

	Targets Targets             `json:"targets"`
	Pumps   map[string]PumpSpec `json:"pumps"`
	PID     PIDSet              `json:"pid"`
	Fault   FaultState          `json:"fault"`

	LastDoseAt map[string]time.Time `json:"last_dose_at,omitempty"`

	HistorySize        int `json:"history_size"`
	ReadingHistorySize int `json:"reading_history_size"`
}

func (c Config) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalSeconds) * time.Second
}

func (c Config) DosingCooldown() time.Duration {
	return time.Duration(c.DosingCooldownSeconds) * time.Second
}

func (c Config) BetweenDoseDelay() time.Duration {
	return time.Duration(c.BetweenDoseDelaySeconds) * time.Second
}

// Clone returns a deep copy. Map fields are copied so a snapshot handed
// to a caller can never alias engine-owned state.
func (c Config) Clone() Config {
	cp := c
	if c.Pumps != nil {
		cp.Pumps = make(map[string]PumpSpec, len(c.Pumps))
		for k, v := range c.Pumps {
			cp.Pumps[k] = v
		}
	}
	if c.LastDoseAt != nil {
		cp.LastDoseAt = make(map[string]time.Time, len(c.LastDoseAt))
		for k, v := range c.LastDoseAt {
			cp.LastDoseAt[k] = v
		}
	}
	return cp
}

// Default pump names. They mirror the labels the pump hardware layer has
// always used, so existing configurations keep working.
const (
	PumpPHUp   = "pH Up"
	PumpPHDown = "pH Down"
)

// DefaultConfig returns the configuration used on a fresh install.
func DefaultConfig() Config {
	return Config{
		Enabled:                 false,
		CheckIntervalSeconds:    60,
		DosingCooldownSeconds:   300,
		BetweenDoseDelaySeconds: 30,
		Targets: Targets{
			PH: Target{Min: 5.8, Max: 6.2, Target: 6.0, Tolerance: 0.2},
			EC: Target{Min: 1.2, Max: 1.6, Target: 1.4, Tolerance: 0.2},
		},
		Pumps: map[string]PumpSpec{
			PumpPHUp: {
				Role: RolePHUp, DoseAmountMl: 0.5, FlowRateMlPerSec: 1.0,
				MinIntervalSeconds: 120, DailyLimitMl: 50,
			},
			PumpPHDown: {
				Role: RolePHDown, DoseAmountMl: 0.5, FlowRateMlPerSec: 1.0,
				MinIntervalSeconds: 120, DailyLimitMl: 50,
			},
			"Pump 1": {
				Role: RoleNutrient, Product: "Grow A", DoseAmountMl: 1.0, FlowRateMlPerSec: 1.0,
				MinIntervalSeconds: 300, DailyLimitMl: 100,
			},
			"Pump 2": {
				Role: RoleNutrient, Product: "Grow B", DoseAmountMl: 1.0, FlowRateMlPerSec: 1.0,
				MinIntervalSeconds: 300, DailyLimitMl: 100,
			},
		},
		PID: PIDSet{
			PH: PIDState{Kp: 1.0, Ki: 0.02, Kd: 0.005, IntegralLimit: 25},
			EC: PIDState{Kp: 1.0, Ki: 0.02, Kd: 0.005, IntegralLimit: 25},
		},
		Fault: FaultState{
			MaxRetries:              5,
			BackoffFactor:           2.0,
			BaseBackoffMs:           1000,
			CircuitBreakerThreshold: 5,
			CircuitBreakerResetMs:   5 * 60 * 1000,
		},
		HistorySize:        100,
		ReadingHistorySize: 1000,
	}
}

// RawReading is what a sensor source hands the validator. Nil pointers
// mark channels the source could not produce at all.
type RawReading struct {
	PH        *float64  `json:"ph"`
	EC        *float64  `json:"ec"`
	WaterTemp *float64  `json:"waterTemp"`
	At        time.Time `json:"-"`
}

// Reading is a fully validated sensor sample. Substituted flags mark
// channels that were repaired with the documented fallback value.
type Reading struct {
	PH            float64   `json:"ph"`
	EC            float64   `json:"ec"`
	WaterTemp     float64   `json:"waterTemp"`
	At            time.Time `json:"at"`
	PHSubstituted bool      `json:"ph_substituted,omitempty"`
	ECSubstituted bool      `json:"ec_substituted,omitempty"`
}

// DoseEvent records one completed pump actuation. Immutable once appended.
type DoseEvent struct {
	ID           uint64    `json:"id"`
	PumpID       string    `json:"pump"`
	AmountMl     float64   `json:"amount_ml"`
	Reason       string    `json:"reason"`
	CurrentValue float64   `json:"current_value"`
	TargetValue  float64   `json:"target_value"`
	Product      string    `json:"product,omitempty"`
	At           time.Time `json:"timestamp"`
}

// Action is the outcome class of one evaluation cycle.
type Action string

const (
	ActionDisabled Action = "disabled"
	ActionError    Action = "error"
	ActionWaiting  Action = "waiting"
	ActionDosed    Action = "dosed"
	ActionNone     Action = "none"
)

// Result is the typed outcome of Engine.Evaluate. Transient conditions
// (cooldown, lock busy, circuit open) are results, not errors; callers
// branch on Action.
type Result struct {
	Action Action `json:"action"`
	Reason string `json:"reason,omitempty"`

	// Events lists the doses performed this cycle (EC adjustment can
	// fire several nutrient pumps in sequence).
	Events []DoseEvent `json:"events,omitempty"`

	// RetryAfter is advisory: after a failure, callers should not
	// re-evaluate sooner than this. Zero means no constraint.
	RetryAfter time.Duration `json:"retry_after,omitempty"`

	Reading *Reading `json:"reading,omitempty"`
}

// Status is a point-in-time report for operators.
type Status struct {
	Enabled           bool          `json:"enabled"`
	CircuitOpen       bool          `json:"circuit_open"`
	FailCount         int           `json:"fail_count"`
	InCooldown        bool          `json:"in_cooldown"`
	CooldownRemaining time.Duration `json:"cooldown_remaining"`
	DosingInProgress  bool          `json:"dosing_in_progress"`
	LastCheckAt       time.Time     `json:"last_check_at,omitzero"`
	LastDoseAt        time.Time     `json:"last_dose_at,omitzero"`
	ShuttingDown      bool          `json:"shutting_down,omitempty"`
}
