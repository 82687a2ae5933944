package dosing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/simcoreservers/nutetra/pkg/logx"
)

// SensorSource produces raw readings, from live hardware or from the
// simulation generator. The engine treats both identically: everything
// goes through ValidateReading before it is trusted.
type SensorSource interface {
	Read(ctx context.Context) (RawReading, error)
}

// Actuator drives the physical pumps. Any non-nil error counts as a
// fault-handler event.
type Actuator interface {
	Dispense(ctx context.Context, pumpID string, amountMl, flowRateMlPerSec float64) error
}

// Store persists the dosing configuration. A save failure is non-fatal
// to the in-memory decision; it is surfaced through SyncState so the
// caller can retry persistence.
type Store interface {
	Save(cfg Config) error
}

// DefaultWatchdogTimeout bounds how long one dosing cycle may hold the
// cycle lock before the sweep reclaims it.
const DefaultWatchdogTimeout = 2 * time.Minute

// Options wires an Engine.
type Options struct {
	Config   Config
	Source   SensorSource
	Actuator Actuator
	Store    Store // optional; nil disables persistence

	Clock           clockwork.Clock // optional; defaults to the wall clock
	Log             logx.Logger
	WatchdogTimeout time.Duration
}

// Engine is the dosing decision engine. It owns all mutable controller
// state: configuration, PID integrators, fault state, the cycle lock and
// the telemetry ledgers. One Engine regulates one reservoir.
type Engine struct {
	mu  sync.Mutex
	cfg Config

	// dirty marks in-memory state that has not been persisted yet.
	dirty       bool
	lastCheckAt time.Time

	lock     cycleLock
	doses    *doseLedger
	readings *readingLedger
	usage    *usageWindow

	src   SensorSource
	act   Actuator
	store Store

	clock    clockwork.Clock
	log      logx.Logger
	throttle *logx.Throttle
	watchdog time.Duration

	closed atomic.Bool
}

// New builds an Engine from Options. Source and Actuator are required.
func New(opts Options) (*Engine, error) {
	if opts.Source == nil {
		return nil, errors.New("dosing: sensor source is required")
	}
	if opts.Actuator == nil {
		return nil, errors.New("dosing: pump actuator is required")
	}
	clk := opts.Clock
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	wd := opts.WatchdogTimeout
	if wd <= 0 {
		wd = DefaultWatchdogTimeout
	}
	cfg := opts.Config
	if cfg.Pumps == nil {
		cfg = DefaultConfig()
	}
	if cfg.LastDoseAt == nil {
		cfg.LastDoseAt = make(map[string]time.Time)
	}

	return &Engine{
		cfg:      cfg,
		doses:    newDoseLedger(cfg.HistorySize),
		readings: newReadingLedger(cfg.ReadingHistorySize),
		usage:    newUsageWindow(24 * time.Hour),
		src:      opts.Source,
		act:      opts.Actuator,
		store:    opts.Store,
		clock:    clk,
		log:      log,
		throttle: logx.NewThrottle(2),
		watchdog: wd,
	}, nil
}

// plannedDose is one pump actuation the current cycle has committed to.
type plannedDose struct {
	pumpID string
	spec   PumpSpec
}

// dosePlan is the set of actuations one channel needs this cycle.
type dosePlan struct {
	channel Channel
	reason  string
	current float64
	target  float64
	pumps   []plannedDose
}

// Evaluate runs one dosing cycle: validate a reading, decide whether a
// channel needs correction, and fire the pumps if the path is fully
// clear. Every ambiguity (missing data, open circuit, contested lock,
// cooldown) resolves to "no dose".
func (e *Engine) Evaluate(ctx context.Context) Result {
	if e.closed.Load() {
		return Result{Action: ActionError, Reason: ErrShuttingDown.Error()}
	}
	now := e.clock.Now()

	// Steps 1-2: gates that need no sensor read and never take the lock.
	e.mu.Lock()
	e.lastCheckAt = now
	if !e.cfg.Enabled {
		e.mu.Unlock()
		return Result{Action: ActionDisabled, Reason: "auto dosing disabled"}
	}
	if e.cfg.Fault.CheckRecovery(now) {
		e.dirty = true
		e.log.Info("circuit breaker closed after quarantine; resuming dosing")
	}
	if e.cfg.Fault.Open(now) {
		remaining := e.cfg.Fault.ResetWindow() - now.Sub(e.cfg.Fault.LastFailure)
		e.mu.Unlock()
		return Result{Action: ActionError, Reason: "circuit open", RetryAfter: remaining}
	}
	e.mu.Unlock()

	// Step 3: acquire and validate a reading.
	raw, err := e.src.Read(ctx)
	if err != nil {
		return e.sensorFailure(fmt.Errorf("%w: %v", ErrSourceUnavailable, err))
	}
	reading, err := ValidateReading(raw, now)
	if err != nil {
		return e.sensorFailure(err)
	}
	if reading.PHSubstituted && e.throttle.Allow("ph-substituted") {
		e.log.Warn("pH channel invalid; substituted fallback",
			logx.Float64("fallback", FallbackPH))
	}
	if reading.ECSubstituted && e.throttle.Allow("ec-substituted") {
		e.log.Warn("EC channel invalid; substituted fallback",
			logx.Float64("fallback", FallbackEC))
	}
	e.readings.Append(reading)

	// Snapshot the configuration for the rest of the cycle so a
	// concurrent patch can never be observed half-applied.
	e.mu.Lock()
	cfg := e.cfg.Clone()
	e.mu.Unlock()

	// Global post-dose cooldown: after any dose, the reservoir gets
	// time to mix before the next decision.
	if last := latestDose(cfg.LastDoseAt); !last.IsZero() {
		if elapsed := now.Sub(last); elapsed < cfg.DosingCooldown() {
			return Result{
				Action:     ActionWaiting,
				Reason:     "cooling period",
				RetryAfter: cfg.DosingCooldown() - elapsed,
				Reading:    &reading,
			}
		}
	}

	// Step 4-5: per-channel evaluation. pH has priority; EC is only
	// dosed in a cycle where pH did not dose (deliberate serialization,
	// not incidental ordering). A pH pump in cooldown does not block an
	// independent EC correction.
	plan, wait := e.planPH(cfg, reading, now)
	if plan == nil {
		ecPlan, ecWait := e.planEC(cfg, reading, now)
		plan = ecPlan
		if wait == nil {
			wait = ecWait
		}
	}

	if plan == nil {
		if wait != nil {
			wait.Reading = &reading
			return *wait
		}
		return Result{Action: ActionNone, Reason: "within target range", Reading: &reading}
	}

	// Step 6: exclusive dosing phase.
	gen, ok := e.lock.TryAcquire(now, e.watchdog)
	if !ok {
		return Result{Action: ActionWaiting, Reason: "dosing in progress", Reading: &reading}
	}
	defer e.lock.Release(gen)

	// The cooldown gates above ran on the pre-lock snapshot; a
	// concurrent cycle may have dosed between the snapshot and the
	// acquire. Re-check against live last-dose state before actuating.
	if res := e.recheckPlan(cfg, plan, now); res != nil {
		res.Reading = &reading
		return *res
	}

	events, doseErr := e.runPlan(ctx, cfg, plan)
	done := e.clock.Now()

	if doseErr != nil {
		// Step 8: failed dispense feeds the fault handler.
		e.mu.Lock()
		backoff, opened := e.cfg.Fault.RecordFailure(done)
		if opened {
			e.cfg.PID.PH.Reset()
			e.cfg.PID.EC.Reset()
		}
		e.dirty = true
		fails := e.cfg.Fault.CurrentFailCount
		e.mu.Unlock()

		if opened {
			e.log.Error("circuit breaker opened; dosing suspended",
				logx.Int("fail_count", fails),
				logx.Err(doseErr))
		} else {
			e.log.Warn("dispense failed",
				logx.Int("fail_count", fails),
				logx.Duration("retry_after", backoff),
				logx.Err(doseErr))
		}
		return Result{
			Action:     ActionError,
			Reason:     doseErr.Error(),
			RetryAfter: backoff,
			Events:     events,
			Reading:    &reading,
		}
	}

	// Step 7: success. Commit controller state only now that the cycle
	// acted on the PID's output.
	e.mu.Lock()
	switch plan.channel {
	case ChannelPH:
		e.cfg.PID.PH.Step(plan.current, plan.target, done)
	case ChannelEC:
		e.cfg.PID.EC.Step(plan.current, plan.target, done)
	}
	e.cfg.Fault.RecordSuccess()
	e.dirty = true
	e.mu.Unlock()

	e.log.Info("dose complete",
		logx.String("channel", string(plan.channel)),
		logx.String("reason", plan.reason),
		logx.Int("doses", len(events)))

	return Result{Action: ActionDosed, Reason: plan.reason, Events: events, Reading: &reading}
}

// sensorFailure registers a critical acquisition fault (step 3) and
// evaluates the circuit-breaker transition. The cycle lock is never
// involved on this path.
func (e *Engine) sensorFailure(cause error) Result {
	now := e.clock.Now()

	e.mu.Lock()
	backoff, opened := e.cfg.Fault.RecordFailure(now)
	if opened {
		e.cfg.PID.PH.Reset()
		e.cfg.PID.EC.Reset()
	}
	e.dirty = true
	fails := e.cfg.Fault.CurrentFailCount
	e.mu.Unlock()

	if opened {
		e.log.Error("circuit breaker opened after sensor faults",
			logx.Int("fail_count", fails),
			logx.Err(cause))
	} else if e.throttle.Allow("sensor-fault") {
		e.log.Error("critical sensor fault", logx.Int("fail_count", fails), logx.Err(cause))
	}

	return Result{Action: ActionError, Reason: cause.Error(), RetryAfter: backoff}
}

// planPH decides whether pH needs a correction this cycle.
// Returns (plan, nil) when a dose should fire, (nil, waiting-result)
// when the channel is actionable but blocked, (nil, nil) when in range.
func (e *Engine) planPH(cfg Config, reading Reading, now time.Time) (*dosePlan, *Result) {
	t := cfg.Targets.PH
	if inBand(reading.PH, t) {
		return nil, nil
	}

	// Direction from the controller's preview; the committed step only
	// happens after a successful dose.
	correction := cfg.PID.PH.Preview(reading.PH, t.Target, now)
	raise := correction > 0
	if correction == 0 {
		raise = reading.PH < t.Target
	}

	role := RolePHDown
	verb := "lower"
	if raise {
		role = RolePHUp
		verb = "raise"
	}

	pumpID, spec, ok := pumpByRole(cfg.Pumps, role)
	if !ok {
		if e.throttle.Allow("ph-no-pump") {
			e.log.Warn("pH out of range but no pump configured",
				logx.String("direction", verb),
				logx.Float64("ph", reading.PH))
		}
		return nil, nil
	}

	if res := e.pumpBlocked(cfg, pumpID, spec, now); res != nil {
		return nil, res
	}

	return &dosePlan{
		channel: ChannelPH,
		reason:  "pH adjustment",
		current: reading.PH,
		target:  t.Target,
		pumps:   []plannedDose{{pumpID: pumpID, spec: spec}},
	}, nil
}

// planEC decides whether EC needs a correction. EC is only ever raised:
// an over-target reservoir needs a water change, which no pump can do.
func (e *Engine) planEC(cfg Config, reading Reading, now time.Time) (*dosePlan, *Result) {
	t := cfg.Targets.EC
	if reading.EC >= t.Target-t.Tolerance {
		if reading.EC > t.Target+t.Tolerance && e.throttle.Allow("ec-high") {
			e.log.Warn("EC above range; water change required",
				logx.Float64("ec", reading.EC),
				logx.Float64("max", t.Target+t.Tolerance))
		}
		return nil, nil
	}

	var pumps []plannedDose
	var blocked *Result
	for pumpID, spec := range cfg.Pumps {
		if spec.Role != RoleNutrient || spec.DoseAmountMl <= 0 {
			continue
		}
		if res := e.pumpBlocked(cfg, pumpID, spec, now); res != nil {
			blocked = res
			continue
		}
		pumps = append(pumps, plannedDose{pumpID: pumpID, spec: spec})
	}

	if len(pumps) == 0 {
		if blocked != nil {
			return nil, blocked
		}
		if e.throttle.Allow("ec-no-pump") {
			e.log.Warn("EC below range but no nutrient pump configured",
				logx.Float64("ec", reading.EC))
		}
		return nil, nil
	}

	// Deterministic dosing order regardless of map iteration.
	sortPlanned(pumps)

	return &dosePlan{
		channel: ChannelEC,
		reason:  "EC adjustment",
		current: reading.EC,
		target:  t.Target,
		pumps:   pumps,
	}, nil
}

// recheckPlan re-runs the cooldown gates once the cycle lock is held.
// Targets and pump specs stay snapshotted; LastDoseAt is engine-owned
// live state that a concurrent cycle may have advanced. Blocked pumps
// are dropped from the plan; a fully blocked plan yields its waiting
// result.
func (e *Engine) recheckPlan(cfg Config, plan *dosePlan, now time.Time) *Result {
	e.mu.Lock()
	live := make(map[string]time.Time, len(e.cfg.LastDoseAt))
	for k, v := range e.cfg.LastDoseAt {
		live[k] = v
	}
	e.mu.Unlock()
	cfg.LastDoseAt = live

	if last := latestDose(live); !last.IsZero() {
		if elapsed := now.Sub(last); elapsed < cfg.DosingCooldown() {
			return &Result{
				Action:     ActionWaiting,
				Reason:     "cooling period",
				RetryAfter: cfg.DosingCooldown() - elapsed,
			}
		}
	}

	kept := plan.pumps[:0]
	var blocked *Result
	for _, pd := range plan.pumps {
		if res := e.pumpBlocked(cfg, pd.pumpID, pd.spec, now); res != nil {
			blocked = res
			continue
		}
		kept = append(kept, pd)
	}
	plan.pumps = kept
	if len(plan.pumps) == 0 {
		if blocked == nil {
			blocked = &Result{Action: ActionWaiting, Reason: "cooling period"}
		}
		return blocked
	}
	return nil
}

// pumpBlocked checks the per-pump cooldown and the trailing-24h volume
// limit. A blocked pump yields a waiting result for its channel only;
// other channels are still evaluated independently.
func (e *Engine) pumpBlocked(cfg Config, pumpID string, spec PumpSpec, now time.Time) *Result {
	if last, ok := cfg.LastDoseAt[pumpID]; ok && !last.IsZero() {
		if elapsed := now.Sub(last); elapsed < spec.MinInterval() {
			return &Result{
				Action:     ActionWaiting,
				Reason:     "cooling period",
				RetryAfter: spec.MinInterval() - elapsed,
			}
		}
	}
	if spec.DailyLimitMl > 0 {
		used := e.usage.Total(pumpID, now)
		if used+spec.DoseAmountMl > spec.DailyLimitMl {
			if e.throttle.Allow("daily-limit-" + pumpID) {
				e.log.Warn("pump daily limit reached",
					logx.String("pump", pumpID),
					logx.Float64("dispensed_ml", used),
					logx.Float64("limit_ml", spec.DailyLimitMl))
			}
			return &Result{Action: ActionWaiting, Reason: "daily limit reached"}
		}
	}
	return nil
}

// runPlan fires the planned pumps in order while the cycle lock is
// held. EC plans pause between doses so each nutrient mixes before the
// next is added. Events for completed doses are returned even when a
// later dose fails.
func (e *Engine) runPlan(ctx context.Context, cfg Config, plan *dosePlan) ([]DoseEvent, error) {
	var events []DoseEvent
	for i, pd := range plan.pumps {
		if i > 0 && cfg.BetweenDoseDelay() > 0 {
			select {
			case <-ctx.Done():
				return events, ctx.Err()
			case <-e.clock.After(cfg.BetweenDoseDelay()):
			}
		}

		if err := e.act.Dispense(ctx, pd.pumpID, pd.spec.DoseAmountMl, pd.spec.FlowRateMlPerSec); err != nil {
			return events, &ActuatorFault{PumpID: pd.pumpID, Err: err}
		}

		now := e.clock.Now()
		ev := e.doses.Append(DoseEvent{
			PumpID:       pd.pumpID,
			AmountMl:     pd.spec.DoseAmountMl,
			Reason:       plan.reason,
			CurrentValue: plan.current,
			TargetValue:  plan.target,
			Product:      pd.spec.Product,
			At:           now,
		})
		events = append(events, ev)
		e.usage.Add(pd.pumpID, now, pd.spec.DoseAmountMl)

		e.mu.Lock()
		if e.cfg.LastDoseAt == nil {
			e.cfg.LastDoseAt = make(map[string]time.Time)
		}
		e.cfg.LastDoseAt[pd.pumpID] = now
		e.dirty = true
		e.mu.Unlock()

		e.log.Info("dispensed",
			logx.String("pump", pd.pumpID),
			logx.Float64("amount_ml", pd.spec.DoseAmountMl),
			logx.String("reason", plan.reason),
			logx.Float64("current", plan.current),
			logx.Float64("target", plan.target))
	}
	return events, nil
}

// SweepLock is the watchdog: it force-releases a cycle lock whose
// holder outlived its deadline. The engine's own scheduling calls this
// periodically; it reports whether a lock was reaped.
func (e *Engine) SweepLock() bool {
	now := e.clock.Now()
	heldFor, ok := e.lock.Sweep(now)
	if ok {
		e.log.Error("watchdog force-released stuck dosing lock",
			logx.Duration("held_for", heldFor),
			logx.Duration("timeout", e.watchdog))
	}
	return ok
}

// SyncState persists the configuration when in-memory state has changed
// since the last successful save. Nil store means nothing to do.
func (e *Engine) SyncState() error {
	if e.store == nil {
		return nil
	}
	e.mu.Lock()
	if !e.dirty {
		e.mu.Unlock()
		return nil
	}
	cfg := e.cfg.Clone()
	e.mu.Unlock()

	if err := e.store.Save(cfg); err != nil {
		return fmt.Errorf("persist dosing state: %w", err)
	}

	e.mu.Lock()
	e.dirty = false
	e.mu.Unlock()
	return nil
}

// Config returns a deep snapshot of the current configuration.
func (e *Engine) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.Clone()
}

// SetEnabled toggles dosing. Disabling never interrupts an in-flight
// dispense; it only prevents new cycles from acting.
func (e *Engine) SetEnabled(enabled bool) {
	e.mu.Lock()
	if e.cfg.Enabled != enabled {
		e.cfg.Enabled = enabled
		e.dirty = true
	}
	e.mu.Unlock()
	e.log.Info("auto dosing toggled", logx.Bool("enabled", enabled))
}

// ResetFaults clears the failure streak and closes the circuit. The PID
// integrators are reset with it so quarantined windup cannot carry over.
func (e *Engine) ResetFaults() {
	e.mu.Lock()
	e.cfg.Fault.Reset()
	e.cfg.PID.PH.Reset()
	e.cfg.PID.EC.Reset()
	e.dirty = true
	e.mu.Unlock()
	e.log.Info("fault state reset")
}

// SeedDoses primes the dose ledger and the daily-limit accounting from
// durable history at startup, so both survive restarts. It only applies
// to an empty ledger; incoming IDs are discarded and reassigned.
func (e *Engine) SeedDoses(events []DoseEvent) {
	if len(events) == 0 || e.doses.Len() > 0 {
		return
	}
	sorted := append([]DoseEvent(nil), events...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].At.Before(sorted[j].At) })
	for _, ev := range sorted {
		e.doses.Append(ev)
		e.usage.Add(ev.PumpID, ev.At, ev.AmountMl)
	}
}

// History returns up to limit dose events, newest first.
func (e *Engine) History(limit int) []DoseEvent { return e.doses.Recent(limit) }

// ReadingHistory returns up to limit validated readings, newest first.
func (e *Engine) ReadingHistory(limit int) []Reading { return e.readings.Recent(limit) }

// Status reports the controller's current operational state.
func (e *Engine) Status() Status {
	now := e.clock.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	st := Status{
		Enabled:          e.cfg.Enabled,
		CircuitOpen:      e.cfg.Fault.Open(now),
		FailCount:        e.cfg.Fault.CurrentFailCount,
		DosingInProgress: e.lock.Held(),
		LastCheckAt:      e.lastCheckAt,
		LastDoseAt:       latestDose(e.cfg.LastDoseAt),
		ShuttingDown:     e.closed.Load(),
	}
	if !st.LastDoseAt.IsZero() {
		if elapsed := now.Sub(st.LastDoseAt); elapsed < e.cfg.DosingCooldown() {
			st.InCooldown = true
			st.CooldownRemaining = e.cfg.DosingCooldown() - elapsed
		}
	}
	return st
}

// Close rejects new evaluations. In-flight dispense calls are allowed
// to complete; a physical pump is never aborted mid-stroke.
func (e *Engine) Close() {
	if e.closed.CompareAndSwap(false, true) {
		e.log.Info("dosing engine closed")
	}
}

// ---- helpers ----

func inBand(v float64, t Target) bool {
	return v >= t.Target-t.Tolerance && v <= t.Target+t.Tolerance
}

func pumpByRole(pumps map[string]PumpSpec, role PumpRole) (string, PumpSpec, bool) {
	var bestID string
	var bestSpec PumpSpec
	found := false
	for id, spec := range pumps {
		if spec.Role != role {
			continue
		}
		// Deterministic pick when several pumps share a role.
		if !found || id < bestID {
			bestID, bestSpec, found = id, spec, true
		}
	}
	return bestID, bestSpec, found
}

func latestDose(lastDoseAt map[string]time.Time) time.Time {
	var latest time.Time
	for _, ts := range lastDoseAt {
		if ts.After(latest) {
			latest = ts
		}
	}
	return latest
}

func sortPlanned(pumps []plannedDose) {
	sort.Slice(pumps, func(i, j int) bool { return pumps[i].pumpID < pumps[j].pumpID })
}
