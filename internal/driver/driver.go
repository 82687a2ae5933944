// Package driver runs the dosing engine on a schedule: the periodic
// check at the configured interval, the watchdog sweep, durable
// mirroring of cycle output, and state persistence with retry.
package driver

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/robfig/cron/v3"

	"github.com/simcoreservers/nutetra/internal/dosing"
	"github.com/simcoreservers/nutetra/internal/storage"
	"github.com/simcoreservers/nutetra/pkg/logx"
)

const (
	defaultSweepInterval = 30 * time.Second
	defaultTriggerBuffer = 4

	// persistence retry envelope per cycle
	saveRetryInitial = 500 * time.Millisecond
	saveRetryMax     = 10 * time.Second
	saveRetryBudget  = 30 * time.Second
)

type Options struct {
	Engine *dosing.Engine
	Store  storage.Store // optional telemetry mirror
	Log    logx.Logger

	SweepInterval time.Duration
	TriggerBuffer int
}

// Service owns the evaluation loop. All cycles, scheduled and manual,
// funnel through one goroutine so storage mirroring and state saves
// never interleave.
type Service struct {
	eng   *dosing.Engine
	store storage.Store
	log   logx.Logger

	sweepInterval time.Duration
	trigger       chan struct{}

	mu            sync.Mutex
	c             *cron.Cron
	checkEntry    cron.EntryID
	checkInterval time.Duration
}

func New(opts Options) *Service {
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	sweep := opts.SweepInterval
	if sweep <= 0 {
		sweep = defaultSweepInterval
	}
	buf := opts.TriggerBuffer
	if buf <= 0 {
		buf = defaultTriggerBuffer
	}
	return &Service{
		eng:           opts.Engine,
		store:         opts.Store,
		log:           log,
		sweepInterval: sweep,
		trigger:       make(chan struct{}, buf),
	}
}

// Trigger requests an immediate evaluation (operator action, sensor
// event). Non-blocking; a full queue means one is already pending.
func (s *Service) Trigger() bool {
	select {
	case s.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Run blocks until ctx is done. It starts the cron jobs, performs one
// immediate evaluation, then serves scheduled and manual triggers.
func (s *Service) Run(ctx context.Context) error {
	interval := s.eng.Config().CheckInterval()

	s.mu.Lock()
	s.c = cron.New()
	s.checkInterval = interval
	id, err := s.c.AddFunc(everySpec(interval), func() { s.Trigger() })
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.checkEntry = id
	if _, err := s.c.AddFunc(everySpec(s.sweepInterval), s.sweep); err != nil {
		s.mu.Unlock()
		return err
	}
	s.c.Start()
	s.mu.Unlock()

	s.log.Info("driver started",
		logx.Duration("check_interval", interval),
		logx.Duration("sweep_interval", s.sweepInterval))

	s.seedHistory(ctx)
	s.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			s.stop()
			return nil
		case <-s.trigger:
			s.runCycle(ctx)
			s.rescheduleIfChanged()
		}
	}
}

func (s *Service) stop() {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
	s.log.Info("driver stopped")
}

// seedHistory primes the engine's dose ledger and daily-limit
// accounting from the durable mirror, so a restart does not forget what
// was dispensed earlier in the day. Failures are logged and skipped;
// the engine just starts with an empty ledger as before.
func (s *Service) seedHistory(ctx context.Context) {
	if s.store == nil {
		return
	}
	limit := s.eng.Config().HistorySize
	rows, err := s.store.RecentDoses(ctx, limit)
	if err != nil {
		s.log.Warn("dose history seed failed", logx.Err(err))
		return
	}
	if len(rows) == 0 {
		return
	}
	events := make([]dosing.DoseEvent, 0, len(rows))
	for _, r := range rows {
		events = append(events, dosing.DoseEvent{
			PumpID:       r.PumpID,
			AmountMl:     r.AmountMl,
			Reason:       r.Reason,
			CurrentValue: r.CurrentValue,
			TargetValue:  r.TargetValue,
			Product:      r.Product,
			At:           r.At,
		})
	}
	s.eng.SeedDoses(events)
	s.log.Info("dose history seeded from storage", logx.Int("events", len(events)))
}

func (s *Service) sweep() {
	if s.eng.SweepLock() {
		// The reclaimed cycle left the system mid-dose; re-check soon.
		s.Trigger()
	}
}

// rescheduleIfChanged re-registers the periodic check when a settings
// patch changed the interval.
func (s *Service) rescheduleIfChanged() {
	interval := s.eng.Config().CheckInterval()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil || interval <= 0 || interval == s.checkInterval {
		return
	}
	s.c.Remove(s.checkEntry)
	id, err := s.c.AddFunc(everySpec(interval), func() { s.Trigger() })
	if err != nil {
		s.log.Error("failed to reschedule check job", logx.Err(err))
		return
	}
	s.checkEntry = id
	s.checkInterval = interval
	s.log.Info("check interval changed", logx.Duration("check_interval", interval))
}

func (s *Service) runCycle(ctx context.Context) {
	res := s.eng.Evaluate(ctx)

	switch res.Action {
	case dosing.ActionDosed:
		for _, ev := range res.Events {
			s.log.Info("dose dispensed",
				logx.String("pump", ev.PumpID),
				logx.Float64("amount_ml", ev.AmountMl),
				logx.String("reason", ev.Reason),
				logx.Float64("current", ev.CurrentValue),
				logx.Float64("target", ev.TargetValue))
		}
	case dosing.ActionError:
		s.log.Error("dosing cycle failed",
			logx.String("reason", res.Reason),
			logx.Duration("retry_after", res.RetryAfter))
	case dosing.ActionWaiting:
		s.log.Debug("dosing cycle waiting",
			logx.String("reason", res.Reason),
			logx.Duration("retry_after", res.RetryAfter))
	default:
		s.log.Debug("dosing cycle idle", logx.String("action", string(res.Action)))
	}

	s.mirror(ctx, res)
	s.persist(ctx)
}

// mirror copies cycle output into the durable store. Mirror failures
// are logged and dropped; the in-memory ledgers remain authoritative
// for live reads.
func (s *Service) mirror(ctx context.Context, res dosing.Result) {
	if s.store == nil {
		return
	}
	if r := res.Reading; r != nil {
		err := s.store.AppendReading(ctx, storage.ReadingRow{
			At:            r.At,
			PH:            r.PH,
			EC:            r.EC,
			WaterTemp:     r.WaterTemp,
			PHSubstituted: r.PHSubstituted,
			ECSubstituted: r.ECSubstituted,
		})
		if err != nil {
			s.log.Warn("reading mirror failed", logx.Err(err))
		}
	}
	for _, ev := range res.Events {
		err := s.store.AppendDose(ctx, storage.DoseRow{
			At:           ev.At,
			PumpID:       ev.PumpID,
			AmountMl:     ev.AmountMl,
			Reason:       ev.Reason,
			CurrentValue: ev.CurrentValue,
			TargetValue:  ev.TargetValue,
			Product:      ev.Product,
		})
		if err != nil {
			s.log.Warn("dose mirror failed", logx.Err(err), logx.String("pump", ev.PumpID))
		}
	}
}

// persist flushes dirty engine state with bounded exponential retry.
// A save failure never blocks the next cycle past the retry budget;
// the state stays dirty and the next cycle tries again.
func (s *Service) persist(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = saveRetryInitial
	bo.MaxInterval = saveRetryMax
	bo.MaxElapsedTime = saveRetryBudget

	err := backoff.Retry(func() error {
		return s.eng.SyncState()
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		s.log.Error("state persistence failed; will retry next cycle", logx.Err(err))
	}
}

func everySpec(d time.Duration) string {
	secs := int(d / time.Second)
	if secs < 1 {
		secs = 1
	}
	return "@every " + strconv.Itoa(secs) + "s"
}
