package sensor

import (
	"context"
	"math/rand"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/simcoreservers/nutetra/internal/dosing"
)

// SimConfig tunes the simulated reservoir.
type SimConfig struct {
	// Baselines the walk is pulled back towards.
	PH        float64 `json:"ph"`
	EC        float64 `json:"ec"`
	WaterTemp float64 `json:"water_temp"`

	// Jitter is the per-read noise amplitude (absolute units).
	Jitter float64 `json:"jitter"`

	// Pull is the fraction of the distance to baseline recovered per
	// read. Models the reservoir slowly re-equilibrating.
	Pull float64 `json:"pull"`

	// DropoutRate is the per-channel probability that a read omits the
	// channel entirely, for exercising the validator's fallback path.
	DropoutRate float64 `json:"dropout_rate"`

	// Seed fixes the random walk for reproducible runs. Zero seeds
	// from entropy.
	Seed int64 `json:"seed,omitempty"`
}

// DefaultSimConfig is a healthy lettuce reservoir.
func DefaultSimConfig() SimConfig {
	return SimConfig{PH: 6.0, EC: 1.4, WaterTemp: 21.0, Jitter: 0.05, Pull: 0.1}
}

// Simulator generates plausible sensor telemetry as a mean-reverting
// random walk around the configured baselines. Its output is still run
// through the engine's validator, so a simulated excursion out of
// physical range is rejected the same way a real sensor glitch is.
type Simulator struct {
	mu    sync.Mutex
	cfg   SimConfig
	rng   *rand.Rand
	clock clockwork.Clock

	ph, ec, temp float64
}

// NewSimulator builds a Simulator starting at the configured baselines.
func NewSimulator(cfg SimConfig, clock clockwork.Clock) *Simulator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = clock.Now().UnixNano()
	}
	return &Simulator{
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(seed)),
		clock: clock,
		ph:    cfg.PH,
		ec:    cfg.EC,
		temp:  cfg.WaterTemp,
	}
}

// Read advances the walk one step and returns the sample. It never
// fails; dropouts surface as missing channels instead.
func (s *Simulator) Read(ctx context.Context) (dosing.RawReading, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	step := func(cur, baseline float64) float64 {
		return cur + (baseline-cur)*s.cfg.Pull + s.rng.NormFloat64()*s.cfg.Jitter
	}
	s.ph = step(s.ph, s.cfg.PH)
	s.ec = step(s.ec, s.cfg.EC)
	s.temp = step(s.temp, s.cfg.WaterTemp)

	raw := dosing.RawReading{At: s.clock.Now()}
	if !s.dropped() {
		v := s.ph
		raw.PH = &v
	}
	if !s.dropped() {
		v := s.ec
		raw.EC = &v
	}
	if !s.dropped() {
		v := s.temp
		raw.WaterTemp = &v
	}
	return raw, nil
}

// Drift nudges a channel away from baseline, used by development rigs
// to provoke a dosing reaction on demand.
func (s *Simulator) Drift(ch dosing.Channel, delta float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch ch {
	case dosing.ChannelPH:
		s.ph += delta
	case dosing.ChannelEC:
		s.ec += delta
	}
}

func (s *Simulator) dropped() bool {
	return s.cfg.DropoutRate > 0 && s.rng.Float64() < s.cfg.DropoutRate
}
