package sensor

import (
	"context"
	"testing"

	"github.com/jonboulle/clockwork"

	"github.com/simcoreservers/nutetra/internal/dosing"
)

func TestSimulatorStaysNearBaselines(t *testing.T) {
	cfg := DefaultSimConfig()
	cfg.Seed = 42
	s := NewSimulator(cfg, clockwork.NewFakeClock())
	ctx := context.Background()

	for i := 0; i < 200; i++ {
		raw, err := s.Read(ctx)
		if err != nil {
			t.Fatalf("Read %d: %v", i, err)
		}
		if raw.PH == nil || raw.EC == nil || raw.WaterTemp == nil {
			t.Fatalf("read %d dropped a channel with zero dropout rate", i)
		}
		if *raw.PH < 5.0 || *raw.PH > 7.0 {
			t.Fatalf("read %d: pH %v wandered off baseline %v", i, *raw.PH, cfg.PH)
		}
		if *raw.EC < 0.8 || *raw.EC > 2.0 {
			t.Fatalf("read %d: EC %v wandered off baseline %v", i, *raw.EC, cfg.EC)
		}
	}
}

func TestSimulatorDeterministicWithSeed(t *testing.T) {
	cfg := DefaultSimConfig()
	cfg.Seed = 7
	clock := clockwork.NewFakeClock()
	a := NewSimulator(cfg, clock)
	b := NewSimulator(cfg, clock)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		ra, _ := a.Read(ctx)
		rb, _ := b.Read(ctx)
		if *ra.PH != *rb.PH || *ra.EC != *rb.EC {
			t.Fatalf("read %d diverged: %v/%v vs %v/%v", i, *ra.PH, *ra.EC, *rb.PH, *rb.EC)
		}
	}
}

func TestSimulatorDrift(t *testing.T) {
	cfg := DefaultSimConfig()
	cfg.Seed = 1
	cfg.Jitter = 0 // isolate the drift
	s := NewSimulator(cfg, clockwork.NewFakeClock())
	ctx := context.Background()

	s.Drift(dosing.ChannelPH, 1.5)
	raw, err := s.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if *raw.PH <= cfg.PH+1.0 {
		t.Fatalf("drifted pH %v did not move off baseline %v", *raw.PH, cfg.PH)
	}

	// The mean reversion pulls it back over time.
	var last float64
	for i := 0; i < 100; i++ {
		r, _ := s.Read(ctx)
		last = *r.PH
	}
	if last > cfg.PH+0.1 {
		t.Fatalf("pH %v never reverted towards baseline %v", last, cfg.PH)
	}
}

func TestSimulatorDropout(t *testing.T) {
	cfg := DefaultSimConfig()
	cfg.Seed = 3
	cfg.DropoutRate = 1.0
	s := NewSimulator(cfg, clockwork.NewFakeClock())

	raw, err := s.Read(context.Background())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if raw.PH != nil || raw.EC != nil || raw.WaterTemp != nil {
		t.Fatalf("full dropout still produced channels: %+v", raw)
	}
	// The validator turns this into a critical fault.
	if _, err := dosing.ValidateReading(raw, raw.At); err == nil {
		t.Fatalf("dropped sample passed validation")
	}
}

func TestSimulatorOutputPassesValidation(t *testing.T) {
	cfg := DefaultSimConfig()
	cfg.Seed = 9
	s := NewSimulator(cfg, clockwork.NewFakeClock())
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		raw, _ := s.Read(ctx)
		r, err := dosing.ValidateReading(raw, raw.At)
		if err != nil {
			t.Fatalf("read %d rejected: %v", i, err)
		}
		if r.PHSubstituted || r.ECSubstituted {
			t.Fatalf("read %d substituted: %+v", i, r)
		}
	}
}
