package dosing

import (
	"errors"
	"testing"
)

func TestApplyTargetPatchRecentersTarget(t *testing.T) {
	eng, _, _, _ := newTestEngine(t, nil)

	got, err := eng.ApplyTargetPatch(ChannelPH, TargetPatch{Min: fp(6.0), Max: fp(7.0)})
	if err != nil {
		t.Fatalf("ApplyTargetPatch: %v", err)
	}
	if got.Target != 6.5 {
		t.Fatalf("target = %v, want recentered 6.5", got.Target)
	}
	if got.Tolerance != 0.5 {
		t.Fatalf("tolerance = %v, want derived 0.5", got.Tolerance)
	}
	if cfg := eng.Config(); cfg.Targets.PH != got {
		t.Fatalf("committed target %+v differs from returned %+v", cfg.Targets.PH, got)
	}
}

func TestApplyTargetPatchExplicitTarget(t *testing.T) {
	eng, _, _, _ := newTestEngine(t, nil)

	got, err := eng.ApplyTargetPatch(ChannelEC, TargetPatch{Min: fp(1.0), Max: fp(2.0), Target: fp(1.8)})
	if err != nil {
		t.Fatalf("ApplyTargetPatch: %v", err)
	}
	if got.Target != 1.8 {
		t.Fatalf("explicit target overridden: %v", got.Target)
	}
}

func TestApplyTargetPatchRejectsInvalidBand(t *testing.T) {
	eng, _, _, _ := newTestEngine(t, nil)
	before := eng.Config().Targets.PH

	cases := []TargetPatch{
		{Min: fp(7.0), Max: fp(6.0)},             // inverted
		{Min: fp(6.0), Max: fp(6.0)},             // empty band
		{Target: fp(9.0)},                        // outside current band
		{Min: fp(6.0), Max: fp(7.0), Target: fp(6.0)}, // on the edge
	}
	for i, p := range cases {
		if _, err := eng.ApplyTargetPatch(ChannelPH, p); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("case %d: err = %v, want ErrInvalidConfig", i, err)
		}
	}
	if eng.Config().Targets.PH != before {
		t.Fatalf("rejected patch mutated the target")
	}
}

func TestApplyTargetPatchUnknownChannel(t *testing.T) {
	eng, _, _, _ := newTestEngine(t, nil)
	if _, err := eng.ApplyTargetPatch(Channel("orp"), TargetPatch{}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}
}

func TestApplyPumpPatchUpdatesSpec(t *testing.T) {
	eng, _, _, _ := newTestEngine(t, nil)

	got, err := eng.ApplyPumpPatch("Pump 1", PumpPatch{DoseAmountMl: fp(2.5), MinIntervalSeconds: ip(600)})
	if err != nil {
		t.Fatalf("ApplyPumpPatch: %v", err)
	}
	if got.DoseAmountMl != 2.5 || got.MinIntervalSeconds != 600 {
		t.Fatalf("patch not applied: %+v", got)
	}
	if got.Role != RoleNutrient || got.Product != "Grow A" {
		t.Fatalf("untouched fields changed: %+v", got)
	}
}

func TestApplyPumpPatchCreatesNewPump(t *testing.T) {
	eng, _, _, _ := newTestEngine(t, nil)

	role := RoleNutrient
	got, err := eng.ApplyPumpPatch("Pump 3", PumpPatch{
		Role:             &role,
		Product:          sp("Bloom"),
		DoseAmountMl:     fp(1.0),
		FlowRateMlPerSec: fp(1.5),
	})
	if err != nil {
		t.Fatalf("ApplyPumpPatch: %v", err)
	}
	if got.Product != "Bloom" {
		t.Fatalf("new pump spec wrong: %+v", got)
	}
	if _, ok := eng.Config().Pumps["Pump 3"]; !ok {
		t.Fatalf("new pump not committed")
	}
}

func TestApplyPumpPatchRejectsInvalidSpec(t *testing.T) {
	eng, _, _, _ := newTestEngine(t, nil)
	badRole := PumpRole("drain")

	cases := []struct {
		id string
		p  PumpPatch
	}{
		{"", PumpPatch{}},
		{"Pump 1", PumpPatch{Role: &badRole}},
		{"Pump 1", PumpPatch{DoseAmountMl: fp(0)}},
		{"Pump 1", PumpPatch{DoseAmountMl: fp(-1)}},
		{"Pump 1", PumpPatch{FlowRateMlPerSec: fp(0)}},
		{"Pump 1", PumpPatch{MinIntervalSeconds: ip(-1)}},
		{"Pump 1", PumpPatch{DailyLimitMl: fp(-5)}},
	}
	before := eng.Config().Pumps["Pump 1"]
	for i, tc := range cases {
		if _, err := eng.ApplyPumpPatch(tc.id, tc.p); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("case %d: err = %v, want ErrInvalidConfig", i, err)
		}
	}
	if eng.Config().Pumps["Pump 1"] != before {
		t.Fatalf("rejected patch mutated the pump")
	}
}

func TestApplySettingsPatch(t *testing.T) {
	eng, _, _, _ := newTestEngine(t, nil)

	got, err := eng.ApplySettingsPatch(SettingsPatch{
		CheckIntervalSeconds:  ip(30),
		DosingCooldownSeconds: ip(120),
	})
	if err != nil {
		t.Fatalf("ApplySettingsPatch: %v", err)
	}
	if got.CheckIntervalSeconds != 30 || got.DosingCooldownSeconds != 120 {
		t.Fatalf("patch not applied: check=%d cooldown=%d", got.CheckIntervalSeconds, got.DosingCooldownSeconds)
	}

	if _, err := eng.ApplySettingsPatch(SettingsPatch{CheckIntervalSeconds: ip(0)}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("zero check interval accepted: %v", err)
	}
	if _, err := eng.ApplySettingsPatch(SettingsPatch{DosingCooldownSeconds: ip(-1)}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("negative cooldown accepted: %v", err)
	}
	if eng.Config().CheckIntervalSeconds != 30 {
		t.Fatalf("rejected patch mutated settings")
	}
}

func ip(v int) *int { return &v }
func sp(v string) *string { return &v }
