package logx

import "testing"

func TestThrottleFirstEventPasses(t *testing.T) {
	th := NewThrottle(2)
	if !th.Allow("ph-substituted") {
		t.Fatalf("first event was throttled")
	}
	if th.Allow("ph-substituted") {
		t.Fatalf("immediate repeat was not throttled")
	}
}

func TestThrottleKeysAreIndependent(t *testing.T) {
	th := NewThrottle(1)
	if !th.Allow("a") {
		t.Fatalf("first event for key a throttled")
	}
	if !th.Allow("b") {
		t.Fatalf("fresh key b throttled by key a's budget")
	}
}

func TestThrottleNilAllowsEverything(t *testing.T) {
	var th *Throttle
	for i := 0; i < 10; i++ {
		if !th.Allow("x") {
			t.Fatalf("nil throttle blocked an event")
		}
	}
}
