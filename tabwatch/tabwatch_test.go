package tabwatch

import (
	"testing"
	"time"
)

func TestFocusTracker_FirstSampleFocused(t *testing.T) {
	var f focusTracker
	changed, now := f.observe(true)
	if changed {
		t.Fatal("initial focused sample must not fire")
	}
	if !now {
		t.Fatal("state lost")
	}
}

func TestFocusTracker_FirstSampleUnfocused(t *testing.T) {
	var f focusTracker
	changed, now := f.observe(false)
	if !changed || now {
		t.Fatalf("initial unfocused sample must fire: changed=%v now=%v", changed, now)
	}
}

func TestFocusTracker_ReportsFlipsOnly(t *testing.T) {
	var f focusTracker
	f.observe(true)

	samples := []bool{true, true, false, false, true}
	wantChanged := []bool{false, false, true, false, true}

	for i, s := range samples {
		changed, _ := f.observe(s)
		if changed != wantChanged[i] {
			t.Fatalf("sample %d (%v): changed=%v, want %v", i, s, changed, wantChanged[i])
		}
	}
}

func TestConfig_Defaults(t *testing.T) {
	c := Config{}
	c.applyDefaults()
	if c.PollInterval != time.Second {
		t.Fatalf("poll interval default: %v", c.PollInterval)
	}
	if c.Logger == nil {
		t.Fatal("logger default missing")
	}
}
