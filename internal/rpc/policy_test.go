package rpc

import (
	"testing"
	"time"
)

func TestDelayForAttemptDoubles(t *testing.T) {
	p := ReconnectPolicy{
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}
	for attempt, expected := range want {
		if got := p.DelayForAttempt(attempt); got != expected {
			t.Fatalf("attempt %d: got %v, want %v", attempt, got, expected)
		}
	}
}

func TestDelayForAttemptCapped(t *testing.T) {
	p := ReconnectPolicy{
		InitialDelay: time.Second,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	}
	if got := p.DelayForAttempt(10); got != 5*time.Second {
		t.Fatalf("got %v, want cap of 5s", got)
	}
}

func TestDelayForAttemptJitterBounds(t *testing.T) {
	p := ReconnectPolicy{
		InitialDelay:   10 * time.Second,
		MaxDelay:       10 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
	}
	seen := make(map[time.Duration]bool)
	for i := 0; i < 100; i++ {
		d := p.DelayForAttempt(0)
		if d < 9*time.Second || d > 11*time.Second {
			t.Fatalf("delay %v outside jitter bounds [9s, 11s]", d)
		}
		seen[d] = true
	}
	if len(seen) == 1 {
		t.Fatal("expected jittered delays to vary")
	}
}

func TestDelayForAttemptNeverNegative(t *testing.T) {
	p := ReconnectPolicy{
		InitialDelay:   time.Millisecond,
		MaxDelay:       time.Millisecond,
		Multiplier:     2.0,
		JitterFraction: 1.0,
	}
	for i := 0; i < 100; i++ {
		if d := p.DelayForAttempt(0); d < 0 {
			t.Fatalf("negative delay %v", d)
		}
	}
}
