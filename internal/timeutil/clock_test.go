package timeutil

import (
	"testing"
	"time"
)

func TestRealClock(t *testing.T) {
	clock := RealClock{}
	before := time.Now()
	now := clock.Now()
	if now.Before(before) {
		t.Errorf("Now() = %v, expected at or after %v", now, before)
	}
	if d := clock.Since(time.Now().Add(-time.Second)); d < time.Second {
		t.Errorf("Since() returned %v, expected >= 1s", d)
	}
	if d := clock.Until(time.Now().Add(time.Hour)); d < 59*time.Minute {
		t.Errorf("Until() returned %v, expected >= 59m", d)
	}

	select {
	case <-clock.After(5 * time.Millisecond):
	case <-time.After(time.Second):
		t.Error("After did not fire")
	}

	ticker := clock.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	select {
	case <-ticker.C():
	case <-time.After(time.Second):
		t.Error("ticker did not fire")
	}
}

func TestMockClock_AfterFiresOnAdvance(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)

	ch := clock.After(10 * time.Second)
	if n := clock.Waiters(); n != 1 {
		t.Fatalf("Waiters() = %d, want 1", n)
	}
	clock.Advance(9 * time.Second)
	select {
	case <-ch:
		t.Fatal("fired early")
	default:
	}

	clock.Advance(time.Second)
	select {
	case got := <-ch:
		if !got.Equal(start.Add(10 * time.Second)) {
			t.Errorf("fired at %v", got)
		}
	default:
		t.Fatal("did not fire at deadline")
	}
	if n := clock.Waiters(); n != 0 {
		t.Errorf("Waiters() after firing = %d, want 0", n)
	}

	select {
	case <-clock.After(0):
	default:
		t.Error("zero duration should fire immediately")
	}
}

func TestMockClock_SleepIsRecorded(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	clock.Sleep(5 * time.Millisecond)
	clock.Sleep(15 * time.Millisecond)

	got := clock.Sleeps()
	if len(got) != 2 || got[0] != 5*time.Millisecond || got[1] != 15*time.Millisecond {
		t.Errorf("Sleeps() = %v", got)
	}
	if !clock.Now().Equal(time.Unix(0, 0)) {
		t.Error("Sleep should not advance the clock")
	}
}

func TestMockClock_SinceUntilSet(t *testing.T) {
	start := time.Unix(100, 0)
	clock := NewMockClock(start)
	clock.Advance(3 * time.Second)

	if d := clock.Since(start); d != 3*time.Second {
		t.Errorf("Since() = %v, want 3s", d)
	}
	if d := clock.Until(start.Add(10 * time.Second)); d != 7*time.Second {
		t.Errorf("Until() = %v, want 7s", d)
	}
	clock.Set(start)
	if !clock.Now().Equal(start) {
		t.Errorf("Set did not move the clock")
	}
}

func TestMockTicker(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	ticker := clock.NewTicker(time.Second)

	clock.Advance(500 * time.Millisecond)
	select {
	case <-ticker.C():
		t.Fatal("ticked early")
	default:
	}

	clock.Advance(500 * time.Millisecond)
	select {
	case <-ticker.C():
	default:
		t.Fatal("expected a tick")
	}

	// An unreceived tick is not queued twice.
	clock.Advance(time.Second)
	clock.Advance(time.Second)
	<-ticker.C()
	select {
	case <-ticker.C():
		t.Fatal("tick was queued twice")
	default:
	}

	ticker.Stop()
	clock.Advance(time.Second)
	select {
	case <-ticker.C():
		t.Fatal("stopped ticker fired")
	default:
	}

	mt := ticker.(*MockTicker)
	mt.Trigger(time.Unix(1, 0))
	if got := <-ticker.C(); !got.Equal(time.Unix(1, 0)) {
		t.Errorf("Trigger delivered %v", got)
	}
}

func TestMicros(t *testing.T) {
	if got := Micros(1500 * time.Microsecond); got != 1500 {
		t.Errorf("Micros() = %d, want 1500", got)
	}
	if got := Micros(-time.Second); got != 0 {
		t.Errorf("Micros(negative) = %d, want 0", got)
	}
	if got := FromMicros(2500); got != 2500*time.Microsecond {
		t.Errorf("FromMicros() = %v", got)
	}
}
