package voice

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
	// Let a few poll ticks observe the new time.
	time.Sleep(15 * time.Millisecond)
}

func testWatchdogConfig() WatchdogConfig {
	return WatchdogConfig{
		MaxSilence:       30 * time.Second,
		ReminderInterval: 10 * time.Second,
		Interval:         2 * time.Millisecond,
	}
}

func TestWatchdogRemindsThenTerminatesOnce(t *testing.T) {
	clock := newFakeClock()
	state := newCallState(clock.Now())

	var reminders, terminates atomic.Int64
	w := NewWatchdog(testWatchdogConfig(), state, nil,
		func() { reminders.Add(1) },
		func() { terminates.Add(1) },
		nil)

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background(), clock.Now) }()

	clock.Advance(11 * time.Second)
	clock.Advance(10 * time.Second)
	clock.Advance(10 * time.Second) // 31s idle, past the limit

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("watchdog never terminated the call")
	}
	if got := terminates.Load(); got != 1 {
		t.Fatalf("terminations = %d, want exactly 1", got)
	}
	if got := reminders.Load(); got != 2 {
		t.Fatalf("reminders = %d, want 2", got)
	}
}

func TestWatchdogCallerSpeechResetsIdle(t *testing.T) {
	clock := newFakeClock()
	state := newCallState(clock.Now())

	var reminders atomic.Int64
	terminated := make(chan struct{}, 1)
	w := NewWatchdog(testWatchdogConfig(), state, nil,
		func() { reminders.Add(1) },
		func() { terminated <- struct{}{} },
		nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, clock.Now) }()

	clock.Advance(11 * time.Second)
	state.NoteCallerSpeech(clock.Now())
	clock.Advance(2 * time.Second) // idle back under one interval
	clock.Advance(9 * time.Second) // 11s idle again

	cancel()
	if err := <-done; err != context.Canceled {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	select {
	case <-terminated:
		t.Fatalf("speech reset should have prevented termination")
	default:
	}
	if got := reminders.Load(); got != 2 {
		t.Fatalf("reminders = %d, want 2 (one per silent stretch)", got)
	}
}

func TestWatchdogPlaybackCreditExtendsIdleClock(t *testing.T) {
	clock := newFakeClock()
	state := newCallState(clock.Now())

	terminated := make(chan struct{}, 1)
	w := NewWatchdog(testWatchdogConfig(), state, nil,
		nil,
		func() { terminated <- struct{}{} },
		nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, clock.Now) }()

	state.CreditPlayback(20 * time.Second)
	clock.Advance(35 * time.Second) // effective idle only 15s

	select {
	case <-terminated:
		t.Fatalf("assistant speaking time counted toward caller silence")
	default:
	}
	cancel()
	<-done
}

func TestWatchdogDisabledNeverTerminates(t *testing.T) {
	clock := newFakeClock()
	state := newCallState(clock.Now())

	cfg := testWatchdogConfig()
	cfg.MaxSilence = 0

	var reminders atomic.Int64
	terminated := make(chan struct{}, 1)
	w := NewWatchdog(cfg, state, nil,
		func() { reminders.Add(1) },
		func() { terminated <- struct{}{} },
		nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, clock.Now) }()

	clock.Advance(2 * time.Minute)

	select {
	case <-terminated:
		t.Fatalf("disabled watchdog terminated the call")
	default:
	}
	if reminders.Load() == 0 {
		t.Fatalf("reminders should still fire with termination disabled")
	}
	cancel()
	<-done
}

func TestWatchdogHoldsRemindersDuringPlayback(t *testing.T) {
	clock := newFakeClock()
	state := newCallState(clock.Now())

	var playing atomic.Bool
	playing.Store(true)

	var reminders atomic.Int64
	w := NewWatchdog(testWatchdogConfig(), state, playing.Load,
		func() { reminders.Add(1) },
		nil,
		nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, clock.Now) }()

	clock.Advance(11 * time.Second)
	if reminders.Load() != 0 {
		t.Fatalf("reminder fired while assistant was talking")
	}
	playing.Store(false)
	time.Sleep(20 * time.Millisecond)
	if reminders.Load() != 1 {
		t.Fatalf("reminders = %d, want 1 after playback stopped", reminders.Load())
	}
	cancel()
	<-done
}
