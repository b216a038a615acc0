package session

import (
	"testing"
	"time"
)

func TestManagerCreateGetEnd(t *testing.T) {
	m := NewManager(time.Hour)
	c := m.Create("MZ123", "CA456")
	if c.ID == "" {
		t.Fatalf("call ID should not be empty")
	}

	got, err := m.Get(c.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.StreamSID != "MZ123" || got.TelephonySID != "CA456" || got.Status != StatusActive {
		t.Fatalf("unexpected call state: %+v", got)
	}

	ended, err := m.End(c.ID, EndReasonHangup)
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if ended.Status != StatusEnded || ended.EndReason != EndReasonHangup {
		t.Fatalf("unexpected ended state: %+v", ended)
	}
}

func TestManagerEndIsIdempotent(t *testing.T) {
	m := NewManager(time.Hour)
	c := m.Create("MZ1", "")

	if _, err := m.End(c.ID, EndReasonIdle); err != nil {
		t.Fatalf("first End() error = %v", err)
	}
	again, err := m.End(c.ID, EndReasonHangup)
	if err != nil {
		t.Fatalf("second End() error = %v", err)
	}
	if again.EndReason != EndReasonIdle {
		t.Fatalf("EndReason = %q, first reason should win", again.EndReason)
	}
	if m.ActiveCount() != 0 {
		t.Fatalf("ActiveCount = %d, want 0", m.ActiveCount())
	}
}

func TestManagerCounters(t *testing.T) {
	m := NewManager(time.Hour)
	c := m.Create("MZ1", "")
	if err := m.AddTurn(c.ID); err != nil {
		t.Fatalf("AddTurn() error = %v", err)
	}
	if err := m.MarkInterruption(c.ID); err != nil {
		t.Fatalf("MarkInterruption() error = %v", err)
	}
	got, _ := m.Get(c.ID)
	if got.Turns != 1 || got.Interruptions != 1 {
		t.Fatalf("counters = %d/%d, want 1/1", got.Turns, got.Interruptions)
	}
	if err := m.AddTurn("missing"); err != ErrNotFound {
		t.Fatalf("AddTurn(missing) = %v, want ErrNotFound", err)
	}
}

func TestManagerSweepExpiresStale(t *testing.T) {
	m := NewManager(10 * time.Millisecond)
	c := m.Create("MZ1", "")

	var hookCalls int
	m.SetExpireHook(func(call *Call) {
		hookCalls++
		if call.ID != c.ID || call.EndReason != EndReasonExpired {
			t.Errorf("unexpected expired call: %+v", call)
		}
	})

	time.Sleep(20 * time.Millisecond)
	m.sweep()

	got, err := m.Get(c.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != StatusEnded {
		t.Fatalf("Status = %q, want ended", got.Status)
	}
	if hookCalls != 1 {
		t.Fatalf("expire hook calls = %d, want 1", hookCalls)
	}
}
