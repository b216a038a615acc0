package observability

import (
	"testing"
	"time"
)

func TestStageWindowSnapshot(t *testing.T) {
	w := NewStageWindow(4)
	w.Observe("transcribe", 100*time.Millisecond)
	w.Observe("transcribe", 200*time.Millisecond)
	w.Observe("transcribe", 300*time.Millisecond)

	snap := w.Snapshot()
	if len(snap.Stages) != 1 {
		t.Fatalf("stages = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Stage != "transcribe" || s.Samples != 3 {
		t.Fatalf("unexpected stage stats: %+v", s)
	}
	if s.LastMS != 300 {
		t.Fatalf("LastMS = %v, want 300", s.LastMS)
	}
	if s.AvgMS != 200 {
		t.Fatalf("AvgMS = %v, want 200", s.AvgMS)
	}
	if s.P50MS != 200 {
		t.Fatalf("P50MS = %v, want 200", s.P50MS)
	}
}

func TestStageWindowWraps(t *testing.T) {
	w := NewStageWindow(2)
	w.Observe("reply", 10*time.Millisecond)
	w.Observe("reply", 20*time.Millisecond)
	w.Observe("reply", 30*time.Millisecond)

	snap := w.Snapshot()
	if len(snap.Stages) != 1 || snap.Stages[0].Samples != 2 {
		t.Fatalf("window should cap samples at 2: %+v", snap.Stages)
	}
	if snap.Stages[0].LastMS != 30 {
		t.Fatalf("LastMS = %v, want 30", snap.Stages[0].LastMS)
	}
}

func TestStageWindowIgnoresInvalid(t *testing.T) {
	w := NewStageWindow(4)
	w.Observe("", time.Second)
	w.Observe("x", -time.Second)
	if snap := w.Snapshot(); len(snap.Stages) != 0 {
		t.Fatalf("invalid observations should be ignored: %+v", snap.Stages)
	}
}
