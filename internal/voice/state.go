package voice

import (
	"sync/atomic"
	"time"
)

// callState tracks caller activity for the silence watchdog. Assistant
// playback must not count toward caller silence, so completed playback time
// is credited against the idle clock until the caller speaks again.
type callState struct {
	lastActivity   atomic.Int64 // unix nanos
	playbackCredit atomic.Int64 // nanos
}

func newCallState(now time.Time) *callState {
	s := &callState{}
	s.lastActivity.Store(now.UnixNano())
	return s
}

// NoteCallerSpeech marks fresh caller activity and restarts idle accounting.
func (s *callState) NoteCallerSpeech(now time.Time) {
	s.lastActivity.Store(now.UnixNano())
	s.playbackCredit.Store(0)
}

// CreditPlayback excludes delivered assistant audio from the idle clock.
func (s *callState) CreditPlayback(d time.Duration) {
	if d > 0 {
		s.playbackCredit.Add(int64(d))
	}
}

// EffectiveIdle is caller silence excluding assistant speaking time.
func (s *callState) EffectiveIdle(now time.Time) time.Duration {
	idle := now.Sub(time.Unix(0, s.lastActivity.Load()))
	idle -= time.Duration(s.playbackCredit.Load())
	if idle < 0 {
		return 0
	}
	return idle
}
