package voice

import (
	"context"
	"log"
	"time"

	"github.com/youngbull/carecall/internal/observability"
)

// WatchdogConfig tunes silence supervision for one call.
type WatchdogConfig struct {
	// MaxSilence ends the call when effective caller silence reaches it.
	// Zero or negative disables termination, reminders still fire.
	MaxSilence time.Duration
	// ReminderInterval spaces verbal check-ins during sustained silence.
	ReminderInterval time.Duration
	// Interval is the polling cadence.
	Interval time.Duration
}

// Watchdog watches one call for sustained caller silence, prompting the
// caller periodically and ending the call when silence exceeds the limit.
// Terminate fires at most once, after which the watchdog exits.
type Watchdog struct {
	cfg     WatchdogConfig
	state   *callState
	playing func() bool
	metrics *observability.Metrics

	remind    func()
	terminate func()
}

func NewWatchdog(cfg WatchdogConfig, state *callState, playing func() bool, remind, terminate func(), metrics *observability.Metrics) *Watchdog {
	if cfg.Interval <= 0 {
		cfg.Interval = 500 * time.Millisecond
	}
	if playing == nil {
		playing = func() bool { return false }
	}
	return &Watchdog{
		cfg:       cfg,
		state:     state,
		playing:   playing,
		metrics:   metrics,
		remind:    remind,
		terminate: terminate,
	}
}

// Run polls until ctx is cancelled or the silence limit terminates the call.
func (w *Watchdog) Run(ctx context.Context, now func() time.Time) error {
	if now == nil {
		now = time.Now
	}
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	reminded := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		idle := w.state.EffectiveIdle(now())

		if w.cfg.MaxSilence > 0 && idle >= w.cfg.MaxSilence {
			log.Printf("watchdog: silence limit reached after %v", idle.Round(time.Second))
			if w.metrics != nil {
				w.metrics.WatchdogEvents.WithLabelValues("terminate").Inc()
			}
			if w.terminate != nil {
				w.terminate()
			}
			return nil
		}

		if w.cfg.ReminderInterval <= 0 {
			continue
		}
		due := int(idle / w.cfg.ReminderInterval)
		if due == 0 {
			reminded = 0
			continue
		}
		// Hold reminders while the assistant is already talking.
		if due > reminded && !w.playing() {
			reminded = due
			if w.metrics != nil {
				w.metrics.WatchdogEvents.WithLabelValues("reminder").Inc()
			}
			if w.remind != nil {
				w.remind()
			}
		}
	}
}
