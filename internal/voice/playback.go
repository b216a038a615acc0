package voice

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/youngbull/carecall/internal/audio"
	"github.com/youngbull/carecall/internal/observability"
	"github.com/youngbull/carecall/internal/protocol"
)

// DefaultJobQueueSize bounds queued playback jobs. Replies arrive one per
// caller turn, so anything beyond a couple queued jobs means the caller has
// long since moved on.
const DefaultJobQueueSize = 4

// PlayerJob is one utterance to deliver to the caller. Exactly one of Clip
// or Stream is set.
type PlayerJob struct {
	// Clip is a complete u-law 8 kHz rendering.
	Clip []byte
	// Stream delivers u-law bytes as synthesis produces them.
	Stream <-chan SynthChunk
	// Transcript is the spoken text, reported back through OnDone.
	Transcript string
	// OnDone fires after the job ends: completed is false when playback was
	// interrupted or invalidated, played is how much audio the caller heard.
	OnDone func(completed bool, played time.Duration)

	gen uint64
}

// Scheduler owns the outbound audio leg: it plays queued jobs one at a time,
// paced to one frame per 20 ms tick against an absolute schedule so drift
// never accumulates. Interrupt cancels the active job and everything queued
// behind it and flushes the far-end buffer with a single clear message.
type Scheduler struct {
	streamSID   string
	outbound    chan<- protocol.StreamMessage
	clearMargin time.Duration
	metrics     *observability.Metrics

	jobs         chan PlayerJob
	gen          atomic.Uint64
	playing      atomic.Bool
	clearPending atomic.Bool
}

func NewScheduler(streamSID string, outbound chan<- protocol.StreamMessage, clearMargin time.Duration, metrics *observability.Metrics) *Scheduler {
	return &Scheduler{
		streamSID:   streamSID,
		outbound:    outbound,
		clearMargin: clearMargin,
		metrics:     metrics,
		jobs:        make(chan PlayerJob, DefaultJobQueueSize),
	}
}

// Playing reports whether a job is actively sending frames. Barge-in
// detection only runs while this is true.
func (s *Scheduler) Playing() bool { return s.playing.Load() }

// Generation identifies the current playback epoch. It advances on every
// interrupt, letting work begun before a barge-in detect that its result is
// stale before queueing audio for it.
func (s *Scheduler) Generation() uint64 { return s.gen.Load() }

// Enqueue queues a job for playback. Blocks when the queue is full.
func (s *Scheduler) Enqueue(ctx context.Context, job PlayerJob) error {
	job.gen = s.gen.Load()
	select {
	case s.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close signals the run loop to exit once queued jobs are handled.
func (s *Scheduler) Close() {
	close(s.jobs)
}

// Interrupt cancels the active job and invalidates everything queued. The
// run loop emits exactly one clear message once it observes the stale
// generation, so the clear always lands after the last frame actually sent
// and no frame ever follows it.
func (s *Scheduler) Interrupt() {
	s.clearPending.Store(true)
	s.gen.Add(1)
}

// flushClear sends the clear owed by an Interrupt, at most once per call to
// Interrupt. Only the run loop calls this, keeping outbound ordering intact.
func (s *Scheduler) flushClear(ctx context.Context) {
	if !s.clearPending.CompareAndSwap(true, false) {
		return
	}
	select {
	case s.outbound <- protocol.NewClearMessage(s.streamSID):
		if s.metrics != nil {
			s.metrics.ClearsSent.Inc()
		}
	case <-ctx.Done():
	}
}

// Run delivers jobs until Close or ctx cancellation.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case job, ok := <-s.jobs:
			if !ok {
				return nil
			}
			s.flushClear(ctx)
			if job.gen != s.gen.Load() {
				job.finish(false, 0)
				continue
			}
			s.playJob(ctx, job)
			s.flushClear(ctx)
		}
	}
}

func (s *Scheduler) playJob(ctx context.Context, job PlayerJob) {
	next := s.frameSource(ctx, job)

	s.playing.Store(true)
	defer s.playing.Store(false)

	base := time.Now()
	sent := 0
	for {
		frame, ok := next()
		if !ok {
			job.finish(true, time.Duration(sent)*audio.FrameDuration)
			return
		}

		if job.gen != s.gen.Load() {
			s.flushClear(ctx)
			job.finish(false, s.playedAfterClear(sent))
			return
		}

		select {
		case s.outbound <- protocol.NewMediaMessage(s.streamSID, frame):
			sent++
			if s.metrics != nil {
				s.metrics.PlaybackFrames.Inc()
			}
		case <-ctx.Done():
			job.finish(false, time.Duration(sent)*audio.FrameDuration)
			return
		}

		// Frame N owns the slot [base+N*20ms, base+(N+1)*20ms); hold it so
		// back-to-back jobs never deliver faster than one frame per tick and
		// a job finishes only when its last slot has elapsed.
		target := base.Add(time.Duration(sent) * audio.FrameDuration)
		if wait := time.Until(target); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				job.finish(false, time.Duration(sent)*audio.FrameDuration)
				return
			}
		}
	}
}

// playedAfterClear estimates audio the caller actually heard when a job is
// cut short: frames already pushed minus what the clear flushed from the
// far-end buffer, bounded by the margin.
func (s *Scheduler) playedAfterClear(sent int) time.Duration {
	played := time.Duration(sent) * audio.FrameDuration
	if played > s.clearMargin {
		played -= s.clearMargin
	}
	return played
}

// frameSource returns an iterator over exact 160-byte frames, whether the
// job carries a finished clip or a live synthesis stream.
func (s *Scheduler) frameSource(ctx context.Context, job PlayerJob) func() ([]byte, bool) {
	if job.Stream == nil {
		frames := audio.SliceULawFrames(job.Clip)
		i := 0
		return func() ([]byte, bool) {
			if i >= len(frames) {
				return nil, false
			}
			f := frames[i]
			i++
			return f, true
		}
	}

	var asm audio.FrameAssembler
	var pending [][]byte
	drained := false
	drain := func() {
		if f := asm.Flush(); f != nil {
			pending = append(pending, f)
		}
		drained = true
	}
	return func() ([]byte, bool) {
		for {
			if len(pending) > 0 {
				f := pending[0]
				pending = pending[1:]
				return f, true
			}
			if drained {
				return nil, false
			}
			select {
			case chunk, ok := <-job.Stream:
				if !ok {
					drain()
					continue
				}
				if chunk.Err != nil {
					log.Printf("playback: synthesis stream failed: %v", chunk.Err)
					if s.metrics != nil {
						s.metrics.ProviderErrors.WithLabelValues("synthesizer", "stream").Inc()
					}
					drain()
					continue
				}
				pending = asm.Push(chunk.Audio)
			case <-ctx.Done():
				drained = true
				return nil, false
			}
		}
	}
}

func (j PlayerJob) finish(completed bool, played time.Duration) {
	if j.OnDone != nil {
		j.OnDone(completed, played)
	}
}
