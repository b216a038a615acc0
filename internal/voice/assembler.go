package voice

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/youngbull/carecall/internal/audio"
	"github.com/youngbull/carecall/internal/observability"
)

// Backpressure policies for the chunk queue.
const (
	BackpressureBlock      = "block"
	BackpressureDropOldest = "drop_oldest"
)

// DefaultChunkQueueSize bounds in-flight chunks between the frame loop and
// the transcription worker. Chunks are seconds long, so a short queue covers
// any realistic transcription backlog.
const DefaultChunkQueueSize = 8

type assemblerEvent struct {
	gen        uint64
	chunk      *AudioChunk
	phraseDone bool
}

// AssemblerConfig tunes the phrase assembly worker.
type AssemblerConfig struct {
	QueueSize         int
	BackpressureMode  string
	Language          string
	TranscribeTimeout time.Duration
}

// Assembler consumes closed chunks from the frame loop, transcribes each in
// arrival order, and hands off exactly one completed Phrase per done-speaking
// boundary. A generation counter lets barge-in invalidate queued work without
// racing the worker.
type Assembler struct {
	cfg         AssemblerConfig
	transcriber Transcriber
	metrics     *observability.Metrics

	events chan assemblerEvent
	gen    atomic.Uint64
}

func NewAssembler(cfg AssemblerConfig, transcriber Transcriber, metrics *observability.Metrics) *Assembler {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultChunkQueueSize
	}
	if cfg.BackpressureMode == "" {
		cfg.BackpressureMode = BackpressureBlock
	}
	return &Assembler{
		cfg:         cfg,
		transcriber: transcriber,
		metrics:     metrics,
		events:      make(chan assemblerEvent, cfg.QueueSize),
	}
}

// Enqueue forwards a frame verdict's chunk and phrase boundary to the worker.
// Under drop_oldest the oldest queued event is evicted when the queue is
// full; under block the caller waits, pausing frame intake.
func (a *Assembler) Enqueue(ctx context.Context, v FrameVerdict) error {
	if v.Chunk == nil && !v.PhraseDone {
		return nil
	}
	ev := assemblerEvent{gen: a.gen.Load(), chunk: v.Chunk, phraseDone: v.PhraseDone}

	if a.cfg.BackpressureMode == BackpressureDropOldest {
		for {
			select {
			case a.events <- ev:
				return nil
			default:
			}
			select {
			case dropped := <-a.events:
				a.countQueueDrop()
				if dropped.phraseDone {
					// Keep the boundary: folding it into the incoming event
					// preserves phrase ordering even under overload.
					ev.phraseDone = true
				}
			default:
			}
		}
	}

	select {
	case a.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close signals the worker that no more events will arrive. Call after the
// final Flush verdict has been enqueued.
func (a *Assembler) Close() {
	close(a.events)
}

// Invalidate discards the open phrase and all queued chunks. Events enqueued
// before the call are ignored by the worker when it reaches them.
func (a *Assembler) Invalidate() {
	a.gen.Add(1)
}

// Run transcribes chunks and emits completed phrases until the event channel
// closes or ctx is cancelled. emit is called exactly once per phrase with at
// least one transcribed chunk of non-empty text.
func (a *Assembler) Run(ctx context.Context, emit func(*Phrase)) error {
	var open *Phrase
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-a.events:
			if !ok {
				return nil
			}
			if ev.gen != a.gen.Load() {
				open = nil
				continue
			}
			if ev.chunk != nil {
				a.transcribeChunk(ctx, ev.chunk)
				if ev.gen != a.gen.Load() {
					// Barge-in landed while transcribing.
					open = nil
					continue
				}
				if open == nil || open.ID != ev.chunk.PhraseID {
					open = &Phrase{ID: ev.chunk.PhraseID}
				}
				open.Chunks = append(open.Chunks, *ev.chunk)
			}
			if ev.phraseDone {
				a.emitPhrase(open, emit)
				open = nil
			}
		}
	}
}

func (a *Assembler) transcribeChunk(ctx context.Context, chunk *AudioChunk) {
	tctx := ctx
	if a.cfg.TranscribeTimeout > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, a.cfg.TranscribeTimeout)
		defer cancel()
	}
	wav, err := audio.EncodeWAVPCM16LE(chunk.PCM, audio.SampleRate)
	if err != nil {
		log.Printf("assembler: wav encode failed phrase=%s chunk=%d: %v", chunk.PhraseID, chunk.Index, err)
		chunk.Transcribed = true
		return
	}
	text, err := a.transcriber.Transcribe(tctx, wav, a.cfg.Language)
	if err != nil {
		log.Printf("assembler: transcription failed phrase=%s chunk=%d: %v", chunk.PhraseID, chunk.Index, err)
		if a.metrics != nil {
			a.metrics.Chunks.WithLabelValues("transcribe_error").Inc()
			a.metrics.ProviderErrors.WithLabelValues("transcriber", "request").Inc()
		}
		chunk.Transcribed = true
		return
	}
	chunk.Transcript = text
	chunk.Transcribed = true
	if a.metrics != nil {
		a.metrics.Chunks.WithLabelValues("transcribed").Inc()
	}
}

func (a *Assembler) emitPhrase(open *Phrase, emit func(*Phrase)) {
	if open == nil {
		return
	}
	open.Closed = true
	if open.Text() == "" {
		log.Printf("assembler: dropping phrase %s with no usable transcript", open.ID)
		if a.metrics != nil {
			a.metrics.Phrases.WithLabelValues("empty").Inc()
		}
		return
	}
	if a.metrics != nil {
		a.metrics.Phrases.WithLabelValues("emitted").Inc()
	}
	emit(open)
}

func (a *Assembler) countQueueDrop() {
	if a.metrics != nil {
		a.metrics.QueueDrops.WithLabelValues("chunks").Inc()
	}
}
