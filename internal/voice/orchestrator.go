package voice

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/youngbull/carecall/internal/audio"
	"github.com/youngbull/carecall/internal/config"
	"github.com/youngbull/carecall/internal/observability"
	"github.com/youngbull/carecall/internal/protocol"
	"github.com/youngbull/carecall/internal/session"
	"github.com/youngbull/carecall/internal/transcript"
)

const (
	// handshakeTimeout bounds the wait for the start event after connect.
	handshakeTimeout = 10 * time.Second
	// goodbyeGrace bounds how long teardown waits for the goodbye line.
	goodbyeGrace = 10 * time.Second
	// phraseQueueSize bounds completed phrases awaiting a reply turn.
	phraseQueueSize = 2
)

// ErrNoStart reports a stream that closed before identifying itself.
var ErrNoStart = errors.New("stream closed before start event")

// Orchestrator builds and drives the per-call pipeline: frame gate, VAD
// segmentation, phrase assembly, reply generation, paced playback and the
// silence watchdog. One RunCall invocation owns one media stream.
type Orchestrator struct {
	cfg      config.Config
	sessions *session.Manager
	store    transcript.Store

	transcriber Transcriber
	responder   Responder
	synth       Synthesizer
	prompts     *PromptCache

	metrics *observability.Metrics
	stages  *observability.StageWindow
}

func NewOrchestrator(
	cfg config.Config,
	sessions *session.Manager,
	store transcript.Store,
	transcriber Transcriber,
	responder Responder,
	synth Synthesizer,
	prompts *PromptCache,
	metrics *observability.Metrics,
	stages *observability.StageWindow,
) *Orchestrator {
	return &Orchestrator{
		cfg:         cfg,
		sessions:    sessions,
		store:       store,
		transcriber: transcriber,
		responder:   responder,
		synth:       synth,
		prompts:     prompts,
		metrics:     metrics,
		stages:      stages,
	}
}

// RunCall drives one media-stream connection until hangup, idle timeout,
// transport failure or shutdown. inbound carries parsed messages from the
// transport; outbound is the single-writer channel back to it.
func (o *Orchestrator) RunCall(parent context.Context, inbound <-chan protocol.StreamMessage, outbound chan<- protocol.StreamMessage) error {
	start, err := awaitStart(parent, inbound)
	if err != nil {
		return err
	}

	call := o.sessions.Create(start.StreamSID, start.CallSID)
	log.Printf("session: call %s started stream=%s telephony=%s", call.ID, call.StreamSID, call.TelephonySID)
	if o.metrics != nil {
		o.metrics.ActiveCalls.Inc()
		o.metrics.CallEvents.WithLabelValues("started").Inc()
		defer o.metrics.ActiveCalls.Dec()
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	p := &callPipeline{
		o:       o,
		call:    call,
		state:   newCallState(time.Now()),
		sched:   NewScheduler(start.StreamSID, outbound, o.cfg.PlaybackClearMargin, o.metrics),
		history: NewHistory(o.cfg.MaxTurns),
		asm: NewAssembler(AssemblerConfig{
			BackpressureMode:  o.cfg.BackpressureMode,
			Language:          o.cfg.Language,
			TranscribeTimeout: o.cfg.TranscribeTimeout,
		}, o.transcriber, o.metrics),
	}

	phrases := make(chan *Phrase, phraseQueueSize)
	watchdog := NewWatchdog(WatchdogConfig{
		MaxSilence:       o.cfg.MaxSilence,
		ReminderInterval: o.cfg.ReminderInterval,
		Interval:         o.cfg.WatchdogInterval,
	}, p.state, p.sched.Playing,
		func() { p.remind(ctx) },
		func() { p.idleHangup(ctx, cancel) },
		o.metrics)

	// Teardown is a chain: the inbound loop closes the assembler when the
	// transport ends, the assembler drains its queue and closes the phrase
	// channel, and the turn loop serves what remains before cancelling the
	// rest. A phrase still open at hangup makes it to the transcript.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.sched.Run(gctx) })
	g.Go(func() error { return watchdog.Run(gctx, nil) })
	g.Go(func() error {
		defer close(phrases)
		return p.asm.Run(gctx, func(ph *Phrase) {
			select {
			case phrases <- ph:
			case <-gctx.Done():
			}
		})
	})
	g.Go(func() error {
		defer cancel()
		return p.turnLoop(gctx, phrases)
	})
	g.Go(func() error {
		defer p.asm.Close()
		return p.inboundLoop(gctx, inbound)
	})

	p.greet(ctx)

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	reason := session.EndReasonHangup
	switch {
	case parent.Err() != nil:
		reason = session.EndReasonShutdown
	case errors.Is(err, ErrCorruptStream):
		reason = session.EndReasonError
	case err != nil:
		reason = session.EndReasonError
	}
	ended, endErr := o.sessions.End(call.ID, reason)
	if endErr != nil {
		log.Printf("session: end call %s: %v", call.ID, endErr)
	} else {
		log.Printf("session: call %s ended reason=%s turns=%d interruptions=%d",
			call.ID, ended.EndReason, ended.Turns, ended.Interruptions)
		if o.metrics != nil {
			o.metrics.CallEvents.WithLabelValues(string(ended.EndReason)).Inc()
		}
	}
	return err
}

// awaitStart consumes handshake traffic until the stream identifies itself.
func awaitStart(ctx context.Context, inbound <-chan protocol.StreamMessage) (*protocol.StartPayload, error) {
	timer := time.NewTimer(handshakeTimeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, errors.New("timed out waiting for start event")
		case msg, ok := <-inbound:
			if !ok {
				return nil, ErrNoStart
			}
			switch msg.Event {
			case protocol.EventStart:
				return msg.Start, nil
			case protocol.EventStop:
				return nil, ErrNoStart
			default:
				// connected and early media are ignored
			}
		}
	}
}

// callPipeline holds the per-call components RunCall wires together.
type callPipeline struct {
	o       *Orchestrator
	call    *session.Call
	state   *callState
	sched   *Scheduler
	asm     *Assembler
	history *History
}

// inboundLoop is the frame path: gate, barge-in detection, segmentation and
// chunk handoff. Returning ends the call.
func (p *callPipeline) inboundLoop(ctx context.Context, inbound <-chan protocol.StreamMessage) error {
	gate := NewFrameGate(p.call.ID, p.o.metrics)
	seg := NewSegmenter(SegmenterConfig{
		SpeechRMSThreshold:  p.o.cfg.SpeechRMSThreshold,
		ChunkSilence:        p.o.cfg.ChunkSilence,
		DoneSpeakingSilence: p.o.cfg.DoneSpeakingSilence,
		MinChunkDuration:    p.o.cfg.MinChunkDuration,
		MaxChunkDuration:    p.o.cfg.MaxChunkDuration,
		MaxPhraseDuration:   p.o.cfg.MaxPhraseDuration,
		LeadInDuration:      p.o.cfg.LeadInDuration,
	})
	detector := NewBargeInDetector(p.o.cfg.SpeechRMSThreshold, p.o.cfg.BargeInMultiplier, p.o.cfg.BargeInFrames)

	wasSpeech := false
	var captured []byte
	defer func() {
		if dir := p.o.cfg.CaptureDir; dir != "" && len(captured) > 0 {
			path := filepath.Join(dir, p.call.ID+".wav")
			if err := audio.WriteWAVPCM16LEFile(path, captured, audio.SampleRate); err != nil {
				log.Printf("session: capture write failed call=%s: %v", p.call.ID, err)
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-inbound:
			if !ok {
				log.Printf("session: transport closed call=%s", p.call.ID)
				return p.finalFlush(ctx, seg)
			}
			switch msg.Event {
			case protocol.EventMedia:
				samples, err := gate.Decode(msg.Media)
				if err != nil {
					return fmt.Errorf("call %s: %w", p.call.ID, err)
				}
				if samples == nil {
					continue
				}
				if p.sched.Playing() && detector.Observe(audio.RMS(samples)) {
					p.bargeIn(seg)
				}
				v := seg.ProcessFrame(samples)
				if v.Speech {
					p.state.NoteCallerSpeech(time.Now())
					if !wasSpeech {
						if err := p.o.sessions.MarkSpeech(p.call.ID); err != nil {
							log.Printf("session: mark speech call=%s: %v", p.call.ID, err)
						}
					}
				}
				wasSpeech = v.Speech
				if v.Chunk != nil {
					captured = append(captured, v.Chunk.PCM...)
				}
				if v.ChunkDiscarded && p.o.metrics != nil {
					p.o.metrics.Chunks.WithLabelValues("discarded").Inc()
				}
				if err := p.asm.Enqueue(ctx, v); err != nil {
					return err
				}
			case protocol.EventStop:
				log.Printf("session: caller hung up call=%s", p.call.ID)
				return p.finalFlush(ctx, seg)
			default:
				// connected and mark events carry nothing actionable
			}
		}
	}
}

// finalFlush hands the segmenter's open work to the assembler so a phrase
// cut off by hangup still gets transcribed and recorded.
func (p *callPipeline) finalFlush(ctx context.Context, seg *Segmenter) error {
	v := seg.Flush()
	if v.ChunkDiscarded && p.o.metrics != nil {
		p.o.metrics.Chunks.WithLabelValues("discarded").Inc()
	}
	return p.asm.Enqueue(ctx, v)
}

// bargeIn cancels assistant playback and all in-flight turn work so the
// interrupting speech starts a clean phrase.
func (p *callPipeline) bargeIn(seg *Segmenter) {
	log.Printf("session: barge-in call=%s", p.call.ID)
	p.sched.Interrupt()
	p.asm.Invalidate()
	seg.Reset()
	if err := p.o.sessions.MarkInterruption(p.call.ID); err != nil {
		log.Printf("session: mark interruption call=%s: %v", p.call.ID, err)
	}
	if p.o.metrics != nil {
		p.o.metrics.BargeIns.Inc()
	}
}

// turnLoop serves completed phrases one at a time until the assembler closes
// the channel behind the last phrase of the call.
func (p *callPipeline) turnLoop(ctx context.Context, phrases <-chan *Phrase) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ph, ok := <-phrases:
			if !ok {
				return nil
			}
			p.handleTurn(ctx, ph)
		}
	}
}

// handleTurn runs one conversation turn: record the caller line, ask the
// reasoning engine for a reply, synthesize it and queue playback. A barge-in
// at any point abandons the turn via the playback generation check.
func (p *callPipeline) handleTurn(ctx context.Context, ph *Phrase) {
	gen := p.sched.Generation()
	turnStart := time.Now()
	text := ph.Text()
	log.Printf("session: caller said %q call=%s phrase=%s", text, p.call.ID, ph.ID)

	if err := p.o.sessions.AddTurn(p.call.ID); err != nil {
		log.Printf("session: add turn call=%s: %v", p.call.ID, err)
	}
	p.appendLine(transcript.Line{CallID: p.call.ID, Role: transcript.RoleCaller, Text: text})

	window := p.history.Window()
	p.history.AddUser(text)

	rctx, rcancel := context.WithTimeout(ctx, p.o.cfg.ReplyTimeout)
	reply, err := p.o.responder.Reply(rctx, window, text)
	rcancel()
	if p.o.stages != nil {
		p.o.stages.Observe("reply", time.Since(turnStart))
	}
	if err != nil {
		log.Printf("session: reply failed call=%s: %v", p.call.ID, err)
		if p.o.metrics != nil {
			p.o.metrics.ProviderErrors.WithLabelValues("responder", "request").Inc()
		}
		p.speakStatic(ctx, p.o.cfg.ApologyText)
		return
	}
	if gen != p.sched.Generation() {
		log.Printf("session: dropping stale reply call=%s phrase=%s", p.call.ID, ph.ID)
		return
	}

	job := PlayerJob{Transcript: reply}
	if p.o.cfg.StreamingTTS {
		stream, err := p.o.synth.Stream(ctx, reply)
		if err != nil {
			p.synthFailed(ctx, err)
			return
		}
		job.Stream = stream
	} else {
		sctx, scancel := context.WithTimeout(ctx, p.o.cfg.SynthesizeTimeout)
		synthStart := time.Now()
		clip, err := p.o.synth.Synthesize(sctx, reply)
		scancel()
		if p.o.stages != nil {
			p.o.stages.Observe("synthesize", time.Since(synthStart))
		}
		if err != nil {
			p.synthFailed(ctx, err)
			return
		}
		job.Clip = clip
	}

	job.OnDone = func(completed bool, played time.Duration) {
		p.state.CreditPlayback(played)
		if completed {
			p.history.AddAssistant(reply)
			p.appendLine(transcript.Line{CallID: p.call.ID, Role: transcript.RoleAssistant, Text: reply})
			return
		}
		p.appendLine(transcript.Line{CallID: p.call.ID, Role: transcript.RoleAssistant, Text: reply, Interrupted: true})
	}

	if gen != p.sched.Generation() {
		log.Printf("session: dropping stale synthesis call=%s phrase=%s", p.call.ID, ph.ID)
		return
	}
	if p.o.metrics != nil {
		p.o.metrics.ObserveTurnLatency(time.Since(turnStart))
	}
	if err := p.sched.Enqueue(ctx, job); err != nil {
		log.Printf("session: enqueue reply call=%s: %v", p.call.ID, err)
	}
}

func (p *callPipeline) synthFailed(ctx context.Context, err error) {
	log.Printf("session: synthesis failed call=%s: %v", p.call.ID, err)
	if p.o.metrics != nil {
		p.o.metrics.ProviderErrors.WithLabelValues("synthesizer", "request").Inc()
	}
	p.speakStatic(ctx, p.o.cfg.ApologyText)
}

// greet speaks the opening line and seeds the history with it.
func (p *callPipeline) greet(ctx context.Context) {
	text := p.o.cfg.GreetingText
	if text == "" {
		return
	}
	clip, err := p.o.prompts.Clip(ctx, text)
	if err != nil {
		log.Printf("session: greeting synthesis failed call=%s: %v", p.call.ID, err)
		return
	}
	job := PlayerJob{Clip: clip, Transcript: text, OnDone: func(completed bool, played time.Duration) {
		p.state.CreditPlayback(played)
		if completed {
			p.history.AddAssistant(text)
			p.appendLine(transcript.Line{CallID: p.call.ID, Role: transcript.RoleAssistant, Text: text})
		}
	}}
	if err := p.sched.Enqueue(ctx, job); err != nil {
		log.Printf("session: enqueue greeting call=%s: %v", p.call.ID, err)
	}
}

// remind nudges a silent caller without touching the conversation history.
func (p *callPipeline) remind(ctx context.Context) {
	log.Printf("session: silence reminder call=%s", p.call.ID)
	p.speakStatic(ctx, p.o.cfg.ReminderText)
}

func (p *callPipeline) speakStatic(ctx context.Context, text string) {
	if text == "" {
		return
	}
	clip, err := p.o.prompts.Clip(ctx, text)
	if err != nil {
		log.Printf("session: prompt synthesis failed call=%s: %v", p.call.ID, err)
		return
	}
	job := PlayerJob{Clip: clip, Transcript: text, OnDone: func(completed bool, played time.Duration) {
		p.state.CreditPlayback(played)
	}}
	if err := p.sched.Enqueue(ctx, job); err != nil {
		log.Printf("session: enqueue prompt call=%s: %v", p.call.ID, err)
	}
}

// idleHangup ends a call the watchdog gave up on: lock in the end reason,
// say goodbye, then tear the pipeline down.
func (p *callPipeline) idleHangup(ctx context.Context, cancel context.CancelFunc) {
	log.Printf("session: ending call %s after prolonged silence", p.call.ID)
	if _, err := p.o.sessions.End(p.call.ID, session.EndReasonIdle); err != nil {
		log.Printf("session: end call %s: %v", p.call.ID, err)
	}
	defer cancel()

	text := p.o.cfg.GoodbyeText
	if text == "" {
		return
	}
	clip, err := p.o.prompts.Clip(ctx, text)
	if err != nil {
		log.Printf("session: goodbye synthesis failed call=%s: %v", p.call.ID, err)
		return
	}
	done := make(chan struct{})
	job := PlayerJob{Clip: clip, Transcript: text, OnDone: func(bool, time.Duration) { close(done) }}
	if err := p.sched.Enqueue(ctx, job); err != nil {
		return
	}
	select {
	case <-done:
	case <-time.After(goodbyeGrace):
	case <-ctx.Done():
	}
}

// appendLine persists a transcript line without tying it to the call's
// cancellation: interrupted and teardown lines must still be recorded.
func (p *callPipeline) appendLine(line transcript.Line) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := p.o.store.AppendLine(ctx, line); err != nil {
		log.Printf("session: transcript write failed call=%s: %v", p.call.ID, err)
	}
}
