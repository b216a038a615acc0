package voice

import (
	"bytes"
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/youngbull/carecall/internal/audio"
	"github.com/youngbull/carecall/internal/protocol"
)

func startScheduler(t *testing.T, outbound chan protocol.StreamMessage) (*Scheduler, func()) {
	t.Helper()
	s := NewScheduler("MZtest", outbound, 250*time.Millisecond, nil)
	done := make(chan error, 1)
	go func() {
		done <- s.Run(context.Background())
	}()
	return s, func() {
		s.Close()
		if err := <-done; err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	}
}

func mediaFrames(t *testing.T, msgs []protocol.StreamMessage) [][]byte {
	t.Helper()
	var frames [][]byte
	for _, m := range msgs {
		if m.Event != protocol.EventMedia {
			continue
		}
		frame, err := base64.StdEncoding.DecodeString(m.Media.Payload)
		if err != nil {
			t.Fatalf("payload decode: %v", err)
		}
		frames = append(frames, frame)
	}
	return frames
}

func drainOutbound(outbound chan protocol.StreamMessage) []protocol.StreamMessage {
	var msgs []protocol.StreamMessage
	for {
		select {
		case m := <-outbound:
			msgs = append(msgs, m)
		default:
			return msgs
		}
	}
}

func TestSchedulerPlaysClipAtFrameCadence(t *testing.T) {
	outbound := make(chan protocol.StreamMessage, 64)
	s, stop := startScheduler(t, outbound)

	clip := make([]byte, 5*audio.FrameBytes)
	for i := range clip {
		clip[i] = byte(i)
	}

	type result struct {
		completed bool
		played    time.Duration
	}
	res := make(chan result, 1)

	start := time.Now()
	err := s.Enqueue(context.Background(), PlayerJob{
		Clip: clip,
		OnDone: func(completed bool, played time.Duration) {
			res <- result{completed, played}
		},
	})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	var got result
	select {
	case got = <-res:
	case <-time.After(2 * time.Second):
		t.Fatalf("job never finished")
	}
	stop()

	if !got.completed {
		t.Fatalf("job should complete")
	}
	if got.played != 100*time.Millisecond {
		t.Fatalf("played = %v, want 100ms", got.played)
	}
	// Five 20ms frame slots; the job holds the last one before finishing.
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Fatalf("clip delivered too fast: %v", elapsed)
	}

	frames := mediaFrames(t, drainOutbound(outbound))
	if len(frames) != 5 {
		t.Fatalf("frames sent = %d, want 5", len(frames))
	}
	if !bytes.Equal(frames[0], clip[:audio.FrameBytes]) {
		t.Fatalf("first frame does not match clip head")
	}
}

func TestSchedulerHoldsFullFrameSlices(t *testing.T) {
	outbound := make(chan protocol.StreamMessage, 64)
	s, stop := startScheduler(t, outbound)

	clip := make([]byte, 10*audio.FrameBytes) // 200ms of audio
	done := make(chan time.Duration, 2)
	job := PlayerJob{Clip: clip, OnDone: func(completed bool, played time.Duration) {
		if !completed {
			t.Errorf("job should complete, played %v", played)
		}
		done <- played
	}}

	ctx := context.Background()
	start := time.Now()
	if err := s.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if err := s.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	wait := func() {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("job never finished")
		}
	}
	wait()
	if elapsed := time.Since(start); elapsed < 200*time.Millisecond {
		t.Fatalf("first clip finished in %v, want at least 200ms", elapsed)
	}
	wait()
	if elapsed := time.Since(start); elapsed < 400*time.Millisecond {
		t.Fatalf("both clips drained in %v, want at least 400ms", elapsed)
	}
	stop()
}

func TestSchedulerStreamMatchesClipFraming(t *testing.T) {
	clip := make([]byte, 400)
	for i := range clip {
		clip[i] = byte(i % 251)
	}

	stream := make(chan SynthChunk, 3)
	stream <- SynthChunk{Audio: clip[:250]}
	stream <- SynthChunk{Audio: clip[250:]}
	close(stream)

	outbound := make(chan protocol.StreamMessage, 64)
	s, stop := startScheduler(t, outbound)

	done := make(chan struct{})
	err := s.Enqueue(context.Background(), PlayerJob{
		Stream: stream,
		OnDone: func(completed bool, played time.Duration) {
			if !completed {
				t.Errorf("stream job should complete")
			}
			close(done)
		},
	})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("stream job never finished")
	}
	stop()

	got := mediaFrames(t, drainOutbound(outbound))
	want := audio.SliceULawFrames(clip)
	if len(got) != len(want) {
		t.Fatalf("frames = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if !bytes.Equal(got[i], want[i]) {
			t.Fatalf("frame %d differs between stream and clip paths", i)
		}
	}
}

func TestSchedulerInterruptStopsPlaybackWithOneClear(t *testing.T) {
	outbound := make(chan protocol.StreamMessage, 256)
	s, stop := startScheduler(t, outbound)

	type result struct {
		completed bool
		played    time.Duration
	}
	first := make(chan result, 1)
	second := make(chan result, 1)

	ctx := context.Background()
	clip := make([]byte, 50*audio.FrameBytes) // 1s
	if err := s.Enqueue(ctx, PlayerJob{Clip: clip, OnDone: func(c bool, p time.Duration) {
		first <- result{c, p}
	}}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if err := s.Enqueue(ctx, PlayerJob{Clip: clip, OnDone: func(c bool, p time.Duration) {
		second <- result{c, p}
	}}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for !s.Playing() {
		if time.Now().After(deadline) {
			t.Fatalf("playback never started")
		}
		time.Sleep(time.Millisecond)
	}
	time.Sleep(60 * time.Millisecond)
	s.Interrupt()

	r1 := <-first
	if r1.completed {
		t.Fatalf("interrupted job reported completed")
	}
	if r1.played >= time.Second {
		t.Fatalf("interrupted job played the whole clip")
	}
	stop()

	r2 := <-second
	if r2.completed || r2.played != 0 {
		t.Fatalf("queued job behind the interrupt should be skipped: %+v", r2)
	}

	msgs := drainOutbound(outbound)
	clears := 0
	for _, m := range msgs {
		if m.Event == protocol.EventClear {
			clears++
			continue
		}
		if clears > 0 && m.Event == protocol.EventMedia {
			t.Fatalf("media frame sent after the clear")
		}
	}
	if clears != 1 {
		t.Fatalf("clears sent = %d, want exactly 1", clears)
	}
	if frames := mediaFrames(t, msgs); len(frames) >= 50 {
		t.Fatalf("interrupt should stop frame delivery, sent %d", len(frames))
	}
}
