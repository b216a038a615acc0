package voice

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/youngbull/carecall/internal/audio"
)

// MockTranscriber returns canned text without calling any provider. Used in
// tests and when the service runs without provider credentials.
type MockTranscriber struct {
	Text  string
	Err   error
	Delay time.Duration

	calls atomic.Int64
}

func (m *MockTranscriber) Transcribe(ctx context.Context, wav []byte, language string) (string, error) {
	n := m.calls.Add(1)
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if m.Err != nil {
		return "", m.Err
	}
	if m.Text != "" {
		return m.Text, nil
	}
	return fmt.Sprintf("mock transcript %d", n), nil
}

// Calls reports how many transcription requests were made.
func (m *MockTranscriber) Calls() int { return int(m.calls.Load()) }

// MockResponder echoes a short canned reply.
type MockResponder struct {
	Text  string
	Err   error
	Delay time.Duration
}

func (m *MockResponder) Reply(ctx context.Context, history []Turn, userText string) (string, error) {
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if m.Err != nil {
		return "", m.Err
	}
	if m.Text != "" {
		return m.Text, nil
	}
	return "I hear you. Tell me more.", nil
}

// MockSynthesizer renders deterministic u-law audio sized by text length,
// roughly 60ms of audio per word with a 400ms floor.
type MockSynthesizer struct {
	Err error
}

func (m *MockSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	n := len(text) * audio.SampleRate * 12 / 1000
	if min := audio.SampleRate * 400 / 1000; n < min {
		n = min
	}
	clip := make([]byte, n)
	for i := range clip {
		clip[i] = audio.ULawSilence
	}
	return clip, nil
}

func (m *MockSynthesizer) Stream(ctx context.Context, text string) (<-chan SynthChunk, error) {
	clip, err := m.Synthesize(ctx, text)
	if err != nil {
		return nil, err
	}
	out := make(chan SynthChunk, 4)
	go func() {
		defer close(out)
		// Deliberately misaligned piece size to exercise reframing.
		const piece = 700
		for off := 0; off < len(clip); off += piece {
			end := off + piece
			if end > len(clip) {
				end = len(clip)
			}
			select {
			case out <- SynthChunk{Audio: clip[off:end]}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
