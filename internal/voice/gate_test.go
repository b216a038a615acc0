package voice

import (
	"encoding/base64"
	"errors"
	"testing"

	"github.com/youngbull/carecall/internal/audio"
	"github.com/youngbull/carecall/internal/protocol"
)

func validMedia() *protocol.MediaPayload {
	frame := audio.SilenceFrame()
	return &protocol.MediaPayload{Payload: base64.StdEncoding.EncodeToString(frame)}
}

func TestGateDecodesValidFrame(t *testing.T) {
	g := NewFrameGate("c1", nil)
	samples, err := g.Decode(validMedia())
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(samples) != audio.FrameBytes {
		t.Fatalf("samples = %d, want %d", len(samples), audio.FrameBytes)
	}
}

func TestGateDropsMalformedFrame(t *testing.T) {
	g := NewFrameGate("c1", nil)
	for _, m := range []*protocol.MediaPayload{
		{Payload: "not base64!!"},
		{Payload: base64.StdEncoding.EncodeToString(make([]byte, 10))},
		nil,
	} {
		samples, err := g.Decode(m)
		if err != nil {
			t.Fatalf("isolated bad frame should drop, not fail: %v", err)
		}
		if samples != nil {
			t.Fatalf("bad frame yielded samples")
		}
	}
}

func TestGateFailsAfterSustainedCorruption(t *testing.T) {
	g := NewFrameGate("c1", nil)
	bad := &protocol.MediaPayload{Payload: "%%%"}
	for i := 0; i < maxConsecutiveBadFrames-1; i++ {
		if _, err := g.Decode(bad); err != nil {
			t.Fatalf("failed early at frame %d: %v", i, err)
		}
	}
	if _, err := g.Decode(bad); !errors.Is(err, ErrCorruptStream) {
		t.Fatalf("error = %v, want ErrCorruptStream", err)
	}
}

func TestGateGoodFrameResetsBadRun(t *testing.T) {
	g := NewFrameGate("c1", nil)
	bad := &protocol.MediaPayload{Payload: "%%%"}
	for i := 0; i < maxConsecutiveBadFrames-1; i++ {
		g.Decode(bad)
	}
	if _, err := g.Decode(validMedia()); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if _, err := g.Decode(bad); err != nil {
		t.Fatalf("run should have reset on the good frame: %v", err)
	}
}
