package voice

import (
	"errors"
	"log"

	"github.com/youngbull/carecall/internal/audio"
	"github.com/youngbull/carecall/internal/observability"
	"github.com/youngbull/carecall/internal/protocol"
)

// ErrCorruptStream reports sustained undecodable inbound media, which means
// the transport is broken rather than glitching.
var ErrCorruptStream = errors.New("inbound media stream corrupt")

// maxConsecutiveBadFrames is one second of continuous garbage.
const maxConsecutiveBadFrames = 50

// FrameGate validates and decodes inbound media payloads. Isolated bad
// frames are dropped and logged; a sustained run of them fails the call.
type FrameGate struct {
	callID  string
	badRun  int
	metrics *observability.Metrics
}

func NewFrameGate(callID string, metrics *observability.Metrics) *FrameGate {
	return &FrameGate{callID: callID, metrics: metrics}
}

// Decode returns the frame's PCM16 samples. A nil, nil return means the
// frame was dropped; ErrCorruptStream means the call should end.
func (g *FrameGate) Decode(m *protocol.MediaPayload) ([]int16, error) {
	ulaw, err := protocol.DecodeFrame(m)
	if err != nil {
		g.badRun++
		log.Printf("gate: dropping bad frame call=%s (%d consecutive): %v", g.callID, g.badRun, err)
		if g.metrics != nil {
			g.metrics.FrameDrops.WithLabelValues("malformed").Inc()
		}
		if g.badRun >= maxConsecutiveBadFrames {
			return nil, ErrCorruptStream
		}
		return nil, nil
	}
	g.badRun = 0
	if g.metrics != nil {
		g.metrics.Frames.WithLabelValues("inbound").Inc()
	}
	return audio.DecodeULaw(ulaw), nil
}
