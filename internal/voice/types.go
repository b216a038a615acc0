package voice

import (
	"strings"
	"time"
)

// AudioChunk is one contiguous run of speech frames. Immutable once emitted
// by the segmenter, except for the transcript fields written exactly once by
// the transcription worker.
type AudioChunk struct {
	PhraseID string
	Index    int
	// PCM holds 16-bit little-endian mono samples at 8 kHz.
	PCM      []byte
	RMS      float64
	Start    time.Duration
	Duration time.Duration

	Transcript  string
	Transcribed bool
}

// Phrase is one complete spoken utterance: an ordered run of chunks bounded
// by sustained silence.
type Phrase struct {
	ID     string
	Chunks []AudioChunk
	Closed bool
}

// Duration is the total speech time across all chunks.
func (p *Phrase) Duration() time.Duration {
	var d time.Duration
	for i := range p.Chunks {
		d += p.Chunks[i].Duration
	}
	return d
}

// PCM concatenates chunk audio in temporal order.
func (p *Phrase) PCM() []byte {
	var n int
	for i := range p.Chunks {
		n += len(p.Chunks[i].PCM)
	}
	out := make([]byte, 0, n)
	for i := range p.Chunks {
		out = append(out, p.Chunks[i].PCM...)
	}
	return out
}

// Text joins the non-empty chunk transcripts in order.
func (p *Phrase) Text() string {
	parts := make([]string, 0, len(p.Chunks))
	for i := range p.Chunks {
		t := strings.TrimSpace(p.Chunks[i].Transcript)
		if t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}
