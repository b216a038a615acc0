package voice

import (
	"time"

	"github.com/google/uuid"

	"github.com/youngbull/carecall/internal/audio"
)

// SegmenterConfig carries the VAD and phrase segmentation tuning.
type SegmenterConfig struct {
	SpeechRMSThreshold  float64
	ChunkSilence        time.Duration
	DoneSpeakingSilence time.Duration
	MinChunkDuration    time.Duration
	MaxChunkDuration    time.Duration
	MaxPhraseDuration   time.Duration
	LeadInDuration      time.Duration
}

// FrameVerdict is the segmenter's output for a single decoded frame.
type FrameVerdict struct {
	Speech bool
	RMS    float64

	// Chunk is a completed speech chunk, nil if none closed on this frame.
	Chunk *AudioChunk
	// ChunkDiscarded reports a below-minimum chunk dropped as likely noise.
	ChunkDiscarded bool
	// PhraseDone asks the assembler to close the open phrase after
	// appending Chunk (when present).
	PhraseDone bool
}

const framePCMBytes = audio.FrameBytes * 2 // PCM16 bytes per 20 ms frame

// Segmenter classifies decoded frames as speech or silence and cuts the
// speech into chunks and phrases.
//
// Two silence thresholds drive the state machine: a short one splits chunks
// inside a phrase (natural pauses must not fragment an utterance into
// separate transcription requests) and a longer one ends the phrase. A
// max-chunk-duration boundary fires before the short-silence check on the
// same frame, so an overlong chunk splits even if silence lands together
// with the cap.
type Segmenter struct {
	cfg SegmenterConfig

	chunkSilenceFrames int
	doneSpeakingFrames int
	minChunkBytes      int
	maxChunkBytes      int
	maxPhraseBytes     int
	leadInBytes        int

	frameIndex  int
	phraseID    string
	chunkIndex  int
	phraseBytes int

	leadIn           []byte
	active           []byte
	activeStartFrame int

	inChunk             bool
	silenceFrames       int
	phraseSilenceFrames int
}

func NewSegmenter(cfg SegmenterConfig) *Segmenter {
	s := &Segmenter{
		cfg:                cfg,
		chunkSilenceFrames: framesFor(cfg.ChunkSilence),
		doneSpeakingFrames: framesFor(cfg.DoneSpeakingSilence),
		minChunkBytes:      pcmBytesFor(cfg.MinChunkDuration),
		maxChunkBytes:      pcmBytesFor(cfg.MaxChunkDuration),
		maxPhraseBytes:     pcmBytesFor(cfg.MaxPhraseDuration),
		leadInBytes:        framesFor(cfg.LeadInDuration) * framePCMBytes,
	}
	if s.chunkSilenceFrames < 1 {
		s.chunkSilenceFrames = 1
	}
	if s.doneSpeakingFrames <= s.chunkSilenceFrames {
		s.doneSpeakingFrames = s.chunkSilenceFrames + 1
	}
	return s
}

// ProcessFrame consumes one decoded 20 ms frame and advances the state
// machine. Frames are assumed contiguous at the transport cadence.
func (s *Segmenter) ProcessFrame(samples []int16) FrameVerdict {
	pcm := audio.PCM16Bytes(samples)
	rms := audio.RMS(samples)
	speech := rms >= s.cfg.SpeechRMSThreshold

	v := FrameVerdict{Speech: speech, RMS: rms}

	if !s.inChunk {
		s.pushLeadIn(pcm)
	}

	if !s.inChunk && speech {
		if s.phraseID == "" {
			s.phraseID = uuid.NewString()
			s.chunkIndex = 0
			s.phraseBytes = 0
		}
		s.inChunk = true
		s.silenceFrames = 0
		s.phraseSilenceFrames = 0
		s.active = append([]byte(nil), s.leadIn...)
		s.activeStartFrame = s.frameIndex - len(s.leadIn)/framePCMBytes
		if s.activeStartFrame < 0 {
			s.activeStartFrame = 0
		}
		s.leadIn = s.leadIn[:0]
	}

	if s.inChunk {
		s.active = append(s.active, pcm...)
		if speech {
			s.silenceFrames = 0
			s.phraseSilenceFrames = 0
		} else {
			s.silenceFrames++
			s.phraseSilenceFrames++
		}

		switch {
		case len(s.active) >= s.maxChunkBytes:
			// Forced boundary mid-speech; stay in the chunk state and
			// keep accumulating the same phrase.
			v.Chunk = s.finalizeChunk()
			s.activeStartFrame = s.frameIndex + 1
		case s.silenceFrames >= s.chunkSilenceFrames:
			if len(s.active) >= s.minChunkBytes {
				v.Chunk = s.finalizeChunk()
			} else {
				v.ChunkDiscarded = true
				s.active = nil
			}
			s.inChunk = false
			s.silenceFrames = 0
		}
	} else if !speech && s.phraseID != "" {
		s.phraseSilenceFrames++
		if s.phraseSilenceFrames >= s.doneSpeakingFrames {
			v.PhraseDone = true
			s.resetPhrase()
		}
	}

	if s.phraseID != "" && s.phraseBytes+len(s.active) >= s.maxPhraseBytes {
		if v.Chunk == nil && s.inChunk && len(s.active) >= s.minChunkBytes {
			v.Chunk = s.finalizeChunk()
		}
		v.PhraseDone = true
		s.resetPhrase()
	}

	s.frameIndex++
	return v
}

// Flush closes whatever is open at call end. An active chunk below the
// minimum duration is discarded rather than emitted.
func (s *Segmenter) Flush() FrameVerdict {
	var v FrameVerdict
	if s.inChunk && len(s.active) >= s.minChunkBytes {
		v.Chunk = s.finalizeChunk()
	} else if s.inChunk {
		v.ChunkDiscarded = true
	}
	if s.phraseID != "" {
		v.PhraseDone = true
	}
	s.resetPhrase()
	return v
}

// Reset drops all segmentation state, including any open phrase. Called on
// barge-in so the interrupting speech starts a fresh phrase.
func (s *Segmenter) Reset() {
	s.resetPhrase()
	s.leadIn = nil
}

func (s *Segmenter) finalizeChunk() *AudioChunk {
	chunk := &AudioChunk{
		PhraseID: s.phraseID,
		Index:    s.chunkIndex,
		PCM:      s.active,
		RMS:      pcmRMS(s.active),
		Start:    time.Duration(s.activeStartFrame) * audio.FrameDuration,
		Duration: audio.PCMDuration(len(s.active)),
	}
	s.chunkIndex++
	s.phraseBytes += len(s.active)
	s.active = nil
	return chunk
}

func (s *Segmenter) resetPhrase() {
	s.phraseID = ""
	s.chunkIndex = 0
	s.phraseBytes = 0
	s.active = nil
	s.inChunk = false
	s.silenceFrames = 0
	s.phraseSilenceFrames = 0
}

func (s *Segmenter) pushLeadIn(pcm []byte) {
	if s.leadInBytes <= 0 {
		return
	}
	s.leadIn = append(s.leadIn, pcm...)
	if over := len(s.leadIn) - s.leadInBytes; over > 0 {
		s.leadIn = s.leadIn[over:]
	}
}

func framesFor(d time.Duration) int {
	return int(d / audio.FrameDuration)
}

func pcmBytesFor(d time.Duration) int {
	return int(d.Seconds() * audio.PCMBytesPerSecond)
}

func pcmRMS(pcm []byte) float64 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}
	return audio.RMS(samples)
}
