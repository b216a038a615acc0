package audio

import (
	"math"
	"time"
)

const (
	// SampleRate is the narrow-band telephony rate.
	SampleRate = 8000

	// FrameDuration is the fixed time-slice each transport frame represents.
	FrameDuration = 20 * time.Millisecond

	// FrameBytes is one frame of 8-bit u-law at SampleRate.
	FrameBytes = 160

	// PCMBytesPerSecond is the PCM16 byte rate at SampleRate.
	PCMBytesPerSecond = SampleRate * 2
)

// RMS computes the root-mean-square loudness of PCM16 samples.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// PCMDuration converts a PCM16 byte count into wall-clock audio time.
func PCMDuration(n int) time.Duration {
	return time.Duration(n) * time.Second / PCMBytesPerSecond
}

// SliceULawFrames cuts a complete u-law clip into transport frames,
// padding the tail with silence so the last frame is full-sized.
func SliceULawFrames(clip []byte) [][]byte {
	if len(clip) == 0 {
		return nil
	}
	n := (len(clip) + FrameBytes - 1) / FrameBytes
	frames := make([][]byte, 0, n)
	for off := 0; off < len(clip); off += FrameBytes {
		end := off + FrameBytes
		if end <= len(clip) {
			frames = append(frames, clip[off:end])
			continue
		}
		tail := make([]byte, FrameBytes)
		copy(tail, clip[off:])
		for i := len(clip) - off; i < FrameBytes; i++ {
			tail[i] = ULawSilence
		}
		frames = append(frames, tail)
	}
	return frames
}

// SilenceFrame returns one frame of u-law silence, used to hold a stream open.
func SilenceFrame() []byte {
	frame := make([]byte, FrameBytes)
	for i := range frame {
		frame[i] = ULawSilence
	}
	return frame
}

// FrameAssembler rebuffers an incremental u-law byte stream into fixed-size
// frames so streamed and pre-rendered audio produce identical framing.
type FrameAssembler struct {
	buf []byte
}

// Push appends stream bytes and returns every complete frame now available.
func (a *FrameAssembler) Push(b []byte) [][]byte {
	a.buf = append(a.buf, b...)
	var frames [][]byte
	for len(a.buf) >= FrameBytes {
		frame := make([]byte, FrameBytes)
		copy(frame, a.buf[:FrameBytes])
		a.buf = a.buf[FrameBytes:]
		frames = append(frames, frame)
	}
	return frames
}

// Flush returns the final padded frame, or nil if no partial data remains.
func (a *FrameAssembler) Flush() []byte {
	if len(a.buf) == 0 {
		return nil
	}
	frame := make([]byte, FrameBytes)
	n := copy(frame, a.buf)
	for i := n; i < FrameBytes; i++ {
		frame[i] = ULawSilence
	}
	a.buf = a.buf[:0]
	return frame
}
