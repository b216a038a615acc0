package voice

// BargeInDetector decides when caller speech should interrupt playback.
// Playback leaks into the inbound leg as echo on some carriers, so the bar
// is higher than the plain speech threshold: a raised RMS floor sustained
// over consecutive frames.
type BargeInDetector struct {
	threshold   float64
	needFrames  int
	consecutive int
}

func NewBargeInDetector(speechThreshold, multiplier float64, consecFrames int) *BargeInDetector {
	if multiplier < 1 {
		multiplier = 1
	}
	if consecFrames < 1 {
		consecFrames = 1
	}
	return &BargeInDetector{
		threshold:  speechThreshold * multiplier,
		needFrames: consecFrames,
	}
}

// Observe feeds one frame's RMS and reports whether barge-in fires on it.
// The streak resets after firing so one sustained utterance triggers once.
func (d *BargeInDetector) Observe(rms float64) bool {
	if rms < d.threshold {
		d.consecutive = 0
		return false
	}
	d.consecutive++
	if d.consecutive >= d.needFrames {
		d.consecutive = 0
		return true
	}
	return false
}

// Reset clears the streak, used when playback starts or stops.
func (d *BargeInDetector) Reset() {
	d.consecutive = 0
}
