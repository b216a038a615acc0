package audio

// G.711 u-law codec for 8 kHz narrow-band telephony audio.

const (
	ulawBias = 0x84
	ulawClip = 32635

	// ULawSilence is the u-law byte closest to digital zero, used for padding.
	ULawSilence = 0xFF
)

// DecodeULaw expands u-law bytes into linear PCM16 samples.
func DecodeULaw(ulaw []byte) []int16 {
	out := make([]int16, len(ulaw))
	for i, b := range ulaw {
		out[i] = ulawToLinear(b)
	}
	return out
}

// EncodeULaw compresses linear PCM16 samples into u-law bytes.
func EncodeULaw(pcm []int16) []byte {
	out := make([]byte, len(pcm))
	for i, s := range pcm {
		out[i] = linearToULaw(s)
	}
	return out
}

// PCM16Bytes serializes samples as 16-bit little-endian, the layout used
// for chunk buffers and WAV payloads.
func PCM16Bytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

func ulawToLinear(u byte) int16 {
	u = ^u
	t := (int(u&0x0F)<<3 + ulawBias) << ((u & 0x70) >> 4)
	if u&0x80 != 0 {
		return int16(ulawBias - t)
	}
	return int16(t - ulawBias)
}

func linearToULaw(s int16) byte {
	x := int(s)
	var sign byte
	if x < 0 {
		x = -x
		sign = 0x80
	}
	if x > ulawClip {
		x = ulawClip
	}
	x += ulawBias

	exponent := 7
	for mask := 0x4000; exponent > 0 && x&mask == 0; exponent-- {
		mask >>= 1
	}
	mantissa := (x >> (exponent + 3)) & 0x0F
	return ^(sign | byte(exponent<<4) | byte(mantissa))
}
