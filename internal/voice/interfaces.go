package voice

import "context"

// Turn is one prior exchange line fed to the reasoning engine.
type Turn struct {
	Role string // "user" or "assistant"
	Text string
}

// Transcriber converts a closed phrase's audio into text.
// wav carries the complete phrase as a mono PCM16 WAV.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte, language string) (string, error)
}

// Responder produces the assistant reply for a transcript, given the
// trimmed conversation history.
type Responder interface {
	Reply(ctx context.Context, history []Turn, userText string) (string, error)
}

// SynthChunk is one piece of a live synthesis stream. Err, when set, ends
// the stream; any audio already delivered remains valid.
type SynthChunk struct {
	Audio []byte // raw u-law 8 kHz bytes, arbitrary length
	Err   error
}

// Synthesizer renders reply text as 8 kHz u-law telephony audio, either as
// one complete clip or as a live stream of byte chunks. Both modes feed the
// same framing path so outbound frames are identical either way.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
	Stream(ctx context.Context, text string) (<-chan SynthChunk, error)
}
