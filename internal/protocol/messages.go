package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// EventType identifies media-stream payload variants.
type EventType string

const (
	EventConnected EventType = "connected"
	EventStart     EventType = "start"
	EventMedia     EventType = "media"
	EventStop      EventType = "stop"
	EventClear     EventType = "clear"
	EventMark      EventType = "mark"
)

// FrameBytes is the size of one encoded audio frame: 20 ms of 8 kHz mono u-law.
const FrameBytes = 160

var ErrUnsupportedEvent = errors.New("unsupported stream event")

type Envelope struct {
	Event EventType `json:"event"`
}

// StartPayload carries stream identifiers from the telephony side.
type StartPayload struct {
	StreamSID  string   `json:"streamSid"`
	AccountSID string   `json:"accountSid,omitempty"`
	CallSID    string   `json:"callSid,omitempty"`
	Tracks     []string `json:"tracks,omitempty"`
}

// MediaPayload carries one base64-encoded u-law frame.
type MediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

type MarkPayload struct {
	Name string `json:"name"`
}

// StreamMessage is the discrete envelope exchanged over the media stream,
// inbound and outbound.
type StreamMessage struct {
	Event     EventType     `json:"event"`
	StreamSID string        `json:"streamSid,omitempty"`
	Start     *StartPayload `json:"start,omitempty"`
	Media     *MediaPayload `json:"media,omitempty"`
	Mark      *MarkPayload  `json:"mark,omitempty"`
}

// ParseStreamMessage decodes one inbound envelope and validates the fields
// required for its event type.
func ParseStreamMessage(raw []byte) (StreamMessage, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return StreamMessage{}, fmt.Errorf("invalid envelope: %w", err)
	}

	var msg StreamMessage
	switch env.Event {
	case EventConnected:
		return StreamMessage{Event: EventConnected}, nil
	case EventStart:
		if err := json.Unmarshal(raw, &msg); err != nil {
			return StreamMessage{}, err
		}
		if msg.Start == nil || msg.Start.StreamSID == "" {
			return StreamMessage{}, errors.New("start event missing streamSid")
		}
		return msg, nil
	case EventMedia:
		if err := json.Unmarshal(raw, &msg); err != nil {
			return StreamMessage{}, err
		}
		if msg.Media == nil || msg.Media.Payload == "" {
			return StreamMessage{}, errors.New("media event missing payload")
		}
		return msg, nil
	case EventStop:
		if err := json.Unmarshal(raw, &msg); err != nil {
			return StreamMessage{}, err
		}
		return msg, nil
	case EventMark:
		if err := json.Unmarshal(raw, &msg); err != nil {
			return StreamMessage{}, err
		}
		return msg, nil
	default:
		return StreamMessage{}, ErrUnsupportedEvent
	}
}

// DecodeFrame unpacks a media payload into raw u-law bytes and rejects
// payloads that are not exactly one frame.
func DecodeFrame(m *MediaPayload) ([]byte, error) {
	if m == nil {
		return nil, errors.New("nil media payload")
	}
	ulaw, err := base64.StdEncoding.DecodeString(m.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode media payload: %w", err)
	}
	if len(ulaw) != FrameBytes {
		return nil, fmt.Errorf("media payload is %d bytes, want %d", len(ulaw), FrameBytes)
	}
	return ulaw, nil
}

// NewMediaMessage wraps one u-law frame for outbound delivery.
func NewMediaMessage(streamSID string, frame []byte) StreamMessage {
	return StreamMessage{
		Event:     EventMedia,
		StreamSID: streamSID,
		Media:     &MediaPayload{Payload: base64.StdEncoding.EncodeToString(frame)},
	}
}

// NewClearMessage instructs the far end to discard any buffered audio.
// Used exclusively for barge-in flush.
func NewClearMessage(streamSID string) StreamMessage {
	return StreamMessage{Event: EventClear, StreamSID: streamSID}
}
