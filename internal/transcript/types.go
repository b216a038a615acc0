package transcript

import (
	"context"
	"time"
)

// Line is one caller or assistant utterance in a call transcript.
type Line struct {
	ID          string    `json:"id"`
	CallID      string    `json:"call_id"`
	Role        string    `json:"role"`
	Text        string    `json:"text"`
	Interrupted bool      `json:"interrupted"`
	CreatedAt   time.Time `json:"created_at"`
}

const (
	RoleCaller    = "caller"
	RoleAssistant = "assistant"
)

// Store persists call transcripts.
type Store interface {
	AppendLine(ctx context.Context, line Line) error
	CallLines(ctx context.Context, callID string, limit int) ([]Line, error)
	Close() error
}
