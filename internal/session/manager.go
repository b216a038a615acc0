package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

// EndReason records why a call left the active state.
type EndReason string

const (
	EndReasonHangup   EndReason = "hangup"
	EndReasonIdle     EndReason = "idle_timeout"
	EndReasonError    EndReason = "transport_error"
	EndReasonShutdown EndReason = "shutdown"
	EndReasonExpired  EndReason = "expired"
)

var ErrNotFound = errors.New("call not found")

// Call is the bookkeeping record for one media-stream connection.
type Call struct {
	ID            string    `json:"call_id"`
	StreamSID     string    `json:"stream_sid"`
	TelephonySID  string    `json:"telephony_sid,omitempty"`
	Status        Status    `json:"status"`
	EndReason     EndReason `json:"end_reason,omitempty"`
	Turns         int       `json:"turns"`
	Interruptions int       `json:"interruptions"`
	StartedAt     time.Time `json:"started_at"`
	LastSpeechAt  time.Time `json:"last_speech_at"`
	EndedAt       time.Time `json:"ended_at,omitempty"`
}

// Manager tracks active calls. The live audio state of a call is owned by
// its session controller; the manager only keeps records for metrics,
// idempotent teardown and operator visibility.
type Manager struct {
	mu           sync.RWMutex
	calls        map[string]*Call
	maxCallAge   time.Duration
	onExpire     func(*Call)
}

// NewManager creates a registry that force-expires calls older than maxCallAge
// (a safety net for sessions whose teardown never ran).
func NewManager(maxCallAge time.Duration) *Manager {
	if maxCallAge <= 0 {
		maxCallAge = 2 * time.Hour
	}
	return &Manager{
		calls:      make(map[string]*Call),
		maxCallAge: maxCallAge,
	}
}

func (m *Manager) SetExpireHook(hook func(*Call)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

func (m *Manager) Create(streamSID, telephonySID string) *Call {
	now := time.Now().UTC()
	c := &Call{
		ID:           uuid.NewString(),
		StreamSID:    streamSID,
		TelephonySID: telephonySID,
		Status:       StatusActive,
		StartedAt:    now,
		LastSpeechAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[c.ID] = c
	return clone(c)
}

func (m *Manager) Get(callID string) (*Call, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.calls[callID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(c), nil
}

// MarkSpeech records caller speech activity for operator visibility.
func (m *Manager) MarkSpeech(callID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[callID]
	if !ok {
		return ErrNotFound
	}
	c.LastSpeechAt = time.Now().UTC()
	return nil
}

func (m *Manager) AddTurn(callID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[callID]
	if !ok {
		return ErrNotFound
	}
	c.Turns++
	return nil
}

func (m *Manager) MarkInterruption(callID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[callID]
	if !ok {
		return ErrNotFound
	}
	c.Interruptions++
	return nil
}

// End transitions a call to ended. Ending twice is not an error; the first
// reason wins so teardown stays idempotent.
func (m *Manager) End(callID string, reason EndReason) (*Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[callID]
	if !ok {
		return nil, ErrNotFound
	}
	if c.Status != StatusEnded {
		c.Status = StatusEnded
		c.EndReason = reason
		c.EndedAt = time.Now().UTC()
	}
	return clone(c), nil
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, c := range m.calls {
		if c.Status == StatusActive {
			count++
		}
	}
	return count
}

func (m *Manager) Active() []*Call {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Call, 0, len(m.calls))
	for _, c := range m.calls {
		if c.Status == StatusActive {
			out = append(out, clone(c))
		}
	}
	return out
}

// StartJanitor periodically expires stale records and prunes ended calls.
func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sweep()
			}
		}
	}()
}

func (m *Manager) sweep() {
	now := time.Now().UTC()
	var expired []*Call

	m.mu.Lock()
	for id, c := range m.calls {
		if c.Status == StatusEnded {
			if now.Sub(c.EndedAt) > m.maxCallAge {
				delete(m.calls, id)
			}
			continue
		}
		if now.Sub(c.StartedAt) > m.maxCallAge {
			c.Status = StatusEnded
			c.EndReason = EndReasonExpired
			c.EndedAt = now
			expired = append(expired, clone(c))
		}
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, c := range expired {
			hook(c)
		}
	}
}

func clone(c *Call) *Call {
	out := *c
	return &out
}
