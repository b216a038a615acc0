package transcript

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore keeps transcripts for the lifetime of the process. Used when
// no database is configured, and by tests.
type InMemoryStore struct {
	mu    sync.RWMutex
	lines map[string][]Line
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{lines: make(map[string][]Line)}
}

func (s *InMemoryStore) AppendLine(_ context.Context, line Line) error {
	if line.ID == "" {
		line.ID = uuid.NewString()
	}
	if line.CreatedAt.IsZero() {
		line.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines[line.CallID] = append(s.lines[line.CallID], line)
	return nil
}

func (s *InMemoryStore) CallLines(_ context.Context, callID string, limit int) ([]Line, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.lines[callID]
	if limit <= 0 || limit >= len(all) {
		out := make([]Line, len(all))
		copy(out, all)
		return out, nil
	}
	out := make([]Line, limit)
	copy(out, all[len(all)-limit:])
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
