package voice

import "sync"

// Conversation roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// History accumulates the dialogue and serves a bounded window of it to the
// reasoning engine. Telephony turns are short, so a few recent pairs carry
// all the context that matters and keep prompts from growing with call
// length.
type History struct {
	mu       sync.Mutex
	maxTurns int
	turns    []Turn
}

func NewHistory(maxTurns int) *History {
	if maxTurns < 1 {
		maxTurns = 1
	}
	return &History{maxTurns: maxTurns}
}

// AddUser records a caller utterance.
func (h *History) AddUser(text string) { h.add(Turn{Role: RoleUser, Text: text}) }

// AddAssistant records a completed assistant utterance.
func (h *History) AddAssistant(text string) { h.add(Turn{Role: RoleAssistant, Text: text}) }

func (h *History) add(t Turn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = append(h.turns, t)
	if max := h.maxTurns * 2; len(h.turns) > max {
		h.turns = append(h.turns[:0:0], h.turns[len(h.turns)-max:]...)
	}
}

// Window returns the retained turns, oldest first.
func (h *History) Window() []Turn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Turn(nil), h.turns...)
}

// Len reports the number of retained turns.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.turns)
}
