package voice

import (
	"context"
	"fmt"
	"sync"
)

// PromptCache renders static utterances (greeting, silence reminder,
// goodbye, apology) once and serves the cached clips afterwards, so the
// fixed lines of every call cost one synthesis each per process.
type PromptCache struct {
	synth Synthesizer

	mu    sync.RWMutex
	clips map[string][]byte
}

func NewPromptCache(synth Synthesizer) *PromptCache {
	return &PromptCache{synth: synth, clips: make(map[string][]byte)}
}

// Preload renders the given texts up front. Empty strings are skipped.
func (c *PromptCache) Preload(ctx context.Context, texts ...string) error {
	for _, text := range texts {
		if text == "" {
			continue
		}
		if _, err := c.Clip(ctx, text); err != nil {
			return fmt.Errorf("preload prompt %q: %w", text, err)
		}
	}
	return nil
}

// Clip returns the rendered audio for text, synthesizing on first use.
func (c *PromptCache) Clip(ctx context.Context, text string) ([]byte, error) {
	c.mu.RLock()
	clip, ok := c.clips[text]
	c.mu.RUnlock()
	if ok {
		return clip, nil
	}

	clip, err := c.synth.Synthesize(ctx, text)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.clips[text] = clip
	c.mu.Unlock()
	return clip, nil
}
