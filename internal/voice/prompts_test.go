package voice

import (
	"context"
	"sync/atomic"
	"testing"
)

type countingSynth struct {
	MockSynthesizer
	calls atomic.Int64
}

func (c *countingSynth) Synthesize(ctx context.Context, text string) ([]byte, error) {
	c.calls.Add(1)
	return c.MockSynthesizer.Synthesize(ctx, text)
}

func TestPromptCacheSynthesizesOnce(t *testing.T) {
	synth := &countingSynth{}
	cache := NewPromptCache(synth)
	ctx := context.Background()

	first, err := cache.Clip(ctx, "Hello, this is Alice.")
	if err != nil {
		t.Fatalf("Clip() error = %v", err)
	}
	second, err := cache.Clip(ctx, "Hello, this is Alice.")
	if err != nil {
		t.Fatalf("Clip() error = %v", err)
	}
	if len(first) == 0 || len(second) != len(first) {
		t.Fatalf("cached clip mismatch: %d vs %d bytes", len(first), len(second))
	}
	if got := synth.calls.Load(); got != 1 {
		t.Fatalf("synthesize calls = %d, want 1", got)
	}
}

func TestPromptCachePreloadSkipsEmpty(t *testing.T) {
	synth := &countingSynth{}
	cache := NewPromptCache(synth)
	if err := cache.Preload(context.Background(), "Goodbye.", "", "Are you there?"); err != nil {
		t.Fatalf("Preload() error = %v", err)
	}
	if got := synth.calls.Load(); got != 2 {
		t.Fatalf("synthesize calls = %d, want 2", got)
	}
}
