package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want :8080", cfg.BindAddr)
	}
	if cfg.SpeechRMSThreshold != 750 {
		t.Fatalf("SpeechRMSThreshold = %v, want 750", cfg.SpeechRMSThreshold)
	}
	if cfg.ChunkSilence >= cfg.DoneSpeakingSilence {
		t.Fatalf("chunk silence %v should be below done-speaking silence %v", cfg.ChunkSilence, cfg.DoneSpeakingSilence)
	}
	if cfg.MaxSilence <= 0 {
		t.Fatalf("silence timeout should be enabled by default, got %v", cfg.MaxSilence)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("MIN_SPEECH_RMS_THRESHOLD", "500")
	t.Setenv("CHUNK_SILENCE_DURATION", "300ms")
	t.Setenv("DONE_SPEAKING_SILENCE_DURATION", "900ms")
	t.Setenv("MAX_SILENCE", "45s")
	t.Setenv("STREAMING_TTS", "true")
	t.Setenv("QUEUE_BACKPRESSURE", "drop_oldest")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SpeechRMSThreshold != 500 {
		t.Fatalf("SpeechRMSThreshold = %v, want 500", cfg.SpeechRMSThreshold)
	}
	if cfg.ChunkSilence != 300*time.Millisecond {
		t.Fatalf("ChunkSilence = %v, want 300ms", cfg.ChunkSilence)
	}
	if cfg.MaxSilence != 45*time.Second {
		t.Fatalf("MaxSilence = %v, want 45s", cfg.MaxSilence)
	}
	if !cfg.StreamingTTS {
		t.Fatalf("StreamingTTS should be true")
	}
	if cfg.BackpressureMode != "drop_oldest" {
		t.Fatalf("BackpressureMode = %q, want drop_oldest", cfg.BackpressureMode)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"bad threshold", "MIN_SPEECH_RMS_THRESHOLD", "-1"},
		{"bad duration", "CHUNK_SILENCE_DURATION", "soon"},
		{"inverted silences", "CHUNK_SILENCE_DURATION", "2s"},
		{"tiny watchdog", "MAX_SILENCE", "1s"},
		{"bad backpressure", "QUEUE_BACKPRESSURE", "random"},
		{"bad bool", "STREAMING_TTS", "maybe"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() should fail for %s=%s", tc.key, tc.value)
			}
		})
	}
}
