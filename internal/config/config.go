package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the voice call service.
type Config struct {
	BindAddr         string
	MetricsNamespace string
	ShutdownTimeout  time.Duration
	PublicBaseURL    string
	CallTriggerToken string

	// VAD and phrase segmentation.
	SpeechRMSThreshold  float64
	ChunkSilence        time.Duration
	DoneSpeakingSilence time.Duration
	MinChunkDuration    time.Duration
	MaxChunkDuration    time.Duration
	MaxPhraseDuration   time.Duration
	LeadInDuration      time.Duration

	// Barge-in detection while assistant audio is playing.
	BargeInMultiplier float64
	BargeInFrames     int

	// Playback behavior.
	PlaybackClearMargin time.Duration
	StreamingTTS        bool
	BackpressureMode    string

	// Silence watchdog.
	MaxSilence       time.Duration
	ReminderInterval time.Duration
	WatchdogInterval time.Duration

	// Per-turn provider timeouts.
	TranscribeTimeout time.Duration
	ReplyTimeout      time.Duration
	SynthesizeTimeout time.Duration

	// Providers.
	VoiceProvider      string
	OpenAIAPIKey       string
	OpenAIChatModel    string
	Language           string
	SystemInstructions string
	MaxTurns           int

	ElevenLabsAPIKey  string
	ElevenLabsBaseURL string
	ElevenLabsVoiceID string
	ElevenLabsModelID string
	ElevenLabsSpeed   float64

	// Static utterances spoken outside the reasoning engine.
	GreetingText string
	ReminderText string
	GoodbyeText  string
	ApologyText  string

	// Storage.
	DatabaseURL string
	CaptureDir  string

	// Outbound call origination.
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string
	TwilioAPIBaseURL string
	CalleeNumber     string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "carecall"),
		ShutdownTimeout:  15 * time.Second,
		PublicBaseURL:    strings.TrimRight(envTrimmed("PUBLIC_BASE_URL"), "/"),
		CallTriggerToken: envTrimmed("CALL_TRIGGER_TOKEN"),

		SpeechRMSThreshold:  750,
		ChunkSilence:        550 * time.Millisecond,
		DoneSpeakingSilence: 1200 * time.Millisecond,
		MinChunkDuration:    900 * time.Millisecond,
		MaxChunkDuration:    10 * time.Second,
		MaxPhraseDuration:   45 * time.Second,
		LeadInDuration:      350 * time.Millisecond,

		BargeInMultiplier: 1.25,
		BargeInFrames:     2,

		PlaybackClearMargin: 250 * time.Millisecond,
		StreamingTTS:        false,
		BackpressureMode:    envOrDefault("QUEUE_BACKPRESSURE", "block"),

		MaxSilence:       30 * time.Second,
		ReminderInterval: 10 * time.Second,
		WatchdogInterval: 500 * time.Millisecond,

		TranscribeTimeout: 15 * time.Second,
		ReplyTimeout:      20 * time.Second,
		SynthesizeTimeout: 20 * time.Second,

		VoiceProvider:   envOrDefault("VOICE_PROVIDER", "auto"),
		OpenAIAPIKey:    envTrimmed("OPENAI_API_KEY"),
		OpenAIChatModel: envOrDefault("OPENAI_CHAT_MODEL", "gpt-4o-mini"),
		Language:        envOrDefault("LANGUAGE", "en"),
		SystemInstructions: envOrDefault("SYSTEM_INSTRUCTIONS",
			"You are a friendly phone assistant named Alice. "+
				"You speak in a natural, conversational tone and check in on the caller. "+
				"Replies must be three sentences or fewer. "+
				"Do not use lists, bullets, numbering, emoji, slang, or symbols. "+
				"Write one short response only."),
		MaxTurns: 3,

		ElevenLabsAPIKey:  envTrimmed("ELEVENLABS_API_KEY"),
		ElevenLabsBaseURL: envOrDefault("ELEVENLABS_BASE_URL", "https://api.elevenlabs.io"),
		// Warm female premade voice, matches the phone persona.
		ElevenLabsVoiceID: envOrDefault("ELEVENLABS_VOICE_ID", "cgSgspJ2msm6clMCkdW9"),
		ElevenLabsModelID: envOrDefault("ELEVENLABS_MODEL_ID", "eleven_multilingual_v2"),
		ElevenLabsSpeed:   1.0,

		GreetingText: envOrDefault("GREETING_TEXT", "Hello, this is Alice. How are you doing today?"),
		ReminderText: envOrDefault("REMINDER_TEXT", "Hello? Are you still there?"),
		GoodbyeText:  envOrDefault("GOODBYE_TEXT", "Goodbye."),
		ApologyText:  envOrDefault("APOLOGY_TEXT", "Sorry, I missed that. Could you say it again?"),

		DatabaseURL: envTrimmed("DATABASE_URL"),
		CaptureDir:  envTrimmed("CAPTURE_DIR"),

		TwilioAccountSID: envTrimmed("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  envTrimmed("TWILIO_AUTH_TOKEN"),
		TwilioFromNumber: envTrimmed("TWILIO_FROM_NUMBER"),
		TwilioAPIBaseURL: envOrDefault("TWILIO_API_BASE_URL", "https://api.twilio.com/2010-04-01"),
		CalleeNumber:     envTrimmed("CALLEE_NUMBER"),
	}

	var err error
	if cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout); err != nil {
		return Config{}, err
	}
	if cfg.SpeechRMSThreshold, err = floatFromEnv("MIN_SPEECH_RMS_THRESHOLD", cfg.SpeechRMSThreshold); err != nil {
		return Config{}, err
	}
	if cfg.ChunkSilence, err = durationFromEnv("CHUNK_SILENCE_DURATION", cfg.ChunkSilence); err != nil {
		return Config{}, err
	}
	if cfg.DoneSpeakingSilence, err = durationFromEnv("DONE_SPEAKING_SILENCE_DURATION", cfg.DoneSpeakingSilence); err != nil {
		return Config{}, err
	}
	if cfg.MinChunkDuration, err = durationFromEnv("MIN_CHUNK_DURATION", cfg.MinChunkDuration); err != nil {
		return Config{}, err
	}
	if cfg.MaxChunkDuration, err = durationFromEnv("MAX_CHUNK_DURATION", cfg.MaxChunkDuration); err != nil {
		return Config{}, err
	}
	if cfg.MaxPhraseDuration, err = durationFromEnv("MAX_PHRASE_DURATION", cfg.MaxPhraseDuration); err != nil {
		return Config{}, err
	}
	if cfg.LeadInDuration, err = durationFromEnv("LEAD_IN_DURATION", cfg.LeadInDuration); err != nil {
		return Config{}, err
	}
	if cfg.BargeInMultiplier, err = floatFromEnv("BARGE_IN_MULTIPLIER", cfg.BargeInMultiplier); err != nil {
		return Config{}, err
	}
	if cfg.BargeInFrames, err = intFromEnv("BARGE_IN_CONSEC_FRAMES", cfg.BargeInFrames); err != nil {
		return Config{}, err
	}
	if cfg.PlaybackClearMargin, err = durationFromEnv("PLAYBACK_CLEAR_MARGIN", cfg.PlaybackClearMargin); err != nil {
		return Config{}, err
	}
	if cfg.StreamingTTS, err = boolFromEnv("STREAMING_TTS", cfg.StreamingTTS); err != nil {
		return Config{}, err
	}
	if cfg.MaxSilence, err = durationFromEnv("MAX_SILENCE", cfg.MaxSilence); err != nil {
		return Config{}, err
	}
	if cfg.ReminderInterval, err = durationFromEnv("REMINDER_INTERVAL", cfg.ReminderInterval); err != nil {
		return Config{}, err
	}
	if cfg.WatchdogInterval, err = durationFromEnv("WATCHDOG_INTERVAL", cfg.WatchdogInterval); err != nil {
		return Config{}, err
	}
	if cfg.TranscribeTimeout, err = durationFromEnv("TRANSCRIBE_TIMEOUT", cfg.TranscribeTimeout); err != nil {
		return Config{}, err
	}
	if cfg.ReplyTimeout, err = durationFromEnv("REPLY_TIMEOUT", cfg.ReplyTimeout); err != nil {
		return Config{}, err
	}
	if cfg.SynthesizeTimeout, err = durationFromEnv("SYNTHESIZE_TIMEOUT", cfg.SynthesizeTimeout); err != nil {
		return Config{}, err
	}
	if cfg.MaxTurns, err = intFromEnv("MAX_TURNS", cfg.MaxTurns); err != nil {
		return Config{}, err
	}
	if cfg.ElevenLabsSpeed, err = floatFromEnv("ELEVENLABS_SPEED", cfg.ElevenLabsSpeed); err != nil {
		return Config{}, err
	}

	if cfg.SpeechRMSThreshold <= 0 {
		return Config{}, fmt.Errorf("MIN_SPEECH_RMS_THRESHOLD must be positive")
	}
	if cfg.ChunkSilence <= 0 || cfg.DoneSpeakingSilence <= 0 {
		return Config{}, fmt.Errorf("silence durations must be positive")
	}
	if cfg.ChunkSilence >= cfg.DoneSpeakingSilence {
		return Config{}, fmt.Errorf("CHUNK_SILENCE_DURATION must be shorter than DONE_SPEAKING_SILENCE_DURATION")
	}
	if cfg.MinChunkDuration <= 0 || cfg.MaxChunkDuration <= cfg.MinChunkDuration {
		return Config{}, fmt.Errorf("MIN_CHUNK_DURATION must be positive and below MAX_CHUNK_DURATION")
	}
	if cfg.MaxPhraseDuration < cfg.MaxChunkDuration {
		return Config{}, fmt.Errorf("MAX_PHRASE_DURATION must be at least MAX_CHUNK_DURATION")
	}
	if cfg.LeadInDuration < 0 {
		return Config{}, fmt.Errorf("LEAD_IN_DURATION must not be negative")
	}
	if cfg.BargeInFrames < 1 {
		return Config{}, fmt.Errorf("BARGE_IN_CONSEC_FRAMES must be at least 1")
	}
	if cfg.MaxSilence > 0 && cfg.MaxSilence < 5*time.Second {
		return Config{}, fmt.Errorf("MAX_SILENCE must be at least 5s (or <= 0 to disable)")
	}
	if cfg.WatchdogInterval <= 0 {
		return Config{}, fmt.Errorf("WATCHDOG_INTERVAL must be positive")
	}
	if cfg.MaxTurns < 1 {
		return Config{}, fmt.Errorf("MAX_TURNS must be at least 1")
	}
	switch cfg.BackpressureMode {
	case "block", "drop_oldest":
	default:
		return Config{}, fmt.Errorf("QUEUE_BACKPRESSURE must be block or drop_oldest, got %q", cfg.BackpressureMode)
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func envTrimmed(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(envTrimmed(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
