package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/youngbull/carecall/internal/config"
	"github.com/youngbull/carecall/internal/httpapi"
	"github.com/youngbull/carecall/internal/observability"
	"github.com/youngbull/carecall/internal/session"
	"github.com/youngbull/carecall/internal/telephony"
	"github.com/youngbull/carecall/internal/transcript"
	"github.com/youngbull/carecall/internal/voice"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	stages := observability.NewStageWindow(256)

	ctx := context.Background()
	store, err := transcript.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("transcript store init failed: %v", err)
	}
	defer store.Close()

	var (
		transcriber voice.Transcriber
		responder   voice.Responder
		synth       voice.Synthesizer
	)

	providerMode := strings.ToLower(strings.TrimSpace(cfg.VoiceProvider))
	if providerMode == "" {
		providerMode = "auto"
	}

	tryLive := func(fatal bool) bool {
		if cfg.OpenAIAPIKey == "" || cfg.ElevenLabsAPIKey == "" {
			if fatal {
				log.Fatalf("VOICE_PROVIDER=live requires OPENAI_API_KEY and ELEVENLABS_API_KEY")
			}
			return false
		}
		oai, err := voice.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIChatModel, cfg.SystemInstructions)
		if err != nil {
			if fatal {
				log.Fatalf("openai provider init failed: %v", err)
			}
			log.Printf("openai provider unavailable: %v", err)
			return false
		}
		el, err := voice.NewElevenLabsSynthesizer(cfg.ElevenLabsBaseURL, cfg.ElevenLabsAPIKey, cfg.ElevenLabsVoiceID, cfg.ElevenLabsModelID, cfg.ElevenLabsSpeed)
		if err != nil {
			if fatal {
				log.Fatalf("elevenlabs synthesizer init failed: %v", err)
			}
			log.Printf("elevenlabs synthesizer unavailable: %v", err)
			return false
		}
		transcriber = oai
		responder = oai
		synth = el
		log.Printf("voice providers: openai (%s) + elevenlabs", cfg.OpenAIChatModel)
		return true
	}

	useMock := func() {
		transcriber = &voice.MockTranscriber{}
		responder = &voice.MockResponder{}
		synth = &voice.MockSynthesizer{}
		log.Printf("voice providers: mock")
	}

	switch providerMode {
	case "live":
		tryLive(true)
	case "mock":
		useMock()
	case "auto":
		if !tryLive(false) {
			useMock()
		}
	default:
		log.Fatalf("invalid VOICE_PROVIDER: %q (expected auto|live|mock)", cfg.VoiceProvider)
	}

	prompts := voice.NewPromptCache(synth)
	preloadCtx, preloadCancel := context.WithTimeout(ctx, time.Minute)
	if err := prompts.Preload(preloadCtx, cfg.GreetingText, cfg.ReminderText, cfg.GoodbyeText, cfg.ApologyText); err != nil {
		// Calls can still run; the clips render lazily on first use.
		log.Printf("prompt preload failed: %v", err)
	}
	preloadCancel()

	sessions := session.NewManager(2 * time.Hour)
	sessions.SetExpireHook(func(c *session.Call) {
		log.Printf("session: call %s force-expired", c.ID)
		metrics.CallEvents.WithLabelValues(string(session.EndReasonExpired)).Inc()
	})

	var caller *telephony.Caller
	if cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" && cfg.TwilioFromNumber != "" {
		caller, err = telephony.NewCaller(cfg.TwilioAPIBaseURL, cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber)
		if err != nil {
			log.Fatalf("telephony init failed: %v", err)
		}
		log.Printf("outbound calling enabled from %s", cfg.TwilioFromNumber)
	} else {
		log.Printf("outbound calling disabled (telephony credentials not set)")
	}

	orchestrator := voice.NewOrchestrator(cfg, sessions, store, transcriber, responder, synth, prompts, metrics, stages)

	api := httpapi.New(cfg, sessions, orchestrator, caller, store, metrics, stages)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	sessions.StartJanitor(runCtx, 30*time.Second)

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
