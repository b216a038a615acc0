package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/youngbull/carecall/internal/reliability"
)

const (
	elevenLabsAttempts    = 3
	elevenLabsBackoffBase = 250 * time.Millisecond
	elevenLabsBackoffCap  = 2 * time.Second
)

// ElevenLabsSynthesizer renders text as u-law 8 kHz audio through the
// ElevenLabs text-to-speech API. Requesting ulaw_8000 directly avoids any
// local resampling: the response bytes are already telephony frames.
type ElevenLabsSynthesizer struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	voiceID    string
	modelID    string
	speed      float64
}

func NewElevenLabsSynthesizer(baseURL, apiKey, voiceID, modelID string, speed float64) (*ElevenLabsSynthesizer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("elevenlabs: apiKey must not be empty")
	}
	if voiceID == "" {
		return nil, fmt.Errorf("elevenlabs: voiceID must not be empty")
	}
	return &ElevenLabsSynthesizer{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		voiceID:    voiceID,
		modelID:    modelID,
		speed:      speed,
	}, nil
}

type ttsRequest struct {
	Text          string         `json:"text"`
	ModelID       string         `json:"model_id,omitempty"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

type voiceSettings struct {
	Speed float64 `json:"speed,omitempty"`
}

// Synthesize renders the full clip before returning.
func (s *ElevenLabsSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	resp, err := s.post(ctx, s.endpoint(""), text)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	clip, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: read audio: %w", err)
	}
	return clip, nil
}

// Stream renders through the streaming endpoint, delivering audio bytes as
// the provider produces them so playback can start before synthesis ends.
func (s *ElevenLabsSynthesizer) Stream(ctx context.Context, text string) (<-chan SynthChunk, error) {
	resp, err := s.post(ctx, s.endpoint("/stream"), text)
	if err != nil {
		return nil, err
	}

	out := make(chan SynthChunk, 8)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		buf := make([]byte, 4096)
		for {
			n, err := resp.Body.Read(buf)
			if n > 0 {
				audio := make([]byte, n)
				copy(audio, buf[:n])
				select {
				case out <- SynthChunk{Audio: audio}:
				case <-ctx.Done():
					return
				}
			}
			if err == io.EOF {
				return
			}
			if err != nil {
				select {
				case out <- SynthChunk{Err: fmt.Errorf("elevenlabs: stream read: %w", err)}:
				case <-ctx.Done():
				}
				return
			}
		}
	}()
	return out, nil
}

func (s *ElevenLabsSynthesizer) endpoint(suffix string) string {
	return fmt.Sprintf("%s/v1/text-to-speech/%s%s?output_format=ulaw_8000", s.baseURL, s.voiceID, suffix)
}

// post issues the synthesis request, retrying transient failures with capped
// exponential backoff. The caller owns the response body on success.
func (s *ElevenLabsSynthesizer) post(ctx context.Context, url, text string) (*http.Response, error) {
	req := ttsRequest{Text: text, ModelID: s.modelID}
	if s.speed != 0 && s.speed != 1 {
		req.VoiceSettings = &voiceSettings{Speed: s.speed}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < elevenLabsAttempts; attempt++ {
		if attempt > 0 {
			wait := reliability.ExponentialBackoff(attempt-1, elevenLabsBackoffBase, elevenLabsBackoffCap)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("elevenlabs: build request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("xi-api-key", s.apiKey)

		resp, err := s.httpClient.Do(httpReq)
		if err != nil {
			lastErr = fmt.Errorf("elevenlabs: request: %w", err)
			continue
		}
		if resp.StatusCode == http.StatusOK {
			return resp, nil
		}

		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		lastErr = fmt.Errorf("elevenlabs: status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
		if !reliability.IsRetryableHTTPStatus(resp.StatusCode) {
			return nil, lastErr
		}
	}
	return nil, lastErr
}
