package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"encoding/xml"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/youngbull/carecall/internal/config"
	"github.com/youngbull/carecall/internal/observability"
	"github.com/youngbull/carecall/internal/protocol"
	"github.com/youngbull/carecall/internal/session"
	"github.com/youngbull/carecall/internal/telephony"
	"github.com/youngbull/carecall/internal/transcript"
)

// Orchestrator drives one media-stream connection to completion.
type Orchestrator interface {
	RunCall(ctx context.Context, inbound <-chan protocol.StreamMessage, outbound chan<- protocol.StreamMessage) error
}

type Server struct {
	cfg          config.Config
	sessions     *session.Manager
	orchestrator Orchestrator
	caller       *telephony.Caller
	store        transcript.Store
	metrics      *observability.Metrics
	stages       *observability.StageWindow
	upgrader     websocket.Upgrader
}

func New(cfg config.Config, sessions *session.Manager, orchestrator Orchestrator, caller *telephony.Caller, store transcript.Store, metrics *observability.Metrics, stages *observability.StageWindow) *Server {
	return &Server{
		cfg:          cfg,
		sessions:     sessions,
		orchestrator: orchestrator,
		caller:       caller,
		store:        store,
		metrics:      metrics,
		stages:       stages,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Media streams come from the carrier's backend, not browsers.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/voice", s.handleVoiceWebhook)
	r.Get("/stream", s.handleStream)
	r.Post("/call", s.handleStartCall)

	r.Get("/v1/calls", s.handleActiveCalls)
	r.Get("/v1/calls/{id}/transcript", s.handleTranscript)
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"active_calls": s.sessions.ActiveCount(),
	})
}

// twimlResponse is the call-instruction document the carrier fetches when an
// inbound or originated call connects: bridge the call audio to our stream.
type twimlResponse struct {
	XMLName xml.Name     `xml:"Response"`
	Connect twimlConnect `xml:"Connect"`
}

type twimlConnect struct {
	Stream twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL string `xml:"url,attr"`
}

func (s *Server) handleVoiceWebhook(w http.ResponseWriter, r *http.Request) {
	doc := twimlResponse{Connect: twimlConnect{Stream: twimlStream{URL: s.streamURL(r)}}}
	body, err := xml.Marshal(doc)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "twiml_failed", err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(xml.Header))
	_, _ = w.Write(body)
}

// streamURL builds the websocket address the carrier should connect to.
func (s *Server) streamURL(r *http.Request) string {
	if base := s.cfg.PublicBaseURL; base != "" {
		switch {
		case strings.HasPrefix(base, "https://"):
			return "wss://" + strings.TrimPrefix(base, "https://") + "/stream"
		case strings.HasPrefix(base, "http://"):
			return "ws://" + strings.TrimPrefix(base, "http://") + "/stream"
		default:
			return base + "/stream"
		}
	}
	return "wss://" + r.Host + "/stream"
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.orchestrator == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "orchestrator not configured")
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if s.metrics != nil {
		s.metrics.CallEvents.WithLabelValues("stream_connected").Inc()
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan protocol.StreamMessage, 256)
	outbound := make(chan protocol.StreamMessage, 256)

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := s.orchestrator.RunCall(ctx, inbound, outbound); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("httpapi: call ended with error: %v", err)
		}
		cancel()
	}()

	// All websocket writes happen on this goroutine.
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
				if s.metrics != nil && msg.Event == protocol.EventMedia {
					s.metrics.Frames.WithLabelValues("outbound").Inc()
				}
			}
		}
	}()

	conn.SetReadLimit(1 << 20)

readLoop:
	for {
		// Media frames arrive every 20ms; a long gap means the carrier is gone.
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseStreamMessage(data)
		if err != nil {
			if s.metrics != nil {
				s.metrics.FrameDrops.WithLabelValues("unparseable").Inc()
			}
			continue
		}
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone
	if s.metrics != nil {
		s.metrics.CallEvents.WithLabelValues("stream_disconnected").Inc()
	}
}

type startCallRequest struct {
	To string `json:"to"`
}

type startCallResponse struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
	To     string `json:"to"`
}

func (s *Server) handleStartCall(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
		return
	}
	if s.caller == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "outbound calling not configured")
		return
	}

	var req startCallRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	to := strings.TrimSpace(req.To)
	if to == "" {
		to = s.cfg.CalleeNumber
	}
	if to == "" {
		respondError(w, http.StatusBadRequest, "missing_number", "no destination number configured or provided")
		return
	}

	webhook := strings.TrimRight(s.cfg.PublicBaseURL, "/") + "/voice"
	result, err := s.caller.StartCall(r.Context(), to, webhook)
	if err != nil {
		log.Printf("httpapi: start call to %s: %v", to, err)
		respondError(w, http.StatusBadGateway, "call_failed", err.Error())
		return
	}
	if s.metrics != nil {
		s.metrics.CallEvents.WithLabelValues("originated").Inc()
	}
	respondJSON(w, http.StatusAccepted, startCallResponse{SID: result.SID, Status: result.Status, To: to})
}

func (s *Server) authorized(r *http.Request) bool {
	token := s.cfg.CallTriggerToken
	if token == "" {
		return false
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	bearer, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(bearer), []byte(token)) == 1
}

func (s *Server) handleActiveCalls(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"calls": s.sessions.Active()})
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_call_id", "missing call id")
		return
	}
	if _, err := s.sessions.Get(id); err != nil {
		respondError(w, http.StatusNotFound, "call_not_found", err.Error())
		return
	}
	lines, err := s.store.CallLines(r.Context(), id, 0)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "transcript_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"call_id": id, "lines": lines})
}

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	if s.stages == nil {
		respondJSON(w, http.StatusOK, observability.StageSnapshot{})
		return
	}
	respondJSON(w, http.StatusOK, s.stages.Snapshot())
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
