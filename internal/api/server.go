package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"chat-gateway/internal/coordinator"
	"chat-gateway/internal/invoker"
	"chat-gateway/internal/kv"
	"chat-gateway/internal/ratelimit"
	"chat-gateway/internal/telemetry"
)

// Server wires HTTP handlers for the gateway.
type Server struct {
	coord   *coordinator.Coordinator
	invoker invoker.Invoker
	limiter *ratelimit.Limiter
	logger  zerolog.Logger
}

// New constructs the API server. The limiter may be nil to disable
// submission throttling.
func New(coord *coordinator.Coordinator, inv invoker.Invoker, limiter *ratelimit.Limiter, logger zerolog.Logger) *Server {
	return &Server{
		coord:   coord,
		invoker: inv,
		limiter: limiter,
		logger:  logger,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger(s.logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Post("/api/ask", s.handleAsk)
	r.Get("/api/result/{jobID}", s.handleResult)
	r.Post("/api/complete", s.handleComplete)
	r.Post("/api/chat", s.handleChat)
	return r
}

type askRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
	JobID     string `json:"jobId"`
}

type askResponse struct {
	JobID string `json:"jobId"`
}

// handleAsk acknowledges a submission as soon as the pending record is
// durably written; the expensive work is deferred to the polling path.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if s.limiter != nil {
		key := req.SessionID
		if key == "" {
			key = r.RemoteAddr
		}
		allowed, err := s.limiter.Allow(r.Context(), key)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "rate limit error")
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			writeError(w, http.StatusTooManyRequests, "rate limited")
			return
		}
	}

	job, err := s.coord.Create(r.Context(), req.JobID, req.Message, req.SessionID)
	if err != nil {
		switch {
		case errors.Is(err, coordinator.ErrEmptyMessage):
			writeError(w, http.StatusBadRequest, "missing message")
		case errors.Is(err, kv.ErrUnavailable):
			writeError(w, http.StatusServiceUnavailable, "store unavailable")
		default:
			writeError(w, http.StatusInternalServerError, "submission failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, askResponse{JobID: job.ID})
}

type resultResponse struct {
	Status  string `json:"status"`
	Answer  string `json:"answer,omitempty"`
	Error   string `json:"error,omitempty"`
	Delayed bool   `json:"delayed,omitempty"`
}

// handleResult reports the job's state, advancing it when this poll wins the
// trigger lock. A completed job — even a failed one — is a successful poll.
func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	res, err := s.coord.Advance(r.Context(), jobID)
	if err != nil {
		switch {
		case errors.Is(err, coordinator.ErrMissingJobID):
			writeError(w, http.StatusBadRequest, "missing job id")
		case errors.Is(err, kv.ErrUnavailable):
			writeError(w, http.StatusServiceUnavailable, "store unavailable")
		default:
			writeError(w, http.StatusInternalServerError, "poll failed")
		}
		return
	}

	switch res.State {
	case coordinator.StateNotFound:
		writeError(w, http.StatusNotFound, "not found")
	case coordinator.StatePending:
		writeJSON(w, http.StatusAccepted, resultResponse{Status: "pending"})
	case coordinator.StateReady:
		writeJSON(w, http.StatusOK, resultResponse{Status: "ready", Answer: res.Answer, Delayed: res.Delayed})
	case coordinator.StateError:
		writeJSON(w, http.StatusOK, resultResponse{Status: "error", Error: res.Error})
	default:
		writeError(w, http.StatusInternalServerError, "unknown poll state")
	}
}

type completeRequest struct {
	JobID  string `json:"jobId"`
	Answer string `json:"answer"`
}

// handleComplete lets the worker push its answer directly instead of waiting
// for a poll-triggered call to return.
func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if _, err := s.coord.Complete(r.Context(), req.JobID, req.Answer); err != nil {
		switch {
		case errors.Is(err, coordinator.ErrMissingJobID):
			writeError(w, http.StatusBadRequest, "missing job id")
		case errors.Is(err, kv.ErrUnavailable):
			writeError(w, http.StatusServiceUnavailable, "store unavailable")
		default:
			writeError(w, http.StatusInternalServerError, "complete failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

// handleChat proxies a single message straight through to the worker and
// waits for the reply. Useful when the caller can afford to block.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "missing message")
		return
	}

	answer, err := s.invoker.Invoke(r.Context(), invoker.Request{
		Message:   req.Message,
		SessionID: req.SessionID,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("chat passthrough failed")
		writeError(w, http.StatusBadGateway, "worker error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"answer": answer})
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
