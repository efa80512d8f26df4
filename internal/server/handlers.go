package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/phishscope/internal/analysis/core"
	"github.com/xkilldash9x/phishscope/internal/pipeline"
	"github.com/xkilldash9x/phishscope/internal/security"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Evaluator scores a URL on behalf of a session.
type Evaluator interface {
	Evaluate(ctx context.Context, req pipeline.Request) (*core.Verdict, error)
}

// SessionManager issues, inspects and revokes session tokens. Peek must not
// count as an access.
type SessionManager interface {
	Create(callerID string) (string, error)
	Peek(token string) (security.Session, bool)
	Revoke(token string) bool
}

// QuotaReporter reports a caller's remaining request budget.
type QuotaReporter interface {
	Remaining(callerID string) int
}

// CreateSessionRequest is the body of POST /v1/sessions.
type CreateSessionRequest struct {
	CallerID string `json:"caller_id"`
}

// CreateSessionResponse is returned with 201.
type CreateSessionResponse struct {
	Token string `json:"token"`
}

// ScanRequest is the body of POST /v1/scan.
type ScanRequest struct {
	URL          string             `json:"url"`
	ThreatReport *core.ThreatReport `json:"threat_report"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error    string `json:"error"`
	Rejected bool   `json:"rejected,omitempty"`
}

// Handlers serves the REST routes.
type Handlers struct {
	log      *zap.Logger
	pipeline Evaluator
	sessions SessionManager
	quota    QuotaReporter
}

// NewHandlers creates the route handlers. quota may be nil.
func NewHandlers(logger *zap.Logger, evaluator Evaluator, sessions SessionManager, quota QuotaReporter) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		log:      logger.Named("handlers"),
		pipeline: evaluator,
		sessions: sessions,
		quota:    quota,
	}
}

// RegisterRoutes mounts every route on r.
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.HandleHealthCheck)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/sessions", h.HandleCreateSession)
		r.Delete("/sessions/{token}", h.HandleRevokeSession)
		r.Post("/scan", h.HandleScan)
	})
}

// HandleHealthCheck confirms the server is responsive.
func (h *Handlers) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleCreateSession issues a token for the supplied caller.
func (h *Handlers) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	token, err := h.sessions.Create(strings.TrimSpace(req.CallerID))
	if errors.Is(err, security.ErrEmptyCallerID) {
		h.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.log.Error("Failed to create session", zap.Error(err))
		h.respondWithError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	h.respondJSON(w, http.StatusCreated, CreateSessionResponse{Token: token})
}

// HandleRevokeSession ends a session. Unknown tokens are not an error.
func (h *Handlers) HandleRevokeSession(w http.ResponseWriter, r *http.Request) {
	if h.sessions.Revoke(chi.URLParam(r, "token")) {
		h.log.Debug("Session revoked")
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleScan runs the scoring pipeline for one URL.
func (h *Handlers) HandleScan(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		h.respondWithError(w, http.StatusBadRequest, "url is required")
		return
	}

	token := bearerToken(r)
	verdict, err := h.pipeline.Evaluate(r.Context(), pipeline.Request{
		SessionToken: token,
		URL:          req.URL,
		ThreatReport: req.ThreatReport,
	})

	var rejected *pipeline.RejectedError
	switch {
	case err == nil:
		if s, ok := h.sessions.Peek(token); ok {
			h.setRemaining(w, s.CallerID)
		}
		h.respondJSON(w, http.StatusOK, verdict)
	case errors.As(err, &rejected):
		status := http.StatusUnauthorized
		if errors.Is(err, pipeline.ErrRateLimited) {
			status = http.StatusTooManyRequests
			h.setRemaining(w, rejected.CallerID)
		}
		h.respondJSON(w, status, ErrorResponse{Error: rejected.Reason.Error(), Rejected: true})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		h.respondWithError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		h.log.Error("Scan failed", zap.Error(err))
		h.respondWithError(w, http.StatusInternalServerError, "scan failed")
	}
}

func (h *Handlers) setRemaining(w http.ResponseWriter, callerID string) {
	if h.quota == nil || callerID == "" {
		return
	}
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(h.quota.Remaining(callerID)))
}

func bearerToken(r *http.Request) string {
	const prefix = "bearer "
	auth := r.Header.Get("Authorization")
	if len(auth) < len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(auth[len(prefix):])
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

// respondWithError sends a standardized JSON error response.
func (h *Handlers) respondWithError(w http.ResponseWriter, statusCode int, message string) {
	h.respondJSON(w, statusCode, ErrorResponse{Error: message})
}

func (h *Handlers) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error("Failed to encode response", zap.Error(err))
	}
}
