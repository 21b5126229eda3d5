// Package api provides read-only HTTP handlers for the tablestage server.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ashureev/tablestage/internal/domain"
	"github.com/ashureev/tablestage/internal/session"
	"github.com/go-chi/chi/v5"
)

const (
	defaultHealthTimeout = 5 * time.Second
	defaultHistoryLimit  = 20
	maxHistoryLimit      = 200
)

// Pinger reports database reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker reports whether an optional upstream is serving.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// SessionSource lists live sessions.
type SessionSource interface {
	Sessions() []*session.Session
	Session(id domain.SessionID) (*session.Session, bool)
	ClientCount() int
}

// QueueStats reports action queue backlogs.
type QueueStats interface {
	QueueDepths() map[string]int
}

// StagingHistory lists stored stagings for a region, newest first.
type StagingHistory interface {
	History(ctx context.Context, region domain.RegionID, limit int) ([]domain.StagingRecord, error)
}

// Handler serves the HTTP API.
type Handler struct {
	db            Pinger
	sessions      SessionSource
	queues        QueueStats
	history       StagingHistory
	generator     HealthChecker
	healthTimeout time.Duration
	logger        *slog.Logger
}

// Deps bundles the handler's collaborators.
type Deps struct {
	DB        Pinger
	Sessions  SessionSource
	Queues    QueueStats
	History   StagingHistory
	// Generator is nil when proposals are rule-based only.
	Generator HealthChecker
	Logger    *slog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(deps Deps) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		db:            deps.DB,
		sessions:      deps.Sessions,
		queues:        deps.Queues,
		history:       deps.History,
		generator:     deps.Generator,
		healthTimeout: defaultHealthTimeout,
		logger:        logger,
	}
}

// RegisterRoutes mounts the API under /api.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Get("/sessions", h.ListSessions)
		r.Get("/sessions/{id}", h.GetSession)
		r.Get("/regions/{id}/stagings", h.RegionHistory)
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// Health returns the health status of the API and its dependencies.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.healthTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]interface{}{
		"status":  "healthy",
		"checks":  checks,
		"clients": h.sessions.ClientCount(),
		"queues":  h.queues.QueueDepths(),
	}
	statusCode := http.StatusOK

	if err := h.db.Ping(ctx); err != nil {
		h.logger.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	// The generator is optional: staging degrades to rule-based lists
	// without it, so it never fails the check.
	if h.generator != nil {
		if err := h.generator.Health(ctx); err != nil {
			h.logger.Warn("Generator health check failed", "error", err)
			status["status"] = "degraded"
			checks["generator"] = "unreachable"
		} else {
			checks["generator"] = "ok"
		}
	}

	JSON(w, statusCode, status)
}

// ListSessions returns a summary of every live session.
func (h *Handler) ListSessions(w http.ResponseWriter, _ *http.Request) {
	live := h.sessions.Sessions()
	out := make([]session.Summary, 0, len(live))
	for _, s := range live {
		out = append(out, s.Summary())
	}
	JSON(w, http.StatusOK, map[string]interface{}{"sessions": out})
}

// GetSession returns one session's summary.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := domain.SessionID(chi.URLParam(r, "id"))
	s, ok := h.sessions.Session(id)
	if !ok {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	JSON(w, http.StatusOK, s.Summary())
}

// RegionHistory lists a region's stored stagings, newest first.
func (h *Handler) RegionHistory(w http.ResponseWriter, r *http.Request) {
	region, err := domain.ParseRegionID(chi.URLParam(r, "id"))
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, convErr := strconv.Atoi(raw)
		if convErr != nil || n <= 0 || n > maxHistoryLimit {
			Error(w, http.StatusBadRequest, "limit must be between 1 and 200")
			return
		}
		limit = n
	}

	records, err := h.history.History(r.Context(), region, limit)
	if err != nil {
		h.logger.Error("Failed to load staging history", "region_id", region, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load staging history")
		return
	}
	if records == nil {
		records = []domain.StagingRecord{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"region_id": region, "stagings": records})
}
