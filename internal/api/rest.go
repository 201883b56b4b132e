package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"reconf/internal/config"
	"reconf/internal/event"
	"reconf/internal/logging"
	"reconf/internal/metrics"
	"reconf/internal/watcher"
)

// Handlers bundles the subsystem pieces the HTTP surface exposes.
type Handlers struct {
	Manager   *config.Manager
	Watcher   *watcher.Watcher
	Bus       *event.Bus
	Logger    *logging.Logger
	Registry  *metrics.Registry
	AuthToken string
}

// RegisterRoutes wires the REST, metrics, and websocket endpoints.
func RegisterRoutes(mux *http.ServeMux, handlers *Handlers) {
	mux.HandleFunc("/api/config", handlers.wrap(handlers.handleConfig))
	mux.HandleFunc("/api/status", handlers.wrap(handlers.handleStatus))
	mux.HandleFunc("/api/reload", handlers.wrap(handlers.handleReload))
	mux.HandleFunc("/api/rollback", handlers.wrap(handlers.handleRollback))
	mux.HandleFunc("/api/snapshots", handlers.wrap(handlers.handleSnapshots))
	mux.HandleFunc("/api/events", handlers.wrap(handlers.handleEvents))
	mux.HandleFunc("/metrics", handlers.handleMetrics)
	mux.Handle("/ws/events", &eventStreamHandler{
		Bus:       handlers.Bus,
		Logger:    handlers.Logger,
		AuthToken: handlers.AuthToken,
	})
}

func (h *Handlers) wrap(next apiHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !validateToken(r, h.AuthToken) {
			writeJSONError(w, &apiError{Status: http.StatusUnauthorized, Message: "unauthorized"})
			return
		}
		if apiErr := next(w, r); apiErr != nil {
			writeJSONError(w, apiErr)
		}
	}
}

func (h *Handlers) handleConfig(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed()
	}
	writeJSON(w, http.StatusOK, h.Manager.Current())
	return nil
}

type statusResponse struct {
	Path           string `json:"path"`
	ReloadCount    int64  `json:"reload_count"`
	Overrides      int    `json:"overrides"`
	Snapshots      int    `json:"snapshots"`
	WatcherRunning bool   `json:"watcher_running"`
	WatchedFiles   int    `json:"watched_files"`
}

func (h *Handlers) handleStatus(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed()
	}
	status := statusResponse{
		Path:        h.Manager.Path(),
		ReloadCount: h.Manager.ReloadCount(),
		Overrides:   len(h.Manager.Overrides()),
		Snapshots:   len(h.Manager.Snapshots()),
	}
	if h.Watcher != nil {
		status.WatcherRunning = h.Watcher.IsRunning()
		status.WatchedFiles = h.Watcher.Metrics().WatchedFiles
	}
	writeJSON(w, http.StatusOK, status)
	return nil
}

type reloadResponse struct {
	ReloadCount int64 `json:"reload_count"`
	Validated   bool  `json:"validated,omitempty"`
}

func (h *Handlers) handleReload(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodPost {
		return methodNotAllowed()
	}

	if validateOnly, _ := strconv.ParseBool(r.URL.Query().Get("validate_only")); validateOnly {
		if _, err := h.Manager.Validate(); err != nil {
			return &apiError{Status: http.StatusUnprocessableEntity, Message: err.Error()}
		}
		writeJSON(w, http.StatusOK, reloadResponse{ReloadCount: h.Manager.ReloadCount(), Validated: true})
		return nil
	}

	if err := h.Manager.Reload(); err != nil {
		status := http.StatusConflict
		var validation *config.ValidationError
		if errors.As(err, &validation) {
			status = http.StatusUnprocessableEntity
		}
		return &apiError{Status: status, Message: err.Error()}
	}
	writeJSON(w, http.StatusOK, reloadResponse{ReloadCount: h.Manager.ReloadCount()})
	return nil
}

func (h *Handlers) handleRollback(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodPost {
		return methodNotAllowed()
	}
	steps := 1
	if raw := r.URL.Query().Get("steps"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return &apiError{Status: http.StatusBadRequest, Message: "steps must be an integer"}
		}
		steps = parsed
	}
	if err := h.Manager.Rollback(steps); err != nil {
		return &apiError{Status: http.StatusConflict, Message: err.Error()}
	}
	writeJSON(w, http.StatusOK, reloadResponse{ReloadCount: h.Manager.ReloadCount()})
	return nil
}

type snapshotSummary struct {
	TakenAt   time.Time         `json:"taken_at"`
	Overrides []config.Override `json:"overrides,omitempty"`
}

func (h *Handlers) handleSnapshots(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed()
	}
	snapshots := h.Manager.Snapshots()
	summaries := make([]snapshotSummary, 0, len(snapshots))
	for _, snapshot := range snapshots {
		summaries = append(summaries, snapshotSummary{
			TakenAt:   snapshot.TakenAt,
			Overrides: snapshot.Overrides.Entries(),
		})
	}
	writeJSON(w, http.StatusOK, summaries)
	return nil
}

func (h *Handlers) handleEvents(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed()
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return &apiError{Status: http.StatusBadRequest, Message: "limit must be an integer"}
		}
		limit = parsed
	}
	events := h.Bus.RecentEvents(limit)
	payloads := make([]eventPayload, 0, len(events))
	for _, change := range events {
		payloads = append(payloads, newEventPayload(change))
	}
	writeJSON(w, http.StatusOK, payloads)
	return nil
}

func (h *Handlers) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, methodNotAllowed())
		return
	}
	registry := h.Registry
	if registry == nil {
		registry = metrics.Default
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	_ = registry.WritePrometheus(w)
}

func methodNotAllowed() *apiError {
	return &apiError{Status: http.StatusMethodNotAllowed, Message: "method not allowed"}
}
