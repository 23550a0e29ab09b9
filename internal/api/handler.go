// Package api exposes the dispatch subsystem over HTTP: query submission,
// blocking result retrieval, and status snapshots.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"dispatchd/internal/dispatch"
	"dispatchd/internal/journal"
)

// Handler wires the dispatch manager into HTTP routes.
type Handler struct {
	manager *dispatch.Manager
	journal *journal.Journal // nil when journaling is disabled
	logger  *slog.Logger
}

// NewHandler creates the API handler. journal may be nil.
func NewHandler(manager *dispatch.Manager, j *journal.Journal, logger *slog.Logger) *Handler {
	return &Handler{manager: manager, journal: j, logger: logger.With("component", "api")}
}

// Routes assembles the chi router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", h.health)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/databases/{database}/queries", h.submitQuery)
		r.Get("/queries/{queryID}", h.awaitResult)
		r.Get("/queries", h.recentQueries)
		r.Get("/status", h.status)
	})
	return r
}

type submitRequest struct {
	SQL      string        `json:"sql"`
	Params   []interface{} `json:"params,omitempty"`
	Workload string        `json:"workload,omitempty"`
}

type submitResponse struct {
	QueryID string `json:"query_id"`
}

type resultResponse struct {
	QueryID      string          `json:"query_id"`
	Columns      []string        `json:"columns,omitempty"`
	Rows         [][]interface{} `json:"rows,omitempty"`
	RowCount     int             `json:"row_count"`
	AffectedRows int64           `json:"affected_rows,omitempty"`
	DurationMs   int64           `json:"duration_ms"`
	FromCache    bool            `json:"from_cache,omitempty"`
}

type errorResponse struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (h *Handler) submitQuery(w http.ResponseWriter, r *http.Request) {
	database := chi.URLParam(r, "database")

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Kind: "configuration", Message: "invalid request body"})
		return
	}

	queryID, err := h.manager.Submit(r.Context(), database, req.Workload, req.SQL, req.Params)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{QueryID: queryID})
}

func (h *Handler) awaitResult(w http.ResponseWriter, r *http.Request) {
	queryID := chi.URLParam(r, "queryID")
	timeout := 30 * time.Second
	if v := r.URL.Query().Get("timeout_seconds"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs < 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Kind: "configuration", Message: "invalid timeout_seconds"})
			return
		}
		timeout = time.Duration(secs) * time.Second
	}

	result, err := h.manager.Await(queryID, timeout)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resultResponse{
		QueryID:      queryID,
		Columns:      result.Columns,
		Rows:         result.Rows,
		RowCount:     result.RowCount,
		AffectedRows: result.AffectedRows,
		DurationMs:   result.Duration.Milliseconds(),
		FromCache:    result.FromCache,
	})
}

func (h *Handler) recentQueries(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Kind: "configuration", Message: "query journal is disabled"})
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	entries, err := h.journal.Recent(r.Context(), limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"queries": entries})
}

func (h *Handler) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.manager.Status())
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := httpStatusFromDomainError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err.Error())
	}
	writeJSON(w, status, errorResponse{Kind: errorKind(err), Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
