package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"logpipe/internal/app"
	"logpipe/internal/dispatch"
	"logpipe/internal/models"
	"logpipe/internal/queue"
	"logpipe/internal/storage"
	"logpipe/internal/utils"
)

const (
	defaultViewLimit = 100
	maxViewLimit     = 10000
)

// AdminLogsHandler serves retained messages, delivery failures and stats
type AdminLogsHandler struct {
	pipeline Pipeline
	logger   *utils.Logger
}

// NewAdminLogsHandler creates a new admin logs handler
func NewAdminLogsHandler(p Pipeline, logger *utils.Logger) *AdminLogsHandler {
	return &AdminLogsHandler{pipeline: p, logger: logger}
}

// StatsResponse is the body of GET /admin/stats
type StatsResponse struct {
	Dispatcher dispatch.Stats   `json:"dispatcher"`
	Database   *storage.DBStats `json:"database,omitempty"`
}

// View handles GET /admin/logs?type=&key=&limit=. Viewing a clear-on-get
// snapshot provider consumes the oldest limit messages it holds.
func (h *AdminLogsHandler) View(w http.ResponseWriter, r *http.Request) {
	d, ok := descriptorFromQuery(w, r)
	if !ok {
		return
	}
	limit, ok := limitFromQuery(w, r)
	if !ok {
		return
	}

	msgs, err := h.pipeline.View(r.Context(), d, limit)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrNotEnabled):
			utils.RespondWithError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, app.ErrNotViewable):
			utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.Error("Failed to read provider view", "provider", d, "error", err)
			utils.RespondWithError(w, http.StatusInternalServerError, "Failed to read logs")
		}
		return
	}

	if msgs == nil {
		msgs = []*models.LogMessage{}
	}
	utils.RespondWithJSON(w, http.StatusOK, msgs)
}

// Failures handles GET /admin/failures?limit=
func (h *AdminLogsHandler) Failures(w http.ResponseWriter, r *http.Request) {
	limit, ok := limitFromQuery(w, r)
	if !ok {
		return
	}

	items, err := h.pipeline.Failures(r.Context(), limit)
	if err != nil {
		if errors.Is(err, dispatch.ErrNoDeadLetterQueue) {
			utils.RespondWithError(w, http.StatusNotImplemented, err.Error())
			return
		}
		h.logger.Error("Failed to list failures", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to list failures")
		return
	}

	if items == nil {
		items = []queue.DeadLetterItem{}
	}
	utils.RespondWithJSON(w, http.StatusOK, items)
}

// Retry handles POST /admin/failures/{id}/retry
func (h *AdminLogsHandler) Retry(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := h.pipeline.Redeliver(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, queue.ErrItemNotFound):
			utils.RespondWithError(w, http.StatusNotFound, "Failure not found")
		case errors.Is(err, dispatch.ErrProviderNotRegistered):
			utils.RespondWithError(w, http.StatusConflict, err.Error())
		case errors.Is(err, dispatch.ErrNoDeadLetterQueue):
			utils.RespondWithError(w, http.StatusNotImplemented, err.Error())
		default:
			h.logger.Warn("Redelivery failed", "id", id, "error", err)
			utils.RespondWithError(w, http.StatusBadGateway, err.Error())
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Stats handles GET /admin/stats
func (h *AdminLogsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{Dispatcher: h.pipeline.Stats()}
	if dbStats, ok := h.pipeline.DatabaseStats(); ok {
		resp.Database = &dbStats
	}
	utils.RespondWithJSON(w, http.StatusOK, resp)
}

func limitFromQuery(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultViewLimit, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		utils.RespondWithError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return 0, false
	}
	if limit > maxViewLimit {
		limit = maxViewLimit
	}
	return limit, true
}
