package httpapi

import (
	"errors"
	"net/http"

	"logpipe/internal/app"
	"logpipe/internal/models"
	"logpipe/internal/providers"
	"logpipe/internal/utils"
)

// AdminProvidersHandler handles provider management endpoints
type AdminProvidersHandler struct {
	pipeline Pipeline
	logger   *utils.Logger
}

// NewAdminProvidersHandler creates a new admin providers handler
func NewAdminProvidersHandler(p Pipeline, logger *utils.Logger) *AdminProvidersHandler {
	return &AdminProvidersHandler{pipeline: p, logger: logger}
}

// ProviderRequest names a catalog entry
type ProviderRequest struct {
	Type string `json:"type"`
	Key  string `json:"key,omitempty"`
}

// CatalogEntryResponse describes one catalog entry and whether it is running
type CatalogEntryResponse struct {
	Type       string                `json:"type"`
	Key        string                `json:"key,omitempty"`
	Filter     models.CategoryFilter `json:"filter"`
	Configured bool                  `json:"configured"`
	Active     bool                  `json:"active"`
}

// ProvidersResponse is the body of GET /admin/providers
type ProvidersResponse struct {
	Active  []app.ProviderStatus   `json:"active"`
	Catalog []CatalogEntryResponse `json:"catalog"`
}

// List handles GET /admin/providers
func (h *AdminProvidersHandler) List(w http.ResponseWriter, r *http.Request) {
	active := h.pipeline.Providers()
	running := make(map[providers.Descriptor]bool, len(active))
	for _, s := range active {
		running[s.Descriptor] = true
	}

	resp := ProvidersResponse{Active: active, Catalog: []CatalogEntryResponse{}}
	if c := h.pipeline.Catalog(); c != nil {
		for _, e := range c.Providers {
			d := e.Descriptor()
			resp.Catalog = append(resp.Catalog, CatalogEntryResponse{
				Type:       d.Type,
				Key:        d.Key,
				Filter:     e.Filter(),
				Configured: e.IsEnabled(),
				Active:     running[d],
			})
		}
	}

	utils.RespondWithJSON(w, http.StatusOK, resp)
}

// Enable handles POST /admin/providers - enable a catalog entry
func (h *AdminProvidersHandler) Enable(w http.ResponseWriter, r *http.Request) {
	var req ProviderRequest
	if err := utils.DecodeJSONBody(r, &req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if req.Type == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "Provider type is required")
		return
	}

	d := providers.Descriptor{Type: req.Type, Key: req.Key}
	if err := h.pipeline.Enable(r.Context(), d); err != nil {
		h.respondWithPipelineError(w, "enable", d, err)
		return
	}

	h.logger.Info("Provider enabled via admin API", "provider", d)
	utils.RespondWithJSON(w, http.StatusCreated, d)
}

// Disable handles DELETE /admin/providers?type=&key=
func (h *AdminProvidersHandler) Disable(w http.ResponseWriter, r *http.Request) {
	d, ok := descriptorFromQuery(w, r)
	if !ok {
		return
	}

	if err := h.pipeline.Disable(r.Context(), d); err != nil {
		h.respondWithPipelineError(w, "disable", d, err)
		return
	}

	h.logger.Info("Provider disabled via admin API", "provider", d)
	w.WriteHeader(http.StatusNoContent)
}

// Reload handles POST /admin/catalog/reload
func (h *AdminProvidersHandler) Reload(w http.ResponseWriter, r *http.Request) {
	if err := h.pipeline.Reload(r.Context()); err != nil {
		h.logger.Error("Catalog reload failed", "error", err)
		utils.RespondWithError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, h.pipeline.Providers())
}

func (h *AdminProvidersHandler) respondWithPipelineError(w http.ResponseWriter, op string, d providers.Descriptor, err error) {
	switch {
	case errors.Is(err, app.ErrUnknownProvider), errors.Is(err, app.ErrNotEnabled):
		utils.RespondWithError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrAlreadyEnabled):
		utils.RespondWithError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("Provider operation failed", "op", op, "provider", d, "error", err)
		utils.RespondWithError(w, http.StatusBadGateway, err.Error())
	}
}

// descriptorFromQuery reads ?type=&key= and writes a 400 when type is missing.
func descriptorFromQuery(w http.ResponseWriter, r *http.Request) (providers.Descriptor, bool) {
	q := r.URL.Query()
	d := providers.Descriptor{Type: q.Get("type"), Key: q.Get("key")}
	if d.Type == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "Provider type is required")
		return d, false
	}
	return d, true
}
