package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/medflow/nurse-station/internal/inventory/service"
	"github.com/medflow/nurse-station/pkg/errors"
	"github.com/medflow/nurse-station/pkg/httputil"
	"github.com/medflow/nurse-station/pkg/logger"
)

const (
	defaultTreatmentLimit = 200
	maxTreatmentLimit     = 5000
)

// TreatmentHandler handles treatment endpoints. Every write goes through
// the reconciler so stock follows the record.
type TreatmentHandler struct {
	service *service.ReconcileService
	logger  *logger.Logger
}

// NewTreatmentHandler creates a new treatment handler
func NewTreatmentHandler(svc *service.ReconcileService, log *logger.Logger) *TreatmentHandler {
	return &TreatmentHandler{
		service: svc,
		logger:  log,
	}
}

// List lists recent treatments
func (h *TreatmentHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, err := httputil.QueryInt(r, "limit", defaultTreatmentLimit)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	if limit < 1 || limit > maxTreatmentLimit {
		httputil.Error(w, errors.InvalidField("limit", "must be between 1 and 5000"))
		return
	}

	treatments, err := h.service.List(r.Context(), limit)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, treatments, &httputil.Meta{Count: len(treatments), Limit: limit})
}

// Get gets a treatment by ID
func (h *TreatmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	t, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, t)
}

// Create records a treatment and takes its items out of stock
func (h *TreatmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.TreatmentInput
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}

	t, err := h.service.Commit(r.Context(), req)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, t)
}

// Update replaces a treatment and moves stock by the difference
func (h *TreatmentHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req service.TreatmentInput
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}

	t, err := h.service.Edit(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, t)
}

// Delete removes a treatment and puts its items back into stock
func (h *TreatmentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.NoContent(w)
}
