package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/medflow/nurse-station/internal/inventory/repository"
	"github.com/medflow/nurse-station/internal/inventory/service"
	"github.com/medflow/nurse-station/pkg/errors"
	"github.com/medflow/nurse-station/pkg/httputil"
	"github.com/medflow/nurse-station/pkg/logger"
)

// ItemHandler handles catalog endpoints
type ItemHandler struct {
	service *service.CatalogService
	logger  *logger.Logger
}

// NewItemHandler creates a new item handler
func NewItemHandler(svc *service.CatalogService, log *logger.Logger) *ItemHandler {
	return &ItemHandler{
		service: svc,
		logger:  log,
	}
}

// List lists catalog items of one kind, medicines by default
func (h *ItemHandler) List(w http.ResponseWriter, r *http.Request) {
	kind, err := kindParam(r.URL.Query().Get("kind"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	items, err := h.service.ListItems(r.Context(), kind, r.URL.Query().Get("group"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, items, &httputil.Meta{Count: len(items)})
}

// Groups lists the medicine groups in use
func (h *ItemHandler) Groups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.service.Groups(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, groups)
}

// Get gets an item by kind and ID
func (h *ItemHandler) Get(w http.ResponseWriter, r *http.Request) {
	kind, err := kindParam(chi.URLParam(r, "kind"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	item, err := h.service.GetItem(r.Context(), kind, chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, item)
}

type createItemResponse struct {
	Item    *repository.Item `json:"item"`
	Created bool             `json:"created"`
}

// Create adds a catalog item. Adding an item that already exists returns
// the existing row with 200 instead of 201.
func (h *ItemHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.AddItemInput
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}

	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	item, created, err := h.service.AddItem(r.Context(), req)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	httputil.JSON(w, status, createItemResponse{Item: item, Created: created})
}

// Resolve maps a free-text medicine name to the id stock is filed under
func (h *ItemHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id, err := h.service.ResolveItemID(r.Context(), r.URL.Query().Get("name"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]string{"id": id})
}

// Delete removes an item and its lots
func (h *ItemHandler) Delete(w http.ResponseWriter, r *http.Request) {
	kind, err := kindParam(chi.URLParam(r, "kind"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	id := chi.URLParam(r, "id")
	lots, err := h.service.DeleteItem(r.Context(), kind, id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	h.logger.Info().
		Str("item_id", id).
		Str("kind", string(kind)).
		Int("lots_deleted", lots).
		Str("user_id", httputil.GetUserID(r.Context())).
		Str("user_name", httputil.GetUserName(r.Context())).
		Msg("item deleted")

	httputil.JSON(w, http.StatusOK, map[string]int{"lots_deleted": lots})
}

func kindParam(raw string) (repository.Kind, error) {
	if raw == "" {
		return repository.KindMedicine, nil
	}
	kind, ok := repository.ParseKind(raw)
	if !ok {
		return "", errors.InvalidField("kind", "must be medicine, supply or other")
	}
	return kind, nil
}

func lotKindParam(raw string) (repository.LotKind, error) {
	kind, ok := repository.ParseLotKind(raw)
	if !ok {
		return kind, errors.InvalidField("kind", "must be medicine, supply or other")
	}
	return kind, nil
}
