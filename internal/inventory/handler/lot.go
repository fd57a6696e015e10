package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/medflow/nurse-station/internal/inventory/repository"
	"github.com/medflow/nurse-station/internal/inventory/service"
	"github.com/medflow/nurse-station/pkg/httputil"
	"github.com/medflow/nurse-station/pkg/logger"
)

// LotHandler handles lot and stock endpoints
type LotHandler struct {
	ledger    *service.LedgerService
	reconcile *service.ReconcileService
	logger    *logger.Logger
}

// NewLotHandler creates a new lot handler
func NewLotHandler(ledger *service.LedgerService, reconcile *service.ReconcileService, log *logger.Logger) *LotHandler {
	return &LotHandler{
		ledger:    ledger,
		reconcile: reconcile,
		logger:    log,
	}
}

// List lists the lots of an item, soonest expiry first
func (h *LotHandler) List(w http.ResponseWriter, r *http.Request) {
	scope, err := h.scope(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	lots, err := h.ledger.LotsForItem(r.Context(), scope)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, lots, &httputil.Meta{Count: len(lots)})
}

// Available lists the lots of an item that still have stock
func (h *LotHandler) Available(w http.ResponseWriter, r *http.Request) {
	scope, err := h.scope(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	lots, err := h.ledger.AvailableLots(r.Context(), scope)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, lots, &httputil.Meta{Count: len(lots)})
}

func (h *LotHandler) scope(r *http.Request) (repository.LotScope, error) {
	q := r.URL.Query()
	kind, err := lotKindParam(q.Get("kind"))
	if err != nil {
		return repository.LotScope{}, err
	}
	return h.ledger.ScopeFor(r.Context(), kind, q.Get("item_id"), q.Get("name"))
}

// AddStockRequest is the body of POST /lots. Price is for the whole batch.
type AddStockRequest struct {
	Kind       string          `json:"kind"`
	ItemID     string          `json:"item_id"`
	Name       string          `json:"name"`
	ExpireDate string          `json:"expire_date"`
	Qty        int             `json:"qty" validate:"gt=0"`
	Price      decimal.Decimal `json:"price"`
}

// AddStock files new stock under an item
func (h *LotHandler) AddStock(w http.ResponseWriter, r *http.Request) {
	var req AddStockRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}

	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	kind, err := lotKindParam(req.Kind)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	scope, err := h.ledger.ScopeFor(r.Context(), kind, req.ItemID, req.Name)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	res, err := h.ledger.AddStock(r.Context(), service.AddStockInput{
		Scope:      scope,
		ExpireDate: req.ExpireDate,
		Qty:        req.Qty,
		Price:      req.Price,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, res)
}

// Delete removes a single lot
func (h *LotHandler) Delete(w http.ResponseWriter, r *http.Request) {
	kind, err := lotKindParam(chi.URLParam(r, "kind"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	lot, err := h.ledger.DeleteLot(r.Context(), kind, chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	h.logger.Info().
		Str("lot_id", lot.ID).
		Str("lot_table", kind.Table()).
		Int("qty_remain", lot.QtyRemain).
		Str("user_id", httputil.GetUserID(r.Context())).
		Str("user_name", httputil.GetUserName(r.Context())).
		Msg("lot deleted")

	httputil.NoContent(w)
}

// Cut takes stock out of a lot outside any treatment
func (h *LotHandler) Cut(w http.ResponseWriter, r *http.Request) {
	var req service.CutInput
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}

	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	lot, err := h.reconcile.CutStock(r.Context(), req)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, lot)
}
