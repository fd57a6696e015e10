package repository

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/medflow/nurse-station/internal/sheet"
	"github.com/medflow/nurse-station/pkg/errors"
)

// Lot is a row of medicine_lot or other_lot.
type Lot struct {
	ID           string          `sheet:"id" json:"id"`
	Kind         LotKind         `sheet:"-" json:"-"`
	MedicineID   string          `sheet:"medicine_id" json:"medicine_id,omitempty"`
	ItemName     string          `sheet:"item_name" json:"item_name,omitempty"`
	Label        string          `sheet:"lot_name" json:"label"`
	ExpireDate   string          `sheet:"expire_date" json:"expire_date"`
	QtyTotal     int             `sheet:"qty_total" json:"qty_total"`
	QtyRemain    int             `sheet:"qty_remain" json:"qty_remain"`
	PricePerLot  decimal.Decimal `sheet:"price_per_lot" json:"price_per_lot"`
	PricePerUnit decimal.Decimal `sheet:"price_per_unit" json:"price_per_unit"`
	CreatedAt    string          `sheet:"created_at" json:"created_at,omitempty"`
}

// LotRepository reads and writes both lot tables.
type LotRepository struct {
	backend sheet.Backend
	limit   int
}

// NewLotRepository creates a new lot repository
func NewLotRepository(backend sheet.Backend, limit int) *LotRepository {
	return &LotRepository{backend: backend, limit: limit}
}

// List returns every lot of one table.
func (r *LotRepository) List(ctx context.Context, kind LotKind) ([]*Lot, error) {
	res := r.backend.List(ctx, kind.Table(), r.limit)
	if err := res.Err("list " + kind.Table()); err != nil {
		return nil, err
	}
	return decodeLots(res, kind)
}

// GetByID returns one lot, or a NotFound error when the id is absent.
func (r *LotRepository) GetByID(ctx context.Context, kind LotKind, id string) (*Lot, error) {
	res := r.backend.Get(ctx, kind.Table(), id)
	if err := res.Err("get " + kind.Table()); err != nil {
		return nil, err
	}
	row, err := res.Row()
	if err != nil {
		return nil, errors.Backend("get "+kind.Table(), err.Error())
	}
	if row == nil {
		return nil, errors.NotFound("lot " + id)
	}
	return lotFromRow(row, kind)
}

// BatchGet returns the lots that exist among ids, keyed by id. An error
// means the backend could not answer the batch; callers fall back to GetByID.
func (r *LotRepository) BatchGet(ctx context.Context, kind LotKind, ids []string) (map[string]*Lot, error) {
	res := r.backend.BatchGet(ctx, kind.Table(), ids)
	if err := res.Err("batch_get " + kind.Table()); err != nil {
		return nil, err
	}
	lots, err := decodeLots(res, kind)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*Lot, len(lots))
	for _, l := range lots {
		out[l.ID] = l
	}
	return out, nil
}

// Create appends a lot and sets lot.ID.
func (r *LotRepository) Create(ctx context.Context, lot *Lot) error {
	payload := map[string]any{
		"lot_name":       lot.Label,
		"expire_date":    lot.ExpireDate,
		"qty_total":      lot.QtyTotal,
		"qty_remain":     lot.QtyRemain,
		"price_per_lot":  money(lot.PricePerLot),
		"price_per_unit": money(lot.PricePerUnit),
		"created_at":     lot.CreatedAt,
	}
	if lot.Kind == LotOther {
		payload["item_name"] = lot.ItemName
	} else {
		payload["medicine_id"] = lot.MedicineID
		if lot.ItemName != "" {
			payload["item_name"] = lot.ItemName
		}
	}

	res := r.backend.Append(ctx, lot.Kind.Table(), payload)
	if err := res.Err("append " + lot.Kind.Table()); err != nil {
		return err
	}
	lot.ID = res.ID
	return nil
}

// UpdateStock writes the quantity and price columns of a lot.
func (r *LotRepository) UpdateStock(ctx context.Context, lot *Lot) error {
	res := r.backend.Update(ctx, lot.Kind.Table(), lot.ID, map[string]any{
		"qty_total":      lot.QtyTotal,
		"qty_remain":     lot.QtyRemain,
		"price_per_lot":  money(lot.PricePerLot),
		"price_per_unit": money(lot.PricePerUnit),
	})
	return res.Err("update " + lot.Kind.Table())
}

// SetRemain writes qty_remain of one lot.
func (r *LotRepository) SetRemain(ctx context.Context, kind LotKind, id string, remain int) error {
	return r.backend.UpdateField(ctx, kind.Table(), id, "qty_remain", remain).Err("update_field " + kind.Table())
}

// SetRemainBatch writes qty_remain of several lots of one table in one call.
func (r *LotRepository) SetRemainBatch(ctx context.Context, kind LotKind, remains map[string]int) error {
	updates := make([]sheet.FieldUpdate, 0, len(remains))
	for id, remain := range remains {
		updates = append(updates, sheet.FieldUpdate{ID: id, Field: "qty_remain", Value: remain})
	}
	return r.backend.BatchUpdateFields(ctx, kind.Table(), updates).Err("batch_update_fields " + kind.Table())
}

// Delete removes a lot.
func (r *LotRepository) Delete(ctx context.Context, kind LotKind, id string) error {
	return r.backend.Delete(ctx, kind.Table(), id).Err("delete " + kind.Table())
}

func decodeLots(res *sheet.Result, kind LotKind) ([]*Lot, error) {
	rows, err := res.Rows()
	if err != nil {
		return nil, errors.Backend("decode "+kind.Table(), err.Error())
	}
	lots := make([]*Lot, 0, len(rows))
	for _, row := range rows {
		lot, err := lotFromRow(row, kind)
		if err != nil {
			return nil, err
		}
		lots = append(lots, lot)
	}
	return lots, nil
}

func lotFromRow(row sheet.Row, kind LotKind) (*Lot, error) {
	var lot Lot
	if err := decodeRow(row, &lot); err != nil {
		return nil, errors.Backend("decode "+kind.Table(), err.Error())
	}
	lot.Kind = kind
	lot.ExpireDate = strings.TrimSpace(lot.ExpireDate)
	lot.MedicineID = strings.TrimSpace(lot.MedicineID)
	return &lot, nil
}
