package repository

import (
	"context"
	"strings"

	"github.com/medflow/nurse-station/internal/sheet"
	"github.com/medflow/nurse-station/pkg/errors"
)

// Kind is the catalog kind of an item.
type Kind string

const (
	KindMedicine Kind = "medicine"
	KindSupply   Kind = "supply"
	KindOther    Kind = "other"
)

// Fixed group labels of supplies and other items.
const (
	GroupSupplies = "เวชภัณฑ์"
	GroupOther    = "อื่นๆ"
)

// ParseKind validates a kind coming from a request.
func ParseKind(s string) (Kind, bool) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindMedicine, KindSupply, KindOther:
		return k, true
	}
	return "", false
}

// LotKind returns the lot table family of the kind.
func (k Kind) LotKind() LotKind {
	if k == KindOther {
		return LotOther
	}
	return LotMedicine
}

// Item is a catalog row of medicine or other_item.
type Item struct {
	ID        string `sheet:"id" json:"id"`
	Kind      Kind   `sheet:"type" json:"kind"`
	Group     string `sheet:"group_name" json:"group"`
	Name      string `sheet:"name" json:"name"`
	Benefit   string `sheet:"benefit" json:"benefit,omitempty"`
	MinQty    int    `sheet:"min_qty" json:"min_qty"`
	Used      int    `sheet:"used" json:"used"`
	CreatedAt string `sheet:"created_at" json:"created_at,omitempty"`
}

// ItemRepository reads and writes catalog rows.
type ItemRepository struct {
	backend sheet.Backend
	limit   int
}

// NewItemRepository creates a new item repository. limit bounds every list
// call.
func NewItemRepository(backend sheet.Backend, limit int) *ItemRepository {
	return &ItemRepository{backend: backend, limit: limit}
}

// List returns every row of the catalog table that holds kind.
func (r *ItemRepository) List(ctx context.Context, kind Kind) ([]*Item, error) {
	table := kind.LotKind().ItemTable()
	res := r.backend.List(ctx, table, r.limit)
	if err := res.Err("list " + table); err != nil {
		return nil, err
	}
	rows, err := res.Rows()
	if err != nil {
		return nil, errors.Backend("list "+table, err.Error())
	}

	items := make([]*Item, 0, len(rows))
	for _, row := range rows {
		item, err := itemFromRow(row, table)
		if err != nil {
			return nil, errors.Backend("decode "+table, err.Error())
		}
		items = append(items, item)
	}
	return items, nil
}

// GetByID returns one catalog row.
func (r *ItemRepository) GetByID(ctx context.Context, kind Kind, id string) (*Item, error) {
	table := kind.LotKind().ItemTable()
	res := r.backend.Get(ctx, table, id)
	if err := res.Err("get " + table); err != nil {
		return nil, err
	}
	row, err := res.Row()
	if err != nil {
		return nil, errors.Backend("get "+table, err.Error())
	}
	if row == nil {
		return nil, errors.NotFound("item")
	}
	item, err := itemFromRow(row, table)
	if err != nil {
		return nil, errors.Backend("decode "+table, err.Error())
	}
	return item, nil
}

// Create appends a catalog row and sets item.ID.
func (r *ItemRepository) Create(ctx context.Context, item *Item) error {
	table := item.Kind.LotKind().ItemTable()
	res := r.backend.Append(ctx, table, map[string]any{
		"type":        string(item.Kind),
		"group_name":  item.Group,
		"name":        item.Name,
		"benefit":     item.Benefit,
		"min_qty":     item.MinQty,
		"qty":         0,
		"expire_date": "",
		"used":        item.Used,
		"created_at":  item.CreatedAt,
	})
	if err := res.Err("append " + table); err != nil {
		return err
	}
	item.ID = res.ID
	return nil
}

// Delete removes a catalog row.
func (r *ItemRepository) Delete(ctx context.Context, kind Kind, id string) error {
	table := kind.LotKind().ItemTable()
	return r.backend.Delete(ctx, table, id).Err("delete " + table)
}

func itemFromRow(row sheet.Row, table string) (*Item, error) {
	var item Item
	if err := decodeRow(row, &item); err != nil {
		return nil, err
	}
	if item.Name == "" {
		// other_item sheets created by hand sometimes use a different header
		for _, k := range []string{"item_name", "ชื่อรายการ"} {
			if v, ok := row[k].(string); ok && v != "" {
				item.Name = v
				break
			}
		}
	}
	item.Name = strings.Join(strings.Fields(item.Name), " ")
	item.Kind = Kind(strings.ToLower(strings.TrimSpace(string(item.Kind))))
	if table == sheet.TableOtherItem {
		item.Kind = KindOther
	}
	item.Group = strings.TrimSpace(item.Group)
	return &item, nil
}
