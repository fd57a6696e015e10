package repository

import (
	"strings"

	"github.com/medflow/nurse-station/internal/sheet"
)

// LotKind says which lot table a lot lives in.
type LotKind int

const (
	// LotMedicine lots live in medicine_lot and belong to a medicine or
	// supply row by numeric id.
	LotMedicine LotKind = iota
	// LotOther lots live in other_lot and belong to a free-text item by name.
	LotOther
)

// Table returns the backend table of the kind.
func (k LotKind) Table() string {
	if k == LotOther {
		return sheet.TableOtherLot
	}
	return sheet.TableMedicineLot
}

// ItemTable returns the catalog table whose rows own lots of this kind.
func (k LotKind) ItemTable() string {
	if k == LotOther {
		return sheet.TableOtherItem
	}
	return sheet.TableMedicine
}

func (k LotKind) String() string {
	if k == LotOther {
		return "other"
	}
	return "medicine"
}

// ParseLotKind maps a route or query value to a kind. Medicine and supply
// both use the medicine lot table.
func ParseLotKind(s string) (LotKind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "medicine", "supply":
		return LotMedicine, true
	case "other", "other_item":
		return LotOther, true
	}
	return LotMedicine, false
}

// otherMarkers are the type values that route an entry to other_lot.
var otherMarkers = map[string]struct{}{
	"other":      {},
	"other_item": {},
	"อื่นๆ":      {},
}

// KindForType resolves the lot table of a dispensed entry from its declared
// type. When the entry carries no type, a symptom group of "other" marks it
// as an other-item entry.
func KindForType(itemType, group string) LotKind {
	t := strings.ToLower(strings.TrimSpace(itemType))
	if t == "" {
		if _, ok := otherMarkers[strings.TrimSpace(group)]; ok {
			return LotOther
		}
		return LotMedicine
	}
	if _, ok := otherMarkers[t]; ok {
		return LotOther
	}
	return LotMedicine
}

// LotScope identifies the owner of a set of lots: a catalog row id for
// medicines and supplies, an item name for other items.
type LotScope struct {
	Kind LotKind
	Ref  string
}

// MedicineScope scopes lots to a medicine or supply row.
func MedicineScope(id string) LotScope {
	return LotScope{Kind: LotMedicine, Ref: strings.TrimSpace(id)}
}

// OtherScope scopes lots to a free-text item.
func OtherScope(name string) LotScope {
	return LotScope{Kind: LotOther, Ref: strings.Join(strings.Fields(name), " ")}
}

// Owns reports whether lot belongs to the scope.
func (s LotScope) Owns(lot *Lot) bool {
	if s.Kind == LotOther {
		return strings.EqualFold(strings.Join(strings.Fields(lot.ItemName), " "), s.Ref)
	}
	return strings.TrimSpace(lot.MedicineID) == s.Ref
}
