package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/medflow/nurse-station/internal/inventory/events"
	"github.com/medflow/nurse-station/internal/inventory/identity"
	"github.com/medflow/nurse-station/internal/inventory/repository"
	"github.com/medflow/nurse-station/pkg/errors"
	"github.com/medflow/nurse-station/pkg/logger"
	"github.com/medflow/nurse-station/pkg/messaging"
)

// Rounding of money amounts, half away from zero.
const (
	unitPricePlaces = 4
	totalPlaces     = 2
)

// LedgerService owns the lots of every item.
type LedgerService struct {
	itemRepo  *repository.ItemRepository
	lotRepo   *repository.LotRepository
	resolver  *identity.Resolver
	publisher *events.InventoryEventPublisher
	logger    *logger.Logger
	now       func() time.Time
}

// NewLedgerService creates a new ledger service. publisher may be nil.
func NewLedgerService(
	itemRepo *repository.ItemRepository,
	lotRepo *repository.LotRepository,
	resolver *identity.Resolver,
	publisher *events.InventoryEventPublisher,
	log *logger.Logger,
) *LedgerService {
	return &LedgerService{
		itemRepo:  itemRepo,
		lotRepo:   lotRepo,
		resolver:  resolver,
		publisher: publisher,
		logger:    log.WithComponent("ledger"),
		now:       time.Now,
	}
}

// ScopeFor builds the lot scope of an item given either its id or its
// name. Names of medicines and supplies are resolved to their backing row.
func (s *LedgerService) ScopeFor(ctx context.Context, kind repository.LotKind, itemID, name string) (repository.LotScope, error) {
	itemID = strings.TrimSpace(itemID)
	name = identity.DisplayName(name)

	if kind == repository.LotOther {
		if name == "" {
			return repository.LotScope{}, errors.InvalidField("name", "required")
		}
		return repository.OtherScope(name), nil
	}

	if itemID != "" {
		return repository.MedicineScope(itemID), nil
	}
	if name == "" {
		return repository.LotScope{}, errors.InvalidField("item_id", "item_id or name is required")
	}
	items, err := s.resolver.BackingItems(ctx, name)
	if err != nil {
		return repository.LotScope{}, err
	}
	if len(items) == 0 {
		return repository.LotScope{}, errors.NotFound("item")
	}
	return repository.MedicineScope(items[0].ID), nil
}

// LotsForItem returns every lot of the item in display order: by expiry
// ascending, undated lots last. For a shared medicine the lots of every
// backing row are included, as are legacy lots that only carry a matching
// item name.
func (s *LedgerService) LotsForItem(ctx context.Context, scope repository.LotScope) ([]*repository.Lot, error) {
	if strings.TrimSpace(scope.Ref) == "" {
		return nil, errors.InvalidField("item", "required")
	}

	lots, err := s.lotRepo.List(ctx, scope.Kind)
	if err != nil {
		return nil, err
	}

	if scope.Kind == repository.LotOther {
		var out []*repository.Lot
		for _, lot := range lots {
			if scope.Owns(lot) {
				out = append(out, lot)
			}
		}
		sortByExpiry(out)
		return out, nil
	}

	item, err := s.itemRepo.GetByID(ctx, repository.KindMedicine, scope.Ref)
	if err != nil {
		return nil, err
	}

	ids := map[string]bool{item.ID: true}
	shared := s.resolver.IsShared(item.Name)
	if shared {
		backing, err := s.resolver.BackingItems(ctx, item.Name)
		if err != nil {
			return nil, err
		}
		for _, it := range backing {
			ids[it.ID] = true
		}
	}

	var out []*repository.Lot
	for _, lot := range lots {
		switch {
		case ids[lot.MedicineID]:
		case shared && lot.ItemName != "" && s.resolver.Same(lot.ItemName, item.Name):
		default:
			continue
		}
		out = append(out, lot)
	}
	sortByExpiry(out)
	return out, nil
}

// AvailableLot is a lot that can be dispensed from.
type AvailableLot struct {
	ID           string          `json:"id"`
	Label        string          `json:"label"`
	ExpireDate   string          `json:"expire_date"`
	Remain       int             `json:"remain"`
	PricePerUnit decimal.Decimal `json:"price_per_unit"`
}

// AvailableLots returns the lots of the item that still hold stock.
func (s *LedgerService) AvailableLots(ctx context.Context, scope repository.LotScope) ([]AvailableLot, error) {
	lots, err := s.LotsForItem(ctx, scope)
	if err != nil {
		return nil, err
	}
	out := make([]AvailableLot, 0, len(lots))
	for _, lot := range lots {
		if lot.QtyRemain <= 0 {
			continue
		}
		out = append(out, AvailableLot{
			ID:           lot.ID,
			Label:        lot.Label,
			ExpireDate:   lot.ExpireDate,
			Remain:       lot.QtyRemain,
			PricePerUnit: lot.PricePerUnit,
		})
	}
	return out, nil
}

// AddStockInput is one stock addition. Price is for the whole batch.
type AddStockInput struct {
	Scope      repository.LotScope
	ExpireDate string
	Qty        int
	Price      decimal.Decimal
}

// AddStockResult reports the lot that received the stock.
type AddStockResult struct {
	Lot    *repository.Lot `json:"lot"`
	Merged bool            `json:"merged"`
}

// AddStock files qty units bought for price under the item. An addition
// with the same non-empty expiry date as an existing lot is merged into it
// and its unit price becomes the weighted average. Anything else opens a
// new lot.
func (s *LedgerService) AddStock(ctx context.Context, in AddStockInput) (*AddStockResult, error) {
	details := map[string]string{}
	if strings.TrimSpace(in.Scope.Ref) == "" {
		details["item"] = "required"
	}
	if in.Qty <= 0 {
		details["qty"] = "must be greater than 0"
	}
	price := in.Price.Round(totalPlaces)
	if !price.IsPositive() {
		details["price"] = "must be greater than 0"
	}
	if len(details) > 0 {
		return nil, errors.Validation(details)
	}

	expire := strings.TrimSpace(in.ExpireDate)

	lot := &repository.Lot{Kind: in.Scope.Kind}
	switch in.Scope.Kind {
	case repository.LotOther:
		item, err := s.otherItem(ctx, in.Scope.Ref)
		if err != nil {
			return nil, err
		}
		lot.ItemName = item.Name
	default:
		item, err := s.itemRepo.GetByID(ctx, repository.KindMedicine, in.Scope.Ref)
		if err != nil {
			return nil, err
		}
		lot.MedicineID = item.ID
		if s.resolver.IsShared(item.Name) {
			lot.MedicineID = s.resolver.ResolveBackingItem(ctx, item.Name, item.ID)
			lot.ItemName = s.resolver.Canonicalize(item.Name)
		}
	}

	existing, err := s.LotsForItem(ctx, in.Scope)
	if err != nil {
		return nil, err
	}

	if expire != "" {
		for _, l := range existing {
			if l.ExpireDate != expire {
				continue
			}
			l.QtyTotal += in.Qty
			l.QtyRemain += in.Qty
			l.PricePerLot = l.PricePerLot.Add(price)
			l.PricePerUnit = l.PricePerLot.Div(decimal.NewFromInt(int64(l.QtyTotal))).Round(unitPricePlaces)
			if err := s.lotRepo.UpdateStock(ctx, l); err != nil {
				return nil, err
			}
			s.received(ctx, l, in.Qty, price, true)
			return &AddStockResult{Lot: l, Merged: true}, nil
		}
	}

	lot.Label = fmt.Sprintf("LOT %d", len(existing)+1)
	lot.ExpireDate = expire
	lot.QtyTotal = in.Qty
	lot.QtyRemain = in.Qty
	lot.PricePerLot = price
	lot.PricePerUnit = price.Div(decimal.NewFromInt(int64(in.Qty))).Round(unitPricePlaces)
	lot.CreatedAt = s.now().Format(time.RFC3339)
	if err := s.lotRepo.Create(ctx, lot); err != nil {
		return nil, err
	}
	s.received(ctx, lot, in.Qty, price, false)
	return &AddStockResult{Lot: lot}, nil
}

func (s *LedgerService) otherItem(ctx context.Context, name string) (*repository.Item, error) {
	items, err := s.itemRepo.List(ctx, repository.KindOther)
	if err != nil {
		return nil, err
	}
	scope := repository.OtherScope(name)
	for _, it := range items {
		if strings.EqualFold(it.Name, scope.Ref) {
			return it, nil
		}
	}
	return nil, errors.NotFound("item")
}

func (s *LedgerService) received(ctx context.Context, lot *repository.Lot, qty int, price decimal.Decimal, merged bool) {
	s.logger.Info().
		Str("lot_table", lot.Kind.Table()).
		Str("lot_id", lot.ID).
		Int("qty", qty).
		Str("price", price.String()).
		Bool("merged", merged).
		Msg("stock received")

	ref := lot.MedicineID
	if lot.Kind == repository.LotOther {
		ref = lot.ItemName
	}
	s.publisher.PublishLotReceived(ctx, messaging.LotReceivedEvent{
		LotTable:     lot.Kind.Table(),
		LotID:        lot.ID,
		ItemRef:      ref,
		ExpireDate:   lot.ExpireDate,
		Quantity:     qty,
		Price:        price.String(),
		Merged:       merged,
		QtyRemain:    lot.QtyRemain,
		PricePerUnit: lot.PricePerUnit.String(),
	})
}

// DeleteLot removes a lot regardless of its remaining stock.
func (s *LedgerService) DeleteLot(ctx context.Context, kind repository.LotKind, id string) (*repository.Lot, error) {
	lot, err := s.lotRepo.GetByID(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	if err := s.lotRepo.Delete(ctx, kind, lot.ID); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("lot_table", kind.Table()).
		Str("lot_id", lot.ID).
		Int("qty_remain", lot.QtyRemain).
		Msg("lot deleted")
	return lot, nil
}

var expiryLayouts = []string{"2006-01-02", time.RFC3339, "2006-01-02 15:04:05", "02/01/2006"}

func parseExpiry(s string) (time.Time, bool) {
	for _, layout := range expiryLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// sortByExpiry orders lots by expiry date ascending. Dates that do not
// parse sort after parsed ones by their text, and undated lots come last.
func sortByExpiry(lots []*repository.Lot) {
	type key struct {
		rank int
		at   time.Time
		text string
	}
	keys := make(map[*repository.Lot]key, len(lots))
	for _, l := range lots {
		switch t, ok := parseExpiry(l.ExpireDate); {
		case l.ExpireDate == "":
			keys[l] = key{rank: 2}
		case ok:
			keys[l] = key{rank: 0, at: t}
		default:
			keys[l] = key{rank: 1, text: l.ExpireDate}
		}
	}
	sort.SliceStable(lots, func(i, j int) bool {
		a, b := keys[lots[i]], keys[lots[j]]
		if a.rank != b.rank {
			return a.rank < b.rank
		}
		if !a.at.Equal(b.at) {
			return a.at.Before(b.at)
		}
		if a.text != b.text {
			return a.text < b.text
		}
		return lotIDLess(lots[i].ID, lots[j].ID)
	})
}

func lotIDLess(a, b string) bool {
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	if errA == nil && errB == nil {
		return na < nb
	}
	return a < b
}
