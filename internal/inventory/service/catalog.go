package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/medflow/nurse-station/internal/inventory/identity"
	"github.com/medflow/nurse-station/internal/inventory/repository"
	"github.com/medflow/nurse-station/pkg/errors"
	"github.com/medflow/nurse-station/pkg/logger"
)

// CatalogService manages the catalog of medicines, supplies and other items.
type CatalogService struct {
	itemRepo *repository.ItemRepository
	lotRepo  *repository.LotRepository
	resolver *identity.Resolver
	logger   *logger.Logger
	now      func() time.Time
}

// NewCatalogService creates a new catalog service
func NewCatalogService(
	itemRepo *repository.ItemRepository,
	lotRepo *repository.LotRepository,
	resolver *identity.Resolver,
	log *logger.Logger,
) *CatalogService {
	return &CatalogService{
		itemRepo: itemRepo,
		lotRepo:  lotRepo,
		resolver: resolver,
		logger:   log.WithComponent("catalog"),
		now:      time.Now,
	}
}

// AddItemInput is a request to add a catalog row.
type AddItemInput struct {
	Kind    repository.Kind `json:"kind" validate:"required,oneof=medicine supply other"`
	Group   string          `json:"group"`
	Name    string          `json:"name" validate:"required"`
	Benefit string          `json:"benefit"`
	MinQty  int             `json:"min_qty" validate:"gte=0"`
}

// AddItem adds a catalog row unless one with the same group and name
// (case-insensitive) exists, in which case that row is returned and created
// is false.
func (s *CatalogService) AddItem(ctx context.Context, in AddItemInput) (item *repository.Item, created bool, err error) {
	name := identity.DisplayName(in.Name)
	if name == "" {
		return nil, false, errors.InvalidField("name", "required")
	}

	group := identity.DisplayName(in.Group)
	switch in.Kind {
	case repository.KindMedicine:
		if group == "" {
			return nil, false, errors.InvalidField("group", "required")
		}
	case repository.KindSupply:
		group = repository.GroupSupplies
	case repository.KindOther:
		group = repository.GroupOther
	default:
		return nil, false, errors.InvalidField("kind", "must be medicine, supply or other")
	}

	existing, err := s.itemRepo.List(ctx, in.Kind)
	if err != nil {
		return nil, false, err
	}
	for _, it := range existing {
		if sameItem(it, in.Kind, group, name) {
			return it, false, nil
		}
	}

	item = &repository.Item{
		Kind:    in.Kind,
		Group:   group,
		Name:    name,
		Benefit: strings.TrimSpace(in.Benefit),
		MinQty:  in.MinQty,
	}
	if in.Kind == repository.KindOther {
		item.CreatedAt = s.now().Format(time.RFC3339)
	}
	if err := s.itemRepo.Create(ctx, item); err != nil {
		return nil, false, err
	}

	s.logger.Info().
		Str("item_id", item.ID).
		Str("kind", string(item.Kind)).
		Str("name", item.Name).
		Msg("catalog item added")
	return item, true, nil
}

func sameItem(it *repository.Item, kind repository.Kind, group, name string) bool {
	if !strings.EqualFold(it.Name, name) {
		return false
	}
	switch kind {
	case repository.KindOther:
		return true
	case repository.KindSupply:
		return it.Kind == repository.KindSupply
	}
	return it.Kind != repository.KindSupply && it.Group == group
}

// ListItems returns the catalog rows of one kind. For medicines a non-empty
// group narrows the list. Other items are sorted by name.
func (s *CatalogService) ListItems(ctx context.Context, kind repository.Kind, group string) ([]*repository.Item, error) {
	items, err := s.itemRepo.List(ctx, kind)
	if err != nil {
		return nil, err
	}

	group = identity.DisplayName(group)
	out := make([]*repository.Item, 0, len(items))
	for _, it := range items {
		switch kind {
		case repository.KindMedicine:
			if it.Kind == repository.KindSupply || (group != "" && it.Group != group) {
				continue
			}
		case repository.KindSupply:
			if it.Kind != repository.KindSupply {
				continue
			}
		}
		out = append(out, it)
	}

	if kind == repository.KindOther {
		sort.SliceStable(out, func(i, j int) bool {
			return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
		})
	}
	return out, nil
}

// Groups returns the distinct medicine groups in catalog order.
func (s *CatalogService) Groups(ctx context.Context) ([]string, error) {
	items, err := s.ListItems(ctx, repository.KindMedicine, "")
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var groups []string
	for _, it := range items {
		if it.Group == "" || seen[it.Group] {
			continue
		}
		seen[it.Group] = true
		groups = append(groups, it.Group)
	}
	return groups, nil
}

// GetItem returns one catalog row.
func (s *CatalogService) GetItem(ctx context.Context, kind repository.Kind, id string) (*repository.Item, error) {
	return s.itemRepo.GetByID(ctx, kind, id)
}

// DeleteItem deletes a catalog row together with every lot filed under it.
// Lots go first, so a failure leaves the item in place and the call can be
// repeated. It returns the number of lots deleted.
func (s *CatalogService) DeleteItem(ctx context.Context, kind repository.Kind, id string) (int, error) {
	item, err := s.itemRepo.GetByID(ctx, kind, id)
	if err != nil {
		return 0, err
	}

	scope := repository.MedicineScope(item.ID)
	if kind == repository.KindOther {
		scope = repository.OtherScope(item.Name)
	}

	lots, err := s.lotRepo.List(ctx, scope.Kind)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, lot := range lots {
		if !scope.Owns(lot) {
			continue
		}
		if err := s.lotRepo.Delete(ctx, lot.Kind, lot.ID); err != nil {
			return deleted, err
		}
		deleted++
	}

	if err := s.itemRepo.Delete(ctx, kind, item.ID); err != nil {
		return deleted, err
	}

	s.logger.Info().
		Str("item_id", item.ID).
		Str("kind", string(kind)).
		Int("lots_deleted", deleted).
		Msg("catalog item deleted")
	return deleted, nil
}

// ResolveItemID returns the id of the catalog row that holds stock for name.
// Shared medicines resolve to their canonical backing row.
func (s *CatalogService) ResolveItemID(ctx context.Context, name string) (string, error) {
	if identity.DisplayName(name) == "" {
		return "", errors.InvalidField("name", "required")
	}
	items, err := s.resolver.BackingItems(ctx, name)
	if err != nil {
		return "", err
	}
	if len(items) == 0 {
		return "", errors.NotFound("item")
	}
	return items[0].ID, nil
}
