package identity

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/medflow/nurse-station/internal/inventory/repository"
	"github.com/medflow/nurse-station/pkg/config"
	"github.com/medflow/nurse-station/pkg/logger"
)

// Rule declares a family of names that share one stock pool. Groups, when
// set, limit which catalog rows may back the family to those filed under
// one of the listed symptom groups.
type Rule struct {
	Canonical string
	Aliases   []string
	Groups    []string
}

// RulesFromConfig converts the configured shared-medicine table.
func RulesFromConfig(cfg []config.SharedMedicineConfig) []Rule {
	rules := make([]Rule, 0, len(cfg))
	for _, c := range cfg {
		rules = append(rules, Rule{
			Canonical: DisplayName(c.Canonical),
			Aliases:   c.Aliases,
			Groups:    c.Groups,
		})
	}
	return rules
}

type compiledRule struct {
	Rule
	key    string
	groups map[string]struct{}
}

func (r *compiledRule) allowsGroup(group string) bool {
	if len(r.groups) == 0 {
		return true
	}
	_, ok := r.groups[strings.TrimSpace(group)]
	return ok
}

// ItemLister is the catalog read the resolver needs.
type ItemLister interface {
	List(ctx context.Context, kind repository.Kind) ([]*repository.Item, error)
}

// Resolver maps free-text names to canonical display names and backing
// catalog rows.
type Resolver struct {
	rules  []*compiledRule
	byKey  map[string]*compiledRule
	items  ItemLister
	logger *logger.Logger
}

// NewResolver creates a resolver. Rules are matched by canonical key of the
// canonical name and of every alias; a key claimed by two rules goes to the
// first.
func NewResolver(rules []Rule, items ItemLister, log *logger.Logger) *Resolver {
	r := &Resolver{
		byKey:  make(map[string]*compiledRule),
		items:  items,
		logger: log.WithComponent("identity"),
	}
	for _, rule := range rules {
		cr := &compiledRule{Rule: rule, key: CanonicalKey(rule.Canonical)}
		if len(rule.Groups) > 0 {
			cr.groups = make(map[string]struct{}, len(rule.Groups))
			for _, g := range rule.Groups {
				cr.groups[strings.TrimSpace(g)] = struct{}{}
			}
		}
		r.rules = append(r.rules, cr)
		for _, name := range append([]string{rule.Canonical}, rule.Aliases...) {
			k := CanonicalKey(name)
			if k == "" {
				continue
			}
			if _, taken := r.byKey[k]; !taken {
				r.byKey[k] = cr
			}
		}
	}
	return r
}

func (r *Resolver) ruleFor(name string) *compiledRule {
	return r.byKey[CanonicalKey(name)]
}

// Canonicalize returns the rule's display name when name belongs to a
// shared family, else name with whitespace normalized.
func (r *Resolver) Canonicalize(name string) string {
	if rule := r.ruleFor(name); rule != nil {
		return rule.Canonical
	}
	return DisplayName(name)
}

// IsShared reports whether name belongs to a shared family.
func (r *Resolver) IsShared(name string) bool {
	return r.ruleFor(name) != nil
}

// Key is the identity of name: two names with the same key are the same
// physical item.
func (r *Resolver) Key(name string) string {
	if rule := r.ruleFor(name); rule != nil {
		return rule.key
	}
	return CanonicalKey(name)
}

// Same reports whether a and b name the same physical item.
func (r *Resolver) Same(a, b string) bool {
	ka := r.Key(a)
	return ka != "" && ka == r.Key(b)
}

// BackingItems returns every medicine or supply row that represents name,
// ordered so the canonical backing row comes first.
func (r *Resolver) BackingItems(ctx context.Context, name string) ([]*repository.Item, error) {
	key := r.Key(name)
	if key == "" {
		return nil, nil
	}
	rule := r.ruleFor(name)

	items, err := r.items.List(ctx, repository.KindMedicine)
	if err != nil {
		return nil, err
	}

	var out []*repository.Item
	for _, it := range items {
		if r.Key(it.Name) != key {
			continue
		}
		if rule != nil && !rule.allowsGroup(it.Group) {
			continue
		}
		out = append(out, it)
	}
	sort.SliceStable(out, func(i, j int) bool { return idLess(out[i].ID, out[j].ID) })
	return out, nil
}

// ResolveBackingItem picks the one catalog row that new stock for name
// should be filed under: the lowest numeric id among every matching row and
// fallbackID. Non-numeric ids sort after numeric ones. When the catalog
// cannot be read the fallback is returned unchanged.
func (r *Resolver) ResolveBackingItem(ctx context.Context, name, fallbackID string) string {
	items, err := r.BackingItems(ctx, name)
	if err != nil {
		r.logger.Warn().Err(err).Str("name", name).Msg("catalog lookup failed, using fallback item")
		return fallbackID
	}

	ids := make([]string, 0, len(items)+1)
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	if fallbackID = strings.TrimSpace(fallbackID); fallbackID != "" {
		ids = append(ids, fallbackID)
	}
	if len(ids) == 0 {
		return ""
	}
	sort.SliceStable(ids, func(i, j int) bool { return idLess(ids[i], ids[j]) })
	return ids[0]
}

func idLess(a, b string) bool {
	na, errA := strconv.ParseInt(strings.TrimSpace(a), 10, 64)
	nb, errB := strconv.ParseInt(strings.TrimSpace(b), 10, 64)
	switch {
	case errA == nil && errB == nil:
		return na < nb
	case errA == nil:
		return true
	case errB == nil:
		return false
	}
	return a < b
}
