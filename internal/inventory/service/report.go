package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/medflow/nurse-station/internal/cache"
	"github.com/medflow/nurse-station/internal/inventory/identity"
	"github.com/medflow/nurse-station/internal/inventory/repository"
	"github.com/medflow/nurse-station/pkg/logger"
)

const (
	reportTreatmentLimit = 10000
	defaultTopItems      = 5
)

// ReportService answers the dashboard queries. Results are memoized in the
// aggregate cache, which is dropped on any write to a table they read.
type ReportService struct {
	itemRepo      *repository.ItemRepository
	lotRepo       *repository.LotRepository
	treatmentRepo *repository.TreatmentRepository
	resolver      *identity.Resolver
	cache         *cache.Cache
	ttl           time.Duration
	logger        *logger.Logger
}

// NewReportService creates a new report service
func NewReportService(
	itemRepo *repository.ItemRepository,
	lotRepo *repository.LotRepository,
	treatmentRepo *repository.TreatmentRepository,
	resolver *identity.Resolver,
	c *cache.Cache,
	ttl time.Duration,
	log *logger.Logger,
) *ReportService {
	return &ReportService{
		itemRepo:      itemRepo,
		lotRepo:       lotRepo,
		treatmentRepo: treatmentRepo,
		resolver:      resolver,
		cache:         c,
		ttl:           ttl,
		logger:        log.WithComponent("report"),
	}
}

type outcome[V any] struct {
	val V
	err error
}

// aggregate memoizes fetch under key. Failed computations are not kept.
func aggregate[V any](s *ReportService, key string, fetch func() (V, error)) (V, error) {
	out := cache.Aggregate(s.cache, key, s.ttl, func() (outcome[V], bool) {
		v, err := fetch()
		return outcome[V]{val: v, err: err}, err == nil
	})
	return out.val, out.err
}

// DrugStat is one row of the drug summary.
type DrugStat struct {
	Name    string `json:"name"`
	Used    int    `json:"used"`
	Remain  int    `json:"remain"`
	HasUsed bool   `json:"has_used"`
	HasLot  bool   `json:"has_lot"`
}

// DrugSummary reports, per medicine or supply, how much was dispensed in
// the month and how much remains across all of its lots. Shared medicines
// are reported once under their canonical name.
func (s *ReportService) DrugSummary(ctx context.Context, year, month int) ([]DrugStat, error) {
	return aggregate(s, cache.Key("drug_summary", year, month), func() ([]DrugStat, error) {
		items, err := s.itemRepo.List(ctx, repository.KindMedicine)
		if err != nil {
			return nil, err
		}
		lots, err := s.lotRepo.List(ctx, repository.LotMedicine)
		if err != nil {
			return nil, err
		}
		treatments, err := s.treatmentRepo.List(ctx, reportTreatmentLimit)
		if err != nil {
			return nil, err
		}

		stats := map[string]*DrugStat{}
		var order []string
		keyByID := map[string]string{}
		for _, it := range items {
			key := s.resolver.Key(it.Name)
			if key == "" {
				continue
			}
			keyByID[it.ID] = key
			if _, ok := stats[key]; !ok {
				stats[key] = &DrugStat{Name: s.resolver.Canonicalize(it.Name)}
				order = append(order, key)
			}
		}

		for _, lot := range lots {
			key, ok := keyByID[lot.MedicineID]
			if !ok && lot.ItemName != "" {
				key = s.resolver.Key(lot.ItemName)
			}
			st, ok := stats[key]
			if !ok {
				continue
			}
			st.Remain += lot.QtyRemain
			st.HasLot = true
		}

		for _, t := range treatments {
			if y, m, ok := t.YearMonth(); !ok || y != year || (month > 0 && m != month) {
				continue
			}
			for _, e := range t.Items {
				if e.Kind != repository.LotMedicine {
					continue
				}
				st, ok := stats[s.resolver.Key(e.Name)]
				if !ok {
					continue
				}
				st.Used += e.Qty
				st.HasUsed = true
			}
		}

		out := make([]DrugStat, 0, len(order))
		for _, key := range order {
			out = append(out, *stats[key])
		}
		sort.SliceStable(out, func(i, j int) bool {
			return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
		})
		return out, nil
	})
}

// MonthCost is the cost of one month's dispensing.
type MonthCost struct {
	Month  int             `json:"month"`
	Drug   decimal.Decimal `json:"drug"`
	Supply decimal.Decimal `json:"supply"`
	Total  decimal.Decimal `json:"total"`
}

// MonthlyCost prices every dispensed medicine and supply entry of the year
// at its lot's unit price.
func (s *ReportService) MonthlyCost(ctx context.Context, year int) ([]MonthCost, error) {
	return aggregate(s, cache.Key("monthly_cost", year), func() ([]MonthCost, error) {
		items, err := s.itemRepo.List(ctx, repository.KindMedicine)
		if err != nil {
			return nil, err
		}
		lots, err := s.lotRepo.List(ctx, repository.LotMedicine)
		if err != nil {
			return nil, err
		}
		treatments, err := s.treatmentRepo.List(ctx, reportTreatmentLimit)
		if err != nil {
			return nil, err
		}

		kindByID := make(map[string]repository.Kind, len(items))
		for _, it := range items {
			kindByID[it.ID] = it.Kind
		}
		lotByID := make(map[string]*repository.Lot, len(lots))
		for _, l := range lots {
			lotByID[l.ID] = l
		}

		months := make([]MonthCost, 12)
		for i := range months {
			months[i].Month = i + 1
		}
		for _, t := range treatments {
			y, m, ok := t.YearMonth()
			if !ok || y != year || m < 1 || m > 12 {
				continue
			}
			mc := &months[m-1]
			for _, e := range t.Items {
				if e.Kind != repository.LotMedicine || e.Qty <= 0 {
					continue
				}
				lot, ok := lotByID[e.LotID]
				if !ok {
					continue
				}
				cost := lot.PricePerUnit.Mul(decimal.NewFromInt(int64(e.Qty)))
				switch kindByID[lot.MedicineID] {
				case repository.KindMedicine:
					mc.Drug = mc.Drug.Add(cost)
				case repository.KindSupply:
					mc.Supply = mc.Supply.Add(cost)
				}
			}
		}

		for i := range months {
			mc := &months[i]
			mc.Total = mc.Drug.Add(mc.Supply).Round(totalPlaces)
			mc.Drug = mc.Drug.Round(totalPlaces)
			mc.Supply = mc.Supply.Round(totalPlaces)
		}
		return months, nil
	})
}

// Count is a name with a number of occurrences.
type Count struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// TopItems returns the n most dispensed items of the year, or of one month
// when month is not zero. n defaults to 5.
func (s *ReportService) TopItems(ctx context.Context, year, month, n int) ([]Count, error) {
	if n <= 0 {
		n = defaultTopItems
	}
	return aggregate(s, cache.Key("top_items", year, month, n), func() ([]Count, error) {
		treatments, err := s.inPeriod(ctx, year, month)
		if err != nil {
			return nil, err
		}
		counts := map[string]int{}
		for _, t := range treatments {
			for _, e := range t.Items {
				name := s.resolver.Canonicalize(e.Name)
				if name == "" || e.Qty <= 0 {
					continue
				}
				counts[name] += e.Qty
			}
		}
		out := sortCounts(counts)
		if len(out) > n {
			out = out[:n]
		}
		return out, nil
	})
}

// DepartmentCounts counts visits per department in the year, or in one
// month when month is not zero.
func (s *ReportService) DepartmentCounts(ctx context.Context, year, month int) ([]Count, error) {
	return aggregate(s, cache.Key("departments", year, month), func() ([]Count, error) {
		treatments, err := s.inPeriod(ctx, year, month)
		if err != nil {
			return nil, err
		}
		counts := map[string]int{}
		for _, t := range treatments {
			if d := strings.TrimSpace(t.Department); d != "" {
				counts[d]++
			}
		}
		return sortCounts(counts), nil
	})
}

// SymptomCounts counts visits per symptom group. In the monthly view a
// visit that dispensed any supply is counted under the supplies group and
// a visit without a group is counted under the other group.
func (s *ReportService) SymptomCounts(ctx context.Context, year, month int) ([]Count, error) {
	return aggregate(s, cache.Key("symptoms", year, month), func() ([]Count, error) {
		treatments, err := s.inPeriod(ctx, year, month)
		if err != nil {
			return nil, err
		}
		counts := map[string]int{}
		for _, t := range treatments {
			group := strings.TrimSpace(t.SymptomGroup)
			if month > 0 {
				switch {
				case dispensedSupply(t):
					group = repository.GroupSupplies
				case group == "":
					group = repository.GroupOther
				}
			}
			if group != "" {
				counts[group]++
			}
		}
		return sortCounts(counts), nil
	})
}

func dispensedSupply(t *repository.Treatment) bool {
	for _, e := range t.Items {
		if e.IsSupply() {
			return true
		}
	}
	return false
}

func (s *ReportService) inPeriod(ctx context.Context, year, month int) ([]*repository.Treatment, error) {
	all, err := s.treatmentRepo.List(ctx, reportTreatmentLimit)
	if err != nil {
		return nil, err
	}
	var out []*repository.Treatment
	for _, t := range all {
		y, m, ok := t.YearMonth()
		if !ok || y != year || (month > 0 && m != month) {
			continue
		}
		if t.ItemsErr != nil {
			s.logger.Warn().Err(t.ItemsErr).Str("treatment_id", t.ID).Msg("item list unreadable, counted without items")
		}
		out = append(out, t)
	}
	return out, nil
}

func sortCounts(counts map[string]int) []Count {
	out := make([]Count, 0, len(counts))
	for name, n := range counts {
		out = append(out, Count{Name: name, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out
}
