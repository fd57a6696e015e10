package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/medflow/nurse-station/internal/inventory/identity"
	"github.com/medflow/nurse-station/internal/inventory/repository"
	"github.com/medflow/nurse-station/pkg/logger"
)

// Alert types
const (
	AlertLowStock     = "low_stock"
	AlertOutOfStock   = "out_of_stock"
	AlertExpired      = "expired"
	AlertExpiring     = "expiring"
	AlertExpiringSoon = "expiring_soon"
)

// Alert severities
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
)

const (
	criticalExpiryDays       = 30
	defaultExpiryWarningDays = 90
)

// Alert is a stock condition that needs a nurse's attention. Stock alerts
// name an item; expiry alerts name a lot.
type Alert struct {
	Type            string `json:"type"`
	Severity        string `json:"severity"`
	ItemName        string `json:"item_name"`
	ItemRef         string `json:"item_ref,omitempty"`
	LotTable        string `json:"lot_table,omitempty"`
	LotID           string `json:"lot_id,omitempty"`
	Remain          int    `json:"remain"`
	MinQty          int    `json:"min_qty,omitempty"`
	ExpireDate      string `json:"expire_date,omitempty"`
	DaysUntilExpiry *int   `json:"days_until_expiry,omitempty"`
	Message         string `json:"message"`
}

// Key identifies the condition an alert reports, so the same condition
// seen on two scans has the same key.
func (a Alert) Key() string {
	if a.LotID != "" {
		return a.Type + "|" + a.LotTable + "|" + a.LotID
	}
	return a.Type + "|" + a.ItemRef
}

// AlertService scans the catalog and lots for low stock and expiring lots.
type AlertService struct {
	itemRepo   *repository.ItemRepository
	lotRepo    *repository.LotRepository
	resolver   *identity.Resolver
	expiryDays int
	logger     *logger.Logger
	now        func() time.Time
}

// NewAlertService creates a new alert service. Lots expiring within
// expiryDays raise an alert; zero means 90 days.
func NewAlertService(
	itemRepo *repository.ItemRepository,
	lotRepo *repository.LotRepository,
	resolver *identity.Resolver,
	expiryDays int,
	log *logger.Logger,
) *AlertService {
	if expiryDays <= 0 {
		expiryDays = defaultExpiryWarningDays
	}
	return &AlertService{
		itemRepo:   itemRepo,
		lotRepo:    lotRepo,
		resolver:   resolver,
		expiryDays: expiryDays,
		logger:     log.WithComponent("alerts"),
		now:        time.Now,
	}
}

// stockSnapshot is everything one scan reads.
type stockSnapshot struct {
	medicines  []*repository.Item
	others     []*repository.Item
	medLots    []*repository.Lot
	otherLots  []*repository.Lot
	medicineOf map[string]*repository.Item
}

// Scan returns the current alerts, most severe first.
func (s *AlertService) Scan(ctx context.Context) ([]Alert, error) {
	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	scanners := []func(*stockSnapshot) []Alert{
		s.scanLowStock,
		s.scanOtherLowStock,
		s.scanExpiry,
	}
	var alerts []Alert
	for _, scan := range scanners {
		alerts = append(alerts, scan(snap)...)
	}

	sort.SliceStable(alerts, func(i, j int) bool {
		a, b := alerts[i], alerts[j]
		if a.Severity != b.Severity {
			return a.Severity == SeverityCritical
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		if a.ItemName != b.ItemName {
			return strings.ToLower(a.ItemName) < strings.ToLower(b.ItemName)
		}
		return lotIDLess(a.LotID, b.LotID)
	})
	return alerts, nil
}

func (s *AlertService) snapshot(ctx context.Context) (*stockSnapshot, error) {
	snap := &stockSnapshot{medicineOf: make(map[string]*repository.Item)}
	var err error
	if snap.medicines, err = s.itemRepo.List(ctx, repository.KindMedicine); err != nil {
		return nil, err
	}
	if snap.others, err = s.itemRepo.List(ctx, repository.KindOther); err != nil {
		return nil, err
	}
	if snap.medLots, err = s.lotRepo.List(ctx, repository.LotMedicine); err != nil {
		return nil, err
	}
	if snap.otherLots, err = s.lotRepo.List(ctx, repository.LotOther); err != nil {
		return nil, err
	}
	for _, it := range snap.medicines {
		snap.medicineOf[it.ID] = it
	}
	return snap, nil
}

// stockLevel is the pooled stock of one physical item.
type stockLevel struct {
	name   string
	ref    string
	minQty int
	remain int
}

// scanLowStock checks medicines and supplies against their minimum. The
// rows of a shared medicine are one item: their stock is pooled and the
// largest minimum applies.
func (s *AlertService) scanLowStock(snap *stockSnapshot) []Alert {
	levels := make(map[string]*stockLevel)
	keyOf := make(map[string]string, len(snap.medicines))
	var order []string

	for _, it := range snap.medicines {
		key, name := "id:"+it.ID, it.Name
		if s.resolver.IsShared(it.Name) {
			key, name = "shared:"+s.resolver.Key(it.Name), s.resolver.Canonicalize(it.Name)
		}
		keyOf[it.ID] = key
		lvl, ok := levels[key]
		if !ok {
			lvl = &stockLevel{name: name, ref: it.ID}
			levels[key] = lvl
			order = append(order, key)
		}
		if it.MinQty > lvl.minQty {
			lvl.minQty = it.MinQty
		}
	}

	for _, lot := range snap.medLots {
		key, ok := keyOf[lot.MedicineID]
		if !ok && s.resolver.IsShared(lot.ItemName) {
			key = "shared:" + s.resolver.Key(lot.ItemName)
			_, ok = levels[key]
		}
		if ok {
			levels[key].remain += lot.QtyRemain
		}
	}

	var alerts []Alert
	for _, key := range order {
		if a, ok := lowStockAlert(levels[key]); ok {
			alerts = append(alerts, a)
		}
	}
	return alerts
}

// scanOtherLowStock is scanLowStock for free-text items, whose lots are
// matched by name.
func (s *AlertService) scanOtherLowStock(snap *stockSnapshot) []Alert {
	var alerts []Alert
	for _, it := range snap.others {
		if it.MinQty <= 0 {
			continue
		}
		scope := repository.OtherScope(it.Name)
		lvl := &stockLevel{name: it.Name, ref: it.Name, minQty: it.MinQty}
		for _, lot := range snap.otherLots {
			if scope.Owns(lot) {
				lvl.remain += lot.QtyRemain
			}
		}
		if a, ok := lowStockAlert(lvl); ok {
			alerts = append(alerts, a)
		}
	}
	return alerts
}

func lowStockAlert(lvl *stockLevel) (Alert, bool) {
	if lvl.minQty <= 0 || lvl.remain >= lvl.minQty {
		return Alert{}, false
	}

	alertType, severity := AlertLowStock, SeverityWarning
	if lvl.remain <= 0 {
		alertType, severity = AlertOutOfStock, SeverityCritical
	} else if lvl.remain < lvl.minQty/2 {
		severity = SeverityCritical
	}

	return Alert{
		Type:     alertType,
		Severity: severity,
		ItemName: lvl.name,
		ItemRef:  lvl.ref,
		Remain:   lvl.remain,
		MinQty:   lvl.minQty,
		Message:  fmt.Sprintf("%s is %s (%d/%d)", lvl.name, strings.ReplaceAll(alertType, "_", " "), lvl.remain, lvl.minQty),
	}, true
}

// scanExpiry checks every lot that still has stock. Lots without a
// readable expiry date never raise an alert.
func (s *AlertService) scanExpiry(snap *stockSnapshot) []Alert {
	now := s.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	var alerts []Alert
	check := func(lot *repository.Lot, name, ref string) {
		if lot.QtyRemain <= 0 {
			return
		}
		at, ok := parseExpiry(strings.TrimSpace(lot.ExpireDate))
		if !ok {
			return
		}
		day := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)
		daysUntil := int(day.Sub(today).Hours() / 24)
		if daysUntil > s.expiryDays {
			return
		}

		alertType, severity := AlertExpiringSoon, SeverityWarning
		message := fmt.Sprintf("%s %s expires in %d days", name, lot.Label, daysUntil)
		switch {
		case daysUntil < 0:
			alertType, severity = AlertExpired, SeverityCritical
			message = fmt.Sprintf("%s %s expired %d days ago", name, lot.Label, -daysUntil)
		case daysUntil <= criticalExpiryDays:
			alertType, severity = AlertExpiring, SeverityCritical
		}

		alerts = append(alerts, Alert{
			Type:            alertType,
			Severity:        severity,
			ItemName:        name,
			ItemRef:         ref,
			LotTable:        lot.Kind.Table(),
			LotID:           lot.ID,
			Remain:          lot.QtyRemain,
			ExpireDate:      lot.ExpireDate,
			DaysUntilExpiry: &daysUntil,
			Message:         message,
		})
	}

	for _, lot := range snap.medLots {
		name := lot.ItemName
		if it, ok := snap.medicineOf[lot.MedicineID]; ok {
			name = it.Name
		}
		check(lot, name, lot.MedicineID)
	}
	for _, lot := range snap.otherLots {
		check(lot, lot.ItemName, lot.ItemName)
	}
	return alerts
}
