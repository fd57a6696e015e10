package service_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/medflow/nurse-station/internal/cache"
	"github.com/medflow/nurse-station/internal/inventory/events"
	"github.com/medflow/nurse-station/internal/inventory/identity"
	"github.com/medflow/nurse-station/internal/inventory/repository"
	"github.com/medflow/nurse-station/internal/inventory/service"
	"github.com/medflow/nurse-station/internal/sheet"
	"github.com/medflow/nurse-station/pkg/config"
	"github.com/medflow/nurse-station/pkg/logger"
	"github.com/medflow/nurse-station/pkg/messaging"
	"github.com/medflow/nurse-station/pkg/testutil"
)

// recorder captures published events
type recorder struct {
	mu     sync.Mutex
	events []recorded
}

type recorded struct {
	Type string
	Data []byte
}

func (r *recorder) Publish(_ context.Context, eventType string, data any) error {
	b, _ := json.Marshal(data)
	r.mu.Lock()
	r.events = append(r.events, recorded{Type: eventType, Data: b})
	r.mu.Unlock()
	return nil
}

func (r *recorder) stockAdjusted() []messaging.StockAdjustedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []messaging.StockAdjustedEvent
	for _, e := range r.events {
		if e.Type != messaging.EventStockAdjusted {
			continue
		}
		var ev messaging.StockAdjustedEvent
		_ = json.Unmarshal(e.Data, &ev)
		out = append(out, ev)
	}
	return out
}

func (r *recorder) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

// env is the full service stack over a fake sheet backend.
type env struct {
	fake      *testutil.FakeSheet
	cache     *cache.Cache
	events    *recorder
	catalog   *service.CatalogService
	ledger    *service.LedgerService
	reconcile *service.ReconcileService
	reports   *service.ReportService
	alerts    *service.AlertService
	publisher *events.InventoryEventPublisher
}

func newEnv(t *testing.T, shared ...config.SharedMedicineConfig) *env {
	t.Helper()
	fake := testutil.NewFakeSheet(t)
	log := logger.Nop()

	client := sheet.NewClient(&config.SheetConfig{URL: fake.URL(), Timeout: 5 * time.Second}, log)
	c := cache.New(cache.Options{MaxEntries: 128, MaxTTL: time.Minute, AggregateTables: sheet.AggregateTables})
	backend := sheet.NewCached(client, c, time.Minute)

	items := repository.NewItemRepository(backend, 5000)
	lots := repository.NewLotRepository(backend, 5000)
	treatments := repository.NewTreatmentRepository(backend)
	resolver := identity.NewResolver(identity.RulesFromConfig(shared), items, log)

	rec := &recorder{}
	pub := events.NewWithPublisher(rec, log)

	return &env{
		fake:      fake,
		cache:     c,
		events:    rec,
		catalog:   service.NewCatalogService(items, lots, resolver, log),
		ledger:    service.NewLedgerService(items, lots, resolver, pub, log),
		reconcile: service.NewReconcileService(lots, treatments, resolver, pub, log),
		reports:   service.NewReportService(items, lots, treatments, resolver, c, time.Minute, log),
		alerts:    service.NewAlertService(items, lots, resolver, 0, log),
		publisher: pub,
	}
}

// seedLot inserts a medicine lot with the given stock.
func (e *env) seedLot(medicineID string, remain int) string {
	return e.fake.Seed(sheet.TableMedicineLot, map[string]any{
		"medicine_id":    medicineID,
		"lot_name":       "LOT 1",
		"expire_date":    "",
		"qty_total":      remain,
		"qty_remain":     remain,
		"price_per_lot":  remain,
		"price_per_unit": 1,
	})
}

func (e *env) remain(id string) int {
	return e.fake.Int(sheet.TableMedicineLot, id, "qty_remain")
}

func entry(lotID string, qty int) repository.Entry {
	return repository.Entry{LotID: lotID, Qty: qty, Type: "medicine"}
}
