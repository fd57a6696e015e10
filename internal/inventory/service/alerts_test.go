package service_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medflow/nurse-station/internal/inventory/service"
	"github.com/medflow/nurse-station/internal/sheet"
	"github.com/medflow/nurse-station/pkg/errors"
	"github.com/medflow/nurse-station/pkg/logger"
	"github.com/medflow/nurse-station/pkg/messaging"
)

func daysFromNow(n int) string {
	return time.Now().AddDate(0, 0, n).Format("2006-01-02")
}

func alertsByType(alerts []service.Alert) map[string][]service.Alert {
	out := map[string][]service.Alert{}
	for _, a := range alerts {
		out[a.Type] = append(out[a.Type], a)
	}
	return out
}

func TestScan_LowStock(t *testing.T) {
	e := newEnv(t)
	f := e.fake
	low := f.Seed(sheet.TableMedicine, map[string]any{"type": "medicine", "group_name": "A", "name": "ORS", "min_qty": 10})
	out := f.Seed(sheet.TableMedicine, map[string]any{"type": "supply", "group_name": "เวชภัณฑ์", "name": "Gauze", "min_qty": 4})
	ok := f.Seed(sheet.TableMedicine, map[string]any{"type": "medicine", "group_name": "A", "name": "Para", "min_qty": 5})
	f.Seed(sheet.TableMedicine, map[string]any{"type": "medicine", "group_name": "A", "name": "No minimum"})
	e.seedLot(low, 3)
	e.seedLot(low, 4)
	e.seedLot(out, 0)
	e.seedLot(ok, 5)

	alerts, err := e.alerts.Scan(context.Background())
	require.NoError(t, err)
	byType := alertsByType(alerts)

	require.Len(t, byType[service.AlertLowStock], 1)
	assert.Equal(t, "ORS", byType[service.AlertLowStock][0].ItemName)
	assert.Equal(t, 7, byType[service.AlertLowStock][0].Remain)
	assert.Equal(t, service.SeverityWarning, byType[service.AlertLowStock][0].Severity)

	require.Len(t, byType[service.AlertOutOfStock], 1)
	assert.Equal(t, "Gauze", byType[service.AlertOutOfStock][0].ItemName)

	// critical alerts come first
	assert.Equal(t, service.SeverityCritical, alerts[0].Severity)
}

func TestScan_SharedMedicinePoolsStock(t *testing.T) {
	e := newEnv(t, paracetamolRule())
	f := e.fake
	a := f.Seed(sheet.TableMedicine, map[string]any{"type": "medicine", "group_name": "ไข้", "name": "Paracetamol 500", "min_qty": 10})
	b := f.Seed(sheet.TableMedicine, map[string]any{"type": "medicine", "group_name": "ปวดหัว", "name": "Paracetamol(500)", "min_qty": 20})
	e.seedLot(a, 6)
	e.seedLot(b, 6)
	f.Seed(sheet.TableMedicineLot, map[string]any{"medicine_id": "legacy", "item_name": "paracetamol 500", "qty_remain": 3})

	alerts, err := e.alerts.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "Paracetamol(500)", alerts[0].ItemName)
	assert.Equal(t, 15, alerts[0].Remain)
	assert.Equal(t, 20, alerts[0].MinQty)
}

func TestScan_OtherItems(t *testing.T) {
	e := newEnv(t)
	e.fake.Seed(sheet.TableOtherItem, map[string]any{"name": "Ice Pack", "min_qty": 5})
	e.fake.Seed(sheet.TableOtherLot, map[string]any{"item_name": "ice pack", "qty_remain": 2})

	alerts, err := e.alerts.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, service.AlertLowStock, alerts[0].Type)
	assert.Equal(t, 2, alerts[0].Remain)
}

func TestScan_Expiry(t *testing.T) {
	e := newEnv(t)
	f := e.fake
	med := seedMedicine(e, "A", "ORS")
	expired := f.Seed(sheet.TableMedicineLot, map[string]any{"medicine_id": med, "lot_name": "LOT 1", "expire_date": daysFromNow(-3), "qty_remain": 2})
	soon := f.Seed(sheet.TableMedicineLot, map[string]any{"medicine_id": med, "lot_name": "LOT 2", "expire_date": daysFromNow(10), "qty_remain": 2})
	later := f.Seed(sheet.TableMedicineLot, map[string]any{"medicine_id": med, "lot_name": "LOT 3", "expire_date": daysFromNow(60), "qty_remain": 2})
	f.Seed(sheet.TableMedicineLot, map[string]any{"medicine_id": med, "expire_date": daysFromNow(200), "qty_remain": 2})
	f.Seed(sheet.TableMedicineLot, map[string]any{"medicine_id": med, "expire_date": daysFromNow(-30), "qty_remain": 0})
	f.Seed(sheet.TableMedicineLot, map[string]any{"medicine_id": med, "expire_date": "", "qty_remain": 9})
	spray := f.Seed(sheet.TableOtherLot, map[string]any{"item_name": "Cold spray", "expire_date": daysFromNow(5), "qty_remain": 1})

	alerts, err := e.alerts.Scan(context.Background())
	require.NoError(t, err)
	byType := alertsByType(alerts)

	require.Len(t, byType[service.AlertExpired], 1)
	assert.Equal(t, expired, byType[service.AlertExpired][0].LotID)
	assert.Equal(t, -3, *byType[service.AlertExpired][0].DaysUntilExpiry)
	assert.Equal(t, "ORS", byType[service.AlertExpired][0].ItemName)

	require.Len(t, byType[service.AlertExpiring], 2)
	assert.ElementsMatch(t, []string{soon, spray}, []string{byType[service.AlertExpiring][0].LotID, byType[service.AlertExpiring][1].LotID})

	require.Len(t, byType[service.AlertExpiringSoon], 1)
	assert.Equal(t, later, byType[service.AlertExpiringSoon][0].LotID)
	assert.Equal(t, service.SeverityWarning, byType[service.AlertExpiringSoon][0].Severity)
}

func TestScan_BackendFailure(t *testing.T) {
	e := newEnv(t)
	e.fake.Fail("list", sheet.TableOtherLot, 0)

	_, err := e.alerts.Scan(context.Background())
	assert.ErrorIs(t, err, errors.ErrBackend)
}

func TestAlertScheduler_PublishesChanges(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	med := e.fake.Seed(sheet.TableMedicine, map[string]any{"type": "medicine", "group_name": "A", "name": "ORS", "min_qty": 10})
	lot := e.seedLot(med, 3)

	sched := service.NewAlertScheduler(e.alerts, e.publisher, time.Hour, logger.Nop())

	require.NoError(t, sched.RunOnce(ctx))
	assert.Equal(t, 1, e.events.count(messaging.EventAlertRaised))

	// unchanged condition is not announced again
	require.NoError(t, sched.RunOnce(ctx))
	assert.Equal(t, 1, e.events.count(messaging.EventAlertRaised))

	// restocking clears it
	_, err := e.reconcile.CutStock(ctx, service.CutInput{LotID: lot, Qty: 1})
	require.NoError(t, err)
	e.seedLot(med, 20)
	e.cache.InvalidateAll()

	require.NoError(t, sched.RunOnce(ctx))
	assert.Equal(t, 1, e.events.count(messaging.EventAlertCleared))

	var cleared messaging.AlertEvent
	for _, ev := range e.events.events {
		if ev.Type == messaging.EventAlertCleared {
			require.NoError(t, json.Unmarshal(ev.Data, &cleared))
		}
	}
	assert.Equal(t, service.AlertLowStock, cleared.Type)
	assert.Equal(t, "ORS", cleared.ItemName)
}

func TestAlertScheduler_FailedScanKeepsState(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	med := e.fake.Seed(sheet.TableMedicine, map[string]any{"type": "medicine", "group_name": "A", "name": "ORS", "min_qty": 10})
	e.seedLot(med, 3)

	sched := service.NewAlertScheduler(e.alerts, e.publisher, time.Hour, logger.Nop())
	require.NoError(t, sched.RunOnce(ctx))

	e.cache.InvalidateAll()
	e.fake.Fail("list", sheet.TableMedicineLot, 0)
	assert.Error(t, sched.RunOnce(ctx))
	assert.Zero(t, e.events.count(messaging.EventAlertCleared))
}
