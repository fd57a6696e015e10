package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medflow/nurse-station/internal/inventory/repository"
	"github.com/medflow/nurse-station/internal/sheet"
	"github.com/medflow/nurse-station/pkg/config"
	"github.com/medflow/nurse-station/pkg/errors"
	"github.com/medflow/nurse-station/pkg/logger"
	"github.com/medflow/nurse-station/pkg/testutil"
)

func newBackend(t *testing.T) (sheet.Backend, *testutil.FakeSheet) {
	t.Helper()
	fake := testutil.NewFakeSheet(t)
	return sheet.NewClient(&config.SheetConfig{URL: fake.URL(), Timeout: 2 * time.Second}, logger.Nop()), fake
}

func TestLotRepository_DecodesLooseCells(t *testing.T) {
	backend, fake := newBackend(t)
	id := fake.Seed(sheet.TableMedicineLot, map[string]any{
		"medicine_id":    3,
		"lot_name":       "LOT 1",
		"expire_date":    " 2026-12-31 ",
		"qty_total":      "10",
		"qty_remain":     8.0,
		"price_per_lot":  "125.5",
		"price_per_unit": "",
	})

	lot, err := repository.NewLotRepository(backend, 100).GetByID(context.Background(), repository.LotMedicine, id)
	require.NoError(t, err)
	assert.Equal(t, id, lot.ID)
	assert.Equal(t, "3", lot.MedicineID)
	assert.Equal(t, "2026-12-31", lot.ExpireDate)
	assert.Equal(t, 10, lot.QtyTotal)
	assert.Equal(t, 8, lot.QtyRemain)
	assert.True(t, decimal.RequireFromString("125.5").Equal(lot.PricePerLot))
	assert.True(t, lot.PricePerUnit.IsZero())
	assert.Equal(t, repository.LotMedicine, lot.Kind)
}

func TestLotRepository_NotFoundAndBackendFailure(t *testing.T) {
	backend, fake := newBackend(t)
	repo := repository.NewLotRepository(backend, 100)
	ctx := context.Background()

	_, err := repo.GetByID(ctx, repository.LotOther, "42")
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	fake.Fail("get", sheet.TableOtherLot, 0)
	_, err = repo.GetByID(ctx, repository.LotOther, "42")
	assert.True(t, errors.Is(err, errors.ErrBackend))
}

func TestLotRepository_CreateWritesScopeColumn(t *testing.T) {
	backend, fake := newBackend(t)
	repo := repository.NewLotRepository(backend, 100)
	ctx := context.Background()

	other := &repository.Lot{
		Kind:         repository.LotOther,
		ItemName:     "Mask",
		Label:        "LOT 1",
		QtyTotal:     5,
		QtyRemain:    5,
		PricePerLot:  decimal.NewFromInt(50),
		PricePerUnit: decimal.NewFromInt(10),
	}
	require.NoError(t, repo.Create(ctx, other))
	assert.Equal(t, "Mask", fake.String(sheet.TableOtherLot, other.ID, "item_name"))
	assert.Equal(t, "10", fake.String(sheet.TableOtherLot, other.ID, "price_per_unit"))

	med := &repository.Lot{Kind: repository.LotMedicine, MedicineID: "2", QtyTotal: 1, QtyRemain: 1}
	require.NoError(t, repo.Create(ctx, med))
	assert.Equal(t, "2", fake.String(sheet.TableMedicineLot, med.ID, "medicine_id"))
}

func TestLotRepository_BatchCalls(t *testing.T) {
	backend, fake := newBackend(t)
	repo := repository.NewLotRepository(backend, 100)
	ctx := context.Background()
	a := fake.Seed(sheet.TableMedicineLot, map[string]any{"qty_remain": 1})
	b := fake.Seed(sheet.TableMedicineLot, map[string]any{"qty_remain": 2})

	lots, err := repo.BatchGet(ctx, repository.LotMedicine, []string{a, b, "99"})
	require.NoError(t, err)
	assert.Len(t, lots, 2)
	assert.Equal(t, 2, lots[b].QtyRemain)

	require.NoError(t, repo.SetRemainBatch(ctx, repository.LotMedicine, map[string]int{a: 7, b: 9}))
	assert.Equal(t, 7, fake.Int(sheet.TableMedicineLot, a, "qty_remain"))
	assert.Equal(t, 9, fake.Int(sheet.TableMedicineLot, b, "qty_remain"))

	fake.DisableBatch()
	_, err = repo.BatchGet(ctx, repository.LotMedicine, []string{a})
	assert.Error(t, err)
}

func TestItemRepository_ListNormalizesRows(t *testing.T) {
	backend, fake := newBackend(t)
	fake.Seed(sheet.TableOtherItem, map[string]any{"ชื่อรายการ": "  Cotton   bud "})
	fake.Seed(sheet.TableMedicine, map[string]any{"type": " Medicine", "group_name": "ปวดหัว ", "name": "Paracetamol"})

	repo := repository.NewItemRepository(backend, 100)
	ctx := context.Background()

	others, err := repo.List(ctx, repository.KindOther)
	require.NoError(t, err)
	require.Len(t, others, 1)
	assert.Equal(t, "Cotton bud", others[0].Name)
	assert.Equal(t, repository.KindOther, others[0].Kind)

	meds, err := repo.List(ctx, repository.KindMedicine)
	require.NoError(t, err)
	require.Len(t, meds, 1)
	assert.Equal(t, repository.KindMedicine, meds[0].Kind)
	assert.Equal(t, "ปวดหัว", meds[0].Group)
}

func TestTreatmentRepository_RoundTrip(t *testing.T) {
	backend, fake := newBackend(t)
	repo := repository.NewTreatmentRepository(backend)
	ctx := context.Background()

	tr := &repository.Treatment{
		VisitDate:    "2026-03-14",
		PatientName:  "Somchai",
		SymptomGroup: "ปวดหัว",
		Allergy:      "0",
		Items:        []repository.Entry{{LotID: "1", Name: "Paracetamol", Qty: 2, Type: "medicine"}},
	}
	require.NoError(t, repo.Create(ctx, tr))
	require.NotEmpty(t, tr.ID)

	got, err := repo.GetByID(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, "Somchai", got.PatientName)
	require.Len(t, got.Items, 1)
	assert.Equal(t, 2, got.Items[0].Qty)

	y, m, ok := got.YearMonth()
	assert.True(t, ok)
	assert.Equal(t, 2026, y)
	assert.Equal(t, 3, m)

	fake.Seed(sheet.TableTreatment, map[string]any{"medicine": "{broken", "visit_date": "x"})
	list, err := repo.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Error(t, list[1].ItemsErr)
	assert.Empty(t, list[1].Items)
}

func TestLotScope_Owns(t *testing.T) {
	lot := &repository.Lot{MedicineID: "5", ItemName: " Face  Mask"}
	assert.True(t, repository.MedicineScope("5").Owns(lot))
	assert.False(t, repository.MedicineScope("6").Owns(lot))
	assert.True(t, repository.OtherScope("face mask").Owns(lot))
}
