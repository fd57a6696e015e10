package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medflow/nurse-station/internal/inventory/service"
	"github.com/medflow/nurse-station/internal/sheet"
	"github.com/medflow/nurse-station/pkg/config"
	"github.com/medflow/nurse-station/pkg/errors"
)

// seedDashboard builds a small history: two drugs, one shared under two
// catalog rows, one supply, and visits in March and April 2026.
func seedDashboard(e *env) {
	f := e.fake
	f.Seed(sheet.TableMedicine, map[string]any{"type": "medicine", "group_name": "ไข้", "name": "Paracetamol 500"})
	f.Seed(sheet.TableMedicine, map[string]any{"type": "medicine", "group_name": "ปวดหัว", "name": "Paracetamol(500)"})
	f.Seed(sheet.TableMedicine, map[string]any{"type": "supply", "group_name": "เวชภัณฑ์", "name": "Gauze"})
	f.Seed(sheet.TableMedicine, map[string]any{"type": "medicine", "group_name": "ท้องเสีย", "name": "ORS"})

	f.Seed(sheet.TableMedicineLot, map[string]any{"medicine_id": "1", "qty_total": 100, "qty_remain": 40, "price_per_unit": "0.5"})
	f.Seed(sheet.TableMedicineLot, map[string]any{"medicine_id": "2", "qty_total": 50, "qty_remain": 10, "price_per_unit": "0.6"})
	f.Seed(sheet.TableMedicineLot, map[string]any{"medicine_id": "3", "qty_total": 20, "qty_remain": 5, "price_per_unit": "2.125"})

	f.Seed(sheet.TableTreatment, map[string]any{
		"visit_date": "2026-03-02", "department": "Packing", "symptom_group": "ไข้",
		"medicine": `[{"lot_id":"1","name":"Paracetamol 500","qty":4,"type":"medicine"}]`,
	})
	f.Seed(sheet.TableTreatment, map[string]any{
		"visit_date": "2026-03-05", "department": "Office", "symptom_group": "ปวดหัว",
		"medicine": `[{"lot_id":"2","name":"Paracetamol(500)","qty":2,"type":"medicine"},{"lot_id":"3","name":"Gauze","qty":1,"type":"supply"}]`,
	})
	f.Seed(sheet.TableTreatment, map[string]any{
		"visit_date": "2026-03-09", "department": "Packing", "symptom_group": "",
		"medicine": "[]",
	})
	f.Seed(sheet.TableTreatment, map[string]any{
		"visit_date": "2026-04-01", "department": "Office", "symptom_group": "ไข้",
		"medicine": `[{'lot_id': '1', 'name': 'Paracetamol 500', 'qty': 10, 'type': 'medicine'}]`,
	})
	f.Seed(sheet.TableTreatment, map[string]any{
		"visit_date": "2025-03-01", "department": "Packing", "symptom_group": "ไข้",
		"medicine": `[{"lot_id":"1","name":"Paracetamol 500","qty":99,"type":"medicine"}]`,
	})
}

func paracetamolRule() config.SharedMedicineConfig {
	return config.SharedMedicineConfig{Canonical: "Paracetamol(500)", Aliases: []string{"Paracetamol 500"}}
}

func TestDrugSummary(t *testing.T) {
	e := newEnv(t, paracetamolRule())
	seedDashboard(e)

	stats, err := e.reports.DrugSummary(context.Background(), 2026, 3)
	require.NoError(t, err)
	require.Len(t, stats, 3)

	byName := map[string]service.DrugStat{}
	for _, s := range stats {
		byName[s.Name] = s
	}

	para := byName["Paracetamol(500)"]
	assert.Equal(t, 6, para.Used)
	assert.Equal(t, 50, para.Remain)
	assert.True(t, para.HasUsed)
	assert.True(t, para.HasLot)

	gauze := byName["Gauze"]
	assert.Equal(t, 1, gauze.Used)
	assert.Equal(t, 5, gauze.Remain)

	ors := byName["ORS"]
	assert.False(t, ors.HasUsed)
	assert.False(t, ors.HasLot)
}

func TestDrugSummary_WholeYear(t *testing.T) {
	e := newEnv(t, paracetamolRule())
	seedDashboard(e)

	stats, err := e.reports.DrugSummary(context.Background(), 2026, 0)
	require.NoError(t, err)

	byName := map[string]service.DrugStat{}
	for _, s := range stats {
		byName[s.Name] = s
	}
	// March and April; the 2025 visit stays out
	assert.Equal(t, 16, byName["Paracetamol(500)"].Used)
	assert.True(t, byName["Paracetamol(500)"].HasUsed)
	assert.Equal(t, 1, byName["Gauze"].Used)
	assert.False(t, byName["ORS"].HasUsed)
}

func TestMonthlyCost(t *testing.T) {
	e := newEnv(t, paracetamolRule())
	seedDashboard(e)

	months, err := e.reports.MonthlyCost(context.Background(), 2026)
	require.NoError(t, err)
	require.Len(t, months, 12)

	march := months[2]
	assert.Equal(t, 3, march.Month)
	assert.Equal(t, "3.2", march.Drug.String())    // 4*0.5 + 2*0.6
	assert.Equal(t, "2.13", march.Supply.String()) // 2.125 rounds half up
	assert.Equal(t, "5.33", march.Total.String())

	april := months[3]
	assert.Equal(t, "5", april.Drug.String())
	assert.True(t, months[0].Total.IsZero())
}

func TestTopItems(t *testing.T) {
	e := newEnv(t, paracetamolRule())
	seedDashboard(e)
	ctx := context.Background()

	top, err := e.reports.TopItems(ctx, 2026, 0, 0)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, service.Count{Name: "Paracetamol(500)", Count: 16}, top[0])
	assert.Equal(t, service.Count{Name: "Gauze", Count: 1}, top[1])

	top, err = e.reports.TopItems(ctx, 2026, 4, 1)
	require.NoError(t, err)
	assert.Equal(t, []service.Count{{Name: "Paracetamol(500)", Count: 10}}, top)
}

func TestDepartmentCounts(t *testing.T) {
	e := newEnv(t)
	seedDashboard(e)

	counts, err := e.reports.DepartmentCounts(context.Background(), 2026, 0)
	require.NoError(t, err)
	// tie on count is broken by name
	assert.Equal(t, []service.Count{{Name: "Office", Count: 2}, {Name: "Packing", Count: 2}}, counts)
}

func TestSymptomCounts(t *testing.T) {
	e := newEnv(t)
	seedDashboard(e)
	ctx := context.Background()

	yearly, err := e.reports.SymptomCounts(ctx, 2026, 0)
	require.NoError(t, err)
	assert.Equal(t, []service.Count{{Name: "ไข้", Count: 2}, {Name: "ปวดหัว", Count: 1}}, yearly)

	monthly, err := e.reports.SymptomCounts(ctx, 2026, 3)
	require.NoError(t, err)
	assert.ElementsMatch(t, []service.Count{
		{Name: "ไข้", Count: 1},
		{Name: "เวชภัณฑ์", Count: 1},
		{Name: "อื่นๆ", Count: 1},
	}, monthly)
}

func TestReports_AreCachedUntilAWrite(t *testing.T) {
	e := newEnv(t)
	seedDashboard(e)
	ctx := context.Background()

	_, err := e.reports.DepartmentCounts(ctx, 2026, 0)
	require.NoError(t, err)
	_, err = e.reports.DepartmentCounts(ctx, 2026, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, e.fake.Calls("list", sheet.TableTreatment))

	_, err = e.reconcile.Commit(ctx, visit(entry("1", 1)))
	require.NoError(t, err)

	counts, err := e.reports.DepartmentCounts(ctx, 2026, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, e.fake.Calls("list", sheet.TableTreatment))
	assert.Contains(t, counts, service.Count{Name: "Warehouse", Count: 1})
}

func TestReports_FailureIsNotCached(t *testing.T) {
	e := newEnv(t)
	seedDashboard(e)
	ctx := context.Background()
	e.fake.Fail("list", sheet.TableTreatment, 0)

	_, err := e.reports.DepartmentCounts(ctx, 2026, 0)
	assert.ErrorIs(t, err, errors.ErrBackend)

	e.fake.Heal("list", sheet.TableTreatment)
	counts, err := e.reports.DepartmentCounts(ctx, 2026, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, counts)
}
