package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medflow/nurse-station/internal/inventory/repository"
	"github.com/medflow/nurse-station/internal/inventory/service"
	"github.com/medflow/nurse-station/internal/sheet"
	"github.com/medflow/nurse-station/pkg/config"
	"github.com/medflow/nurse-station/pkg/errors"
)

func TestAddItem_IsIdempotent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	first, created, err := e.catalog.AddItem(ctx, service.AddItemInput{
		Kind: repository.KindMedicine, Group: "ปวดหัว", Name: "  Paracetamol   500 ",
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "Paracetamol 500", first.Name)

	again, created, err := e.catalog.AddItem(ctx, service.AddItemInput{
		Kind: repository.KindMedicine, Group: "ปวดหัว", Name: "paracetamol 500",
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
	assert.Len(t, e.fake.Rows(sheet.TableMedicine), 1)

	// same name in another group is a different row
	_, created, err = e.catalog.AddItem(ctx, service.AddItemInput{
		Kind: repository.KindMedicine, Group: "ไข้", Name: "Paracetamol 500",
	})
	require.NoError(t, err)
	assert.True(t, created)
}

func TestAddItem_FixedGroups(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	supply, _, err := e.catalog.AddItem(ctx, service.AddItemInput{Kind: repository.KindSupply, Group: "ignored", Name: "Gauze"})
	require.NoError(t, err)
	assert.Equal(t, repository.GroupSupplies, supply.Group)
	assert.Equal(t, "supply", e.fake.String(sheet.TableMedicine, supply.ID, "type"))

	other, _, err := e.catalog.AddItem(ctx, service.AddItemInput{Kind: repository.KindOther, Name: "Ice pack"})
	require.NoError(t, err)
	assert.Equal(t, repository.GroupOther, other.Group)
	assert.NotEmpty(t, e.fake.String(sheet.TableOtherItem, other.ID, "created_at"))
}

func TestAddItem_Validation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, _, err := e.catalog.AddItem(ctx, service.AddItemInput{Kind: repository.KindMedicine, Group: "g", Name: "   "})
	assert.ErrorIs(t, err, errors.ErrValidation)

	_, _, err = e.catalog.AddItem(ctx, service.AddItemInput{Kind: repository.KindMedicine, Name: "Para"})
	assert.ErrorIs(t, err, errors.ErrValidation)

	assert.Equal(t, 0, e.fake.Calls("append", sheet.TableMedicine))
}

func TestListItems(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.fake.Seed(sheet.TableMedicine, map[string]any{"type": "medicine", "group_name": "A", "name": "Para"})
	e.fake.Seed(sheet.TableMedicine, map[string]any{"type": "medicine", "group_name": "B", "name": "ORS"})
	e.fake.Seed(sheet.TableMedicine, map[string]any{"type": "supply", "group_name": repository.GroupSupplies, "name": "Gauze"})
	e.fake.Seed(sheet.TableOtherItem, map[string]any{"name": "zinc tape"})
	e.fake.Seed(sheet.TableOtherItem, map[string]any{"item_name": "Alcohol pad"})

	meds, err := e.catalog.ListItems(ctx, repository.KindMedicine, "A")
	require.NoError(t, err)
	require.Len(t, meds, 1)
	assert.Equal(t, "Para", meds[0].Name)

	supplies, err := e.catalog.ListItems(ctx, repository.KindSupply, "")
	require.NoError(t, err)
	require.Len(t, supplies, 1)
	assert.Equal(t, "Gauze", supplies[0].Name)

	others, err := e.catalog.ListItems(ctx, repository.KindOther, "")
	require.NoError(t, err)
	require.Len(t, others, 2)
	assert.Equal(t, "Alcohol pad", others[0].Name)

	groups, err := e.catalog.Groups(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, groups)
}

func TestDeleteItem_CascadesLots(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	med := e.fake.Seed(sheet.TableMedicine, map[string]any{"type": "medicine", "group_name": "A", "name": "Para"})
	e.seedLot(med, 5)
	e.seedLot(med, 3)
	keep := e.seedLot("99", 1)

	n, err := e.catalog.DeleteItem(ctx, repository.KindMedicine, med)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Nil(t, e.fake.Row(sheet.TableMedicine, med))
	require.Len(t, e.fake.Rows(sheet.TableMedicineLot), 1)
	assert.NotNil(t, e.fake.Row(sheet.TableMedicineLot, keep))
}

func TestDeleteItem_OtherMatchesNameCaseInsensitively(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	item := e.fake.Seed(sheet.TableOtherItem, map[string]any{"name": "Ice Pack"})
	e.fake.Seed(sheet.TableOtherLot, map[string]any{"item_name": "ice  pack", "qty_remain": 2})
	e.fake.Seed(sheet.TableOtherLot, map[string]any{"item_name": "Cold spray", "qty_remain": 2})

	n, err := e.catalog.DeleteItem(ctx, repository.KindOther, item)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, e.fake.Rows(sheet.TableOtherLot), 1)
}

func TestDeleteItem_LotFailureKeepsItem(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	med := e.fake.Seed(sheet.TableMedicine, map[string]any{"type": "medicine", "group_name": "A", "name": "Para"})
	e.seedLot(med, 5)
	e.fake.Fail("delete", sheet.TableMedicineLot, 0)

	_, err := e.catalog.DeleteItem(ctx, repository.KindMedicine, med)
	assert.ErrorIs(t, err, errors.ErrBackend)
	assert.NotNil(t, e.fake.Row(sheet.TableMedicine, med))
}

func TestDeleteItem_Missing(t *testing.T) {
	e := newEnv(t)
	_, err := e.catalog.DeleteItem(context.Background(), repository.KindMedicine, "42")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestResolveItemID(t *testing.T) {
	e := newEnv(t, config.SharedMedicineConfig{Canonical: "Paracetamol(500)", Aliases: []string{"Paracetamol 500"}})
	ctx := context.Background()
	e.fake.Seed(sheet.TableMedicine, map[string]any{"type": "medicine", "group_name": "A", "name": "ORS"})
	e.fake.Seed(sheet.TableMedicine, map[string]any{"type": "medicine", "group_name": "ไข้", "name": "Paracetamol 500"})
	e.fake.Seed(sheet.TableMedicine, map[string]any{"type": "medicine", "group_name": "ปวดหัว", "name": "Paracetamol(500)"})

	id, err := e.catalog.ResolveItemID(ctx, "paracetamol (500)")
	require.NoError(t, err)
	assert.Equal(t, "2", id)

	id, err = e.catalog.ResolveItemID(ctx, "o r s")
	require.NoError(t, err)
	assert.Equal(t, "1", id)

	_, err = e.catalog.ResolveItemID(ctx, "unknown")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}
