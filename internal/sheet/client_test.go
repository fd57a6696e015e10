package sheet_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medflow/nurse-station/internal/sheet"
	"github.com/medflow/nurse-station/pkg/config"
	"github.com/medflow/nurse-station/pkg/errors"
	"github.com/medflow/nurse-station/pkg/logger"
	"github.com/medflow/nurse-station/pkg/testutil"
)

func newClient(url string) *sheet.Client {
	return sheet.NewClient(&config.SheetConfig{URL: url, Timeout: 2 * time.Second}, logger.Nop())
}

func TestClient_ReadVerbs(t *testing.T) {
	fake := testutil.NewFakeSheet(t)
	fake.Seed(sheet.TableMedicine, map[string]any{"name": "Paracetamol", "type": "medicine"})
	fake.Seed(sheet.TableMedicine, map[string]any{"name": "Gauze", "type": "supply"})
	c := newClient(fake.URL())
	ctx := context.Background()

	t.Run("list", func(t *testing.T) {
		res := c.List(ctx, sheet.TableMedicine, 10)
		require.True(t, res.OK)
		rows, err := res.Rows()
		require.NoError(t, err)
		assert.Len(t, rows, 2)
	})

	t.Run("list honours limit", func(t *testing.T) {
		rows, err := c.List(ctx, sheet.TableMedicine, 1).Rows()
		require.NoError(t, err)
		assert.Len(t, rows, 1)
	})

	t.Run("get", func(t *testing.T) {
		row, err := c.Get(ctx, sheet.TableMedicine, "2").Row()
		require.NoError(t, err)
		assert.Equal(t, "Gauze", row["name"])
	})

	t.Run("get missing row is ok with no data", func(t *testing.T) {
		res := c.Get(ctx, sheet.TableMedicine, "99")
		require.True(t, res.OK)
		row, err := res.Row()
		require.NoError(t, err)
		assert.Nil(t, row)
	})

	t.Run("search", func(t *testing.T) {
		rows, err := c.Search(ctx, sheet.TableMedicine, "type", "supply").Rows()
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "Gauze", rows[0]["name"])
	})
}

func TestClient_WriteVerbs(t *testing.T) {
	fake := testutil.NewFakeSheet(t)
	c := newClient(fake.URL())
	ctx := context.Background()

	res := c.Append(ctx, sheet.TableMedicineLot, map[string]any{"medicine_id": "1", "qty_remain": 10})
	require.True(t, res.OK)
	assert.Equal(t, "1", res.ID, "numeric ids come back as strings")

	require.True(t, c.UpdateField(ctx, sheet.TableMedicineLot, "1", "qty_remain", 7).OK)
	assert.Equal(t, 7, fake.Int(sheet.TableMedicineLot, "1", "qty_remain"))

	require.True(t, c.Update(ctx, sheet.TableMedicineLot, "1", map[string]any{"qty_total": 20}).OK)
	assert.Equal(t, 20, fake.Int(sheet.TableMedicineLot, "1", "qty_total"))

	require.True(t, c.BatchUpdateFields(ctx, sheet.TableMedicineLot, []sheet.FieldUpdate{
		{ID: "1", Field: "qty_remain", Value: 3},
	}).OK)
	assert.Equal(t, 3, fake.Int(sheet.TableMedicineLot, "1", "qty_remain"))

	rows, err := c.BatchGet(ctx, sheet.TableMedicineLot, []string{"1", "5"}).Rows()
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	require.True(t, c.Delete(ctx, sheet.TableMedicineLot, "1").OK)
	assert.Nil(t, fake.Row(sheet.TableMedicineLot, "1"))
}

func TestClient_FailuresBecomeNotOK(t *testing.T) {
	ctx := context.Background()

	t.Run("not ok reply", func(t *testing.T) {
		fake := testutil.NewFakeSheet(t)
		fake.Fail("list", sheet.TableTreatment, 0)
		res := newClient(fake.URL()).List(ctx, sheet.TableTreatment, 10)
		assert.False(t, res.OK)
		assert.Equal(t, "injected failure", res.Message)
	})

	t.Run("non-2xx status", func(t *testing.T) {
		fake := testutil.NewFakeSheet(t)
		fake.Fail("get", sheet.TableTreatment, http.StatusInternalServerError)
		res := newClient(fake.URL()).Get(ctx, sheet.TableTreatment, "1")
		assert.False(t, res.OK)
		assert.Contains(t, res.Message, "500")
	})

	t.Run("malformed body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("<html>quota exceeded</html>"))
		}))
		defer srv.Close()
		res := newClient(srv.URL).Get(ctx, sheet.TableTreatment, "1")
		assert.False(t, res.OK)
		assert.Contains(t, res.Message, "malformed")
	})

	t.Run("unreachable backend", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()
		res := newClient(url).Delete(ctx, sheet.TableTreatment, "1")
		assert.False(t, res.OK)
	})

	t.Run("missing url", func(t *testing.T) {
		res := newClient("").List(ctx, sheet.TableTreatment, 10)
		assert.False(t, res.OK)
	})

	t.Run("batch verbs unsupported", func(t *testing.T) {
		fake := testutil.NewFakeSheet(t)
		fake.DisableBatch()
		res := newClient(fake.URL()).BatchGet(ctx, sheet.TableMedicineLot, []string{"1"})
		assert.False(t, res.OK)
	})
}

func TestResult_Err(t *testing.T) {
	assert.NoError(t, (&sheet.Result{OK: true}).Err("get lot"))

	err := (&sheet.Result{OK: false, Message: "timeout"}).Err("get lot")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrBackend))

	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, http.StatusBadGateway, appErr.StatusCode)
	assert.Equal(t, "operation failed", appErr.Message)
	assert.Contains(t, appErr.Err.Error(), "timeout")
}
