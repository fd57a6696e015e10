package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/spf13/cast"
)

// FakeSheet is an in-memory sheet backend served over httptest. It speaks
// the same wire protocol as the deployed script: reads are GET requests with
// query parameters, writes are POSTed JSON bodies, and every reply is
// {ok, data, id, message}.
//
// Usage:
//
//	fake := testutil.NewFakeSheet(t)
//	lotID := fake.Seed("medicine_lot", map[string]any{"medicine_id": 1, "qty_remain": 10})
//	client := sheet.NewClient(&config.SheetConfig{URL: fake.URL()}, logger.Nop())
type FakeSheet struct {
	server *httptest.Server

	mu       sync.Mutex
	tables   map[string][]map[string]any
	nextID   map[string]int
	batch    bool
	failures map[string]int
	calls    map[string]int
}

// NewFakeSheet starts a fake backend that is shut down when the test ends.
func NewFakeSheet(t *testing.T) *FakeSheet {
	t.Helper()
	f := &FakeSheet{
		tables:   make(map[string][]map[string]any),
		nextID:   make(map[string]int),
		batch:    true,
		failures: make(map[string]int),
		calls:    make(map[string]int),
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.server.Close)
	return f
}

// URL is the endpoint to configure the sheet client with.
func (f *FakeSheet) URL() string {
	return f.server.URL
}

// Seed inserts a row and returns its id. Ids are sequential per table.
func (f *FakeSheet) Seed(table string, row map[string]any) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.insert(table, row)
}

// Row returns a copy of one stored row, or nil.
func (f *FakeSheet) Row(table, id string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, row := f.find(table, id); row != nil {
		return clone(row)
	}
	return nil
}

// Rows returns copies of every row of table in insertion order.
func (f *FakeSheet) Rows(table string) []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]any, 0, len(f.tables[table]))
	for _, r := range f.tables[table] {
		out = append(out, clone(r))
	}
	return out
}

// Int reads a numeric column of a stored row.
func (f *FakeSheet) Int(table, id, field string) int {
	return cast.ToInt(f.Row(table, id)[field])
}

// String reads a column of a stored row as text.
func (f *FakeSheet) String(table, id, field string) string {
	return cast.ToString(f.Row(table, id)[field])
}

// DisableBatch makes batch_get and batch_update_fields answer ok=false, the
// way older script deployments do.
func (f *FakeSheet) DisableBatch() {
	f.mu.Lock()
	f.batch = false
	f.mu.Unlock()
}

// Fail makes every call of action on table fail until Heal is called. A zero
// status answers 200 with ok=false; any other status is returned as is.
func (f *FakeSheet) Fail(action, table string, status int) {
	f.mu.Lock()
	f.failures[action+"|"+table] = status
	f.mu.Unlock()
}

// Heal removes a failure installed by Fail.
func (f *FakeSheet) Heal(action, table string) {
	f.mu.Lock()
	delete(f.failures, action+"|"+table)
	f.mu.Unlock()
}

// Calls reports how many times action was called on table.
func (f *FakeSheet) Calls(action, table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[action+"|"+table]
}

type fakeRequest struct {
	Action  string           `json:"action"`
	Table   string           `json:"table"`
	ID      string           `json:"id"`
	IDs     []string         `json:"ids"`
	Payload map[string]any   `json:"payload"`
	Field   string           `json:"field"`
	Value   any              `json:"value"`
	Updates []map[string]any `json:"updates"`
}

func (f *FakeSheet) serve(w http.ResponseWriter, r *http.Request) {
	var req fakeRequest
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		req.Action = q.Get("action")
		req.Table = q.Get("table")
		req.ID = q.Get("id")
		req.Field = q.Get("field")
		req.Value = q.Get("value")
		if lim := q.Get("limit"); lim != "" {
			req.Value = lim
		}
	case http.MethodPost:
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		if err := dec.Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	key := req.Action + "|" + req.Table
	f.calls[key]++
	if status, ok := f.failures[key]; ok {
		if status != 0 {
			w.WriteHeader(status)
			return
		}
		reply(w, map[string]any{"ok": false, "message": "injected failure"})
		return
	}

	reply(w, f.handle(req))
}

func (f *FakeSheet) handle(req fakeRequest) map[string]any {
	switch req.Action {
	case "list":
		rows := f.tables[req.Table]
		limit := cast.ToInt(req.Value)
		if limit > 0 && limit < len(rows) {
			rows = rows[:limit]
		}
		return okResult(cloneAll(rows))

	case "get":
		_, row := f.find(req.Table, req.ID)
		if row == nil {
			return okResult(nil)
		}
		return okResult(clone(row))

	case "search":
		want := cast.ToString(req.Value)
		var out []map[string]any
		for _, row := range f.tables[req.Table] {
			if cast.ToString(row[req.Field]) == want {
				out = append(out, clone(row))
			}
		}
		return okResult(out)

	case "append":
		id := f.insert(req.Table, plainAll(req.Payload))
		n, _ := strconv.Atoi(id)
		return map[string]any{"ok": true, "id": n}

	case "update":
		_, row := f.find(req.Table, req.ID)
		if row == nil {
			return errResult("row not found")
		}
		for k, v := range plainAll(req.Payload) {
			if k != "id" {
				row[k] = v
			}
		}
		return okResult(nil)

	case "update_field":
		_, row := f.find(req.Table, req.ID)
		if row == nil {
			return errResult("row not found")
		}
		row[req.Field] = plain(req.Value)
		return okResult(nil)

	case "delete":
		i, row := f.find(req.Table, req.ID)
		if row == nil {
			return errResult("row not found")
		}
		rows := f.tables[req.Table]
		f.tables[req.Table] = append(rows[:i:i], rows[i+1:]...)
		return okResult(nil)

	case "batch_get":
		if !f.batch {
			return errResult("unknown action: batch_get")
		}
		out := make([]map[string]any, 0, len(req.IDs))
		for _, id := range req.IDs {
			if _, row := f.find(req.Table, id); row != nil {
				out = append(out, clone(row))
			}
		}
		return okResult(out)

	case "batch_update_fields":
		if !f.batch {
			return errResult("unknown action: batch_update_fields")
		}
		for _, u := range req.Updates {
			if _, row := f.find(req.Table, cast.ToString(u["id"])); row == nil {
				return errResult(fmt.Sprintf("row %v not found", u["id"]))
			}
		}
		for _, u := range req.Updates {
			_, row := f.find(req.Table, cast.ToString(u["id"]))
			row[cast.ToString(u["field"])] = plain(u["value"])
		}
		return okResult(nil)
	}
	return errResult("unknown action: " + req.Action)
}

func (f *FakeSheet) insert(table string, row map[string]any) string {
	f.nextID[table]++
	id := f.nextID[table]
	stored := clone(row)
	stored["id"] = id
	f.tables[table] = append(f.tables[table], stored)
	return strconv.Itoa(id)
}

func (f *FakeSheet) find(table, id string) (int, map[string]any) {
	for i, row := range f.tables[table] {
		if cast.ToString(row["id"]) == id {
			return i, row
		}
	}
	return -1, nil
}

func okResult(data any) map[string]any {
	return map[string]any{"ok": true, "data": data}
}

func errResult(msg string) map[string]any {
	return map[string]any{"ok": false, "message": msg}
}

func reply(w http.ResponseWriter, body map[string]any) {
	var buf bytes.Buffer
	_ = json.NewEncoder(&buf).Encode(body)
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(buf.Bytes())
}

// plain turns decoded json.Numbers back into Go numbers so stored rows
// compare and cast the same way seeded rows do.
func plain(v any) any {
	n, isNum := v.(json.Number)
	if !isNum {
		return v
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	fl, _ := n.Float64()
	return fl
}

func plainAll(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = plain(v)
	}
	return out
}

func clone(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneAll(rows []map[string]any) []map[string]any {
	out := make([]map[string]any, len(rows))
	for i, r := range rows {
		out[i] = clone(r)
	}
	return out
}
