package sheet

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/medflow/nurse-station/pkg/errors"
)

// Tables the inventory reads and writes.
const (
	TableMedicine    = "medicine"
	TableOtherItem   = "other_item"
	TableMedicineLot = "medicine_lot"
	TableOtherLot    = "other_lot"
	TableTreatment   = "treatment"
)

// Row is one backend row before it is decoded into a typed struct.
// Numbers are kept as json.Number.
type Row map[string]any

// Result is the normalized reply of every backend verb. A Result is never
// nil; transport failures, non-2xx replies and malformed bodies all come
// back as OK == false with a Message.
type Result struct {
	OK      bool
	Data    json.RawMessage
	ID      string
	Message string
}

// FieldUpdate is one entry of a batch_update_fields call.
type FieldUpdate struct {
	ID    string `json:"id"`
	Field string `json:"field"`
	Value any    `json:"value"`
}

func failed(format string, args ...any) *Result {
	return &Result{OK: false, Message: fmt.Sprintf(format, args...)}
}

// Rows decodes Data as a list of rows. Absent or null data is an empty list.
func (r *Result) Rows() ([]Row, error) {
	if !r.hasData() {
		return nil, nil
	}
	var rows []Row
	if err := decodeNumbers(r.Data, &rows); err != nil {
		return nil, fmt.Errorf("decode rows: %w", err)
	}
	return rows, nil
}

// Row decodes Data as a single row. Absent or null data yields nil.
func (r *Result) Row() (Row, error) {
	if !r.hasData() {
		return nil, nil
	}
	var row Row
	if err := decodeNumbers(r.Data, &row); err != nil {
		return nil, fmt.Errorf("decode row: %w", err)
	}
	return row, nil
}

// Err converts a not-ok result into a BackendError naming op.
func (r *Result) Err(op string) error {
	if r.OK {
		return nil
	}
	msg := r.Message
	if msg == "" {
		msg = "backend returned ok=false"
	}
	return errors.Backend(op, msg)
}

func (r *Result) hasData() bool {
	d := bytes.TrimSpace(r.Data)
	return len(d) > 0 && !bytes.Equal(d, []byte("null"))
}

func decodeNumbers(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// wireResult is the body shape the sheet script answers with.
type wireResult struct {
	OK      bool            `json:"ok"`
	Data    json.RawMessage `json:"data"`
	ID      json.RawMessage `json:"id"`
	Message string          `json:"message"`
}

func (w *wireResult) normalize() *Result {
	return &Result{
		OK:      w.OK,
		Data:    w.Data,
		ID:      rawID(w.ID),
		Message: w.Message,
	}
}

func rawID(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	return strings.Trim(s, `"`)
}
