package repository

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/spf13/cast"
)

// Entry is one dispensed line of a treatment: a quantity taken from a lot.
type Entry struct {
	LotID string  `json:"lot_id"`
	Name  string  `json:"name"`
	Qty   int     `json:"qty"`
	Type  string  `json:"type"`
	Kind  LotKind `json:"-"`
}

// UnmarshalJSON accepts the same key aliases and loose scalars as stored
// item lists, so a request entry and a stored entry decode alike. Kind is
// routed without a symptom group; callers that know the group re-route
// with ResolveKinds.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	if m == nil {
		*e = Entry{}
		return nil
	}
	*e = entryFromMap(m, "")
	return nil
}

// IsSupply reports whether the entry's declared type marks a supply.
func (e Entry) IsSupply() bool {
	switch strings.ToLower(strings.TrimSpace(e.Type)) {
	case "เวชภัณฑ์", "supply", "supplies":
		return true
	}
	return false
}

var (
	pyTrue  = regexp.MustCompile(`\bTrue\b`)
	pyFalse = regexp.MustCompile(`\bFalse\b`)
	pyNone  = regexp.MustCompile(`\bNone\b`)
)

// ParseEntries decodes the item list stored in a treatment's medicine
// column. Historical rows hold strict JSON, a literal style with single
// quotes and True/False/None, or nothing at all; an empty, "null" or "None"
// value means no items were dispensed. group is the treatment's symptom
// group, used to route entries that carry no type.
func ParseEntries(text, group string) ([]Entry, error) {
	s := strings.TrimSpace(text)
	if s == "" || s == "null" || s == "None" {
		return nil, nil
	}

	var raw any
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		loose := strings.ReplaceAll(s, "'", `"`)
		loose = pyTrue.ReplaceAllString(loose, "true")
		loose = pyFalse.ReplaceAllString(loose, "false")
		loose = pyNone.ReplaceAllString(loose, "null")
		if err2 := json.Unmarshal([]byte(loose), &raw); err2 != nil {
			return nil, fmt.Errorf("unreadable item list: %w", err)
		}
	}

	if raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("item list is %T, not a list", raw)
	}

	entries := make([]Entry, 0, len(list))
	for i, v := range list {
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("item %d is %T, not an object", i, v)
		}
		entries = append(entries, entryFromMap(m, group))
	}
	return entries, nil
}

func entryFromMap(m map[string]any, group string) Entry {
	e := Entry{
		LotID: strings.TrimSpace(cast.ToString(m["lot_id"])),
		Name:  strings.TrimSpace(cast.ToString(first(m, "name", "item_name"))),
		Qty:   parseQty(m["qty"]),
		Type:  strings.TrimSpace(cast.ToString(first(m, "type", "item_type"))),
	}
	e.Kind = KindForType(e.Type, group)
	return e
}

// parseQty reads a quantity as a base-10 number. Text like "010" is ten,
// and "3.0" is three.
func parseQty(v any) int {
	s, ok := v.(string)
	if !ok {
		return cast.ToInt(v)
	}
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int(f)
	}
	return 0
}

func first(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil && cast.ToString(v) != "" {
			return v
		}
	}
	return nil
}

// ResolveKinds routes every entry to its lot table.
func ResolveKinds(entries []Entry, group string) []Entry {
	out := make([]Entry, len(entries))
	for i, e := range entries {
		e.Kind = KindForType(e.Type, group)
		out[i] = e
	}
	return out
}

// EncodeEntries serializes an item list for the medicine column.
func EncodeEntries(entries []Entry) string {
	if len(entries) == 0 {
		return "[]"
	}
	b, err := json.Marshal(entries)
	if err != nil {
		return "[]"
	}
	return string(b)
}
