package repository

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/shopspring/decimal"

	"github.com/medflow/nurse-station/internal/sheet"
)

var decimalType = reflect.TypeOf(decimal.Decimal{})

// decodeRow decodes a backend row into a typed struct using its `sheet`
// tags. Sheet cells are loosely typed: numbers may arrive as text and empty
// cells as "", so decoding is weak.
func decodeRow(row sheet.Row, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.ComposeDecodeHookFunc(decimalHook, numberHook),
		WeaklyTypedInput: true,
		TagName:          "sheet",
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(map[string]any(row))
}

func decimalHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != decimalType {
		return data, nil
	}
	switch v := data.(type) {
	case json.Number:
		return parseDecimal(string(v))
	case string:
		return parseDecimal(v)
	case float64:
		return decimal.NewFromFloat(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case bool:
		return decimal.Zero, nil
	}
	return data, nil
}

func parseDecimal(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return d, nil
}

func numberHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	n, ok := data.(json.Number)
	if !ok {
		return data, nil
	}
	if to.Kind() == reflect.String {
		return string(n), nil
	}
	if i, err := n.Int64(); err == nil {
		return i, nil
	}
	return n.Float64()
}

// money renders an amount as a bare JSON number for the backend.
func money(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}
