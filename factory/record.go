package factory

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fenixpos/fiscal-engine/money"
)

// record is a JSON object kept raw so each field can be read leniently and
// under any of its historical names.
type record map[string]json.RawMessage

func parseRecord(data []byte) (record, error) {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return r, nil
}

func isNull(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "" || s == "null"
}

// raw returns the first present, non-null value among keys.
func (r record) raw(keys ...string) (json.RawMessage, bool) {
	for _, k := range keys {
		if v, ok := r[k]; ok && !isNull(v) {
			return v, true
		}
	}
	return nil, false
}

func (r record) has(keys ...string) bool {
	_, ok := r.raw(keys...)
	return ok
}

// dec reads a number or numeric string; anything else is zero.
func (r record) dec(keys ...string) decimal.Decimal {
	v, ok := r.raw(keys...)
	if !ok {
		return decimal.Zero
	}
	return money.FromRaw(v)
}

// decPtr is like dec but nil when no key is present.
func (r record) decPtr(keys ...string) *decimal.Decimal {
	v, ok := r.raw(keys...)
	if !ok {
		return nil
	}
	d := money.FromRaw(v)
	return &d
}

// str reads a string, or the literal text of a number.
func (r record) str(keys ...string) string {
	v, ok := r.raw(keys...)
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(string(v))
}

func (r record) boolean(keys ...string) bool {
	v, ok := r.raw(keys...)
	if !ok {
		return false
	}
	switch strings.ToLower(strings.Trim(strings.TrimSpace(string(v)), `"`)) {
	case "true", "1", "yes", "si", "sí":
		return true
	}
	return false
}

// boolPtr distinguishes "false" from "absent".
func (r record) boolPtr(keys ...string) *bool {
	if !r.has(keys...) {
		return nil
	}
	b := r.boolean(keys...)
	return &b
}

func (r record) obj(keys ...string) record {
	v, ok := r.raw(keys...)
	if !ok {
		return nil
	}
	var o record
	if err := json.Unmarshal(v, &o); err != nil {
		return nil
	}
	return o
}

func (r record) list(keys ...string) []record {
	v, ok := r.raw(keys...)
	if !ok {
		return nil
	}
	var items []record
	if err := json.Unmarshal(v, &items); err != nil {
		return nil
	}
	return items
}

// timeOf reads an RFC3339 string or a Unix timestamp in milliseconds.
func (r record) timeOf(keys ...string) (time.Time, bool) {
	v, ok := r.raw(keys...)
	if !ok {
		return time.Time{}, false
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), true
			}
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC(), true
		}
		return time.Time{}, false
	}
	if ms, err := strconv.ParseInt(strings.TrimSpace(string(v)), 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), true
	}
	return time.Time{}, false
}
