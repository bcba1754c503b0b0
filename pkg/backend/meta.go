package backend

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"slices"

	"github.com/google/uuid"
)

// Meta is the metadata map of a revision. Values are JSON compatible: string,
// int64, float64, bool, []string, []any, map[string]any or nil.
type Meta map[string]any

// NewID returns a fresh 32 character hex identifier used for item, revision
// and data ids.
func NewID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// Clone returns a copy of m. Slices and nested maps are copied so the clone
// can be mutated independently.
func (m Meta) Clone() Meta {
	if m == nil {
		return nil
	}
	out := make(Meta, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case []string:
		return slices.Clone(t)
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = cloneValue(x)
		}
		return out
	case map[string]any:
		out := maps.Clone(t)
		for k, x := range out {
			out[k] = cloneValue(x)
		}
		return out
	}
	return v
}

// Has reports whether key is present.
func (m Meta) Has(key string) bool {
	_, ok := m[key]
	return ok
}

// String returns the string value of key or "".
func (m Meta) String(key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

// Strings returns key as a string list. A bare string is a one element list.
func (m Meta) Strings(key string) []string {
	return ToStrings(m[key])
}

// Int64 returns key as an integer when it holds any numeric value.
func (m Meta) Int64(key string) (int64, bool) {
	return ToInt64(m[key])
}

// Bool returns key as a bool.
func (m Meta) Bool(key string) (bool, bool) {
	b, ok := m[key].(bool)
	return b, ok
}

// ToStrings converts list-ish values to []string.
func ToStrings(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return []string{t}
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, x := range t {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// ToInt64 converts numeric values (including json.Number) to int64.
func ToInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	case int64:
		return t, true
	case uint32:
		return int64(t), true
	case uint64:
		return int64(t), true
	case float32:
		return int64(t), true
	case float64:
		if t != math.Trunc(t) {
			return 0, false
		}
		return int64(t), true
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, true
		}
		if f, err := t.Float64(); err == nil && f == math.Trunc(f) {
			return int64(f), true
		}
	}
	return 0, false
}

// ToFloat64 converts numeric values to float64.
func ToFloat64(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	}
	if i, ok := ToInt64(v); ok {
		return float64(i), true
	}
	return 0, false
}

// MarshalMeta encodes meta as UTF-8 JSON without HTML escaping.
func MarshalMeta(m Meta) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(map[string]any(m)); err != nil {
		return nil, fmt.Errorf("encode meta: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// UnmarshalMeta decodes JSON meta. Integral numbers become int64, other
// numbers float64, and lists of strings become []string.
func UnmarshalMeta(data []byte) (Meta, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode meta: %w", err)
	}
	out := make(Meta, len(raw))
	for k, v := range raw {
		out[k] = normalize(v)
	}
	return out, nil
}

func normalize(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case []any:
		allStrings := true
		for i, x := range t {
			t[i] = normalize(x)
			if _, ok := t[i].(string); !ok {
				allStrings = false
			}
		}
		if allStrings {
			out := make([]string, len(t))
			for i, x := range t {
				out[i] = x.(string)
			}
			return out
		}
		return t
	case map[string]any:
		for k, x := range t {
			t[k] = normalize(x)
		}
		return t
	}
	return v
}
