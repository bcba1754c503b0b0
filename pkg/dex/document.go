package dex

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/jlrickert/wikidex/pkg/backend"
	"github.com/jlrickert/wikidex/pkg/keys"
)

// Document is a flat field/value set conforming to a schema. Values are
// string, []string, float64, time.Time or bool. Extension fields live in
// map[string]any values keyed by their family group.
type Document map[string]any

// ID returns the document id under s.
func (d Document) ID(s *Schema) string { return d.String(s.Unique) }

// String returns a single valued string field.
func (d Document) String(key string) string {
	switch v := d[key].(type) {
	case string:
		return v
	case []string:
		if len(v) > 0 {
			return v[0]
		}
	}
	return ""
}

// Strings returns a list field. A single string is returned as a one
// element list.
func (d Document) Strings(key string) []string {
	return backend.ToStrings(d[key])
}

// Time returns a datetime field.
func (d Document) Time(key string) (time.Time, bool) {
	t, ok := d[key].(time.Time)
	return t, ok
}

// Float returns a numeric field.
func (d Document) Float(key string) (float64, bool) {
	f, ok := d[key].(float64)
	return f, ok
}

// Bool returns a boolean field.
func (d Document) Bool(key string) (bool, bool) {
	b, ok := d[key].(bool)
	return b, ok
}

// Meta converts d into revision metadata: times become unix seconds,
// integral numbers become int64 and extension fields are flattened back to
// their original names.
func (d Document) Meta() backend.Meta {
	m := backend.Meta{}
	for k, v := range d {
		if group, ok := v.(map[string]any); ok {
			for dk, dv := range group {
				m[dk] = metaValue(dv)
			}
			continue
		}
		m[k] = metaValue(v)
	}
	return m
}

func metaValue(v any) any {
	switch x := v.(type) {
	case time.Time:
		return x.Unix()
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return int64(x)
		}
		return x
	case []string:
		return append([]string(nil), x...)
	}
	return v
}

// decodeFields converts the stored fields of a search hit into a Document
// using the schema for typing. Bleve returns a single value for a one
// element list and RFC 3339 strings for datetimes.
func decodeFields(s *Schema, fields map[string]any) Document {
	doc := Document{}
	for name, raw := range fields {
		if group, prop, ok := strings.Cut(name, "."); ok {
			d, found := dynamicGroup(group)
			if !found {
				continue
			}
			sub, _ := doc[group].(map[string]any)
			if sub == nil {
				sub = map[string]any{}
				doc[group] = sub
			}
			_, many := raw.([]any)
			if v := decodeValue(Field{Type: d.Type, List: many || d.Type == Keyword}, raw); v != nil {
				sub[prop] = v
			}
			continue
		}
		f, ok := s.Field(name)
		if !ok {
			continue
		}
		if v := decodeValue(f, raw); v != nil {
			doc[name] = v
		}
	}
	return doc
}

func dynamicGroup(group string) (DynamicField, bool) {
	for _, d := range DynamicFields {
		if d.Group == group {
			return d, true
		}
	}
	return DynamicField{}, false
}

func decodeValue(f Field, raw any) any {
	if f.List {
		return backend.ToStrings(flatten(raw))
	}
	if list, ok := raw.([]any); ok && len(list) > 0 {
		raw = list[0]
	}
	switch f.Type {
	case DateTime:
		if s, ok := raw.(string); ok {
			if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
				return t.UTC()
			}
		}
		if t, ok := raw.(time.Time); ok {
			return t.UTC()
		}
		return nil
	case Numeric:
		if n, ok := backend.ToFloat64(raw); ok {
			return n
		}
		return nil
	case Boolean:
		b, _ := raw.(bool)
		return b
	}
	if s, ok := raw.(string); ok {
		return s
	}
	return raw
}

func flatten(raw any) any {
	switch v := raw.(type) {
	case nil:
		return []string{}
	case string:
		return []string{v}
	}
	return raw
}

// DumpField is one name/value pair of a dumped document.
type DumpField struct {
	Name  string
	Value any
}

// Ordered returns the fields of d sorted by name with name first and
// content last. Extension fields are listed under their original names.
func (d Document) Ordered() []DumpField {
	flat := d.Meta()
	names := make([]string, 0, len(flat))
	for k := range flat {
		if k == keys.Name || k == keys.Content {
			continue
		}
		names = append(names, k)
	}
	sort.Strings(names)

	out := make([]DumpField, 0, len(flat))
	if v, ok := flat[keys.Name]; ok {
		out = append(out, DumpField{Name: keys.Name, Value: v})
	}
	for _, k := range names {
		out = append(out, DumpField{Name: k, Value: flat[k]})
	}
	if v, ok := flat[keys.Content]; ok {
		out = append(out, DumpField{Name: keys.Content, Value: v})
	}
	return out
}
