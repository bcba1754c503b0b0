package dex

import (
	"fmt"
	"strings"
	"time"

	"github.com/jlrickert/wikidex/pkg/backend"
	"github.com/jlrickert/wikidex/pkg/keys"
)

// Project converts revision metadata plus its indexable text into a document
// for schema s. It copies every metadata key known to s, converts unix
// timestamps to times and derives the computed fields. Missing optional
// fields are skipped; values of the wrong type are dropped rather than
// failing the projection.
func Project(meta backend.Meta, content string, s *Schema, wikiName, backendName string) Document {
	doc := Document{}
	for key, value := range meta {
		if value == nil {
			continue
		}
		if f, ok := s.Field(key); ok {
			if v := projectValue(f, value); v != nil {
				doc[key] = v
			}
			continue
		}
		if d, ok := s.Dynamic(key); ok {
			v := projectValue(Field{Type: d.Type, List: d.Type == Keyword}, value)
			if v == nil {
				continue
			}
			group, _ := doc[d.Group].(map[string]any)
			if group == nil {
				group = map[string]any{}
				doc[d.Group] = group
			}
			group[key] = v
		}
	}

	if s.Has(keys.SubscriptionIDs) && meta.Has(keys.Subscriptions) {
		ids, patterns := SplitSubscriptions(meta.Strings(keys.Subscriptions))
		doc[keys.SubscriptionIDs] = ids
		doc[keys.SubscriptionPatterns] = patterns
	}

	names := meta.Strings(keys.Name)
	doc[keys.NameExact] = append([]string{}, names...)
	doc[keys.WikiName] = wikiName
	doc[keys.Content] = content
	doc[keys.BackendName] = backendName
	if s.Has(keys.ContentNGram) {
		doc[keys.ContentNGram] = content
	}
	if s.Has(keys.SummaryNGram) && meta.Has(keys.Summary) {
		doc[keys.SummaryNGram] = meta.String(keys.Summary)
	}
	if s.Has(keys.NameNGram) && meta.Has(keys.Name) {
		doc[keys.NameNGram] = strings.Join(names, " ")
	}
	if len(meta.Strings(keys.Tags)) > 0 {
		doc[keys.HasTag] = true
	}
	if len(names) > 0 {
		full := names
		if ns := meta.String(keys.Namespace); ns != "" {
			full = make([]string, len(names))
			for i, n := range names {
				full[i] = ns + "/" + n
			}
		}
		doc[keys.Names] = strings.Join(full, " | ")
		doc[keys.NameSort] = strings.ReplaceAll(doc.String(keys.Names), "/", "")
	} else {
		doc[keys.NameSort] = ""
	}
	return doc
}

// SplitSubscriptions separates exact subscriptions (itemid:, name:, tags:)
// from pattern subscriptions (namere:, nameprefix:). Unknown kinds are
// dropped.
func SplitSubscriptions(subs []string) (ids, patterns []string) {
	ids, patterns = []string{}, []string{}
	for _, sub := range subs {
		kind, _, _ := strings.Cut(sub, ":")
		switch kind {
		case keys.ItemID, keys.Name, keys.Tags:
			ids = append(ids, sub)
		case keys.NameRE, keys.NamePrefix:
			patterns = append(patterns, sub)
		}
	}
	return ids, patterns
}

func projectValue(f Field, value any) any {
	if f.List {
		switch v := value.(type) {
		case []string, []any, string:
			return backend.ToStrings(v)
		}
		return nil
	}
	switch f.Type {
	case DateTime:
		if sec, ok := backend.ToInt64(value); ok {
			return time.Unix(sec, 0).UTC()
		}
		return nil
	case Numeric:
		if n, ok := backend.ToFloat64(value); ok {
			return n
		}
		return nil
	case Boolean:
		if b, ok := value.(bool); ok {
			return b
		}
		return nil
	}
	switch v := value.(type) {
	case string:
		return v
	case []string:
		return append([]string{}, v...)
	case []any:
		return backend.ToStrings(v)
	case bool, int, int64, float64:
		return fmt.Sprint(v)
	}
	return nil
}
