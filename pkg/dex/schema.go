// Package dex maintains the two secondary indexes of a wiki: one document
// per revision (all_revs) and one document per item for its current revision
// (latest_revs). Both are derived from the backend and can be rebuilt from it
// at any time.
package dex

import (
	"slices"
	"strings"

	"github.com/jlrickert/wikidex/pkg/keys"
)

// FieldType is the storage class of an indexed field.
type FieldType int

const (
	// ID is an exact match identifier.
	ID FieldType = iota
	// Text is tokenized free text.
	Text
	// Keyword is a multi valued exact match field.
	Keyword
	Numeric
	DateTime
	Boolean
	// NGram is tokenized into 3 to 6 character grams for substring search.
	// It is never stored.
	NGram
)

func (t FieldType) String() string {
	switch t {
	case ID:
		return "id"
	case Text:
		return "text"
	case Keyword:
		return "keyword"
	case Numeric:
		return "numeric"
	case DateTime:
		return "datetime"
	case Boolean:
		return "boolean"
	case NGram:
		return "ngram"
	}
	return "unknown"
}

// Field describes one schema field.
type Field struct {
	Type FieldType
	// Stored fields are returned with search hits.
	Stored bool
	// List fields hold a sequence of values.
	List bool
}

// DynamicField is a family of extension fields recognized by a name suffix,
// for example "priority_numeric". Values are kept in a sub document per
// category so their type never depends on the value seen first.
type DynamicField struct {
	Suffix string
	Type   FieldType
	// Group is the sub document that holds values of this family.
	Group string
}

// DynamicFields are the extension families known to both schemas.
var DynamicFields = []DynamicField{
	{Suffix: "_id", Type: ID, Group: "dyn_id"},
	{Suffix: "_text", Type: Text, Group: "dyn_text"},
	{Suffix: "_keyword", Type: Keyword, Group: "dyn_keyword"},
	{Suffix: "_numeric", Type: Numeric, Group: "dyn_numeric"},
	{Suffix: "_datetime", Type: DateTime, Group: "dyn_datetime"},
	{Suffix: "_boolean", Type: Boolean, Group: "dyn_boolean"},
}

// Schema is the immutable field set of one index.
type Schema struct {
	Name string
	// Unique names the field used as document id.
	Unique string
	fields map[string]Field
}

// Field returns the definition of name.
func (s *Schema) Field(name string) (Field, bool) {
	f, ok := s.fields[name]
	return f, ok
}

// Has reports whether name is a static field of s.
func (s *Schema) Has(name string) bool {
	_, ok := s.fields[name]
	return ok
}

// FieldNames returns the static field names in sorted order.
func (s *Schema) FieldNames() []string {
	out := make([]string, 0, len(s.fields))
	for k := range s.fields {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// Dynamic returns the extension family a field name belongs to.
func (s *Schema) Dynamic(name string) (DynamicField, bool) {
	if s.Has(name) {
		return DynamicField{}, false
	}
	for _, d := range DynamicFields {
		if strings.HasSuffix(name, d.Suffix) && len(name) > len(d.Suffix) {
			return d, true
		}
	}
	return DynamicField{}, false
}

func newSchema(name, unique string, sets ...map[string]Field) *Schema {
	s := &Schema{Name: name, Unique: unique, fields: map[string]Field{}}
	for _, set := range sets {
		for k, v := range set {
			s.fields[k] = v
		}
	}
	return s
}

func stored(t FieldType) Field     { return Field{Type: t, Stored: true} }
func storedList(t FieldType) Field { return Field{Type: t, Stored: true, List: true} }

// commonFields are indexed for every revision in both indexes.
var commonFields = map[string]Field{
	keys.WikiName:    stored(ID),
	keys.Namespace:   stored(ID),
	keys.Name:        storedList(Text),
	keys.Names:       stored(Text),
	keys.NameSort:    stored(ID),
	keys.NameExact:   storedList(ID),
	keys.NameOld:     storedList(Text),
	keys.RevID:       stored(ID),
	keys.RevNumber:   stored(Numeric),
	keys.ParentID:    stored(ID),
	keys.BackendName: stored(ID),
	keys.MTime:       stored(DateTime),
	keys.ItemType:    stored(ID),
	keys.ContentType: stored(Text),
	keys.Tags:        storedList(Keyword),
	keys.HasTag:      stored(Boolean),
	keys.Language:    stored(ID),
	keys.UserID:      stored(ID),
	keys.Address:     stored(ID),
	keys.Hostname:    stored(ID),
	keys.Size:        stored(Numeric),
	keys.Action:      stored(ID),
	keys.Comment:     stored(Text),
	keys.Summary:     stored(Text),
	keys.DataID:      stored(ID),
	keys.Trash:       stored(Boolean),
	keys.Content:     stored(Text),
}

// latestFields only make sense for the current revision of an item.
var latestFields = map[string]Field{
	keys.ItemID:            stored(ID),
	keys.ItemLinks:         storedList(ID),
	keys.ItemTransclusions: storedList(ID),
	keys.ACL:               stored(ID),
	keys.PTime:             stored(DateTime),

	keys.ContentNGram: {Type: NGram},
	keys.SummaryNGram: {Type: NGram},
	keys.NameNGram:    {Type: NGram},

	keys.Email:                stored(ID),
	keys.MailtoAuthor:         stored(Boolean),
	keys.Disabled:             stored(Boolean),
	keys.Locale:               stored(ID),
	keys.SubscriptionIDs:      storedList(ID),
	keys.SubscriptionPatterns: storedList(ID),

	keys.Effort:       stored(Numeric),
	keys.Difficulty:   stored(Numeric),
	keys.Severity:     stored(Numeric),
	keys.Priority:     stored(Numeric),
	keys.AssignedTo:   stored(ID),
	keys.ReplyTo:      stored(ID),
	keys.RefersTo:     storedList(ID),
	keys.Element:      stored(ID),
	keys.SupersededBy: storedList(ID),
	keys.DependsOn:    storedList(ID),
	keys.Closed:       stored(Boolean),
}

var allFields = map[string]Field{
	keys.ItemID: stored(ID),
}

// AllRevsSchema holds one document per revision keyed by revid.
var AllRevsSchema = newSchema(keys.AllRevs, keys.RevID, commonFields, allFields)

// LatestRevsSchema holds one document per item keyed by itemid.
var LatestRevsSchema = newSchema(keys.LatestRevs, keys.ItemID, commonFields, latestFields)

// SchemaFor returns the schema of the named index.
func SchemaFor(index string) (*Schema, bool) {
	switch index {
	case keys.AllRevs:
		return AllRevsSchema, true
	case keys.LatestRevs:
		return LatestRevsSchema, true
	}
	return nil, false
}

// CommonFields returns the stored fields present in both schemas. A revision
// loaded from either index can answer these without touching the backend.
func CommonFields() []string {
	var out []string
	for _, name := range AllRevsSchema.FieldNames() {
		a, _ := AllRevsSchema.Field(name)
		l, ok := LatestRevsSchema.Field(name)
		if ok && a.Stored && l.Stored {
			out = append(out, name)
		}
	}
	return out
}
