package wiki

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jlrickert/wikidex/pkg/backend"
	"github.com/jlrickert/wikidex/pkg/keys"
)

// ValidationMode selects what StoreRevision does with invalid metadata.
type ValidationMode string

const (
	// ValidationStrict rejects the revision with a ValidationError.
	ValidationStrict ValidationMode = "strict"
	// ValidationWarn logs every issue and stores the revision anyway.
	ValidationWarn ValidationMode = "warn"
)

// ParseValidationMode accepts "strict" and "warn". The empty string is
// strict.
func ParseValidationMode(s string) (ValidationMode, error) {
	switch ValidationMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ValidationStrict:
		return ValidationStrict, nil
	case ValidationWarn:
		return ValidationWarn, nil
	}
	return "", fmt.Errorf("%w: unknown validation mode %q", ErrInvalid, s)
}

// State is the context a revision is stored in. It supplies the defaults
// for system fields the caller left out.
type State struct {
	// Trusted keeps mtime as given, for loading serialized or repaired
	// revisions.
	Trusted            bool
	Name               string
	Action             string
	Address            string
	UserID             string
	WikiName           string
	Namespace          string
	ItemID             string
	ContentTypeGuessed string
	Now                time.Time
}

var actions = map[string]bool{
	keys.ActionSave:    true,
	keys.ActionRevert:  true,
	keys.ActionTrash:   true,
	keys.ActionCopy:    true,
	keys.ActionRename:  true,
	keys.ActionDestroy: true,
}

// Validate checks meta and fills in the defaults derived from st. It
// modifies meta in place and returns every issue found; an empty result
// means meta is valid.
func Validate(meta backend.Meta, st State) []Issue {
	v := &validator{meta: meta}

	v.uuid(keys.ItemID, func() any {
		if st.ItemID != "" {
			return st.ItemID
		}
		return backend.NewID()
	})
	v.uuid(keys.RevID, nil)
	v.uuid(keys.ParentID, nil)
	v.uuid(keys.DataID, nil)
	v.uuid(keys.UserID, func() any {
		if st.UserID != "" {
			return st.UserID
		}
		return nil
	})

	v.names(keys.Name, func() any {
		if st.Name != "" {
			return []string{st.Name}
		}
		return []string{}
	})
	v.names(keys.Tags, nil)

	if st.Trusted && meta.Has(keys.MTime) {
		if n, ok := backend.ToInt64(meta[keys.MTime]); !ok || n < 0 {
			v.fail(keys.MTime, meta[keys.MTime], "must be a unix timestamp")
		} else {
			meta[keys.MTime] = n
		}
	} else {
		now := st.Now
		if now.IsZero() {
			now = time.Now()
		}
		meta[keys.MTime] = now.UTC().Unix()
	}

	v.text(keys.ContentType, func() any {
		if st.ContentTypeGuessed != "" {
			return st.ContentTypeGuessed
		}
		return keys.ContentTypeDefault
	})
	if ct := meta.String(keys.ContentType); ct != "" && !strings.Contains(ct, "/") {
		v.fail(keys.ContentType, ct, "must be a mime type")
	}

	v.text(keys.Namespace, func() any { return st.Namespace })
	v.text(keys.WikiName, func() any { return st.WikiName })
	v.text(keys.Address, func() any {
		if st.Address != "" {
			return st.Address
		}
		return "127.0.0.1"
	})
	v.text(keys.Action, func() any {
		if st.Action != "" {
			return st.Action
		}
		return keys.ActionSave
	})
	if a := meta.String(keys.Action); a != "" && !actions[a] {
		v.fail(keys.Action, a, "unknown action")
	}
	v.text(keys.ACL, nil)
	v.text(keys.Comment, nil)
	v.text(keys.Summary, nil)
	v.text(keys.Hostname, nil)

	v.count(keys.Size)
	v.count(keys.RevNumber)
	if meta.Has(keys.HashAlgorithm) {
		if s, ok := meta[keys.HashAlgorithm].(string); !ok || !isHex(s, keys.HashLen) {
			v.fail(keys.HashAlgorithm, meta[keys.HashAlgorithm], "must be a hex sha1 digest")
		}
	}
	return v.issues
}

// ValidateData checks that textual payloads are utf-8.
func ValidateData(meta backend.Meta, data []byte) []Issue {
	ct := strings.ToLower(meta.String(keys.ContentType))
	if !strings.HasPrefix(ct, "text/") || (strings.Contains(ct, "charset=") && !strings.Contains(ct, "charset=utf-8")) {
		return nil
	}
	if !utf8.Valid(data) {
		return []Issue{{Field: "data", Reason: "text content is not valid utf-8"}}
	}
	return nil
}

type validator struct {
	meta   backend.Meta
	issues []Issue
}

func (v *validator) fail(field string, value any, reason string) {
	v.issues = append(v.issues, Issue{Field: field, Value: value, Reason: reason})
}

// present reports whether field holds a value, setting the default when it
// does not and def yields one.
func (v *validator) present(field string, def func() any) bool {
	if v.meta[field] != nil {
		return true
	}
	delete(v.meta, field)
	if def != nil {
		if d := def(); d != nil {
			v.meta[field] = d
		}
	}
	return false
}

func (v *validator) uuid(field string, def func() any) {
	if !v.present(field, def) {
		return
	}
	s, ok := v.meta[field].(string)
	if !ok || !isHex(s, keys.UUIDLen) {
		v.fail(field, v.meta[field], "must be a 32 character hex id")
	}
}

func (v *validator) names(field string, def func() any) {
	if !v.present(field, def) {
		return
	}
	raw := v.meta[field]
	switch raw.(type) {
	case string, []string, []any:
	default:
		v.fail(field, raw, "must be a list of strings")
		return
	}
	if l, ok := raw.([]any); ok {
		for _, x := range l {
			if _, ok := x.(string); !ok {
				v.fail(field, raw, "must be a list of strings")
				return
			}
		}
	}
	list := backend.ToStrings(raw)
	for _, s := range list {
		switch {
		case s == "":
			v.fail(field, s, "must not be empty")
		case strings.TrimSpace(s) != s:
			v.fail(field, s, "must not have leading or trailing spaces")
		}
	}
	v.meta[field] = list
}

func (v *validator) text(field string, def func() any) {
	if !v.present(field, def) {
		return
	}
	if _, ok := v.meta[field].(string); !ok {
		v.fail(field, v.meta[field], "must be a string")
	}
}

func (v *validator) count(field string) {
	if !v.present(field, nil) {
		return
	}
	n, ok := backend.ToInt64(v.meta[field])
	if !ok || n < 0 {
		v.fail(field, v.meta[field], "must be a non-negative integer")
		return
	}
	v.meta[field] = n
}

func isHex(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for _, c := range s {
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f') {
			return false
		}
	}
	return true
}
