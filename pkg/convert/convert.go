// Package convert turns revision payloads into the plain text stored in the
// indexes and extracts the links of new revisions.
package convert

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	gm_ast "github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/jlrickert/wikidex/pkg/backend"
	"github.com/jlrickert/wikidex/pkg/keys"
	"github.com/jlrickert/wikidex/pkg/log"
)

// Converter renders revision data as indexable plain text. It is safe for
// concurrent use.
type Converter struct {
	indexAsEmpty []string
	md           goldmark.Markdown
}

// Option configures a Converter.
type Option func(*Converter)

// WithIndexAsEmpty lists content types whose payload is never indexed. A
// type matches when the revision content type starts with it.
func WithIndexAsEmpty(types ...string) Option {
	return func(c *Converter) { c.indexAsEmpty = append(c.indexAsEmpty, types...) }
}

// New returns a Converter.
func New(opts ...Option) *Converter {
	c := &Converter{md: goldmark.New()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Links are the references found in a markup document.
type Links struct {
	ItemLinks         []string
	ItemTransclusions []string
	ExternalLinks     []string
}

// ToIndexable reads data and returns its plain text rendering. When isNew is
// set (a revision that is about to be stored), link metadata is written to
// meta as a side effect. Conversion never fails: problems are logged and the
// text degrades to "ERROR [...]" so an indexing run is never interrupted.
func (c *Converter) ToIndexable(ctx context.Context, meta backend.Meta, data io.Reader, isNew bool) string {
	lg := log.FromContext(ctx)
	ct := meta.String(keys.ContentType)
	for _, empty := range c.indexAsEmpty {
		if strings.HasPrefix(ct, empty) {
			lg.Debug("not indexing content as requested by configuration",
				"name", meta.Strings(keys.Name), "contenttype", ct)
			return ""
		}
	}
	if data == nil {
		return ""
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		lg.Error("conversion failed",
			"name", meta.Strings(keys.Name),
			"revid", meta.String(keys.RevID),
			"contenttype", ct,
			"error", err)
		return fmt.Sprintf("ERROR [%s]", err)
	}

	mime := strings.TrimSpace(strings.SplitN(ct, ";", 2)[0])
	switch {
	case mime == "text/x-markdown" || mime == "text/markdown":
		plain, links := c.Markdown(raw, itemName(meta))
		if isNew {
			meta[keys.ItemLinks] = links.ItemLinks
			meta[keys.ItemTransclusions] = links.ItemTransclusions
			meta[keys.ExternalLinks] = links.ExternalLinks
		}
		return plain
	case mime == keys.ContentTypeUser:
		return ""
	case strings.HasPrefix(mime, "text/") || mime == "":
		if !utf8.Valid(raw) {
			return strings.ToValidUTF8(string(raw), "�")
		}
		return string(raw)
	}
	lg.Debug("no converter for content type", "contenttype", ct)
	return ""
}

func itemName(meta backend.Meta) string {
	names := meta.Strings(keys.Name)
	if len(names) == 0 {
		return ""
	}
	if ns := meta.String(keys.Namespace); ns != "" {
		return ns + "/" + names[0]
	}
	return names[0]
}

// Markdown parses src and returns its text content and the links it
// contains. Relative item links resolve against current.
func (c *Converter) Markdown(src []byte, current string) (string, Links) {
	doc := c.md.Parser().Parse(text.NewReader(src))

	var buf bytes.Buffer
	itemLinks := map[string]struct{}{}
	transclusions := map[string]struct{}{}
	external := map[string]struct{}{}

	addLink := func(dest string, image bool) {
		if isExternal(dest) {
			external[dest] = struct{}{}
			return
		}
		name := resolveItemName(dest, current)
		if name == "" {
			return
		}
		if image {
			transclusions[name] = struct{}{}
		} else {
			itemLinks[name] = struct{}{}
		}
	}

	_ = gm_ast.Walk(doc, func(n gm_ast.Node, entering bool) (gm_ast.WalkStatus, error) {
		if !entering {
			if n.Type() == gm_ast.TypeBlock && buf.Len() > 0 && !bytes.HasSuffix(buf.Bytes(), []byte("\n")) {
				buf.WriteByte('\n')
			}
			return gm_ast.WalkContinue, nil
		}
		switch n.Kind() {
		case gm_ast.KindText:
			t := n.(*gm_ast.Text)
			buf.Write(t.Segment.Value(src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				buf.WriteByte('\n')
			}
		case gm_ast.KindString:
			buf.Write(n.(*gm_ast.String).Value)
		case gm_ast.KindCodeBlock, gm_ast.KindFencedCodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				buf.Write(seg.Value(src))
			}
		case gm_ast.KindLink:
			addLink(string(n.(*gm_ast.Link).Destination), false)
		case gm_ast.KindImage:
			addLink(string(n.(*gm_ast.Image).Destination), true)
		case gm_ast.KindAutoLink:
			al := n.(*gm_ast.AutoLink)
			url := string(al.URL(src))
			if al.AutoLinkType == gm_ast.AutoLinkEmail && !strings.HasPrefix(url, "mailto:") {
				url = "mailto:" + url
			}
			external[url] = struct{}{}
			buf.Write(al.Label(src))
			return gm_ast.WalkSkipChildren, nil
		}
		return gm_ast.WalkContinue, nil
	})

	return strings.TrimSpace(buf.String()), Links{
		ItemLinks:         sortedKeys(itemLinks),
		ItemTransclusions: sortedKeys(transclusions),
		ExternalLinks:     sortedKeys(external),
	}
}

func isExternal(dest string) bool {
	if strings.HasPrefix(dest, "mailto:") {
		return true
	}
	i := strings.Index(dest, "://")
	return i > 0 && !strings.ContainsAny(dest[:i], "/#?")
}

// resolveItemName maps a link destination to an item name: "/Sub" is a sub
// item of current, "./x" and "../x" are relative to current, anything else is
// an absolute item name. Fragments and queries are dropped.
func resolveItemName(dest, current string) string {
	if i := strings.IndexAny(dest, "#?"); i >= 0 {
		dest = dest[:i]
	}
	dest = strings.TrimSpace(dest)
	switch {
	case dest == "":
		return ""
	case strings.HasPrefix(dest, "/"):
		if current == "" {
			return strings.TrimPrefix(dest, "/")
		}
		return current + dest
	case strings.HasPrefix(dest, "./"), strings.HasPrefix(dest, "../"):
		name := path.Join(current, dest)
		if name == "." || strings.HasPrefix(name, "..") {
			return ""
		}
		return name
	}
	return dest
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
