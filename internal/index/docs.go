package index

import (
	"bytes"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/inful/mdfp"
	"github.com/yuin/goldmark"
	gmast "github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// DocsEntryName is the name given to docs entries.
const DocsEntryName = "Docs"

var docsFile = regexp.MustCompile(`\.mdx?$`)

// DocsIndexer reads markdown docs pages. Frontmatter title wins, then the
// first heading, then the title derived from the path.
type DocsIndexer struct{}

func (DocsIndexer) Match(importPath string) bool {
	return docsFile.MatchString(importPath) && !csfFile.MatchString(importPath)
}

func (DocsIndexer) Index(in IndexInput) ([]Entry, error) {
	raw, body, _, err := splitFrontmatter(in.Content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", in.ImportPath, err)
	}
	fm, fields, err := parseDocsFrontmatter(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: frontmatter: %w", in.ImportPath, err)
	}

	title := fm.Title
	if title == "" {
		title = firstHeading(body)
	}
	if title == "" {
		title = in.AutoTitle
	}
	name := fm.Name
	if name == "" {
		name = DocsEntryName
	}

	e := Entry{
		ID:          EntryID(title, name),
		Title:       title,
		Name:        name,
		ImportPath:  in.ImportPath,
		Type:        EntryDocs,
		Tags:        append([]string{"docs"}, fm.Tags...),
		Fingerprint: fingerprint(fields, body),
	}
	if fm.Of != "" {
		of := fm.Of
		if strings.HasPrefix(of, "./") || strings.HasPrefix(of, "../") {
			of = path.Join(path.Dir(in.ImportPath), of)
			if !strings.HasPrefix(of, "../") {
				of = "./" + of
			}
		}
		e.StoriesImports = []string{of}
		// The title is settled once the attached stories file is indexed.
		if fm.Title == "" {
			e.Title = ""
			e.ID = ""
		}
	}
	return []Entry{e}, nil
}

// firstHeading returns the text of the first heading in a markdown body.
func firstHeading(body []byte) string {
	root := goldmark.New().Parser().Parse(text.NewReader(body))
	var title string
	_ = gmast.Walk(root, func(n gmast.Node, entering bool) (gmast.WalkStatus, error) {
		if !entering {
			return gmast.WalkContinue, nil
		}
		h, ok := n.(*gmast.Heading)
		if !ok {
			return gmast.WalkContinue, nil
		}
		var buf bytes.Buffer
		_ = gmast.Walk(h, func(c gmast.Node, entering bool) (gmast.WalkStatus, error) {
			if t, ok := c.(*gmast.Text); ok && entering {
				buf.Write(t.Segment.Value(body))
			}
			return gmast.WalkContinue, nil
		})
		title = strings.TrimSpace(buf.String())
		return gmast.WalkStop, nil
	})
	return title
}

func fingerprint(fields map[string]any, body []byte) string {
	delete(fields, mdfp.FingerprintField)
	fm := ""
	if len(fields) > 0 {
		if out, err := marshalYAML(fields); err == nil {
			fm = strings.TrimSuffix(string(out), "\n")
		}
	}
	return mdfp.CalculateFingerprintFromParts(fm, string(body))
}
