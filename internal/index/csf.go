package index

import (
	"cmp"
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// stringLiteral matches a single, double or backtick quoted string; exactly
// one of its three groups is set.
const stringLiteral = `(?:'([^']*)'|"([^"]*)"|` + "`([^`]*)`)"

var (
	csfFile          = regexp.MustCompile(`\.stories\.(js|jsx|mjs|ts|tsx)$`)
	csfDefaultExport = regexp.MustCompile(`(?m)^\s*export\s+default\b`)
	csfTitle         = regexp.MustCompile(`\btitle\s*:\s*` + stringLiteral)
	csfTags          = regexp.MustCompile(`\btags\s*:\s*\[([^\]]*)\]`)
	csfStringLit     = regexp.MustCompile(stringLiteral)
	csfNamedConst    = regexp.MustCompile(`(?m)^\s*export\s+(?:const|let|var|function)\s+([A-Za-z_$][\w$]*)`)
	csfExportList    = regexp.MustCompile(`(?m)^\s*export\s*\{([^}]*)\}\s*;?\s*$`)
	csfStoryName     = regexp.MustCompile(`(?m)^\s*([A-Za-z_$][\w$]*)\.storyName\s*=\s*` + stringLiteral)
)

// CSFIndexer reads component story files. It scans source text; the default
// export must declare its meta inline or through a local const, and stories
// are the named exports.
type CSFIndexer struct{}

func (CSFIndexer) Match(importPath string) bool {
	return csfFile.MatchString(importPath)
}

func (CSFIndexer) Index(in IndexInput) ([]Entry, error) {
	src := string(in.Content)
	if !csfDefaultExport.MatchString(src) {
		return nil, fmt.Errorf("%s: missing default export", in.ImportPath)
	}

	title := in.AutoTitle
	if m := csfTitle.FindStringSubmatch(src); m != nil {
		title = literal(m[1:])
	}
	if title == "" {
		return nil, fmt.Errorf("%s: unable to determine title", in.ImportPath)
	}

	var tags []string
	if m := csfTags.FindStringSubmatch(src); m != nil {
		for _, lit := range csfStringLit.FindAllStringSubmatch(m[1], -1) {
			tags = append(tags, literal(lit[1:]))
		}
	}

	names := map[string]string{}
	for _, m := range csfStoryName.FindAllStringSubmatch(src, -1) {
		names[m[1]] = literal(m[2:])
	}

	exports := namedExports(src)
	if len(exports) == 0 {
		return nil, fmt.Errorf("%s: no named exports", in.ImportPath)
	}

	entries := make([]Entry, 0, len(exports))
	for _, exp := range exports {
		// Ids follow the export, not a storyName override.
		derived := StoryNameFromExport(exp)
		name := names[exp]
		if name == "" {
			name = derived
		}
		entries = append(entries, Entry{
			ID:         EntryID(title, derived),
			Title:      title,
			Name:       name,
			ImportPath: in.ImportPath,
			Type:       EntryStory,
			Tags:       append([]string{"story"}, tags...),
			ExportName: exp,
		})
	}
	return entries, nil
}

// namedExports returns exported identifiers in declaration order.
func namedExports(src string) []string {
	type found struct {
		pos  int
		name string
	}
	var all []found
	for _, m := range csfNamedConst.FindAllStringSubmatchIndex(src, -1) {
		all = append(all, found{pos: m[2], name: src[m[2]:m[3]]})
	}
	for _, m := range csfExportList.FindAllStringSubmatchIndex(src, -1) {
		for _, part := range strings.Split(src[m[2]:m[3]], ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if _, alias, ok := strings.Cut(part, " as "); ok {
				part = strings.TrimSpace(alias)
			}
			if part == "default" {
				continue
			}
			all = append(all, found{pos: m[2], name: part})
		}
	}

	seen := map[string]bool{}
	var out []string
	slices.SortStableFunc(all, func(a, b found) int { return cmp.Compare(a.pos, b.pos) })
	for _, f := range all {
		if seen[f.name] || strings.HasPrefix(f.name, "__") {
			continue
		}
		seen[f.name] = true
		out = append(out, f.name)
	}
	return out
}

// literal returns the one populated group of a stringLiteral match.
func literal(groups []string) string {
	for _, g := range groups {
		if g != "" {
			return g
		}
	}
	return ""
}
