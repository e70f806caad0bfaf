package index

import (
	"path"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	wordBoundary  = regexp.MustCompile(`([a-z0-9])([A-Z])|([A-Z]+)([A-Z][a-z])|([a-zA-Z])([0-9])`)
	storyFileExts = regexp.MustCompile(`(\.stories)?\.(mdx|md|js|jsx|mjs|ts|tsx)$`)
)

// Sanitize lowercases s and collapses every run of non-alphanumerics into a
// single dash.
func Sanitize(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}

// EntryID builds the id of an entry from its title and name.
func EntryID(title, name string) string {
	return Sanitize(title) + "--" + Sanitize(name)
}

// StoryNameFromExport turns an export identifier into a display name:
// "PrimaryButton" becomes "Primary Button".
func StoryNameFromExport(export string) string {
	spaced := wordBoundary.ReplaceAllString(export, "$1$3$5 $2$4$6")
	fields := strings.FieldsFunc(spaced, func(r rune) bool {
		return r == '_' || r == '-' || r == '$' || unicode.IsSpace(r)
	})
	caser := cases.Title(language.Und, cases.NoLower)
	for i, f := range fields {
		fields[i] = caser.String(f)
	}
	return strings.Join(fields, " ")
}

// AutoTitle derives a title from a file path relative to its specifier
// directory. Extensions are dropped, as are a trailing "index" segment and a
// file name repeating its directory name.
func AutoTitle(relPath, prefix string) string {
	p := storyFileExts.ReplaceAllString(path.Clean(relPath), "")
	var segments []string
	for _, s := range strings.Split(p, "/") {
		if s != "" && s != "." {
			segments = append(segments, s)
		}
	}
	if n := len(segments); n > 1 && strings.EqualFold(segments[n-1], "index") {
		segments = segments[:n-1]
	}
	if n := len(segments); n > 1 && segments[n-1] == segments[n-2] {
		segments = segments[:n-1]
	}
	title := strings.Join(segments, "/")
	if prefix == "" {
		return title
	}
	if title == "" {
		return prefix
	}
	return prefix + "/" + title
}
