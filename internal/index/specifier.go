package index

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"git.home.luguber.info/inful/storydev/internal/config"
	ferrors "git.home.luguber.info/inful/storydev/internal/foundation/errors"
)

// DefaultFilesPattern is used when a mapping specifier omits files.
const DefaultFilesPattern = "**/*.@(mdx|stories.@(js|jsx|mjs|ts|tsx))"

// Specifier is a normalized stories entry.
type Specifier struct {
	// Directory is the absolute directory scanned for entries.
	Directory string
	// ImportDir is Directory relative to the working directory, "./"-prefixed.
	ImportDir string
	// Files is the glob applied below Directory, as written.
	Files       string
	TitlePrefix string
	// Pattern is Files in doublestar syntax.
	Pattern string
}

// NormalizeSpecifiers resolves every stories entry against configDir and workingDir.
func NormalizeSpecifiers(entries []config.StoriesEntry, configDir, workingDir string) ([]Specifier, error) {
	out := make([]Specifier, 0, len(entries))
	for _, e := range entries {
		s, err := NormalizeSpecifier(e, configDir, workingDir)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// NormalizeSpecifier resolves one stories entry.
func NormalizeSpecifier(e config.StoriesEntry, configDir, workingDir string) (Specifier, error) {
	dir, files, prefix := e.Directory, e.Files, e.TitlePrefix
	if e.Glob != "" {
		dir, files = splitGlob(filepath.ToSlash(e.Glob))
	}
	if files == "" {
		files = DefaultFilesPattern
	}
	if dir == "" {
		return Specifier{}, ferrors.ConfigError("stories entry has no directory").
			WithContext("entry", e.String()).
			Build()
	}

	abs := filepath.Clean(filepath.Join(configDir, filepath.FromSlash(dir)))
	if filepath.IsAbs(filepath.FromSlash(dir)) {
		abs = filepath.Clean(filepath.FromSlash(dir))
	}
	rel, err := filepath.Rel(workingDir, abs)
	if err != nil {
		return Specifier{}, ferrors.ConfigError("stories directory is not below the working directory").
			WithContext("directory", abs).
			WithCause(err).
			Build()
	}
	importDir := toImportPath(rel)

	pattern, err := braceGroups(strings.TrimPrefix(files, "./"))
	if err == nil && !doublestar.ValidatePattern(pattern) {
		err = doublestar.ErrBadPattern
	}
	if err != nil {
		return Specifier{}, ferrors.ConfigError("invalid stories files pattern").
			WithContext("files", files).
			WithCause(err).
			Build()
	}

	return Specifier{
		Directory:   abs,
		ImportDir:   importDir,
		Files:       files,
		TitlePrefix: strings.Trim(prefix, "/"),
		Pattern:     pattern,
	}, nil
}

// Matches reports whether importPath falls under s.
func (s Specifier) Matches(importPath string) bool {
	rest, ok := strings.CutPrefix(importPath, strings.TrimSuffix(s.ImportDir, "/")+"/")
	if !ok {
		return false
	}
	matched, err := doublestar.Match(s.Pattern, rest)
	return err == nil && matched
}

// ImportPath returns the "./"-prefixed path of abs relative to workingDir.
func ImportPath(workingDir, abs string) (string, error) {
	rel, err := filepath.Rel(workingDir, abs)
	if err != nil {
		return "", err
	}
	return toImportPath(rel), nil
}

func toImportPath(rel string) string {
	rel = filepath.ToSlash(rel)
	if rel == "." {
		return "."
	}
	if strings.HasPrefix(rel, "../") || rel == ".." {
		return rel
	}
	return "./" + rel
}

// splitGlob cuts a glob into the longest literal directory prefix and the rest.
func splitGlob(glob string) (dir, files string) {
	segments := strings.Split(glob, "/")
	i := 0
	for ; i < len(segments)-1; i++ {
		if hasMagic(segments[i]) {
			break
		}
	}
	if i == len(segments)-1 && !hasMagic(segments[i]) {
		// A plain file path.
		return path.Dir(glob), path.Base(glob)
	}
	dir = strings.Join(segments[:i], "/")
	if dir == "" {
		dir = "."
	}
	return dir, strings.Join(segments[i:], "/")
}

func hasMagic(s string) bool {
	return strings.ContainsAny(s, "*?{}[]()@!+")
}

// braceGroups rewrites extglob @(a|b) groups into doublestar {a,b}
// alternatives. Groups may nest inside each other and inside braces.
func braceGroups(glob string) (string, error) {
	var b strings.Builder
	var stack []byte // open group kinds: '{' or '('
	for i := 0; i < len(glob); i++ {
		c := glob[i]
		top := byte(0)
		if len(stack) > 0 {
			top = stack[len(stack)-1]
		}
		switch {
		case c == '@' && i+1 < len(glob) && glob[i+1] == '(':
			i++
			stack = append(stack, '(')
			b.WriteByte('{')
		case c == '{':
			stack = append(stack, '{')
			b.WriteByte('{')
		case c == '|' && top == '(':
			b.WriteByte(',')
		case c == '}' && top == '{', c == ')' && top == '(':
			stack = stack[:len(stack)-1]
			b.WriteByte('}')
		default:
			b.WriteByte(c)
		}
	}
	if len(stack) > 0 {
		return "", fmt.Errorf("unbalanced group in %q", glob)
	}
	return b.String(), nil
}
