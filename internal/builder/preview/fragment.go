package preview

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	ferrors "git.home.luguber.info/inful/storydev/internal/foundation/errors"
)

// loadFragment reads a head or body fragment from the config directory.
// A missing file is an empty fragment.
func loadFragment(configDir, name string, context atom.Atom) (string, error) {
	if name == "" {
		return "", nil
	}
	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(configDir, path)
	}
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from the user's own config
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", ferrors.FileSystemError("failed to read preview fragment").
			WithContext("file", path).
			WithCause(err).
			Build()
	}
	out, err := normalizeFragment(string(data), context)
	if err != nil {
		return "", ferrors.ConfigError("invalid preview fragment").
			WithContext("file", path).
			WithCause(err).
			Build()
	}
	return out, nil
}

// normalizeFragment parses raw as children of the context element and
// renders it back. Document-level tags are rejected since the fragment is
// spliced into an existing document.
func normalizeFragment(raw string, context atom.Atom) (string, error) {
	z := html.NewTokenizer(strings.NewReader(raw))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if errors.Is(z.Err(), io.EOF) {
				break
			}
			return "", z.Err()
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}
		name, _ := z.TagName()
		switch atom.Lookup(name) {
		case atom.Html, atom.Head, atom.Body:
			return "", fmt.Errorf("fragment must not contain <%s>", name)
		}
	}

	parent := &html.Node{Type: html.ElementNode, Data: context.String(), DataAtom: context}
	nodes, err := html.ParseFragment(strings.NewReader(raw), parent)
	if err != nil {
		return "", fmt.Errorf("parse fragment: %w", err)
	}
	var buf strings.Builder
	for _, n := range nodes {
		if err := html.Render(&buf, n); err != nil {
			return "", fmt.Errorf("render fragment: %w", err)
		}
	}
	return strings.TrimSpace(buf.String()), nil
}
