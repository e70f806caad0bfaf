package preview

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"errors"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/net/html/atom"

	"git.home.luguber.info/inful/storydev/internal/channel"
	"git.home.luguber.info/inful/storydev/internal/config"
	"git.home.luguber.info/inful/storydev/internal/watch"
)

//go:embed assets/iframe.html.tmpl
var iframeTemplateText string

var iframeTemplate = template.Must(template.New("iframe.html").Parse(iframeTemplateText))

type iframeData struct {
	Title   string
	Hash    string
	Channel string
	Head    template.HTML
	Body    template.HTML
}

// page is one rendered iframe.html.
type page struct {
	html []byte
	hash string
}

func render(opts *config.Options, dirs []string) (*page, error) {
	head, err := loadFragment(opts.ConfigDir, opts.Preview.HeadFile, atom.Head)
	if err != nil {
		return nil, err
	}
	body, err := loadFragment(opts.ConfigDir, opts.Preview.BodyFile, atom.Body)
	if err != nil {
		return nil, err
	}
	hash, err := fingerprint(dirs, head, body)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	err = iframeTemplate.Execute(&buf, iframeData{
		Title:   opts.Manager.Title,
		Hash:    hash,
		Channel: channel.EventsPath,
		// #nosec G203 -- fragments were parsed and re-rendered by normalizeFragment
		Head: template.HTML(head),
		Body: template.HTML(body), // #nosec G203
	})
	if err != nil {
		return nil, fmt.Errorf("render iframe.html: %w", err)
	}
	return &page{html: buf.Bytes(), hash: hash}, nil
}

// fingerprint hashes the fragments and every file below dirs, in walk order.
func fingerprint(dirs []string, fragments ...string) (string, error) {
	h := sha256.New()
	for _, f := range fragments {
		_, _ = io.WriteString(h, f)
		_, _ = h.Write([]byte{0})
	}
	for _, dir := range dirs {
		err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if p != dir && watch.SkipDir(d.Name()) {
					return filepath.SkipDir
				}
				return nil
			}
			if watch.ShouldIgnore(p) {
				return nil
			}
			data, err := os.ReadFile(p) // #nosec G304 -- walking configured source dirs
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return nil
				}
				return err
			}
			rel, _ := filepath.Rel(dir, p)
			_, _ = io.WriteString(h, filepath.ToSlash(rel))
			_, _ = h.Write([]byte{0})
			_, _ = h.Write(data)
			_, _ = h.Write([]byte{0})
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("hash %s: %w", dir, err)
		}
	}
	return hex.EncodeToString(h.Sum(nil))[:16], nil
}
