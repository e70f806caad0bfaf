package server

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"git.home.luguber.info/inful/storydev/internal/config"
	ferrors "git.home.luguber.info/inful/storydev/internal/foundation/errors"
)

type staticMount struct {
	dir    string
	prefix string
	files  http.Handler
}

// staticDirs serves the configured static directories. The first mount that
// has the requested file wins.
type staticDirs struct {
	mounts []staticMount
}

func newStaticDirs(entries []string, configDir string) (*staticDirs, error) {
	s := &staticDirs{}
	for _, entry := range entries {
		dir, mount := config.SplitStaticDir(entry)
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(configDir, dir)
		}
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			return nil, ferrors.ConfigError("static directory does not exist").
				WithContext("directory", dir).
				WithCause(err).
				Build()
		}
		prefix := "/" + strings.Trim(mount, "/")
		s.mounts = append(s.mounts, staticMount{
			dir:    dir,
			prefix: prefix,
			files:  http.FileServer(http.Dir(dir)),
		})
	}
	return s, nil
}

func (s *staticDirs) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clean := path.Clean("/" + r.URL.Path)
	for _, m := range s.mounts {
		rel, ok := strip(clean, m.prefix)
		if !ok {
			continue
		}
		target := filepath.Join(m.dir, filepath.FromSlash(rel))
		if _, err := os.Stat(target); err != nil {
			continue
		}
		r2 := r.Clone(r.Context())
		r2.URL.Path = rel
		m.files.ServeHTTP(w, r2)
		return
	}
	http.NotFound(w, r)
}

// strip removes prefix from p on a path segment boundary.
func strip(p, prefix string) (string, bool) {
	if prefix == "/" {
		return p, true
	}
	if p == prefix {
		return "/", true
	}
	if strings.HasPrefix(p, prefix+"/") {
		return p[len(prefix):], true
	}
	return "", false
}
