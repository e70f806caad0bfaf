package manager

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"git.home.luguber.info/inful/storydev/internal/builder"
	"git.home.luguber.info/inful/storydev/internal/channel"
	"git.home.luguber.info/inful/storydev/internal/config"
	ferrors "git.home.luguber.info/inful/storydev/internal/foundation/errors"
	"git.home.luguber.info/inful/storydev/internal/logfields"
	"git.home.luguber.info/inful/storydev/internal/version"
)

// AssetPath is where manager assets are mounted.
const AssetPath = "/sb-manager"

//go:embed assets
var embedded embed.FS

var indexTemplate = template.Must(template.ParseFS(embedded, "assets/index.html.tmpl"))

type indexData struct {
	Title      string
	AssetBase  string
	Channel    string
	IndexURL   string
	PreviewURL string
	Version    string
}

// Builder is the manager build handle.
type Builder struct {
	logger *slog.Logger

	mu      sync.Mutex
	bailed  bool
	started bool
}

var _ builder.Handle = (*Builder)(nil)

// New returns an idle manager builder.
func New(logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{logger: logger}
}

// Config reports the resolved manager settings.
func (b *Builder) Config(opts *config.Options) builder.Config {
	assets := "embedded"
	if opts.Manager.AssetsDir != "" {
		assets = assetsDir(opts)
	}
	return builder.Config{
		Subsystem: builder.SubsystemManager,
		Values: map[string]any{
			"title":       opts.Manager.Title,
			"assets":      assets,
			"preview_url": previewURL(opts),
		},
	}
}

// Start renders index.html, mounts the assets and announces MANAGER_READY.
func (b *Builder) Start(ctx context.Context, sc builder.StartContext) (builder.Result, error) {
	b.mu.Lock()
	if b.bailed {
		b.mu.Unlock()
		return builder.Result{}, ferrors.CanceledError("manager was bailed before start").Build()
	}
	if b.started {
		b.mu.Unlock()
		return builder.Result{}, ferrors.RuntimeError("manager already started").Build()
	}
	b.started = true
	b.mu.Unlock()

	opts := sc.Options
	assets, source, err := loadAssets(opts)
	if err != nil {
		return builder.Result{}, err
	}

	var buf bytes.Buffer
	err = indexTemplate.ExecuteTemplate(&buf, "index.html.tmpl", indexData{
		Title:      opts.Manager.Title,
		AssetBase:  AssetPath,
		Channel:    channel.Path,
		IndexURL:   "/index.json",
		PreviewURL: previewURL(opts),
		Version:    version.Version,
	})
	if err != nil {
		return builder.Result{}, ferrors.BuildError("failed to render manager index").WithCause(err).Build()
	}
	page := buf.Bytes()

	if err := ctx.Err(); err != nil {
		return builder.Result{}, ferrors.CanceledError("manager start canceled").WithCause(err).Build()
	}
	if b.isBailed() {
		return builder.Result{}, ferrors.CanceledError("manager was bailed during start").Build()
	}

	if sc.Router != nil {
		index := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.Header().Set("Cache-Control", "no-store")
			_, _ = w.Write(page)
		})
		sc.Router.Handle("/", index)
		sc.Router.Handle("/index.html", index)
		sc.Router.Handle(AssetPath+"/*", http.StripPrefix(AssetPath, http.FileServerFS(assets)))
	}

	url := strings.TrimSuffix(sc.ServerURL, "/") + "/"
	if sc.Channel != nil {
		sc.Channel.Publish(channel.Event{
			Type: channel.EventManagerReady,
			Args: []any{map[string]any{"url": url}},
		})
	}
	b.logger.Info("Manager ready", logfields.Subsystem(builder.SubsystemManager), slog.String("assets", source))

	var elapsed time.Duration
	if !sc.StartTime.IsZero() {
		elapsed = time.Since(sc.StartTime)
	}
	return builder.Result{
		Subsystem: builder.SubsystemManager,
		URL:       url,
		Duration:  elapsed,
		Details:   map[string]any{"assets": source},
	}, nil
}

// Bail marks the builder bailed. Later calls do nothing.
func (b *Builder) Bail(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.bailed {
		b.bailed = true
		b.logger.Debug("Manager bailed", logfields.Subsystem(builder.SubsystemManager))
	}
	return nil
}

func (b *Builder) isBailed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bailed
}

func loadAssets(opts *config.Options) (fs.FS, string, error) {
	if opts.Manager.AssetsDir == "" {
		sub, err := fs.Sub(embedded, "assets")
		if err != nil {
			return nil, "", fmt.Errorf("embedded manager assets: %w", err)
		}
		return sub, "embedded", nil
	}
	dir := assetsDir(opts)
	if st, err := os.Stat(dir); err != nil || !st.IsDir() {
		return nil, "", ferrors.ConfigError("manager assets directory not found").
			WithContext("dir", dir).
			WithCause(err).
			Build()
	}
	return os.DirFS(dir), dir, nil
}

func assetsDir(opts *config.Options) string {
	dir := opts.Manager.AssetsDir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(opts.ConfigDir, dir)
	}
	return dir
}

func previewURL(opts *config.Options) string {
	switch {
	case opts.Preview.URL != "":
		return opts.Preview.URL
	case opts.Preview.Skip:
		return ""
	default:
		return "/iframe.html"
	}
}
