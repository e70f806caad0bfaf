package preview

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"git.home.luguber.info/inful/storydev/internal/builder"
	"git.home.luguber.info/inful/storydev/internal/channel"
	"git.home.luguber.info/inful/storydev/internal/config"
	ferrors "git.home.luguber.info/inful/storydev/internal/foundation/errors"
	"git.home.luguber.info/inful/storydev/internal/logfields"
	"git.home.luguber.info/inful/storydev/internal/watch"
)

// Route patterns registered on the transport.
const (
	IframePath  = "/iframe.html"
	SourcePath  = "/sb-preview"
	sourceRoute = SourcePath + "/*"
)

// Builder is the preview build handle.
type Builder struct {
	clock  clockwork.Clock
	logger *slog.Logger
	window time.Duration

	mu        sync.Mutex
	bailed    bool
	started   bool
	watcher   *watch.Watcher
	debouncer *watch.Debouncer
	cancel    context.CancelFunc

	current atomic.Pointer[page]
	builds  atomic.Int64
}

var _ builder.Handle = (*Builder)(nil)

// Option configures a Builder.
type Option func(*Builder)

// WithClock replaces the real clock used for debouncing, for tests.
func WithClock(c clockwork.Clock) Option {
	return func(b *Builder) { b.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithDebounceWindow overrides index.debounce_window for source changes.
func WithDebounceWindow(d time.Duration) Option {
	return func(b *Builder) { b.window = d }
}

// New returns an idle preview builder.
func New(opts ...Option) *Builder {
	b := &Builder{clock: clockwork.NewRealClock(), logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Config reports the resolved preview settings.
func (b *Builder) Config(opts *config.Options) builder.Config {
	return builder.Config{
		Subsystem: builder.SubsystemPreview,
		Values: map[string]any{
			"external_url": opts.Preview.URL,
			"head_file":    opts.Preview.HeadFile,
			"body_file":    opts.Preview.BodyFile,
			"source_dirs":  sourceDirs(opts),
			"skip":         opts.Preview.Skip,
		},
	}
}

// Start renders the iframe, registers its routes and starts watching the
// source directories. With preview.url set it only reports that URL.
func (b *Builder) Start(ctx context.Context, sc builder.StartContext) (builder.Result, error) {
	b.mu.Lock()
	switch {
	case b.bailed:
		b.mu.Unlock()
		return builder.Result{}, ferrors.CanceledError("preview was bailed before start").Build()
	case b.started:
		b.mu.Unlock()
		return builder.Result{}, ferrors.RuntimeError("preview already started").Build()
	}
	b.started = true
	b.mu.Unlock()

	opts := sc.Options
	if opts.Preview.URL != "" {
		b.logger.Info("Using external preview", slog.String("url", opts.Preview.URL))
		return builder.Result{
			Subsystem: builder.SubsystemPreview,
			URL:       opts.Preview.URL,
			Duration:  b.since(sc.StartTime),
			Details:   map[string]any{"external": true},
		}, nil
	}

	dirs := sourceDirs(opts)
	for _, dir := range dirs {
		if st, err := os.Stat(dir); err != nil || !st.IsDir() {
			return builder.Result{}, ferrors.ConfigError("preview source directory not found").
				WithContext("dir", dir).
				WithCause(err).
				Build()
		}
	}
	if err := ctx.Err(); err != nil {
		return builder.Result{}, ferrors.CanceledError("preview start canceled").WithCause(err).Build()
	}

	p, err := render(opts, dirs)
	if err != nil {
		return builder.Result{}, err
	}
	b.current.Store(p)
	b.builds.Add(1)

	pub := sc.Channel
	if pub == nil {
		pub = nopPublisher{}
	}
	var (
		w *watch.Watcher
		d *watch.Debouncer
	)
	wctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if len(dirs) > 0 {
		window := b.window
		if window <= 0 {
			window = opts.Index.DebounceWindow
		}
		d = watch.NewDebouncer(window, func() { b.rebuild(opts, dirs, pub) }, watch.WithClock(b.clock))
		w, err = watch.NewWatcher(wctx, dirs, func(string, bool) { d.Trigger() }, b.logger)
		if err != nil {
			cancel()
			return builder.Result{}, ferrors.FileSystemError("failed to watch preview sources").WithCause(err).Build()
		}
	}

	b.mu.Lock()
	if b.bailed {
		b.mu.Unlock()
		_ = teardown(w, d, cancel)
		return builder.Result{}, ferrors.CanceledError("preview was bailed during start").Build()
	}
	b.watcher, b.debouncer, b.cancel = w, d, cancel
	b.mu.Unlock()

	if sc.Router != nil {
		sc.Router.Handle(IframePath, http.HandlerFunc(b.serveIframe))
		if len(dirs) > 0 {
			sc.Router.Handle(sourceRoute, http.StripPrefix(SourcePath, sourceFiles(dirs)))
		}
	}

	b.logger.Info("Preview ready",
		logfields.Subsystem(builder.SubsystemPreview),
		slog.String("hash", p.hash),
		slog.Int("source_dirs", len(dirs)))
	return builder.Result{
		Subsystem: builder.SubsystemPreview,
		URL:       strings.TrimSuffix(sc.ServerURL, "/") + IframePath,
		Duration:  b.since(sc.StartTime),
		Details:   map[string]any{"hash": p.hash, "source_dirs": len(dirs)},
	}, nil
}

// Bail stops watching and marks the builder bailed. Later calls do nothing.
func (b *Builder) Bail(context.Context) error {
	b.mu.Lock()
	if b.bailed {
		b.mu.Unlock()
		return nil
	}
	b.bailed = true
	w, d, cancel := b.watcher, b.debouncer, b.cancel
	b.watcher, b.debouncer, b.cancel = nil, nil, nil
	b.mu.Unlock()

	b.logger.Debug("Preview bailed", logfields.Subsystem(builder.SubsystemPreview))
	return teardown(w, d, cancel)
}

// Hash returns the fingerprint of the current build, or "" before Start.
func (b *Builder) Hash() string {
	if p := b.current.Load(); p != nil {
		return p.hash
	}
	return ""
}

// Builds counts successful renders.
func (b *Builder) Builds() int64 { return b.builds.Load() }

func (b *Builder) rebuild(opts *config.Options, dirs []string, pub channel.Publisher) {
	p, err := render(opts, dirs)
	if err != nil {
		b.logger.Warn("Preview rebuild failed", logfields.Error(err))
		pub.Publish(channel.Event{
			Type: channel.EventPreviewError,
			Args: []any{map[string]any{"message": err.Error()}},
		})
		return
	}
	b.current.Store(p)
	b.builds.Add(1)
	b.logger.Debug("Preview rebuilt", slog.String("hash", p.hash))
	pub.Publish(channel.Event{
		Type: channel.EventPreviewBuilt,
		Args: []any{map[string]any{"hash": p.hash}},
	})
}

func (b *Builder) serveIframe(w http.ResponseWriter, _ *http.Request) {
	p := b.current.Load()
	if p == nil {
		http.Error(w, "preview not built", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(p.html)
}

func (b *Builder) since(t time.Time) time.Duration {
	if t.IsZero() {
		return 0
	}
	return b.clock.Since(t)
}

func teardown(w *watch.Watcher, d *watch.Debouncer, cancel context.CancelFunc) error {
	if d != nil {
		d.Stop()
	}
	if cancel != nil {
		cancel()
	}
	if w != nil {
		return w.Close()
	}
	return nil
}

func sourceDirs(opts *config.Options) []string {
	out := make([]string, 0, len(opts.Preview.SourceDirs))
	for _, dir := range opts.Preview.SourceDirs {
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(opts.ConfigDir, dir)
		}
		out = append(out, filepath.Clean(dir))
	}
	return out
}

// sourceFiles serves the first source directory that has the file.
func sourceFiles(dirs []string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rel := filepath.FromSlash(path.Clean("/" + r.URL.Path))
		for _, dir := range dirs {
			target := filepath.Join(dir, rel)
			if st, err := os.Stat(target); err == nil && !st.IsDir() {
				http.ServeFile(w, r, target)
				return
			}
		}
		http.NotFound(w, r)
	})
}

type nopPublisher struct{}

func (nopPublisher) Publish(channel.Event) {}
