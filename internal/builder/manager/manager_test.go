package manager

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/storydev/internal/builder"
	"git.home.luguber.info/inful/storydev/internal/channel"
	"git.home.luguber.info/inful/storydev/internal/config"
	ferrors "git.home.luguber.info/inful/storydev/internal/foundation/errors"
)

type mapRouter map[string]http.Handler

func (r mapRouter) Handle(pattern string, h http.Handler) { r[pattern] = h }

func (r mapRouter) get(t *testing.T, pattern, path string) *httptest.ResponseRecorder {
	t.Helper()
	h, ok := r[pattern]
	require.True(t, ok, "route %s not registered", pattern)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

type events struct {
	mu  sync.Mutex
	all []channel.Event
}

func (e *events) Publish(evt channel.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.all = append(e.all, evt)
}

func managerOptions(t *testing.T) *config.Options {
	t.Helper()
	opts := &config.Options{ConfigDir: t.TempDir()}
	opts.Manager.Title = "Design System"
	return opts
}

func TestStart_EmbeddedAssets(t *testing.T) {
	router := mapRouter{}
	pub := &events{}
	b := New(nil)

	res, err := b.Start(t.Context(), builder.StartContext{
		Options:   managerOptions(t),
		Router:    router,
		Channel:   pub,
		ServerURL: "http://localhost:6006/",
	})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:6006/", res.URL)
	assert.Equal(t, "embedded", res.Details["assets"])

	page := router.get(t, "/", "/").Body.String()
	assert.Contains(t, page, "<title>Design System</title>")
	assert.Contains(t, page, `src="/iframe.html"`)
	assert.Contains(t, page, "storydev-server-channel")

	rec := router.get(t, AssetPath+"/*", AssetPath+"/manager.js")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "STORYDEV_MANAGER")

	require.Len(t, pub.all, 1)
	assert.Equal(t, channel.EventManagerReady, pub.all[0].Type)
}

func TestStart_AssetsDirAndPreviewURL(t *testing.T) {
	opts := managerOptions(t)
	custom := filepath.Join(opts.ConfigDir, "ui")
	require.NoError(t, os.MkdirAll(custom, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(custom, "manager.css"), []byte("body{}"), 0o600))
	opts.Manager.AssetsDir = "ui"
	opts.Preview.URL = "https://preview.example.com/iframe.html"
	router := mapRouter{}

	res, err := New(nil).Start(t.Context(), builder.StartContext{Options: opts, Router: router})
	require.NoError(t, err)
	assert.Equal(t, custom, res.Details["assets"])
	assert.Contains(t, router.get(t, "/", "/").Body.String(), "https://preview.example.com/iframe.html")
	assert.Equal(t, "body{}", router.get(t, AssetPath+"/*", AssetPath+"/manager.css").Body.String())
}

func TestStart_SkippedPreview(t *testing.T) {
	opts := managerOptions(t)
	opts.Preview.Skip = true
	router := mapRouter{}

	_, err := New(nil).Start(t.Context(), builder.StartContext{Options: opts, Router: router})
	require.NoError(t, err)
	assert.Contains(t, router.get(t, "/index.html", "/index.html").Body.String(), "Preview disabled")
}

func TestStart_MissingAssetsDir(t *testing.T) {
	opts := managerOptions(t)
	opts.Manager.AssetsDir = "missing"

	_, err := New(nil).Start(t.Context(), builder.StartContext{Options: opts})
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryConfig))
}

func TestBail(t *testing.T) {
	b := New(nil)
	require.NoError(t, b.Bail(t.Context()))
	require.NoError(t, b.Bail(t.Context()))

	_, err := b.Start(t.Context(), builder.StartContext{Options: managerOptions(t)})
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryCanceled))
}

func TestConfig(t *testing.T) {
	opts := managerOptions(t)
	cfg := New(nil).Config(opts)
	assert.Equal(t, builder.SubsystemManager, cfg.Subsystem)
	assert.Equal(t, "embedded", cfg.Values["assets"])
	assert.Equal(t, "/iframe.html", cfg.Values["preview_url"])
}
