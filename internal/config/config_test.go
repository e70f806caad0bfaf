package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "git.home.luguber.info/inful/storydev/internal/foundation/errors"
)

func writeConfig(t *testing.T, dir, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte(body), 0o600))
}

func TestLoad_AppliesDefaults(t *testing.T) {
	wd := t.TempDir()
	cfgDir := filepath.Join(wd, ".storydev")
	writeConfig(t, cfgDir, `
stories:
  - "../src/**/*.stories.tsx"
  - directory: ../docs
    files: "**/*.mdx"
    title_prefix: Guides
features:
  build_stories_json: true
`)

	opts, err := Load(LoadParams{ConfigDir: ".storydev", WorkingDir: wd})
	require.NoError(t, err)

	assert.Equal(t, cfgDir, opts.ConfigDir)
	assert.Equal(t, wd, opts.WorkingDir)
	assert.Equal(t, DefaultPort, opts.Server.Port)
	assert.Equal(t, 100*time.Millisecond, opts.Index.DebounceWindow)
	assert.Equal(t, DefaultHeadFile, opts.Preview.HeadFile)
	assert.Equal(t, DefaultNATSSubject, opts.Telemetry.NATSSubject)
	assert.Equal(t, LogLevelInfo, opts.Logging.Level)
	require.Len(t, opts.Stories, 2)
	assert.Equal(t, "../src/**/*.stories.tsx", opts.Stories[0].Glob)
	assert.Equal(t, "Guides", opts.Stories[1].TitlePrefix)
	assert.True(t, opts.Features.IndexEnabled())
}

func TestLoad_ExpandsEnvironmentFromDotEnv(t *testing.T) {
	wd := t.TempDir()
	cfgDir := filepath.Join(wd, ".storydev")
	writeConfig(t, cfgDir, `
server:
  port: ${STORYDEV_TEST_PORT}
index:
  debounce_window: 250ms
`)
	require.NoError(t, os.WriteFile(filepath.Join(wd, ".env"), []byte("STORYDEV_TEST_PORT=7007\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("STORYDEV_TEST_PORT") })

	opts, err := Load(LoadParams{ConfigDir: cfgDir, WorkingDir: wd})
	require.NoError(t, err)
	assert.Equal(t, 7007, opts.Server.Port)
	assert.Equal(t, 250*time.Millisecond, opts.Index.DebounceWindow)
}

func TestLoad_MissingFileIsConfigError(t *testing.T) {
	_, err := Load(LoadParams{ConfigDir: t.TempDir()})
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryConfig))
}

func TestLoad_UnknownFieldRejected(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "featurez:\n  story_store_v7: true\n")

	_, err := Load(LoadParams{ConfigDir: dir})
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryConfig))
}

func TestValidate(t *testing.T) {
	base := func() *Options {
		o := &Options{ConfigDir: t.TempDir()}
		ApplyDefaults(o)
		return o
	}

	t.Run("index enabled without stories", func(t *testing.T) {
		o := base()
		o.Features.StoryStoreV7 = true
		err := Validate(o)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no stories specified")
	})

	t.Run("port out of range", func(t *testing.T) {
		o := base()
		o.Server.Port = 70000
		err := Validate(o)
		require.Error(t, err)
		c, ok := ferrors.AsClassified(err)
		require.True(t, ok)
		field, _ := c.Context().GetString("field")
		assert.True(t, strings.HasSuffix(field, "port"), field)
	})

	t.Run("missing static dir", func(t *testing.T) {
		o := base()
		o.StaticDirs = []string{"public:/assets"}
		require.Error(t, Validate(o))

		require.NoError(t, os.Mkdir(filepath.Join(o.ConfigDir, "public"), 0o755))
		require.NoError(t, Validate(o))
	})

	t.Run("skip and url conflict", func(t *testing.T) {
		o := base()
		o.Preview.Skip = true
		o.Preview.URL = "http://localhost:9009/iframe.html"
		require.Error(t, Validate(o))
	})

	t.Run("unknown log level", func(t *testing.T) {
		o := base()
		o.Logging.Level = "chatty"
		err := Validate(o)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "logging.level")

		o.Logging.Level = "WARNING"
		require.NoError(t, Validate(o))
		assert.Equal(t, LogLevelWarn, NormalizeLogLevel(string(o.Logging.Level)))
	})
}

func TestSplitStaticDir(t *testing.T) {
	dir, mount := SplitStaticDir("public")
	assert.Equal(t, "public", dir)
	assert.Equal(t, "/", mount)

	dir, mount = SplitStaticDir("../assets:/static")
	assert.Equal(t, "../assets", dir)
	assert.Equal(t, "/static", mount)

	dir, mount = SplitStaticDir(`C:\assets`)
	assert.Equal(t, `C:\assets`, dir)
	assert.Equal(t, "/", mount)
}

func TestInit_WritesLoadableConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultConfigFile)
	require.NoError(t, Init(path, false))
	require.Error(t, Init(path, false))
	require.NoError(t, Init(path, true))

	opts, err := Load(LoadParams{ConfigDir: dir, WorkingDir: dir})
	require.NoError(t, err)
	assert.Len(t, opts.Stories, 2)
	assert.True(t, opts.Features.StoryStoreV7)
}
