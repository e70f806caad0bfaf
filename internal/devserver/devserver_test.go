package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/storydev/internal/builder"
	"git.home.luguber.info/inful/storydev/internal/channel"
	"git.home.luguber.info/inful/storydev/internal/config"
	ferrors "git.home.luguber.info/inful/storydev/internal/foundation/errors"
	"git.home.luguber.info/inful/storydev/internal/telemetry"
)

const (
	testTimeout = 5 * time.Second
	testTick    = 10 * time.Millisecond
)

type fakeHandle struct {
	name     string
	startErr error
	starts   atomic.Int32
	bails    atomic.Int32
}

func (h *fakeHandle) Start(ctx context.Context, sc builder.StartContext) (builder.Result, error) {
	h.starts.Add(1)
	if h.startErr != nil {
		return builder.Result{}, h.startErr
	}
	return builder.Result{Subsystem: h.name, URL: sc.ServerURL}, nil
}

func (h *fakeHandle) Bail(context.Context) error {
	h.bails.Add(1)
	return nil
}

func (h *fakeHandle) Config(*config.Options) builder.Config {
	return builder.Config{Subsystem: h.name}
}

type recordingReporter struct {
	mu       sync.Mutex
	payloads []*telemetry.Payload
	flushed  atomic.Bool
}

func (r *recordingReporter) Report(_ string, p *telemetry.Payload, _ telemetry.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, p)
}

func (r *recordingReporter) Flush(context.Context) error {
	r.flushed.Store(true)
	return nil
}

func (r *recordingReporter) Close() error { return nil }

func (r *recordingReporter) all() []*telemetry.Payload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*telemetry.Payload(nil), r.payloads...)
}

func devOptions(t *testing.T) *config.Options {
	t.Helper()
	root := t.TempDir()
	opts := &config.Options{ConfigDir: filepath.Join(root, ".storydev"), WorkingDir: root}
	require.NoError(t, os.MkdirAll(opts.ConfigDir, 0o750))
	opts.Server.Host = "127.0.0.1"
	opts.Manager.Title = "Storydev"
	opts.CI = true
	return opts
}

func httpGet(t *testing.T, url string) (int, string) {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestStart_RealSubsystemsAndIndex(t *testing.T) {
	opts := devOptions(t)
	storyFile := filepath.Join(opts.WorkingDir, "src", "Button.stories.tsx")
	require.NoError(t, os.MkdirAll(filepath.Dir(storyFile), 0o750))
	require.NoError(t, os.WriteFile(storyFile, []byte("export default { title: 'Example/Button' };\nexport const Primary = {};\nexport const Secondary = {};\n"), 0o600))
	opts.Stories = []config.StoriesEntry{{Glob: "../src/**/*.stories.tsx"}}
	opts.Features.BuildStoriesJSON = true
	reporter := &recordingReporter{}

	s, err := Start(t.Context(), opts, Deps{Reporter: reporter})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	assert.Equal(t, builder.SubsystemPreview, s.PreviewResult.Subsystem)
	assert.Equal(t, builder.SubsystemManager, s.ManagerResult.Subsystem)

	code, body := httpGet(t, s.Address)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "<title>Storydev</title>")

	code, _ = httpGet(t, s.Address+"iframe.html")
	assert.Equal(t, http.StatusOK, code)

	code, body = httpGet(t, s.Address+"index.json")
	require.Equal(t, http.StatusOK, code)
	var idx struct {
		V       int                        `json:"v"`
		Entries map[string]json.RawMessage `json:"entries"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &idx))
	assert.Equal(t, 4, idx.V)
	assert.Len(t, idx.Entries, 2)

	require.Eventually(t, func() bool {
		for _, p := range reporter.all() {
			if p != nil && p.EntryCount == 2 {
				return true
			}
		}
		return false
	}, testTimeout, testTick)

	require.NoError(t, s.Stop(t.Context()))
	require.NoError(t, s.Stop(t.Context()))
	assert.True(t, reporter.flushed.Load())
}

func TestStart_IndexInitFailureReportsFirst(t *testing.T) {
	opts := devOptions(t)
	opts.Stories = []config.StoriesEntry{{Glob: "../missing/**/*.stories.tsx"}}
	opts.Features.StoryStoreV7 = true
	reporter := &recordingReporter{}
	prev, mgr := &fakeHandle{name: "preview"}, &fakeHandle{name: "manager"}

	_, err := Start(t.Context(), opts, Deps{Preview: prev, Manager: mgr, Reporter: reporter})
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryIndex))

	payloads := reporter.all()
	require.Len(t, payloads, 1)
	assert.Nil(t, payloads[0])
	assert.True(t, reporter.flushed.Load())
}

func TestStart_AddressInUseNeverStartsSubsystems(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = busy.Close() }()

	opts := devOptions(t)
	opts.Server.Port = busy.Addr().(*net.TCPAddr).Port
	prev, mgr := &fakeHandle{name: "preview"}, &fakeHandle{name: "manager"}

	_, err = Start(t.Context(), opts, Deps{Preview: prev, Manager: mgr, Reporter: telemetry.Noop{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EADDRINUSE")
	assert.Zero(t, prev.starts.Load())
	assert.Zero(t, mgr.starts.Load())
}

func TestStart_SubsystemFailureStopsListener(t *testing.T) {
	reserved, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := reserved.Addr().(*net.TCPAddr).Port
	require.NoError(t, reserved.Close())

	opts := devOptions(t)
	opts.Server.Port = port
	boom := ferrors.BuildError("bundle failed").Build()
	prev, mgr := &fakeHandle{name: "preview"}, &fakeHandle{name: "manager", startErr: boom}

	_, err = Start(t.Context(), opts, Deps{Preview: prev, Manager: mgr, Reporter: telemetry.Noop{}})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, int32(1), prev.bails.Load())
	assert.Zero(t, mgr.bails.Load())

	// The port is free again once Start has returned.
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	_ = ln.Close()
}

func TestStart_SkippedPreviewIsNeverTouched(t *testing.T) {
	opts := devOptions(t)
	opts.Preview.Skip = true
	prev, mgr := &fakeHandle{name: "preview"}, &fakeHandle{name: "manager"}

	s, err := Start(t.Context(), opts, Deps{Preview: prev, Manager: mgr, Reporter: telemetry.Noop{}})
	require.NoError(t, err)
	assert.True(t, s.PreviewResult.IsZero())
	require.NoError(t, s.Stop(t.Context()))

	assert.Zero(t, prev.starts.Load())
	assert.Zero(t, prev.bails.Load())
	assert.Equal(t, int32(1), mgr.bails.Load())
}

func TestStart_BrowserOpening(t *testing.T) {
	opened := make(chan string, 1)
	open := func(url string) error {
		opened <- url
		return errors.New("no display")
	}

	opts := devOptions(t)
	opts.CI = false
	s, err := Start(t.Context(), opts, Deps{Preview: &fakeHandle{name: "preview"}, Manager: &fakeHandle{name: "manager"}, Reporter: telemetry.Noop{}, OpenBrowser: open})
	require.NoError(t, err, "a browser failure is not fatal")
	assert.Equal(t, s.Address, <-opened)
	require.NoError(t, s.Stop(t.Context()))

	for _, mutate := range []func(*config.Options){
		func(o *config.Options) { o.CI = true },
		func(o *config.Options) { o.NoOpen = true },
		func(o *config.Options) { o.SmokeTest = true },
	} {
		opts := devOptions(t)
		opts.CI = false
		mutate(opts)
		s, err := Start(t.Context(), opts, Deps{Preview: &fakeHandle{name: "preview"}, Manager: &fakeHandle{name: "manager"}, Reporter: telemetry.Noop{}, OpenBrowser: open})
		require.NoError(t, err)
		require.NoError(t, s.Stop(t.Context()))
		assert.Empty(t, opened)
	}
}

func TestRun_SmokeTest(t *testing.T) {
	opts := devOptions(t)
	opts.SmokeTest = true
	mgr := &fakeHandle{name: "manager"}

	require.NoError(t, Run(t.Context(), opts, Deps{Preview: &fakeHandle{name: "preview"}, Manager: mgr, Reporter: telemetry.Noop{}}))
	assert.Equal(t, int32(1), mgr.starts.Load())
	assert.Equal(t, int32(1), mgr.bails.Load())
}

func TestRun_StopsOnCancel(t *testing.T) {
	opts := devOptions(t)
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	mgr := &fakeHandle{name: "manager"}
	go func() {
		done <- Run(ctx, opts, Deps{Preview: &fakeHandle{name: "preview"}, Manager: mgr, Reporter: telemetry.Noop{}})
	}()

	require.Eventually(t, func() bool { return mgr.starts.Load() == 1 }, testTimeout, testTick)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(testTimeout):
		t.Fatal("Run did not return after cancel")
	}
}

func TestStart_ClientRescanRegeneratesIndex(t *testing.T) {
	opts := devOptions(t)
	storyFile := filepath.Join(opts.WorkingDir, "src", "Card.stories.tsx")
	require.NoError(t, os.MkdirAll(filepath.Dir(storyFile), 0o750))
	require.NoError(t, os.WriteFile(storyFile, []byte("export default { title: 'Example/Card' };\nexport const Basic = {};\n"), 0o600))
	opts.Stories = []config.StoriesEntry{{Glob: "../src/**/*.stories.tsx"}}
	opts.Features.BuildStoriesJSON = true

	s, err := Start(t.Context(), opts, Deps{Reporter: telemetry.Noop{}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	wsURL := "ws://" + strings.TrimSuffix(strings.TrimPrefix(s.Address, "http://"), "/") + channel.Path
	conn, resp, err := websocket.DefaultDialer.DialContext(t.Context(), wsURL, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	defer func() { _ = conn.Close() }()

	require.NoError(t, conn.WriteJSON(channel.Event{Type: channel.EventIndexRescan}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(testTimeout)))
	for {
		var evt channel.Event
		require.NoError(t, conn.ReadJSON(&evt))
		if evt.Type == channel.EventIndexUpdated {
			break
		}
	}
}
