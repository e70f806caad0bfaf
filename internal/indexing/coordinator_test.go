package indexing

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/storydev/internal/channel"
	"git.home.luguber.info/inful/storydev/internal/config"
	"git.home.luguber.info/inful/storydev/internal/index"
	"git.home.luguber.info/inful/storydev/internal/telemetry"
)

type report struct {
	phase   string
	payload *telemetry.Payload
	rc      telemetry.Context
}

type fakeReporter struct {
	mu      sync.Mutex
	reports []report
}

func (r *fakeReporter) Report(phase string, payload *telemetry.Payload, rc telemetry.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report{phase, payload, rc})
}
func (r *fakeReporter) Flush(context.Context) error { return nil }
func (r *fakeReporter) Close() error                { return nil }

func (r *fakeReporter) all() []report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]report(nil), r.reports...)
}

type fakeGenerator struct {
	initErr  error
	indexErr atomic.Pointer[error]
	entries  int
	gets     atomic.Int32
}

func (g *fakeGenerator) Initialize(context.Context) error { return g.initErr }

func (g *fakeGenerator) GetIndex(context.Context) (*index.Snapshot, error) {
	n := g.gets.Add(1)
	if p := g.indexErr.Load(); p != nil {
		return nil, *p
	}
	snap := &index.Snapshot{Entries: map[string]index.Entry{}, Version: index.FormatVersion, Generation: uint64(n)}
	for i := range g.entries {
		id := string(rune('a'+i)) + "--story"
		snap.Entries[id] = index.Entry{ID: id}
	}
	return snap, nil
}

type recordingChannel struct {
	mu     sync.Mutex
	events []channel.Event
}

func (c *recordingChannel) Publish(evt channel.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

func (c *recordingChannel) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.Type)
	}
	return out
}

func enabledOptions(t *testing.T) *config.Options {
	t.Helper()
	root := t.TempDir()
	opts := &config.Options{ConfigDir: filepath.Join(root, ".storydev"), WorkingDir: root}
	opts.Stories = []config.StoriesEntry{{Glob: "../src/**/*.stories.tsx"}}
	opts.Features.BuildStoriesJSON = true
	return opts
}

func TestStart_DisabledResolvesAbsent(t *testing.T) {
	opts := &config.Options{ConfigDir: "/proj/.storydev", WorkingDir: "/proj"}
	rep := &fakeReporter{}
	factoryCalls := 0

	c, err := New(Params{
		Options:  opts,
		Reporter: rep,
		Factory: func(index.GeneratorOptions) (Generator, error) {
			factoryCalls++
			return &fakeGenerator{}, nil
		},
	})
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	f, err := c.Start()
	require.NoError(t, err)

	gen, err := f.Wait(t.Context())
	require.NoError(t, err)
	assert.Nil(t, gen)
	assert.Zero(t, factoryCalls, "no generator is built")

	reports := rep.all()
	require.Len(t, reports, 1)
	assert.Equal(t, telemetry.PhaseStart, reports[0].phase)
	assert.Nil(t, reports[0].payload)
	assert.Equal(t, "/proj/.storydev", reports[0].rc.ConfigDir)
}

func TestStart_InitFailureReportsBeforePropagating(t *testing.T) {
	rep := &fakeReporter{}
	initErr := errors.New("stories dir vanished")
	gen := &fakeGenerator{initErr: initErr}

	c, err := New(Params{
		Options:  enabledOptions(t),
		Reporter: rep,
		Factory:  func(index.GeneratorOptions) (Generator, error) { return gen, nil },
	})
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	f, err := c.Start()
	require.NoError(t, err)

	_, err = f.Wait(t.Context())
	require.ErrorIs(t, err, initErr)

	// The report was recorded before the future resolved.
	reports := rep.all()
	require.Len(t, reports, 1)
	assert.Nil(t, reports[0].payload)
	assert.Zero(t, gen.gets.Load())
}

func TestStart_SuccessReportsCounts(t *testing.T) {
	rep := &fakeReporter{}
	gen := &fakeGenerator{entries: 3}

	c, err := New(Params{
		Options:  enabledOptions(t),
		Reporter: rep,
		Factory:  func(index.GeneratorOptions) (Generator, error) { return gen, nil },
	})
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	f, err := c.Start()
	require.NoError(t, err)
	got, err := f.Wait(t.Context())
	require.NoError(t, err)
	assert.Same(t, gen, got)

	require.Eventually(t, func() bool { return len(rep.all()) == 1 }, time.Second, 5*time.Millisecond)
	payload := rep.all()[0].payload
	require.NotNil(t, payload)
	assert.Equal(t, 3, payload.EntryCount)
	assert.Equal(t, index.FormatVersion, payload.Version)
}

func TestClose_WaitsForFirstReport(t *testing.T) {
	for range 20 {
		rep := &fakeReporter{}
		gen := &fakeGenerator{entries: 1}

		c, err := New(Params{
			Options:  enabledOptions(t),
			Reporter: rep,
			Factory:  func(index.GeneratorOptions) (Generator, error) { return gen, nil },
		})
		require.NoError(t, err)

		f, err := c.Start()
		require.NoError(t, err)
		_, err = f.Wait(t.Context())
		require.NoError(t, err)

		require.NoError(t, c.Close())
		// No Eventually: the report is in before Close returns.
		require.Len(t, rep.all(), 1)
	}
}

func TestStart_SnapshotFailureIsDropped(t *testing.T) {
	rep := &fakeReporter{}
	gen := &fakeGenerator{}
	boom := errors.New("duplicate id")
	gen.indexErr.Store(&boom)

	c, err := New(Params{
		Options:  enabledOptions(t),
		Reporter: rep,
		Factory:  func(index.GeneratorOptions) (Generator, error) { return gen, nil },
	})
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	f, err := c.Start()
	require.NoError(t, err)
	_, err = f.Wait(t.Context())
	require.NoError(t, err, "the future only tracks initialization")

	require.Eventually(t, func() bool { return gen.gets.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, rep.all())
}

func TestStart_ConstructionErrors(t *testing.T) {
	opts := enabledOptions(t)
	opts.Stories = []config.StoriesEntry{{Directory: "../src", Files: "*.@(tsx"}}
	c, err := New(Params{Options: opts})
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	_, err = c.Start()
	require.Error(t, err)

	factoryErr := errors.New("factory")
	c2, err := New(Params{
		Options: enabledOptions(t),
		Factory: func(index.GeneratorOptions) (Generator, error) { return nil, factoryErr },
	})
	require.NoError(t, err)
	defer func() { _ = c2.Close() }()
	_, err = c2.Start()
	require.ErrorIs(t, err, factoryErr)
}

func TestStart_Twice(t *testing.T) {
	c, err := New(Params{Options: &config.Options{}})
	require.NoError(t, err)
	_, err = c.Start()
	require.NoError(t, err)
	_, err = c.Start()
	require.Error(t, err)
}

func TestOnChange_DebouncedRegeneration(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ch := &recordingChannel{}
	gen := &fakeGenerator{entries: 2}

	c, err := New(Params{
		Options:        enabledOptions(t),
		Channel:        ch,
		DebounceWindow: 100 * time.Millisecond,
		Clock:          clock,
		Factory:        func(index.GeneratorOptions) (Generator, error) { return gen, nil },
	})
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	f, err := c.Start()
	require.NoError(t, err)
	_, err = f.Wait(t.Context())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return gen.gets.Load() == 1 }, time.Second, 5*time.Millisecond)

	c.OnChange("/src/A.stories.tsx", false) // t
	clock.Advance(20 * time.Millisecond)
	c.OnChange("/src/A.stories.tsx", false) // t+20
	clock.Advance(30 * time.Millisecond)
	c.OnChange("/src/B.stories.tsx", false) // t+50
	clock.Advance(99 * time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, ch.types())

	clock.Advance(time.Millisecond) // t+150
	require.Eventually(t, func() bool { return len(ch.types()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{channel.EventStoryIndexInvalidated, channel.EventIndexUpdated}, ch.types())
	assert.Equal(t, int32(2), gen.gets.Load())

	// A change after the regeneration fired schedules another one.
	c.OnChange("/src/A.stories.tsx", false)
	clock.Advance(100 * time.Millisecond)
	require.Eventually(t, func() bool { return len(ch.types()) == 4 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), gen.gets.Load())
}

func TestOnChange_RegenerationErrorPublished(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ch := &recordingChannel{}
	gen := &fakeGenerator{}

	c, err := New(Params{
		Options: enabledOptions(t),
		Channel: ch,
		Clock:   clock,
		Factory: func(index.GeneratorOptions) (Generator, error) { return gen, nil },
	})
	require.NoError(t, err)
	defer func() { _ = c.Close() }()
	f, err := c.Start()
	require.NoError(t, err)
	_, err = f.Wait(t.Context())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return gen.gets.Load() == 1 }, time.Second, 5*time.Millisecond)

	boom := errors.New("broken story")
	gen.indexErr.Store(&boom)
	c.OnChange("/src/A.stories.tsx", false)
	clock.Advance(time.Second)

	require.Eventually(t, func() bool { return len(ch.types()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, channel.EventIndexError, ch.types()[1])
}

func TestClose_CancelsPendingRegeneration(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ch := &recordingChannel{}
	gen := &fakeGenerator{}

	c, err := New(Params{
		Options: enabledOptions(t),
		Channel: ch,
		Clock:   clock,
		Factory: func(index.GeneratorOptions) (Generator, error) { return gen, nil },
	})
	require.NoError(t, err)
	f, err := c.Start()
	require.NoError(t, err)
	_, err = f.Wait(t.Context())
	require.NoError(t, err)

	c.OnChange("/src/A.stories.tsx", false)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	clock.Advance(time.Second)

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, ch.types())
}

func TestCoordinator_WatchesRealFiles(t *testing.T) {
	opts := enabledOptions(t)
	src := filepath.Join(opts.WorkingDir, "src")
	require.NoError(t, os.MkdirAll(src, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(src, "A.stories.tsx"), []byte("export default { title: 'A' };\nexport const One = {};\n"), 0o600))

	ch := channel.New()
	defer ch.Close()
	sub := ch.Subscribe("test")

	c, err := New(Params{Options: opts, Channel: ch, Watch: true, DebounceWindow: 20 * time.Millisecond})
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	f, err := c.Start()
	require.NoError(t, err)
	gen, err := f.Wait(t.Context())
	require.NoError(t, err)
	snap, err := gen.GetIndex(t.Context())
	require.NoError(t, err)
	require.Equal(t, 1, snap.Len())

	// Let the watcher attach before writing.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(src, "B.stories.tsx"), []byte("export default { title: 'B' };\nexport const Two = {};\n"), 0o600))

	deadline := time.After(3 * time.Second)
	for {
		select {
		case frame := <-sub.Frames():
			var evt struct {
				Type string           `json:"type"`
				Args []map[string]any `json:"args"`
			}
			require.NoError(t, json.Unmarshal(frame, &evt))
			if evt.Type == channel.EventIndexUpdated && evt.Args[0]["entryCount"] == float64(2) {
				return
			}
		case <-deadline:
			t.Fatal("no INDEX_UPDATED for the new file")
		}
	}
}
