package indexing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"

	"git.home.luguber.info/inful/storydev/internal/channel"
	"git.home.luguber.info/inful/storydev/internal/config"
	ferrors "git.home.luguber.info/inful/storydev/internal/foundation/errors"
	"git.home.luguber.info/inful/storydev/internal/index"
	"git.home.luguber.info/inful/storydev/internal/logfields"
	"git.home.luguber.info/inful/storydev/internal/metrics"
	"git.home.luguber.info/inful/storydev/internal/telemetry"
	"git.home.luguber.info/inful/storydev/internal/watch"
)

// Generator is the contract the coordinator needs from an index generator.
type Generator interface {
	Initialize(ctx context.Context) error
	GetIndex(ctx context.Context) (*index.Snapshot, error)
}

// invalidator is implemented by generators that support incremental updates.
type invalidator interface {
	Invalidate(path string, removed bool) bool
}

type rescanner interface {
	Rescan(ctx context.Context) error
}

// GeneratorFactory builds a generator from normalized options.
type GeneratorFactory func(opts index.GeneratorOptions) (Generator, error)

// DefaultFactory builds an *index.Generator.
func DefaultFactory(opts index.GeneratorOptions) (Generator, error) {
	return index.NewGenerator(opts)
}

// Params configures a Coordinator.
type Params struct {
	Options  *config.Options
	Channel  channel.Publisher
	Reporter telemetry.Reporter
	// DebounceWindow is the quiet period before a regeneration; zero means
	// the default.
	DebounceWindow time.Duration
	// Watch enables filesystem watching and periodic rescans.
	Watch bool

	Factory  GeneratorFactory
	Indexers []index.Indexer
	Clock    clockwork.Clock
	Recorder metrics.Recorder
	Logger   *slog.Logger
}

// Coordinator runs the index pipeline for one dev server run.
type Coordinator struct {
	p         Params
	debouncer *watch.Debouncer

	mu        sync.Mutex
	future    *Future
	gen       Generator
	dirs      []string
	watcher   *watch.Watcher
	scheduler gocron.Scheduler
	regenMu   sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

// New validates params. It does not touch the filesystem.
func New(p Params) (*Coordinator, error) {
	if p.Options == nil {
		return nil, ferrors.ValidationError("index coordinator requires options").Build()
	}
	if p.Reporter == nil {
		p.Reporter = telemetry.Noop{}
	}
	if p.Factory == nil {
		p.Factory = DefaultFactory
	}
	if p.Clock == nil {
		p.Clock = clockwork.NewRealClock()
	}
	if p.Recorder == nil {
		p.Recorder = metrics.NoopRecorder{}
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.DebounceWindow <= 0 {
		p.DebounceWindow = p.Options.Index.DebounceWindow
	}
	c := &Coordinator{p: p}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.debouncer = watch.NewDebouncer(p.DebounceWindow, c.regenerate, watch.WithClock(p.Clock))
	return c, nil
}

// Enabled reports whether the feature flags ask for an index.
func (c *Coordinator) Enabled() bool {
	return c.p.Options.Features.IndexEnabled()
}

// Start kicks off initialization and returns the future at once. An error is
// returned only for construction problems such as a malformed specifier.
// Start may be called once; Close cancels a running initialization.
func (c *Coordinator) Start() (*Future, error) {
	c.mu.Lock()
	if c.future != nil {
		c.mu.Unlock()
		return nil, ferrors.RuntimeError("index coordinator already started").Build()
	}
	f := newFuture()
	c.future = f
	c.mu.Unlock()

	opts := c.p.Options
	rc := telemetry.Context{ConfigDir: opts.ConfigDir}

	if !c.Enabled() {
		c.p.Logger.Debug("Index disabled by feature flags")
		f.resolve(nil, nil)
		c.p.Reporter.Report(telemetry.PhaseStart, nil, rc)
		return f, nil
	}

	specs, err := index.NormalizeSpecifiers(opts.Stories, opts.ConfigDir, opts.WorkingDir)
	if err != nil {
		return nil, err
	}
	gen, err := c.p.Factory(index.GeneratorOptions{
		WorkingDir:      opts.WorkingDir,
		Specifiers:      specs,
		Indexers:        c.p.Indexers,
		Strict:          opts.Features.StoryStoreV7,
		V2Compatibility: opts.Features.V2Compatibility,
		Logger:          c.p.Logger,
	})
	if err != nil {
		return nil, err
	}

	dirs := make([]string, 0, len(specs))
	for _, s := range specs {
		dirs = append(dirs, s.Directory)
	}
	c.mu.Lock()
	c.gen = gen
	c.dirs = dirs
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		began := time.Now()
		if err := gen.Initialize(c.ctx); err != nil {
			// The report goes out before anyone can observe the failure.
			c.p.Reporter.Report(telemetry.PhaseStart, nil, rc)
			f.resolve(nil, err)
			return
		}
		c.p.Logger.Info("Index initialized", slog.Duration("took", time.Since(began)))
		f.resolve(gen, nil)

		// Tracked so Close returns only after the report is handed off.
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			_ = c.reportFirstSnapshot(gen, rc)
		}()

		if c.p.Watch {
			c.startWatching()
		}
	}()
	return f, nil
}

// reportFirstSnapshot reads the first snapshot and reports its size. Callers
// run it off the startup path and drop the error.
func (c *Coordinator) reportFirstSnapshot(gen Generator, rc telemetry.Context) error {
	snap, err := gen.GetIndex(c.ctx)
	if err != nil {
		c.p.Logger.Debug("Skipping start report; index unavailable", logfields.Error(err))
		return err
	}
	c.p.Recorder.SetIndexEntries(snap.Len())
	c.p.Reporter.Report(telemetry.PhaseStart, &telemetry.Payload{EntryCount: snap.Len(), Version: snap.Version}, rc)
	return nil
}

func (c *Coordinator) startWatching() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	w, err := watch.NewWatcher(c.ctx, c.dirs, c.OnChange, c.p.Logger)
	if err != nil {
		c.p.Logger.Warn("Index watching disabled", logfields.Error(err))
	} else {
		c.watcher = w
	}

	if every := c.p.Options.Index.RescanInterval; every > 0 {
		s, err := c.newRescanScheduler(every)
		if err != nil {
			c.p.Logger.Warn("Periodic rescan disabled", logfields.Error(err))
			return
		}
		c.scheduler = s
	}
}

func (c *Coordinator) newRescanScheduler(every time.Duration) (gocron.Scheduler, error) {
	s, err := gocron.NewScheduler(gocron.WithClock(c.p.Clock))
	if err != nil {
		return nil, err
	}
	_, err = s.NewJob(
		gocron.DurationJob(every),
		gocron.NewTask(c.Rescan),
		gocron.WithName("index-rescan"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, err
	}
	s.Start()
	return s, nil
}

// OnChange is the watcher callback: it invalidates the file and schedules a
// regeneration when the generator cares about it.
func (c *Coordinator) OnChange(path string, removed bool) {
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()
	if gen == nil {
		return
	}
	if inv, ok := gen.(invalidator); ok && !inv.Invalidate(path, removed) {
		return
	}
	c.debouncer.Trigger()
}

// Rescan drops every cached file and schedules a regeneration.
func (c *Coordinator) Rescan() {
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()
	if rs, ok := gen.(rescanner); ok {
		if err := rs.Rescan(c.ctx); err != nil {
			c.p.Logger.Warn("Index rescan failed", logfields.Error(err))
			return
		}
	}
	c.debouncer.Trigger()
}

// regenerate is the debounced action.
func (c *Coordinator) regenerate() {
	c.regenMu.Lock()
	defer c.regenMu.Unlock()

	c.mu.Lock()
	gen, closed := c.gen, c.closed
	c.mu.Unlock()
	if gen == nil || closed {
		return
	}

	c.publish(channel.Event{Type: channel.EventStoryIndexInvalidated})
	snap, err := gen.GetIndex(c.ctx)
	if err != nil {
		c.p.Recorder.IncIndexRegeneration(metrics.ResultFailed)
		c.p.Logger.Warn("Index regeneration failed", logfields.Error(err))
		c.publish(channel.Event{Type: channel.EventIndexError, Args: []any{map[string]any{"message": err.Error()}}})
		return
	}
	c.p.Recorder.IncIndexRegeneration(metrics.ResultSuccess)
	c.p.Recorder.SetIndexEntries(snap.Len())
	c.p.Logger.Info("Index regenerated", logfields.EntryCount(snap.Len()), logfields.Generation(snap.Generation))
	c.publish(channel.Event{Type: channel.EventIndexUpdated, Args: []any{map[string]any{
		"entryCount": snap.Len(),
		"generation": snap.Generation,
	}}})
}

func (c *Coordinator) publish(evt channel.Event) {
	if c.p.Channel != nil {
		c.p.Channel.Publish(evt)
	}
}

// Close stops watching, cancels a pending regeneration and waits for the
// initialization and first-report goroutines.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	w, s := c.watcher, c.scheduler
	c.mu.Unlock()

	c.debouncer.Stop()
	c.cancel()

	var firstErr error
	if w != nil {
		if err := w.Close(); err != nil {
			firstErr = err
		}
	}
	if s != nil {
		if err := s.Shutdown(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.wg.Wait()
	return firstErr
}
