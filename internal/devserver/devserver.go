package devserver

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/storydev/internal/builder"
	"git.home.luguber.info/inful/storydev/internal/builder/manager"
	"git.home.luguber.info/inful/storydev/internal/builder/preview"
	"git.home.luguber.info/inful/storydev/internal/channel"
	"git.home.luguber.info/inful/storydev/internal/config"
	ferrors "git.home.luguber.info/inful/storydev/internal/foundation/errors"
	"git.home.luguber.info/inful/storydev/internal/index"
	"git.home.luguber.info/inful/storydev/internal/indexing"
	"git.home.luguber.info/inful/storydev/internal/logfields"
	"git.home.luguber.info/inful/storydev/internal/metrics"
	"git.home.luguber.info/inful/storydev/internal/server"
	"git.home.luguber.info/inful/storydev/internal/telemetry"
)

// cleanupTimeout bounds teardown after a failed start.
const cleanupTimeout = 5 * time.Second

// Deps overrides collaborators. Zero values select the real ones.
type Deps struct {
	Preview  builder.Handle
	Manager  builder.Handle
	Reporter telemetry.Reporter
	Factory  indexing.GeneratorFactory
	Indexers []index.Indexer
	// OpenBrowser defaults to OpenBrowser.
	OpenBrowser func(url string) error
	// BailTimeout bounds the wait for a sibling's Bail.
	BailTimeout time.Duration
	Logger      *slog.Logger
}

// Server is a running dev server.
type Server struct {
	Address        string
	NetworkAddress string
	PreviewResult  builder.Result
	ManagerResult  builder.Result

	http     *server.Server
	coord    *indexing.Coordinator
	reporter telemetry.Reporter
	handles  []builder.Handle
	logger   *slog.Logger

	stopOnce sync.Once
	stopErr  error
}

// Start brings a run up. It returns once the listener is serving, both
// subsystems have started and the index (when enabled) has initialized.
func Start(ctx context.Context, opts *config.Options, deps Deps) (*Server, error) {
	startTime := time.Now()
	if opts == nil {
		return nil, ferrors.ValidationError("devserver requires options").Build()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var (
		registry *prom.Registry
		recorder metrics.Recorder = metrics.NoopRecorder{}
	)
	if opts.Monitoring.Metrics.Enabled {
		registry = prom.NewRegistry()
		recorder = metrics.NewPrometheusRecorder(registry)
	}

	reporter := deps.Reporter
	if reporter == nil {
		reporter = telemetry.New(opts, recorder, logger)
	}
	ch := channel.New(channel.WithRecorder(recorder), channel.WithLogger(logger))

	previewHandle := deps.Preview
	if previewHandle == nil {
		previewHandle = preview.New(preview.WithLogger(logger))
	}
	managerHandle := deps.Manager
	if managerHandle == nil {
		managerHandle = manager.New(logger)
	}

	s := &Server{
		reporter: reporter,
		logger:   logger,
	}

	coord, err := indexing.New(indexing.Params{
		Options:  opts,
		Channel:  ch,
		Reporter: reporter,
		Watch:    true,
		Factory:  deps.Factory,
		Indexers: deps.Indexers,
		Recorder: recorder,
		Logger:   logger,
	})
	if err != nil {
		ch.Close()
		return nil, s.abort(err)
	}
	s.coord = coord
	ch.On(channel.EventIndexRescan, func(channel.Event) { coord.Rescan() })
	future, err := coord.Start()
	if err != nil {
		ch.Close()
		return nil, s.abort(err)
	}

	httpSrv, err := server.New(server.Params{
		Options:   opts,
		Channel:   ch,
		Index:     future,
		Registry:  registry,
		ProjectID: func() string { return telemetry.ProjectID(opts.WorkingDir) },
		Logger:    logger,
	})
	if err != nil {
		ch.Close()
		return nil, s.abort(err)
	}
	s.http = httpSrv
	if err := httpSrv.Listen(); err != nil {
		return nil, s.abort(err)
	}
	if err := httpSrv.Serve(); err != nil {
		return nil, s.abort(err)
	}
	s.Address = httpSrv.Address()
	s.NetworkAddress = httpSrv.NetworkAddress()

	orchOpts := []builder.OrchestratorOption{builder.WithRecorder(recorder), builder.WithLogger(logger)}
	if deps.BailTimeout > 0 {
		orchOpts = append(orchOpts, builder.WithBailTimeout(deps.BailTimeout))
	}
	orch := builder.NewOrchestrator(previewHandle, managerHandle, orchOpts...)
	outcome, err := orch.Run(ctx, builder.StartContext{
		StartTime: startTime,
		Options:   opts,
		Router:    httpSrv.Routes(),
		Channel:   ch,
		ServerURL: s.Address,
	})
	if err != nil {
		// The orchestrator has already bailed whatever it started.
		return nil, s.abort(err)
	}
	s.PreviewResult, s.ManagerResult = outcome.Preview, outcome.Manager
	// Stop bails only handles that are up. A skipped preview was never started.
	s.handles = []builder.Handle{managerHandle}
	if !opts.Preview.Skip {
		s.handles = append(s.handles, previewHandle)
	}

	if _, err := future.Wait(ctx); err != nil {
		return nil, s.abort(err)
	}

	logger.Info("Storydev started",
		logfields.Address(s.Address),
		slog.String("network_address", s.NetworkAddress),
		logfields.DurationMS(float64(time.Since(startTime).Milliseconds())))

	if !opts.CI && !opts.NoOpen && !opts.SmokeTest {
		open := deps.OpenBrowser
		if open == nil {
			open = OpenBrowser
		}
		if err := open(s.Address); err != nil {
			logger.Warn("Could not open browser", logfields.Error(err))
		}
	}
	return s, nil
}

// abort tears down whatever Start got to and returns err.
func (s *Server) abort(err error) error {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if stopErr := s.Stop(ctx); stopErr != nil {
		s.logger.Debug("Cleanup after failed start", logfields.Error(stopErr))
	}
	return err
}

// Wait blocks until the listener stops or ctx ends.
func (s *Server) Wait(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Wait(ctx)
}

// Stop bails both subsystems, stops indexing, shuts the listener down and
// flushes telemetry. It is safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		var errs []error
		for _, h := range s.handles {
			if err := h.Bail(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if s.coord != nil {
			if err := s.coord.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if s.http != nil {
			if err := s.http.Stop(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if s.reporter != nil {
			if err := s.reporter.Flush(ctx); err != nil {
				s.logger.Debug("Telemetry flush incomplete", logfields.Error(err))
			}
			if err := s.reporter.Close(); err != nil {
				s.logger.Debug("Telemetry close failed", logfields.Error(err))
			}
		}
		s.stopErr = errors.Join(errs...)
	})
	return s.stopErr
}

// Run starts the server and keeps it up until ctx ends. With smoke_test set
// it stops right after a successful start.
func Run(ctx context.Context, opts *config.Options, deps Deps) error {
	s, err := Start(ctx, opts, deps)
	if err != nil {
		return err
	}
	logger := s.logger
	if opts.SmokeTest {
		logger.Info("Smoke test passed, shutting down")
	} else {
		logger.Info("Serving", logfields.Address(s.Address))
		waitErr := s.Wait(ctx)
		if waitErr != nil && !errors.Is(waitErr, context.Canceled) {
			logger.Warn("Listener stopped", logfields.Error(waitErr))
		}
	}

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	return s.Stop(stopCtx)
}
