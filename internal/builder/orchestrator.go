package builder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	ferrors "git.home.luguber.info/inful/storydev/internal/foundation/errors"
	"git.home.luguber.info/inful/storydev/internal/logfields"
	"git.home.luguber.info/inful/storydev/internal/metrics"
)

// DefaultBailTimeout bounds how long a failure path waits for the sibling's Bail.
const DefaultBailTimeout = 5 * time.Second

// State is the lifecycle of one orchestrator run.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateBothSucceeded
	StateOneFailedOtherBailed
	StateCanceled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateBothSucceeded:
		return "both_succeeded"
	case StateOneFailedOtherBailed:
		return "one_failed_other_bailed"
	case StateCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Outcome carries both results after a successful run.
type Outcome struct {
	Preview Result
	Manager Result
}

// Orchestrator starts the preview and manager handles concurrently. It is
// single use: construct a new one per run.
type Orchestrator struct {
	preview Handle
	manager Handle

	bailTimeout time.Duration
	recorder    metrics.Recorder
	logger      *slog.Logger

	mu    sync.Mutex
	state State
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithBailTimeout overrides DefaultBailTimeout.
func WithBailTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if d > 0 {
			o.bailTimeout = d
		}
	}
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r metrics.Recorder) OrchestratorOption {
	return func(o *Orchestrator) { o.recorder = metrics.OrNoop(r) }
}

// WithLogger overrides slog.Default.
func WithLogger(l *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewOrchestrator returns an idle orchestrator for the two handles.
func NewOrchestrator(preview, manager Handle, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		preview:     preview,
		manager:     manager,
		bailTimeout: DefaultBailTimeout,
		recorder:    metrics.NoopRecorder{},
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) transition(to State) {
	o.mu.Lock()
	o.state = to
	o.mu.Unlock()
}

type startOutcome struct {
	subsystem string
	result    Result
	err       error
}

// Run starts both handles and waits for both to succeed, or for the first
// failure. The first failure is recorded before the sibling is bailed, so an
// error the sibling returns because of that bail never surfaces. On failure
// the sibling has been bailed (or the bail timed out) before Run returns; its
// Start is not awaited.
func (o *Orchestrator) Run(ctx context.Context, sc StartContext) (Outcome, error) {
	o.mu.Lock()
	if o.state != StateIdle {
		state := o.state
		o.mu.Unlock()
		return Outcome{}, ferrors.RuntimeError("orchestrator already ran").
			WithContext("state", state.String()).
			Build()
	}
	o.state = StateRunning
	o.mu.Unlock()

	skipPreview := sc.Options != nil && sc.Options.Preview.Skip

	if opts := sc.Options; opts != nil {
		if !skipPreview {
			o.logger.Debug("Starting subsystem", o.preview.Config(opts).LogValues()...)
		}
		o.logger.Debug("Starting subsystem", o.manager.Config(opts).LogValues()...)
	}

	outcomes := make(chan startOutcome, 2)

	if skipPreview {
		outcomes <- startOutcome{subsystem: SubsystemPreview}
	} else {
		go o.startOne(ctx, sc, SubsystemPreview, o.preview, outcomes)
	}
	go o.startOne(ctx, sc, SubsystemManager, o.manager, outcomes)

	var out Outcome
	for range 2 {
		select {
		case oc := <-outcomes:
			if oc.err != nil {
				o.transition(StateOneFailedOtherBailed)
				// A skipped preview has nothing to bail.
				switch {
				case oc.subsystem == SubsystemManager && !skipPreview:
					o.bail(ctx, SubsystemPreview, o.preview)
				case oc.subsystem == SubsystemPreview:
					o.bail(ctx, SubsystemManager, o.manager)
				}
				return Outcome{}, oc.err
			}
			switch oc.subsystem {
			case SubsystemPreview:
				out.Preview = oc.result
			case SubsystemManager:
				out.Manager = oc.result
			}
		case <-ctx.Done():
			o.transition(StateCanceled)
			if !skipPreview {
				o.bail(ctx, SubsystemPreview, o.preview)
			}
			o.bail(ctx, SubsystemManager, o.manager)
			return Outcome{}, ferrors.CanceledError("startup canceled").WithCause(ctx.Err()).Build()
		}
	}

	o.transition(StateBothSucceeded)
	return out, nil
}

// startOne runs h.Start and reports the outcome as soon as it returns.
func (o *Orchestrator) startOne(ctx context.Context, sc StartContext, name string, h Handle, out chan<- startOutcome) {
	began := time.Now()
	res, err := safeStart(ctx, h, sc)
	o.recorder.ObserveBuilderStart(name, time.Since(began), metrics.ResultFor(err))

	if err != nil {
		o.logger.Error("Subsystem failed to start", logfields.Subsystem(name), logfields.Error(err))
		out <- startOutcome{subsystem: name, err: err}
		return
	}
	o.logger.Info("Subsystem started",
		logfields.Subsystem(name),
		logfields.DurationMS(float64(time.Since(began).Milliseconds())))
	out <- startOutcome{subsystem: name, result: res}
}

func safeStart(ctx context.Context, h Handle, sc StartContext) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ferrors.BuildError("subsystem start panicked").
				WithContext("panic", fmt.Sprint(r)).
				Build()
		}
	}()
	return h.Start(ctx, sc)
}

// bail calls h.Bail with a bounded context and swallows whatever it returns.
func (o *Orchestrator) bail(ctx context.Context, name string, h Handle) {
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.bailTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("bail panicked: %v", r)
			}
		}()
		done <- h.Bail(bctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			o.recorder.IncBuilderBail(name, metrics.ResultFailed)
			o.logger.Warn("Bail failed; ignoring", logfields.Subsystem(name), logfields.Error(err))
			return
		}
		o.recorder.IncBuilderBail(name, metrics.ResultSuccess)
		o.logger.Info("Subsystem bailed", logfields.Subsystem(name))
	case <-bctx.Done():
		o.recorder.IncBuilderBail(name, metrics.ResultCanceled)
		o.logger.Warn("Bail did not return in time; continuing", logfields.Subsystem(name), slog.Duration("timeout", o.bailTimeout))
	}
}
