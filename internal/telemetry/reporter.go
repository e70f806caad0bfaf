package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/storydev/internal/logfields"
	"git.home.luguber.info/inful/storydev/internal/metrics"
	"git.home.luguber.info/inful/storydev/internal/version"
)

// Reporter accepts startup reports.
type Reporter interface {
	// Report never blocks on delivery and never fails.
	Report(phase string, payload *Payload, rc Context)
	// Flush waits for in-flight reports or until ctx ends.
	Flush(ctx context.Context) error
	Close() error
}

// Noop drops every report. It is used when telemetry is disabled.
type Noop struct{}

func (Noop) Report(string, *Payload, Context) {}
func (Noop) Flush(context.Context) error      { return nil }
func (Noop) Close() error                     { return nil }

// Sink delivers one event somewhere.
type Sink interface {
	Name() string
	Send(ctx context.Context, evt Event) error
	Close() error
}

// Dispatcher fans events out to its sinks.
type Dispatcher struct {
	sinks     []Sink
	sessionID string
	projectID func() string
	timeout   time.Duration
	recorder  metrics.Recorder
	logger    *slog.Logger
	now       func() time.Time

	wg sync.WaitGroup
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithTimeout bounds each delivery.
func WithTimeout(d time.Duration) DispatcherOption {
	return func(r *Dispatcher) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithProjectID sets how the anonymized project id is obtained. It is called
// at most once.
func WithProjectID(fn func() string) DispatcherOption {
	return func(r *Dispatcher) {
		if fn != nil {
			r.projectID = sync.OnceValue(fn)
		}
	}
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(rec metrics.Recorder) DispatcherOption {
	return func(r *Dispatcher) { r.recorder = metrics.OrNoop(rec) }
}

// WithLogger overrides slog.Default.
func WithLogger(l *slog.Logger) DispatcherOption {
	return func(r *Dispatcher) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewDispatcher returns a reporter sending to sinks.
func NewDispatcher(sinks []Sink, opts ...DispatcherOption) *Dispatcher {
	r := &Dispatcher{
		sinks:     sinks,
		sessionID: uuid.NewString(),
		projectID: func() string { return "" },
		timeout:   5 * time.Second,
		recorder:  metrics.NoopRecorder{},
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SessionID identifies this process in every event.
func (r *Dispatcher) SessionID() string { return r.sessionID }

// Report builds the event and delivers it in the background.
func (r *Dispatcher) Report(phase string, payload *Payload, rc Context) {
	evt := Event{
		ID:        uuid.NewString(),
		SessionID: r.sessionID,
		Phase:     phase,
		Payload:   payload,
		Context:   rc,
		Timestamp: r.now().UTC(),
		Version:   version.Version,
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		evt.ProjectID = r.projectID()
		r.deliver(evt)
	}()
}

func (r *Dispatcher) deliver(evt Event) {
	for _, s := range r.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		err := s.Send(ctx, evt)
		cancel()
		r.recorder.IncReport(s.Name(), metrics.ResultFor(err))
		if err != nil {
			r.logger.Debug("Telemetry sink failed", logfields.Sink(s.Name()), logfields.Phase(evt.Phase), logfields.Error(err))
		}
	}
}

// Flush waits until every pending Report has been delivered.
func (r *Dispatcher) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes every sink. Call Flush first to avoid losing reports.
func (r *Dispatcher) Close() error {
	for _, s := range r.sinks {
		if err := s.Close(); err != nil {
			r.logger.Debug("Closing telemetry sink", logfields.Sink(s.Name()), logfields.Error(err))
		}
	}
	return nil
}
