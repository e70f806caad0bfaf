package telemetry

import (
	"log/slog"
	"path/filepath"

	"git.home.luguber.info/inful/storydev/internal/config"
	"git.home.luguber.info/inful/storydev/internal/logfields"
	"git.home.luguber.info/inful/storydev/internal/metrics"
	"git.home.luguber.info/inful/storydev/internal/retry"
)

// New builds the reporter described by opts. A sink that cannot be set up is
// left out with a warning; telemetry never blocks startup.
func New(opts *config.Options, rec metrics.Recorder, logger *slog.Logger) Reporter {
	if opts == nil || opts.Core.DisableTelemetry {
		return Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	sinks := []Sink{LogSink{Logger: logger}}
	d := NewDispatcher(nil,
		WithTimeout(opts.Telemetry.Timeout),
		WithRecorder(rec),
		WithLogger(logger),
		WithProjectID(func() string { return ProjectID(opts.WorkingDir) }),
	)

	if p := opts.Telemetry.SQLitePath; p != "" {
		if p != ":memory:" && !filepath.IsAbs(p) {
			p = filepath.Join(opts.ConfigDir, p)
		}
		s, err := NewSQLiteSink(p)
		if err != nil {
			logger.Warn("Telemetry store unavailable", logfields.Sink("sqlite"), logfields.Error(err))
		} else {
			sinks = append(sinks, s)
		}
	}
	if url := opts.Telemetry.NATSURL; url != "" {
		s, err := NewNATSSink(url, opts.Telemetry.NATSSubject, d.SessionID(), retry.DefaultPolicy())
		if err != nil {
			logger.Warn("Telemetry transport unavailable", logfields.Sink("nats"), logfields.Error(err))
		} else {
			sinks = append(sinks, s)
		}
	}
	d.sinks = sinks
	return d
}
