package telemetry

import (
	"context"
	"log/slog"

	"git.home.luguber.info/inful/storydev/internal/logfields"
)

// LogSink writes events to a logger at debug level.
type LogSink struct {
	Logger *slog.Logger
}

func (LogSink) Name() string { return "log" }

func (s LogSink) Send(ctx context.Context, evt Event) error {
	l := s.Logger
	if l == nil {
		l = slog.Default()
	}
	attrs := []any{
		logfields.Phase(evt.Phase),
		logfields.ConfigDir(evt.Context.ConfigDir),
		slog.String("event_id", evt.ID),
		slog.String("session_id", evt.SessionID),
	}
	if evt.Payload != nil {
		attrs = append(attrs, logfields.EntryCount(evt.Payload.EntryCount), logfields.IndexVersion(evt.Payload.Version))
	}
	l.DebugContext(ctx, "Telemetry event", attrs...)
	return nil
}

func (LogSink) Close() error { return nil }
