package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	ferrors "git.home.luguber.info/inful/storydev/internal/foundation/errors"
	"git.home.luguber.info/inful/storydev/internal/retry"
)

// NATSSink publishes events as JSON on a subject.
type NATSSink struct {
	conn    *nats.Conn
	subject string
	policy  retry.Policy
}

// NewNATSSink connects to url. The connection is named after the session so
// operators can tell dev servers apart.
func NewNATSSink(url, subject, sessionID string, policy retry.Policy) (*NATSSink, error) {
	conn, err := nats.Connect(url,
		nats.Name("storydev "+sessionID),
		nats.Timeout(2*time.Second),
		nats.MaxReconnects(3),
	)
	if err != nil {
		return nil, ferrors.ReportingError("failed to connect to NATS").
			WithContext("url", url).
			WithCause(err).
			Build()
	}
	slog.Debug("NATS telemetry sink connected", "url", url, "subject", subject)
	return &NATSSink{conn: conn, subject: subject, policy: policy}, nil
}

func (s *NATSSink) Name() string { return "nats" }

// Send publishes evt and waits for the server to acknowledge the flush.
func (s *NATSSink) Send(ctx context.Context, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return retry.Permanent(fmt.Errorf("marshal event: %w", err))
	}
	return s.policy.Do(ctx, func(ctx context.Context) error {
		if err := s.conn.Publish(s.subject, data); err != nil {
			return fmt.Errorf("publish: %w", err)
		}
		return s.conn.FlushWithContext(ctx)
	})
}

// Close drains pending messages and closes the connection.
func (s *NATSSink) Close() error {
	if err := s.conn.Drain(); err != nil {
		s.conn.Close()
		return err
	}
	return nil
}
