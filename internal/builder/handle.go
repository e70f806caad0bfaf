package builder

import (
	"context"
	"net/http"
	"time"

	"git.home.luguber.info/inful/storydev/internal/channel"
	"git.home.luguber.info/inful/storydev/internal/config"
)

// Subsystem names.
const (
	SubsystemPreview = "preview"
	SubsystemManager = "manager"
)

// Handle is one build subsystem. Bail must be idempotent and safe to call
// when Start never ran, is still running, or already failed.
type Handle interface {
	Start(ctx context.Context, sc StartContext) (Result, error)
	Bail(ctx context.Context) error
	Config(opts *config.Options) Config
}

// Router is the part of the HTTP transport a subsystem may register routes on.
// Registration is safe while the listener is already serving.
type Router interface {
	Handle(pattern string, h http.Handler)
}

// StartContext is what every Start call receives.
type StartContext struct {
	StartTime time.Time
	Options   *config.Options
	Router    Router
	Channel   channel.Publisher
	// ServerURL is the base URL the listener answers on.
	ServerURL string
}

// Result is whatever a subsystem reports after a successful start. The
// orchestrator passes it through untouched.
type Result struct {
	Subsystem string
	URL       string
	Duration  time.Duration
	Details   map[string]any
}

// IsZero reports whether r is the empty result of a skipped subsystem.
func (r Result) IsZero() bool {
	return r.Subsystem == "" && r.URL == "" && r.Duration == 0 && len(r.Details) == 0
}

// Config is a diagnostic view of a subsystem's resolved settings.
type Config struct {
	Subsystem string
	Values    map[string]any
}

// LogValues flattens c into slog key/value pairs.
func (c Config) LogValues() []any {
	out := make([]any, 0, 2+2*len(c.Values))
	out = append(out, "subsystem", c.Subsystem)
	for k, v := range c.Values {
		out = append(out, k, v)
	}
	return out
}
