package commands

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"git.home.luguber.info/inful/storydev/internal/config"
	"git.home.luguber.info/inful/storydev/internal/devserver"
)

// DevCmd implements the 'dev' command.
type DevCmd struct {
	Port             int           `short:"p" help:"Port to listen on (overrides server.port)"`
	Host             string        `help:"Host to bind (overrides server.host)"`
	CI               bool          `name:"ci" env:"CI" help:"Non-interactive mode; never opens a browser"`
	NoOpen           bool          `name:"no-open" help:"Do not open a browser"`
	SmokeTest        bool          `name:"smoke-test" help:"Exit right after a successful start"`
	PreviewURL       string        `name:"preview-url" help:"Use an externally served preview"`
	DisableTelemetry bool          `name:"disable-telemetry" help:"Do not send start reports"`
	Debounce         time.Duration `help:"Quiet window before re-indexing (overrides index.debounce_window)"`
}

func (d *DevCmd) Run(_ *Global, root *CLI) error {
	opts, err := root.loadOptions()
	if err != nil {
		return err
	}
	d.apply(opts)
	if err := config.Validate(opts); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return devserver.Run(ctx, opts, devserver.Deps{})
}

// apply copies flags that were set onto opts.
func (d *DevCmd) apply(o *config.Options) {
	if d.Port != 0 {
		o.Server.Port = d.Port
	}
	if d.Host != "" {
		o.Server.Host = d.Host
	}
	if d.PreviewURL != "" {
		o.Preview.URL = d.PreviewURL
	}
	if d.DisableTelemetry {
		o.Core.DisableTelemetry = true
	}
	if d.Debounce > 0 {
		o.Index.DebounceWindow = d.Debounce
	}
	o.CI = d.CI
	o.NoOpen = d.NoOpen
	o.SmokeTest = d.SmokeTest
}
