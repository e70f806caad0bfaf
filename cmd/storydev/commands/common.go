package commands

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/storydev/internal/config"
)

// Global is shared state passed to every command.
type Global struct {
	Logger *slog.Logger
}

// CLI is the root command line.
type CLI struct {
	Config    string           `short:"c" help:"Configuration file (defaults to <config-dir>/main.yaml)" type:"path"`
	ConfigDir string           `name:"config-dir" help:"Directory holding main.yaml and preview fragments" default:".storydev" type:"path"`
	Verbose   bool             `short:"v" help:"Enable verbose logging"`
	Version   kong.VersionFlag `name:"version" help:"Show version and exit"`

	Dev   DevCmd   `cmd:"" default:"withargs" help:"Start the development server"`
	Index IndexCmd `cmd:"" help:"Build the catalogue index once and write it as JSON"`
	Init  InitCmd  `cmd:"" help:"Write an example configuration file"`
}

// AfterApply runs after flag parsing; setup logging once.
// nolint:unparam // AfterApply currently never returns an error.
func (c *CLI) AfterApply() error {
	slog.SetDefault(config.NewLogger(os.Stderr, config.LoggingConfig{}, c.Verbose))
	return nil
}

// loadOptions loads the configuration and switches the default logger to
// the configured level and format.
func (c *CLI) loadOptions() (*config.Options, error) {
	opts, err := config.Load(config.LoadParams{ConfigDir: c.ConfigDir, ConfigFile: c.Config})
	if err != nil {
		return nil, err
	}
	slog.SetDefault(config.NewLogger(os.Stderr, opts.Logging, c.Verbose))
	return opts, nil
}

// configPath is where init writes and load reads by default.
func (c *CLI) configPath() string {
	if c.Config != "" {
		return c.Config
	}
	return filepath.Join(c.ConfigDir, config.DefaultConfigFile)
}
