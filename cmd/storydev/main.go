package main

import (
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/storydev/cmd/storydev/commands"
	ferrors "git.home.luguber.info/inful/storydev/internal/foundation/errors"
	"git.home.luguber.info/inful/storydev/internal/version"
)

func main() {
	cli := &commands.CLI{}
	parser := kong.Parse(cli,
		kong.Name("storydev"),
		kong.Description("Development server for a live-reloading component catalogue."),
		kong.UsageOnError(),
		kong.Vars{"version": version.String()},
	)

	if err := parser.Run(&commands.Global{Logger: slog.Default()}, cli); err != nil {
		adapter := ferrors.NewCLIErrorAdapter(cli.Verbose, slog.Default())
		os.Exit(adapter.HandleError(err))
	}
}
