package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	ferrors "git.home.luguber.info/inful/storydev/internal/foundation/errors"
	"git.home.luguber.info/inful/storydev/internal/index"
	"git.home.luguber.info/inful/storydev/internal/logfields"
)

// IndexCmd implements the 'index' command.
type IndexCmd struct {
	Output string `short:"o" help:"File to write (defaults to stdout)" type:"path"`
}

func (i *IndexCmd) Run(_ *Global, root *CLI) error {
	opts, err := root.loadOptions()
	if err != nil {
		return err
	}
	specs, err := index.NormalizeSpecifiers(opts.Stories, opts.ConfigDir, opts.WorkingDir)
	if err != nil {
		return err
	}
	gen, err := index.NewGenerator(index.GeneratorOptions{
		WorkingDir:      opts.WorkingDir,
		Specifiers:      specs,
		Strict:          opts.Features.StoryStoreV7,
		V2Compatibility: opts.Features.V2Compatibility,
		Logger:          slog.Default(),
	})
	if err != nil {
		return err
	}

	ctx := context.Background()
	if err := gen.Initialize(ctx); err != nil {
		return err
	}
	snap, err := gen.GetIndex(ctx)
	if err != nil {
		return err
	}

	var out io.Writer = os.Stdout
	if i.Output != "" {
		f, err := os.Create(i.Output) // #nosec G304 -- output path chosen by the user
		if err != nil {
			return ferrors.WrapError(err, ferrors.CategoryFileSystem, "create index output").
				WithContext("path", i.Output).
				Build()
		}
		defer func() { _ = f.Close() }()
		out = f
	}
	if err := writeIndex(out, snap, opts.Features.V2Compatibility); err != nil {
		return err
	}
	if i.Output != "" {
		slog.Info("Index written", logfields.Path(i.Output), logfields.EntryCount(snap.Len()))
	}
	return nil
}

func writeIndex(w io.Writer, snap *index.Snapshot, legacy bool) error {
	var body any = snap
	if legacy {
		body = snap.Legacy()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(body); err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	return nil
}
