package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/storydev/internal/logfields"
)

// ChangeFunc receives a changed path. removed is true for deletes and renames.
type ChangeFunc func(path string, removed bool)

// Watcher watches directory trees recursively.
type Watcher struct {
	fs       *fsnotify.Watcher
	onChange ChangeFunc
	logger   *slog.Logger

	wg        sync.WaitGroup
	closeOnce sync.Once
	cancel    context.CancelFunc
}

// NewWatcher watches every directory below roots and starts delivering
// events to onChange until ctx ends or Close is called.
func NewWatcher(ctx context.Context, roots []string, onChange ChangeFunc, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsnotify: %w", err)
	}
	w := &Watcher{fs: fw, onChange: onChange, logger: logger}
	for _, root := range roots {
		if err := w.addRecursive(root, false); err != nil {
			_ = fw.Close()
			return nil, err
		}
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.loop(ctx)
	return w, nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Watcher error", logfields.Error(err))
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ShouldIgnore(ev.Name) || ev.Op == fsnotify.Chmod {
		return
	}
	removed := ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename)
	if ev.Op.Has(fsnotify.Create) {
		if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
			// Files may land before the new directory is watched.
			_ = w.addRecursive(ev.Name, true)
			return
		}
	}
	w.logger.Debug("File change detected", logfields.File(ev.Name), slog.String("op", ev.Op.String()))
	w.onChange(ev.Name, removed)
}

// addRecursive watches root and its subdirectories. With announce set, files
// found on the way are reported as changed.
func (w *Watcher) addRecursive(root string, announce bool) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return fmt.Errorf("watch %s: %w", root, err)
			}
			return nil
		}
		if d.IsDir() {
			if p != root && SkipDir(d.Name()) {
				return filepath.SkipDir
			}
			if err := w.fs.Add(p); err != nil {
				w.logger.Warn("Watch add failed", logfields.Path(p), logfields.Error(err))
			}
			return nil
		}
		if announce && !ShouldIgnore(p) {
			w.onChange(p, false)
		}
		return nil
	})
}

// Close stops the watcher and waits for the event loop to exit.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.cancel()
		err = w.fs.Close()
		w.wg.Wait()
	})
	return err
}

// SkipDir reports directories that are never watched or walked.
func SkipDir(name string) bool {
	return name == "node_modules" || strings.HasPrefix(name, ".")
}

// ShouldIgnore reports editor temp files, hidden files and OS droppings.
func ShouldIgnore(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return true
	}
	if strings.HasSuffix(base, "~") ||
		strings.HasSuffix(base, ".swp") ||
		strings.HasSuffix(base, ".swx") ||
		strings.HasSuffix(base, ".tmp") ||
		strings.HasPrefix(base, "#") && strings.HasSuffix(base, "#") {
		return true
	}
	return base == "Thumbs.db"
}
