package index

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	ferrors "git.home.luguber.info/inful/storydev/internal/foundation/errors"
	"git.home.luguber.info/inful/storydev/internal/logfields"
)

// ErrNotInitialized is returned by GetIndex before Initialize succeeded.
var ErrNotInitialized = errors.New("index generator not initialized")

// GeneratorOptions configures a Generator.
type GeneratorOptions struct {
	WorkingDir string
	Specifiers []Specifier
	Indexers   []Indexer
	// Strict makes any file that fails to index fail the whole index.
	Strict bool
	// V2Compatibility selects the legacy stories.json shape for HTTP consumers.
	V2Compatibility bool
	Logger          *slog.Logger
}

type cachedFile struct {
	spec       int
	absPath    string
	importPath string
	indexer    Indexer
	loaded     bool
	entries    []Entry
	err        error
}

// Generator owns the per-file cache and the current snapshot.
type Generator struct {
	opts GeneratorOptions

	mu          sync.Mutex
	initialized bool
	files       map[string]*cachedFile
	snapshot    *Snapshot
	generation  uint64
}

// NewGenerator validates opts and returns an uninitialized generator.
func NewGenerator(opts GeneratorOptions) (*Generator, error) {
	if opts.WorkingDir == "" {
		return nil, ferrors.ValidationError("index generator requires a working directory").Build()
	}
	if len(opts.Indexers) == 0 {
		opts.Indexers = DefaultIndexers()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Generator{opts: opts, files: map[string]*cachedFile{}}, nil
}

// V2Compatibility reports whether HTTP consumers should get the legacy shape.
func (g *Generator) V2Compatibility() bool { return g.opts.V2Compatibility }

// Specifiers returns the specifiers the generator scans.
func (g *Generator) Specifiers() []Specifier { return g.opts.Specifiers }

// Initialize scans every specifier directory for candidate files. Files are
// read lazily by GetIndex.
func (g *Generator) Initialize(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	files, err := g.scan(ctx)
	if err != nil {
		return err
	}
	g.files = files
	g.snapshot = nil
	g.initialized = true
	g.opts.Logger.Debug("Index generator initialized",
		slog.Int("files", len(files)),
		slog.Int("specifiers", len(g.opts.Specifiers)))
	return nil
}

func (g *Generator) scan(ctx context.Context) (map[string]*cachedFile, error) {
	files := map[string]*cachedFile{}
	for i, spec := range g.opts.Specifiers {
		info, err := os.Stat(spec.Directory)
		if err != nil || !info.IsDir() {
			return nil, ferrors.IndexError("stories directory does not exist").
				WithContext("directory", spec.Directory).
				WithCause(err).
				Build()
		}
		err = filepath.WalkDir(spec.Directory, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if d.IsDir() {
				if p != spec.Directory && skipDir(d.Name()) {
					return filepath.SkipDir
				}
				return nil
			}
			if _, seen := files[p]; seen {
				return nil
			}
			if f := g.candidate(i, p); f != nil {
				files[p] = f
			}
			return nil
		})
		if err != nil {
			return nil, ferrors.WrapError(err, ferrors.CategoryIndex, "scanning stories directory").
				WithContext("directory", spec.Directory).
				Build()
		}
	}
	return files, nil
}

func skipDir(name string) bool {
	return name == "node_modules" || strings.HasPrefix(name, ".")
}

// candidate returns a cache slot for absPath if specifier i covers it and an
// indexer recognizes it.
func (g *Generator) candidate(i int, absPath string) *cachedFile {
	importPath, err := ImportPath(g.opts.WorkingDir, absPath)
	if err != nil {
		return nil
	}
	if !g.opts.Specifiers[i].Matches(importPath) {
		return nil
	}
	for _, ix := range g.opts.Indexers {
		if ix.Match(importPath) {
			return &cachedFile{spec: i, absPath: absPath, importPath: importPath, indexer: ix}
		}
	}
	return nil
}

// GetIndex returns the current snapshot, re-reading only invalidated files.
func (g *Generator) GetIndex(ctx context.Context) (*Snapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.initialized {
		return nil, ErrNotInitialized
	}
	if g.snapshot != nil {
		return g.snapshot, nil
	}

	paths := make([]string, 0, len(g.files))
	for p := range g.files {
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool {
		a, b := g.files[paths[i]], g.files[paths[j]]
		if a.spec != b.spec {
			return a.spec < b.spec
		}
		return a.importPath < b.importPath
	})

	var entries []Entry
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, ferrors.CanceledError("index generation canceled").WithCause(err).Build()
		}
		f := g.files[p]
		if !f.loaded {
			g.load(f)
		}
		if f.err != nil {
			if g.opts.Strict {
				return nil, ferrors.WrapError(f.err, ferrors.CategoryIndex, "indexing file failed").
					WithContext("file", f.importPath).
					Build()
			}
			continue
		}
		entries = append(entries, f.entries...)
	}

	resolved, err := g.resolveDocs(entries)
	if err != nil {
		return nil, err
	}
	if err := checkDuplicates(resolved); err != nil {
		return nil, err
	}

	g.generation++
	g.snapshot = newSnapshot(resolved, g.generation)
	return g.snapshot, nil
}

func (g *Generator) load(f *cachedFile) {
	f.loaded = true
	f.entries, f.err = nil, nil

	content, err := os.ReadFile(f.absPath)
	if err != nil {
		f.err = err
	} else {
		spec := g.opts.Specifiers[f.spec]
		rel, relErr := filepath.Rel(spec.Directory, f.absPath)
		if relErr != nil {
			rel = filepath.Base(f.absPath)
		}
		f.entries, f.err = f.indexer.Index(IndexInput{
			ImportPath: f.importPath,
			AbsPath:    f.absPath,
			Content:    content,
			AutoTitle:  AutoTitle(filepath.ToSlash(rel), spec.TitlePrefix),
		})
	}
	if f.err != nil && !g.opts.Strict {
		g.opts.Logger.Warn("Skipping file that failed to index", logfields.File(f.importPath), logfields.Error(f.err))
	}
}

// resolveDocs settles titles of docs entries attached to a stories file.
func (g *Generator) resolveDocs(entries []Entry) ([]Entry, error) {
	titles := map[string]string{}
	for _, e := range entries {
		if e.Type == EntryStory {
			if _, ok := titles[e.ImportPath]; !ok {
				titles[e.ImportPath] = e.Title
			}
		}
	}
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Type == EntryDocs && e.Title == "" && len(e.StoriesImports) > 0 {
			title, ok := titles[e.StoriesImports[0]]
			if !ok {
				err := ferrors.IndexError("docs entry refers to an unknown stories file").
					WithContext("file", e.ImportPath).
					WithContext("of", e.StoriesImports[0]).
					Build()
				if g.opts.Strict {
					return nil, err
				}
				g.opts.Logger.Warn("Skipping docs entry", logfields.File(e.ImportPath), logfields.Error(err))
				continue
			}
			e.Title = title
			e.ID = EntryID(title, e.Name)
		}
		out = append(out, e)
	}
	return out, nil
}

func checkDuplicates(entries []Entry) error {
	seen := make(map[string]Entry, len(entries))
	for _, e := range entries {
		if prev, ok := seen[e.ID]; ok {
			return ferrors.IndexError("duplicate entry id").
				WithContext("id", e.ID).
				WithContext("first", prev.ImportPath).
				WithContext("second", e.ImportPath).
				Build()
		}
		seen[e.ID] = e
	}
	return nil
}

// Invalidate drops the cached result for absPath. A removed file leaves the
// index; a new file under a specifier joins it. It reports whether the path
// is relevant to the index.
func (g *Generator) Invalidate(absPath string, removed bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if f, ok := g.files[absPath]; ok {
		if removed {
			delete(g.files, absPath)
		} else {
			f.loaded = false
		}
		g.snapshot = nil
		return true
	}
	if removed {
		return false
	}
	for i := range g.opts.Specifiers {
		if !isWithin(g.opts.Specifiers[i].Directory, absPath) {
			continue
		}
		if f := g.candidate(i, absPath); f != nil {
			g.files[absPath] = f
			g.snapshot = nil
			return true
		}
	}
	return false
}

// Rescan drops every cached file and walks the specifier directories again.
func (g *Generator) Rescan(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	files, err := g.scan(ctx)
	if err != nil {
		return err
	}
	g.files = files
	g.snapshot = nil
	return nil
}

// Generation returns how many snapshots have been built.
func (g *Generator) Generation() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.generation
}

func isWithin(dir, p string) bool {
	rel, err := filepath.Rel(dir, p)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
