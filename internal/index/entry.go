package index

import "sort"

// FormatVersion is the version of the index.json shape produced by Snapshot.
const FormatVersion = 4

// EntryType distinguishes component stories from docs pages.
type EntryType string

const (
	EntryStory EntryType = "story"
	EntryDocs  EntryType = "docs"
)

// Entry is one item of the catalogue.
type Entry struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Name       string    `json:"name"`
	ImportPath string    `json:"importPath"`
	Type       EntryType `json:"type"`
	Tags       []string  `json:"tags,omitempty"`
	// ExportName is the CSF export a story entry came from.
	ExportName string `json:"exportName,omitempty"`
	// StoriesImports lists the CSF files a docs entry is attached to.
	StoriesImports []string `json:"storiesImports,omitempty"`
	Fingerprint    string   `json:"fingerprint,omitempty"`
}

// Snapshot is an immutable view of the index.
type Snapshot struct {
	Entries map[string]Entry `json:"entries"`
	Version int              `json:"v"`

	// Generation counts regenerations of the owning generator.
	Generation uint64 `json:"-"`
	order      []string
}

func newSnapshot(entries []Entry, generation uint64) *Snapshot {
	s := &Snapshot{
		Entries:    make(map[string]Entry, len(entries)),
		Version:    FormatVersion,
		Generation: generation,
		order:      make([]string, 0, len(entries)),
	}
	for _, e := range entries {
		s.Entries[e.ID] = e
		s.order = append(s.order, e.ID)
	}
	return s
}

// IDs returns entry ids ordered by title, keeping declaration order within a title.
func (s *Snapshot) IDs() []string {
	out := append([]string(nil), s.order...)
	sort.SliceStable(out, func(i, j int) bool {
		return s.Entries[out[i]].Title < s.Entries[out[j]].Title
	})
	return out
}

// Len returns the number of entries.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Entries)
}
