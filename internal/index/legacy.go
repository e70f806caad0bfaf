package index

// LegacyFormatVersion is the version of the stories.json shape.
const LegacyFormatVersion = 3

// LegacyStory is an entry in the v3 stories.json shape.
type LegacyStory struct {
	ID         string         `json:"id"`
	Title      string         `json:"title"`
	Name       string         `json:"name"`
	Kind       string         `json:"kind"`
	Story      string         `json:"story"`
	ImportPath string         `json:"importPath"`
	Parameters map[string]any `json:"parameters"`
}

// LegacySnapshot is the v3 stories.json document.
type LegacySnapshot struct {
	Version int                    `json:"v"`
	Stories map[string]LegacyStory `json:"stories"`
}

// Legacy converts s to the v3 shape. Docs entries are flagged through
// parameters.docsOnly.
func (s *Snapshot) Legacy() LegacySnapshot {
	out := LegacySnapshot{Version: LegacyFormatVersion, Stories: make(map[string]LegacyStory, len(s.Entries))}
	for id, e := range s.Entries {
		params := map[string]any{
			"__id":     id,
			"fileName": e.ImportPath,
			"docsOnly": e.Type == EntryDocs,
		}
		out.Stories[id] = LegacyStory{
			ID:         id,
			Title:      e.Title,
			Name:       e.Name,
			Kind:       e.Title,
			Story:      e.Name,
			ImportPath: e.ImportPath,
			Parameters: params,
		}
	}
	return out
}
