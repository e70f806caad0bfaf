package index

// IndexInput is what an Indexer gets for one file.
type IndexInput struct {
	// ImportPath is the "./"-prefixed path relative to the working directory.
	ImportPath string
	// AbsPath is the file on disk.
	AbsPath string
	Content []byte
	// AutoTitle is the title derived from the file location and title prefix.
	AutoTitle string
}

// Indexer extracts entries from files it recognizes.
type Indexer interface {
	Match(importPath string) bool
	Index(in IndexInput) ([]Entry, error)
}

// DefaultIndexers returns the built-in indexers.
func DefaultIndexers() []Indexer {
	return []Indexer{CSFIndexer{}, DocsIndexer{}}
}
