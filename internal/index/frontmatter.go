package index

import (
	"bytes"
	"errors"

	"gopkg.in/yaml.v3"
)

var errUnclosedFrontmatter = errors.New("frontmatter: missing closing delimiter")

// docsFrontmatter is the subset of frontmatter fields the docs indexer reads.
type docsFrontmatter struct {
	Title string   `yaml:"title"`
	Name  string   `yaml:"name"`
	Of    string   `yaml:"of"`
	Tags  []string `yaml:"tags"`
}

// splitFrontmatter separates a leading "---" YAML block from the body. Both LF
// and CRLF files are accepted.
func splitFrontmatter(content []byte) (raw, body []byte, had bool, err error) {
	nl := []byte("\n")
	if bytes.Contains(content, []byte("\r\n")) {
		nl = []byte("\r\n")
	}
	open := append([]byte("---"), nl...)
	if !bytes.HasPrefix(content, open) {
		return nil, content, false, nil
	}
	rest := content[len(open):]
	if bytes.HasPrefix(rest, open) {
		return []byte{}, rest[len(open):], true, nil
	}
	closing := append(append(append([]byte{}, nl...), "---"...), nl...)
	idx := bytes.Index(rest, closing)
	if idx < 0 {
		if bytes.HasSuffix(rest, append(append([]byte{}, nl...), "---"...)) {
			return rest[:len(rest)-len(nl)-3], nil, true, nil
		}
		return nil, nil, false, errUnclosedFrontmatter
	}
	return rest[:idx+len(nl)], rest[idx+len(closing):], true, nil
}

func parseDocsFrontmatter(raw []byte) (docsFrontmatter, map[string]any, error) {
	var fm docsFrontmatter
	fields := map[string]any{}
	if len(bytes.TrimSpace(raw)) == 0 {
		return fm, fields, nil
	}
	if err := yaml.Unmarshal(raw, &fields); err != nil {
		return fm, nil, err
	}
	if err := yaml.Unmarshal(raw, &fm); err != nil {
		return fm, nil, err
	}
	return fm, fields, nil
}

func marshalYAML(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
