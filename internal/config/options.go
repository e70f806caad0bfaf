package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the file name looked up inside the config directory.
const DefaultConfigFile = "main.yaml"

// Options is the configuration snapshot for one dev server run. It is built
// once by Load, then treated as read-only by every component.
type Options struct {
	// ConfigDir is the absolute directory holding main.yaml and preview fragments.
	ConfigDir string `yaml:"-"`
	// WorkingDir is the absolute directory relative import paths are computed from.
	WorkingDir string `yaml:"-"`

	Stories    []StoriesEntry   `yaml:"stories" validate:"dive"`
	StaticDirs []string         `yaml:"static_dirs,omitempty"`
	Features   Features         `yaml:"features"`
	Core       CoreConfig       `yaml:"core"`
	Server     ServerConfig     `yaml:"server"`
	Preview    PreviewConfig    `yaml:"preview"`
	Manager    ManagerConfig    `yaml:"manager"`
	Index      IndexConfig      `yaml:"index"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`

	// Runtime switches, set from CLI flags only.
	CI        bool `yaml:"-"`
	NoOpen    bool `yaml:"-"`
	SmokeTest bool `yaml:"-"`
}

// StoriesEntry describes where catalogue entries live. In YAML it is either a
// glob string or a mapping with directory/files/title_prefix.
type StoriesEntry struct {
	Glob        string `yaml:"-"`
	Directory   string `yaml:"directory"`
	Files       string `yaml:"files"`
	TitlePrefix string `yaml:"title_prefix"`
}

// UnmarshalYAML accepts both the scalar and the mapping form.
func (s *StoriesEntry) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		s.Glob = strings.TrimSpace(value.Value)
		if s.Glob == "" {
			return fmt.Errorf("line %d: empty stories glob", value.Line)
		}
		return nil
	case yaml.MappingNode:
		type plain StoriesEntry
		var p plain
		if err := value.Decode(&p); err != nil {
			return err
		}
		*s = StoriesEntry(p)
		if s.Directory == "" {
			return fmt.Errorf("line %d: stories entry requires directory", value.Line)
		}
		return nil
	default:
		return fmt.Errorf("line %d: stories entry must be a string or mapping", value.Line)
	}
}

// MarshalYAML writes the scalar form back when the entry came from a glob.
func (s StoriesEntry) MarshalYAML() (any, error) {
	if s.Glob != "" {
		return s.Glob, nil
	}
	type plain StoriesEntry
	return plain(s), nil
}

// String renders the entry for logs.
func (s StoriesEntry) String() string {
	if s.Glob != "" {
		return s.Glob
	}
	if s.TitlePrefix != "" {
		return fmt.Sprintf("%s/%s (%s)", s.Directory, s.Files, s.TitlePrefix)
	}
	return s.Directory + "/" + s.Files
}

// Features toggles optional behavior.
type Features struct {
	BuildStoriesJSON    bool `yaml:"build_stories_json" json:"buildStoriesJson"`
	StoryStoreV7        bool `yaml:"story_store_v7" json:"storyStoreV7"`
	V2Compatibility     bool `yaml:"v2_compatibility" json:"v2Compatibility"`
	CrossOriginIsolated bool `yaml:"cross_origin_isolated" json:"crossOriginIsolated"`
}

// IndexEnabled reports whether the index pipeline should be constructed.
func (f Features) IndexEnabled() bool {
	return f.BuildStoriesJSON || f.StoryStoreV7
}

// CoreConfig holds project-level settings.
type CoreConfig struct {
	DisableTelemetry   bool   `yaml:"disable_telemetry"`
	DisableProjectJSON bool   `yaml:"disable_project_json"`
	Builder            string `yaml:"builder"`
	Framework          string `yaml:"framework"`
}

// ServerConfig controls the listener.
type ServerConfig struct {
	Host string `yaml:"host" validate:"omitempty,hostname|ip"`
	Port int    `yaml:"port" validate:"min=0,max=65535"`
}

// PreviewConfig configures the preview subsystem.
type PreviewConfig struct {
	// Skip disables the preview subsystem entirely.
	Skip bool `yaml:"skip"`
	// URL points at an externally served preview; nothing is served locally.
	URL        string   `yaml:"url" validate:"omitempty,url"`
	HeadFile   string   `yaml:"head_file"`
	BodyFile   string   `yaml:"body_file"`
	SourceDirs []string `yaml:"source_dirs"`
}

// ManagerConfig configures the manager UI subsystem.
type ManagerConfig struct {
	Title     string `yaml:"title"`
	AssetsDir string `yaml:"assets_dir"`
}

// IndexConfig tunes the index pipeline.
type IndexConfig struct {
	DebounceWindow time.Duration `yaml:"debounce_window"`
	RescanInterval time.Duration `yaml:"rescan_interval"`
}

// TelemetryConfig configures where start reports go.
type TelemetryConfig struct {
	SQLitePath  string        `yaml:"sqlite_path"`
	NATSURL     string        `yaml:"nats_url" validate:"omitempty,url"`
	NATSSubject string        `yaml:"nats_subject"`
	Timeout     time.Duration `yaml:"timeout"`
}

// MonitoringConfig represents monitoring configuration.
type MonitoringConfig struct {
	Metrics MonitoringMetrics `yaml:"metrics"`
}

// MonitoringMetrics represents metrics configuration.
type MonitoringMetrics struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig represents logging configuration.
type LoggingConfig struct {
	Level  LogLevel  `yaml:"level"`
	Format LogFormat `yaml:"format"`
}
