package config

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	ferrors "git.home.luguber.info/inful/storydev/internal/foundation/errors"
)

// LoadParams locates the configuration for a run.
type LoadParams struct {
	// ConfigDir holds main.yaml and the preview fragments.
	ConfigDir string
	// ConfigFile overrides <ConfigDir>/main.yaml when set.
	ConfigFile string
	// WorkingDir defaults to the process working directory.
	WorkingDir string
}

// Load reads, expands, defaults and validates the configuration.
func Load(p LoadParams) (*Options, error) {
	workingDir := p.WorkingDir
	if workingDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "resolve working directory").Fatal().Build()
		}
		workingDir = wd
	}
	configDir := p.ConfigDir
	if configDir == "" {
		configDir = ".storydev"
	}
	if !filepath.IsAbs(configDir) {
		configDir = filepath.Join(workingDir, configDir)
	}
	configFile := p.ConfigFile
	if configFile == "" {
		configFile = filepath.Join(configDir, DefaultConfigFile)
	}

	loadEnvFiles(workingDir, configDir)

	data, err := os.ReadFile(configFile)
	if err != nil {
		if stderrors.Is(err, os.ErrNotExist) {
			return nil, ferrors.ConfigError("configuration file not found").
				WithContext("path", configFile).
				Build()
		}
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "read configuration file").
			WithContext("path", configFile).
			Fatal().
			Build()
	}

	opts, err := Parse(bytes.NewReader([]byte(os.ExpandEnv(string(data)))))
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "parse configuration file").
			WithContext("path", configFile).
			Fatal().
			UserAction().
			Build()
	}
	opts.ConfigDir = configDir
	opts.WorkingDir = workingDir

	ApplyDefaults(opts)
	if err := Validate(opts); err != nil {
		return nil, err
	}
	return opts, nil
}

// Parse decodes YAML strictly; unknown keys are errors.
func Parse(r io.Reader) (*Options, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var opts Options
	if err := dec.Decode(&opts); err != nil && !stderrors.Is(err, io.EOF) {
		return nil, err
	}
	return &opts, nil
}

// loadEnvFiles loads .env and .env.local from the working and config
// directories. Existing process variables are never overwritten.
func loadEnvFiles(dirs ...string) {
	var files []string
	for _, dir := range dirs {
		for _, name := range []string{".env", ".env.local"} {
			path := filepath.Join(dir, name)
			if st, err := os.Stat(path); err == nil && !st.IsDir() {
				files = append(files, path)
			}
		}
	}
	if len(files) == 0 {
		return
	}
	if err := godotenv.Load(files...); err != nil {
		slog.Warn("Failed to load environment files", "files", files, "error", err)
		return
	}
	slog.Debug("Loaded environment files", "files", files)
}

// Init writes an example configuration file.
func Init(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return ferrors.ConfigError("configuration file already exists (use --force to overwrite)").
			WithContext("path", path).
			Build()
	}

	example := Options{
		Stories: []StoriesEntry{
			{Glob: "../src/**/*.stories.@(js|jsx|ts|tsx)"},
			{Directory: "../docs", Files: "**/*.mdx", TitlePrefix: "Docs"},
		},
		Features: Features{BuildStoriesJSON: true, StoryStoreV7: true},
		Server:   ServerConfig{Port: DefaultPort},
		Index:    IndexConfig{DebounceWindow: DefaultDebounceWindow},
		Logging:  LoggingConfig{Level: LogLevelInfo, Format: LogFormatText},
	}
	data, err := yaml.Marshal(&example)
	if err != nil {
		return fmt.Errorf("marshal example config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "create config directory").Build()
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "write config file").Build()
	}
	slog.Info("Configuration file created", "path", path)
	return nil
}
