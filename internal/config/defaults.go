package config

import "time"

const (
	DefaultPort           = 6006
	DefaultDebounceWindow = 100 * time.Millisecond
	DefaultTelemetryTTL   = 5 * time.Second
	DefaultNATSSubject    = "storydev.telemetry"
	DefaultMetricsPath    = "/metrics"
	DefaultHeadFile       = "preview-head.html"
	DefaultBodyFile       = "preview-body.html"
	DefaultManagerTitle   = "Storydev"
	DefaultBuilder        = "storydev-static"
)

// DefaultApplier applies defaults for a specific configuration domain.
type DefaultApplier interface {
	ApplyDefaults(o *Options)
	Domain() string
}

type serverDefaults struct{}

func (serverDefaults) Domain() string { return "server" }
func (serverDefaults) ApplyDefaults(o *Options) {
	if o.Server.Port == 0 {
		o.Server.Port = DefaultPort
	}
}

type indexDefaults struct{}

func (indexDefaults) Domain() string { return "index" }
func (indexDefaults) ApplyDefaults(o *Options) {
	if o.Index.DebounceWindow <= 0 {
		o.Index.DebounceWindow = DefaultDebounceWindow
	}
	if o.Index.RescanInterval < 0 {
		o.Index.RescanInterval = 0
	}
}

type previewDefaults struct{}

func (previewDefaults) Domain() string { return "preview" }
func (previewDefaults) ApplyDefaults(o *Options) {
	if o.Preview.HeadFile == "" {
		o.Preview.HeadFile = DefaultHeadFile
	}
	if o.Preview.BodyFile == "" {
		o.Preview.BodyFile = DefaultBodyFile
	}
}

type coreDefaults struct{}

func (coreDefaults) Domain() string { return "core" }
func (coreDefaults) ApplyDefaults(o *Options) {
	if o.Core.Builder == "" {
		o.Core.Builder = DefaultBuilder
	}
	if o.Manager.Title == "" {
		o.Manager.Title = DefaultManagerTitle
	}
}

type telemetryDefaults struct{}

func (telemetryDefaults) Domain() string { return "telemetry" }
func (telemetryDefaults) ApplyDefaults(o *Options) {
	if o.Telemetry.NATSSubject == "" {
		o.Telemetry.NATSSubject = DefaultNATSSubject
	}
	if o.Telemetry.Timeout <= 0 {
		o.Telemetry.Timeout = DefaultTelemetryTTL
	}
}

type observabilityDefaults struct{}

func (observabilityDefaults) Domain() string { return "observability" }
func (observabilityDefaults) ApplyDefaults(o *Options) {
	if o.Monitoring.Metrics.Path == "" {
		o.Monitoring.Metrics.Path = DefaultMetricsPath
	}
	o.Logging.Level = NormalizeLogLevel(string(o.Logging.Level))
	o.Logging.Format = NormalizeLogFormat(string(o.Logging.Format))
}

func defaultAppliers() []DefaultApplier {
	return []DefaultApplier{
		serverDefaults{},
		indexDefaults{},
		previewDefaults{},
		coreDefaults{},
		telemetryDefaults{},
		observabilityDefaults{},
	}
}

// ApplyDefaults fills every unset field with its default.
func ApplyDefaults(o *Options) {
	for _, a := range defaultAppliers() {
		a.ApplyDefaults(o)
	}
}
