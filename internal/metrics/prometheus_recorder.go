package metrics

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "storydev"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	builderStart   *prom.HistogramVec
	builderBails   *prom.CounterVec
	indexRegens    *prom.CounterVec
	indexEntries   prom.Gauge
	channelClients *prom.GaugeVec
	channelEvents  *prom.CounterVec
	reports        *prom.CounterVec
}

// NewPrometheusRecorder constructs and registers the metrics on reg.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		builderStart: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "builder_start_duration_seconds",
			Help:      "Duration of subsystem start operations",
			Buckets:   prom.DefBuckets,
		}, []string{"subsystem", "result"}),
		builderBails: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "builder_bails_total",
			Help:      "Cancellation requests issued to subsystems",
		}, []string{"subsystem", "result"}),
		indexRegens: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "index_regenerations_total",
			Help:      "Catalogue index regenerations by outcome",
		}, []string{"result"}),
		indexEntries: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "index_entries",
			Help:      "Entries in the most recent index snapshot",
		}),
		channelClients: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "channel_clients",
			Help:      "Connected live-update clients",
		}, []string{"transport"}),
		channelEvents: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "channel_events_total",
			Help:      "Events published on the server channel",
		}, []string{"type"}),
		reports: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "telemetry_reports_total",
			Help:      "Telemetry deliveries by sink and outcome",
		}, []string{"sink", "result"}),
	}
	reg.MustRegister(pr.builderStart, pr.builderBails, pr.indexRegens, pr.indexEntries, pr.channelClients, pr.channelEvents, pr.reports)
	return pr
}

func (p *PrometheusRecorder) ObserveBuilderStart(subsystem string, d time.Duration, result ResultLabel) {
	if p == nil {
		return
	}
	p.builderStart.WithLabelValues(subsystem, string(result)).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncBuilderBail(subsystem string, result ResultLabel) {
	if p == nil {
		return
	}
	p.builderBails.WithLabelValues(subsystem, string(result)).Inc()
}

func (p *PrometheusRecorder) IncIndexRegeneration(result ResultLabel) {
	if p == nil {
		return
	}
	p.indexRegens.WithLabelValues(string(result)).Inc()
}

func (p *PrometheusRecorder) SetIndexEntries(n int) {
	if p == nil {
		return
	}
	p.indexEntries.Set(float64(n))
}

func (p *PrometheusRecorder) SetChannelClients(transport string, n int) {
	if p == nil {
		return
	}
	p.channelClients.WithLabelValues(transport).Set(float64(n))
}

func (p *PrometheusRecorder) IncChannelEvent(eventType string) {
	if p == nil {
		return
	}
	p.channelEvents.WithLabelValues(eventType).Inc()
}

func (p *PrometheusRecorder) IncReport(sink string, result ResultLabel) {
	if p == nil {
		return
	}
	p.reports.WithLabelValues(sink, string(result)).Inc()
}
