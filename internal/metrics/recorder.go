package metrics

import "time"

// ResultLabel enumerates outcome categories for counters.
type ResultLabel string

const (
	ResultSuccess  ResultLabel = "success"
	ResultFailed   ResultLabel = "failed"
	ResultCanceled ResultLabel = "canceled"
)

// ResultFor maps an error to its label.
func ResultFor(err error) ResultLabel {
	if err == nil {
		return ResultSuccess
	}
	return ResultFailed
}

// Recorder defines observability hooks for startup, indexing and the live
// channel. Implementations may forward to Prometheus.
type Recorder interface {
	ObserveBuilderStart(subsystem string, d time.Duration, result ResultLabel)
	IncBuilderBail(subsystem string, result ResultLabel)
	IncIndexRegeneration(result ResultLabel)
	SetIndexEntries(n int)
	SetChannelClients(transport string, n int)
	IncChannelEvent(eventType string)
	IncReport(sink string, result ResultLabel)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveBuilderStart(string, time.Duration, ResultLabel) {}
func (NoopRecorder) IncBuilderBail(string, ResultLabel)                     {}
func (NoopRecorder) IncIndexRegeneration(ResultLabel)                       {}
func (NoopRecorder) SetIndexEntries(int)                                    {}
func (NoopRecorder) SetChannelClients(string, int)                          {}
func (NoopRecorder) IncChannelEvent(string)                                 {}
func (NoopRecorder) IncReport(string, ResultLabel)                          {}

// OrNoop returns r, or a NoopRecorder when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return NoopRecorder{}
	}
	return r
}
