// Package metrics provides the observability hooks for the dev server.
//
// Components receive a Recorder through their constructors and default to
// NoopRecorder, so metrics collection never needs nil checks. When
// monitoring.metrics.enabled is set, the bootstrap swaps in a
// PrometheusRecorder and mounts HTTPHandler on the router:
//
//	reg := prom.NewRegistry()
//	rec := metrics.NewPrometheusRecorder(reg)
//	router.Handle(cfg.Monitoring.Metrics.Path, metrics.HTTPHandler(reg))
package metrics
