// Package metric provides Prometheus-based metrics collection and an HTTP
// exposition server for web-video-server monitoring.
//
// A MetricsRegistry owns a private Prometheus registry carrying the core
// server metrics (request counts, active sessions, frame delivery, bus
// connectivity) plus any component-specific metrics registered through the
// MetricsRegistrar interface. The Server type exposes the registry on a
// dedicated port in Prometheus format.
//
//	registry := metric.NewMetricsRegistry()
//	server := metric.NewServer(9090, "/metrics", registry)
//	go func() { _ = server.Start() }()
//	defer server.Stop()
//
// Components keep their own always-on atomic statistics; Prometheus metrics
// are an opt-in layer on top (nil registry disables them).
package metric
