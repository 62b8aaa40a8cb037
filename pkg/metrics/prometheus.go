package metrics

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
)

// PrometheusExporter exports collector metrics in Prometheus text format.
type PrometheusExporter struct {
	collector *Collector
	namespace string
}

// NewPrometheusExporter creates an exporter for the given collector. The
// namespace prefixes every metric name (e.g. "qschat").
func NewPrometheusExporter(c *Collector, namespace string) *PrometheusExporter {
	return &PrometheusExporter{
		collector: c,
		namespace: namespace,
	}
}

// Handler returns an http.Handler serving the metrics endpoint.
func (e *PrometheusExporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		e.WriteMetrics(w)
	})
}

// WriteMetrics writes all metrics in Prometheus text format to w.
func (e *PrometheusExporter) WriteMetrics(w io.Writer) {
	snap := e.collector.Snapshot()
	labels := e.formatLabels(snap.Labels)

	gauges := []struct {
		name  string
		help  string
		value float64
	}{
		{"sessions_active", "Number of currently active sessions", float64(snap.SessionsActive)},
		{"uptime_seconds", "Time since the collector was created", snap.Uptime.Seconds()},
	}
	for _, g := range gauges {
		e.writeHelp(w, g.name, g.help)
		e.writeType(w, g.name, "gauge")
		e.writeMetric(w, g.name, labels, g.value)
	}

	counters := []struct {
		name  string
		help  string
		value uint64
	}{
		{"sessions_total", "Total sessions attempted", snap.SessionsTotal},
		{"sessions_established_total", "Total handshakes completed", snap.SessionsEstablished},
		{"sessions_failed_total", "Total sessions that failed before establishment", snap.SessionsFailed},
		{"sessions_closed_total", "Total sessions torn down in order", snap.SessionsClosed},
		{"frames_sent_total", "Total frames sent", snap.FramesSent},
		{"frames_received_total", "Total frames received", snap.FramesReceived},
		{"bytes_sent_total", "Total wire bytes sent", snap.BytesSent},
		{"bytes_received_total", "Total wire bytes received", snap.BytesReceived},
		{"retransmissions_total", "Total DATA frame retransmissions", snap.Retransmissions},
		{"delivery_failures_total", "Total frames abandoned after retry exhaustion", snap.DeliveryFailures},
		{"replays_rejected_total", "Total frames rejected by sequence enforcement", snap.ReplaysRejected},
		{"auth_failures_total", "Total record authentication failures", snap.AuthFailures},
		{"heartbeats_sent_total", "Total heartbeats sent", snap.HeartbeatsSent},
		{"heartbeats_acked_total", "Total heartbeats acknowledged", snap.HeartbeatsAcked},
	}
	for _, c := range counters {
		e.writeHelp(w, c.name, c.help)
		e.writeType(w, c.name, "counter")
		e.writeMetric(w, c.name, labels, float64(c.value))
	}

	e.writeHistogram(w, "handshake_duration_milliseconds", "Handshake duration in milliseconds", labels, snap.HandshakeDuration)
	e.writeHistogram(w, "heartbeat_rtt_milliseconds", "Heartbeat round-trip time in milliseconds", labels, snap.HeartbeatRTT)
}

func (e *PrometheusExporter) writeHelp(w io.Writer, name, help string) {
	fmt.Fprintf(w, "# HELP %s_%s %s\n", e.namespace, name, help)
}

func (e *PrometheusExporter) writeType(w io.Writer, name, typ string) {
	fmt.Fprintf(w, "# TYPE %s_%s %s\n", e.namespace, name, typ)
}

func (e *PrometheusExporter) writeMetric(w io.Writer, name, labels string, value float64) {
	if labels != "" {
		fmt.Fprintf(w, "%s_%s{%s} %g\n", e.namespace, name, labels, value)
	} else {
		fmt.Fprintf(w, "%s_%s %g\n", e.namespace, name, value)
	}
}

func (e *PrometheusExporter) writeHistogram(w io.Writer, name, help, labels string, h HistogramSummary) {
	e.writeHelp(w, name, help)
	e.writeType(w, name, "histogram")

	fullName := e.namespace + "_" + name

	for _, b := range h.Buckets {
		le := fmt.Sprintf("%g", b.UpperBound)
		if math.IsInf(b.UpperBound, 1) {
			le = "+Inf"
		}
		if labels != "" {
			fmt.Fprintf(w, "%s_bucket{%s,le=\"%s\"} %d\n", fullName, labels, le, b.Count)
		} else {
			fmt.Fprintf(w, "%s_bucket{le=\"%s\"} %d\n", fullName, le, b.Count)
		}
	}

	if labels != "" {
		fmt.Fprintf(w, "%s_sum{%s} %g\n", fullName, labels, h.Sum)
		fmt.Fprintf(w, "%s_count{%s} %d\n", fullName, labels, h.Count)
	} else {
		fmt.Fprintf(w, "%s_sum %g\n", fullName, h.Sum)
		fmt.Fprintf(w, "%s_count %d\n", fullName, h.Count)
	}
}

// formatLabels converts Labels to the Prometheus label-pair syntax.
func (e *PrometheusExporter) formatLabels(labels Labels) string {
	if len(labels) == 0 {
		return ""
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=\"%s\"", k, escapePromValue(labels[k])))
	}

	return strings.Join(parts, ",")
}

func escapePromValue(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}

// ServePrometheus serves the collector's metrics over HTTP at /metrics.
// Convenience for binaries that want observability with one call.
func ServePrometheus(addr string, c *Collector, namespace string) error {
	exp := NewPrometheusExporter(c, namespace)
	mux := http.NewServeMux()
	mux.Handle("/metrics", exp.Handler())
	return http.ListenAndServe(addr, mux)
}
