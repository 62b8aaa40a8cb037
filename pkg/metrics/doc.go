// Package metrics provides observability primitives for the secure channel:
// counters and histograms, Prometheus text export, a pluggable tracing
// interface, and structured leveled logging.
//
// # Quick Start
//
// Basic usage with the global collector:
//
//	import "github.com/mokkunsuzuki-code/stage106/pkg/metrics"
//
//	metrics.Global().SessionStarted()
//	metrics.Global().RecordHandshakeDuration(42 * time.Millisecond)
//	metrics.Global().RecordFrameSent(1024)
//
//	// Serve Prometheus metrics
//	go metrics.ServePrometheus(":9090", metrics.Global(), "qschat")
//
// # Metrics Collection
//
// The Collector aggregates counters across all channel sessions:
//
//	collector := metrics.NewCollector(metrics.Labels{"instance": "node-1"})
//
//	collector.SessionStarted()
//	collector.SessionEstablished()
//	collector.RecordFrameSent(n)
//	collector.RecordReplayRejected()
//	collector.RecordRetransmission()
//
//	snap := collector.Snapshot()
//
// # Tracing
//
// The Tracer interface decouples span creation from the backend. The
// in-memory SimpleTracer serves tests; building with -tags otel swaps in
// the OpenTelemetry adapter:
//
//	tracer := metrics.NewOTelTracer("qschat")
//	metrics.SetTracer(tracer)
//
//	ctx, end := metrics.StartSpan(ctx, metrics.SpanHandshakeInitiator)
//	defer end(nil) // or end(err)
//
// # Structured Logging
//
// The Logger writes leveled, fielded entries as text or JSON. Output goes
// to stderr by default so interactive chat output on stdout stays clean:
//
//	logger := metrics.NewLogger(
//		metrics.WithLevel(metrics.LevelInfo),
//		metrics.WithFormat(metrics.FormatJSON),
//	)
//	logger.Info("session established", metrics.Fields{
//		"session_id": id,
//		"role":       "initiator",
//	})
//
//	sessionLog := logger.Named("session").With(metrics.Fields{"id": id})
//	sessionLog.Debug("sending frame")
//
// # Channel Observer
//
// ChannelObserver bundles the collector, tracer, and logger into the hook
// set the session layer calls at each lifecycle point, so the channel code
// stays free of observability plumbing.
package metrics
