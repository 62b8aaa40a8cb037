package metrics

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Tracer abstracts span creation so the channel code never depends on a
// tracing backend directly. The OpenTelemetry adapter satisfies it when the
// binary is built with -tags otel; SimpleTracer and NoOpTracer cover tests
// and untraced runs.
type Tracer interface {
	// StartSpan starts a span. The returned SpanEnder must be called
	// exactly once; pass nil for success or the failure cause.
	StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, SpanEnder)
}

// SpanEnder finishes a span.
type SpanEnder func(err error)

// SpanOption configures span behavior.
type SpanOption func(*spanConfig)

type spanConfig struct {
	kind       SpanKind
	attributes map[string]interface{}
}

// SpanKind identifies the type of span.
type SpanKind int

// SpanKindInternal is the default; server and client mark the two ends of a
// handshake.
const (
	SpanKindInternal SpanKind = iota
	SpanKindServer
	SpanKindClient
)

// WithSpanKind sets the span kind.
func WithSpanKind(kind SpanKind) SpanOption {
	return func(c *spanConfig) {
		c.kind = kind
	}
}

// WithAttributes sets span attributes.
func WithAttributes(attrs map[string]interface{}) SpanOption {
	return func(c *spanConfig) {
		c.attributes = attrs
	}
}

// --- NoOp Tracer ---

// NoOpTracer discards all spans.
type NoOpTracer struct{}

// StartSpan returns the context unchanged and a no-op end function.
func (NoOpTracer) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, SpanEnder) {
	return ctx, func(err error) {}
}

// --- Simple Tracer ---

// SimpleTracer records completed spans in memory. Intended for tests.
type SimpleTracer struct {
	mu     sync.Mutex
	spans  []RecordedSpan
	nextID atomic.Uint64
}

// RecordedSpan is a completed span as kept by SimpleTracer.
type RecordedSpan struct {
	Name       string
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	Kind       SpanKind
	Attributes map[string]interface{}
	Error      error
	TraceID    string
	SpanID     string
	ParentID   string
}

// NewSimpleTracer creates a new SimpleTracer.
func NewSimpleTracer() *SimpleTracer {
	return &SimpleTracer{
		spans: make([]RecordedSpan, 0),
	}
}

// StartSpan starts a span; the span is recorded when its SpanEnder runs.
func (t *SimpleTracer) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, SpanEnder) {
	cfg := &spanConfig{
		kind:       SpanKindInternal,
		attributes: make(map[string]interface{}),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	span := &RecordedSpan{
		Name:       name,
		StartTime:  time.Now(),
		Kind:       cfg.kind,
		Attributes: cfg.attributes,
		TraceID:    t.newID(),
		SpanID:     t.newID(),
	}

	if parent := spanFromContext(ctx); parent != nil {
		span.ParentID = parent.SpanID
		span.TraceID = parent.TraceID
	}

	ctx = contextWithSpan(ctx, span)

	return ctx, func(err error) {
		span.EndTime = time.Now()
		span.Duration = span.EndTime.Sub(span.StartTime)
		span.Error = err

		t.mu.Lock()
		t.spans = append(t.spans, *span)
		t.mu.Unlock()
	}
}

// Spans returns a copy of all recorded spans.
func (t *SimpleTracer) Spans() []RecordedSpan {
	t.mu.Lock()
	defer t.mu.Unlock()
	result := make([]RecordedSpan, len(t.spans))
	copy(result, t.spans)
	return result
}

// Reset clears all recorded spans.
func (t *SimpleTracer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.spans = t.spans[:0]
}

func (t *SimpleTracer) newID() string {
	return strconv.FormatUint(t.nextID.Add(1), 16)
}

// --- Context helpers ---

type spanContextKey struct{}

func contextWithSpan(ctx context.Context, span *RecordedSpan) context.Context {
	return context.WithValue(ctx, spanContextKey{}, span)
}

func spanFromContext(ctx context.Context) *RecordedSpan {
	if span, ok := ctx.Value(spanContextKey{}).(*RecordedSpan); ok {
		return span
	}
	return nil
}

// --- Global Tracer ---

var (
	globalTracer   Tracer = NoOpTracer{}
	globalTracerMu sync.RWMutex
)

// SetTracer sets the global tracer.
func SetTracer(t Tracer) {
	globalTracerMu.Lock()
	defer globalTracerMu.Unlock()
	globalTracer = t
}

// GetTracer returns the global tracer.
func GetTracer() Tracer {
	globalTracerMu.RLock()
	defer globalTracerMu.RUnlock()
	return globalTracer
}

// StartSpan starts a span using the global tracer.
func StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, SpanEnder) {
	return GetTracer().StartSpan(ctx, name, opts...)
}

// --- Span Names ---

// Standard span names for channel operations.
const (
	SpanHandshakeInitiator = "channel.handshake.initiator"
	SpanHandshakeResponder = "channel.handshake.responder"
	SpanSend               = "channel.send"
	SpanReceive            = "channel.receive"
	SpanRetransmit         = "channel.retransmit"
	SpanClose              = "channel.close"
)

// SpanAttributes names the attributes attached to channel spans.
type SpanAttributes struct {
	SessionID string
	Role      string
	Seq       uint64
	Bytes     int
	Error     string
}

// ToMap converts SpanAttributes into the generic form tracers accept.
func (a SpanAttributes) ToMap() map[string]interface{} {
	m := make(map[string]interface{})
	if a.SessionID != "" {
		m["session.id"] = a.SessionID
	}
	if a.Role != "" {
		m["session.role"] = a.Role
	}
	if a.Seq > 0 {
		m["frame.seq"] = a.Seq
	}
	if a.Bytes > 0 {
		m["frame.bytes"] = a.Bytes
	}
	if a.Error != "" {
		m["error.message"] = a.Error
	}
	return m
}
