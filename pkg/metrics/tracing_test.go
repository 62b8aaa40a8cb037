package metrics

import (
	"context"
	"errors"
	"testing"
)

func TestSimpleTracerRecordsSpans(t *testing.T) {
	tracer := NewSimpleTracer()

	ctx, end := tracer.StartSpan(context.Background(), SpanHandshakeInitiator,
		WithSpanKind(SpanKindClient),
		WithAttributes(map[string]interface{}{"session.id": "s1"}),
	)
	if ctx == nil {
		t.Fatal("StartSpan returned nil context")
	}
	end(nil)

	spans := tracer.Spans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}

	span := spans[0]
	if span.Name != SpanHandshakeInitiator {
		t.Errorf("Name = %q, want %q", span.Name, SpanHandshakeInitiator)
	}
	if span.Kind != SpanKindClient {
		t.Errorf("Kind = %v, want SpanKindClient", span.Kind)
	}
	if span.Attributes["session.id"] != "s1" {
		t.Error("attributes not recorded")
	}
	if span.Error != nil {
		t.Errorf("Error = %v, want nil", span.Error)
	}
	if span.Duration < 0 {
		t.Error("negative duration")
	}
}

func TestSimpleTracerRecordsFailure(t *testing.T) {
	tracer := NewSimpleTracer()

	cause := errors.New("handshake timed out")
	_, end := tracer.StartSpan(context.Background(), SpanHandshakeResponder)
	end(cause)

	spans := tracer.Spans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if !errors.Is(spans[0].Error, cause) {
		t.Errorf("span error = %v, want %v", spans[0].Error, cause)
	}
}

func TestSimpleTracerParentChild(t *testing.T) {
	tracer := NewSimpleTracer()

	ctx, endParent := tracer.StartSpan(context.Background(), SpanReceive)
	_, endChild := tracer.StartSpan(ctx, SpanSend)
	endChild(nil)
	endParent(nil)

	spans := tracer.Spans()
	if len(spans) != 2 {
		t.Fatalf("recorded %d spans, want 2", len(spans))
	}

	child, parent := spans[0], spans[1]
	if child.ParentID != parent.SpanID {
		t.Error("child span not linked to parent")
	}
	if child.TraceID != parent.TraceID {
		t.Error("child span not in parent's trace")
	}
}

func TestSimpleTracerReset(t *testing.T) {
	tracer := NewSimpleTracer()

	_, end := tracer.StartSpan(context.Background(), SpanClose)
	end(nil)
	tracer.Reset()

	if len(tracer.Spans()) != 0 {
		t.Error("Reset did not clear spans")
	}
}

func TestNoOpTracer(t *testing.T) {
	tracer := NoOpTracer{}
	ctx, end := tracer.StartSpan(context.Background(), "anything")
	if ctx == nil {
		t.Fatal("NoOpTracer returned nil context")
	}
	end(errors.New("ignored"))
}

func TestGlobalTracer(t *testing.T) {
	orig := GetTracer()
	defer SetTracer(orig)

	tracer := NewSimpleTracer()
	SetTracer(tracer)

	_, end := StartSpan(context.Background(), SpanRetransmit)
	end(nil)

	if len(tracer.Spans()) != 1 {
		t.Error("global StartSpan did not use the configured tracer")
	}
}

func TestSpanAttributesToMap(t *testing.T) {
	attrs := SpanAttributes{
		SessionID: "abc",
		Role:      "responder",
		Seq:       12,
		Bytes:     512,
	}

	m := attrs.ToMap()
	if m["session.id"] != "abc" || m["session.role"] != "responder" {
		t.Error("session attributes missing")
	}
	if m["frame.seq"] != uint64(12) || m["frame.bytes"] != 512 {
		t.Error("frame attributes missing")
	}
	if _, ok := m["error.message"]; ok {
		t.Error("empty error should be omitted")
	}

	empty := SpanAttributes{}
	if len(empty.ToMap()) != 0 {
		t.Error("zero attributes should produce an empty map")
	}
}

func TestOTelTracerWithoutTag(t *testing.T) {
	// The default build excludes the OpenTelemetry adapter; the stub must
	// still satisfy the Tracer interface.
	if OTelEnabled() {
		t.Skip("built with -tags otel")
	}

	var tracer Tracer = NewOTelTracer("qschat")
	ctx, end := tracer.StartSpan(context.Background(), SpanSend)
	if ctx == nil {
		t.Fatal("stub tracer returned nil context")
	}
	end(nil)
}
