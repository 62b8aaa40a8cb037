package metrics

import (
	"context"
	"time"

	"github.com/mokkunsuzuki-code/stage106/internal/constants"
)

// ChannelObserver bundles the collector, tracer, and logger into the hook
// set the session layer invokes at each lifecycle point. Attaching one
// observer per session keeps the channel code free of observability
// plumbing while still producing per-session log context.
type ChannelObserver struct {
	collector *Collector
	tracer    Tracer
	logger    *Logger
	sessionID string
	role      string
}

// ChannelObserverConfig configures a channel observer. Nil components fall
// back to the package globals.
type ChannelObserverConfig struct {
	Collector *Collector
	Tracer    Tracer
	Logger    *Logger
	SessionID string
	Role      string // "initiator" or "responder"
}

// NewChannelObserver creates an observer for one session.
func NewChannelObserver(cfg ChannelObserverConfig) *ChannelObserver {
	if cfg.Collector == nil {
		cfg.Collector = Global()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = GetTracer()
	}
	if cfg.Logger == nil {
		cfg.Logger = GetLogger()
	}

	return &ChannelObserver{
		collector: cfg.Collector,
		tracer:    cfg.Tracer,
		logger: cfg.Logger.Named("channel").With(Fields{
			"session_id": cfg.SessionID,
			"role":       cfg.Role,
		}),
		sessionID: cfg.SessionID,
		role:      cfg.Role,
	}
}

// OnSessionStart marks the session as attempted.
func (o *ChannelObserver) OnSessionStart() {
	o.collector.SessionStarted()
	o.logger.Info("session started")
}

// OnSessionClosed marks an orderly teardown.
func (o *ChannelObserver) OnSessionClosed() {
	o.collector.SessionClosed()
	o.logger.Info("session closed")
}

// OnHandshakeStart opens the handshake span. The returned function must be
// called when the handshake finishes; it records the duration and settles
// the session's established/failed counters.
func (o *ChannelObserver) OnHandshakeStart(ctx context.Context) (context.Context, func(error)) {
	spanName := SpanHandshakeInitiator
	spanKind := SpanKindClient
	if o.role == "responder" {
		spanName = SpanHandshakeResponder
		spanKind = SpanKindServer
	}

	start := time.Now()
	ctx, endSpan := o.tracer.StartSpan(ctx, spanName, WithSpanKind(spanKind))

	o.logger.Debug("handshake started")

	return ctx, func(err error) {
		duration := time.Since(start)
		o.collector.RecordHandshakeDuration(duration)

		if err != nil {
			o.collector.SessionFailed()
			o.logger.Error("handshake failed", Fields{
				"error":    err.Error(),
				"duration": duration.String(),
			})
		} else {
			o.collector.SessionEstablished()
			o.logger.Info("handshake completed", Fields{
				"duration": duration.String(),
			})
		}

		endSpan(err)
	}
}

// OnFrameSent records an outbound frame and its wire size.
func (o *ChannelObserver) OnFrameSent(frameType constants.FrameType, seq uint64, wireBytes int) {
	o.collector.RecordFrameSent(wireBytes)
	o.logger.Debug("frame sent", Fields{
		"type":  frameType.String(),
		"seq":   seq,
		"bytes": wireBytes,
	})
}

// OnFrameReceived records an inbound frame and its wire size.
func (o *ChannelObserver) OnFrameReceived(frameType constants.FrameType, seq uint64, wireBytes int) {
	o.collector.RecordFrameReceived(wireBytes)
	o.logger.Debug("frame received", Fields{
		"type":  frameType.String(),
		"seq":   seq,
		"bytes": wireBytes,
	})
}

// OnReplayRejected records a frame dropped by sequence enforcement.
func (o *ChannelObserver) OnReplayRejected(seq, lastAccepted uint64) {
	o.collector.RecordReplayRejected()
	o.logger.Warn("replayed or reordered frame rejected", Fields{
		"seq":           seq,
		"last_accepted": lastAccepted,
	})
}

// OnAuthFailure records a record that failed tag verification.
func (o *ChannelObserver) OnAuthFailure(seq uint64) {
	o.collector.RecordAuthFailure()
	o.logger.Warn("record authentication failed", Fields{"seq": seq})
}

// OnRetransmit records one resend of an unacknowledged DATA frame.
func (o *ChannelObserver) OnRetransmit(seq uint64, attempt int) {
	o.collector.RecordRetransmission()
	o.logger.Debug("retransmitting frame", Fields{
		"seq":     seq,
		"attempt": attempt,
	})
}

// OnDeliveryFailure records a frame abandoned after retry exhaustion.
func (o *ChannelObserver) OnDeliveryFailure(seq uint64, attempts int) {
	o.collector.RecordDeliveryFailure()
	o.logger.Error("delivery failed", Fields{
		"seq":      seq,
		"attempts": attempts,
	})
}

// OnHeartbeatSent records an outbound heartbeat.
func (o *ChannelObserver) OnHeartbeatSent() {
	o.collector.RecordHeartbeatSent()
	o.logger.Debug("heartbeat sent")
}

// OnHeartbeatAcked records a completed heartbeat round trip.
func (o *ChannelObserver) OnHeartbeatAcked(rtt time.Duration) {
	o.collector.RecordHeartbeatAcked(rtt)
	o.logger.Info("heartbeat acknowledged", Fields{"rtt": rtt.String()})
}

// Logger returns the observer's session-scoped logger.
func (o *ChannelObserver) Logger() *Logger {
	return o.logger
}
