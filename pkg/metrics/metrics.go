package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Collector aggregates metrics across all channel sessions of a process.
type Collector struct {
	// Session lifecycle
	sessionsActive      atomic.Uint64
	sessionsTotal       atomic.Uint64
	sessionsEstablished atomic.Uint64
	sessionsFailed      atomic.Uint64
	sessionsClosed      atomic.Uint64
	handshakeDuration   *Histogram

	// Traffic
	framesSent     atomic.Uint64
	framesReceived atomic.Uint64
	bytesSent      atomic.Uint64
	bytesReceived  atomic.Uint64

	// Reliability
	retransmissions  atomic.Uint64
	deliveryFailures atomic.Uint64

	// Security
	replaysRejected atomic.Uint64
	authFailures    atomic.Uint64

	// Heartbeats
	heartbeatsSent  atomic.Uint64
	heartbeatsAcked atomic.Uint64
	heartbeatRTT    *Histogram

	createdAt time.Time
	labels    Labels
}

// Labels represents key-value pairs attached to every exported metric.
type Labels map[string]string

// Default bucket boundaries, both in milliseconds.
var (
	// HandshakeDurationBuckets covers LAN handshakes through slow WAN
	// links with signature verification.
	HandshakeDurationBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000}

	// HeartbeatRTTBuckets covers application-level round trips.
	HeartbeatRTTBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000}
)

// NewCollector creates a new metrics collector.
func NewCollector(labels Labels) *Collector {
	if labels == nil {
		labels = make(Labels)
	}
	return &Collector{
		handshakeDuration: NewHistogram(HandshakeDurationBuckets),
		heartbeatRTT:      NewHistogram(HeartbeatRTTBuckets),
		createdAt:         time.Now(),
		labels:            labels,
	}
}

// --- Session Lifecycle ---

// SessionStarted records a new session attempt.
func (c *Collector) SessionStarted() {
	c.sessionsActive.Add(1)
	c.sessionsTotal.Add(1)
}

// SessionEstablished records a handshake that completed.
func (c *Collector) SessionEstablished() {
	c.sessionsEstablished.Add(1)
}

// SessionFailed records a session that never reached the established state.
func (c *Collector) SessionFailed() {
	c.sessionsFailed.Add(1)
	c.sessionEnded()
}

// SessionClosed records an orderly teardown.
func (c *Collector) SessionClosed() {
	c.sessionsClosed.Add(1)
	c.sessionEnded()
}

func (c *Collector) sessionEnded() {
	for {
		current := c.sessionsActive.Load()
		if current == 0 {
			return
		}
		if c.sessionsActive.CompareAndSwap(current, current-1) {
			return
		}
	}
}

// RecordHandshakeDuration records how long a handshake took.
func (c *Collector) RecordHandshakeDuration(d time.Duration) {
	c.handshakeDuration.Observe(float64(d.Milliseconds()))
}

// --- Traffic ---

// RecordFrameSent counts one outbound frame of n wire bytes.
func (c *Collector) RecordFrameSent(n int) {
	c.framesSent.Add(1)
	c.bytesSent.Add(uint64(n))
}

// RecordFrameReceived counts one inbound frame of n wire bytes.
func (c *Collector) RecordFrameReceived(n int) {
	c.framesReceived.Add(1)
	c.bytesReceived.Add(uint64(n))
}

// --- Reliability ---

// RecordRetransmission counts one DATA frame resend.
func (c *Collector) RecordRetransmission() {
	c.retransmissions.Add(1)
}

// RecordDeliveryFailure counts a frame abandoned after retry exhaustion.
func (c *Collector) RecordDeliveryFailure() {
	c.deliveryFailures.Add(1)
}

// --- Security ---

// RecordReplayRejected counts a frame dropped by sequence enforcement.
func (c *Collector) RecordReplayRejected() {
	c.replaysRejected.Add(1)
}

// RecordAuthFailure counts a GCM tag verification failure.
func (c *Collector) RecordAuthFailure() {
	c.authFailures.Add(1)
}

// --- Heartbeats ---

// RecordHeartbeatSent counts an outbound heartbeat.
func (c *Collector) RecordHeartbeatSent() {
	c.heartbeatsSent.Add(1)
}

// RecordHeartbeatAcked counts an acknowledged heartbeat and its round trip.
func (c *Collector) RecordHeartbeatAcked(rtt time.Duration) {
	c.heartbeatsAcked.Add(1)
	c.heartbeatRTT.Observe(float64(rtt.Milliseconds()))
}

// --- Snapshot ---

// Snapshot is a point-in-time copy of all metrics.
type Snapshot struct {
	Timestamp time.Time
	Uptime    time.Duration

	SessionsActive      uint64
	SessionsTotal       uint64
	SessionsEstablished uint64
	SessionsFailed      uint64
	SessionsClosed      uint64

	FramesSent     uint64
	FramesReceived uint64
	BytesSent      uint64
	BytesReceived  uint64

	Retransmissions  uint64
	DeliveryFailures uint64

	ReplaysRejected uint64
	AuthFailures    uint64

	HeartbeatsSent  uint64
	HeartbeatsAcked uint64

	HandshakeDuration HistogramSummary
	HeartbeatRTT      HistogramSummary

	Labels Labels
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		Timestamp:           time.Now(),
		Uptime:              time.Since(c.createdAt),
		SessionsActive:      c.sessionsActive.Load(),
		SessionsTotal:       c.sessionsTotal.Load(),
		SessionsEstablished: c.sessionsEstablished.Load(),
		SessionsFailed:      c.sessionsFailed.Load(),
		SessionsClosed:      c.sessionsClosed.Load(),
		FramesSent:          c.framesSent.Load(),
		FramesReceived:      c.framesReceived.Load(),
		BytesSent:           c.bytesSent.Load(),
		BytesReceived:       c.bytesReceived.Load(),
		Retransmissions:     c.retransmissions.Load(),
		DeliveryFailures:    c.deliveryFailures.Load(),
		ReplaysRejected:     c.replaysRejected.Load(),
		AuthFailures:        c.authFailures.Load(),
		HeartbeatsSent:      c.heartbeatsSent.Load(),
		HeartbeatsAcked:     c.heartbeatsAcked.Load(),
		HandshakeDuration:   c.handshakeDuration.Summary(),
		HeartbeatRTT:        c.heartbeatRTT.Summary(),
		Labels:              c.labels,
	}
}

// Reset clears all metrics (useful for testing).
func (c *Collector) Reset() {
	c.sessionsActive.Store(0)
	c.sessionsTotal.Store(0)
	c.sessionsEstablished.Store(0)
	c.sessionsFailed.Store(0)
	c.sessionsClosed.Store(0)
	c.framesSent.Store(0)
	c.framesReceived.Store(0)
	c.bytesSent.Store(0)
	c.bytesReceived.Store(0)
	c.retransmissions.Store(0)
	c.deliveryFailures.Store(0)
	c.replaysRejected.Store(0)
	c.authFailures.Store(0)
	c.heartbeatsSent.Store(0)
	c.heartbeatsAcked.Store(0)
	c.handshakeDuration.Reset()
	c.heartbeatRTT.Reset()
	c.createdAt = time.Now()
}

// --- Global Collector ---

var (
	globalCollector     *Collector
	globalCollectorOnce sync.Once
)

// Global returns the process-wide collector, creating it on first use.
func Global() *Collector {
	globalCollectorOnce.Do(func() {
		globalCollector = NewCollector(Labels{"instance": "default"})
	})
	return globalCollector
}

// SetGlobal replaces the global collector. Call during initialization,
// before any metrics are recorded.
func SetGlobal(c *Collector) {
	globalCollectorOnce.Do(func() {})
	globalCollector = c
}
