// Package channel implements the stage106 secure point-to-point channel:
// a QKD-hybrid handshake followed by an acknowledged, strictly ordered
// record protocol.
//
// The channel provides:
//   - Session keys mixing a pre-shared QKD secret with an ephemeral X25519
//     agreement, so both the pre-shared key and the key exchange must be
//     broken to recover traffic
//   - AES-256-GCM records with deterministic direction-separated nonces
//   - Reliable delivery through per-record ACKs and bounded retransmission
//   - Strict in-order replay rejection (no reordering window)
//   - Orderly CLOSE teardown with key zeroization on every exit path
//
// A Session owns its net.Conn. After Handshake succeeds, one internal
// goroutine reads frames and dispatches them; Send blocks until the record
// is acknowledged or its retry budget is exhausted; Receive yields decrypted
// application payloads in arrival order.
package channel

import (
	"encoding/hex"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mokkunsuzuki-code/stage106/internal/constants"
	qerrors "github.com/mokkunsuzuki-code/stage106/internal/errors"
	"github.com/mokkunsuzuki-code/stage106/pkg/crypto"
	"github.com/mokkunsuzuki-code/stage106/pkg/keymat"
	"github.com/mokkunsuzuki-code/stage106/pkg/metrics"
	"github.com/mokkunsuzuki-code/stage106/pkg/protocol"
)

// SessionState represents the current state of a channel session.
type SessionState int32

const (
	// StateInit indicates a fresh session that has not handshaked
	StateInit SessionState = iota

	// StateHelloSent indicates this endpoint's HELLO is on the wire
	StateHelloSent

	// StateEstablished indicates the session key is installed and the
	// record layer is live
	StateEstablished

	// StateClosing indicates a CLOSE has been sent and the session is
	// waiting for the peer's CLOSE echo
	StateClosing

	// StateClosed indicates the session is terminated and its key
	// material has been zeroized
	StateClosed
)

// String returns a human-readable name for the session state.
func (s SessionState) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateHelloSent:
		return "HelloSent"
	case StateEstablished:
		return "Established"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Role indicates whether this endpoint initiated the connection.
type Role int

const (
	RoleInitiator Role = iota
	RoleResponder
)

// String returns the role name used in logs and span attributes.
func (r Role) String() string {
	if r == RoleInitiator {
		return "initiator"
	}
	return "responder"
}

// nonceByte returns the record-nonce role marker for frames this endpoint
// encrypts.
func (r Role) nonceByte() byte {
	if r == RoleInitiator {
		return constants.NonceRoleInitiator
	}
	return constants.NonceRoleResponder
}

// peerNonceByte returns the role marker expected on frames the peer
// encrypts.
func (r Role) peerNonceByte() byte {
	if r == RoleInitiator {
		return constants.NonceRoleResponder
	}
	return constants.NonceRoleInitiator
}

// Config carries the key material, authentication hooks, and tuning knobs
// for a session. The zero value is not usable: QKDKey is required.
type Config struct {
	// QKDKey is the pre-shared 32-byte secret. Required; both peers must
	// hold the same key or every record will fail authentication.
	QKDKey *keymat.QKDKey

	// Signer, when set on a responder, signs the handshake transcript and
	// attaches the signature to the responder HELLO.
	Signer crypto.Signer

	// Verifier, when set on an initiator, makes the responder's transcript
	// signature mandatory and rejects handshakes whose signature is
	// missing or invalid.
	Verifier crypto.Verifier

	// AckTimeout is how long a DATA frame waits for its ACK before each
	// retransmission. Zero means DefaultAckTimeout.
	AckTimeout time.Duration

	// MaxRetries is how many times an unacknowledged DATA frame is
	// retransmitted before Send fails. Zero means DefaultMaxRetries;
	// negative disables retransmission.
	MaxRetries int

	// HandshakeTimeout bounds the whole HELLO exchange. Zero means
	// DefaultHandshakeTimeout.
	HandshakeTimeout time.Duration

	// Collector, Tracer, and Logger feed the session observer. Nil values
	// fall back to the package globals in pkg/metrics.
	Collector *metrics.Collector
	Tracer    metrics.Tracer
	Logger    *metrics.Logger
}

func (c Config) withDefaults() Config {
	if c.AckTimeout <= 0 {
		c.AckTimeout = constants.DefaultAckTimeout
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = constants.DefaultMaxRetries
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = constants.DefaultHandshakeTimeout
	}
	return c
}

func (c Config) validate() error {
	if c.QKDKey == nil {
		return fmt.Errorf("%w: no QKD key configured", qerrors.ErrKeyLoad)
	}
	if len(c.QKDKey.Bytes()) != constants.QKDKeySize {
		return fmt.Errorf("%w: QKD key has %d bytes", qerrors.ErrKeyLength, len(c.QKDKey.Bytes()))
	}
	return nil
}

// Session is one end of a secure channel over a single connection.
type Session struct {
	id   string
	role Role
	conn net.Conn

	cfg   Config
	codec *protocol.Codec

	state       atomic.Int32
	established atomic.Bool
	failed      atomic.Bool

	// mu guards the session key and cipher.
	mu         sync.RWMutex
	aead       *crypto.AEAD
	sessionKey []byte

	// sendSeq is this direction's record counter; the first DATA frame
	// carries sequence 1.
	sendSeq atomic.Uint64

	// lastAccepted is the highest inbound DATA sequence accepted so far.
	// Written only by the read loop; read concurrently by Stats.
	lastAccepted atomic.Uint64

	// pending maps outstanding DATA sequences to channels closed when the
	// matching ACK arrives. Nil once the session is torn down.
	pendingMu sync.Mutex
	pending   map[uint64]chan struct{}

	// writeMu serializes frame writes so records, ACKs, and CLOSE frames
	// from different goroutines never interleave.
	writeMu sync.Mutex

	// inbound delivers decrypted payloads to Receive. Closed by the read
	// loop on exit; the terminal error is stored first.
	inbound chan []byte

	// done is closed on teardown and releases every blocked Send.
	done chan struct{}

	// closeEcho is closed by the read loop when the peer answers our
	// CLOSE with its own.
	closeEcho chan struct{}

	closeOnce sync.Once
	errOnce   sync.Once
	termErr   error

	observer *metrics.ChannelObserver

	createdAt     time.Time
	establishedAt time.Time

	bytesSent       atomic.Uint64
	bytesReceived   atomic.Uint64
	recordsSent     atomic.Uint64
	recordsReceived atomic.Uint64
}

// inboundBuffer bounds how many decrypted records can wait for Receive
// before the read loop exerts backpressure on the peer.
const inboundBuffer = 32

// NewSession wraps conn in an unestablished session. The session owns the
// connection from here on; Handshake must be called next.
func NewSession(conn net.Conn, role Role, cfg Config) (*Session, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	id, err := newSessionID()
	if err != nil {
		return nil, err
	}

	s := &Session{
		id:        id,
		role:      role,
		conn:      conn,
		cfg:       cfg,
		codec:     protocol.NewCodec(),
		pending:   make(map[uint64]chan struct{}),
		inbound:   make(chan []byte, inboundBuffer),
		done:      make(chan struct{}),
		closeEcho: make(chan struct{}),
		createdAt: time.Now(),
	}
	s.state.Store(int32(StateInit))

	s.observer = metrics.NewChannelObserver(metrics.ChannelObserverConfig{
		Collector: cfg.Collector,
		Tracer:    cfg.Tracer,
		Logger:    cfg.Logger,
		SessionID: id,
		Role:      role.String(),
	})
	s.observer.OnSessionStart()

	return s, nil
}

func newSessionID() (string, error) {
	b, err := crypto.SecureRandomBytes(8)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// ID returns the session's random identifier, used in logs and the manager
// registry.
func (s *Session) ID() string {
	return s.id
}

// Role returns this endpoint's role.
func (s *Session) Role() Role {
	return s.role
}

// State returns the current session state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// LocalAddr returns the local network address.
func (s *Session) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// RemoteAddr returns the peer's network address.
func (s *Session) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// Observer returns the session's observability hooks, so callers layering
// behavior on top (heartbeats, for example) can record through the same
// collector and logger.
func (s *Session) Observer() *metrics.ChannelObserver {
	return s.observer
}

// installKey installs the derived session key and cipher and moves the
// session to Established. The session takes ownership of key and zeroizes
// it on teardown.
func (s *Session) installKey(key []byte) error {
	aead, err := crypto.NewAEAD(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if SessionState(s.state.Load()) == StateClosed {
		return qerrors.ErrSessionClosed
	}

	s.sessionKey = key
	s.aead = aead
	s.establishedAt = time.Now()
	s.established.Store(true)
	s.state.Store(int32(StateEstablished))

	return nil
}

// cipher returns the record cipher, or nil when the session holds no key.
func (s *Session) cipher() *crypto.AEAD {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.aead
}

// fail records the first terminal error. Later calls are ignored; the read
// loop publishes the stored error by closing the inbound channel.
func (s *Session) fail(err error) {
	s.errOnce.Do(func() {
		s.termErr = err
	})
}

// terminalError returns the stored terminal error, or ErrSessionClosed for
// an orderly teardown.
func (s *Session) terminalError() error {
	if s.termErr != nil {
		return s.termErr
	}
	return qerrors.ErrSessionClosed
}

// teardown finalizes the session exactly once: key zeroized, pending sends
// released, connection closed. Safe to call from any goroutine and on any
// failure path.
func (s *Session) teardown() {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosed))
		close(s.done)

		s.mu.Lock()
		if s.sessionKey != nil {
			crypto.Zeroize(s.sessionKey)
			s.sessionKey = nil
		}
		s.aead = nil
		s.mu.Unlock()

		s.pendingMu.Lock()
		s.pending = nil
		s.pendingMu.Unlock()

		_ = s.conn.Close()

		// A handshake failure already settled the session counters.
		if !s.failed.Load() {
			s.observer.OnSessionClosed()
		}
	})
}

// Close performs the orderly CLOSE exchange and tears the session down.
// On an established session it sends a CLOSE frame, waits briefly for the
// peer's CLOSE echo, and then zeroizes the key; on any other state it tears
// down immediately. Close is idempotent.
func (s *Session) Close() error {
	for {
		st := s.State()
		switch st {
		case StateClosed:
			return nil

		case StateClosing:
			// Another goroutine is mid-close; wait for it.
			<-s.done
			return nil

		case StateInit, StateHelloSent:
			if !s.state.CompareAndSwap(int32(st), int32(StateClosing)) {
				continue
			}
			s.teardown()
			return nil

		case StateEstablished:
			if !s.state.CompareAndSwap(int32(st), int32(StateClosing)) {
				continue
			}

			closeFrame := &protocol.Frame{
				Type: constants.FrameClose,
				Seq:  s.sendSeq.Add(1),
			}
			if err := s.writeFrame(closeFrame); err != nil {
				s.teardown()
				return nil
			}

			// Bounded wait for the peer's CLOSE echo; teardown happens
			// either way.
			timer := time.NewTimer(s.cfg.AckTimeout)
			select {
			case <-s.closeEcho:
			case <-timer.C:
			case <-s.done:
			}
			timer.Stop()

			s.teardown()
			return nil
		}
	}
}

// Stats is a point-in-time snapshot of session counters.
type Stats struct {
	BytesSent       uint64
	BytesReceived   uint64
	RecordsSent     uint64
	RecordsReceived uint64
	LastAccepted    uint64
	Duration        time.Duration
	State           SessionState
}

// Stats returns current session statistics. Byte counts are plaintext
// sizes, not wire sizes.
func (s *Session) Stats() Stats {
	return Stats{
		BytesSent:       s.bytesSent.Load(),
		BytesReceived:   s.bytesReceived.Load(),
		RecordsSent:     s.recordsSent.Load(),
		RecordsReceived: s.recordsReceived.Load(),
		LastAccepted:    s.lastAccepted.Load(),
		Duration:        time.Since(s.createdAt),
		State:           s.State(),
	}
}
