// manager.go implements the multi-session server side of the channel.
//
// Every accepted connection gets its own goroutine and its own Session, so
// no cryptographic state is shared between connections and one failed
// session cannot disturb another. The registry mutex is taken only on
// register, unregister, and administrative operations (snapshot, broadcast,
// shutdown), never on the per-record path, which is session-internal.
package channel

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	qerrors "github.com/mokkunsuzuki-code/stage106/internal/errors"
	"github.com/mokkunsuzuki-code/stage106/pkg/message"
	"github.com/mokkunsuzuki-code/stage106/pkg/metrics"
)

// Handler consumes application envelopes delivered on a served session.
// Heartbeats never reach the handler; the manager answers them itself.
type Handler func(sess *Session, env *message.Envelope)

// Manager accepts connections and runs one responder session per client.
type Manager struct {
	cfg    Config
	logger *metrics.Logger

	mu       sync.Mutex
	listener net.Listener
	sessions map[string]*Session
	closed   bool

	wg sync.WaitGroup
}

// NewManager creates a manager serving sessions with the given config.
func NewManager(cfg Config) (*Manager, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = metrics.GetLogger()
	}

	return &Manager{
		cfg:      cfg,
		logger:   logger.Named("manager"),
		sessions: make(map[string]*Session),
	}, nil
}

// Listen opens the listening socket. Serve must be called next.
func (m *Manager) Listen(network, address string) error {
	ln, err := net.Listen(network, address)
	if err != nil {
		return qerrors.NewTransportError("listen", err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = ln.Close()
		return qerrors.ErrManagerClosed
	}
	m.listener = ln
	m.mu.Unlock()

	m.logger.Info("listening", metrics.Fields{"addr": ln.Addr().String()})
	return nil
}

// Addr returns the listener's address, or nil before Listen.
func (m *Manager) Addr() net.Addr {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listener == nil {
		return nil
	}
	return m.listener.Addr()
}

// Serve accepts connections until Shutdown closes the listener. Each
// connection is handshaked and served on its own goroutine; handler
// receives every decoded envelope except heartbeats.
func (m *Manager) Serve(handler Handler) error {
	m.mu.Lock()
	ln := m.listener
	m.mu.Unlock()
	if ln == nil {
		return fmt.Errorf("channel: Serve called before Listen")
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			if m.isClosed() {
				return nil
			}
			return qerrors.NewTransportError("accept", err)
		}

		m.wg.Add(1)
		go m.handleConn(conn, handler)
	}
}

// handleConn runs the full life of one accepted connection: handshake,
// registration, record serving, teardown.
func (m *Manager) handleConn(conn net.Conn, handler Handler) {
	defer m.wg.Done()

	sess, err := NewSession(conn, RoleResponder, m.cfg)
	if err != nil {
		m.logger.Error("session setup failed", metrics.Fields{
			"remote": conn.RemoteAddr().String(),
			"error":  err.Error(),
		})
		_ = conn.Close()
		return
	}

	if err := sess.Handshake(context.Background()); err != nil {
		m.logger.Warn("handshake rejected", metrics.Fields{
			"remote": conn.RemoteAddr().String(),
			"error":  err.Error(),
		})
		return
	}

	if err := m.register(sess); err != nil {
		_ = sess.Close()
		return
	}
	defer m.unregister(sess)
	defer func() { _ = sess.Close() }()

	m.serveSession(sess, handler)
}

// serveSession pumps decoded envelopes into the handler until the session
// ends. Heartbeats are answered in place with an acknowledgement echoing
// the sender's timestamp.
func (m *Manager) serveSession(sess *Session, handler Handler) {
	for {
		payload, err := sess.Receive()
		if err != nil {
			if !qerrors.Is(err, qerrors.ErrSessionClosed) {
				m.logger.Warn("session ended", metrics.Fields{
					"session_id": sess.ID(),
					"error":      err.Error(),
				})
			}
			return
		}

		env, err := message.Decode(payload)
		if err != nil {
			// A malformed envelope inside an authenticated record is an
			// application bug, not an attack; drop it and keep serving.
			m.logger.Warn("malformed envelope", metrics.Fields{
				"session_id": sess.ID(),
				"error":      err.Error(),
			})
			continue
		}

		if env.Type == message.KindHeartbeat {
			ack := message.NewHeartbeatAck(env, time.Now())
			if err := sess.SendEnvelope(ack); err != nil {
				m.logger.Warn("heartbeat ack failed", metrics.Fields{
					"session_id": sess.ID(),
					"error":      err.Error(),
				})
			}
			continue
		}

		if handler != nil {
			handler(sess, env)
		}
	}
}

// register adds a session to the registry.
func (m *Manager) register(sess *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return qerrors.ErrManagerClosed
	}
	m.sessions[sess.ID()] = sess

	m.logger.Info("session registered", metrics.Fields{
		"session_id": sess.ID(),
		"remote":     sess.RemoteAddr().String(),
		"active":     len(m.sessions),
	})
	return nil
}

// unregister removes a session from the registry.
func (m *Manager) unregister(sess *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sess.ID())

	m.logger.Info("session unregistered", metrics.Fields{
		"session_id": sess.ID(),
		"active":     len(m.sessions),
	})
}

// ActiveSessions returns the number of registered sessions.
func (m *Manager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sessions returns a snapshot of the registered sessions.
func (m *Manager) Sessions() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		out = append(out, sess)
	}
	return out
}

// Broadcast sends one envelope to every registered session concurrently and
// returns how many sessions acknowledged it.
func (m *Manager) Broadcast(env *message.Envelope) int {
	payload, err := env.Encode()
	if err != nil {
		m.logger.Warn("broadcast encode failed", metrics.Fields{"error": err.Error()})
		return 0
	}

	sessions := m.Sessions()

	var delivered atomic.Int64
	var wg sync.WaitGroup
	for _, sess := range sessions {
		wg.Add(1)
		go func(sess *Session) {
			defer wg.Done()
			if err := sess.Send(payload); err == nil {
				delivered.Add(1)
			}
		}(sess)
	}
	wg.Wait()

	return int(delivered.Load())
}

// Shutdown stops accepting, closes every session (cancelling their pending
// retransmissions and zeroizing their keys), and waits for the per-session
// goroutines to finish or the context to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	ln := m.listener
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}

	var wg sync.WaitGroup
	for _, sess := range sessions {
		wg.Add(1)
		go func(sess *Session) {
			defer wg.Done()
			_ = sess.Close()
		}(sess)
	}
	wg.Wait()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("manager stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Dial connects to a server, runs the initiator handshake, and returns the
// established session. The connection is closed on any failure.
func Dial(ctx context.Context, network, address string, cfg Config) (*Session, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, qerrors.NewTransportError("dial", err)
	}

	sess, err := NewSession(conn, RoleInitiator, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	if err := sess.Handshake(ctx); err != nil {
		return nil, err
	}
	return sess, nil
}
