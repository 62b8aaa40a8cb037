package channel

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/mokkunsuzuki-code/stage106/internal/constants"
	qerrors "github.com/mokkunsuzuki-code/stage106/internal/errors"
	"github.com/mokkunsuzuki-code/stage106/pkg/keymat"
	"github.com/mokkunsuzuki-code/stage106/pkg/metrics"
)

// testQKDBytes returns the pre-shared secret both test endpoints hold.
func testQKDBytes() []byte {
	key := make([]byte, constants.QKDKeySize)
	for i := range key {
		key[i] = byte(i + 1)
	}
	return key
}

func testQKDKey(t *testing.T) *keymat.QKDKey {
	t.Helper()
	key, err := keymat.NewQKDKey(testQKDBytes())
	if err != nil {
		t.Fatalf("NewQKDKey failed: %v", err)
	}
	return key
}

// testConfig builds a session config with short timeouts and isolated
// observability so tests never touch the package globals.
func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		QKDKey:     testQKDKey(t),
		AckTimeout: 150 * time.Millisecond,
		Collector:  metrics.NewCollector(nil),
		Tracer:     metrics.NewSimpleTracer(),
		Logger:     metrics.NullLogger(),
	}
}

// handshakePair runs both handshakes concurrently over an in-memory pipe and
// returns the sessions together with their handshake results.
func handshakePair(t *testing.T, initCfg, respCfg Config) (*Session, *Session, error, error) {
	t.Helper()

	clientConn, serverConn := net.Pipe()

	initiator, err := NewSession(clientConn, RoleInitiator, initCfg)
	if err != nil {
		t.Fatalf("NewSession(initiator) failed: %v", err)
	}
	responder, err := NewSession(serverConn, RoleResponder, respCfg)
	if err != nil {
		t.Fatalf("NewSession(responder) failed: %v", err)
	}

	initCh := make(chan error, 1)
	respCh := make(chan error, 1)
	go func() { initCh <- initiator.Handshake(context.Background()) }()
	go func() { respCh <- responder.Handshake(context.Background()) }()

	initErr := <-initCh
	respErr := <-respCh

	t.Cleanup(func() {
		_ = initiator.Close()
		_ = responder.Close()
	})

	return initiator, responder, initErr, respErr
}

// newSessionPair establishes both ends of a channel and fails the test if
// either handshake does.
func newSessionPair(t *testing.T) (*Session, *Session) {
	t.Helper()

	initiator, responder, initErr, respErr := handshakePair(t, testConfig(t), testConfig(t))
	if initErr != nil {
		t.Fatalf("initiator handshake failed: %v", initErr)
	}
	if respErr != nil {
		t.Fatalf("responder handshake failed: %v", respErr)
	}
	return initiator, responder
}

// sessionKeyOf exposes the installed session key for white-box assertions.
func sessionKeyOf(s *Session) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionKey
}

// waitForState polls until the session reaches the wanted state.
func waitForState(t *testing.T, s *Session, want SessionState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session state = %v, want %v", s.State(), want)
}

func TestSessionStateString(t *testing.T) {
	cases := map[SessionState]string{
		StateInit:        "Init",
		StateHelloSent:   "HelloSent",
		StateEstablished: "Established",
		StateClosing:     "Closing",
		StateClosed:      "Closed",
		SessionState(99): "Unknown",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("SessionState(%d).String() = %q, want %q", state, got, want)
		}
	}
}

func TestRoleNonceBytes(t *testing.T) {
	if RoleInitiator.String() != "initiator" || RoleResponder.String() != "responder" {
		t.Errorf("unexpected role names: %q, %q", RoleInitiator, RoleResponder)
	}

	if RoleInitiator.nonceByte() != constants.NonceRoleInitiator {
		t.Errorf("initiator nonce byte = %#x", RoleInitiator.nonceByte())
	}
	if RoleResponder.nonceByte() != constants.NonceRoleResponder {
		t.Errorf("responder nonce byte = %#x", RoleResponder.nonceByte())
	}

	// Each side must expect exactly what the other side stamps.
	if RoleInitiator.peerNonceByte() != RoleResponder.nonceByte() {
		t.Error("initiator expects a different byte than the responder stamps")
	}
	if RoleResponder.peerNonceByte() != RoleInitiator.nonceByte() {
		t.Error("responder expects a different byte than the initiator stamps")
	}
}

func TestNewSessionRequiresKey(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer func() { _ = clientConn.Close() }()
	defer func() { _ = serverConn.Close() }()

	_, err := NewSession(clientConn, RoleInitiator, Config{})
	if err == nil {
		t.Fatal("expected error for missing QKD key")
	}
	if !qerrors.Is(err, qerrors.ErrKeyLoad) {
		t.Errorf("error = %v, want ErrKeyLoad kind", err)
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()

	if cfg.AckTimeout != constants.DefaultAckTimeout {
		t.Errorf("AckTimeout = %v, want %v", cfg.AckTimeout, constants.DefaultAckTimeout)
	}
	if cfg.MaxRetries != constants.DefaultMaxRetries {
		t.Errorf("MaxRetries = %d, want %d", cfg.MaxRetries, constants.DefaultMaxRetries)
	}
	if cfg.HandshakeTimeout != constants.DefaultHandshakeTimeout {
		t.Errorf("HandshakeTimeout = %v, want %v", cfg.HandshakeTimeout, constants.DefaultHandshakeTimeout)
	}

	// Negative disables retransmission rather than falling back.
	cfg = Config{MaxRetries: -1}.withDefaults()
	if cfg.MaxRetries != -1 {
		t.Errorf("MaxRetries = %d, want -1 preserved", cfg.MaxRetries)
	}
}

func TestNewSessionUniqueIDs(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 16; i++ {
		clientConn, serverConn := net.Pipe()
		sess, err := NewSession(clientConn, RoleInitiator, testConfig(t))
		if err != nil {
			t.Fatalf("NewSession failed: %v", err)
		}
		if seen[sess.ID()] {
			t.Fatalf("duplicate session ID %q", sess.ID())
		}
		seen[sess.ID()] = true
		_ = sess.Close()
		_ = serverConn.Close()
	}
}

func TestSendBeforeEstablished(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer func() { _ = serverConn.Close() }()

	sess, err := NewSession(clientConn, RoleInitiator, testConfig(t))
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	defer func() { _ = sess.Close() }()

	if err := sess.Send([]byte("too early")); !qerrors.Is(err, qerrors.ErrSessionNotEstablished) {
		t.Errorf("Send before handshake = %v, want ErrSessionNotEstablished", err)
	}
}

func TestCloseBeforeHandshake(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer func() { _ = serverConn.Close() }()

	sess, err := NewSession(clientConn, RoleInitiator, testConfig(t))
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}

	if err := sess.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if sess.State() != StateClosed {
		t.Errorf("state after Close = %v, want Closed", sess.State())
	}
	if err := sess.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}
}

func TestCloseExchange(t *testing.T) {
	initiator, responder := newSessionPair(t)

	if err := initiator.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	waitForState(t, initiator, StateClosed)
	waitForState(t, responder, StateClosed)

	if _, err := responder.Receive(); !qerrors.Is(err, qerrors.ErrSessionClosed) {
		t.Errorf("Receive after remote close = %v, want ErrSessionClosed", err)
	}
	if err := initiator.Send([]byte("late")); !qerrors.Is(err, qerrors.ErrSessionClosed) {
		t.Errorf("Send after Close = %v, want ErrSessionClosed", err)
	}
	if err := responder.Send([]byte("late")); !qerrors.Is(err, qerrors.ErrSessionClosed) {
		t.Errorf("peer Send after close = %v, want ErrSessionClosed", err)
	}
}

func TestRemoteCloseUnblocksReceive(t *testing.T) {
	initiator, responder := newSessionPair(t)

	recvErr := make(chan error, 1)
	go func() {
		_, err := responder.Receive()
		recvErr <- err
	}()

	if err := initiator.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	select {
	case err := <-recvErr:
		if !qerrors.Is(err, qerrors.ErrSessionClosed) {
			t.Errorf("blocked Receive returned %v, want ErrSessionClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Receive still blocked after remote close")
	}
}

func TestCloseZeroizesSessionKeys(t *testing.T) {
	initiator, responder := newSessionPair(t)

	initKey := sessionKeyOf(initiator)
	respKey := sessionKeyOf(responder)
	if len(initKey) != constants.SessionKeySize {
		t.Fatalf("session key length = %d, want %d", len(initKey), constants.SessionKeySize)
	}

	nonzero := false
	for _, b := range initKey {
		if b != 0 {
			nonzero = true
			break
		}
	}
	if !nonzero {
		t.Fatal("session key is all zero before close")
	}

	if err := initiator.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	waitForState(t, initiator, StateClosed)
	waitForState(t, responder, StateClosed)

	// The captured slices alias the live key buffers; teardown must have
	// overwritten them in place.
	for i, b := range initKey {
		if b != 0 {
			t.Fatalf("initiator key byte %d = %#x after close, want 0", i, b)
		}
	}
	for i, b := range respKey {
		if b != 0 {
			t.Fatalf("responder key byte %d = %#x after close, want 0", i, b)
		}
	}
}

func TestSimultaneousClose(t *testing.T) {
	initiator, responder := newSessionPair(t)

	errCh := make(chan error, 2)
	go func() { errCh <- initiator.Close() }()
	go func() { errCh <- responder.Close() }()

	for i := 0; i < 2; i++ {
		select {
		case err := <-errCh:
			if err != nil {
				t.Errorf("Close returned %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Close did not return")
		}
	}

	waitForState(t, initiator, StateClosed)
	waitForState(t, responder, StateClosed)
}

func TestStatsCounters(t *testing.T) {
	initiator, responder := newSessionPair(t)

	payloads := [][]byte{
		[]byte("first record"),
		[]byte("second"),
	}

	recvDone := make(chan error, 1)
	go func() {
		for range payloads {
			if _, err := responder.Receive(); err != nil {
				recvDone <- err
				return
			}
		}
		recvDone <- nil
	}()

	var sentBytes uint64
	for _, p := range payloads {
		if err := initiator.Send(p); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
		sentBytes += uint64(len(p))
	}
	if err := <-recvDone; err != nil {
		t.Fatalf("Receive failed: %v", err)
	}

	sent := initiator.Stats()
	if sent.RecordsSent != 2 || sent.BytesSent != sentBytes {
		t.Errorf("sender stats = %d records / %d bytes, want 2 / %d",
			sent.RecordsSent, sent.BytesSent, sentBytes)
	}
	if sent.State != StateEstablished {
		t.Errorf("sender state = %v, want Established", sent.State)
	}
	if sent.Duration <= 0 {
		t.Error("sender duration not positive")
	}

	recv := responder.Stats()
	if recv.RecordsReceived != 2 || recv.BytesReceived != sentBytes {
		t.Errorf("receiver stats = %d records / %d bytes, want 2 / %d",
			recv.RecordsReceived, recv.BytesReceived, sentBytes)
	}
	if recv.LastAccepted != 2 {
		t.Errorf("receiver last accepted = %d, want 2", recv.LastAccepted)
	}
}
