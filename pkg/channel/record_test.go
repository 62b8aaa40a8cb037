package channel

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/mokkunsuzuki-code/stage106/internal/constants"
	qerrors "github.com/mokkunsuzuki-code/stage106/internal/errors"
	"github.com/mokkunsuzuki-code/stage106/pkg/crypto"
	"github.com/mokkunsuzuki-code/stage106/pkg/message"
	"github.com/mokkunsuzuki-code/stage106/pkg/protocol"
)

// rawPeer drives the wire protocol by hand against a real session, so tests
// can withhold ACKs, replay records, and tamper with ciphertext. All methods
// must be called from the test goroutine.
type rawPeer struct {
	t     *testing.T
	conn  net.Conn
	codec *protocol.Codec
	aead  *crypto.AEAD
}

// newRawPeer performs the responder half of the handshake manually and
// returns a peer holding the same derived session key as the session under
// test.
func newRawPeer(t *testing.T, conn net.Conn, qkd []byte) *rawPeer {
	t.Helper()

	codec := protocol.NewCodec()

	frame, _, err := codec.ReadFrame(conn)
	if err != nil {
		t.Fatalf("rawPeer: read HELLO: %v", err)
	}
	if frame.Type != constants.FrameHello {
		t.Fatalf("rawPeer: first frame type = %v, want HELLO", frame.Type)
	}
	hello, err := codec.ParseHello(frame.Payload)
	if err != nil {
		t.Fatalf("rawPeer: parse HELLO: %v", err)
	}

	keyPair, err := crypto.GenerateX25519KeyPair()
	if err != nil {
		t.Fatalf("rawPeer: generate keypair: %v", err)
	}
	nonce, err := crypto.SecureRandomBytes(constants.HelloNonceSize)
	if err != nil {
		t.Fatalf("rawPeer: generate nonce: %v", err)
	}

	payload, err := codec.EncodeHello(&protocol.HelloPayload{
		PublicKey: keyPair.PublicKeyBytes(),
		Nonce:     nonce,
	})
	if err != nil {
		t.Fatalf("rawPeer: encode HELLO: %v", err)
	}
	if err := codec.WriteFrame(conn, &protocol.Frame{Type: constants.FrameHello, Payload: payload}); err != nil {
		t.Fatalf("rawPeer: write HELLO: %v", err)
	}

	peerPub, err := crypto.ParseX25519PublicKey(hello.PublicKey)
	if err != nil {
		t.Fatalf("rawPeer: parse peer key: %v", err)
	}
	shared, err := crypto.ComputeSharedSecret(keyPair.PrivateKey, peerPub)
	if err != nil {
		t.Fatalf("rawPeer: compute shared secret: %v", err)
	}
	key, err := crypto.DeriveSessionKey(qkd, shared, hello.Nonce, nonce)
	if err != nil {
		t.Fatalf("rawPeer: derive key: %v", err)
	}
	aead, err := crypto.NewAEAD(key)
	if err != nil {
		t.Fatalf("rawPeer: build cipher: %v", err)
	}

	return &rawPeer{t: t, conn: conn, codec: codec, aead: aead}
}

// readFrame returns the next frame from the session under test, failing the
// test if nothing arrives within two seconds.
func (p *rawPeer) readFrame() (*protocol.Frame, []byte) {
	p.t.Helper()
	_ = p.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	defer func() { _ = p.conn.SetReadDeadline(time.Time{}) }()

	frame, rawHeader, err := p.codec.ReadFrame(p.conn)
	if err != nil {
		p.t.Fatalf("rawPeer: read frame: %v", err)
	}
	return frame, rawHeader
}

// expectNoFrame asserts the session stays silent for the given window.
func (p *rawPeer) expectNoFrame(d time.Duration) {
	p.t.Helper()
	_ = p.conn.SetReadDeadline(time.Now().Add(d))
	defer func() { _ = p.conn.SetReadDeadline(time.Time{}) }()

	frame, _, err := p.codec.ReadFrame(p.conn)
	if err == nil {
		p.t.Fatalf("rawPeer: unexpected %v frame seq %d", frame.Type, frame.Seq)
	}
}

// sealRecord builds the complete wire bytes of a responder DATA record for
// the session under test.
func (p *rawPeer) sealRecord(seq uint64, plaintext []byte) []byte {
	p.t.Helper()

	nonce := crypto.RecordNonce(constants.NonceRoleResponder, seq)
	payloadLen := len(plaintext) + p.aead.Overhead()
	header := p.codec.EncodeHeader(constants.FrameData, seq, payloadLen)

	ciphertext, err := p.aead.SealWithNonce(nonce, plaintext, header)
	if err != nil {
		p.t.Fatalf("rawPeer: seal: %v", err)
	}

	wire := make([]byte, 0, len(header)+payloadLen)
	wire = append(wire, header...)
	wire = append(wire, nonce...)
	wire = append(wire, ciphertext...)
	return wire
}

// send writes raw wire bytes in a single Write, like the record layer does.
func (p *rawPeer) send(wire []byte) {
	p.t.Helper()
	if _, err := p.conn.Write(wire); err != nil {
		p.t.Fatalf("rawPeer: write: %v", err)
	}
}

// sendAck acknowledges one sequence.
func (p *rawPeer) sendAck(seq uint64) {
	p.t.Helper()
	frame := &protocol.Frame{
		Type:    constants.FrameAck,
		Seq:     seq,
		Payload: p.codec.EncodeAck(seq),
	}
	if err := p.codec.WriteFrame(p.conn, frame); err != nil {
		p.t.Fatalf("rawPeer: write ack: %v", err)
	}
}

// open decrypts a DATA frame produced by the session under test.
func (p *rawPeer) open(frame *protocol.Frame, rawHeader []byte) []byte {
	p.t.Helper()

	nonce, ciphertext, err := p.codec.SplitDataPayload(frame.Payload)
	if err != nil {
		p.t.Fatalf("rawPeer: split payload: %v", err)
	}
	plaintext, err := p.aead.OpenWithNonce(nonce, ciphertext, rawHeader)
	if err != nil {
		p.t.Fatalf("rawPeer: open: %v", err)
	}
	return plaintext
}

// rawConfig tunes a config for hand-driven wire tests: a short ack timeout
// keeps retransmission rounds fast.
func rawConfig(t *testing.T) Config {
	cfg := testConfig(t)
	cfg.AckTimeout = 40 * time.Millisecond
	return cfg
}

// newRawSession establishes an initiator session against a hand-driven peer.
func newRawSession(t *testing.T, cfg Config) (*Session, *rawPeer) {
	t.Helper()

	clientConn, serverConn := net.Pipe()

	sess, err := NewSession(clientConn, RoleInitiator, cfg)
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}

	hsErr := make(chan error, 1)
	go func() { hsErr <- sess.Handshake(context.Background()) }()

	peer := newRawPeer(t, serverConn, testQKDBytes())

	if err := <-hsErr; err != nil {
		t.Fatalf("handshake failed: %v", err)
	}

	// Close the peer's end first: the session side of the pipe has no
	// reader at cleanup time, so an orderly CLOSE write would block.
	t.Cleanup(func() {
		_ = serverConn.Close()
		_ = sess.Close()
	})

	return sess, peer
}

// awaitSend waits for an in-flight Send to settle, absorbing any
// retransmission that raced the final ack so the sender never blocks on the
// unread pipe.
func awaitSend(t *testing.T, peer *rawPeer, sendErr <-chan error) error {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case err := <-sendErr:
			return err
		default:
		}
		_ = peer.conn.SetReadDeadline(time.Now().Add(20 * time.Millisecond))
		_, _, _ = peer.codec.ReadFrame(peer.conn)
		_ = peer.conn.SetReadDeadline(time.Time{})
	}
	t.Fatal("Send did not settle")
	return nil
}

// waitForCounter polls an observer counter until it reaches want.
func waitForCounter(t *testing.T, get func() uint64, want uint64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if get() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("counter = %d, want %d", get(), want)
}

func TestSendReceiveRoundTrip(t *testing.T) {
	initiator, responder := newSessionPair(t)

	ping := []byte("ping from initiator")
	if err := initiator.Send(ping); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	got, err := responder.Receive()
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if !bytes.Equal(got, ping) {
		t.Errorf("received %q, want %q", got, ping)
	}

	pong := []byte("pong from responder")
	if err := responder.Send(pong); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	got, err = initiator.Receive()
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if !bytes.Equal(got, pong) {
		t.Errorf("received %q, want %q", got, pong)
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	initiator, responder := newSessionPair(t)

	if err := initiator.SendEnvelope(message.NewChat("hello over the channel")); err != nil {
		t.Fatalf("SendEnvelope failed: %v", err)
	}

	env, err := responder.ReceiveEnvelope()
	if err != nil {
		t.Fatalf("ReceiveEnvelope failed: %v", err)
	}
	if env.Type != message.KindChat {
		t.Errorf("envelope type = %q, want %q", env.Type, message.KindChat)
	}
	if env.Payload.Text != "hello over the channel" {
		t.Errorf("envelope text = %q", env.Payload.Text)
	}
}

func TestMaxPayloadRoundTrip(t *testing.T) {
	initiator, responder := newSessionPair(t)

	max := constants.MaxPayloadSize - constants.MinDataPayloadSize
	payload := make([]byte, max)
	for i := range payload {
		payload[i] = byte(i)
	}

	if err := initiator.Send(payload); err != nil {
		t.Fatalf("Send of %d bytes failed: %v", max, err)
	}
	got, err := responder.Receive()
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("payload of %d bytes corrupted in transit", max)
	}
}

func TestOversizedPayloadRejected(t *testing.T) {
	initiator, _ := newSessionPair(t)

	tooBig := make([]byte, constants.MaxPayloadSize-constants.MinDataPayloadSize+1)
	if err := initiator.Send(tooBig); !qerrors.Is(err, qerrors.ErrFrameTooLarge) {
		t.Errorf("Send = %v, want ErrFrameTooLarge", err)
	}

	// The rejected send must not burn a sequence number or the session.
	if got := initiator.sendSeq.Load(); got != 0 {
		t.Errorf("send sequence = %d after rejected send, want 0", got)
	}
	if initiator.State() != StateEstablished {
		t.Errorf("state = %v, want Established", initiator.State())
	}
}

func TestSequencesIncrementPerRecord(t *testing.T) {
	initiator, responder := newSessionPair(t)

	for i := 0; i < 3; i++ {
		if err := initiator.Send([]byte{byte(i)}); err != nil {
			t.Fatalf("Send %d failed: %v", i, err)
		}
	}

	if got := initiator.sendSeq.Load(); got != 3 {
		t.Errorf("sender sequence = %d, want 3", got)
	}
	if got := responder.lastAccepted.Load(); got != 3 {
		t.Errorf("receiver last accepted = %d, want 3", got)
	}
}

func TestRetransmitsUntilAcked(t *testing.T) {
	cfg := rawConfig(t)
	sess, peer := newRawSession(t, cfg)

	sendErr := make(chan error, 1)
	go func() { sendErr <- sess.Send([]byte("needs two tries")) }()

	frame, rawHeader := peer.readFrame()
	if frame.Type != constants.FrameData || frame.Seq != 1 {
		t.Fatalf("first frame = %v seq %d, want DATA seq 1", frame.Type, frame.Seq)
	}
	original := append(append([]byte{}, rawHeader...), frame.Payload...)

	// Withhold the ACK once; the retransmission must be byte-identical.
	frame, rawHeader = peer.readFrame()
	retransmit := append(append([]byte{}, rawHeader...), frame.Payload...)
	if !bytes.Equal(original, retransmit) {
		t.Error("retransmitted record differs from the original wire bytes")
	}

	peer.sendAck(1)
	if err := awaitSend(t, peer, sendErr); err != nil {
		t.Fatalf("Send failed after ack: %v", err)
	}

	snap := cfg.Collector.Snapshot()
	if snap.Retransmissions == 0 {
		t.Error("no retransmissions recorded")
	}
	if sess.State() != StateEstablished {
		t.Errorf("state = %v, want Established", sess.State())
	}
}

func TestDeliveryFailureAfterRetryBudget(t *testing.T) {
	cfg := rawConfig(t)
	sess, peer := newRawSession(t, cfg)

	sendErr := make(chan error, 1)
	go func() { sendErr <- sess.Send([]byte("never acked")) }()

	// Original plus DefaultMaxRetries copies, all byte-identical.
	var original []byte
	for i := 0; i < constants.DefaultMaxRetries+1; i++ {
		frame, rawHeader := peer.readFrame()
		wire := append(append([]byte{}, rawHeader...), frame.Payload...)
		if i == 0 {
			original = wire
			continue
		}
		if !bytes.Equal(original, wire) {
			t.Fatalf("copy %d differs from the original wire bytes", i)
		}
	}

	var err error
	select {
	case err = <-sendErr:
	case <-time.After(2 * time.Second):
		t.Fatal("Send did not give up")
	}

	if !qerrors.Is(err, qerrors.ErrDelivery) {
		t.Fatalf("error = %v, want ErrDelivery kind", err)
	}
	var deliveryErr *qerrors.DeliveryError
	if !qerrors.As(err, &deliveryErr) {
		t.Fatalf("error = %T, want *DeliveryError", err)
	}
	if deliveryErr.Seq != 1 || deliveryErr.Attempts != constants.DefaultMaxRetries+1 {
		t.Errorf("DeliveryError = seq %d attempts %d, want seq 1 attempts %d",
			deliveryErr.Seq, deliveryErr.Attempts, constants.DefaultMaxRetries+1)
	}

	// A failed delivery is reported, not fatal: the session recovers as
	// soon as the peer starts acknowledging again.
	if sess.State() != StateEstablished {
		t.Fatalf("state = %v, want Established", sess.State())
	}

	go func() { sendErr <- sess.Send([]byte("acked this time")) }()
	frame, _ := peer.readFrame()
	if frame.Seq != 2 {
		t.Errorf("next record seq = %d, want 2", frame.Seq)
	}
	peer.sendAck(2)
	if err := awaitSend(t, peer, sendErr); err != nil {
		t.Fatalf("follow-up Send failed: %v", err)
	}

	snap := cfg.Collector.Snapshot()
	if snap.Retransmissions < uint64(constants.DefaultMaxRetries) {
		t.Errorf("Retransmissions = %d, want at least %d", snap.Retransmissions, constants.DefaultMaxRetries)
	}
	if snap.DeliveryFailures != 1 {
		t.Errorf("DeliveryFailures = %d, want 1", snap.DeliveryFailures)
	}
}

func TestRetransmissionDisabled(t *testing.T) {
	cfg := rawConfig(t)
	cfg.MaxRetries = -1
	sess, peer := newRawSession(t, cfg)

	sendErr := make(chan error, 1)
	go func() { sendErr <- sess.Send([]byte("single shot")) }()

	peer.readFrame()
	peer.expectNoFrame(120 * time.Millisecond)

	var err error
	select {
	case err = <-sendErr:
	case <-time.After(2 * time.Second):
		t.Fatal("Send did not give up")
	}

	var deliveryErr *qerrors.DeliveryError
	if !qerrors.As(err, &deliveryErr) {
		t.Fatalf("error = %v, want *DeliveryError", err)
	}
	if deliveryErr.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", deliveryErr.Attempts)
	}
	if sess.State() != StateEstablished {
		t.Errorf("state = %v, want Established", sess.State())
	}
}

func TestAckPrecedesDelivery(t *testing.T) {
	cfg := rawConfig(t)
	sess, peer := newRawSession(t, cfg)

	peer.send(peer.sealRecord(1, []byte("queued")))

	// The ACK must arrive even though nothing has called Receive yet.
	frame, _ := peer.readFrame()
	if frame.Type != constants.FrameAck || frame.Seq != 1 {
		t.Fatalf("frame = %v seq %d, want ACK seq 1", frame.Type, frame.Seq)
	}

	got, err := sess.Receive()
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if string(got) != "queued" {
		t.Errorf("received %q, want %q", got, "queued")
	}
}

func TestReplayedRecordDropped(t *testing.T) {
	cfg := rawConfig(t)
	sess, peer := newRawSession(t, cfg)

	wire := peer.sealRecord(1, []byte("first"))
	peer.send(wire)
	peer.readFrame() // ACK for seq 1

	got, err := sess.Receive()
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if string(got) != "first" {
		t.Fatalf("received %q, want %q", got, "first")
	}

	// Replaying the identical record must produce no new ACK, no duplicate
	// delivery, and no session failure.
	peer.send(wire)
	peer.expectNoFrame(100 * time.Millisecond)

	waitForCounter(t, func() uint64 {
		return cfg.Collector.Snapshot().ReplaysRejected
	}, 1)

	if sess.State() != StateEstablished {
		t.Fatalf("state = %v after replay, want Established", sess.State())
	}

	peer.send(peer.sealRecord(2, []byte("second")))
	peer.readFrame() // ACK for seq 2

	got, err = sess.Receive()
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if string(got) != "second" {
		t.Errorf("received %q, want %q: replay must not be re-delivered", got, "second")
	}
	if sess.Stats().LastAccepted != 2 {
		t.Errorf("last accepted = %d, want 2", sess.Stats().LastAccepted)
	}
}

func TestStaleSequenceDropped(t *testing.T) {
	cfg := rawConfig(t)
	sess, peer := newRawSession(t, cfg)

	// Sequences must increase, but gaps are legal: a record numbered ahead
	// is accepted and moves the watermark.
	peer.send(peer.sealRecord(5, []byte("ahead")))
	peer.readFrame() // ACK for seq 5
	if _, err := sess.Receive(); err != nil {
		t.Fatalf("Receive failed: %v", err)
	}

	// Anything at or below the watermark is a replay.
	peer.send(peer.sealRecord(3, []byte("stale")))
	peer.expectNoFrame(100 * time.Millisecond)

	waitForCounter(t, func() uint64 {
		return cfg.Collector.Snapshot().ReplaysRejected
	}, 1)

	peer.send(peer.sealRecord(6, []byte("next")))
	peer.readFrame() // ACK for seq 6
	got, err := sess.Receive()
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if string(got) != "next" {
		t.Errorf("received %q, want %q", got, "next")
	}
}

func TestTamperedRecordTerminatesSession(t *testing.T) {
	cfg := rawConfig(t)
	sess, peer := newRawSession(t, cfg)

	key := sessionKeyOf(sess)

	wire := peer.sealRecord(1, []byte("payload"))
	wire[len(wire)-1] ^= 0x01
	peer.send(wire)

	_, err := sess.Receive()
	if err == nil {
		t.Fatal("expected tampered record to fail")
	}
	if !qerrors.Is(err, qerrors.ErrDecrypt) {
		t.Errorf("error = %v, want ErrDecrypt kind", err)
	}
	if !qerrors.Is(err, qerrors.ErrAuthenticationFailed) {
		t.Errorf("error = %v, want ErrAuthenticationFailed in chain", err)
	}
	var decryptErr *qerrors.DecryptError
	if qerrors.As(err, &decryptErr) {
		if decryptErr.Seq != 1 {
			t.Errorf("DecryptError.Seq = %d, want 1", decryptErr.Seq)
		}
	} else {
		t.Errorf("error = %T, want *DecryptError", err)
	}

	waitForState(t, sess, StateClosed)

	// Teardown after an authentication failure zeroizes the key like any
	// other exit path.
	for i, b := range key {
		if b != 0 {
			t.Fatalf("key byte %d = %#x after auth failure, want 0", i, b)
		}
	}

	if snap := cfg.Collector.Snapshot(); snap.AuthFailures != 1 {
		t.Errorf("AuthFailures = %d, want 1", snap.AuthFailures)
	}
}

func TestReflectedNonceRejected(t *testing.T) {
	cfg := rawConfig(t)
	sess, peer := newRawSession(t, cfg)

	// Seal a record stamped with the initiator's own role byte, as a
	// reflection attack would. The receiver expects the responder byte.
	nonce := crypto.RecordNonce(constants.NonceRoleInitiator, 1)
	payloadLen := len("reflected") + peer.aead.Overhead()
	header := peer.codec.EncodeHeader(constants.FrameData, 1, payloadLen)
	ciphertext, err := peer.aead.SealWithNonce(nonce, []byte("reflected"), header)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	wire := make([]byte, 0, len(header)+payloadLen)
	wire = append(wire, header...)
	wire = append(wire, nonce...)
	wire = append(wire, ciphertext...)
	peer.send(wire)

	_, err = sess.Receive()
	if err == nil {
		t.Fatal("expected reflected record to fail")
	}
	if !qerrors.Is(err, qerrors.ErrDecrypt) || !qerrors.Is(err, qerrors.ErrAuthenticationFailed) {
		t.Errorf("error = %v, want ErrDecrypt wrapping ErrAuthenticationFailed", err)
	}

	waitForState(t, sess, StateClosed)
}

func TestUnexpectedAckIgnored(t *testing.T) {
	cfg := rawConfig(t)
	sess, peer := newRawSession(t, cfg)

	// An ACK for a sequence that was never sent is logged and dropped.
	peer.sendAck(99)

	sendErr := make(chan error, 1)
	go func() { sendErr <- sess.Send([]byte("still fine")) }()

	frame, rawHeader := peer.readFrame()
	if got := peer.open(frame, rawHeader); string(got) != "still fine" {
		t.Errorf("decrypted %q, want %q", got, "still fine")
	}
	peer.sendAck(frame.Seq)

	if err := awaitSend(t, peer, sendErr); err != nil {
		t.Fatalf("Send failed after stray ack: %v", err)
	}
	if sess.State() != StateEstablished {
		t.Errorf("state = %v, want Established", sess.State())
	}
}
