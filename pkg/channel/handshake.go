// handshake.go implements the QKD-hybrid HELLO exchange.
//
// Handshake Protocol:
//
//	Initiator                              Responder
//	    |                                      |
//	    | -------- HELLO --------------------> |
//	    |   - ephemeral X25519 public key      |
//	    |   - 16-byte nonce                    |
//	    |                                      |
//	    | <------- HELLO --------------------- |
//	    |   - ephemeral X25519 public key      |
//	    |   - 16-byte nonce                    |
//	    |   - transcript signature (optional)  |
//	    |                                      |
//	    |  [Both mix QKD secret and X25519     |
//	    |   agreement through HKDF-SHA256]     |
//	    |                                      |
//	    |    === Session Established ===       |
//
// Both peers derive
//
//	SessionKey = HKDF-SHA256(ikm  = QKDKey || SharedSecret,
//	                         salt = nonce_initiator || nonce_responder,
//	                         info = protocol label)[0:32]
//
// with the identical info label, so a transcript mismatch surfaces as the
// same key property violation on either side. Traffic directions are
// separated by the record nonce role byte, not by the KDF.
//
// Security properties:
//   - Hybrid secrecy: recovering traffic needs the QKD secret AND the
//     X25519 exchange broken
//   - Forward secrecy: ephemeral keys discarded after derivation
//   - Optional responder authentication: ML-DSA-65 signature over the
//     transcript hash of both HELLOs
//   - Atomic completion: key installed only after both HELLOs processed;
//     every failure path zeroizes intermediate secrets
package channel

import (
	"context"
	"time"

	"github.com/mokkunsuzuki-code/stage106/internal/constants"
	qerrors "github.com/mokkunsuzuki-code/stage106/internal/errors"
	"github.com/mokkunsuzuki-code/stage106/pkg/crypto"
	"github.com/mokkunsuzuki-code/stage106/pkg/protocol"
)

// Handshake runs the HELLO exchange for this session's role. On success the
// session key is installed, the read loop starts, and the session is ready
// for Send and Receive. On failure the session is closed with no key
// material retained, and the returned error matches ErrHandshake.
//
// The exchange is bounded by the configured handshake timeout or the
// context deadline, whichever comes first.
func (s *Session) Handshake(ctx context.Context) error {
	if s.State() != StateInit {
		return qerrors.NewHandshakeError("begin", qerrors.ErrInvalidState)
	}

	ctx, done := s.observer.OnHandshakeStart(ctx)

	deadline := time.Now().Add(s.cfg.HandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = s.conn.SetDeadline(deadline)

	var err error
	if s.role == RoleInitiator {
		err = s.initiatorHandshake()
	} else {
		err = s.responderHandshake()
	}

	done(err)

	if err != nil {
		s.failed.Store(true)
		s.teardown()
		return err
	}

	_ = s.conn.SetDeadline(time.Time{})
	go s.readLoop()

	return nil
}

// initiatorHandshake sends the first HELLO and processes the responder's
// answer.
func (s *Session) initiatorHandshake() error {
	keyPair, err := crypto.GenerateX25519KeyPair()
	if err != nil {
		return qerrors.NewHandshakeError("generate-keypair", err)
	}
	defer keyPair.Zeroize()

	localPub := keyPair.PublicKeyBytes()
	localNonce, err := crypto.SecureRandomBytes(constants.HelloNonceSize)
	if err != nil {
		return qerrors.NewHandshakeError("generate-nonce", err)
	}

	if err := s.sendHello(localPub, localNonce, nil); err != nil {
		return err
	}
	s.state.Store(int32(StateHelloSent))

	peer, err := s.readHello()
	if err != nil {
		return err
	}

	// With a verifier configured, an unsigned responder HELLO is a
	// downgrade and is rejected outright.
	if s.cfg.Verifier != nil {
		if len(peer.Signature) == 0 {
			return qerrors.NewHandshakeError("verify-transcript", qerrors.ErrSignatureMissing)
		}
		transcript := crypto.TranscriptHash(localPub, localNonce, peer.PublicKey, peer.Nonce)
		if !s.cfg.Verifier.Verify(transcript, peer.Signature) {
			return qerrors.NewHandshakeError("verify-transcript", qerrors.ErrSignatureInvalid)
		}
	}

	return s.deriveAndInstall(keyPair, peer, localNonce, peer.Nonce)
}

// responderHandshake waits for the initiator's HELLO and answers with its
// own, signing the transcript when a signer is configured.
func (s *Session) responderHandshake() error {
	peer, err := s.readHello()
	if err != nil {
		return err
	}

	keyPair, err := crypto.GenerateX25519KeyPair()
	if err != nil {
		return qerrors.NewHandshakeError("generate-keypair", err)
	}
	defer keyPair.Zeroize()

	localPub := keyPair.PublicKeyBytes()
	localNonce, err := crypto.SecureRandomBytes(constants.HelloNonceSize)
	if err != nil {
		return qerrors.NewHandshakeError("generate-nonce", err)
	}

	var signature []byte
	if s.cfg.Signer != nil {
		transcript := crypto.TranscriptHash(peer.PublicKey, peer.Nonce, localPub, localNonce)
		signature, err = s.cfg.Signer.Sign(transcript)
		if err != nil {
			return qerrors.NewHandshakeError("sign-transcript", err)
		}
	}

	if err := s.sendHello(localPub, localNonce, signature); err != nil {
		return err
	}
	s.state.Store(int32(StateHelloSent))

	return s.deriveAndInstall(keyPair, peer, peer.Nonce, localNonce)
}

// sendHello encodes and writes a HELLO frame. HELLO frames carry sequence
// zero; record sequences start after the handshake.
func (s *Session) sendHello(publicKey, nonce, signature []byte) error {
	payload, err := s.codec.EncodeHello(&protocol.HelloPayload{
		PublicKey: publicKey,
		Nonce:     nonce,
		Signature: signature,
	})
	if err != nil {
		return qerrors.NewHandshakeError("encode-hello", err)
	}

	frame := &protocol.Frame{Type: constants.FrameHello, Seq: 0, Payload: payload}
	if err := s.writeFrame(frame); err != nil {
		return qerrors.NewHandshakeError("send-hello", err)
	}
	return nil
}

// readHello reads one frame and requires it to be a well-formed HELLO.
func (s *Session) readHello() (*protocol.HelloPayload, error) {
	frame, _, err := s.codec.ReadFrame(s.conn)
	if err != nil {
		return nil, qerrors.NewHandshakeError("recv-hello", err)
	}
	s.observer.OnFrameReceived(frame.Type, frame.Seq, constants.FrameHeaderSize+len(frame.Payload))

	if frame.Type != constants.FrameHello {
		return nil, qerrors.NewHandshakeError("recv-hello", qerrors.ErrInvalidState)
	}

	hello, err := s.codec.ParseHello(frame.Payload)
	if err != nil {
		return nil, qerrors.NewHandshakeError("parse-hello", err)
	}
	return hello, nil
}

// deriveAndInstall computes the shared secret, mixes it with the QKD key,
// and installs the session key. The X25519 shared secret is zeroized as
// soon as derivation finishes, and the derived key is zeroized if
// installation fails.
func (s *Session) deriveAndInstall(keyPair *crypto.X25519KeyPair, peer *protocol.HelloPayload, initiatorNonce, responderNonce []byte) error {
	peerPub, err := crypto.ParseX25519PublicKey(peer.PublicKey)
	if err != nil {
		return qerrors.NewHandshakeError("parse-peer-key", err)
	}

	shared, err := crypto.ComputeSharedSecret(keyPair.PrivateKey, peerPub)
	if err != nil {
		return qerrors.NewHandshakeError("compute-shared", err)
	}

	key, err := crypto.DeriveSessionKey(s.cfg.QKDKey.Bytes(), shared, initiatorNonce, responderNonce)
	crypto.Zeroize(shared)
	if err != nil {
		return qerrors.NewHandshakeError("derive-key", err)
	}

	if err := s.installKey(key); err != nil {
		crypto.Zeroize(key)
		return qerrors.NewHandshakeError("install-key", err)
	}
	return nil
}
