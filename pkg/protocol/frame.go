// Package protocol implements the bit-exact wire format of the stage106
// channel.
//
// Every frame carries a fixed 13-byte header followed by its payload:
//
//	+------+----------+--------+----------+
//	| Type | Sequence | Length | Payload  |
//	| 1B   | 8B BE    | 4B BE  | Variable |
//	+------+----------+--------+----------+
//
// Frame types: HELLO=0x01, DATA=0x02, ACK=0x03, CLOSE=0x04.
//
// Payload layouts:
//
//	HELLO: X25519 public key (32B) || nonce (16B)
//	       || optional signature block (2B BE length || signature)
//	DATA:  GCM nonce (12B) || ciphertext || tag (16B)
//	ACK:   echoed sequence number (8B BE)
//	CLOSE: empty
//
// The message flow:
//
//	Initiator                              Responder
//	    |                                      |
//	    | -------- HELLO --------------------> |
//	    | <------- HELLO (signed) ------------ |
//	    |                                      |
//	    |    === session key installed ===     |
//	    |                                      |
//	    | -------- DATA seq=n ---------------> |
//	    | <------- ACK  seq=n ----------------- |
//	    |                                      |
//	    | -------- CLOSE --------------------> |
//	    | <------- CLOSE --------------------- |
package protocol

import (
	"github.com/mokkunsuzuki-code/stage106/internal/constants"
	qerrors "github.com/mokkunsuzuki-code/stage106/internal/errors"
)

// Frame is one protocol frame: header fields plus raw payload.
type Frame struct {
	// Type identifies the frame kind
	Type constants.FrameType

	// Seq is the header sequence number. DATA frames carry the sender's
	// record sequence; ACK frames mirror the echoed sequence; HELLO
	// frames carry zero; CLOSE frames carry the sender's next sequence.
	Seq uint64

	// Payload is the type-specific payload
	Payload []byte
}

// Validate checks the frame against its type's payload layout.
func (f *Frame) Validate() error {
	if !f.Type.IsValid() {
		return qerrors.ErrUnknownFrameType
	}
	if len(f.Payload) > constants.MaxPayloadSize {
		return qerrors.ErrFrameTooLarge
	}

	switch f.Type {
	case constants.FrameHello:
		if len(f.Payload) < constants.HelloBaseSize {
			return qerrors.ErrInvalidPayload
		}
	case constants.FrameData:
		if len(f.Payload) < constants.MinDataPayloadSize {
			return qerrors.ErrPayloadTooShort
		}
	case constants.FrameAck:
		if len(f.Payload) != constants.AckPayloadSize {
			return qerrors.ErrInvalidPayload
		}
	case constants.FrameClose:
		if len(f.Payload) != 0 {
			return qerrors.ErrInvalidPayload
		}
	}

	return nil
}

// HelloPayload is the parsed form of a HELLO frame payload.
type HelloPayload struct {
	// PublicKey is the sender's ephemeral X25519 public key (32 bytes)
	PublicKey []byte

	// Nonce is the sender's handshake nonce (16 bytes); the two nonces
	// concatenate into the HKDF salt
	Nonce []byte

	// Signature is the optional transcript signature. Empty means the
	// HELLO is unsigned. Only responder HELLOs carry signatures.
	Signature []byte
}

// Validate checks field sizes against the wire contract.
func (h *HelloPayload) Validate() error {
	if len(h.PublicKey) != constants.X25519PublicKeySize {
		return qerrors.ErrInvalidPublicKey
	}
	if len(h.Nonce) != constants.HelloNonceSize {
		return qerrors.ErrInvalidPayload
	}
	if len(h.Signature) > maxSignatureSize {
		return qerrors.ErrInvalidPayload
	}
	return nil
}

// maxSignatureSize bounds the HELLO signature block so a 2-byte length
// prefix always suffices and the whole payload stays under the frame cap.
const maxSignatureSize = constants.MaxPayloadSize - constants.HelloBaseSize - constants.SignatureLengthPrefixSize
