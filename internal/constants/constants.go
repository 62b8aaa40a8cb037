// Package constants defines protocol constants and security parameters for
// the stage106 secure channel.
//
// The channel mixes a pre-shared QKD secret with an ephemeral X25519
// agreement into one AES-256-GCM session key; the sizes and labels below
// are part of the wire contract and must not change between peers.
package constants

import "time"

// Protocol version and identification
const (
	// ProtocolVersion is the current version of the stage106 channel protocol
	ProtocolVersion uint16 = 0x0001

	// ProtocolName identifies the protocol in logs and version output
	ProtocolName = "qs-tls-stage106"

	// HKDFInfoLabel is the info input to session key derivation. Both
	// peers use the identical label; traffic directions are separated by
	// the record nonce role bit, not by the KDF.
	HKDFInfoLabel = "qs-tls-stage106"

	// TranscriptLabel domain-separates the handshake transcript hash that
	// the external signer signs.
	TranscriptLabel = "qs-tls-stage106-transcript-v1"
)

// Key material sizes
const (
	// QKDKeySize is the exact size of the pre-shared QKD secret in bytes.
	// Key files of any other length are rejected at load time.
	QKDKeySize = 32

	// X25519PublicKeySize is the size of an X25519 public key in bytes
	X25519PublicKeySize = 32

	// X25519PrivateKeySize is the size of an X25519 private key in bytes
	X25519PrivateKeySize = 32

	// X25519SharedSecretSize is the size of the X25519 shared secret in bytes
	X25519SharedSecretSize = 32

	// SessionKeySize is the size of the HKDF-derived session key in bytes
	SessionKeySize = 32
)

// Handshake parameters
const (
	// HelloNonceSize is the size of the random nonce carried in each
	// HELLO payload; the two nonces concatenate into the HKDF salt.
	HelloNonceSize = 16

	// HelloBaseSize is the size of an unsigned HELLO payload:
	// X25519 public key followed by the hello nonce.
	HelloBaseSize = X25519PublicKeySize + HelloNonceSize

	// SignatureLengthPrefixSize is the size of the big-endian length
	// prefix in front of an optional HELLO signature block.
	SignatureLengthPrefixSize = 2

	// TranscriptHashSize is the size of the handshake transcript hash in bytes
	TranscriptHashSize = 32
)

// Record encryption parameters (AES-256-GCM)
const (
	// GCMNonceSize is the size of the AES-GCM nonce in bytes (96 bits)
	GCMNonceSize = 12

	// GCMTagSize is the size of the AES-GCM authentication tag in bytes
	GCMTagSize = 16

	// MinDataPayloadSize is the smallest valid DATA payload:
	// nonce plus tag around an empty plaintext.
	MinDataPayloadSize = GCMNonceSize + GCMTagSize
)

// Record nonce role bits. The first nonce byte carries the sender role so
// the two traffic directions can never collide under the shared key.
const (
	// NonceRoleInitiator marks records encrypted by the initiating peer
	NonceRoleInitiator byte = 0x01

	// NonceRoleResponder marks records encrypted by the responding peer
	NonceRoleResponder byte = 0x02
)

// Frame layout
const (
	// FrameHeaderSize is the fixed size of a frame header:
	// 1-byte type, 8-byte big-endian sequence, 4-byte big-endian length.
	FrameHeaderSize = 1 + 8 + 4

	// AckPayloadSize is the size of an ACK payload (echoed sequence)
	AckPayloadSize = 8

	// MaxPayloadSize is the maximum frame payload accepted on read or
	// produced on write. Declared lengths beyond this abort the
	// connection before any allocation.
	MaxPayloadSize = 64 * 1024

	// MaxFrameSize is the maximum size of one frame on the wire
	MaxFrameSize = FrameHeaderSize + MaxPayloadSize
)

// Timing and retry defaults. The ACK timeout and retry limit are design
// choices of this implementation, not inherited constants; deployments
// tune them through the configuration file.
const (
	// DefaultAckTimeout is how long a DATA frame waits for its ACK
	// before being retransmitted.
	DefaultAckTimeout = 500 * time.Millisecond

	// DefaultMaxRetries is how many times an unacknowledged DATA frame
	// is retransmitted before the send fails with a delivery error.
	DefaultMaxRetries = 3

	// DefaultHandshakeTimeout bounds the whole HELLO exchange.
	DefaultHandshakeTimeout = 10 * time.Second

	// DefaultHeartbeatInterval is the client's keepalive ping period.
	// Zero disables automatic heartbeats.
	DefaultHeartbeatInterval = 30 * time.Second
)

// FrameType identifies the four frame kinds of the record protocol.
type FrameType byte

const (
	// FrameHello carries a handshake payload (public key, nonce,
	// optional transcript signature)
	FrameHello FrameType = 0x01

	// FrameData carries an encrypted application record
	FrameData FrameType = 0x02

	// FrameAck confirms receipt of the DATA frame whose sequence it echoes
	FrameAck FrameType = 0x03

	// FrameClose initiates or acknowledges orderly teardown
	FrameClose FrameType = 0x04
)

// String returns a human-readable name for the frame type
func (t FrameType) String() string {
	switch t {
	case FrameHello:
		return "HELLO"
	case FrameData:
		return "DATA"
	case FrameAck:
		return "ACK"
	case FrameClose:
		return "CLOSE"
	default:
		return "UNKNOWN"
	}
}

// IsValid returns true if the byte value names a known frame type
func (t FrameType) IsValid() bool {
	return t >= FrameHello && t <= FrameClose
}
