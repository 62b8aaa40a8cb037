// Package errors defines the error taxonomy of the stage106 secure channel.
// Errors carry enough context for diagnosis without leaking key material or
// plaintext in their messages.
//
// Five kinds cover the channel's contract: key loading, handshake, record
// decryption, delivery (ACK retries exhausted), and transport. Each kind has
// a sentinel for errors.Is checks and a typed wrapper for errors.As.
package errors

import (
	"errors"
	"fmt"
)

// Kind sentinels. A wrapped error of a given kind matches its sentinel
// through errors.Is regardless of the underlying cause.
var (
	// ErrKeyLoad indicates key material could not be loaded at startup
	ErrKeyLoad = errors.New("keymat: key load error")

	// ErrHandshake indicates the HELLO exchange or key derivation failed
	ErrHandshake = errors.New("handshake: error")

	// ErrDecrypt indicates a record failed authentication or ordering checks
	ErrDecrypt = errors.New("record: decrypt error")

	// ErrDelivery indicates a DATA frame exhausted its retransmission budget
	ErrDelivery = errors.New("record: delivery failure")

	// ErrTransport indicates the underlying byte stream failed
	ErrTransport = errors.New("transport: error")
)

// Sentinel errors for key material
var (
	// ErrKeyLength indicates a key file has the wrong length
	ErrKeyLength = errors.New("keymat: wrong key length")

	// ErrUnknownAlgorithm indicates a stored identity names an
	// unsupported signing algorithm
	ErrUnknownAlgorithm = errors.New("keymat: unknown signing algorithm")
)

// Sentinel errors for cryptographic primitives
var (
	// ErrInvalidKeySize indicates a key of the wrong length was supplied
	ErrInvalidKeySize = errors.New("crypto: invalid key size")

	// ErrInvalidNonceSize indicates a nonce of the wrong length was supplied
	ErrInvalidNonceSize = errors.New("crypto: invalid nonce size")

	// ErrCiphertextTooShort indicates ciphertext shorter than the
	// authentication tag
	ErrCiphertextTooShort = errors.New("crypto: ciphertext too short")
)

// Sentinel errors for the handshake
var (
	// ErrInvalidPublicKey indicates a peer public key failed validation
	ErrInvalidPublicKey = errors.New("handshake: invalid public key")

	// ErrLowOrderPoint indicates the peer point produced an all-zero
	// shared secret
	ErrLowOrderPoint = errors.New("handshake: low-order peer point")

	// ErrSignatureInvalid indicates the transcript signature failed
	// verification
	ErrSignatureInvalid = errors.New("handshake: invalid transcript signature")

	// ErrSignatureMissing indicates the peer omitted a required
	// transcript signature
	ErrSignatureMissing = errors.New("handshake: missing transcript signature")

	// ErrInvalidState indicates a handshake message arrived in the
	// wrong session state
	ErrInvalidState = errors.New("handshake: invalid state")
)

// Sentinel errors for the record layer
var (
	// ErrReplay indicates a DATA sequence at or below the last accepted one
	ErrReplay = errors.New("record: replayed or stale sequence")

	// ErrAuthenticationFailed indicates the GCM tag did not verify
	ErrAuthenticationFailed = errors.New("record: authentication failed")

	// ErrPayloadTooShort indicates a DATA payload smaller than nonce+tag
	ErrPayloadTooShort = errors.New("record: payload too short")

	// ErrUnexpectedAck indicates an ACK that references no outstanding frame
	ErrUnexpectedAck = errors.New("record: ack references no outstanding frame")
)

// Sentinel errors for framing
var (
	// ErrUnknownFrameType indicates a type byte outside the protocol
	ErrUnknownFrameType = errors.New("frame: unknown type")

	// ErrFrameTooLarge indicates a declared payload length beyond the maximum
	ErrFrameTooLarge = errors.New("frame: payload exceeds maximum size")

	// ErrFrameTruncated indicates a frame shorter than its declared length
	ErrFrameTruncated = errors.New("frame: truncated")

	// ErrInvalidPayload indicates a payload that does not match its
	// frame type's layout
	ErrInvalidPayload = errors.New("frame: invalid payload")
)

// Sentinel errors for application messages
var (
	// ErrUnknownMessageKind indicates an envelope kind outside the
	// application schema
	ErrUnknownMessageKind = errors.New("message: unknown kind")
)

// Sentinel errors for sessions
var (
	// ErrSessionClosed indicates an operation on a closed session
	ErrSessionClosed = errors.New("session: closed")

	// ErrSessionNotEstablished indicates record operations before the
	// handshake completed
	ErrSessionNotEstablished = errors.New("session: not established")

	// ErrManagerClosed indicates the session manager has shut down
	ErrManagerClosed = errors.New("session: manager closed")
)

// CryptoError wraps a low-level cryptographic failure with the operation
// that produced it.
type CryptoError struct {
	Op  string // Operation that failed
	Err error  // Underlying error
}

func (e *CryptoError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *CryptoError) Unwrap() error {
	return e.Err
}

// NewCryptoError creates a new CryptoError
func NewCryptoError(op string, err error) *CryptoError {
	return &CryptoError{Op: op, Err: err}
}

// KeyLoadError reports a failure to load key material. Fatal at startup.
type KeyLoadError struct {
	Path string // Key file path
	Err  error  // Underlying error
}

func (e *KeyLoadError) Error() string {
	return fmt.Sprintf("load key %s: %v", e.Path, e.Err)
}

func (e *KeyLoadError) Unwrap() error {
	return e.Err
}

// Is matches the ErrKeyLoad kind.
func (e *KeyLoadError) Is(target error) bool {
	return target == ErrKeyLoad
}

// NewKeyLoadError creates a new KeyLoadError
func NewKeyLoadError(path string, err error) *KeyLoadError {
	return &KeyLoadError{Path: path, Err: err}
}

// HandshakeError reports a failure during the HELLO exchange or key
// derivation. It aborts only the affected connection.
type HandshakeError struct {
	Phase string // Handshake phase (e.g. "send-hello", "derive-key")
	Err   error  // Underlying error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("handshake %s: %v", e.Phase, e.Err)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

// Is matches the ErrHandshake kind.
func (e *HandshakeError) Is(target error) bool {
	return target == ErrHandshake
}

// NewHandshakeError creates a new HandshakeError
func NewHandshakeError(phase string, err error) *HandshakeError {
	return &HandshakeError{Phase: phase, Err: err}
}

// DecryptError reports a record that failed tag verification or the strict
// ordering check. The payload is never partially delivered.
type DecryptError struct {
	Seq uint64 // Sequence number of the offending frame
	Err error  // Underlying error
}

func (e *DecryptError) Error() string {
	return fmt.Sprintf("decrypt seq %d: %v", e.Seq, e.Err)
}

func (e *DecryptError) Unwrap() error {
	return e.Err
}

// Is matches the ErrDecrypt kind.
func (e *DecryptError) Is(target error) bool {
	return target == ErrDecrypt
}

// NewDecryptError creates a new DecryptError
func NewDecryptError(seq uint64, err error) *DecryptError {
	return &DecryptError{Seq: seq, Err: err}
}

// DeliveryError reports a DATA frame that was never acknowledged within its
// retransmission budget. Session state remains usable unless the caller
// closes the session.
type DeliveryError struct {
	Seq      uint64 // Sequence number of the unacknowledged frame
	Attempts int    // Total transmissions, including the original send
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("no ack for seq %d after %d attempts", e.Seq, e.Attempts)
}

// Is matches the ErrDelivery kind.
func (e *DeliveryError) Is(target error) bool {
	return target == ErrDelivery
}

// NewDeliveryError creates a new DeliveryError
func NewDeliveryError(seq uint64, attempts int) *DeliveryError {
	return &DeliveryError{Seq: seq, Attempts: attempts}
}

// TransportError reports a failure of the underlying byte stream and is
// propagated as connection termination.
type TransportError struct {
	Op  string // Operation that failed (e.g. "read-frame", "write-frame")
	Err error  // Underlying error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is matches the ErrTransport kind.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// NewTransportError creates a new TransportError
func NewTransportError(op string, err error) *TransportError {
	return &TransportError{Op: op, Err: err}
}

// Is reports whether any error in err's chain matches target.
// This is a convenience wrapper around errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
// This is a convenience wrapper around errors.As.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
