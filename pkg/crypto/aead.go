// aead.go implements AES-256-GCM record encryption with deterministic
// nonces.
//
// Every record nonce is computed from the sender's role and the frame's
// sequence number, never drawn at random:
//
//	nonce[0]    = role bit (initiator 0x01, responder 0x02)
//	nonce[1:4]  = zero
//	nonce[4:12] = big-endian sequence number
//
// Distinct role bits keep the two traffic directions disjoint under the one
// shared session key, and strictly increasing sequence numbers make every
// nonce within a direction unique. A retransmitted frame reuses its stored
// ciphertext bytes, so the nonce on the wire is byte-identical, which GCM
// permits for an identical (nonce, plaintext, aad) triple.
//
// Nonce reuse with *different* plaintext would break both confidentiality
// and integrity; the sequence counter discipline in the record layer is what
// upholds this invariant.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"

	"github.com/mokkunsuzuki-code/stage106/internal/constants"
	qerrors "github.com/mokkunsuzuki-code/stage106/internal/errors"
)

// AEAD wraps an AES-256-GCM cipher for record protection. The wrapper holds
// no per-record state, so one instance can seal and open concurrently; nonce
// discipline is the record layer's responsibility.
type AEAD struct {
	cipher cipher.AEAD
}

// NewAEAD creates an AES-256-GCM cipher from a 32-byte session key.
func NewAEAD(key []byte) (*AEAD, error) {
	if len(key) != constants.SessionKeySize {
		return nil, qerrors.ErrInvalidKeySize
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, qerrors.NewCryptoError("NewAEAD", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, qerrors.NewCryptoError("NewAEAD", err)
	}

	return &AEAD{cipher: gcm}, nil
}

// RecordNonce builds the deterministic 12-byte nonce for a record sent by
// the given role with the given sequence number.
func RecordNonce(role byte, seq uint64) []byte {
	nonce := make([]byte, constants.GCMNonceSize)
	nonce[0] = role
	binary.BigEndian.PutUint64(nonce[4:], seq)
	return nonce
}

// SealWithNonce encrypts and authenticates plaintext under an explicit
// nonce. The caller guarantees nonce uniqueness through the (role, seq)
// construction.
//
// Returns ciphertext || tag; the nonce is not included.
func (a *AEAD) SealWithNonce(nonce, plaintext, additionalData []byte) ([]byte, error) {
	if len(nonce) != constants.GCMNonceSize {
		return nil, qerrors.ErrInvalidNonceSize
	}

	return a.cipher.Seal(nil, nonce, plaintext, additionalData), nil
}

// OpenWithNonce verifies and decrypts ciphertext || tag under an explicit
// nonce. additionalData must match the value bound at seal time.
//
// A failed tag check returns ErrAuthenticationFailed and nothing else: no
// partial plaintext is ever exposed.
func (a *AEAD) OpenWithNonce(nonce, ciphertext, additionalData []byte) ([]byte, error) {
	if len(nonce) != constants.GCMNonceSize {
		return nil, qerrors.ErrInvalidNonceSize
	}
	if len(ciphertext) < constants.GCMTagSize {
		return nil, qerrors.ErrCiphertextTooShort
	}

	plaintext, err := a.cipher.Open(nil, nonce, ciphertext, additionalData)
	if err != nil {
		return nil, qerrors.ErrAuthenticationFailed
	}

	return plaintext, nil
}

// Overhead returns the bytes added to a plaintext by record encryption:
// the explicit nonce plus the authentication tag.
func (a *AEAD) Overhead() int {
	return constants.GCMNonceSize + a.cipher.Overhead()
}
