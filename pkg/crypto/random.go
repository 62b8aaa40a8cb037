// Package crypto provides the cryptographic primitives of the stage106
// secure channel: X25519 key agreement, HKDF-SHA256 session key derivation,
// AES-256-GCM record encryption with deterministic nonces, and the
// transcript signer capability.
//
// All random number generation uses crypto/rand, which sources entropy from
// the operating system's CSPRNG.
package crypto

import (
	"crypto/rand"
	"io"

	qerrors "github.com/mokkunsuzuki-code/stage106/internal/errors"
)

// SecureRandom reads cryptographically secure random bytes into the provided
// slice. An error indicates the system CSPRNG failed and should be treated
// as a critical failure.
func SecureRandom(b []byte) error {
	_, err := io.ReadFull(rand.Reader, b)
	if err != nil {
		return qerrors.NewCryptoError("SecureRandom", err)
	}
	return nil
}

// SecureRandomBytes returns n cryptographically secure random bytes.
func SecureRandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if err := SecureRandom(b); err != nil {
		return nil, err
	}
	return b, nil
}

// Reader is an io.Reader that returns cryptographically secure random bytes.
// It wraps crypto/rand.Reader so key generation has a single entropy source.
var Reader = rand.Reader

// ConstantTimeCompare compares two byte slices in constant time.
// Returns true if the slices are equal. Use for comparing secrets;
// short-circuit comparison leaks where the first difference sits.
func ConstantTimeCompare(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var result byte
	for i := range a {
		result |= a[i] ^ b[i]
	}
	return result == 0
}

// Zeroize overwrites sensitive data with zeros. Call on shared secrets,
// intermediate key material, and session keys as soon as they are no longer
// needed.
//
// Note: the runtime may have copied the data, and the compiler may elide
// stores to memory that is never read again; this is best-effort hygiene,
// not a guarantee.
func Zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// ZeroizeMultiple securely erases multiple byte slices.
func ZeroizeMultiple(slices ...[]byte) {
	for _, s := range slices {
		Zeroize(s)
	}
}
