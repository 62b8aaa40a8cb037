// x25519.go implements the ephemeral X25519 Diffie-Hellman exchange of the
// handshake.
//
// X25519 (RFC 7748) performs Diffie-Hellman over Curve25519 with
// x-coordinate-only Montgomery ladder arithmetic, giving constant-time
// execution. Each handshake generates a fresh keypair; the private scalar
// never outlives the handshake.
//
// X25519 alone is not quantum-resistant. The channel's defense is the hybrid
// derivation: the ECDH output is mixed with the pre-shared QKD secret, so an
// adversary must break both to recover the session key.
package crypto

import (
	"crypto/ecdh"

	"github.com/mokkunsuzuki-code/stage106/internal/constants"
	qerrors "github.com/mokkunsuzuki-code/stage106/internal/errors"
)

// X25519KeyPair is an ephemeral X25519 keypair. Generated fresh per
// handshake and discarded once the shared secret is derived.
type X25519KeyPair struct {
	// PublicKey is the public component carried in the HELLO payload
	PublicKey *ecdh.PublicKey

	// PrivateKey is the secret component
	PrivateKey *ecdh.PrivateKey
}

// GenerateX25519KeyPair generates a new ephemeral X25519 keypair.
// Returns an error only if the system CSPRNG fails.
func GenerateX25519KeyPair() (*X25519KeyPair, error) {
	curve := ecdh.X25519()

	privateKey, err := curve.GenerateKey(Reader)
	if err != nil {
		return nil, qerrors.NewCryptoError("X25519KeyPair.Generate", err)
	}

	return &X25519KeyPair{
		PublicKey:  privateKey.PublicKey(),
		PrivateKey: privateKey,
	}, nil
}

// ComputeSharedSecret performs the X25519 Diffie-Hellman computation against
// a peer public key.
//
// crypto/ecdh rejects a peer point whose product is the all-zero value, which
// covers the small-order points of Curve25519; such peers surface as
// ErrLowOrderPoint. The result must never be used directly as a key; it
// feeds DeriveSessionKey together with the QKD secret.
func ComputeSharedSecret(privateKey *ecdh.PrivateKey, peerPublic *ecdh.PublicKey) ([]byte, error) {
	if privateKey == nil || peerPublic == nil {
		return nil, qerrors.ErrInvalidPublicKey
	}

	sharedSecret, err := privateKey.ECDH(peerPublic)
	if err != nil {
		return nil, qerrors.NewCryptoError("ComputeSharedSecret", qerrors.ErrLowOrderPoint)
	}

	return sharedSecret, nil
}

// ParseX25519PublicKey parses and validates a peer public key from its
// 32-byte wire encoding.
func ParseX25519PublicKey(data []byte) (*ecdh.PublicKey, error) {
	if len(data) != constants.X25519PublicKeySize {
		return nil, qerrors.ErrInvalidPublicKey
	}

	curve := ecdh.X25519()
	publicKey, err := curve.NewPublicKey(data)
	if err != nil {
		return nil, qerrors.NewCryptoError("ParseX25519PublicKey", qerrors.ErrInvalidPublicKey)
	}

	return publicKey, nil
}

// PublicKeyBytes returns the 32-byte wire encoding of the public key.
func (kp *X25519KeyPair) PublicKeyBytes() []byte {
	return kp.PublicKey.Bytes()
}

// Zeroize drops the keypair's references so the ephemeral scalar becomes
// unreachable. crypto/ecdh does not expose the underlying bytes for
// overwriting.
func (kp *X25519KeyPair) Zeroize() {
	kp.PrivateKey = nil
	kp.PublicKey = nil
}
