// kdf.go implements the hybrid session key derivation and the handshake
// transcript hash.
//
// The session key construction:
//
//	SessionKey = HKDF-SHA256(
//	    ikm  = QKDKey || SharedSecret,
//	    salt = initiatorNonce || responderNonce,
//	    info = "qs-tls-stage106",
//	)[0:32]
//
// Mixing the pre-shared QKD secret with the ephemeral X25519 output means an
// adversary must compromise both: recording traffic and later breaking the
// curve does not help without the QKD secret, and a leaked QKD secret does
// not expose past sessions whose ephemeral scalars are gone.
//
// The salt binds the key to both handshake nonces, so two handshakes between
// the same peers with the same QKD secret still derive independent keys.
// Both peers use the identical info label; traffic directions are separated
// by the record nonce role bit, not by the KDF.
package crypto

import (
	"crypto/sha256"
	"encoding/binary"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"

	"github.com/mokkunsuzuki-code/stage106/internal/constants"
	qerrors "github.com/mokkunsuzuki-code/stage106/internal/errors"
)

// DeriveSessionKey derives the 32-byte AES-256-GCM session key for one
// established channel.
//
// Inputs are length-checked against the protocol sizes. The concatenated
// input key material is zeroized before returning; the caller remains
// responsible for zeroizing its own copies of qkdKey and sharedSecret.
func DeriveSessionKey(qkdKey, sharedSecret, initiatorNonce, responderNonce []byte) ([]byte, error) {
	if len(qkdKey) != constants.QKDKeySize {
		return nil, qerrors.NewCryptoError("DeriveSessionKey", qerrors.ErrInvalidKeySize)
	}
	if len(sharedSecret) != constants.X25519SharedSecretSize {
		return nil, qerrors.NewCryptoError("DeriveSessionKey", qerrors.ErrInvalidKeySize)
	}
	if len(initiatorNonce) != constants.HelloNonceSize || len(responderNonce) != constants.HelloNonceSize {
		return nil, qerrors.NewCryptoError("DeriveSessionKey", qerrors.ErrInvalidNonceSize)
	}

	ikm := make([]byte, 0, len(qkdKey)+len(sharedSecret))
	ikm = append(ikm, qkdKey...)
	ikm = append(ikm, sharedSecret...)
	defer Zeroize(ikm)

	salt := make([]byte, 0, 2*constants.HelloNonceSize)
	salt = append(salt, initiatorNonce...)
	salt = append(salt, responderNonce...)

	reader := hkdf.New(sha256.New, ikm, salt, []byte(constants.HKDFInfoLabel))

	key := make([]byte, constants.SessionKeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, qerrors.NewCryptoError("DeriveSessionKey", err)
	}

	return key, nil
}

// TranscriptHash computes the hash of the handshake transcript that the
// external signer signs.
//
// Every component is written with a 4-byte big-endian length prefix, after a
// leading component count, so no two distinct component sequences can
// produce the same input stream. The transcript label is always the first
// component, separating this hash from any other SHA3-256 use.
func TranscriptHash(components ...[]byte) []byte {
	h := sha3.New256()
	lenBuf := make([]byte, 4)

	binary.BigEndian.PutUint32(lenBuf, uint32(len(components)+1))
	h.Write(lenBuf)

	label := []byte(constants.TranscriptLabel)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(label)))
	h.Write(lenBuf)
	h.Write(label)

	for _, component := range components {
		binary.BigEndian.PutUint32(lenBuf, uint32(len(component)))
		h.Write(lenBuf)
		h.Write(component)
	}

	return h.Sum(nil)
}
