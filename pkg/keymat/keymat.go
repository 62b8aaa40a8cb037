// Package keymat loads and guards the key material a channel endpoint
// needs before it can handshake: the pre-shared QKD secret and the
// ML-DSA-65 signing identity used for transcript authentication.
//
// The QKD secret is opaque bytes delivered out of band (for example by a
// quantum key distribution link or a provisioning system). This package
// does not generate it; it only enforces the contract that the file holds
// exactly one 32-byte key and keeps the bytes out of log output.
package keymat

import (
	"fmt"
	"os"

	"github.com/mokkunsuzuki-code/stage106/internal/constants"
	qerrors "github.com/mokkunsuzuki-code/stage106/internal/errors"
	"github.com/mokkunsuzuki-code/stage106/pkg/crypto"
)

// QKDKey holds the pre-shared 32-byte secret. The material is kept in an
// unexported field so that accidental %v / %+v formatting cannot leak it.
type QKDKey struct {
	material []byte
}

// Bytes returns the raw key material. The slice aliases the internal
// buffer; Zeroize invalidates it.
func (k *QKDKey) Bytes() []byte {
	return k.material
}

// Zeroize overwrites the key material in place.
func (k *QKDKey) Zeroize() {
	crypto.Zeroize(k.material)
}

// String implements fmt.Stringer without exposing key bytes.
func (k *QKDKey) String() string {
	return fmt.Sprintf("QKDKey(%d bytes)", len(k.material))
}

// NewQKDKey wraps key material that arrived by some channel other than a
// file, such as a provisioning API. The bytes are copied; the caller may
// zeroize its own buffer afterwards.
func NewQKDKey(material []byte) (*QKDKey, error) {
	if len(material) != constants.QKDKeySize {
		return nil, fmt.Errorf("%w: got %d bytes, need %d",
			qerrors.ErrKeyLength, len(material), constants.QKDKeySize)
	}
	buf := make([]byte, constants.QKDKeySize)
	copy(buf, material)
	return &QKDKey{material: buf}, nil
}

// LoadQKDKey reads the pre-shared secret from path. The file must contain
// exactly 32 raw bytes; anything shorter or longer is rejected rather than
// padded or truncated, since a wrong-sized file almost always means the
// operator pointed at the wrong artifact.
func LoadQKDKey(path string) (*QKDKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, qerrors.NewKeyLoadError(path, err)
	}
	if len(data) != constants.QKDKeySize {
		crypto.Zeroize(data)
		return nil, qerrors.NewKeyLoadError(path, fmt.Errorf(
			"%w: got %d bytes, need %d", qerrors.ErrKeyLength, len(data), constants.QKDKeySize))
	}
	return &QKDKey{material: data}, nil
}
