// signer.go defines the transcript signing capability and its default
// ML-DSA-65 implementation.
//
// The handshake optionally authenticates the responder: the responder signs
// the transcript hash of both HELLO payloads and the initiator verifies the
// signature against a pre-distributed public key. The handshake depends only
// on the Signer and Verifier interfaces, not on a particular algorithm, so
// deployments can substitute another scheme without touching the channel
// code.
//
// ML-DSA-65 (FIPS 204, NIST security category 3) is the default: a
// post-quantum signature keeps the authentication story consistent with the
// quantum-resistant key mix.
package crypto

import (
	"github.com/cloudflare/circl/sign/mldsa/mldsa65"

	qerrors "github.com/mokkunsuzuki-code/stage106/internal/errors"
)

// AlgorithmMLDSA65 names the default signing algorithm in stored identities.
const AlgorithmMLDSA65 = "ML-DSA-65"

// Signer produces signatures over handshake transcript hashes.
type Signer interface {
	// Sign signs the transcript hash and returns the signature bytes.
	Sign(transcript []byte) ([]byte, error)
}

// Verifier checks handshake transcript signatures for one bound peer
// public key.
type Verifier interface {
	// Verify reports whether signature is valid over transcript.
	Verify(transcript, signature []byte) bool
}

// MLDSA65Signer signs transcripts with an ML-DSA-65 private key.
type MLDSA65Signer struct {
	public  *mldsa65.PublicKey
	private *mldsa65.PrivateKey
}

// GenerateMLDSA65Signer generates a fresh ML-DSA-65 signing identity.
func GenerateMLDSA65Signer() (*MLDSA65Signer, error) {
	public, private, err := mldsa65.GenerateKey(Reader)
	if err != nil {
		return nil, qerrors.NewCryptoError("GenerateMLDSA65Signer", err)
	}
	return &MLDSA65Signer{public: public, private: private}, nil
}

// NewMLDSA65Signer reconstructs a signer from marshaled private key bytes.
func NewMLDSA65Signer(privateBytes []byte) (*MLDSA65Signer, error) {
	private, err := mldsa65.Scheme().UnmarshalBinaryPrivateKey(privateBytes)
	if err != nil {
		return nil, qerrors.NewCryptoError("NewMLDSA65Signer", err)
	}
	sk := private.(*mldsa65.PrivateKey)
	return &MLDSA65Signer{
		public:  sk.Public().(*mldsa65.PublicKey),
		private: sk,
	}, nil
}

// Sign signs the transcript hash deterministically.
func (s *MLDSA65Signer) Sign(transcript []byte) ([]byte, error) {
	signature := make([]byte, mldsa65.SignatureSize)
	if err := mldsa65.SignTo(s.private, transcript, nil, false, signature); err != nil {
		return nil, qerrors.NewCryptoError("MLDSA65Signer.Sign", err)
	}
	return signature, nil
}

// PublicKeyBytes returns the marshaled public key for distribution to peers.
func (s *MLDSA65Signer) PublicKeyBytes() ([]byte, error) {
	return s.public.MarshalBinary()
}

// PrivateKeyBytes returns the marshaled private key for persistence.
// Handle with care; this is the identity secret.
func (s *MLDSA65Signer) PrivateKeyBytes() ([]byte, error) {
	return s.private.MarshalBinary()
}

// Verifier returns the verifier for this signer's own public key.
func (s *MLDSA65Signer) Verifier() Verifier {
	return &MLDSA65Verifier{public: s.public}
}

// MLDSA65Verifier verifies transcript signatures against one ML-DSA-65
// public key.
type MLDSA65Verifier struct {
	public *mldsa65.PublicKey
}

// NewMLDSA65Verifier reconstructs a verifier from marshaled public key bytes.
func NewMLDSA65Verifier(publicBytes []byte) (*MLDSA65Verifier, error) {
	public, err := mldsa65.Scheme().UnmarshalBinaryPublicKey(publicBytes)
	if err != nil {
		return nil, qerrors.NewCryptoError("NewMLDSA65Verifier", err)
	}
	return &MLDSA65Verifier{public: public.(*mldsa65.PublicKey)}, nil
}

// Verify reports whether signature is a valid ML-DSA-65 signature over
// transcript.
func (v *MLDSA65Verifier) Verify(transcript, signature []byte) bool {
	return mldsa65.Verify(v.public, transcript, nil, signature)
}
