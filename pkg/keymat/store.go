package keymat

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"

	qerrors "github.com/mokkunsuzuki-code/stage106/internal/errors"
	"github.com/mokkunsuzuki-code/stage106/pkg/crypto"
)

// Key files are JSON so an operator can inspect the algorithm tag without
// special tooling. The secret file is written 0600, the public file 0644.
type publicKeyFile struct {
	Algorithm string `json:"algorithm"`
	PublicKey string `json:"public_key"`
}

type secretKeyFile struct {
	Algorithm string `json:"algorithm"`
	SecretKey string `json:"secret_key"`
}

// GenerateSigningIdentity creates a fresh ML-DSA-65 identity and persists
// it to the given paths. It returns the in-memory signer so a caller can
// use the identity immediately after provisioning.
func GenerateSigningIdentity(publicPath, secretPath string) (*crypto.MLDSA65Signer, error) {
	signer, err := crypto.GenerateMLDSA65Signer()
	if err != nil {
		return nil, err
	}
	if err := SaveSigningIdentity(signer, publicPath, secretPath); err != nil {
		return nil, err
	}
	return signer, nil
}

// SaveSigningIdentity writes the signer's public and secret keys to disk.
func SaveSigningIdentity(signer *crypto.MLDSA65Signer, publicPath, secretPath string) error {
	pub, err := signer.PublicKeyBytes()
	if err != nil {
		return qerrors.NewKeyLoadError(publicPath, err)
	}
	sec, err := signer.PrivateKeyBytes()
	if err != nil {
		return qerrors.NewKeyLoadError(secretPath, err)
	}
	defer crypto.Zeroize(sec)

	pubFile := publicKeyFile{
		Algorithm: crypto.AlgorithmMLDSA65,
		PublicKey: base64.StdEncoding.EncodeToString(pub),
	}
	pubJSON, err := json.MarshalIndent(pubFile, "", "  ")
	if err != nil {
		return qerrors.NewKeyLoadError(publicPath, err)
	}
	if err := os.WriteFile(publicPath, pubJSON, 0644); err != nil {
		return qerrors.NewKeyLoadError(publicPath, err)
	}

	secFile := secretKeyFile{
		Algorithm: crypto.AlgorithmMLDSA65,
		SecretKey: base64.StdEncoding.EncodeToString(sec),
	}
	secJSON, err := json.MarshalIndent(secFile, "", "  ")
	if err != nil {
		return qerrors.NewKeyLoadError(secretPath, err)
	}
	if err := os.WriteFile(secretPath, secJSON, 0600); err != nil {
		return qerrors.NewKeyLoadError(secretPath, err)
	}
	return nil
}

// LoadSigner reads a secret key file and reconstructs the signer.
func LoadSigner(path string) (*crypto.MLDSA65Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, qerrors.NewKeyLoadError(path, err)
	}
	var file secretKeyFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, qerrors.NewKeyLoadError(path, err)
	}
	if file.Algorithm != crypto.AlgorithmMLDSA65 {
		return nil, qerrors.NewKeyLoadError(path, fmt.Errorf(
			"%w: %q", qerrors.ErrUnknownAlgorithm, file.Algorithm))
	}
	raw, err := base64.StdEncoding.DecodeString(file.SecretKey)
	if err != nil {
		return nil, qerrors.NewKeyLoadError(path, err)
	}
	defer crypto.Zeroize(raw)
	signer, err := crypto.NewMLDSA65Signer(raw)
	if err != nil {
		return nil, qerrors.NewKeyLoadError(path, err)
	}
	return signer, nil
}

// LoadVerifier reads a public key file and reconstructs the verifier.
func LoadVerifier(path string) (*crypto.MLDSA65Verifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, qerrors.NewKeyLoadError(path, err)
	}
	var file publicKeyFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, qerrors.NewKeyLoadError(path, err)
	}
	if file.Algorithm != crypto.AlgorithmMLDSA65 {
		return nil, qerrors.NewKeyLoadError(path, fmt.Errorf(
			"%w: %q", qerrors.ErrUnknownAlgorithm, file.Algorithm))
	}
	raw, err := base64.StdEncoding.DecodeString(file.PublicKey)
	if err != nil {
		return nil, qerrors.NewKeyLoadError(path, err)
	}
	verifier, err := crypto.NewMLDSA65Verifier(raw)
	if err != nil {
		return nil, qerrors.NewKeyLoadError(path, err)
	}
	return verifier, nil
}
