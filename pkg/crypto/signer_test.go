package crypto_test

import (
	"testing"

	"github.com/cloudflare/circl/sign/mldsa/mldsa65"

	"github.com/mokkunsuzuki-code/stage106/pkg/crypto"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	signer, err := crypto.GenerateMLDSA65Signer()
	if err != nil {
		t.Fatalf("GenerateMLDSA65Signer failed: %v", err)
	}

	transcript := crypto.TranscriptHash([]byte("hello material"), []byte("nonces"))
	sig, err := signer.Sign(transcript)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if len(sig) != mldsa65.SignatureSize {
		t.Errorf("signature length = %d, want %d", len(sig), mldsa65.SignatureSize)
	}

	verifier := signer.Verifier()
	if !verifier.Verify(transcript, sig) {
		t.Error("verifier rejected a genuine signature")
	}

	otherTranscript := crypto.TranscriptHash([]byte("different material"))
	if verifier.Verify(otherTranscript, sig) {
		t.Error("verifier accepted a signature over a different transcript")
	}

	tampered := append([]byte(nil), sig...)
	tampered[0] ^= 0x01
	if verifier.Verify(transcript, tampered) {
		t.Error("verifier accepted a tampered signature")
	}
}

func TestSignerKeyMarshalRoundTrip(t *testing.T) {
	signer, err := crypto.GenerateMLDSA65Signer()
	if err != nil {
		t.Fatalf("GenerateMLDSA65Signer failed: %v", err)
	}

	priv, err := signer.PrivateKeyBytes()
	if err != nil {
		t.Fatalf("PrivateKeyBytes failed: %v", err)
	}
	pub, err := signer.PublicKeyBytes()
	if err != nil {
		t.Fatalf("PublicKeyBytes failed: %v", err)
	}

	restored, err := crypto.NewMLDSA65Signer(priv)
	if err != nil {
		t.Fatalf("NewMLDSA65Signer failed: %v", err)
	}
	verifier, err := crypto.NewMLDSA65Verifier(pub)
	if err != nil {
		t.Fatalf("NewMLDSA65Verifier failed: %v", err)
	}

	transcript := crypto.TranscriptHash([]byte("persisted identity"))
	sig, err := restored.Sign(transcript)
	if err != nil {
		t.Fatalf("Sign with restored signer failed: %v", err)
	}
	if !verifier.Verify(transcript, sig) {
		t.Error("restored signer and verifier do not form a matching pair")
	}
}

func TestVerifyAcrossIdentities(t *testing.T) {
	signerA, err := crypto.GenerateMLDSA65Signer()
	if err != nil {
		t.Fatalf("generate signer A: %v", err)
	}
	signerB, err := crypto.GenerateMLDSA65Signer()
	if err != nil {
		t.Fatalf("generate signer B: %v", err)
	}

	transcript := crypto.TranscriptHash([]byte("impersonation check"))
	sig, err := signerA.Sign(transcript)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	if signerB.Verifier().Verify(transcript, sig) {
		t.Error("verifier for identity B accepted identity A's signature")
	}
}

func TestNewSignerRejectsGarbage(t *testing.T) {
	if _, err := crypto.NewMLDSA65Signer([]byte("not a key")); err == nil {
		t.Error("expected error for malformed private key bytes")
	}
	if _, err := crypto.NewMLDSA65Verifier(nil); err == nil {
		t.Error("expected error for empty public key bytes")
	}
}
