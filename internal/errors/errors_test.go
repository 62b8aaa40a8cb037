package errors

import (
	"errors"
	"strings"
	"testing"
)

// TestCryptoError tests CryptoError type.
func TestCryptoError(t *testing.T) {
	baseErr := errors.New("base error")
	cerr := NewCryptoError("derive-session-key", baseErr)

	errStr := cerr.Error()
	if !strings.Contains(errStr, "derive-session-key") {
		t.Errorf("Error string should contain operation: %q", errStr)
	}
	if !strings.Contains(errStr, "base error") {
		t.Errorf("Error string should contain base error: %q", errStr)
	}

	if cerr.Unwrap() != baseErr {
		t.Errorf("Unwrap() returned %v, want %v", cerr.Unwrap(), baseErr)
	}
	if cerr.Op != "derive-session-key" {
		t.Errorf("Op = %q, want %q", cerr.Op, "derive-session-key")
	}
}

// TestKindMatching verifies that each typed error matches its kind sentinel
// through errors.Is, so callers can classify failures without knowing the
// concrete type.
func TestKindMatching(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind error
	}{
		{"key load", NewKeyLoadError("/etc/qkd.key", ErrKeyLength), ErrKeyLoad},
		{"handshake", NewHandshakeError("parse-hello", ErrInvalidPublicKey), ErrHandshake},
		{"decrypt", NewDecryptError(7, ErrAuthenticationFailed), ErrDecrypt},
		{"delivery", NewDeliveryError(3, 4), ErrDelivery},
		{"transport", NewTransportError("read-frame", errors.New("broken pipe")), ErrTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !Is(tt.err, tt.kind) {
				t.Errorf("%v should match kind sentinel %v", tt.err, tt.kind)
			}
		})
	}

	// Kinds must not bleed into each other.
	if Is(NewKeyLoadError("p", ErrKeyLength), ErrHandshake) {
		t.Error("KeyLoadError must not match ErrHandshake")
	}
	if Is(NewDecryptError(1, ErrAuthenticationFailed), ErrDelivery) {
		t.Error("DecryptError must not match ErrDelivery")
	}
}

// TestUnwrapToSentinel verifies the cause chain stays visible through the
// typed wrappers.
func TestUnwrapToSentinel(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"key length through KeyLoadError", NewKeyLoadError("k", ErrKeyLength), ErrKeyLength},
		{"low order through HandshakeError", NewHandshakeError("ecdh", ErrLowOrderPoint), ErrLowOrderPoint},
		{"auth failure through DecryptError", NewDecryptError(9, ErrAuthenticationFailed), ErrAuthenticationFailed},
		{"replay through DecryptError", NewDecryptError(2, ErrReplay), ErrReplay},
		{"sentinel through double wrap", NewHandshakeError("outer", NewCryptoError("inner", ErrInvalidKeySize)), ErrInvalidKeySize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !Is(tt.err, tt.sentinel) {
				t.Errorf("%v should match %v", tt.err, tt.sentinel)
			}
		})
	}
}

// TestAsExtraction tests the As helper function.
func TestAsExtraction(t *testing.T) {
	err := NewHandshakeError("verify-signature", ErrSignatureInvalid)

	var hsErr *HandshakeError
	if !As(err, &hsErr) {
		t.Fatal("As() should extract *HandshakeError")
	}
	if hsErr.Phase != "verify-signature" {
		t.Errorf("Phase = %q, want %q", hsErr.Phase, "verify-signature")
	}

	var loadErr *KeyLoadError
	if As(err, &loadErr) {
		t.Error("As() should not extract *KeyLoadError from a HandshakeError")
	}
}

// TestDeliveryError tests the retransmission failure error.
func TestDeliveryError(t *testing.T) {
	err := NewDeliveryError(42, 4)

	if err.Seq != 42 {
		t.Errorf("Seq = %d, want 42", err.Seq)
	}
	if err.Attempts != 4 {
		t.Errorf("Attempts = %d, want 4", err.Attempts)
	}

	errStr := err.Error()
	if !strings.Contains(errStr, "42") {
		t.Errorf("Error string should name the sequence: %q", errStr)
	}
	if !strings.Contains(errStr, "4") {
		t.Errorf("Error string should name the attempt count: %q", errStr)
	}
}

// TestDecryptErrorContext tests that decrypt failures carry the frame
// sequence for diagnostics.
func TestDecryptErrorContext(t *testing.T) {
	err := NewDecryptError(1001, ErrAuthenticationFailed)

	var dErr *DecryptError
	if !As(err, &dErr) {
		t.Fatal("As() should extract *DecryptError")
	}
	if dErr.Seq != 1001 {
		t.Errorf("Seq = %d, want 1001", dErr.Seq)
	}
	if !strings.Contains(err.Error(), "1001") {
		t.Errorf("Error string should include the sequence: %q", err.Error())
	}
}

// TestSentinelErrors tests all sentinel error definitions.
func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		// Kinds
		{"ErrKeyLoad", ErrKeyLoad},
		{"ErrHandshake", ErrHandshake},
		{"ErrDecrypt", ErrDecrypt},
		{"ErrDelivery", ErrDelivery},
		{"ErrTransport", ErrTransport},
		// Key material
		{"ErrKeyLength", ErrKeyLength},
		{"ErrUnknownAlgorithm", ErrUnknownAlgorithm},
		// Crypto
		{"ErrInvalidKeySize", ErrInvalidKeySize},
		{"ErrInvalidNonceSize", ErrInvalidNonceSize},
		{"ErrCiphertextTooShort", ErrCiphertextTooShort},
		// Handshake
		{"ErrInvalidPublicKey", ErrInvalidPublicKey},
		{"ErrLowOrderPoint", ErrLowOrderPoint},
		{"ErrSignatureInvalid", ErrSignatureInvalid},
		{"ErrSignatureMissing", ErrSignatureMissing},
		{"ErrInvalidState", ErrInvalidState},
		// Record
		{"ErrReplay", ErrReplay},
		{"ErrAuthenticationFailed", ErrAuthenticationFailed},
		{"ErrPayloadTooShort", ErrPayloadTooShort},
		{"ErrUnexpectedAck", ErrUnexpectedAck},
		// Frames
		{"ErrUnknownFrameType", ErrUnknownFrameType},
		{"ErrFrameTooLarge", ErrFrameTooLarge},
		{"ErrFrameTruncated", ErrFrameTruncated},
		{"ErrInvalidPayload", ErrInvalidPayload},
		// Messages
		{"ErrUnknownMessageKind", ErrUnknownMessageKind},
		// Sessions
		{"ErrSessionClosed", ErrSessionClosed},
		{"ErrSessionNotEstablished", ErrSessionNotEstablished},
		{"ErrManagerClosed", ErrManagerClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err == nil {
				t.Fatalf("%s is nil", tt.name)
			}
			if tt.err.Error() == "" {
				t.Errorf("%s.Error() returned empty string", tt.name)
			}
		})
	}
}

// TestErrorContextPreservation tests that nested contexts stay readable.
func TestErrorContextPreservation(t *testing.T) {
	err := NewHandshakeError("derive-key", NewCryptoError("hkdf-expand", ErrInvalidKeySize))

	errStr := err.Error()
	if !strings.Contains(errStr, "derive-key") {
		t.Errorf("Error string missing handshake phase: %q", errStr)
	}
	if !strings.Contains(errStr, "hkdf-expand") {
		t.Errorf("Error string missing crypto operation: %q", errStr)
	}
}

// TestNilErrorHandling tests handling of nil errors.
func TestNilErrorHandling(t *testing.T) {
	if Is(nil, ErrKeyLoad) {
		t.Error("Is(nil, target) should return false")
	}

	var target *KeyLoadError
	if As(nil, &target) {
		t.Error("As(nil, target) should return false")
	}
}
