// Package stage106 provides a secure point-to-point messaging channel that
// hybridizes a pre-shared QKD secret with ephemeral X25519 key agreement.
//
// Each session mixes a 32-byte secret obtained from a quantum key
// distribution link with a fresh X25519 ECDH shared secret through
// HKDF-SHA256, producing an AES-256-GCM session key that is only ever held
// in memory and is zeroized on close. The channel carries application
// payloads as sequenced, acknowledged records with strict replay rejection.
//
// # Quick Start
//
// For a complete channel over TCP:
//
//	import (
//		"github.com/mokkunsuzuki-code/stage106/pkg/channel"
//		"github.com/mokkunsuzuki-code/stage106/pkg/keymat"
//		"github.com/mokkunsuzuki-code/stage106/pkg/message"
//	)
//
//	key, _ := keymat.LoadQKDKey("qkd.key")
//
//	// Server
//	mgr, _ := channel.NewManager(channel.Config{QKDKey: key})
//	mgr.Listen("tcp", ":9000")
//	go mgr.Serve(func(s *channel.Session, env *message.Envelope) {
//		s.SendEnvelope(message.NewChat("ack: " + env.Payload.Text))
//	})
//
//	// Client
//	sess, _ := channel.Dial(ctx, "tcp", "localhost:9000", channel.Config{QKDKey: key})
//	sess.SendEnvelope(message.NewChat("Hello!"))
//	reply, _ := sess.ReceiveEnvelope()
//	sess.Close()
//
// For raw byte transfer on a single connection, use channel.NewSession with
// an existing net.Conn, then Handshake, Send, and Receive.
//
// # Package Structure
//
// The library is organized into several packages:
//
//   - pkg/channel: Session lifecycle, handshake, record layer, multi-session manager
//   - pkg/crypto: Low-level primitives (X25519, HKDF, AES-256-GCM, ML-DSA-65)
//   - pkg/keymat: QKD key and signing identity files on disk
//   - pkg/protocol: Wire frame encoding and HELLO/ACK payload formats
//   - pkg/message: Chat and heartbeat envelope JSON encoding
//   - pkg/metrics: Structured logging, counters, and optional OpenTelemetry tracing
//   - internal/constants: Security parameters and protocol constants
//   - internal/errors: Custom error types for detailed error handling
//   - internal/config: TOML configuration for the qschat command
//
// # Security Properties
//
// The hybrid construction provides:
//
//   - Hybrid guarantee: Secure if EITHER the QKD secret or X25519 is secure
//   - Forward secrecy: Ephemeral X25519 keys generated for each session
//   - Authenticated encryption: AES-256-GCM with the frame header as AAD
//   - Replay protection: Strictly monotonic sequence numbers, stale records dropped
//   - Optional authentication: ML-DSA-65 signature over the handshake transcript
//   - Key hygiene: Session keys and private scalars zeroized on close
//
// # Testing
//
// The library includes comprehensive tests:
//
//	go test ./...                                  # All tests
//	go test -fuzz=FuzzDecodeFrame ./test/fuzz/     # Fuzz tests
//	go test -run TestFull ./test/integration       # End-to-end over TCP
//	go test -bench=. ./test/benchmark              # Benchmarks
//
// # References
//
//   - RFC 7748: Elliptic Curves for Security
//   - RFC 5869: HMAC-based Extract-and-Expand Key Derivation Function
//   - NIST FIPS 202: SHA-3 Standard (transcript hashing)
//   - NIST FIPS 204: Module-Lattice-Based Digital Signature Standard
//
// For more information, see: https://github.com/mokkunsuzuki-code/stage106
package stage106
