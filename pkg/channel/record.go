// record.go implements the acknowledged record layer of an established
// session.
//
// Each DATA frame is sealed with a deterministic nonce derived from the
// sender's role and the frame sequence, with the 13-byte frame header bound
// as additional authenticated data. The sender holds the exact wire bytes
// until the matching ACK arrives, retransmitting them unchanged on timeout;
// after the retry budget is spent the send fails without disturbing the
// session. The receiver accepts only strictly increasing sequences, answers
// every accepted DATA with an ACK, and treats a failed tag check as a
// channel compromise that ends the session.
package channel

import (
	"bytes"
	"time"

	"github.com/mokkunsuzuki-code/stage106/internal/constants"
	qerrors "github.com/mokkunsuzuki-code/stage106/internal/errors"
	"github.com/mokkunsuzuki-code/stage106/pkg/crypto"
	"github.com/mokkunsuzuki-code/stage106/pkg/message"
	"github.com/mokkunsuzuki-code/stage106/pkg/metrics"
	"github.com/mokkunsuzuki-code/stage106/pkg/protocol"
)

// Send encrypts plaintext as one DATA record and blocks until the peer
// acknowledges it or the retry budget is exhausted. A DeliveryError leaves
// the session established; sequence numbering and later sends are
// unaffected.
func (s *Session) Send(plaintext []byte) error {
	switch s.State() {
	case StateEstablished:
	case StateInit, StateHelloSent:
		return qerrors.ErrSessionNotEstablished
	default:
		return qerrors.ErrSessionClosed
	}

	aead := s.cipher()
	if aead == nil {
		return qerrors.ErrSessionClosed
	}

	// Wire payload is nonce || ciphertext || tag.
	payloadLen := len(plaintext) + aead.Overhead()
	if payloadLen > constants.MaxPayloadSize {
		return qerrors.ErrFrameTooLarge
	}

	seq := s.sendSeq.Add(1)
	nonce := crypto.RecordNonce(s.role.nonceByte(), seq)
	header := s.codec.EncodeHeader(constants.FrameData, seq, payloadLen)

	ciphertext, err := aead.SealWithNonce(nonce, plaintext, header)
	if err != nil {
		return err
	}

	wire := make([]byte, 0, constants.FrameHeaderSize+payloadLen)
	wire = append(wire, header...)
	wire = append(wire, nonce...)
	wire = append(wire, ciphertext...)

	acked, err := s.registerPending(seq)
	if err != nil {
		return err
	}

	if err := s.writeRaw(constants.FrameData, seq, wire); err != nil {
		s.unregisterPending(seq)
		return qerrors.NewTransportError("write-record", err)
	}
	s.recordsSent.Add(1)
	s.bytesSent.Add(uint64(len(plaintext)))

	transmissions := 1
	timer := time.NewTimer(s.cfg.AckTimeout)
	defer timer.Stop()

	for {
		select {
		case <-acked:
			return nil

		case <-timer.C:
			if transmissions > s.cfg.MaxRetries {
				// The ACK may have landed while the timer fired.
				select {
				case <-acked:
					return nil
				default:
				}
				s.unregisterPending(seq)
				s.observer.OnDeliveryFailure(seq, transmissions)
				return qerrors.NewDeliveryError(seq, transmissions)
			}

			transmissions++
			s.observer.OnRetransmit(seq, transmissions)
			if err := s.writeRaw(constants.FrameData, seq, wire); err != nil {
				s.unregisterPending(seq)
				return qerrors.NewTransportError("write-record", err)
			}
			timer.Reset(s.cfg.AckTimeout)

		case <-s.done:
			return qerrors.ErrSessionClosed
		}
	}
}

// Receive returns the next decrypted application payload, blocking until a
// record arrives or the session ends. Records delivered before teardown are
// drained before the terminal error is reported.
func (s *Session) Receive() ([]byte, error) {
	select {
	case data, ok := <-s.inbound:
		if !ok {
			return nil, s.terminalError()
		}
		return data, nil
	default:
	}

	select {
	case data, ok := <-s.inbound:
		if !ok {
			return nil, s.terminalError()
		}
		return data, nil

	case <-s.done:
		select {
		case data, ok := <-s.inbound:
			if !ok {
				return nil, s.terminalError()
			}
			return data, nil
		default:
			return nil, s.terminalError()
		}
	}
}

// SendEnvelope encodes an application envelope and sends it as one record.
func (s *Session) SendEnvelope(env *message.Envelope) error {
	payload, err := env.Encode()
	if err != nil {
		return err
	}
	return s.Send(payload)
}

// ReceiveEnvelope receives one record and decodes it as an application
// envelope.
func (s *Session) ReceiveEnvelope() (*message.Envelope, error) {
	payload, err := s.Receive()
	if err != nil {
		return nil, err
	}
	return message.Decode(payload)
}

// registerPending creates the ACK wait channel for an outstanding sequence.
func (s *Session) registerPending(seq uint64) (chan struct{}, error) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	if s.pending == nil {
		return nil, qerrors.ErrSessionClosed
	}
	ch := make(chan struct{})
	s.pending[seq] = ch
	return ch, nil
}

// unregisterPending drops a pending entry, reporting whether it was still
// outstanding.
func (s *Session) unregisterPending(seq uint64) bool {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	if s.pending == nil {
		return false
	}
	_, ok := s.pending[seq]
	delete(s.pending, seq)
	return ok
}

// writeFrame serializes and writes one frame under the write lock.
func (s *Session) writeFrame(f *protocol.Frame) error {
	wire, err := s.codec.EncodeFrame(f)
	if err != nil {
		return err
	}
	return s.writeRaw(f.Type, f.Seq, wire)
}

// writeRaw writes pre-encoded frame bytes in a single Write call.
// Retransmissions pass the exact original bytes, nonce included, so a
// retransmitted record is byte-identical to the first copy.
func (s *Session) writeRaw(frameType constants.FrameType, seq uint64, wire []byte) error {
	s.writeMu.Lock()
	_, err := s.conn.Write(wire)
	s.writeMu.Unlock()
	if err != nil {
		return err
	}
	s.observer.OnFrameSent(frameType, seq, len(wire))
	return nil
}

// readLoop owns all reads from the connection: it dispatches ACKs to
// pending sends, delivers decrypted DATA payloads, and handles CLOSE.
// It runs from handshake completion until teardown.
func (s *Session) readLoop() {
	defer close(s.inbound)

	for {
		frame, rawHeader, err := s.codec.ReadFrame(s.conn)
		if err != nil {
			// Reads fail on the closed connection during teardown; only
			// a live session treats that as a transport failure.
			if st := s.State(); st != StateClosing && st != StateClosed {
				s.fail(qerrors.NewTransportError("read-frame", err))
			}
			s.teardown()
			return
		}

		s.observer.OnFrameReceived(frame.Type, frame.Seq, constants.FrameHeaderSize+len(frame.Payload))

		switch frame.Type {
		case constants.FrameData:
			if err := s.handleData(frame, rawHeader); err != nil {
				s.fail(err)
				s.teardown()
				return
			}

		case constants.FrameAck:
			s.handleAck(frame)

		case constants.FrameClose:
			s.handleRemoteClose()
			return

		case constants.FrameHello:
			s.fail(qerrors.NewHandshakeError("established", qerrors.ErrInvalidState))
			s.teardown()
			return
		}
	}
}

// handleData authenticates, decrypts, acknowledges, and delivers one DATA
// frame. Replayed sequences are dropped without error; an authentication
// failure is terminal for the session.
func (s *Session) handleData(frame *protocol.Frame, rawHeader []byte) error {
	last := s.lastAccepted.Load()
	if frame.Seq <= last {
		// Retransmissions of an already-accepted record land here when
		// our ACK was lost. Strict ordering drops them without a fresh
		// ACK rather than widening the replay surface.
		s.observer.OnReplayRejected(frame.Seq, last)
		return nil
	}

	aead := s.cipher()
	if aead == nil {
		// Teardown in progress; drop the frame and let the loop exit on
		// the closed connection.
		return nil
	}

	nonce, ciphertext, err := s.codec.SplitDataPayload(frame.Payload)
	if err != nil {
		s.observer.OnAuthFailure(frame.Seq)
		return qerrors.NewDecryptError(frame.Seq, err)
	}

	// The wire nonce must be exactly the deterministic nonce for the
	// peer's role and this sequence; anything else is a forged or
	// reflected record.
	expected := crypto.RecordNonce(s.role.peerNonceByte(), frame.Seq)
	if !bytes.Equal(nonce, expected) {
		s.observer.OnAuthFailure(frame.Seq)
		return qerrors.NewDecryptError(frame.Seq, qerrors.ErrAuthenticationFailed)
	}

	plaintext, err := aead.OpenWithNonce(expected, ciphertext, rawHeader)
	if err != nil {
		s.observer.OnAuthFailure(frame.Seq)
		return qerrors.NewDecryptError(frame.Seq, err)
	}

	s.lastAccepted.Store(frame.Seq)

	// ACK before delivery so a slow consumer cannot push the sender into
	// spurious retransmission.
	if err := s.sendAck(frame.Seq); err != nil {
		return qerrors.NewTransportError("write-ack", err)
	}

	s.recordsReceived.Add(1)
	s.bytesReceived.Add(uint64(len(plaintext)))

	select {
	case s.inbound <- plaintext:
	case <-s.done:
	}
	return nil
}

// handleAck settles the pending send that matches the echoed sequence.
// ACKs with no outstanding frame are logged and ignored; the network may
// duplicate them and a hostile peer gains nothing by forging them.
func (s *Session) handleAck(frame *protocol.Frame) {
	seq, err := s.codec.ParseAck(frame.Payload)
	if err != nil {
		s.observer.Logger().Warn("malformed ack payload", metrics.Fields{"seq": frame.Seq})
		return
	}

	s.pendingMu.Lock()
	ch, ok := s.pending[seq]
	if ok {
		delete(s.pending, seq)
	}
	s.pendingMu.Unlock()

	if !ok {
		s.observer.Logger().Warn("dropping ack", metrics.Fields{
			"seq":   seq,
			"error": qerrors.ErrUnexpectedAck.Error(),
		})
		return
	}
	close(ch)
}

// handleRemoteClose completes the CLOSE exchange from the receiving side.
func (s *Session) handleRemoteClose() {
	if s.State() == StateClosing {
		// The peer answered our CLOSE; Close finishes the teardown.
		close(s.closeEcho)
		return
	}

	// Peer-initiated close: echo a CLOSE back (best effort), then tear
	// down and zeroize.
	echo := &protocol.Frame{Type: constants.FrameClose, Seq: s.sendSeq.Add(1)}
	_ = s.writeFrame(echo)
	s.teardown()
}

// sendAck acknowledges an accepted DATA sequence.
func (s *Session) sendAck(seq uint64) error {
	return s.writeFrame(&protocol.Frame{
		Type:    constants.FrameAck,
		Seq:     seq,
		Payload: s.codec.EncodeAck(seq),
	})
}
