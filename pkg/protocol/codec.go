// codec.go implements serialization and deserialization of protocol frames.
//
// All multi-byte integers are big-endian. The declared payload length is
// checked against MaxPayloadSize before any payload allocation, on both the
// read and decode paths, so a hostile peer cannot force large allocations
// with a forged header.
package protocol

import (
	"encoding/binary"
	"io"

	"github.com/mokkunsuzuki-code/stage106/internal/constants"
	qerrors "github.com/mokkunsuzuki-code/stage106/internal/errors"
)

// Codec serializes and deserializes protocol frames. It is stateless and
// safe for concurrent use.
type Codec struct{}

// NewCodec creates a new frame codec.
func NewCodec() *Codec {
	return &Codec{}
}

// EncodeHeader serializes a frame header. The record layer also binds these
// exact bytes as AEAD additional data, so header tampering breaks the tag.
func (c *Codec) EncodeHeader(frameType constants.FrameType, seq uint64, payloadLen int) []byte {
	header := make([]byte, constants.FrameHeaderSize)
	header[0] = byte(frameType)
	binary.BigEndian.PutUint64(header[1:9], seq)
	binary.BigEndian.PutUint32(header[9:13], uint32(payloadLen))
	return header
}

// EncodeFrame serializes a complete frame: header followed by payload.
func (c *Codec) EncodeFrame(f *Frame) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	buf := make([]byte, constants.FrameHeaderSize+len(f.Payload))
	buf[0] = byte(f.Type)
	binary.BigEndian.PutUint64(buf[1:9], f.Seq)
	binary.BigEndian.PutUint32(buf[9:13], uint32(len(f.Payload)))
	copy(buf[constants.FrameHeaderSize:], f.Payload)

	return buf, nil
}

// DecodeFrame parses a complete serialized frame. The data must contain
// exactly one frame; trailing bytes are a framing violation on a stream
// that delivers length-delimited frames.
func (c *Codec) DecodeFrame(data []byte) (*Frame, error) {
	if len(data) < constants.FrameHeaderSize {
		return nil, qerrors.ErrFrameTruncated
	}

	frameType := constants.FrameType(data[0])
	if !frameType.IsValid() {
		return nil, qerrors.ErrUnknownFrameType
	}

	payloadLen := binary.BigEndian.Uint32(data[9:13])
	if payloadLen > constants.MaxPayloadSize {
		return nil, qerrors.ErrFrameTooLarge
	}
	if len(data) != constants.FrameHeaderSize+int(payloadLen) {
		return nil, qerrors.ErrFrameTruncated
	}

	f := &Frame{
		Type: frameType,
		Seq:  binary.BigEndian.Uint64(data[1:9]),
	}
	if payloadLen > 0 {
		f.Payload = make([]byte, payloadLen)
		copy(f.Payload, data[constants.FrameHeaderSize:])
	}

	if err := f.Validate(); err != nil {
		return nil, err
	}

	return f, nil
}

// ReadFrame reads exactly one frame from r.
//
// It returns the parsed frame together with the raw header bytes, which the
// record layer needs as AEAD additional data for DATA frames.
func (c *Codec) ReadFrame(r io.Reader) (*Frame, []byte, error) {
	header := make([]byte, constants.FrameHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, nil, err
	}

	frameType := constants.FrameType(header[0])
	if !frameType.IsValid() {
		return nil, nil, qerrors.ErrUnknownFrameType
	}

	payloadLen := binary.BigEndian.Uint32(header[9:13])
	if payloadLen > constants.MaxPayloadSize {
		return nil, nil, qerrors.ErrFrameTooLarge
	}

	f := &Frame{
		Type: frameType,
		Seq:  binary.BigEndian.Uint64(header[1:9]),
	}
	if payloadLen > 0 {
		f.Payload = make([]byte, payloadLen)
		if _, err := io.ReadFull(r, f.Payload); err != nil {
			return nil, nil, err
		}
	}

	if err := f.Validate(); err != nil {
		return nil, nil, err
	}

	return f, header, nil
}

// WriteFrame serializes f and writes it to w in a single Write call, so
// concurrent writers serialized by a mutex cannot interleave partial frames.
func (c *Codec) WriteFrame(w io.Writer, f *Frame) error {
	buf, err := c.EncodeFrame(f)
	if err != nil {
		return err
	}
	if _, err := w.Write(buf); err != nil {
		return err
	}
	return nil
}

// EncodeHello serializes a HELLO payload. An empty signature produces the
// 48-byte unsigned form with no signature block at all.
func (c *Codec) EncodeHello(h *HelloPayload) ([]byte, error) {
	if err := h.Validate(); err != nil {
		return nil, err
	}

	size := constants.HelloBaseSize
	if len(h.Signature) > 0 {
		size += constants.SignatureLengthPrefixSize + len(h.Signature)
	}

	buf := make([]byte, size)
	offset := 0

	copy(buf[offset:], h.PublicKey)
	offset += constants.X25519PublicKeySize

	copy(buf[offset:], h.Nonce)
	offset += constants.HelloNonceSize

	if len(h.Signature) > 0 {
		binary.BigEndian.PutUint16(buf[offset:], uint16(len(h.Signature)))
		offset += constants.SignatureLengthPrefixSize
		copy(buf[offset:], h.Signature)
	}

	return buf, nil
}

// ParseHello parses a HELLO payload. Exactly HelloBaseSize bytes means an
// unsigned HELLO; anything longer must carry a well-formed signature block
// whose declared length matches the remaining bytes.
func (c *Codec) ParseHello(payload []byte) (*HelloPayload, error) {
	if len(payload) < constants.HelloBaseSize {
		return nil, qerrors.ErrInvalidPayload
	}

	h := &HelloPayload{
		PublicKey: make([]byte, constants.X25519PublicKeySize),
		Nonce:     make([]byte, constants.HelloNonceSize),
	}
	copy(h.PublicKey, payload[:constants.X25519PublicKeySize])
	copy(h.Nonce, payload[constants.X25519PublicKeySize:constants.HelloBaseSize])

	rest := payload[constants.HelloBaseSize:]
	if len(rest) == 0 {
		return h, nil
	}

	if len(rest) < constants.SignatureLengthPrefixSize {
		return nil, qerrors.ErrInvalidPayload
	}
	sigLen := int(binary.BigEndian.Uint16(rest))
	if sigLen == 0 || len(rest) != constants.SignatureLengthPrefixSize+sigLen {
		return nil, qerrors.ErrInvalidPayload
	}

	h.Signature = make([]byte, sigLen)
	copy(h.Signature, rest[constants.SignatureLengthPrefixSize:])

	return h, nil
}

// EncodeAck serializes an ACK payload echoing the acknowledged sequence.
func (c *Codec) EncodeAck(seq uint64) []byte {
	buf := make([]byte, constants.AckPayloadSize)
	binary.BigEndian.PutUint64(buf, seq)
	return buf
}

// ParseAck parses an ACK payload into the echoed sequence number.
func (c *Codec) ParseAck(payload []byte) (uint64, error) {
	if len(payload) != constants.AckPayloadSize {
		return 0, qerrors.ErrInvalidPayload
	}
	return binary.BigEndian.Uint64(payload), nil
}

// SplitDataPayload separates a DATA payload into its explicit nonce and the
// ciphertext (which includes the trailing tag). The slices alias payload;
// callers must not retain them past the frame's lifetime.
func (c *Codec) SplitDataPayload(payload []byte) (nonce, ciphertext []byte, err error) {
	if len(payload) < constants.MinDataPayloadSize {
		return nil, nil, qerrors.ErrPayloadTooShort
	}
	return payload[:constants.GCMNonceSize], payload[constants.GCMNonceSize:], nil
}
