// ABOUTME: Tagged-union envelope for warden messages and length-prefixed framing
// ABOUTME: Encode/Decode map between Message values and {type, payload} CBOR bodies

package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/2389/coven-warden/internal/codec"
)

var (
	// ErrUnknownMessageType is returned by Decode for an unrecognized tag.
	ErrUnknownMessageType = errors.New("unknown message type")

	// ErrMessageTooLarge is returned when a frame exceeds MaxMessageSize.
	ErrMessageTooLarge = errors.New("message exceeds maximum size")
)

// envelope is the on-the-wire shape of every frame body.
type envelope struct {
	Type    MessageType      `cbor:"type"`
	Payload codec.RawMessage `cbor:"payload"`
}

// Encode serializes msg into an envelope body.
func Encode(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, errors.New("encode: nil message")
	}
	payload, err := codec.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", msg.MessageType(), err)
	}
	body, err := codec.Marshal(envelope{Type: msg.MessageType(), Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", msg.MessageType(), err)
	}
	if len(body) > MaxMessageSize {
		return nil, fmt.Errorf("encode %s: %d bytes: %w", msg.MessageType(), len(body), ErrMessageTooLarge)
	}
	return body, nil
}

// newMessage returns an empty value for the given tag.
func newMessage(t MessageType) (Message, error) {
	switch t {
	case TypeSpawnRequest:
		return &SpawnRequest{}, nil
	case TypeSpawnResponse:
		return &SpawnResponse{}, nil
	case TypeControlCommand:
		return &ControlCommand{}, nil
	case TypeCommandResponse:
		return &CommandResponse{}, nil
	case TypeListAgentsRequest:
		return &ListAgentsRequest{}, nil
	case TypeListAgentsResponse:
		return &ListAgentsResponse{}, nil
	case TypeHealthCheckRequest:
		return &HealthCheckRequest{}, nil
	case TypeHealthCheckResponse:
		return &HealthCheckResponse{}, nil
	case TypeStatusUpdate:
		return &StatusUpdate{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, t)
	}
}

// Decode parses an envelope body into the concrete Message it carries.
func Decode(body []byte) (Message, error) {
	if len(body) > MaxMessageSize {
		return nil, fmt.Errorf("decode: %d bytes: %w", len(body), ErrMessageTooLarge)
	}
	var env envelope
	if err := codec.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	msg, err := newMessage(env.Type)
	if err != nil {
		return nil, err
	}
	if len(env.Payload) == 0 {
		return nil, fmt.Errorf("decode %s: missing payload", env.Type)
	}
	if err := codec.Unmarshal(env.Payload, msg); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return msg, nil
}

// WriteFrame writes body preceded by its 4-byte big-endian length.
func WriteFrame(w io.Writer, body []byte) error {
	if len(body) > MaxMessageSize {
		return fmt.Errorf("write frame: %d bytes: %w", len(body), ErrMessageTooLarge)
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("write frame body: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame. Oversized frames are rejected
// before any of the body is read.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > MaxMessageSize {
		return nil, fmt.Errorf("read frame: %d bytes: %w", size, ErrMessageTooLarge)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("read frame body: %w", err)
	}
	return body, nil
}
