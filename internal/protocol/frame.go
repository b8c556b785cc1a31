package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize caps a single frame at 1 MiB. Image payloads dominate frame
// size; anything larger is treated as a protocol violation rather than
// buffered.
const MaxFrameSize = 1 << 20

var (
	// ErrFrameTooLarge is returned when a frame's declared length exceeds MaxFrameSize.
	ErrFrameTooLarge = errors.New("protocol: frame too large")

	// ErrVersionMismatch is returned when a frame carries an unknown schema version.
	ErrVersionMismatch = errors.New("protocol: version mismatch")
)

// Read decodes one length-prefixed frame from r.
//
// The wire format is a uint32 big-endian byte length followed by the JSON
// body. io.EOF is returned unwrapped when the peer closed the stream cleanly
// before a frame started.
func Read(r io.Reader) (Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return Message{}, io.EOF
		}
		return Message{}, fmt.Errorf("protocol: reading frame length: %w", err)
	}

	length := binary.BigEndian.Uint32(lenBuf[:])
	if length > MaxFrameSize {
		return Message{}, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Message{}, fmt.Errorf("protocol: reading frame body: %w", err)
	}

	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return Message{}, fmt.Errorf("protocol: decoding frame: %w", err)
	}
	if msg.V != Version {
		return Message{}, fmt.Errorf("%w: got %d, want %d", ErrVersionMismatch, msg.V, Version)
	}
	return msg, nil
}

// Write encodes msg as one length-prefixed frame on w. The schema version is
// stamped in; callers need not set it.
func Write(w io.Writer, msg Message) error {
	msg.V = Version

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("protocol: encoding frame: %w", err)
	}
	if len(body) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(body))
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))

	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("protocol: writing frame length: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("protocol: writing frame body: %w", err)
	}
	return nil
}
