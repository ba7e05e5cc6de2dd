package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Frame layout: tag uint32 LE | length uint64 LE | payload.
const frameHeaderSize = 4 + 8

var (
	// ErrMessageTooLarge is returned by Push for a message that cannot fit
	// even in an empty segment. It is a configuration error and never retried.
	ErrMessageTooLarge = errors.New("ipc: message larger than segment")
	// ErrHandshakeTimeout is returned when the peer does not answer IsAlive.
	ErrHandshakeTimeout = errors.New("ipc: handshake timed out")
)

// ProtocolError reports a frame the receiver cannot interpret. Peers that
// disagree on the protocol cannot recover, so callers treat it as fatal.
type ProtocolError struct {
	Reason string
	Tag    Tag
	Err    error
}

func (e *ProtocolError) Error() string {
	msg := "ipc: protocol violation: " + e.Reason
	if e.Tag != 0 {
		msg += " (" + e.Tag.String() + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func frameSize(payload []byte) int { return frameHeaderSize + len(payload) }

func putFrame(dst []byte, tag Tag, payload []byte) int {
	binary.LittleEndian.PutUint32(dst[0:4], uint32(tag))
	binary.LittleEndian.PutUint64(dst[4:12], uint64(len(payload)))
	return frameHeaderSize + copy(dst[frameHeaderSize:], payload)
}

// parseFrames decodes every frame in buf in order.
func parseFrames(buf []byte, reg *Registry) ([]Message, error) {
	var out []Message
	for off := 0; off < len(buf); {
		if len(buf)-off < frameHeaderSize {
			return out, &ProtocolError{Reason: fmt.Sprintf("truncated frame header at offset %d", off)}
		}
		tag := Tag(binary.LittleEndian.Uint32(buf[off : off+4]))
		length := binary.LittleEndian.Uint64(buf[off+4 : off+12])
		off += frameHeaderSize
		if length > uint64(len(buf)-off) {
			return out, &ProtocolError{Reason: fmt.Sprintf("frame length %d exceeds buffer", length), Tag: tag}
		}
		msg, err := reg.Decode(tag, buf[off:off+int(length)])
		if err != nil {
			return out, err
		}
		out = append(out, msg)
		off += int(length)
	}
	return out, nil
}
