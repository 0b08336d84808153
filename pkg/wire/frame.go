// Package wire implements the length-prefixed, checksummed framing used
// on the manager's control channel: each message is a fixed 10-byte
// header (2-byte magic, 4-byte big-endian length, 4-byte CRC32C of the
// payload) followed by the payload bytes. Event encoding is msgpack;
// this package only supplies the framing around it.
package wire

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
)

const (
	headerSize = 10

	magicByte1 = 0x57 // 'W'
	magicByte2 = 0x4c // 'L'

	// DefaultMaxFrameSize bounds a single frame to guard against a
	// corrupt length field turning into an unbounded allocation.
	DefaultMaxFrameSize = 4 * 1024 * 1024
)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// WriteFrame writes payload to w as a single framed message.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > DefaultMaxFrameSize {
		return fmt.Errorf("wire: payload of %d bytes exceeds max frame size %d", len(payload), DefaultMaxFrameSize)
	}

	header := make([]byte, headerSize)
	header[0] = magicByte1
	header[1] = magicByte2
	binary.BigEndian.PutUint32(header[2:6], uint32(len(payload)))
	binary.BigEndian.PutUint32(header[6:10], crc32.Checksum(payload, crc32cTable))

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("wire: write header: %w", err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("wire: write payload: %w", err)
		}
	}
	return nil
}

// ReadFrame reads and validates a single framed message from r.
func ReadFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	if header[0] != magicByte1 || header[1] != magicByte2 {
		return nil, fmt.Errorf("wire: invalid magic bytes %02x%02x", header[0], header[1])
	}

	length := binary.BigEndian.Uint32(header[2:6])
	if length > DefaultMaxFrameSize {
		return nil, fmt.Errorf("wire: frame size %d exceeds max %d", length, DefaultMaxFrameSize)
	}
	wantCRC := binary.BigEndian.Uint32(header[6:10])

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, fmt.Errorf("wire: read payload: %w", err)
		}
	}

	if got := crc32.Checksum(payload, crc32cTable); got != wantCRC {
		return nil, fmt.Errorf("wire: CRC32C mismatch: want %08x, got %08x", wantCRC, got)
	}

	return payload, nil
}
