// Package persistence implements the binary frame container used by the
// KartaDB snapshot format. A snapshot file is a fixed sequence of frames,
// one per store section; each frame is individually checksummed so a
// truncated or corrupted file is detected before a store is ever served
// from it.
package persistence

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
)

// Constants for the snapshot binary container.
const (
	// MagicByte marks the start of a valid frame. It helps detect files
	// that are not KartaDB snapshots at all.
	MagicByte = 0xC7

	// HeaderSize is the fixed size of the frame metadata:
	// 1 byte (Magic) + 1 byte (Section) + 4 bytes (Length) + 4 bytes (CRC32).
	HeaderSize = 10
)

var (
	// ErrInvalidMagic indicates the stream is not a valid snapshot or lost
	// synchronization.
	ErrInvalidMagic = errors.New("invalid magic byte")
	// ErrChecksumMismatch indicates corruption within the frame payload.
	ErrChecksumMismatch = errors.New("crc32 checksum mismatch")
	// ErrIncompleteFrame indicates the stream ended mid-frame.
	ErrIncompleteFrame = errors.New("incomplete frame")
)

// WriteFrame encodes payload into a checksummed frame tagged with the given
// section byte and writes it to w.
// Frame format: [Magic(1)][Section(1)][Length(4)][CRC(4)][Payload(N)],
// integers little-endian.
func WriteFrame(w io.Writer, section byte, payload []byte) error {
	header := make([]byte, HeaderSize)
	header[0] = MagicByte
	header[1] = section
	binary.LittleEndian.PutUint32(header[2:6], uint32(len(payload)))
	binary.LittleEndian.PutUint32(header[6:10], crc32.ChecksumIEEE(payload))

	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads the next frame from r, validating the magic byte and the
// payload checksum. It returns the section tag and the payload.
func ReadFrame(r io.Reader) (byte, []byte, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if err == io.EOF {
			return 0, nil, io.EOF
		}
		return 0, nil, ErrIncompleteFrame
	}

	if header[0] != MagicByte {
		return 0, nil, ErrInvalidMagic
	}

	length := binary.LittleEndian.Uint32(header[2:6])
	expectedCRC := binary.LittleEndian.Uint32(header[6:10])

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, ErrIncompleteFrame
	}

	if crc32.ChecksumIEEE(payload) != expectedCRC {
		return header[1], nil, ErrChecksumMismatch
	}

	return header[1], payload, nil
}
