package protocol

import (
	"encoding/binary"
	"errors"
	"io"
)

const (
	// MaxFrameSize is the largest payload a 2-byte length header can describe
	MaxFrameSize = 0xFFFF

	// FrameHeaderSize is the size of the big-endian length header
	FrameHeaderSize = 2
)

// ReadFrame reads one frame: a 2-byte big-endian length followed by exactly
// that many payload bytes. A stream that closes before the header or the
// payload is complete yields ErrEndOfStream. Other read errors (deadlines,
// resets) are returned unchanged.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [FrameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, streamError(err)
	}

	length := binary.BigEndian.Uint16(header[:])
	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, streamError(err)
		}
	}
	return payload, nil
}

// WriteFrame writes the length header and payload as one write.
func WriteFrame(w io.Writer, payload []byte) error {
	buf, err := EncodeFrame(payload)
	if err != nil {
		return err
	}
	if _, err := w.Write(buf); err != nil {
		return err
	}

	// Flush if the writer supports it (e.g., *bufio.Writer)
	type flusher interface {
		Flush() error
	}
	if fl, ok := w.(flusher); ok {
		return fl.Flush()
	}

	return nil
}

// EncodeFrame is a helper that frames a payload into a byte slice
func EncodeFrame(payload []byte) ([]byte, error) {
	if len(payload) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	buf := make([]byte, FrameHeaderSize+len(payload))
	binary.BigEndian.PutUint16(buf, uint16(len(payload)))
	copy(buf[FrameHeaderSize:], payload)
	return buf, nil
}

func streamError(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrEndOfStream
	}
	return err
}
