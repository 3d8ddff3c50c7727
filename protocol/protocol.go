package protocol

import (
	"encoding/binary"
	"errors"
	"io"
)

const (
	// MaxFrameSize bounds a single JSON payload (64 KiB).
	MaxFrameSize = 64 * 1024

	headerSize = 4
)

var (
	ErrFrameTooLarge = errors.New("frame exceeds maximum size (64 KiB)")
	ErrEmptyFrame    = errors.New("empty frame")
)

// WriteFrame writes payload prefixed with its big-endian uint32 length.
// Header and payload go out in one Write so concurrent writers on other
// connections never see a torn frame.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	if len(payload) == 0 {
		return ErrEmptyFrame
	}

	buf := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[headerSize:], payload)

	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one length-prefixed payload. A connection closed cleanly
// between frames yields io.EOF; one closed mid-frame yields io.ErrUnexpectedEOF.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(header[:])
	if length > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	if length == 0 {
		return nil, ErrEmptyFrame
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return payload, nil
}

// ReadMessage reads and decodes one message.
func ReadMessage(r io.Reader) (Message, error) {
	payload, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}
	return Decode(payload)
}

// WriteMessage encodes and writes one message.
func WriteMessage(w io.Writer, m Message) error {
	payload, err := Encode(m)
	if err != nil {
		return err
	}
	return WriteFrame(w, payload)
}
