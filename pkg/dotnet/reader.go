package dotnet

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Reader is a little-endian cursor over a byte slice. Position is relative to
// the start of the slice.
type Reader struct {
	data     []byte
	Position uint32
}

// NewReader creates a Reader over data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Len returns the number of bytes left to read.
func (r *Reader) Len() int {
	if int(r.Position) >= len(r.data) {
		return 0
	}
	return len(r.data) - int(r.Position)
}

func (r *Reader) need(n int) error {
	if r.Len() < n {
		return fmt.Errorf("read of %d bytes at position %d: %w", n, r.Position, io.ErrUnexpectedEOF)
	}
	return nil
}

// ReadByte reads one byte.
func (r *Reader) ReadByte() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	b := r.data[r.Position]
	r.Position++
	return b, nil
}

// ReadUint16 reads a little-endian uint16.
func (r *Reader) ReadUint16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.data[r.Position:])
	r.Position += 2
	return v, nil
}

// ReadUint32 reads a little-endian uint32.
func (r *Reader) ReadUint32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.data[r.Position:])
	r.Position += 4
	return v, nil
}

// ReadBytes reads exactly n bytes into a new slice.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("negative read length %d", n)
	}
	if err := r.need(n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, r.data[r.Position:])
	r.Position += uint32(n)
	return out, nil
}

// ReadCompressedUint32 reads an ECMA-335 compressed unsigned integer.
func (r *Reader) ReadCompressedUint32() (uint32, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	switch {
	case b&0x80 == 0:
		return uint32(b), nil
	case b&0xC0 == 0x80:
		b1, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		return uint32(b&0x3F)<<8 | uint32(b1), nil
	case b&0xE0 == 0xC0:
		rest, err := r.ReadBytes(3)
		if err != nil {
			return 0, err
		}
		return uint32(b&0x1F)<<24 | uint32(rest[0])<<16 | uint32(rest[1])<<8 | uint32(rest[2]), nil
	default:
		return 0, fmt.Errorf("invalid compressed integer lead byte 0x%02X", b)
	}
}
