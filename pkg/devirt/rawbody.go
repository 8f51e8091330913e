package devirt

import (
	"fmt"

	"github.com/daimatz/flared/pkg/cil"
	"github.com/daimatz/flared/pkg/dotnet"
)

const (
	fatClauseSize   = 24
	smallClauseSize = 12
)

// RawMethodBody is a method body read straight from the image, before any
// operand is resolved.
type RawMethodBody struct {
	Code []byte
	// ExceptionBytes is the exception section starting at its kind byte, or
	// nil when the method has none.
	ExceptionBytes []byte
	Flags          uint16
	CodeSize       uint32
}

// ReadRawBody parses the body stored at md's RVA. The decoded body of md is
// not consulted: for stub originals it is garbage.
func ReadRawBody(m Module, md *dotnet.MethodDef) (*RawMethodBody, error) {
	r, err := m.CreateReader(md.RVA)
	if err != nil {
		return nil, fmt.Errorf("method %s: %w", md.MDToken(), err)
	}
	raw, err := readRawBody(r)
	if err != nil {
		return nil, fmt.Errorf("method %s: reading raw body: %w", md.MDToken(), err)
	}
	return raw, nil
}

func readRawBody(r *dotnet.Reader) (*RawMethodBody, error) {
	var (
		flags    uint16
		codeSize uint32
	)
	b, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	switch b & 7 {
	case 2, 6:
		codeSize = uint32(b >> 2)
		flags = cil.FlagTinyFormat
	case 3:
		hi, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		flags = uint16(hi)<<8 | uint16(b)
		words := flags >> 12
		if _, err := r.ReadUint16(); err != nil {
			return nil, err
		}
		if codeSize, err = r.ReadUint32(); err != nil {
			return nil, err
		}
		r.Position = uint32(words) * 4
		// A short header hides the exception section.
		if words < 3 {
			flags &^= cil.FlagMoreSects
		}
	default:
		return nil, fmt.Errorf("invalid method header byte 0x%02X", b)
	}

	code, err := r.ReadBytes(int(codeSize))
	if err != nil {
		return nil, fmt.Errorf("code: %w", err)
	}
	raw := &RawMethodBody{Code: code, Flags: flags, CodeSize: codeSize}
	if flags&cil.FlagMoreSects == 0 {
		return raw, nil
	}

	r.Position = (r.Position + 3) &^ 3
	start := r.Position
	kind, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("exception section: %w", err)
	}
	var size uint32
	if kind&cil.SectFatFormat != 0 {
		r.Position = start
		hdr, err := r.ReadUint32()
		if err != nil {
			return nil, fmt.Errorf("exception section: %w", err)
		}
		size = 4 + (hdr>>8)/fatClauseSize*fatClauseSize
	} else {
		dataSize, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("exception section: %w", err)
		}
		size = 4 + uint32(dataSize)/smallClauseSize*smallClauseSize
	}
	r.Position = start
	if raw.ExceptionBytes, err = r.ReadBytes(int(size)); err != nil {
		return nil, fmt.Errorf("exception section: %w", err)
	}
	return raw, nil
}
