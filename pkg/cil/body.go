package cil

import (
	"encoding/binary"
	"fmt"
)

// Method header flags
const (
	FlagTinyFormat = 0x2
	FlagFatFormat  = 0x3
	FlagFormatMask = 0x3
	FlagMoreSects  = 0x8
	FlagInitLocals = 0x10
)

// Exception section flags
const (
	SectEHTable    = 0x01
	SectOptILTable = 0x02
	SectFatFormat  = 0x40
	SectMoreSects  = 0x80
)

// ExceptionHandlerType is the kind of an exception clause.
type ExceptionHandlerType uint32

const (
	HandlerCatch   ExceptionHandlerType = 0
	HandlerFilter  ExceptionHandlerType = 1
	HandlerFinally ExceptionHandlerType = 2
	HandlerFault   ExceptionHandlerType = 4
)

// ExceptionHandler is one exception clause.
type ExceptionHandler struct {
	Type          ExceptionHandlerType
	TryStart      uint32
	TryLength     uint32
	HandlerStart  uint32
	HandlerLength uint32
	CatchType     TokenProvider
	FilterStart   uint32
}

// IsCatch reports whether the clause is a typed catch clause.
func (eh *ExceptionHandler) IsCatch() bool {
	return eh.Type == HandlerCatch
}

// Body is a decoded method body.
type Body struct {
	Flags             uint16
	MaxStack          uint16
	InitLocals        bool
	LocalVarSigTok    uint32
	CodeSize          uint32
	Instructions      []*Instruction
	ExceptionHandlers []*ExceptionHandler
}

// HasExceptionHandlers reports whether the body carries any exception clause.
func (b *Body) HasExceptionHandlers() bool {
	return len(b.ExceptionHandlers) > 0
}

// Header is a parsed tiny or fat method header.
type Header struct {
	Flags          uint16
	MaxStack       uint16
	CodeSize       uint32
	LocalVarSigTok uint32
	Size           int
}

// ReadHeader parses the method header at the start of data.
func ReadHeader(data []byte) (*Header, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty method body")
	}
	b := data[0]
	switch b & FlagFormatMask {
	case FlagTinyFormat:
		return &Header{
			Flags:    FlagTinyFormat,
			MaxStack: 8,
			CodeSize: uint32(b >> 2),
			Size:     1,
		}, nil
	case FlagFatFormat:
		if len(data) < 12 {
			return nil, fmt.Errorf("fat header truncated: %d bytes", len(data))
		}
		flags := binary.LittleEndian.Uint16(data)
		size := int(flags>>12) * 4
		// Code may start inside a short header. No sections are read then.
		if size < 12 {
			flags &^= FlagMoreSects
		}
		return &Header{
			Flags:          flags,
			MaxStack:       binary.LittleEndian.Uint16(data[2:]),
			CodeSize:       binary.LittleEndian.Uint32(data[4:]),
			LocalVarSigTok: binary.LittleEndian.Uint32(data[8:]),
			Size:           size,
		}, nil
	default:
		return nil, fmt.Errorf("invalid method header byte 0x%02X", b)
	}
}

// ReadBody decodes a complete method body (header, code, exception sections).
func ReadBody(data []byte, r OperandResolver, gp GenericContext) (*Body, error) {
	hdr, err := ReadHeader(data)
	if err != nil {
		return nil, err
	}
	end := hdr.Size + int(hdr.CodeSize)
	if end > len(data) {
		return nil, fmt.Errorf("code size %d exceeds available %d bytes", hdr.CodeSize, len(data)-hdr.Size)
	}
	code := data[hdr.Size:end]

	var eh []byte
	if hdr.Flags&FlagMoreSects != 0 && hdr.Flags&FlagFormatMask == FlagFatFormat {
		aligned := (end + 3) &^ 3
		if aligned > len(data) {
			return nil, fmt.Errorf("exception section beyond body data")
		}
		eh = data[aligned:]
	}

	return CreateBody(r, code, eh, hdr.Flags, hdr.MaxStack, hdr.CodeSize, hdr.LocalVarSigTok, gp)
}

// CreateBody assembles a body from raw code and exception-section bytes.
// Token operands and catch types are resolved through r.
func CreateBody(r OperandResolver, code, eh []byte, flags, maxStack uint16, codeSize, localVarSigTok uint32, gp GenericContext) (*Body, error) {
	if uint32(len(code)) < codeSize {
		return nil, fmt.Errorf("code size %d exceeds %d available bytes", codeSize, len(code))
	}
	instrs, err := Decode(code[:codeSize], r, gp)
	if err != nil {
		return nil, fmt.Errorf("decoding instructions: %w", err)
	}

	var handlers []*ExceptionHandler
	if len(eh) > 0 {
		handlers, err = ParseExceptionHandlers(eh, r, gp)
		if err != nil {
			return nil, fmt.Errorf("parsing exception handlers: %w", err)
		}
	}

	return &Body{
		Flags:             flags,
		MaxStack:          maxStack,
		InitLocals:        flags&FlagInitLocals != 0,
		LocalVarSigTok:    localVarSigTok,
		CodeSize:          codeSize,
		Instructions:      instrs,
		ExceptionHandlers: handlers,
	}, nil
}

// ParseExceptionHandlers parses one or more exception sections starting at the kind byte.
func ParseExceptionHandlers(data []byte, r OperandResolver, gp GenericContext) ([]*ExceptionHandler, error) {
	var handlers []*ExceptionHandler
	pos := 0
	for {
		if pos+4 > len(data) {
			return nil, fmt.Errorf("exception section header truncated at %d", pos)
		}
		kind := data[pos]
		if kind&0x3F != SectEHTable {
			return handlers, nil
		}

		var size, clauseSize int
		if kind&SectFatFormat != 0 {
			size = int(binary.LittleEndian.Uint32(data[pos:]) >> 8)
			clauseSize = 24
		} else {
			size = int(data[pos+1])
			clauseSize = 12
		}
		count := 0
		if size >= 4 {
			count = (size - 4) / clauseSize
		}
		if pos+4+count*clauseSize > len(data) {
			return nil, fmt.Errorf("exception section of %d clauses truncated", count)
		}

		for i := 0; i < count; i++ {
			c := data[pos+4+i*clauseSize:]
			eh := &ExceptionHandler{}
			var classTok uint32
			if clauseSize == 24 {
				eh.Type = ExceptionHandlerType(binary.LittleEndian.Uint32(c))
				eh.TryStart = binary.LittleEndian.Uint32(c[4:])
				eh.TryLength = binary.LittleEndian.Uint32(c[8:])
				eh.HandlerStart = binary.LittleEndian.Uint32(c[12:])
				eh.HandlerLength = binary.LittleEndian.Uint32(c[16:])
				classTok = binary.LittleEndian.Uint32(c[20:])
			} else {
				eh.Type = ExceptionHandlerType(binary.LittleEndian.Uint16(c))
				eh.TryStart = uint32(binary.LittleEndian.Uint16(c[2:]))
				eh.TryLength = uint32(c[4])
				eh.HandlerStart = uint32(binary.LittleEndian.Uint16(c[5:]))
				eh.HandlerLength = uint32(c[7])
				classTok = binary.LittleEndian.Uint32(c[8:])
			}

			switch eh.Type {
			case HandlerCatch:
				tp, err := r.ResolveToken(classTok, gp)
				if err != nil {
					return nil, fmt.Errorf("catch type of clause %d: %w", i, err)
				}
				eh.CatchType = tp
			case HandlerFilter:
				eh.FilterStart = classTok
			}
			handlers = append(handlers, eh)
		}

		if kind&SectMoreSects == 0 {
			return handlers, nil
		}
		pos = (pos + 4 + count*clauseSize + 3) &^ 3
	}
}
