package dotnettest

import (
	"encoding/binary"

	"github.com/daimatz/flared/pkg/cil"
)

// IL assembles an instruction stream.
type IL struct {
	code []byte
}

func (il *IL) op(c cil.Code) {
	if c>>8 == 0xFE {
		il.code = append(il.code, 0xFE)
	}
	il.code = append(il.code, byte(c))
}

// Op appends an instruction without operand.
func (il *IL) Op(c cil.Code) *IL {
	il.op(c)
	return il
}

// I1 appends an instruction with a one-byte operand.
func (il *IL) I1(c cil.Code, v int8) *IL {
	il.op(c)
	il.code = append(il.code, byte(v))
	return il
}

// I4 appends an instruction with a four-byte operand.
func (il *IL) I4(c cil.Code, v int32) *IL {
	il.op(c)
	il.code = binary.LittleEndian.AppendUint32(il.code, uint32(v))
	return il
}

// Tok appends an instruction with a token operand.
func (il *IL) Tok(c cil.Code, tok cil.Token) *IL {
	return il.I4(c, int32(tok))
}

// Len returns the current code offset.
func (il *IL) Len() int {
	return len(il.code)
}

// Bytes returns the assembled code.
func (il *IL) Bytes() []byte {
	return il.code
}

// TinyBody wraps code in a tiny header.
func TinyBody(code []byte) []byte {
	if len(code) >= 64 {
		panic("code too long for a tiny header")
	}
	return append([]byte{byte(len(code))<<2 | cil.FlagTinyFormat}, code...)
}

// Clause is an exception clause of a fat body.
type Clause struct {
	Type          cil.ExceptionHandlerType
	TryStart      uint32
	TryLength     uint32
	HandlerStart  uint32
	HandlerLength uint32
	CatchType     cil.Token
}

// FatBody wraps code in a fat header with an optional exception section.
func FatBody(maxStack uint16, localSig cil.Token, initLocals bool, code []byte, clauses ...Clause) []byte {
	flags := uint16(3<<12 | cil.FlagFatFormat)
	if initLocals {
		flags |= cil.FlagInitLocals
	}
	if len(clauses) > 0 {
		flags |= cil.FlagMoreSects
	}
	out := binary.LittleEndian.AppendUint16(nil, flags)
	out = binary.LittleEndian.AppendUint16(out, maxStack)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(code)))
	out = binary.LittleEndian.AppendUint32(out, uint32(localSig))
	out = append(out, code...)
	if len(clauses) == 0 {
		return out
	}
	for len(out)%4 != 0 {
		out = append(out, 0)
	}
	return append(out, EHSection(clauses...)...)
}

// EHSection encodes clauses as a fat exception section.
func EHSection(clauses ...Clause) []byte {
	size := uint32(4 + 24*len(clauses))
	out := binary.LittleEndian.AppendUint32(nil, size<<8|cil.SectEHTable|cil.SectFatFormat)
	for _, c := range clauses {
		out = binary.LittleEndian.AppendUint32(out, uint32(c.Type))
		out = binary.LittleEndian.AppendUint32(out, c.TryStart)
		out = binary.LittleEndian.AppendUint32(out, c.TryLength)
		out = binary.LittleEndian.AppendUint32(out, c.HandlerStart)
		out = binary.LittleEndian.AppendUint32(out, c.HandlerLength)
		out = binary.LittleEndian.AppendUint32(out, uint32(c.CatchType))
	}
	return out
}
