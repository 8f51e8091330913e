package cil

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// IsTiny reports whether the body fits the one-byte header encoding.
func (b *Body) IsTiny(codeSize int) bool {
	return codeSize < 64 &&
		b.MaxStack <= 8 &&
		b.LocalVarSigTok == 0 &&
		!b.InitLocals &&
		len(b.ExceptionHandlers) == 0
}

// EncodeCode encodes an instruction stream. Branch deltas are written as
// stored, so instructions must keep their original sizes.
func EncodeCode(instrs []*Instruction, tk Tokenizer) ([]byte, error) {
	var buf bytes.Buffer
	for _, in := range instrs {
		if in.OpCode.Size() == 2 {
			buf.WriteByte(0xFE)
		}
		buf.WriteByte(byte(in.OpCode.Code))
		if err := encodeOperand(&buf, in, tk); err != nil {
			return nil, fmt.Errorf("IL_%04X %s: %w", in.Offset, in.OpCode.Name, err)
		}
	}
	return buf.Bytes(), nil
}

func encodeOperand(buf *bytes.Buffer, in *Instruction, tk Tokenizer) error {
	var scratch [8]byte
	switch in.OpCode.Operand {
	case InlineNone:
		return nil
	case ShortInlineVar:
		v, ok := in.Operand.(uint16)
		if !ok {
			return fmt.Errorf("operand %T is not a variable index", in.Operand)
		}
		buf.WriteByte(byte(v))
	case InlineVar:
		v, ok := in.Operand.(uint16)
		if !ok {
			return fmt.Errorf("operand %T is not a variable index", in.Operand)
		}
		binary.LittleEndian.PutUint16(scratch[:], v)
		buf.Write(scratch[:2])
	case ShortInlineI, ShortInlineBrTarget:
		v, ok := in.Operand.(int32)
		if !ok {
			return fmt.Errorf("operand %T is not an int32", in.Operand)
		}
		buf.WriteByte(byte(v))
	case InlineI, InlineBrTarget:
		v, ok := in.Operand.(int32)
		if !ok {
			return fmt.Errorf("operand %T is not an int32", in.Operand)
		}
		binary.LittleEndian.PutUint32(scratch[:], uint32(v))
		buf.Write(scratch[:4])
	case InlineI8:
		v, ok := in.Operand.(int64)
		if !ok {
			return fmt.Errorf("operand %T is not an int64", in.Operand)
		}
		binary.LittleEndian.PutUint64(scratch[:], uint64(v))
		buf.Write(scratch[:8])
	case ShortInlineR:
		v, ok := in.Operand.(float32)
		if !ok {
			return fmt.Errorf("operand %T is not a float32", in.Operand)
		}
		binary.LittleEndian.PutUint32(scratch[:], math.Float32bits(v))
		buf.Write(scratch[:4])
	case InlineR:
		v, ok := in.Operand.(float64)
		if !ok {
			return fmt.Errorf("operand %T is not a float64", in.Operand)
		}
		binary.LittleEndian.PutUint64(scratch[:], math.Float64bits(v))
		buf.Write(scratch[:8])
	case InlineSwitch:
		targets, ok := in.Operand.([]int32)
		if !ok {
			return fmt.Errorf("operand %T is not a switch table", in.Operand)
		}
		binary.LittleEndian.PutUint32(scratch[:], uint32(len(targets)))
		buf.Write(scratch[:4])
		for _, t := range targets {
			binary.LittleEndian.PutUint32(scratch[:], uint32(t))
			buf.Write(scratch[:4])
		}
	case InlineString:
		s, ok := in.Operand.(string)
		if !ok {
			return fmt.Errorf("operand %T is not a string", in.Operand)
		}
		tok, err := tk.UserString(s)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint32(scratch[:], uint32(tok))
		buf.Write(scratch[:4])
	default:
		tp, ok := in.Operand.(TokenProvider)
		if !ok || tp == nil {
			return fmt.Errorf("operand %T is not a metadata entity", in.Operand)
		}
		tok, err := tk.Token(tp)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint32(scratch[:], uint32(tok))
		buf.Write(scratch[:4])
	}
	return nil
}

// Encode serialises a body: header, code and, when present, one fat
// exception section. Fat bodies must be placed at a 4-byte aligned RVA.
func Encode(b *Body, tk Tokenizer) ([]byte, error) {
	code, err := EncodeCode(b.Instructions, tk)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if b.IsTiny(len(code)) {
		buf.WriteByte(byte(len(code))<<2 | FlagTinyFormat)
		buf.Write(code)
		return buf.Bytes(), nil
	}

	flags := uint16(3<<12 | FlagFatFormat)
	if b.InitLocals {
		flags |= FlagInitLocals
	}
	if len(b.ExceptionHandlers) > 0 {
		flags |= FlagMoreSects
	}
	var hdr [12]byte
	binary.LittleEndian.PutUint16(hdr[0:], flags)
	binary.LittleEndian.PutUint16(hdr[2:], b.MaxStack)
	binary.LittleEndian.PutUint32(hdr[4:], uint32(len(code)))
	binary.LittleEndian.PutUint32(hdr[8:], b.LocalVarSigTok)
	buf.Write(hdr[:])
	buf.Write(code)

	if len(b.ExceptionHandlers) == 0 {
		return buf.Bytes(), nil
	}
	for buf.Len()%4 != 0 {
		buf.WriteByte(0)
	}
	sect, err := encodeExceptionSection(b.ExceptionHandlers, tk)
	if err != nil {
		return nil, err
	}
	buf.Write(sect)
	return buf.Bytes(), nil
}

func encodeExceptionSection(handlers []*ExceptionHandler, tk Tokenizer) ([]byte, error) {
	size := 4 + 24*len(handlers)
	out := make([]byte, size)
	binary.LittleEndian.PutUint32(out, uint32(size)<<8|SectEHTable|SectFatFormat)
	for i, eh := range handlers {
		c := out[4+24*i:]
		binary.LittleEndian.PutUint32(c[0:], uint32(eh.Type))
		binary.LittleEndian.PutUint32(c[4:], eh.TryStart)
		binary.LittleEndian.PutUint32(c[8:], eh.TryLength)
		binary.LittleEndian.PutUint32(c[12:], eh.HandlerStart)
		binary.LittleEndian.PutUint32(c[16:], eh.HandlerLength)
		switch eh.Type {
		case HandlerCatch:
			if eh.CatchType == nil {
				return nil, fmt.Errorf("catch clause %d has no catch type", i)
			}
			tok, err := tk.Token(eh.CatchType)
			if err != nil {
				return nil, fmt.Errorf("catch clause %d: %w", i, err)
			}
			binary.LittleEndian.PutUint32(c[20:], uint32(tok))
		case HandlerFilter:
			binary.LittleEndian.PutUint32(c[20:], eh.FilterStart)
		}
	}
	return out, nil
}
