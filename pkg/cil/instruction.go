package cil

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Instruction is a decoded CIL instruction.
//
// Operand holds, by operand type: nil (InlineNone), uint16 (variable
// indices), int32 (ShortInlineI, InlineI and branch deltas), int64, float32,
// float64, []int32 (switch deltas), string (ldstr) or a TokenProvider for
// every token-bearing operand.
type Instruction struct {
	Offset  uint32
	OpCode  *OpCode
	Operand interface{}
}

// Size returns the encoded length of the instruction.
func (in *Instruction) Size() int {
	return in.OpCode.Size() + operandSize(in.OpCode.Operand, in.Operand)
}

// OperandOffset returns the code offset of the first operand byte.
func (in *Instruction) OperandOffset() uint32 {
	return in.Offset + uint32(in.OpCode.Size())
}

func (in *Instruction) String() string {
	if in.Operand == nil {
		return fmt.Sprintf("IL_%04X: %s", in.Offset, in.OpCode.Name)
	}
	if tp, ok := in.Operand.(TokenProvider); ok {
		return fmt.Sprintf("IL_%04X: %s 0x%s", in.Offset, in.OpCode.Name, tp.MDToken())
	}
	return fmt.Sprintf("IL_%04X: %s %v", in.Offset, in.OpCode.Name, in.Operand)
}

func operandSize(t OperandType, operand interface{}) int {
	switch t {
	case InlineNone:
		return 0
	case ShortInlineVar, ShortInlineI, ShortInlineBrTarget:
		return 1
	case InlineVar:
		return 2
	case InlineI8, InlineR:
		return 8
	case InlineSwitch:
		targets, _ := operand.([]int32)
		return 4 + 4*len(targets)
	default:
		return 4
	}
}

// Decode decodes a CIL instruction stream, resolving token operands through r.
func Decode(code []byte, r OperandResolver, gp GenericContext) ([]*Instruction, error) {
	var instrs []*Instruction
	pc := 0
	for pc < len(code) {
		start := pc
		c := Code(code[pc])
		pc++
		if c == 0xFE {
			if pc >= len(code) {
				return nil, fmt.Errorf("truncated two-byte opcode at IL_%04X", start)
			}
			c = 0xFE00 | Code(code[pc])
			pc++
		}
		op := Lookup(c)
		if op == nil {
			return nil, fmt.Errorf("unknown opcode 0x%X at IL_%04X", uint16(c), start)
		}

		operand, n, err := decodeOperand(code[pc:], op, r, gp)
		if err != nil {
			return nil, fmt.Errorf("IL_%04X %s: %w", start, op.Name, err)
		}
		pc += n

		instrs = append(instrs, &Instruction{
			Offset:  uint32(start),
			OpCode:  op,
			Operand: operand,
		})
	}
	return instrs, nil
}

func decodeOperand(b []byte, op *OpCode, r OperandResolver, gp GenericContext) (interface{}, int, error) {
	need := operandSize(op.Operand, nil)
	if len(b) < need {
		return nil, 0, fmt.Errorf("truncated operand: need %d bytes, have %d", need, len(b))
	}

	switch op.Operand {
	case InlineNone:
		return nil, 0, nil
	case ShortInlineVar:
		return uint16(b[0]), 1, nil
	case InlineVar:
		return binary.LittleEndian.Uint16(b), 2, nil
	case ShortInlineI, ShortInlineBrTarget:
		return int32(int8(b[0])), 1, nil
	case InlineI, InlineBrTarget:
		return int32(binary.LittleEndian.Uint32(b)), 4, nil
	case InlineI8:
		return int64(binary.LittleEndian.Uint64(b)), 8, nil
	case ShortInlineR:
		return math.Float32frombits(binary.LittleEndian.Uint32(b)), 4, nil
	case InlineR:
		return math.Float64frombits(binary.LittleEndian.Uint64(b)), 8, nil
	case InlineSwitch:
		count := binary.LittleEndian.Uint32(b)
		if uint64(len(b)-4) < uint64(count)*4 {
			return nil, 0, fmt.Errorf("truncated switch table of %d targets", count)
		}
		targets := make([]int32, count)
		for i := range targets {
			targets[i] = int32(binary.LittleEndian.Uint32(b[4+4*i:]))
		}
		return targets, 4 + 4*int(count), nil
	case InlineString:
		s, err := r.ReadUserString(binary.LittleEndian.Uint32(b))
		if err != nil {
			return nil, 0, err
		}
		return s, 4, nil
	default:
		tp, err := r.ResolveToken(binary.LittleEndian.Uint32(b), gp)
		if err != nil {
			return nil, 0, err
		}
		return tp, 4, nil
	}
}
