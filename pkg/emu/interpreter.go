package emu

import (
	"errors"
	"fmt"

	"github.com/daimatz/flared/pkg/cil"
	"github.com/daimatz/flared/pkg/dotnet"
)

var (
	// ErrStackUnderflow is returned when an instruction pops an empty stack.
	ErrStackUnderflow = errors.New("evaluation stack underflow")
	// ErrDivideByZero is returned for integer division or remainder by zero.
	ErrDivideByZero = errors.New("attempted to divide by zero")
	// ErrArithmeticOverflow is returned for MinInt / -1.
	ErrArithmeticOverflow = errors.New("arithmetic operation resulted in an overflow")
)

// Interpreter holds the evaluation stack, locals and arguments of one
// method activation. Branches are not followed: instructions are applied
// in the order they are given.
type Interpreter struct {
	Stack  []Value
	Locals []Value
	Args   []Value
}

// NewInterpreter creates an Interpreter with unknown arguments and locals.
func NewInterpreter(numArgs, numLocals int) *Interpreter {
	in := &Interpreter{
		Locals: make([]Value, numLocals),
		Args:   make([]Value, numArgs),
	}
	return in
}

// Push pushes a value onto the evaluation stack.
func (in *Interpreter) Push(v Value) {
	in.Stack = append(in.Stack, v)
}

// Pop pops a value from the evaluation stack.
func (in *Interpreter) Pop() (Value, error) {
	if len(in.Stack) == 0 {
		return Value{}, ErrStackUnderflow
	}
	v := in.Stack[len(in.Stack)-1]
	in.Stack = in.Stack[:len(in.Stack)-1]
	return v, nil
}

// Peek returns the top of the evaluation stack without popping it.
func (in *Interpreter) Peek() (Value, error) {
	if len(in.Stack) == 0 {
		return Value{}, ErrStackUnderflow
	}
	return in.Stack[len(in.Stack)-1], nil
}

func (in *Interpreter) popN(n int) error {
	if n > len(in.Stack) {
		return fmt.Errorf("popping %d values from %d: %w", n, len(in.Stack), ErrStackUnderflow)
	}
	in.Stack = in.Stack[:len(in.Stack)-n]
	return nil
}

// GetLocal returns the value of local variable index.
func (in *Interpreter) GetLocal(index int) (Value, error) {
	if index < 0 || index >= len(in.Locals) {
		return Value{}, fmt.Errorf("local variable index out of range: index=%d, max=%d", index, len(in.Locals))
	}
	return in.Locals[index], nil
}

// SetLocal sets local variable index.
func (in *Interpreter) SetLocal(index int, v Value) error {
	if index < 0 || index >= len(in.Locals) {
		return fmt.Errorf("local variable index out of range: index=%d, max=%d", index, len(in.Locals))
	}
	in.Locals[index] = v
	return nil
}

// GetArg returns the value of argument index.
func (in *Interpreter) GetArg(index int) (Value, error) {
	if index < 0 || index >= len(in.Args) {
		return Value{}, fmt.Errorf("argument index out of range: index=%d, max=%d", index, len(in.Args))
	}
	return in.Args[index], nil
}

// SetArg sets argument index.
func (in *Interpreter) SetArg(index int, v Value) error {
	if index < 0 || index >= len(in.Args) {
		return fmt.Errorf("argument index out of range: index=%d, max=%d", index, len(in.Args))
	}
	in.Args[index] = v
	return nil
}

// Emulate applies one instruction to the interpreter state.
func (in *Interpreter) Emulate(instr *cil.Instruction) error {
	if err := in.emulate(instr); err != nil {
		return fmt.Errorf("IL_%04X %s: %w", instr.Offset, instr.OpCode.Name, err)
	}
	return nil
}

func (in *Interpreter) emulate(instr *cil.Instruction) error {
	op := instr.OpCode.Code
	switch op {
	case cil.OpNop, cil.OpBreak:
		// do nothing

	// --- Constants ---
	case cil.OpLdnull:
		in.Push(NullValue())
	case cil.OpLdcI4M1, cil.OpLdcI40, cil.OpLdcI41, cil.OpLdcI42, cil.OpLdcI43,
		cil.OpLdcI44, cil.OpLdcI45, cil.OpLdcI46, cil.OpLdcI47, cil.OpLdcI48:
		in.Push(Int32Value(int32(op) - int32(cil.OpLdcI40)))
	case cil.OpLdcI4S, cil.OpLdcI4:
		v, ok := instr.Operand.(int32)
		if !ok {
			return fmt.Errorf("operand %T is not an int32", instr.Operand)
		}
		in.Push(Int32Value(v))
	case cil.OpLdcI8:
		v, ok := instr.Operand.(int64)
		if !ok {
			return fmt.Errorf("operand %T is not an int64", instr.Operand)
		}
		in.Push(Int64Value(v))
	case cil.OpLdcR4:
		v, ok := instr.Operand.(float32)
		if !ok {
			return fmt.Errorf("operand %T is not a float32", instr.Operand)
		}
		in.Push(FloatValue(float64(v)))
	case cil.OpLdcR8:
		v, ok := instr.Operand.(float64)
		if !ok {
			return fmt.Errorf("operand %T is not a float64", instr.Operand)
		}
		in.Push(FloatValue(v))
	case cil.OpLdstr:
		in.Push(ObjectValue(instr.Operand))

	// --- Locals ---
	case cil.OpLdloc0, cil.OpLdloc1, cil.OpLdloc2, cil.OpLdloc3:
		v, err := in.GetLocal(int(op - cil.OpLdloc0))
		if err != nil {
			return err
		}
		in.Push(v)
	case cil.OpLdlocS, cil.OpLdloc:
		v, err := in.GetLocal(varIndex(instr))
		if err != nil {
			return err
		}
		in.Push(v)
	case cil.OpStloc0, cil.OpStloc1, cil.OpStloc2, cil.OpStloc3:
		v, err := in.Pop()
		if err != nil {
			return err
		}
		return in.SetLocal(int(op-cil.OpStloc0), v)
	case cil.OpStlocS, cil.OpStloc:
		v, err := in.Pop()
		if err != nil {
			return err
		}
		return in.SetLocal(varIndex(instr), v)
	case cil.OpLdlocaS, cil.OpLdloca:
		// The local may be written through the address.
		if err := in.SetLocal(varIndex(instr), UnknownValue()); err != nil {
			return err
		}
		in.Push(UnknownValue())

	// --- Arguments ---
	case cil.OpLdarg0, cil.OpLdarg1, cil.OpLdarg2, cil.OpLdarg3:
		v, err := in.GetArg(int(op - cil.OpLdarg0))
		if err != nil {
			return err
		}
		in.Push(v)
	case cil.OpLdargS, cil.OpLdarg:
		v, err := in.GetArg(varIndex(instr))
		if err != nil {
			return err
		}
		in.Push(v)
	case cil.OpStargS, cil.OpStarg:
		v, err := in.Pop()
		if err != nil {
			return err
		}
		return in.SetArg(varIndex(instr), v)
	case cil.OpLdargaS, cil.OpLdarga:
		if err := in.SetArg(varIndex(instr), UnknownValue()); err != nil {
			return err
		}
		in.Push(UnknownValue())

	// --- Stack ---
	case cil.OpDup:
		v, err := in.Peek()
		if err != nil {
			return err
		}
		in.Push(v)
	case cil.OpPop:
		_, err := in.Pop()
		return err

	// --- Arithmetic ---
	case cil.OpAdd, cil.OpAddOvf, cil.OpAddOvfUn, cil.OpSub, cil.OpSubOvf, cil.OpSubOvfUn,
		cil.OpMul, cil.OpMulOvf, cil.OpMulOvfUn, cil.OpDiv, cil.OpDivUn, cil.OpRem, cil.OpRemUn,
		cil.OpAnd, cil.OpOr, cil.OpXor, cil.OpShl, cil.OpShr, cil.OpShrUn,
		cil.OpCeq, cil.OpCgt, cil.OpCgtUn, cil.OpClt, cil.OpCltUn:
		b, err := in.Pop()
		if err != nil {
			return err
		}
		a, err := in.Pop()
		if err != nil {
			return err
		}
		v, err := binaryOp(op, a, b)
		if err != nil {
			return err
		}
		in.Push(v)
	case cil.OpNeg, cil.OpNot:
		a, err := in.Pop()
		if err != nil {
			return err
		}
		v, err := unaryOp(op, a)
		if err != nil {
			return err
		}
		in.Push(v)

	// --- Conversions ---
	case cil.OpConvI1, cil.OpConvI2, cil.OpConvI4, cil.OpConvI8, cil.OpConvR4, cil.OpConvR8,
		cil.OpConvU1, cil.OpConvU2, cil.OpConvU4, cil.OpConvU8, cil.OpConvI, cil.OpConvU, cil.OpConvRUn,
		cil.OpConvOvfI1, cil.OpConvOvfI2, cil.OpConvOvfI4, cil.OpConvOvfI8,
		cil.OpConvOvfU1, cil.OpConvOvfU2, cil.OpConvOvfU4, cil.OpConvOvfU8, cil.OpConvOvfI, cil.OpConvOvfU,
		cil.OpConvOvfI1Un, cil.OpConvOvfI2Un, cil.OpConvOvfI4Un, cil.OpConvOvfI8Un,
		cil.OpConvOvfU1Un, cil.OpConvOvfU2Un, cil.OpConvOvfU4Un, cil.OpConvOvfU8Un, cil.OpConvOvfIUn, cil.OpConvOvfUUn:
		a, err := in.Pop()
		if err != nil {
			return err
		}
		in.Push(convert(op, a))

	// --- Calls ---
	case cil.OpCall, cil.OpCallvirt, cil.OpNewobj, cil.OpCalli:
		return in.emulateCall(instr)

	case cil.OpRet:
		if len(in.Stack) > 0 {
			_, err := in.Pop()
			return err
		}

	default:
		oc := instr.OpCode
		if oc.Pop == cil.VarStack || oc.Push == cil.VarStack {
			return fmt.Errorf("unsupported opcode 0x%X", uint16(op))
		}
		if err := in.popN(int(oc.Pop)); err != nil {
			return err
		}
		for i := 0; i < int(oc.Push); i++ {
			in.Push(UnknownValue())
		}
	}
	return nil
}

func varIndex(instr *cil.Instruction) int {
	v, ok := instr.Operand.(uint16)
	if !ok {
		return -1
	}
	return int(v)
}

func (in *Interpreter) emulateCall(instr *cil.Instruction) error {
	tp, _ := instr.Operand.(cil.TokenProvider)
	sig := methodSig(tp)
	if sig == nil {
		return fmt.Errorf("no method signature for operand %T", instr.Operand)
	}

	pops := len(sig.Params) + len(sig.ParamsAfterSentinel)
	switch instr.OpCode.Code {
	case cil.OpNewobj:
		if err := in.popN(pops); err != nil {
			return err
		}
		in.Push(UnknownValue())
		return nil
	case cil.OpCalli:
		pops++ // function pointer
	}
	if sig.HasThis() {
		pops++
	}
	if err := in.popN(pops); err != nil {
		return err
	}
	if ret := sig.RetType.RemoveModifiers(); ret != nil && ret.ElementType != dotnet.ElementVoid {
		in.Push(UnknownValue())
	}
	return nil
}

// methodSig returns the signature that determines a call's stack effect.
func methodSig(tp cil.TokenProvider) *dotnet.MethodSig {
	switch m := tp.(type) {
	case *dotnet.MethodDef:
		return m.Sig
	case *dotnet.MemberRef:
		return m.MethodSig
	case *dotnet.MethodSpec:
		return methodSig(m.Method)
	case *dotnet.StandAloneSig:
		return m.MethodSig
	}
	return nil
}
