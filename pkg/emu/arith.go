package emu

import (
	"fmt"
	"math"

	"github.com/daimatz/flared/pkg/cil"
)

func binaryOp(op cil.Code, a, b Value) (Value, error) {
	switch op {
	case cil.OpCeq, cil.OpCgt, cil.OpCgtUn, cil.OpClt, cil.OpCltUn:
		return compare(op, a, b)
	}
	if !a.IsKnown() || !b.IsKnown() {
		return UnknownValue(), nil
	}

	switch {
	case a.Type == TypeFloat && b.Type == TypeFloat:
		return floatOp(op, a.Float, b.Float)
	case a.IsInteger() && b.IsInteger():
		if op == cil.OpShl || op == cil.OpShr || op == cil.OpShrUn {
			return shift(op, a, b.Int)
		}
		if a.Type == TypeInt32 && b.Type == TypeInt32 {
			v, err := int32Op(op, a.Int32(), b.Int32())
			if err != nil {
				return Value{}, err
			}
			return Int32Value(v), nil
		}
		v, err := int64Op(op, a.Int, b.Int)
		if err != nil {
			return Value{}, err
		}
		return Int64Value(v), nil
	}
	return Value{}, fmt.Errorf("invalid operands %s and %s", a, b)
}

func int32Op(op cil.Code, a, b int32) (int32, error) {
	switch op {
	case cil.OpAdd, cil.OpAddOvf, cil.OpAddOvfUn:
		return a + b, nil
	case cil.OpSub, cil.OpSubOvf, cil.OpSubOvfUn:
		return a - b, nil
	case cil.OpMul, cil.OpMulOvf, cil.OpMulOvfUn:
		return a * b, nil
	case cil.OpDiv, cil.OpRem:
		if b == 0 {
			return 0, ErrDivideByZero
		}
		if a == math.MinInt32 && b == -1 {
			return 0, ErrArithmeticOverflow
		}
		if op == cil.OpDiv {
			return a / b, nil
		}
		return a % b, nil
	case cil.OpDivUn, cil.OpRemUn:
		if b == 0 {
			return 0, ErrDivideByZero
		}
		if op == cil.OpDivUn {
			return int32(uint32(a) / uint32(b)), nil
		}
		return int32(uint32(a) % uint32(b)), nil
	case cil.OpAnd:
		return a & b, nil
	case cil.OpOr:
		return a | b, nil
	case cil.OpXor:
		return a ^ b, nil
	}
	return 0, fmt.Errorf("opcode 0x%X is not an int32 operation", uint16(op))
}

func int64Op(op cil.Code, a, b int64) (int64, error) {
	switch op {
	case cil.OpAdd, cil.OpAddOvf, cil.OpAddOvfUn:
		return a + b, nil
	case cil.OpSub, cil.OpSubOvf, cil.OpSubOvfUn:
		return a - b, nil
	case cil.OpMul, cil.OpMulOvf, cil.OpMulOvfUn:
		return a * b, nil
	case cil.OpDiv, cil.OpRem:
		if b == 0 {
			return 0, ErrDivideByZero
		}
		if a == math.MinInt64 && b == -1 {
			return 0, ErrArithmeticOverflow
		}
		if op == cil.OpDiv {
			return a / b, nil
		}
		return a % b, nil
	case cil.OpDivUn, cil.OpRemUn:
		if b == 0 {
			return 0, ErrDivideByZero
		}
		if op == cil.OpDivUn {
			return int64(uint64(a) / uint64(b)), nil
		}
		return int64(uint64(a) % uint64(b)), nil
	case cil.OpAnd:
		return a & b, nil
	case cil.OpOr:
		return a | b, nil
	case cil.OpXor:
		return a ^ b, nil
	}
	return 0, fmt.Errorf("opcode 0x%X is not an int64 operation", uint16(op))
}

func floatOp(op cil.Code, a, b float64) (Value, error) {
	switch op {
	case cil.OpAdd:
		return FloatValue(a + b), nil
	case cil.OpSub:
		return FloatValue(a - b), nil
	case cil.OpMul:
		return FloatValue(a * b), nil
	case cil.OpDiv:
		return FloatValue(a / b), nil
	case cil.OpRem:
		return FloatValue(math.Mod(a, b)), nil
	}
	return Value{}, fmt.Errorf("opcode 0x%X is not a float operation", uint16(op))
}

// shift masks the amount to the operand width like the JIT does on x86.
func shift(op cil.Code, a Value, amount int64) (Value, error) {
	if a.Type == TypeInt32 {
		n := uint(amount) & 31
		v := a.Int32()
		switch op {
		case cil.OpShl:
			return Int32Value(v << n), nil
		case cil.OpShr:
			return Int32Value(v >> n), nil
		default:
			return Int32Value(int32(uint32(v) >> n)), nil
		}
	}
	n := uint(amount) & 63
	switch op {
	case cil.OpShl:
		return Int64Value(a.Int << n), nil
	case cil.OpShr:
		return Int64Value(a.Int >> n), nil
	default:
		return Int64Value(int64(uint64(a.Int) >> n)), nil
	}
}

func compare(op cil.Code, a, b Value) (Value, error) {
	if a.Type == TypeNull && b.Type == TypeNull && op == cil.OpCeq {
		return Int32Value(1), nil
	}
	if !a.IsKnown() || !b.IsKnown() || a.Type == TypeObject || b.Type == TypeObject || a.Type == TypeNull || b.Type == TypeNull {
		return UnknownValue(), nil
	}

	var r bool
	switch {
	case a.Type == TypeFloat && b.Type == TypeFloat:
		x, y := a.Float, b.Float
		switch op {
		case cil.OpCeq:
			r = x == y
		case cil.OpCgt:
			r = x > y
		case cil.OpClt:
			r = x < y
		case cil.OpCgtUn:
			r = x > y || math.IsNaN(x) || math.IsNaN(y)
		case cil.OpCltUn:
			r = x < y || math.IsNaN(x) || math.IsNaN(y)
		}
	case a.IsInteger() && b.IsInteger():
		x, y := a.Int, b.Int
		ux, uy := uint64(x), uint64(y)
		if a.Type == TypeInt32 && b.Type == TypeInt32 {
			ux, uy = uint64(uint32(x)), uint64(uint32(y))
		}
		switch op {
		case cil.OpCeq:
			r = x == y
		case cil.OpCgt:
			r = x > y
		case cil.OpClt:
			r = x < y
		case cil.OpCgtUn:
			r = ux > uy
		case cil.OpCltUn:
			r = ux < uy
		}
	default:
		return Value{}, fmt.Errorf("cannot compare %s and %s", a, b)
	}
	if r {
		return Int32Value(1), nil
	}
	return Int32Value(0), nil
}

func unaryOp(op cil.Code, a Value) (Value, error) {
	switch a.Type {
	case TypeUnknown:
		return UnknownValue(), nil
	case TypeInt32:
		if op == cil.OpNeg {
			return Int32Value(-a.Int32()), nil
		}
		return Int32Value(^a.Int32()), nil
	case TypeInt64:
		if op == cil.OpNeg {
			return Int64Value(-a.Int), nil
		}
		return Int64Value(^a.Int), nil
	case TypeFloat:
		if op == cil.OpNeg {
			return FloatValue(-a.Float), nil
		}
	}
	return Value{}, fmt.Errorf("invalid operand %s", a)
}

// convert applies a conv family opcode. Overflow-checked variants are
// treated like their unchecked forms.
func convert(op cil.Code, a Value) Value {
	if !a.IsInteger() && a.Type != TypeFloat {
		return UnknownValue()
	}
	i := a.Int
	if a.Type == TypeFloat {
		if op == cil.OpConvR4 || op == cil.OpConvR8 || op == cil.OpConvRUn {
			if op == cil.OpConvR4 {
				return FloatValue(float64(float32(a.Float)))
			}
			return FloatValue(a.Float)
		}
		i = int64(a.Float)
	}

	switch op {
	case cil.OpConvI1, cil.OpConvOvfI1, cil.OpConvOvfI1Un:
		return Int32Value(int32(int8(i)))
	case cil.OpConvU1, cil.OpConvOvfU1, cil.OpConvOvfU1Un:
		return Int32Value(int32(uint8(i)))
	case cil.OpConvI2, cil.OpConvOvfI2, cil.OpConvOvfI2Un:
		return Int32Value(int32(int16(i)))
	case cil.OpConvU2, cil.OpConvOvfU2, cil.OpConvOvfU2Un:
		return Int32Value(int32(uint16(i)))
	case cil.OpConvI4, cil.OpConvU4, cil.OpConvOvfI4, cil.OpConvOvfU4, cil.OpConvOvfI4Un, cil.OpConvOvfU4Un:
		return Int32Value(int32(i))
	case cil.OpConvI8, cil.OpConvI, cil.OpConvOvfI8, cil.OpConvOvfI, cil.OpConvOvfI8Un, cil.OpConvOvfIUn:
		return Int64Value(i)
	case cil.OpConvU8, cil.OpConvU, cil.OpConvOvfU8, cil.OpConvOvfU, cil.OpConvOvfU8Un, cil.OpConvOvfUUn:
		if a.Type == TypeInt32 {
			return Int64Value(int64(uint32(i)))
		}
		return Int64Value(i)
	case cil.OpConvR4:
		return FloatValue(float64(float32(i)))
	case cil.OpConvR8:
		return FloatValue(float64(i))
	case cil.OpConvRUn:
		if a.Type == TypeInt32 {
			return FloatValue(float64(uint32(i)))
		}
		return FloatValue(float64(uint64(i)))
	}
	return UnknownValue()
}
