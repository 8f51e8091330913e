// Package emu is a symbolic interpreter for straight-line CIL.
package emu

import "fmt"

// ValueType represents the type of a Value on the evaluation stack.
type ValueType int

const (
	TypeUnknown ValueType = iota
	TypeInt32
	TypeInt64
	TypeFloat
	TypeObject
	TypeNull
)

func (t ValueType) String() string {
	switch t {
	case TypeInt32:
		return "int32"
	case TypeInt64:
		return "int64"
	case TypeFloat:
		return "float"
	case TypeObject:
		return "object"
	case TypeNull:
		return "null"
	}
	return "unknown"
}

// Value represents a value on the evaluation stack, in a local or in an
// argument. Native ints are modelled as int64.
type Value struct {
	Type  ValueType
	Int   int64
	Float float64
	Obj   interface{}
}

// Int32Value creates an int32 Value.
func Int32Value(v int32) Value {
	return Value{Type: TypeInt32, Int: int64(v)}
}

// Int64Value creates an int64 Value.
func Int64Value(v int64) Value {
	return Value{Type: TypeInt64, Int: v}
}

// FloatValue creates a floating point Value.
func FloatValue(v float64) Value {
	return Value{Type: TypeFloat, Float: v}
}

// ObjectValue creates an object reference Value.
func ObjectValue(obj interface{}) Value {
	if obj == nil {
		return NullValue()
	}
	return Value{Type: TypeObject, Obj: obj}
}

// NullValue creates a null reference Value.
func NullValue() Value {
	return Value{Type: TypeNull}
}

// UnknownValue creates a Value whose contents could not be determined.
func UnknownValue() Value {
	return Value{Type: TypeUnknown}
}

// IsKnown reports whether the value carries concrete contents.
func (v Value) IsKnown() bool {
	return v.Type != TypeUnknown
}

// IsInteger reports whether the value is a known int32 or int64.
func (v Value) IsInteger() bool {
	return v.Type == TypeInt32 || v.Type == TypeInt64
}

// Int32 returns the low 32 bits of an integer value.
func (v Value) Int32() int32 {
	return int32(v.Int)
}

func (v Value) String() string {
	switch v.Type {
	case TypeInt32, TypeInt64:
		return fmt.Sprintf("%s(%d)", v.Type, v.Int)
	case TypeFloat:
		return fmt.Sprintf("float(%g)", v.Float)
	case TypeObject:
		return fmt.Sprintf("object(%T)", v.Obj)
	}
	return v.Type.String()
}
