package devirt

import (
	"fmt"

	"github.com/apex/log"

	"github.com/daimatz/flared/pkg/cil"
	"github.com/daimatz/flared/pkg/dotnet"
	"github.com/daimatz/flared/pkg/emu"
	"github.com/daimatz/flared/pkg/native"
)

// Intrinsic is a container member whose effect the evaluator performs
// itself instead of treating the call as opaque.
type Intrinsic int

const (
	NoIntrinsic Intrinsic = iota
	NewByteList
	NewOperandMap
	NewIntCollection
	ByteListAdd
	ByteListToArray
	OperandMapAdd
	IntCollectionAdd
)

var intrinsicInfo = [...]struct {
	name      string
	construct bool
	arity     int
	pushes    bool
}{
	NoIntrinsic:      {name: "none"},
	NewByteList:      {name: "System.Void System.Collections.Generic.List`1<System.Byte>::.ctor()", construct: true, pushes: true},
	NewOperandMap:    {name: "System.Void System.Collections.Generic.Dictionary`2<System.UInt32,System.Int32>::.ctor()", construct: true, pushes: true},
	NewIntCollection: {name: "System.Void System.Collections.ObjectModel.ObservableCollection`1<System.Int32>::.ctor()", construct: true, pushes: true},
	ByteListAdd:      {name: "System.Void System.Collections.Generic.List`1<System.Byte>::Add(System.Byte)", arity: 1},
	ByteListToArray:  {name: "System.Byte[] System.Collections.Generic.List`1<System.Byte>::ToArray()", pushes: true},
	OperandMapAdd:    {name: "System.Void System.Collections.Generic.Dictionary`2<System.UInt32,System.Int32>::Add(System.UInt32,System.Int32)", arity: 2},
	IntCollectionAdd: {name: "System.Void System.Collections.ObjectModel.Collection`1<System.Int32>::Add(System.Int32)", arity: 1},
}

var intrinsicByName = func() map[string]Intrinsic {
	m := make(map[string]Intrinsic, len(intrinsicInfo))
	for i := range intrinsicInfo {
		if Intrinsic(i) != NoIntrinsic {
			m[intrinsicInfo[i].name] = Intrinsic(i)
		}
	}
	return m
}()

// LookupIntrinsic maps a member reference to the intrinsic it names.
func LookupIntrinsic(tp cil.TokenProvider) Intrinsic {
	mr, ok := tp.(*dotnet.MemberRef)
	if !ok || !mr.IsMethodRef() {
		return NoIntrinsic
	}
	return intrinsicByName[mr.FullName()]
}

func (i Intrinsic) String() string {
	if i < 0 || int(i) >= len(intrinsicInfo) {
		return fmt.Sprintf("Intrinsic(%d)", int(i))
	}
	return intrinsicInfo[i].name
}

// IsConstructor reports whether i is handled on newobj.
func (i Intrinsic) IsConstructor() bool { return i != NoIntrinsic && intrinsicInfo[i].construct }

// IsMutator reports whether i is handled on callvirt.
func (i Intrinsic) IsMutator() bool { return i != NoIntrinsic && !intrinsicInfo[i].construct }

// Arity is the number of arguments popped besides the receiver. Only
// mutators that push a result pop the receiver too.
func (i Intrinsic) Arity() int { return intrinsicInfo[i].arity }

// Value is what a static field holds after the setup routine ran.
type Value interface {
	isValue()
}

// Scalar is an integer stored to a field.
type Scalar int64

// Buffer is a byte array, usually the result of List<byte>.ToArray.
type Buffer []byte

// OperandMap is a Dictionary<uint, int> of byte offsets to operands.
type OperandMap struct{ Map *native.OperandMap }

// IntList is an ObservableCollection<int>.
type IntList struct{ List *native.IntCollection }

// Opaque is any other value, including ones the interpreter could not
// determine.
type Opaque struct{ Obj interface{} }

func (Scalar) isValue()     {}
func (Buffer) isValue()     {}
func (OperandMap) isValue() {}
func (IntList) isValue()    {}
func (Opaque) isValue()     {}

// Fields maps static fields to the value last stored to them.
type Fields map[*dotnet.FieldDef]Value

type evaluator struct {
	in     *emu.Interpreter
	fields Fields
	cache  map[*dotnet.MemberRef]Intrinsic
}

// Evaluate runs the setup routine's instructions in order and returns the
// values it stores to static fields.
func Evaluate(setup *dotnet.MethodDef) (Fields, error) {
	if setup.Body == nil {
		return nil, fmt.Errorf("setup method %s has no body", setup.MDToken())
	}
	ev := &evaluator{
		in:     emu.NewInterpreter(len(setup.Arguments()), len(setup.Locals)),
		fields: make(Fields),
		cache:  make(map[*dotnet.MemberRef]Intrinsic),
	}
	for _, instr := range setup.Body.Instructions {
		if err := ev.step(instr); err != nil {
			return nil, fmt.Errorf("evaluating %s: %w", setup.MDToken(), err)
		}
	}
	log.WithField("method", setup.MDToken().String()).Debugf("setup stored %d static fields", len(ev.fields))
	return ev.fields, nil
}

func (ev *evaluator) intrinsic(tp interface{}) Intrinsic {
	mr, ok := tp.(*dotnet.MemberRef)
	if !ok {
		return NoIntrinsic
	}
	if i, ok := ev.cache[mr]; ok {
		return i
	}
	i := LookupIntrinsic(mr)
	ev.cache[mr] = i
	return i
}

func (ev *evaluator) step(instr *cil.Instruction) error {
	var err error
	switch instr.OpCode.Code {
	case cil.OpNewobj:
		if i := ev.intrinsic(instr.Operand); i.IsConstructor() {
			err = ev.construct(i)
			break
		}
		return ev.in.Emulate(instr)
	case cil.OpCallvirt:
		if i := ev.intrinsic(instr.Operand); i.IsMutator() {
			err = ev.mutate(i)
			break
		}
		return ev.in.Emulate(instr)
	case cil.OpStsfld:
		if f, ok := instr.Operand.(*dotnet.FieldDef); ok {
			err = ev.store(f)
			break
		}
		return ev.in.Emulate(instr)
	default:
		return ev.in.Emulate(instr)
	}
	if err != nil {
		return fmt.Errorf("IL_%04X %s: %w", instr.Offset, instr.OpCode.Name, err)
	}
	return nil
}

func (ev *evaluator) construct(i Intrinsic) error {
	switch i {
	case NewByteList:
		ev.in.Push(emu.ObjectValue(native.NewByteList()))
	case NewOperandMap:
		ev.in.Push(emu.ObjectValue(native.NewOperandMap()))
	case NewIntCollection:
		ev.in.Push(emu.ObjectValue(native.NewIntCollection()))
	default:
		return fmt.Errorf("%s is not a constructor", i)
	}
	return nil
}

func (ev *evaluator) mutate(i Intrinsic) error {
	args := make([]int32, i.Arity())
	for n := len(args) - 1; n >= 0; n-- {
		v, err := ev.in.Pop()
		if err != nil {
			return err
		}
		if v.Type != emu.TypeInt32 {
			return fmt.Errorf("%s: argument %d is %s, want int32", i, n, v)
		}
		args[n] = v.Int32()
	}
	// Void mutators leave the receiver on the stack for the next call.
	take := ev.in.Peek
	if intrinsicInfo[i].pushes {
		take = ev.in.Pop
	}
	recv, err := take()
	if err != nil {
		return err
	}

	switch i {
	case ByteListAdd:
		l, err := receiver[*native.ByteList](i, recv)
		if err != nil {
			return err
		}
		l.Add(byte(args[0]))
	case ByteListToArray:
		l, err := receiver[*native.ByteList](i, recv)
		if err != nil {
			return err
		}
		ev.in.Push(emu.ObjectValue(l.ToArray()))
	case OperandMapAdd:
		m, err := receiver[*native.OperandMap](i, recv)
		if err != nil {
			return err
		}
		return m.Add(uint32(args[0]), args[1])
	case IntCollectionAdd:
		c, err := receiver[*native.IntCollection](i, recv)
		if err != nil {
			return err
		}
		c.Add(args[0])
	default:
		return fmt.Errorf("%s is not a mutator", i)
	}
	return nil
}

func receiver[T any](i Intrinsic, v emu.Value) (T, error) {
	obj, ok := v.Obj.(T)
	if v.Type != emu.TypeObject || !ok {
		var zero T
		return zero, fmt.Errorf("%s: receiver is %s, want %T", i, v, zero)
	}
	return obj, nil
}

func (ev *evaluator) store(f *dotnet.FieldDef) error {
	v, err := ev.in.Pop()
	if err != nil {
		return err
	}
	ev.fields[f] = fieldValue(v)
	return nil
}

func fieldValue(v emu.Value) Value {
	switch v.Type {
	case emu.TypeInt32, emu.TypeInt64:
		return Scalar(v.Int)
	case emu.TypeObject:
		switch obj := v.Obj.(type) {
		case []byte:
			return Buffer(obj)
		case *native.OperandMap:
			return OperandMap{Map: obj}
		case *native.IntCollection:
			return IntList{List: obj}
		default:
			return Opaque{Obj: obj}
		}
	case emu.TypeFloat:
		return Opaque{Obj: v.Float}
	}
	return Opaque{}
}
