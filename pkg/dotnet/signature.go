package dotnet

import (
	"fmt"

	"github.com/daimatz/flared/pkg/cil"
)

// ElementType is the leading byte of an encoded type signature.
type ElementType byte

const (
	ElementEnd         ElementType = 0x00
	ElementVoid        ElementType = 0x01
	ElementBoolean     ElementType = 0x02
	ElementChar        ElementType = 0x03
	ElementI1          ElementType = 0x04
	ElementU1          ElementType = 0x05
	ElementI2          ElementType = 0x06
	ElementU2          ElementType = 0x07
	ElementI4          ElementType = 0x08
	ElementU4          ElementType = 0x09
	ElementI8          ElementType = 0x0A
	ElementU8          ElementType = 0x0B
	ElementR4          ElementType = 0x0C
	ElementR8          ElementType = 0x0D
	ElementString      ElementType = 0x0E
	ElementPtr         ElementType = 0x0F
	ElementByRef       ElementType = 0x10
	ElementValueType   ElementType = 0x11
	ElementClass       ElementType = 0x12
	ElementVar         ElementType = 0x13
	ElementArray       ElementType = 0x14
	ElementGenericInst ElementType = 0x15
	ElementTypedByRef  ElementType = 0x16
	ElementI           ElementType = 0x18
	ElementU           ElementType = 0x19
	ElementFnPtr       ElementType = 0x1B
	ElementObject      ElementType = 0x1C
	ElementSZArray     ElementType = 0x1D
	ElementMVar        ElementType = 0x1E
	ElementCModReqd    ElementType = 0x1F
	ElementCModOpt     ElementType = 0x20
	ElementInternal    ElementType = 0x21
	ElementSentinel    ElementType = 0x41
	ElementPinned      ElementType = 0x45
)

// Calling convention bits of a method signature.
const (
	CallConvDefault      = 0x00
	CallConvVarArg       = 0x05
	CallConvField        = 0x06
	CallConvLocalSig     = 0x07
	CallConvProperty     = 0x08
	CallConvGenericInst  = 0x0A
	CallConvMask         = 0x0F
	CallConvGeneric      = 0x10
	CallConvHasThis      = 0x20
	CallConvExplicitThis = 0x40
)

// maxSigDepth bounds nesting while decoding a signature.
const maxSigDepth = 64

// TypeSig is a decoded type signature.
type TypeSig struct {
	ElementType ElementType
	// Type is the TypeDef, TypeRef or TypeSpec of a Class or ValueType sig.
	Type cil.TokenProvider
	// Next is the element or modified type of Ptr, ByRef, SZArray, Array,
	// Pinned and modifier sigs, and the generic type of a GenericInst.
	Next *TypeSig
	// Args are the type arguments of a GenericInst.
	Args []*TypeSig
	// Number is the index of a Var or MVar.
	Number uint32
	// Rank, Sizes and LowerBounds describe an Array.
	Rank        uint32
	Sizes       []uint32
	LowerBounds []int32
	// Modifier is the type of a CModReqd or CModOpt sig.
	Modifier cil.TokenProvider
	// Method is the signature of a FnPtr.
	Method *MethodSig
}

// RemoveModifiers strips custom modifiers and pinned markers.
func (s *TypeSig) RemoveModifiers() *TypeSig {
	for s != nil {
		switch s.ElementType {
		case ElementCModReqd, ElementCModOpt, ElementPinned:
			s = s.Next
		default:
			return s
		}
	}
	return nil
}

// MethodSig is a decoded method or property signature.
type MethodSig struct {
	CallingConvention byte
	GenParamCount     uint32
	RetType           *TypeSig
	Params            []*TypeSig
	// ParamsAfterSentinel holds the vararg part of a call site signature.
	ParamsAfterSentinel []*TypeSig
}

// HasThis reports whether the method takes a hidden this argument.
func (s *MethodSig) HasThis() bool {
	return s.CallingConvention&CallConvHasThis != 0
}

// tokenLookup resolves a TypeDefOrRef reference found in a signature.
type tokenLookup func(table TableID, rid uint32) (cil.TokenProvider, error)

type sigReader struct {
	r      *Reader
	lookup tokenLookup
	depth  int
}

func parseMethodSig(data []byte, lookup tokenLookup) (*MethodSig, error) {
	sr := &sigReader{r: NewReader(data), lookup: lookup}
	cc, err := sr.r.ReadByte()
	if err != nil {
		return nil, err
	}
	if c := cc & CallConvMask; c == CallConvField || c == CallConvLocalSig || c == CallConvGenericInst {
		return nil, fmt.Errorf("calling convention 0x%02X is not a method signature", cc)
	}
	return sr.methodSig(cc)
}

func parseFieldSig(data []byte, lookup tokenLookup) (*TypeSig, error) {
	sr := &sigReader{r: NewReader(data), lookup: lookup}
	cc, err := sr.r.ReadByte()
	if err != nil {
		return nil, err
	}
	if cc&CallConvMask != CallConvField {
		return nil, fmt.Errorf("calling convention 0x%02X is not a field signature", cc)
	}
	return sr.typeSig()
}

func parseLocalSig(data []byte, lookup tokenLookup) ([]*TypeSig, error) {
	sr := &sigReader{r: NewReader(data), lookup: lookup}
	cc, err := sr.r.ReadByte()
	if err != nil {
		return nil, err
	}
	if cc&CallConvMask != CallConvLocalSig {
		return nil, fmt.Errorf("calling convention 0x%02X is not a local signature", cc)
	}
	count, err := sr.r.ReadCompressedUint32()
	if err != nil {
		return nil, err
	}
	locals := make([]*TypeSig, 0, count)
	for i := uint32(0); i < count; i++ {
		t, err := sr.typeSig()
		if err != nil {
			return nil, fmt.Errorf("local %d: %w", i, err)
		}
		locals = append(locals, t)
	}
	return locals, nil
}

func parseTypeSpecSig(data []byte, lookup tokenLookup) (*TypeSig, error) {
	sr := &sigReader{r: NewReader(data), lookup: lookup}
	return sr.typeSig()
}

func parseMethodSpecSig(data []byte, lookup tokenLookup) ([]*TypeSig, error) {
	sr := &sigReader{r: NewReader(data), lookup: lookup}
	cc, err := sr.r.ReadByte()
	if err != nil {
		return nil, err
	}
	if cc != CallConvGenericInst {
		return nil, fmt.Errorf("calling convention 0x%02X is not a generic instantiation", cc)
	}
	return sr.typeList()
}

func (sr *sigReader) methodSig(cc byte) (*MethodSig, error) {
	ms := &MethodSig{CallingConvention: cc}
	var err error
	if cc&CallConvGeneric != 0 {
		if ms.GenParamCount, err = sr.r.ReadCompressedUint32(); err != nil {
			return nil, err
		}
	}
	count, err := sr.r.ReadCompressedUint32()
	if err != nil {
		return nil, err
	}
	if ms.RetType, err = sr.typeSig(); err != nil {
		return nil, fmt.Errorf("return type: %w", err)
	}
	afterSentinel := false
	for i := uint32(0); i < count; i++ {
		if sr.r.Len() > 0 && ElementType(sr.r.data[sr.r.Position]) == ElementSentinel {
			sr.r.Position++
			afterSentinel = true
		}
		t, err := sr.typeSig()
		if err != nil {
			return nil, fmt.Errorf("parameter %d: %w", i, err)
		}
		if afterSentinel {
			ms.ParamsAfterSentinel = append(ms.ParamsAfterSentinel, t)
		} else {
			ms.Params = append(ms.Params, t)
		}
	}
	return ms, nil
}

func (sr *sigReader) typeList() ([]*TypeSig, error) {
	count, err := sr.r.ReadCompressedUint32()
	if err != nil {
		return nil, err
	}
	out := make([]*TypeSig, 0, count)
	for i := uint32(0); i < count; i++ {
		t, err := sr.typeSig()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (sr *sigReader) typeDefOrRef() (cil.TokenProvider, error) {
	v, err := sr.r.ReadCompressedUint32()
	if err != nil {
		return nil, err
	}
	table, rid, ok := codedTypeDefOrRef.decode(v)
	if !ok {
		return nil, fmt.Errorf("invalid TypeDefOrRef 0x%X", v)
	}
	return sr.lookup(table, rid)
}

func (sr *sigReader) typeSig() (*TypeSig, error) {
	sr.depth++
	defer func() { sr.depth-- }()
	if sr.depth > maxSigDepth {
		return nil, fmt.Errorf("signature nesting exceeds %d", maxSigDepth)
	}

	b, err := sr.r.ReadByte()
	if err != nil {
		return nil, err
	}
	s := &TypeSig{ElementType: ElementType(b)}
	switch s.ElementType {
	case ElementVoid, ElementBoolean, ElementChar, ElementI1, ElementU1, ElementI2, ElementU2,
		ElementI4, ElementU4, ElementI8, ElementU8, ElementR4, ElementR8, ElementString,
		ElementTypedByRef, ElementI, ElementU, ElementObject:
		return s, nil

	case ElementPtr, ElementByRef, ElementSZArray, ElementPinned:
		s.Next, err = sr.typeSig()
		return s, err

	case ElementValueType, ElementClass:
		s.Type, err = sr.typeDefOrRef()
		return s, err

	case ElementVar, ElementMVar:
		s.Number, err = sr.r.ReadCompressedUint32()
		return s, err

	case ElementCModReqd, ElementCModOpt:
		if s.Modifier, err = sr.typeDefOrRef(); err != nil {
			return nil, err
		}
		s.Next, err = sr.typeSig()
		return s, err

	case ElementGenericInst:
		if s.Next, err = sr.typeSig(); err != nil {
			return nil, err
		}
		s.Args, err = sr.typeList()
		return s, err

	case ElementArray:
		if s.Next, err = sr.typeSig(); err != nil {
			return nil, err
		}
		if s.Rank, err = sr.r.ReadCompressedUint32(); err != nil {
			return nil, err
		}
		if s.Rank == 0 {
			return s, nil
		}
		n, err := sr.r.ReadCompressedUint32()
		if err != nil {
			return nil, err
		}
		for i := uint32(0); i < n; i++ {
			v, err := sr.r.ReadCompressedUint32()
			if err != nil {
				return nil, err
			}
			s.Sizes = append(s.Sizes, v)
		}
		if n, err = sr.r.ReadCompressedUint32(); err != nil {
			return nil, err
		}
		for i := uint32(0); i < n; i++ {
			v, err := sr.r.ReadCompressedUint32()
			if err != nil {
				return nil, err
			}
			s.LowerBounds = append(s.LowerBounds, decodeCompressedInt32(v))
		}
		return s, nil

	case ElementFnPtr:
		cc, err := sr.r.ReadByte()
		if err != nil {
			return nil, err
		}
		s.Method, err = sr.methodSig(cc)
		return s, err

	default:
		return nil, fmt.Errorf("unsupported element type 0x%02X", b)
	}
}

// decodeCompressedInt32 undoes the rotate-left sign encoding of array bounds.
func decodeCompressedInt32(v uint32) int32 {
	var width uint
	switch {
	case v <= 0x7F:
		width = 7
	case v <= 0x3FFF:
		width = 14
	default:
		width = 29
	}
	neg := v&1 != 0
	v >>= 1
	if neg {
		v |= ^uint32(0) << (width - 1)
	}
	return int32(v)
}
