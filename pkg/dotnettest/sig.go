package dotnettest

import (
	"github.com/daimatz/flared/pkg/cil"
	"github.com/daimatz/flared/pkg/dotnet"
)

// CompressUint32 appends the ECMA-335 compressed encoding of v.
func CompressUint32(b []byte, v uint32) []byte {
	switch {
	case v < 0x80:
		return append(b, byte(v))
	case v < 0x4000:
		return append(b, byte(v>>8)|0x80, byte(v))
	default:
		return append(b, byte(v>>24)|0xC0, byte(v>>16), byte(v>>8), byte(v))
	}
}

// Type is an encoded type signature.
type Type []byte

// Elem returns a primitive type.
func Elem(e dotnet.ElementType) Type {
	return Type{byte(e)}
}

// Class returns a reference type built from a TypeDef, TypeRef or TypeSpec.
func Class(tok cil.Token) Type {
	return CompressUint32(Type{byte(dotnet.ElementClass)}, codedTypeDefOrRef(tok))
}

// ValueType returns a value type built from a TypeDef or TypeRef.
func ValueType(tok cil.Token) Type {
	return CompressUint32(Type{byte(dotnet.ElementValueType)}, codedTypeDefOrRef(tok))
}

// SZArray returns a single-dimension zero-based array of elem.
func SZArray(elem Type) Type {
	return append(Type{byte(dotnet.ElementSZArray)}, elem...)
}

// GenericInst instantiates generic with args.
func GenericInst(generic Type, args ...Type) Type {
	out := append(Type{byte(dotnet.ElementGenericInst)}, generic...)
	out = CompressUint32(out, uint32(len(args)))
	for _, a := range args {
		out = append(out, a...)
	}
	return out
}

// Var returns the generic type parameter n.
func Var(n uint32) Type {
	return CompressUint32(Type{byte(dotnet.ElementVar)}, n)
}

// MVar returns the generic method parameter n.
func MVar(n uint32) Type {
	return CompressUint32(Type{byte(dotnet.ElementMVar)}, n)
}

// MethodSig encodes a method signature with the given calling convention.
func MethodSig(callConv byte, ret Type, params ...Type) []byte {
	out := []byte{callConv}
	out = CompressUint32(out, uint32(len(params)))
	out = append(out, ret...)
	for _, p := range params {
		out = append(out, p...)
	}
	return out
}

// StaticSig encodes a static method signature.
func StaticSig(ret Type, params ...Type) []byte {
	return MethodSig(dotnet.CallConvDefault, ret, params...)
}

// InstanceSig encodes an instance method signature.
func InstanceSig(ret Type, params ...Type) []byte {
	return MethodSig(dotnet.CallConvHasThis, ret, params...)
}

// FieldSig encodes a field signature.
func FieldSig(t Type) []byte {
	return append([]byte{dotnet.CallConvField}, t...)
}

// LocalSig encodes a local variable signature.
func LocalSig(locals ...Type) []byte {
	out := CompressUint32([]byte{dotnet.CallConvLocalSig}, uint32(len(locals)))
	for _, l := range locals {
		out = append(out, l...)
	}
	return out
}
