package dotnet

import (
	"strconv"
	"strings"

	"github.com/daimatz/flared/pkg/cil"
)

var primitiveNames = map[ElementType]string{
	ElementVoid:       "System.Void",
	ElementBoolean:    "System.Boolean",
	ElementChar:       "System.Char",
	ElementI1:         "System.SByte",
	ElementU1:         "System.Byte",
	ElementI2:         "System.Int16",
	ElementU2:         "System.UInt16",
	ElementI4:         "System.Int32",
	ElementU4:         "System.UInt32",
	ElementI8:         "System.Int64",
	ElementU8:         "System.UInt64",
	ElementR4:         "System.Single",
	ElementR8:         "System.Double",
	ElementString:     "System.String",
	ElementTypedByRef: "System.TypedReference",
	ElementI:          "System.IntPtr",
	ElementU:          "System.UIntPtr",
	ElementObject:     "System.Object",
}

// typeNamer is implemented by entities that can appear as a type.
type typeNamer interface {
	typeFullName(reflection bool) string
}

// FullName returns the signature's type name in IL notation, e.g.
// "System.Collections.Generic.List`1<System.Byte>".
func (s *TypeSig) FullName() string {
	return sigName(s, false, nil, nil)
}

// ReflectionFullName returns the signature's type name in reflection
// notation, e.g. "System.Collections.Generic.List`1[System.Byte]".
func (s *TypeSig) ReflectionFullName() string {
	return sigName(s, true, nil, nil)
}

func typeName(tp cil.TokenProvider, reflection bool) string {
	switch t := tp.(type) {
	case nil:
		return ""
	case typeNamer:
		return t.typeFullName(reflection)
	case *MethodDef:
		return t.FullName()
	default:
		return ""
	}
}

func nestedSeparator(reflection bool) string {
	if reflection {
		return "+"
	}
	return "/"
}

func qualifiedName(ns, name string, reflection bool) string {
	if ns == "" {
		return identifier(name, reflection)
	}
	return identifier(ns, reflection) + "." + identifier(name, reflection)
}

// identifier escapes reflection metacharacters; IL names are left as is.
func identifier(id string, reflection bool) string {
	if !reflection || !strings.ContainsAny(id, ",+&*[]\\") {
		return id
	}
	var b strings.Builder
	for _, c := range id {
		switch c {
		case ',', '+', '&', '*', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}

func sigName(s *TypeSig, reflection bool, typeArgs, methodArgs []*TypeSig) string {
	var b strings.Builder
	writeSig(&b, s, reflection, typeArgs, methodArgs, 0)
	return b.String()
}

func writeSig(b *strings.Builder, s *TypeSig, reflection bool, typeArgs, methodArgs []*TypeSig, depth int) {
	if s == nil {
		return
	}
	if depth > maxSigDepth {
		b.WriteString("<<<INFRECURSION>>>")
		return
	}
	depth++

	if name, ok := primitiveNames[s.ElementType]; ok {
		b.WriteString(name)
		return
	}

	switch s.ElementType {
	case ElementClass, ElementValueType:
		b.WriteString(typeName(s.Type, reflection))

	case ElementPtr:
		writeSig(b, s.Next, reflection, typeArgs, methodArgs, depth)
		b.WriteByte('*')

	case ElementByRef:
		writeSig(b, s.Next, reflection, typeArgs, methodArgs, depth)
		b.WriteByte('&')

	case ElementSZArray:
		writeSig(b, s.Next, reflection, typeArgs, methodArgs, depth)
		b.WriteString("[]")

	case ElementArray:
		writeSig(b, s.Next, reflection, typeArgs, methodArgs, depth)
		writeArrayShape(b, s, reflection)

	case ElementPinned:
		writeSig(b, s.Next, reflection, typeArgs, methodArgs, depth)

	case ElementCModReqd, ElementCModOpt:
		writeSig(b, s.Next, reflection, typeArgs, methodArgs, depth)
		if !reflection {
			if s.ElementType == ElementCModReqd {
				b.WriteString(" modreq(")
			} else {
				b.WriteString(" modopt(")
			}
			b.WriteString(typeName(s.Modifier, false))
			b.WriteByte(')')
		}

	case ElementVar, ElementMVar:
		args, prefix := typeArgs, "!"
		if s.ElementType == ElementMVar {
			args, prefix = methodArgs, "!!"
		}
		if int(s.Number) < len(args) && args[s.Number] != nil {
			// Substituted arguments are formatted without the outer context.
			writeSig(b, args[s.Number], reflection, nil, nil, depth)
			return
		}
		b.WriteString(prefix)
		b.WriteString(strconv.FormatUint(uint64(s.Number), 10))

	case ElementGenericInst:
		writeSig(b, s.Next, reflection, typeArgs, methodArgs, depth)
		if reflection {
			b.WriteByte('[')
		} else {
			b.WriteByte('<')
		}
		for i, a := range s.Args {
			if i > 0 {
				b.WriteByte(',')
			}
			writeSig(b, a, reflection, typeArgs, methodArgs, depth)
		}
		if reflection {
			b.WriteByte(']')
		} else {
			b.WriteByte('>')
		}

	case ElementFnPtr:
		if reflection {
			b.WriteString("(fnptr)")
			return
		}
		b.WriteString(methodFullName("", "", s.Method, typeArgs))

	default:
		b.WriteString("<<<UNKNOWN>>>")
	}
}

func writeArrayShape(b *strings.Builder, s *TypeSig, reflection bool) {
	b.WriteByte('[')
	switch {
	case s.Rank == 0:
		b.WriteString("<RANK0>")
	case s.Rank == 1:
		b.WriteByte('*')
	default:
		for i := 0; i < int(s.Rank) && i < 0x100; i++ {
			if i > 0 {
				b.WriteByte(',')
			}
			if reflection || i >= len(s.LowerBounds) {
				continue
			}
			lower := s.LowerBounds[i]
			b.WriteString(strconv.Itoa(int(lower)))
			b.WriteString("..")
			if i < len(s.Sizes) {
				b.WriteString(strconv.Itoa(int(lower) + int(s.Sizes[i]) - 1))
			} else {
				b.WriteByte('.')
			}
		}
	}
	b.WriteByte(']')
}

func methodFullName(declType, name string, sig *MethodSig, typeArgs []*TypeSig) string {
	if sig == nil {
		return ""
	}
	var b strings.Builder
	writeSig(&b, sig.RetType, false, typeArgs, nil, 0)
	b.WriteByte(' ')
	if declType != "" {
		b.WriteString(declType)
		b.WriteString("::")
	}
	b.WriteString(name)
	b.WriteByte('(')
	for i, p := range sig.Params {
		if i > 0 {
			b.WriteByte(',')
		}
		writeSig(&b, p, false, typeArgs, nil, 0)
	}
	if sig.ParamsAfterSentinel != nil {
		if len(sig.Params) > 0 {
			b.WriteByte(',')
		}
		b.WriteString("...")
		for _, p := range sig.ParamsAfterSentinel {
			b.WriteByte(',')
			writeSig(&b, p, false, typeArgs, nil, 0)
		}
	}
	b.WriteByte(')')
	return b.String()
}

func fieldFullName(declType, name string, typ *TypeSig, typeArgs []*TypeSig) string {
	var b strings.Builder
	writeSig(&b, typ, false, typeArgs, nil, 0)
	b.WriteByte(' ')
	if declType != "" {
		b.WriteString(declType)
		b.WriteString("::")
	}
	b.WriteString(name)
	return b.String()
}
