package dotnet

import (
	"github.com/daimatz/flared/pkg/cil"
)

// TypeDef is a row of the TypeDef table.
type TypeDef struct {
	rid uint32

	Flags         uint32
	Namespace     string
	Name          string
	Extends       cil.TokenProvider
	DeclaringType *TypeDef
	Fields        []*FieldDef
	Methods       []*MethodDef
}

func (t *TypeDef) MDToken() cil.Token { return cil.NewToken(byte(TableTypeDef), t.rid) }

// FullName returns the type name with nested types joined by '/'.
func (t *TypeDef) FullName() string { return t.typeFullName(false) }

// ReflectionFullName returns the type name with nested types joined by '+'.
func (t *TypeDef) ReflectionFullName() string { return t.typeFullName(true) }

func (t *TypeDef) typeFullName(reflection bool) string {
	if t.DeclaringType != nil {
		return t.DeclaringType.typeFullName(reflection) + nestedSeparator(reflection) + identifier(t.Name, reflection)
	}
	return qualifiedName(t.Namespace, t.Name, reflection)
}

// TypeRef is a row of the TypeRef table.
type TypeRef struct {
	rid uint32

	Namespace string
	Name      string
	// DeclaringType is set when the resolution scope is another TypeRef.
	DeclaringType *TypeRef
}

func (t *TypeRef) MDToken() cil.Token { return cil.NewToken(byte(TableTypeRef), t.rid) }

// FullName returns the type name with nested types joined by '/'.
func (t *TypeRef) FullName() string { return t.typeFullName(false) }

// ReflectionFullName returns the type name with nested types joined by '+'.
func (t *TypeRef) ReflectionFullName() string { return t.typeFullName(true) }

func (t *TypeRef) typeFullName(reflection bool) string {
	if t.DeclaringType != nil {
		return t.DeclaringType.typeFullName(reflection) + nestedSeparator(reflection) + identifier(t.Name, reflection)
	}
	return qualifiedName(t.Namespace, t.Name, reflection)
}

// TypeSpec is a row of the TypeSpec table.
type TypeSpec struct {
	rid uint32

	Sig *TypeSig
}

func (t *TypeSpec) MDToken() cil.Token { return cil.NewToken(byte(TableTypeSpec), t.rid) }

// FullName returns the full name of the specified type.
func (t *TypeSpec) FullName() string { return t.typeFullName(false) }

// ReflectionFullName returns the reflection name of the specified type.
func (t *TypeSpec) ReflectionFullName() string { return t.typeFullName(true) }

func (t *TypeSpec) typeFullName(reflection bool) string {
	if t.Sig == nil {
		return ""
	}
	return sigName(t.Sig, reflection, nil, nil)
}

// genericArgs returns the type arguments of a generic instance spec.
func (t *TypeSpec) genericArgs() []*TypeSig {
	if s := t.Sig.RemoveModifiers(); s != nil && s.ElementType == ElementGenericInst {
		return s.Args
	}
	return nil
}

// FieldDef is a row of the Field table.
type FieldDef struct {
	rid uint32

	Flags         uint16
	Name          string
	Type          *TypeSig
	DeclaringType *TypeDef
}

func (f *FieldDef) MDToken() cil.Token { return cil.NewToken(byte(TableField), f.rid) }

// FullName returns "FieldType DeclaringType::Name".
func (f *FieldDef) FullName() string {
	decl := ""
	if f.DeclaringType != nil {
		decl = f.DeclaringType.FullName()
	}
	return fieldFullName(decl, f.Name, f.Type, nil)
}

// IsStatic reports whether the field is static.
func (f *FieldDef) IsStatic() bool {
	return f.Flags&0x0010 != 0
}

// MethodDef is a row of the Method table.
type MethodDef struct {
	rid uint32

	RVA           uint32
	ImplFlags     uint16
	Flags         MethodAttributes
	Name          string
	Sig           *MethodSig
	DeclaringType *TypeDef

	// Header is the raw body header, nil for methods without IL.
	Header *cil.Header
	// Body is the decoded body. It is nil when the method has no IL or when
	// its stored IL does not decode. Assigning a new body replaces it on write.
	Body *cil.Body
	// Locals are the types of the local variable signature.
	Locals []*TypeSig

	origBody *cil.Body
	removed  bool
}

func (m *MethodDef) MDToken() cil.Token { return cil.NewToken(byte(TableMethod), m.rid) }

// FullName returns "RetType DeclaringType::Name(ParamTypes)".
func (m *MethodDef) FullName() string {
	decl := ""
	if m.DeclaringType != nil {
		decl = m.DeclaringType.FullName()
	}
	return methodFullName(decl, m.Name, m.Sig, nil)
}

// HasBody reports whether a decoded body is available.
func (m *MethodDef) HasBody() bool {
	return m.Body != nil
}

// Params returns the declared parameter types, excluding a hidden this.
func (m *MethodDef) Params() []*TypeSig {
	if m.Sig == nil {
		return nil
	}
	return m.Sig.Params
}

// ReturnType returns the declared return type.
func (m *MethodDef) ReturnType() *TypeSig {
	if m.Sig == nil {
		return nil
	}
	return m.Sig.RetType
}

// Arguments returns every argument slot of the method: the hidden this
// parameter, when present, followed by the declared parameters.
func (m *MethodDef) Arguments() []*TypeSig {
	if m.Sig == nil {
		return nil
	}
	if !m.Sig.HasThis() || m.Sig.CallingConvention&CallConvExplicitThis != 0 {
		return m.Sig.Params
	}
	this := &TypeSig{ElementType: ElementClass}
	if m.DeclaringType != nil {
		this.Type = m.DeclaringType
	}
	return append([]*TypeSig{this}, m.Sig.Params...)
}

// GenericContext returns the generic scope of the method's body.
func (m *MethodDef) GenericContext() cil.GenericContext {
	gp := cil.GenericContext{Method: m}
	if m.DeclaringType != nil {
		gp.Type = m.DeclaringType
	}
	return gp
}

// BodyReplaced reports whether Body differs from the body loaded from disk.
func (m *MethodDef) BodyReplaced() bool {
	return m.Body != m.origBody
}

// Removed reports whether the method was removed from its declaring type.
func (m *MethodDef) Removed() bool {
	return m.removed
}

// MemberRef is a row of the MemberRef table.
type MemberRef struct {
	rid uint32

	Class cil.TokenProvider
	Name  string
	// Exactly one of MethodSig and FieldType is set.
	MethodSig *MethodSig
	FieldType *TypeSig
}

func (m *MemberRef) MDToken() cil.Token { return cil.NewToken(byte(TableMemberRef), m.rid) }

// IsMethodRef reports whether the reference targets a method.
func (m *MemberRef) IsMethodRef() bool {
	return m.MethodSig != nil
}

// FullName returns the member name with the declaring type's generic
// arguments substituted, e.g.
// "System.Void System.Collections.Generic.List`1<System.Byte>::Add(System.Byte)".
func (m *MemberRef) FullName() string {
	var typeArgs []*TypeSig
	if ts, ok := m.Class.(*TypeSpec); ok {
		typeArgs = ts.genericArgs()
	}
	decl := typeName(m.Class, false)
	if m.MethodSig != nil {
		return methodFullName(decl, m.Name, m.MethodSig, typeArgs)
	}
	return fieldFullName(decl, m.Name, m.FieldType, typeArgs)
}

// MethodSpec is a row of the MethodSpec table.
type MethodSpec struct {
	rid uint32

	Method        cil.TokenProvider
	Instantiation []*TypeSig
}

func (m *MethodSpec) MDToken() cil.Token { return cil.NewToken(byte(TableMethodSpec), m.rid) }

// StandAloneSig is a row of the StandAloneSig table.
type StandAloneSig struct {
	rid uint32

	// Locals is set for local variable signatures, MethodSig for call site
	// signatures.
	Locals    []*TypeSig
	MethodSig *MethodSig
}

func (s *StandAloneSig) MDToken() cil.Token { return cil.NewToken(byte(TableStandAloneSig), s.rid) }
