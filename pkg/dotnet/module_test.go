package dotnet_test

import (
	"testing"

	"github.com/daimatz/flared/pkg/cil"
	"github.com/daimatz/flared/pkg/dotnet"
	"github.com/daimatz/flared/pkg/dotnettest"
)

type sample struct {
	data []byte

	object, list cil.Token
	listOfByte   cil.Token
	listAdd      cil.Token
	hello        cil.Token

	removable, caller, callee, build cil.Token
	counter                          cil.Token
	sample, inner                    cil.Token
	localSig                         cil.Token
}

// newSample builds a module with three static methods in FlareOn.Test.Sample:
// Removable (with a param and a custom attribute), Caller, which calls
// Callee, and Callee, the entry point.
func newSample(t *testing.T, extra func(b *dotnettest.Builder)) *sample {
	t.Helper()
	b := dotnettest.New()
	s := &sample{}

	mscorlib := b.AssemblyRef("mscorlib")
	s.object = b.TypeRef(mscorlib, "System", "Object")
	s.list = b.TypeRef(mscorlib, "System.Collections.Generic", "List`1")
	attr := b.TypeRef(mscorlib, "System", "ObsoleteAttribute")
	s.listOfByte = b.TypeSpec(dotnettest.GenericInst(dotnettest.Class(s.list), dotnettest.Elem(dotnet.ElementU1)))
	s.listAdd = b.MemberRef(s.listOfByte, "Add", dotnettest.InstanceSig(dotnettest.Elem(dotnet.ElementVoid), dotnettest.Var(0)))
	attrCtor := b.MemberRef(attr, ".ctor", dotnettest.InstanceSig(dotnettest.Elem(dotnet.ElementVoid)))
	s.hello = b.UserString("hello")
	s.localSig = b.StandAloneSig(dotnettest.LocalSig(dotnettest.Elem(dotnet.ElementI4)))

	s.sample = b.TypeDef(0x00100001, "FlareOn.Test", "Sample", s.object)
	s.counter = b.Field(0x0016, "counter", dotnettest.FieldSig(dotnettest.Elem(dotnet.ElementI4)))

	void := dotnettest.StaticSig(dotnettest.Elem(dotnet.ElementVoid))
	static := uint16(dotnet.MethodPublic | dotnet.MethodStatic | dotnet.MethodHideBySig)

	ret := new(dotnettest.IL).Op(cil.OpRet).Bytes()
	s.removable = b.Method(static, 0, "Removable", dotnettest.StaticSig(dotnettest.Elem(dotnet.ElementVoid), dotnettest.Elem(dotnet.ElementI4)), dotnettest.TinyBody(ret))
	b.Param(1, "x")
	b.CustomAttribute(s.removable, attrCtor)

	calleeTok := cil.NewToken(byte(dotnet.TableMethod), s.removable.Rid()+2)
	call := new(dotnettest.IL).
		Tok(cil.OpLdstr, s.hello).
		Op(cil.OpPop).
		Tok(cil.OpCall, calleeTok).
		Op(cil.OpRet).
		Bytes()
	s.caller = b.Method(static, 0, "Caller", void, dotnettest.TinyBody(call))
	s.callee = b.Method(static, 0, "Callee", void, dotnettest.FatBody(2, s.localSig, true, ret))
	s.build = b.Method(static, 0, "Build", dotnettest.StaticSig(dotnettest.Elem(dotnet.ElementObject),
		dotnettest.Class(s.object), dotnettest.SZArray(dotnettest.Elem(dotnet.ElementU1))), nil)

	s.inner = b.TypeDef(0x00100002, "", "Inner", s.object)
	b.Nest(s.inner, s.sample)

	b.SetEntryPoint(s.callee)
	if extra != nil {
		extra(b)
	}
	s.data = b.MustBytes()
	return s
}

func (s *sample) load(t *testing.T) *dotnet.Module {
	t.Helper()
	m, err := dotnet.Load(s.data)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return m
}

func findType(t *testing.T, m *dotnet.Module, name string) *dotnet.TypeDef {
	t.Helper()
	for _, td := range m.Types() {
		if td.FullName() == name {
			return td
		}
	}
	t.Fatalf("type %s not found", name)
	return nil
}

func findMethod(t *testing.T, td *dotnet.TypeDef, name string) *dotnet.MethodDef {
	t.Helper()
	for _, md := range td.Methods {
		if md.Name == name {
			return md
		}
	}
	t.Fatalf("method %s not found in %s", name, td.FullName())
	return nil
}

func TestLoad(t *testing.T) {
	s := newSample(t, nil)
	m := s.load(t)

	if got := len(m.Types()); got != 3 {
		t.Fatalf("types: got %d, want 3", got)
	}
	td := findType(t, m, "FlareOn.Test.Sample")
	if got := len(td.Methods); got != 4 {
		t.Errorf("methods of Sample: got %d, want 4", got)
	}
	if got := len(td.Fields); got != 1 {
		t.Errorf("fields of Sample: got %d, want 1", got)
	}

	ep := m.EntryPoint()
	if ep == nil || ep.Name != "Callee" {
		t.Fatalf("entry point: got %v, want Callee", ep)
	}
	if m.EntryPointToken() != s.callee {
		t.Errorf("entry point token: got %s, want %s", m.EntryPointToken(), s.callee)
	}

	t.Run("tiny body", func(t *testing.T) {
		caller := findMethod(t, td, "Caller")
		if !caller.HasBody() {
			t.Fatal("Caller has no body")
		}
		ins := caller.Body.Instructions
		if len(ins) != 4 {
			t.Fatalf("instructions: got %d, want 4", len(ins))
		}
		if got, ok := ins[0].Operand.(string); !ok || got != "hello" {
			t.Errorf("ldstr operand: got %v, want %q", ins[0].Operand, "hello")
		}
		callee, ok := ins[2].Operand.(*dotnet.MethodDef)
		if !ok || callee.Name != "Callee" {
			t.Errorf("call operand: got %v, want Callee", ins[2].Operand)
		}
		if caller.Header.Size != 1 {
			t.Errorf("header size: got %d, want 1", caller.Header.Size)
		}
	})

	t.Run("fat body with locals", func(t *testing.T) {
		callee := findMethod(t, td, "Callee")
		if callee.Header.Size != 12 {
			t.Errorf("header size: got %d, want 12", callee.Header.Size)
		}
		if callee.Header.LocalVarSigTok != uint32(s.localSig) {
			t.Errorf("local sig: got %08X, want %s", callee.Header.LocalVarSigTok, s.localSig)
		}
		if len(callee.Locals) != 1 || callee.Locals[0].ElementType != dotnet.ElementI4 {
			t.Errorf("locals: got %v, want [int32]", callee.Locals)
		}
		if !callee.Body.InitLocals {
			t.Error("InitLocals not set")
		}
	})

	t.Run("method without body", func(t *testing.T) {
		build := findMethod(t, td, "Build")
		if build.HasBody() || build.Header != nil {
			t.Errorf("Build: got body %v, want none", build.Body)
		}
	})

	t.Run("user string", func(t *testing.T) {
		got, err := m.ReadUserString(uint32(s.hello))
		if err != nil {
			t.Fatalf("ReadUserString: %v", err)
		}
		if got != "hello" {
			t.Errorf("ReadUserString: got %q, want %q", got, "hello")
		}
		if _, err := m.ReadUserString(uint32(s.callee)); err == nil {
			t.Error("ReadUserString of a method token: got nil error")
		}
	})

	t.Run("resolve token", func(t *testing.T) {
		tp, err := m.ResolveToken(uint32(s.counter), cil.GenericContext{})
		if err != nil {
			t.Fatalf("ResolveToken: %v", err)
		}
		f, ok := tp.(*dotnet.FieldDef)
		if !ok || f.Name != "counter" || !f.IsStatic() {
			t.Errorf("ResolveToken(counter): got %v", tp)
		}
		if _, err := m.ResolveToken(uint32(cil.NewToken(byte(dotnet.TableMethod), 99)), cil.GenericContext{}); err == nil {
			t.Error("ResolveToken out of range: got nil error")
		}
	})
}

func TestFullNames(t *testing.T) {
	s := newSample(t, nil)
	m := s.load(t)
	td := findType(t, m, "FlareOn.Test.Sample")

	resolve := func(tok cil.Token) cil.TokenProvider {
		tp, err := m.ResolveToken(uint32(tok), cil.GenericContext{})
		if err != nil {
			t.Fatalf("ResolveToken(%s): %v", tok, err)
		}
		return tp
	}
	spec := resolve(s.listOfByte).(*dotnet.TypeSpec)
	inner := findType(t, m, "FlareOn.Test.Sample/Inner")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"method", findMethod(t, td, "Build").FullName(), "System.Object FlareOn.Test.Sample::Build(System.Object,System.Byte[])"},
		{"field", td.Fields[0].FullName(), "System.Int32 FlareOn.Test.Sample::counter"},
		{"member ref on generic instance", resolve(s.listAdd).(*dotnet.MemberRef).FullName(), "System.Void System.Collections.Generic.List`1<System.Byte>::Add(System.Byte)"},
		{"type spec", spec.FullName(), "System.Collections.Generic.List`1<System.Byte>"},
		{"type spec reflection", spec.ReflectionFullName(), "System.Collections.Generic.List`1[System.Byte]"},
		{"nested", inner.FullName(), "FlareOn.Test.Sample/Inner"},
		{"nested reflection", inner.ReflectionFullName(), "FlareOn.Test.Sample+Inner"},
		{"type ref", resolve(s.object).(*dotnet.TypeRef).FullName(), "System.Object"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestArguments(t *testing.T) {
	b := dotnettest.New()
	mscorlib := b.AssemblyRef("mscorlib")
	object := b.TypeRef(mscorlib, "System", "Object")
	b.TypeDef(0x00100001, "", "C", object)
	b.Method(uint16(dotnet.MethodPublic), 0, "Instance", dotnettest.InstanceSig(dotnettest.Elem(dotnet.ElementVoid), dotnettest.Elem(dotnet.ElementI4)), nil)
	b.Method(uint16(dotnet.MethodPublic|dotnet.MethodStatic), 0, "Static", dotnettest.StaticSig(dotnettest.Elem(dotnet.ElementVoid), dotnettest.Elem(dotnet.ElementI4)), nil)
	m, err := dotnet.Load(b.MustBytes())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	td := findType(t, m, "C")

	instance := findMethod(t, td, "Instance")
	if got := len(instance.Params()); got != 1 {
		t.Errorf("Instance params: got %d, want 1", got)
	}
	args := instance.Arguments()
	if len(args) != 2 || args[0].Type != td {
		t.Errorf("Instance arguments: got %v, want [this int32]", args)
	}

	static := findMethod(t, td, "Static")
	if got := len(static.Arguments()); got != 1 {
		t.Errorf("Static arguments: got %d, want 1", got)
	}
}

func TestCreateBody(t *testing.T) {
	s := newSample(t, nil)
	m := s.load(t)
	td := findType(t, m, "FlareOn.Test.Sample")
	callee := findMethod(t, td, "Callee")

	tests := []struct {
		name     string
		code     []byte
		args     int
		localSig uint32
		wantErr  bool
	}{
		{"ldarg in range", new(dotnettest.IL).Op(cil.OpLdarg0).Op(cil.OpPop).Op(cil.OpRet).Bytes(), 1, 0, false},
		{"ldarg out of range", new(dotnettest.IL).Op(cil.OpLdarg1).Op(cil.OpPop).Op(cil.OpRet).Bytes(), 1, 0, true},
		{"valid local sig", new(dotnettest.IL).Op(cil.OpRet).Bytes(), 0, uint32(s.localSig), false},
		{"invalid local sig", new(dotnettest.IL).Op(cil.OpRet).Bytes(), 0, uint32(cil.NewToken(byte(dotnet.TableStandAloneSig), 9)), true},
		{"token operand", new(dotnettest.IL).Tok(cil.OpCall, s.caller).Op(cil.OpRet).Bytes(), 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := make([]*dotnet.TypeSig, tt.args)
			for i := range args {
				args[i] = &dotnet.TypeSig{ElementType: dotnet.ElementI4}
			}
			body, err := m.CreateBody(m, tt.code, nil, args, cil.FlagFatFormat, 8, uint32(len(tt.code)), tt.localSig, callee.GenericContext())
			if tt.wantErr {
				if err == nil {
					t.Error("got nil error")
				}
				return
			}
			if err != nil {
				t.Fatalf("CreateBody: %v", err)
			}
			if body.CodeSize != uint32(len(tt.code)) {
				t.Errorf("CodeSize: got %d, want %d", body.CodeSize, len(tt.code))
			}
		})
	}
}

func TestRemoveMethod(t *testing.T) {
	s := newSample(t, nil)
	m := s.load(t)
	td := findType(t, m, "FlareOn.Test.Sample")
	md := findMethod(t, td, "Removable")

	if err := m.RemoveMethod(md); err != nil {
		t.Fatalf("RemoveMethod: %v", err)
	}
	if !md.Removed() || md.DeclaringType != nil {
		t.Error("method not marked removed")
	}
	for _, x := range td.Methods {
		if x == md {
			t.Error("method still listed in its type")
		}
	}
	if err := m.RemoveMethod(md); err == nil {
		t.Error("second RemoveMethod: got nil error")
	}
}

func TestMethodAttributesString(t *testing.T) {
	tests := []struct {
		attrs dotnet.MethodAttributes
		want  string
	}{
		{0, "ReuseSlot"},
		{dotnet.MethodPublic | dotnet.MethodStatic | dotnet.MethodHideBySig, "PrivateScope, Public, Static, HideBySig"},
		{dotnet.MethodPrivate | dotnet.MethodHideBySig, "PrivateScope, Private, HideBySig"},
		{dotnet.MethodAssembly | dotnet.MethodStatic, "PrivateScope, Assembly, Static"},
		{dotnet.MethodPublic | dotnet.MethodVirtual | dotnet.MethodHideBySig | dotnet.MethodVtableLayoutMask, "PrivateScope, Public, Virtual, HideBySig, VtableLayoutMask"},
		{dotnet.MethodMemberAccessMask, "PrivateScope, MemberAccessMask"},
		{dotnet.MethodPublic | dotnet.MethodSpecialName | dotnet.MethodRTSpecialName | dotnet.MethodHideBySig, "PrivateScope, Public, HideBySig, SpecialName, RTSpecialName"},
	}
	for _, tt := range tests {
		if got := tt.attrs.String(); got != tt.want {
			t.Errorf("MethodAttributes(0x%04X).String(): got %q, want %q", uint16(tt.attrs), got, tt.want)
		}
	}
}
