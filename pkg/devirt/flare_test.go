package devirt

import (
	"testing"

	"github.com/apex/log"
	"github.com/apex/log/handlers/discard"

	"github.com/daimatz/flared/pkg/cil"
	"github.com/daimatz/flared/pkg/dotnet"
	"github.com/daimatz/flared/pkg/dotnettest"
)

func init() {
	log.SetHandler(discard.Default)
}

// flare is a miniature of a virtualized module. FlareOn.Runtime holds the
// setup routine and both builders, FlareOn.Target holds one stub of every
// kind plus a static stub whose buffer is never stored.
type flare struct {
	data []byte

	ipe, hello, localSig cil.Token

	runtime, target                 cil.Token
	buf1, info2, buf2, ints, counter cil.Token
	missing                         cil.Token
	setup, staticBuild, build       cil.Token

	staticOrig, staticProxy   cil.Token
	patchedOrig, patchedProxy cil.Token
	missingOrig, missingProxy cil.Token
	dynamicOrig, dynamicProxy cil.Token
	main                      cil.Token
}

// dynamicCode is the plain body of the dynamic stub. Its user string token
// is hidden with the dynamic key.
func (f *flare) dynamicCode() []byte {
	return new(dotnettest.IL).
		Op(cil.OpLdarg0).
		Op(cil.OpLdcI41).
		Op(cil.OpAdd).
		Op(cil.OpStloc0).
		I4(cil.OpLdstr, int32(uint32(f.hello)^DynamicKey)).
		Op(cil.OpPop).
		Op(cil.OpLdloc0).
		Op(cil.OpRet).
		Bytes()
}

// staticCode is the body the setup routine stores in buf1.
var staticCode = []byte{byte(cil.OpLdcI4S), 42, byte(cil.OpRet)}

func newFlare(t *testing.T, sections map[string][]byte) *flare {
	t.Helper()
	b := dotnettest.New()
	f := &flare{}

	var (
		void   = dotnettest.Elem(dotnet.ElementVoid)
		i4     = dotnettest.Elem(dotnet.ElementI4)
		u4     = dotnettest.Elem(dotnet.ElementU4)
		u1     = dotnettest.Elem(dotnet.ElementU1)
		str    = dotnettest.Elem(dotnet.ElementString)
		object = dotnettest.Elem(dotnet.ElementObject)
	)
	mscorlib := b.AssemblyRef("mscorlib")
	objectRef := b.TypeRef(mscorlib, "System", "Object")
	f.ipe = b.TypeRef(mscorlib, "System", "InvalidProgramException")
	list := b.TypeRef(mscorlib, "System.Collections.Generic", "List`1")
	dict := b.TypeRef(mscorlib, "System.Collections.Generic", "Dictionary`2")
	obs := b.TypeRef(mscorlib, "System.Collections.ObjectModel", "ObservableCollection`1")
	coll := b.TypeRef(mscorlib, "System.Collections.ObjectModel", "Collection`1")

	dictSig := dotnettest.GenericInst(dotnettest.Class(dict), u4, i4)
	listOfByte := b.TypeSpec(dotnettest.GenericInst(dotnettest.Class(list), u1))
	dictOfUint := b.TypeSpec(dictSig)
	obsOfInt := b.TypeSpec(dotnettest.GenericInst(dotnettest.Class(obs), i4))
	collOfInt := b.TypeSpec(dotnettest.GenericInst(dotnettest.Class(coll), i4))

	listCtor := b.MemberRef(listOfByte, ".ctor", dotnettest.InstanceSig(void))
	listAdd := b.MemberRef(listOfByte, "Add", dotnettest.InstanceSig(void, dotnettest.Var(0)))
	listToArray := b.MemberRef(listOfByte, "ToArray", dotnettest.InstanceSig(dotnettest.SZArray(dotnettest.Var(0))))
	dictCtor := b.MemberRef(dictOfUint, ".ctor", dotnettest.InstanceSig(void))
	dictAdd := b.MemberRef(dictOfUint, "Add", dotnettest.InstanceSig(void, dotnettest.Var(0), dotnettest.Var(1)))
	obsCtor := b.MemberRef(obsOfInt, ".ctor", dotnettest.InstanceSig(void))
	collAdd := b.MemberRef(collOfInt, "Add", dotnettest.InstanceSig(void, dotnettest.Var(0)))

	f.hello = b.UserString("hello")
	f.localSig = b.StandAloneSig(dotnettest.LocalSig(i4))

	static := uint16(dotnet.MethodPublic | dotnet.MethodStatic | dotnet.MethodHideBySig)
	staticField := uint16(0x0016)

	// FlareOn.Runtime
	f.runtime = b.TypeDef(0x00100081, "FlareOn", "Runtime", objectRef)
	f.buf1 = b.Field(staticField, "buf1", dotnettest.FieldSig(dotnettest.SZArray(u1)))
	f.info2 = b.Field(staticField, "info2", dotnettest.FieldSig(dictSig))
	f.buf2 = b.Field(staticField, "buf2", dotnettest.FieldSig(dotnettest.SZArray(u1)))
	f.ints = b.Field(staticField, "ints", dotnettest.FieldSig(object))
	f.counter = b.Field(staticField, "counter", dotnettest.FieldSig(i4))
	f.missing = b.Field(staticField, "missing", dotnettest.FieldSig(dotnettest.SZArray(u1)))

	il := new(dotnettest.IL).Tok(cil.OpNewobj, listCtor)
	for _, c := range staticCode {
		il.Op(cil.OpDup).I4(cil.OpLdcI4, int32(c)).Tok(cil.OpCallvirt, listAdd)
	}
	il.Tok(cil.OpCallvirt, listToArray).Tok(cil.OpStsfld, f.buf1)
	il.Tok(cil.OpNewobj, dictCtor).
		Op(cil.OpDup).Op(cil.OpLdcI41).Tok(cil.OpLdcI4, f.hello).Tok(cil.OpCallvirt, dictAdd).
		Tok(cil.OpStsfld, f.info2)
	il.Tok(cil.OpNewobj, listCtor)
	for _, c := range []byte{byte(cil.OpLdstr), 0, 0, 0, 0, byte(cil.OpRet)} {
		il.Op(cil.OpDup).I1(cil.OpLdcI4S, int8(c)).Tok(cil.OpCallvirt, listAdd)
	}
	il.Tok(cil.OpCallvirt, listToArray).Tok(cil.OpStsfld, f.buf2)
	il.Tok(cil.OpNewobj, obsCtor).
		Op(cil.OpDup).Op(cil.OpLdcI47).Tok(cil.OpCallvirt, collAdd).
		Tok(cil.OpStsfld, f.ints)
	il.I4(cil.OpLdcI4, 1234).Tok(cil.OpStsfld, f.counter)
	il.Op(cil.OpRet)
	f.setup = b.Method(static, 0, "Setup", dotnettest.StaticSig(void), dotnettest.FatBody(8, 0, false, il.Bytes()))

	f.staticBuild = b.Method(static, 0, "StaticBuild", dotnettest.StaticSig(object,
		dotnettest.Class(f.ipe), dotnettest.SZArray(object), dictSig, dotnettest.SZArray(u1)), nil)
	f.build = b.Method(static, 0, "Build", dotnettest.StaticSig(object,
		dotnettest.Class(f.ipe), dotnettest.SZArray(object)), nil)

	// FlareOn.Target
	f.target = b.TypeDef(0x00100001, "FlareOn", "Target", objectRef)
	stub := func(name string, sig []byte, withArg bool, orig, builder cil.Token, fields ...cil.Token) cil.Token {
		il := new(dotnettest.IL)
		if withArg {
			il.Op(cil.OpLdarg0)
		}
		il.Tok(cil.OpCall, orig).Op(cil.OpRet)
		try := uint32(il.Len())
		il.Op(cil.OpPop)
		for _, fld := range fields {
			il.Tok(cil.OpLdsfld, fld)
		}
		il.Op(cil.OpLdnull).Tok(cil.OpCall, builder).Op(cil.OpPop).Op(cil.OpLdnull).Op(cil.OpRet)
		code := il.Bytes()
		return b.Method(static, 0, name, sig, dotnettest.FatBody(8, 0, false, code, dotnettest.Clause{
			Type:          cil.HandlerCatch,
			TryLength:     try,
			HandlerStart:  try,
			HandlerLength: uint32(len(code)) - try,
			CatchType:     f.ipe,
		}))
	}
	ldc0 := dotnettest.TinyBody(new(dotnettest.IL).Op(cil.OpLdcI40).Op(cil.OpRet).Bytes())
	ldnull := dotnettest.TinyBody(new(dotnettest.IL).Op(cil.OpLdnull).Op(cil.OpRet).Bytes())

	f.staticOrig = b.Method(static, 0, "StaticOrig", dotnettest.StaticSig(i4), ldc0)
	f.staticProxy = stub("StaticProxy", dotnettest.StaticSig(i4), false, f.staticOrig, f.staticBuild, f.buf1)
	f.patchedOrig = b.Method(static, 0, "PatchedOrig", dotnettest.StaticSig(str), ldnull)
	f.patchedProxy = stub("PatchedProxy", dotnettest.StaticSig(str), false, f.patchedOrig, f.staticBuild, f.info2, f.buf2)
	f.missingOrig = b.Method(static, 0, "MissingOrig", dotnettest.StaticSig(i4), ldc0)
	f.missingProxy = stub("MissingProxy", dotnettest.StaticSig(i4), false, f.missingOrig, f.staticBuild, f.missing)

	junk := new(dotnettest.IL).Op(cil.OpLdarg0).Op(cil.OpRet).Bytes()
	f.dynamicOrig = b.Method(static, 0, "DynamicOrig", dotnettest.StaticSig(i4, i4), dotnettest.FatBody(2, f.localSig, true, junk))
	f.dynamicProxy = stub("DynamicProxy", dotnettest.StaticSig(i4, i4), true, f.dynamicOrig, f.build)

	// FlareOn.Program
	b.TypeDef(0x00100001, "FlareOn", "Program", objectRef)
	main := new(dotnettest.IL).
		Op(cil.OpLdcI40).
		Tok(cil.OpCall, f.dynamicProxy).
		Op(cil.OpPop).
		Tok(cil.OpCall, f.setup).
		Op(cil.OpRet).
		Bytes()
	clause := dotnettest.Clause{Type: cil.HandlerCatch, TryLength: 1, HandlerStart: 1, HandlerLength: 1, CatchType: objectRef}
	f.main = b.Method(static, 0, "Main", dotnettest.StaticSig(void), dotnettest.FatBody(8, 0, false, main, clause, clause))
	b.SetEntryPoint(f.main)

	b.Section(".rsrc", make([]byte, 16))
	for name, data := range sections {
		b.Section(name, data)
	}
	f.data = b.MustBytes()
	return f
}

// newFlareWithSection builds the module a second time with the encrypted
// body of the dynamic stub in a section named after its fingerprint.
func newFlareWithSection(t *testing.T) (*flare, string) {
	t.Helper()
	f := newFlare(t, nil)
	m := f.load(t)
	orig := f.method(t, m, f.dynamicOrig)
	raw, err := ReadRawBody(m, orig)
	if err != nil {
		t.Fatalf("ReadRawBody: %v", err)
	}
	fp, err := Fingerprint(orig, raw)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	name := fp[:8]
	return newFlare(t, map[string][]byte{name: Decrypt(f.dynamicCode())}), name
}

func (f *flare) load(t *testing.T) *dotnet.Module {
	t.Helper()
	m, err := dotnet.Load(f.data)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return m
}

func (f *flare) method(t *testing.T, m *dotnet.Module, tok cil.Token) *dotnet.MethodDef {
	t.Helper()
	tp, err := m.ResolveToken(uint32(tok), cil.GenericContext{})
	if err != nil {
		t.Fatalf("ResolveToken(%s): %v", tok, err)
	}
	md, ok := tp.(*dotnet.MethodDef)
	if !ok {
		t.Fatalf("token %s is %T", tok, tp)
	}
	return md
}

func (f *flare) field(t *testing.T, m *dotnet.Module, tok cil.Token) *dotnet.FieldDef {
	t.Helper()
	tp, err := m.ResolveToken(uint32(tok), cil.GenericContext{})
	if err != nil {
		t.Fatalf("ResolveToken(%s): %v", tok, err)
	}
	fd, ok := tp.(*dotnet.FieldDef)
	if !ok {
		t.Fatalf("token %s is %T", tok, tp)
	}
	return fd
}

func (f *flare) typeDef(t *testing.T, m *dotnet.Module, tok cil.Token) *dotnet.TypeDef {
	t.Helper()
	tp, err := m.ResolveToken(uint32(tok), cil.GenericContext{})
	if err != nil {
		t.Fatalf("ResolveToken(%s): %v", tok, err)
	}
	td, ok := tp.(*dotnet.TypeDef)
	if !ok {
		t.Fatalf("token %s is %T", tok, tp)
	}
	return td
}

func methodNames(td *dotnet.TypeDef) []string {
	var names []string
	for _, md := range td.Methods {
		names = append(names, md.Name)
	}
	return names
}

func opcodes(body *cil.Body) []string {
	var ops []string
	for _, in := range body.Instructions {
		ops = append(ops, in.OpCode.Name)
	}
	return ops
}
