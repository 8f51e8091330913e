package devirt

import (
	"reflect"
	"testing"

	"github.com/daimatz/flared/pkg/cil"
	"github.com/daimatz/flared/pkg/dotnet"
)

type typesModule struct {
	Module
	types []*dotnet.TypeDef
}

func (m *typesModule) Types() []*dotnet.TypeDef { return m.types }

var (
	invalidProgram = &dotnet.TypeRef{Namespace: "System", Name: "InvalidProgramException"}
	exception      = &dotnet.TypeRef{Namespace: "System", Name: "Exception"}
)

func withHandlers(md *dotnet.MethodDef, handlers ...*cil.ExceptionHandler) *dotnet.MethodDef {
	md.Body.ExceptionHandlers = handlers
	return md
}

func method(name string, instrs ...*cil.Instruction) *dotnet.MethodDef {
	return &dotnet.MethodDef{
		Name: name,
		Sig:  &dotnet.MethodSig{RetType: sig(dotnet.ElementVoid)},
		Body: &cil.Body{Instructions: instrs},
	}
}

func catching(tp cil.TokenProvider) *cil.ExceptionHandler {
	return &cil.ExceptionHandler{Type: cil.HandlerCatch, CatchType: tp}
}

func TestClassify(t *testing.T) {
	builder := method("Build")
	m1, m2, m3 := method("M1"), method("M2"), method("M3")
	f1, f2, f3 := &dotnet.FieldDef{Name: "f1"}, &dotnet.FieldDef{Name: "f2"}, &dotnet.FieldDef{Name: "f3"}

	tests := []struct {
		name     string
		handlers []*cil.ExceptionHandler
		instrs   []*cil.Instruction
		want     func(proxy *dotnet.MethodDef) Stub
	}{
		{
			name:     "dynamic",
			handlers: []*cil.ExceptionHandler{catching(invalidProgram)},
			instrs:   []*cil.Instruction{ins(cil.OpCall, m1), ins(cil.OpCall, m2), ins(cil.OpCall, builder)},
			want:     func(p *dotnet.MethodDef) Stub { return &DynamicStub{ProxyMethod: p, Method: m2} },
		},
		{
			name:     "static",
			handlers: []*cil.ExceptionHandler{catching(invalidProgram)},
			instrs:   []*cil.Instruction{ins(cil.OpCall, m1), ins(cil.OpLdsfld, f1), ins(cil.OpCall, builder)},
			want:     func(p *dotnet.MethodDef) Stub { return &StaticStub{ProxyMethod: p, Method: m1, Buffer: f1} },
		},
		{
			name:     "patched",
			handlers: []*cil.ExceptionHandler{catching(invalidProgram)},
			instrs:   []*cil.Instruction{ins(cil.OpCall, m1), ins(cil.OpLdsfld, f1), ins(cil.OpLdsfld, f2), ins(cil.OpCall, builder)},
			want: func(p *dotnet.MethodDef) Stub {
				return &PatchedStub{ProxyMethod: p, Method: m1, InstructionInfo: f1, Buffer: f2}
			},
		},
		{
			name:     "three fields is dynamic",
			handlers: []*cil.ExceptionHandler{catching(invalidProgram)},
			instrs:   []*cil.Instruction{ins(cil.OpLdsfld, f1), ins(cil.OpLdsfld, f2), ins(cil.OpLdsfld, f3), ins(cil.OpCall, m1), ins(cil.OpCall, builder)},
			want:     func(p *dotnet.MethodDef) Stub { return &DynamicStub{ProxyMethod: p, Method: m1} },
		},
		{
			name:     "scan stops at builder",
			handlers: []*cil.ExceptionHandler{catching(exception), catching(invalidProgram)},
			instrs:   []*cil.Instruction{ins(cil.OpCall, m1), ins(cil.OpCall, builder), ins(cil.OpLdsfld, f1), ins(cil.OpCall, m3)},
			want:     func(p *dotnet.MethodDef) Stub { return &DynamicStub{ProxyMethod: p, Method: m1} },
		},
		{
			name:     "callvirt is not a call",
			handlers: []*cil.ExceptionHandler{catching(invalidProgram)},
			instrs:   []*cil.Instruction{ins(cil.OpCall, m1), ins(cil.OpCallvirt, m2), ins(cil.OpCall, builder)},
			want:     func(p *dotnet.MethodDef) Stub { return &DynamicStub{ProxyMethod: p, Method: m1} },
		},
		{
			name:     "no builder call",
			handlers: []*cil.ExceptionHandler{catching(invalidProgram)},
			instrs:   []*cil.Instruction{ins(cil.OpCall, m1), ins(cil.OpCallvirt, builder)},
		},
		{
			name:   "no handlers",
			instrs: []*cil.Instruction{ins(cil.OpCall, m1), ins(cil.OpCall, builder)},
		},
		{
			name:     "other catch type",
			handlers: []*cil.ExceptionHandler{catching(exception)},
			instrs:   []*cil.Instruction{ins(cil.OpCall, m1), ins(cil.OpCall, builder)},
		},
		{
			name:     "finally clause",
			handlers: []*cil.ExceptionHandler{{Type: cil.HandlerFinally}},
			instrs:   []*cil.Instruction{ins(cil.OpCall, m1), ins(cil.OpCall, builder)},
		},
		{
			name:     "no original call",
			handlers: []*cil.ExceptionHandler{catching(invalidProgram)},
			instrs:   []*cil.Instruction{ins(cil.OpLdsfld, f1), ins(cil.OpCall, builder)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proxy := withHandlers(method("Proxy", tt.instrs...), tt.handlers...)
			got := classify(proxy, builder)
			var want Stub
			if tt.want != nil {
				want = tt.want(proxy)
			}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("got %#v, want %#v", got, want)
			}
		})
	}
}

func TestClassifySelfCall(t *testing.T) {
	builder := method("Build")
	proxy := withHandlers(method("Proxy"), catching(invalidProgram))
	proxy.Body.Instructions = []*cil.Instruction{ins(cil.OpCall, proxy), ins(cil.OpCall, builder)}
	if got := classify(proxy, builder); got != nil {
		t.Errorf("got %#v, want nil", got)
	}
}

func TestClassifyNoBody(t *testing.T) {
	if got := classify(&dotnet.MethodDef{Name: "Abstract"}, method("Build")); got != nil {
		t.Errorf("got %#v, want nil", got)
	}
}

func TestFindStubs(t *testing.T) {
	builder := method("Build")
	orig := method("Orig")
	a := withHandlers(method("A", ins(cil.OpCall, orig), ins(cil.OpCall, builder)), catching(invalidProgram))
	b := withHandlers(method("B", ins(cil.OpCall, orig)), catching(invalidProgram))
	c := withHandlers(method("C", ins(cil.OpCall, orig), ins(cil.OpCall, builder)), catching(invalidProgram))

	m := &typesModule{types: []*dotnet.TypeDef{
		{Name: "T1", Methods: []*dotnet.MethodDef{a, b}},
		{Name: "T2"},
		{Name: "T3", Methods: []*dotnet.MethodDef{builder, c}},
	}}
	stubs := FindStubs(m, builder)
	if len(stubs) != 2 {
		t.Fatalf("got %d stubs, want 2", len(stubs))
	}
	if stubs[0].Proxy() != a || stubs[1].Proxy() != c {
		t.Errorf("proxies: got %s, %s, want A, C", stubs[0].Proxy().Name, stubs[1].Proxy().Name)
	}
	for _, s := range stubs {
		if s.Original() != orig {
			t.Errorf("%s: original got %s, want Orig", s.Proxy().Name, s.Original().Name)
		}
	}
}

func TestFindStubsModule(t *testing.T) {
	f := newFlare(t, nil)
	m := f.load(t)

	staticStubs := FindStubs(m, f.method(t, m, f.staticBuild))
	wantStatic := []struct {
		proxy, orig cil.Token
		kind        string
	}{
		{f.staticProxy, f.staticOrig, "*devirt.StaticStub"},
		{f.patchedProxy, f.patchedOrig, "*devirt.PatchedStub"},
		{f.missingProxy, f.missingOrig, "*devirt.StaticStub"},
	}
	if len(staticStubs) != len(wantStatic) {
		t.Fatalf("static stubs: got %d, want %d", len(staticStubs), len(wantStatic))
	}
	for i, w := range wantStatic {
		s := staticStubs[i]
		if s.Proxy().MDToken() != w.proxy || s.Original().MDToken() != w.orig {
			t.Errorf("stub %d: got %s -> %s, want %s -> %s", i, s.Proxy().MDToken(), s.Original().MDToken(), w.proxy, w.orig)
		}
		if got := reflect.TypeOf(s).String(); got != w.kind {
			t.Errorf("stub %d: got %s, want %s", i, got, w.kind)
		}
	}
	if p, ok := staticStubs[1].(*PatchedStub); ok {
		if p.InstructionInfo.MDToken() != f.info2 || p.Buffer.MDToken() != f.buf2 {
			t.Errorf("patched fields: got %s, %s, want %s, %s", p.InstructionInfo.MDToken(), p.Buffer.MDToken(), f.info2, f.buf2)
		}
	}

	dynamicStubs := FindStubs(m, f.method(t, m, f.build))
	if len(dynamicStubs) != 1 {
		t.Fatalf("dynamic stubs: got %d, want 1", len(dynamicStubs))
	}
	d, ok := dynamicStubs[0].(*DynamicStub)
	if !ok || d.ProxyMethod.MDToken() != f.dynamicProxy || d.Method.MDToken() != f.dynamicOrig {
		t.Errorf("dynamic stub: got %#v", dynamicStubs[0])
	}
}
