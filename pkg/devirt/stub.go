// Package devirt restores methods whose bodies were moved out of the
// module by the Flare-On 8 virtualizer.
package devirt

import (
	"github.com/daimatz/flared/pkg/cil"
	"github.com/daimatz/flared/pkg/dotnet"
)

// Stub is a method whose body calls into a runtime builder. ProxyMethod
// receives the restored body, Method is the obfuscated original that is
// removed afterwards.
type Stub interface {
	Proxy() *dotnet.MethodDef
	Original() *dotnet.MethodDef
}

// DynamicStub is restored from an encrypted section.
type DynamicStub struct {
	ProxyMethod *dotnet.MethodDef
	Method      *dotnet.MethodDef
}

func (s *DynamicStub) Proxy() *dotnet.MethodDef    { return s.ProxyMethod }
func (s *DynamicStub) Original() *dotnet.MethodDef { return s.Method }

// StaticStub is restored from a byte buffer built by the setup routine.
type StaticStub struct {
	ProxyMethod *dotnet.MethodDef
	Method      *dotnet.MethodDef
	Buffer      *dotnet.FieldDef
}

func (s *StaticStub) Proxy() *dotnet.MethodDef    { return s.ProxyMethod }
func (s *StaticStub) Original() *dotnet.MethodDef { return s.Method }

// PatchedStub is a StaticStub whose buffer gets operands spliced in from
// an offset to operand map.
type PatchedStub struct {
	ProxyMethod     *dotnet.MethodDef
	Method          *dotnet.MethodDef
	InstructionInfo *dotnet.FieldDef
	Buffer          *dotnet.FieldDef
}

func (s *PatchedStub) Proxy() *dotnet.MethodDef    { return s.ProxyMethod }
func (s *PatchedStub) Original() *dotnet.MethodDef { return s.Method }

func proxyToken(s Stub) string {
	return s.Proxy().MDToken().String()
}

// Module is the container the pipeline reads and mutates. *dotnet.Module
// implements it.
type Module interface {
	cil.OperandResolver

	Types() []*dotnet.TypeDef
	EntryPoint() *dotnet.MethodDef
	CreateReader(rva uint32) (*dotnet.Reader, error)
	Sections() []*dotnet.Section
	SectionData(s *dotnet.Section) ([]byte, error)
	CreateBody(r cil.OperandResolver, code, eh []byte, args []*dotnet.TypeSig, flags, maxStack uint16, codeSize, localSigTok uint32, gp cil.GenericContext) (*cil.Body, error)
	RemoveMethod(md *dotnet.MethodDef) error
}
