package devirt

import (
	"fmt"

	"github.com/daimatz/flared/pkg/cil"
	"github.com/daimatz/flared/pkg/dotnet"
)

// Landmark identifies one of the runtime members the pipeline locates.
type Landmark int

const (
	RuntimeClass Landmark = iota
	SetupMethod
	StaticBuilderMethod
	BuilderMethod
)

func (l Landmark) String() string {
	switch l {
	case RuntimeClass:
		return "runtime class"
	case SetupMethod:
		return "setup method"
	case StaticBuilderMethod:
		return "static builder method"
	case BuilderMethod:
		return "builder method"
	}
	return fmt.Sprintf("Landmark(%d)", int(l))
}

// FindSetup returns the routine the entry point calls to fill the runtime's
// static fields. The entry point is recognised by its two exception clauses.
func FindSetup(m Module) (*dotnet.MethodDef, error) {
	ep := m.EntryPoint()
	if ep == nil || ep.Body == nil {
		return nil, fmt.Errorf("%s: entry point has no body: %w", SetupMethod, ErrLandmarkNotFound)
	}
	if n := len(ep.Body.ExceptionHandlers); n != 2 {
		return nil, fmt.Errorf("%s: entry point has %d exception clauses: %w", SetupMethod, n, ErrLandmarkNotFound)
	}
	for _, instr := range ep.Body.Instructions {
		if instr.OpCode.Code != cil.OpCall {
			continue
		}
		if md, ok := instr.Operand.(*dotnet.MethodDef); ok && len(md.Params()) == 0 {
			return md, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", SetupMethod, ErrLandmarkNotFound)
}

// FindStaticBuilder returns the method of t shaped like
// object (InvalidProgramException, object[], Dictionary<uint, int>, byte[]).
func FindStaticBuilder(t *dotnet.TypeDef) (*dotnet.MethodDef, error) {
	return findByShape(t, StaticBuilderMethod,
		dotnet.ElementClass, dotnet.ElementSZArray, dotnet.ElementGenericInst, dotnet.ElementSZArray)
}

// FindBuilder returns the method of t shaped like
// object (InvalidProgramException, object[]).
func FindBuilder(t *dotnet.TypeDef) (*dotnet.MethodDef, error) {
	return findByShape(t, BuilderMethod, dotnet.ElementClass, dotnet.ElementSZArray)
}

func findByShape(t *dotnet.TypeDef, l Landmark, params ...dotnet.ElementType) (*dotnet.MethodDef, error) {
	for _, md := range t.Methods {
		if matchShape(md, params) {
			return md, nil
		}
	}
	return nil, fmt.Errorf("%s in %s: %w", l, t.FullName(), ErrLandmarkNotFound)
}

func matchShape(md *dotnet.MethodDef, params []dotnet.ElementType) bool {
	ps := md.Params()
	if len(ps) != len(params) {
		return false
	}
	for i, p := range ps {
		if p.ElementType != params[i] {
			return false
		}
	}
	ret := md.ReturnType()
	return ret != nil && ret.ElementType == dotnet.ElementObject
}
