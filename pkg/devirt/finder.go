package devirt

import (
	"github.com/apex/log"

	"github.com/daimatz/flared/pkg/cil"
	"github.com/daimatz/flared/pkg/dotnet"
)

// sentinelCatchType is caught by every stub. The virtualizer makes the
// stub body throw it so the handler can call the builder.
const sentinelCatchType = "System.InvalidProgramException"

// FindStubs returns every method that catches the sentinel exception and
// calls builder, in type and method order.
func FindStubs(m Module, builder *dotnet.MethodDef) []Stub {
	var stubs []Stub
	for _, td := range m.Types() {
		for _, md := range td.Methods {
			if s := classify(md, builder); s != nil {
				stubs = append(stubs, s)
			}
		}
	}
	log.WithField("builder", builder.MDToken().String()).Debugf("found %d stubs", len(stubs))
	return stubs
}

func catchesSentinel(body *cil.Body) bool {
	for _, eh := range body.ExceptionHandlers {
		if !eh.IsCatch() || eh.CatchType == nil {
			continue
		}
		if fn, ok := eh.CatchType.(interface{ FullName() string }); ok && fn.FullName() == sentinelCatchType {
			return true
		}
	}
	return false
}

func classify(md *dotnet.MethodDef, builder *dotnet.MethodDef) Stub {
	if !md.HasBody() || !md.Body.HasExceptionHandlers() || !catchesSentinel(md.Body) {
		return nil
	}

	var (
		calls  []*dotnet.MethodDef
		fields []*dotnet.FieldDef
		found  bool
	)
	for _, instr := range md.Body.Instructions {
		switch instr.OpCode.Code {
		case cil.OpCall:
			target, ok := instr.Operand.(*dotnet.MethodDef)
			if !ok {
				continue
			}
			if target == builder {
				found = true
			} else {
				calls = append(calls, target)
			}
		case cil.OpLdsfld:
			if f, ok := instr.Operand.(*dotnet.FieldDef); ok {
				fields = append(fields, f)
			}
		}
		if found {
			break
		}
	}
	if !found {
		return nil
	}

	entry := log.WithField("method", md.MDToken().String())
	if len(calls) == 0 {
		entry.Warn("builder call without a preceding original call")
		return nil
	}
	orig := calls[len(calls)-1]
	if orig == md {
		entry.Warn("stub calls itself as its original")
		return nil
	}

	switch len(fields) {
	case 1:
		return &StaticStub{ProxyMethod: md, Method: orig, Buffer: fields[0]}
	case 2:
		return &PatchedStub{ProxyMethod: md, Method: orig, InstructionInfo: fields[0], Buffer: fields[1]}
	default:
		return &DynamicStub{ProxyMethod: md, Method: orig}
	}
}
