package devirt

import (
	"github.com/daimatz/flared/pkg/cil"
	"github.com/daimatz/flared/pkg/dotnet"
)

const (
	// DynamicKey hides tokens in bodies restored from encrypted sections.
	DynamicKey uint32 = 0xA298A6BD
	// StaticKey leaves tokens of emulated buffers untouched.
	StaticKey uint32 = 0
)

// Resolver resolves operand tokens of a recovered body. Tokens of tables
// the virtualizer leaves alone are resolved as is; every other token and
// every user string token is XORed with Key first.
type Resolver struct {
	Module Module
	Key    uint32
}

// NewResolver creates a Resolver over m.
func NewResolver(m Module, key uint32) *Resolver {
	return &Resolver{Module: m, Key: key}
}

func plainTable(table byte) bool {
	switch dotnet.TableID(table) {
	case dotnet.TableTypeRef, dotnet.TableTypeDef, dotnet.TableField,
		dotnet.TableMethod, dotnet.TableMemberRef, dotnet.TableStandAloneSig:
		return true
	}
	return false
}

func (r *Resolver) ResolveToken(token uint32, gp cil.GenericContext) (cil.TokenProvider, error) {
	if plainTable(cil.Token(token).Table()) {
		return r.Module.ResolveToken(token, gp)
	}
	return r.Module.ResolveToken(token^r.Key, gp)
}

func (r *Resolver) ReadUserString(token uint32) (string, error) {
	return r.Module.ReadUserString(token ^ r.Key)
}
