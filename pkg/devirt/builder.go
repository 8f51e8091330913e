package devirt

import (
	"errors"
	"fmt"

	"github.com/apex/log"

	"github.com/daimatz/flared/pkg/cil"
	"github.com/daimatz/flared/pkg/dotnet"
)

// Result counts the outcome of one builder pass.
type Result struct {
	Restored int
	Skipped  int
	// Sections are the decrypted sections no longer needed after the pass.
	Sections []*dotnet.Section
}

// DynamicBuilder restores stubs whose bodies live in encrypted sections.
type DynamicBuilder struct {
	module   Module
	resolver *Resolver
}

// NewDynamicBuilder creates a DynamicBuilder resolving operands with
// DynamicKey.
func NewDynamicBuilder(m Module) *DynamicBuilder {
	return &DynamicBuilder{module: m, resolver: NewResolver(m, DynamicKey)}
}

// Restore rebuilds every stub it can. Skipped stubs leave the module
// untouched; any other error aborts the pass.
func (b *DynamicBuilder) Restore(stubs []Stub) (*Result, error) {
	res := &Result{}
	for _, s := range stubs {
		sec, err := b.restore(s)
		if errors.Is(err, ErrSkip) {
			log.WithField("method", proxyToken(s)).Warn(err.Error())
			res.Skipped++
			continue
		}
		if err != nil {
			return nil, err
		}
		res.Restored++
		res.Sections = append(res.Sections, sec)
	}
	return res, nil
}

func (b *DynamicBuilder) restore(s Stub) (*dotnet.Section, error) {
	orig := s.Original()
	raw, err := ReadRawBody(b.module, orig)
	if err != nil {
		return nil, err
	}
	if orig.Header == nil {
		return nil, skip(s, nil, "original %s has no body header", orig.MDToken())
	}
	name, err := Fingerprint(orig, raw)
	if err != nil {
		return nil, err
	}
	sec := FindSection(b.module.Sections(), name)
	if sec == nil {
		return nil, skip(s, nil, "section %s could not be found", name)
	}
	data, err := b.module.SectionData(sec)
	if err != nil {
		return nil, fmt.Errorf("reading section %q: %w", sec.Name, err)
	}
	code := Decrypt(data)
	log.WithFields(log.Fields{
		"method":  proxyToken(s),
		"section": sec.Name,
		"size":    len(code),
	}).Debug("decrypted body")

	if err := install(b.module, b.resolver, s, code, raw); err != nil {
		return nil, err
	}
	return sec, nil
}

// install assembles code into the proxy's new body and removes the
// original method.
func install(m Module, r cil.OperandResolver, s Stub, code []byte, raw *RawMethodBody) error {
	orig := s.Original()
	if orig.Header == nil {
		return skip(s, nil, "original %s has no body header", orig.MDToken())
	}
	body, err := m.CreateBody(r, code, raw.ExceptionBytes, orig.Arguments(),
		raw.Flags, orig.Header.MaxStack, uint32(len(code)), orig.Header.LocalVarSigTok, orig.GenericContext())
	if err != nil {
		return skip(s, err, "assembling body")
	}
	s.Proxy().Body = body
	if err := m.RemoveMethod(orig); err != nil {
		return fmt.Errorf("removing original of %s: %w", proxyToken(s), err)
	}
	log.WithFields(log.Fields{
		"method":       proxyToken(s),
		"original":     orig.MDToken().String(),
		"instructions": len(body.Instructions),
	}).Info("restored")
	return nil
}
