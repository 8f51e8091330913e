package devirt

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/apex/log"

	"github.com/daimatz/flared/pkg/native"
)

// StaticBuilder restores stubs whose bodies were stored in static byte
// arrays by the setup routine.
type StaticBuilder struct {
	module   Module
	fields   Fields
	resolver *Resolver
}

// NewStaticBuilder creates a StaticBuilder over the fields recovered by
// Evaluate. Operands are resolved with StaticKey.
func NewStaticBuilder(m Module, fields Fields) *StaticBuilder {
	return &StaticBuilder{module: m, fields: fields, resolver: NewResolver(m, StaticKey)}
}

// Restore rebuilds every stub it can. The buffers of patched stubs are
// modified in place.
func (b *StaticBuilder) Restore(stubs []Stub) (*Result, error) {
	res := &Result{}
	for _, s := range stubs {
		err := b.restore(s)
		if errors.Is(err, ErrSkip) {
			log.WithField("method", proxyToken(s)).Warnf("static builder: %v", err)
			res.Skipped++
			continue
		}
		if err != nil {
			return nil, err
		}
		res.Restored++
	}
	return res, nil
}

func (b *StaticBuilder) restore(s Stub) error {
	code, err := b.code(s)
	if err != nil {
		return err
	}
	raw, err := ReadRawBody(b.module, s.Original())
	if err != nil {
		return err
	}
	return install(b.module, b.resolver, s, code, raw)
}

// code returns the body bytes of s with its operands patched in.
func (b *StaticBuilder) code(s Stub) ([]byte, error) {
	switch s := s.(type) {
	case *StaticStub:
		return b.buffer(s, s.Buffer.Name, b.fields[s.Buffer])
	case *PatchedStub:
		buf, err := b.buffer(s, s.Buffer.Name, b.fields[s.Buffer])
		if err != nil {
			return nil, err
		}
		m, ok := b.fields[s.InstructionInfo].(OperandMap)
		if !ok {
			return nil, skip(s, nil, "instruction info %s holds %T, want an operand map", s.InstructionInfo.Name, b.fields[s.InstructionInfo])
		}
		if err := Patch(buf, m.Map); err != nil {
			return nil, skip(s, err, "patching %s", s.Buffer.Name)
		}
		return buf, nil
	default:
		return nil, skip(s, nil, "method is missing additional info")
	}
}

func (b *StaticBuilder) buffer(s Stub, name string, v Value) ([]byte, error) {
	switch v := v.(type) {
	case Buffer:
		return v, nil
	case nil:
		return nil, skip(s, nil, "method is missing additional info: %s was never stored", name)
	default:
		return nil, skip(s, nil, "buffer %s holds %T, want a byte array", name, v)
	}
}

// Patch writes each operand of m as a little-endian int32 at its offset in
// buf, in ascending offset order. buf is left unchanged when any offset is
// out of range.
func Patch(buf []byte, m *native.OperandMap) error {
	keys := m.Keys()
	for _, off := range keys {
		if uint64(off)+4 > uint64(len(buf)) {
			return fmt.Errorf("operand offset %d outside %d byte buffer", off, len(buf))
		}
	}
	for _, off := range keys {
		v, _ := m.Get(off)
		binary.LittleEndian.PutUint32(buf[off:], uint32(v))
	}
	return nil
}
