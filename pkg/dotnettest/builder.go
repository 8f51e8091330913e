// Package dotnettest assembles small managed PE images for tests.
package dotnettest

import (
	"encoding/binary"
	"fmt"
	"unicode/utf16"

	"github.com/daimatz/flared/pkg/cil"
	"github.com/daimatz/flared/pkg/dotnet"
)

const (
	fileAlignment    = 0x200
	sectionAlignment = 0x2000
	sizeOfHeaders    = 0x400
	textRVA          = 0x2000
	lfanew           = 0x80
	cliHeaderSize    = 72
)

type rawSection struct {
	name        string
	data        []byte
	virtualSize uint32
}

// Builder collects metadata rows, heaps, method bodies and extra sections.
// Fields, methods and params attach to the most recently added type and
// method, in table order.
type Builder struct {
	tables *dotnet.Tables

	strings   []byte
	stringIdx map[string]uint32
	us        []byte
	blob      []byte
	blobIdx   map[string]uint32

	bodies     []byte
	bodyFixups []bodyFixup

	sections   []rawSection
	entryPoint cil.Token
	err        error
}

type bodyFixup struct {
	methodRid uint32
	offset    uint32
}

// New returns a builder holding a Module row and the <Module> type.
func New() *Builder {
	b := &Builder{
		tables:    dotnet.NewTables(),
		strings:   []byte{0},
		stringIdx: map[string]uint32{"": 0},
		us:        []byte{0},
		blob:      []byte{0},
		blobIdx:   map[string]uint32{"": 0},
	}
	b.add(dotnet.TableModule, 0, b.str("test.exe"), 1, 0, 0)
	b.TypeDef(0, "", "<Module>", 0)
	return b
}

func (b *Builder) add(t dotnet.TableID, values ...uint32) uint32 {
	rid, err := b.tables.AddRow(t, values...)
	if err != nil && b.err == nil {
		b.err = err
	}
	return rid
}

func (b *Builder) str(s string) uint32 {
	if off, ok := b.stringIdx[s]; ok {
		return off
	}
	off := uint32(len(b.strings))
	b.strings = append(append(b.strings, s...), 0)
	b.stringIdx[s] = off
	return off
}

func (b *Builder) blobOf(data []byte) uint32 {
	if off, ok := b.blobIdx[string(data)]; ok {
		return off
	}
	off := uint32(len(b.blob))
	b.blob = append(CompressUint32(b.blob, uint32(len(data))), data...)
	b.blobIdx[string(data)] = off
	return off
}

func codedTypeDefOrRef(tok cil.Token) uint32 {
	if tok == 0 {
		return 0
	}
	var tag uint32
	switch dotnet.TableID(tok.Table()) {
	case dotnet.TableTypeRef:
		tag = 1
	case dotnet.TableTypeSpec:
		tag = 2
	}
	return tok.Rid()<<2 | tag
}

// AssemblyRef adds an assembly reference.
func (b *Builder) AssemblyRef(name string) cil.Token {
	rid := b.add(dotnet.TableAssemblyRef, 4, 0, 0, 0, 0, 0, b.str(name), 0, 0)
	return cil.NewToken(byte(dotnet.TableAssemblyRef), rid)
}

// TypeRef adds a type reference resolved through an assembly or enclosing TypeRef.
func (b *Builder) TypeRef(scope cil.Token, ns, name string) cil.Token {
	var tag uint32
	switch dotnet.TableID(scope.Table()) {
	case dotnet.TableModuleRef:
		tag = 1
	case dotnet.TableAssemblyRef:
		tag = 2
	case dotnet.TableTypeRef:
		tag = 3
	}
	rid := b.add(dotnet.TableTypeRef, scope.Rid()<<2|tag, b.str(name), b.str(ns))
	return cil.NewToken(byte(dotnet.TableTypeRef), rid)
}

// TypeDef starts a new type; following fields and methods belong to it.
func (b *Builder) TypeDef(flags uint32, ns, name string, extends cil.Token) cil.Token {
	fieldList := b.tables.Table(dotnet.TableField).Len() + 1
	methodList := b.tables.Table(dotnet.TableMethod).Len() + 1
	rid := b.add(dotnet.TableTypeDef, flags, b.str(name), b.str(ns), codedTypeDefOrRef(extends), fieldList, methodList)
	return cil.NewToken(byte(dotnet.TableTypeDef), rid)
}

// Nest records enclosing as the declaring type of nested.
func (b *Builder) Nest(nested, enclosing cil.Token) {
	b.add(dotnet.TableNestedClass, nested.Rid(), enclosing.Rid())
}

// Field adds a field to the current type.
func (b *Builder) Field(flags uint16, name string, sig []byte) cil.Token {
	rid := b.add(dotnet.TableField, uint32(flags), b.str(name), b.blobOf(sig))
	return cil.NewToken(byte(dotnet.TableField), rid)
}

// Method adds a method to the current type. A nil body leaves the RVA zero.
func (b *Builder) Method(flags, implFlags uint16, name string, sig []byte, body []byte) cil.Token {
	paramList := b.tables.Table(dotnet.TableParam).Len() + 1
	rid := b.add(dotnet.TableMethod, 0, uint32(implFlags), uint32(flags), b.str(name), b.blobOf(sig), paramList)
	if body != nil {
		for len(b.bodies)%4 != 0 {
			b.bodies = append(b.bodies, 0)
		}
		b.bodyFixups = append(b.bodyFixups, bodyFixup{methodRid: rid, offset: uint32(len(b.bodies))})
		b.bodies = append(b.bodies, body...)
	}
	return cil.NewToken(byte(dotnet.TableMethod), rid)
}

// Param adds a Param row to the current method.
func (b *Builder) Param(seq uint16, name string) cil.Token {
	rid := b.add(dotnet.TableParam, 0, uint32(seq), b.str(name))
	return cil.NewToken(byte(dotnet.TableParam), rid)
}

// MemberRef adds a member reference.
func (b *Builder) MemberRef(parent cil.Token, name string, sig []byte) cil.Token {
	var tag uint32
	switch dotnet.TableID(parent.Table()) {
	case dotnet.TableTypeRef:
		tag = 1
	case dotnet.TableModuleRef:
		tag = 2
	case dotnet.TableMethod:
		tag = 3
	case dotnet.TableTypeSpec:
		tag = 4
	}
	rid := b.add(dotnet.TableMemberRef, parent.Rid()<<3|tag, b.str(name), b.blobOf(sig))
	return cil.NewToken(byte(dotnet.TableMemberRef), rid)
}

// TypeSpec adds a type specification.
func (b *Builder) TypeSpec(sig []byte) cil.Token {
	rid := b.add(dotnet.TableTypeSpec, b.blobOf(sig))
	return cil.NewToken(byte(dotnet.TableTypeSpec), rid)
}

// StandAloneSig adds a stand-alone signature.
func (b *Builder) StandAloneSig(sig []byte) cil.Token {
	rid := b.add(dotnet.TableStandAloneSig, b.blobOf(sig))
	return cil.NewToken(byte(dotnet.TableStandAloneSig), rid)
}

// CustomAttribute attaches an attribute constructed by ctor to a method.
func (b *Builder) CustomAttribute(method, ctor cil.Token) {
	var typeTag uint32 = 3
	if dotnet.TableID(ctor.Table()) == dotnet.TableMethod {
		typeTag = 2
	}
	b.add(dotnet.TableCustomAttribute, method.Rid()<<5, ctor.Rid()<<3|typeTag, b.blobOf([]byte{1, 0, 0, 0}))
}

// UserString adds s to the #US heap.
func (b *Builder) UserString(s string) cil.Token {
	off := uint32(len(b.us))
	units := utf16.Encode([]rune(s))
	b.us = CompressUint32(b.us, uint32(2*len(units)+1))
	for _, u := range units {
		b.us = binary.LittleEndian.AppendUint16(b.us, u)
	}
	b.us = append(b.us, 0)
	return cil.NewToken(dotnet.TableUserString, off)
}

// Section adds a section after .text.
func (b *Builder) Section(name string, data []byte) {
	b.sections = append(b.sections, rawSection{name: name, data: data, virtualSize: uint32(len(data))})
}

// SetEntryPoint stores the entry point token in the CLI header.
func (b *Builder) SetEntryPoint(tok cil.Token) {
	b.entryPoint = tok
}

// Bytes lays out the image.
func (b *Builder) Bytes() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}

	// .text: CLI header, bodies, metadata.
	bodiesOff := uint32(cliHeaderSize)
	mdOff := align(bodiesOff+uint32(len(b.bodies)), 4)
	for _, fx := range b.bodyFixups {
		row, _ := b.tables.Table(dotnet.TableMethod).Row(fx.methodRid)
		row[0] = textRVA + bodiesOff + fx.offset
	}
	md := b.metadata()

	text := make([]byte, mdOff+uint32(len(md)))
	binary.LittleEndian.PutUint32(text[0:], cliHeaderSize)
	binary.LittleEndian.PutUint16(text[4:], 2)
	binary.LittleEndian.PutUint16(text[6:], 5)
	binary.LittleEndian.PutUint32(text[8:], textRVA+mdOff)
	binary.LittleEndian.PutUint32(text[12:], uint32(len(md)))
	binary.LittleEndian.PutUint32(text[16:], 1)
	binary.LittleEndian.PutUint32(text[20:], uint32(b.entryPoint))
	copy(text[bodiesOff:], b.bodies)
	copy(text[mdOff:], md)

	sections := append([]rawSection{{name: ".text", data: text, virtualSize: uint32(len(text))}}, b.sections...)
	if 0x178+len(sections)*40 > sizeOfHeaders {
		return nil, fmt.Errorf("too many sections: %d", len(sections))
	}

	out := make([]byte, sizeOfHeaders)
	out[0], out[1] = 'M', 'Z'
	binary.LittleEndian.PutUint32(out[0x3C:], lfanew)
	copy(out[lfanew:], "PE\x00\x00")

	coff := lfanew + 4
	binary.LittleEndian.PutUint16(out[coff:], 0x14C)
	binary.LittleEndian.PutUint16(out[coff+2:], uint16(len(sections)))
	binary.LittleEndian.PutUint16(out[coff+16:], 0xE0)
	binary.LittleEndian.PutUint16(out[coff+18:], 0x0102)

	opt := coff + 20
	binary.LittleEndian.PutUint16(out[opt:], 0x10B)
	binary.LittleEndian.PutUint32(out[opt+4:], align(uint32(len(text)), fileAlignment))
	binary.LittleEndian.PutUint32(out[opt+20:], textRVA)
	binary.LittleEndian.PutUint32(out[opt+28:], 0x400000)
	binary.LittleEndian.PutUint32(out[opt+32:], sectionAlignment)
	binary.LittleEndian.PutUint32(out[opt+36:], fileAlignment)
	binary.LittleEndian.PutUint16(out[opt+40:], 4)
	binary.LittleEndian.PutUint16(out[opt+48:], 4)
	binary.LittleEndian.PutUint32(out[opt+60:], sizeOfHeaders)
	binary.LittleEndian.PutUint16(out[opt+68:], 3)
	binary.LittleEndian.PutUint16(out[opt+70:], 0x8540)
	binary.LittleEndian.PutUint32(out[opt+72:], 0x100000)
	binary.LittleEndian.PutUint32(out[opt+76:], 0x1000)
	binary.LittleEndian.PutUint32(out[opt+80:], 0x100000)
	binary.LittleEndian.PutUint32(out[opt+84:], 0x1000)
	binary.LittleEndian.PutUint32(out[opt+92:], 16)
	binary.LittleEndian.PutUint32(out[opt+96+14*8:], textRVA)
	binary.LittleEndian.PutUint32(out[opt+96+14*8+4:], cliHeaderSize)

	rva := uint32(textRVA)
	for i, s := range sections {
		raw := uint32(len(out))
		size := align(uint32(len(s.data)), fileAlignment)
		out = append(out, make([]byte, size)...)
		copy(out[raw:], s.data)

		sh := out[0x178+i*40:]
		copy(sh[:8], s.name)
		binary.LittleEndian.PutUint32(sh[8:], s.virtualSize)
		binary.LittleEndian.PutUint32(sh[12:], rva)
		binary.LittleEndian.PutUint32(sh[16:], size)
		binary.LittleEndian.PutUint32(sh[20:], raw)
		binary.LittleEndian.PutUint32(sh[36:], 0x40000040)
		if i == 0 {
			binary.LittleEndian.PutUint32(sh[36:], 0x60000020)
		}
		rva = align(rva+max(s.virtualSize, 1), sectionAlignment)
	}
	binary.LittleEndian.PutUint32(out[opt+56:], rva)
	return out, nil
}

// MustBytes is Bytes for tests that cannot continue without an image.
func (b *Builder) MustBytes() []byte {
	out, err := b.Bytes()
	if err != nil {
		panic(err)
	}
	return out
}

func (b *Builder) metadata() []byte {
	streams := []struct {
		name string
		data []byte
	}{
		{"#~", b.tables.Encode()},
		{"#Strings", pad4(b.strings)},
		{"#US", pad4(b.us)},
		{"#GUID", make([]byte, 16)},
		{"#Blob", pad4(b.blob)},
	}
	version := pad4([]byte("v4.0.30319\x00"))

	hdr := binary.LittleEndian.AppendUint32(nil, 0x424A5342)
	hdr = binary.LittleEndian.AppendUint16(hdr, 1)
	hdr = binary.LittleEndian.AppendUint16(hdr, 1)
	hdr = binary.LittleEndian.AppendUint32(hdr, 0)
	hdr = binary.LittleEndian.AppendUint32(hdr, uint32(len(version)))
	hdr = append(hdr, version...)
	hdr = binary.LittleEndian.AppendUint16(hdr, 0)
	hdr = binary.LittleEndian.AppendUint16(hdr, uint16(len(streams)))

	hdrSize := len(hdr)
	for _, s := range streams {
		hdrSize += 8 + len(pad4([]byte(s.name+"\x00")))
	}

	offset := uint32(hdrSize)
	var body []byte
	for _, s := range streams {
		hdr = binary.LittleEndian.AppendUint32(hdr, offset)
		hdr = binary.LittleEndian.AppendUint32(hdr, uint32(len(s.data)))
		hdr = append(hdr, pad4([]byte(s.name+"\x00"))...)
		body = append(body, s.data...)
		offset += uint32(len(s.data))
	}
	return append(hdr, body...)
}

func pad4(b []byte) []byte {
	out := append([]byte(nil), b...)
	for len(out)%4 != 0 {
		out = append(out, 0)
	}
	return out
}

func align(v, a uint32) uint32 {
	return (v + a - 1) / a * a
}
