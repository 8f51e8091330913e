package dotnet

import (
	"fmt"
	"os"

	"github.com/apex/log"

	"github.com/daimatz/flared/pkg/cil"
)

// Method implementation flags.
const (
	methodImplCodeTypeMask = 0x0003
	methodImplIL           = 0x0000
)

// Module is a loaded managed image with its metadata model.
type Module struct {
	Path string

	image *Image
	md    *Metadata

	typeRefs    []*TypeRef
	typeDefs    []*TypeDef
	fields      []*FieldDef
	methods     []*MethodDef
	memberRefs  []*MemberRef
	typeSpecs   []*TypeSpec
	methodSpecs []*MethodSpec
	sigs        []*StandAloneSig
	entryPoint  *MethodDef
	usOffsets   map[string]uint32
}

// Open reads and loads the module at path.
func Open(path string) (*Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	m, err := Load(data)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	m.Path = path
	return m, nil
}

// Load parses a managed image held in memory.
func Load(data []byte) (*Module, error) {
	img, err := NewImage(data)
	if err != nil {
		return nil, err
	}
	md, err := readMetadata(img)
	if err != nil {
		return nil, err
	}

	m := &Module{image: img, md: md}
	m.allocate()
	if err := m.loadTypes(); err != nil {
		return nil, err
	}
	if err := m.loadSignatures(); err != nil {
		return nil, err
	}
	m.loadBodies()

	if tok := cil.Token(md.CLI.EntryPointToken); tok.Table() == byte(TableMethod) {
		m.entryPoint, _ = rowOf(m.methods, tok.Rid())
	}
	log.WithFields(log.Fields{
		"version": md.Version,
		"types":   len(m.typeDefs),
		"methods": len(m.methods),
	}).Debug("loaded module")
	return m, nil
}

func rowOf[T any](items []T, rid uint32) (T, bool) {
	var zero T
	if rid == 0 || rid > uint32(len(items)) {
		return zero, false
	}
	return items[rid-1], true
}

func (m *Module) allocate() {
	ts := m.md.Tables
	m.typeRefs = make([]*TypeRef, ts.Table(TableTypeRef).Len())
	for i := range m.typeRefs {
		m.typeRefs[i] = &TypeRef{rid: uint32(i + 1)}
	}
	m.typeDefs = make([]*TypeDef, ts.Table(TableTypeDef).Len())
	for i := range m.typeDefs {
		m.typeDefs[i] = &TypeDef{rid: uint32(i + 1)}
	}
	m.fields = make([]*FieldDef, ts.Table(TableField).Len())
	for i := range m.fields {
		m.fields[i] = &FieldDef{rid: uint32(i + 1)}
	}
	m.methods = make([]*MethodDef, ts.Table(TableMethod).Len())
	for i := range m.methods {
		m.methods[i] = &MethodDef{rid: uint32(i + 1)}
	}
	m.memberRefs = make([]*MemberRef, ts.Table(TableMemberRef).Len())
	for i := range m.memberRefs {
		m.memberRefs[i] = &MemberRef{rid: uint32(i + 1)}
	}
	m.typeSpecs = make([]*TypeSpec, ts.Table(TableTypeSpec).Len())
	for i := range m.typeSpecs {
		m.typeSpecs[i] = &TypeSpec{rid: uint32(i + 1)}
	}
	m.methodSpecs = make([]*MethodSpec, ts.Table(TableMethodSpec).Len())
	for i := range m.methodSpecs {
		m.methodSpecs[i] = &MethodSpec{rid: uint32(i + 1)}
	}
	m.sigs = make([]*StandAloneSig, ts.Table(TableStandAloneSig).Len())
	for i := range m.sigs {
		m.sigs[i] = &StandAloneSig{rid: uint32(i + 1)}
	}
}

func (m *Module) loadTypes() error {
	ts := m.md.Tables

	for i, row := range ts.Table(TableTypeRef).Rows {
		tr := m.typeRefs[i]
		tr.Name = m.md.String(row[colTypeRefName])
		tr.Namespace = m.md.String(row[colTypeRefNamespace])
		if table, rid, ok := codedResolutionScope.decode(row[colTypeRefScope]); ok && table == TableTypeRef {
			tr.DeclaringType, _ = rowOf(m.typeRefs, rid)
		}
	}

	typeDefs := ts.Table(TableTypeDef).Rows
	for i, row := range typeDefs {
		td := m.typeDefs[i]
		td.Flags = row[colTypeDefFlags]
		td.Name = m.md.String(row[colTypeDefName])
		td.Namespace = m.md.String(row[colTypeDefNamespace])
		if table, rid, ok := codedTypeDefOrRef.decode(row[colTypeDefExtends]); ok && rid != 0 {
			ext, err := m.resolve(cil.NewToken(byte(table), rid))
			if err != nil {
				return fmt.Errorf("base type of %s: %w", td.FullName(), err)
			}
			td.Extends = ext
		}

		fieldEnd := uint32(len(m.fields)) + 1
		methodEnd := uint32(len(m.methods)) + 1
		if i+1 < len(typeDefs) {
			fieldEnd = typeDefs[i+1][colTypeDefFieldList]
			methodEnd = typeDefs[i+1][colTypeDefMethodList]
		}
		for rid := row[colTypeDefFieldList]; rid < fieldEnd; rid++ {
			f, ok := rowOf(m.fields, rid)
			if !ok {
				break
			}
			f.DeclaringType = td
			td.Fields = append(td.Fields, f)
		}
		for rid := row[colTypeDefMethodList]; rid < methodEnd; rid++ {
			md, ok := rowOf(m.methods, rid)
			if !ok {
				break
			}
			md.DeclaringType = td
			td.Methods = append(td.Methods, md)
		}
	}

	for _, row := range ts.Table(TableNestedClass).Rows {
		nested, ok1 := rowOf(m.typeDefs, row[colNestedClass])
		enclosing, ok2 := rowOf(m.typeDefs, row[colEnclosingClass])
		if ok1 && ok2 && nested != enclosing {
			nested.DeclaringType = enclosing
		}
	}

	for i, row := range ts.Table(TableField).Rows {
		f := m.fields[i]
		f.Flags = uint16(row[colFieldFlags])
		f.Name = m.md.String(row[colFieldName])
	}
	for i, row := range ts.Table(TableMethod).Rows {
		md := m.methods[i]
		md.RVA = row[colMethodRVA]
		md.ImplFlags = uint16(row[colMethodImplFlags])
		md.Flags = MethodAttributes(row[colMethodFlags])
		md.Name = m.md.String(row[colMethodName])
	}
	for i, row := range ts.Table(TableMemberRef).Rows {
		mr := m.memberRefs[i]
		mr.Name = m.md.String(row[colMemberRefName])
		table, rid, ok := codedMemberRefParent.decode(row[colMemberRefClass])
		if !ok {
			return fmt.Errorf("member reference %s has an invalid parent", mr.MDToken())
		}
		parent, err := m.resolve(cil.NewToken(byte(table), rid))
		if err != nil && table != TableModuleRef {
			return fmt.Errorf("parent of member reference %s: %w", mr.MDToken(), err)
		}
		mr.Class = parent
	}
	return nil
}

func (m *Module) lookup(table TableID, rid uint32) (cil.TokenProvider, error) {
	return m.resolve(cil.NewToken(byte(table), rid))
}

func (m *Module) loadSignatures() error {
	ts := m.md.Tables

	for i, row := range ts.Table(TableTypeSpec).Rows {
		data, err := m.md.BlobAt(row[0])
		if err != nil {
			return err
		}
		if m.typeSpecs[i].Sig, err = parseTypeSpecSig(data, m.lookup); err != nil {
			return fmt.Errorf("type spec %s: %w", m.typeSpecs[i].MDToken(), err)
		}
	}

	for i, row := range ts.Table(TableField).Rows {
		data, err := m.md.BlobAt(row[colFieldSig])
		if err != nil {
			return err
		}
		if m.fields[i].Type, err = parseFieldSig(data, m.lookup); err != nil {
			return fmt.Errorf("signature of field %s: %w", m.fields[i].MDToken(), err)
		}
	}

	for i, row := range ts.Table(TableMethod).Rows {
		data, err := m.md.BlobAt(row[colMethodSig])
		if err != nil {
			return err
		}
		if m.methods[i].Sig, err = parseMethodSig(data, m.lookup); err != nil {
			return fmt.Errorf("signature of method %s: %w", m.methods[i].MDToken(), err)
		}
	}

	for i, row := range ts.Table(TableMemberRef).Rows {
		mr := m.memberRefs[i]
		data, err := m.md.BlobAt(row[colMemberRefSig])
		if err != nil {
			return err
		}
		if len(data) > 0 && data[0]&CallConvMask == CallConvField {
			mr.FieldType, err = parseFieldSig(data, m.lookup)
		} else {
			mr.MethodSig, err = parseMethodSig(data, m.lookup)
		}
		if err != nil {
			return fmt.Errorf("signature of member reference %s: %w", mr.MDToken(), err)
		}
	}

	for i, row := range ts.Table(TableMethodSpec).Rows {
		ms := m.methodSpecs[i]
		table, rid, ok := codedMethodDefOrRef.decode(row[0])
		if !ok {
			return fmt.Errorf("method spec %s has an invalid method", ms.MDToken())
		}
		method, err := m.resolve(cil.NewToken(byte(table), rid))
		if err != nil {
			return fmt.Errorf("method spec %s: %w", ms.MDToken(), err)
		}
		ms.Method = method
		data, err := m.md.BlobAt(row[1])
		if err != nil {
			return err
		}
		if ms.Instantiation, err = parseMethodSpecSig(data, m.lookup); err != nil {
			return fmt.Errorf("method spec %s: %w", ms.MDToken(), err)
		}
	}

	for i, row := range ts.Table(TableStandAloneSig).Rows {
		ss := m.sigs[i]
		data, err := m.md.BlobAt(row[0])
		if err != nil {
			return err
		}
		if len(data) > 0 && data[0]&CallConvMask == CallConvLocalSig {
			ss.Locals, err = parseLocalSig(data, m.lookup)
		} else {
			ss.MethodSig, err = parseMethodSig(data, m.lookup)
		}
		if err != nil {
			log.WithField("token", ss.MDToken().String()).Warnf("unreadable stand-alone signature: %v", err)
		}
	}
	return nil
}

func (m *Module) loadBodies() {
	for _, md := range m.methods {
		if md.RVA == 0 || md.ImplFlags&methodImplCodeTypeMask != methodImplIL {
			continue
		}
		r, err := m.image.CreateReader(md.RVA)
		if err != nil {
			log.WithField("method", md.MDToken().String()).Warnf("body not mapped: %v", err)
			continue
		}
		data, _ := r.ReadBytes(r.Len())
		hdr, err := cil.ReadHeader(data)
		if err != nil {
			log.WithField("method", md.MDToken().String()).Warnf("invalid body header: %v", err)
			continue
		}
		md.Header = hdr
		if hdr.LocalVarSigTok != 0 {
			if ss, ok := rowOf(m.sigs, cil.Token(hdr.LocalVarSigTok).Rid()); ok && cil.Token(hdr.LocalVarSigTok).Table() == byte(TableStandAloneSig) {
				md.Locals = ss.Locals
			}
		}

		body, err := cil.ReadBody(data, m, md.GenericContext())
		if err != nil {
			log.WithField("method", md.MDToken().String()).Debugf("body does not decode: %v", err)
			continue
		}
		md.Body = body
		md.origBody = body
	}
}

// resolve looks up the entity of a token in the tables this model covers.
func (m *Module) resolve(tok cil.Token) (cil.TokenProvider, error) {
	var (
		tp cil.TokenProvider
		ok bool
	)
	switch TableID(tok.Table()) {
	case TableTypeRef:
		tp, ok = rowOf(m.typeRefs, tok.Rid())
	case TableTypeDef:
		tp, ok = rowOf(m.typeDefs, tok.Rid())
	case TableField:
		tp, ok = rowOf(m.fields, tok.Rid())
	case TableMethod:
		tp, ok = rowOf(m.methods, tok.Rid())
	case TableMemberRef:
		tp, ok = rowOf(m.memberRefs, tok.Rid())
	case TableStandAloneSig:
		tp, ok = rowOf(m.sigs, tok.Rid())
	case TableTypeSpec:
		tp, ok = rowOf(m.typeSpecs, tok.Rid())
	case TableMethodSpec:
		tp, ok = rowOf(m.methodSpecs, tok.Rid())
	default:
		return nil, fmt.Errorf("token %s: unsupported table 0x%02X", tok, tok.Table())
	}
	if !ok {
		return nil, fmt.Errorf("token %s: row out of range", tok)
	}
	return tp, nil
}

// ResolveToken resolves a metadata token against the module's tables.
func (m *Module) ResolveToken(token uint32, gp cil.GenericContext) (cil.TokenProvider, error) {
	return m.resolve(cil.Token(token))
}

// ReadUserString reads the #US entry of a 0x70 token.
func (m *Module) ReadUserString(token uint32) (string, error) {
	tok := cil.Token(token)
	if tok.Table() != TableUserString {
		return "", fmt.Errorf("token %s is not a user string", tok)
	}
	return m.md.UserString(tok.Rid())
}

// Types returns every type definition, nested types included, in table order.
func (m *Module) Types() []*TypeDef {
	return m.typeDefs
}

// EntryPoint returns the managed entry point, or nil.
func (m *Module) EntryPoint() *MethodDef {
	return m.entryPoint
}

// EntryPointToken returns the entry point token stored in the CLI header.
func (m *Module) EntryPointToken() cil.Token {
	return cil.Token(m.md.CLI.EntryPointToken)
}

// Sections returns the PE section table.
func (m *Module) Sections() []*Section {
	return m.image.Sections()
}

// SectionData returns the virtual contents of s.
func (m *Module) SectionData(s *Section) ([]byte, error) {
	return m.image.SectionData(s)
}

// CreateReader returns a reader over the raw bytes at rva.
func (m *Module) CreateReader(rva uint32) (*Reader, error) {
	return m.image.CreateReader(rva)
}

// CreateBody assembles a method body from raw IL and exception bytes.
// Argument operands are checked against args, which must list every
// argument slot including a hidden this.
func (m *Module) CreateBody(r cil.OperandResolver, code, eh []byte, args []*TypeSig, flags, maxStack uint16, codeSize, localSigTok uint32, gp cil.GenericContext) (*cil.Body, error) {
	if localSigTok != 0 {
		tok := cil.Token(localSigTok)
		if _, ok := rowOf(m.sigs, tok.Rid()); !ok || tok.Table() != byte(TableStandAloneSig) {
			return nil, fmt.Errorf("local signature token %s is invalid", tok)
		}
	}
	body, err := cil.CreateBody(r, code, eh, flags, maxStack, codeSize, localSigTok, gp)
	if err != nil {
		return nil, err
	}
	for _, in := range body.Instructions {
		idx, ok := argumentIndex(in)
		if ok && idx >= len(args) {
			return nil, fmt.Errorf("IL_%04X %s: argument %d out of range (%d arguments)", in.Offset, in.OpCode.Name, idx, len(args))
		}
	}
	return body, nil
}

func argumentIndex(in *cil.Instruction) (int, bool) {
	switch in.OpCode.Code {
	case cil.OpLdarg0, cil.OpLdarg1, cil.OpLdarg2, cil.OpLdarg3:
		return int(in.OpCode.Code - cil.OpLdarg0), true
	case cil.OpLdargS, cil.OpLdargaS, cil.OpStargS, cil.OpLdarg, cil.OpLdarga, cil.OpStarg:
		v, ok := in.Operand.(uint16)
		return int(v), ok
	}
	return 0, false
}

// RemoveMethod detaches md from its declaring type. The row is dropped when
// the module is written.
func (m *Module) RemoveMethod(md *MethodDef) error {
	if md.removed {
		return fmt.Errorf("method %s already removed", md.MDToken())
	}
	decl := md.DeclaringType
	if decl == nil {
		return fmt.Errorf("method %s has no declaring type", md.MDToken())
	}
	for i, x := range decl.Methods {
		if x == md {
			decl.Methods = append(decl.Methods[:i:i], decl.Methods[i+1:]...)
			md.removed = true
			md.DeclaringType = nil
			log.WithField("method", md.MDToken().String()).Debugf("removed %s from %s", md.Name, decl.FullName())
			return nil
		}
	}
	return fmt.Errorf("method %s not found in %s", md.MDToken(), decl.FullName())
}
