package dotnet

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/apex/log"

	"github.com/daimatz/flared/pkg/cil"
)

// DefaultSectionName names the section that receives rewritten bodies.
const DefaultSectionName = ".flared"

// cliEntryPointOffset is the offset of EntryPointToken in the CLI header.
const cliEntryPointOffset = 20

// WriteOptions controls how a module is serialised.
type WriteOptions struct {
	// SectionName names the appended body section.
	SectionName string
	// RemovedSections are zero-filled unless KeepSections is set.
	RemovedSections []*Section
	KeepSections    bool
}

// cascadeRules lists the columns whose row is dropped together with the
// row they reference.
var cascadeRules = []struct {
	table TableID
	col   int
}{
	{TableCustomAttribute, 0},
	{TableCustomAttribute, 1},
	{TableConstant, 1},
	{TableFieldMarshal, 0},
	{TableDeclSecurity, 1},
	{TableMethodSemantics, 1},
	{TableMethodImpl, 1},
	{TableMethodImpl, 2},
	{TableImplMap, 1},
	{TableGenericParam, 2},
	{TableGenericParamConstraint, 0},
	{TableMethodSpec, 0},
	{TableMemberRef, 0},
}

// Write serialises the module to path.
func (m *Module) Write(path string, opts WriteOptions) error {
	out, err := m.Serialize(opts)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// Serialize returns the rewritten image: removed methods and the rows they
// own are dropped from the tables stream, every reference is renumbered,
// replaced bodies are emitted into a new section and removed sections are
// cleared.
func (m *Module) Serialize(opts WriteOptions) ([]byte, error) {
	if opts.SectionName == "" {
		opts.SectionName = DefaultSectionName
	}
	data := append([]byte(nil), m.image.Bytes()...)
	ts := m.md.Tables

	c := newCompaction(ts)
	for _, md := range m.methods {
		if md.removed {
			c.remove(TableMethod, md.rid)
		}
	}
	c.cascade(ts)
	tokens := &tokenMap{c: c, module: m}

	tables, err := c.apply(ts)
	if err != nil {
		return nil, err
	}

	sectionRVA, err := m.image.nextSectionRVA()
	if err != nil {
		return nil, err
	}
	var section []byte
	methodRows := tables.Table(TableMethod).Rows
	for _, md := range m.methods {
		if md.removed {
			continue
		}
		newRid := c.newRid(TableMethod, md.rid)
		switch {
		case md.BodyReplaced() && md.Body == nil:
			methodRows[newRid-1][colMethodRVA] = 0
		case md.BodyReplaced():
			enc, err := cil.Encode(md.Body, tokens)
			if err != nil {
				return nil, fmt.Errorf("encoding body of %s: %w", md.MDToken(), err)
			}
			for len(section)%4 != 0 {
				section = append(section, 0)
			}
			methodRows[newRid-1][colMethodRVA] = sectionRVA + uint32(len(section))
			section = append(section, enc...)
			log.WithField("method", md.MDToken().String()).Debugf("emitted %d byte body", len(enc))
		case md.Body != nil:
			if err := m.patchBodyTokens(data, md, tokens); err != nil {
				return nil, err
			}
		case md.Header != nil && c.dirty():
			log.WithField("method", md.MDToken().String()).Warn("undecodable body kept without token fixups")
		}
	}

	if tok := cil.Token(m.md.CLI.EntryPointToken); tok != 0 {
		newTok, err := tokens.token(tok)
		if err != nil {
			return nil, fmt.Errorf("entry point: %w", err)
		}
		off, err := m.image.Offset(m.md.CLI.HeaderRVA + cliEntryPointOffset)
		if err != nil {
			return nil, err
		}
		binary.LittleEndian.PutUint32(data[off:], uint32(newTok))
	}

	if err := m.writeTablesStream(data, tables); err != nil {
		return nil, err
	}

	if !opts.KeepSections {
		for _, s := range opts.RemovedSections {
			end := min(int(s.Offset+s.Size), len(data))
			clear(data[min(int(s.Offset), end):end])
			log.WithField("section", s.Name).Debug("cleared section")
		}
	}

	if len(section) > 0 {
		if data, err = m.image.appendSection(data, opts.SectionName, sectionRVA, section); err != nil {
			return nil, err
		}
	}
	if err := updateChecksum(data); err != nil {
		return nil, err
	}
	return data, nil
}

func (m *Module) writeTablesStream(data []byte, tables *Tables) error {
	ts := m.md.tablesStream
	enc := tables.Encode()
	if uint32(len(enc)) > ts.Size {
		return fmt.Errorf("tables stream grew from %d to %d bytes", ts.Size, len(enc))
	}
	off, err := m.image.Offset(m.md.CLI.MetadataRVA + ts.Offset)
	if err != nil {
		return fmt.Errorf("locating #~ stream: %w", err)
	}
	dst := data[off : off+ts.Size]
	copy(dst, enc)
	clear(dst[len(enc):])
	return nil
}

// patchBodyTokens rewrites renumbered tokens of an unchanged body in place.
func (m *Module) patchBodyTokens(data []byte, md *MethodDef, tokens *tokenMap) error {
	base, err := m.image.Offset(md.RVA)
	if err != nil {
		return err
	}
	code := base + uint32(md.Header.Size)
	for _, in := range md.Body.Instructions {
		tp, ok := in.Operand.(cil.TokenProvider)
		if !ok {
			continue
		}
		old := tp.MDToken()
		tok, err := tokens.token(old)
		if err != nil {
			return fmt.Errorf("%s IL_%04X: %w", md.MDToken(), in.Offset, err)
		}
		if tok != old {
			binary.LittleEndian.PutUint32(data[code+in.OperandOffset():], uint32(tok))
		}
	}
	return nil
}

// compaction tracks removed rows and the renumbering they imply.
type compaction struct {
	removed [numTables]map[uint32]bool
	// before[t][rid] counts removed rows of t below rid.
	before [numTables][]uint32
	counts [numTables]uint32
}

func newCompaction(ts *Tables) *compaction {
	c := &compaction{}
	c.counts = ts.rowCounts()
	return c
}

func (c *compaction) dirty() bool {
	for _, r := range c.removed {
		if len(r) > 0 {
			return true
		}
	}
	return false
}

func (c *compaction) remove(t TableID, rid uint32) bool {
	if rid == 0 || rid > c.counts[t] || c.removed[t][rid] {
		return false
	}
	if c.removed[t] == nil {
		c.removed[t] = make(map[uint32]bool)
	}
	c.removed[t][rid] = true
	c.before[t] = nil
	return true
}

func (c *compaction) isRemoved(t TableID, rid uint32) bool {
	return c.removed[t][rid]
}

// cascade drops the Param rows of removed methods and every row that hangs
// off a removed row, until nothing changes.
func (c *compaction) cascade(ts *Tables) {
	methods := ts.Table(TableMethod).Rows
	for rid := range c.removed[TableMethod] {
		start := methods[rid-1][colMethodParamList]
		end := c.counts[TableParam] + 1
		if int(rid) < len(methods) {
			end = methods[rid][colMethodParamList]
		}
		for p := start; p < end; p++ {
			c.remove(TableParam, p)
		}
	}

	for changed := true; changed; {
		changed = false
		for _, rule := range cascadeRules {
			col := schema[rule.table][rule.col]
			for i, row := range ts.Table(rule.table).Rows {
				rid := uint32(i + 1)
				if c.isRemoved(rule.table, rid) {
					continue
				}
				if t, ref, ok := reference(col, row[rule.col]); ok && c.isRemoved(t, ref) {
					changed = c.remove(rule.table, rid) || changed
				}
			}
		}
	}
}

// reference decodes the row a simple or coded index column points at.
func reference(col column, v uint32) (TableID, uint32, bool) {
	switch col.kind {
	case colIndex:
		return col.table, v, v != 0
	case colCoded:
		t, rid, ok := col.coded.decode(v)
		return t, rid, ok && rid != 0
	}
	return noTable, 0, false
}

func (c *compaction) shifts(t TableID) []uint32 {
	if c.before[t] == nil {
		n := c.counts[t]
		b := make([]uint32, n+2)
		for rid := uint32(1); rid <= n+1; rid++ {
			b[rid] = b[rid-1]
			if c.removed[t][rid-1] {
				b[rid]++
			}
		}
		c.before[t] = b
	}
	return c.before[t]
}

// newRid maps an old row id to its id after compaction. Removed rows map to
// the next surviving row, which is what list columns need.
func (c *compaction) newRid(t TableID, rid uint32) uint32 {
	if rid == 0 || len(c.removed[t]) == 0 {
		return rid
	}
	b := c.shifts(t)
	if int(rid) >= len(b) {
		return rid - b[len(b)-1]
	}
	return rid - b[rid]
}

// apply builds the compacted copy of ts.
func (c *compaction) apply(ts *Tables) (*Tables, error) {
	out := *ts
	for i := range out.tables {
		t := TableID(i)
		src := ts.tables[i]
		dst := &Table{ID: t, Rows: make([][]uint32, 0, len(src.Rows))}
		for r, row := range src.Rows {
			if c.isRemoved(t, uint32(r+1)) {
				continue
			}
			nrow := make([]uint32, len(row))
			for ci, col := range schema[i] {
				v, err := c.remapColumn(col, row[ci])
				if err != nil {
					return nil, fmt.Errorf("table 0x%02X row %d column %s: %w", i, r+1, col.name, err)
				}
				nrow[ci] = v
			}
			dst.Rows = append(dst.Rows, nrow)
		}
		out.tables[i] = dst
	}
	return &out, nil
}

func (c *compaction) remapColumn(col column, v uint32) (uint32, error) {
	switch col.kind {
	case colIndex:
		if !col.list && c.isRemoved(col.table, v) {
			return 0, fmt.Errorf("references removed row %d of table 0x%02X", v, byte(col.table))
		}
		return c.newRid(col.table, v), nil
	case colCoded:
		t, rid, ok := col.coded.decode(v)
		if !ok || rid == 0 {
			return v, nil
		}
		if c.isRemoved(t, rid) {
			return 0, fmt.Errorf("references removed row %d of table 0x%02X", rid, byte(t))
		}
		return col.coded.encode(t, c.newRid(t, rid))
	}
	return v, nil
}

// tokenMap renumbers tokens for encoded bodies.
type tokenMap struct {
	c      *compaction
	module *Module
}

func (tm *tokenMap) token(tok cil.Token) (cil.Token, error) {
	t := TableID(tok.Table())
	if int(t) >= numTables {
		return tok, nil
	}
	if tm.c.isRemoved(t, tok.Rid()) {
		return 0, fmt.Errorf("token %s refers to a removed row", tok)
	}
	return cil.NewToken(byte(t), tm.c.newRid(t, tok.Rid())), nil
}

// Token returns the post-compaction token of an entity.
func (tm *tokenMap) Token(tp cil.TokenProvider) (cil.Token, error) {
	return tm.token(tp.MDToken())
}

// UserString returns the #US token of s. Strings cannot be added to the heap.
func (tm *tokenMap) UserString(s string) (cil.Token, error) {
	m := tm.module
	if m.usOffsets == nil {
		m.usOffsets = m.md.userStringOffsets()
	}
	off, ok := m.usOffsets[s]
	if !ok {
		return 0, fmt.Errorf("string %q is not in the #US heap", s)
	}
	return cil.NewToken(TableUserString, off), nil
}
