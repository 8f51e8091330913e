package dotnet

import (
	"encoding/binary"
	"fmt"
	"math/bits"
)

// TableID identifies a metadata table.
type TableID byte

const (
	TableModule                 TableID = 0x00
	TableTypeRef                TableID = 0x01
	TableTypeDef                TableID = 0x02
	TableFieldPtr               TableID = 0x03
	TableField                  TableID = 0x04
	TableMethodPtr              TableID = 0x05
	TableMethod                 TableID = 0x06
	TableParamPtr               TableID = 0x07
	TableParam                  TableID = 0x08
	TableInterfaceImpl          TableID = 0x09
	TableMemberRef              TableID = 0x0A
	TableConstant               TableID = 0x0B
	TableCustomAttribute        TableID = 0x0C
	TableFieldMarshal           TableID = 0x0D
	TableDeclSecurity           TableID = 0x0E
	TableClassLayout            TableID = 0x0F
	TableFieldLayout            TableID = 0x10
	TableStandAloneSig          TableID = 0x11
	TableEventMap               TableID = 0x12
	TableEventPtr               TableID = 0x13
	TableEvent                  TableID = 0x14
	TablePropertyMap            TableID = 0x15
	TablePropertyPtr            TableID = 0x16
	TableProperty               TableID = 0x17
	TableMethodSemantics        TableID = 0x18
	TableMethodImpl             TableID = 0x19
	TableModuleRef              TableID = 0x1A
	TableTypeSpec               TableID = 0x1B
	TableImplMap                TableID = 0x1C
	TableFieldRVA               TableID = 0x1D
	TableENCLog                 TableID = 0x1E
	TableENCMap                 TableID = 0x1F
	TableAssembly               TableID = 0x20
	TableAssemblyProcessor      TableID = 0x21
	TableAssemblyOS             TableID = 0x22
	TableAssemblyRef            TableID = 0x23
	TableAssemblyRefProcessor   TableID = 0x24
	TableAssemblyRefOS          TableID = 0x25
	TableFile                   TableID = 0x26
	TableExportedType           TableID = 0x27
	TableManifestResource       TableID = 0x28
	TableNestedClass            TableID = 0x29
	TableGenericParam           TableID = 0x2A
	TableMethodSpec             TableID = 0x2B
	TableGenericParamConstraint TableID = 0x2C

	numTables = 0x2D
)

// TableUserString is the pseudo table id of #US tokens.
const TableUserString = 0x70

// noTable marks an unused slot of a coded index.
const noTable TableID = 0xFF

// codedIndex is an ECMA-335 coded index: a tag selecting a table plus a row id.
type codedIndex struct {
	bits   uint
	tables []TableID
}

var (
	codedTypeDefOrRef = &codedIndex{2, []TableID{TableTypeDef, TableTypeRef, TableTypeSpec}}
	codedHasConstant  = &codedIndex{2, []TableID{TableField, TableParam, TableProperty}}
	codedHasCA        = &codedIndex{5, []TableID{
		TableMethod, TableField, TableTypeRef, TableTypeDef, TableParam, TableInterfaceImpl,
		TableMemberRef, TableModule, TableDeclSecurity, TableProperty, TableEvent, TableStandAloneSig,
		TableModuleRef, TableTypeSpec, TableAssembly, TableAssemblyRef, TableFile, TableExportedType,
		TableManifestResource, TableGenericParam, TableGenericParamConstraint, TableMethodSpec,
	}}
	codedHasFieldMarshal = &codedIndex{1, []TableID{TableField, TableParam}}
	codedHasDeclSecurity = &codedIndex{2, []TableID{TableTypeDef, TableMethod, TableAssembly}}
	codedMemberRefParent = &codedIndex{3, []TableID{TableTypeDef, TableTypeRef, TableModuleRef, TableMethod, TableTypeSpec}}
	codedHasSemantics    = &codedIndex{1, []TableID{TableEvent, TableProperty}}
	codedMethodDefOrRef  = &codedIndex{1, []TableID{TableMethod, TableMemberRef}}
	codedMemberForwarded = &codedIndex{1, []TableID{TableField, TableMethod}}
	codedImplementation  = &codedIndex{2, []TableID{TableFile, TableAssemblyRef, TableExportedType}}
	codedCAType          = &codedIndex{3, []TableID{noTable, noTable, TableMethod, TableMemberRef, noTable}}
	codedResolutionScope = &codedIndex{2, []TableID{TableModule, TableModuleRef, TableAssemblyRef, TableTypeRef}}
	codedTypeOrMethodDef = &codedIndex{1, []TableID{TableTypeDef, TableMethod}}
)

// decode splits a coded value into its table and row id.
func (c *codedIndex) decode(v uint32) (TableID, uint32, bool) {
	tag := v & (1<<c.bits - 1)
	if int(tag) >= len(c.tables) || c.tables[tag] == noTable {
		return noTable, 0, false
	}
	return c.tables[tag], v >> c.bits, true
}

func (c *codedIndex) encode(table TableID, rid uint32) (uint32, error) {
	for tag, t := range c.tables {
		if t == table {
			return rid<<c.bits | uint32(tag), nil
		}
	}
	return 0, fmt.Errorf("table 0x%02X is not valid for this coded index", byte(table))
}

type columnKind int

const (
	colU16 columnKind = iota
	colU32
	colString
	colGUID
	colBlob
	colIndex
	colCoded
)

type column struct {
	name  string
	kind  columnKind
	table TableID
	coded *codedIndex
	// list marks the first row of a run in table.
	list bool
}

func u16(name string) column  { return column{name: name, kind: colU16} }
func u32(name string) column  { return column{name: name, kind: colU32} }
func str(name string) column  { return column{name: name, kind: colString} }
func guid(name string) column { return column{name: name, kind: colGUID} }
func blob(name string) column { return column{name: name, kind: colBlob} }
func coded(name string, c *codedIndex) column {
	return column{name: name, kind: colCoded, coded: c}
}
func index(name string, t TableID) column {
	return column{name: name, kind: colIndex, table: t}
}
func list(name string, t TableID) column {
	return column{name: name, kind: colIndex, table: t, list: true}
}

// schema lists the columns of every table in ECMA-335 partition II order.
var schema = [numTables][]column{
	TableModule:                 {u16("Generation"), str("Name"), guid("Mvid"), guid("EncId"), guid("EncBaseId")},
	TableTypeRef:                {coded("ResolutionScope", codedResolutionScope), str("TypeName"), str("TypeNamespace")},
	TableTypeDef:                {u32("Flags"), str("TypeName"), str("TypeNamespace"), coded("Extends", codedTypeDefOrRef), list("FieldList", TableField), list("MethodList", TableMethod)},
	TableFieldPtr:               {index("Field", TableField)},
	TableField:                  {u16("Flags"), str("Name"), blob("Signature")},
	TableMethodPtr:              {index("Method", TableMethod)},
	TableMethod:                 {u32("RVA"), u16("ImplFlags"), u16("Flags"), str("Name"), blob("Signature"), list("ParamList", TableParam)},
	TableParamPtr:               {index("Param", TableParam)},
	TableParam:                  {u16("Flags"), u16("Sequence"), str("Name")},
	TableInterfaceImpl:          {index("Class", TableTypeDef), coded("Interface", codedTypeDefOrRef)},
	TableMemberRef:              {coded("Class", codedMemberRefParent), str("Name"), blob("Signature")},
	TableConstant:               {u16("Type"), coded("Parent", codedHasConstant), blob("Value")},
	TableCustomAttribute:        {coded("Parent", codedHasCA), coded("Type", codedCAType), blob("Value")},
	TableFieldMarshal:           {coded("Parent", codedHasFieldMarshal), blob("NativeType")},
	TableDeclSecurity:           {u16("Action"), coded("Parent", codedHasDeclSecurity), blob("PermissionSet")},
	TableClassLayout:            {u16("PackingSize"), u32("ClassSize"), index("Parent", TableTypeDef)},
	TableFieldLayout:            {u32("Offset"), index("Field", TableField)},
	TableStandAloneSig:          {blob("Signature")},
	TableEventMap:               {index("Parent", TableTypeDef), list("EventList", TableEvent)},
	TableEventPtr:               {index("Event", TableEvent)},
	TableEvent:                  {u16("EventFlags"), str("Name"), coded("EventType", codedTypeDefOrRef)},
	TablePropertyMap:            {index("Parent", TableTypeDef), list("PropertyList", TableProperty)},
	TablePropertyPtr:            {index("Property", TableProperty)},
	TableProperty:               {u16("Flags"), str("Name"), blob("Type")},
	TableMethodSemantics:        {u16("Semantics"), index("Method", TableMethod), coded("Association", codedHasSemantics)},
	TableMethodImpl:             {index("Class", TableTypeDef), coded("MethodBody", codedMethodDefOrRef), coded("MethodDeclaration", codedMethodDefOrRef)},
	TableModuleRef:              {str("Name")},
	TableTypeSpec:               {blob("Signature")},
	TableImplMap:                {u16("MappingFlags"), coded("MemberForwarded", codedMemberForwarded), str("ImportName"), index("ImportScope", TableModuleRef)},
	TableFieldRVA:               {u32("RVA"), index("Field", TableField)},
	TableENCLog:                 {u32("Token"), u32("FuncCode")},
	TableENCMap:                 {u32("Token")},
	TableAssembly:               {u32("HashAlgId"), u16("MajorVersion"), u16("MinorVersion"), u16("BuildNumber"), u16("RevisionNumber"), u32("Flags"), blob("PublicKey"), str("Name"), str("Culture")},
	TableAssemblyProcessor:      {u32("Processor")},
	TableAssemblyOS:             {u32("OSPlatformID"), u32("OSMajorVersion"), u32("OSMinorVersion")},
	TableAssemblyRef:            {u16("MajorVersion"), u16("MinorVersion"), u16("BuildNumber"), u16("RevisionNumber"), u32("Flags"), blob("PublicKeyOrToken"), str("Name"), str("Culture"), blob("HashValue")},
	TableAssemblyRefProcessor:   {u32("Processor"), index("AssemblyRef", TableAssemblyRef)},
	TableAssemblyRefOS:          {u32("OSPlatformID"), u32("OSMajorVersion"), u32("OSMinorVersion"), index("AssemblyRef", TableAssemblyRef)},
	TableFile:                   {u32("Flags"), str("Name"), blob("HashValue")},
	TableExportedType:           {u32("Flags"), u32("TypeDefId"), str("TypeName"), str("TypeNamespace"), coded("Implementation", codedImplementation)},
	TableManifestResource:       {u32("Offset"), u32("Flags"), str("Name"), coded("Implementation", codedImplementation)},
	TableNestedClass:            {index("NestedClass", TableTypeDef), index("EnclosingClass", TableTypeDef)},
	TableGenericParam:           {u16("Number"), u16("Flags"), coded("Owner", codedTypeOrMethodDef), str("Name")},
	TableMethodSpec:             {coded("Method", codedMethodDefOrRef), blob("Instantiation")},
	TableGenericParamConstraint: {index("Owner", TableGenericParam), coded("Constraint", codedTypeDefOrRef)},
}

// Column indices used by the loader.
const (
	colTypeRefScope     = 0
	colTypeRefName      = 1
	colTypeRefNamespace = 2

	colTypeDefFlags      = 0
	colTypeDefName       = 1
	colTypeDefNamespace  = 2
	colTypeDefExtends    = 3
	colTypeDefFieldList  = 4
	colTypeDefMethodList = 5

	colFieldFlags = 0
	colFieldName  = 1
	colFieldSig   = 2

	colMethodRVA       = 0
	colMethodImplFlags = 1
	colMethodFlags     = 2
	colMethodName      = 3
	colMethodSig       = 4
	colMethodParamList = 5

	colMemberRefClass = 0
	colMemberRefName  = 1
	colMemberRefSig   = 2

	colNestedClass    = 0
	colEnclosingClass = 1
)

// Table holds the decoded rows of one metadata table. Each row stores one
// value per schema column.
type Table struct {
	ID   TableID
	Rows [][]uint32
}

// Len returns the row count.
func (t *Table) Len() uint32 {
	return uint32(len(t.Rows))
}

// Row returns the 1-based row rid.
func (t *Table) Row(rid uint32) ([]uint32, bool) {
	if rid == 0 || rid > t.Len() {
		return nil, false
	}
	return t.Rows[rid-1], true
}

// Tables is the decoded #~ stream.
type Tables struct {
	MajorVersion byte
	MinorVersion byte
	HeapSizes    byte
	Valid        uint64
	Sorted       uint64
	ExtraData    uint32

	tables [numTables]*Table
}

// NewTables returns an empty version 2.0 tables stream with 2-byte heap
// indices.
func NewTables() *Tables {
	ts := &Tables{MajorVersion: 2}
	for i := range ts.tables {
		ts.tables[i] = &Table{ID: TableID(i)}
	}
	return ts
}

// AddRow appends a row to table t and returns its rid.
func (ts *Tables) AddRow(t TableID, values ...uint32) (uint32, error) {
	if n := len(schema[t]); len(values) != n {
		return 0, fmt.Errorf("table 0x%02X takes %d columns, got %d", byte(t), n, len(values))
	}
	tbl := ts.tables[t]
	tbl.Rows = append(tbl.Rows, append([]uint32(nil), values...))
	return tbl.Len(), nil
}

// Table returns the table with the given id; it is never nil.
func (ts *Tables) Table(id TableID) *Table {
	return ts.tables[id]
}

func (ts *Tables) rowCounts() [numTables]uint32 {
	var counts [numTables]uint32
	for i, t := range ts.tables {
		counts[i] = t.Len()
	}
	return counts
}

// sizing resolves the byte width of every column kind for a set of row counts.
type sizing struct {
	heapSizes byte
	counts    [numTables]uint32
}

func (s sizing) width(c column) int {
	switch c.kind {
	case colU16:
		return 2
	case colU32:
		return 4
	case colString:
		return s.heap(0x01)
	case colGUID:
		return s.heap(0x02)
	case colBlob:
		return s.heap(0x04)
	case colIndex:
		if s.counts[c.table] > 0xFFFF {
			return 4
		}
		return 2
	case colCoded:
		var most uint32
		for _, t := range c.coded.tables {
			if t != noTable && s.counts[t] > most {
				most = s.counts[t]
			}
		}
		if most >= 1<<(16-c.coded.bits) {
			return 4
		}
		return 2
	}
	panic(fmt.Sprintf("unknown column kind %d", c.kind))
}

func (s sizing) heap(bit byte) int {
	if s.heapSizes&bit != 0 {
		return 4
	}
	return 2
}

func parseTables(data []byte) (*Tables, error) {
	r := NewReader(data)
	ts := &Tables{}
	if _, err := r.ReadUint32(); err != nil {
		return nil, err
	}
	hdr, err := r.ReadBytes(4)
	if err != nil {
		return nil, err
	}
	ts.MajorVersion, ts.MinorVersion, ts.HeapSizes = hdr[0], hdr[1], hdr[2]
	vs, err := r.ReadBytes(16)
	if err != nil {
		return nil, err
	}
	ts.Valid = binary.LittleEndian.Uint64(vs)
	ts.Sorted = binary.LittleEndian.Uint64(vs[8:])

	if ts.Valid>>numTables != 0 {
		return nil, fmt.Errorf("unknown tables present (valid mask 0x%016X)", ts.Valid)
	}

	var sz sizing
	sz.heapSizes = ts.HeapSizes
	for i := 0; i < numTables; i++ {
		if ts.Valid&(1<<uint(i)) == 0 {
			continue
		}
		if sz.counts[i], err = r.ReadUint32(); err != nil {
			return nil, fmt.Errorf("row count of table 0x%02X: %w", i, err)
		}
	}
	if ts.HeapSizes&0x40 != 0 {
		if ts.ExtraData, err = r.ReadUint32(); err != nil {
			return nil, err
		}
	}

	for i := 0; i < numTables; i++ {
		id := TableID(i)
		t := &Table{ID: id, Rows: make([][]uint32, sz.counts[i])}
		cols := schema[i]
		for row := range t.Rows {
			vals := make([]uint32, len(cols))
			for c, col := range cols {
				var v uint32
				if sz.width(col) == 2 {
					w, err := r.ReadUint16()
					if err != nil {
						return nil, fmt.Errorf("table 0x%02X row %d: %w", i, row+1, err)
					}
					v = uint32(w)
				} else {
					if v, err = r.ReadUint32(); err != nil {
						return nil, fmt.Errorf("table 0x%02X row %d: %w", i, row+1, err)
					}
				}
				vals[c] = v
			}
			t.Rows[row] = vals
		}
		ts.tables[i] = t
	}
	return ts, nil
}

// Encode serialises the tables stream. Column widths are recomputed from
// the current row counts; heap index widths are kept.
func (ts *Tables) Encode() []byte {
	sz := sizing{heapSizes: ts.HeapSizes, counts: ts.rowCounts()}

	valid := ts.Valid
	for i, n := range sz.counts {
		if n == 0 {
			valid &^= 1 << uint(i)
		} else {
			valid |= 1 << uint(i)
		}
	}

	out := make([]byte, 24, 24+4*bits.OnesCount64(valid))
	out[4], out[5], out[6], out[7] = ts.MajorVersion, ts.MinorVersion, ts.HeapSizes, 1
	binary.LittleEndian.PutUint64(out[8:], valid)
	binary.LittleEndian.PutUint64(out[16:], ts.Sorted&valid)
	for _, n := range sz.counts {
		if n > 0 {
			out = binary.LittleEndian.AppendUint32(out, n)
		}
	}
	if ts.HeapSizes&0x40 != 0 {
		out = binary.LittleEndian.AppendUint32(out, ts.ExtraData)
	}

	for i, t := range ts.tables {
		for _, row := range t.Rows {
			for c, col := range schema[i] {
				if sz.width(col) == 2 {
					out = binary.LittleEndian.AppendUint16(out, uint16(row[c]))
				} else {
					out = binary.LittleEndian.AppendUint32(out, row[c])
				}
			}
		}
	}
	for len(out)%4 != 0 {
		out = append(out, 0)
	}
	return out
}
