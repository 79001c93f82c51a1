package metadata

import (
	"bytes"

	"github.com/wanglei-coder/dnpe/pe/bio"
	"github.com/wanglei-coder/dnpe/pe/errs"
)

const (
	heapSizeWideStrings = 0x01
	heapSizeWideGUIDs   = 0x02
	heapSizeWideBlobs   = 0x04
)

// TableRow is a fixed-width tuple of decoded column values. Column order
// and interpretation follow tableSchemas[Table].
type TableRow struct {
	Table   TableID
	RowID   uint32 // 1-based row number within Table
	Columns []uint32
}

// Get returns the raw decoded value of the named column and whether it
// exists on this row's table.
func (r TableRow) Get(name string) (uint32, bool) {
	spec := tableSchemas[r.Table]
	for i, c := range spec {
		if c.Name == name {
			return r.Columns[i], true
		}
	}
	return 0, false
}

// Coded decodes the named coded-index column into a (table, row) pair.
func (r TableRow) Coded(name string) (CodedIndex, error) {
	spec := tableSchemas[r.Table]
	for i, c := range spec {
		if c.Name == name && c.Kind == colCoded {
			return c.Coded.decode(r.Columns[i])
		}
	}
	return CodedIndex{}, errs.InvariantAt(0, "no such coded column: "+name)
}

// TablesHeap is the parsed `#~`/`#-` stream: schema header, row counts and
// the table contents themselves.
type TablesHeap struct {
	MajorVersion   uint8
	MinorVersion   uint8
	HeapSizeFlags  uint8
	Compressed     bool // true for #~, false for #-
	ValidMask      uint64
	SortedMask     uint64
	RowCounts      [NumTableIDs]uint32
	Tables         map[TableID][]TableRow
	rawExtra       []byte
}

// RawExtra returns whatever bytes remained in the stream after every table
// named by ValidMask was parsed to its declared row count. The `#-` layout
// used by some obfuscated/optimized images carries undocumented trailing
// data here; it is preserved verbatim rather than interpreted.
func (t *TablesHeap) RawExtra() []byte { return t.rawExtra }

// RowCount reports the declared row count for id, 0 if id is absent from
// ValidMask.
func (t *TablesHeap) RowCount(id TableID) uint32 { return t.RowCounts[id] }

// Rows returns the parsed rows of table id, nil if the table has zero rows
// or is absent.
func (t *TablesHeap) Rows(id TableID) []TableRow { return t.Tables[id] }

// Row returns row number rowID (1-based) of table id. rowID 0 is NULL and
// returns (zero row, false); an out-of-range rowID is also (zero, false).
func (t *TablesHeap) Row(id TableID, rowID uint32) (TableRow, bool) {
	if rowID == 0 {
		return TableRow{}, false
	}
	rows := t.Tables[id]
	if int(rowID) > len(rows) {
		return TableRow{}, false
	}
	return rows[rowID-1], true
}

func parseTablesHeap(buf []byte, compressed bool) (*TablesHeap, error) {
	r := bio.NewReader(bytes.NewReader(buf), int64(len(buf)))

	if _, err := r.ReadU32(); err != nil { // reserved, always 0
		return nil, err
	}
	major, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	minor, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	heapSizes, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	if _, err := r.ReadU8(); err != nil { // reserved, always 1
		return nil, err
	}
	valid, err := r.ReadU64()
	if err != nil {
		return nil, err
	}
	sorted, err := r.ReadU64()
	if err != nil {
		return nil, err
	}

	th := &TablesHeap{
		MajorVersion: major, MinorVersion: minor, HeapSizeFlags: heapSizes,
		Compressed: compressed, ValidMask: valid, SortedMask: sorted,
		Tables: make(map[TableID][]TableRow),
	}

	var present []TableID
	for id := TableID(0); id < NumTableIDs; id++ {
		if valid&(1<<uint(id)) != 0 {
			count, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			th.RowCounts[id] = count
			present = append(present, id)
		}
	}

	strWidth, guidWidth, blobWidth := 2, 2, 2
	if heapSizes&heapSizeWideStrings != 0 {
		strWidth = 4
	}
	if heapSizes&heapSizeWideGUIDs != 0 {
		guidWidth = 4
	}
	if heapSizes&heapSizeWideBlobs != 0 {
		blobWidth = 4
	}

	for _, id := range present {
		if !id.defined() {
			return nil, errs.MalformedAt(uint64(r.Position()), "undefined table id present in valid mask")
		}
		spec := tableSchemas[id]
		rows := make([]TableRow, 0, th.RowCounts[id])
		for rowNum := uint32(1); rowNum <= th.RowCounts[id]; rowNum++ {
			row := TableRow{Table: id, RowID: rowNum, Columns: make([]uint32, len(spec))}
			for i, col := range spec {
				val, err := readColumn(r, col, strWidth, guidWidth, blobWidth, th.RowCounts)
				if err != nil {
					return nil, err
				}
				row.Columns[i] = val
			}
			rows = append(rows, row)
		}
		th.Tables[id] = rows
	}

	if pos := int(r.Position()); pos < len(buf) {
		th.rawExtra = append([]byte(nil), buf[pos:]...)
	}
	return th, nil
}

func readColumn(r *bio.Reader, col ColumnSpec, strWidth, guidWidth, blobWidth int, rowCounts [NumTableIDs]uint32) (uint32, error) {
	switch col.Kind {
	case colFixed2:
		v, err := r.ReadU16()
		return uint32(v), err
	case colFixed4:
		return r.ReadU32()
	case colString:
		return readWidth(r, strWidth)
	case colGUID:
		return readWidth(r, guidWidth)
	case colBlob:
		return readWidth(r, blobWidth)
	case colSimple:
		width := 2
		if rowCounts[col.Target] >= 1<<16 {
			width = 4
		}
		return readWidth(r, width)
	case colCoded:
		width := col.Coded.width(rowCounts)
		return readWidth(r, width)
	}
	return 0, errs.InvariantAt(uint64(r.Position()), "unknown column kind")
}

func readWidth(r *bio.Reader, width int) (uint32, error) {
	if width == 2 {
		v, err := r.ReadU16()
		return uint32(v), err
	}
	return r.ReadU32()
}
