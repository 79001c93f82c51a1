package metadata

import "testing"

// buildTablesHeap assembles a minimal #~ stream by hand: header, one row
// count per present table, then the rows themselves in ascending table id
// order — mirroring what parseTablesHeap expects to read back.
func buildTablesHeap(heapSizes uint8, rowCounts map[TableID]uint32, rowBytes map[TableID][]byte) []byte {
	var valid uint64
	for id := range rowCounts {
		valid |= 1 << uint(id)
	}
	buf := []byte{0, 0, 0, 0, 2, 0, heapSizes, 1}
	buf = append(buf, u64le(valid)...)
	buf = append(buf, u64le(0)...) // sorted mask, unused by the parser

	var ids []TableID
	for id := range rowCounts {
		ids = append(ids, id)
	}
	// ascending order, the way the on-disk format requires
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			if ids[j] < ids[i] {
				ids[i], ids[j] = ids[j], ids[i]
			}
		}
	}
	for _, id := range ids {
		buf = append(buf, u32le(rowCounts[id])...)
	}
	for _, id := range ids {
		buf = append(buf, rowBytes[id]...)
	}
	return buf
}

func u32le(v uint32) []byte { return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)} }
func u64le(v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return b
}
func u16le(v uint16) []byte { return []byte{byte(v), byte(v >> 8)} }

// TestModuleTableRoundTrip exercises the spec's "hello world" scenario:
// one Module row with narrow (2-byte) heap indices.
func TestModuleTableRoundTrip(t *testing.T) {
	moduleRow := append([]byte{}, u16le(0)...)  // Generation
	moduleRow = append(moduleRow, u16le(5)...)  // Name -> #Strings offset 5
	moduleRow = append(moduleRow, u16le(1)...)  // Mvid -> #GUID index 1
	moduleRow = append(moduleRow, u16le(0)...)  // EncId
	moduleRow = append(moduleRow, u16le(0)...)  // EncBaseId

	buf := buildTablesHeap(0, map[TableID]uint32{Module: 1}, map[TableID][]byte{Module: moduleRow})

	th, err := parseTablesHeap(buf, true)
	if err != nil {
		t.Fatalf("parseTablesHeap: %v", err)
	}
	if th.RowCount(Module) != 1 {
		t.Fatalf("RowCount(Module) = %d, want 1", th.RowCount(Module))
	}
	row, ok := th.Row(Module, 1)
	if !ok {
		t.Fatal("Row(Module, 1) not found")
	}
	name, ok := row.Get("Name")
	if !ok || name != 5 {
		t.Errorf("Name column = %v, %v, want 5, true", name, ok)
	}
	if len(th.RawExtra()) != 0 {
		t.Errorf("RawExtra = %v, want empty", th.RawExtra())
	}
}

// TestCodedIndexWidening reproduces spec.md §8 scenario 2: TypeDef has
// 2^14 rows, forcing a MemberRef.Class (MemberRefParent, 3 tag bits)
// column to widen to 4 bytes, since 2^14 << 3 exceeds 16 bits.
func TestCodedIndexWidening(t *testing.T) {
	var rowCounts [NumTableIDs]uint32
	rowCounts[TypeDef] = 1 << 14

	width := MemberRefParent.width(rowCounts)
	if width != 4 {
		t.Fatalf("MemberRefParent.width() = %d, want 4", width)
	}

	// a raw MemberRef.Class value: tag 0 (TypeDef), row id 1<<14
	classTag := uint32(0)
	classRowID := uint32(1 << 14)
	raw := classRowID<<3 | classTag

	ci, err := MemberRefParent.decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ci.Table != TypeDef || ci.RowID != classRowID {
		t.Errorf("decode() = %+v, want {TypeDef %d}", ci, classRowID)
	}
}

func TestElementTypePrimitivesInterned(t *testing.T) {
	ts := &TypeSystem{}
	a := ts.Primitive(ElementTypeI4)
	b := ts.Primitive(ElementTypeI4)
	if a != b {
		t.Fatal("Primitive(I4) should return the same interned pointer")
	}
	if a.Name != "System.Int32" {
		t.Errorf("Name = %q", a.Name)
	}
}

func TestDecodeFieldSig(t *testing.T) {
	// FIELD, I4
	blob := []byte{0x06, byte(ElementTypeI4)}
	sig, err := DecodeFieldSig(blob)
	if err != nil {
		t.Fatalf("DecodeFieldSig: %v", err)
	}
	if sig.Type.Kind != ElementTypeI4 {
		t.Errorf("Type.Kind = %v, want I4", sig.Type.Kind)
	}
}

func TestDecodeMethodSigNoArgs(t *testing.T) {
	// default calling convention, 0 params, VOID return
	blob := []byte{0x00, 0x00, byte(ElementTypeVoid)}
	sig, err := DecodeMethodSig(blob)
	if err != nil {
		t.Fatalf("DecodeMethodSig: %v", err)
	}
	if sig.HasThis || sig.ParamCount != 0 || sig.RetType.Kind != ElementTypeVoid {
		t.Errorf("sig = %+v", sig)
	}
}

func TestDecodeMethodSigWithThisAndParams(t *testing.T) {
	// HASTHIS, 2 params, I4 return, params: STRING, I4
	blob := []byte{
		sigHasThis, 0x02, byte(ElementTypeI4),
		byte(ElementTypeString), byte(ElementTypeI4),
	}
	sig, err := DecodeMethodSig(blob)
	if err != nil {
		t.Fatalf("DecodeMethodSig: %v", err)
	}
	if !sig.HasThis {
		t.Error("HasThis = false, want true")
	}
	if len(sig.Params) != 2 || sig.Params[0].Kind != ElementTypeString || sig.Params[1].Kind != ElementTypeI4 {
		t.Errorf("Params = %+v", sig.Params)
	}
}

func TestDecodeSZArraySig(t *testing.T) {
	blob, err := DecodeTypeSpecSig([]byte{byte(ElementTypeSZArray), byte(ElementTypeU1)})
	if err != nil {
		t.Fatalf("DecodeTypeSpecSig: %v", err)
	}
	if blob.Kind != ElementTypeSZArray || blob.Pointee.Kind != ElementTypeU1 {
		t.Errorf("sig = %+v", blob)
	}
}

func TestTokenNullAndRoundTrip(t *testing.T) {
	if !Token(0).IsNull() {
		t.Error("Token(0) should be null")
	}
	tok := NewToken(MethodDef, 1)
	if tok != 0x06000001 {
		t.Errorf("NewToken(MethodDef, 1) = 0x%X, want 0x06000001", uint32(tok))
	}
	if tok.Table() != MethodDef || tok.RowID() != 1 {
		t.Errorf("Table()/RowID() = %v/%d", tok.Table(), tok.RowID())
	}
}
