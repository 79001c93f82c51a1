package pe

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/wanglei-coder/dnpe/pe/bio"
)

// StringTable is the COFF string table, located right after the COFF
// symbol table. Offsets into it are 4-based (the length prefix itself
// counts as the first 4 bytes).
type StringTable []byte

func (f *PEFile) readStringTable() error {
	if f.FileHeader.PointerToSymbolTable == 0 {
		return nil
	}
	offset := int64(f.FileHeader.PointerToSymbolTable) + int64(COFFSymbolSize)*int64(f.FileHeader.NumberOfSymbols)
	r := bio.NewReader(f.src, f.size)
	if err := r.Seek(offset); err != nil {
		return fmt.Errorf("fail to seek to string table: %w", err)
	}
	l, err := r.ReadU32()
	if err != nil {
		return errors.WithMessage(err, "fail to read string table length")
	}
	if l <= 4 {
		return nil
	}
	buf, err := r.ReadBytes(int(l - 4))
	if err != nil {
		return fmt.Errorf("fail to read string table: %w", err)
	}
	f.StringTable = buf
	return nil
}

// String extracts the NUL-terminated string starting at byte offset start
// (which includes the 4-byte length prefix, per COFF convention).
func (st StringTable) String(start uint32) (string, error) {
	if start < 4 {
		return "", fmt.Errorf("offset %d is before the start of the string table", start)
	}
	start -= 4
	if int(start) > len(st) {
		return "", fmt.Errorf("offset %d is beyond the end of the string table", start)
	}
	return cString(st[start:]), nil
}

func (sh *SectionHeader) fullName(st StringTable) (string, error) {
	if sh.Name[0] != '/' {
		return cString(sh.Name[:]), nil
	}
	var n uint32
	if _, err := fmt.Sscanf(cString(sh.Name[1:]), "%d", &n); err != nil {
		return "", err
	}
	return st.String(n)
}
