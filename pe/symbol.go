package pe

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/wanglei-coder/dnpe/pe/bio"
)

const COFFSymbolSize = 18

// COFFSymbol is a single raw COFF symbol table record, 18 bytes on disk.
type COFFSymbol struct {
	Name               [8]uint8
	Value              uint32
	SectionNumber      int16
	Type               uint16
	StorageClass       uint8
	NumberOfAuxSymbols uint8
}

func (f *PEFile) readCOFFSymbols() error {
	if f.FileHeader.PointerToSymbolTable == 0 || f.FileHeader.NumberOfSymbols == 0 {
		return nil
	}
	r := bio.NewReader(f.src, f.size)
	if err := r.Seek(int64(f.FileHeader.PointerToSymbolTable)); err != nil {
		return errors.WithMessage(err, "fail to seek to symbol table")
	}
	symbols := make([]COFFSymbol, f.FileHeader.NumberOfSymbols)
	for i := range symbols {
		if err := r.ReadStruct(&symbols[i]); err != nil {
			return errors.WithMessage(err, "fail to read symbol table")
		}
	}
	f.COFFSymbols = symbols
	return nil
}

// isSymNameOffset reports whether a raw 8-byte symbol name is encoded as a
// 4-byte offset into the string table (first 4 bytes zero).
func isSymNameOffset(name [8]byte) (bool, uint32) {
	if name[0] == 0 && name[1] == 0 && name[2] == 0 && name[3] == 0 {
		return true, binary.LittleEndian.Uint32(name[4:])
	}
	return false, 0
}

// FullName resolves sym's real name, following the string-table indirection
// for names longer than 8 characters.
func (sym *COFFSymbol) FullName(st StringTable) (string, error) {
	if ok, offset := isSymNameOffset(sym.Name); ok {
		return st.String(offset)
	}
	return cString(sym.Name[:]), nil
}

// Symbol is COFFSymbol with Name resolved to a Go string and aux records
// dropped.
type Symbol struct {
	Name          string
	Value         uint32
	SectionNumber int16
	Type          uint16
	StorageClass  uint8
}

func (f *PEFile) removeAuxSymbols() error {
	if len(f.COFFSymbols) == 0 {
		return nil
	}
	var symbols []*Symbol
	aux := uint8(0)
	for _, sym := range f.COFFSymbols {
		if aux > 0 {
			aux--
			continue
		}
		name, err := sym.FullName(f.StringTable)
		if err != nil {
			return err
		}
		aux = sym.NumberOfAuxSymbols
		symbols = append(symbols, &Symbol{
			Name:          name,
			Value:         sym.Value,
			SectionNumber: sym.SectionNumber,
			Type:          sym.Type,
			StorageClass:  sym.StorageClass,
		})
	}
	f.Symbols = symbols
	return nil
}
