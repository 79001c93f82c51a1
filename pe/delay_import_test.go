package pe

import (
	"bytes"
	"testing"

	"github.com/wanglei-coder/dnpe/pe/bio"
)

// buildMinimalDelayImportPE32 mirrors buildMinimalPE32 but populates the
// delay-import data directory with a "new" format (Attributes != 0)
// descriptor, whose RVAs are ordinary RVAs rather than absolute VAs.
func buildMinimalDelayImportPE32(t *testing.T) []byte {
	t.Helper()

	// The delay-import descriptor is 32 bytes (8 uint32 fields) rather than
	// a regular import descriptor's 20, so with its 32-byte null terminator
	// the table layout below starts the ILT/IAT at +64 rather than +40.
	const sectionRVA = 0x1000
	iw := bio.NewWriter()
	iw.WriteU32(1)                // Attributes: non-zero selects the new (RVA-based) format
	iw.WriteU32(sectionRVA + 94)  // Name -> "USER32.dll"
	iw.WriteU32(0)                // ModuleHandleRVA
	iw.WriteU32(sectionRVA + 72)  // ImportAddressTableRVA
	iw.WriteU32(sectionRVA + 64)  // ImportNameTableRVA
	iw.WriteU32(0)                // BoundImportAddressTableRVA
	iw.WriteU32(0)                // UnloadInformationTableRVA
	iw.WriteU32(0)                // TimeDateStamp
	iw.WriteU32(0)                // null descriptor: Name == 0 terminates the walk
	iw.WriteU32(0)
	iw.WriteU32(0)
	iw.WriteU32(0)
	iw.WriteU32(0)
	iw.WriteU32(0)
	iw.WriteU32(0)
	iw.WriteU32(0)
	iw.WriteU32(sectionRVA + 80) // ImportNameTable[0] -> hint/name entry
	iw.WriteU32(0)               // ImportNameTable terminator
	iw.WriteU32(sectionRVA + 80) // ImportAddressTable[0] -> hint/name entry
	iw.WriteU32(0)               // ImportAddressTable terminator
	iw.WriteU16(0)               // hint
	iw.WriteBytes([]byte("MessageBoxW\x00"))
	iw.WriteBytes([]byte("USER32.dll\x00"))
	sectionData := iw.Bytes()

	var nameBuf [8]byte
	copy(nameBuf[:], ".rdata")

	section := &Section{
		SectionHeader: SectionHeader{
			Name:            nameBuf,
			VirtualSize:     0x100,
			SizeOfRawData:   uint32(len(sectionData)),
			Characteristics: ImageScnMemRead,
		},
		Name:     ".rdata",
		contents: NewRawSegment(sectionData, 0x100),
	}

	oh := &OptionalHeader32{
		Magic:               Magic32,
		ImageBase:           0x400000,
		SectionAlignment:    0x1000,
		FileAlignment:       0x200,
		NumberOfRvaAndSizes: 16,
	}
	oh.DataDirectory[ImageDirectoryEntryDelayImport] = DataDirectory{VirtualAddress: sectionRVA, Size: 32}

	f := &PEFile{
		Dos: DosHeader{
			Magic:            ImageDOSSignature,
			NextHeaderOffset: 64,
		},
		FileHeader: FileHeader{
			Machine:              0x14c,
			NumberOfSections:     1,
			SizeOfOptionalHeader: 224,
		},
		OptionalHeader: oh,
		Sections:       []*Section{section},
	}

	w := bio.NewWriter()
	if err := f.Rebuild(w); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if section.VirtualAddress != sectionRVA {
		t.Fatalf("section assigned RVA 0x%x, test's import RVAs assume 0x%x", section.VirtualAddress, sectionRVA)
	}
	return w.Bytes()
}

func TestParseMinimalDelayImport(t *testing.T) {
	raw := buildMinimalDelayImportPE32(t)
	f, err := Parse(bytes.NewReader(raw), int64(len(raw)), Unmapped)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(f.DelayImports) != 1 {
		t.Fatalf("len(DelayImports) = %d, want 1", len(f.DelayImports))
	}
	di := f.DelayImports[0]
	if di.Name != "USER32.dll" {
		t.Errorf("DelayImports[0].Name = %q, want USER32.dll", di.Name)
	}
	if len(di.Functions) != 1 || di.Functions[0].Name != "MessageBoxW" {
		t.Fatalf("DelayImports[0].Functions = %+v", di.Functions)
	}
	if di.Descriptor.Attributes != 1 {
		t.Errorf("Descriptor.Attributes = %d, want 1", di.Descriptor.Attributes)
	}
}
