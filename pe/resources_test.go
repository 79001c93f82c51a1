package pe

import (
	"bytes"
	"testing"

	"github.com/wanglei-coder/dnpe/pe/bio"
)

// buildMinimalPE32WithResource assembles a one-section 32-bit PE image whose
// resource data directory points at a single ID-keyed leaf entry: a
// directory with one entry -> a data entry -> a byte payload.
func buildMinimalPE32WithResource(t *testing.T, payload []byte) []byte {
	t.Helper()

	const sectionRVA = 0x1000
	rw := bio.NewWriter()
	// ImageResourceDirectory, at sectionRVA+0
	rw.WriteU32(0) // Characteristics
	rw.WriteU32(0) // TimeDateStamp
	rw.WriteU16(0) // MajorVersion
	rw.WriteU16(0) // MinorVersion
	rw.WriteU16(0) // NumberOfNamedEntries
	rw.WriteU16(1) // NumberOfIDEntries
	// ImageResourceDirectoryEntry, at sectionRVA+16: ID entry, leaf (no high
	// bit on OffsetToData) pointing at the ResourceDataEntry at +24.
	rw.WriteU32(3)  // Name: resource type ID (RT_ICON)
	rw.WriteU32(24) // OffsetToData: relative offset to ResourceDataEntry
	// ImageResourceDataEntry, at sectionRVA+24
	rw.WriteU32(sectionRVA + 40) // OffsetToData: RVA of the payload
	rw.WriteU32(uint32(len(payload)))
	rw.WriteU32(0) // CodePage
	rw.WriteU32(0) // Reserved
	// payload, at sectionRVA+40
	rw.WriteBytes(payload)
	sectionData := rw.Bytes()

	var nameBuf [8]byte
	copy(nameBuf[:], ".rsrc")

	section := &Section{
		SectionHeader: SectionHeader{
			Name:            nameBuf,
			VirtualSize:     0x100,
			SizeOfRawData:   uint32(len(sectionData)),
			Characteristics: ImageScnMemRead,
		},
		Name:     ".rsrc",
		contents: NewRawSegment(sectionData, 0x100),
	}

	oh := &OptionalHeader32{
		Magic:               Magic32,
		ImageBase:           0x400000,
		SectionAlignment:    0x1000,
		FileAlignment:       0x200,
		NumberOfRvaAndSizes: 16,
	}
	oh.DataDirectory[ImageDirectoryEntryResource] = DataDirectory{VirtualAddress: sectionRVA, Size: 48}

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
		t.Fatalf("section assigned RVA 0x%x, test's resource RVAs assume 0x%x", section.VirtualAddress, sectionRVA)
	}
	return w.Bytes()
}

func TestParseResourceDirectory(t *testing.T) {
	payload := []byte("HELLO")
	raw := buildMinimalPE32WithResource(t, payload)

	f, err := Parse(bytes.NewReader(raw), int64(len(raw)), Unmapped)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.Resources == nil {
		t.Fatal("Resources is nil, want a decoded resource tree")
	}
	if len(f.Resources.Entries) != 1 {
		t.Fatalf("len(Resources.Entries) = %d, want 1", len(f.Resources.Entries))
	}
	entry := f.Resources.Entries[0]
	if entry.ID != 3 {
		t.Errorf("Entries[0].ID = %d, want 3", entry.ID)
	}
	if entry.Directory != nil {
		t.Errorf("Entries[0].Directory = %+v, want nil for a leaf entry", entry.Directory)
	}
	if entry.Data == nil {
		t.Fatal("Entries[0].Data is nil, want a decoded data entry")
	}
	if entry.Data.Struct.Size != uint32(len(payload)) {
		t.Errorf("Data.Struct.Size = %d, want %d", entry.Data.Struct.Size, len(payload))
	}

	got, err := f.GetData(entry.Data.Struct.OffsetToData, entry.Data.Struct.Size)
	if err != nil {
		t.Fatalf("GetData: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("resource payload = %q, want %q", got, payload)
	}
}

func TestParseNoResourceDirectory(t *testing.T) {
	raw := buildMinimalPE32(t)
	f, err := Parse(bytes.NewReader(raw), int64(len(raw)), Unmapped)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.Resources != nil {
		t.Errorf("Resources = %+v, want nil for an image with no resource directory", f.Resources)
	}
}
