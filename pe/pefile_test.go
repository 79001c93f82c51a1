package pe

import (
	"bytes"
	"testing"

	"github.com/wanglei-coder/dnpe/pe/bio"
)

// buildMinimalPE32 assembles a one-section 32-bit PE image with a single
// import descriptor (KERNEL32.dll!CreateFileW), by populating a PEFile and
// running it through Rebuild — the same two-phase assign-then-emit path a
// real caller would use to synthesize an image from scratch.
func buildMinimalPE32(t *testing.T) []byte {
	t.Helper()

	// Import table bytes, laid out with RVAs anchored at 0x1000, the RVA
	// Rebuild is expected to assign the lone section (verified by the
	// headerLen/alignment arithmetic below).
	const sectionRVA = 0x1000
	iw := bio.NewWriter()
	iw.WriteU32(sectionRVA + 40) // descriptor: OriginalFirstThunk -> ILT
	iw.WriteU32(0)               // TimeDateStamp
	iw.WriteU32(0)               // ForwarderChain
	iw.WriteU32(sectionRVA + 70) // Name -> "KERNEL32.dll"
	iw.WriteU32(sectionRVA + 48) // FirstThunk -> IAT
	iw.WriteU32(0)               // null descriptor: terminates the table
	iw.WriteU32(0)
	iw.WriteU32(0)
	iw.WriteU32(0)
	iw.WriteU32(0)
	iw.WriteU32(sectionRVA + 56) // ILT[0] -> hint/name entry
	iw.WriteU32(0)               // ILT terminator
	iw.WriteU32(sectionRVA + 56) // IAT[0] -> hint/name entry
	iw.WriteU32(0)               // IAT terminator
	iw.WriteU16(0)                // hint
	iw.WriteBytes([]byte("CreateFileW\x00"))
	iw.WriteBytes([]byte("KERNEL32.dll\x00"))
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
	oh.DataDirectory[ImageDirectoryEntryImport] = DataDirectory{VirtualAddress: sectionRVA, Size: 20}

	f := &PEFile{
		Dos: DosHeader{
			Magic:            ImageDOSSignature,
			NextHeaderOffset: 64,
		},
		FileHeader: FileHeader{
			Machine:              0x14c, // IMAGE_FILE_MACHINE_I386
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

func TestParseMinimalPEWithImport(t *testing.T) {
	raw := buildMinimalPE32(t)

	f, err := Parse(bytes.NewReader(raw), int64(len(raw)), Unmapped)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.Is64 {
		t.Error("Is64 = true, want false for a PE32 image")
	}
	if len(f.Sections) != 1 || f.Sections[0].Name != ".rdata" {
		t.Fatalf("Sections = %+v", f.Sections)
	}
	if len(f.Imports) != 1 {
		t.Fatalf("len(Imports) = %d, want 1", len(f.Imports))
	}
	imp := f.Imports[0]
	if imp.Name != "KERNEL32.dll" {
		t.Errorf("Imports[0].Name = %q, want KERNEL32.dll", imp.Name)
	}
	if len(imp.Functions) != 1 || imp.Functions[0].Name != "CreateFileW" {
		t.Fatalf("Imports[0].Functions = %+v", imp.Functions)
	}
	if imp.Functions[0].ByOrdinal {
		t.Error("Functions[0].ByOrdinal = true, want false")
	}
}

// TestRebuildRoundTrip closes the structural round-trip invariant at the
// PEFile level: parsing buildMinimalPE32's bytes and rebuilding immediately
// must reproduce the exact same bytes, since nothing about the image
// changed between the two passes.
func TestRebuildRoundTrip(t *testing.T) {
	raw := buildMinimalPE32(t)

	f, err := Parse(bytes.NewReader(raw), int64(len(raw)), Unmapped)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	w := bio.NewWriter()
	if err := f.Rebuild(w); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if !bytes.Equal(w.Bytes(), raw) {
		t.Errorf("Rebuild() after Parse() produced different bytes than the original\ngot:  % X\nwant: % X", w.Bytes(), raw)
	}
}

func TestImpHash(t *testing.T) {
	raw := buildMinimalPE32(t)
	f, err := Parse(bytes.NewReader(raw), int64(len(raw)), Unmapped)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	hash, err := f.ImpHash()
	if err != nil {
		t.Fatalf("ImpHash: %v", err)
	}
	if len(hash) != 32 {
		t.Errorf("ImpHash() = %q, want a 32-char hex digest", hash)
	}
}

func TestAuthentihashExcludesChecksumField(t *testing.T) {
	raw := buildMinimalPE32(t)
	f, err := Parse(bytes.NewReader(raw), int64(len(raw)), Unmapped)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	h1 := f.Authentihash()
	if len(h1) != 32 {
		t.Fatalf("Authentihash() length = %d, want 32 (sha256)", len(h1))
	}

	// Flip the CheckSum field in a copy of the raw bytes; Authentihash
	// excludes it, so the digest must be unchanged.
	raw2 := append([]byte(nil), raw...)
	checksumOffset := int(f.Dos.NextHeaderOffset) + 4 + FileHeaderSize + 64
	raw2[checksumOffset] ^= 0xFF
	f2, err := Parse(bytes.NewReader(raw2), int64(len(raw2)), Unmapped)
	if err != nil {
		t.Fatalf("Parse (mutated): %v", err)
	}
	h2 := f2.Authentihash()
	if !bytes.Equal(h1, h2) {
		t.Error("Authentihash() changed after flipping the CheckSum field, want it excluded")
	}

	// Flipping the file's last byte (file-alignment padding after the
	// section data, still inside the hashed range) must change the digest.
	raw3 := append([]byte(nil), raw...)
	raw3[len(raw3)-1] ^= 0xFF
	f3, err := Parse(bytes.NewReader(raw3), int64(len(raw3)), Unmapped)
	if err != nil {
		t.Fatalf("Parse (mutated tail): %v", err)
	}
	h3 := f3.Authentihash()
	if bytes.Equal(h1, h3) {
		t.Error("Authentihash() unchanged after flipping the file's last byte, want it to change")
	}
}

func TestSectionByRVA(t *testing.T) {
	raw := buildMinimalPE32(t)
	f, err := Parse(bytes.NewReader(raw), int64(len(raw)), Unmapped)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if s := f.SectionByRVA(0x1000); s == nil || s.Name != ".rdata" {
		t.Errorf("SectionByRVA(0x1000) = %v, want .rdata", s)
	}
	if s := f.SectionByRVA(0x9999); s != nil {
		t.Errorf("SectionByRVA(0x9999) = %v, want nil", s)
	}
}
