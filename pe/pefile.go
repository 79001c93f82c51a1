package pe

import (
	"io"

	"github.com/pkg/errors"

	"github.com/wanglei-coder/dnpe/pe/bio"
	"github.com/wanglei-coder/dnpe/pe/errs"
)

// PEFile is the layered view of a PE image: DOS header, one file header,
// one optional header, an ordered non-overlapping section table, and
// whatever "extra header" bytes sit between the section table and the
// first section's payload.
type PEFile struct {
	Dos            DosHeader
	FileHeader     FileHeader
	OptionalHeader OptionalHeader // *OptionalHeader32 or *OptionalHeader64, nil if absent
	Is64           bool
	Sections       []*Section
	ExtraHeader    []byte

	RichHeader  *RichHeader
	COFFSymbols []COFFSymbol
	Symbols     []*Symbol
	StringTable StringTable
	Imports     []*Import
	DelayImports []*DelayImport
	Resources   *ResourceDirectory
	OverlayOffset int64

	mode MappingMode
	src  io.ReaderAt
	size int64
}

// Reader exposes the underlying byte source so collaborators (the metadata
// engine, the x86 disassembler's caller) can fork sub-readers without the
// PEFile itself growing RVA-resolution helpers for every consumer.
func (f *PEFile) Reader() io.ReaderAt { return f.src }

func (f *PEFile) Size() int64 { return f.size }

func (f *PEFile) MappingMode() MappingMode { return f.mode }

// Parse implements the six-step algorithm of the design's PE parsing
// section: DOS header, PE signature, file+optional headers, section
// headers, extra-header bytes, then per-section (file_offset, size)
// resolution keyed by mode.
func Parse(src io.ReaderAt, size int64, mode MappingMode) (*PEFile, error) {
	if size < MinFileSize {
		return nil, errors.Wrap(ErrInvalidPESize, "Parse")
	}
	r := bio.NewReader(src, size)

	dos, err := readDosHeader(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading DOS header")
	}

	if err := r.Seek(int64(dos.NextHeaderOffset)); err != nil {
		return nil, err
	}
	sig, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	if sig != ImageNTHeaderSignature {
		return nil, errs.BadImageAt(uint64(dos.NextHeaderOffset), "PE signature not found")
	}

	fh, err := readFileHeader(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading file header")
	}

	optHeaderStart := r.Position()
	oh, is64, err := readOptionalHeader(r, fh.SizeOfOptionalHeader)
	if err != nil {
		return nil, errors.Wrap(err, "reading optional header")
	}

	if err := r.Seek(optHeaderStart + int64(fh.SizeOfOptionalHeader)); err != nil {
		return nil, err
	}

	f := &PEFile{
		Dos:            dos,
		FileHeader:     fh,
		OptionalHeader: oh,
		Is64:           is64,
		mode:           mode,
		src:            src,
		size:           size,
	}

	// Best-effort supplemental parsing that other fields (section names via
	// numeric string-table offsets) depend on; failures are tolerated the
	// way the teacher's NewFile treats optional structures.
	_ = f.readStringTable()
	_ = f.readCOFFSymbols()
	_ = f.removeAuxSymbols()

	sections, err := readSections(r, int(fh.NumberOfSections), mode, f.StringTable)
	if err != nil {
		return nil, errors.Wrap(err, "reading section table")
	}
	f.Sections = sections

	sectionTableEnd := r.Position()
	if oh != nil {
		sizeOfHeaders := int64(oh.SizeOfHeadersValue())
		if sizeOfHeaders > sectionTableEnd && sizeOfHeaders <= size {
			extra, err := r.ReadBytesAt(sectionTableEnd, int(sizeOfHeaders-sectionTableEnd))
			if err != nil {
				return nil, errors.Wrap(err, "reading extra header bytes")
			}
			f.ExtraHeader = extra
		}
	}

	_ = f.readRichHeader()
	_ = f.readImportDirectory()
	_ = f.readDelayImportDirectory()
	f.Resources, _ = f.readResourceDirectory()

	return f, nil
}

// Section looks up a section by exact name.
func (f *PEFile) Section(name string) *Section {
	for _, s := range f.Sections {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// SectionByRVA returns the section whose [VirtualAddress, VirtualAddress+
// max(VirtualSize,SizeOfRawData)) range contains rva, or nil.
func (f *PEFile) SectionByRVA(rva uint32) *Section {
	for _, s := range f.Sections {
		size := maxU32(s.VirtualSize, s.SizeOfRawData)
		if rva >= s.VirtualAddress && rva < s.VirtualAddress+size {
			return s
		}
	}
	return nil
}

// DataAtRVA reads length bytes starting at rva from whichever section
// contains it, zero-filling past the section's physical bytes. It returns
// an OutOfBounds error when no section contains rva; header bytes are not
// served (GetData does that).
func (f *PEFile) DataAtRVA(rva, length uint32) ([]byte, error) {
	s := f.SectionByRVA(rva)
	if s == nil {
		return nil, errs.OutOfBoundsAt(uint64(rva), "no section contains RVA")
	}
	data, err := s.Data()
	if err != nil {
		return nil, err
	}
	start := rva - s.VirtualAddress
	if uint64(start) > uint64(len(data)) {
		// inside the zero-filled virtual tail
		if uint64(start)+uint64(length) <= uint64(s.VirtualSize) {
			return make([]byte, length), nil
		}
		return nil, errs.OutOfBoundsAt(uint64(rva), "RVA past section contents")
	}
	end := start + length
	if end > uint32(len(data)) {
		padded := make([]byte, length)
		copy(padded, data[start:])
		return padded, nil
	}
	return data[start:end], nil
}

// DataDirectory returns data directory i from the optional header, or a
// zero (empty) directory if there is no optional header or the index is
// out of range.
func (f *PEFile) DataDirectory(i int) DataDirectory {
	if f.OptionalHeader == nil || i < 0 || i >= 16 {
		return DataDirectory{}
	}
	return f.OptionalHeader.DataDirectories()[i]
}

// EntryPointRVA returns AddressOfEntryPoint, or 0 if there's no optional
// header.
func (f *PEFile) EntryPointRVA() uint32 {
	if f.OptionalHeader == nil {
		return 0
	}
	return f.OptionalHeader.EntryPointRVA()
}

// AddSection appends a new section, characteristics as given, with its
// RVA and file offset left unassigned until Rebuild recomputes the whole
// layout.
func (f *PEFile) AddSection(name string, characteristics uint32, data []byte) (*Section, error) {
	if len(name) > 8 {
		return nil, errs.InvariantAt(0, "section name longer than 8 bytes: "+name)
	}
	var nameBuf [8]byte
	copy(nameBuf[:], name)
	sh := SectionHeader{
		Name:            nameBuf,
		VirtualSize:     uint32(len(data)),
		SizeOfRawData:   uint32(len(data)),
		Characteristics: characteristics,
	}
	s := &Section{SectionHeader: sh, Name: name, contents: NewRawSegment(data, uint32(len(data)))}
	f.Sections = append(f.Sections, s)
	f.FileHeader.NumberOfSections = uint16(len(f.Sections))
	return s, nil
}

// RemoveSection deletes the named section, reporting whether one was
// found.
func (f *PEFile) RemoveSection(name string) bool {
	for i, s := range f.Sections {
		if s.Name == name {
			f.Sections = append(f.Sections[:i], f.Sections[i+1:]...)
			f.FileHeader.NumberOfSections = uint16(len(f.Sections))
			return true
		}
	}
	return false
}

// ReplaceSection swaps the named section's contents, keeping its
// characteristics; SizeOfRawData becomes the new length and VirtualSize is
// raised to it when the new contents are larger (it is never lowered).
func (f *PEFile) ReplaceSection(name string, data []byte) error {
	s := f.Section(name)
	if s == nil {
		return errs.InvariantAt(0, "no such section: "+name)
	}
	s.contents = NewRawSegment(data, uint32(len(data)))
	s.SizeOfRawData = uint32(len(data))
	if uint32(len(data)) > s.VirtualSize {
		s.VirtualSize = uint32(len(data))
	}
	return nil
}

// Rebuild performs the two-phase "assign offsets then write" walk of
// design §4.2: it recomputes every section's PointerToRawData/
// VirtualAddress from FileAlignment/SectionAlignment, recomputes
// SizeOfImage and SizeOfHeaders, then serializes headers followed by
// section contents into w. Section order in f.Sections is preserved (the
// caller is responsible for having kept it RVA-sorted).
func (f *PEFile) Rebuild(w *bio.Writer) error {
	if f.OptionalHeader == nil {
		return errs.InvariantAt(0, "cannot rebuild a file with no optional header")
	}
	fileAlign := f.OptionalHeader.FileAlign()
	if fileAlign == 0 {
		fileAlign = FileAlignmentHardcodedValue
	}
	secAlign := f.OptionalHeader.SectionAlign()
	if secAlign == 0 {
		secAlign = 0x1000
	}

	// Phase 1: assign. Header region occupies [0, sizeOfHeaders) on disk
	// and in RVA space; sections follow, aligned independently in each
	// space.
	headerLen := f.headerLength()
	sizeOfHeaders := alignUp(uint32(headerLen), fileAlign)
	setSizeOfHeaders(f.OptionalHeader, sizeOfHeaders)

	fileOff := sizeOfHeaders
	rva := alignUp(sizeOfHeaders, secAlign)
	for _, s := range f.Sections {
		s.PointerToRawData = fileOff
		s.VirtualAddress = rva
		phys := alignUp(s.SizeOfRawData, fileAlign)
		virt := alignUp(maxU32(s.VirtualSize, s.SizeOfRawData), secAlign)
		fileOff = alignUp(fileOff+phys, fileAlign)
		rva = alignUp(rva+virt, secAlign)
	}
	setSizeOfImage(f.OptionalHeader, rva)

	// Phase 2: emit.
	if err := f.writeHeaders(w, sizeOfHeaders); err != nil {
		return err
	}
	for _, s := range f.Sections {
		if gap := int64(s.PointerToRawData) - w.Position(); gap > 0 {
			w.WriteBytes(make([]byte, gap))
		}
		data, err := s.Data()
		if err != nil {
			return err
		}
		w.WriteBytes(data)
		w.AlignTo(int(fileAlign))
	}
	return nil
}

func (f *PEFile) headerLength() int {
	return DosHeaderSize + 4 + FileHeaderSize + int(f.FileHeader.SizeOfOptionalHeader) +
		len(f.Sections)*SectionHeaderSize + len(f.ExtraHeader)
}

func (f *PEFile) writeHeaders(w *bio.Writer, sizeOfHeaders uint32) error {
	if err := f.Dos.write(w); err != nil {
		return err
	}
	w.WriteU32(ImageNTHeaderSignature)
	if err := w.WriteStruct(f.FileHeader); err != nil {
		return err
	}
	if err := writeOptionalHeader(w, f.OptionalHeader, f.Is64); err != nil {
		return err
	}
	for _, s := range f.Sections {
		writeSectionHeader(w, s.SectionHeader)
	}
	w.WriteBytes(f.ExtraHeader)
	if gap := int64(sizeOfHeaders) - w.Position(); gap > 0 {
		w.WriteBytes(make([]byte, gap))
	}
	return nil
}

func setSizeOfHeaders(oh OptionalHeader, v uint32) {
	switch h := oh.(type) {
	case *OptionalHeader32:
		h.SizeOfHeaders = v
	case *OptionalHeader64:
		h.SizeOfHeaders = v
	}
}

func setSizeOfImage(oh OptionalHeader, v uint32) {
	switch h := oh.(type) {
	case *OptionalHeader32:
		h.SizeOfImage = v
	case *OptionalHeader64:
		h.SizeOfImage = v
	}
}

func writeOptionalHeader(w *bio.Writer, oh OptionalHeader, is64 bool) error {
	if oh == nil {
		return nil
	}
	if is64 {
		h := oh.(*OptionalHeader64)
		if err := w.WriteStruct(struct {
			Magic                       uint16
			MajorLinkerVersion          uint8
			MinorLinkerVersion          uint8
			SizeOfCode                  uint32
			SizeOfInitializedData       uint32
			SizeOfUninitializedData     uint32
			AddressOfEntryPoint         uint32
			BaseOfCode                  uint32
			ImageBase                   uint64
			SectionAlignment            uint32
			FileAlignment               uint32
			MajorOperatingSystemVersion uint16
			MinorOperatingSystemVersion uint16
			MajorImageVersion           uint16
			MinorImageVersion           uint16
			MajorSubsystemVersion       uint16
			MinorSubsystemVersion       uint16
			Win32VersionValue           uint32
			SizeOfImage                 uint32
			SizeOfHeaders               uint32
			CheckSum                    uint32
			Subsystem                   uint16
			DllCharacteristics          uint16
			SizeOfStackReserve          uint64
			SizeOfStackCommit           uint64
			SizeOfHeapReserve           uint64
			SizeOfHeapCommit            uint64
			LoaderFlags                 uint32
			NumberOfRvaAndSizes         uint32
		}{
			h.Magic, h.MajorLinkerVersion, h.MinorLinkerVersion, h.SizeOfCode,
			h.SizeOfInitializedData, h.SizeOfUninitializedData, h.AddressOfEntryPoint,
			h.BaseOfCode, h.ImageBase, h.SectionAlignment, h.FileAlignment,
			h.MajorOperatingSystemVersion, h.MinorOperatingSystemVersion,
			h.MajorImageVersion, h.MinorImageVersion, h.MajorSubsystemVersion,
			h.MinorSubsystemVersion, h.Win32VersionValue, h.SizeOfImage, h.SizeOfHeaders,
			h.CheckSum, h.Subsystem, h.DllCharacteristics, h.SizeOfStackReserve,
			h.SizeOfStackCommit, h.SizeOfHeapReserve, h.SizeOfHeapCommit, h.LoaderFlags,
			h.NumberOfRvaAndSizes,
		}); err != nil {
			return err
		}
		writeDataDirectories(w, h.DataDirectory, h.NumberOfRvaAndSizes)
		return nil
	}
	h := oh.(*OptionalHeader32)
	if err := w.WriteStruct(struct {
		Magic                       uint16
		MajorLinkerVersion          uint8
		MinorLinkerVersion          uint8
		SizeOfCode                  uint32
		SizeOfInitializedData       uint32
		SizeOfUninitializedData     uint32
		AddressOfEntryPoint         uint32
		BaseOfCode                  uint32
		BaseOfData                  uint32
		ImageBase                   uint32
		SectionAlignment            uint32
		FileAlignment               uint32
		MajorOperatingSystemVersion uint16
		MinorOperatingSystemVersion uint16
		MajorImageVersion           uint16
		MinorImageVersion           uint16
		MajorSubsystemVersion       uint16
		MinorSubsystemVersion       uint16
		Win32VersionValue           uint32
		SizeOfImage                 uint32
		SizeOfHeaders               uint32
		CheckSum                    uint32
		Subsystem                   uint16
		DllCharacteristics          uint16
		SizeOfStackReserve          uint32
		SizeOfStackCommit           uint32
		SizeOfHeapReserve           uint32
		SizeOfHeapCommit            uint32
		LoaderFlags                 uint32
		NumberOfRvaAndSizes         uint32
	}{
		h.Magic, h.MajorLinkerVersion, h.MinorLinkerVersion, h.SizeOfCode,
		h.SizeOfInitializedData, h.SizeOfUninitializedData, h.AddressOfEntryPoint,
		h.BaseOfCode, h.BaseOfData, h.ImageBase, h.SectionAlignment, h.FileAlignment,
		h.MajorOperatingSystemVersion, h.MinorOperatingSystemVersion,
		h.MajorImageVersion, h.MinorImageVersion, h.MajorSubsystemVersion,
		h.MinorSubsystemVersion, h.Win32VersionValue, h.SizeOfImage, h.SizeOfHeaders,
		h.CheckSum, h.Subsystem, h.DllCharacteristics, h.SizeOfStackReserve,
		h.SizeOfStackCommit, h.SizeOfHeapReserve, h.SizeOfHeapCommit, h.LoaderFlags,
		h.NumberOfRvaAndSizes,
	}); err != nil {
		return err
	}
	writeDataDirectories(w, h.DataDirectory, h.NumberOfRvaAndSizes)
	return nil
}

// GetData mirrors the teacher's File.GetData: resolve rva against the
// section table, falling back to raw header/file bytes when it precedes
// the first section.
func (f *PEFile) GetData(rva, length uint32) ([]byte, error) {
	s := f.SectionByRVA(rva)
	if s != nil {
		return s.readRange(rva, length, f)
	}
	// ExtraHeader holds the header bytes that start right after the section
	// table.
	extraStart := f.Dos.NextHeaderOffset + 4 + FileHeaderSize +
		uint32(f.FileHeader.SizeOfOptionalHeader) + uint32(len(f.Sections))*SectionHeaderSize
	if rva >= extraStart && uint64(rva) < uint64(extraStart)+uint64(len(f.ExtraHeader)) {
		start := rva - extraStart
		end := start + length
		if end > uint32(len(f.ExtraHeader)) {
			end = uint32(len(f.ExtraHeader))
		}
		return f.ExtraHeader[start:end], nil
	}
	if int64(rva) < f.size {
		buf := make([]byte, length)
		n, err := f.src.ReadAt(buf, int64(rva))
		if err != nil && n == 0 {
			return nil, err
		}
		return buf[:n], nil
	}
	return nil, errors.New("data at RVA can't be fetched, corrupt header?")
}

// readRange reads length bytes from a section starting at file-relative rva,
// clamped to the section's own bounds; grounded on the teacher's
// Section.GetData.
func (s *Section) readRange(rva, length uint32, f *PEFile) ([]byte, error) {
	data, err := s.Data()
	if err != nil {
		return nil, err
	}
	if rva < s.VirtualAddress {
		return nil, errs.OutOfBoundsAt(uint64(rva), "rva before section start")
	}
	start := rva - s.VirtualAddress
	if uint64(start) > uint64(len(data)) {
		return []byte{}, nil
	}
	end := start + length
	if end > uint32(len(data)) {
		end = uint32(len(data))
	}
	return data[start:end], nil
}

// ReadUint16 reads a little-endian uint16 directly from the underlying
// source at an absolute file offset, for callers (the resource walker) that
// work in raw file-offset space rather than RVA space.
func (f *PEFile) ReadUint16(offset uint32) (uint16, error) {
	var b [2]byte
	if _, err := f.src.ReadAt(b[:], int64(offset)); err != nil {
		return 0, err
	}
	return uint16(b[0]) | uint16(b[1])<<8, nil
}

