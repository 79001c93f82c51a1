package pe

import (
	"bytes"
	"crypto/md5"
	"fmt"
	"sort"

	"github.com/wanglei-coder/dnpe/pe/bio"
	"github.com/wanglei-coder/dnpe/pe/errs"
)

// SectionHeader is the 40-byte on-disk section table entry.
type SectionHeader struct {
	Name                 [8]byte
	VirtualSize          uint32
	VirtualAddress       uint32
	SizeOfRawData        uint32
	PointerToRawData     uint32
	PointerToRelocations uint32
	PointerToLineNumbers uint32
	NumberOfRelocations  uint16
	NumberOfLineNumbers  uint16
	Characteristics      uint32
}

func (h SectionHeader) NameString() string { return cString(h.Name[:]) }

// Relocation is one COFF relocation table entry (10 bytes on disk): object
// files, and PE images built with incremental linking or /DEBUG:FULL still
// carrying unresolved symbol fixups, point PointerToRelocations/
// NumberOfRelocations at a table of these.
type Relocation struct {
	VirtualAddress   uint32
	SymbolTableIndex uint32
	Type             uint16
}

// readRelocations decodes sh's relocation table, if it has one, from a fork
// of r rooted at PointerToRelocations.
func readRelocations(r *bio.Reader, sh SectionHeader) ([]Relocation, error) {
	if sh.NumberOfRelocations == 0 {
		return nil, nil
	}
	const relocSize = 10
	sub, err := r.Fork(int64(sh.PointerToRelocations), int64(sh.NumberOfRelocations)*relocSize)
	if err != nil {
		return nil, errs.OutOfBoundsAt(uint64(sh.PointerToRelocations), "reading section relocations for "+sh.NameString())
	}
	relocs := make([]Relocation, sh.NumberOfRelocations)
	for i := range relocs {
		if err := sub.ReadStruct(&relocs[i]); err != nil {
			return nil, err
		}
	}
	return relocs, nil
}

// Section pairs a header with the Segment that owns its contents. The
// contents segment is sized to VirtualSize and physically carries
// min(VirtualSize, SizeOfRawData) bytes; the remainder is zero-filled at
// load per the PointerToRawData==0 open question (§9): such sections get a
// zero-length physical segment with full virtual size.
type Section struct {
	SectionHeader
	Name        string
	Relocations []Relocation
	contents    Segment
}

// Contents returns the segment backing this section's bytes.
func (s *Section) Contents() Segment { return s.contents }

// Data materializes the section's physical bytes (not padded to virtual
// size) by running its contents segment through a throwaway writer.
func (s *Section) Data() ([]byte, error) {
	w := bio.NewWriter()
	if err := s.contents.Write(w); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// Flags renders the section's read/write/execute characteristics as a
// short "rwx"-style string, dropping absent permissions.
func (s *Section) Flags() string {
	var flags string
	if s.Characteristics&ImageScnMemRead != 0 {
		flags += "r"
	}
	if s.Characteristics&ImageScnMemWrite != 0 {
		flags += "w"
	}
	if s.Characteristics&ImageScnMemExecute != 0 {
		flags += "x"
	}
	return flags
}

func (s *Section) MD5() (string, error) {
	data, err := s.Data()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", md5.Sum(data)), nil
}

func (s *Section) Entropy() (float64, error) {
	data, err := s.Data()
	if err != nil {
		return 0, err
	}
	var e EntropyCalculator
	_, _ = e.Write(data)
	return e.Sum(), nil
}

// byVirtualAddress enforces the ordering invariant sections must satisfy
// after parsing: strictly increasing, non-overlapping virtual addresses.
type byVirtualAddress []*Section

func (s byVirtualAddress) Len() int           { return len(s) }
func (s byVirtualAddress) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }
func (s byVirtualAddress) Less(i, j int) bool { return s[i].VirtualAddress < s[j].VirtualAddress }

func readSectionHeader(r *bio.Reader) (SectionHeader, error) {
	var sh SectionHeader
	err := r.ReadStruct(&sh)
	return sh, err
}

// readSections reads FileHeader.NumberOfSections headers starting at the
// reader's current position (immediately after the optional header), then
// materializes each section's contents segment according to mode. r is
// used both to walk the section table and, for Mapped mode, to fetch
// section bytes at reader.start_offset + VirtualAddress; per spec this
// assumes r's own base offset is the image base (0 for a top-level parse).
func readSections(r *bio.Reader, count int, mode MappingMode, st StringTable) ([]*Section, error) {
	sections := make([]*Section, count)
	for i := 0; i < count; i++ {
		sh, err := readSectionHeader(r)
		if err != nil {
			return nil, err
		}
		var fileOffset, physSize uint32
		switch mode {
		case Unmapped:
			fileOffset = sh.PointerToRawData
			physSize = min32(sh.VirtualSize, sh.SizeOfRawData)
			if sh.PointerToRawData == 0 {
				physSize = 0
			}
		case Mapped:
			fileOffset = sh.VirtualAddress
			physSize = min32(sh.VirtualSize, sh.SizeOfRawData)
		}

		var data []byte
		if physSize > 0 {
			data, err = r.ReadBytesAt(int64(fileOffset), int(physSize))
			if err != nil {
				return nil, errs.OutOfBoundsAt(uint64(fileOffset), "reading section "+sh.NameString())
			}
		}
		name, err := sh.fullName(st)
		if err != nil {
			name = sh.NameString()
		}
		relocs, err := readRelocations(r, sh)
		if err != nil {
			return nil, err
		}
		seg := NewRawSegment(data, sh.VirtualSize)
		sections[i] = &Section{SectionHeader: sh, Name: name, Relocations: relocs, contents: seg}
	}

	sort.Sort(byVirtualAddress(sections))
	for i, s := range sections[:max0(len(sections)-1)] {
		next := sections[i+1]
		if s.VirtualAddress+s.VirtualSize > next.VirtualAddress {
			return nil, errs.InvariantAt(uint64(s.VirtualAddress), "sections overlap in RVA space: "+s.Name+" / "+next.Name)
		}
	}
	return sections, nil
}

func min32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

func max0(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

// cString converts an ASCII byte sequence to a string, stopping at the
// first NUL or the end of b.
func cString(b []byte) string {
	i := bytes.IndexByte(b, 0)
	if i == -1 {
		i = len(b)
	}
	return string(b[:i])
}

func writeSectionHeader(w *bio.Writer, sh SectionHeader) {
	_ = w.WriteStruct(sh)
}
