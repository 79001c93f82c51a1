package pe

import "io"

type largestOffsetAndSize struct{ offset, size uint32 }

// getOverlayDataStartOffset scans every known structure (header, sections,
// data directories other than Security) for the one with the largest
// (offset+size) that still fits inside the file; anything past that point
// is overlay data appended after the image.
func (f *PEFile) getOverlayDataStartOffset() uint32 {
	if f.OptionalHeader == nil {
		return 0
	}

	largest := largestOffsetAndSize{}
	consider := func(candidate largestOffsetAndSize) {
		sum := candidate.offset + candidate.size
		if sum <= uint32(f.size) && sum > largest.offset+largest.size {
			largest = candidate
		}
	}

	consider(largestOffsetAndSize{
		offset: f.Dos.NextHeaderOffset + 24,
		size:   uint32(f.FileHeader.SizeOfOptionalHeader),
	})

	for _, s := range f.Sections {
		consider(largestOffsetAndSize{offset: s.PointerToRawData, size: s.SizeOfRawData})
	}

	dds := f.OptionalHeader.DataDirectories()
	for idx, d := range dds {
		if idx == ImageDirectoryEntrySecurity {
			continue
		}
		consider(largestOffsetAndSize{offset: d.VirtualAddress, size: d.Size})
	}

	if uint32(f.size)-largest.size > largest.offset {
		return largest.offset + largest.size
	}
	return 0
}

// GetOverlay returns a reader over the trailing bytes appended after the
// image proper, or nil if there is none.
func (f *PEFile) GetOverlay() *io.SectionReader {
	f.OverlayOffset = int64(f.getOverlayDataStartOffset())
	if f.OverlayOffset != 0 {
		return io.NewSectionReader(f.src, f.OverlayOffset, f.size-f.OverlayOffset)
	}
	return nil
}
