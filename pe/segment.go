package pe

import (
	"github.com/wanglei-coder/dnpe/pe/bio"
	"github.com/wanglei-coder/dnpe/pe/errs"
)

// OffsetParams carries the values a segment needs to relocate itself
// during the assign phase of a rebuild: the new file offset and RVA it has
// been given by its parent, and the alignment its parent enforces on
// children (used by composites to pad between sub-segments).
type OffsetParams struct {
	NewFileOffset uint32
	NewRVA        uint32
	ParentAlign   uint32
}

// Segment is the capability every "chunk of bytes at a (file offset, RVA)
// pair" implements: raw-bytes leaves, composites, zero-padding wrappers and
// patched segments, per the closed variant set in the design notes.
type Segment interface {
	FileOffset() uint32
	RVA() uint32
	PhysicalSize() uint32
	VirtualSize() uint32
	CanUpdateOffsets() bool
	UpdateOffsets(p OffsetParams)
	Write(w *bio.Writer) error
}

func alignUp(v, align uint32) uint32 {
	if align == 0 {
		return v
	}
	if r := v % align; r != 0 {
		return v + (align - r)
	}
	return v
}

// RawSegment owns a contiguous slice of bytes. Its virtual size may exceed
// len(data); Write emits only the len(data) physical bytes, and the gap
// stands for zero-filled memory at load time.
type RawSegment struct {
	fileOffset uint32
	rva        uint32
	data       []byte
	virtSize   uint32
}

func NewRawSegment(data []byte, virtSize uint32) *RawSegment {
	if virtSize < uint32(len(data)) {
		virtSize = uint32(len(data))
	}
	return &RawSegment{data: data, virtSize: virtSize}
}

func (s *RawSegment) FileOffset() uint32 { return s.fileOffset }
func (s *RawSegment) RVA() uint32        { return s.rva }
func (s *RawSegment) PhysicalSize() uint32 { return uint32(len(s.data)) }
func (s *RawSegment) VirtualSize() uint32  { return s.virtSize }
func (s *RawSegment) CanUpdateOffsets() bool { return true }

func (s *RawSegment) UpdateOffsets(p OffsetParams) {
	s.fileOffset = p.NewFileOffset
	s.rva = p.NewRVA
}

func (s *RawSegment) Write(w *bio.Writer) error {
	w.WriteBytes(s.data)
	return nil
}

// Data returns the segment's owned bytes.
func (s *RawSegment) Data() []byte { return s.data }

// SetData replaces the segment's bytes, growing virtual size if needed.
func (s *RawSegment) SetData(data []byte) {
	s.data = data
	if uint32(len(data)) > s.virtSize {
		s.virtSize = uint32(len(data))
	}
}

// PaddingSegment is virtual-size-only: it contributes no physical bytes but
// reserves virtual address space (e.g. .bss).
type PaddingSegment struct {
	fileOffset uint32
	rva        uint32
	virtSize   uint32
}

func NewPaddingSegment(virtSize uint32) *PaddingSegment {
	return &PaddingSegment{virtSize: virtSize}
}

func (s *PaddingSegment) FileOffset() uint32   { return s.fileOffset }
func (s *PaddingSegment) RVA() uint32          { return s.rva }
func (s *PaddingSegment) PhysicalSize() uint32 { return 0 }
func (s *PaddingSegment) VirtualSize() uint32  { return s.virtSize }
func (s *PaddingSegment) CanUpdateOffsets() bool { return true }

func (s *PaddingSegment) UpdateOffsets(p OffsetParams) {
	s.fileOffset = p.NewFileOffset
	s.rva = p.NewRVA
}

func (s *PaddingSegment) Write(w *bio.Writer) error { return nil }

// CompositeSegment concatenates child segments in order, aligning each
// child's start to align (0 means no extra alignment beyond byte
// contiguity).
type CompositeSegment struct {
	fileOffset uint32
	rva        uint32
	children   []Segment
	align      uint32
}

func NewCompositeSegment(align uint32, children ...Segment) *CompositeSegment {
	return &CompositeSegment{children: children, align: align}
}

func (s *CompositeSegment) FileOffset() uint32 { return s.fileOffset }
func (s *CompositeSegment) RVA() uint32        { return s.rva }

func (s *CompositeSegment) PhysicalSize() uint32 {
	if len(s.children) == 0 {
		return 0
	}
	last := s.children[len(s.children)-1]
	return last.FileOffset() - s.fileOffset + last.PhysicalSize()
}

func (s *CompositeSegment) VirtualSize() uint32 {
	if len(s.children) == 0 {
		return 0
	}
	last := s.children[len(s.children)-1]
	return last.RVA() - s.rva + last.VirtualSize()
}

func (s *CompositeSegment) CanUpdateOffsets() bool { return true }

// UpdateOffsets is the "assign" half of the two-phase rebuild: it walks
// children in order, accumulating each one's physical/virtual size plus
// padding to the parent's alignment.
func (s *CompositeSegment) UpdateOffsets(p OffsetParams) {
	s.fileOffset = p.NewFileOffset
	s.rva = p.NewRVA
	align := p.ParentAlign
	if s.align != 0 {
		align = s.align
	}
	fo, rv := p.NewFileOffset, p.NewRVA
	for _, c := range s.children {
		c.UpdateOffsets(OffsetParams{NewFileOffset: fo, NewRVA: rv, ParentAlign: align})
		fo = alignUp(fo+c.PhysicalSize(), align)
		rv = alignUp(rv+c.VirtualSize(), align)
	}
}

// Write is the "emit" half: it writes children back to back. Gaps between
// consecutive children's file offsets introduced by alignment are
// zero-padded; a child's virtual size beyond its physical size is not
// written.
func (s *CompositeSegment) Write(w *bio.Writer) error {
	pos := s.fileOffset
	for _, c := range s.children {
		if gap := c.FileOffset() - pos; gap > 0 {
			w.WriteBytes(make([]byte, gap))
		}
		if err := c.Write(w); err != nil {
			return err
		}
		pos = c.FileOffset() + c.PhysicalSize()
	}
	return nil
}

func (s *CompositeSegment) Children() []Segment { return s.children }

// PatchedSegment wraps a base segment with post-serialization edits,
// enabling fixups (e.g. a checksum, an RVA only known after assignment)
// applied after the base has written itself.
type PatchedSegment struct {
	base    Segment
	patches []patch
}

type patch struct {
	offset uint32 // offset relative to the segment's own start
	bytes  []byte
}

func NewPatchedSegment(base Segment) *PatchedSegment {
	return &PatchedSegment{base: base}
}

// Patch schedules bytes to be spliced in at offset (relative to this
// segment) after the base segment has written itself.
func (s *PatchedSegment) Patch(offset uint32, bytes []byte) {
	s.patches = append(s.patches, patch{offset: offset, bytes: bytes})
}

func (s *PatchedSegment) FileOffset() uint32     { return s.base.FileOffset() }
func (s *PatchedSegment) RVA() uint32            { return s.base.RVA() }
func (s *PatchedSegment) PhysicalSize() uint32   { return s.base.PhysicalSize() }
func (s *PatchedSegment) VirtualSize() uint32    { return s.base.VirtualSize() }
func (s *PatchedSegment) CanUpdateOffsets() bool { return s.base.CanUpdateOffsets() }

func (s *PatchedSegment) UpdateOffsets(p OffsetParams) { s.base.UpdateOffsets(p) }

func (s *PatchedSegment) Write(w *bio.Writer) error {
	base := bio.NewWriter()
	if err := s.base.Write(base); err != nil {
		return err
	}
	buf := base.Bytes()
	for _, p := range s.patches {
		end := int(p.offset) + len(p.bytes)
		if end > len(buf) {
			return errs.InvariantAt(uint64(s.FileOffset()+p.offset), "patch exceeds segment size")
		}
		copy(buf[p.offset:end], p.bytes)
	}
	w.WriteBytes(buf)
	return nil
}
