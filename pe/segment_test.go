package pe

import (
	"bytes"
	"testing"

	"github.com/wanglei-coder/dnpe/pe/bio"
)

func TestRawSegmentVirtualSizePadding(t *testing.T) {
	s := NewRawSegment([]byte{1, 2, 3}, 8)
	if s.PhysicalSize() != 3 {
		t.Errorf("PhysicalSize() = %d, want 3", s.PhysicalSize())
	}
	if s.VirtualSize() != 8 {
		t.Errorf("VirtualSize() = %d, want 8", s.VirtualSize())
	}
}

func TestRawSegmentVirtualSizeDefaultsToDataLen(t *testing.T) {
	s := NewRawSegment([]byte{1, 2, 3, 4}, 0)
	if s.VirtualSize() != 4 {
		t.Errorf("VirtualSize() = %d, want 4", s.VirtualSize())
	}
}

func TestCompositeSegmentUpdateOffsetsAndWrite(t *testing.T) {
	a := NewRawSegment([]byte{0xAA, 0xAA}, 0)
	b := NewPaddingSegment(4)
	c := NewRawSegment([]byte{0xCC, 0xCC, 0xCC}, 0)
	comp := NewCompositeSegment(4, a, b, c)

	comp.UpdateOffsets(OffsetParams{NewFileOffset: 0, NewRVA: 0x1000, ParentAlign: 4})

	if a.FileOffset() != 0 || a.RVA() != 0x1000 {
		t.Errorf("a offsets = %d/%x, want 0/0x1000", a.FileOffset(), a.RVA())
	}
	// a occupies 2 physical bytes, aligned up to 4 for the next child
	if b.FileOffset() != 4 {
		t.Errorf("b.FileOffset() = %d, want 4", b.FileOffset())
	}
	// b is virtual-only: c's file offset follows a's physical size directly,
	// since PaddingSegment contributes 0 physical bytes
	if c.FileOffset() != 4 {
		t.Errorf("c.FileOffset() = %d, want 4", c.FileOffset())
	}

	w := bio.NewWriter()
	if err := comp.Write(w); err != nil {
		t.Fatalf("Write: %v", err)
	}
	want := []byte{0xAA, 0xAA, 0, 0, 0xCC, 0xCC, 0xCC}
	if !bytes.Equal(w.Bytes(), want) {
		t.Errorf("Write() = %v, want %v", w.Bytes(), want)
	}
}

func TestPatchedSegmentAppliesPatchAfterWrite(t *testing.T) {
	base := NewRawSegment([]byte{0, 0, 0, 0}, 0)
	patched := NewPatchedSegment(base)
	patched.Patch(1, []byte{0xFF, 0xFF})

	w := bio.NewWriter()
	if err := patched.Write(w); err != nil {
		t.Fatalf("Write: %v", err)
	}
	want := []byte{0, 0xFF, 0xFF, 0}
	if !bytes.Equal(w.Bytes(), want) {
		t.Errorf("Write() = %v, want %v", w.Bytes(), want)
	}
}

func TestPatchedSegmentRejectsOutOfRangePatch(t *testing.T) {
	base := NewRawSegment([]byte{0, 0}, 0)
	patched := NewPatchedSegment(base)
	patched.Patch(1, []byte{1, 2, 3})

	w := bio.NewWriter()
	if err := patched.Write(w); err == nil {
		t.Fatal("expected error patching past segment end")
	}
}
