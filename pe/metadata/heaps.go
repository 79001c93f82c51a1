package metadata

import (
	"unicode/utf16"

	"github.com/wanglei-coder/dnpe/pe/errs"
)

// StringsHeap is the #Strings heap: UTF-8 (in practice ASCII/UTF-8 mixed)
// strings addressed by byte offset, NUL-terminated.
type StringsHeap struct{ buf []byte }

func newStringsHeap(buf []byte) *StringsHeap { return &StringsHeap{buf: buf} }

// String returns the NUL-terminated string starting at offset idx. Index 0
// is always the empty string.
func (h *StringsHeap) String(idx uint32) (string, error) {
	if h == nil || idx == 0 {
		return "", nil
	}
	if int(idx) >= len(h.buf) {
		return "", errs.OutOfBoundsAt(uint64(idx), "#Strings index out of range")
	}
	end := idx
	for int(end) < len(h.buf) && h.buf[end] != 0 {
		end++
	}
	return string(h.buf[idx:end]), nil
}

// BlobHeap is the #Blob heap: length-prefixed (compressed integer) binary
// blobs addressed by byte offset.
type BlobHeap struct{ buf []byte }

func newBlobHeap(buf []byte) *BlobHeap { return &BlobHeap{buf: buf} }

// Blob returns the blob bytes at idx, having consumed its compressed
// length prefix. Index 0 is the empty blob.
func (h *BlobHeap) Blob(idx uint32) ([]byte, error) {
	if h == nil || idx == 0 {
		return nil, nil
	}
	if int(idx) >= len(h.buf) {
		return nil, errs.OutOfBoundsAt(uint64(idx), "#Blob index out of range")
	}
	length, n, err := readCompressedAt(h.buf, int(idx))
	if err != nil {
		return nil, err
	}
	start := int(idx) + n
	end := start + int(length)
	if end > len(h.buf) {
		return nil, errs.OutOfBoundsAt(uint64(idx), "#Blob entry runs past heap end")
	}
	return h.buf[start:end], nil
}

// USHeap is the #US ("user strings") heap: length-prefixed UTF-16LE
// strings with a trailing flag byte marking whether any character has the
// high bit set or is one of a small set of "special" code points.
type USHeap struct{ buf []byte }

func newUSHeap(buf []byte) *USHeap { return &USHeap{buf: buf} }

// String returns the decoded UTF-16 user string at idx.
func (h *USHeap) String(idx uint32) (string, error) {
	if h == nil || idx == 0 {
		return "", nil
	}
	if int(idx) >= len(h.buf) {
		return "", errs.OutOfBoundsAt(uint64(idx), "#US index out of range")
	}
	length, n, err := readCompressedAt(h.buf, int(idx))
	if err != nil {
		return "", err
	}
	start := int(idx) + n
	end := start + int(length)
	if end > len(h.buf) {
		return "", errs.OutOfBoundsAt(uint64(idx), "#US entry runs past heap end")
	}
	// the final byte of a non-empty entry is the trailing flag, not text
	textEnd := end
	if length > 0 {
		textEnd--
	}
	units := make([]uint16, 0, (textEnd-start)/2)
	for p := start; p+2 <= textEnd; p += 2 {
		units = append(units, uint16(h.buf[p])|uint16(h.buf[p+1])<<8)
	}
	return string(utf16.Decode(units)), nil
}

// GUIDHeap is the #GUID heap: 1-based indices, each unit 16 bytes.
type GUIDHeap struct{ buf []byte }

func newGUIDHeap(buf []byte) *GUIDHeap { return &GUIDHeap{buf: buf} }

// GUID returns the 16 raw bytes of GUID number idx (1-based). Index 0 is
// the nil GUID.
func (h *GUIDHeap) GUID(idx uint32) ([16]byte, error) {
	var out [16]byte
	if h == nil || idx == 0 {
		return out, nil
	}
	off := (int(idx) - 1) * 16
	if off+16 > len(h.buf) {
		return out, errs.OutOfBoundsAt(uint64(idx), "#GUID index out of range")
	}
	copy(out[:], h.buf[off:off+16])
	return out, nil
}

// readCompressedAt decodes an ECMA-335 compressed unsigned integer
// starting at byte offset off in buf, returning its value and byte length.
func readCompressedAt(buf []byte, off int) (uint32, int, error) {
	if off >= len(buf) {
		return 0, 0, errs.OutOfBoundsAt(uint64(off), "compressed integer past end of heap")
	}
	b0 := buf[off]
	switch {
	case b0&0x80 == 0:
		return uint32(b0), 1, nil
	case b0&0xC0 == 0x80:
		if off+1 >= len(buf) {
			return 0, 0, errs.OutOfBoundsAt(uint64(off), "truncated compressed integer")
		}
		return uint32(b0&0x3F)<<8 | uint32(buf[off+1]), 2, nil
	case b0&0xE0 == 0xC0:
		if off+3 >= len(buf) {
			return 0, 0, errs.OutOfBoundsAt(uint64(off), "truncated compressed integer")
		}
		return uint32(b0&0x1F)<<24 | uint32(buf[off+1])<<16 | uint32(buf[off+2])<<8 | uint32(buf[off+3]), 4, nil
	default:
		return 0, 0, errs.MalformedAt(uint64(off), "invalid compressed integer prefix")
	}
}
