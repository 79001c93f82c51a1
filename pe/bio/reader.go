// Package bio provides the random-access reader and sequential writer
// primitives shared by the PE model and the CLI metadata engine: primitive
// little-endian reads, ECMA-335 compressed integers, LEB128-style 7-bit
// integers, and cheap sub-range forking.
package bio

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/wanglei-coder/dnpe/pe/errs"
)

// Reader is a random-access byte stream over a fixed-size range of an
// underlying io.ReaderAt. Partial reads are errors, never short reads.
type Reader struct {
	r    io.ReaderAt
	base int64 // absolute offset in r where this range begins
	size int64 // length of this range
	pos  int64 // current position, relative to base
}

// NewReader wraps r, exposing only the range [0, size).
func NewReader(r io.ReaderAt, size int64) *Reader {
	return &Reader{r: r, base: 0, size: size}
}

// NewReaderAt wraps r, exposing the range [base, base+size).
func NewReaderAt(r io.ReaderAt, base, size int64) *Reader {
	return &Reader{r: r, base: base, size: size}
}

func (r *Reader) Size() int64 { return r.size }

func (r *Reader) Position() int64 { return r.pos }

func (r *Reader) Seek(offset int64) error {
	if offset < 0 || offset > r.size {
		return errs.OutOfBoundsAt(uint64(offset), "seek outside reader range")
	}
	r.pos = offset
	return nil
}

// Fork returns a cheap sub-reader over [offset, offset+size) of the current
// range, without copying any bytes. The returned reader's position starts
// at 0.
func (r *Reader) Fork(offset, size int64) (*Reader, error) {
	if offset < 0 || size < 0 || offset+size > r.size {
		return nil, errs.OutOfBoundsAt(uint64(r.base+offset), "fork range exceeds parent")
	}
	return &Reader{r: r.r, base: r.base + offset, size: size}, nil
}

func (r *Reader) readAt(p []byte, at int64) error {
	if at < 0 || at+int64(len(p)) > r.size {
		return errs.OutOfBoundsAt(uint64(r.base+at), "read past end of range")
	}
	n, err := r.r.ReadAt(p, r.base+at)
	if n == len(p) {
		return nil
	}
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	return errors.Wrap(errs.OutOfBoundsAt(uint64(r.base+at), "short read"), err.Error())
}

func (r *Reader) ReadBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if err := r.readAt(buf, r.pos); err != nil {
		return nil, err
	}
	r.pos += int64(n)
	return buf, nil
}

// ReadBytesAt reads n bytes at absolute offset off without moving pos.
func (r *Reader) ReadBytesAt(off int64, n int) ([]byte, error) {
	buf := make([]byte, n)
	if err := r.readAt(buf, off); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadU32At reads a little-endian uint32 at absolute offset off without
// moving pos, mirroring ReadBytesAt.
func (r *Reader) ReadU32At(off int64) (uint32, error) {
	b, err := r.ReadBytesAt(off, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *Reader) ReadU8() (uint8, error) {
	b, err := r.ReadBytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) ReadU16() (uint16, error) {
	b, err := r.ReadBytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *Reader) ReadU32() (uint32, error) {
	b, err := r.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *Reader) ReadU64() (uint64, error) {
	b, err := r.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// ReadStruct decodes a fixed-layout little-endian struct at the current
// position, advancing pos by binary.Size(v).
func (r *Reader) ReadStruct(v any) error {
	sz := binary.Size(v)
	if sz < 0 {
		return errs.InvariantAt(uint64(r.pos), "type has no fixed binary size")
	}
	buf, err := r.ReadBytes(sz)
	if err != nil {
		return err
	}
	return binary.Read(sliceReader{buf}, binary.LittleEndian, v)
}

type sliceReader struct{ b []byte }

func (s sliceReader) Read(p []byte) (int, error) {
	n := copy(p, s.b)
	s.b = s.b[n:]
	if n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

// ReadCompressedU32 decodes an ECMA-335 §II.23.2 compressed unsigned
// integer: 1 byte if the top bit is clear, 2 bytes if the top two bits are
// 10, 4 bytes if they are 110. Values requiring a 5th byte are malformed.
func (r *Reader) ReadCompressedU32() (uint32, error) {
	b0, err := r.ReadU8()
	if err != nil {
		return 0, err
	}
	switch {
	case b0&0x80 == 0:
		return uint32(b0), nil
	case b0&0xC0 == 0x80:
		b1, err := r.ReadU8()
		if err != nil {
			return 0, err
		}
		return uint32(b0&0x3F)<<8 | uint32(b1), nil
	case b0&0xE0 == 0xC0:
		rest, err := r.ReadBytes(3)
		if err != nil {
			return 0, err
		}
		return uint32(b0&0x1F)<<24 | uint32(rest[0])<<16 | uint32(rest[1])<<8 | uint32(rest[2]), nil
	default:
		return 0, errs.MalformedAt(uint64(r.pos-1), "invalid compressed integer prefix")
	}
}

// Read7BitU32 decodes a LEB128-style 7-bit-per-byte integer with the high
// bit as continuation flag, up to 5 bytes (32 bits of payload).
func (r *Reader) Read7BitU32() (uint32, error) {
	var result uint32
	var shift uint
	for i := 0; i < 5; i++ {
		b, err := r.ReadU8()
		if err != nil {
			return 0, err
		}
		if i == 4 {
			result |= uint32(b) << shift
			return result, nil
		}
		result |= uint32(b&0x7F) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
	}
	return result, nil
}

// CString reads a NUL-terminated ASCII string starting at the current
// position, advancing past the terminator. maxLen bounds the scan.
func (r *Reader) CString(maxLen int) (string, error) {
	buf := make([]byte, 0, 16)
	for i := 0; i < maxLen; i++ {
		b, err := r.ReadU8()
		if err != nil {
			return "", err
		}
		if b == 0 {
			return string(buf), nil
		}
		buf = append(buf, b)
	}
	return string(buf), nil
}
