package bio

import (
	"bytes"
	"encoding/binary"
	"sync"

	"github.com/wanglei-coder/dnpe/pe/errs"
)

// Writer is a sequential, append-only byte sink with explicit alignment.
// It never seeks backwards; fixups on already-written bytes are the job of
// a PatchedSegment (see pe.PatchedSegment), not the writer.
type Writer struct {
	buf bytes.Buffer
}

func NewWriter() *Writer { return &Writer{} }

func (w *Writer) Position() int64 { return int64(w.buf.Len()) }

func (w *Writer) Bytes() []byte { return w.buf.Bytes() }

func (w *Writer) WriteU8(v uint8) { w.buf.WriteByte(v) }

func (w *Writer) WriteU16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf.Write(b[:])
}

func (w *Writer) WriteU32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

func (w *Writer) WriteU64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

func (w *Writer) WriteBytes(b []byte) { w.buf.Write(b) }

// WriteStruct encodes a fixed-layout little-endian struct.
func (w *Writer) WriteStruct(v any) error {
	return binary.Write(&w.buf, binary.LittleEndian, v)
}

// AlignTo zero-pads the writer until Position()%n == 0.
func (w *Writer) AlignTo(n int) {
	if n <= 0 {
		return
	}
	for w.buf.Len()%n != 0 {
		w.buf.WriteByte(0)
	}
}

// WriteCompressedU32 encodes u using the ECMA-335 §II.23.2 scheme used by
// ReadCompressedU32. Values ≥ 2^29 cannot be represented and are rejected.
func (w *Writer) WriteCompressedU32(u uint32) error {
	switch {
	case u < 0x80:
		w.WriteU8(uint8(u))
	case u < 0x4000:
		w.WriteU8(uint8(u>>8) | 0x80)
		w.WriteU8(uint8(u))
	case u < 0x20000000:
		w.WriteU8(uint8(u>>24) | 0xC0)
		w.WriteU8(uint8(u >> 16))
		w.WriteU8(uint8(u >> 8))
		w.WriteU8(uint8(u))
	default:
		return errs.MalformedAt(uint64(w.Position()), "value too large for compressed integer")
	}
	return nil
}

// Write7BitU32 mirrors Read7BitU32.
func (w *Writer) Write7BitU32(u uint32) {
	for {
		b := uint8(u & 0x7F)
		u >>= 7
		if u != 0 {
			w.WriteU8(b | 0x80)
		} else {
			w.WriteU8(b)
			return
		}
	}
}

// pool rents reusable Writer buffers so repeated small serializations (a
// segment's per-child emit pass, say) don't churn allocations.
var pool = sync.Pool{New: func() any { return NewWriter() }}

// Rent obtains a Writer with an empty buffer. The caller must call Release
// when done; Release resets the buffer for reuse and must not be called
// twice for the same rental.
func Rent() *Writer {
	return pool.Get().(*Writer)
}

// Release returns w to the pool after copying out its bytes; the returned
// slice is independent of the pooled buffer.
func Release(w *Writer) []byte {
	out := make([]byte, w.buf.Len())
	copy(out, w.buf.Bytes())
	w.buf.Reset()
	pool.Put(w)
	return out
}
