package bio

import (
	"bytes"
	"testing"
)

func TestReaderPrimitives(t *testing.T) {
	data := []byte{0x2A, 0x34, 0x12, 0x78, 0x56, 0x34, 0x12, 0, 0, 0, 0, 0, 0, 0, 0}
	r := NewReader(bytes.NewReader(data), int64(len(data)))

	u8, err := r.ReadU8()
	if err != nil || u8 != 0x2A {
		t.Fatalf("ReadU8() = %d, %v", u8, err)
	}
	u16, err := r.ReadU16()
	if err != nil || u16 != 0x1234 {
		t.Fatalf("ReadU16() = 0x%X, %v", u16, err)
	}
	u32, err := r.ReadU32()
	if err != nil || u32 != 0x12345678 {
		t.Fatalf("ReadU32() = 0x%X, %v", u32, err)
	}
}

func TestReaderOutOfBounds(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{1, 2, 3}), 3)
	if _, err := r.ReadBytes(4); err == nil {
		t.Fatal("expected out-of-bounds error reading past end")
	}
	if err := r.Seek(10); err == nil {
		t.Fatal("expected out-of-bounds error seeking past end")
	}
}

func TestReaderFork(t *testing.T) {
	data := []byte{0, 1, 2, 3, 4, 5, 6, 7}
	r := NewReader(bytes.NewReader(data), int64(len(data)))
	sub, err := r.Fork(4, 4)
	if err != nil {
		t.Fatalf("Fork: %v", err)
	}
	b, err := sub.ReadBytes(4)
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if !bytes.Equal(b, []byte{4, 5, 6, 7}) {
		t.Errorf("forked bytes = %v, want [4 5 6 7]", b)
	}
	if _, err := r.Fork(4, 5); err == nil {
		t.Fatal("expected fork range exceeding parent to error")
	}
}

func TestCString(t *testing.T) {
	data := append([]byte("hello"), 0, 'X')
	r := NewReader(bytes.NewReader(data), int64(len(data)))
	s, err := r.CString(16)
	if err != nil || s != "hello" {
		t.Fatalf("CString() = %q, %v", s, err)
	}
}

func TestCompressedU32RoundTrip(t *testing.T) {
	cases := []uint32{0, 0x7F, 0x80, 0x3FFF, 0x4000, 0x1FFFFFFF}
	for _, v := range cases {
		w := NewWriter()
		if err := w.WriteCompressedU32(v); err != nil {
			t.Fatalf("WriteCompressedU32(%d): %v", v, err)
		}
		r := NewReader(bytes.NewReader(w.Bytes()), int64(len(w.Bytes())))
		got, err := r.ReadCompressedU32()
		if err != nil {
			t.Fatalf("ReadCompressedU32: %v", err)
		}
		if got != v {
			t.Errorf("round trip %d -> %d", v, got)
		}
	}
}

func TestCompressedU32TooLarge(t *testing.T) {
	w := NewWriter()
	if err := w.WriteCompressedU32(0x20000000); err == nil {
		t.Fatal("expected error encoding a value >= 2^29")
	}
}

func Test7BitU32RoundTrip(t *testing.T) {
	cases := []uint32{0, 1, 127, 128, 300, 1 << 20, 0xFFFFFFFF}
	for _, v := range cases {
		w := NewWriter()
		w.Write7BitU32(v)
		r := NewReader(bytes.NewReader(w.Bytes()), int64(len(w.Bytes())))
		got, err := r.Read7BitU32()
		if err != nil {
			t.Fatalf("Read7BitU32: %v", err)
		}
		if got != v {
			t.Errorf("round trip %d -> %d", v, got)
		}
	}
}

func TestWriterAlignTo(t *testing.T) {
	w := NewWriter()
	w.WriteU8(1)
	w.AlignTo(4)
	if w.Position() != 4 {
		t.Errorf("Position() = %d, want 4", w.Position())
	}
	w.AlignTo(4)
	if w.Position() != 4 {
		t.Errorf("second AlignTo should be a no-op, Position() = %d", w.Position())
	}
}

func TestWriterRentRelease(t *testing.T) {
	w := Rent()
	w.WriteU32(0xDEADBEEF)
	out := Release(w)
	if len(out) != 4 {
		t.Fatalf("len(out) = %d, want 4", len(out))
	}
	w2 := Rent()
	if w2.Position() != 0 {
		t.Errorf("rented writer should start empty, Position() = %d", w2.Position())
	}
	Release(w2)
}

func TestReadStructRoundTrip(t *testing.T) {
	type fixed struct {
		A uint16
		B uint32
	}
	w := NewWriter()
	if err := w.WriteStruct(fixed{A: 0x1122, B: 0x33445566}); err != nil {
		t.Fatalf("WriteStruct: %v", err)
	}
	r := NewReader(bytes.NewReader(w.Bytes()), int64(len(w.Bytes())))
	var got fixed
	if err := r.ReadStruct(&got); err != nil {
		t.Fatalf("ReadStruct: %v", err)
	}
	if got.A != 0x1122 || got.B != 0x33445566 {
		t.Errorf("got = %+v", got)
	}
}
