package rsrc

import (
	"encoding/binary"
	"testing"
)

func TestResourceTypeName(t *testing.T) {
	cases := map[uint32]string{
		3:  "ICON",
		16: "VERSION",
		24: "MANIFEST",
		99: "#99",
	}
	for id, want := range cases {
		if got := ResourceTypeName(id); got != want {
			t.Errorf("ResourceTypeName(%d) = %q, want %q", id, got, want)
		}
	}
}

func TestLangName(t *testing.T) {
	if got := LangName(0x0409, 0); got != "en-US" {
		t.Errorf("LangName(0x0409, 0) = %q, want en-US", got)
	}
	if got := LangName(0x1234, 0); got != "0x1234" {
		t.Errorf("LangName(0x1234, 0) = %q, want fallback hex", got)
	}
}

// utf16leNil encodes s as UTF-16LE followed by a NUL terminator.
func utf16leNil(s string) []byte {
	out := make([]byte, 0, 2*(len(s)+1))
	for _, r := range s {
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(r))
		out = append(out, b[:]...)
	}
	out = append(out, 0, 0)
	return out
}

// padTo4 pads body with zero bytes until (6+len(body))%4 == 0: the 6-byte
// header plus body must land on a 4-byte boundary relative to the block's
// own (4-aligned) start, matching every align4(...) call in the decoder.
func padTo4(body []byte) []byte {
	for (6+len(body))%4 != 0 {
		body = append(body, 0)
	}
	return body
}

// buildBlock assembles one VS_VERSION_INFO-style block: a 6-byte header
// (wLength/wValueLength/wType), a NUL-terminated UTF-16LE key, optional
// value bytes, and optional children, with 4-byte alignment padding at
// each boundary exactly where DecodeVersionInfo's walker expects it.
func buildBlock(wType uint16, key string, valueLenField uint16, value, children []byte) []byte {
	body := padTo4(utf16leNil(key))
	body = append(body, value...)
	body = padTo4(body)
	body = append(body, children...)

	total := 6 + len(body)
	out := make([]byte, 6, total)
	binary.LittleEndian.PutUint16(out[0:2], uint16(total))
	binary.LittleEndian.PutUint16(out[2:4], valueLenField)
	binary.LittleEndian.PutUint16(out[4:6], wType)
	out = append(out, body...)
	return out
}

func buildStringEntry(key, value string) []byte {
	valBytes := utf16leNil(value)
	return buildBlock(1, key, uint16(len(value)+1), valBytes, nil)
}

func buildFixedFileInfo() []byte {
	b := make([]byte, 13*4)
	binary.LittleEndian.PutUint32(b[0:4], vsFixedFileInfoSig)
	binary.LittleEndian.PutUint32(b[8:12], 1)  // FileVersionMS
	binary.LittleEndian.PutUint32(b[12:16], 0) // FileVersionLS
	return b
}

func buildVersionResource(strings map[string]string) []byte {
	var entries []byte
	// deterministic order for the test's own sake
	for _, k := range []string{"ProductName", "FileVersion"} {
		if v, ok := strings[k]; ok {
			entries = append(entries, buildStringEntry(k, v)...)
		}
	}
	table := buildBlock(1, "040904B0", 0, nil, entries)
	stringFileInfo := buildBlock(1, "StringFileInfo", 0, nil, table)
	fixed := buildFixedFileInfo()
	return buildBlock(0, "VS_VERSION_INFO", uint16(len(fixed)), fixed, stringFileInfo)
}

func TestDecodeVersionInfo(t *testing.T) {
	data := buildVersionResource(map[string]string{
		"ProductName": "MyProduct",
		"FileVersion": "1.0.0.0",
	})

	vi, err := DecodeVersionInfo(data)
	if err != nil {
		t.Fatalf("DecodeVersionInfo: %v", err)
	}
	if vi.Fixed.Signature != vsFixedFileInfoSig {
		t.Errorf("Fixed.Signature = 0x%X, want 0x%X", vi.Fixed.Signature, vsFixedFileInfoSig)
	}
	if vi.Fixed.FileVersionMS != 1 {
		t.Errorf("Fixed.FileVersionMS = %d, want 1", vi.Fixed.FileVersionMS)
	}
	if got := vi.Strings["ProductName"]; got != "MyProduct" {
		t.Errorf("Strings[ProductName] = %q, want MyProduct", got)
	}
	if got := vi.Strings["FileVersion"]; got != "1.0.0.0" {
		t.Errorf("Strings[FileVersion] = %q, want 1.0.0.0", got)
	}
}

func TestDecodeVersionInfoTooShort(t *testing.T) {
	if _, err := DecodeVersionInfo([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error decoding a truncated version resource")
	}
}
