package pe

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"fmt"

	"github.com/wanglei-coder/dnpe/pe/bio"
)

// RichHeader is the undocumented "DanS"/"Rich"-signed linker fingerprint
// block Microsoft's linkers embed between the DOS stub and the PE header.
type RichHeader struct {
	XorKey     uint32
	CompIDs    []CompID
	DansOffset int
	Raw        []byte
}

// CompID is one decoded Rich header entry: a tool/product identifier and
// how many times it contributed an object to the link.
type CompID struct {
	MinorCV  uint16
	ProdID   uint16
	Count    uint32
	Unmasked uint32
}

// readRichHeader locates and decodes the Rich header stub, if present, by
// walking the DOS stub through a pe/bio reader: the "Rich" marker is found
// first, its cleartext key read, then the stub's start ("DanS", XORed with
// the key) is found by scanning backward word by word until the decoded
// word matches DansSignature.
func (f *PEFile) readRichHeader() error {
	r := bio.NewReader(f.src, f.size)

	richSigOffset, err := findRichSignature(r, int64(f.Dos.NextHeaderOffset))
	if err != nil || richSigOffset < 0 {
		return err
	}

	var rh RichHeader
	if rh.XorKey, err = r.ReadU32At(richSigOffset + 4); err != nil {
		return err
	}

	dansOffset, err := scanForDans(r, richSigOffset, rh.XorKey)
	if err != nil || dansOffset < 0 {
		return err
	}
	rh.DansOffset = int(dansOffset)

	rawLen := richSigOffset + 8 - dansOffset
	rh.Raw, err = r.ReadBytesAt(dansOffset, int(rawLen))
	if err != nil {
		return err
	}

	rh.CompIDs, err = decodeCompIDs(rh.Raw, rh.XorKey)
	if err != nil {
		return err
	}

	f.RichHeader = &rh
	return nil
}

// findRichSignature locates the cleartext "Rich" marker within the first
// limit bytes of the image, returning -1 if absent.
func findRichSignature(r *bio.Reader, limit int64) (int64, error) {
	data, err := r.ReadBytesAt(0, int(limit))
	if err != nil {
		return -1, err
	}
	idx := bytes.Index(data, []byte(RichSignature))
	if idx < 0 {
		return -1, nil
	}
	return int64(idx), nil
}

// scanForDans walks backward from richSigOffset in 4-byte steps, XOR-
// decoding each word with key, until it finds the "DanS" word and returns
// its offset, or -1 if the stub never resolves to one.
func scanForDans(r *bio.Reader, richSigOffset int64, key uint32) (int64, error) {
	estimatedBeginDans := richSigOffset - 4 - DosHeaderSize
	for it := int64(0); it < estimatedBeginDans; it += 4 {
		off := richSigOffset - 4 - it
		word, err := r.ReadU32At(off)
		if err != nil {
			return -1, err
		}
		if word^key == DansSignature {
			return off, nil
		}
	}
	return -1, nil
}

// decodeCompIDs walks raw forward starting just past the "DanS" word and its
// three zero-padding dwords (16 bytes in), reading (unmasked, count) pairs
// up to the trailing cleartext "Rich"+key (the last 8 bytes of raw).
func decodeCompIDs(raw []byte, key uint32) ([]CompID, error) {
	const headerWords = 16 // "DanS" + 3 padding dwords
	const trailer = 8      // "Rich" + key
	if len(raw) < headerWords+trailer {
		return nil, nil
	}
	numPairs := (len(raw) - headerWords - trailer) / 8

	r := bio.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err := r.Seek(headerWords); err != nil {
		return nil, err
	}

	compIDs := make([]CompID, 0, numPairs)
	for i := 0; i < numPairs; i++ {
		unmaskedEnc, err := r.ReadU32()
		if err != nil {
			return compIDs, err
		}
		countEnc, err := r.ReadU32()
		if err != nil {
			return compIDs, err
		}
		unmasked := unmaskedEnc ^ key
		compIDs = append(compIDs, CompID{
			MinorCV:  uint16(unmasked),
			ProdID:   uint16(unmasked >> 16),
			Count:    countEnc ^ key,
			Unmasked: unmasked,
		})
	}
	return compIDs, nil
}

// RichHeaderChecksum recomputes the Rich header's XOR key from the DOS
// header bytes and CompID entries, matching the algorithm Microsoft's
// linker uses to seed it.
func (f *PEFile) RichHeaderChecksum() uint32 {
	if f.RichHeader == nil {
		return 0
	}
	r := bio.NewReader(f.src, f.size)
	checksum := uint32(f.RichHeader.DansOffset)
	for i := 0; i < f.RichHeader.DansOffset; i++ {
		if i >= 0x3C && i < 0x40 {
			continue
		}
		buf, err := r.ReadBytesAt(int64(i), 1)
		if err != nil {
			return 0
		}
		v := uint32(buf[0])
		checksum += (v << (i % 32)) | (v>>(32-(i%32)))&0xff
		checksum &= 0xFFFFFFFF
	}
	for _, c := range f.RichHeader.CompIDs {
		checksum += c.Unmasked<<(c.Count%32) | c.Unmasked>>(32-(c.Count%32))
		checksum &= 0xFFFFFFFF
	}
	return checksum
}

// RichHeaderHash returns the MD5 of the Rich header's decoded bytes,
// commonly used as a linker/toolchain fingerprint.
func (f *PEFile) RichHeaderHash() string {
	if f.RichHeader == nil {
		return ""
	}
	richIndex := bytes.Index(f.RichHeader.Raw, []byte(RichSignature))
	if richIndex == -1 {
		return ""
	}
	key := make([]byte, 4)
	binary.LittleEndian.PutUint32(key, f.RichHeader.XorKey)

	r := bio.NewReader(bytes.NewReader(f.RichHeader.Raw), int64(richIndex))
	w := bio.NewWriter()
	for i := 0; i < richIndex; i++ {
		b, err := r.ReadU8()
		if err != nil {
			return ""
		}
		w.WriteU8(b ^ key[i%len(key)])
	}
	return fmt.Sprintf("%x", md5.Sum(w.Bytes()))
}
