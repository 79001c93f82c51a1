package pe

import (
	"github.com/wanglei-coder/dnpe/pe/bio"
	"github.com/wanglei-coder/dnpe/pe/errs"
)

// DosHeader is the 64-byte MZ header every PE image starts with.
type DosHeader struct {
	Magic                    uint16
	BytesOnLastPageOfFile    uint16
	PagesInFile              uint16
	Relocations              uint16
	SizeOfHeader             uint16
	MinExtraParagraphsNeeded uint16
	MaxExtraParagraphsNeeded uint16
	InitialSS                uint16
	InitialSP                uint16
	Checksum                 uint16
	InitialIP                uint16
	InitialCS                uint16
	AddressOfRelocationTable uint16
	OverlayNumber            uint16
	ReservedWords1           [4]uint16
	OEMIdentifier            uint16
	OEMInformation           uint16
	ReservedWords2           [10]uint16
	NextHeaderOffset         uint32 // e_lfanew, at fixed offset 0x3C
}

const DosHeaderSize = 64

func readDosHeader(r *bio.Reader) (DosHeader, error) {
	var h DosHeader
	if err := r.Seek(0); err != nil {
		return h, err
	}
	if err := r.ReadStruct(&h); err != nil {
		return h, err
	}
	if h.Magic != ImageDOSSignature && h.Magic != ImageDOSZMSignature {
		return h, errs.BadImageAt(0, "invalid DOS signature")
	}
	if h.NextHeaderOffset < 4 || uint64(h.NextHeaderOffset) > uint64(r.Size()) {
		return h, errs.BadImageAt(0x3C, "e_lfanew out of range")
	}
	return h, nil
}

func (h DosHeader) write(w *bio.Writer) error {
	return w.WriteStruct(h)
}
