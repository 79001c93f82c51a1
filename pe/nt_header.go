package pe

import (
	"github.com/pkg/errors"

	"github.com/wanglei-coder/dnpe/pe/bio"
	"github.com/wanglei-coder/dnpe/pe/errs"
)

// FileHeader is the 20-byte COFF file header following the PE signature.
type FileHeader struct {
	Machine              uint16
	NumberOfSections     uint16
	TimeDateStamp        uint32
	PointerToSymbolTable uint32
	NumberOfSymbols      uint32
	SizeOfOptionalHeader uint16
	Characteristics      uint16
}

const FileHeaderSize = 20

// DataDirectory is a (rva, size) pair pointing at a well-known table. It is
// empty iff both fields are zero.
type DataDirectory struct {
	VirtualAddress uint32
	Size           uint32
}

func (d DataDirectory) Empty() bool { return d.VirtualAddress == 0 && d.Size == 0 }

// OptionalHeader is implemented by *OptionalHeader32 and *OptionalHeader64;
// callers switch on Is64 rather than type-asserting blindly, matching the
// two-variant closed set the file format defines.
type OptionalHeader interface {
	MagicValue() uint16
	EntryPointRVA() uint32
	ImageBaseValue() uint64
	SectionAlign() uint32
	FileAlign() uint32
	SizeOfImageValue() uint32
	SizeOfHeadersValue() uint32
	DataDirectories() [16]DataDirectory
	SetDataDirectory(i int, d DataDirectory)
	NumberOfRvaAndSizesValue() uint32
}

type OptionalHeader32 struct {
	Magic                       uint16
	MajorLinkerVersion          uint8
	MinorLinkerVersion          uint8
	SizeOfCode                  uint32
	SizeOfInitializedData       uint32
	SizeOfUninitializedData     uint32
	AddressOfEntryPoint         uint32
	BaseOfCode                  uint32
	BaseOfData                  uint32
	ImageBase                   uint32
	SectionAlignment            uint32
	FileAlignment               uint32
	MajorOperatingSystemVersion uint16
	MinorOperatingSystemVersion uint16
	MajorImageVersion           uint16
	MinorImageVersion           uint16
	MajorSubsystemVersion       uint16
	MinorSubsystemVersion       uint16
	Win32VersionValue           uint32
	SizeOfImage                 uint32
	SizeOfHeaders               uint32
	CheckSum                    uint32
	Subsystem                   uint16
	DllCharacteristics          uint16
	SizeOfStackReserve          uint32
	SizeOfStackCommit           uint32
	SizeOfHeapReserve           uint32
	SizeOfHeapCommit            uint32
	LoaderFlags                 uint32
	NumberOfRvaAndSizes         uint32
	DataDirectory               [16]DataDirectory
}

func (h *OptionalHeader32) MagicValue() uint16          { return h.Magic }
func (h *OptionalHeader32) EntryPointRVA() uint32       { return h.AddressOfEntryPoint }
func (h *OptionalHeader32) ImageBaseValue() uint64      { return uint64(h.ImageBase) }
func (h *OptionalHeader32) SectionAlign() uint32        { return h.SectionAlignment }
func (h *OptionalHeader32) FileAlign() uint32           { return h.FileAlignment }
func (h *OptionalHeader32) SizeOfImageValue() uint32    { return h.SizeOfImage }
func (h *OptionalHeader32) SizeOfHeadersValue() uint32  { return h.SizeOfHeaders }
func (h *OptionalHeader32) DataDirectories() [16]DataDirectory { return h.DataDirectory }
func (h *OptionalHeader32) SetDataDirectory(i int, d DataDirectory) { h.DataDirectory[i] = d }
func (h *OptionalHeader32) NumberOfRvaAndSizesValue() uint32 { return h.NumberOfRvaAndSizes }

type OptionalHeader64 struct {
	Magic                       uint16
	MajorLinkerVersion          uint8
	MinorLinkerVersion          uint8
	SizeOfCode                  uint32
	SizeOfInitializedData       uint32
	SizeOfUninitializedData     uint32
	AddressOfEntryPoint         uint32
	BaseOfCode                  uint32
	ImageBase                   uint64
	SectionAlignment            uint32
	FileAlignment               uint32
	MajorOperatingSystemVersion uint16
	MinorOperatingSystemVersion uint16
	MajorImageVersion           uint16
	MinorImageVersion           uint16
	MajorSubsystemVersion       uint16
	MinorSubsystemVersion       uint16
	Win32VersionValue           uint32
	SizeOfImage                 uint32
	SizeOfHeaders               uint32
	CheckSum                    uint32
	Subsystem                   uint16
	DllCharacteristics          uint16
	SizeOfStackReserve          uint64
	SizeOfStackCommit           uint64
	SizeOfHeapReserve           uint64
	SizeOfHeapCommit            uint64
	LoaderFlags                 uint32
	NumberOfRvaAndSizes         uint32
	DataDirectory               [16]DataDirectory
}

func (h *OptionalHeader64) MagicValue() uint16          { return h.Magic }
func (h *OptionalHeader64) EntryPointRVA() uint32       { return h.AddressOfEntryPoint }
func (h *OptionalHeader64) ImageBaseValue() uint64      { return h.ImageBase }
func (h *OptionalHeader64) SectionAlign() uint32        { return h.SectionAlignment }
func (h *OptionalHeader64) FileAlign() uint32           { return h.FileAlignment }
func (h *OptionalHeader64) SizeOfImageValue() uint32    { return h.SizeOfImage }
func (h *OptionalHeader64) SizeOfHeadersValue() uint32  { return h.SizeOfHeaders }
func (h *OptionalHeader64) DataDirectories() [16]DataDirectory { return h.DataDirectory }
func (h *OptionalHeader64) SetDataDirectory(i int, d DataDirectory) { h.DataDirectory[i] = d }
func (h *OptionalHeader64) NumberOfRvaAndSizesValue() uint32 { return h.NumberOfRvaAndSizes }

func readFileHeader(r *bio.Reader) (FileHeader, error) {
	var fh FileHeader
	err := r.ReadStruct(&fh)
	return fh, err
}

// readOptionalHeader reads either variant based on the leading magic word,
// then the trailing NumberOfRvaAndSizes data directories. A zero
// sizeOfOptionalHeader means there is no optional header; otherwise the
// reads are not limited to it (the caller seeks past it afterwards).
func readOptionalHeader(r *bio.Reader, sizeOfOptionalHeader uint16) (OptionalHeader, bool, error) {
	if sizeOfOptionalHeader == 0 {
		return nil, false, nil
	}
	start := r.Position()
	magic, err := r.ReadU16()
	if err != nil {
		return nil, false, err
	}
	switch magic {
	case Magic32:
		var oh OptionalHeader32
		oh.Magic = magic
		if err := readOptionalHeader32Body(r, &oh); err != nil {
			return nil, false, err
		}
		if oh.ImageBase%0x10000 != 0 {
			return nil, false, errs.BadImageAt(uint64(start), "image base not aligned to 64K")
		}
		dd, err := readDataDirectories(r, oh.NumberOfRvaAndSizes)
		if err != nil {
			return nil, false, err
		}
		copy(oh.DataDirectory[:], dd)
		return &oh, false, nil
	case Magic64:
		var oh OptionalHeader64
		oh.Magic = magic
		if err := readOptionalHeader64Body(r, &oh); err != nil {
			return nil, false, err
		}
		if oh.ImageBase%0x10000 != 0 {
			return nil, false, errs.BadImageAt(uint64(start), "image base not aligned to 64K")
		}
		dd, err := readDataDirectories(r, oh.NumberOfRvaAndSizes)
		if err != nil {
			return nil, false, err
		}
		copy(oh.DataDirectory[:], dd)
		return &oh, true, nil
	default:
		return nil, false, errs.Newf(errs.BadImage, uint64(start), "unexpected optional header magic 0x%x", magic)
	}
}

func readOptionalHeader32Body(r *bio.Reader, oh *OptionalHeader32) error {
	fields := []func() error{
		func() (e error) { oh.MajorLinkerVersion, e = r.ReadU8(); return },
		func() (e error) { oh.MinorLinkerVersion, e = r.ReadU8(); return },
		func() (e error) { oh.SizeOfCode, e = r.ReadU32(); return },
		func() (e error) { oh.SizeOfInitializedData, e = r.ReadU32(); return },
		func() (e error) { oh.SizeOfUninitializedData, e = r.ReadU32(); return },
		func() (e error) { oh.AddressOfEntryPoint, e = r.ReadU32(); return },
		func() (e error) { oh.BaseOfCode, e = r.ReadU32(); return },
		func() (e error) { oh.BaseOfData, e = r.ReadU32(); return },
		func() (e error) { oh.ImageBase, e = r.ReadU32(); return },
		func() (e error) { oh.SectionAlignment, e = r.ReadU32(); return },
		func() (e error) { oh.FileAlignment, e = r.ReadU32(); return },
		func() (e error) { oh.MajorOperatingSystemVersion, e = r.ReadU16(); return },
		func() (e error) { oh.MinorOperatingSystemVersion, e = r.ReadU16(); return },
		func() (e error) { oh.MajorImageVersion, e = r.ReadU16(); return },
		func() (e error) { oh.MinorImageVersion, e = r.ReadU16(); return },
		func() (e error) { oh.MajorSubsystemVersion, e = r.ReadU16(); return },
		func() (e error) { oh.MinorSubsystemVersion, e = r.ReadU16(); return },
		func() (e error) { oh.Win32VersionValue, e = r.ReadU32(); return },
		func() (e error) { oh.SizeOfImage, e = r.ReadU32(); return },
		func() (e error) { oh.SizeOfHeaders, e = r.ReadU32(); return },
		func() (e error) { oh.CheckSum, e = r.ReadU32(); return },
		func() (e error) { oh.Subsystem, e = r.ReadU16(); return },
		func() (e error) { oh.DllCharacteristics, e = r.ReadU16(); return },
		func() (e error) { oh.SizeOfStackReserve, e = r.ReadU32(); return },
		func() (e error) { oh.SizeOfStackCommit, e = r.ReadU32(); return },
		func() (e error) { oh.SizeOfHeapReserve, e = r.ReadU32(); return },
		func() (e error) { oh.SizeOfHeapCommit, e = r.ReadU32(); return },
		func() (e error) { oh.LoaderFlags, e = r.ReadU32(); return },
		func() (e error) { oh.NumberOfRvaAndSizes, e = r.ReadU32(); return },
	}
	for _, f := range fields {
		if err := f(); err != nil {
			return errors.Wrap(err, "failure reading PE32 optional header")
		}
	}
	return nil
}

func readOptionalHeader64Body(r *bio.Reader, oh *OptionalHeader64) error {
	fields := []func() error{
		func() (e error) { oh.MajorLinkerVersion, e = r.ReadU8(); return },
		func() (e error) { oh.MinorLinkerVersion, e = r.ReadU8(); return },
		func() (e error) { oh.SizeOfCode, e = r.ReadU32(); return },
		func() (e error) { oh.SizeOfInitializedData, e = r.ReadU32(); return },
		func() (e error) { oh.SizeOfUninitializedData, e = r.ReadU32(); return },
		func() (e error) { oh.AddressOfEntryPoint, e = r.ReadU32(); return },
		func() (e error) { oh.BaseOfCode, e = r.ReadU32(); return },
		func() (e error) { oh.ImageBase, e = r.ReadU64(); return },
		func() (e error) { oh.SectionAlignment, e = r.ReadU32(); return },
		func() (e error) { oh.FileAlignment, e = r.ReadU32(); return },
		func() (e error) { oh.MajorOperatingSystemVersion, e = r.ReadU16(); return },
		func() (e error) { oh.MinorOperatingSystemVersion, e = r.ReadU16(); return },
		func() (e error) { oh.MajorImageVersion, e = r.ReadU16(); return },
		func() (e error) { oh.MinorImageVersion, e = r.ReadU16(); return },
		func() (e error) { oh.MajorSubsystemVersion, e = r.ReadU16(); return },
		func() (e error) { oh.MinorSubsystemVersion, e = r.ReadU16(); return },
		func() (e error) { oh.Win32VersionValue, e = r.ReadU32(); return },
		func() (e error) { oh.SizeOfImage, e = r.ReadU32(); return },
		func() (e error) { oh.SizeOfHeaders, e = r.ReadU32(); return },
		func() (e error) { oh.CheckSum, e = r.ReadU32(); return },
		func() (e error) { oh.Subsystem, e = r.ReadU16(); return },
		func() (e error) { oh.DllCharacteristics, e = r.ReadU16(); return },
		func() (e error) { oh.SizeOfStackReserve, e = r.ReadU64(); return },
		func() (e error) { oh.SizeOfStackCommit, e = r.ReadU64(); return },
		func() (e error) { oh.SizeOfHeapReserve, e = r.ReadU64(); return },
		func() (e error) { oh.SizeOfHeapCommit, e = r.ReadU64(); return },
		func() (e error) { oh.LoaderFlags, e = r.ReadU32(); return },
		func() (e error) { oh.NumberOfRvaAndSizes, e = r.ReadU32(); return },
	}
	for _, f := range fields {
		if err := f(); err != nil {
			return errors.Wrap(err, "failure reading PE32+ optional header")
		}
	}
	return nil
}

func readDataDirectories(r *bio.Reader, n uint32) ([]DataDirectory, error) {
	if n > 16 {
		n = 16
	}
	dd := make([]DataDirectory, n)
	for i := range dd {
		va, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		sz, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		dd[i] = DataDirectory{VirtualAddress: va, Size: sz}
	}
	return dd, nil
}

func writeDataDirectories(w *bio.Writer, dd [16]DataDirectory, n uint32) {
	if n > 16 {
		n = 16
	}
	for i := uint32(0); i < n; i++ {
		w.WriteU32(dd[i].VirtualAddress)
		w.WriteU32(dd[i].Size)
	}
}
