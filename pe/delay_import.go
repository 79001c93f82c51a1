package pe

import "encoding/binary"

// ImageDelayImportDirectory is the on-disk delay-load import descriptor
// (ImgDelayDescr). When Attributes is zero the table predates the "V2"
// format and its RVAs are actually absolute VAs, handled by the
// isOldDelayImport path in readImports32/64.
type ImageDelayImportDirectory struct {
	Attributes                 uint32
	Name                       uint32
	ModuleHandleRVA            uint32
	ImportAddressTableRVA      uint32
	ImportNameTableRVA         uint32
	BoundImportAddressTableRVA uint32
	UnloadInformationTableRVA  uint32
	TimeDateStamp              uint32
}

type DelayImport struct {
	Offset     uint32
	Name       string
	Functions  []*ImportFunction
	Descriptor ImageDelayImportDirectory
}

const delayImportDescSize = 32

// readDelayImportDirectory walks ImageDirectoryEntryDelayImport the same way
// readImportDirectory walks the regular import table.
func (f *PEFile) readDelayImportDirectory() error {
	if f.OptionalHeader == nil {
		return nil
	}
	if f.OptionalHeader.NumberOfRvaAndSizesValue() < ImageDirectoryEntryDelayImport+1 {
		return nil
	}

	idd := f.DataDirectory(ImageDirectoryEntryDelayImport)
	if idd.Empty() {
		return nil
	}

	raw, err := f.GetData(idd.VirtualAddress, idd.Size+delayImportDescSize)
	if err != nil {
		return nil
	}

	var descs []ImageDelayImportDirectory
	d := raw
	for len(d) >= delayImportDescSize {
		var dt ImageDelayImportDirectory
		dt.Attributes = binary.LittleEndian.Uint32(d[0:4])
		dt.Name = binary.LittleEndian.Uint32(d[4:8])
		dt.ModuleHandleRVA = binary.LittleEndian.Uint32(d[8:12])
		dt.ImportAddressTableRVA = binary.LittleEndian.Uint32(d[12:16])
		dt.ImportNameTableRVA = binary.LittleEndian.Uint32(d[16:20])
		dt.BoundImportAddressTableRVA = binary.LittleEndian.Uint32(d[20:24])
		dt.UnloadInformationTableRVA = binary.LittleEndian.Uint32(d[24:28])
		dt.TimeDateStamp = binary.LittleEndian.Uint32(d[28:32])
		d = d[delayImportDescSize:]
		if dt.Name == 0 {
			break
		}
		descs = append(descs, dt)
	}

	rva := idd.VirtualAddress
	for _, dt := range descs {
		fileOffset := f.rvaToOffsetBestEffort(rva)
		rva += delayImportDescSize
		maxLen := uint32(f.size) - fileOffset

		var importedFunctions []*ImportFunction
		var err error
		if f.Is64 {
			importedFunctions, err = f.readImports64(&dt, maxLen)
		} else {
			importedFunctions, err = f.readImports32(&dt, maxLen)
		}
		if err != nil {
			continue
		}

		dllName := f.getStringAtRVA(dt.Name, maxDllLength)
		if !IsValidDosFilename(dllName) {
			continue
		}

		f.DelayImports = append(f.DelayImports, &DelayImport{
			Offset:     fileOffset,
			Name:       dllName,
			Functions:  importedFunctions,
			Descriptor: dt,
		})
	}
	return nil
}
