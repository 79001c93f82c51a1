package pe

import (
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

type ImageImportDirectory struct {
	OriginalFirstThunk uint32
	TimeDateStamp      uint32
	ForwarderChain     uint32
	Name               uint32
	FirstThunk         uint32
}

type ImageThunkData32 struct{ AddressOfData uint32 }
type ImageThunkData64 struct{ AddressOfData uint64 }

type ThunkData32 struct {
	ImageThunkData ImageThunkData32
	Offset         uint32
}

type ThunkData64 struct {
	ImageThunkData ImageThunkData64
	Offset         uint32
}

type ImportFunction struct {
	Name               string
	Hint               uint16
	ByOrdinal          bool
	Ordinal            uint32
	OriginalThunkValue uint64
	ThunkValue         uint64
	ThunkRVA           uint32
	OriginalThunkRVA   uint32
}

type Import struct {
	Offset     uint32
	Name       string
	Functions  []*ImportFunction
	Descriptor ImageImportDirectory
}

// getStringAtRVA reads a NUL-terminated ASCII string of at most maxLen bytes
// starting at rva.
func (f *PEFile) getStringAtRVA(rva, maxLen uint32) string {
	raw, err := f.GetData(rva, maxLen)
	if err != nil {
		return ""
	}
	return cString(raw)
}

const importDescSize = 20

func (f *PEFile) readImportDirectory() error {
	if f.OptionalHeader == nil {
		return nil
	}
	if f.OptionalHeader.NumberOfRvaAndSizesValue() < ImageDirectoryEntryImport+1 {
		return nil
	}

	idd := f.DataDirectory(ImageDirectoryEntryImport)
	if idd.Empty() {
		return nil
	}

	raw, err := f.GetData(idd.VirtualAddress, idd.Size+importDescSize)
	if err != nil {
		return nil
	}

	var descs []ImageImportDirectory
	d := raw
	for len(d) >= importDescSize {
		var dt ImageImportDirectory
		dt.OriginalFirstThunk = binary.LittleEndian.Uint32(d[0:4])
		dt.TimeDateStamp = binary.LittleEndian.Uint32(d[4:8])
		dt.ForwarderChain = binary.LittleEndian.Uint32(d[8:12])
		dt.Name = binary.LittleEndian.Uint32(d[12:16])
		dt.FirstThunk = binary.LittleEndian.Uint32(d[16:20])
		d = d[importDescSize:]
		if dt.OriginalFirstThunk == 0 && dt.FirstThunk == 0 {
			break
		}
		descs = append(descs, dt)
	}

	rva := idd.VirtualAddress
	for _, dt := range descs {
		fileOffset := f.rvaToOffsetBestEffort(rva)
		rva += importDescSize

		maxLen := uint32(f.size) - fileOffset
		if rva > dt.OriginalFirstThunk || rva > dt.FirstThunk {
			switch {
			case rva < dt.OriginalFirstThunk:
				maxLen = rva - dt.FirstThunk
			case rva < dt.FirstThunk:
				maxLen = rva - dt.OriginalFirstThunk
			default:
				maxLen = maxU32(rva-dt.OriginalFirstThunk, rva-dt.FirstThunk)
			}
		}

		var importedFunctions []*ImportFunction
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

		f.Imports = append(f.Imports, &Import{
			Offset:     fileOffset,
			Name:       dllName,
			Functions:  importedFunctions,
			Descriptor: dt,
		})
	}
	return nil
}

func (f *PEFile) getImportTable32(rva, maxLen uint32, isOldDelayImport bool) ([]*ThunkData32, error) {
	if f.OptionalHeader == nil || rva == 0 {
		return nil, nil
	}
	retVal := make([]*ThunkData32, 0)
	startRVA := rva
	const size = 4

	for rva < startRVA+maxLen {
		lookupRVA := rva
		if isOldDelayImport {
			lookupRVA = rva - uint32(f.OptionalHeader.ImageBaseValue())
		}
		raw, err := f.GetData(lookupRVA, size)
		if err != nil || len(raw) < size {
			break
		}
		thunk := ImageThunkData32{AddressOfData: binary.LittleEndian.Uint32(raw)}
		if thunk == (ImageThunkData32{}) {
			break
		}
		if thunk.AddressOfData >= startRVA && thunk.AddressOfData <= rva {
			break
		}
		retVal = append(retVal, &ThunkData32{ImageThunkData: thunk, Offset: rva})
		rva += size
	}
	return retVal, nil
}

func (f *PEFile) getImportTable64(rva, maxLen uint32, isOldDelayImport bool) ([]*ThunkData64, error) {
	if f.OptionalHeader == nil || rva == 0 {
		return nil, nil
	}
	retVal := make([]*ThunkData64, 0)
	startRVA := rva
	const size = 8

	for rva < startRVA+maxLen {
		lookupRVA := rva
		if isOldDelayImport {
			lookupRVA = rva - uint32(f.OptionalHeader.ImageBaseValue())
		}
		raw, err := f.GetData(lookupRVA, size)
		if err != nil || len(raw) < size {
			break
		}
		thunk := ImageThunkData64{AddressOfData: binary.LittleEndian.Uint64(raw)}
		if thunk == (ImageThunkData64{}) {
			break
		}
		if thunk.AddressOfData >= uint64(startRVA) && thunk.AddressOfData <= uint64(rva) {
			break
		}
		retVal = append(retVal, &ThunkData64{ImageThunkData: thunk, Offset: rva})
		rva += size
	}
	return retVal, nil
}

func delayImportThunkRVAs(dt interface{}) (originalFirstThunk, firstThunk uint32, isOldDelayImport bool) {
	switch desc := dt.(type) {
	case *ImageImportDirectory:
		return desc.OriginalFirstThunk, desc.FirstThunk, false
	case *ImageDelayImportDirectory:
		isOld := desc.Attributes == 0
		return desc.ImportNameTableRVA, desc.ImportAddressTableRVA, isOld
	}
	return 0, 0, false
}

func (f *PEFile) readImports32(dt interface{}, maxLen uint32) ([]*ImportFunction, error) {
	if f.OptionalHeader == nil {
		return nil, nil
	}
	originalFirstThunk, firstThunk, isOldDelayImport := delayImportThunkRVAs(dt)

	ilt, err := f.getImportTable32(originalFirstThunk, maxLen, isOldDelayImport)
	if err != nil {
		return nil, err
	}
	iat, err := f.getImportTable32(firstThunk, maxLen, isOldDelayImport)
	if err != nil {
		return nil, err
	}
	if len(iat) == 0 && len(ilt) == 0 {
		return nil, ErrDamagedImportTable
	}

	table := ilt
	if len(table) == 0 {
		table = iat
	}

	var importedFunctions []*ImportFunction
	numInvalid := 0
	for idx, entry := range table {
		imp := ImportFunction{}
		if entry.ImageThunkData.AddressOfData > 0 {
			if entry.ImageThunkData.AddressOfData&imageOrdinalFlag32 > 0 {
				imp.ByOrdinal = true
				imp.Ordinal = entry.ImageThunkData.AddressOfData & 0xffff
				if idx < len(ilt) {
					imp.OriginalThunkValue = uint64(ilt[idx].ImageThunkData.AddressOfData)
					imp.OriginalThunkRVA = ilt[idx].Offset
				}
				if idx < len(iat) {
					imp.ThunkValue = uint64(iat[idx].ImageThunkData.AddressOfData)
					imp.ThunkRVA = iat[idx].Offset
				}
				imp.Name = "#" + strconv.Itoa(int(imp.Ordinal))
			} else {
				addr := entry.ImageThunkData.AddressOfData
				if isOldDelayImport {
					addr -= uint32(f.OptionalHeader.ImageBaseValue())
				}
				if idx < len(ilt) {
					imp.OriginalThunkValue = uint64(ilt[idx].ImageThunkData.AddressOfData & addressMask32)
					imp.OriginalThunkRVA = ilt[idx].Offset
				}
				if idx < len(iat) {
					imp.ThunkValue = uint64(iat[idx].ImageThunkData.AddressOfData & addressMask32)
					imp.ThunkRVA = iat[idx].Offset
				}
				hintNameTableRVA := addr & addressMask32
				if hint, err := f.readUint16AtRVA(hintNameTableRVA); err == nil {
					imp.Hint = hint
				} else {
					imp.Hint = ^uint16(0)
				}
				imp.Name = f.getStringAtRVA(addr+2, maxImportNameLength)
				if !IsValidFunctionName(imp.Name) {
					imp.Name = "*invalid*"
				}
			}
		}

		if imp.Name == "*invalid*" {
			numInvalid++
			if numInvalid > 1000 {
				return nil, errors.New("too many invalid names, aborting parsing")
			}
			continue
		}
		importedFunctions = append(importedFunctions, &imp)
	}
	return importedFunctions, nil
}

func (f *PEFile) readImports64(dt interface{}, maxLen uint32) ([]*ImportFunction, error) {
	if f.OptionalHeader == nil {
		return nil, nil
	}
	originalFirstThunk, firstThunk, isOldDelayImport := delayImportThunkRVAs(dt)

	ilt, err := f.getImportTable64(originalFirstThunk, maxLen, isOldDelayImport)
	if err != nil {
		return nil, err
	}
	iat, err := f.getImportTable64(firstThunk, maxLen, isOldDelayImport)
	if err != nil {
		return nil, err
	}
	if len(iat) == 0 && len(ilt) == 0 {
		return nil, ErrDamagedImportTable
	}

	table := ilt
	if len(table) == 0 {
		table = iat
	}

	var importedFunctions []*ImportFunction
	numInvalid := 0
	for idx, entry := range table {
		imp := ImportFunction{}
		if entry.ImageThunkData.AddressOfData > 0 {
			if entry.ImageThunkData.AddressOfData&imageOrdinalFlag64 > 0 {
				imp.ByOrdinal = true
				imp.Ordinal = uint32(entry.ImageThunkData.AddressOfData) & 0xffff
				if idx < len(ilt) {
					imp.OriginalThunkValue = ilt[idx].ImageThunkData.AddressOfData
					imp.OriginalThunkRVA = ilt[idx].Offset
				}
				if idx < len(iat) {
					imp.ThunkValue = iat[idx].ImageThunkData.AddressOfData
					imp.ThunkRVA = iat[idx].Offset
				}
				imp.Name = "#" + strconv.Itoa(int(imp.Ordinal))
			} else {
				addr := entry.ImageThunkData.AddressOfData
				if isOldDelayImport {
					addr -= f.OptionalHeader.ImageBaseValue()
				}
				if idx < len(ilt) {
					imp.OriginalThunkValue = ilt[idx].ImageThunkData.AddressOfData & addressMask64
					imp.OriginalThunkRVA = ilt[idx].Offset
				}
				if idx < len(iat) {
					imp.ThunkValue = iat[idx].ImageThunkData.AddressOfData & addressMask64
					imp.ThunkRVA = iat[idx].Offset
				}
				hintNameTableRVA := uint32(addr & addressMask64)
				if hint, err := f.readUint16AtRVA(hintNameTableRVA); err == nil {
					imp.Hint = hint
				} else {
					imp.Hint = ^uint16(0)
				}
				imp.Name = f.getStringAtRVA(uint32(addr)+2, maxImportNameLength)
				if !IsValidFunctionName(imp.Name) {
					imp.Name = "*invalid*"
				}
			}
		}

		if imp.Name == "*invalid*" {
			numInvalid++
			if numInvalid > 1000 {
				return nil, errors.New("too many invalid names, aborting parsing")
			}
			continue
		}
		importedFunctions = append(importedFunctions, &imp)
	}
	return importedFunctions, nil
}

func (f *PEFile) readUint16AtRVA(rva uint32) (uint16, error) {
	raw, err := f.GetData(rva, 2)
	if err != nil || len(raw) < 2 {
		return 0, errors.New("short read")
	}
	return binary.LittleEndian.Uint16(raw), nil
}

// OrdLookup resolves a DLL/ordinal pair to an exported function name. It
// carries no table of known pairs, so it always returns ""; ImpHash then
// falls back to the numeric "ordN" form.
func OrdLookup(dll string, ordinal uint64, makeName bool) string {
	if !makeName {
		return ""
	}
	return ""
}

// ImpHash computes the import hash (imphash) the way pefile/LIEF define it:
// lowercased "libname.funcname" pairs, ordinal entries resolved through
// OrdLookup, joined with commas and hashed with MD5.
func (f *PEFile) ImpHash() (string, error) {
	if len(f.Imports) == 0 {
		return "", errors.New("no imports found")
	}

	extensions := []string{"ocx", "sys", "dll"}
	var normalizedImports []string

	for _, imp := range f.Imports {
		var libName string
		parts := strings.Split(imp.Name, ".")
		if len(parts) == 2 && stringInSlice(strings.ToLower(parts[1]), extensions) {
			libName = parts[0]
		} else {
			libName = imp.Name
		}
		libName = strings.ToLower(libName)

		for _, function := range imp.Functions {
			var funcName string
			if function.ByOrdinal {
				funcName = OrdLookup(imp.Name, uint64(function.Ordinal), true)
				if funcName == "" {
					funcName = fmt.Sprintf("ord%d", function.Ordinal)
				}
			} else {
				funcName = function.Name
			}
			if funcName == "" {
				continue
			}
			normalizedImports = append(normalizedImports, fmt.Sprintf("%s.%s", libName, strings.ToLower(funcName)))
		}
	}

	h := md5.New()
	_, _ = io.WriteString(h, strings.Join(normalizedImports, ","))
	return hex.EncodeToString(h.Sum(nil)), nil
}
