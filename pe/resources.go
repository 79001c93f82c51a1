package pe

import (
	"bytes"
	"encoding/binary"
	"unicode/utf16"

	"github.com/pkg/errors"
)

type (
	ImageResourceDirectory struct {
		Characteristics      uint32
		TimeDateStamp        uint32
		MajorVersion         uint16
		MinorVersion         uint16
		NumberOfNamedEntries uint16
		NumberOfIDEntries    uint16
	}

	ImageResourceDirectoryEntry struct {
		Name         uint32
		OffsetToData uint32
	}

	ImageResourceDataEntry struct {
		OffsetToData uint32
		Size         uint32
		CodePage     uint32
		Reserved     uint32
	}

	// ResourceDirectory is a decoded node of the resource tree rooted at the
	// image's ImageDirectoryEntryResource data directory.
	ResourceDirectory struct {
		Struct  ImageResourceDirectory
		Entries []ResourceDirectoryEntry
	}

	ResourceDirectoryEntry struct {
		Struct    ImageResourceDirectoryEntry
		Name      string
		ID        uint32
		Directory *ResourceDirectory
		Data      *ResourceDataEntry
	}

	ResourceDataEntry struct {
		Struct  ImageResourceDataEntry
		Lang    uint32
		SubLang uint32
	}
)

func unpackAtRVA(f *PEFile, rva uint32, size uint32, out interface{}) error {
	buf, err := f.GetData(rva, size)
	if err != nil {
		return errors.Wrap(err, "reading struct at rva")
	}
	if uint32(len(buf)) < size {
		return errors.Errorf("short read at rva 0x%x: got %d want %d", rva, len(buf), size)
	}
	return binary.Read(bytes.NewReader(buf), binary.LittleEndian, out)
}

func (f *PEFile) parseResourceDataEntry(rva uint32) (ImageResourceDataEntry, error) {
	var entry ImageResourceDataEntry
	size := uint32(binary.Size(entry))
	if err := unpackAtRVA(f, rva, size, &entry); err != nil {
		return entry, errors.Wrap(err, "parsing resource data entry")
	}
	return entry, nil
}

func (f *PEFile) parseResourceDirectoryEntry(rva uint32) *ImageResourceDirectoryEntry {
	var entry ImageResourceDirectoryEntry
	size := uint32(binary.Size(entry))
	if err := unpackAtRVA(f, rva, size, &entry); err != nil {
		return nil
	}
	if entry == (ImageResourceDirectoryEntry{}) {
		return nil
	}
	return &entry
}

// readUnicodeStringAtRVA reads a length-prefixed-by-caller UTF-16LE resource
// name string of numChars code units starting at rva.
func (f *PEFile) readUnicodeStringAtRVA(rva, numChars uint32) string {
	raw, err := f.GetData(rva, numChars*2)
	if err != nil || len(raw) < int(numChars)*2 {
		return ""
	}
	units := make([]uint16, numChars)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(raw[i*2:])
	}
	return string(utf16.Decode(units))
}

func uint32InSliceLocal(v uint32, list []uint32) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// doParseResourceDirectory walks the resource tree recursively, guarding
// against directory cycles via dirs (RVAs of directories already visited on
// this path) and against pathological fan-out via maxAllowedEntries.
func (f *PEFile) doParseResourceDirectory(rva, size, baseRVA, level uint32, dirs []uint32) (*ResourceDirectory, error) {
	var dir ImageResourceDirectory
	dirSize := uint32(binary.Size(dir))
	if err := unpackAtRVA(f, rva, dirSize, &dir); err != nil {
		return nil, err
	}

	if baseRVA == 0 {
		baseRVA = rva
	}
	if len(dirs) == 0 {
		dirs = append(dirs, rva)
	}

	if level > uint32(MaxResourceDepth) {
		return &ResourceDirectory{Struct: dir}, nil
	}

	entryRVA := rva + dirSize
	numberOfEntries := int(dir.NumberOfNamedEntries) + int(dir.NumberOfIDEntries)
	if numberOfEntries > maxAllowedEntries {
		return &ResourceDirectory{Struct: dir}, nil
	}

	entrySize := uint32(binary.Size(ImageResourceDirectoryEntry{}))
	var entries []ResourceDirectoryEntry
	for i := 0; i < numberOfEntries; i++ {
		res := f.parseResourceDirectoryEntry(entryRVA)
		if res == nil {
			break
		}

		var entryName string
		var entryID uint32
		if res.Name&0x80000000 == 0 {
			entryID = res.Name
		} else {
			nameOffset := res.Name & 0x7fffffff
			maxLen, err := f.ReadUint16(f.rvaToOffsetBestEffort(baseRVA + nameOffset))
			if err == nil {
				entryName = f.readUnicodeStringAtRVA(baseRVA+nameOffset+2, uint32(maxLen))
			}
		}

		offsetToDirectory := res.OffsetToData & 0x7fffffff
		entry := ResourceDirectoryEntry{Struct: *res, Name: entryName, ID: entryID}

		if res.OffsetToData&0x80000000 != 0 {
			childRVA := baseRVA + offsetToDirectory
			if uint32InSliceLocal(childRVA, dirs) {
				break
			}
			childDirs := append(append([]uint32{}, dirs...), childRVA)
			child, err := f.doParseResourceDirectory(childRVA, size-(entryRVA-baseRVA), baseRVA, level+1, childDirs)
			if err == nil {
				entry.Directory = child
			}
		} else {
			dataRVA := baseRVA + offsetToDirectory
			dataStruct, err := f.parseResourceDataEntry(dataRVA)
			if err == nil {
				entry.Data = &ResourceDataEntry{
					Struct:  dataStruct,
					Lang:    res.Name & 0x3ff,
					SubLang: res.Name >> 10,
				}
			}
		}

		entries = append(entries, entry)
		entryRVA += entrySize
	}

	return &ResourceDirectory{Struct: dir, Entries: entries}, nil
}

// rvaToOffsetBestEffort converts rva to a file offset through the section
// that contains it (PointerToRawData + rva - VirtualAddress); when no
// section contains rva it returns rva unchanged. The resource walker uses
// it for the name-length prefix it reads via the absolute-offset
// primitives, and the import and delay-import walkers for the file offset
// of each descriptor.
func (f *PEFile) rvaToOffsetBestEffort(rva uint32) uint32 {
	s := f.SectionByRVA(rva)
	if s == nil {
		return rva
	}
	return s.PointerToRawData + (rva - s.VirtualAddress)
}

// readResourceDirectory decodes the resource tree rooted at the image's
// resource data directory, or returns nil if the image has none.
func (f *PEFile) readResourceDirectory() (*ResourceDirectory, error) {
	if f.OptionalHeader == nil {
		return nil, nil
	}
	dd := f.DataDirectory(ImageDirectoryEntryResource)
	if dd.Empty() {
		return nil, nil
	}
	return f.doParseResourceDirectory(dd.VirtualAddress, dd.Size, 0, 0, nil)
}
