// Package rsrc decodes the resource tree parsed by package pe into typed
// entries (name, language, version info) and can inject new resources into
// an existing PE image via winres.
package rsrc

import (
	"encoding/binary"
	"fmt"

	"github.com/tc-hib/winres"

	"github.com/wanglei-coder/dnpe/pe"
)

// Tree wraps the raw resource directory pe.Parse decodes, exposing
// typed accessors over its three-level Type/Name/Language structure.
type Tree struct {
	root *pe.ResourceDirectory
}

func New(f *pe.PEFile) *Tree {
	if f.Resources == nil {
		return nil
	}
	return &Tree{root: f.Resources}
}

// Entry is one leaf (Type/Name/Language) of the resource tree, resolved
// against the owning image so its raw bytes can be fetched on demand.
type Entry struct {
	Type     string
	Name     string
	Lang     uint32
	SubLang  uint32
	LangName string
	dataRVA  uint32
	dataSize uint32
}

// Data reads this entry's raw bytes out of the image.
func (e Entry) Data(f *pe.PEFile) ([]byte, error) {
	return f.GetData(e.dataRVA, e.dataSize)
}

// Entries flattens the tree into a leaf list, resolving RT_* type IDs and
// language codes to human-readable names.
func (t *Tree) Entries() []Entry {
	if t == nil {
		return nil
	}
	var out []Entry
	for _, typeEntry := range t.root.Entries {
		typeName := typeEntry.Name
		if typeName == "" {
			typeName = ResourceTypeName(typeEntry.ID)
		}
		if typeEntry.Directory == nil {
			continue
		}
		for _, nameEntry := range typeEntry.Directory.Entries {
			name := nameEntry.Name
			if name == "" {
				name = fmt.Sprintf("#%d", nameEntry.ID)
			}
			if nameEntry.Directory == nil {
				continue
			}
			for _, langEntry := range nameEntry.Directory.Entries {
				if langEntry.Data == nil {
					continue
				}
				lang := langEntry.Data.Lang
				sub := langEntry.Data.SubLang
				out = append(out, Entry{
					Type:     typeName,
					Name:     name,
					Lang:     lang,
					SubLang:  sub,
					LangName: LangName(lang, sub),
					dataRVA:  langEntry.Data.Struct.OffsetToData,
					dataSize: langEntry.Data.Struct.Size,
				})
			}
		}
	}
	return out
}

// ResourceTypeName maps a numeric RT_* resource type ID to its conventional
// name, mirroring the identifiers winres.ResourceSet.Set accepts.
func ResourceTypeName(id uint32) string {
	names := map[uint32]string{
		1: "CURSOR", 2: "BITMAP", 3: "ICON", 4: "MENU", 5: "DIALOG",
		6: "STRING", 7: "FONTDIR", 8: "FONT", 9: "ACCELERATOR",
		10: "RCDATA", 11: "MESSAGETABLE", 12: "GROUP_CURSOR",
		14: "GROUP_ICON", 16: "VERSION", 17: "DLGINCLUDE",
		19: "PLUGPLAY", 20: "VXD", 21: "ANICURSOR", 22: "ANIICON",
		23: "HTML", 24: "MANIFEST",
	}
	if n, ok := names[id]; ok {
		return n
	}
	return fmt.Sprintf("#%d", id)
}

// LangName renders a language/sublanguage pair as a locale tag for the
// common locales this project cares about, falling back to the raw values.
func LangName(lang, sub uint32) string {
	locales := map[uint32]string{
		0x0409: "en-US", 0x0809: "en-GB", 0x0407: "de-DE",
		0x040c: "fr-FR", 0x0410: "it-IT", 0x0411: "ja-JP",
		0x0804: "zh-CN", 0x0404: "zh-TW", 0x0419: "ru-RU",
		0x0000: "neutral",
	}
	code := lang | sub<<10
	if n, ok := locales[code]; ok {
		return n
	}
	return fmt.Sprintf("0x%04x", code)
}

// FixedFileInfo is VS_FIXEDFILEINFO, the binary-versioned header every
// VS_VERSION_INFO resource carries ahead of its string tables.
type FixedFileInfo struct {
	Signature        uint32
	StrucVersion     uint32
	FileVersionMS    uint32
	FileVersionLS    uint32
	ProductVersionMS uint32
	ProductVersionLS uint32
	FileFlagsMask    uint32
	FileFlags        uint32
	FileOS           uint32
	FileType         uint32
	FileSubtype      uint32
	FileDateMS       uint32
	FileDateLS       uint32
}

// VersionInfo is a decoded VS_VERSION_INFO resource: the fixed header plus
// the StringFileInfo key/value pairs for a single translation block.
type VersionInfo struct {
	Fixed  FixedFileInfo
	Strings map[string]string
}

const vsFixedFileInfoSig = 0xFEEF04BD

// DecodeVersionInfo parses a raw RT_VERSION resource's bytes.
func DecodeVersionInfo(data []byte) (*VersionInfo, error) {
	if len(data) < 6 {
		return nil, fmt.Errorf("version resource too short")
	}
	valueLen := binary.LittleEndian.Uint16(data[2:4])
	pos := align4(6 + 2*len("VS_VERSION_INFO\x00"))
	if pos > len(data) {
		return nil, fmt.Errorf("version resource truncated")
	}
	vi := &VersionInfo{Strings: map[string]string{}}
	if int(valueLen) >= 13*4 && pos+13*4 <= len(data) {
		fixed := data[pos : pos+13*4]
		if binary.LittleEndian.Uint32(fixed[0:4]) == vsFixedFileInfoSig {
			vi.Fixed = FixedFileInfo{
				Signature:        binary.LittleEndian.Uint32(fixed[0:4]),
				StrucVersion:     binary.LittleEndian.Uint32(fixed[4:8]),
				FileVersionMS:    binary.LittleEndian.Uint32(fixed[8:12]),
				FileVersionLS:    binary.LittleEndian.Uint32(fixed[12:16]),
				ProductVersionMS: binary.LittleEndian.Uint32(fixed[16:20]),
				ProductVersionLS: binary.LittleEndian.Uint32(fixed[20:24]),
				FileFlagsMask:    binary.LittleEndian.Uint32(fixed[24:28]),
				FileFlags:        binary.LittleEndian.Uint32(fixed[28:32]),
				FileOS:           binary.LittleEndian.Uint32(fixed[32:36]),
				FileType:         binary.LittleEndian.Uint32(fixed[36:40]),
				FileSubtype:      binary.LittleEndian.Uint32(fixed[40:44]),
				FileDateMS:       binary.LittleEndian.Uint32(fixed[44:48]),
				FileDateLS:       binary.LittleEndian.Uint32(fixed[48:52]),
			}
		}
		pos = align4(pos + int(valueLen))
	}

	walkStringFileInfo(data, pos, vi)
	return vi, nil
}

func align4(n int) int { return (n + 3) &^ 3 }

// walkStringFileInfo descends VS_VERSION_INFO's children looking for the
// StringFileInfo block and flattens its (langcodepage)->key->value table.
func walkStringFileInfo(data []byte, pos int, vi *VersionInfo) {
	for pos+6 <= len(data) {
		blockStart := pos
		length := int(binary.LittleEndian.Uint16(data[pos : pos+2]))
		if length == 0 || blockStart+length > len(data) {
			return
		}
		valueLen := int(binary.LittleEndian.Uint16(data[pos+2 : pos+4]))
		wType := binary.LittleEndian.Uint16(data[pos+4 : pos+6])
		nameStart := pos + 6
		key, nameEnd := readWideCString(data, nameStart)
		childPos := align4(nameEnd)

		if key == "StringFileInfo" {
			readStringTables(data, childPos, blockStart+length, vi)
		} else if wType == 0 && valueLen == 0 {
			// var/string block without a recognized key; keep descending.
			readStringTables(data, childPos, blockStart+length, vi)
		}
		pos = align4(blockStart + length)
	}
}

func readStringTables(data []byte, pos, end int, vi *VersionInfo) {
	for pos+6 <= end {
		tableStart := pos
		length := int(binary.LittleEndian.Uint16(data[pos : pos+2]))
		if length == 0 || tableStart+length > len(data) {
			return
		}
		_, nameEnd := readWideCString(data, pos+6)
		childPos := align4(nameEnd)
		readStringEntries(data, childPos, tableStart+length, vi)
		pos = align4(tableStart + length)
		if pos >= end {
			return
		}
	}
}

func readStringEntries(data []byte, pos, end int, vi *VersionInfo) {
	for pos+6 <= end && pos+6 <= len(data) {
		entryStart := pos
		length := int(binary.LittleEndian.Uint16(data[pos : pos+2]))
		if length == 0 || entryStart+length > len(data) {
			return
		}
		valueLen := int(binary.LittleEndian.Uint16(data[pos+2 : pos+4]))
		key, nameEnd := readWideCString(data, pos+6)
		valuePos := align4(nameEnd)
		if valuePos+valueLen*2 <= len(data) {
			value, _ := readWideCStringN(data, valuePos, valueLen)
			vi.Strings[key] = value
		}
		pos = align4(entryStart + length)
	}
}

func readWideCString(data []byte, pos int) (string, int) {
	var units []uint16
	for pos+2 <= len(data) {
		u := binary.LittleEndian.Uint16(data[pos : pos+2])
		pos += 2
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	return utf16ToString(units), pos
}

func readWideCStringN(data []byte, pos, maxUnits int) (string, int) {
	var units []uint16
	for i := 0; i < maxUnits && pos+2 <= len(data); i++ {
		u := binary.LittleEndian.Uint16(data[pos : pos+2])
		pos += 2
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	return utf16ToString(units), pos
}

func utf16ToString(units []uint16) string {
	r := make([]rune, 0, len(units))
	for i := 0; i < len(units); i++ {
		u := units[i]
		if u >= 0xd800 && u <= 0xdbff && i+1 < len(units) {
			u2 := units[i+1]
			if u2 >= 0xdc00 && u2 <= 0xdfff {
				r = append(r, ((rune(u)-0xd800)<<10|(rune(u2)-0xdc00))+0x10000)
				i++
				continue
			}
		}
		r = append(r, rune(u))
	}
	return string(r)
}

// InjectManifest writes a Windows application manifest into a copy of the
// PE image at outPath using winres, the same mechanism wingoes uses for
// its subprocess resource embedding.
func InjectManifest(inPath, outPath string, manifestXML []byte) error {
	var rs winres.ResourceSet
	if err := rs.Set(winres.RT_MANIFEST, winres.ID(1), 0, manifestXML); err != nil {
		return err
	}
	inFile, err := openFile(inPath)
	if err != nil {
		return err
	}
	defer inFile.Close()
	outFile, err := createFile(outPath)
	if err != nil {
		return err
	}
	defer outFile.Close()
	return rs.WriteToEXE(outFile, inFile)
}
