// Command pedump parses a PE image and prints a JSON report of its
// headers, sections, imports, resources, CLI metadata (when present) and
// a short disassembly of the entry point.
package main

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/h2non/filetype"
	"github.com/pkg/errors"
	"github.com/xyproto/env/v2"

	"github.com/wanglei-coder/dnpe/pe"
	"github.com/wanglei-coder/dnpe/pe/metadata"
	"github.com/wanglei-coder/dnpe/pe/rsrc"
	"github.com/wanglei-coder/dnpe/pe/x86"
)

// Info is the top-level JSON report.
type Info struct {
	Path          string            `json:"path"`
	Machine       uint16            `json:"machine"`
	Is64          bool              `json:"is64"`
	NumberOfSections int            `json:"number_of_sections"`
	EntryPointRVA uint32            `json:"entry_point_rva"`
	SizeOfImage   uint32            `json:"size_of_image"`
	Sections      []SectionInfo     `json:"sections"`
	Imports       []ImportInfo      `json:"imports,omitempty"`
	DelayImports  []ImportInfo      `json:"delay_imports,omitempty"`
	Resources     []ResourceDetail  `json:"resources,omitempty"`
	Overlay       *OverlayInfo      `json:"overlay,omitempty"`
	Authentihash  string            `json:"authentihash,omitempty"`
	Metadata      *MetadataInfo     `json:"metadata,omitempty"`
	EntryDisasm   []string          `json:"entry_disasm,omitempty"`
}

type SectionInfo struct {
	Name           string  `json:"name"`
	VirtualAddress uint32  `json:"virtual_address"`
	VirtualSize    uint32  `json:"virtual_size"`
	SizeOfRawData  uint32  `json:"size_of_raw_data"`
	Flags          string  `json:"flags"`
	Entropy        float64 `json:"entropy"`
	MD5            string  `json:"md5"`
}

type ImportInfo struct {
	DLL       string   `json:"dll"`
	Functions []string `json:"functions"`
}

type ResourceDetail struct {
	Type        string             `json:"type"`
	Name        string             `json:"name"`
	Lang        string             `json:"lang"`
	SizeBytes   int                `json:"size_bytes"`
	SniffedKind string             `json:"sniffed_kind,omitempty"`
	VersionInfo *rsrc.VersionInfo  `json:"version_info,omitempty"`
}

type OverlayInfo struct {
	Offset int64 `json:"offset"`
	Size   int64 `json:"size"`
}

type MetadataInfo struct {
	MajorVersion    uint8            `json:"major_version"`
	MinorVersion    uint8            `json:"minor_version"`
	VersionString   string           `json:"version_string"`
	IsILOnly        bool             `json:"is_il_only"`
	EntryPointToken string           `json:"entry_point_token,omitempty"`
	Streams         []string         `json:"streams"`
	TableRowCounts  map[string]uint32 `json:"table_row_counts,omitempty"`
	RawExtraBytes   int              `json:"raw_extra_bytes,omitempty"`
}

func main() {
	maxDepth := flag.Int("max-depth", env.Int("PEDUMP_MAX_DEPTH", 4), "maximum resource directory depth to report")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: pedump [-max-depth N] <file>")
		os.Exit(2)
	}
	path := flag.Arg(0)

	info, err := dump(path, *maxDepth)
	if err != nil {
		log.Fatal(err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(info); err != nil {
		log.Fatal(err)
	}
}

func dump(path string, maxDepth int) (*Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening file")
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "stat")
	}

	pe.MaxResourceDepth = maxDepth
	pf, err := pe.Parse(f, fi.Size(), pe.Unmapped)
	if err != nil {
		return nil, errors.Wrap(err, "parsing PE image")
	}

	info := &Info{
		Path:             path,
		Machine:          pf.FileHeader.Machine,
		Is64:             pf.Is64,
		NumberOfSections: len(pf.Sections),
		EntryPointRVA:    pf.EntryPointRVA(),
	}
	if pf.OptionalHeader != nil {
		info.SizeOfImage = pf.OptionalHeader.SizeOfImageValue()
	}

	for _, s := range pf.Sections {
		si := SectionInfo{
			Name:           s.Name,
			VirtualAddress: s.VirtualAddress,
			VirtualSize:    s.VirtualSize,
			SizeOfRawData:  s.SizeOfRawData,
			Flags:          s.Flags(),
		}
		if e, err := s.Entropy(); err == nil {
			si.Entropy = e
		}
		if md5sum, err := s.MD5(); err == nil {
			si.MD5 = md5sum
		}
		info.Sections = append(info.Sections, si)
	}

	for _, imp := range pf.Imports {
		info.Imports = append(info.Imports, importInfoFrom(imp.Name, imp.Functions))
	}
	for _, imp := range pf.DelayImports {
		info.DelayImports = append(info.DelayImports, importInfoFrom(imp.Name, imp.Functions))
	}

	if sr := pf.GetOverlay(); sr != nil && pf.OverlayOffset > 0 {
		info.Overlay = &OverlayInfo{Offset: pf.OverlayOffset, Size: fi.Size() - pf.OverlayOffset}
	}

	if h := pf.Authentihash(); h != nil {
		info.Authentihash = hex.EncodeToString(h)
	}

	if tree := rsrc.New(pf); tree != nil {
		for _, entry := range tree.Entries() {
			data, err := entry.Data(pf)
			detail := ResourceDetail{
				Type: entry.Type,
				Name: entry.Name,
				Lang: entry.LangName,
			}
			if err == nil {
				detail.SizeBytes = len(data)
				if kind, err := filetype.Match(data); err == nil && kind != filetype.Unknown {
					detail.SniffedKind = kind.Extension
				}
				if entry.Type == "VERSION" {
					if vi, err := rsrc.DecodeVersionInfo(data); err == nil {
						detail.VersionInfo = vi
					}
				}
			}
			info.Resources = append(info.Resources, detail)
		}
	}

	if nd, err := metadata.ReadNetDirectory(pf); err == nil && nd != nil {
		info.Metadata = metadataInfoFrom(nd)
	}

	if entry := pf.EntryPointRVA(); entry != 0 {
		if code, err := pf.GetData(entry, 64); err == nil {
			info.EntryDisasm = disassemble(code, 16)
		}
	}

	return info, nil
}

func importInfoFrom(name string, funcs []*pe.ImportFunction) ImportInfo {
	ii := ImportInfo{DLL: name}
	for _, fn := range funcs {
		if fn.ByOrdinal {
			ii.Functions = append(ii.Functions, fmt.Sprintf("#%d", fn.Ordinal))
		} else {
			ii.Functions = append(ii.Functions, fn.Name)
		}
	}
	return ii
}

func metadataInfoFrom(nd *metadata.NetDirectory) *MetadataInfo {
	mi := &MetadataInfo{
		MajorVersion: uint8(nd.MajorRuntimeVersion),
		MinorVersion: uint8(nd.MinorRuntimeVersion),
		IsILOnly:     nd.IsILOnly(),
	}
	if tok, ok := nd.EntryPointToken(); ok && !tok.IsNull() {
		mi.EntryPointToken = fmt.Sprintf("0x%08X", uint32(tok))
	}
	if nd.Root == nil {
		return mi
	}
	mi.VersionString = nd.Root.VersionString
	for _, sh := range nd.Root.Streams {
		mi.Streams = append(mi.Streams, sh.Name)
	}
	if nd.Root.Tables != nil {
		mi.TableRowCounts = make(map[string]uint32)
		for id := metadata.TableID(0); id < metadata.NumTableIDs; id++ {
			if n := nd.Root.Tables.RowCount(id); n > 0 {
				mi.TableRowCounts[id.String()] = n
			}
		}
		mi.RawExtraBytes = len(nd.Root.Tables.RawExtra())
	}
	return mi
}

// disassemble formats up to max instructions starting at the beginning of
// code, stopping early on a decode error (a typical native-stub prologue
// runs push/call/jmp/ret, which this closed set covers).
func disassemble(code []byte, max int) []string {
	var out []string
	dis := x86.Disassembler{}
	fmtr := x86.Formatter{}
	pos := 0
	for i := 0; i < max && pos < len(code); i++ {
		inst, err := dis.Decode(code[pos:])
		if err != nil {
			break
		}
		out = append(out, fmtr.Format(inst))
		pos += inst.Length
	}
	return out
}
