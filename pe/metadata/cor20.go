// Package metadata implements the CLI (ECMA-335) metadata engine layered
// on top of a parsed pe.PEFile: the COR20 header, the metadata root, the
// four heaps, the tables stream, coded-index resolution, signature
// decoding and the type system.
package metadata

import (
	"github.com/pkg/errors"

	"github.com/wanglei-coder/dnpe/pe"
	"github.com/wanglei-coder/dnpe/pe/errs"
)

const imageDirectoryEntryComDescriptor = 14

// NetDirectory is the 72-byte CLI header (COR20), located via the PE
// optional header's COM descriptor data directory.
type NetDirectory struct {
	Cb                        uint32
	MajorRuntimeVersion       uint16
	MinorRuntimeVersion       uint16
	MetaDataRVA               uint32
	MetaDataSize              uint32
	Flags                     uint32
	EntryPointTokenOrRVA      uint32
	ResourcesRVA              uint32
	ResourcesSize             uint32
	StrongNameSignatureRVA    uint32
	StrongNameSignatureSize   uint32
	CodeManagerTableRVA       uint32
	CodeManagerTableSize      uint32
	VTableFixupsRVA           uint32
	VTableFixupsSize          uint32
	ExportAddressTableJumpsRVA  uint32
	ExportAddressTableJumpsSize uint32
	ManagedNativeHeaderRVA    uint32
	ManagedNativeHeaderSize   uint32

	file *pe.PEFile
	Root *MetadataRoot
}

const comDescriptorSize = 72

// ComImageFlagILOnly etc. mirror the well-known CorFlags bits.
const (
	ComImageFlagILOnly           = 0x00000001
	ComImageFlagRequires32Bit    = 0x00000002
	ComImageFlagStrongNameSigned = 0x00000008
	ComImageFlagNativeEntryPoint = 0x00000010
	ComImageFlagTrackDebugData   = 0x00010000
)

// ReadNetDirectory locates and parses the COM descriptor directory of f,
// then eagerly parses the metadata root it points at. It returns nil,nil
// (not an error) when f carries no CLI header at all.
func ReadNetDirectory(f *pe.PEFile) (*NetDirectory, error) {
	dd := f.DataDirectory(imageDirectoryEntryComDescriptor)
	if dd.Empty() {
		return nil, nil
	}
	raw, err := f.GetData(dd.VirtualAddress, comDescriptorSize)
	if err != nil {
		return nil, errors.Wrap(err, "metadata: reading COR20 header")
	}
	if len(raw) < comDescriptorSize {
		return nil, errs.BadImageAt(uint64(dd.VirtualAddress), "COR20 header truncated")
	}

	nd := &NetDirectory{file: f}
	le := littleEndianCursor{b: raw}
	nd.Cb = le.u32()
	nd.MajorRuntimeVersion = le.u16()
	nd.MinorRuntimeVersion = le.u16()
	nd.MetaDataRVA = le.u32()
	nd.MetaDataSize = le.u32()
	nd.Flags = le.u32()
	nd.EntryPointTokenOrRVA = le.u32()
	nd.ResourcesRVA = le.u32()
	nd.ResourcesSize = le.u32()
	nd.StrongNameSignatureRVA = le.u32()
	nd.StrongNameSignatureSize = le.u32()
	nd.CodeManagerTableRVA = le.u32()
	nd.CodeManagerTableSize = le.u32()
	nd.VTableFixupsRVA = le.u32()
	nd.VTableFixupsSize = le.u32()
	nd.ExportAddressTableJumpsRVA = le.u32()
	nd.ExportAddressTableJumpsSize = le.u32()
	nd.ManagedNativeHeaderRVA = le.u32()
	nd.ManagedNativeHeaderSize = le.u32()

	if nd.MetaDataSize > 0 {
		rootBytes, err := f.GetData(nd.MetaDataRVA, nd.MetaDataSize)
		if err != nil {
			return nil, errors.Wrap(err, "metadata: reading metadata root")
		}
		root, err := parseMetadataRoot(rootBytes)
		if err != nil {
			return nil, err
		}
		nd.Root = root
	}
	return nd, nil
}

// IsILOnly reports whether ComImageFlagILOnly is set.
func (nd *NetDirectory) IsILOnly() bool { return nd.Flags&ComImageFlagILOnly != 0 }

// EntryPointToken returns the entry-point metadata token, or (0, false) if
// ComImageFlagNativeEntryPoint is set (the field is a native RVA instead).
func (nd *NetDirectory) EntryPointToken() (Token, bool) {
	if nd.Flags&ComImageFlagNativeEntryPoint != 0 {
		return 0, false
	}
	return Token(nd.EntryPointTokenOrRVA), true
}

// littleEndianCursor is a tiny helper for decoding the fixed-layout COR20
// header without pulling in a bio.Reader for a single flat read.
type littleEndianCursor struct {
	b   []byte
	pos int
}

func (c *littleEndianCursor) u16() uint16 {
	v := uint16(c.b[c.pos]) | uint16(c.b[c.pos+1])<<8
	c.pos += 2
	return v
}

func (c *littleEndianCursor) u32() uint32 {
	v := uint32(c.b[c.pos]) | uint32(c.b[c.pos+1])<<8 | uint32(c.b[c.pos+2])<<16 | uint32(c.b[c.pos+3])<<24
	c.pos += 4
	return v
}
