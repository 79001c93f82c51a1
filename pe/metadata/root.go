package metadata

import (
	"bytes"

	"github.com/wanglei-coder/dnpe/pe/bio"
	"github.com/wanglei-coder/dnpe/pe/errs"
)

const metadataRootSignature = 0x424A5342

// StreamHeader names one metadata stream within the root: an offset (from
// the start of the root) and size, plus a NUL-terminated name padded to a
// 4-byte boundary.
type StreamHeader struct {
	Offset uint32
	Size   uint32
	Name   string
}

// MetadataRoot is the fixed CLI metadata header: signature, version
// string, and the directory of named streams that follow it.
type MetadataRoot struct {
	Signature     uint32
	MajorVersion  uint16
	MinorVersion  uint16
	Reserved      uint32
	VersionString string
	Flags         uint16
	Streams       []StreamHeader

	raw []byte // the full metadata root region, for stream byte-slicing

	Tables  *TablesHeap
	Strings *StringsHeap
	US      *USHeap
	Blob    *BlobHeap
	GUID    *GUIDHeap
}

func parseMetadataRoot(raw []byte) (*MetadataRoot, error) {
	r := bio.NewReader(bytes.NewReader(raw), int64(len(raw)))

	sig, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	if sig != metadataRootSignature {
		return nil, errs.BadImageAt(0, "metadata root signature mismatch")
	}
	root := &MetadataRoot{Signature: sig, raw: raw}

	if root.MajorVersion, err = r.ReadU16(); err != nil {
		return nil, err
	}
	if root.MinorVersion, err = r.ReadU16(); err != nil {
		return nil, err
	}
	if root.Reserved, err = r.ReadU32(); err != nil {
		return nil, err
	}
	verLen, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	verBytes, err := r.ReadBytes(int(verLen))
	if err != nil {
		return nil, err
	}
	root.VersionString = cStr(verBytes)
	// pad to 4-byte boundary from the start of the root
	if pad := int(r.Position()) % 4; pad != 0 {
		if _, err := r.ReadBytes(4 - pad); err != nil {
			return nil, err
		}
	}
	if root.Flags, err = r.ReadU16(); err != nil {
		return nil, err
	}
	numStreams, err := r.ReadU16()
	if err != nil {
		return nil, err
	}

	for i := 0; i < int(numStreams); i++ {
		var sh StreamHeader
		if sh.Offset, err = r.ReadU32(); err != nil {
			return nil, err
		}
		if sh.Size, err = r.ReadU32(); err != nil {
			return nil, err
		}
		nameBuf := make([]byte, 0, 16)
		for {
			b, err := r.ReadU8()
			if err != nil {
				return nil, err
			}
			if b == 0 {
				break
			}
			nameBuf = append(nameBuf, b)
		}
		sh.Name = string(nameBuf)
		if pad := int(r.Position()) % 4; pad != 0 {
			if _, err := r.ReadBytes(4 - pad); err != nil {
				return nil, err
			}
		}
		root.Streams = append(root.Streams, sh)
	}

	if err := root.parseStreams(); err != nil {
		return nil, err
	}
	return root, nil
}

func cStr(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// Stream returns the raw bytes of the named stream, or nil if absent.
func (root *MetadataRoot) Stream(name string) []byte {
	for _, sh := range root.Streams {
		if sh.Name == name {
			end := sh.Offset + sh.Size
			if end > uint32(len(root.raw)) {
				end = uint32(len(root.raw))
			}
			if sh.Offset > end {
				return nil
			}
			return root.raw[sh.Offset:end]
		}
	}
	return nil
}

func (root *MetadataRoot) parseStreams() error {
	root.Strings = newStringsHeap(root.Stream("#Strings"))
	root.US = newUSHeap(root.Stream("#US"))
	root.Blob = newBlobHeap(root.Stream("#Blob"))
	root.GUID = newGUIDHeap(root.Stream("#GUID"))

	tablesRaw := root.Stream("#~")
	compressed := true
	if tablesRaw == nil {
		tablesRaw = root.Stream("#-")
		compressed = false
	}
	if tablesRaw == nil {
		return nil
	}
	th, err := parseTablesHeap(tablesRaw, compressed)
	if err != nil {
		return err
	}
	root.Tables = th
	return nil
}
