package pe

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
	"io"
	"sort"
)

func (f *PEFile) AuthentihashSha512() []byte { return f.authentihash(sha512.New()) }
func (f *PEFile) AuthentihashSha256() []byte { return f.authentihash(sha256.New()) }
func (f *PEFile) AuthentihashSha1() []byte   { return f.authentihash(sha1.New()) }
func (f *PEFile) AuthentihashMd5() []byte    { return f.authentihash(md5.New()) }

// Authentihash is the Authenticode-defined hash of the image with the
// checksum field, the certificate-table data directory entry, and any
// embedded certificate table itself excluded from the digest.
func (f *PEFile) Authentihash() []byte { return f.authentihash(sha256.New()) }

func (f *PEFile) authentihash(hasher hash.Hash) []byte {
	if f.OptionalHeader == nil {
		return nil
	}
	locations, err := f.parsePEHeaderLocations()
	if err != nil {
		return nil
	}

	excluded := make([]relRange, 0, len(locations))
	for _, k := range []string{"checksum", "datadir_certtable", "certtable"} {
		if r, ok := locations[k]; ok {
			excluded = append(excluded, *r)
		}
	}
	sort.Sort(byStart(excluded))

	ranges := make([]rangeSpan, 0, len(excluded)+1)
	start := uint32(0)
	for _, r := range excluded {
		ranges = append(ranges, rangeSpan{Start: start, End: r.Start})
		start = r.Start + r.Length
	}
	ranges = append(ranges, rangeSpan{Start: start, End: uint32(f.size)})

	for _, span := range ranges {
		sr := io.NewSectionReader(f.src, int64(span.Start), int64(span.End)-int64(span.Start))
		_, _ = io.Copy(hasher, sr)
	}
	return hasher.Sum(nil)
}

type rangeSpan struct{ Start, End uint32 }

type relRange struct{ Start, Length uint32 }

type byStart []relRange

func (s byStart) Len() int           { return len(s) }
func (s byStart) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }
func (s byStart) Less(i, j int) bool { return s[i].Start < s[j].Start }

// parsePEHeaderLocations finds the byte ranges Authenticode excludes from
// its digest: the checksum field, the certificate-table directory entry,
// and any certificate table already embedded in the file.
func (f *PEFile) parsePEHeaderLocations() (map[string]*relRange, error) {
	location := make(map[string]*relRange, 3)
	optionalHeaderOffset := f.Dos.NextHeaderOffset + 4 + uint32(FileHeaderSize)

	var optionalHeaderSize, numberOfRvaAndSizes, rvaBase, certBase uint32
	var address, size uint32
	switch f.Is64 {
	case true:
		oh := f.OptionalHeader.(*OptionalHeader64)
		optionalHeaderSize = oh.SizeOfHeaders
		numberOfRvaAndSizes = oh.NumberOfRvaAndSizes
		rvaBase = optionalHeaderOffset + 108
		certBase = optionalHeaderOffset + 144
		address = oh.DataDirectory[ImageDirectoryEntrySecurity].VirtualAddress
		size = oh.DataDirectory[ImageDirectoryEntrySecurity].Size
	case false:
		oh := f.OptionalHeader.(*OptionalHeader32)
		optionalHeaderSize = oh.SizeOfHeaders
		numberOfRvaAndSizes = oh.NumberOfRvaAndSizes
		rvaBase = optionalHeaderOffset + 92
		certBase = optionalHeaderOffset + 128
		address = oh.DataDirectory[ImageDirectoryEntrySecurity].VirtualAddress
		size = oh.DataDirectory[ImageDirectoryEntrySecurity].Size
	}

	if int64(optionalHeaderSize) > f.size-int64(optionalHeaderOffset) {
		return nil, fmt.Errorf("optional header exceeds file length (%d + %d > %d)",
			optionalHeaderSize, optionalHeaderOffset, f.size)
	}
	if optionalHeaderSize < 68 {
		return nil, fmt.Errorf("optional header size %d < 68, insufficient for authenticode", optionalHeaderSize)
	}

	location["checksum"] = &relRange{optionalHeaderOffset + 64, 4}

	if optionalHeaderOffset+optionalHeaderSize < rvaBase+4 {
		return location, nil
	}
	if numberOfRvaAndSizes < 5 {
		return location, nil
	}
	if optionalHeaderOffset+optionalHeaderSize < certBase+8 {
		return location, nil
	}
	location["datadir_certtable"] = &relRange{certBase, 8}

	if size == 0 {
		return location, nil
	}
	if int64(address) < int64(optionalHeaderSize)+int64(optionalHeaderOffset) ||
		int64(address)+int64(size) > f.size {
		return location, nil
	}
	location["certtable"] = &relRange{address, size}
	return location, nil
}
