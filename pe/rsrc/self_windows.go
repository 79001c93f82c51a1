//go:build windows

package rsrc

import (
	"os"

	"golang.org/x/sys/windows"

	"github.com/wanglei-coder/dnpe/pe"
)

// OpenSelf parses the PE image backing the running process, resolving its
// path via GetModuleFileName against the process's own module handle
// (mirroring wingoes's live-process introspection) rather than trusting
// os.Args[0].
func OpenSelf() (*pe.PEFile, error) {
	h, err := windows.GetModuleHandle("")
	if err != nil {
		return nil, err
	}
	buf := make([]uint16, windows.MAX_PATH)
	n, err := windows.GetModuleFileName(h, &buf[0], uint32(len(buf)))
	if err != nil {
		return nil, err
	}
	path := windows.UTF16ToString(buf[:n])

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	pf, err := pe.Parse(f, fi.Size(), pe.Unmapped)
	if err != nil {
		f.Close()
		return nil, err
	}
	return pf, nil
}
