//go:build !windows

package rsrc

import (
	"errors"

	"github.com/wanglei-coder/dnpe/pe"
)

// OpenSelf is only meaningful on Windows, where the running image is
// guaranteed to be a PE file.
func OpenSelf() (*pe.PEFile, error) {
	return nil, errors.New("rsrc: OpenSelf is only supported on windows")
}
