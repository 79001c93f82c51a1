package pe

import "github.com/pkg/errors"

var (
	ErrInvalidPESize      = errors.New("not a PE file, smaller than tiny PE")
	ErrOutsideBoundary    = errors.New("reading data outside boundary")
	ErrDamagedImportTable = errors.New(
		"damaged import table information: ILT and/or IAT appear to be broken")
	ErrNoOptionalHeader = errors.New("file has no optional header")
)
