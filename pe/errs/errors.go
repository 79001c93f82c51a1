// Package errs defines the closed set of error kinds shared by the pe,
// pe/bio, pe/metadata and pe/x86 packages.
package errs

import "fmt"

// Kind is one of the five error categories named by the design: bounds
// violations, bad image signatures, malformed metadata, undecodable x86
// encodings and caller-supplied invariant violations.
type Kind string

const (
	OutOfBounds        Kind = "out_of_bounds"
	BadImage           Kind = "bad_image"
	MalformedMetadata  Kind = "malformed_metadata"
	InvalidEncoding    Kind = "invalid_encoding"
	InvariantViolation Kind = "invariant_violation"
)

// Error carries the failing byte offset (or RVA, caller's choice) alongside
// its kind, so tests can match on Kind without parsing message text.
type Error struct {
	Kind   Kind
	Offset uint64
	Msg    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s at offset 0x%x: %s", e.Kind, e.Offset, e.Msg)
}

func New(kind Kind, offset uint64, msg string) error {
	return &Error{Kind: kind, Offset: offset, Msg: msg}
}

func Newf(kind Kind, offset uint64, format string, args ...any) error {
	return &Error{Kind: kind, Offset: offset, Msg: fmt.Sprintf(format, args...)}
}

func OutOfBoundsAt(offset uint64, msg string) error {
	return New(OutOfBounds, offset, msg)
}

func BadImageAt(offset uint64, msg string) error {
	return New(BadImage, offset, msg)
}

func MalformedAt(offset uint64, msg string) error {
	return New(MalformedMetadata, offset, msg)
}

func InvalidEncodingAt(offset uint64, msg string) error {
	return New(InvalidEncoding, offset, msg)
}

func InvariantAt(offset uint64, msg string) error {
	return New(InvariantViolation, offset, msg)
}

// Is reports whether err (or something it wraps) is an *Error of kind k.
func Is(err error, k Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind == k
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
