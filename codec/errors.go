// Package codec holds the sentinel errors shared by the container encoder
// and decoder, plus the path-like wrapping spec.md §7 requires on decode
// failures ("section[2]: DigestMismatch").
package codec

import (
	"fmt"

	"github.com/pkg/errors"
)

// Sentinel errors returned (possibly wrapped in a *PathError) by the
// container package's decode path.
var (
	ErrTruncated           = errors.New("codec: truncated input")
	ErrBadMagic            = errors.New("codec: bad magic number")
	ErrLayoutInvariant     = errors.New("codec: layout invariant violated")
	ErrUnknownSectionType  = errors.New("codec: unknown section type")
	ErrStringOutOfRange    = errors.New("codec: string reference out of range")
	ErrFingerprintMismatch = errors.New("codec: fingerprint mismatch")
	ErrNoTrustAnchors      = errors.New("codec: no trust anchors supplied for signature verification")
)

// PathError names the section a decode failure occurred in, the way
// spec.md §7 requires ("section[2]: DigestMismatch"). Section is the
// section index's position in declaration order; -1 means the failure is
// not tied to one section (magic, header, string table, section index,
// fingerprint, or missing trust anchors).
type PathError struct {
	Section int
	Err     error
}

func (e *PathError) Error() string {
	if e.Section < 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("section[%d]: %s", e.Section, e.Err)
}

func (e *PathError) Unwrap() error { return e.Err }

// Path wraps err as a *PathError located at section, unless err is nil.
func Path(section int, err error) error {
	if err == nil {
		return nil
	}
	return &PathError{Section: section, Err: err}
}
