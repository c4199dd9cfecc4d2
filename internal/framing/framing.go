// Package framing implements the fixed-width little-endian binary primitives
// shared by every section of a .scrate container: integers, length-prefixed
// arrays, and raw (unprefixed) arrays.
package framing

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Sentinel errors returned by decode helpers.
var (
	// ErrTruncated is returned when a reader cannot satisfy a required read.
	ErrTruncated = errors.New("framing: truncated input")
	// ErrMalformed is returned when a tagged value carries an unknown tag.
	ErrMalformed = errors.New("framing: malformed input")
)

// Reader is a cursor over an in-memory buffer. Every decode helper in this
// package takes a *Reader so offsets advance consistently across calls.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps buf for sequential decoding starting at offset 0.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Pos returns the current read offset.
func (r *Reader) Pos() int {
	return r.pos
}

// Seek repositions the cursor to an absolute offset within buf.
func (r *Reader) Seek(offset int) error {
	if offset < 0 || offset > len(r.buf) {
		return errors.Wrapf(ErrTruncated, "seek to %d (len %d)", offset, len(r.buf))
	}
	r.pos = offset
	return nil
}

// Remaining returns how many bytes are left to read.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.pos
}

// Bytes reads n raw bytes and advances the cursor. The returned slice aliases
// the reader's backing array; callers that need to retain it past further
// reads should copy it.
func (r *Reader) Bytes(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, errors.Wrapf(ErrTruncated, "need %d bytes, have %d", n, r.Remaining())
	}
	out := r.buf[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

// Slice returns the bytes in [offset, offset+length) without moving the
// cursor, used for offset/size-addressed regions (string table, sections).
func (r *Reader) Slice(offset, length int) ([]byte, error) {
	if offset < 0 || length < 0 || offset+length > len(r.buf) {
		return nil, errors.Wrapf(ErrTruncated, "region [%d,%d) outside buffer of length %d", offset, offset+length, len(r.buf))
	}
	return r.buf[offset : offset+length], nil
}

// U8 reads a single byte.
func (r *Reader) U8() (uint8, error) {
	b, err := r.Bytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// U16 reads a little-endian uint16.
func (r *Reader) U16() (uint16, error) {
	b, err := r.Bytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// U32 reads a little-endian uint32.
func (r *Reader) U32() (uint32, error) {
	b, err := r.Bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// U64 reads a little-endian uint64.
func (r *Reader) U64() (uint64, error) {
	b, err := r.Bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// Writer accumulates encoded bytes. The zero value is ready to use.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty Writer with capacity hinted by size.
func NewWriter(size int) *Writer {
	return &Writer{buf: make([]byte, 0, size)}
}

// Bytes returns the accumulated buffer.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int {
	return len(w.buf)
}

// Raw appends b verbatim (the bulk-copy path for byte-typed raw arrays).
func (w *Writer) Raw(b []byte) {
	w.buf = append(w.buf, b...)
}

// PutU8 appends a single byte.
func (w *Writer) PutU8(v uint8) { w.buf = append(w.buf, v) }

// PutU16 appends a little-endian uint16.
func (w *Writer) PutU16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// PutU32 appends a little-endian uint32.
func (w *Writer) PutU32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// PutU64 appends a little-endian uint64.
func (w *Writer) PutU64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// SizeWriter is an io.Writer that only counts bytes, so a caller can learn
// the exact encoded size of a value without keeping the bytes.
// container.Encode does not use it: it sizes each section by encoding the
// body into a Writer first.
type SizeWriter struct {
	n int
}

// Write implements io.Writer by counting len(p) and discarding the bytes.
func (s *SizeWriter) Write(p []byte) (int, error) {
	s.n += len(p)
	return len(p), nil
}

// Len returns the number of bytes that would have been written.
func (s *SizeWriter) Len() int {
	return s.n
}

var _ io.Writer = (*SizeWriter)(nil)

// PutLenPrefixedBytes writes a byte-typed LenArray: a u32 count followed by
// the raw bytes themselves, taken verbatim in a single bulk append.
func (w *Writer) PutLenPrefixedBytes(b []byte) {
	w.PutU32(uint32(len(b)))
	w.Raw(b)
}

// LenPrefixedBytes reads a byte-typed LenArray (u32 count + that many raw
// bytes) as a single bulk read — the fast path spec.md §9 calls out
// preserving for byte-element raw/len arrays. As with Bytes, the returned
// slice aliases the reader's backing array.
func (r *Reader) LenPrefixedBytes() ([]byte, error) {
	n, err := r.U32()
	if err != nil {
		return nil, err
	}
	return r.Bytes(int(n))
}
