package container

import (
	"github.com/pkg/errors"

	"github.com/cratesig/scrate/codec"
)

// StringRef locates a string inside a StringTable's contiguous buffer.
type StringRef struct {
	Offset uint32
	Length uint32
}

// StringTable is the single contiguous byte region every structured string
// in a PackageSection or DepTableSection is referenced into by (offset,
// length). Deduplication is optional but insertion order is deterministic:
// first-seen order, per spec.md §4.3 Phase 2 step 1.
type StringTable struct {
	buf  []byte
	seen map[string]StringRef
}

// NewStringTable returns an empty table ready for interning.
func NewStringTable() *StringTable {
	return &StringTable{seen: make(map[string]StringRef)}
}

// Intern appends s to the table unless an identical string was already
// interned, returning a ref either way.
func (st *StringTable) Intern(s string) StringRef {
	if ref, ok := st.seen[s]; ok {
		return ref
	}
	ref := StringRef{Offset: uint32(len(st.buf)), Length: uint32(len(s))}
	st.buf = append(st.buf, s...)
	st.seen[s] = ref
	return ref
}

// Bytes returns the table's backing buffer.
func (st *StringTable) Bytes() []byte {
	return st.buf
}

// Len returns the size in bytes of the table's backing buffer.
func (st *StringTable) Len() int {
	return len(st.buf)
}

// LoadStringTable wraps a decoded string table region verbatim; no parsing
// is needed since entries are addressed by external (offset, length) pairs.
func LoadStringTable(raw []byte) *StringTable {
	buf := make([]byte, len(raw))
	copy(buf, raw)
	return &StringTable{buf: buf, seen: make(map[string]StringRef)}
}

// Resolve returns the string named by ref, failing with ErrStringOutOfRange
// if any part of the (offset, length) region escapes the table — the
// closure invariant spec.md §8 calls "string-table closure".
func (st *StringTable) Resolve(ref StringRef) (string, error) {
	start := int(ref.Offset)
	end := start + int(ref.Length)
	if start < 0 || end < start || end > len(st.buf) {
		return "", errors.Wrapf(codec.ErrStringOutOfRange, "ref {offset:%d, length:%d} against table of %d bytes", ref.Offset, ref.Length, len(st.buf))
	}
	return string(st.buf[start:end]), nil
}
