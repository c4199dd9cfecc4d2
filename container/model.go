// Package container implements the .scrate on-disk layout: a fixed header,
// a deduplicated string table, a section index tiling a run of tagged data
// sections, and a trailing SHA-256 fingerprint. It owns the three-phase
// encode pipeline (provision, layout, finalize) and the gap-tolerant decode
// pipeline, but knows nothing about how its bytes reach disk or the network
// — that boundary belongs to a CLI front end outside this module.
package container

import "github.com/cratesig/scrate/signature"

// MAGIC is the fixed 4-byte constant opening every .scrate file.
var MAGIC = []byte{'S', 'C', 'R', 'T'}

const (
	headerSize            = 7 * 4 // seven u32 fields, see CrateHeader
	sectionIndexEntrySize = 3 * 4 // sh_type, sh_offset, sh_size
	fingerprintSize       = 32
)

// SectionType tags a DataSection's payload shape. It is a closed set:
// decode treats any value outside this set as ErrUnknownSectionType.
type SectionType uint32

const (
	SectionPackage      SectionType = 0
	SectionDepTable     SectionType = 1
	sectionReserved2    SectionType = 2 // gap preserved, never emitted
	SectionCrateBinary  SectionType = 3
	SectionSigStructure SectionType = 4
)

// SIGTYPE identifies which bytes of the package a signature section covers.
type SIGTYPE uint32

const (
	// SigTypeCrateBinary covers only the CrateBinarySection's raw bytes.
	SigTypeCrateBinary SIGTYPE = 0
	// SigTypeWhole covers [0, sh_offset) of the signature's own section —
	// the entire package up to but not including the signature itself.
	SigTypeWhole SIGTYPE = 1
)

// CrateHeader is the fixed-width little-endian struct at offset 4. Field
// order is load-bearing: strtable_offset, strtable_size, sh_offset, sh_size,
// sh_num, ds_offset, ds_size, exactly as spec.md §6 fixes it.
type CrateHeader struct {
	StrtableOffset uint32
	StrtableSize   uint32
	ShOffset       uint32
	ShSize         uint32
	ShNum          uint32
	DsOffset       uint32
	DsSize         uint32
}

// SectionIndexEntry describes one tiled data section.
type SectionIndexEntry struct {
	Type   SectionType
	Offset uint32
	Size   uint32
}

// DependencySourceKind distinguishes a declared dependency's origin. Storing
// it is not package resolution — the dependency is never fetched or solved,
// only recorded, per spec.md §1's Non-goal.
type DependencySourceKind uint8

const (
	DependencySourceRegistry DependencySourceKind = 0
	DependencySourcePath     DependencySourceKind = 1
	DependencySourceGit      DependencySourceKind = 2
)

// DependencyRecord is one row of the dependency table.
type DependencyRecord struct {
	Name       string
	VersionReq string
	SourceKind DependencySourceKind
}

// PackageInfo is the structured metadata carried by PackageSection, expanded
// from the original source's pack_info beyond bare name/version.
type PackageInfo struct {
	Name        string
	Version     string
	License     string
	Description string
	Authors     []string
	Homepage    string
	Repository  string
}

// PendingSignature is a signature registered with a Context before encode,
// naming the material that will sign and the range it should cover.
type PendingSignature struct {
	// ID names a pending signature in Encode's error messages; it plays
	// no role in the on-disk format.
	ID       string
	Material *signature.Material
	SigType  SIGTYPE
}

// DecodedSignature is a signature section as read back off disk, already
// verified against the context's trust anchors by the time decode returns.
type DecodedSignature struct {
	SigType SIGTYPE
	DER     []byte
}

// CratePackage is the root, in-memory model of a parsed or about-to-be-
// serialized .scrate file. It is transient: a Context owns one only for the
// duration of an encode or decode call.
type CratePackage struct {
	Header       CrateHeader
	StringTable  *StringTable
	SectionIndex []SectionIndexEntry

	PackageInfo  *PackageInfo
	Dependencies []DependencyRecord
	CrateBinary  []byte
	Signatures   []DecodedSignature

	Fingerprint [fingerprintSize]byte
}
