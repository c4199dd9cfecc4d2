package container

import (
	"bytes"
	"crypto/x509"
	"encoding/hex"

	"github.com/opencontainers/go-digest"
	"github.com/pkg/errors"

	"github.com/cratesig/scrate/codec"
	"github.com/cratesig/scrate/internal/framing"
	"github.com/cratesig/scrate/signature"
)

// Decode parses buf into a CratePackage and verifies every embedded
// signature against roots. It follows spec.md §4.3's decode algorithm
// exactly: magic, header, string table, section index, sections by type
// tag (tolerating caller-advanced gaps), fingerprint, then per-signature
// verification. Every failure is wrapped in a *codec.PathError naming the
// offending section; failures not tied to one section (magic, header,
// string table, section index, fingerprint, missing trust anchors) carry
// section -1.
func Decode(buf []byte, roots []*x509.Certificate) (*CratePackage, error) {
	if len(buf) < len(MAGIC)+headerSize {
		return nil, codec.Path(-1, codec.ErrTruncated)
	}
	if !bytes.Equal(buf[:len(MAGIC)], MAGIC) {
		return nil, codec.Path(-1, codec.ErrBadMagic)
	}

	hr := framing.NewReader(buf[len(MAGIC):])
	header, err := readHeader(hr)
	if err != nil {
		return nil, codec.Path(-1, err)
	}

	if err := validateHeaderLayout(header, len(buf)); err != nil {
		return nil, codec.Path(-1, err)
	}

	strtableRaw, err := sliceAbs(buf, int(header.StrtableOffset), int(header.StrtableSize))
	if err != nil {
		return nil, codec.Path(-1, errors.Wrap(codec.ErrTruncated, err.Error()))
	}
	st := LoadStringTable(strtableRaw)

	entries, err := decodeSectionIndex(buf, header)
	if err != nil {
		return nil, codec.Path(-1, err)
	}
	if err := validateSectionLayout(entries, header); err != nil {
		return nil, codec.Path(-1, err)
	}

	pkg := &CratePackage{Header: header, StringTable: st, SectionIndex: entries}

	for i, e := range entries {
		body, err := sliceAbs(buf, int(e.Offset), int(e.Size))
		if err != nil {
			return nil, codec.Path(i, errors.Wrap(codec.ErrTruncated, err.Error()))
		}

		switch e.Type {
		case SectionPackage:
			info, err := decodePackageSection(framing.NewReader(body), st)
			if err != nil {
				return nil, codec.Path(i, err)
			}
			pkg.PackageInfo = info

		case SectionDepTable:
			deps, err := decodeDepTableSection(framing.NewReader(body), st)
			if err != nil {
				return nil, codec.Path(i, err)
			}
			pkg.Dependencies = deps

		case SectionCrateBinary:
			cp := make([]byte, len(body))
			copy(cp, body)
			pkg.CrateBinary = cp

		case SectionSigStructure:
			sigType, der, err := decodeSigStructureBody(body)
			if err != nil {
				return nil, codec.Path(i, err)
			}
			pkg.Signatures = append(pkg.Signatures, DecodedSignature{SigType: sigType, DER: der})

		default:
			return nil, codec.Path(i, codec.ErrUnknownSectionType)
		}
	}

	fingerprintOffset := int(header.DsOffset) + int(header.DsSize)
	fpRaw, err := sliceAbs(buf, fingerprintOffset, fingerprintSize)
	if err != nil {
		return nil, codec.Path(-1, errors.Wrap(codec.ErrTruncated, err.Error()))
	}
	want := digest.SHA256.FromBytes(buf[:fingerprintOffset])
	wantBytes, _ := hex.DecodeString(want.Hex())
	if !bytes.Equal(fpRaw, wantBytes) {
		return nil, codec.Path(-1, codec.ErrFingerprintMismatch)
	}
	copy(pkg.Fingerprint[:], fpRaw)

	if err := verifySignatures(pkg, entries, buf, roots); err != nil {
		return nil, err
	}

	return pkg, nil
}

func readHeader(r *framing.Reader) (CrateHeader, error) {
	var h CrateHeader
	var err error
	if h.StrtableOffset, err = r.U32(); err != nil {
		return h, err
	}
	if h.StrtableSize, err = r.U32(); err != nil {
		return h, err
	}
	if h.ShOffset, err = r.U32(); err != nil {
		return h, err
	}
	if h.ShSize, err = r.U32(); err != nil {
		return h, err
	}
	if h.ShNum, err = r.U32(); err != nil {
		return h, err
	}
	if h.DsOffset, err = r.U32(); err != nil {
		return h, err
	}
	if h.DsSize, err = r.U32(); err != nil {
		return h, err
	}
	return h, nil
}

// validateHeaderLayout enforces the checks spec.md §6 requires of every
// header: strtable_offset ≥ 4 + sizeof(header), sh_offset+sh_size ≤
// ds_offset, ds_offset+ds_size+32 == file_size.
func validateHeaderLayout(h CrateHeader, fileSize int) error {
	if int(h.StrtableOffset) < len(MAGIC)+headerSize {
		return errors.Wrap(codec.ErrLayoutInvariant, "strtable_offset precedes header")
	}
	if int(h.ShOffset)+int(h.ShSize) > int(h.DsOffset) {
		return errors.Wrap(codec.ErrLayoutInvariant, "section index overruns data sections")
	}
	if int(h.DsOffset)+int(h.DsSize)+fingerprintSize != fileSize {
		return errors.Wrap(codec.ErrLayoutInvariant, "ds_offset + ds_size + 32 != file size")
	}
	return nil
}

func decodeSectionIndex(buf []byte, h CrateHeader) ([]SectionIndexEntry, error) {
	if h.ShNum > 0 && h.ShSize == 0 {
		return nil, errors.Wrap(codec.ErrLayoutInvariant, "sh_num > 0 but sh_size == 0")
	}
	raw, err := sliceAbs(buf, int(h.ShOffset), int(h.ShSize))
	if err != nil {
		return nil, errors.Wrap(codec.ErrTruncated, err.Error())
	}
	if int(h.ShNum)*sectionIndexEntrySize != len(raw) {
		return nil, errors.Wrap(codec.ErrLayoutInvariant, "sh_size does not match sh_num * entry size")
	}
	r := framing.NewReader(raw)
	entries := make([]SectionIndexEntry, 0, h.ShNum)
	for i := uint32(0); i < h.ShNum; i++ {
		t, err := r.U32()
		if err != nil {
			return nil, errors.Wrap(codec.ErrTruncated, err.Error())
		}
		off, err := r.U32()
		if err != nil {
			return nil, errors.Wrap(codec.ErrTruncated, err.Error())
		}
		size, err := r.U32()
		if err != nil {
			return nil, errors.Wrap(codec.ErrTruncated, err.Error())
		}
		entries = append(entries, SectionIndexEntry{Type: SectionType(t), Offset: off, Size: size})
	}
	return entries, nil
}

// validateSectionLayout checks the "layout law" of spec.md §8 item 3:
// entries lie within [ds_offset, ds_offset+ds_size), are non-overlapping,
// and ascend by offset. It tolerates caller-advanced gaps between entries
// (spec.md §4.3 step 5) but never overlap.
func validateSectionLayout(entries []SectionIndexEntry, h CrateHeader) error {
	dsStart := int(h.DsOffset)
	dsEnd := dsStart + int(h.DsSize)
	prevEnd := dsStart
	for _, e := range entries {
		start := int(e.Offset)
		end := start + int(e.Size)
		if start < prevEnd || start < dsStart || end > dsEnd {
			return errors.Wrapf(codec.ErrLayoutInvariant, "section [%d,%d) out of order or outside data region [%d,%d)", start, end, dsStart, dsEnd)
		}
		prevEnd = end
	}
	return nil
}

func sliceAbs(buf []byte, offset, length int) ([]byte, error) {
	if offset < 0 || length < 0 || offset+length > len(buf) {
		return nil, errors.Errorf("region [%d,%d) outside buffer of length %d", offset, offset+length, len(buf))
	}
	return buf[offset : offset+length], nil
}

func decodeSigStructureBody(body []byte) (SIGTYPE, []byte, error) {
	r := framing.NewReader(body)
	size, err := r.U32()
	if err != nil {
		return 0, nil, err
	}
	sigType, err := r.U32()
	if err != nil {
		return 0, nil, err
	}
	der, err := r.Bytes(int(size))
	if err != nil {
		return 0, nil, err
	}
	out := make([]byte, len(der))
	copy(out, der)
	return SIGTYPE(sigType), out, nil
}

// verifySignatures walks every SigStructureSection in declaration order and
// invokes the signature engine over its declared coverage range, read from
// the already-decoded buffer.
func verifySignatures(pkg *CratePackage, entries []SectionIndexEntry, buf []byte, roots []*x509.Certificate) error {
	if len(pkg.Signatures) == 0 {
		return nil
	}
	if len(roots) == 0 {
		return codec.Path(-1, codec.ErrNoTrustAnchors)
	}

	sigIdx := 0
	for i, e := range entries {
		if e.Type != SectionSigStructure {
			continue
		}
		sig := pkg.Signatures[sigIdx]
		sigIdx++

		dataRange, err := coverageRange(buf, sig.SigType, int(e.Offset))
		if err != nil {
			return codec.Path(i, err)
		}
		if err := signature.Verify(sig.DER, dataRange, roots); err != nil {
			return codec.Path(i, err)
		}
	}
	return nil
}
