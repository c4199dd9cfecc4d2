package container

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/opencontainers/go-digest"
	"github.com/pkg/errors"

	"github.com/cratesig/scrate/codec"
	"github.com/cratesig/scrate/internal/framing"
)

// EncodeInput is everything Phase 1 (provision) needs: the metadata and
// archive bytes a Context has ingested, plus the signatures it has
// registered but not yet produced.
type EncodeInput struct {
	PackageInfo  PackageInfo
	Dependencies []DependencyRecord
	CrateBinary  []byte
	Pending      []PendingSignature
}

// sigSizeSlack pads each reserved signature body past the size measured in
// Phase 2. An RSA SignedData's DER length is fixed by the key size alone,
// but ECDSA's is not: the ASN.1 ECDSA-Sig-Value holds two DER INTEGERs (r,
// s) that are each 32 or 33 bytes depending on their random high bit, so a
// second signing over the real coverage range can legitimately come out a
// few bytes longer than the Phase 2 probe. The slack absorbs that variance
// without requiring a second layout pass.
const sigSizeSlack = 16

// sigPlan is the Phase 2 record for one pending signature: its probed body
// size (measured once; see sigSizeSlack for why it's only a lower bound for
// variable-length signers), the padded capacity actually reserved, and its
// assigned offset within the final buffer.
type sigPlan struct {
	pending    PendingSignature
	bodySize   int // probed length of the DER bytes from the Phase 2 Sign(nil) call
	capacity   int // bodySize + sigSizeSlack; the real DER must fit within this
	sectionOff int // absolute offset of the SigStructureSection itself
	sectionLen int // 8 (sigstruct_size + sigstruct_type) + capacity
}

// Encode runs the full three-phase layout spec.md §4.3 describes and
// returns both the decoded model (for a caller that wants to inspect what
// it just built) and the serialized bytes.
func Encode(in EncodeInput) (*CratePackage, []byte, error) {
	st := NewStringTable()

	pkgW := framing.NewWriter(0)
	encodePackageSection(pkgW, st, &in.PackageInfo)
	pkgBody := pkgW.Bytes()

	depW := framing.NewWriter(0)
	encodeDepTableSection(depW, st, in.Dependencies)
	depBody := depW.Bytes()

	plans := make([]sigPlan, len(in.Pending))
	for i, p := range in.Pending {
		if p.Material == nil {
			return nil, nil, errors.Errorf("container: pending signature %q has no signing material", p.ID)
		}
		der, err := p.Material.Sign(nil)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "container: measure signature size for %q", p.ID)
		}
		capacity := len(der) + sigSizeSlack
		plans[i] = sigPlan{pending: p, bodySize: len(der), capacity: capacity, sectionLen: 8 + capacity}
	}

	strtableOffset := len(MAGIC) + headerSize
	strtableSize := st.Len()
	shOffset := strtableOffset + strtableSize
	shNum := 3 + len(plans) // Package, DepTable, CrateBinary, Sig*
	shSize := shNum * sectionIndexEntrySize
	dsOffset := shOffset + shSize

	cursor := dsOffset
	pkgOff := cursor
	cursor += len(pkgBody)
	depOff := cursor
	cursor += len(depBody)
	crateOff := cursor
	cursor += len(in.CrateBinary)
	for i := range plans {
		plans[i].sectionOff = cursor
		cursor += plans[i].sectionLen
	}
	dsSize := cursor - dsOffset
	fingerprintOffset := dsOffset + dsSize

	header := CrateHeader{
		StrtableOffset: uint32(strtableOffset),
		StrtableSize:   uint32(strtableSize),
		ShOffset:       uint32(shOffset),
		ShSize:         uint32(shSize),
		ShNum:          uint32(shNum),
		DsOffset:       uint32(dsOffset),
		DsSize:         uint32(dsSize),
	}

	buf := make([]byte, fingerprintOffset+fingerprintSize)

	copy(buf[0:len(MAGIC)], MAGIC)

	hw := framing.NewWriter(headerSize)
	hw.PutU32(header.StrtableOffset)
	hw.PutU32(header.StrtableSize)
	hw.PutU32(header.ShOffset)
	hw.PutU32(header.ShSize)
	hw.PutU32(header.ShNum)
	hw.PutU32(header.DsOffset)
	hw.PutU32(header.DsSize)
	copy(buf[len(MAGIC):len(MAGIC)+headerSize], hw.Bytes())

	copy(buf[strtableOffset:strtableOffset+strtableSize], st.Bytes())

	entries := make([]SectionIndexEntry, 0, shNum)
	entries = append(entries, SectionIndexEntry{Type: SectionPackage, Offset: uint32(pkgOff), Size: uint32(len(pkgBody))})
	entries = append(entries, SectionIndexEntry{Type: SectionDepTable, Offset: uint32(depOff), Size: uint32(len(depBody))})
	entries = append(entries, SectionIndexEntry{Type: SectionCrateBinary, Offset: uint32(crateOff), Size: uint32(len(in.CrateBinary))})
	for _, p := range plans {
		entries = append(entries, SectionIndexEntry{Type: SectionSigStructure, Offset: uint32(p.sectionOff), Size: uint32(p.sectionLen)})
	}

	iw := framing.NewWriter(shSize)
	for _, e := range entries {
		iw.PutU32(uint32(e.Type))
		iw.PutU32(e.Offset)
		iw.PutU32(e.Size)
	}
	copy(buf[shOffset:shOffset+shSize], iw.Bytes())

	copy(buf[pkgOff:pkgOff+len(pkgBody)], pkgBody)
	copy(buf[depOff:depOff+len(depBody)], depBody)
	copy(buf[crateOff:crateOff+len(in.CrateBinary)], in.CrateBinary)

	for _, p := range plans {
		binary.LittleEndian.PutUint32(buf[p.sectionOff:p.sectionOff+4], uint32(p.bodySize))
		binary.LittleEndian.PutUint32(buf[p.sectionOff+4:p.sectionOff+8], uint32(p.pending.SigType))
	}

	// Phase 3 — finalize: sign each pending signature, in declaration
	// order, over the bytes present *after* any earlier signature has
	// already been patched in, then patch its own body.
	for _, p := range plans {
		dataRange, err := coverageRange(buf, p.pending.SigType, p.sectionOff)
		if err != nil {
			return nil, nil, err
		}
		der, err := p.pending.Material.Sign(dataRange)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "container: sign %q", p.pending.ID)
		}
		if len(der) > p.capacity {
			return nil, nil, errors.Wrapf(codec.ErrLayoutInvariant, "signature %q: reserved %d bytes (probe %d + slack %d) but produced %d", p.pending.ID, p.capacity, p.bodySize, sigSizeSlack, len(der))
		}
		// The real DER can be shorter or a few bytes longer than the Phase 2
		// probe (see sigSizeSlack), so the true length has to be repatched
		// here rather than trusted from the placeholder written earlier.
		// Any unused capacity between the DER and the section's end stays
		// zeroed; decode only ever reads the sigstruct_size-prefixed range.
		binary.LittleEndian.PutUint32(buf[p.sectionOff:p.sectionOff+4], uint32(len(der)))
		bodyStart := p.sectionOff + 8
		copy(buf[bodyStart:bodyStart+len(der)], der)
	}

	fp := digest.SHA256.FromBytes(buf[:fingerprintOffset])
	fpBytes, err := hex.DecodeString(fp.Hex())
	if err != nil || len(fpBytes) != fingerprintSize {
		return nil, nil, errors.Wrap(err, "container: decode computed fingerprint")
	}
	copy(buf[fingerprintOffset:fingerprintOffset+fingerprintSize], fpBytes)

	pkg := &CratePackage{
		Header:       header,
		StringTable:  st,
		SectionIndex: entries,
		PackageInfo:  &in.PackageInfo,
		Dependencies: in.Dependencies,
		CrateBinary:  in.CrateBinary,
	}
	copy(pkg.Fingerprint[:], fpBytes)

	return pkg, buf, nil
}

// coverageRange materializes the exact byte range SigType names, read from
// the buffer as it stands at the moment of signing — which is why
// overlapping signatures sign independently over what's already patched.
func coverageRange(buf []byte, sigType SIGTYPE, sectionOffset int) ([]byte, error) {
	switch sigType {
	case SigTypeWhole:
		return buf[:sectionOffset], nil
	case SigTypeCrateBinary:
		for _, e := range decodeEntriesFromRawHeader(buf) {
			if e.Type == SectionCrateBinary {
				return buf[e.Offset : e.Offset+e.Size], nil
			}
		}
		return nil, errors.New("container: no CrateBinarySection present for SigTypeCrateBinary coverage")
	default:
		return nil, errors.Errorf("container: unknown SIGTYPE %d", sigType)
	}
}

// decodeEntriesFromRawHeader re-reads the section index directly out of buf
// so coverageRange can locate the CrateBinarySection without threading the
// entries list through every call site.
func decodeEntriesFromRawHeader(buf []byte) []SectionIndexEntry {
	base := len(MAGIC)
	shOffset := binary.LittleEndian.Uint32(buf[base+8 : base+12])
	shNum := binary.LittleEndian.Uint32(buf[base+16 : base+20])
	entries := make([]SectionIndexEntry, 0, shNum)
	for i := uint32(0); i < shNum; i++ {
		base := shOffset + i*uint32(sectionIndexEntrySize)
		entries = append(entries, SectionIndexEntry{
			Type:   SectionType(binary.LittleEndian.Uint32(buf[base : base+4])),
			Offset: binary.LittleEndian.Uint32(buf[base+4 : base+8]),
			Size:   binary.LittleEndian.Uint32(buf[base+8 : base+12]),
		})
	}
	return entries
}
