package container

import (
	"github.com/pkg/errors"

	"github.com/cratesig/scrate/internal/framing"
)

func putStringRef(w *framing.Writer, ref StringRef) {
	w.PutU32(ref.Offset)
	w.PutU32(ref.Length)
}

func readStringRef(r *framing.Reader) (StringRef, error) {
	offset, err := r.U32()
	if err != nil {
		return StringRef{}, err
	}
	length, err := r.U32()
	if err != nil {
		return StringRef{}, err
	}
	return StringRef{Offset: offset, Length: length}, nil
}

// encodePackageSection writes a PackageSection body: six scalar string
// refs plus a LenArray<StringRef> of authors, in the field order fixed by
// PackageInfo.
func encodePackageSection(w *framing.Writer, st *StringTable, info *PackageInfo) {
	putStringRef(w, st.Intern(info.Name))
	putStringRef(w, st.Intern(info.Version))
	putStringRef(w, st.Intern(info.License))
	putStringRef(w, st.Intern(info.Description))

	w.PutU32(uint32(len(info.Authors)))
	for _, a := range info.Authors {
		putStringRef(w, st.Intern(a))
	}

	putStringRef(w, st.Intern(info.Homepage))
	putStringRef(w, st.Intern(info.Repository))
}

func decodePackageSection(r *framing.Reader, st *StringTable) (*PackageInfo, error) {
	info := &PackageInfo{}

	fields := []*string{&info.Name, &info.Version, &info.License, &info.Description}
	for _, f := range fields {
		ref, err := readStringRef(r)
		if err != nil {
			return nil, err
		}
		s, err := st.Resolve(ref)
		if err != nil {
			return nil, err
		}
		*f = s
	}

	n, err := r.U32()
	if err != nil {
		return nil, err
	}
	info.Authors = make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		ref, err := readStringRef(r)
		if err != nil {
			return nil, err
		}
		s, err := st.Resolve(ref)
		if err != nil {
			return nil, err
		}
		info.Authors = append(info.Authors, s)
	}

	for _, f := range []*string{&info.Homepage, &info.Repository} {
		ref, err := readStringRef(r)
		if err != nil {
			return nil, err
		}
		s, err := st.Resolve(ref)
		if err != nil {
			return nil, err
		}
		*f = s
	}

	return info, nil
}

// encodeDepTableSection writes a LenArray<DependencyRecord>.
func encodeDepTableSection(w *framing.Writer, st *StringTable, deps []DependencyRecord) {
	w.PutU32(uint32(len(deps)))
	for _, d := range deps {
		putStringRef(w, st.Intern(d.Name))
		putStringRef(w, st.Intern(d.VersionReq))
		w.PutU8(uint8(d.SourceKind))
	}
}

func decodeDepTableSection(r *framing.Reader, st *StringTable) ([]DependencyRecord, error) {
	n, err := r.U32()
	if err != nil {
		return nil, err
	}
	deps := make([]DependencyRecord, 0, n)
	for i := uint32(0); i < n; i++ {
		nameRef, err := readStringRef(r)
		if err != nil {
			return nil, err
		}
		name, err := st.Resolve(nameRef)
		if err != nil {
			return nil, err
		}
		verRef, err := readStringRef(r)
		if err != nil {
			return nil, err
		}
		ver, err := st.Resolve(verRef)
		if err != nil {
			return nil, err
		}
		kind, err := r.U8()
		if err != nil {
			return nil, err
		}
		if kind > uint8(DependencySourceGit) {
			return nil, errors.Wrapf(framing.ErrMalformed, "container: unknown dependency source kind %d", kind)
		}
		deps = append(deps, DependencyRecord{Name: name, VersionReq: ver, SourceKind: DependencySourceKind(kind)})
	}
	return deps, nil
}
