package pe

// Resolver maps RVAs to file offsets through a parsed section table.
// It does no I/O and is safe for concurrent use.
type Resolver struct {
	sections []SectionHeader
}

func NewResolver(sections []SectionHeader) *Resolver {
	return &Resolver{sections: sections}
}

// span is how far a section extends in memory from its VirtualAddress.
// Some linkers leave VirtualSize at zero and only fill SizeOfRawData.
func span(s *SectionHeader) uint64 {
	if s.VirtualSize == 0 {
		return uint64(s.SizeOfRawData)
	}
	return uint64(s.VirtualSize)
}

// Section returns the first section in table order whose virtual range
// contains rva.
func (r *Resolver) Section(rva uint32) (*SectionHeader, bool) {
	for i := range r.sections {
		s := &r.sections[i]
		start := uint64(s.VirtualAddress)
		if uint64(rva) >= start && uint64(rva) < start+span(s) {
			return s, true
		}
	}
	return nil, false
}

// Resolve returns the file offset rva maps to. The boolean is false when no
// section contains rva or the offset would not fit in 32 bits.
func (r *Resolver) Resolve(rva uint32) (uint32, bool) {
	s, ok := r.Section(rva)
	if !ok {
		return 0, false
	}
	off := uint64(s.PointerToRawData) + uint64(rva-s.VirtualAddress)
	if off > 0xFFFFFFFF {
		return 0, false
	}
	return uint32(off), true
}

// ResolveIn is Resolve with the extra requirement that n bytes starting at
// the resulting offset lie inside src.
func (r *Resolver) ResolveIn(src *Source, rva uint32, n int) (int64, bool) {
	off, ok := r.Resolve(rva)
	if !ok || !src.inBounds(int64(off), n) {
		return 0, false
	}
	return int64(off), true
}

// CString resolves rva and reads a NUL-terminated string of at most maxLen
// bytes there.
func (r *Resolver) CString(src *Source, rva uint32, maxLen int) (string, error) {
	off, ok := r.Resolve(rva)
	if !ok {
		return "", ErrUnresolvedRVA
	}
	return src.CString(int64(off), maxLen)
}
