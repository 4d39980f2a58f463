package pe

import (
	"encoding/binary"
	"strings"
)

// SectionHeader is one decoded entry of the section table.
type SectionHeader struct {
	Name             string  `json:"name" yaml:"name"`
	VirtualSize      uint32  `json:"virtualSize" yaml:"virtualSize"`
	VirtualAddress   uint32  `json:"virtualAddress" yaml:"virtualAddress"`
	SizeOfRawData    uint32  `json:"sizeOfRawData" yaml:"sizeOfRawData"`
	PointerToRawData uint32  `json:"pointerToRawData" yaml:"pointerToRawData"`
	Characteristics  Flags   `json:"characteristics" yaml:"characteristics"`
	Entropy          float64 `json:"entropy" yaml:"entropy"`
}

// Permissions renders the memory access flags as "RWX", with '-' for each
// one that is missing.
func (s *SectionHeader) Permissions() string {
	perm := []byte("---")
	if s.Characteristics.Has(ScnMemRead) {
		perm[0] = 'R'
	}
	if s.Characteristics.Has(ScnMemWrite) {
		perm[1] = 'W'
	}
	if s.Characteristics.Has(ScnMemExecute) {
		perm[2] = 'X'
	}
	return string(perm)
}

// IsExecutable reports whether the section holds code or is mapped executable.
func (s *SectionHeader) IsExecutable() bool {
	return s.Characteristics.Has(ScnMemExecute) || s.Characteristics.Has(ScnCntCode)
}

// rawEnd is the file offset just past the section's raw data.
func (s *SectionHeader) rawEnd() int64 {
	return int64(s.PointerToRawData) + int64(s.SizeOfRawData)
}

// sectionName decodes the 8-byte name field. Trailing NUL padding is
// dropped; anything after the first NUL is ignored.
func sectionName(raw []byte) string {
	return strings.TrimRight(cString(raw), " ")
}

// readSections decodes up to limit section headers from off. It stops
// without error at the first record that would run past the end of src.
func readSections(src *Source, off int64, count uint16, limit, sample int, st StringTable) []SectionHeader {
	n := int(count)
	if limit > 0 && n > limit {
		n = limit
	}

	sections := make([]SectionHeader, 0, n)
	for i := 0; i < n; i++ {
		b, err := src.Bytes(off+int64(i)*SectionHeaderSize, SectionHeaderSize)
		if err != nil {
			break
		}

		le := binary.LittleEndian
		sh := SectionHeader{
			Name:             longSectionName(sectionName(b[0:8]), st),
			VirtualSize:      le.Uint32(b[8:]),
			VirtualAddress:   le.Uint32(b[12:]),
			SizeOfRawData:    le.Uint32(b[16:]),
			PointerToRawData: le.Uint32(b[20:]),
			Characteristics:  decodeFlags(sectionCharacteristics, le.Uint32(b[36:])),
		}
		sh.Entropy = sectionEntropy(src, &sh, sample)
		sections = append(sections, sh)
	}
	return sections
}

// sectionEntropy measures at most sample bytes from the start of the
// section's raw data. Unreadable or empty data measures 0.
func sectionEntropy(src *Source, sh *SectionHeader, sample int) float64 {
	if sh.SizeOfRawData == 0 || sh.PointerToRawData == 0 {
		return 0
	}
	start := int64(sh.PointerToRawData)
	if start >= src.Size() {
		return 0
	}

	n := int64(sh.SizeOfRawData)
	if sample > 0 && n > int64(sample) {
		n = int64(sample)
	}
	if rem := src.Size() - start; n > rem {
		n = rem
	}

	b, err := src.Bytes(start, int(n))
	if err != nil {
		return 0
	}
	return Entropy(b)
}
