package pe

import (
	"encoding/binary"
)

const checksumScanChunk = 1 << 20

// Checksum compares the optional header CheckSum with a recomputed one.
// A stored value of 0 means the linker did not set it, which loaders accept.
type Checksum struct {
	Stored   uint32 `json:"stored" yaml:"stored"`
	Computed uint32 `json:"computed" yaml:"computed"`
	Valid    bool   `json:"valid" yaml:"valid"`
}

// checksumFieldOffset is where CheckSum sits for an image whose PE
// signature is at peOffset.
func checksumFieldOffset(peOffset uint32) int64 {
	return int64(peOffset) + 4 + FileHeaderSize + 64
}

// ComputeChecksum recomputes the image checksum: a 32-bit one's-complement
// style sum over every dword except the CheckSum field, folded to 16 bits,
// plus the file length.
func ComputeChecksum(src *Source, fieldOffset int64) (uint32, error) {
	skip := fieldOffset / 4
	var sum uint64
	var index int64

	err := src.Scan(checksumScanChunk, 0, func(_ int64, chunk []byte) bool {
		for i := 0; i < len(chunk); i += 4 {
			var dword uint32
			if i+4 <= len(chunk) {
				dword = binary.LittleEndian.Uint32(chunk[i:])
			} else {
				var tail [4]byte
				copy(tail[:], chunk[i:])
				dword = binary.LittleEndian.Uint32(tail[:])
			}
			if index != skip {
				sum = (sum & 0xFFFFFFFF) + uint64(dword) + (sum >> 32)
				if sum > 1<<32 {
					sum = (sum & 0xFFFFFFFF) + (sum >> 32)
				}
			}
			index++
		}
		return true
	})
	if err != nil {
		return 0, err
	}

	sum = (sum & 0xFFFF) + (sum >> 16)
	sum += sum >> 16
	sum &= 0xFFFF
	return uint32(sum + uint64(src.Size())), nil
}

func verifyChecksum(src *Source, dos *DosHeader, oh *OptionalHeader) (*Checksum, error) {
	computed, err := ComputeChecksum(src, checksumFieldOffset(dos.PEHeaderOffset))
	if err != nil {
		return nil, err
	}
	return &Checksum{
		Stored:   oh.CheckSum,
		Computed: computed,
		Valid:    oh.CheckSum == 0 || oh.CheckSum == computed,
	}, nil
}
