package pe

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"fmt"
)

const maxStubSize = 64 << 10

// RichHeader is the undocumented linker footprint between the DOS stub and
// the PE header.
type RichHeader struct {
	XorKey     uint32   `json:"xorKey" yaml:"xorKey"`
	DansOffset int      `json:"dansOffset" yaml:"dansOffset"`
	CompIDs    []CompID `json:"compIds" yaml:"compIds"`
	Checksum   uint32   `json:"checksum" yaml:"checksum"`
	Valid      bool     `json:"valid" yaml:"valid"`
	Hash       string   `json:"hash" yaml:"hash"`
	raw        []byte
}

// CompID is one tool record: product, build and use count.
type CompID struct {
	ProdID   uint16 `json:"prodId" yaml:"prodId"`
	Build    uint16 `json:"build" yaml:"build"`
	Count    uint32 `json:"count" yaml:"count"`
	Unmasked uint32 `json:"-" yaml:"-"`
}

func (c CompID) String() string {
	return fmt.Sprintf("prodid=%d build=%d count=%d", c.ProdID, c.Build, c.Count)
}

// readRichHeader returns nil when the stub carries no Rich header.
func readRichHeader(src *Source, peOffset uint32) *RichHeader {
	end := int64(peOffset)
	if end > maxStubSize {
		end = maxStubSize
	}
	if end > src.Size() {
		end = src.Size()
	}
	if end <= DOSHeaderSize {
		return nil
	}
	stub, err := src.Bytes(0, int(end))
	if err != nil {
		return nil
	}

	richSigOffset := bytes.Index(stub[DOSHeaderSize:], []byte(RichSignature))
	if richSigOffset < 0 {
		return nil
	}
	richSigOffset += DOSHeaderSize
	if richSigOffset+8 > len(stub) {
		return nil
	}

	rh := &RichHeader{XorKey: binary.LittleEndian.Uint32(stub[richSigOffset+4:])}

	// Walk backwards from the signature, decrypting dwords until DanS.
	var dec []uint32
	dansSigOffset := -1
	for pos := richSigOffset - 4; pos >= DOSHeaderSize; pos -= 4 {
		v := binary.LittleEndian.Uint32(stub[pos:]) ^ rh.XorKey
		if v == DansSignature {
			dansSigOffset = pos
			break
		}
		dec = append(dec, v)
	}
	if dansSigOffset == -1 {
		return nil
	}
	rh.DansOffset = dansSigOffset
	rh.raw = stub[dansSigOffset : richSigOffset+8]

	for i, j := 0, len(dec)-1; i < j; i, j = i+1, j-1 {
		dec[i], dec[j] = dec[j], dec[i]
	}

	// DanS is followed by three zero padding dwords, then (id, count) pairs.
	for i := 3; i+1 < len(dec); i += 2 {
		rh.CompIDs = append(rh.CompIDs, CompID{
			ProdID:   uint16(dec[i] >> 16),
			Build:    uint16(dec[i]),
			Count:    dec[i+1],
			Unmasked: dec[i],
		})
	}

	rh.Checksum = richChecksum(stub, rh)
	rh.Valid = rh.Checksum == rh.XorKey
	rh.Hash = richHash(rh)
	return rh
}

func rol32(v uint32, n uint32) uint32 {
	n %= 32
	return v<<n | v>>(32-n)
}

// richChecksum recomputes the XOR key the linker derives from the DOS
// header bytes and the CompID records.
func richChecksum(stub []byte, rh *RichHeader) uint32 {
	checksum := uint32(rh.DansOffset)

	for i := 0; i < rh.DansOffset; i++ {
		// e_lfanew is not covered.
		if i >= peOffsetField && i < peOffsetField+4 {
			continue
		}
		checksum += rol32(uint32(stub[i]), uint32(i))
	}

	for _, c := range rh.CompIDs {
		checksum += rol32(c.Unmasked, c.Count)
	}
	return checksum
}

// richHash is the MD5 of the decrypted header, DanS through the last
// CompID.
func richHash(rh *RichHeader) string {
	richIndex := bytes.Index(rh.raw, []byte(RichSignature))
	if richIndex == -1 {
		return ""
	}

	key := make([]byte, 4)
	binary.LittleEndian.PutUint32(key, rh.XorKey)

	rawData := rh.raw[:richIndex]
	clearData := make([]byte, len(rawData))
	for idx, val := range rawData {
		clearData[idx] = val ^ key[idx%len(key)]
	}
	return fmt.Sprintf("%x", md5.Sum(clearData))
}
