package pe

import (
	"bytes"
	"strconv"

	"github.com/pkg/errors"
)

const (
	COFFSymbolSize = 18

	maxStringTableSize = 1 << 20
)

// cString converts ASCII byte sequence b to string.
// It stops once it finds 0 or reaches end of b.
func cString(b []byte) string {
	i := bytes.IndexByte(b, 0)
	if i == -1 {
		i = len(b)
	}
	return string(b[:i])
}

// StringTable is a COFF string table. Images built by MinGW keep long
// section names there and refer to them as "/<offset>".
type StringTable []byte

// readStringTable returns nil when the image has no symbol table.
func readStringTable(src *Source, coff *CoffHeader) (StringTable, error) {
	// COFF string table is located right after COFF symbol table.
	if coff.PointerToSymbolTable == 0 {
		return nil, nil
	}
	offset := int64(coff.PointerToSymbolTable) + COFFSymbolSize*int64(coff.NumberOfSymbols)
	l, err := src.Uint32(offset)
	if err != nil {
		return nil, errors.WithMessage(err, "fail to read string table length")
	}
	// string table length includes itself
	if l <= 4 {
		return nil, nil
	}
	l -= 4
	if l > maxStringTableSize {
		l = maxStringTableSize
	}
	if rem := src.Size() - offset - 4; int64(l) > rem {
		l = uint32(rem)
	}
	buf, err := src.Bytes(offset+4, int(l))
	if err != nil {
		return nil, errors.Wrap(err, "fail to read string table")
	}
	return StringTable(buf), nil
}

// String extracts string from COFF string table st at offset start.
func (st StringTable) String(start uint32) (string, error) {
	// start includes 4 bytes of string table length
	if start < 4 {
		return "", errors.Errorf("offset %d is before the start of string table", start)
	}
	start -= 4
	if int(start) > len(st) {
		return "", errors.Errorf("offset %d is beyond the end of string table", start)
	}
	return cString(st[start:]), nil
}

// longSectionName resolves a "/<offset>" section name through st. Any
// other name, or one that does not resolve, is returned unchanged.
func longSectionName(name string, st StringTable) string {
	if len(name) < 2 || name[0] != '/' || st == nil {
		return name
	}
	i, err := strconv.Atoi(name[1:])
	if err != nil || i < 0 {
		return name
	}
	full, err := st.String(uint32(i))
	if err != nil || full == "" {
		return name
	}
	return full
}
