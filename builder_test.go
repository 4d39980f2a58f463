package pe

import (
	"encoding/binary"
)

// Synthetic image layout used throughout the tests:
//
//	0x000 DOS header, e_lfanew = 0x80
//	0x040 optional stub bytes
//	0x080 PE signature, COFF header, optional header, section table
//	0x400 raw data of the first section, each section aligned to 0x200
//
// Section i is mapped at 0x1000 * (i+1).
const (
	testPEOffset     = 0x80
	testFileAlign    = 0x200
	testSectionAlign = 0x1000
	testFirstRaw     = 0x400
)

type testSection struct {
	name        string
	chars       uint32
	data        []byte
	virtualSize uint32

	// build produces the section data once its VA is known.
	build func(va uint32) []byte
}

type testImport struct {
	dll      string
	names    []string
	ordinals []uint16
}

type imageOptions struct {
	is64      bool
	machine   uint16
	timestamp uint32
	dllChars  uint16
	checksum  uint32
	sections  []testSection

	imports      []testImport
	delayImports []testImport

	// directories maps a data directory index to the name of the section
	// that holds it. The directory spans the whole section data.
	directories map[int]string

	// declaredSections overrides NumberOfSections when non-zero.
	declaredSections int
	stub             []byte
}

func alignUp(v, a int) int {
	return (v + a - 1) / a * a
}

func buildImage(opts imageOptions) []byte {
	le := binary.LittleEndian
	sections := append([]testSection(nil), opts.sections...)
	dirs := map[int]string{}
	for k, v := range opts.directories {
		dirs[k] = v
	}
	if len(opts.imports) > 0 {
		imports := opts.imports
		sections = append(sections, testSection{
			name:  ".idata",
			chars: 0xC0000040,
			build: func(va uint32) []byte { return buildImportData(va, imports, opts.is64, false) },
		})
		dirs[ImageDirectoryEntryImport] = ".idata"
	}
	if len(opts.delayImports) > 0 {
		imports := opts.delayImports
		sections = append(sections, testSection{
			name:  ".didat",
			chars: 0xC0000040,
			build: func(va uint32) []byte { return buildImportData(va, imports, opts.is64, true) },
		})
		dirs[ImageDirectoryEntryDelayImport] = ".didat"
	}

	vas := make([]uint32, len(sections))
	raws := make([]uint32, len(sections))
	va, raw := testSectionAlign, testFirstRaw
	for i := range sections {
		vas[i] = uint32(va)
		if sections[i].build != nil {
			sections[i].data = sections[i].build(uint32(va))
		}
		n := len(sections[i].data)
		if n > 0 {
			raws[i] = uint32(raw)
			raw += alignUp(n, testFileAlign)
		}
		vs := int(sections[i].virtualSize)
		if vs == 0 {
			vs = n
		}
		if vs == 0 {
			vs = 1
		}
		va += alignUp(vs, testSectionAlign)
	}

	buf := make([]byte, raw)
	buf[0], buf[1] = 'M', 'Z'
	le.PutUint32(buf[peOffsetField:], testPEOffset)
	copy(buf[DOSHeaderSize:testPEOffset], opts.stub)
	copy(buf[testPEOffset:], "PE\x00\x00")

	ohSize, machine, chars := 224, uint16(0x014c), uint16(0x0102)
	imageBase := uint64(0x400000)
	if opts.is64 {
		ohSize, machine, chars = 240, 0x8664, 0x0022
		imageBase = 0x140000000
	}
	if opts.machine != 0 {
		machine = opts.machine
	}

	coff := buf[testPEOffset+4:]
	numSections := len(sections)
	if opts.declaredSections > 0 {
		numSections = opts.declaredSections
	}
	le.PutUint16(coff[0:], machine)
	le.PutUint16(coff[2:], uint16(numSections))
	le.PutUint32(coff[4:], opts.timestamp)
	le.PutUint16(coff[16:], uint16(ohSize))
	le.PutUint16(coff[18:], chars)

	ohOff := testPEOffset + 4 + FileHeaderSize
	oh := buf[ohOff:]
	if opts.is64 {
		le.PutUint16(oh[0:], ImageNtOptionalHdr64Magic)
	} else {
		le.PutUint16(oh[0:], ImageNtOptionalHdr32Magic)
	}
	oh[2], oh[3] = 14, 29
	if len(sections) > 0 {
		le.PutUint32(oh[16:], vas[0])
	}
	le.PutUint32(oh[20:], testSectionAlign)
	le.PutUint32(oh[32:], testSectionAlign)
	le.PutUint32(oh[36:], testFileAlign)
	le.PutUint16(oh[40:], 6)
	le.PutUint16(oh[48:], 6)
	le.PutUint32(oh[56:], uint32(va))
	le.PutUint32(oh[60:], testFirstRaw)
	le.PutUint32(oh[64:], opts.checksum)
	le.PutUint16(oh[68:], 3)
	le.PutUint16(oh[70:], opts.dllChars)

	dd := 96
	if opts.is64 {
		le.PutUint64(oh[24:], imageBase)
		le.PutUint64(oh[72:], 0x100000)
		le.PutUint64(oh[80:], 0x1000)
		le.PutUint64(oh[88:], 0x100000)
		le.PutUint64(oh[96:], 0x1000)
		le.PutUint32(oh[108:], ImageNumberOfDirectoryEntries)
		dd = 112
	} else {
		le.PutUint32(oh[28:], uint32(imageBase))
		le.PutUint32(oh[72:], 0x100000)
		le.PutUint32(oh[76:], 0x1000)
		le.PutUint32(oh[80:], 0x100000)
		le.PutUint32(oh[84:], 0x1000)
		le.PutUint32(oh[92:], ImageNumberOfDirectoryEntries)
	}
	for idx, name := range dirs {
		for i, s := range sections {
			if s.name == name {
				le.PutUint32(oh[dd+idx*DataDirectorySize:], vas[i])
				le.PutUint32(oh[dd+idx*DataDirectorySize+4:], uint32(len(s.data)))
			}
		}
	}

	table := ohOff + ohSize
	for i, s := range sections {
		rec := buf[table+i*SectionHeaderSize:]
		copy(rec[0:8], s.name)
		vs := s.virtualSize
		if vs == 0 {
			vs = uint32(len(s.data))
		}
		le.PutUint32(rec[8:], vs)
		le.PutUint32(rec[12:], vas[i])
		if len(s.data) > 0 {
			le.PutUint32(rec[16:], uint32(alignUp(len(s.data), testFileAlign)))
			le.PutUint32(rec[20:], raws[i])
		}
		le.PutUint32(rec[36:], s.chars)
		copy(buf[raws[i]:], s.data)
	}
	return buf
}

// buildImportData lays out a descriptor array, lookup and address tables,
// hint/name records and DLL names in one section mapped at base.
func buildImportData(base uint32, imports []testImport, is64, delay bool) []byte {
	le := binary.LittleEndian
	width, ordinalFlag := 4, uint64(imageOrdinalFlag32)
	if is64 {
		width, ordinalFlag = 8, imageOrdinalFlag64
	}
	descSize := ImportDescriptorSize
	if delay {
		descSize = delayImportDescriptorSize
	}

	off := (len(imports) + 1) * descSize
	ilt := make([]int, len(imports))
	iat := make([]int, len(imports))
	for i, imp := range imports {
		ilt[i] = off
		off += (len(imp.names) + len(imp.ordinals) + 1) * width
	}
	for i, imp := range imports {
		iat[i] = off
		off += (len(imp.names) + len(imp.ordinals) + 1) * width
	}

	data := make([]byte, off)
	for i, imp := range imports {
		var thunks []uint64
		for _, name := range imp.names {
			if len(data)%2 == 1 {
				data = append(data, 0)
			}
			thunks = append(thunks, uint64(base)+uint64(len(data)))
			data = append(data, 0, 0)
			data = append(data, name...)
			data = append(data, 0)
		}
		for _, ord := range imp.ordinals {
			thunks = append(thunks, ordinalFlag|uint64(ord))
		}
		nameRVA := base + uint32(len(data))
		data = append(data, imp.dll...)
		data = append(data, 0)

		d := data[i*descSize:]
		if delay {
			le.PutUint32(d[0:], delayAttrRVA)
			le.PutUint32(d[4:], nameRVA)
			le.PutUint32(d[12:], base+uint32(iat[i]))
			le.PutUint32(d[16:], base+uint32(ilt[i]))
		} else {
			le.PutUint32(d[0:], base+uint32(ilt[i]))
			le.PutUint32(d[12:], nameRVA)
			le.PutUint32(d[16:], base+uint32(iat[i]))
		}
		for j, th := range thunks {
			if is64 {
				le.PutUint64(data[ilt[i]+j*width:], th)
				le.PutUint64(data[iat[i]+j*width:], th)
			} else {
				le.PutUint32(data[ilt[i]+j*width:], uint32(th))
				le.PutUint32(data[iat[i]+j*width:], uint32(th))
			}
		}
	}
	return data
}

func textSection(data []byte) testSection {
	return testSection{name: ".text", chars: 0x60000020, data: data}
}

// repeat returns n copies of b.
func repeat(b byte, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}
