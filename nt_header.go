package pe

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// CoffHeader is IMAGE_FILE_HEADER with its flags decoded.
type CoffHeader struct {
	Machine              uint16 `json:"machine" yaml:"machine"`
	MachineName          string `json:"machineName" yaml:"machineName"`
	NumberOfSections     uint16 `json:"numberOfSections" yaml:"numberOfSections"`
	TimeDateStamp        uint32 `json:"timeDateStamp" yaml:"timeDateStamp"`
	TimeDate             string `json:"timeDate" yaml:"timeDate"`
	PointerToSymbolTable uint32 `json:"pointerToSymbolTable" yaml:"pointerToSymbolTable"`
	NumberOfSymbols      uint32 `json:"numberOfSymbols" yaml:"numberOfSymbols"`
	SizeOfOptionalHeader uint16 `json:"sizeOfOptionalHeader" yaml:"sizeOfOptionalHeader"`
	Characteristics      Flags  `json:"characteristics" yaml:"characteristics"`
}

// FormatTimestamp renders a COFF build timestamp. Zero means the linker
// did not record one.
func FormatTimestamp(ts uint32) string {
	if ts == 0 {
		return "invalid"
	}
	return time.Unix(int64(ts), 0).UTC().Format(time.RFC3339)
}

// Version is a major.minor pair from the optional header.
type Version struct {
	Major uint16 `json:"major" yaml:"major"`
	Minor uint16 `json:"minor" yaml:"minor"`
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

type DataDirectory struct {
	Name           string `json:"name" yaml:"name"`
	VirtualAddress uint32 `json:"virtualAddress" yaml:"virtualAddress"`
	Size           uint32 `json:"size" yaml:"size"`
}

// OptionalHeader is the bitness-independent view of IMAGE_OPTIONAL_HEADER32
// and IMAGE_OPTIONAL_HEADER64. Fields whose width depends on bitness are
// widened to uint64.
type OptionalHeader struct {
	Magic               uint16          `json:"magic" yaml:"magic"`
	Bitness             int             `json:"bitness" yaml:"bitness"`
	LinkerVersion       Version         `json:"linkerVersion" yaml:"linkerVersion"`
	SizeOfCode          uint32          `json:"sizeOfCode" yaml:"sizeOfCode"`
	EntryPoint          uint32          `json:"entryPoint" yaml:"entryPoint"`
	BaseOfCode          uint32          `json:"baseOfCode" yaml:"baseOfCode"`
	ImageBase           uint64          `json:"imageBase,string" yaml:"imageBase"`
	SectionAlignment    uint32          `json:"sectionAlignment" yaml:"sectionAlignment"`
	FileAlignment       uint32          `json:"fileAlignment" yaml:"fileAlignment"`
	OSVersion           Version         `json:"osVersion" yaml:"osVersion"`
	ImageVersion        Version         `json:"imageVersion" yaml:"imageVersion"`
	SubsystemVersion    Version         `json:"subsystemVersion" yaml:"subsystemVersion"`
	SizeOfImage         uint32          `json:"sizeOfImage" yaml:"sizeOfImage"`
	SizeOfHeaders       uint32          `json:"sizeOfHeaders" yaml:"sizeOfHeaders"`
	CheckSum            uint32          `json:"checkSum" yaml:"checkSum"`
	Subsystem           uint16          `json:"subsystem" yaml:"subsystem"`
	SubsystemName       string          `json:"subsystemName" yaml:"subsystemName"`
	DllCharacteristics  Flags           `json:"dllCharacteristics" yaml:"dllCharacteristics"`
	SizeOfStackReserve  uint64          `json:"sizeOfStackReserve,string" yaml:"sizeOfStackReserve"`
	SizeOfStackCommit   uint64          `json:"sizeOfStackCommit,string" yaml:"sizeOfStackCommit"`
	SizeOfHeapReserve   uint64          `json:"sizeOfHeapReserve,string" yaml:"sizeOfHeapReserve"`
	SizeOfHeapCommit    uint64          `json:"sizeOfHeapCommit,string" yaml:"sizeOfHeapCommit"`
	NumberOfRvaAndSizes uint32          `json:"numberOfRvaAndSizes" yaml:"numberOfRvaAndSizes"`
	DataDirectories     []DataDirectory `json:"dataDirectories" yaml:"dataDirectories"`
}

// Is64 reports whether the image is PE32+.
func (oh *OptionalHeader) Is64() bool {
	return oh.Bitness == 64
}

// Directory returns data directory idx, or a zero entry when the header
// declares fewer directories.
func (oh *OptionalHeader) Directory(idx int) DataDirectory {
	if idx < 0 || idx >= len(oh.DataDirectories) {
		return DataDirectory{}
	}
	return oh.DataDirectories[idx]
}

// field is one width-dependent slot in an optional header layout.
type field struct {
	off, width int
}

func (f field) read(b []byte) uint64 {
	switch f.width {
	case 8:
		return binary.LittleEndian.Uint64(b[f.off:])
	default:
		return uint64(binary.LittleEndian.Uint32(b[f.off:]))
	}
}

// optionalLayout places the fields that move or change width between PE32
// and PE32+. Everything up to BaseOfCode and between SectionAlignment and
// DllCharacteristics sits at the same offset in both.
type optionalLayout struct {
	bitness             int
	imageBase           field
	stackReserve        field
	stackCommit         field
	heapReserve         field
	heapCommit          field
	numberOfRvaAndSizes int
	dataDirectories     int
}

var (
	pe32Layout = optionalLayout{
		bitness:             32,
		imageBase:           field{28, 4},
		stackReserve:        field{72, 4},
		stackCommit:         field{76, 4},
		heapReserve:         field{80, 4},
		heapCommit:          field{84, 4},
		numberOfRvaAndSizes: 92,
		dataDirectories:     96,
	}
	pe32PlusLayout = optionalLayout{
		bitness:             64,
		imageBase:           field{24, 8},
		stackReserve:        field{72, 8},
		stackCommit:         field{80, 8},
		heapReserve:         field{88, 8},
		heapCommit:          field{96, 8},
		numberOfRvaAndSizes: 108,
		dataDirectories:     112,
	}
)

// readNTHeader checks the PE signature at the offset the DOS header points
// to and decodes the COFF and optional headers behind it. It returns the
// file offset of the section table.
func readNTHeader(src *Source, dos *DosHeader) (*CoffHeader, *OptionalHeader, int64, error) {
	peOff := int64(dos.PEHeaderOffset)
	if peOff+4 > src.Size() {
		return nil, nil, 0, ErrPEOffsetOutOfRange
	}

	sig, err := src.Uint32(peOff)
	if err != nil || sig != ImageNTHeaderSignature {
		return nil, nil, 0, ErrInvalidPESignature
	}

	coff, err := readFileHeader(src, peOff+4)
	if err != nil {
		return nil, nil, 0, err
	}

	ohOff := peOff + 4 + FileHeaderSize
	oh, err := readOptionalHeader(src, ohOff, coff.SizeOfOptionalHeader)
	if err != nil {
		return nil, nil, 0, err
	}

	return coff, oh, ohOff + int64(coff.SizeOfOptionalHeader), nil
}

func readFileHeader(src *Source, off int64) (*CoffHeader, error) {
	b, err := src.Bytes(off, FileHeaderSize)
	if err != nil {
		return nil, ErrCOFFHeaderTruncated
	}

	le := binary.LittleEndian
	coff := &CoffHeader{
		Machine:              le.Uint16(b[0:]),
		NumberOfSections:     le.Uint16(b[2:]),
		TimeDateStamp:        le.Uint32(b[4:]),
		PointerToSymbolTable: le.Uint32(b[8:]),
		NumberOfSymbols:      le.Uint32(b[12:]),
		SizeOfOptionalHeader: le.Uint16(b[16:]),
		Characteristics:      decodeFlags(fileCharacteristics, uint32(le.Uint16(b[18:]))),
	}
	coff.MachineName = MachineName(coff.Machine)
	coff.TimeDate = FormatTimestamp(coff.TimeDateStamp)
	return coff, nil
}

func readOptionalHeader(src *Source, off int64, declared uint16) (*OptionalHeader, error) {
	if declared < 2 {
		return nil, ErrMissingOptionalHeader
	}

	magic, err := src.Uint16(off)
	if err != nil {
		return nil, errors.Wrap(ErrOptionalHeaderTrunc, "failure to read optional header magic")
	}

	var layout optionalLayout
	switch magic {
	case ImageNtOptionalHdr32Magic:
		layout = pe32Layout
	case ImageNtOptionalHdr64Magic:
		layout = pe32PlusLayout
	default:
		return nil, errors.Wrapf(ErrInvalidOptionalMagic, "magic 0x%x", magic)
	}

	fixed := layout.dataDirectories
	if int(declared) < fixed {
		return nil, errors.Wrapf(ErrOptionalHeaderTrunc,
			"declared size %d is less than the minimum %d for PE%d", declared, fixed, layout.bitness)
	}
	b, err := src.Bytes(off, fixed)
	if err != nil {
		return nil, errors.Wrap(ErrOptionalHeaderTrunc, "optional header runs past the end of the file")
	}

	le := binary.LittleEndian
	oh := &OptionalHeader{
		Magic:               magic,
		Bitness:             layout.bitness,
		LinkerVersion:       Version{uint16(b[2]), uint16(b[3])},
		SizeOfCode:          le.Uint32(b[4:]),
		EntryPoint:          le.Uint32(b[16:]),
		BaseOfCode:          le.Uint32(b[20:]),
		ImageBase:           layout.imageBase.read(b),
		SectionAlignment:    le.Uint32(b[32:]),
		FileAlignment:       le.Uint32(b[36:]),
		OSVersion:           Version{le.Uint16(b[40:]), le.Uint16(b[42:])},
		ImageVersion:        Version{le.Uint16(b[44:]), le.Uint16(b[46:])},
		SubsystemVersion:    Version{le.Uint16(b[48:]), le.Uint16(b[50:])},
		SizeOfImage:         le.Uint32(b[56:]),
		SizeOfHeaders:       le.Uint32(b[60:]),
		CheckSum:            le.Uint32(b[64:]),
		Subsystem:           le.Uint16(b[68:]),
		DllCharacteristics:  decodeFlags(dllCharacteristics, uint32(le.Uint16(b[70:]))),
		SizeOfStackReserve:  layout.stackReserve.read(b),
		SizeOfStackCommit:   layout.stackCommit.read(b),
		SizeOfHeapReserve:   layout.heapReserve.read(b),
		SizeOfHeapCommit:    layout.heapCommit.read(b),
		NumberOfRvaAndSizes: le.Uint32(b[layout.numberOfRvaAndSizes:]),
	}
	oh.SubsystemName = SubsystemName(oh.Subsystem)
	oh.DataDirectories = readDataDirectories(src, off+int64(fixed), int(declared)-fixed, oh.NumberOfRvaAndSizes)
	return oh, nil
}

// readDataDirectories decodes as many directory entries as the header
// claims, the declared optional header size leaves room for, and the file
// actually holds, up to the architectural 16.
func readDataDirectories(src *Source, off int64, room int, claimed uint32) []DataDirectory {
	n := room / DataDirectorySize
	if claimed < uint32(n) {
		n = int(claimed)
	}
	if n > ImageNumberOfDirectoryEntries {
		n = ImageNumberOfDirectoryEntries
	}
	if avail := (src.Size() - off) / DataDirectorySize; avail < int64(n) {
		n = int(avail)
	}
	if n < 0 {
		n = 0
	}

	dirs := make([]DataDirectory, 0, n)
	for i := 0; i < n; i++ {
		b, err := src.Bytes(off+int64(i*DataDirectorySize), DataDirectorySize)
		if err != nil {
			break
		}
		dirs = append(dirs, DataDirectory{
			Name:           dataDirectoryNames[i],
			VirtualAddress: binary.LittleEndian.Uint32(b[0:]),
			Size:           binary.LittleEndian.Uint32(b[4:]),
		})
	}
	return dirs
}
