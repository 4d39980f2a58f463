package pe

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

const exportDirectorySize = 40

// ExportDirectory locates the export table. Exported symbols themselves
// are not resolved.
type ExportDirectory struct {
	VirtualAddress    uint32 `json:"virtualAddress" yaml:"virtualAddress"`
	Size              uint32 `json:"size" yaml:"size"`
	FileOffset        uint32 `json:"fileOffset" yaml:"fileOffset"`
	ModuleName        string `json:"moduleName,omitempty" yaml:"moduleName,omitempty"`
	TimeDateStamp     uint32 `json:"timeDateStamp" yaml:"timeDateStamp"`
	OrdinalBase       uint32 `json:"ordinalBase" yaml:"ordinalBase"`
	NumberOfFunctions uint32 `json:"numberOfFunctions" yaml:"numberOfFunctions"`
	NumberOfNames     uint32 `json:"numberOfNames" yaml:"numberOfNames"`
}

// readExportDirectory returns nil when the image has no export directory.
func readExportDirectory(src *Source, res *Resolver, oh *OptionalHeader) (*ExportDirectory, error) {
	dir := oh.Directory(ImageDirectoryEntryExport)
	if dir.VirtualAddress == 0 || dir.Size == 0 {
		return nil, nil
	}

	off, ok := res.ResolveIn(src, dir.VirtualAddress, exportDirectorySize)
	if !ok {
		return nil, errors.Wrapf(ErrUnresolvedRVA, "export directory at 0x%x", dir.VirtualAddress)
	}
	b, err := src.Bytes(off, exportDirectorySize)
	if err != nil {
		return nil, err
	}

	le := binary.LittleEndian
	ed := &ExportDirectory{
		VirtualAddress:    dir.VirtualAddress,
		Size:              dir.Size,
		FileOffset:        uint32(off),
		TimeDateStamp:     le.Uint32(b[4:]),
		OrdinalBase:       le.Uint32(b[16:]),
		NumberOfFunctions: le.Uint32(b[20:]),
		NumberOfNames:     le.Uint32(b[24:]),
	}

	// A missing module name still leaves the directory located.
	if name, err := res.CString(src, le.Uint32(b[12:]), maxDllLength); err == nil && isValidDLLName(name) {
		ed.ModuleName = name
	}
	return ed, nil
}
