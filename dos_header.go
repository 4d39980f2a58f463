package pe

// DosHeader is the part of IMAGE_DOS_HEADER the analysis relies on.
type DosHeader struct {
	Magic          string `json:"magic" yaml:"magic"`
	PEHeaderOffset uint32 `json:"peHeaderOffset" yaml:"peHeaderOffset"`
}

func readDOSHeader(src *Source) (*DosHeader, error) {
	if src.Size() < DOSHeaderSize {
		return nil, ErrFileTooSmall
	}

	magic, err := src.Uint16(0)
	if err != nil {
		return nil, ErrFileTooSmall
	}
	if magic != ImageDOSSignature {
		return nil, ErrInvalidDOSHeader
	}

	lfanew, err := src.Uint32(peOffsetField)
	if err != nil {
		return nil, ErrFileTooSmall
	}

	return &DosHeader{Magic: "MZ", PEHeaderOffset: lfanew}, nil
}
