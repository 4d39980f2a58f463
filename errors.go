package pe

import "github.com/pkg/errors"

// Structural errors. Any of these ends the analysis of a file.
var (
	ErrFileTooSmall          = errors.New("file too small for a DOS header")
	ErrInvalidDOSHeader      = errors.New("invalid DOS header")
	ErrPEOffsetOutOfRange    = errors.New("PE header offset beyond file size")
	ErrInvalidPESignature    = errors.New("invalid PE signature")
	ErrCOFFHeaderTruncated   = errors.New("file too small for COFF header")
	ErrInvalidOptionalMagic  = errors.New("invalid optional header magic")
	ErrOptionalHeaderTrunc   = errors.New("optional header truncated")
	ErrMissingOptionalHeader = errors.New("missing optional header")
)

var (
	ErrOutsideBoundary = errors.New("reading data outside boundary")
	ErrUnresolvedRVA   = errors.New("RVA does not map to any section")
	ErrUnterminated    = errors.New("string runs past the end of the file")
)

// IsStructural reports whether err ends the whole analysis.
func IsStructural(err error) bool {
	switch errors.Cause(err) {
	case ErrFileTooSmall, ErrInvalidDOSHeader, ErrPEOffsetOutOfRange,
		ErrInvalidPESignature, ErrCOFFHeaderTruncated, ErrInvalidOptionalMagic,
		ErrOptionalHeaderTrunc, ErrMissingOptionalHeader:
		return true
	}
	return false
}
