package pe

import (
	"time"

	"github.com/pkg/errors"
)

// AnalysisResult is everything learned about one file. It is built once
// by an Analyzer and never modified afterwards.
//
// When Error is set the file failed a structural check and only the file
// identity fields are populated.
type AnalysisResult struct {
	FileName string `json:"fileName" yaml:"fileName"`
	FilePath string `json:"filePath,omitempty" yaml:"filePath,omitempty"`
	FileSize int64  `json:"fileSize" yaml:"fileSize"`
	Error    string `json:"error,omitempty" yaml:"error,omitempty"`

	DOSHeader      *DosHeader       `json:"dosHeader,omitempty" yaml:"dosHeader,omitempty"`
	COFFHeader     *CoffHeader      `json:"coffHeader,omitempty" yaml:"coffHeader,omitempty"`
	OptionalHeader *OptionalHeader  `json:"optionalHeader,omitempty" yaml:"optionalHeader,omitempty"`
	Sections       []SectionHeader  `json:"sections,omitempty" yaml:"sections,omitempty"`
	Imports        []ImportEntry    `json:"imports,omitempty" yaml:"imports,omitempty"`
	DelayImports   []ImportEntry    `json:"delayImports,omitempty" yaml:"delayImports,omitempty"`
	Resources      []ResourceType   `json:"resources,omitempty" yaml:"resources,omitempty"`
	Export         *ExportDirectory `json:"export,omitempty" yaml:"export,omitempty"`
	RichHeader     *RichHeader      `json:"richHeader,omitempty" yaml:"richHeader,omitempty"`
	Overlay        *Overlay         `json:"overlay,omitempty" yaml:"overlay,omitempty"`
	Checksum       *Checksum        `json:"checksum,omitempty" yaml:"checksum,omitempty"`

	Entropy           float64         `json:"entropy" yaml:"entropy"`
	EntropyProfile    *EntropyProfile `json:"entropyProfile,omitempty" yaml:"entropyProfile,omitempty"`
	Packers           []string        `json:"packers" yaml:"packers"`
	SuspiciousStrings []StringMatch   `json:"suspiciousStrings" yaml:"suspiciousStrings"`
	SuspiciousImports []string        `json:"suspiciousImports,omitempty" yaml:"suspiciousImports,omitempty"`
	ImpHash           string          `json:"impHash,omitempty" yaml:"impHash,omitempty"`
	Authentihash      string          `json:"authentihash,omitempty" yaml:"authentihash,omitempty"`

	AnalyzedAt time.Time `json:"analyzedAt" yaml:"analyzedAt"`

	err error
}

// Err returns the structural error that stopped the analysis, if any.
// errors.Cause of it is one of the Err* sentinels.
func (r *AnalysisResult) Err() error {
	if r.err == nil && r.Error != "" {
		return errors.New(r.Error)
	}
	return r.err
}

// IsPE reports whether the file passed every structural check.
func (r *AnalysisResult) IsPE() bool {
	return r.Error == "" && r.OptionalHeader != nil
}

// Is64 reports whether the image is PE32+.
func (r *AnalysisResult) Is64() bool {
	return r.OptionalHeader != nil && r.OptionalHeader.Is64()
}

// Section returns the first section with the given name.
func (r *AnalysisResult) Section(name string) (*SectionHeader, bool) {
	for i := range r.Sections {
		if r.Sections[i].Name == name {
			return &r.Sections[i], true
		}
	}
	return nil, false
}

// EntryPointSection returns the section holding the entry point.
func (r *AnalysisResult) EntryPointSection() (*SectionHeader, bool) {
	if r.OptionalHeader == nil {
		return nil, false
	}
	return NewResolver(r.Sections).Section(r.OptionalHeader.EntryPoint)
}

// FunctionCount is the number of imported symbols across all DLLs.
func (r *AnalysisResult) FunctionCount() int {
	n := 0
	for _, imp := range r.Imports {
		n += len(imp.Functions)
	}
	return n
}
