package pe

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleImage() []byte {
	return buildImage(imageOptions{
		is64:      true,
		timestamp: 1600000000,
		dllChars:  0x0160,
		sections: []testSection{
			textSection(append([]byte("\x48\x83\xec\x28cmd.exe /c whoami\x00"), repeat(0xCC, 0x200)...)),
			{name: ".data", chars: 0xC0000040, data: []byte("http://update.example.net/check\x00")},
		},
		imports: []testImport{
			{dll: "KERNEL32.dll", names: []string{"ExitProcess", "VirtualAlloc"}},
			{dll: "USER32.dll", names: []string{"MessageBoxW"}},
		},
	})
}

func TestAnalyze_PE32Plus(t *testing.T) {
	data := sampleImage()
	a := NewAnalyzer(Limits{})
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	a.now = func() time.Time { return fixed }

	res := a.Analyze(NewSource(data), "sample.exe", "/tmp/sample.exe")
	require.NoError(t, res.Err())
	assert.Empty(t, res.Error)
	assert.True(t, res.IsPE())
	assert.True(t, res.Is64())

	assert.Equal(t, "sample.exe", res.FileName)
	assert.Equal(t, "/tmp/sample.exe", res.FilePath)
	assert.Equal(t, int64(len(data)), res.FileSize)
	assert.Equal(t, fixed, res.AnalyzedAt)

	assert.Equal(t, "AMD64", res.COFFHeader.MachineName)
	assert.Equal(t, "2020-09-13T12:26:40Z", res.COFFHeader.TimeDate)
	assert.Equal(t, uint64(0x140000000), res.OptionalHeader.ImageBase)
	assert.Equal(t, "HIGH_ENTROPY_VA|DYNAMIC_BASE|NX_COMPAT", res.OptionalHeader.DllCharacteristics.String())

	require.Len(t, res.Sections, 3)
	ep, ok := res.EntryPointSection()
	require.True(t, ok)
	assert.Equal(t, ".text", ep.Name)

	require.Len(t, res.Imports, 2)
	assert.Equal(t, 3, res.FunctionCount())
	assert.NotEmpty(t, res.ImpHash)
	assert.Equal(t, []string{"KERNEL32.dll!VirtualAlloc"}, res.SuspiciousImports)

	require.NotNil(t, res.Checksum)
	assert.True(t, res.Checksum.Valid)
	assert.Len(t, res.Authentihash, 64)
	assert.Nil(t, res.Overlay)
	assert.Nil(t, res.RichHeader)

	require.NotNil(t, res.EntropyProfile)
	assert.Equal(t, VerdictNormal, res.EntropyProfile.Verdict)
	assert.Greater(t, res.Entropy, 0.0)
	assert.Equal(t, []string{}, res.Packers)

	var values []string
	for _, m := range res.SuspiciousStrings {
		values = append(values, m.Value)
	}
	assert.Contains(t, values, "cmd.exe")
	assert.Contains(t, values, "http://update.example.net/check")
}

func TestAnalyze_StructuralFailure(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{name: "tiny", data: []byte("MZ"), wantErr: ErrFileTooSmall},
		{name: "text file", data: bytes.Repeat([]byte("hello world\n"), 20), wantErr: ErrInvalidDOSHeader},
		{name: "DOS only", data: func() []byte {
			b := sampleImage()
			copy(b[testPEOffset:], "NE")
			return b
		}(), wantErr: ErrInvalidPESignature},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := analyzeBytes(t, tt.data)
			assert.Equal(t, tt.wantErr, errors.Cause(res.Err()))
			assert.Equal(t, tt.wantErr.Error(), res.Error)
			assert.False(t, res.IsPE())

			assert.Equal(t, "sample.exe", res.FileName)
			assert.Equal(t, int64(len(tt.data)), res.FileSize)
			assert.Nil(t, res.DOSHeader)
			assert.Nil(t, res.COFFHeader)
			assert.Nil(t, res.OptionalHeader)
			assert.Empty(t, res.Sections)
			assert.Empty(t, res.Imports)
			assert.Nil(t, res.EntropyProfile)
		})
	}
}

func TestAnalyze_TruncatedNeverPanics(t *testing.T) {
	data := sampleImage()
	a := NewAnalyzer(Limits{})
	for n := 0; n <= len(data); n++ {
		res := a.Analyze(NewSource(data[:n]), "cut.exe", "")
		require.NotNil(t, res, "length %d", n)
		if res.Error == "" {
			require.NotNil(t, res.OptionalHeader, "length %d", n)
		}
	}
}

func TestAnalyze_GarbageNeverPanics(t *testing.T) {
	data := sampleImage()
	a := NewAnalyzer(Limits{})
	// Flip every byte of the headers and section table in turn.
	for i := 0; i < testFirstRaw; i++ {
		mutated := append([]byte(nil), data...)
		mutated[i] ^= 0xFF
		assert.NotPanics(t, func() {
			a.Analyze(NewSource(mutated), "mutated.exe", "")
		}, "offset 0x%x", i)
	}
}

func TestAnalyze_Logger(t *testing.T) {
	var buf bytes.Buffer
	log := logrus.New()
	log.SetOutput(&buf)
	log.SetLevel(logrus.DebugLevel)

	a := NewAnalyzer(Limits{})
	a.SetLogger(log)
	a.SetLogger(nil)
	res := a.Analyze(NewSource([]byte("MZ")), "tiny.exe", "")
	require.Error(t, res.Err())
	assert.Contains(t, buf.String(), "structural check failed")
	assert.Contains(t, buf.String(), "tiny.exe")
}

func TestLimits_Defaults(t *testing.T) {
	a := NewAnalyzer(Limits{MaxSections: 8})
	l := a.Limits()
	assert.Equal(t, 8, l.MaxSections)
	assert.Equal(t, 200, l.MaxImportDescriptors)
	assert.Equal(t, 100, l.MaxThunksPerDLL)
	assert.Equal(t, 50, l.MaxFunctionsPerDLL)
	assert.Equal(t, DefaultEntropyBlockSize, l.Entropy.BlockSize)
	assert.Equal(t, DefaultPackedEntropyThreshold, l.Entropy.PackedEntropyThreshold)
}

func TestAnalyzeFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.exe")
	require.NoError(t, os.WriteFile(path, sampleImage(), 0o644))

	a := NewAnalyzer(Limits{})
	res, err := a.AnalyzeFile(path)
	require.NoError(t, err)
	require.NoError(t, res.Err())
	assert.Equal(t, "sample.exe", res.FileName)
	assert.Equal(t, path, res.FilePath)
	assert.Len(t, res.Imports, 2)

	_, err = a.AnalyzeFile(filepath.Join(dir, "missing.exe"))
	assert.Error(t, err)
}

func TestAnalyzeFile_Cache(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.exe")
	require.NoError(t, os.WriteFile(path, sampleImage(), 0o644))

	a := NewAnalyzer(Limits{})
	require.NoError(t, a.EnableCache(16, time.Minute))

	first, err := a.AnalyzeFile(path)
	require.NoError(t, err)
	second, err := a.AnalyzeFile(path)
	require.NoError(t, err)
	assert.Same(t, first, second)

	hits, misses := a.CacheStats()
	assert.Equal(t, uint64(1), hits)
	assert.Equal(t, uint64(1), misses)

	// A rewritten file is a new cache key.
	require.NoError(t, os.WriteFile(path, []byte("MZ"), 0o644))
	third, err := a.AnalyzeFile(path)
	require.NoError(t, err)
	assert.NotSame(t, first, third)
	assert.Error(t, third.Err())
}

func TestAnalyzeFile_NoCache(t *testing.T) {
	a := NewAnalyzer(Limits{})
	hits, misses := a.CacheStats()
	assert.Zero(t, hits)
	assert.Zero(t, misses)
}
