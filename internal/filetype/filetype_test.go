package filetype

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatch(t *testing.T) {
	tarHeader := make([]byte, HeaderSize)
	copy(tarHeader[257:], "ustar\x0000")

	tests := []struct {
		name     string
		header   []byte
		wantExt  string
		wantCat  string
		wantMIME string
	}{
		{name: "pe", header: []byte("MZ\x90\x00\x03"), wantExt: "exe", wantCat: CategoryExecutable, wantMIME: "application/vnd.microsoft.portable-executable"},
		{name: "elf", header: []byte("\x7fELF\x02\x01\x01"), wantExt: "elf", wantCat: CategoryExecutable, wantMIME: "application/x-elf"},
		{name: "pdf", header: []byte("%PDF-1.7\n"), wantExt: "pdf", wantCat: CategoryDocument, wantMIME: "application/pdf"},
		{name: "zip", header: []byte("PK\x03\x04\x14\x00"), wantExt: "zip", wantCat: CategoryArchive, wantMIME: "application/zip"},
		{name: "tar at offset 257", header: tarHeader, wantExt: "tar", wantCat: CategoryArchive, wantMIME: "application/x-tar"},
		{name: "shebang", header: []byte("#!/bin/sh\necho hi\n"), wantExt: "sh", wantCat: CategoryScript, wantMIME: "text/x-shellscript"},
		{name: "mp3 via library", header: []byte("ID3\x03\x00\x00\x00\x00\x00\x00"), wantExt: "mp3", wantCat: CategoryAudio, wantMIME: "audio/mpeg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := Match(tt.header)
			assert.Equal(t, tt.wantExt, k.Extension)
			assert.Equal(t, tt.wantCat, k.Category)
			assert.Equal(t, tt.wantMIME, k.MIME)
		})
	}
}

func TestMatch_Unknown(t *testing.T) {
	assert.True(t, Match(nil).IsUnknown())
	assert.True(t, Match([]byte("M")).IsUnknown())
	assert.True(t, Match([]byte("plain text, nothing special")).IsUnknown())
	assert.Equal(t, "Data", Describe([]byte{0x00, 0x01, 0x02}))
	assert.Equal(t, "application/pdf", Describe([]byte("%PDF-1.4")))
}

func TestMatch_ShortTarHeader(t *testing.T) {
	// Too short to reach offset 257.
	assert.True(t, Match(make([]byte, 100)).IsUnknown())
}

func TestMatchFile(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "tool.exe")
	require.NoError(t, os.WriteFile(path, []byte("MZ"), 0o644))
	k, err := MatchFile(path)
	require.NoError(t, err)
	assert.True(t, k.IsPE())

	empty := filepath.Join(dir, "empty")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	k, err = MatchFile(empty)
	require.NoError(t, err)
	assert.True(t, k.IsUnknown())

	_, err = MatchFile(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestExtensionMismatch(t *testing.T) {
	pe := Match([]byte("MZ"))
	zip := Match([]byte("PK\x03\x04"))

	tests := []struct {
		name     string
		path     string
		kind     Kind
		wantWarn bool
	}{
		{name: "exe", path: "setup.exe", kind: pe},
		{name: "dll upper case", path: "C:/x/KERNEL32.DLL", kind: pe},
		{name: "driver", path: "beep.sys", kind: pe},
		{name: "pe posing as jpeg", path: "invoice.jpg", kind: pe, wantWarn: true},
		{name: "pe posing as pdf", path: "invoice.pdf", kind: pe, wantWarn: true},
		{name: "docx is a zip", path: "report.docx", kind: zip},
		{name: "unfamiliar extension", path: "sample.bin_", kind: pe},
		{name: "no extension", path: "sample", kind: pe},
		{name: "unknown content", path: "photo.jpg", kind: Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, warn := ExtensionMismatch(tt.path, tt.kind)
			assert.Equal(t, tt.wantWarn, warn)
			if tt.wantWarn {
				assert.Contains(t, msg, tt.kind.Name)
			} else {
				assert.Empty(t, msg)
			}
		})
	}
}
