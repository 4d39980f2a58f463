// Package filetype identifies files by their leading bytes so the CLI can
// decide whether a file is worth handing to the PE engine.
package filetype

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"

	h2 "github.com/h2non/filetype"
	"github.com/pkg/errors"
)

// HeaderSize is how many leading bytes Match needs to see every
// signature, including the tar magic at offset 257.
const HeaderSize = 512

// Categories.
const (
	CategoryExecutable = "executable"
	CategoryArchive    = "archive"
	CategoryDocument   = "document"
	CategoryImage      = "image"
	CategoryAudio      = "audio"
	CategoryVideo      = "video"
	CategoryFont       = "font"
	CategoryScript     = "script"
	CategoryData       = "data"
)

// Kind is an identified file type.
type Kind struct {
	Name      string `json:"name" yaml:"name"`
	Category  string `json:"category" yaml:"category"`
	Extension string `json:"extension" yaml:"extension"`
	MIME      string `json:"mime" yaml:"mime"`
}

// Unknown is returned when no signature matches.
var Unknown = Kind{Name: "unknown", Category: CategoryData, MIME: "application/octet-stream"}

// IsPE reports whether k is a PE image candidate.
func (k Kind) IsPE() bool {
	return k.Extension == "exe"
}

func (k Kind) IsUnknown() bool {
	return k == Unknown
}

type signature struct {
	kind   Kind
	magic  []byte
	offset int
}

var (
	kindPE    = Kind{Name: "PE executable", Category: CategoryExecutable, Extension: "exe", MIME: "application/vnd.microsoft.portable-executable"}
	kindELF   = Kind{Name: "ELF executable", Category: CategoryExecutable, Extension: "elf", MIME: "application/x-elf"}
	kindMachO = Kind{Name: "Mach-O executable", Category: CategoryExecutable, Extension: "macho", MIME: "application/x-mach-binary"}
)

// signatures are checked in order before falling back to h2non/filetype.
var signatures = []signature{
	{kind: kindPE, magic: []byte("MZ")},
	{kind: kindELF, magic: []byte("\x7fELF")},
	{kind: kindMachO, magic: []byte{0xCF, 0xFA, 0xED, 0xFE}},
	{kind: kindMachO, magic: []byte{0xCE, 0xFA, 0xED, 0xFE}},
	{kind: kindMachO, magic: []byte{0xCA, 0xFE, 0xBA, 0xBE}},
	{kind: Kind{Name: "PDF document", Category: CategoryDocument, Extension: "pdf", MIME: "application/pdf"}, magic: []byte("%PDF-")},
	{kind: Kind{Name: "OLE compound document", Category: CategoryDocument, Extension: "doc", MIME: "application/x-ole-storage"}, magic: []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}},
	{kind: Kind{Name: "ZIP archive", Category: CategoryArchive, Extension: "zip", MIME: "application/zip"}, magic: []byte("PK\x03\x04")},
	{kind: Kind{Name: "tar archive", Category: CategoryArchive, Extension: "tar", MIME: "application/x-tar"}, magic: []byte("ustar"), offset: 257},
	{kind: Kind{Name: "gzip archive", Category: CategoryArchive, Extension: "gz", MIME: "application/gzip"}, magic: []byte{0x1F, 0x8B}},
	{kind: Kind{Name: "7-Zip archive", Category: CategoryArchive, Extension: "7z", MIME: "application/x-7z-compressed"}, magic: []byte("7z\xBC\xAF\x27\x1C")},
	{kind: Kind{Name: "RAR archive", Category: CategoryArchive, Extension: "rar", MIME: "application/vnd.rar"}, magic: []byte("Rar!\x1A\x07")},
	{kind: Kind{Name: "PNG image", Category: CategoryImage, Extension: "png", MIME: "image/png"}, magic: []byte("\x89PNG\r\n\x1A\n")},
	{kind: Kind{Name: "JPEG image", Category: CategoryImage, Extension: "jpg", MIME: "image/jpeg"}, magic: []byte{0xFF, 0xD8, 0xFF}},
	{kind: Kind{Name: "GIF image", Category: CategoryImage, Extension: "gif", MIME: "image/gif"}, magic: []byte("GIF8")},
	{kind: Kind{Name: "script", Category: CategoryScript, Extension: "sh", MIME: "text/x-shellscript"}, magic: []byte("#!")},
}

// extensionAliases lists the extensions that legitimately carry a kind.
var extensionAliases = map[string][]string{
	"exe":   {"exe", "dll", "sys", "ocx", "scr", "cpl", "drv", "efi", "mui", "com", "ax", "node"},
	"elf":   {"elf", "so", "o", "ko", "bin", "out"},
	"macho": {"macho", "dylib", "bundle"},
	"zip":   {"zip", "jar", "apk", "docx", "xlsx", "pptx", "odt", "ods", "nupkg", "whl", "xpi", "vsix"},
	"doc":   {"doc", "xls", "ppt", "msi", "msg"},
	"jpg":   {"jpg", "jpeg", "jpe"},
	"gz":    {"gz", "tgz"},
	"tar":   {"tar"},
	"sh":    {"sh", "bash", "py", "pl", "rb"},
}

// Match identifies header, the first HeaderSize bytes of a file.
func Match(header []byte) Kind {
	for _, sig := range signatures {
		end := sig.offset + len(sig.magic)
		if len(header) >= end && bytes.Equal(header[sig.offset:end], sig.magic) {
			return sig.kind
		}
	}

	t, err := h2.Match(header)
	if err != nil || t == h2.Unknown {
		return Unknown
	}
	return Kind{
		Name:      strings.ToUpper(t.Extension) + " file",
		Category:  category(header),
		Extension: t.Extension,
		MIME:      t.MIME.Value,
	}
}

func category(header []byte) string {
	switch {
	case h2.IsImage(header):
		return CategoryImage
	case h2.IsArchive(header):
		return CategoryArchive
	case h2.IsDocument(header):
		return CategoryDocument
	case h2.IsAudio(header):
		return CategoryAudio
	case h2.IsVideo(header):
		return CategoryVideo
	case h2.IsFont(header):
		return CategoryFont
	case h2.IsApplication(header):
		return CategoryExecutable
	}
	return CategoryData
}

// MatchFile identifies the file at path from its first HeaderSize bytes.
func MatchFile(path string) (Kind, error) {
	f, err := os.Open(path)
	if err != nil {
		return Unknown, errors.Wrap(err, "failure to open file")
	}
	defer f.Close()

	header := make([]byte, HeaderSize)
	n, err := io.ReadFull(f, header)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return Unknown, errors.Wrap(err, "failure to read file header")
	}
	return Match(header[:n]), nil
}

// Describe names the content type of data: its MIME type, or "Data" when
// nothing matches.
func Describe(data []byte) string {
	k := Match(data)
	if k.IsUnknown() {
		return "Data"
	}
	return k.MIME
}

// ExtensionMismatch reports a warning when the extension of path names a
// known type other than kind. Unknown content and unfamiliar extensions
// never warn.
func ExtensionMismatch(path string, kind Kind) (string, bool) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if ext == "" || kind.IsUnknown() || ext == kind.Extension {
		return "", false
	}
	for _, alias := range extensionAliases[kind.Extension] {
		if ext == alias {
			return "", false
		}
	}
	if !knownExtension(ext) {
		return "", false
	}
	return "extension ." + ext + " does not match content (" + kind.Name + ")", true
}

func knownExtension(ext string) bool {
	if _, ok := extensionAliases[ext]; ok {
		return true
	}
	for _, aliases := range extensionAliases {
		for _, a := range aliases {
			if a == ext {
				return true
			}
		}
	}
	for _, sig := range signatures {
		if sig.kind.Extension == ext {
			return true
		}
	}
	return h2.IsSupported(ext)
}
