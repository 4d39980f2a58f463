package pe

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
	"sort"

	"github.com/pkg/errors"
)

// Authenticode hash algorithms.
const (
	HashMD5    = "md5"
	HashSHA1   = "sha1"
	HashSHA256 = "sha256"
)

type relRange struct {
	start, length int64
}

type byStart []relRange

func (s byStart) Len() int           { return len(s) }
func (s byStart) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }
func (s byStart) Less(i, j int) bool { return s[i].start < s[j].start }

func newHasher(algorithm string) (hash.Hash, error) {
	switch algorithm {
	case HashMD5:
		return md5.New(), nil
	case HashSHA1:
		return sha1.New(), nil
	case "", HashSHA256:
		return sha256.New(), nil
	}
	return nil, errors.Errorf("unsupported authentihash algorithm %q", algorithm)
}

// Authentihash hashes the image the way Authenticode signs it: everything
// except the CheckSum field, the certificate table directory entry and the
// certificate table itself.
func Authentihash(src *Source, res *AnalysisResult, algorithm string) (string, error) {
	if !res.IsPE() {
		return "", errors.New("not a PE image")
	}
	hasher, err := newHasher(algorithm)
	if err != nil {
		return "", err
	}

	excluded := authentihashExclusions(src, res.DOSHeader, res.OptionalHeader)
	sort.Sort(byStart(excluded))

	start := int64(0)
	for _, r := range excluded {
		if r.start > start {
			if _, err := io.Copy(hasher, io.NewSectionReader(src, start, r.start-start)); err != nil {
				return "", errors.Wrap(err, "failure to hash image")
			}
		}
		if end := r.start + r.length; end > start {
			start = end
		}
	}
	if start < src.Size() {
		if _, err := io.Copy(hasher, io.NewSectionReader(src, start, src.Size()-start)); err != nil {
			return "", errors.Wrap(err, "failure to hash image")
		}
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func authentihashExclusions(src *Source, dos *DosHeader, oh *OptionalHeader) []relRange {
	excluded := []relRange{{checksumFieldOffset(dos.PEHeaderOffset), 4}}

	if len(oh.DataDirectories) <= ImageDirectoryEntrySecurity {
		return excluded
	}
	layout := pe32Layout
	if oh.Is64() {
		layout = pe32PlusLayout
	}
	ohOff := int64(dos.PEHeaderOffset) + 4 + FileHeaderSize
	certEntry := ohOff + int64(layout.dataDirectories) + ImageDirectoryEntrySecurity*DataDirectorySize
	excluded = append(excluded, relRange{certEntry, DataDirectorySize})

	// The certificate table is addressed by file offset, not RVA.
	cert := oh.DataDirectories[ImageDirectoryEntrySecurity]
	start, size := int64(cert.VirtualAddress), int64(cert.Size)
	if size == 0 || start < ohOff || start+size > src.Size() {
		return excluded
	}
	return append(excluded, relRange{start, size})
}
