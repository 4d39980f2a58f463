package pe

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"
)

// DefaultHeaderBufferSize is how much of a file is held in memory up front.
// Anything past it is read lazily from the backing reader.
const DefaultHeaderBufferSize = 1 << 20

// Source is a bounded, randomly addressable view over the bytes of a file.
// Every read is checked against [0, Size()) before it is attempted.
//
// Slices returned by Bytes may alias internal buffers and must not be
// modified.
type Source struct {
	header []byte
	r      io.ReaderAt
	size   int64
	close  func() error
}

// NewSource returns a Source over an in-memory buffer.
func NewSource(data []byte) *Source {
	return &Source{
		header: data,
		r:      bytes.NewReader(data),
		size:   int64(len(data)),
	}
}

// NewReaderSource buffers the first headerLimit bytes of r and serves the
// rest on demand. A non-positive headerLimit selects DefaultHeaderBufferSize.
func NewReaderSource(r io.ReaderAt, size int64, headerLimit int) (*Source, error) {
	if size < 0 {
		return nil, errors.Errorf("invalid source size %d", size)
	}
	if headerLimit <= 0 {
		headerLimit = DefaultHeaderBufferSize
	}

	n := int64(headerLimit)
	if n > size {
		n = size
	}
	header := make([]byte, n)
	if m, err := r.ReadAt(header, 0); m < len(header) {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return nil, errors.Wrap(err, "failure to buffer header region")
	}

	return &Source{header: header, r: r, size: size}, nil
}

// OpenSource opens path as a Source. Non-empty files are memory mapped;
// when mapping is not possible the file is read through os.File.ReadAt.
func OpenSource(path string, headerLimit int) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failure to open file")
	}

	stat, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrap(err, "failure to stat file")
	}
	if stat.IsDir() {
		_ = f.Close()
		return nil, errors.Errorf("%s is a directory", path)
	}

	if stat.Size() > 0 {
		if m, err := mmap.Map(f, mmap.RDONLY, 0); err == nil {
			// The mapping outlives the descriptor.
			_ = f.Close()
			src := NewSource(m)
			if headerLimit <= 0 {
				headerLimit = DefaultHeaderBufferSize
			}
			if len(m) > headerLimit {
				src.header = m[:headerLimit]
			}
			src.close = m.Unmap
			return src, nil
		}
	}

	src, err := NewReaderSource(f, stat.Size(), headerLimit)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	src.close = f.Close
	return src, nil
}

// Close releases the mapping or file behind the source, if any.
func (s *Source) Close() error {
	if s.close == nil {
		return nil
	}
	err := s.close()
	s.close = nil
	return err
}

// Size returns the total length of the source in bytes.
func (s *Source) Size() int64 {
	return s.size
}

func (s *Source) inBounds(off int64, n int) bool {
	return off >= 0 && n >= 0 && off <= s.size && int64(n) <= s.size-off
}

// Bytes returns n bytes starting at off.
func (s *Source) Bytes(off int64, n int) ([]byte, error) {
	if !s.inBounds(off, n) {
		return nil, ErrOutsideBoundary
	}
	if end := off + int64(n); end <= int64(len(s.header)) {
		return s.header[off:end], nil
	}

	buf := make([]byte, n)
	if m, err := s.r.ReadAt(buf, off); m < n {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return nil, errors.Wrapf(err, "failure to read %d bytes at 0x%x", n, off)
	}
	return buf, nil
}

// ReadAt implements io.ReaderAt, clipped to the size of the source.
func (s *Source) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, ErrOutsideBoundary
	}
	if off >= s.size {
		return 0, io.EOF
	}

	n, short := len(p), false
	if rem := s.size - off; int64(n) > rem {
		n, short = int(rem), true
	}
	b, err := s.Bytes(off, n)
	if err != nil {
		return 0, err
	}
	copy(p, b)
	if short {
		return n, io.EOF
	}
	return n, nil
}

// Uint16 reads a little-endian uint16 at off.
func (s *Source) Uint16(off int64) (uint16, error) {
	b, err := s.Bytes(off, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// Uint32 reads a little-endian uint32 at off.
func (s *Source) Uint32(off int64) (uint32, error) {
	b, err := s.Bytes(off, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// Uint64 reads a little-endian uint64 at off.
func (s *Source) Uint64(off int64) (uint64, error) {
	b, err := s.Bytes(off, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// CString reads a NUL-terminated string of at most maxLen bytes at off.
// A string that hits maxLen is returned clipped; one that hits the end of
// the source first is an error.
func (s *Source) CString(off int64, maxLen int) (string, error) {
	if off < 0 || off >= s.size {
		return "", ErrOutsideBoundary
	}

	n := maxLen
	if rem := s.size - off; int64(n) > rem {
		n = int(rem)
	}
	b, err := s.Bytes(off, n)
	if err != nil {
		return "", err
	}
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i]), nil
	}
	if n < maxLen {
		return "", ErrUnterminated
	}
	return string(b), nil
}

// Scan hands the source to fn in chunks of at most chunkSize bytes.
// Consecutive chunks share overlap bytes so a pattern that straddles a
// chunk boundary is seen whole by at least one call. Scanning stops early
// when fn returns false.
func (s *Source) Scan(chunkSize, overlap int, fn func(off int64, chunk []byte) bool) error {
	if chunkSize <= overlap || overlap < 0 {
		return errors.Errorf("chunk size %d must exceed overlap %d", chunkSize, overlap)
	}

	for off := int64(0); off < s.size; {
		n := chunkSize
		if rem := s.size - off; int64(n) > rem {
			n = int(rem)
		}
		b, err := s.Bytes(off, n)
		if err != nil {
			return err
		}
		if !fn(off, b) {
			return nil
		}
		if off+int64(n) >= s.size {
			break
		}
		off += int64(n - overlap)
	}
	return nil
}
