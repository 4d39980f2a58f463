package pe

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSource_Bytes(t *testing.T) {
	src := NewSource([]byte("0123456789"))

	tests := []struct {
		name    string
		off     int64
		n       int
		want    string
		wantErr bool
	}{
		{name: "whole buffer", off: 0, n: 10, want: "0123456789"},
		{name: "tail", off: 8, n: 2, want: "89"},
		{name: "empty at end", off: 10, n: 0, want: ""},
		{name: "past end", off: 8, n: 3, wantErr: true},
		{name: "negative offset", off: -1, n: 1, wantErr: true},
		{name: "negative length", off: 0, n: -1, wantErr: true},
		{name: "offset beyond size", off: 11, n: 0, wantErr: true},
		{name: "overflowing length", off: 5, n: int(^uint(0) >> 1), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := src.Bytes(tt.off, tt.n)
			if tt.wantErr {
				assert.Equal(t, ErrOutsideBoundary, errors.Cause(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestSource_Integers(t *testing.T) {
	src := NewSource([]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08})

	u16, err := src.Uint16(0)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0201), u16)

	u32, err := src.Uint32(4)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x08070605), u32)

	u64, err := src.Uint64(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x0807060504030201), u64)

	_, err = src.Uint32(6)
	assert.Error(t, err)
	_, err = src.Uint64(1)
	assert.Error(t, err)
}

func TestSource_CString(t *testing.T) {
	src := NewSource([]byte("KERNEL32.DLL\x00tail-without-nul"))

	s, err := src.CString(0, 256)
	require.NoError(t, err)
	assert.Equal(t, "KERNEL32.DLL", s)

	s, err = src.CString(0, 6)
	require.NoError(t, err)
	assert.Equal(t, "KERNEL", s, "clipped at maxLen")

	_, err = src.CString(13, 256)
	assert.Equal(t, ErrUnterminated, errors.Cause(err))

	_, err = src.CString(int64(len("KERNEL32.DLL\x00tail-without-nul")), 8)
	assert.Equal(t, ErrOutsideBoundary, errors.Cause(err))
}

func TestSource_ReadAt(t *testing.T) {
	src := NewSource([]byte("abcdef"))

	p := make([]byte, 4)
	n, err := src.ReadAt(p, 4)
	assert.Equal(t, 2, n)
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, "ef", string(p[:n]))

	n, err = src.ReadAt(p, 6)
	assert.Equal(t, 0, n)
	assert.Equal(t, io.EOF, err)

	// io.SectionReader must see the same bytes.
	got, err := io.ReadAll(io.NewSectionReader(src, 1, 3))
	require.NoError(t, err)
	assert.Equal(t, "bcd", string(got))
}

func TestNewReaderSource_LazyTail(t *testing.T) {
	data := make([]byte, 4096)
	for i := range data {
		data[i] = byte(i)
	}
	src, err := NewReaderSource(bytes.NewReader(data), int64(len(data)), 512)
	require.NoError(t, err)
	assert.Len(t, src.header, 512)

	got, err := src.Bytes(500, 100)
	require.NoError(t, err, "read straddling the buffered header")
	assert.Equal(t, data[500:600], got)

	got, err = src.Bytes(4000, 96)
	require.NoError(t, err)
	assert.Equal(t, data[4000:], got)

	_, err = NewReaderSource(bytes.NewReader(data[:10]), 100, 512)
	assert.Error(t, err, "declared size larger than the reader")
}

func TestOpenSource(t *testing.T) {
	dir := t.TempDir()

	t.Run("mapped file", func(t *testing.T) {
		path := filepath.Join(dir, "image.bin")
		require.NoError(t, os.WriteFile(path, []byte("MZ-some-bytes"), 0o644))

		src, err := OpenSource(path, 0)
		require.NoError(t, err)
		defer src.Close()

		assert.Equal(t, int64(13), src.Size())
		b, err := src.Bytes(0, 2)
		require.NoError(t, err)
		assert.Equal(t, "MZ", string(b))
	})

	t.Run("empty file", func(t *testing.T) {
		path := filepath.Join(dir, "empty.bin")
		require.NoError(t, os.WriteFile(path, nil, 0o644))

		src, err := OpenSource(path, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(0), src.Size())
		assert.NoError(t, src.Close())
		assert.NoError(t, src.Close(), "second close is a no-op")
	})

	t.Run("directory", func(t *testing.T) {
		_, err := OpenSource(dir, 0)
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := OpenSource(filepath.Join(dir, "nope"), 0)
		assert.Error(t, err)
	})
}

func TestSource_Scan(t *testing.T) {
	data := []byte("0123456789")
	src := NewSource(data)

	var chunks []string
	var offsets []int64
	err := src.Scan(4, 1, func(off int64, chunk []byte) bool {
		chunks = append(chunks, string(chunk))
		offsets = append(offsets, off)
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"0123", "3456", "6789"}, chunks)
	assert.Equal(t, []int64{0, 3, 6}, offsets)

	calls := 0
	require.NoError(t, src.Scan(2, 0, func(int64, []byte) bool {
		calls++
		return false
	}))
	assert.Equal(t, 1, calls, "returning false stops the scan")

	assert.Error(t, src.Scan(2, 2, func(int64, []byte) bool { return true }))
}
