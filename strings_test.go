package pe

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func joinRuns(runs ...string) []byte {
	var b bytes.Buffer
	for _, r := range runs {
		b.Write([]byte{0, 0, 0})
		b.WriteString(r)
	}
	b.Write([]byte{0, 0, 0})
	return b.Bytes()
}

func TestScanStrings(t *testing.T) {
	data := joinRuns(
		"http://malware.example.com/x",
		"connect 192.168.10.20 now",
		`HKEY_LOCAL_MACHINE\Software\Run`,
		`C:\Windows\Temp\x.exe`,
		"powershell -enc AAAA",
		"install backdoor",
		"abc",
		"nothing to see here",
		"http://malware.example.com/x",
	)

	got, err := ScanStrings(NewSource(data), 0)
	require.NoError(t, err)

	want := []StringMatch{
		{Category: StringURL, Value: "http://malware.example.com/x"},
		{Category: StringIP, Value: "192.168.10.20"},
		{Category: StringRegistry, Value: `HKEY_LOCAL_MACHINE\Software\Run`},
		{Category: StringPath, Value: `C:\Windows\Temp\x.exe`},
		{Category: StringCommand, Value: "powershell"},
		{Category: StringKeyword, Value: "backdoor"},
	}
	require.Len(t, got, len(want))
	for i, w := range want {
		assert.Equal(t, w.Category, got[i].Category, w.Value)
		assert.Equal(t, w.Value, got[i].Value)
		assert.Equal(t, int64(bytes.Index(data, []byte(w.Value))), got[i].Offset, w.Value)
	}
}

func TestScanStrings_Limit(t *testing.T) {
	data := joinRuns("http://a.example.com", "http://b.example.com", "http://c.example.com")
	got, err := ScanStrings(NewSource(data), 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestScanStrings_Empty(t *testing.T) {
	got, err := ScanStrings(NewSource(make([]byte, 4096)), 0)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestScanStrings_ChunkEdge(t *testing.T) {
	const url = "http://edge.example.com/dropper"
	data := make([]byte, stringScanChunk+100)
	at := stringScanChunk - 10
	copy(data[at:], url)

	got, err := ScanStrings(NewSource(data), 0)
	require.NoError(t, err)
	require.Len(t, got, 1, "a run cut by a chunk edge is reported once, whole")
	assert.Equal(t, url, got[0].Value)
	assert.Equal(t, int64(at), got[0].Offset)
}

func TestScanStrings_PastFirstKilobyteOfRun(t *testing.T) {
	data := make([]byte, 8<<10)
	run := string(repeat('A', 1500)) + " http://evil.example.com/x powershell.exe"
	copy(data[100:], run)

	got, err := ScanStrings(NewSource(data), 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, StringMatch{Category: StringURL, Value: "http://evil.example.com/x", Offset: int64(bytes.Index(data, []byte("http")))}, got[0])
	assert.Equal(t, StringMatch{Category: StringCommand, Value: "powershell.exe", Offset: int64(bytes.Index(data, []byte("powershell")))}, got[1])
}

// placeRun fills data[from:to] with 'A' and writes each value, preceded by
// a space, at its offset.
func placeRun(data []byte, from, to int, values map[int]string) {
	copy(data[from:to], repeat('A', to-from))
	for at, v := range values {
		data[at-1] = ' '
		copy(data[at:], v)
		data[at+len(v)] = ' '
	}
}

func assertFound(t *testing.T, got []StringMatch, values map[int]string) {
	t.Helper()
	require.Len(t, got, len(values))
	for _, m := range got {
		assert.Equal(t, StringURL, m.Category)
		assert.Equal(t, values[int(m.Offset)], m.Value, "offset %d", m.Offset)
	}
}

func TestScanStrings_WindowBoundaries(t *testing.T) {
	values := map[int]string{
		stringWindowOwn - 12:      "http://own-edge.example.com/a",
		stringWindowSize - 6:      "http://window-edge.example.com/b",
		2*stringWindowOwn - 5:     "http://second-edge.example.com/c",
		5*stringWindowSize + 1234: "http://deep.example.com/d",
	}
	data := make([]byte, 8*stringWindowSize)
	placeRun(data, 0, len(data)-100, values)

	got, err := ScanStrings(NewSource(data), 0)
	require.NoError(t, err)
	assertFound(t, got, values)
}

func TestScanStrings_LongRunAcrossChunks(t *testing.T) {
	values := map[int]string{
		stringScanChunk - 15:   "http://straddle.example.com/e",
		stringScanChunk + 2000: "http://after.example.com/f",
	}
	data := make([]byte, stringScanChunk+8192)
	placeRun(data, stringScanChunk-3000, stringScanChunk+3000, values)

	got, err := ScanStrings(NewSource(data), 0)
	require.NoError(t, err)
	assertFound(t, got, values)
}

func TestScanStrings_ValueCapped(t *testing.T) {
	url := "http://long.example.com/" + string(repeat('a', 5000))
	data := joinRuns(url)

	got, err := ScanStrings(NewSource(data), 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, url[:maxStringLen], got[0].Value)
	assert.Equal(t, int64(3), got[0].Offset)
}
