package pe

import (
	"regexp"
)

// String match categories.
const (
	StringURL      = "url"
	StringIP       = "ip"
	StringRegistry = "registry"
	StringPath     = "path"
	StringCommand  = "command"
	StringKeyword  = "keyword"
)

const (
	DefaultMaxStringMatches = 100

	minStringLen    = 5
	maxStringLen    = 1024
	stringScanChunk = 1 << 20

	// Long runs are matched in windows of stringWindowSize bytes that
	// overlap by maxStringLen.
	stringWindowSize = 4 * maxStringLen
	stringWindowOwn  = stringWindowSize - maxStringLen
)

// StringMatch is one suspicious string found in the raw bytes.
type StringMatch struct {
	Category string `json:"category" yaml:"category"`
	Value    string `json:"value" yaml:"value"`
	Offset   int64  `json:"offset" yaml:"offset"`
}

type stringPattern struct {
	category string
	re       *regexp.Regexp
}

var stringPatterns = []stringPattern{
	{StringURL, regexp.MustCompile(`(?i)\b(?:https?|ftp)://[a-z0-9\-\.]+\.[a-z]{2,}(?::\d+)?(?:/[^\s"'<>]*)?`)},
	{StringIP, regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|1\d\d|[1-9]?\d)\.){3}(?:25[0-5]|2[0-4]\d|1\d\d|[1-9]?\d)\b`)},
	{StringRegistry, regexp.MustCompile(`(?i)\b(?:HKEY_[A-Z_]+|HKLM|HKCU)\\[\\a-z0-9_\- ]+`)},
	{StringPath, regexp.MustCompile(`(?i)\b[a-z]:\\[\\a-z0-9_\-\. ]+`)},
	{StringCommand, regexp.MustCompile(`(?i)\b(?:cmd\.exe|powershell(?:\.exe)?|wscript|cscript|rundll32|regsvr32|schtasks|vssadmin|bcdedit)\b`)},
	{StringKeyword, regexp.MustCompile(`(?i)\b(?:keylogger|backdoor|rootkit|shellcode|payload|ransom\w*|mimikatz|cryptolocker)\b`)},
}

// runScanner collects printable ASCII runs byte by byte, carrying an open
// run across chunks. A window reports only the matches that start in its
// own region, so a match of up to maxStringLen bytes is seen whole by
// exactly one window.
type runScanner struct {
	buf    []byte
	base   int64 // file offset of buf[0]
	from   int   // start of the current window's own region in buf
	length int64 // bytes in the open run

	limit   int
	seen    map[string]bool
	matches []StringMatch
}

func (s *runScanner) full() bool {
	return len(s.matches) >= s.limit
}

func (s *runScanner) add(off int64, b byte) {
	if len(s.buf) == 0 {
		s.base = off
	}
	s.buf = append(s.buf, b)
	s.length++
	if len(s.buf) < stringWindowSize {
		return
	}

	s.match(stringWindowOwn)
	// Keep one byte before the next own region so \b sees the real
	// neighbour.
	keep := stringWindowOwn - 1
	s.buf = append(s.buf[:0], s.buf[keep:]...)
	s.base += int64(keep)
	s.from = 1
}

// end closes the open run.
func (s *runScanner) end() {
	if s.length >= minStringLen {
		s.match(len(s.buf))
	}
	s.buf = s.buf[:0]
	s.from = 0
	s.length = 0
}

// match reports pattern matches starting in buf[s.from:until].
func (s *runScanner) match(until int) {
	for _, p := range stringPatterns {
		for _, m := range p.re.FindAllIndex(s.buf, -1) {
			if m[0] < s.from || m[0] >= until {
				continue
			}
			if s.full() {
				return
			}
			end := m[1]
			if end-m[0] > maxStringLen {
				end = m[0] + maxStringLen
			}
			value := string(s.buf[m[0]:end])
			if s.seen[value] {
				continue
			}
			s.seen[value] = true
			s.matches = append(s.matches, StringMatch{
				Category: p.category,
				Value:    value,
				Offset:   s.base + int64(m[0]),
			})
		}
	}
}

// ScanStrings extracts printable ASCII runs from src and returns those
// matching a suspicious pattern, deduplicated by value, at most limit of
// them. Runs of any length are matched in full; a reported value is
// capped at maxStringLen bytes.
func ScanStrings(src *Source, limit int) ([]StringMatch, error) {
	if limit <= 0 {
		limit = DefaultMaxStringMatches
	}

	s := &runScanner{
		buf:     make([]byte, 0, stringWindowSize),
		limit:   limit,
		seen:    make(map[string]bool),
		matches: []StringMatch{},
	}
	err := src.Scan(stringScanChunk, 0, func(off int64, chunk []byte) bool {
		for i, b := range chunk {
			if b >= ' ' && b <= '~' {
				s.add(off+int64(i), b)
			} else if s.length > 0 {
				s.end()
			}
			if s.full() {
				return false
			}
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if !s.full() {
		s.end()
	}
	return s.matches, nil
}
