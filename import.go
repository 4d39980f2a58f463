package pe

import (
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ImportedSymbol is one thunk of an import table: a name with its hint, or
// an ordinal.
type ImportedSymbol struct {
	Name      string `json:"name,omitempty" yaml:"name,omitempty"`
	Hint      uint16 `json:"hint,omitempty" yaml:"hint,omitempty"`
	ByOrdinal bool   `json:"byOrdinal" yaml:"byOrdinal"`
	Ordinal   uint16 `json:"ordinal,omitempty" yaml:"ordinal,omitempty"`
}

func (s ImportedSymbol) String() string {
	if s.ByOrdinal {
		return "Ordinal " + strconv.Itoa(int(s.Ordinal))
	}
	return s.Name
}

// ImportEntry is one DLL from the import directory. Truncated is set when
// a thunk or function cap cut the list short.
type ImportEntry struct {
	DLLName   string           `json:"dllName" yaml:"dllName"`
	Functions []ImportedSymbol `json:"functions" yaml:"functions"`
	Truncated bool             `json:"truncated,omitempty" yaml:"truncated,omitempty"`
}

// Names returns the display form of every imported symbol.
func (e ImportEntry) Names() []string {
	names := make([]string, len(e.Functions))
	for i, fn := range e.Functions {
		names[i] = fn.String()
	}
	return names
}

type importDescriptor struct {
	OriginalFirstThunk uint32
	Name               uint32
	FirstThunk         uint32

	// Old-style delay-load descriptors hold VAs instead of RVAs.
	vaBased bool
}

func decodeImportDescriptor(rec []byte) importDescriptor {
	return importDescriptor{
		OriginalFirstThunk: binary.LittleEndian.Uint32(rec[0:]),
		Name:               binary.LittleEndian.Uint32(rec[12:]),
		FirstThunk:         binary.LittleEndian.Uint32(rec[16:]),
	}
}

// thunkFormat carries what differs between PE32 and PE32+ thunk arrays.
type thunkFormat struct {
	width       int
	ordinalFlag uint64
	addressMask uint64
}

var (
	thunk32 = thunkFormat{width: 4, ordinalFlag: imageOrdinalFlag32, addressMask: addressMask32}
	// PE32+ thunks are 8 bytes wide with the ordinal flag in bit 63.
	thunk64 = thunkFormat{width: 8, ordinalFlag: imageOrdinalFlag64, addressMask: addressMask64}
)

func (tf thunkFormat) value(rec []byte) uint64 {
	if tf.width == 8 {
		return binary.LittleEndian.Uint64(rec)
	}
	return uint64(binary.LittleEndian.Uint32(rec))
}

type importWalker struct {
	src       *Source
	res       *Resolver
	thunk     thunkFormat
	imageBase uint64
	limits    Limits
	log       logrus.FieldLogger
}

func newImportWalker(src *Source, res *Resolver, oh *OptionalHeader, limits Limits, log logrus.FieldLogger) *importWalker {
	w := &importWalker{src: src, res: res, thunk: thunk32, imageBase: oh.ImageBase, limits: limits, log: log}
	if oh.Is64() {
		w.thunk = thunk64
	}
	return w
}

// toRVA turns an address from a descriptor or thunk into an RVA.
func (w *importWalker) toRVA(addr uint64, vaBased bool) (uint32, bool) {
	if vaBased {
		if addr < w.imageBase {
			return 0, false
		}
		addr -= w.imageBase
	}
	if addr > 0xFFFFFFFF {
		return 0, false
	}
	return uint32(addr), true
}

// readImports walks the import directory. Every descriptor or thunk that
// cannot be resolved is skipped on its own; nothing here fails the whole
// analysis.
func readImports(src *Source, res *Resolver, oh *OptionalHeader, limits Limits, log logrus.FieldLogger) []ImportEntry {
	dir := oh.Directory(ImageDirectoryEntryImport)
	if dir.VirtualAddress == 0 || dir.Size == 0 {
		return nil
	}

	off, ok := res.ResolveIn(src, dir.VirtualAddress, ImportDescriptorSize)
	if !ok {
		log.WithField("rva", fmt.Sprintf("0x%x", dir.VirtualAddress)).Debug("import directory does not resolve")
		return nil
	}

	w := newImportWalker(src, res, oh, limits, log)
	var imports []ImportEntry
	isLast := func(rec []byte) bool {
		return binary.LittleEndian.Uint32(rec[12:]) == 0
	}
	_, capped := walkBounded(src, off, ImportDescriptorSize, limits.MaxImportDescriptors, isLast, func(i int, rec []byte) {
		entry, err := w.readEntry(decodeImportDescriptor(rec))
		if err != nil {
			log.WithError(err).WithField("descriptor", i).Debug("skipping import descriptor")
			return
		}
		imports = append(imports, entry)
	})
	if capped {
		log.WithField("limit", limits.MaxImportDescriptors).Debug("import descriptor limit reached")
	}
	return imports
}

func (w *importWalker) readEntry(d importDescriptor) (ImportEntry, error) {
	nameRVA, ok := w.toRVA(uint64(d.Name), d.vaBased)
	if !ok {
		return ImportEntry{}, errors.Wrapf(ErrUnresolvedRVA, "DLL name at 0x%x", d.Name)
	}
	name, err := w.res.CString(w.src, nameRVA, maxDllLength)
	if err != nil {
		return ImportEntry{}, errors.Wrap(err, "failure to read DLL name")
	}
	if !isValidDLLName(name) {
		return ImportEntry{}, errors.Errorf("invalid DLL name %q", name)
	}

	// The lookup table survives binding; the address table may not.
	table := d.OriginalFirstThunk
	if table == 0 {
		table = d.FirstThunk
	}
	var off int64
	rva, ok := w.toRVA(uint64(table), d.vaBased)
	if ok {
		off, ok = w.res.ResolveIn(w.src, rva, w.thunk.width)
	}
	if !ok {
		return ImportEntry{}, errors.Wrapf(ErrUnresolvedRVA, "thunk array of %s at 0x%x", name, table)
	}

	entry := ImportEntry{DLLName: name, Functions: []ImportedSymbol{}}
	isLast := func(rec []byte) bool {
		return w.thunk.value(rec) == 0
	}
	_, capped := walkBounded(w.src, off, w.thunk.width, w.limits.MaxThunksPerDLL, isLast, func(i int, rec []byte) {
		sym, err := w.readThunk(w.thunk.value(rec), d.vaBased)
		if err != nil {
			w.log.WithError(err).WithFields(logrus.Fields{"dll": name, "thunk": i}).Debug("skipping import thunk")
			return
		}
		if len(entry.Functions) >= w.limits.MaxFunctionsPerDLL {
			entry.Truncated = true
			return
		}
		entry.Functions = append(entry.Functions, sym)
	})
	if capped {
		entry.Truncated = true
	}
	return entry, nil
}

func (w *importWalker) readThunk(v uint64, vaBased bool) (ImportedSymbol, error) {
	if v&w.thunk.ordinalFlag != 0 {
		return ImportedSymbol{ByOrdinal: true, Ordinal: uint16(v & 0xffff)}, nil
	}

	addr := v & w.thunk.addressMask
	rva, ok := w.toRVA(addr, vaBased)
	var off int64
	if ok {
		off, ok = w.res.ResolveIn(w.src, rva, 2)
	}
	if !ok {
		return ImportedSymbol{}, errors.Wrapf(ErrUnresolvedRVA, "hint/name at 0x%x", addr)
	}

	hint, err := w.src.Uint16(off)
	if err != nil {
		return ImportedSymbol{}, err
	}
	name, err := w.src.CString(off+2, maxImportNameLength)
	if err != nil {
		return ImportedSymbol{}, errors.Wrap(err, "failure to read import name")
	}
	if !isValidFunctionName(name) {
		return ImportedSymbol{}, errors.Errorf("invalid import name %q", name)
	}
	return ImportedSymbol{Name: name, Hint: hint}, nil
}

// ImpHash calculates the import hash: the MD5 of the comma-joined,
// lower-cased "library.function" list in table order. Ordinal imports are
// written as "ord<n>".
func ImpHash(imports []ImportEntry) (string, error) {
	if len(imports) == 0 {
		return "", errors.New("no imports found")
	}

	extensions := []string{"ocx", "sys", "dll"}
	var normalized []string
	for _, imp := range imports {
		libName := imp.DLLName
		if parts := strings.Split(libName, "."); len(parts) == 2 && stringInSlice(strings.ToLower(parts[1]), extensions) {
			libName = parts[0]
		}
		libName = strings.ToLower(libName)

		for _, fn := range imp.Functions {
			funcName := fn.Name
			if fn.ByOrdinal {
				funcName = "ord" + strconv.Itoa(int(fn.Ordinal))
			}
			if funcName == "" {
				continue
			}
			normalized = append(normalized, libName+"."+strings.ToLower(funcName))
		}
	}

	h := md5.New()
	_, _ = io.WriteString(h, strings.Join(normalized, ","))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// suspiciousAPIs are imports commonly seen in injectors, droppers and
// anti-analysis code. Matching ignores the A/W and Ex suffixes.
var suspiciousAPIs = []string{
	"VirtualAlloc", "VirtualAllocEx", "VirtualProtect", "VirtualProtectEx",
	"WriteProcessMemory", "ReadProcessMemory", "NtAllocateVirtualMemory",

	"CreateRemoteThread", "CreateRemoteThreadEx", "RtlCreateUserThread",
	"NtCreateThread", "NtCreateThreadEx", "QueueUserAPC", "NtQueueApcThread",
	"CreateProcess", "ShellExecute", "WinExec",
	"SetWindowsHookEx", "SetThreadContext", "NtSetContextThread",
	"NtUnmapViewOfSection", "NtMapViewOfSection",

	"LoadLibrary", "GetProcAddress", "LdrLoadDll", "LdrGetProcedureAddress",

	"RegSetValue", "RegCreateKey", "RegDeleteKey", "RegDeleteValue",

	"URLDownloadToFile", "InternetOpen", "InternetConnect", "InternetOpenUrl",
	"HttpSendRequest", "HttpOpenRequest", "WSAStartup",

	"CryptEncrypt", "CryptDecrypt", "CryptAcquireContext",

	"CreateService", "ControlService", "ChangeServiceConfig",

	"IsDebuggerPresent", "CheckRemoteDebuggerPresent", "NtQueryInformationProcess",
	"OutputDebugString", "ZwSetInformationThread",

	"AdjustTokenPrivileges", "LookupPrivilegeValue", "OpenProcessToken",
}

var suspiciousAPISet = func() map[string]bool {
	m := make(map[string]bool, len(suspiciousAPIs))
	for _, api := range suspiciousAPIs {
		m[api] = true
	}
	return m
}()

// baseAPIName strips the ANSI/wide suffix so CreateProcessW matches
// CreateProcess.
func baseAPIName(name string) string {
	if n := len(name); n > 1 && (name[n-1] == 'A' || name[n-1] == 'W') {
		if c := name[n-2]; c >= 'a' && c <= 'z' {
			return name[:n-1]
		}
	}
	return name
}

// SuspiciousImports lists the named imports that appear in the suspicious
// API table as sorted, unique "dll!function" strings.
func SuspiciousImports(tables ...[]ImportEntry) []string {
	seen := make(map[string]bool)
	var hits []string
	for _, imports := range tables {
		for _, imp := range imports {
			for _, fn := range imp.Functions {
				if fn.ByOrdinal || !suspiciousAPISet[baseAPIName(fn.Name)] {
					continue
				}
				key := imp.DLLName + "!" + fn.Name
				if !seen[key] {
					seen[key] = true
					hits = append(hits, key)
				}
			}
		}
	}
	sort.Strings(hits)
	return hits
}
