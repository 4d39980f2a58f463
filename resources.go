package pe

import (
	"encoding/binary"
	"fmt"
	"unicode/utf16"

	"github.com/pkg/errors"
)

const (
	resourceDirectorySize      = 16
	resourceDirectoryEntrySize = 8
	resourceDataEntrySize      = 16

	// Type, name and language: the tree is never deeper in practice.
	maxResourceDepth   = 3
	maxAllowedEntries  = 0x1000
	maxResourceNameLen = 0x100
)

// ResourceType summarises one top-level branch of the resource tree.
type ResourceType struct {
	ID      uint32 `json:"id" yaml:"id"`
	Name    string `json:"name" yaml:"name"`
	Entries int    `json:"entries" yaml:"entries"`
	Size    uint64 `json:"size" yaml:"size"`
}

var resourceTypeNames = map[uint32]string{
	1:  "RT_CURSOR",
	2:  "RT_BITMAP",
	3:  "RT_ICON",
	4:  "RT_MENU",
	5:  "RT_DIALOG",
	6:  "RT_STRING",
	7:  "RT_FONTDIR",
	8:  "RT_FONT",
	9:  "RT_ACCELERATOR",
	10: "RT_RCDATA",
	11: "RT_MESSAGETABLE",
	12: "RT_GROUP_CURSOR",
	14: "RT_GROUP_ICON",
	16: "RT_VERSION",
	17: "RT_DLGINCLUDE",
	19: "RT_PLUGPLAY",
	20: "RT_VXD",
	21: "RT_ANICURSOR",
	22: "RT_ANIICON",
	23: "RT_HTML",
	24: "RT_MANIFEST",
}

func ResourceTypeName(id uint32) string {
	if name, ok := resourceTypeNames[id]; ok {
		return name
	}
	return fmt.Sprintf("%d", id)
}

type resourceEntry struct {
	name, offsetToData uint32
}

func (e resourceEntry) nameIsString() bool { return e.name&0x80000000 != 0 }
func (e resourceEntry) isDirectory() bool  { return e.offsetToData&0x80000000 != 0 }
func (e resourceEntry) target() uint32     { return e.offsetToData & 0x7FFFFFFF }

type resourceWalker struct {
	src     *Source
	res     *Resolver
	baseRVA uint32
	visited map[uint32]bool
	entries int
}

// readResources summarises the resource directory by type. Loops in the
// tree and the overall entry count are both bounded.
func readResources(src *Source, res *Resolver, oh *OptionalHeader) ([]ResourceType, error) {
	dir := oh.Directory(ImageDirectoryEntryResource)
	if dir.VirtualAddress == 0 || dir.Size == 0 {
		return nil, nil
	}

	w := &resourceWalker{src: src, res: res, baseRVA: dir.VirtualAddress, visited: make(map[uint32]bool)}
	roots, err := w.directory(dir.VirtualAddress)
	if err != nil {
		return nil, err
	}

	types := make([]ResourceType, 0, len(roots))
	for _, e := range roots {
		rt := ResourceType{}
		if e.nameIsString() {
			rt.Name = w.name(e.name & 0x7FFFFFFF)
		} else {
			rt.ID = e.name
			rt.Name = ResourceTypeName(e.name)
		}
		rt.Entries, rt.Size = w.leaves(e, 1)
		types = append(types, rt)
	}
	return types, nil
}

func (w *resourceWalker) directory(rva uint32) ([]resourceEntry, error) {
	if w.visited[rva] {
		return nil, errors.Errorf("resource directory loop at 0x%x", rva)
	}
	w.visited[rva] = true

	off, ok := w.res.ResolveIn(w.src, rva, resourceDirectorySize)
	if !ok {
		return nil, errors.Wrapf(ErrUnresolvedRVA, "resource directory at 0x%x", rva)
	}
	hdr, err := w.src.Bytes(off, resourceDirectorySize)
	if err != nil {
		return nil, err
	}
	n := int(binary.LittleEndian.Uint16(hdr[12:])) + int(binary.LittleEndian.Uint16(hdr[14:]))
	if w.entries+n > maxAllowedEntries {
		return nil, errors.Errorf("resource directory at 0x%x has too many entries", rva)
	}
	w.entries += n

	entries := make([]resourceEntry, 0, n)
	for i := 0; i < n; i++ {
		b, err := w.src.Bytes(off+resourceDirectorySize+int64(i*resourceDirectoryEntrySize), resourceDirectoryEntrySize)
		if err != nil {
			break
		}
		entries = append(entries, resourceEntry{
			name:         binary.LittleEndian.Uint32(b[0:]),
			offsetToData: binary.LittleEndian.Uint32(b[4:]),
		})
	}
	return entries, nil
}

// leaves counts the data entries under e and sums their sizes.
func (w *resourceWalker) leaves(e resourceEntry, depth int) (count int, size uint64) {
	if !e.isDirectory() {
		off, ok := w.res.ResolveIn(w.src, w.baseRVA+e.target(), resourceDataEntrySize)
		if !ok {
			return 0, 0
		}
		n, err := w.src.Uint32(off + 4)
		if err != nil {
			return 0, 0
		}
		return 1, uint64(n)
	}
	if depth >= maxResourceDepth {
		return 0, 0
	}

	children, err := w.directory(w.baseRVA + e.target())
	if err != nil {
		return 0, 0
	}
	for _, c := range children {
		n, s := w.leaves(c, depth+1)
		count += n
		size += s
	}
	return count, size
}

// name reads a length-prefixed UTF-16 resource name.
func (w *resourceWalker) name(rel uint32) string {
	off, ok := w.res.ResolveIn(w.src, w.baseRVA+rel, 2)
	if !ok {
		return ""
	}
	n, err := w.src.Uint16(off)
	if err != nil {
		return ""
	}
	if n > maxResourceNameLen {
		n = maxResourceNameLen
	}
	b, err := w.src.Bytes(off+2, int(n)*2)
	if err != nil {
		return ""
	}
	u := make([]uint16, n)
	for i := range u {
		u[i] = binary.LittleEndian.Uint16(b[i*2:])
	}
	return string(utf16.Decode(u))
}
