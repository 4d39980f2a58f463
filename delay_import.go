package pe

import (
	"encoding/binary"
	"fmt"

	"github.com/sirupsen/logrus"
)

const delayImportDescriptorSize = 32

// delayAttrRVA marks a delay-load descriptor whose addresses are RVAs.
// Descriptors without it come from old linkers and hold VAs.
const delayAttrRVA = 0x1

func decodeDelayImportDescriptor(rec []byte) importDescriptor {
	le := binary.LittleEndian
	return importDescriptor{
		Name:               le.Uint32(rec[4:]),
		FirstThunk:         le.Uint32(rec[12:]),
		OriginalFirstThunk: le.Uint32(rec[16:]),
		vaBased:            le.Uint32(rec[0:])&delayAttrRVA == 0,
	}
}

// readDelayImports walks the delay-load import directory with the same
// caps and skip rules as the regular import table.
func readDelayImports(src *Source, res *Resolver, oh *OptionalHeader, limits Limits, log logrus.FieldLogger) []ImportEntry {
	dir := oh.Directory(ImageDirectoryEntryDelayImport)
	if dir.VirtualAddress == 0 || dir.Size == 0 {
		return nil
	}

	off, ok := res.ResolveIn(src, dir.VirtualAddress, delayImportDescriptorSize)
	if !ok {
		log.WithField("rva", fmt.Sprintf("0x%x", dir.VirtualAddress)).Debug("delay import directory does not resolve")
		return nil
	}

	w := newImportWalker(src, res, oh, limits, log)
	var imports []ImportEntry
	isLast := func(rec []byte) bool {
		return binary.LittleEndian.Uint32(rec[4:]) == 0
	}
	_, capped := walkBounded(src, off, delayImportDescriptorSize, limits.MaxImportDescriptors, isLast, func(i int, rec []byte) {
		entry, err := w.readEntry(decodeDelayImportDescriptor(rec))
		if err != nil {
			log.WithError(err).WithField("descriptor", i).Debug("skipping delay import descriptor")
			return
		}
		imports = append(imports, entry)
	})
	if capped {
		log.WithField("limit", limits.MaxImportDescriptors).Debug("delay import descriptor limit reached")
	}
	return imports
}
