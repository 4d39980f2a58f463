package pe

// Overlay is data appended after the last byte any section accounts for.
type Overlay struct {
	Offset  int64   `json:"offset" yaml:"offset"`
	Size    int64   `json:"size" yaml:"size"`
	Entropy float64 `json:"entropy" yaml:"entropy"`
}

// overlayStart is the end of the furthest section raw data, or of the
// headers when no section has raw data, clamped to the file.
func overlayStart(src *Source, oh *OptionalHeader, sections []SectionHeader) int64 {
	var largest int64
	if oh != nil {
		largest = int64(oh.SizeOfHeaders)
	}
	for i := range sections {
		s := &sections[i]
		if s.PointerToRawData == 0 || s.SizeOfRawData == 0 {
			continue
		}
		if end := s.rawEnd(); end > largest {
			largest = end
		}
	}
	if largest > src.Size() {
		largest = src.Size()
	}
	return largest
}

// readOverlay returns nil when nothing follows the section data. The
// entropy is measured over at most sample bytes from the overlay start.
func readOverlay(src *Source, oh *OptionalHeader, sections []SectionHeader, sample int) *Overlay {
	if len(sections) == 0 {
		return nil
	}
	start := overlayStart(src, oh, sections)
	size := src.Size() - start
	if size <= 0 {
		return nil
	}

	ov := &Overlay{Offset: start, Size: size}
	n := size
	if sample > 0 && n > int64(sample) {
		n = int64(sample)
	}
	if b, err := src.Bytes(start, int(n)); err == nil {
		ov.Entropy = Entropy(b)
	}
	return ov
}
