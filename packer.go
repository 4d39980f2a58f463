package pe

import (
	"bytes"
	"sort"
	"strings"
)

const packerScanChunk = 1 << 20

type packerSignature struct {
	family string
	tag    []byte
}

// packerSignatures are raw byte tags left behind by packers and
// protectors, usually as section names or stub markers.
var packerSignatures = []packerSignature{
	{"UPX", []byte("UPX0")},
	{"UPX", []byte("UPX1")},
	{"UPX", []byte("UPX!")},
	{"VMProtect", []byte(".vmp0")},
	{"VMProtect", []byte(".vmp1")},
	{"Themida", []byte(".themida")},
	{"Themida", []byte("Themida")},
	{"ASPack", []byte(".aspack")},
	{"MPRESS", []byte(".MPRESS1")},
	{"MPRESS", []byte(".MPRESS2")},
	{"PECompact", []byte("PEC2")},
	{"PECompact", []byte("PECompact2")},
	{"Petite", []byte(".petite")},
	{"FSG", []byte("FSG!")},
	{"Enigma", []byte(".enigma1")},
	{"Enigma", []byte(".enigma2")},
	{"NSPack", []byte(".nsp0")},
	{"NSPack", []byte(".nsp1")},
}

type sectionFragment struct {
	family   string
	fragment string
}

// sectionNameFragments are matched as lower-case substrings of section
// names.
var sectionNameFragments = []sectionFragment{
	{"UPX", "upx"},
	{"VMProtect", "vmp"},
	{"Themida", "themida"},
	{"Themida", "winlice"},
	{"ASPack", "aspack"},
	{"MPRESS", "mpress"},
	{"Petite", "petite"},
	{"Enigma", "enigma"},
	{"NSPack", "nsp"},
	{"PECompact", "pec2"},
}

func maxTagLen() int {
	n := 0
	for _, sig := range packerSignatures {
		if len(sig.tag) > n {
			n = len(sig.tag)
		}
	}
	return n
}

// DetectPackers reports the packer families whose byte tags occur
// anywhere in src or whose name fragments occur in a section name. The
// result is sorted and free of duplicates; no match gives an empty slice.
func DetectPackers(src *Source, sections []SectionHeader) ([]string, error) {
	found := make(map[string]bool)

	// Consecutive chunks overlap by one byte less than the longest tag so a
	// tag split across two chunks is still seen whole once.
	err := src.Scan(packerScanChunk, maxTagLen()-1, func(_ int64, chunk []byte) bool {
		for _, sig := range packerSignatures {
			if !found[sig.family] && bytes.Contains(chunk, sig.tag) {
				found[sig.family] = true
			}
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	for _, sec := range sections {
		name := strings.ToLower(sec.Name)
		for _, frag := range sectionNameFragments {
			if strings.Contains(name, frag.fragment) {
				found[frag.family] = true
			}
		}
	}

	families := make([]string, 0, len(found))
	for family := range found {
		families = append(families, family)
	}
	sort.Strings(families)
	return families, nil
}
