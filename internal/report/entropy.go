package report

import (
	"io"
	"strings"

	"github.com/pkg/errors"

	pe "github.com/wanglei-coder/peinspect"
)

// EntropyDocument is the output of the entropy command.
type EntropyDocument struct {
	File    string             `json:"file" yaml:"file"`
	Size    int64              `json:"size" yaml:"size"`
	Entropy float64            `json:"entropy" yaml:"entropy"`
	Profile *pe.EntropyProfile `json:"profile" yaml:"profile"`
}

const barWidth = 32

// RenderEntropy writes doc in the given format. The text form lists the
// high-entropy regions, and every block when verbose.
func RenderEntropy(w io.Writer, format string, doc *EntropyDocument, opts Options) error {
	switch strings.ToLower(format) {
	case FormatJSON:
		return JSON(w, doc)
	case FormatYAML:
		return YAML(w, doc)
	case FormatText, "":
	default:
		return errors.Errorf("unknown output format %q", format)
	}

	r := &Reporter{w: w, verbose: opts.Verbose, color: opts.Color}
	p := doc.Profile
	r.title("Entropy of %s", doc.File)
	r.field("Size", "%s", formatSize(doc.Size))
	r.printf("  %-20s: ", "File")
	r.entropyColor(doc.Entropy).Fprintf(w, "%.4f\n", doc.Entropy)
	r.field("Verdict", "%s", p.Verdict)
	r.field("Blocks", "%d x %d bytes, average %.4f", len(p.Blocks), p.BlockSize, p.Average)

	r.title("High-entropy regions (%d)", len(p.Regions))
	for _, reg := range p.Regions {
		r.printf("  0x%08X  %-10s %.4f\n", reg.Offset, formatSize(reg.Size), reg.Entropy)
	}

	if r.verbose {
		r.title("Blocks")
		for i, e := range p.Blocks {
			r.printf("  0x%08X %6.3f ", int64(i)*int64(p.BlockSize), e)
			r.entropyColor(e).Fprintln(w, bar(e))
		}
	}
	return r.err
}

// bar draws e on a 0..8 scale.
func bar(e float64) string {
	n := int(e / 8 * barWidth)
	if n < 0 {
		n = 0
	}
	if n > barWidth {
		n = barWidth
	}
	return strings.Repeat("#", n) + strings.Repeat(".", barWidth-n)
}
