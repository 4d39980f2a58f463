package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	pe "github.com/wanglei-coder/peinspect"
)

const (
	maxFunctions = 10
	maxStrings   = 20
	ruleWidth    = 78
)

// Reporter prints a Document as a human-readable report.
type Reporter struct {
	w       io.Writer
	doc     *Document
	res     *pe.AnalysisResult
	verbose bool
	color   bool
	err     error
}

func NewReporter(w io.Writer, doc *Document, opts Options) *Reporter {
	return &Reporter{
		w:       w,
		doc:     doc,
		res:     doc.Analysis,
		verbose: opts.Verbose,
		color:   opts.Color,
	}
}

// Print writes the complete report and returns the first write error.
func (r *Reporter) Print() error {
	r.printHeader()
	if r.res.Error != "" {
		r.paint(color.FgRed, color.Bold).Fprintf(r.w, "  Not a valid PE file: %s\n", r.res.Error)
		r.printWarnings()
		return r.err
	}
	r.printBasicInfo()
	r.printSections()
	r.printImports("Imports", r.res.Imports)
	if len(r.res.DelayImports) > 0 {
		r.printImports("Delay imports", r.res.DelayImports)
	}
	r.printExports()
	r.printResources()
	r.printRichHeader()
	r.printOverlay()
	r.printEntropy()
	r.printFindings()
	r.printWarnings()
	return r.err
}

func (r *Reporter) paint(attrs ...color.Attribute) *color.Color {
	c := color.New(attrs...)
	if r.color {
		c.EnableColor()
	} else {
		c.DisableColor()
	}
	return c
}

func (r *Reporter) printf(format string, args ...interface{}) {
	if r.err != nil {
		return
	}
	_, r.err = fmt.Fprintf(r.w, format, args...)
}

func (r *Reporter) title(format string, args ...interface{}) {
	r.printf("\n")
	r.paint(color.FgYellow, color.Bold).Fprintf(r.w, "[ "+format+" ]\n", args...)
}

func (r *Reporter) field(name, format string, args ...interface{}) {
	r.printf("  %-20s: "+format+"\n", append([]interface{}{name}, args...)...)
}

func (r *Reporter) printHeader() {
	cyan := r.paint(color.FgCyan, color.Bold)
	cyan.Fprintln(r.w, strings.Repeat("=", ruleWidth))
	cyan.Fprintf(r.w, "  %s\n", r.res.FileName)
	cyan.Fprintln(r.w, strings.Repeat("=", ruleWidth))
}

func (r *Reporter) printBasicInfo() {
	res, oh, coff := r.res, r.res.OptionalHeader, r.res.COFFHeader
	r.title("Basic information")

	if res.FilePath != "" {
		r.field("Path", "%s", res.FilePath)
	}
	r.field("Size", "%s", formatSize(res.FileSize))
	if r.doc.FileType != "" {
		r.field("File type", "%s", r.doc.FileType)
	}
	format := "PE32"
	if res.Is64() {
		format = "PE32+"
	}
	r.field("Format", "%s", format)
	r.field("Machine", "%s", coff.MachineName)
	r.field("Subsystem", "%s", oh.SubsystemName)
	r.field("Compiled", "%s", coff.TimeDate)
	r.field("Linker", "%s", oh.LinkerVersion)
	r.field("Entry point", "0x%08X", oh.EntryPoint)
	if s, ok := res.EntryPointSection(); ok {
		r.field("Entry section", "%s", s.Name)
	}
	r.field("Image base", "0x%X", oh.ImageBase)
	if len(coff.Characteristics) > 0 {
		r.field("Characteristics", "%s", coff.Characteristics)
	}
	if len(oh.DllCharacteristics) > 0 {
		r.field("DLL characteristics", "%s", oh.DllCharacteristics)
	}
	if res.ImpHash != "" {
		r.field("Imphash", "%s", res.ImpHash)
	}
	if res.Authentihash != "" {
		r.field("Authentihash", "%s", res.Authentihash)
	}

	if res.Checksum != nil {
		r.printf("  %-20s: ", "Checksum")
		switch {
		case res.Checksum.Stored == 0:
			r.paint(color.FgHiBlack).Fprint(r.w, "not set")
		case res.Checksum.Valid:
			r.paint(color.FgGreen).Fprintf(r.w, "valid (0x%08X)", res.Checksum.Stored)
		default:
			r.paint(color.FgRed, color.Bold).Fprintf(r.w, "invalid (stored 0x%08X, computed 0x%08X)",
				res.Checksum.Stored, res.Checksum.Computed)
		}
		r.printf("\n")
	}
}

func (r *Reporter) printSections() {
	sections := r.res.Sections
	r.title("Sections (%d)", len(sections))
	if len(sections) == 0 {
		r.printf("  no sections\n")
		return
	}

	r.printf("%s\n", strings.Repeat("-", ruleWidth))
	r.printf("  %-10s %-12s %-12s %-12s %-6s %-8s\n", "Name", "VirtAddr", "VirtSize", "RawSize", "Perm", "Entropy")
	r.printf("%s\n", strings.Repeat("-", ruleWidth))
	for i := range sections {
		s := &sections[i]
		perm := s.Permissions()
		permColor := r.paint(color.FgWhite)
		if perm == "RWX" {
			permColor = r.paint(color.FgRed, color.Bold)
		} else if strings.Contains(perm, "X") {
			permColor = r.paint(color.FgYellow)
		}

		r.printf("  %-10s 0x%08X   %-12s %-12s ", s.Name, s.VirtualAddress,
			formatSize(int64(s.VirtualSize)), formatSize(int64(s.SizeOfRawData)))
		permColor.Fprintf(r.w, "%-6s", perm)
		r.entropyColor(s.Entropy).Fprintf(r.w, " %.2f\n", s.Entropy)
	}
	r.printf("%s\n", strings.Repeat("-", ruleWidth))
}

func (r *Reporter) entropyColor(e float64) *color.Color {
	switch {
	case e >= pe.DefaultHighEntropyThreshold:
		return r.paint(color.FgRed, color.Bold)
	case e >= pe.DefaultPackedEntropyThreshold:
		return r.paint(color.FgYellow)
	}
	return r.paint(color.FgWhite)
}

func (r *Reporter) printImports(title string, imports []pe.ImportEntry) {
	n := 0
	for _, imp := range imports {
		n += len(imp.Functions)
	}
	r.title("%s (%d DLLs, %d functions)", title, len(imports), n)
	if len(imports) == 0 {
		r.printf("  no imports\n")
		return
	}

	for i, imp := range imports {
		r.paint(color.FgGreen).Fprintf(r.w, "  %3d. %s (%d functions)\n", i+1, imp.DLLName, len(imp.Functions))

		limit := maxFunctions
		if r.verbose {
			limit = len(imp.Functions)
		}
		for j, fn := range imp.Functions {
			if j == limit {
				r.paint(color.FgHiBlack).Fprintf(r.w, "       ... %d more\n", len(imp.Functions)-limit)
				break
			}
			r.printf("       - %s\n", fn)
		}
		if imp.Truncated {
			r.paint(color.FgHiBlack).Fprintf(r.w, "       (list truncated)\n")
		}
	}
}

func (r *Reporter) printExports() {
	exp := r.res.Export
	if exp == nil {
		return
	}
	r.title("Export directory")
	if exp.ModuleName != "" {
		r.field("Module", "%s", exp.ModuleName)
	}
	r.field("Location", "RVA 0x%08X, offset 0x%08X, %s", exp.VirtualAddress, exp.FileOffset, formatSize(int64(exp.Size)))
	r.field("Functions", "%d (%d named, base %d)", exp.NumberOfFunctions, exp.NumberOfNames, exp.OrdinalBase)
}

func (r *Reporter) printResources() {
	if len(r.res.Resources) == 0 {
		return
	}
	r.title("Resources (%d types)", len(r.res.Resources))
	for _, rt := range r.res.Resources {
		r.printf("  %-20s %4d entries  %s\n", rt.Name, rt.Entries, formatSize(int64(rt.Size)))
	}
}

func (r *Reporter) printRichHeader() {
	rh := r.res.RichHeader
	if rh == nil {
		return
	}
	r.title("Rich header (%d entries)", len(rh.CompIDs))
	r.field("Key", "0x%08X", rh.XorKey)
	r.printf("  %-20s: ", "Checksum")
	if rh.Valid {
		r.paint(color.FgGreen).Fprint(r.w, "valid")
	} else {
		r.paint(color.FgRed, color.Bold).Fprintf(r.w, "mismatch (computed 0x%08X)", rh.Checksum)
	}
	r.printf("\n")
	r.field("Hash", "%s", rh.Hash)
	if r.verbose {
		for _, c := range rh.CompIDs {
			r.printf("       - %s\n", c)
		}
	}
}

func (r *Reporter) printOverlay() {
	ov := r.res.Overlay
	if ov == nil {
		return
	}
	r.title("Overlay")
	r.field("Offset", "0x%X", ov.Offset)
	r.field("Size", "%s", formatSize(ov.Size))
	r.field("Entropy", "%.4f", ov.Entropy)
	if r.doc.OverlayType != "" {
		r.field("Content", "%s", r.doc.OverlayType)
	}
}

func (r *Reporter) printEntropy() {
	r.title("Entropy")
	r.printf("  %-20s: ", "File")
	r.entropyColor(r.res.Entropy).Fprintf(r.w, "%.4f\n", r.res.Entropy)

	p := r.res.EntropyProfile
	if p == nil {
		return
	}
	r.printf("  %-20s: ", "Verdict")
	switch p.Verdict {
	case pe.VerdictPacked:
		r.paint(color.FgRed, color.Bold).Fprintln(r.w, p.Verdict)
	case pe.VerdictLocalized:
		r.paint(color.FgYellow).Fprintln(r.w, p.Verdict)
	default:
		r.paint(color.FgGreen).Fprintln(r.w, p.Verdict)
	}
	r.field("Blocks", "%d x %d bytes, average %.4f", len(p.Blocks), p.BlockSize, p.Average)
	for _, reg := range p.Regions {
		r.printf("       - 0x%08X  %-10s %.4f\n", reg.Offset, formatSize(reg.Size), reg.Entropy)
	}
}

func (r *Reporter) printFindings() {
	res := r.res
	r.title("Findings")

	red := r.paint(color.FgRed, color.Bold)
	if len(res.Packers) > 0 {
		r.printf("  %-20s: ", "Packers")
		red.Fprintln(r.w, strings.Join(res.Packers, ", "))
	} else {
		r.field("Packers", "none")
	}

	if len(res.SuspiciousImports) > 0 {
		r.printf("  %-20s: ", "Suspicious imports")
		red.Fprintln(r.w, strings.Join(res.SuspiciousImports, ", "))
	}

	r.field("Suspicious strings", "%d", len(res.SuspiciousStrings))
	limit := maxStrings
	if r.verbose {
		limit = len(res.SuspiciousStrings)
	}
	for i, m := range res.SuspiciousStrings {
		if i == limit {
			r.paint(color.FgHiBlack).Fprintf(r.w, "       ... %d more\n", len(res.SuspiciousStrings)-limit)
			break
		}
		r.printf("       - [%-8s] 0x%08X %s\n", m.Category, m.Offset, m.Value)
	}
}

func (r *Reporter) printWarnings() {
	if len(r.doc.Warnings) == 0 {
		return
	}
	r.title("Warnings")
	for _, w := range r.doc.Warnings {
		r.paint(color.FgYellow).Fprintf(r.w, "  ! %s\n", w)
	}
}

func formatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
