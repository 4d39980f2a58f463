package pe

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Limits bounds the work done on a single file.
type Limits struct {
	MaxSections          int
	MaxImportDescriptors int
	MaxThunksPerDLL      int
	MaxFunctionsPerDLL   int
	SectionSampleSize    int
	HeaderBufferSize     int
	MaxStringMatches     int
	Entropy              EntropyOptions
}

func DefaultLimits() Limits {
	return Limits{
		MaxSections:          256,
		MaxImportDescriptors: 200,
		MaxThunksPerDLL:      100,
		MaxFunctionsPerDLL:   50,
		SectionSampleSize:    64 << 10,
		HeaderBufferSize:     DefaultHeaderBufferSize,
		MaxStringMatches:     DefaultMaxStringMatches,
		Entropy:              EntropyOptions{}.withDefaults(),
	}
}

// withDefaults fills every non-positive limit from DefaultLimits.
func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	fill := func(v *int, def int) {
		if *v <= 0 {
			*v = def
		}
	}
	fill(&l.MaxSections, d.MaxSections)
	fill(&l.MaxImportDescriptors, d.MaxImportDescriptors)
	fill(&l.MaxThunksPerDLL, d.MaxThunksPerDLL)
	fill(&l.MaxFunctionsPerDLL, d.MaxFunctionsPerDLL)
	fill(&l.SectionSampleSize, d.SectionSampleSize)
	fill(&l.HeaderBufferSize, d.HeaderBufferSize)
	fill(&l.MaxStringMatches, d.MaxStringMatches)
	l.Entropy = l.Entropy.withDefaults()
	return l
}

// Analyzer runs the analysis pipeline. It holds no per-file state, so one
// Analyzer may serve many goroutines as long as each owns its Source.
type Analyzer struct {
	limits Limits
	log    logrus.FieldLogger
	cache  *resultCache
	now    func() time.Time
}

func NewAnalyzer(limits Limits) *Analyzer {
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	return &Analyzer{
		limits: limits.withDefaults(),
		log:    discard,
		now:    time.Now,
	}
}

// SetLogger sets the logger skipped items are reported to. Call it before
// the Analyzer is shared.
func (a *Analyzer) SetLogger(log logrus.FieldLogger) {
	if log != nil {
		a.log = log
	}
}

// Limits returns the effective limits.
func (a *Analyzer) Limits() Limits {
	return a.limits
}

// Analyze runs the full pipeline over src. It never fails: structural
// problems are reported through the result's Error field.
func (a *Analyzer) Analyze(src *Source, name, path string) *AnalysisResult {
	log := a.log.WithField("file", name)
	res := &AnalysisResult{
		FileName:          name,
		FilePath:          path,
		FileSize:          src.Size(),
		Packers:           []string{},
		SuspiciousStrings: []StringMatch{},
		AnalyzedAt:        a.now().UTC(),
	}

	dos, err := readDOSHeader(src)
	if err != nil {
		return a.fail(res, log, err)
	}
	coff, oh, sectionTable, err := readNTHeader(src, dos)
	if err != nil {
		return a.fail(res, log, err)
	}
	res.DOSHeader, res.COFFHeader, res.OptionalHeader = dos, coff, oh

	if int(coff.NumberOfSections) > a.limits.MaxSections {
		log.WithFields(logrus.Fields{
			"declared": coff.NumberOfSections,
			"limit":    a.limits.MaxSections,
		}).Debug("section count capped")
	}
	st, err := readStringTable(src, coff)
	if err != nil {
		log.WithError(err).Debug("skipping COFF string table")
	}
	res.Sections = readSections(src, sectionTable, coff.NumberOfSections, a.limits.MaxSections, a.limits.SectionSampleSize, st)
	resolver := NewResolver(res.Sections)

	res.Imports = readImports(src, resolver, oh, a.limits, log.WithField("component", "imports"))
	res.DelayImports = readDelayImports(src, resolver, oh, a.limits, log.WithField("component", "delay_imports"))
	if hash, err := ImpHash(res.Imports); err == nil {
		res.ImpHash = hash
	}
	res.SuspiciousImports = SuspiciousImports(res.Imports, res.DelayImports)

	if res.Export, err = readExportDirectory(src, resolver, oh); err != nil {
		log.WithError(err).Debug("skipping export directory")
	}
	if res.Resources, err = readResources(src, resolver, oh); err != nil {
		log.WithError(err).Debug("skipping resource directory")
	}
	res.RichHeader = readRichHeader(src, dos.PEHeaderOffset)
	res.Overlay = readOverlay(src, oh, res.Sections, a.limits.SectionSampleSize)
	if res.Checksum, err = verifyChecksum(src, dos, oh); err != nil {
		log.WithError(err).Debug("skipping checksum")
	}
	if res.Authentihash, err = Authentihash(src, res, HashSHA256); err != nil {
		log.WithError(err).Debug("skipping authentihash")
	}

	a.scanContent(src, res, log)
	return res
}

// scanContent runs the passes that read the whole file.
func (a *Analyzer) scanContent(src *Source, res *AnalysisResult, log logrus.FieldLogger) {
	var err error
	if res.Entropy, err = SourceEntropy(src); err != nil {
		log.WithError(err).Debug("skipping file entropy")
	}
	if res.EntropyProfile, err = BlockProfile(src, res.Entropy, a.limits.Entropy); err != nil {
		log.WithError(err).Debug("skipping entropy profile")
	}

	if packers, err := DetectPackers(src, res.Sections); err != nil {
		log.WithError(err).Debug("skipping packer detection")
	} else {
		res.Packers = packers
	}

	if matches, err := ScanStrings(src, a.limits.MaxStringMatches); err != nil {
		log.WithError(err).Debug("skipping string scan")
	} else {
		res.SuspiciousStrings = matches
	}
}

func (a *Analyzer) fail(res *AnalysisResult, log logrus.FieldLogger, err error) *AnalysisResult {
	log.WithError(err).Debug("structural check failed")
	res.Error = err.Error()
	res.err = err
	return res
}

// AnalyzeFile opens and analyzes path. The error is non-nil only when the
// file cannot be opened or read at all.
func (a *Analyzer) AnalyzeFile(path string) (*AnalysisResult, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrap(err, "failure to stat file")
	}
	key := cacheKey{path: path, size: stat.Size(), modTime: stat.ModTime().UnixNano()}
	if res, ok := a.cache.get(key); ok {
		a.log.WithField("file", path).Debug("analysis cache hit")
		return res, nil
	}

	src, err := OpenSource(path, a.limits.HeaderBufferSize)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	res := a.Analyze(src, filepath.Base(path), path)
	a.cache.add(key, res)
	return res, nil
}
