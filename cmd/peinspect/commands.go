package main

import (
	"io"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	pe "github.com/wanglei-coder/peinspect"
	"github.com/wanglei-coder/peinspect/internal/filetype"
	"github.com/wanglei-coder/peinspect/internal/report"
)

func newAnalyzeCmd(a *app) *cobra.Command {
	var (
		format  string
		verbose bool
		force   bool
		noColor bool
	)

	cmd := &cobra.Command{
		Use:   "analyze <file>...",
		Short: "Analyze one or more PE files",
		Long: `Analyze runs the full static analysis over each file and prints one
report per file.

Files whose leading bytes do not look like a PE image are reported
without running the analysis; --force analyzes them anyway. A file
that fails a structural check still produces a report naming the
failure.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			analyzer, err := a.newAnalyzer()
			if err != nil {
				return err
			}

			docs := make([]*report.Document, 0, len(args))
			for _, path := range args {
				doc, err := a.inspect(analyzer, path, force)
				if err != nil {
					return errors.Wrapf(err, "failure to analyze %s", path)
				}
				docs = append(docs, doc)
			}

			opts := report.Options{
				Verbose: verbose,
				Color:   a.cfg.Output.Color && !noColor && !color.NoColor,
			}
			return report.Render(cmd.OutOrStdout(), a.outputFormat(cmd, format), docs, opts)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format (text, json, yaml)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "List every imported function, string and Rich entry")
	cmd.Flags().BoolVar(&force, "force", false, "Analyze files that do not look like PE images")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable coloured output")

	return cmd
}

// inspect identifies path, runs the analyzer when the content looks like
// a PE image (or force is set), and names the overlay content.
func (a *app) inspect(analyzer *pe.Analyzer, path string, force bool) (*report.Document, error) {
	log := a.logger.WithComponent("analyze").WithField("file", path)

	kind, err := filetype.MatchFile(path)
	if err != nil {
		return nil, err
	}
	log.WithField("type", kind.Name).Debug("file type identified")
	doc := &report.Document{FileType: kind.Name}
	if msg, ok := filetype.ExtensionMismatch(path, kind); ok {
		log.Warn(msg)
		doc.Warnings = append(doc.Warnings, msg)
	}

	if !kind.IsPE() && !force {
		log.WithField("type", kind.Name).Info("not a PE image, skipping analysis")
		stat, err := os.Stat(path)
		if err != nil {
			return nil, errors.Wrap(err, "failure to stat file")
		}
		doc.Analysis = &pe.AnalysisResult{
			FileName:          filepath.Base(path),
			FilePath:          path,
			FileSize:          stat.Size(),
			Error:             "content is " + kind.Name + ", not a PE image",
			Packers:           []string{},
			SuspiciousStrings: []pe.StringMatch{},
		}
		return doc, nil
	}

	res, err := analyzer.AnalyzeFile(path)
	if err != nil {
		return nil, err
	}
	doc.Analysis = res
	if res.Error != "" {
		log.WithField("error", res.Error).Info("structural check failed")
	}

	if ov := res.Overlay; ov != nil && ov.Size > 0 {
		if doc.OverlayType, err = overlayType(path, ov); err != nil {
			log.WithError(err).Debug("skipping overlay type")
		}
	}
	return doc, nil
}

// overlayType names the content appended after the last section.
func overlayType(path string, ov *pe.Overlay) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrap(err, "failure to open file")
	}
	defer f.Close()

	size := int64(filetype.HeaderSize)
	if ov.Size < size {
		size = ov.Size
	}
	header := make([]byte, size)
	if _, err := f.ReadAt(header, ov.Offset); err != nil && err != io.EOF {
		return "", errors.Wrap(err, "failure to read overlay")
	}
	return filetype.Describe(header), nil
}

func newEntropyCmd(a *app) *cobra.Command {
	var (
		format  string
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "entropy <file>",
		Short: "Show the block entropy profile of a file",
		Long: `Entropy measures the Shannon entropy of the whole file and of
fixed-size blocks across it, lists runs of high-entropy blocks, and
classifies the file as normal, localized or packed.

It works on any file, PE or not. --verbose prints every block.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := a.entropy(args[0])
			if err != nil {
				return err
			}
			opts := report.Options{Verbose: verbose, Color: a.cfg.Output.Color && !color.NoColor}
			return report.RenderEntropy(cmd.OutOrStdout(), a.outputFormat(cmd, format), doc, opts)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format (text, json, yaml)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print every block")

	return cmd
}

func (a *app) entropy(path string) (*report.EntropyDocument, error) {
	limits := a.cfg.AnalyzerLimits()
	src, err := pe.OpenSource(path, limits.HeaderBufferSize)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	whole, err := pe.SourceEntropy(src)
	if err != nil {
		return nil, err
	}
	profile, err := pe.BlockProfile(src, whole, limits.Entropy)
	if err != nil {
		return nil, err
	}
	a.logger.WithComponent("entropy").WithFields(logrus.Fields{
		"file":    path,
		"blocks":  len(profile.Blocks),
		"verdict": profile.Verdict,
	}).Debug("entropy profile computed")

	return &report.EntropyDocument{
		File:    path,
		Size:    src.Size(),
		Entropy: whole,
		Profile: profile,
	}, nil
}

func newIdentifyCmd(a *app) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "identify <file>...",
		Short: "Identify file types from their leading bytes",
		Long: `Identify matches each file's leading bytes against known signatures
and warns when the extension names a different type, such as a PE
image saved as .jpg.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			docs := make([]report.KindDocument, 0, len(args))
			for _, path := range args {
				kind, err := filetype.MatchFile(path)
				if err != nil {
					return errors.Wrapf(err, "failure to identify %s", path)
				}
				doc := report.KindDocument{
					File:      path,
					Name:      kind.Name,
					Category:  kind.Category,
					Extension: kind.Extension,
					MIME:      kind.MIME,
				}
				doc.Warning, _ = filetype.ExtensionMismatch(path, kind)
				docs = append(docs, doc)
			}
			opts := report.Options{Color: a.cfg.Output.Color && !color.NoColor}
			return report.RenderKinds(cmd.OutOrStdout(), a.outputFormat(cmd, format), docs, opts)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format (text, json, yaml)")

	return cmd
}
