package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	pe "github.com/wanglei-coder/peinspect"
	"github.com/wanglei-coder/peinspect/internal/config"
	"github.com/wanglei-coder/peinspect/internal/logging"
)

var (
	// Version information (set via ldflags during build)
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app carries the state shared by every subcommand once the persistent
// flags have been applied.
type app struct {
	configFile string
	logLevel   string
	logFormat  string

	cfg    *config.Config
	logger *logging.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:   "peinspect",
		Short: "Static analyzer for Windows PE files",
		Long: `peinspect statically inspects Windows Portable Executable files.

It decodes the DOS, COFF and optional headers, the section table, the
import and delay-import tables, and reports the imphash, authentihash,
Rich header, overlay, checksum, entropy profile, known packers and
suspicious strings. Nothing is executed and files are never modified.

Reports are printed as coloured text, JSON or YAML.`,
		Version:           fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&a.configFile, "config", "c", "", "Configuration file path")
	pf.StringVar(&a.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pf.StringVar(&a.logFormat, "log-format", "", "Log format (text, json)")

	cmd.AddCommand(newAnalyzeCmd(a))
	cmd.AddCommand(newEntropyCmd(a))
	cmd.AddCommand(newIdentifyCmd(a))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// setup loads the configuration, applies flag overrides and builds the
// logger. Logs go to the command's stderr so reports on stdout stay clean.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	loader := config.NewLoader(nil)
	if a.logLevel != "" {
		loader.Set("log.level", a.logLevel)
	}
	if a.logFormat != "" {
		loader.Set("log.format", a.logFormat)
	}

	cfg, err := loader.Load(a.configFile)
	if err != nil {
		return errors.Wrap(err, "failure to load configuration")
	}
	cfg.Log.Output = cmd.ErrOrStderr()

	a.cfg = cfg
	a.logger = logging.NewLogger(cfg.Log)
	return nil
}

func (a *app) newAnalyzer() (*pe.Analyzer, error) {
	analyzer := pe.NewAnalyzer(a.cfg.AnalyzerLimits())
	analyzer.SetLogger(a.logger.WithComponent("analyzer"))
	if a.cfg.Cache.Enabled {
		if err := analyzer.EnableCache(a.cfg.Cache.Size, a.cfg.Cache.TTL); err != nil {
			return nil, err
		}
	}
	return analyzer, nil
}

// outputFormat prefers an explicit --format over the configured one.
func (a *app) outputFormat(cmd *cobra.Command, flag string) string {
	if cmd.Flags().Changed("format") {
		return flag
	}
	return a.cfg.Output.Format
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:               "version",
		Short:             "Show version information",
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "peinspect version %s\n", version)
			fmt.Fprintf(out, "Commit: %s\n", commit)
			fmt.Fprintf(out, "Built: %s\n", buildDate)
		},
	}
}
