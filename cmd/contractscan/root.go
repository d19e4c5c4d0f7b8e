package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/raaihank/contract-sentinel/internal/config"
	"github.com/raaihank/contract-sentinel/internal/contractinfo"
	"github.com/raaihank/contract-sentinel/internal/extractor"
	"github.com/raaihank/contract-sentinel/internal/logger"
	"github.com/raaihank/contract-sentinel/internal/output"
	"github.com/raaihank/contract-sentinel/internal/privacy"
	"github.com/raaihank/contract-sentinel/internal/sensitive"
)

const defaultFormat = "text"

// rootOptions holds the flags shared by every subcommand
type rootOptions struct {
	configPath string
	format     string
	detectors  []string
	noColor    bool
	showValues bool
	verbose    bool
	debug      bool
}

// thresholdError reports that a scanned document reached --fail-on
type thresholdError struct {
	source string
	level  sensitive.RiskLevel
}

func (e *thresholdError) Error() string {
	return fmt.Sprintf("%s: risk level %s reached the failure threshold", displaySource(e.source), e.level)
}

// newRootCmd creates the root command for contractscan
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "contractscan",
		Short: "Find personal data in contracts before they leave your machine",
		Long: `contractscan scans contract documents for personal and sensitive data
(emails, phone numbers, IBANs, social security numbers, salaries...) and
reports the risk level, or rewrites the text with the data masked or
anonymized.

Files are read locally; nothing is uploaded. Use "-" or no file to read
standard input.

Example:
  contractscan scan contrat.pdf
  contractscan mask --format json < contrat.txt
  contractscan anonymize --by-type contrat.txt > contrat-anonyme.txt`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Path to configuration file (YAML)")
	flags.StringVarP(&opts.format, "format", "f", defaultFormat, "Output format ("+strings.Join(output.DefaultRegistry.List(), ", ")+")")
	flags.StringSliceVarP(&opts.detectors, "detectors", "d", nil, "Detectors to enable (default: from config, \"all\")")
	flags.BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	flags.BoolVar(&opts.showValues, "show-values", false, "Print detected values instead of masking them")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Include the surrounding context of each item")
	flags.BoolVar(&opts.debug, "debug", false, "Log debug information to stderr")

	rootCmd.AddCommand(
		newScanCmd(opts),
		newTransformCmd(opts, privacy.ModeMask),
		newTransformCmd(opts, privacy.ModeAnonymize),
		newExtractCmd(opts),
		newTypesCmd(opts),
	)

	return rootCmd
}

// scanner bundles what every subcommand needs to read and scan documents
type scanner struct {
	opts     *rootOptions
	detector *privacy.Detector
	files    *extractor.Factory
	log      *logger.Logger
}

// newScanner loads the configuration and builds the detector. adjust may
// tweak the configuration before the detector is created.
func newScanner(opts *rootOptions, adjust func(*config.Config)) (*scanner, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	// Scanning is the point of the tool; a config that disables it for the
	// proxy does not apply here.
	cfg.Privacy.Enabled = true
	if len(opts.detectors) > 0 {
		cfg.Privacy.Detectors = opts.detectors
	}
	if adjust != nil {
		adjust(cfg)
	}

	log := logger.NewNop()
	if opts.debug {
		zl, err := zap.NewDevelopment()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
		log = logger.Wrap(zl).WithComponent("contractscan")
	}

	detector, err := privacy.New(cfg.Privacy, log)
	if err != nil {
		return nil, err
	}

	return &scanner{
		opts:     opts,
		detector: detector,
		files:    extractor.NewFactory(),
		log:      log,
	}, nil
}

// inputs returns the documents named by args, standard input when empty
func inputs(args []string) []string {
	if len(args) == 0 {
		return []string{"-"}
	}
	return args
}

// read returns the plain text of name; "-" reads stdin as text
func (s *scanner) read(cmd *cobra.Command, name string) (string, error) {
	if name == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(data), nil
	}

	f, err := os.Open(name)
	if err != nil {
		return "", err
	}
	defer f.Close()

	text, err := s.files.Extract(name, f)
	if err != nil {
		return "", err
	}
	s.log.Debug("Extracted document", zap.String("file", name), zap.Int("bytes", len(text)))
	return text, nil
}

// scan reads and scans one document
func (s *scanner) scan(cmd *cobra.Command, name string) (output.Result, error) {
	text, err := s.read(cmd, name)
	if err != nil {
		return output.Result{}, err
	}

	items, err := s.detector.Scan(cmd.Context(), text)
	if err != nil {
		return output.Result{}, fmt.Errorf("%s: %w", displaySource(sourceName(name)), err)
	}

	info := contractinfo.Extract(text)
	return output.Result{
		Source: sourceName(name),
		Items:  items,
		Report: sensitive.BuildReport(items),
		Info:   &info,
		Risks:  contractinfo.AnalyzeRisks(text),
	}, nil
}

// process reads one document and rewrites it with the configured masking
// mode
func (s *scanner) process(cmd *cobra.Command, name string) (output.Result, error) {
	text, err := s.read(cmd, name)
	if err != nil {
		return output.Result{}, err
	}

	processed, err := s.detector.ProcessText(cmd.Context(), text)
	if err != nil {
		return output.Result{}, fmt.Errorf("%s: %w", displaySource(sourceName(name)), err)
	}
	if !processed.HasFindings() && s.opts.verbose {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s: no sensitive data found\n", displaySource(sourceName(name)))
	}

	info := contractinfo.Extract(text)
	return output.Result{
		Source: sourceName(name),
		Text:   processed.MaskedText,
		Items:  processed.Items,
		Report: processed.Report,
		Info:   &info,
		Risks:  contractinfo.AnalyzeRisks(text),
	}, nil
}

// print renders results in the selected format
func (s *scanner) print(cmd *cobra.Command, results []output.Result) error {
	out, err := output.Export(s.opts.format, results, output.Options{
		NoColor:    s.opts.noColor,
		ShowValues: s.opts.showValues,
		Verbose:    s.opts.verbose,
	})
	if err != nil {
		return err
	}
	_, err = io.WriteString(cmd.OutOrStdout(), out)
	return err
}

func sourceName(name string) string {
	if name == "-" {
		return ""
	}
	return name
}

func displaySource(source string) string {
	if source == "" {
		return "stdin"
	}
	return source
}
