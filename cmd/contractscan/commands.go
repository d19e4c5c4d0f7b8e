package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/raaihank/contract-sentinel/internal/config"
	"github.com/raaihank/contract-sentinel/internal/output"
	"github.com/raaihank/contract-sentinel/internal/privacy"
	"github.com/raaihank/contract-sentinel/internal/sensitive"
)

func newScanCmd(opts *rootOptions) *cobra.Command {
	var failOn string

	cmd := &cobra.Command{
		Use:   "scan [file...]",
		Short: "Report the personal data found in documents",
		Long: `Scan documents and print, for each one, the detected items, the risk
level, the key contract information and recommendations.

Detected values are masked in the output unless --show-values is set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			threshold, err := parseRiskLevel(failOn)
			if err != nil {
				return err
			}

			s, err := newScanner(opts, nil)
			if err != nil {
				return err
			}

			var results []output.Result
			for _, name := range inputs(args) {
				result, err := s.scan(cmd, name)
				if err != nil {
					return err
				}
				results = append(results, result)
			}

			if err := s.print(cmd, results); err != nil {
				return err
			}
			return checkThreshold(results, threshold)
		},
	}

	cmd.Flags().StringVar(&failOn, "fail-on", "", "Exit with status 3 when a document reaches this risk level (LOW, MEDIUM, HIGH, CRITICAL)")
	return cmd
}

// newTransformCmd builds the mask and anonymize commands. Without an explicit
// --format they print only the rewritten text, so they can be piped.
func newTransformCmd(opts *rootOptions, mode privacy.Mode) *cobra.Command {
	var (
		placeholder string
		byType      bool
	)

	cmd := &cobra.Command{
		Use: string(mode) + " [file...]",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newScanner(opts, func(cfg *config.Config) {
				cfg.Privacy.Masking.Mode = string(mode)
				if cmd.Flags().Changed("placeholder") {
					cfg.Privacy.Masking.Placeholder = placeholder
				}
				if cmd.Flags().Changed("by-type") {
					cfg.Privacy.Masking.ByType = byType
				}
			})
			if err != nil {
				return err
			}

			raw := !cmd.Flags().Changed("format")
			var results []output.Result
			for _, name := range inputs(args) {
				result, err := s.process(cmd, name)
				if err != nil {
					return err
				}

				if raw {
					if _, err := io.WriteString(cmd.OutOrStdout(), result.Text); err != nil {
						return err
					}
					continue
				}
				results = append(results, result)
			}

			if raw {
				return nil
			}
			return s.print(cmd, results)
		},
	}

	switch mode {
	case privacy.ModeAnonymize:
		cmd.Short = "Replace personal data with placeholders"
		cmd.Long = `Replace every detected item with a placeholder ("[REDACTED]" by default),
or with a token naming its type when --by-type is set, e.g. "[EMAIL]".`
		cmd.Flags().StringVar(&placeholder, "placeholder", sensitive.DefaultPlaceholder, "Replacement text for detected items")
		cmd.Flags().BoolVar(&byType, "by-type", false, "Replace items with a token naming their type")
	default:
		cmd.Short = "Mask personal data, keeping the layout of the document"
		cmd.Long = `Replace every character of each detected item with "X". Offsets and
lengths of the text are preserved.`
	}

	return cmd
}

func newExtractCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "extract <file>",
		Short: "Print the plain text extracted from a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newScanner(opts, nil)
			if err != nil {
				return err
			}

			text, err := s.read(cmd, args[0])
			if err != nil {
				return err
			}
			if !strings.HasSuffix(text, "\n") {
				text += "\n"
			}
			_, err = io.WriteString(cmd.OutOrStdout(), text)
			return err
		},
	}
}

func newTypesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List the detectors and their overlap priority",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newScanner(opts, nil)
			if err != nil {
				return err
			}

			enabled := make(map[sensitive.Type]bool)
			for _, t := range s.detector.GetEnabledRules() {
				enabled[t] = true
			}

			types := sensitive.DefaultBank().Types()
			sort.SliceStable(types, func(i, j int) bool {
				return sensitive.Priority(types[i]) > sensitive.Priority(types[j])
			})

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TYPE\tPRIORITY\tENABLED")
			for _, t := range types {
				fmt.Fprintf(w, "%s\t%d\t%t\n", t, sensitive.Priority(t), enabled[t])
			}
			return w.Flush()
		},
	}
}

// parseRiskLevel accepts an empty string (no threshold) or a level name
func parseRiskLevel(name string) (sensitive.RiskLevel, error) {
	if name == "" {
		return "", nil
	}
	level := sensitive.RiskLevel(strings.ToUpper(strings.TrimSpace(name)))
	switch level {
	case sensitive.RiskLow, sensitive.RiskMedium, sensitive.RiskHigh, sensitive.RiskCritical:
		return level, nil
	}
	return "", fmt.Errorf("invalid risk level %q (must be LOW, MEDIUM, HIGH, or CRITICAL)", name)
}

func checkThreshold(results []output.Result, threshold sensitive.RiskLevel) error {
	if threshold == "" {
		return nil
	}
	for _, r := range results {
		if r.Report.RiskLevel.Rank() >= threshold.Rank() {
			return &thresholdError{source: r.Source, level: r.Report.RiskLevel}
		}
	}
	return nil
}
