package output

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fatih/color"

	"github.com/raaihank/contract-sentinel/internal/contractinfo"
	"github.com/raaihank/contract-sentinel/internal/sensitive"
)

// TextFormatter prints a human-readable, colored summary
type TextFormatter struct{}

// NewTextFormatter creates a new text formatter
func NewTextFormatter() *TextFormatter {
	return &TextFormatter{}
}

func (f *TextFormatter) Name() string          { return "text" }
func (f *TextFormatter) Description() string   { return "Human-readable text output with colors" }
func (f *TextFormatter) FileExtension() string { return ".txt" }

type palette struct {
	header, critical, high, medium, low, dim *color.Color
}

func newPalette(noColor bool) palette {
	p := palette{
		header:   color.New(color.FgWhite, color.Bold),
		critical: color.New(color.FgRed, color.Bold),
		high:     color.New(color.FgRed),
		medium:   color.New(color.FgYellow),
		low:      color.New(color.FgGreen),
		dim:      color.New(color.FgCyan),
	}
	if noColor {
		for _, c := range []*color.Color{p.header, p.critical, p.high, p.medium, p.low, p.dim} {
			c.DisableColor()
		}
	}
	return p
}

func (p palette) risk(level sensitive.RiskLevel) *color.Color {
	switch level {
	case sensitive.RiskCritical:
		return p.critical
	case sensitive.RiskHigh:
		return p.high
	case sensitive.RiskMedium:
		return p.medium
	default:
		return p.low
	}
}

func (p palette) severity(s contractinfo.Severity) *color.Color {
	switch s {
	case contractinfo.SeverityHigh:
		return p.high
	case contractinfo.SeverityMedium:
		return p.medium
	default:
		return p.low
	}
}

func (f *TextFormatter) Format(results []Result, options Options) (string, error) {
	if len(results) == 0 {
		return "No documents scanned.\n", nil
	}

	p := newPalette(options.NoColor)
	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n")
		}
		f.writeResult(&b, r, p, options)
	}
	return b.String(), nil
}

func (f *TextFormatter) writeResult(b *strings.Builder, r Result, p palette, options Options) {
	b.WriteString(p.header.Sprintf("== %s ==", orDefault(r.Source, "stdin")) + "\n")
	fmt.Fprintf(b, "Risk: %s  Items: %d\n", p.risk(r.Report.RiskLevel).Sprint(r.Report.RiskLevel), r.Report.Total)

	if len(r.Report.ByType) > 0 {
		types := make([]string, 0, len(r.Report.ByType))
		for t := range r.Report.ByType {
			types = append(types, string(t))
		}
		sort.Slice(types, func(i, j int) bool {
			pi, pj := sensitive.Priority(sensitive.Type(types[i])), sensitive.Priority(sensitive.Type(types[j]))
			if pi != pj {
				return pi > pj
			}
			return types[i] < types[j]
		})
		for _, t := range types {
			fmt.Fprintf(b, "  %-24s x%d\n", t, r.Report.ByType[sensitive.Type(t)])
		}
	}

	if len(r.Items) > 0 {
		b.WriteString("\nItems:\n")
		for _, it := range r.Items {
			fmt.Fprintf(b, "  %-24s @%-6d %s\n", "["+string(it.Type)+"]", it.Index, displayValue(it, options))
			if options.Verbose && options.ShowValues && it.Context != "" {
				b.WriteString("    " + p.dim.Sprint(it.Context) + "\n")
			}
		}
	}

	if r.Info != nil && !r.Info.Empty() {
		b.WriteString("\nContract:\n")
		for _, kv := range [][2]string{
			{"Type", r.Info.ContractType},
			{"Company", r.Info.Company},
			{"Employee", r.Info.Employee},
			{"Start date", r.Info.StartDate},
			{"Salary", r.Info.Salary},
		} {
			if kv[1] != "" {
				fmt.Fprintf(b, "  %-12s %s\n", kv[0]+":", kv[1])
			}
		}
	}

	if len(r.Risks) > 0 {
		b.WriteString("\nClause risks:\n")
		for _, risk := range r.Risks {
			fmt.Fprintf(b, "  %s %s: %s\n", p.severity(risk.Severity).Sprintf("[%s]", risk.Severity), risk.Type, risk.Description)
		}
	}

	if len(r.Report.Recommendations) > 0 {
		b.WriteString("\nRecommendations:\n")
		for _, rec := range r.Report.Recommendations {
			b.WriteString("  - " + rec + "\n")
		}
	}

	if r.Text != "" {
		b.WriteString("\n" + p.header.Sprint("Output:") + "\n" + r.Text + "\n")
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
