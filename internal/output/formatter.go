// Package output renders scan results for the command line.
package output

import (
	"fmt"
	"sort"
	"strings"

	"github.com/raaihank/contract-sentinel/internal/contractinfo"
	"github.com/raaihank/contract-sentinel/internal/sensitive"
)

// Result is the outcome of scanning one document
type Result struct {
	Source string
	Text   string // transformed text, if any
	Items  []sensitive.Item
	Report sensitive.Report
	Info   *contractinfo.Info
	Risks  []contractinfo.Risk
}

// Options controls what formatters print
type Options struct {
	NoColor    bool
	ShowValues bool // print detected values instead of masking them
	Verbose    bool // include the context of each item
}

// Formatter renders results in one output format
type Formatter interface {
	Format(results []Result, options Options) (string, error)
	Name() string
	Description() string
	FileExtension() string
}

// Registry holds formatters by name
type Registry struct {
	formatters map[string]Formatter
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{formatters: make(map[string]Formatter)}
}

// Register adds a formatter, replacing one with the same name
func (r *Registry) Register(formatter Formatter) {
	r.formatters[formatter.Name()] = formatter
}

// Get retrieves a formatter by name
func (r *Registry) Get(name string) (Formatter, bool) {
	formatter, exists := r.formatters[name]
	return formatter, exists
}

// List returns the registered names, sorted
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.formatters))
	for name := range r.formatters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry holds the json, yaml and text formatters
var DefaultRegistry = func() *Registry {
	r := NewRegistry()
	r.Register(NewJSONFormatter())
	r.Register(NewYAMLFormatter())
	r.Register(NewTextFormatter())
	return r
}()

// Export formats results with the named formatter of DefaultRegistry
func Export(format string, results []Result, options Options) (string, error) {
	formatter, exists := DefaultRegistry.Get(format)
	if !exists {
		return "", fmt.Errorf("unsupported format '%s'. Available formats: %s", format, strings.Join(DefaultRegistry.List(), ", "))
	}
	return formatter.Format(results, options)
}

// resultDoc is the shared shape of the json and yaml formats
type resultDoc struct {
	Source          string              `json:"source" yaml:"source"`
	Total           int                 `json:"total" yaml:"total"`
	RiskLevel       string              `json:"risk_level" yaml:"risk_level"`
	ByType          map[string]int      `json:"by_type" yaml:"by_type"`
	Recommendations []string            `json:"recommendations" yaml:"recommendations"`
	Items           []itemDoc           `json:"items" yaml:"items"`
	Info            *contractinfo.Info  `json:"info,omitempty" yaml:"info,omitempty"`
	Risks           []contractinfo.Risk `json:"risks,omitempty" yaml:"risks,omitempty"`
	Text            string              `json:"text,omitempty" yaml:"text,omitempty"`
}

type itemDoc struct {
	Type    string `json:"type" yaml:"type"`
	Index   int    `json:"index" yaml:"index"`
	Length  int    `json:"length" yaml:"length"`
	Value   string `json:"value" yaml:"value"`
	Context string `json:"context,omitempty" yaml:"context,omitempty"`
}

type documentSet struct {
	Results []resultDoc `json:"results" yaml:"results"`
}

func toDocuments(results []Result, options Options) documentSet {
	docs := make([]resultDoc, 0, len(results))
	for _, r := range results {
		doc := resultDoc{
			Source:          r.Source,
			Total:           r.Report.Total,
			RiskLevel:       string(r.Report.RiskLevel),
			ByType:          make(map[string]int, len(r.Report.ByType)),
			Recommendations: r.Report.Recommendations,
			Items:           make([]itemDoc, 0, len(r.Items)),
			Risks:           r.Risks,
			Text:            r.Text,
		}
		for t, n := range r.Report.ByType {
			doc.ByType[string(t)] = n
		}
		if r.Info != nil && !r.Info.Empty() {
			doc.Info = r.Info
		}
		for _, it := range r.Items {
			item := itemDoc{Type: string(it.Type), Index: it.Index, Length: it.Length, Value: displayValue(it, options)}
			if options.Verbose && options.ShowValues {
				item.Context = it.Context
			}
			doc.Items = append(doc.Items, item)
		}
		docs = append(docs, doc)
	}
	return documentSet{Results: docs}
}

// displayValue hides the value unless ShowValues is set
func displayValue(it sensitive.Item, options Options) string {
	if options.ShowValues {
		return it.Value
	}
	return strings.Repeat(string(sensitive.MaskRune), len([]rune(it.Value)))
}
