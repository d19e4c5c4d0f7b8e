package privacy

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/raaihank/contract-sentinel/internal/config"
	"github.com/raaihank/contract-sentinel/internal/logger"
	"github.com/raaihank/contract-sentinel/internal/sensitive"
	"go.uber.org/zap"
)

// Detector runs the sensitive data scanner with the configured set of
// detectors and applies the configured transform.
type Detector struct {
	mu      sync.RWMutex
	bank    sensitive.Bank
	enabled map[sensitive.Type]bool
	scanner *sensitive.Detector
	logger  *logger.Logger
	config  config.PrivacyConfig
}

// New creates a new detector instance
func New(cfg config.PrivacyConfig, log *logger.Logger) (*Detector, error) {
	if log == nil {
		log = logger.NewNop()
	}

	detector := &Detector{
		bank:    sensitive.DefaultBank(),
		enabled: make(map[sensitive.Type]bool),
		logger:  log.WithComponent("privacy"),
	}

	if err := detector.UpdateConfig(cfg); err != nil {
		return nil, err
	}

	detector.logger.Info("Privacy detector initialized",
		zap.Int("total_rules", len(detector.bank)),
		zap.Int("enabled_rules", len(detector.GetEnabledRules())),
		zap.String("mode", cfg.Masking.Mode),
	)

	return detector, nil
}

// UpdateConfig swaps the configuration, e.g. after a config file reload
func (d *Detector) UpdateConfig(cfg config.PrivacyConfig) error {
	types, err := config.ParseDetectors(cfg.Detectors)
	if err != nil {
		return fmt.Errorf("failed to configure detectors: %w", err)
	}
	if cfg.Masking.Mode == "" {
		cfg.Masking.Mode = string(ModeMask)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.config = cfg
	for _, p := range d.bank {
		d.enabled[p.Type] = false
	}
	for _, t := range types {
		d.enabled[t] = true
	}
	d.rebuild()
	return nil
}

// rebuild must be called with mu held
func (d *Detector) rebuild() {
	var types []sensitive.Type
	for _, p := range d.bank {
		if d.enabled[p.Type] {
			types = append(types, p.Type)
		}
	}
	d.scanner = sensitive.NewDetector(d.bank.Only(types...))
}

// Scan returns the resolved items of text using the enabled detectors. The
// scan is bounded by ctx and by the configured scan timeout.
func (d *Detector) Scan(ctx context.Context, text string) ([]sensitive.Item, error) {
	d.mu.RLock()
	scanner, timeout := d.scanner, d.config.ScanTimeout
	d.mu.RUnlock()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	items, err := scanner.DetectContext(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("scan aborted: %w", err)
	}
	return items, nil
}

// ProcessText scans text and applies the configured transform. When privacy
// is disabled the text passes through with an empty report.
func (d *Detector) ProcessText(ctx context.Context, text string) (ProcessResult, error) {
	d.mu.RLock()
	enabled, mode := d.config.Enabled, Mode(d.config.Masking.Mode)
	d.mu.RUnlock()

	if !enabled {
		return ProcessResult{
			Items:      []sensitive.Item{},
			Report:     sensitive.BuildReport(nil),
			Findings:   []Finding{},
			Mode:       ModeNone,
			MaskedText: text,
			Original:   text,
		}, nil
	}

	items, err := d.Scan(ctx, text)
	if err != nil {
		return ProcessResult{}, err
	}

	result := ProcessResult{
		Items:      items,
		Report:     sensitive.BuildReport(items),
		Findings:   summarize(items),
		Mode:       mode,
		MaskedText: d.Transform(text, items, mode),
		Original:   text,
	}

	for _, f := range result.Findings {
		d.logger.Debug("Sensitive data detected",
			zap.String("entity_type", string(f.EntityType)),
			zap.Int("count", f.Count),
		)
	}

	return result, nil
}

// Transform rewrites text according to mode. An empty mode uses the
// configured one.
func (d *Detector) Transform(text string, items []sensitive.Item, mode Mode) string {
	d.mu.RLock()
	masking := d.config.Masking
	d.mu.RUnlock()

	if mode == "" {
		mode = Mode(masking.Mode)
	}

	switch mode {
	case ModeAnonymize:
		if masking.ByType {
			return sensitive.AnonymizeByType(text, items)
		}
		return sensitive.Anonymize(text, items, masking.Placeholder)
	case ModeNone:
		return text
	default:
		return sensitive.Mask(text, items)
	}
}

// ParseMode validates a transform mode name
func ParseMode(name string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(name))) {
	case ModeMask:
		return ModeMask, nil
	case ModeAnonymize:
		return ModeAnonymize, nil
	case ModeNone:
		return ModeNone, nil
	case "":
		return "", nil
	}
	return "", fmt.Errorf("unknown mode: %q (must be mask, anonymize, or none)", name)
}

func summarize(items []sensitive.Item) []Finding {
	findings := make([]Finding, 0)
	index := make(map[sensitive.Type]int)
	for _, it := range items {
		i, ok := index[it.Type]
		if !ok {
			i = len(findings)
			index[it.Type] = i
			findings = append(findings, Finding{EntityType: it.Type})
		}
		findings[i].Count++
		findings[i].Positions = append(findings[i].Positions, it.Index)
	}
	return findings
}

// ProcessHeaders returns a copy of headers with configured sensitive headers
// scrubbed
func (d *Detector) ProcessHeaders(headers map[string][]string) map[string][]string {
	d.mu.RLock()
	cfg := d.config
	d.mu.RUnlock()

	if !cfg.Enabled || !cfg.HeaderScrubbing.Enabled {
		return headers
	}

	processed := make(map[string][]string, len(headers))
	for key, values := range headers {
		if isListedHeader(key, cfg.HeaderScrubbing.Headers) {
			processed[key] = []string{"[REDACTED]"}
			continue
		}
		processed[key] = values
	}
	return processed
}

func isListedHeader(header string, listed []string) bool {
	headerLower := strings.ToLower(header)
	for _, h := range listed {
		if h != "" && strings.Contains(headerLower, strings.ToLower(h)) {
			return true
		}
	}
	return false
}

// GetEnabledRules returns the enabled types in bank order
func (d *Detector) GetEnabledRules() []sensitive.Type {
	d.mu.RLock()
	defer d.mu.RUnlock()

	enabled := make([]sensitive.Type, 0, len(d.bank))
	for _, p := range d.bank {
		if d.enabled[p.Type] {
			enabled = append(enabled, p.Type)
		}
	}
	return enabled
}

// EnableRule enables a specific detection rule
func (d *Detector) EnableRule(name string) error {
	return d.setRule(name, true)
}

// DisableRule disables a specific detection rule
func (d *Detector) DisableRule(name string) error {
	return d.setRule(name, false)
}

func (d *Detector) setRule(name string, on bool) error {
	types, err := config.ParseDetectors([]string{name})
	if err != nil || len(types) != 1 {
		return fmt.Errorf("unknown rule: %s", name)
	}

	d.mu.Lock()
	d.enabled[types[0]] = on
	d.rebuild()
	d.mu.Unlock()

	d.logger.Info("Detection rule updated", zap.String("rule", string(types[0])), zap.Bool("enabled", on))
	return nil
}
