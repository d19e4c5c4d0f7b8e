package privacy

import (
	"context"
	"testing"

	"github.com/raaihank/contract-sentinel/internal/config"
	"github.com/raaihank/contract-sentinel/internal/logger"
	"github.com/raaihank/contract-sentinel/internal/sensitive"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = "Contact: jean.dupont@example.com or call 06 12 34 56 78"

func newDetector(t *testing.T, mutate func(*config.PrivacyConfig)) *Detector {
	t.Helper()
	cfg := config.GetDefaults().Privacy
	if mutate != nil {
		mutate(&cfg)
	}
	d, err := New(cfg, logger.NewNop())
	require.NoError(t, err)
	return d
}

func TestProcessText(t *testing.T) {
	ctx := context.Background()

	t.Run("Mask", func(t *testing.T) {
		d := newDetector(t, nil)
		result, err := d.ProcessText(ctx, sample)
		require.NoError(t, err)

		require.Len(t, result.Items, 2)
		assert.Equal(t, sensitive.RiskHigh, result.Report.RiskLevel)
		assert.Equal(t, ModeMask, result.Mode)
		assert.Len(t, result.MaskedText, len(sample))
		assert.NotContains(t, result.MaskedText, "jean.dupont")
		assert.Equal(t, []Finding{
			{EntityType: sensitive.TypeEmail, Count: 1, Positions: []int{9}},
			{EntityType: sensitive.TypePhoneNumber, Count: 1, Positions: []int{41}},
		}, result.Findings)
		assert.True(t, result.HasFindings())
	})

	t.Run("Anonymize", func(t *testing.T) {
		d := newDetector(t, func(c *config.PrivacyConfig) {
			c.Masking.Mode = "anonymize"
			c.Masking.Placeholder = "***"
		})
		result, err := d.ProcessText(ctx, sample)
		require.NoError(t, err)
		assert.Equal(t, "Contact: *** or call ***", result.MaskedText)
	})

	t.Run("AnonymizeByType", func(t *testing.T) {
		d := newDetector(t, func(c *config.PrivacyConfig) {
			c.Masking.Mode = "anonymize"
			c.Masking.ByType = true
		})
		result, err := d.ProcessText(ctx, sample)
		require.NoError(t, err)
		assert.Equal(t, "Contact: [EMAIL] or call [PHONE_NUMBER]", result.MaskedText)
	})

	t.Run("Disabled", func(t *testing.T) {
		d := newDetector(t, func(c *config.PrivacyConfig) { c.Enabled = false })
		result, err := d.ProcessText(ctx, sample)
		require.NoError(t, err)
		assert.Equal(t, sample, result.MaskedText)
		assert.Empty(t, result.Items)
		assert.Equal(t, sensitive.RiskLow, result.Report.RiskLevel)
		assert.False(t, result.HasFindings())
	})

	t.Run("SelectedDetectors", func(t *testing.T) {
		d := newDetector(t, func(c *config.PrivacyConfig) { c.Detectors = []string{"email"} })
		result, err := d.ProcessText(ctx, sample)
		require.NoError(t, err)
		require.Len(t, result.Items, 1)
		assert.Equal(t, sensitive.TypeEmail, result.Items[0].Type)
	})

	t.Run("Cancelled", func(t *testing.T) {
		d := newDetector(t, nil)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := d.ProcessText(cctx, sample)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestRules(t *testing.T) {
	d := newDetector(t, nil)
	assert.Equal(t, sensitive.DefaultBank().Types(), d.GetEnabledRules())

	require.NoError(t, d.DisableRule("phone_number"))
	assert.NotContains(t, d.GetEnabledRules(), sensitive.TypePhoneNumber)

	items, err := d.Scan(context.Background(), sample)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, sensitive.TypeEmail, items[0].Type)

	require.NoError(t, d.EnableRule("Phone Number"))
	items, err = d.Scan(context.Background(), sample)
	require.NoError(t, err)
	assert.Len(t, items, 2)

	assert.Error(t, d.EnableRule("passport"))
	assert.Error(t, d.DisableRule("all"))
}

func TestNewRejectsUnknownDetector(t *testing.T) {
	cfg := config.GetDefaults().Privacy
	cfg.Detectors = []string{"fingerprint"}
	_, err := New(cfg, nil)
	assert.Error(t, err)
}

func TestProcessHeaders(t *testing.T) {
	d := newDetector(t, nil)
	headers := map[string][]string{
		"Authorization": {"Bearer token"},
		"Content-Type":  {"application/json"},
	}

	processed := d.ProcessHeaders(headers)
	assert.Equal(t, []string{"[REDACTED]"}, processed["Authorization"])
	assert.Equal(t, []string{"application/json"}, processed["Content-Type"])
	assert.Equal(t, []string{"Bearer token"}, headers["Authorization"])

	off := newDetector(t, func(c *config.PrivacyConfig) { c.HeaderScrubbing.Enabled = false })
	assert.Equal(t, headers, off.ProcessHeaders(headers))
}

func TestParseMode(t *testing.T) {
	mode, err := ParseMode(" Anonymize ")
	require.NoError(t, err)
	assert.Equal(t, ModeAnonymize, mode)

	mode, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, Mode(""), mode)

	_, err = ParseMode("shred")
	assert.Error(t, err)
}
