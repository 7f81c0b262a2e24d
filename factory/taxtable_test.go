package factory_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/factory"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/payroll"
)

func TestDefaultTaxConfig_EmbeddedTables(t *testing.T) {
	cfg, err := factory.DefaultTaxConfig()
	require.NoError(t, err)

	labels := []string{}
	for _, j := range cfg.Jurisdictions() {
		labels = append(labels, j.Label)
	}
	assert.Equal(t, []string{"Canada - Ontario", "India - Tamil Nadu", "USA - California"}, labels)

	assert.True(t, cfg.CryptoRule().Rate.Equal(decimal.NewFromInt(20)))
	uk, ok := cfg.CountryRule("UK")
	assert.True(t, ok)
	assert.Equal(t, "GBP", uk.Currency)
	fallback, ok := cfg.CountryRule("BR")
	assert.False(t, ok)
	assert.True(t, fallback.TaxRate.Equal(decimal.NewFromInt(20)))
	assert.Equal(t, "US", cfg.CountryForJurisdiction("USA - California"))
}

func TestDefaultTaxConfig_CaliforniaScenario(t *testing.T) {
	// GIVEN: the embedded tables
	cfg, err := factory.DefaultTaxConfig()
	require.NoError(t, err)
	est := payroll.NewTaxEstimator(cfg)

	// WHEN: $70,000 in California
	got, err := est.EstimateBracket(decimal.NewFromInt(70000), "USA - California")

	// THEN: 9.30% + 1.1% SDI
	require.NoError(t, err)
	assert.True(t, got.EffectiveRate.Equal(decimal.RequireFromString("10.4")))
	assert.True(t, got.AmountDue.Equal(decimal.NewFromInt(7280)))

	// AND California has no catch-all
	_, err = est.EstimateBracket(decimal.NewFromInt(400000), "USA - California")
	assert.ErrorIs(t, err, generic.ErrNoMatchingBracket)
}

func TestParseTaxConfig_JSON(t *testing.T) {
	doc := `{
	  "version": 1,
	  "base_currency": "USD",
	  "crypto": {"rate": 15, "note": "flat"},
	  "countries": {"FR": {"tax_rate": "30%", "currency": "eur"}},
	  "jurisdictions": [{
	    "label": "Flatland",
	    "brackets": [
	      {"range": "0 - 1,000", "min": 0, "max": "1,000", "rate": "0%"},
	      {"range": "Over 1,000", "min": 1001, "rate": 10}
	    ]
	  }]
	}`

	cfg, err := factory.ParseTaxConfig([]byte(doc), ".json")
	require.NoError(t, err)

	j, ok := cfg.Jurisdiction("Flatland")
	require.True(t, ok)
	require.Len(t, j.Brackets, 2)
	assert.True(t, j.Brackets[0].Max.Equal(decimal.NewFromInt(1000)))
	assert.Nil(t, j.Brackets[1].Max)
	fr, _ := cfg.CountryRule("fr")
	assert.Equal(t, "EUR", fr.Currency)
	assert.True(t, cfg.CryptoRule().Rate.Equal(decimal.NewFromInt(15)))
}

func TestParseTaxConfig_Rejects(t *testing.T) {
	cases := map[string]string{
		"wrong version":   "version: 2\njurisdictions:\n  - label: x\n    brackets: [{min: 0, rate: 1%}]\n",
		"no jurisdiction": "version: 1\n",
		"bad rate":        "version: 1\njurisdictions:\n  - label: x\n    brackets: [{min: 0, rate: lots}]\n",
		"overlap":         "version: 1\njurisdictions:\n  - label: x\n    brackets: [{min: 0, max: 100, rate: 1%}, {min: 50, rate: 2%}]\n",
		"bad yaml":        "version: [1\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := factory.ParseTaxConfig([]byte(doc), ".yaml")
			assert.Error(t, err)
		})
	}
}

func TestLoadTaxConfig_FromFileAndExportRoundTrip(t *testing.T) {
	// GIVEN: the default config exported to a JSON file
	cfg, err := factory.DefaultTaxConfig()
	require.NoError(t, err)
	b, err := json.MarshalIndent(factory.FromConfig(cfg, "USD"), "", "  ")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "tax.json")
	require.NoError(t, os.WriteFile(path, b, 0o600))

	// WHEN: it is loaded back
	loaded, err := factory.LoadTaxConfig(path)

	// THEN: estimates match
	require.NoError(t, err)
	for _, label := range []string{"USA - California", "Canada - Ontario", "India - Tamil Nadu"} {
		want, err1 := payroll.NewTaxEstimator(cfg).EstimateBracket(decimal.NewFromInt(150000), label)
		got, err2 := payroll.NewTaxEstimator(loaded).EstimateBracket(decimal.NewFromInt(150000), label)
		require.NoError(t, err1)
		require.NoError(t, err2)
		assert.True(t, want.AmountDue.Equal(got.AmountDue), label)
	}

	_, err = factory.LoadTaxConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
