package evaluator_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ogulcanaydogan/ad-alert-guardian/pkg/evaluator"
	"github.com/ogulcanaydogan/ad-alert-guardian/pkg/model"
)

func TestDefaultRules_CoverEveryMetric(t *testing.T) {
	rules := evaluator.DefaultRules()
	for _, m := range model.Metrics() {
		rule := rules.For(m)
		assert.NotEmpty(t, rule.CheckItems, m)
		assert.NotEmpty(t, rule.Improvements, m)
	}
}

func TestLoadRules_CoercesShapes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	data := []byte(`
ctr:
  check_items: Check the creative
  improvements:
    creative: Swap the hero image
    targeting:
      - Narrow interests
cpa:
  check_items:
    - Landing page speed
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	rules, err := evaluator.LoadRules(path)
	require.NoError(t, err)

	ctr := rules.For(model.MetricCTR)
	assert.Equal(t, model.StringList{"Check the creative"}, ctr.CheckItems)
	assert.Equal(t, model.StringList{"Swap the hero image"}, ctr.Improvements["creative"])
	assert.Equal(t, model.StringList{"Narrow interests"}, ctr.Improvements["targeting"])

	cpa := rules.For(model.MetricCPA)
	assert.Equal(t, model.StringList{"Landing page speed"}, cpa.CheckItems)
	assert.NotNil(t, cpa.Improvements)

	// Untouched metrics keep their defaults.
	assert.Equal(t, evaluator.DefaultRules().For(model.MetricCPM), rules.For(model.MetricCPM))
}

func TestLoadRules_UnknownMetric(t *testing.T) {
	_, err := evaluator.LoadRulesFromBytes([]byte("impressions:\n  check_items: x\n"))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown metric")
}
