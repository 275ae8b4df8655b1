package evaluator

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ogulcanaydogan/ad-alert-guardian/pkg/model"
)

// Rule is the diagnostic payload attached to alerts for one metric.
type Rule struct {
	CheckItems   model.StringList   `yaml:"check_items"`
	Improvements model.Improvements `yaml:"improvements"`
}

// Rules maps metrics to their diagnostic payloads.
type Rules map[model.Metric]Rule

// For returns the rule for metric, or an empty rule.
func (r Rules) For(metric model.Metric) Rule {
	return r[metric]
}

// DefaultRules returns the built-in diagnostics table.
func DefaultRules() Rules {
	return Rules{
		model.MetricCTR: {
			CheckItems: model.StringList{"Creative fatigue (frequency trend)", "Targeting overlap between ad sets", "Placement breakdown"},
			Improvements: model.Improvements{
				"creative":  {"Rotate in new images or video", "Test a stronger call to action"},
				"targeting": {"Exclude low-engagement placements"},
			},
		},
		model.MetricCPM: {
			CheckItems: model.StringList{"Audience size", "Auction competition by placement"},
			Improvements: model.Improvements{
				"targeting": {"Broaden the audience", "Enable automatic placements"},
			},
		},
		model.MetricCPA: {
			CheckItems: model.StringList{"Landing page conversion rate", "Conversion tracking health", "Bid strategy"},
			Improvements: model.Improvements{
				"bidding":  {"Switch to a cost cap bid strategy"},
				"creative": {"Align ad message with the landing page"},
			},
		},
		model.MetricCPC: {
			CheckItems: model.StringList{"CTR trend", "Bid amount"},
			Improvements: model.Improvements{
				"bidding":  {"Lower manual bids"},
				"creative": {"Improve relevance to raise CTR"},
			},
		},
		model.MetricConversions: {
			CheckItems: model.StringList{"Conversion tag firing", "Delivery status", "Budget pacing"},
			Improvements: model.Improvements{
				"tracking": {"Verify the pixel or conversion API events"},
				"delivery": {"Check for disapproved ads or paused ad sets"},
			},
		},
		model.MetricBudgetRate: {
			CheckItems: model.StringList{"Delivery limits", "Bid caps", "Audience size"},
			Improvements: model.Improvements{
				"delivery": {"Relax bid caps", "Broaden targeting"},
			},
		},
		model.MetricROAS: {
			CheckItems: model.StringList{"Revenue attribution window", "Product feed prices"},
			Improvements: model.Improvements{
				"bidding": {"Use a minimum ROAS bid strategy"},
			},
		},
		model.MetricFrequency: {
			CheckItems: model.StringList{"Audience size", "Campaign duration"},
			Improvements: model.Improvements{
				"targeting": {"Expand the audience", "Set a frequency cap"},
			},
		},
	}
}

// LoadRules reads a YAML rules file and overlays it on the defaults.
// Unknown metric keys are rejected.
func LoadRules(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file %s: %w", path, err)
	}
	return LoadRulesFromBytes(data)
}

// LoadRulesFromBytes parses YAML rules and overlays them on the defaults.
func LoadRulesFromBytes(data []byte) (Rules, error) {
	var raw map[string]Rule
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}

	rules := DefaultRules()
	for key, rule := range raw {
		metric, ok := model.ParseMetric(key)
		if !ok {
			return nil, fmt.Errorf("parse rules: unknown metric %q", key)
		}
		rule.CheckItems = rule.CheckItems.Normalize()
		rule.Improvements = rule.Improvements.Normalize()
		rules[metric] = rule
	}
	return rules, nil
}
