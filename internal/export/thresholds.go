package export

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"
)

const defaultThreshold = 0.8

// Thresholds are the minimum confidence scores below which a field is highlighted for review.
type Thresholds struct {
	Default float64            `json:"default"`
	Fields  map[string]float64 `json:"fields,omitempty"`
}

// DefaultThresholds applies 0.8 to every field.
func DefaultThresholds() Thresholds {
	return Thresholds{Default: defaultThreshold}
}

// LoadThresholds reads a YAML or JSON thresholds file. An empty path yields the defaults.
func LoadThresholds(path string) (Thresholds, error) {
	if path == "" {
		return DefaultThresholds(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Thresholds{}, fmt.Errorf("read thresholds: %w", err)
	}
	if len(raw) == 0 {
		return Thresholds{}, fmt.Errorf("empty thresholds file: %s", path)
	}
	t := Thresholds{Default: defaultThreshold}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return Thresholds{}, fmt.Errorf("parse thresholds %s: %w", path, err)
	}
	return t, nil
}

// For returns the threshold for field.
func (t Thresholds) For(field string) float64 {
	if v, ok := t.Fields[field]; ok {
		return v
	}
	if t.Default == 0 {
		return defaultThreshold
	}
	return t.Default
}

var checkedFields = []string{"brutto", "netto", "total_tax"}

// LowConfidenceFields returns the amount fields that are missing or scored below threshold.
// A score of -1 marks an amount inferred from total_tax; it inherits the total_tax score.
func LowConfidenceFields(result, score map[string]any, t Thresholds) map[string]bool {
	low := map[string]bool{}
	for _, field := range checkedFields {
		if isBlank(result[field]) {
			low[field] = true
			continue
		}
		s, ok := ToScore(score[field])
		if (field == "brutto" || field == "netto") && ok && s == -1 {
			taxScore, taxOK := ToScore(score["total_tax"])
			if !taxOK || taxScore < t.For("total_tax") {
				low[field] = true
			}
			continue
		}
		if !ok || s < t.For(field) {
			low[field] = true
		}
	}
	return low
}
