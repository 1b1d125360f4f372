package llm

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
)

var semanticKeys = []string{"purpose", "sender", "receiver"}

// NormalizeAndSanitizeJSON
// - Renames known synonyms (type -> purpose, vendor -> sender, recipient -> receiver)
// - Turns null and non-string values into trimmed strings ("" for null)
// - Removes unknown keys (strict additionalProperties = false friendliness)
func NormalizeAndSanitizeJSON(raw []byte, logger *slog.Logger) ([]byte, []string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, nil, fmt.Errorf("sanitize: decode: %w", err)
	}

	changed := make([]string, 0, 4)
	renamed := func(from, to string) {
		if v, ok := m[from]; ok {
			// don't overwrite existing value if already present
			if _, exists := m[to]; !exists {
				m[to] = v
			}
			delete(m, from)
			changed = append(changed, from+"->"+to)
		}
	}
	renamed("type", "purpose")
	renamed("category", "purpose")
	renamed("vendor", "sender")
	renamed("supplier", "sender")
	renamed("recipient", "receiver")
	renamed("customer", "receiver")

	for _, k := range slices.Sorted(maps.Keys(m)) {
		if !slices.Contains(semanticKeys, k) {
			delete(m, k)
			changed = append(changed, "-"+k)
		}
	}
	for _, k := range semanticKeys {
		switch v := m[k].(type) {
		case string:
			m[k] = strings.TrimSpace(v)
		case nil:
			m[k] = ""
			changed = append(changed, k+"=null")
		default:
			m[k] = strings.TrimSpace(fmt.Sprint(v))
			changed = append(changed, k+"=coerced")
		}
	}

	out, err := json.Marshal(m)
	if err != nil {
		return nil, nil, fmt.Errorf("sanitize: encode: %w", err)
	}
	if len(changed) > 0 {
		logger.Debug("llm.sanitize.applied", "changes", changed)
	}
	return out, changed, nil
}
