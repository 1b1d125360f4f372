package llm

import (
	"maps"
	"slices"
	"strings"
)

const maxFieldChars = 400

// BuildOfficeSystemPrompt instructs the model to classify an office invoice.
func BuildOfficeSystemPrompt() string {
	parts := []string{
		"You read German business invoices for a restaurant's bookkeeping.",
		"Return ONLY a JSON object with the keys purpose, sender and receiver.",
		"'purpose' is a short German cost category for what was bought (for example Miete, Strom, Software, Wareneinkauf, Reinigung).",
		"'sender' is the company that issued the invoice, without legal address lines.",
		"'receiver' is the company or person the invoice is addressed to.",
		"Use an empty string when a value is not visible. Never output null.",
	}
	return strings.Join(parts, " ")
}

// BuildOfficeUserPrompt lists the recognized invoice fields in a stable order.
// Long values are cut so one noisy field cannot crowd out the rest.
func BuildOfficeUserPrompt(fields map[string]string) string {
	var b strings.Builder
	b.WriteString("Recognized invoice fields:\n")
	for _, k := range slices.Sorted(maps.Keys(fields)) {
		v := strings.TrimSpace(fields[k])
		if v == "" {
			continue
		}
		v = strings.ReplaceAll(v, "\n", " / ")
		if len(v) > maxFieldChars {
			v = v[:maxFieldChars]
		}
		b.WriteString("- ")
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(v)
		b.WriteString("\n")
	}
	return b.String()
}
