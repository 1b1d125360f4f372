package llm

// BuildOfficeSemanticsJSONSchema returns the JSON-Schema for the office invoice semantics answer.
// We pass it to the model as an output constraint and also use it locally to validate.
func BuildOfficeSemanticsJSONSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"purpose":  map[string]any{"type": "string", "minLength": 1},
			"sender":   map[string]any{"type": "string"},
			"receiver": map[string]any{"type": "string"},
		},
		"required": []string{"purpose", "sender", "receiver"},
	}
}
