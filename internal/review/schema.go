package review

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// rowSchema is the wire contract of one submitted review row. Semantic checks
// (category set, blank filename, business fields) live in Normalize.
var rowSchema = map[string]any{
	"$schema":  "https://json-schema.org/draft/2020-12/schema",
	"type":     "object",
	"required": []string{"category", "filename", "result"},
	"properties": map[string]any{
		"row_id":       map[string]any{"type": []string{"string", "null"}},
		"category":     map[string]any{"type": "string"},
		"filename":     map[string]any{"type": "string"},
		"result":       map[string]any{"type": "object"},
		"score":        map[string]any{"type": []string{"object", "null"}},
		"preview_path": map[string]any{"type": []string{"string", "null"}},
	},
}

var compiledRowSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	b, err := json.Marshal(rowSchema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("review_row.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	return compiler.Compile("review_row.json")
})

// checkContract validates one row against the review row schema. The row is
// round-tripped through JSON first so Go-typed values validate like wire values.
func checkContract(row map[string]any) error {
	schema, err := compiledRowSchema()
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	raw, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("row is not JSON encodable: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("row is not JSON decodable: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			for len(ve.Causes) > 0 {
				ve = ve.Causes[0]
			}
			loc := ve.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			return fmt.Errorf("%s %s", loc, ve.Message)
		}
		return err
	}
	return nil
}
