package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/bills-analysis/internal/common"
	"github.com/joseph-ayodele/bills-analysis/internal/extract"
	"github.com/joseph-ayodele/bills-analysis/internal/llm"
)

var _ extract.SemanticExtractor = (*Client)(nil)

// ExtractOfficeSemantics asks the chat deployment for purpose, sender and receiver of an invoice.
func (c *Client) ExtractOfficeSemantics(ctx context.Context, fields map[string]string) (*extract.OfficeSemantics, error) {
	rid := common.RequestIDFromContext(ctx)
	if rid == "" {
		rid = uuid.New().String()
		ctx = common.WithRequestID(ctx, rid)
	}
	start := time.Now()

	c.log.Info("llm.semantics.start",
		"req_id", rid,
		"deployment", c.cfg.Deployment,
		"temp", c.cfg.Temperature,
		"fields", len(fields),
	)

	schema := llm.BuildOfficeSemanticsJSONSchema()
	body := map[string]any{
		"temperature":     c.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": llm.BuildOfficeSystemPrompt()},
			{"role": "user", "content": llm.BuildOfficeUserPrompt(fields) + "\nReturn ONLY JSON that matches the provided schema."},
			{"role": "system", "content": "JSON Schema:\n" + mustJSON(schema)},
		},
	}

	raw, _, err := llm.SendJSON(ctx, c.httpClient, c.chatURL(), body, map[string]string{"api-key": c.cfg.APIKey}, c.log)
	if err != nil {
		c.log.Error("llm.semantics.http_error",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, fmt.Errorf("azure openai: %w", err)
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		return nil, fmt.Errorf("decode azure openai response: %w", err)
	}
	if len(cc.Choices) == 0 {
		c.log.Error("llm.semantics.no_choices", "req_id", rid, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, fmt.Errorf("no choices in azure openai response")
	}
	content := []byte(stripFences(cc.Choices[0].Message.Content))

	// Validate strictly first.
	if err := llm.ValidateJSONAgainstSchema(schema, content); err != nil {
		if !c.cfg.LenientOptional {
			c.log.Error("llm.semantics.schema_validation_failed",
				"req_id", rid, "error", err, "content", string(content),
				"elapsed_ms", time.Since(start).Milliseconds(),
			)
			return nil, fmt.Errorf("schema validation failed: %w", err)
		}
		cleaned, changed, sErr := llm.NormalizeAndSanitizeJSON(content, c.log)
		if sErr != nil {
			return nil, fmt.Errorf("sanitize failed: %w", sErr)
		}
		if vErr := llm.ValidateJSONAgainstSchema(schema, cleaned); vErr != nil {
			c.log.Error("llm.semantics.schema_validation_failed",
				"req_id", rid, "error", vErr, "content", string(content),
				"elapsed_ms", time.Since(start).Milliseconds(),
			)
			return nil, fmt.Errorf("schema validation failed: %w", vErr)
		}
		c.log.Warn("llm.semantics.lenient_sanitize_applied", "req_id", rid, "changes", changed)
		content = cleaned
	}

	var out extract.OfficeSemantics
	if err := json.Unmarshal(content, &out); err != nil {
		return nil, fmt.Errorf("unmarshal semantics: %w", err)
	}

	c.log.Info("llm.semantics.ok",
		"req_id", rid,
		"purpose", out.Purpose,
		"sender", out.Sender,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return &out, nil
}

func (c *Client) chatURL() string {
	return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		strings.TrimRight(c.cfg.Endpoint, "/"),
		url.PathEscape(c.cfg.Deployment),
		url.QueryEscape(c.cfg.APIVersion),
	)
}

// stripFences removes a ```json ... ``` wrapper some deployments add despite json_object mode.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func mustJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
