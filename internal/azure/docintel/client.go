// Package docintel is a small REST client for Azure Document Intelligence prebuilt models.
package docintel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/joseph-ayodele/bills-analysis/internal/extract"
)

const (
	// APIVersion is the Document Intelligence REST version the field mapping is written against.
	APIVersion = "2024-11-30"
	// DefaultPollInterval between Operation-Location polls.
	DefaultPollInterval = time.Second
	// DefaultTimeout for a single HTTP exchange.
	DefaultTimeout = 60 * time.Second
	// DefaultRateLimit in requests per second, shared by analyze and poll calls.
	DefaultRateLimit = rate.Limit(5)
)

// Client calls the analyze endpoint and polls until the operation settles.
type Client struct {
	endpoint     string
	key          string
	httpClient   *http.Client
	limiter      *rate.Limiter
	pollInterval time.Duration
	log          *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithRateLimit sets a custom rate limit (requests per second).
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithPollInterval sets the delay between status polls.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

func NewClient(endpoint, key string, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		endpoint:     strings.TrimRight(endpoint, "/"),
		key:          key,
		httpClient:   &http.Client{Timeout: DefaultTimeout},
		limiter:      rate.NewLimiter(DefaultRateLimit, 1),
		pollInterval: DefaultPollInterval,
		log:          logger.With("component", "docintel"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ extract.DocumentAnalyzer = (*Client)(nil)

// Analyze submits the PDF at path to model and maps the first recognized document.
func (c *Client) Analyze(ctx context.Context, path, model string) (*extract.Analysis, error) {
	reqID := uuid.New().String()
	start := time.Now()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}

	analyzeURL := fmt.Sprintf("%s/documentintelligence/documentModels/%s:analyze?api-version=%s",
		c.endpoint, url.PathEscape(model), APIVersion)
	resp, body, err := c.do(ctx, reqID, http.MethodPost, analyzeURL, data)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("analyze %s: %s", model, statusError(resp.StatusCode, body))
	}

	var result *analyzeResult
	if resp.StatusCode == http.StatusOK && len(body) > 0 {
		var op operation
		if err := json.Unmarshal(body, &op); err != nil {
			return nil, fmt.Errorf("decode analyze response: %w", err)
		}
		result = op.AnalyzeResult
	} else {
		opURL := resp.Header.Get("Operation-Location")
		if opURL == "" {
			return nil, errors.New("analyze response has no Operation-Location header")
		}
		result, err = c.poll(ctx, reqID, opURL)
		if err != nil {
			return nil, err
		}
	}

	analysis := mapResult(model, result)
	c.log.Info("docintel.analyze.ok",
		"req_id", reqID,
		"model", model,
		"file", path,
		"brutto", analysis.Values[extract.FieldBrutto],
		"netto", analysis.Values[extract.FieldNetto],
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return analysis, nil
}

func (c *Client) poll(ctx context.Context, reqID, opURL string) (*analyzeResult, error) {
	timer := time.NewTimer(c.pollInterval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}

		resp, body, err := c.do(ctx, reqID, http.MethodGet, opURL, nil)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("poll analyze result: %s", statusError(resp.StatusCode, body))
		}
		var op operation
		if err := json.Unmarshal(body, &op); err != nil {
			return nil, fmt.Errorf("decode analyze result: %w", err)
		}

		switch strings.ToLower(op.Status) {
		case "succeeded":
			return op.AnalyzeResult, nil
		case "failed", "canceled":
			if op.Error != nil {
				return nil, fmt.Errorf("analyze %s: %s: %s", op.Status, op.Error.Code, op.Error.Message)
			}
			return nil, fmt.Errorf("analyze %s", op.Status)
		}
		timer.Reset(c.pollInterval)
	}
}

func (c *Client) do(ctx context.Context, reqID, method, target string, payload []byte) (*http.Response, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, nil, fmt.Errorf("rate limiter: %w", err)
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", c.key)
	if payload != nil {
		req.Header.Set("Content-Type", "application/pdf")
	}

	start := time.Now()
	c.log.Debug("docintel.http.request", "req_id", reqID, "method", method, "content_length", len(payload))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Error("docintel.http.send_error", "req_id", reqID, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, nil, fmt.Errorf("document intelligence request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}
	c.log.Debug("docintel.http.response",
		"req_id", reqID,
		"status", resp.StatusCode,
		"bytes", len(body),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return resp, body, nil
}

func statusError(code int, body []byte) string {
	var env struct {
		Error *apiError `json:"error"`
	}
	if json.Unmarshal(body, &env) == nil && env.Error != nil && env.Error.Message != "" {
		return fmt.Sprintf("status %d: %s: %s", code, env.Error.Code, env.Error.Message)
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 512 {
		text = text[:512] + "...(truncated)"
	}
	if text == "" {
		return fmt.Sprintf("status %d", code)
	}
	return fmt.Sprintf("status %d: %s", code, text)
}
