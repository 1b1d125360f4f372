package openai

import (
	"log/slog"
	"net/http"
	"time"
)

// Config for the Azure OpenAI client.
type Config struct {
	Endpoint        string  // https://<resource>.openai.azure.com
	APIKey          string  // sent as the api-key header
	Deployment      string  // chat deployment name
	APIVersion      string  // default 2024-10-21
	Temperature     float32 // 0..2
	Timeout         time.Duration
	LenientOptional bool
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	log        *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.APIVersion == "" {
		cfg.APIVersion = "2024-10-21"
	}
	if cfg.Deployment == "" {
		cfg.Deployment = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        logger.With("component", "openai"),
	}
}
