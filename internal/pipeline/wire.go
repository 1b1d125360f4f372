package pipeline

import (
	"log/slog"

	"github.com/joseph-ayodele/bills-analysis/internal/archive"
	"github.com/joseph-ayodele/bills-analysis/internal/azure/docintel"
	"github.com/joseph-ayodele/bills-analysis/internal/common"
	"github.com/joseph-ayodele/bills-analysis/internal/export"
	"github.com/joseph-ayodele/bills-analysis/internal/extract"
	"github.com/joseph-ayodele/bills-analysis/internal/llm/openai"
)

// NewFromConfig wires a LocalBackend from environment configuration. Missing Azure
// credentials yield Unconfigured collaborators, so rows fail with a clear message.
func NewFromConfig(cfg *common.Config, logger *slog.Logger) (*LocalBackend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	thresholds, err := export.LoadThresholds(cfg.Pipeline.ThresholdsPath)
	if err != nil {
		return nil, err
	}

	compressor := archive.NewGhostscriptCompressor(archive.Config{
		Binary: cfg.Pipeline.GhostscriptBin,
		DPI:    cfg.Pipeline.ArchiveDPI,
	}, nil, logger)

	return NewLocalBackend(Config{
		OutputRoot:       cfg.Pipeline.OutputRoot,
		FileTimeout:      cfg.Pipeline.FileTimeout,
		ExpectedReceiver: cfg.Pipeline.ExpectedReceiver,
	}, NewAnalyzer(cfg.Azure, logger), NewSemantics(cfg.Azure, logger), compressor, export.NewService(thresholds, logger), logger), nil
}

// NewAnalyzer returns the Document Intelligence client, or an Unconfigured stand-in.
func NewAnalyzer(cfg common.AzureConfig, logger *slog.Logger) extract.DocumentAnalyzer {
	if !cfg.DocIntelConfigured() {
		logger.Warn("document intelligence not configured, every file will fail extraction")
		return extract.Unconfigured{
			Service: "Azure Document Intelligence",
			EnvVars: []string{"AZURE_DOCUMENT_INTELLIGENCE_ENDPOINT", "AZURE_DOCUMENT_INTELLIGENCE_KEY"},
		}
	}
	return docintel.NewClient(cfg.DocIntelEndpoint, cfg.DocIntelKey, logger,
		docintel.WithRateLimit(cfg.DocIntelRPS),
		docintel.WithPollInterval(cfg.DocIntelPoll),
	)
}

// NewSemantics returns the Azure OpenAI client, or an Unconfigured stand-in.
func NewSemantics(cfg common.AzureConfig, logger *slog.Logger) extract.SemanticExtractor {
	if !cfg.OpenAIConfigured() {
		logger.Warn("azure openai not configured, office files will fail semantic extraction")
		return extract.Unconfigured{
			Service: "Azure OpenAI",
			EnvVars: []string{"AZURE_OPENAI_ENDPOINT", "AZURE_OPENAI_API_KEY"},
		}
	}
	return openai.NewClient(openai.Config{
		Endpoint:        cfg.OpenAIEndpoint,
		APIKey:          cfg.OpenAIKey,
		Deployment:      cfg.OpenAIDeployment,
		APIVersion:      cfg.OpenAIAPIVersion,
		Temperature:     cfg.OpenAITemperature,
		Timeout:         cfg.HTTPTimeout,
		LenientOptional: true,
	}, logger)
}
