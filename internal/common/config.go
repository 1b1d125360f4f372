package common

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Queue    QueueConfig
	Pipeline PipelineConfig
	Azure    AzureConfig
	Tracing  TracingConfig
	LogLevel slog.Level
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string
}

// StorageConfig selects and sizes the batch repository.
type StorageConfig struct {
	Driver           string // memory | sqlite | postgres
	DSN              string
	SQLitePath       string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// QueueConfig holds task queue configuration
type QueueConfig struct {
	Size            int
	ShutdownTimeout time.Duration
}

// PipelineConfig holds processing backend configuration
type PipelineConfig struct {
	OutputRoot     string
	FileTimeout    time.Duration
	ArchiveDPI     int
	GhostscriptBin string
	ThresholdsPath string
	// ExpectedReceiver, when set, is compared to the invoice receiver to fill receiver_ok.
	ExpectedReceiver string
}

// AzureConfig holds credentials for the external extraction services.
type AzureConfig struct {
	DocIntelEndpoint  string
	DocIntelKey       string
	DocIntelRPS       float64
	DocIntelPoll      time.Duration
	OpenAIEndpoint    string
	OpenAIKey         string
	OpenAIDeployment  string
	OpenAIAPIVersion  string
	OpenAITemperature float32
	HTTPTimeout       time.Duration
}

// TracingConfig holds OpenTelemetry configuration
type TracingConfig struct {
	Enabled      bool
	Exporter     string // stdout | otlp | none
	ServiceName  string
	OTLPEndpoint string
	SampleRate   float64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr:    getEnv("HTTP_ADDR", ":8000"),
			GRPCAddr:    getEnv("GRPC_ADDR", ":8080"),
			MetricsAddr: getEnv("METRICS_ADDR", ":9090"),
		},
		Storage: StorageConfig{
			Driver:           strings.ToLower(getEnv("REPOSITORY_DRIVER", "memory")),
			DSN:              getEnv("DB_URL", ""),
			SQLitePath:       getEnv("SQLITE_PATH", "outputs/bills.db"),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 10),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 1),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
		},
		Queue: QueueConfig{
			Size:            getEnvAsInt("QUEUE_SIZE", 256),
			ShutdownTimeout: getEnvAsDuration("QUEUE_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Pipeline: PipelineConfig{
			OutputRoot:       getEnv("OUTPUT_ROOT", "outputs/webapp"),
			FileTimeout:      getEnvAsSeconds("BACKEND_FILE_TIMEOUT_SEC", 180*time.Second),
			ArchiveDPI:       getEnvAsInt("ARCHIVE_DPI", 300),
			GhostscriptBin:   getEnv("GHOSTSCRIPT_BIN", "gs"),
			ThresholdsPath:   getEnv("EXCEL_THRESHOLDS_PATH", ""),
			ExpectedReceiver: getEnv("OFFICE_EXPECTED_RECEIVER", ""),
		},
		Azure: AzureConfig{
			DocIntelEndpoint:  getEnv("AZURE_DOCUMENT_INTELLIGENCE_ENDPOINT", ""),
			DocIntelKey:       getEnv("AZURE_DOCUMENT_INTELLIGENCE_KEY", ""),
			DocIntelRPS:       getEnvAsFloat64("AZURE_DOCUMENT_INTELLIGENCE_RPS", 5),
			DocIntelPoll:      getEnvAsDuration("AZURE_DOCUMENT_INTELLIGENCE_POLL", time.Second),
			OpenAIEndpoint:    getEnv("AZURE_OPENAI_ENDPOINT", ""),
			OpenAIKey:         getEnv("AZURE_OPENAI_API_KEY", ""),
			OpenAIDeployment:  getEnv("AZURE_OPENAI_DEPLOYMENT", "gpt-4o-mini"),
			OpenAIAPIVersion:  getEnv("AZURE_OPENAI_API_VERSION", "2024-10-21"),
			OpenAITemperature: getEnvAsFloat32("AZURE_OPENAI_TEMPERATURE", 0.0),
			HTTPTimeout:       getEnvAsDuration("AZURE_HTTP_TIMEOUT", 60*time.Second),
		},
		Tracing: TracingConfig{
			Enabled:      getEnvAsBool("TRACING_ENABLED", false),
			Exporter:     getEnv("TRACING_EXPORTER", "stdout"),
			ServiceName:  getEnv("TRACING_SERVICE_NAME", "bills-analysis"),
			OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			SampleRate:   getEnvAsFloat64("TRACING_SAMPLE_RATE", 1.0),
		},
		LogLevel: getEnvAsLevel("LOG_LEVEL", slog.LevelInfo),
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvAsSeconds reads a float number of seconds ("180", "0.5").
func getEnvAsSeconds(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if secs, err := strconv.ParseFloat(value, 64); err == nil && secs > 0 {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return defaultValue
}

func getEnvAsLevel(key string, defaultValue slog.Level) slog.Level {
	if value := os.Getenv(key); value != "" {
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(value)); err == nil {
			return lvl
		}
	}
	return defaultValue
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory", "sqlite":
	case "postgres":
		if c.Storage.DSN == "" {
			return NewAppError("CONFIG_ERROR", "DB_URL is required for REPOSITORY_DRIVER=postgres", ErrInvalidInput)
		}
	default:
		return NewAppError("CONFIG_ERROR", "REPOSITORY_DRIVER must be memory, sqlite or postgres", ErrInvalidInput)
	}
	if c.Server.HTTPAddr == "" {
		return NewAppError("CONFIG_ERROR", "HTTP_ADDR is required", ErrInvalidInput)
	}
	if c.Server.GRPCAddr == "" {
		return NewAppError("CONFIG_ERROR", "GRPC_ADDR is required", ErrInvalidInput)
	}
	if c.Pipeline.OutputRoot == "" {
		return NewAppError("CONFIG_ERROR", "OUTPUT_ROOT is required", ErrInvalidInput)
	}
	if c.Pipeline.FileTimeout <= 0 {
		return NewAppError("CONFIG_ERROR", "BACKEND_FILE_TIMEOUT_SEC must be positive", ErrInvalidInput)
	}
	if c.Queue.Size <= 0 {
		return NewAppError("CONFIG_ERROR", "QUEUE_SIZE must be positive", ErrInvalidInput)
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return NewAppError("CONFIG_ERROR", "TRACING_SAMPLE_RATE must be between 0 and 1", ErrInvalidInput)
	}
	return nil
}

// DocIntelConfigured reports whether Document Intelligence credentials are present.
func (a AzureConfig) DocIntelConfigured() bool {
	return a.DocIntelEndpoint != "" && a.DocIntelKey != ""
}

// OpenAIConfigured reports whether Azure OpenAI credentials are present.
func (a AzureConfig) OpenAIConfigured() bool {
	return a.OpenAIEndpoint != "" && a.OpenAIKey != ""
}
