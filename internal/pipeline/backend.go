// Package pipeline is the local processing backend: per-file extraction fan-out for
// PROCESS_BATCH and validated-workbook merges for MERGE_BATCH.
package pipeline

import (
	"context"
	"log/slog"
	"path/filepath"
	"runtime"
	"time"

	"github.com/joseph-ayodele/bills-analysis/internal/archive"
	"github.com/joseph-ayodele/bills-analysis/internal/entity"
	"github.com/joseph-ayodele/bills-analysis/internal/export"
	"github.com/joseph-ayodele/bills-analysis/internal/extract"
)

// Backend executes the long-running work behind queue tasks.
type Backend interface {
	// ProcessBatch extracts every input of batch. Any failing file fails the call.
	ProcessBatch(ctx context.Context, batch *entity.Batch) (*entity.ProcessResult, error)
	// MergeBatch writes the batch's review rows into a copy of the monthly workbook.
	MergeBatch(ctx context.Context, batch *entity.Batch, payload entity.MergePayload) (*entity.MergeResult, error)
}

// Config for LocalBackend.
type Config struct {
	OutputRoot  string
	FileTimeout time.Duration
	// Concurrency bounds per-batch fan-out; zero derives it from the CPU count.
	Concurrency int
	// ExpectedReceiver, when set, fills receiver_ok on office rows.
	ExpectedReceiver string
}

// LocalBackend runs extraction and merges on the local filesystem.
type LocalBackend struct {
	cfg        Config
	analyzer   extract.DocumentAnalyzer
	semantics  extract.SemanticExtractor
	compressor archive.Compressor
	exporter   *export.Service
	log        *slog.Logger
	now        func() time.Time
}

var _ Backend = (*LocalBackend)(nil)

func NewLocalBackend(
	cfg Config,
	analyzer extract.DocumentAnalyzer,
	semantics extract.SemanticExtractor,
	compressor archive.Compressor,
	exporter *export.Service,
	logger *slog.Logger,
) *LocalBackend {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.OutputRoot == "" {
		cfg.OutputRoot = filepath.Join("outputs", "webapp")
	}
	if cfg.FileTimeout <= 0 {
		cfg.FileTimeout = 180 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency()
	}
	if exporter == nil {
		exporter = export.NewService(export.DefaultThresholds(), logger)
	}
	return &LocalBackend{
		cfg:        cfg,
		analyzer:   analyzer,
		semantics:  semantics,
		compressor: compressor,
		exporter:   exporter,
		log:        logger.With("component", "pipeline"),
		now:        time.Now,
	}
}

// defaultConcurrency mirrors a host-sized thread pool: CPUs + 4, capped at 32.
func defaultConcurrency() int {
	return min(runtime.NumCPU()+4, 32)
}

// BatchDir is where every artifact of batchID is written.
func (b *LocalBackend) BatchDir(batchID string) string {
	return filepath.Join(b.cfg.OutputRoot, batchID)
}
