package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/joseph-ayodele/bills-analysis/constants"
	"github.com/joseph-ayodele/bills-analysis/internal/entity"
	"github.com/joseph-ayodele/bills-analysis/internal/extract"
	"github.com/joseph-ayodele/bills-analysis/internal/metrics"
	"github.com/joseph-ayodele/bills-analysis/internal/telemetry"
	"github.com/joseph-ayodele/bills-analysis/internal/utils"
)

// ProcessBatch fans out one unit per input, bounded by cfg.Concurrency, each under its own
// timeout. Rows keep input order. Any row with error, extract_error or semantic_error fails
// the batch and nothing is written; archive_error alone is tolerated.
func (b *LocalBackend) ProcessBatch(ctx context.Context, batch *entity.Batch) (*entity.ProcessResult, error) {
	start := b.now()
	outDir := b.BatchDir(batch.ID)
	archiveRoot := filepath.Join(outDir, constants.ArchiveDirName)
	if err := os.MkdirAll(archiveRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create batch dir: %w", err)
	}

	// A slot is held until processOne returns, even after its row was cut off by the
	// timeout, and every unit is joined before the batch outcome is decided.
	rows := make([]entity.ProcessedRow, len(batch.Inputs))
	slots := semaphore.NewWeighted(int64(b.cfg.Concurrency))
	var running sync.WaitGroup
	var g errgroup.Group
	for i, item := range batch.Inputs {
		rowID := fmt.Sprintf("row-%04d", i+1)
		if err := slots.Acquire(ctx, 1); err != nil {
			rows[i] = baseRow(rowID, batch, item)
			rows[i].ExtractError = "file processing canceled: " + err.Error()
			continue
		}
		running.Add(1)
		release := func() {
			slots.Release(1)
			running.Done()
		}
		g.Go(func() error {
			rows[i] = b.processWithTimeout(ctx, rowID, batch, item, archiveRoot, release)
			return nil
		})
	}
	_ = g.Wait()
	running.Wait()

	if err := aggregateFailures(rows); err != nil {
		b.log.Warn("pipeline.batch.failed", "batch_id", batch.ID, "files", len(rows), "error", err)
		return nil, err
	}

	reviewRows := make([]entity.ReviewRow, len(rows))
	for i, r := range rows {
		reviewRows[i] = r.ReviewRow.Clone()
	}

	resultsPath := filepath.Join(outDir, constants.ResultsFileName)
	reviewPath := filepath.Join(outDir, constants.ReviewRowsFileName)
	results := map[string]any{
		"batch_id":     batch.ID,
		"batch_type":   batch.Type,
		"run_date":     batch.RunDate,
		"inputs":       batch.Inputs,
		"items":        rows,
		"generated_at": b.now().UTC().Format(time.RFC3339Nano),
	}
	if err := utils.WriteJSONFile(resultsPath, results); err != nil {
		return nil, err
	}
	if err := utils.WriteJSONFile(reviewPath, reviewRows); err != nil {
		return nil, err
	}

	b.log.Info("pipeline.batch.ok",
		"batch_id", batch.ID,
		"files", len(rows),
		"results", resultsPath,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return &entity.ProcessResult{
		Artifacts: map[string]any{
			constants.ArtifactResultJSON:  resultsPath,
			constants.ArtifactReviewJSON:  reviewPath,
			constants.ArtifactArchiveRoot: archiveRoot,
		},
		ReviewRows: reviewRows,
	}, nil
}

// processWithTimeout runs one unit under cfg.FileTimeout. A unit that outlives its
// deadline is reported as an extract_error row at once; release runs when processOne
// itself returns.
func (b *LocalBackend) processWithTimeout(ctx context.Context, rowID string, batch *entity.Batch, item entity.InputFile, archiveRoot string, release func()) entity.ProcessedRow {
	category := rowCategory(item)
	ctx, span := telemetry.Tracer().Start(ctx, "pipeline.file")
	span.SetAttributes(
		attribute.String("batch.id", batch.ID),
		attribute.String("file.category", string(category)),
		attribute.String("file.name", filepath.Base(item.Path)),
	)
	defer span.End()

	fctx, cancel := context.WithTimeout(ctx, b.cfg.FileTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan entity.ProcessedRow, 1)
	go func() {
		defer release()
		done <- b.processOne(fctx, rowID, batch, item, archiveRoot)
	}()

	var row entity.ProcessedRow
	cutOff := false
	select {
	case row = <-done:
		cutOff = row.HasExternalFailure() && fctx.Err() != nil
	case <-fctx.Done():
		cutOff = true
	}

	outcome := "ok"
	switch {
	case cutOff && errors.Is(fctx.Err(), context.DeadlineExceeded):
		row = baseRow(rowID, batch, item)
		row.ExtractError = fmt.Sprintf("file processing timeout (%ss)", formatSeconds(b.cfg.FileTimeout))
		outcome = "timeout"
	case cutOff:
		row = baseRow(rowID, batch, item)
		row.ExtractError = "file processing canceled: " + fctx.Err().Error()
		outcome = "canceled"
	case row.HasExternalFailure():
		outcome = "error"
	}

	elapsed := time.Since(start)
	metrics.ObserveFile(string(category), outcome, elapsed)
	if outcome != "ok" {
		span.SetStatus(codes.Error, row.FailureMessage())
		b.log.Warn("pipeline.file.failed",
			"batch_id", batch.ID,
			"row_id", rowID,
			"file", row.Filename,
			"outcome", outcome,
			"error", row.FailureMessage(),
			"elapsed_ms", elapsed.Milliseconds(),
		)
	} else {
		b.log.Info("pipeline.file.ok",
			"batch_id", batch.ID,
			"row_id", rowID,
			"file", row.Filename,
			"archive_error", row.ArchiveError,
			"elapsed_ms", elapsed.Milliseconds(),
		)
	}
	return row
}

func (b *LocalBackend) processOne(ctx context.Context, rowID string, batch *entity.Batch, item entity.InputFile, archiveRoot string) entity.ProcessedRow {
	row := baseRow(rowID, batch, item)
	if !utils.FileExists(item.Path) {
		row.Error = "missing input file: " + item.Path
		return row
	}

	if b.compressor != nil {
		suffix := batch.ID
		if len(suffix) > 8 {
			suffix = suffix[:8]
		}
		preview, err := b.compressor.Compress(ctx, item.Path, filepath.Join(archiveRoot, string(row.Category)), suffix)
		if err != nil {
			row.ArchiveError = err.Error()
		} else {
			row.PreviewPath = &preview
		}
	}

	analysis, err := b.analyzer.Analyze(ctx, item.Path, row.Category.AnalysisModel())
	if err != nil {
		row.ExtractError = err.Error()
		return row
	}
	if row.Category == constants.CategoryOffice {
		b.fillOfficeRow(ctx, &row, analysis)
	} else {
		fillDailyRow(&row, analysis)
	}
	return row
}

func rowCategory(item entity.InputFile) constants.Category {
	if cat, ok := constants.Canonicalize(string(item.Category)); ok {
		return cat
	}
	if s := strings.ToLower(strings.TrimSpace(string(item.Category))); s != "" {
		return constants.Category(s)
	}
	return constants.CategoryOffice
}

func baseRow(rowID string, batch *entity.Batch, item entity.InputFile) entity.ProcessedRow {
	var runDate any
	if batch.RunDate != nil {
		runDate = *batch.RunDate
	}
	return entity.ProcessedRow{ReviewRow: entity.ReviewRow{
		RowID:    rowID,
		Filename: filepath.Base(item.Path),
		Category: rowCategory(item),
		Result:   map[string]any{"run_date": runDate},
		Score:    map[string]any{},
	}}
}

func fillDailyRow(row *entity.ProcessedRow, a *extract.Analysis) {
	if name, ok := a.Value(extract.FieldStoreName).(string); ok && strings.TrimSpace(name) != "" {
		first, _, _ := strings.Cut(strings.TrimSpace(name), "\n")
		row.Result["store_name"] = strings.TrimSpace(first)
	}
	row.Result["brutto"] = a.Value(extract.FieldBrutto)
	row.Result["netto"] = a.Value(extract.FieldNetto)
	row.Result["total_tax"] = a.Value(extract.FieldTotalTax)
	row.Score["store_name"] = a.Score(extract.FieldStoreName)
	row.Score["brutto"] = a.Score(extract.FieldBrutto)
	row.Score["netto"] = a.Score(extract.FieldNetto)
	row.Score["total_tax"] = a.Score(extract.FieldTotalTax)
}

func (b *LocalBackend) fillOfficeRow(ctx context.Context, row *entity.ProcessedRow, a *extract.Analysis) {
	row.Result["brutto"] = a.Value(extract.FieldBrutto)
	row.Result["netto"] = a.Value(extract.FieldNetto)
	row.Result["tax_id"] = a.Value(extract.FieldInvoiceID)
	row.Score["brutto"] = a.Score(extract.FieldBrutto)
	row.Score["netto"] = a.Score(extract.FieldNetto)
	row.Score["tax_id"] = a.Score(extract.FieldInvoiceID)

	if b.semantics == nil {
		row.SemanticError = "semantic extractor is not configured"
		return
	}
	info, err := b.semantics.ExtractOfficeSemantics(ctx, a.Raw)
	if err != nil {
		row.SemanticError = err.Error()
		return
	}
	row.Result["type"] = info.Purpose
	row.Result["sender"] = info.Sender
	row.Result["receiver"] = info.Receiver
	if want := strings.TrimSpace(b.cfg.ExpectedReceiver); want != "" {
		got := strings.TrimSpace(info.Receiver)
		row.Result["receiver_ok"] = got == "" || strings.EqualFold(got, want)
	}
}

// aggregateFailures joins "<filename>: <message>" for every failing row.
func aggregateFailures(rows []entity.ProcessedRow) error {
	var msgs []string
	for _, r := range rows {
		if r.HasExternalFailure() {
			name := r.Filename
			if name == "" {
				name = "unknown"
			}
			msgs = append(msgs, name+": "+r.FailureMessage())
		}
	}
	if len(msgs) == 0 {
		return nil
	}
	return errors.New(strings.Join(msgs, "; "))
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}
