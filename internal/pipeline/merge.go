package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joseph-ayodele/bills-analysis/constants"
	"github.com/joseph-ayodele/bills-analysis/internal/entity"
	"github.com/joseph-ayodele/bills-analysis/internal/export"
	"github.com/joseph-ayodele/bills-analysis/internal/utils"
)

// mergeSummary is written next to the merged workbook.
type mergeSummary struct {
	BatchID            string              `json:"batch_id"`
	BatchType          constants.BatchType `json:"batch_type"`
	Mode               constants.MergeMode `json:"mode"`
	MonthlyExcelPath   string              `json:"monthly_excel_path"`
	ValidatedExcelPath string              `json:"validated_excel_path"`
	MergedExcelPath    string              `json:"merged_excel_path"`
	ReviewRowsCount    int                 `json:"review_rows_count"`
	GeneratedAt        string              `json:"generated_at"`
}

// MergeBatch renders the review rows as a validated workbook and merges it into a copy of
// the monthly workbook. Daily batches always overwrite by date; office batches honor mode.
func (b *LocalBackend) MergeBatch(ctx context.Context, batch *entity.Batch, payload entity.MergePayload) (*entity.MergeResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := b.now()

	monthly := strings.TrimSpace(payload.MonthlyExcelPath)
	if monthly == "" {
		return nil, errors.New("monthly_excel_path is required for merge")
	}
	if !utils.FileExists(monthly) {
		return nil, fmt.Errorf("monthly_excel_path not found: %s", monthly)
	}
	mode := payload.Mode
	if mode == "" {
		mode = constants.MergeModeOverwrite
	}

	rows, err := b.mergeRows(batch)
	if err != nil {
		return nil, err
	}

	outDir := b.BatchDir(batch.ID)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create batch dir: %w", err)
	}
	validatedPath := filepath.Join(outDir, fmt.Sprintf("validated_for_merge_%d.xlsx", b.now().Unix()))
	thresholds := b.exporter.Thresholds()

	var mergedPath string
	switch batch.Type {
	case constants.BatchTypeDaily:
		sheet, err := export.BuildDailySheet(rows, batch.RunDateValue(), thresholds)
		if err != nil {
			return nil, err
		}
		if err := b.exporter.WriteSheet(sheet, validatedPath); err != nil {
			return nil, err
		}
		if mergedPath, err = b.exporter.MergeDaily(sheet, validatedPath, monthly, outDir); err != nil {
			return nil, err
		}
	case constants.BatchTypeOffice:
		sheet, err := export.BuildOfficeSheet(rows, batch.RunDateValue(), thresholds)
		if err != nil {
			return nil, err
		}
		if err := b.exporter.WriteSheet(sheet, validatedPath); err != nil {
			return nil, err
		}
		appendRows := mode == constants.MergeModeAppend
		if mergedPath, err = b.exporter.MergeOffice(sheet, validatedPath, monthly, outDir, appendRows); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported batch_type: %s", batch.Type)
	}

	summaryPath := filepath.Join(outDir, constants.MergeSummaryFileName)
	summary := mergeSummary{
		BatchID:            batch.ID,
		BatchType:          batch.Type,
		Mode:               mode,
		MonthlyExcelPath:   monthly,
		ValidatedExcelPath: validatedPath,
		MergedExcelPath:    mergedPath,
		ReviewRowsCount:    len(rows),
		GeneratedAt:        b.now().UTC().Format(time.RFC3339Nano),
	}
	if err := utils.WriteJSONFile(summaryPath, summary); err != nil {
		return nil, err
	}

	b.log.Info("pipeline.merge.ok",
		"batch_id", batch.ID,
		"batch_type", batch.Type,
		"mode", mode,
		"rows", len(rows),
		"merged", mergedPath,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return &entity.MergeResult{
		MergeSummaryPath:   summaryPath,
		ValidatedExcelPath: validatedPath,
		MergedExcelPath:    mergedPath,
	}, nil
}

// mergeRows prefers the stored rows and falls back to the review artifact on disk.
func (b *LocalBackend) mergeRows(batch *entity.Batch) ([]entity.ReviewRow, error) {
	if len(batch.ReviewRows) > 0 {
		return batch.ReviewRows, nil
	}
	path := batch.ArtifactString(constants.ArtifactReviewJSON)
	if path == "" || !utils.FileExists(path) {
		return nil, nil
	}
	var rows []entity.ReviewRow
	if err := utils.ReadJSONFile(path, &rows); err != nil {
		return nil, fmt.Errorf("read review rows: %w", err)
	}
	return rows, nil
}
