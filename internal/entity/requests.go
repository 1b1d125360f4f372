package entity

import (
	"github.com/joseph-ayodele/bills-analysis/constants"
)

// CreateBatchRequest is the payload for creating a processing batch.
type CreateBatchRequest struct {
	Type     constants.BatchType `json:"type" validate:"required,oneof=daily office"`
	RunDate  *string             `json:"run_date,omitempty" validate:"omitempty,run_date"`
	Inputs   []InputFile         `json:"inputs" validate:"required,min=1,dive"`
	Metadata map[string]any      `json:"metadata,omitempty"`
}

// SubmitReviewRequest carries human-reviewed rows.
type SubmitReviewRequest struct {
	Rows []map[string]any `json:"rows" validate:"required,min=1"`
}

// MergeRequest triggers a merge into the monthly workbook.
type MergeRequest struct {
	Mode             constants.MergeMode `json:"mode,omitempty" validate:"omitempty,oneof=overwrite append"`
	MonthlyExcelPath *string             `json:"monthly_excel_path,omitempty"`
	Metadata         map[string]any      `json:"metadata,omitempty"`
}

// ProcessResult is what a successful PROCESS_BATCH run hands back to the worker.
type ProcessResult struct {
	Artifacts  map[string]any `json:"artifacts"`
	ReviewRows []ReviewRow    `json:"review_rows"`
}

// MergeResult is what a successful MERGE_BATCH run hands back to the worker.
type MergeResult struct {
	MergeSummaryPath   string `json:"merge_summary_path"`
	ValidatedExcelPath string `json:"validated_excel_path"`
	MergedExcelPath    string `json:"merged_excel_path"`
}

// Map renders the result for Batch.MergeOutput.
func (r MergeResult) Map() map[string]any {
	return map[string]any{
		"merge_summary_path":   r.MergeSummaryPath,
		"validated_excel_path": r.ValidatedExcelPath,
		"merged_excel_path":    r.MergedExcelPath,
	}
}
