package entity

import (
	"fmt"
	"strings"

	"github.com/joseph-ayodele/bills-analysis/constants"
)

// ReviewRow is the canonical shape of one file's extracted fields.
type ReviewRow struct {
	RowID       string             `json:"row_id"`
	Filename    string             `json:"filename"`
	Category    constants.Category `json:"category"`
	Result      map[string]any     `json:"result"`
	Score       map[string]any     `json:"score"`
	PreviewPath *string            `json:"preview_path"`
}

func (r ReviewRow) Clone() ReviewRow {
	out := r
	out.Result = CopyMap(r.Result)
	out.Score = CopyMap(r.Score)
	if r.PreviewPath != nil {
		p := *r.PreviewPath
		out.PreviewPath = &p
	}
	return out
}

// ProcessedRow is a review row plus the per-file diagnostics of one run.
type ProcessedRow struct {
	ReviewRow
	Error         string `json:"error,omitempty"`
	ArchiveError  string `json:"archive_error,omitempty"`
	ExtractError  string `json:"extract_error,omitempty"`
	SemanticError string `json:"semantic_error,omitempty"`
}

// HasExternalFailure reports whether the row must fail its batch.
// Archive errors are tolerated.
func (r ProcessedRow) HasExternalFailure() bool {
	return r.Error != "" || r.ExtractError != "" || r.SemanticError != ""
}

// FailureMessage returns the first of extract, semantic and missing-file errors.
func (r ProcessedRow) FailureMessage() string {
	switch {
	case r.ExtractError != "":
		return r.ExtractError
	case r.SemanticError != "":
		return r.SemanticError
	default:
		return r.Error
	}
}

// AsText renders a JSON scalar as trimmed text; nil becomes "".
func AsText(v any) string {
	if v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		s = fmt.Sprint(v)
	}
	return strings.TrimSpace(s)
}
