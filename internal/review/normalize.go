// Package review turns client-submitted review rows into canonical rows.
package review

import (
	"fmt"
	"strings"

	"github.com/joseph-ayodele/bills-analysis/constants"
	"github.com/joseph-ayodele/bills-analysis/internal/common"
	"github.com/joseph-ayodele/bills-analysis/internal/entity"
)

// Normalize validates and canonicalizes submitted rows. Any rejected row rejects the
// whole submission; the returned error is a VALIDATION_ERROR naming every bad row.
func Normalize(runDate string, rows []map[string]any) ([]entity.ReviewRow, error) {
	v := common.NewValidator()
	if len(rows) == 0 {
		v.Add("rows", nil, "must contain at least 1 item(s)")
		return nil, v.Err()
	}

	out := make([]entity.ReviewRow, 0, len(rows))
	for i, raw := range rows {
		field := fmt.Sprintf("rows[%d]", i)
		row, ok := normalizeRow(i, raw, runDate, field, v)
		if ok {
			out = append(out, row)
		}
	}
	if err := v.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func normalizeRow(i int, raw map[string]any, runDate, field string, v *common.Validator) (entity.ReviewRow, bool) {
	if raw == nil {
		v.Add(field, nil, "must be an object")
		return entity.ReviewRow{}, false
	}
	before := len(v.Errors())

	rawCategory, _ := raw["category"].(string)
	category, known := constants.Canonicalize(rawCategory)
	if !known {
		v.Add(field+".category", raw["category"], "must be one of "+strings.Join(constants.AsStringSlice(), ", "))
	}
	filename := strings.TrimSpace(entity.AsText(raw["filename"]))
	if filename == "" {
		v.Add(field+".filename", nil, "is required")
	}
	result, isObject := raw["result"].(map[string]any)
	if !isObject {
		v.Add(field+".result", nil, "must be an object")
	}
	if len(v.Errors()) > before {
		return entity.ReviewRow{}, false
	}

	if err := checkContract(raw); err != nil {
		v.Add(field, nil, err.Error())
		return entity.ReviewRow{}, false
	}

	result = entity.CopyMap(result)
	if entity.AsText(result["run_date"]) == "" && runDate != "" {
		result["run_date"] = runDate
	}
	if !hasBusinessField(result) {
		v.Add(field+".result", nil, "must contain at least one non-empty field besides run_date")
		return entity.ReviewRow{}, false
	}

	rowID := entity.AsText(raw["row_id"])
	if rowID == "" {
		rowID = fmt.Sprintf("row-%04d", i+1)
	}
	score, _ := raw["score"].(map[string]any)
	var preview *string
	if p := entity.AsText(raw["preview_path"]); p != "" {
		preview = &p
	}

	return entity.ReviewRow{
		RowID:       rowID,
		Filename:    filename,
		Category:    category,
		Result:      result,
		Score:       entity.CopyMap(score),
		PreviewPath: preview,
	}, true
}

func hasBusinessField(result map[string]any) bool {
	for k, val := range result {
		if k == "run_date" {
			continue
		}
		switch t := val.(type) {
		case nil:
			continue
		case string:
			if entity.AsText(t) != "" {
				return true
			}
		case map[string]any:
			if len(t) > 0 {
				return true
			}
		case []any:
			if len(t) > 0 {
				return true
			}
		default:
			return true
		}
	}
	return false
}
