package export

import (
	"errors"

	"github.com/joseph-ayodele/bills-analysis/constants"
	"github.com/joseph-ayodele/bills-analysis/internal/entity"
)

// ErrNoOfficeRows is returned when an office merge has no office rows.
var ErrNoOfficeRows = errors.New("No office review rows available for merge")

// OfficeHeaders returns the validated office header row.
func OfficeHeaders() []string {
	return []string{
		"Datum",
		"Type",
		"Rechnung Name",
		"Brutto",
		"Netto",
		"Steuernummer",
		"Is Receiver OK",
		needReviewName,
		"Rechnung Scannen",
	}
}

// BuildOfficeSheet renders one row per office review row.
func BuildOfficeSheet(rows []entity.ReviewRow, runDate string, t Thresholds) (*Sheet, error) {
	sheet := newSheet("Office", OfficeHeaders())
	for _, r := range rows {
		cat, _ := constants.Canonicalize(string(r.Category))
		if cat != constants.CategoryOffice {
			continue
		}
		result := r.Result
		datum, ok := NormalizeDate(result["run_date"])
		if !ok {
			if datum, ok = NormalizeDate(runDate); !ok {
				datum = runDate
			}
		}

		idx := len(sheet.Rows)
		sheet.Rows = append(sheet.Rows, []any{
			datum,
			nilIfBlank(result["type"]),
			nilIfBlank(result["sender"]),
			nilIfBlank(result["brutto"]),
			nilIfBlank(result["netto"]),
			nilIfBlank(result["tax_id"]),
			result["receiver_ok"],
			false,
			nil,
		})

		needReview := false
		for field, header := range map[string]string{"brutto": "Brutto", "netto": "Netto"} {
			s, ok := ToScore(r.Score[field])
			if !ok || s < t.For(field) {
				sheet.mark(idx, header)
				needReview = true
			}
		}
		if isBlank(result["tax_id"]) {
			sheet.mark(idx, "Steuernummer")
			needReview = true
		}
		if ok, _ := result["receiver_ok"].(bool); !ok {
			sheet.mark(idx, "Is Receiver OK")
			needReview = true
		}
		sheet.Rows[idx][sheet.col(needReviewName)] = needReview
		if needReview {
			sheet.mark(idx, needReviewName)
		}
		if r.PreviewPath != nil {
			sheet.link(idx, sheet.col("Rechnung Scannen"), toLink(*r.PreviewPath))
		}
	}
	if len(sheet.Rows) == 0 {
		return nil, ErrNoOfficeRows
	}
	return sheet, nil
}

func nilIfBlank(v any) any {
	if isBlank(v) {
		return nil
	}
	return v
}
