package export

import (
	"errors"
	"fmt"

	"github.com/joseph-ayodele/bills-analysis/constants"
	"github.com/joseph-ayodele/bills-analysis/internal/entity"
)

// MaxAusgaben is the number of zbon expense slots in the daily summary.
const MaxAusgaben = 5

const unknownDatum = "UNKNOWN"

// ErrNoDailyRows is returned when a daily merge has no bar or zbon rows.
var ErrNoDailyRows = errors.New("No daily review rows available for merge")

// DailyHeaders returns the validated daily summary header row.
func DailyHeaders() []string {
	headers := []string{"Datum", "Umsatz Brutto", "Umsatz Netto", needReviewName, "Wie viel Rechnungen"}
	for i := 1; i <= MaxAusgaben; i++ {
		headers = append(headers,
			fmt.Sprintf("Ausgabe %d Name", i),
			fmt.Sprintf("Ausgabe %d Brutto", i),
			fmt.Sprintf("Ausgabe %d Netto", i),
		)
	}
	return headers
}

type dailyItem struct {
	row    entity.ReviewRow
	result map[string]any
	datum  string
}

// BuildDailySheet folds the bar and zbon rows of one run date into a single summary row.
// Row 2 of the sheet carries preview links under the Ausgabe name columns.
func BuildDailySheet(rows []entity.ReviewRow, runDate string, t Thresholds) (*Sheet, error) {
	var items []dailyItem
	for _, r := range rows {
		cat, _ := constants.Canonicalize(string(r.Category))
		if !cat.IsDaily() {
			continue
		}
		result := entity.CopyMap(r.Result)
		if isBlank(result["run_date"]) && runDate != "" {
			result["run_date"] = runDate
		}
		datum, ok := NormalizeDate(result["run_date"])
		if !ok {
			datum = unknownDatum
		}
		r.Category = cat
		items = append(items, dailyItem{row: r, result: result, datum: datum})
	}
	if len(items) == 0 {
		return nil, ErrNoDailyRows
	}

	target, ok := NormalizeDate(runDate)
	if !ok || !hasDatum(items, target) {
		target = items[0].datum
	}

	sheet := newSheet("Results", DailyHeaders())
	summary := make([]any, len(sheet.Headers))
	links := make([]any, len(sheet.Headers))
	sheet.Rows = [][]any{summary, links}
	summary[0] = target

	needReview := false
	zbonCount := 0
	for _, it := range items {
		if it.datum != target {
			continue
		}
		low := LowConfidenceFields(it.result, it.row.Score, t)
		if len(low) > 0 {
			needReview = true
		}
		switch it.row.Category {
		case constants.CategoryBar:
			summary[sheet.col("Umsatz Brutto")] = floatOrNil(it.result["brutto"])
			summary[sheet.col("Umsatz Netto")] = floatOrNil(it.result["netto"])
			if low["brutto"] {
				sheet.mark(0, "Umsatz Brutto")
			}
			if low["netto"] {
				sheet.mark(0, "Umsatz Netto")
			}
		case constants.CategoryZBon:
			zbonCount++
			if zbonCount > MaxAusgaben {
				continue
			}
			base := fmt.Sprintf("Ausgabe %d", zbonCount)
			name := entity.AsText(it.result["store_name"])
			if isBlank(name) {
				name = ""
			}
			summary[sheet.col(base+" Name")] = name
			summary[sheet.col(base+" Brutto")] = floatOrNil(it.result["brutto"])
			summary[sheet.col(base+" Netto")] = floatOrNil(it.result["netto"])
			if low["brutto"] {
				sheet.mark(0, base+" Brutto")
			}
			if low["netto"] {
				sheet.mark(0, base+" Netto")
			}
			if it.row.PreviewPath != nil {
				sheet.link(1, sheet.col(base+" Name"), toLink(*it.row.PreviewPath))
			}
		}
	}
	summary[sheet.col(needReviewName)] = needReview
	summary[sheet.col("Wie viel Rechnungen")] = zbonCount
	if needReview {
		sheet.mark(0, needReviewName)
	}
	return sheet, nil
}

func hasDatum(items []dailyItem, datum string) bool {
	for _, it := range items {
		if it.datum == datum {
			return true
		}
	}
	return false
}

func floatOrNil(v any) any {
	if f, ok := ToFloat(v); ok {
		return f
	}
	return nil
}
