package review

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/bills-analysis/constants"
	"github.com/joseph-ayodele/bills-analysis/internal/common"
	"github.com/joseph-ayodele/bills-analysis/internal/entity"
)

func validRow() map[string]any {
	return map[string]any{
		"category": "zbon",
		"filename": "z1.pdf",
		"result":   map[string]any{"brutto": "100.00"},
		"score":    map[string]any{"brutto": 0.97},
	}
}

func TestNormalizeCanonicalRows(t *testing.T) {
	second := validRow()
	second["row_id"] = "row-0042"
	second["category"] = " ZBON "
	second["preview_path"] = "/out/b1/archive/zbon/z1.pdf"
	second["result"] = map[string]any{"brutto": "5", "run_date": "03/02/2026"}

	rows, err := Normalize("04/02/2026", []map[string]any{validRow(), second})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "row-0001", rows[0].RowID)
	assert.Equal(t, constants.CategoryZBon, rows[0].Category)
	assert.Equal(t, "04/02/2026", rows[0].Result["run_date"])
	assert.Nil(t, rows[0].PreviewPath)
	assert.Equal(t, 0.97, rows[0].Score["brutto"])

	assert.Equal(t, "row-0042", rows[1].RowID)
	assert.Equal(t, constants.CategoryZBon, rows[1].Category)
	assert.Equal(t, "03/02/2026", rows[1].Result["run_date"], "explicit run_date is kept")
	require.NotNil(t, rows[1].PreviewPath)
	assert.Equal(t, "/out/b1/archive/zbon/z1.pdf", *rows[1].PreviewPath)
}

func TestNormalizeDoesNotMutateInput(t *testing.T) {
	in := validRow()
	_, err := Normalize("04/02/2026", []map[string]any{in})
	require.NoError(t, err)
	_, has := in["result"].(map[string]any)["run_date"]
	assert.False(t, has)
}

func TestNormalizeRejectsWholeSubmission(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(map[string]any)
		want   string
	}{
		{"unknown category", func(r map[string]any) { r["category"] = "fuel" }, "rows[1].category: must be one of bar, zbon, office"},
		{"missing category", func(r map[string]any) { delete(r, "category") }, "rows[1].category"},
		{"empty filename", func(r map[string]any) { r["filename"] = "   " }, "rows[1].filename: is required"},
		{"missing result", func(r map[string]any) { delete(r, "result") }, "rows[1].result: must be an object"},
		{"result not an object", func(r map[string]any) { r["result"] = "100" }, "rows[1].result: must be an object"},
		{"only run_date", func(r map[string]any) { r["result"] = map[string]any{"run_date": "04/02/2026"} }, "non-empty field besides run_date"},
		{"blank business fields", func(r map[string]any) { r["result"] = map[string]any{"brutto": " ", "netto": nil, "sender": ""} }, "non-empty field besides run_date"},
		{"score wrong type", func(r map[string]any) { r["score"] = "high" }, "rows[1]: /score"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bad := validRow()
			tt.mutate(bad)
			rows, err := Normalize("04/02/2026", []map[string]any{validRow(), bad})
			require.Error(t, err)
			assert.Nil(t, rows)
			assert.True(t, common.IsValidation(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestNormalizeKeepsLiteralNone(t *testing.T) {
	row := validRow()
	row["filename"] = "None"
	row["result"] = map[string]any{"store_name": "None"}

	rows, err := Normalize("04/02/2026", []map[string]any{row})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "None", rows[0].Filename)
	assert.Equal(t, "None", rows[0].Result["store_name"])
}

func TestNormalizeEmptySubmission(t *testing.T) {
	_, err := Normalize("", nil)
	require.Error(t, err)
	assert.True(t, common.IsValidation(err))
}

func TestNormalizeIsIdempotent(t *testing.T) {
	first, err := Normalize("04/02/2026", []map[string]any{validRow()})
	require.NoError(t, err)
	second, err := Normalize("04/02/2026", asSubmission(first))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

// asSubmission renders canonical rows in the shape a reviewer sends back.
func asSubmission(rows []entity.ReviewRow) []map[string]any {
	out := make([]map[string]any, len(rows))
	for i, r := range rows {
		m := map[string]any{
			"row_id":   r.RowID,
			"filename": r.Filename,
			"category": string(r.Category),
			"result":   entity.CopyMap(r.Result),
			"score":    entity.CopyMap(r.Score),
		}
		if r.PreviewPath != nil {
			m["preview_path"] = *r.PreviewPath
		}
		out[i] = m
	}
	return out
}
