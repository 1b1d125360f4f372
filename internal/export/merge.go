package export

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

type cellUpdate struct {
	header string
	value  any
}

// mergeValidatedRow maps validated columns onto monthly headers by normalized name.
// "need review" is never merged; "Ausgabe N Name" becomes "<name> <brutto>".
func mergeValidatedRow(validatedHeaders []string, row []any, monthlyHeaders []string) ([]cellUpdate, []string) {
	headerMap := map[string]string{}
	for _, name := range monthlyHeaders {
		key := NormalizeHeader(name)
		if _, seen := headerMap[key]; key != "" && !seen {
			headerMap[key] = name
		}
	}
	validated := map[string]any{}
	for i, h := range validatedHeaders {
		if i < len(row) {
			validated[NormalizeHeader(h)] = row[i]
		}
	}

	var updates []cellUpdate
	var missing []string
	for i, h := range validatedHeaders {
		key := NormalizeHeader(h)
		if key == needReviewName {
			continue
		}
		var v any
		if i < len(row) {
			v = row[i]
		}
		target, ok := headerMap[key]
		if !ok {
			missing = append(missing, h)
			continue
		}
		if strings.HasPrefix(key, "ausgabe") && strings.HasSuffix(key, " name") {
			name := formatValue(v)
			brutto := formatValue(validated[strings.TrimSuffix(key, " name")+" brutto"])
			updates = append(updates, cellUpdate{header: target, value: strings.TrimSpace(name + " " + brutto)})
			continue
		}
		updates = append(updates, cellUpdate{header: target, value: v})
	}
	return updates, missing
}

// monthlyBook is an opened copy of the monthly workbook.
type monthlyBook struct {
	f       *excelize.File
	sheet   string
	headers []string
	lastRow int
}

func openMonthly(path string) (*monthlyBook, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open monthly excel: %w", err)
	}
	sheet := f.GetSheetName(f.GetActiveSheetIndex())
	rows, err := f.GetRows(sheet)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("read monthly excel: %w", err)
	}
	if len(rows) == 0 {
		_ = f.Close()
		return nil, fmt.Errorf("monthly excel has no header row: %s", path)
	}
	headers := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		headers[i] = strings.TrimSpace(h)
	}
	return &monthlyBook{f: f, sheet: sheet, headers: headers, lastRow: len(rows)}, nil
}

func (m *monthlyBook) close() { _ = m.f.Close() }

func (m *monthlyBook) headerCol(header string) int {
	for i, h := range m.headers {
		if h == header {
			return i + 1
		}
	}
	return 0
}

// datumAt reads column A of row as DD/MM/YYYY when it holds a date in any supported form.
func (m *monthlyBook) datumAt(row int) string {
	cell, _ := excelize.CoordinatesToCellName(1, row)
	raw, _ := m.f.GetCellValue(m.sheet, cell, excelize.Options{RawCellValue: true})
	if d, ok := NormalizeDate(raw); ok {
		return d
	}
	shown, _ := m.f.GetCellValue(m.sheet, cell)
	if d, ok := NormalizeDate(shown); ok {
		return d
	}
	if serial, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err == nil && serial > 1 {
		if t, err := excelize.ExcelDateToTime(serial, false); err == nil {
			return t.Format(datumLayout)
		}
	}
	return strings.TrimSpace(raw)
}

// findRowByDatum returns the 1-based row whose date equals datum, or 0.
func (m *monthlyBook) findRowByDatum(datum any) int {
	target, ok := NormalizeDate(datum)
	if !ok {
		target = formatValue(datum)
	}
	for r := 2; r <= m.lastRow; r++ {
		if m.datumAt(r) == target {
			return r
		}
	}
	return 0
}

func (m *monthlyBook) set(col, row int, v any) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	if v == nil {
		v = ""
	}
	return m.f.SetCellValue(m.sheet, cell, v)
}

func (m *monthlyBook) setDatum(row int, v any) error {
	d, ok := NormalizeDate(v)
	if !ok {
		d = formatValue(v)
	}
	return m.set(1, row, d)
}

func (m *monthlyBook) setLink(col, row int, target string) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	return m.f.SetCellHyperLink(m.sheet, cell, target, "External")
}

func resolveOutput(outDir, validatedPath, monthlyPath string, unix int64) (string, error) {
	out := filepath.Join(outDir, fmt.Sprintf("full_result_%d.xlsx", unix))
	absOut, _ := filepath.Abs(out)
	for _, other := range []string{validatedPath, monthlyPath} {
		if other == "" {
			continue
		}
		if absOther, _ := filepath.Abs(other); absOther == absOut {
			return "", fmt.Errorf("output path %s collides with an input workbook", out)
		}
	}
	return out, nil
}
