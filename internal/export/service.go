package export

import (
	"fmt"
	"log/slog"
	"os"
	"time"
)

// Service produces validated workbooks and merges them into monthly workbooks.
type Service struct {
	thresholds Thresholds
	logger     *slog.Logger
	now        func() time.Time
}

func NewService(thresholds Thresholds, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{thresholds: thresholds, logger: logger.With("component", "export"), now: time.Now}
}

// Thresholds returns the confidence thresholds in use.
func (s *Service) Thresholds() Thresholds { return s.thresholds }

// WriteSheet writes a validated sheet to path.
func (s *Service) WriteSheet(sheet *Sheet, path string) error {
	start := s.now()
	if err := sheet.write(path); err != nil {
		return err
	}
	s.logger.Info("export.xlsx.ok",
		"path", path,
		"sheet", sheet.Name,
		"rows", len(sheet.Rows),
		"highlighted", len(sheet.Highlight),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// MergeDaily copies the monthly workbook into outDir and overwrites the row whose Datum
// matches the validated summary row. A missing date is an error, never an append.
func (s *Service) MergeDaily(validated *Sheet, validatedPath, monthlyPath, outDir string) (string, error) {
	start := s.now()
	if len(validated.Headers) == 0 || validated.Headers[0] != "Datum" {
		return "", fmt.Errorf("validated sheet must have 'Datum' as the first column")
	}
	if len(validated.Rows) == 0 {
		return "", fmt.Errorf("validated sheet must contain exactly one data row")
	}
	row := validated.Rows[0]
	datum := formatValue(row[0])
	if datum == "" {
		return "", fmt.Errorf("validated sheet has empty Datum")
	}

	outPath, err := s.prepareOutput(outDir, validatedPath, monthlyPath)
	if err != nil {
		return "", err
	}
	book, err := openMonthly(monthlyPath)
	if err != nil {
		return "", err
	}
	defer book.close()

	target := book.findRowByDatum(datum)
	if target == 0 {
		return "", fmt.Errorf("Datum not found in monthly Excel: %s", datum)
	}

	updates, missing := mergeValidatedRow(validated.Headers, row, book.headers)
	for _, u := range updates {
		col := book.headerCol(u.header)
		if col == 0 {
			continue
		}
		if NormalizeHeader(u.header) == "datum" {
			err = book.setDatum(target, u.value)
		} else {
			err = book.set(col, target, u.value)
		}
		if err != nil {
			return "", fmt.Errorf("write %s: %w", u.header, err)
		}
	}
	if len(missing) > 0 {
		s.logger.Warn("export.merge.missing_headers", "headers", missing)
	}
	if err := book.f.SaveAs(outPath); err != nil {
		return "", fmt.Errorf("save merged excel: %w", err)
	}

	s.logger.Info("export.merge.ok",
		"kind", "daily",
		"datum", datum,
		"row", target,
		"out", outPath,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return outPath, nil
}

// MergeOffice copies the monthly workbook into outDir and writes every validated row,
// appending all of them or overwriting the first row with the same Datum.
func (s *Service) MergeOffice(validated *Sheet, validatedPath, monthlyPath, outDir string, appendRows bool) (string, error) {
	start := s.now()
	if len(validated.Headers) == 0 || NormalizeHeader(validated.Headers[0]) != "datum" {
		return "", fmt.Errorf("validated sheet must have 'Datum' as the first column")
	}
	if len(validated.Rows) == 0 {
		return "", fmt.Errorf("validated sheet has no data rows")
	}

	outPath, err := s.prepareOutput(outDir, validatedPath, monthlyPath)
	if err != nil {
		return "", err
	}
	book, err := openMonthly(monthlyPath)
	if err != nil {
		return "", err
	}
	defer book.close()

	appended, overwritten := 0, 0
	for r, row := range validated.Rows {
		values, links := filterNeedReview(validated, r, row)
		if len(values) == 0 {
			continue
		}

		target := 0
		if !appendRows {
			target = book.findRowByDatum(values[0])
		}
		if target == 0 {
			book.lastRow++
			target = book.lastRow
			appended++
		} else {
			overwritten++
		}

		for c, v := range values {
			if c == 0 {
				err = book.setDatum(target, v)
			} else {
				err = book.set(c+1, target, v)
			}
			if err != nil {
				return "", err
			}
			if links[c] != "" {
				if err := book.setLink(c+1, target, links[c]); err != nil {
					return "", err
				}
			}
		}
	}
	if err := book.f.SaveAs(outPath); err != nil {
		return "", fmt.Errorf("save merged excel: %w", err)
	}

	s.logger.Info("export.merge.ok",
		"kind", "office",
		"append", appendRows,
		"appended", appended,
		"overwritten", overwritten,
		"out", outPath,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return outPath, nil
}

func (s *Service) prepareOutput(outDir, validatedPath, monthlyPath string) (string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	return resolveOutput(outDir, validatedPath, monthlyPath, s.now().Unix())
}

// filterNeedReview drops the "need review" column from one validated row.
func filterNeedReview(sheet *Sheet, r int, row []any) ([]any, []string) {
	values := make([]any, 0, len(row))
	links := make([]string, 0, len(row))
	for c, v := range row {
		if c < len(sheet.Headers) && NormalizeHeader(sheet.Headers[c]) == needReviewName {
			continue
		}
		values = append(values, v)
		links = append(links, sheet.Links[cellRef{Row: r, Col: c}])
	}
	return values, links
}
