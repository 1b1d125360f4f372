package export

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

const (
	reviewFill     = "FFA500"
	checkPDFLabel  = "check pdf"
	needReviewName = "need review"
)

// cellRef addresses a cell of Sheet.Rows (zero-based row and column).
type cellRef struct {
	Row, Col int
}

// Sheet is a validated table ready to be written and merged.
type Sheet struct {
	Name      string
	Headers   []string
	Rows      [][]any
	Links     map[cellRef]string
	Highlight map[cellRef]bool
}

func newSheet(name string, headers []string) *Sheet {
	return &Sheet{
		Name:      name,
		Headers:   headers,
		Links:     map[cellRef]string{},
		Highlight: map[cellRef]bool{},
	}
}

func (s *Sheet) col(header string) int {
	for i, h := range s.Headers {
		if h == header {
			return i
		}
	}
	return -1
}

func (s *Sheet) mark(row int, header string) {
	if c := s.col(header); c >= 0 {
		s.Highlight[cellRef{Row: row, Col: c}] = true
	}
}

func (s *Sheet) link(row, col int, target string) {
	if target == "" || col < 0 {
		return
	}
	s.Rows[row][col] = checkPDFLabel
	s.Links[cellRef{Row: row, Col: col}] = target
}

// toLink turns a preview path or URL into a hyperlink target.
func toLink(value string) string {
	text := strings.TrimSpace(value)
	if text == "" {
		return ""
	}
	if strings.HasPrefix(text, "http://") || strings.HasPrefix(text, "https://") {
		return text
	}
	abs, err := filepath.Abs(text)
	if err != nil {
		return text
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()
}

// write renders the sheet into a new workbook at path.
func (s *Sheet) write(path string) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", s.Name); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	for i, h := range s.Headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(s.Name, cell, h); err != nil {
			return err
		}
	}
	for r, row := range s.Rows {
		for c, v := range row {
			if v == nil {
				continue
			}
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			if err := f.SetCellValue(s.Name, cell, v); err != nil {
				return err
			}
		}
	}

	if len(s.Highlight) > 0 {
		style, err := f.NewStyle(&excelize.Style{
			Fill: excelize.Fill{Type: "pattern", Color: []string{reviewFill}, Pattern: 1},
		})
		if err != nil {
			return fmt.Errorf("create fill style: %w", err)
		}
		for ref := range s.Highlight {
			cell, _ := excelize.CoordinatesToCellName(ref.Col+1, ref.Row+2)
			if err := f.SetCellStyle(s.Name, cell, cell, style); err != nil {
				return err
			}
		}
	}
	for ref, target := range s.Links {
		cell, _ := excelize.CoordinatesToCellName(ref.Col+1, ref.Row+2)
		if err := f.SetCellHyperLink(s.Name, cell, target, "External"); err != nil {
			return fmt.Errorf("set hyperlink %s: %w", cell, err)
		}
	}

	last, _ := excelize.ColumnNumberToName(len(s.Headers))
	_ = f.SetColWidth(s.Name, "A", "A", 14)
	_ = f.SetColWidth(s.Name, "B", last, 18)

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	return nil
}
