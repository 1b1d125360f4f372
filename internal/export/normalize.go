package export

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	isoDatePattern   = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	slashDatePattern = regexp.MustCompile(`^\d{2}/\d{2}/\d{4}$`)
	dotDatePattern   = regexp.MustCompile(`^\d{2}\.\d{2}\.\d{4}$`)
	nonNumeric       = regexp.MustCompile(`[^\d,.\-]`)
)

const datumLayout = "02/01/2006"

// NormalizeHeader lower-cases, strips "?" and collapses whitespace.
func NormalizeHeader(text string) string {
	s := strings.ToLower(strings.TrimSpace(text))
	s = strings.ReplaceAll(s, "?", "")
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeDate converts YYYY-MM-DD, DD/MM/YYYY or DD.MM.YYYY into DD/MM/YYYY.
// Anything else yields ok=false.
func NormalizeDate(value any) (string, bool) {
	if value == nil {
		return "", false
	}
	if t, ok := value.(time.Time); ok {
		return t.Format(datumLayout), true
	}
	text := strings.TrimSpace(fmt.Sprint(value))
	if text == "" || strings.EqualFold(text, "none") {
		return "", false
	}
	switch {
	case isoDatePattern.MatchString(text):
		t, err := time.Parse("2006-01-02", text)
		if err != nil {
			return "", false
		}
		return t.Format(datumLayout), true
	case slashDatePattern.MatchString(text):
		return text, true
	case dotDatePattern.MatchString(text):
		t, err := time.Parse("02.01.2006", text)
		if err != nil {
			return "", false
		}
		return t.Format(datumLayout), true
	}
	return "", false
}

// ToFloat parses amounts written in either European ("1.234,56") or US ("1,234.56") notation.
// When both separators appear the later one is the decimal separator; a lone comma is decimal.
func ToFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case nil:
		return 0, false
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	text := strings.TrimSpace(fmt.Sprint(value))
	if text == "" || strings.EqualFold(text, "none") {
		return 0, false
	}
	text = nonNumeric.ReplaceAllString(text, "")
	if text == "" || text == "-" || text == "." || text == "," {
		return 0, false
	}
	comma, dot := strings.LastIndex(text, ","), strings.LastIndex(text, ".")
	switch {
	case comma >= 0 && dot >= 0:
		if comma > dot {
			text = strings.ReplaceAll(text, ".", "")
			text = strings.ReplaceAll(text, ",", ".")
		} else {
			text = strings.ReplaceAll(text, ",", "")
		}
	default:
		text = strings.ReplaceAll(text, ",", ".")
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// ToScore parses a confidence value without any separator handling.
func ToScore(value any) (float64, bool) {
	switch v := value.(type) {
	case nil:
		return 0, false
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	}
	text := strings.TrimSpace(fmt.Sprint(value))
	if text == "" || strings.EqualFold(text, "none") {
		return 0, false
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	if !ok {
		return false
	}
	s = strings.TrimSpace(s)
	return s == "" || s == "None"
}

func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}
