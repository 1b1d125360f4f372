package constants

import (
	"strings"
)

// Category is the kind of document a single input file holds.
type Category string

const (
	CategoryBar    Category = "bar"
	CategoryZBon   Category = "zbon"
	CategoryOffice Category = "office"
)

var allCategories = []Category{
	CategoryBar,
	CategoryZBon,
	CategoryOffice,
}

// BatchType decides which categories a batch may carry and how it is merged.
type BatchType string

const (
	BatchTypeDaily  BatchType = "daily"
	BatchTypeOffice BatchType = "office"
)

func AsStringSlice() []string {
	result := make([]string, len(allCategories))
	for i, cat := range allCategories {
		result[i] = string(cat)
	}
	return result
}

// Canonicalize trims and lower-cases input and reports whether it names a known category.
func Canonicalize(input string) (Category, bool) {
	normalized := Category(strings.ToLower(strings.TrimSpace(input)))
	if normalized == "" {
		return "", false
	}

	// common spellings seen on upload forms
	synonyms := map[Category]Category{
		"z-bon":   CategoryZBon,
		"z_bon":   CategoryZBon,
		"cash":    CategoryBar,
		"invoice": CategoryOffice,
	}
	if cat, ok := synonyms[normalized]; ok {
		return cat, true
	}

	for _, cat := range allCategories {
		if normalized == cat {
			return cat, true
		}
	}
	return normalized, false
}

// IsDaily reports whether the category belongs to the daily settlement flow.
func (c Category) IsDaily() bool {
	return c == CategoryBar || c == CategoryZBon
}

// AnalysisModel returns the Document Intelligence prebuilt model used for the category.
func (c Category) AnalysisModel() string {
	if c == CategoryOffice {
		return "prebuilt-invoice"
	}
	return "prebuilt-receipt"
}

// ParseBatchType accepts "daily"/"office" in any case.
func ParseBatchType(s string) (BatchType, bool) {
	switch BatchType(strings.ToLower(strings.TrimSpace(s))) {
	case BatchTypeDaily:
		return BatchTypeDaily, true
	case BatchTypeOffice:
		return BatchTypeOffice, true
	}
	return "", false
}

// Accepts reports whether a file of category c may be part of a batch of type t.
func (t BatchType) Accepts(c Category) bool {
	switch t {
	case BatchTypeDaily:
		return c.IsDaily()
	case BatchTypeOffice:
		return c == CategoryOffice
	}
	return false
}
