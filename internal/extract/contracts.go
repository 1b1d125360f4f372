package extract

import (
	"context"
	"errors"
	"strings"
)

// Field keys produced by a DocumentAnalyzer.
const (
	FieldStoreName = "store_name"
	FieldBrutto    = "brutto"
	FieldNetto     = "netto"
	FieldTotalTax  = "total_tax"
	FieldInvoiceID = "invoice_id"
)

// InferredConfidence marks an amount derived from other fields rather than read from the document.
const InferredConfidence = -1.0

// Analysis is the normalized output of one document analysis call.
// Values and Confidence use the Field* keys; a missing field maps to nil.
type Analysis struct {
	Model      string
	Values     map[string]any
	Confidence map[string]any
	// Raw holds every recognized document field as text, for semantic enrichment.
	Raw map[string]string
}

// Value returns the value stored under key, or nil.
func (a *Analysis) Value(key string) any {
	if a == nil || a.Values == nil {
		return nil
	}
	return a.Values[key]
}

// Score returns the confidence stored under key, or nil.
func (a *Analysis) Score(key string) any {
	if a == nil || a.Confidence == nil {
		return nil
	}
	return a.Confidence[key]
}

// DocumentAnalyzer is Stage 1: PDF -> amounts and names with confidences.
type DocumentAnalyzer interface {
	Analyze(ctx context.Context, path, model string) (*Analysis, error)
}

// OfficeSemantics is what the language model reads off an invoice.
type OfficeSemantics struct {
	Purpose  string `json:"purpose"`
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`
}

// SemanticExtractor is Stage 2 for office invoices: raw fields -> purpose, sender, receiver.
type SemanticExtractor interface {
	ExtractOfficeSemantics(ctx context.Context, fields map[string]string) (*OfficeSemantics, error)
}

// ErrUnconfigured is returned by Unconfigured collaborators.
var ErrUnconfigured = errors.New("extraction service is not configured")

// Unconfigured stands in for a service whose credentials are missing. Every call fails
// with a message naming the missing settings, so rows fail instead of the process.
type Unconfigured struct {
	Service string
	EnvVars []string
}

func (u Unconfigured) err() error {
	msg := u.Service + " is not configured"
	if len(u.EnvVars) > 0 {
		msg += " (set " + strings.Join(u.EnvVars, ", ") + ")"
	}
	return &unconfiguredError{msg: msg}
}

type unconfiguredError struct{ msg string }

func (e *unconfiguredError) Error() string { return e.msg }
func (e *unconfiguredError) Unwrap() error { return ErrUnconfigured }

func (u Unconfigured) Analyze(context.Context, string, string) (*Analysis, error) {
	return nil, u.err()
}

func (u Unconfigured) ExtractOfficeSemantics(context.Context, map[string]string) (*OfficeSemantics, error) {
	return nil, u.err()
}
