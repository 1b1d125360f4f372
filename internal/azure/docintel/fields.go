package docintel

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/joseph-ayodele/bills-analysis/internal/extract"
)

const invoiceModel = "prebuilt-invoice"

type operation struct {
	Status        string         `json:"status"`
	AnalyzeResult *analyzeResult `json:"analyzeResult"`
	Error         *apiError      `json:"error"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type analyzeResult struct {
	Documents []document `json:"documents"`
}

type document struct {
	DocType string           `json:"docType"`
	Fields  map[string]field `json:"fields"`
}

type field struct {
	Type          string         `json:"type"`
	Content       string         `json:"content"`
	Confidence    *float64       `json:"confidence"`
	ValueString   *string        `json:"valueString"`
	ValueNumber   *float64       `json:"valueNumber"`
	ValueCurrency *currencyValue `json:"valueCurrency"`
}

type currencyValue struct {
	Amount       *float64 `json:"amount"`
	CurrencyCode string   `json:"currencyCode"`
}

func (f *field) text() (string, bool) {
	if f == nil {
		return "", false
	}
	if f.ValueString != nil && strings.TrimSpace(*f.ValueString) != "" {
		return *f.ValueString, true
	}
	if s := strings.TrimSpace(f.Content); s != "" {
		return s, true
	}
	return "", false
}

func (f *field) amount() (float64, bool) {
	if f == nil {
		return 0, false
	}
	if f.ValueCurrency != nil && f.ValueCurrency.Amount != nil {
		return *f.ValueCurrency.Amount, true
	}
	if f.ValueNumber != nil {
		return *f.ValueNumber, true
	}
	return parseAmount(f.Content)
}

func (f *field) confidence() any {
	if f == nil || f.Confidence == nil {
		return nil
	}
	return *f.Confidence
}

var amountNoise = regexp.MustCompile(`[^\d,.\-]`)

// parseAmount reads content like "1.181,75" or "1,181.75".
func parseAmount(content string) (float64, bool) {
	text := amountNoise.ReplaceAllString(strings.TrimSpace(content), "")
	if text == "" {
		return 0, false
	}
	comma, dot := strings.LastIndex(text, ","), strings.LastIndex(text, ".")
	if comma >= 0 && dot >= 0 {
		if comma > dot {
			text = strings.ReplaceAll(text, ".", "")
			text = strings.ReplaceAll(text, ",", ".")
		} else {
			text = strings.ReplaceAll(text, ",", "")
		}
	} else {
		text = strings.ReplaceAll(text, ",", ".")
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func lookup(fields map[string]field, names ...string) *field {
	for _, n := range names {
		if f, ok := fields[n]; ok {
			return &f
		}
	}
	return nil
}

// mapResult maps the first document onto the Field* keys. Invoices read VendorName and
// InvoiceTotal first, receipts MerchantName and Total. A missing brutto or netto is
// inferred from TotalTax and scored InferredConfidence.
func mapResult(model string, result *analyzeResult) *extract.Analysis {
	a := &extract.Analysis{
		Model: model,
		Values: map[string]any{
			extract.FieldStoreName: nil,
			extract.FieldBrutto:    nil,
			extract.FieldNetto:     nil,
			extract.FieldTotalTax:  nil,
			extract.FieldInvoiceID: nil,
		},
		Confidence: map[string]any{
			extract.FieldStoreName: nil,
			extract.FieldBrutto:    nil,
			extract.FieldNetto:     nil,
			extract.FieldTotalTax:  nil,
			extract.FieldInvoiceID: nil,
		},
		Raw: map[string]string{},
	}
	if result == nil || len(result.Documents) == 0 {
		return a
	}
	fields := result.Documents[0].Fields
	for name, f := range fields {
		if s, ok := f.text(); ok {
			a.Raw[name] = s
		}
	}

	isInvoice := model == invoiceModel
	var store, total *field
	if isInvoice {
		store = lookup(fields, "VendorName")
		total = lookup(fields, "InvoiceTotal", "Total")
	} else {
		store = lookup(fields, "MerchantName")
		total = lookup(fields, "Total", "InvoiceTotal")
	}
	if s, ok := store.text(); ok {
		a.Values[extract.FieldStoreName] = s
		a.Confidence[extract.FieldStoreName] = store.confidence()
	}

	brutto, hasBrutto := total.amount()
	if hasBrutto {
		a.Values[extract.FieldBrutto] = brutto
		a.Confidence[extract.FieldBrutto] = total.confidence()
	}
	subtotal := lookup(fields, "Subtotal", "SubTotal")
	netto, hasNetto := subtotal.amount()
	if hasNetto {
		a.Values[extract.FieldNetto] = netto
		a.Confidence[extract.FieldNetto] = subtotal.confidence()
	}

	taxField := lookup(fields, "TotalTax")
	if tax, ok := taxField.amount(); ok {
		a.Values[extract.FieldTotalTax] = tax
		a.Confidence[extract.FieldTotalTax] = taxField.confidence()
		switch {
		case !hasBrutto && hasNetto:
			a.Values[extract.FieldBrutto] = round2(netto + tax)
			a.Confidence[extract.FieldBrutto] = extract.InferredConfidence
		case !hasNetto && hasBrutto:
			a.Values[extract.FieldNetto] = round2(brutto - tax)
			a.Confidence[extract.FieldNetto] = extract.InferredConfidence
		}
	}

	if isInvoice {
		if id := lookup(fields, "InvoiceId"); id != nil {
			if s, ok := id.text(); ok {
				a.Values[extract.FieldInvoiceID] = s
				a.Confidence[extract.FieldInvoiceID] = id.confidence()
			}
		}
	}
	return a
}
