// Package ocrx defines the OCR boundary the worker calls into. Providers
// turn raw receipt bytes into a structured extraction; the pipeline treats
// them as opaque and interchangeable.
package ocrx

import (
	"context"
	"time"

	"github.com/Abraxas-365/recibo/pkg/errx"
)

var ocrErrors = errx.NewRegistry("OCRX")

var (
	ErrExtractionFailed = ocrErrors.Register("EXTRACTION_FAILED", errx.TypeExternal, 502, "OCR extraction failed")
	ErrUnreadable       = ocrErrors.Register("UNREADABLE", errx.TypeValidation, 422, "Document is not readable")
)

// ExtractionFailed wraps a provider error.
func ExtractionFailed(cause error) *errx.Error {
	return ocrErrors.NewWithCause(ErrExtractionFailed, cause)
}

// Unreadable marks a document the provider could not make sense of.
// Retrying will not help.
func Unreadable(reason string) *errx.Error {
	return ocrErrors.NewWithMessage(ErrUnreadable, reason)
}

// Extraction is the structured result of reading one receipt.
type Extraction struct {
	Text        string     `json:"text"`
	Confidence  float64    `json:"confidence"`
	VendorName  string     `json:"vendor_name"`
	TotalAmount float64    `json:"total_amount"`
	Currency    string     `json:"currency"`
	Date        *time.Time `json:"date,omitempty"`
}

// Extractor reads a receipt document.
type Extractor interface {
	Extract(ctx context.Context, data []byte, contentType string) (*Extraction, error)
}
