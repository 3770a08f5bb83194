// Package receipt holds the domain objects the async pipeline operates on:
// receipts flowing from upload or inbound email through OCR into exports.
package receipt

import (
	"context"
	"time"

	"github.com/Abraxas-365/recibo/pkg/errx"
	"github.com/Abraxas-365/recibo/pkg/kernel"
)

var receiptErrors = errx.NewRegistry("RECEIPT")

var (
	ErrReceiptNotFound = receiptErrors.Register("NOT_FOUND", errx.TypeNotFound, 404, "Receipt not found")
	ErrStore           = receiptErrors.Register("STORE", errx.TypeExternal, 500, "Receipt store operation failed")
)

// NotFound builds the canonical missing-receipt error.
func NotFound(id string) *errx.Error {
	return receiptErrors.New(ErrReceiptNotFound).WithDetail("receipt_id", id)
}

// Source records how a receipt entered the system.
type Source string

const (
	SourceUpload Source = "upload"
	SourceEmail  Source = "email"
)

// Status tracks the OCR pipeline position of a receipt.
type Status string

const (
	StatusPending   Status = "pending"
	StatusProcessed Status = "processed"
	StatusFailed    Status = "failed"
)

// Receipt is one stored receipt document and its extracted fields.
type Receipt struct {
	ID            string          `json:"id" db:"id"`
	TenantID      kernel.TenantID `json:"tenant_id" db:"tenant_id"`
	FileKey       string          `json:"file_key" db:"file_key"`
	Source        Source          `json:"source" db:"source"`
	Status        Status          `json:"status" db:"status"`
	VendorName    string          `json:"vendor_name,omitempty" db:"vendor_name"`
	TotalAmount   float64         `json:"total_amount,omitempty" db:"total_amount"`
	Currency      string          `json:"currency,omitempty" db:"currency"`
	ReceiptDate   *time.Time      `json:"receipt_date,omitempty" db:"receipt_date"`
	OCRText       string          `json:"ocr_text,omitempty" db:"ocr_text"`
	OCRConfidence float64         `json:"ocr_confidence,omitempty" db:"ocr_confidence"`
	FailureReason string          `json:"failure_reason,omitempty" db:"failure_reason"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// Store persists receipts.
type Store interface {
	Create(ctx context.Context, r *Receipt) error
	Get(ctx context.Context, id string) (*Receipt, error)
	Update(ctx context.Context, r *Receipt) error

	// ListByTenantBetween returns a tenant's receipts created inside
	// [from, to), oldest first. Used by the export handler.
	ListByTenantBetween(ctx context.Context, tenant kernel.TenantID, from, to time.Time) ([]*Receipt, error)
}
