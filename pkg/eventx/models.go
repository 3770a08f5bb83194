package eventx

import (
	"encoding/json"
	"time"
)

// Event is one immutable domain occurrence, e.g. "receipt.created".
type Event struct {
	ID         string          `json:"id" db:"id"`
	Type       string          `json:"type" db:"type"`
	Payload    json.RawMessage `json:"payload" db:"payload"`
	ProducedBy string          `json:"produced_by" db:"produced_by"`
	Timestamp  time.Time       `json:"timestamp" db:"timestamp"`
}

// Well-known event types emitted by the receipt pipeline.
const (
	TypeReceiptCreated   = "receipt.created"
	TypeReceiptProcessed = "receipt.processed"
	TypeReceiptDeleted   = "receipt.deleted"
	TypeExportCompleted  = "export.completed"
)
