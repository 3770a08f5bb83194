package jobx

import (
	"encoding/json"
	"strings"
)

// Payload is implemented by the typed payload of each queue. Payloads are
// validated at enqueue time so malformed work never reaches a worker.
type Payload interface {
	QueueName() QueueName
	Validate() error
}

// OCRPayload asks the OCR queue to extract a stored receipt image.
type OCRPayload struct {
	ReceiptID string `json:"receipt_id"`
	TenantID  string `json:"tenant_id"`
	FileKey   string `json:"file_key"`
}

func (p OCRPayload) QueueName() QueueName { return QueueOCR }

func (p OCRPayload) Validate() error {
	if p.ReceiptID == "" {
		return jobxErrors.New(ErrInvalidPayload).WithDetail("missing", "receipt_id")
	}
	if p.TenantID == "" {
		return jobxErrors.New(ErrInvalidPayload).WithDetail("missing", "tenant_id")
	}
	if p.FileKey == "" {
		return jobxErrors.New(ErrInvalidPayload).WithDetail("missing", "file_key")
	}
	return nil
}

// EmailPayload asks the email queue to ingest one inbound message and
// enqueue OCR for its attachments.
type EmailPayload struct {
	MessageID   string   `json:"message_id"`
	TenantID    string   `json:"tenant_id"`
	From        string   `json:"from"`
	Subject     string   `json:"subject"`
	Attachments []string `json:"attachments"`
}

func (p EmailPayload) QueueName() QueueName { return QueueEmail }

func (p EmailPayload) Validate() error {
	if p.MessageID == "" {
		return jobxErrors.New(ErrInvalidPayload).WithDetail("missing", "message_id")
	}
	if p.TenantID == "" {
		return jobxErrors.New(ErrInvalidPayload).WithDetail("missing", "tenant_id")
	}
	if !strings.Contains(p.From, "@") {
		return jobxErrors.New(ErrInvalidPayload).WithDetail("invalid", "from")
	}
	return nil
}

// ExportFormat is the artifact format of an export job.
type ExportFormat string

const (
	ExportCSV  ExportFormat = "csv"
	ExportJSON ExportFormat = "json"
)

// ExportPayload asks the export queue to generate a receipt export artifact.
type ExportPayload struct {
	ExportID string       `json:"export_id"`
	TenantID string       `json:"tenant_id"`
	Format   ExportFormat `json:"format"`
	FromDate string       `json:"from_date,omitempty"`
	ToDate   string       `json:"to_date,omitempty"`
}

func (p ExportPayload) QueueName() QueueName { return QueueExport }

func (p ExportPayload) Validate() error {
	if p.ExportID == "" {
		return jobxErrors.New(ErrInvalidPayload).WithDetail("missing", "export_id")
	}
	if p.TenantID == "" {
		return jobxErrors.New(ErrInvalidPayload).WithDetail("missing", "tenant_id")
	}
	if p.Format != ExportCSV && p.Format != ExportJSON {
		return jobxErrors.New(ErrInvalidPayload).WithDetail("invalid", "format")
	}
	return nil
}

// EncodePayload validates a typed payload and serializes it for storage.
func EncodePayload(p Payload) (json.RawMessage, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, jobxErrors.NewWithCause(ErrInvalidPayload, err)
	}
	return data, nil
}

// DecodePayload parses raw job data back into the queue's typed payload.
func DecodePayload(queue QueueName, raw json.RawMessage) (Payload, error) {
	var p Payload
	switch queue {
	case QueueOCR:
		var v OCRPayload
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, jobxErrors.NewWithCause(ErrInvalidPayload, err)
		}
		p = v
	case QueueEmail:
		var v EmailPayload
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, jobxErrors.NewWithCause(ErrInvalidPayload, err)
		}
		p = v
	case QueueExport:
		var v ExportPayload
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, jobxErrors.NewWithCause(ErrInvalidPayload, err)
		}
		p = v
	default:
		return nil, jobxErrors.New(ErrUnknownQueue).WithDetail("queue", string(queue))
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
