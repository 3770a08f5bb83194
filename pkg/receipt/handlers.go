package receipt

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/Abraxas-365/recibo/pkg/asyncx"
	"github.com/Abraxas-365/recibo/pkg/errx"
	"github.com/Abraxas-365/recibo/pkg/eventx"
	"github.com/Abraxas-365/recibo/pkg/fsx"
	"github.com/Abraxas-365/recibo/pkg/jobx"
	"github.com/Abraxas-365/recibo/pkg/kernel"
	"github.com/Abraxas-365/recibo/pkg/logx"
	"github.com/Abraxas-365/recibo/pkg/mailx"
	"github.com/Abraxas-365/recibo/pkg/receipt/ocrx"
)

const (
	ocrTimeout       = 90 * time.Second
	exportURLExpires = 24 * time.Hour

	ackTemplate     = "receipt_ack"
	ackTemplateHTML = `<p>Received {{.Count}} receipt(s). They are being processed.</p>`
)

// Handlers are the three queue handlers the worker registers. Each one is a
// jobx.HandlerFunc: transient errors bubble up for retry, unrecoverable
// conditions are wrapped with jobx.Permanent.
type Handlers struct {
	receipts  Store
	files     fsx.FileStore
	presigner fsx.Presigner
	extractor ocrx.Extractor
	mailer    *mailx.Client
	bus       *eventx.Bus
	jobs      *jobx.Client
}

func NewHandlers(receipts Store, files fsx.FileStore, presigner fsx.Presigner, extractor ocrx.Extractor, mailer *mailx.Client, bus *eventx.Bus, jobs *jobx.Client) *Handlers {
	if mailer != nil {
		if err := mailer.RegisterTemplate(ackTemplate, ackTemplateHTML); err != nil {
			logx.WithError(err).Errorf("receipt: ack template registration failed")
		}
	}
	return &Handlers{
		receipts:  receipts,
		files:     files,
		presigner: presigner,
		extractor: extractor,
		mailer:    mailer,
		bus:       bus,
		jobs:      jobs,
	}
}

// Register wires the handlers into the job client.
func (h *Handlers) Register() {
	h.jobs.Register(jobx.QueueOCR, h.HandleOCR)
	h.jobs.Register(jobx.QueueEmail, h.HandleEmail)
	h.jobs.Register(jobx.QueueExport, h.HandleExport)
}

// HandleOCR reads the stored document, runs extraction and records the
// result on the receipt. A missing file or unreadable document is
// permanent; provider failures are transient and retried.
func (h *Handlers) HandleOCR(ctx context.Context, job *jobx.Job) (json.RawMessage, error) {
	payload, err := jobx.DecodePayload(job.Queue, job.Payload)
	if err != nil {
		return nil, jobx.Permanent(err)
	}
	p := payload.(jobx.OCRPayload)

	rec, err := h.receipts.Get(ctx, p.ReceiptID)
	if err != nil {
		return nil, jobx.Permanent(err)
	}

	data, err := h.files.Read(ctx, p.FileKey)
	if err != nil {
		if errx.HasCode(err, fsx.ErrNotFound) {
			h.failReceipt(ctx, rec, "document file is missing")
			return nil, jobx.Permanent(err)
		}
		return nil, err
	}

	info, _ := h.files.Stat(ctx, p.FileKey)

	extractCtx, cancel := context.WithTimeout(ctx, ocrTimeout)
	defer cancel()
	extraction, err := h.extractor.Extract(extractCtx, data, info.ContentType)
	if err != nil {
		if errx.HasCode(err, ocrx.ErrUnreadable) {
			h.failReceipt(ctx, rec, "document is not readable")
			return nil, jobx.Permanent(err)
		}
		return nil, err
	}

	now := time.Now().UTC()
	rec.Status = StatusProcessed
	rec.VendorName = extraction.VendorName
	rec.TotalAmount = extraction.TotalAmount
	rec.Currency = extraction.Currency
	rec.ReceiptDate = extraction.Date
	rec.OCRText = extraction.Text
	rec.OCRConfidence = extraction.Confidence
	rec.FailureReason = ""
	rec.UpdatedAt = now
	if err := h.receipts.Update(ctx, rec); err != nil {
		return nil, err
	}

	h.emit(ctx, eventx.TypeReceiptProcessed, map[string]any{
		"receipt_id": rec.ID,
		"tenant_id":  rec.TenantID,
		"vendor":     extraction.VendorName,
		"amount":     extraction.TotalAmount,
		"currency":   extraction.Currency,
		"confidence": extraction.Confidence,
	})

	return json.Marshal(map[string]any{
		"receipt_id": rec.ID,
		"vendor":     extraction.VendorName,
		"amount":     extraction.TotalAmount,
		"confidence": extraction.Confidence,
	})
}

// HandleEmail ingests one inbound message: a receipt per attachment, an OCR
// job per receipt, and an acknowledgment back to the sender.
func (h *Handlers) HandleEmail(ctx context.Context, job *jobx.Job) (json.RawMessage, error) {
	payload, err := jobx.DecodePayload(job.Queue, job.Payload)
	if err != nil {
		return nil, jobx.Permanent(err)
	}
	p := payload.(jobx.EmailPayload)

	if len(p.Attachments) == 0 {
		return nil, jobx.Permanent(fmt.Errorf("message %s has no attachments", p.MessageID))
	}

	now := time.Now().UTC()
	ingest := make([]func(context.Context) (string, error), 0, len(p.Attachments))
	for _, fileKey := range p.Attachments {
		ingest = append(ingest, func(ctx context.Context) (string, error) {
			rec := &Receipt{
				ID:        uuid.New().String(),
				TenantID:  kernel.TenantID(p.TenantID),
				FileKey:   fileKey,
				Source:    SourceEmail,
				Status:    StatusPending,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := h.receipts.Create(ctx, rec); err != nil {
				return "", err
			}

			_, err := h.jobs.Enqueue(ctx, jobx.OCRPayload{
				ReceiptID: rec.ID,
				TenantID:  p.TenantID,
				FileKey:   fileKey,
			})
			if err != nil {
				return "", err
			}

			h.emit(ctx, eventx.TypeReceiptCreated, map[string]any{
				"receipt_id": rec.ID,
				"tenant_id":  p.TenantID,
				"source":     string(SourceEmail),
				"file_key":   fileKey,
			})
			return rec.ID, nil
		})
	}
	created, err := asyncx.All(ctx, ingest...)
	if err != nil {
		return nil, err
	}

	if h.mailer != nil {
		ack := mailx.Message{
			To:       []string{p.From},
			Subject:  "Re: " + p.Subject,
			TextBody: fmt.Sprintf("Received %d receipt(s). They are being processed.", len(created)),
		}
		if err := h.mailer.SendTemplated(ctx, ackTemplate, map[string]any{"Count": len(created)}, ack); err != nil {
			// The receipts are already in; a lost ack is not worth a retry
			// that would duplicate them.
			logx.WithError(err).Warnf("receipt: ack for message %s not sent", p.MessageID)
		}
	}

	return json.Marshal(map[string]any{"receipt_ids": created})
}

// HandleExport gathers the tenant's receipts for the window, renders the
// artifact, stores it and emits export.completed with a download link.
func (h *Handlers) HandleExport(ctx context.Context, job *jobx.Job) (json.RawMessage, error) {
	payload, err := jobx.DecodePayload(job.Queue, job.Payload)
	if err != nil {
		return nil, jobx.Permanent(err)
	}
	p := payload.(jobx.ExportPayload)

	from, to, err := exportWindow(p)
	if err != nil {
		return nil, jobx.Permanent(err)
	}

	rows, err := h.receipts.ListByTenantBetween(ctx, kernel.TenantID(p.TenantID), from, to)
	if err != nil {
		return nil, err
	}

	var artifact []byte
	var contentType string
	switch p.Format {
	case jobx.ExportJSON:
		artifact, err = json.MarshalIndent(rows, "", "  ")
		contentType = "application/json"
	default:
		artifact, err = renderCSV(rows)
		contentType = "text/csv"
	}
	if err != nil {
		return nil, err
	}

	fileKey := fmt.Sprintf("exports/%s/%s.%s", p.TenantID, p.ExportID, p.Format)
	if err := h.files.Write(ctx, fileKey, artifact, contentType); err != nil {
		return nil, err
	}

	url := ""
	if h.presigner != nil {
		url, err = h.presigner.PresignDownload(ctx, fileKey, exportURLExpires)
		if err != nil {
			return nil, err
		}
	}

	h.emit(ctx, eventx.TypeExportCompleted, map[string]any{
		"export_id": p.ExportID,
		"tenant_id": p.TenantID,
		"file_key":  fileKey,
		"url":       url,
		"count":     len(rows),
	})

	return json.Marshal(map[string]any{
		"export_id": p.ExportID,
		"file_key":  fileKey,
		"url":       url,
		"count":     len(rows),
	})
}

func (h *Handlers) failReceipt(ctx context.Context, rec *Receipt, reason string) {
	rec.Status = StatusFailed
	rec.FailureReason = reason
	rec.UpdatedAt = time.Now().UTC()
	if err := h.receipts.Update(ctx, rec); err != nil {
		logx.WithError(err).Errorf("receipt: could not mark receipt %s failed", rec.ID)
	}
}

func (h *Handlers) emit(ctx context.Context, eventType string, payload map[string]any) {
	if h.bus == nil {
		return
	}
	if _, err := h.bus.Emit(ctx, eventType, payload, "worker"); err != nil {
		logx.WithError(err).Warnf("receipt: emit %s failed", eventType)
	}
}

// exportWindow resolves the optional date range. Bounds default to the
// epoch and tomorrow.
func exportWindow(p jobx.ExportPayload) (time.Time, time.Time, error) {
	from := time.Time{}
	to := time.Now().UTC().Add(24 * time.Hour)

	var err error
	if p.FromDate != "" {
		from, err = time.Parse("2006-01-02", p.FromDate)
		if err != nil {
			return from, to, fmt.Errorf("invalid from_date %q", p.FromDate)
		}
	}
	if p.ToDate != "" {
		to, err = time.Parse("2006-01-02", p.ToDate)
		if err != nil {
			return from, to, fmt.Errorf("invalid to_date %q", p.ToDate)
		}
		to = to.Add(24 * time.Hour) // inclusive end date
	}
	if !to.After(from) {
		return from, to, fmt.Errorf("empty export window")
	}
	return from, to, nil
}

func renderCSV(rows []*Receipt) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{"id", "vendor", "amount", "currency", "date", "status", "created_at"}
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, r := range rows {
		date := ""
		if r.ReceiptDate != nil {
			date = r.ReceiptDate.Format("2006-01-02")
		}
		record := []string{
			r.ID,
			r.VendorName,
			strconv.FormatFloat(r.TotalAmount, 'f', 2, 64),
			r.Currency,
			date,
			string(r.Status),
			r.CreatedAt.Format(time.RFC3339),
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}
