package receipt_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Abraxas-365/recibo/pkg/eventx"
	"github.com/Abraxas-365/recibo/pkg/eventx/eventxmem"
	"github.com/Abraxas-365/recibo/pkg/fsx/fsxlocal"
	"github.com/Abraxas-365/recibo/pkg/jobx"
	"github.com/Abraxas-365/recibo/pkg/jobx/jobxmem"
	"github.com/Abraxas-365/recibo/pkg/kernel"
	"github.com/Abraxas-365/recibo/pkg/mailx"
	"github.com/Abraxas-365/recibo/pkg/receipt"
	"github.com/Abraxas-365/recibo/pkg/receipt/ocrx"
	"github.com/Abraxas-365/recibo/pkg/receipt/receiptmem"
)

type fakeExtractor struct {
	result *ocrx.Extraction
	err    error
}

func (f *fakeExtractor) Extract(context.Context, []byte, string) (*ocrx.Extraction, error) {
	return f.result, f.err
}

type captureSender struct {
	sent []mailx.Message
}

func (s *captureSender) Send(_ context.Context, msg mailx.Message) error {
	s.sent = append(s.sent, msg)
	return nil
}

type eventSink struct {
	ch chan *eventx.Event
}

func (s *eventSink) HandleEvent(_ context.Context, ev *eventx.Event) { s.ch <- ev }

func (s *eventSink) wait(t *testing.T, eventType string) *eventx.Event {
	t.Helper()
	for {
		select {
		case ev := <-s.ch:
			if ev.Type == eventType {
				return ev
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s event", eventType)
			return nil
		}
	}
}

type env struct {
	receipts  *receiptmem.MemoryStore
	files     *fsxlocal.Store
	jobs      *jobx.Client
	jobStore  *jobxmem.MemoryStore
	handlers  *receipt.Handlers
	extractor *fakeExtractor
	events    *eventSink
	mail      *captureSender
}

func newEnv(t *testing.T) *env {
	t.Helper()

	files, err := fsxlocal.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("local store: %v", err)
	}

	jobStore := jobxmem.NewMemoryStore()
	jobs := jobx.NewClient(jobStore)

	sink := &eventSink{ch: make(chan *eventx.Event, 16)}
	bus := eventx.NewBus(eventxmem.NewMemoryStore())
	bus.Subscribe(sink)

	extractor := &fakeExtractor{}
	receipts := receiptmem.NewMemoryStore()
	mail := &captureSender{}
	handlers := receipt.NewHandlers(receipts, files, files, extractor, mailx.NewClient(mail), bus, jobs)

	return &env{
		receipts:  receipts,
		files:     files,
		jobs:      jobs,
		jobStore:  jobStore,
		handlers:  handlers,
		extractor: extractor,
		events:    sink,
		mail:      mail,
	}
}

func seedReceipt(t *testing.T, e *env, fileKey string) *receipt.Receipt {
	t.Helper()
	now := time.Now().UTC()
	rec := &receipt.Receipt{
		ID:        uuid.New().String(),
		TenantID:  kernel.TenantID("tenant-1"),
		FileKey:   fileKey,
		Source:    receipt.SourceUpload,
		Status:    receipt.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.receipts.Create(context.Background(), rec); err != nil {
		t.Fatalf("seed receipt: %v", err)
	}
	return rec
}

func makeJob(t *testing.T, p jobx.Payload) *jobx.Job {
	t.Helper()
	raw, err := jobx.EncodePayload(p)
	if err != nil {
		t.Fatalf("encode payload: %v", err)
	}
	return &jobx.Job{ID: uuid.New().String(), Queue: p.QueueName(), Payload: raw}
}

func TestHandleOCR_Success(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	if err := e.files.Write(ctx, "scans/r1.png", []byte("image-bytes"), "image/png"); err != nil {
		t.Fatalf("write file: %v", err)
	}
	rec := seedReceipt(t, e, "scans/r1.png")

	date := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	e.extractor.result = &ocrx.Extraction{
		Text:        "ACME Corp\nTotal 150.00 EUR",
		Confidence:  0.93,
		VendorName:  "ACME Corp",
		TotalAmount: 150,
		Currency:    "EUR",
		Date:        &date,
	}

	job := makeJob(t, jobx.OCRPayload{ReceiptID: rec.ID, TenantID: "tenant-1", FileKey: rec.FileKey})
	result, err := e.handlers.HandleOCR(ctx, job)
	if err != nil {
		t.Fatalf("HandleOCR: %v", err)
	}

	updated, err := e.receipts.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("get receipt: %v", err)
	}
	if updated.Status != receipt.StatusProcessed {
		t.Fatalf("expected processed, got %s", updated.Status)
	}
	if updated.VendorName != "ACME Corp" || updated.TotalAmount != 150 || updated.Currency != "EUR" {
		t.Fatalf("extraction not recorded: %+v", updated)
	}

	var out map[string]any
	if err := json.Unmarshal(result, &out); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if out["receipt_id"] != rec.ID {
		t.Fatalf("unexpected result: %v", out)
	}

	ev := e.events.wait(t, eventx.TypeReceiptProcessed)
	var payload map[string]any
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		t.Fatalf("unmarshal event payload: %v", err)
	}
	if payload["receipt_id"] != rec.ID || payload["amount"].(float64) != 150 {
		t.Fatalf("unexpected event payload: %v", payload)
	}
}

func TestHandleOCR_MissingFileIsPermanent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	rec := seedReceipt(t, e, "scans/gone.png")
	job := makeJob(t, jobx.OCRPayload{ReceiptID: rec.ID, TenantID: "tenant-1", FileKey: rec.FileKey})

	_, err := e.handlers.HandleOCR(ctx, job)
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !jobx.IsPermanent(err) {
		t.Fatalf("missing file must be permanent, got %v", err)
	}

	updated, _ := e.receipts.Get(ctx, rec.ID)
	if updated.Status != receipt.StatusFailed {
		t.Fatalf("receipt should be marked failed, got %s", updated.Status)
	}
}

func TestHandleOCR_UnreadableIsPermanent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	if err := e.files.Write(ctx, "scans/blurry.png", []byte("noise"), "image/png"); err != nil {
		t.Fatalf("write file: %v", err)
	}
	rec := seedReceipt(t, e, "scans/blurry.png")
	e.extractor.err = ocrx.Unreadable("zero confidence")

	job := makeJob(t, jobx.OCRPayload{ReceiptID: rec.ID, TenantID: "tenant-1", FileKey: rec.FileKey})
	_, err := e.handlers.HandleOCR(ctx, job)
	if !jobx.IsPermanent(err) {
		t.Fatalf("unreadable document must be permanent, got %v", err)
	}
}

func TestHandleOCR_ProviderErrorIsTransient(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	if err := e.files.Write(ctx, "scans/ok.png", []byte("image"), "image/png"); err != nil {
		t.Fatalf("write file: %v", err)
	}
	rec := seedReceipt(t, e, "scans/ok.png")
	e.extractor.err = ocrx.ExtractionFailed(context.DeadlineExceeded)

	job := makeJob(t, jobx.OCRPayload{ReceiptID: rec.ID, TenantID: "tenant-1", FileKey: rec.FileKey})
	_, err := e.handlers.HandleOCR(ctx, job)
	if err == nil {
		t.Fatal("expected provider error")
	}
	if jobx.IsPermanent(err) {
		t.Fatal("provider failures must stay retryable")
	}
}

func TestHandleEmail_CreatesReceiptsAndOCRJobs(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	job := makeJob(t, jobx.EmailPayload{
		MessageID:   "msg-1",
		TenantID:    "tenant-1",
		From:        "sender@example.com",
		Subject:     "Receipts",
		Attachments: []string{"inbound/a.png", "inbound/b.pdf"},
	})

	result, err := e.handlers.HandleEmail(ctx, job)
	if err != nil {
		t.Fatalf("HandleEmail: %v", err)
	}

	var out struct {
		ReceiptIDs []string `json:"receipt_ids"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if len(out.ReceiptIDs) != 2 {
		t.Fatalf("expected 2 receipts, got %d", len(out.ReceiptIDs))
	}

	stats, err := e.jobStore.Stats(ctx, jobx.QueueOCR)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Waiting != 2 {
		t.Fatalf("expected 2 waiting OCR jobs, got %d", stats.Waiting)
	}

	e.events.wait(t, eventx.TypeReceiptCreated)

	if len(e.mail.sent) != 1 {
		t.Fatalf("expected 1 ack email, got %d", len(e.mail.sent))
	}
	ack := e.mail.sent[0]
	if ack.To[0] != "sender@example.com" {
		t.Fatalf("ack recipient: %s", ack.To[0])
	}
	if !strings.Contains(ack.HTMLBody, "Received 2 receipt") {
		t.Fatalf("ack body not rendered from template: %q", ack.HTMLBody)
	}
}

func TestHandleEmail_NoAttachmentsIsPermanent(t *testing.T) {
	e := newEnv(t)

	job := makeJob(t, jobx.EmailPayload{
		MessageID: "msg-2",
		TenantID:  "tenant-1",
		From:      "sender@example.com",
		Subject:   "Empty",
	})

	_, err := e.handlers.HandleEmail(context.Background(), job)
	if !jobx.IsPermanent(err) {
		t.Fatalf("attachment-less message must be permanent, got %v", err)
	}
}

func TestHandleExport_CSV(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rec := seedReceipt(t, e, "scans/x.png")
		rec.Status = receipt.StatusProcessed
		rec.VendorName = "ACME"
		rec.TotalAmount = float64(10 * (i + 1))
		rec.Currency = "EUR"
		if err := e.receipts.Update(ctx, rec); err != nil {
			t.Fatalf("update receipt: %v", err)
		}
	}

	job := makeJob(t, jobx.ExportPayload{ExportID: "exp-1", TenantID: "tenant-1", Format: jobx.ExportCSV})
	result, err := e.handlers.HandleExport(ctx, job)
	if err != nil {
		t.Fatalf("HandleExport: %v", err)
	}

	var out struct {
		FileKey string `json:"file_key"`
		Count   int    `json:"count"`
		URL     string `json:"url"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if out.Count != 3 {
		t.Fatalf("expected 3 exported rows, got %d", out.Count)
	}
	if out.URL == "" {
		t.Fatal("expected a download URL")
	}

	data, err := e.files.Read(ctx, out.FileKey)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header + 3 rows, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "id,vendor,amount") {
		t.Fatalf("unexpected header: %s", lines[0])
	}
	if !strings.Contains(lines[1], "ACME") || !strings.Contains(lines[1], "10.00") {
		t.Fatalf("unexpected first row: %s", lines[1])
	}

	ev := e.events.wait(t, eventx.TypeExportCompleted)
	var payload map[string]any
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		t.Fatalf("unmarshal event payload: %v", err)
	}
	if payload["export_id"] != "exp-1" || payload["count"].(float64) != 3 {
		t.Fatalf("unexpected event payload: %v", payload)
	}
}

func TestHandleExport_BadDateWindowIsPermanent(t *testing.T) {
	e := newEnv(t)

	job := makeJob(t, jobx.ExportPayload{
		ExportID: "exp-2",
		TenantID: "tenant-1",
		Format:   jobx.ExportCSV,
		FromDate: "2026-03-10",
		ToDate:   "2026-03-01",
	})

	_, err := e.handlers.HandleExport(context.Background(), job)
	if !jobx.IsPermanent(err) {
		t.Fatalf("inverted window must be permanent, got %v", err)
	}
}
