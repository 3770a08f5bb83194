package webhookx_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Abraxas-365/recibo/pkg/eventx"
	"github.com/Abraxas-365/recibo/pkg/eventx/eventxmem"
	"github.com/Abraxas-365/recibo/pkg/kernel"
	"github.com/Abraxas-365/recibo/pkg/webhookx"
	"github.com/Abraxas-365/recibo/pkg/webhookx/webhookxmem"
	"github.com/google/uuid"
)

type fixture struct {
	subs       *webhookxmem.SubscriptionStore
	deliveries *webhookxmem.DeliveryStore
	events     *eventxmem.MemoryStore
	dispatcher *webhookx.Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	subs := webhookxmem.NewSubscriptionStore()
	deliveries := webhookxmem.NewDeliveryStore()
	events := eventxmem.NewMemoryStore()
	dispatcher := webhookx.NewDispatcher(subs, deliveries, events, webhookxmem.NewLocker(),
		webhookx.WithHTTPTimeout(2*time.Second),
		webhookx.WithPollInterval(10*time.Millisecond),
	)
	return &fixture{subs: subs, deliveries: deliveries, events: events, dispatcher: dispatcher}
}

func (f *fixture) addSubscription(t *testing.T, url, secret string, policy webhookx.RetryPolicy, rules ...webhookx.FilterRule) *webhookx.Subscription {
	t.Helper()
	now := time.Now().UTC()
	sub := &webhookx.Subscription{
		ID:          uuid.New().String(),
		OwnerID:     "tenant-1",
		URL:         url,
		Secret:      secret,
		Events:      []string{"receipt.processed"},
		FilterRules: rules,
		RetryPolicy: policy.Normalize(),
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := f.subs.Create(context.Background(), sub); err != nil {
		t.Fatalf("create subscription: %v", err)
	}
	return sub
}

func (f *fixture) emit(t *testing.T, payload any) *eventx.Event {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	ev := &eventx.Event{
		ID:        uuid.New().String(),
		Type:      "receipt.processed",
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}
	if err := f.events.Create(context.Background(), ev); err != nil {
		t.Fatalf("store event: %v", err)
	}
	return ev
}

func (f *fixture) delivery(t *testing.T, webhookID string) *webhookx.DeliveryAttempt {
	t.Helper()
	attempts, _, err := f.deliveries.ListByWebhook(context.Background(), webhookID, "",
		kernel.PaginationOptions{Page: 1, PageSize: 10})
	if err != nil {
		t.Fatalf("list deliveries: %v", err)
	}
	if len(attempts) != 1 {
		t.Fatalf("expected exactly 1 delivery, got %d", len(attempts))
	}
	return attempts[0]
}

func waitForDelivery(t *testing.T, f *fixture, id string, cond func(*webhookx.DeliveryAttempt) bool) *webhookx.DeliveryAttempt {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		attempt, err := f.deliveries.Get(context.Background(), id)
		if err == nil && cond(attempt) {
			return attempt
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for delivery state")
	return nil
}

// rewind makes a retrying delivery immediately due.
func rewind(t *testing.T, f *fixture, id string) {
	t.Helper()
	attempt, err := f.deliveries.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get delivery: %v", err)
	}
	attempt.ScheduledAt = time.Now().Add(-time.Second)
	if err := f.deliveries.Update(context.Background(), attempt); err != nil {
		t.Fatalf("update delivery: %v", err)
	}
}

func TestDispatcher_SuccessfulDelivery(t *testing.T) {
	f := newFixture(t)
	secret := "whsec_abc"

	var gotBody []byte
	var gotSig, gotEvent atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig.Store(r.Header.Get(webhookx.SignatureHeader))
		gotEvent.Store(r.Header.Get(webhookx.EventHeader))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sub := f.addSubscription(t, srv.URL, secret, webhookx.RetryPolicy{})
	ev := f.emit(t, map[string]any{"amount": 150})
	f.dispatcher.HandleEvent(context.Background(), ev)

	attempt := f.delivery(t, sub.ID)
	if attempt.Status != webhookx.DeliverySuccess {
		t.Fatalf("expected success, got %s", attempt.Status)
	}
	if attempt.AttemptNumber != 1 {
		t.Fatalf("expected attempt number 1, got %d", attempt.AttemptNumber)
	}
	if attempt.HTTPStatus != http.StatusOK {
		t.Fatalf("expected recorded status 200, got %d", attempt.HTTPStatus)
	}
	if attempt.CompletedAt == nil {
		t.Fatal("expected completed_at to be set")
	}

	if gotEvent.Load().(string) != "receipt.processed" {
		t.Fatalf("wrong event header: %v", gotEvent.Load())
	}
	if !webhookx.VerifySignature(gotBody, gotSig.Load().(string), secret) {
		t.Fatal("delivery signature must verify against the raw body")
	}

	var body struct {
		ID        string          `json:"id"`
		Type      string          `json:"type"`
		Timestamp time.Time       `json:"timestamp"`
		Data      json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(gotBody, &body); err != nil {
		t.Fatalf("unmarshal delivery body: %v", err)
	}
	if body.ID != ev.ID || body.Type != ev.Type || len(body.Data) == 0 {
		t.Fatalf("unexpected delivery body: %s", gotBody)
	}
}

func TestDispatcher_FilterVetoesDelivery(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("filtered-out subscription must not be called")
	}))
	defer srv.Close()

	sub := f.addSubscription(t, srv.URL, "s", webhookx.RetryPolicy{},
		webhookx.FilterRule{Field: "amount", Operator: webhookx.OpGreaterThan, Value: "100"})
	ev := f.emit(t, map[string]any{"amount": 50})
	f.dispatcher.HandleEvent(context.Background(), ev)

	attempts, _, err := f.deliveries.ListByWebhook(context.Background(), sub.ID, "",
		kernel.PaginationOptions{Page: 1, PageSize: 10})
	if err != nil {
		t.Fatalf("list deliveries: %v", err)
	}
	if len(attempts) != 0 {
		t.Fatalf("expected no delivery record, got %d", len(attempts))
	}
}

func TestDispatcher_RetriesUntilExhausted(t *testing.T) {
	f := newFixture(t)

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	sub := f.addSubscription(t, srv.URL, "s", webhookx.RetryPolicy{MaxRetries: 3, RetryDelaySeconds: 1})
	ev := f.emit(t, map[string]any{"amount": 1})
	f.dispatcher.HandleEvent(context.Background(), ev)

	attempt := f.delivery(t, sub.ID)
	if attempt.Status != webhookx.DeliveryRetrying {
		t.Fatalf("first failure should leave the delivery retrying, got %s", attempt.Status)
	}
	if attempt.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected recorded status 500, got %d", attempt.HTTPStatus)
	}
	if !attempt.ScheduledAt.After(time.Now().Add(500 * time.Millisecond)) {
		t.Fatal("retry must be scheduled in the future")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.dispatcher.Start(ctx)

	rewind(t, f, attempt.ID)
	attempt = waitForDelivery(t, f, attempt.ID, func(a *webhookx.DeliveryAttempt) bool {
		return a.AttemptNumber == 2
	})
	if attempt.Status != webhookx.DeliveryRetrying {
		t.Fatalf("second failure should still be retrying, got %s", attempt.Status)
	}

	rewind(t, f, attempt.ID)
	attempt = waitForDelivery(t, f, attempt.ID, func(a *webhookx.DeliveryAttempt) bool {
		return a.Terminal()
	})
	if attempt.Status != webhookx.DeliveryFailed {
		t.Fatalf("exhausted delivery should be failed, got %s", attempt.Status)
	}
	if attempt.AttemptNumber != 3 {
		t.Fatalf("attempt number must equal max retries, got %d", attempt.AttemptNumber)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected exactly 3 sends, got %d", got)
	}

	// A failed delivery stays failed; the retry loop must not touch it.
	rewind(t, f, attempt.ID)
	time.Sleep(50 * time.Millisecond)
	if got := calls.Load(); got != 3 {
		t.Fatalf("terminal delivery was re-sent, calls=%d", got)
	}
}

func TestDispatcher_ManualRetryAfterFailure(t *testing.T) {
	f := newFixture(t)

	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	sub := f.addSubscription(t, srv.URL, "s", webhookx.RetryPolicy{MaxRetries: 1, RetryDelaySeconds: 1})
	ev := f.emit(t, map[string]any{"amount": 1})
	f.dispatcher.HandleEvent(context.Background(), ev)

	attempt := f.delivery(t, sub.ID)
	if attempt.Status != webhookx.DeliveryFailed {
		t.Fatalf("single-attempt policy should fail immediately, got %s", attempt.Status)
	}

	// Only failed deliveries are retryable.
	if _, err := f.dispatcher.RetryDelivery(context.Background(), "missing"); err == nil {
		t.Fatal("retrying an unknown delivery should fail")
	}

	healthy.Store(true)
	revived, err := f.dispatcher.RetryDelivery(context.Background(), attempt.ID)
	if err != nil {
		t.Fatalf("manual retry: %v", err)
	}
	if revived.Status != webhookx.DeliveryRetrying {
		t.Fatalf("manual retry should set retrying, got %s", revived.Status)
	}

	if _, err := f.dispatcher.RetryDelivery(context.Background(), attempt.ID); err == nil {
		t.Fatal("a delivery already retrying must not be manually retried again")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.dispatcher.Start(ctx)

	attempt = waitForDelivery(t, f, attempt.ID, func(a *webhookx.DeliveryAttempt) bool {
		return a.Status == webhookx.DeliverySuccess
	})
	if attempt.AttemptNumber != 2 {
		t.Fatalf("manual retry grants one extra send, got attempt %d", attempt.AttemptNumber)
	}
}

func TestDispatcher_AbandonsDeactivatedSubscription(t *testing.T) {
	f := newFixture(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	sub := f.addSubscription(t, srv.URL, "s", webhookx.RetryPolicy{MaxRetries: 5, RetryDelaySeconds: 1})
	ev := f.emit(t, map[string]any{"amount": 1})
	f.dispatcher.HandleEvent(context.Background(), ev)

	attempt := f.delivery(t, sub.ID)
	if attempt.Status != webhookx.DeliveryRetrying {
		t.Fatalf("expected retrying, got %s", attempt.Status)
	}

	sub.Active = false
	if err := f.subs.Update(context.Background(), sub); err != nil {
		t.Fatalf("deactivate subscription: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.dispatcher.Start(ctx)

	rewind(t, f, attempt.ID)
	attempt = waitForDelivery(t, f, attempt.ID, func(a *webhookx.DeliveryAttempt) bool {
		return a.Terminal()
	})
	if attempt.Status != webhookx.DeliveryFailed {
		t.Fatalf("delivery for a deactivated subscription should fail, got %s", attempt.Status)
	}
	if attempt.ResponseSnippet == "" {
		t.Fatal("expected an abandon reason in the response snippet")
	}
}

func TestDispatcher_TestWebhookLeavesNoHistory(t *testing.T) {
	f := newFixture(t)

	var called atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called.Store(true)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sub := f.addSubscription(t, srv.URL, "s", webhookx.RetryPolicy{})
	res := f.dispatcher.TestWebhook(context.Background(), sub, "", nil)

	if !res.Success || res.HTTPStatus != http.StatusOK {
		t.Fatalf("expected successful test result, got %+v", res)
	}
	if !called.Load() {
		t.Fatal("test delivery never reached the endpoint")
	}

	attempts, _, err := f.deliveries.ListByWebhook(context.Background(), sub.ID, "",
		kernel.PaginationOptions{Page: 1, PageSize: 10})
	if err != nil {
		t.Fatalf("list deliveries: %v", err)
	}
	if len(attempts) != 0 {
		t.Fatalf("test delivery must not be recorded, got %d records", len(attempts))
	}
}

func TestDispatcher_TestWebhookReportsFailure(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	sub := f.addSubscription(t, srv.URL, "s", webhookx.RetryPolicy{})
	res := f.dispatcher.TestWebhook(context.Background(), sub, "", nil)

	if res.Success {
		t.Fatal("4xx response must report failure")
	}
	if res.HTTPStatus != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", res.HTTPStatus)
	}
	if !strings.Contains(res.Error, "DELIVERY_FAILED") {
		t.Fatalf("error should carry the delivery code, got %q", res.Error)
	}
}
