package webhookx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/Abraxas-365/recibo/pkg/asyncx"
	"github.com/Abraxas-365/recibo/pkg/eventx"
	"github.com/Abraxas-365/recibo/pkg/logx"
)

const (
	EventHeader    = "X-Webhook-Event"
	DeliveryHeader = "X-Webhook-Delivery"

	responseSnippetMax = 512
)

// DispatcherOptions tunes delivery behavior.
type DispatcherOptions struct {
	// HTTPTimeout bounds one delivery request.
	HTTPTimeout time.Duration
	// PollInterval is how often the retry loop scans for due deliveries.
	PollInterval time.Duration
	// ClaimLimit caps how many due deliveries one scan claims.
	ClaimLimit int
	// LockTTL bounds how long one (webhook, event) pair stays locked.
	LockTTL time.Duration
	// Retention is how long terminal deliveries are kept. Zero disables
	// pruning.
	Retention time.Duration
}

func (o DispatcherOptions) normalize() DispatcherOptions {
	if o.HTTPTimeout <= 0 {
		o.HTTPTimeout = 10 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.ClaimLimit <= 0 {
		o.ClaimLimit = 20
	}
	if o.LockTTL <= 0 {
		o.LockTTL = o.HTTPTimeout + 5*time.Second
	}
	return o
}

// DispatcherOption mutates DispatcherOptions.
type DispatcherOption func(*DispatcherOptions)

func WithHTTPTimeout(d time.Duration) DispatcherOption {
	return func(o *DispatcherOptions) { o.HTTPTimeout = d }
}

func WithPollInterval(d time.Duration) DispatcherOption {
	return func(o *DispatcherOptions) { o.PollInterval = d }
}

func WithDeliveryRetention(d time.Duration) DispatcherOption {
	return func(o *DispatcherOptions) { o.Retention = d }
}

// deliveryBody is the envelope posted to subscriber endpoints.
type deliveryBody struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// TestResult is the outcome of a one-off test delivery.
type TestResult struct {
	Success    bool   `json:"success"`
	HTTPStatus int    `json:"http_status,omitempty"`
	Response   string `json:"response,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Dispatcher fans events out to matching subscriptions, signs and posts
// delivery requests, and drives the retry schedule. It implements
// eventx.Handler so it can hang off the event bus directly.
type Dispatcher struct {
	subs       SubscriptionStore
	deliveries DeliveryStore
	events     eventx.Store
	locker     Locker
	client     *http.Client
	opts       DispatcherOptions
}

func NewDispatcher(subs SubscriptionStore, deliveries DeliveryStore, events eventx.Store, locker Locker, opts ...DispatcherOption) *Dispatcher {
	o := DispatcherOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	o = o.normalize()
	return &Dispatcher{
		subs:       subs,
		deliveries: deliveries,
		events:     events,
		locker:     locker,
		client:     &http.Client{Timeout: o.HTTPTimeout},
		opts:       o,
	}
}

// HandleEvent delivers a freshly emitted event to every matching active
// subscription. Called by the event bus on its own goroutine; failures are
// recorded as retrying deliveries, never propagated.
func (d *Dispatcher) HandleEvent(ctx context.Context, event *eventx.Event) {
	subs, err := d.subs.FindActiveByEventType(ctx, event.Type)
	if err != nil {
		logx.WithError(err).Errorf("webhookx: subscription lookup for event %s failed", event.ID)
		return
	}
	// Fan out per subscription; deliveries to distinct endpoints must not
	// serialize behind one slow receiver.
	futures := make([]*asyncx.Future[struct{}], 0, len(subs))
	for _, sub := range subs {
		if !Match(event, sub) {
			continue
		}
		futures = append(futures, asyncx.Run(func() (struct{}, error) {
			d.deliverNew(ctx, sub, event)
			return struct{}{}, nil
		}))
	}
	for _, f := range futures {
		f.Await()
	}
}

// deliverNew records a pending delivery and performs the first send.
func (d *Dispatcher) deliverNew(ctx context.Context, sub *Subscription, event *eventx.Event) {
	key := lockKey(sub.ID, event.ID)
	ok, err := d.locker.TryLock(ctx, key, d.opts.LockTTL)
	if err != nil {
		logx.WithError(err).Warnf("webhookx: lock %s failed", key)
		return
	}
	if !ok {
		return
	}
	defer d.unlock(key)

	now := time.Now().UTC()
	attempt := &DeliveryAttempt{
		ID:          uuid.New().String(),
		WebhookID:   sub.ID,
		EventID:     event.ID,
		Status:      DeliveryPending,
		ScheduledAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := d.deliveries.Create(ctx, attempt); err != nil {
		logx.WithError(err).Errorf("webhookx: recording delivery for webhook %s failed", sub.ID)
		return
	}
	d.attempt(ctx, sub, event, attempt)
}

// attempt performs one send and advances the delivery state machine.
func (d *Dispatcher) attempt(ctx context.Context, sub *Subscription, event *eventx.Event, attempt *DeliveryAttempt) {
	status, snippet, err := d.send(ctx, sub, event, attempt.ID)

	now := time.Now().UTC()
	attempt.AttemptNumber++
	attempt.HTTPStatus = status
	attempt.ResponseSnippet = snippet
	attempt.UpdatedAt = now

	switch {
	case err == nil && status >= 200 && status < 300:
		attempt.Status = DeliverySuccess
		attempt.CompletedAt = &now
	case attempt.AttemptNumber >= sub.RetryPolicy.MaxRetries:
		attempt.Status = DeliveryFailed
		attempt.CompletedAt = &now
		logx.Warnf("webhookx: delivery %s to %s exhausted after %d attempts",
			attempt.ID, sub.URL, attempt.AttemptNumber)
	default:
		attempt.Status = DeliveryRetrying
		attempt.ScheduledAt = now.Add(sub.RetryPolicy.Backoff().NextDelay(attempt.AttemptNumber - 1))
	}
	if err != nil && attempt.ResponseSnippet == "" {
		attempt.ResponseSnippet = truncate(err.Error(), responseSnippetMax)
	}

	if err := d.deliveries.Update(ctx, attempt); err != nil {
		logx.WithError(err).Errorf("webhookx: updating delivery %s failed", attempt.ID)
	}
}

// send posts the signed envelope to the subscription endpoint.
func (d *Dispatcher) send(ctx context.Context, sub *Subscription, event *eventx.Event, deliveryID string) (int, string, error) {
	body, err := json.Marshal(deliveryBody{
		ID:        event.ID,
		Type:      event.Type,
		Timestamp: event.Timestamp,
		Data:      event.Payload,
	})
	if err != nil {
		return 0, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign(sub.Secret, body))
	req.Header.Set(EventHeader, event.Type)
	req.Header.Set(DeliveryHeader, deliveryID)

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, responseSnippetMax))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, string(snippet),
			webhookErrors.NewWithMessage(ErrDeliveryFailed, fmt.Sprintf("endpoint returned %d", resp.StatusCode)).
				WithDetail("http_status", resp.StatusCode)
	}
	return resp.StatusCode, string(snippet), nil
}

// Start runs the retry loop until ctx is cancelled. It claims due retrying
// deliveries and re-sends them with each subscription's backoff schedule.
func (d *Dispatcher) Start(ctx context.Context) {
	logx.Info("webhookx: delivery retry loop started")
	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()

	var lastPrune time.Time
	for {
		select {
		case <-ctx.Done():
			logx.Info("webhookx: delivery retry loop stopped")
			return
		case <-ticker.C:
			d.redeliverDue(ctx)
			if d.opts.Retention > 0 && time.Since(lastPrune) > time.Hour {
				lastPrune = time.Now()
				// Pruning must not delay the next redelivery tick.
				asyncx.DoCtx(ctx, d.prune)
			}
		}
	}
}

func (d *Dispatcher) redeliverDue(ctx context.Context) {
	now := time.Now().UTC()
	due, err := d.deliveries.ClaimDue(ctx, now, d.opts.LockTTL, d.opts.ClaimLimit)
	if err != nil {
		logx.WithError(err).Warn("webhookx: claiming due deliveries failed")
		return
	}
	for _, attempt := range due {
		d.redeliver(ctx, attempt)
	}
}

func (d *Dispatcher) redeliver(ctx context.Context, attempt *DeliveryAttempt) {
	key := lockKey(attempt.WebhookID, attempt.EventID)
	ok, err := d.locker.TryLock(ctx, key, d.opts.LockTTL)
	if err != nil || !ok {
		return
	}
	defer d.unlock(key)

	sub, err := d.subs.Get(ctx, attempt.WebhookID)
	if err != nil {
		d.abandon(ctx, attempt, "subscription no longer exists")
		return
	}
	if !sub.Active {
		d.abandon(ctx, attempt, "subscription deactivated")
		return
	}
	event, err := d.events.Get(ctx, attempt.EventID)
	if err != nil {
		d.abandon(ctx, attempt, "event no longer exists")
		return
	}
	d.attempt(ctx, sub, event, attempt)
}

// abandon terminates a delivery whose subscription or event went away.
func (d *Dispatcher) abandon(ctx context.Context, attempt *DeliveryAttempt, reason string) {
	now := time.Now().UTC()
	attempt.Status = DeliveryFailed
	attempt.ResponseSnippet = reason
	attempt.CompletedAt = &now
	attempt.UpdatedAt = now
	if err := d.deliveries.Update(ctx, attempt); err != nil {
		logx.WithError(err).Errorf("webhookx: abandoning delivery %s failed", attempt.ID)
	}
}

func (d *Dispatcher) prune(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-d.opts.Retention)
	n, err := d.deliveries.PruneTerminal(ctx, cutoff)
	if err != nil {
		logx.WithError(err).Warn("webhookx: delivery prune failed")
		return
	}
	if n > 0 {
		logx.Infof("webhookx: pruned %d terminal deliveries", n)
	}
}

// TestWebhook posts a synthetic event to the subscription endpoint and
// reports the outcome. No delivery record is written and no retries are
// scheduled. An empty eventType or nil data falls back to a default.
func (d *Dispatcher) TestWebhook(ctx context.Context, sub *Subscription, eventType string, data interface{}) *TestResult {
	if eventType == "" {
		eventType = "webhook.test"
		if len(sub.Events) > 0 {
			eventType = sub.Events[0]
		}
	}
	if data == nil {
		data = map[string]any{"test": true, "webhook_id": sub.ID}
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return &TestResult{Error: err.Error()}
	}
	event := &eventx.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}

	status, snippet, err := d.send(ctx, sub, event, "test-"+event.ID)
	res := &TestResult{
		Success:    err == nil,
		HTTPStatus: status,
		Response:   truncate(snippet, responseSnippetMax),
	}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}

// RetryDelivery manually revives a terminally failed delivery, granting it
// one more send on the next retry-loop pass. Only failed deliveries are
// retryable.
func (d *Dispatcher) RetryDelivery(ctx context.Context, deliveryID string) (*DeliveryAttempt, error) {
	attempt, err := d.deliveries.Get(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	if attempt.Status != DeliveryFailed {
		return nil, webhookErrors.New(ErrDeliveryNotRetryable).
			WithDetail("delivery_id", deliveryID).
			WithDetail("status", string(attempt.Status))
	}

	now := time.Now().UTC()
	attempt.Status = DeliveryRetrying
	attempt.ScheduledAt = now
	attempt.CompletedAt = nil
	attempt.UpdatedAt = now
	if err := d.deliveries.Update(ctx, attempt); err != nil {
		return nil, err
	}
	return attempt, nil
}

func (d *Dispatcher) unlock(key string) {
	unlockCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.locker.Unlock(unlockCtx, key); err != nil {
		logx.WithError(err).Warnf("webhookx: unlock %s failed", key)
	}
}

func lockKey(webhookID, eventID string) string {
	return "webhook:delivery:" + webhookID + ":" + eventID
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var _ eventx.Handler = (*Dispatcher)(nil)
