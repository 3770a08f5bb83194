package webhookx

import (
	"context"
	"time"

	"github.com/Abraxas-365/recibo/pkg/kernel"
)

// SubscriptionStore persists webhook subscriptions. Soft-deleted rows are
// invisible to every read.
type SubscriptionStore interface {
	Create(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	Update(ctx context.Context, sub *Subscription) error
	SoftDelete(ctx context.Context, id string, now time.Time) error
	ListByOwner(ctx context.Context, ownerID string, opts kernel.PaginationOptions) ([]*Subscription, int, error)

	// FindActiveByEventType returns every active subscription whose event
	// set contains eventType. Filter rules are evaluated by the caller.
	FindActiveByEventType(ctx context.Context, eventType string) ([]*Subscription, error)
}

// DeliveryStore persists delivery attempts. Like the job store, state
// transitions must be conditional writes so racing dispatch loops cannot
// double-send one delivery.
type DeliveryStore interface {
	Create(ctx context.Context, attempt *DeliveryAttempt) error
	Get(ctx context.Context, id string) (*DeliveryAttempt, error)
	Update(ctx context.Context, attempt *DeliveryAttempt) error

	// ClaimDue atomically claims up to limit retrying deliveries whose
	// scheduled_at has passed, pushing their scheduled_at forward by lease
	// so a concurrent loop skips them.
	ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*DeliveryAttempt, error)

	ListByWebhook(ctx context.Context, webhookID string, status DeliveryStatus, opts kernel.PaginationOptions) ([]*DeliveryAttempt, int, error)

	// PruneTerminal removes terminal deliveries completed before cutoff.
	PruneTerminal(ctx context.Context, cutoff time.Time) (int, error)
}

// Locker serializes deliveries of the same (webhook, event) pair across
// dispatch loops, so a receiver never sees duplicate concurrent sends.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}
