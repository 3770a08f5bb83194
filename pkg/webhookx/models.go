package webhookx

import (
	"time"

	"github.com/Abraxas-365/recibo/pkg/retryx"
)

// Operator is a filter comparison operator.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpContains    Operator = "contains"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
)

// Valid reports whether op is a known operator.
func (op Operator) Valid() bool {
	switch op {
	case OpEquals, OpContains, OpGreaterThan, OpLessThan:
		return true
	}
	return false
}

// FilterRule is one predicate evaluated against the event payload. All
// rules of a subscription must pass for the event to be delivered.
type FilterRule struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    string   `json:"value"`
}

// RetryPolicy is the per-subscription delivery retry budget.
type RetryPolicy struct {
	MaxRetries        int     `json:"max_retries"`
	RetryDelaySeconds int     `json:"retry_delay"`
	BackoffMultiplier float64 `json:"backoff_multiplier"`
}

// DefaultRetryPolicy is applied to subscriptions created without one.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, RetryDelaySeconds: 60, BackoffMultiplier: 2}
}

// Normalize fills zero fields with the defaults.
func (p RetryPolicy) Normalize() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxRetries <= 0 {
		p.MaxRetries = def.MaxRetries
	}
	if p.RetryDelaySeconds <= 0 {
		p.RetryDelaySeconds = def.RetryDelaySeconds
	}
	if p.BackoffMultiplier < 1 {
		p.BackoffMultiplier = def.BackoffMultiplier
	}
	return p
}

// Backoff converts the policy into the shared retry scheduler form.
func (p RetryPolicy) Backoff() retryx.Policy {
	return retryx.Policy{
		MaxRetries:        p.MaxRetries,
		RetryDelay:        time.Duration(p.RetryDelaySeconds) * time.Second,
		BackoffMultiplier: p.BackoffMultiplier,
	}.Normalize()
}

// Subscription is a registered webhook endpoint. The secret is write-only:
// it signs outgoing deliveries and is never exposed by read APIs.
type Subscription struct {
	ID          string       `json:"id" db:"id"`
	OwnerID     string       `json:"owner_id" db:"owner_id"`
	URL         string       `json:"url" db:"url"`
	Secret      string       `json:"-" db:"secret"`
	Events      []string     `json:"events" db:"-"`
	FilterRules []FilterRule `json:"filter_rules" db:"-"`
	RetryPolicy RetryPolicy  `json:"retry_policy" db:"-"`
	Active      bool         `json:"active" db:"active"`
	CreatedAt   time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at" db:"updated_at"`
	DeletedAt   *time.Time   `json:"-" db:"deleted_at"`
}

// SubscribesTo reports whether the subscription listens for eventType.
func (s *Subscription) SubscribesTo(eventType string) bool {
	for _, t := range s.Events {
		if t == eventType {
			return true
		}
	}
	return false
}

// DeliveryStatus is the state of one delivery. Transitions:
// pending -> {success | retrying}; retrying -> {success | retrying | failed}.
// success and failed are terminal; a failed delivery is only revived by an
// explicit manual retry.
type DeliveryStatus string

const (
	DeliveryPending  DeliveryStatus = "pending"
	DeliverySuccess  DeliveryStatus = "success"
	DeliveryFailed   DeliveryStatus = "failed"
	DeliveryRetrying DeliveryStatus = "retrying"
)

// Valid reports whether st is a known delivery status.
func (st DeliveryStatus) Valid() bool {
	switch st {
	case DeliveryPending, DeliverySuccess, DeliveryFailed, DeliveryRetrying:
		return true
	}
	return false
}

// DeliveryAttempt tracks the delivery of one event to one subscription,
// updated in place on each retry. AttemptNumber counts completed sends;
// manual retries may push it past the automatic MaxRetries budget.
type DeliveryAttempt struct {
	ID              string         `json:"id" db:"id"`
	WebhookID       string         `json:"webhook_id" db:"webhook_id"`
	EventID         string         `json:"event_id" db:"event_id"`
	Status          DeliveryStatus `json:"status" db:"status"`
	HTTPStatus      int            `json:"http_status,omitempty" db:"http_status"`
	AttemptNumber   int            `json:"attempt_number" db:"attempt_number"`
	ScheduledAt     time.Time      `json:"scheduled_at" db:"scheduled_at"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
	ResponseSnippet string         `json:"response_snippet,omitempty" db:"response_snippet"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at" db:"updated_at"`
}

// Terminal reports whether the delivery reached a final state.
func (d *DeliveryAttempt) Terminal() bool {
	return d.Status == DeliverySuccess || d.Status == DeliveryFailed
}
