package webhookx

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/Abraxas-365/recibo/pkg/kernel"
)

// CreateSubscriptionInput carries the caller-supplied fields for a new
// subscription. When Secret is empty one is generated server side; either
// way it is returned exactly once, in the create response.
type CreateSubscriptionInput struct {
	URL         string       `json:"url"`
	Events      []string     `json:"events"`
	Secret      string       `json:"secret"`
	FilterRules []FilterRule `json:"filter_rules"`
	RetryPolicy *RetryPolicy `json:"retry_policy"`
}

// UpdateSubscriptionInput holds the mutable subscription fields. Nil fields
// are left untouched.
type UpdateSubscriptionInput struct {
	URL         *string      `json:"url"`
	Events      []string     `json:"events"`
	FilterRules []FilterRule `json:"filter_rules"`
	RetryPolicy *RetryPolicy `json:"retry_policy"`
	Active      *bool        `json:"active"`
}

// Registry manages the subscription lifecycle.
type Registry struct {
	subs SubscriptionStore
}

func NewRegistry(subs SubscriptionStore) *Registry {
	return &Registry{subs: subs}
}

// Create validates the input, mints a signing secret and persists the
// subscription. The returned Subscription is the only place the plaintext
// secret is ever surfaced.
func (r *Registry) Create(ctx context.Context, ownerID string, in CreateSubscriptionInput) (*Subscription, error) {
	if err := validateTarget(in.URL, in.Events, in.FilterRules); err != nil {
		return nil, err
	}

	secret := in.Secret
	if secret == "" {
		var err error
		if secret, err = generateSecret(); err != nil {
			return nil, webhookErrors.NewWithCause(ErrStore, err)
		}
	}

	policy := DefaultRetryPolicy()
	if in.RetryPolicy != nil {
		policy = in.RetryPolicy.Normalize()
	}

	now := time.Now().UTC()
	sub := &Subscription{
		ID:          uuid.New().String(),
		OwnerID:     ownerID,
		URL:         in.URL,
		Secret:      secret,
		Events:      in.Events,
		FilterRules: in.FilterRules,
		RetryPolicy: policy,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.subs.Create(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

func (r *Registry) Get(ctx context.Context, ownerID, id string) (*Subscription, error) {
	sub, err := r.subs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.OwnerID != ownerID {
		return nil, SubscriptionNotFound(id)
	}
	return sub, nil
}

func (r *Registry) List(ctx context.Context, ownerID string, opts kernel.PaginationOptions) (*kernel.Paginated[*Subscription], error) {
	opts = opts.Normalize()
	subs, total, err := r.subs.ListByOwner(ctx, ownerID, opts)
	if err != nil {
		return nil, err
	}
	page := kernel.NewPaginated(subs, opts.Page, opts.PageSize, total)
	return &page, nil
}

func (r *Registry) Update(ctx context.Context, ownerID, id string, in UpdateSubscriptionInput) (*Subscription, error) {
	sub, err := r.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	if in.URL != nil {
		sub.URL = *in.URL
	}
	if in.Events != nil {
		sub.Events = in.Events
	}
	if in.FilterRules != nil {
		sub.FilterRules = in.FilterRules
	}
	if in.RetryPolicy != nil {
		sub.RetryPolicy = in.RetryPolicy.Normalize()
	}
	if in.Active != nil {
		sub.Active = *in.Active
	}
	if err := validateTarget(sub.URL, sub.Events, sub.FilterRules); err != nil {
		return nil, err
	}

	sub.UpdatedAt = time.Now().UTC()
	if err := r.subs.Update(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// Delete soft-deletes the subscription. Past delivery history stays intact.
func (r *Registry) Delete(ctx context.Context, ownerID, id string) error {
	if _, err := r.Get(ctx, ownerID, id); err != nil {
		return err
	}
	return r.subs.SoftDelete(ctx, id, time.Now().UTC())
}

func validateTarget(rawURL string, events []string, rules []FilterRule) error {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return webhookErrors.NewWithMessage(ErrInvalidSubscription, "url must be a valid http or https URL").
			WithDetail("url", rawURL)
	}
	if len(events) == 0 {
		return webhookErrors.NewWithMessage(ErrInvalidSubscription, "at least one event type is required")
	}
	for _, rule := range rules {
		if rule.Field == "" || !rule.Operator.Valid() {
			return webhookErrors.NewWithMessage(ErrInvalidSubscription, "invalid filter rule").
				WithDetail("field", rule.Field).
				WithDetail("operator", string(rule.Operator))
		}
	}
	return nil
}

func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "whsec_" + hex.EncodeToString(buf), nil
}
