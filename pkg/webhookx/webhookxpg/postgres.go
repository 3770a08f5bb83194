// Package webhookxpg implements the webhookx stores on PostgreSQL.
// Subscription event lists, filter rules and retry policies live in JSONB
// columns, so the row maps through an intermediate record type.
package webhookxpg

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/Abraxas-365/recibo/pkg/errx"
	"github.com/Abraxas-365/recibo/pkg/kernel"
	"github.com/Abraxas-365/recibo/pkg/webhookx"
)

// SubscriptionStore is the PostgreSQL-backed subscription store.
type SubscriptionStore struct {
	db *sqlx.DB
}

// NewSubscriptionStore creates a store on an existing connection pool.
func NewSubscriptionStore(db *sqlx.DB) *SubscriptionStore {
	return &SubscriptionStore{db: db}
}

type subscriptionRow struct {
	ID          string          `db:"id"`
	OwnerID     string          `db:"owner_id"`
	URL         string          `db:"url"`
	Secret      string          `db:"secret"`
	Events      json.RawMessage `db:"events"`
	FilterRules json.RawMessage `db:"filter_rules"`
	RetryPolicy json.RawMessage `db:"retry_policy"`
	Active      bool            `db:"active"`
	CreatedAt   time.Time       `db:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at"`
	DeletedAt   *time.Time      `db:"deleted_at"`
}

func toRow(sub *webhookx.Subscription) (*subscriptionRow, error) {
	events, err := json.Marshal(sub.Events)
	if err != nil {
		return nil, err
	}
	rules, err := json.Marshal(sub.FilterRules)
	if err != nil {
		return nil, err
	}
	policy, err := json.Marshal(sub.RetryPolicy)
	if err != nil {
		return nil, err
	}
	return &subscriptionRow{
		ID:          sub.ID,
		OwnerID:     sub.OwnerID,
		URL:         sub.URL,
		Secret:      sub.Secret,
		Events:      events,
		FilterRules: rules,
		RetryPolicy: policy,
		Active:      sub.Active,
		CreatedAt:   sub.CreatedAt,
		UpdatedAt:   sub.UpdatedAt,
		DeletedAt:   sub.DeletedAt,
	}, nil
}

func (r *subscriptionRow) toModel() (*webhookx.Subscription, error) {
	sub := &webhookx.Subscription{
		ID:        r.ID,
		OwnerID:   r.OwnerID,
		URL:       r.URL,
		Secret:    r.Secret,
		Active:    r.Active,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
		DeletedAt: r.DeletedAt,
	}
	if err := json.Unmarshal(r.Events, &sub.Events); err != nil {
		return nil, err
	}
	if len(r.FilterRules) > 0 {
		if err := json.Unmarshal(r.FilterRules, &sub.FilterRules); err != nil {
			return nil, err
		}
	}
	if err := json.Unmarshal(r.RetryPolicy, &sub.RetryPolicy); err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *SubscriptionStore) Create(ctx context.Context, sub *webhookx.Subscription) error {
	row, err := toRow(sub)
	if err != nil {
		return errx.Wrap(err, "failed to encode subscription", errx.TypeInternal)
	}
	query := `
		INSERT INTO webhook_subscriptions (
			id, owner_id, url, secret, events, filter_rules, retry_policy,
			active, created_at, updated_at
		) VALUES (
			:id, :owner_id, :url, :secret, :events, :filter_rules, :retry_policy,
			:active, :created_at, :updated_at
		)`
	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		return errx.Wrap(err, "failed to insert subscription", errx.TypeInternal).
			WithDetail("webhook_id", sub.ID)
	}
	return nil
}

func (s *SubscriptionStore) Get(ctx context.Context, id string) (*webhookx.Subscription, error) {
	var row subscriptionRow
	err := s.db.GetContext(ctx, &row,
		`SELECT * FROM webhook_subscriptions WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, webhookx.SubscriptionNotFound(id)
		}
		return nil, errx.Wrap(err, "failed to load subscription", errx.TypeInternal).
			WithDetail("webhook_id", id)
	}
	return row.toModel()
}

func (s *SubscriptionStore) Update(ctx context.Context, sub *webhookx.Subscription) error {
	row, err := toRow(sub)
	if err != nil {
		return errx.Wrap(err, "failed to encode subscription", errx.TypeInternal)
	}
	query := `
		UPDATE webhook_subscriptions SET
			url = :url,
			events = :events,
			filter_rules = :filter_rules,
			retry_policy = :retry_policy,
			active = :active,
			updated_at = :updated_at
		WHERE id = :id AND deleted_at IS NULL`
	res, err := s.db.NamedExecContext(ctx, query, row)
	if err != nil {
		return errx.Wrap(err, "failed to update subscription", errx.TypeInternal).
			WithDetail("webhook_id", sub.ID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return webhookx.SubscriptionNotFound(sub.ID)
	}
	return nil
}

func (s *SubscriptionStore) SoftDelete(ctx context.Context, id string, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE webhook_subscriptions SET deleted_at = $2, updated_at = $2
		 WHERE id = $1 AND deleted_at IS NULL`, id, now)
	if err != nil {
		return errx.Wrap(err, "failed to delete subscription", errx.TypeInternal).
			WithDetail("webhook_id", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return webhookx.SubscriptionNotFound(id)
	}
	return nil
}

func (s *SubscriptionStore) ListByOwner(ctx context.Context, ownerID string, opts kernel.PaginationOptions) ([]*webhookx.Subscription, int, error) {
	var total int
	err := s.db.GetContext(ctx, &total,
		`SELECT COUNT(*) FROM webhook_subscriptions WHERE owner_id = $1 AND deleted_at IS NULL`,
		ownerID)
	if err != nil {
		return nil, 0, errx.Wrap(err, "failed to count subscriptions", errx.TypeInternal)
	}

	var rows []subscriptionRow
	err = s.db.SelectContext(ctx, &rows, `
		SELECT * FROM webhook_subscriptions
		WHERE owner_id = $1 AND deleted_at IS NULL
		ORDER BY created_at ASC
		LIMIT $2 OFFSET $3`,
		ownerID, opts.PageSize, (opts.Page-1)*opts.PageSize)
	if err != nil {
		return nil, 0, errx.Wrap(err, "failed to list subscriptions", errx.TypeInternal)
	}

	subs := make([]*webhookx.Subscription, 0, len(rows))
	for i := range rows {
		sub, err := rows[i].toModel()
		if err != nil {
			return nil, 0, errx.Wrap(err, "failed to decode subscription", errx.TypeInternal)
		}
		subs = append(subs, sub)
	}
	return subs, total, nil
}

func (s *SubscriptionStore) FindActiveByEventType(ctx context.Context, eventType string) ([]*webhookx.Subscription, error) {
	var rows []subscriptionRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM webhook_subscriptions
		WHERE active AND deleted_at IS NULL AND events @> to_jsonb(ARRAY[$1::text])
		ORDER BY created_at ASC`, eventType)
	if err != nil {
		return nil, errx.Wrap(err, "failed to find subscriptions", errx.TypeInternal).
			WithDetail("event_type", eventType)
	}

	subs := make([]*webhookx.Subscription, 0, len(rows))
	for i := range rows {
		sub, err := rows[i].toModel()
		if err != nil {
			return nil, errx.Wrap(err, "failed to decode subscription", errx.TypeInternal)
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

var _ webhookx.SubscriptionStore = (*SubscriptionStore)(nil)
