package webhookxpg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/Abraxas-365/recibo/pkg/errx"
	"github.com/Abraxas-365/recibo/pkg/kernel"
	"github.com/Abraxas-365/recibo/pkg/webhookx"
)

// DeliveryStore is the PostgreSQL-backed delivery store.
type DeliveryStore struct {
	db *sqlx.DB
}

// NewDeliveryStore creates a store on an existing connection pool.
func NewDeliveryStore(db *sqlx.DB) *DeliveryStore {
	return &DeliveryStore{db: db}
}

func (s *DeliveryStore) Create(ctx context.Context, attempt *webhookx.DeliveryAttempt) error {
	query := `
		INSERT INTO webhook_deliveries (
			id, webhook_id, event_id, status, http_status, attempt_number,
			scheduled_at, completed_at, response_snippet, created_at, updated_at
		) VALUES (
			:id, :webhook_id, :event_id, :status, :http_status, :attempt_number,
			:scheduled_at, :completed_at, :response_snippet, :created_at, :updated_at
		)`
	if _, err := s.db.NamedExecContext(ctx, query, attempt); err != nil {
		return errx.Wrap(err, "failed to insert delivery", errx.TypeInternal).
			WithDetail("webhook_id", attempt.WebhookID)
	}
	return nil
}

func (s *DeliveryStore) Get(ctx context.Context, id string) (*webhookx.DeliveryAttempt, error) {
	var attempt webhookx.DeliveryAttempt
	err := s.db.GetContext(ctx, &attempt, `SELECT * FROM webhook_deliveries WHERE id = $1`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, webhookx.DeliveryNotFound(id)
		}
		return nil, errx.Wrap(err, "failed to load delivery", errx.TypeInternal).
			WithDetail("delivery_id", id)
	}
	return &attempt, nil
}

func (s *DeliveryStore) Update(ctx context.Context, attempt *webhookx.DeliveryAttempt) error {
	query := `
		UPDATE webhook_deliveries SET
			status = :status,
			http_status = :http_status,
			attempt_number = :attempt_number,
			scheduled_at = :scheduled_at,
			completed_at = :completed_at,
			response_snippet = :response_snippet,
			updated_at = :updated_at
		WHERE id = :id`
	res, err := s.db.NamedExecContext(ctx, query, attempt)
	if err != nil {
		return errx.Wrap(err, "failed to update delivery", errx.TypeInternal).
			WithDetail("delivery_id", attempt.ID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return webhookx.DeliveryNotFound(attempt.ID)
	}
	return nil
}

// ClaimDue grabs due retrying deliveries and pushes their schedule forward
// by lease, the same skip-locked compare-and-set shape the job store uses.
func (s *DeliveryStore) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*webhookx.DeliveryAttempt, error) {
	query := `
		UPDATE webhook_deliveries SET
			scheduled_at = $2,
			updated_at = $1
		WHERE id IN (
			SELECT id FROM webhook_deliveries
			WHERE status = 'retrying' AND scheduled_at <= $1
			ORDER BY scheduled_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		) AND status = 'retrying'
		RETURNING *`

	var attempts []*webhookx.DeliveryAttempt
	err := s.db.SelectContext(ctx, &attempts, query, now, now.Add(lease), limit)
	if err != nil {
		return nil, errx.Wrap(err, "failed to claim deliveries", errx.TypeInternal)
	}
	return attempts, nil
}

func (s *DeliveryStore) ListByWebhook(ctx context.Context, webhookID string, status webhookx.DeliveryStatus, opts kernel.PaginationOptions) ([]*webhookx.DeliveryAttempt, int, error) {
	where := `WHERE webhook_id = $1`
	args := []interface{}{webhookID}
	if status != "" {
		where += ` AND status = $2`
		args = append(args, status)
	}

	var total int
	err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM webhook_deliveries `+where, args...)
	if err != nil {
		return nil, 0, errx.Wrap(err, "failed to count deliveries", errx.TypeInternal)
	}

	args = append(args, opts.PageSize, (opts.Page-1)*opts.PageSize)
	query := fmt.Sprintf(`SELECT * FROM webhook_deliveries %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		where, len(args)-1, len(args))

	var attempts []*webhookx.DeliveryAttempt
	if err := s.db.SelectContext(ctx, &attempts, query, args...); err != nil {
		return nil, 0, errx.Wrap(err, "failed to list deliveries", errx.TypeInternal)
	}
	return attempts, total, nil
}

func (s *DeliveryStore) PruneTerminal(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM webhook_deliveries
		WHERE status IN ('success', 'failed') AND completed_at < $1`, cutoff)
	if err != nil {
		return 0, errx.Wrap(err, "failed to prune deliveries", errx.TypeInternal)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

var _ webhookx.DeliveryStore = (*DeliveryStore)(nil)
