// Package receiptpg implements receipt.Store on PostgreSQL.
package receiptpg

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/Abraxas-365/recibo/pkg/errx"
	"github.com/Abraxas-365/recibo/pkg/kernel"
	"github.com/Abraxas-365/recibo/pkg/receipt"
)

// PostgresStore is the PostgreSQL-backed receipt store.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore creates a store on an existing connection pool.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, r *receipt.Receipt) error {
	query := `
		INSERT INTO receipts (
			id, tenant_id, file_key, source, status, vendor_name, total_amount,
			currency, receipt_date, ocr_text, ocr_confidence, failure_reason,
			created_at, updated_at
		) VALUES (
			:id, :tenant_id, :file_key, :source, :status, :vendor_name, :total_amount,
			:currency, :receipt_date, :ocr_text, :ocr_confidence, :failure_reason,
			:created_at, :updated_at
		)`
	if _, err := s.db.NamedExecContext(ctx, query, r); err != nil {
		return errx.Wrap(err, "failed to insert receipt", errx.TypeInternal).
			WithDetail("receipt_id", r.ID)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*receipt.Receipt, error) {
	var r receipt.Receipt
	err := s.db.GetContext(ctx, &r, `SELECT * FROM receipts WHERE id = $1`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, receipt.NotFound(id)
		}
		return nil, errx.Wrap(err, "failed to load receipt", errx.TypeInternal).
			WithDetail("receipt_id", id)
	}
	return &r, nil
}

func (s *PostgresStore) Update(ctx context.Context, r *receipt.Receipt) error {
	query := `
		UPDATE receipts SET
			status = :status,
			vendor_name = :vendor_name,
			total_amount = :total_amount,
			currency = :currency,
			receipt_date = :receipt_date,
			ocr_text = :ocr_text,
			ocr_confidence = :ocr_confidence,
			failure_reason = :failure_reason,
			updated_at = :updated_at
		WHERE id = :id`
	res, err := s.db.NamedExecContext(ctx, query, r)
	if err != nil {
		return errx.Wrap(err, "failed to update receipt", errx.TypeInternal).
			WithDetail("receipt_id", r.ID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return receipt.NotFound(r.ID)
	}
	return nil
}

func (s *PostgresStore) ListByTenantBetween(ctx context.Context, tenant kernel.TenantID, from, to time.Time) ([]*receipt.Receipt, error) {
	var rows []*receipt.Receipt
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM receipts
		WHERE tenant_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at ASC`, tenant, from, to)
	if err != nil {
		return nil, errx.Wrap(err, "failed to list receipts", errx.TypeInternal).
			WithDetail("tenant_id", tenant.String())
	}
	return rows, nil
}

var _ receipt.Store = (*PostgresStore)(nil)
