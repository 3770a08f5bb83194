// Package eventxpg implements eventx.Store on PostgreSQL.
package eventxpg

import (
	"context"
	"database/sql"

	"github.com/Abraxas-365/recibo/pkg/errx"
	"github.com/Abraxas-365/recibo/pkg/eventx"
	"github.com/jmoiron/sqlx"
)

// PostgresStore is the PostgreSQL-backed event store.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore creates a store on an existing connection pool.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, event *eventx.Event) error {
	query := `
		INSERT INTO events (id, type, payload, produced_by, timestamp)
		VALUES (:id, :type, :payload, :produced_by, :timestamp)`

	if _, err := s.db.NamedExecContext(ctx, query, event); err != nil {
		return errx.Wrap(err, "failed to insert event", errx.TypeInternal).
			WithDetail("type", event.Type)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*eventx.Event, error) {
	var event eventx.Event
	err := s.db.GetContext(ctx, &event, `SELECT * FROM events WHERE id = $1`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, eventx.NotFound(id)
		}
		return nil, errx.Wrap(err, "failed to load event", errx.TypeInternal).
			WithDetail("event_id", id)
	}
	return &event, nil
}
