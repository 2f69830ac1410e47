package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer is satisfied by *pgxpool.Pool and pgxmock pools.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresRepo struct {
	db Execer
}

func NewPostgresRepo(db Execer) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	meta := e.Metadata
	if meta == "" {
		meta = "{}"
	}
	var callID *string
	if e.CallID != "" {
		callID = &e.CallID
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO audit_events (id, type, actor, ip_address, call_id, message, metadata, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, string(e.Type), e.Actor, e.IPAddress, callID, e.Message, meta, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: insert event: %w", err)
	}
	return nil
}
