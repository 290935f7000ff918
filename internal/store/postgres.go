package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	apperrors "adoption-workflow/internal/common/errors"

	"github.com/lib/pq"
)

const activePairConstraint = "applications_active_pair_idx"

type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// Postgres implements Store on lib/pq.
type Postgres struct {
	db   *sql.DB
	q    querier
	inTx bool
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db, q: db}
}

func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return apperrors.NewDatabaseError("ping", err)
	}
	return nil
}

// WithinTx runs fn in a READ COMMITTED transaction. Row locks and the shelter day advisory lock
// provide the serialization the service relies on.
func (p *Postgres) WithinTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error {
	if p.inTx {
		return fn(ctx, p)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.NewDatabaseError("begin", err)
	}

	if err := fn(ctx, &Postgres{db: p.db, q: tx, inTx: true}); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return apperrors.NewDatabaseError("commit", err)
	}
	return nil
}

func (p *Postgres) forUpdate(query string) string {
	if p.inTx {
		return query + " FOR UPDATE"
	}
	return query
}

func dbError(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return apperrors.NewDatabaseError(op, err)
}

func isActivePairViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505" && pqErr.Constraint == activePairConstraint
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func marshalJSON(v map[string]interface{}) ([]byte, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(v)
}

func unmarshalJSON(raw []byte) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode json column: %w", err)
	}
	return out, nil
}

// AppendAudit records one audit event.
func (p *Postgres) AppendAudit(ctx context.Context, entry AuditEntry) error {
	details, err := marshalJSON(entry.Details)
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	_, err = p.q.ExecContext(ctx, `
		INSERT INTO audit_log (event_type, resource_type, resource_id, actor_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.EventType, entry.ResourceType, entry.ResourceID, entry.ActorID, details, entry.CreatedAt,
	)
	if err != nil {
		return dbError("append audit", err)
	}
	return nil
}
