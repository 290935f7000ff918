package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	apperrors "adoption-workflow/internal/common/errors"
	"adoption-workflow/internal/models"
)

const (
	notificationInsertColumns = `id, recipient_id, type, status, title, message, metadata, read_at, delivered_at, created_at`
	notificationColumns       = notificationInsertColumns + `, delivery_attempts, next_attempt_at, abandoned_at`
)

func scanNotification(row rowScanner) (*models.Notification, error) {
	var (
		n           models.Notification
		typ, status string
		metadata    []byte
		readAt      sql.NullTime
		deliveredAt sql.NullTime
		nextAttempt sql.NullTime
		abandonedAt sql.NullTime
	)
	if err := row.Scan(&n.ID, &n.RecipientID, &typ, &status, &n.Title, &n.Message, &metadata,
		&readAt, &deliveredAt, &n.CreatedAt, &n.DeliveryAttempts, &nextAttempt, &abandonedAt); err != nil {
		return nil, err
	}

	m, err := unmarshalJSON(metadata)
	if err != nil {
		return nil, err
	}
	n.Type = models.NotificationType(typ)
	n.Status = models.NotificationStatus(status)
	n.Metadata = m
	n.ReadAt = timePtr(readAt)
	n.DeliveredAt = timePtr(deliveredAt)
	n.NextAttemptAt = timePtr(nextAttempt)
	n.AbandonedAt = timePtr(abandonedAt)
	return &n, nil
}

func (p *Postgres) InsertNotification(ctx context.Context, n *models.Notification) error {
	metadata, err := marshalJSON(n.Metadata)
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	_, err = p.q.ExecContext(ctx, `
		INSERT INTO notifications (`+notificationInsertColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		n.ID, n.RecipientID, string(n.Type), string(n.Status), n.Title, n.Message, metadata,
		nullTime(n.ReadAt), nullTime(n.DeliveredAt), n.CreatedAt,
	)
	if err != nil {
		return dbError("insert notification", err)
	}
	return nil
}

// UpdateNotificationStatus writes the recipient owned fields only.
func (p *Postgres) UpdateNotificationStatus(ctx context.Context, n *models.Notification) error {
	res, err := p.q.ExecContext(ctx,
		`UPDATE notifications SET status = $2, read_at = $3 WHERE id = $1`,
		n.ID, string(n.Status), nullTime(n.ReadAt))
	if err != nil {
		return dbError("update notification", err)
	}
	return expectOneRow(res, "update notification")
}

func (p *Postgres) GetNotification(ctx context.Context, id string) (*models.Notification, error) {
	n, err := scanNotification(p.q.QueryRowContext(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, id))
	if err != nil {
		return nil, dbError("get notification", err)
	}
	return n, nil
}

func (p *Postgres) ListNotifications(ctx context.Context, recipientID string, filter models.NotificationFilter) ([]models.Notification, error) {
	where := []string{"recipient_id = $1"}
	args := []interface{}{recipientID}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		where = append(where, fmt.Sprintf("type = $%d", len(args)))
	}
	args = append(args, clampLimit(filter.Limit))

	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE ` + strings.Join(where, " AND ") +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))
	return p.queryNotifications(ctx, "list notifications", query, args...)
}

// ClaimUndelivered locks due rows with SKIP LOCKED and pushes next_attempt_at past the lease in
// the same statement, so concurrent workers never load the same notification.
func (p *Postgres) ClaimUndelivered(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]models.Notification, error) {
	return p.queryNotifications(ctx, "claim undelivered", `
		UPDATE notifications
		SET delivery_attempts = delivery_attempts + 1, next_attempt_at = $2
		WHERE id IN (
			SELECT id FROM notifications
			WHERE delivered_at IS NULL AND abandoned_at IS NULL
				AND COALESCE(next_attempt_at, created_at) <= $1
			ORDER BY COALESCE(next_attempt_at, created_at), created_at, id
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+notificationColumns, now, now.Add(lease), clampLimit(limit))
}

func (p *Postgres) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	res, err := p.q.ExecContext(ctx, `
		UPDATE notifications SET delivered_at = $2, next_attempt_at = NULL
		WHERE id = $1 AND delivered_at IS NULL AND abandoned_at IS NULL`, id, at)
	if err != nil {
		return dbError("mark delivered", err)
	}
	return expectOneRow(res, "mark delivered")
}

func (p *Postgres) RetryDeliveryAt(ctx context.Context, id string, at time.Time) error {
	res, err := p.q.ExecContext(ctx, `
		UPDATE notifications SET next_attempt_at = $2
		WHERE id = $1 AND delivered_at IS NULL AND abandoned_at IS NULL`, id, at)
	if err != nil {
		return dbError("retry delivery", err)
	}
	return expectOneRow(res, "retry delivery")
}

func (p *Postgres) AbandonDelivery(ctx context.Context, id string, at time.Time) error {
	res, err := p.q.ExecContext(ctx, `
		UPDATE notifications SET abandoned_at = $2, next_attempt_at = NULL
		WHERE id = $1 AND delivered_at IS NULL AND abandoned_at IS NULL`, id, at)
	if err != nil {
		return dbError("abandon delivery", err)
	}
	return expectOneRow(res, "abandon delivery")
}

func (p *Postgres) queryNotifications(ctx context.Context, op, query string, args ...interface{}) ([]models.Notification, error) {
	rows, err := p.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbError(op, err)
	}
	defer rows.Close()

	out := []models.Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, dbError(op, err)
		}
		out = append(out, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError(op, err)
	}
	return out, nil
}
