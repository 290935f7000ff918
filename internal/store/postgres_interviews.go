package store

import (
	"context"
	"database/sql"

	"adoption-workflow/internal/models"
)

const interviewColumns = `id, application_id, shelter_id, adopter_id, type, status, scheduled_date, scheduled_time,
	duration_minutes, location, shelter_notes, adopter_response, adopter_response_notes, responded_at,
	cancel_reason, reminder_sent_at, created_at, updated_at`

const activeInterviewStatuses = `('scheduled', 'confirmed', 'rescheduled')`

func scanInterview(row rowScanner) (*models.Interview, error) {
	var (
		iv             models.Interview
		typ, status    string
		response       sql.NullBool
		respondedAt    sql.NullTime
		reminderSentAt sql.NullTime
	)
	if err := row.Scan(
		&iv.ID, &iv.ApplicationID, &iv.ShelterID, &iv.AdopterID, &typ, &status, &iv.ScheduledDate, &iv.ScheduledTime,
		&iv.DurationMinutes, &iv.Location, &iv.ShelterNotes, &response, &iv.AdopterResponseNotes, &respondedAt,
		&iv.CancelReason, &reminderSentAt, &iv.CreatedAt, &iv.UpdatedAt,
	); err != nil {
		return nil, err
	}

	iv.Type = models.InterviewType(typ)
	iv.Status = models.InterviewStatus(status)
	if response.Valid {
		v := response.Bool
		iv.AdopterResponse = &v
	}
	iv.RespondedAt = timePtr(respondedAt)
	iv.ReminderSentAt = timePtr(reminderSentAt)
	return &iv, nil
}

func nullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}

// LockShelterDay takes a transaction scoped advisory lock keyed by shelter and date.
func (p *Postgres) LockShelterDay(ctx context.Context, shelterID, date string) error {
	if _, err := p.q.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, shelterID+"|"+date); err != nil {
		return dbError("lock shelter day", err)
	}
	return nil
}

func (p *Postgres) InsertInterview(ctx context.Context, iv *models.Interview) error {
	_, err := p.q.ExecContext(ctx, `
		INSERT INTO interviews (`+interviewColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		iv.ID, iv.ApplicationID, iv.ShelterID, iv.AdopterID, string(iv.Type), string(iv.Status),
		iv.ScheduledDate, iv.ScheduledTime, iv.DurationMinutes, iv.Location, iv.ShelterNotes,
		nullBool(iv.AdopterResponse), iv.AdopterResponseNotes, nullTime(iv.RespondedAt),
		iv.CancelReason, nullTime(iv.ReminderSentAt), iv.CreatedAt, iv.UpdatedAt,
	)
	if err != nil {
		return dbError("insert interview", err)
	}
	return nil
}

func (p *Postgres) UpdateInterview(ctx context.Context, iv *models.Interview) error {
	res, err := p.q.ExecContext(ctx, `
		UPDATE interviews
		SET status = $2, scheduled_date = $3, scheduled_time = $4, duration_minutes = $5, location = $6,
			shelter_notes = $7, adopter_response = $8, adopter_response_notes = $9, responded_at = $10,
			cancel_reason = $11, reminder_sent_at = $12, updated_at = $13
		WHERE id = $1`,
		iv.ID, string(iv.Status), iv.ScheduledDate, iv.ScheduledTime, iv.DurationMinutes, iv.Location,
		iv.ShelterNotes, nullBool(iv.AdopterResponse), iv.AdopterResponseNotes, nullTime(iv.RespondedAt),
		iv.CancelReason, nullTime(iv.ReminderSentAt), iv.UpdatedAt,
	)
	if err != nil {
		return dbError("update interview", err)
	}
	return expectOneRow(res, "update interview")
}

func (p *Postgres) GetInterview(ctx context.Context, id string) (*models.Interview, error) {
	iv, err := scanInterview(p.q.QueryRowContext(ctx,
		`SELECT `+interviewColumns+` FROM interviews WHERE id = $1`, id))
	if err != nil {
		return nil, dbError("get interview", err)
	}
	return iv, nil
}

func (p *Postgres) GetInterviewForUpdate(ctx context.Context, id string) (*models.Interview, error) {
	iv, err := scanInterview(p.q.QueryRowContext(ctx,
		p.forUpdate(`SELECT `+interviewColumns+` FROM interviews WHERE id = $1`), id))
	if err != nil {
		return nil, dbError("get interview", err)
	}
	return iv, nil
}

func (p *Postgres) ListInterviewsByApplication(ctx context.Context, applicationID string) ([]models.Interview, error) {
	return p.queryInterviews(ctx, "list interviews", `
		SELECT `+interviewColumns+` FROM interviews
		WHERE application_id = $1
		ORDER BY scheduled_date, scheduled_time`, applicationID)
}

func (p *Postgres) ListActiveInterviews(ctx context.Context, shelterID, date string) ([]models.Interview, error) {
	return p.queryInterviews(ctx, "list active interviews", `
		SELECT `+interviewColumns+` FROM interviews
		WHERE shelter_id = $1 AND scheduled_date = $2 AND status IN `+activeInterviewStatuses+`
		ORDER BY scheduled_time`, shelterID, date)
}

// ListReminderCandidates skips rows locked by a concurrent reminder run. Dates and times are
// zero padded, so row comparison on the text columns orders by start.
func (p *Postgres) ListReminderCandidates(ctx context.Context, window ReminderWindow, limit int) ([]models.Interview, error) {
	query := `
		SELECT ` + interviewColumns + ` FROM interviews
		WHERE (scheduled_date, scheduled_time) > ($1, $2)
			AND (scheduled_date, scheduled_time) <= ($3, $4)
			AND status IN ` + activeInterviewStatuses + `
			AND reminder_sent_at IS NULL
		ORDER BY scheduled_date, scheduled_time
		LIMIT $5`
	if p.inTx {
		query += " FOR UPDATE SKIP LOCKED"
	}
	return p.queryInterviews(ctx, "list reminder candidates", query,
		window.FromDate, window.FromTime, window.ToDate, window.ToTime, clampLimit(limit))
}

func (p *Postgres) queryInterviews(ctx context.Context, op, query string, args ...interface{}) ([]models.Interview, error) {
	rows, err := p.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbError(op, err)
	}
	defer rows.Close()

	out := []models.Interview{}
	for rows.Next() {
		iv, err := scanInterview(rows)
		if err != nil {
			return nil, dbError(op, err)
		}
		out = append(out, *iv)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError(op, err)
	}
	return out, nil
}
