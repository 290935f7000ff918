package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	apperrors "adoption-workflow/internal/common/errors"
	"adoption-workflow/internal/models"
)

const applicationColumns = `id, pet_id, adopter_id, shelter_id, shelter_user_id, status, details,
	submitted_at, reviewed_at, reviewer_notes, created_at, updated_at`

func scanApplication(row rowScanner) (*models.Application, error) {
	var (
		app         models.Application
		status      string
		details     []byte
		submittedAt sql.NullTime
		reviewedAt  sql.NullTime
	)
	if err := row.Scan(
		&app.ID, &app.PetID, &app.AdopterID, &app.ShelterID, &app.ShelterUserID, &status, &details,
		&submittedAt, &reviewedAt, &app.ReviewerNotes, &app.CreatedAt, &app.UpdatedAt,
	); err != nil {
		return nil, err
	}

	d, err := unmarshalJSON(details)
	if err != nil {
		return nil, err
	}
	app.Status = models.ApplicationStatus(status)
	app.Details = d
	app.SubmittedAt = timePtr(submittedAt)
	app.ReviewedAt = timePtr(reviewedAt)
	return &app, nil
}

// InsertApplication fails with ErrDuplicateActive when the partial unique index rejects the row.
func (p *Postgres) InsertApplication(ctx context.Context, app *models.Application) error {
	details, err := marshalJSON(app.Details)
	if err != nil {
		return apperrors.NewValidationFailedError(err.Error(), nil)
	}

	_, err = p.q.ExecContext(ctx, `
		INSERT INTO applications (`+applicationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		app.ID, app.PetID, app.AdopterID, app.ShelterID, app.ShelterUserID, string(app.Status), details,
		nullTime(app.SubmittedAt), nullTime(app.ReviewedAt), app.ReviewerNotes, app.CreatedAt, app.UpdatedAt,
	)
	if err != nil {
		if isActivePairViolation(err) {
			return ErrDuplicateActive
		}
		return dbError("insert application", err)
	}
	return nil
}

func (p *Postgres) UpdateApplication(ctx context.Context, app *models.Application) error {
	details, err := marshalJSON(app.Details)
	if err != nil {
		return apperrors.NewValidationFailedError(err.Error(), nil)
	}

	res, err := p.q.ExecContext(ctx, `
		UPDATE applications
		SET status = $2, details = $3, submitted_at = $4, reviewed_at = $5, reviewer_notes = $6, updated_at = $7
		WHERE id = $1`,
		app.ID, string(app.Status), details, nullTime(app.SubmittedAt), nullTime(app.ReviewedAt),
		app.ReviewerNotes, app.UpdatedAt,
	)
	if err != nil {
		if isActivePairViolation(err) {
			return ErrDuplicateActive
		}
		return dbError("update application", err)
	}
	return expectOneRow(res, "update application")
}

func (p *Postgres) GetApplication(ctx context.Context, id string) (*models.Application, error) {
	app, err := scanApplication(p.q.QueryRowContext(ctx,
		`SELECT `+applicationColumns+` FROM applications WHERE id = $1`, id))
	if err != nil {
		return nil, dbError("get application", err)
	}
	return app, nil
}

func (p *Postgres) GetApplicationForUpdate(ctx context.Context, id string) (*models.Application, error) {
	app, err := scanApplication(p.q.QueryRowContext(ctx,
		p.forUpdate(`SELECT `+applicationColumns+` FROM applications WHERE id = $1`), id))
	if err != nil {
		return nil, dbError("get application", err)
	}
	return app, nil
}

func (p *Postgres) ListApplications(ctx context.Context, filter models.ApplicationFilter) ([]models.Application, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		where = append(where, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("adopter_id", filter.AdopterID)
	add("shelter_id", filter.ShelterID)
	add("pet_id", filter.PetID)
	add("status", string(filter.Status))

	query := `SELECT ` + applicationColumns + ` FROM applications`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, clampLimit(filter.Limit))
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := p.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbError("list applications", err)
	}
	defer rows.Close()

	out := []models.Application{}
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, dbError("scan application", err)
		}
		out = append(out, *app)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("list applications", err)
	}
	return out, nil
}

func expectOneRow(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return dbError(op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
