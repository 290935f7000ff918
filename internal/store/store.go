// Package store persists applications, interviews and notifications.
package store

import (
	"context"
	"errors"
	"time"

	"adoption-workflow/internal/models"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("NOT_FOUND")
	// ErrDuplicateActive is returned when an active application for the same pet and adopter exists.
	ErrDuplicateActive = errors.New("DUPLICATE_APPLICATION")
)

// Repository is the set of reads and writes the adoption service needs. The same methods are
// available inside and outside a transaction; the *ForUpdate reads only lock inside one.
type Repository interface {
	InsertApplication(ctx context.Context, app *models.Application) error
	UpdateApplication(ctx context.Context, app *models.Application) error
	GetApplication(ctx context.Context, id string) (*models.Application, error)
	GetApplicationForUpdate(ctx context.Context, id string) (*models.Application, error)
	ListApplications(ctx context.Context, filter models.ApplicationFilter) ([]models.Application, error)

	// LockShelterDay serializes bookings for one shelter calendar day until the transaction ends.
	LockShelterDay(ctx context.Context, shelterID, date string) error
	InsertInterview(ctx context.Context, iv *models.Interview) error
	UpdateInterview(ctx context.Context, iv *models.Interview) error
	GetInterview(ctx context.Context, id string) (*models.Interview, error)
	GetInterviewForUpdate(ctx context.Context, id string) (*models.Interview, error)
	ListInterviewsByApplication(ctx context.Context, applicationID string) ([]models.Interview, error)
	// ListActiveInterviews returns scheduled, confirmed and rescheduled interviews for a shelter day.
	ListActiveInterviews(ctx context.Context, shelterID, date string) ([]models.Interview, error)
	// ListReminderCandidates returns active interviews with no reminder sent whose start lies
	// strictly after the window's From and no later than its To, earliest first.
	ListReminderCandidates(ctx context.Context, window ReminderWindow, limit int) ([]models.Interview, error)

	InsertNotification(ctx context.Context, n *models.Notification) error
	UpdateNotificationStatus(ctx context.Context, n *models.Notification) error
	GetNotification(ctx context.Context, id string) (*models.Notification, error)
	ListNotifications(ctx context.Context, recipientID string, filter models.NotificationFilter) ([]models.Notification, error)
	// ClaimUndelivered leases up to limit notifications that are due for delivery at now: it
	// increments their attempt count and hides them from other claimers until now+lease.
	// Rows are claimed oldest due time first.
	ClaimUndelivered(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]models.Notification, error)
	// MarkDelivered returns ErrNotFound when the row is already delivered or abandoned.
	MarkDelivered(ctx context.Context, id string, at time.Time) error
	// RetryDeliveryAt makes an undelivered notification claimable again from at.
	RetryDeliveryAt(ctx context.Context, id string, at time.Time) error
	// AbandonDelivery stops all further delivery attempts.
	AbandonDelivery(ctx context.Context, id string, at time.Time) error

	AppendAudit(ctx context.Context, entry AuditEntry) error
}

// Store is a Repository that can also run a unit of work atomically.
type Store interface {
	Repository
	// WithinTx runs fn in one transaction. Returning an error, or a cancelled ctx, rolls back.
	WithinTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error
	Ping(ctx context.Context) error
}

// PetCatalog is the read-only view of the external pet/shelter catalog.
type PetCatalog interface {
	GetPet(ctx context.Context, petID string) (*models.Pet, error)
}

// ContactDirectory resolves delivery addresses for users.
type ContactDirectory interface {
	GetContact(ctx context.Context, userID string) (*models.Contact, error)
}

// ReminderWindow bounds reminder candidates by their local start. Dates are YYYY-MM-DD and
// times HH:MM in the scheduling time zone.
type ReminderWindow struct {
	FromDate, FromTime string
	ToDate, ToTime     string
}

// AuditEntry is one row of the audit log.
type AuditEntry struct {
	EventType    string
	ResourceType string
	ResourceID   string
	ActorID      string
	Details      map[string]interface{}
	CreatedAt    time.Time
}

const defaultListLimit = 100

func clampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return defaultListLimit
	}
	return limit
}
