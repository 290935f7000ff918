// Package adoption implements the adoption application workflow, interview scheduling,
// adopter responses and notification dispatch on top of a transactional store.
package adoption

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"adoption-workflow/internal/availability"
	"adoption-workflow/internal/common/errors"
	"adoption-workflow/internal/common/logger"
	"adoption-workflow/internal/common/observability"
	"adoption-workflow/internal/common/validation"
	"adoption-workflow/internal/models"
	"adoption-workflow/internal/store"

	"github.com/google/uuid"
)

// AvailabilityCache stores computed availability per shelter day. Implemented by cache.AvailabilityCache.
type AvailabilityCache interface {
	Lookup(ctx context.Context, shelterID, date string, duration int) (*availability.Availability, int64, error)
	Store(ctx context.Context, shelterID, date string, duration int, version int64, a *availability.Availability) error
	Invalidate(ctx context.Context, shelterID, date string) error
}

type Options struct {
	Store      store.Store
	Catalog    store.PetCatalog
	Calculator *availability.Calculator
	// Cache is optional.
	Cache         AvailabilityCache
	Validator     *validation.ApplicationValidator
	Observability *observability.Observability
	Logger        logger.Logger
	// ReminderLead is how far ahead of an interview the reminder goes out.
	ReminderLead time.Duration
	// NewID defaults to uuid.NewString.
	NewID func() string
}

// Service is the orchestrating layer: it loads state, asks the pure rules what should happen,
// and applies the resulting Effect in one transaction.
type Service struct {
	store        store.Store
	catalog      store.PetCatalog
	calc         *availability.Calculator
	cache        AvailabilityCache
	validator    *validation.ApplicationValidator
	obs          *observability.Observability
	log          logger.Logger
	reminderLead time.Duration
	newID        func() string
}

func NewService(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("adoption: store is required")
	}
	if opts.Catalog == nil {
		return nil, fmt.Errorf("adoption: pet catalog is required")
	}
	if opts.Calculator == nil {
		return nil, fmt.Errorf("adoption: availability calculator is required")
	}
	if opts.Validator == nil {
		v, err := validation.NewApplicationValidator()
		if err != nil {
			return nil, err
		}
		opts.Validator = v
	}
	if opts.Observability == nil {
		opts.Observability = observability.NewNoop("adoption-workflow")
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNoOpLogger()
	}
	if opts.ReminderLead <= 0 {
		opts.ReminderLead = 24 * time.Hour
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}

	return &Service{
		store:        opts.Store,
		catalog:      opts.Catalog,
		calc:         opts.Calculator,
		cache:        opts.Cache,
		validator:    opts.Validator,
		obs:          opts.Observability,
		log:          opts.Logger.WithFields(map[string]interface{}{"component": "adoption"}),
		reminderLead: opts.ReminderLead,
		newID:        opts.NewID,
	}, nil
}

// now is the calculator clock in UTC, so timestamps and same-day checks agree.
func (s *Service) now() time.Time {
	return s.calc.Now().UTC()
}

// Ping reports whether the store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// storeError maps repository sentinels onto StandardErrors for resource/id.
func storeError(err error, resource, id string) error {
	switch {
	case err == nil:
		return nil
	case stderrors.Is(err, store.ErrNotFound):
		return errors.NewNotFoundError(resource, id)
	case stderrors.Is(err, context.Canceled), stderrors.Is(err, context.DeadlineExceeded):
		return err
	}
	if _, ok := errors.AsStandard(err); ok {
		return err
	}
	return errors.NewDatabaseError(resource, err)
}

// canRead reports whether caller is a party to the application.
func canRead(caller models.Caller, adopterID, shelterID string) bool {
	if caller.IsAdopter() {
		return caller.UserID == adopterID
	}
	return caller.ManagesShelter(shelterID)
}
