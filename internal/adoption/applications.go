package adoption

import (
	"context"
	stderrors "errors"
	"strings"

	"adoption-workflow/internal/common/errors"
	"adoption-workflow/internal/models"
	"adoption-workflow/internal/store"
	"adoption-workflow/internal/workflow"

	"go.opentelemetry.io/otel/attribute"
)

// CreateDraft starts a new application for petID. Details are not validated until Submit.
func (s *Service) CreateDraft(ctx context.Context, caller models.Caller, petID string, details map[string]interface{}) (app *models.Application, err error) {
	ctx, op := s.obs.Start(ctx, "adoption.CreateDraft", attribute.String("pet.id", petID))
	defer func() { op.End(ctx, err) }()

	pet, err := s.resolvePet(ctx, caller, petID)
	if err != nil {
		return nil, err
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, repo store.Repository) error {
		app = s.newApplication(caller, pet, details)
		return s.insertApplication(ctx, repo, app, caller.UserID)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Draft application created", map[string]interface{}{
		"applicationId": app.ID,
		"petId":         app.PetID,
		"adopterId":     app.AdopterID,
	})
	return app, nil
}

// SaveDraft replaces the details of a draft application.
func (s *Service) SaveDraft(ctx context.Context, caller models.Caller, id string, details map[string]interface{}) (app *models.Application, err error) {
	ctx, op := s.obs.Start(ctx, "adoption.SaveDraft", attribute.String("application.id", id))
	defer func() { op.End(ctx, err) }()

	err = s.store.WithinTx(ctx, func(ctx context.Context, repo store.Repository) error {
		a, err := s.loadOwnApplication(ctx, repo, caller, id)
		if err != nil {
			return err
		}
		if a.Status != models.StatusDraft {
			return errors.NewInvalidTransitionError("application", string(a.Status), string(models.StatusDraft))
		}

		a.Details = details
		if a.Details == nil {
			a.Details = map[string]interface{}{}
		}
		a.UpdatedAt = s.now()
		if err := repo.UpdateApplication(ctx, a); err != nil {
			return storeError(err, "application", id)
		}
		app = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return app, nil
}

// Submit moves a draft to submitted after validating its details and the pet's availability.
func (s *Service) Submit(ctx context.Context, caller models.Caller, id string) (app *models.Application, err error) {
	ctx, op := s.obs.Start(ctx, "adoption.Submit", attribute.String("application.id", id))
	defer func() { op.End(ctx, err) }()

	var result *applied
	err = s.store.WithinTx(ctx, func(ctx context.Context, repo store.Repository) error {
		a, err := s.loadOwnApplication(ctx, repo, caller, id)
		if err != nil {
			return err
		}
		result, err = s.submit(ctx, repo, caller, a)
		app = a
		return err
	})
	if err != nil {
		return nil, err
	}

	s.record(result)
	return app, nil
}

// SubmitApplication creates and submits an application in one transaction.
func (s *Service) SubmitApplication(ctx context.Context, caller models.Caller, petID string, details map[string]interface{}) (app *models.Application, err error) {
	ctx, op := s.obs.Start(ctx, "adoption.SubmitApplication", attribute.String("pet.id", petID))
	defer func() { op.End(ctx, err) }()

	pet, err := s.resolvePet(ctx, caller, petID)
	if err != nil {
		return nil, err
	}

	var result *applied
	err = s.store.WithinTx(ctx, func(ctx context.Context, repo store.Repository) error {
		a := s.newApplication(caller, pet, details)
		if err := s.insertApplication(ctx, repo, a, caller.UserID); err != nil {
			return err
		}
		var err error
		result, err = s.submit(ctx, repo, caller, a)
		app = a
		return err
	})
	if err != nil {
		return nil, err
	}

	s.record(result)
	s.log.Info("Application submitted", map[string]interface{}{
		"applicationId": app.ID,
		"petId":         app.PetID,
		"adopterId":     app.AdopterID,
	})
	return app, nil
}

// Withdraw ends the application on the adopter's behalf and cancels its active interviews.
func (s *Service) Withdraw(ctx context.Context, caller models.Caller, id string) (app *models.Application, err error) {
	ctx, op := s.obs.Start(ctx, "adoption.Withdraw", attribute.String("application.id", id))
	defer func() { op.End(ctx, err) }()

	var (
		result   *applied
		released []string
	)
	err = s.store.WithinTx(ctx, func(ctx context.Context, repo store.Repository) error {
		a, err := s.loadOwnApplication(ctx, repo, caller, id)
		if err != nil {
			return err
		}
		if err := workflow.CheckTransition(a.Status, models.StatusWithdrawn, workflow.ActorAdopter); err != nil {
			return err
		}

		released, err = s.releaseInterviews(ctx, repo, a, "application withdrawn")
		if err != nil {
			return err
		}

		eff := Effect{ApplicationID: a.ID, ApplicationStatus: models.StatusWithdrawn}
		if a.Status != models.StatusDraft && a.ShelterUserID != "" {
			eff.Notifications = append(eff.Notifications, buildNotification(tplApplicationWithdrawn, a.ShelterUserID,
				map[string]string{"petName": s.petName(ctx, a.PetID)}, applicationMetadata(a)))
		}
		result, err = s.applyEffect(ctx, repo, a, workflow.ActorAdopter, caller.UserID, eff)
		app = a
		return err
	})
	if err != nil {
		return nil, err
	}

	s.record(result)
	s.invalidate(ctx, app.ShelterID, released...)
	return app, nil
}

// Review applies a shelter decision: under_review, pending_approval, approved or rejected.
func (s *Service) Review(ctx context.Context, caller models.Caller, id string, status models.ApplicationStatus, notes string) (app *models.Application, err error) {
	ctx, op := s.obs.Start(ctx, "adoption.Review",
		attribute.String("application.id", id),
		attribute.String("application.status", string(status)))
	defer func() { op.End(ctx, err) }()

	if !workflow.ReviewTargets[status] {
		return nil, errors.NewValidationFailedError(
			"status must be one of under_review, pending_approval, approved, rejected", []string{"status"})
	}

	var (
		result   *applied
		released []string
	)
	err = s.store.WithinTx(ctx, func(ctx context.Context, repo store.Repository) error {
		a, err := repo.GetApplicationForUpdate(ctx, id)
		if err != nil {
			return storeError(err, "application", id)
		}
		if !caller.ManagesShelter(a.ShelterID) {
			return errors.NewForbiddenError("only the owning shelter may review this application")
		}
		if err := workflow.CheckTransition(a.Status, status, workflow.ActorShelter); err != nil {
			return err
		}

		if notes = strings.TrimSpace(notes); notes != "" {
			a.ReviewerNotes = notes
		}
		if status.IsTerminal() {
			now := s.now()
			a.ReviewedAt = &now
			released, err = s.releaseInterviews(ctx, repo, a, "application "+string(status))
			if err != nil {
				return err
			}
		}

		eff := Effect{
			ApplicationID:     a.ID,
			ApplicationStatus: status,
			Notifications: []models.Notification{
				buildNotification(reviewTemplates[status], a.AdopterID, map[string]string{"notes": notes}, applicationMetadata(a)),
			},
		}
		result, err = s.applyEffect(ctx, repo, a, workflow.ActorShelter, caller.UserID, eff)
		app = a
		return err
	})
	if err != nil {
		return nil, err
	}

	s.record(result)
	s.invalidate(ctx, app.ShelterID, released...)
	return app, nil
}

var reviewTemplates = map[models.ApplicationStatus]templateID{
	models.StatusUnderReview:     tplApplicationUnderReview,
	models.StatusPendingApproval: tplApplicationPendingApproval,
	models.StatusApproved:        tplApplicationApproved,
	models.StatusRejected:        tplApplicationRejected,
}

// GetApplication returns an application to either party.
func (s *Service) GetApplication(ctx context.Context, caller models.Caller, id string) (*models.Application, error) {
	app, err := s.store.GetApplication(ctx, id)
	if err != nil {
		return nil, storeError(err, "application", id)
	}
	if !canRead(caller, app.AdopterID, app.ShelterID) {
		return nil, errors.NewForbiddenError("caller is not a party to this application")
	}
	return app, nil
}

// ListApplications lists the adopter's own applications, or the shelter's.
func (s *Service) ListApplications(ctx context.Context, caller models.Caller, filter models.ApplicationFilter) ([]models.Application, error) {
	switch {
	case caller.IsAdopter():
		filter.AdopterID = caller.UserID
	case caller.ShelterID != "":
		filter.ShelterID = caller.ShelterID
	default:
		return nil, errors.NewForbiddenError("caller has no shelter")
	}

	apps, err := s.store.ListApplications(ctx, filter)
	if err != nil {
		return nil, storeError(err, "application", "")
	}
	return apps, nil
}

func (s *Service) resolvePet(ctx context.Context, caller models.Caller, petID string) (*models.Pet, error) {
	if !caller.IsAdopter() {
		return nil, errors.NewForbiddenError("only adopters create applications")
	}
	if strings.TrimSpace(petID) == "" {
		return nil, errors.NewValidationFailedError("petId is required", []string{"petId"})
	}
	pet, err := s.catalog.GetPet(ctx, petID)
	if err != nil {
		return nil, storeError(err, "pet", petID)
	}
	return pet, nil
}

func (s *Service) petName(ctx context.Context, petID string) string {
	pet, err := s.catalog.GetPet(ctx, petID)
	if err != nil || pet.Name == "" {
		return petID
	}
	return pet.Name
}

func (s *Service) newApplication(caller models.Caller, pet *models.Pet, details map[string]interface{}) *models.Application {
	if details == nil {
		details = map[string]interface{}{}
	}
	now := s.now()
	return &models.Application{
		ID:            s.newID(),
		PetID:         pet.ID,
		AdopterID:     caller.UserID,
		ShelterID:     pet.ShelterID,
		ShelterUserID: pet.ShelterUserID,
		Status:        models.StatusDraft,
		Details:       details,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func (s *Service) insertApplication(ctx context.Context, repo store.Repository, app *models.Application, actorID string) error {
	if err := repo.InsertApplication(ctx, app); err != nil {
		if stderrors.Is(err, store.ErrDuplicateActive) {
			return errors.NewDuplicateApplicationError(app.PetID, app.AdopterID)
		}
		return storeError(err, "application", app.ID)
	}
	if err := repo.AppendAudit(ctx, store.AuditEntry{
		EventType:    "application.created",
		ResourceType: "application",
		ResourceID:   app.ID,
		ActorID:      actorID,
		Details:      map[string]interface{}{"petId": app.PetID},
		CreatedAt:    app.CreatedAt,
	}); err != nil {
		return storeError(err, "audit", app.ID)
	}
	return nil
}

func (s *Service) submit(ctx context.Context, repo store.Repository, caller models.Caller, app *models.Application) (*applied, error) {
	if err := workflow.CheckTransition(app.Status, models.StatusSubmitted, workflow.ActorAdopter); err != nil {
		return nil, err
	}
	if err := s.validator.Validate(app.Details); err != nil {
		return nil, err
	}

	pet, err := s.catalog.GetPet(ctx, app.PetID)
	if err != nil {
		return nil, storeError(err, "pet", app.PetID)
	}
	if pet.Status != models.PetStatusAvailable {
		return nil, errors.NewPetUnavailableError(pet.ID, pet.Status)
	}

	now := s.now()
	app.SubmittedAt = &now

	eff := Effect{ApplicationID: app.ID, ApplicationStatus: models.StatusSubmitted}
	if app.ShelterUserID != "" {
		eff.Notifications = append(eff.Notifications, buildNotification(tplApplicationSubmitted, app.ShelterUserID,
			map[string]string{"petName": pet.Name}, applicationMetadata(app)))
	}
	return s.applyEffect(ctx, repo, app, workflow.ActorAdopter, caller.UserID, eff)
}

// loadOwnApplication locks the application and checks caller is its adopter.
func (s *Service) loadOwnApplication(ctx context.Context, repo store.Repository, caller models.Caller, id string) (*models.Application, error) {
	app, err := repo.GetApplicationForUpdate(ctx, id)
	if err != nil {
		return nil, storeError(err, "application", id)
	}
	if !caller.IsAdopter() || app.AdopterID != caller.UserID {
		return nil, errors.NewForbiddenError("only the applicant may change this application")
	}
	return app, nil
}

// releaseInterviews cancels the application's active interviews and returns the freed dates.
// The caller holds the application lock; each interview is locked and re-read before it changes.
func (s *Service) releaseInterviews(ctx context.Context, repo store.Repository, app *models.Application, reason string) ([]string, error) {
	interviews, err := repo.ListInterviewsByApplication(ctx, app.ID)
	if err != nil {
		return nil, storeError(err, "interview", "")
	}

	var dates []string
	now := s.now()
	for i := range interviews {
		if !interviews[i].Status.IsActive() {
			continue
		}
		iv, err := repo.GetInterviewForUpdate(ctx, interviews[i].ID)
		if err != nil {
			return nil, storeError(err, "interview", interviews[i].ID)
		}
		if !iv.Status.IsActive() {
			continue
		}
		iv.Status = models.InterviewCancelled
		iv.CancelReason = reason
		iv.UpdatedAt = now
		if err := repo.UpdateInterview(ctx, iv); err != nil {
			return nil, storeError(err, "interview", iv.ID)
		}
		dates = append(dates, iv.ScheduledDate)
	}
	return dates, nil
}

func applicationMetadata(app *models.Application) map[string]interface{} {
	return map[string]interface{}{
		"applicationId": app.ID,
		"petId":         app.PetID,
	}
}
