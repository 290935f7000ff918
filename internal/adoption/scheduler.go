package adoption

import (
	"context"
	"fmt"
	"strings"

	"adoption-workflow/internal/availability"
	"adoption-workflow/internal/common/errors"
	"adoption-workflow/internal/common/metrics"
	"adoption-workflow/internal/common/retry"
	"adoption-workflow/internal/models"
	"adoption-workflow/internal/store"
	"adoption-workflow/internal/workflow"

	"go.opentelemetry.io/otel/attribute"
)

const maxInterviewMinutes = 8 * 60

// ScheduleRequest books a new interview. Zero DurationMinutes and empty Location take the
// interview type defaults.
type ScheduleRequest struct {
	ApplicationID   string               `json:"applicationId"`
	Type            models.InterviewType `json:"type"`
	Date            string               `json:"date"`
	Time            string               `json:"time"`
	DurationMinutes int                  `json:"durationMinutes"`
	Location        string               `json:"location"`
	Notes           string               `json:"notes"`
}

// PlanBooking returns the Effect of booking iv for app: the matching *_scheduled status and an
// interview_scheduled notification for the adopter. A reschedule only moves the application when
// a decline had sent it back to under_review.
func PlanBooking(app *models.Application, iv *models.Interview, rescheduled bool) Effect {
	eff := Effect{ApplicationID: app.ID}
	target, _ := workflow.ScheduledStatusFor(iv.Type)

	tpl := tplInterviewScheduled
	if rescheduled {
		tpl = tplInterviewRescheduled
		if app.Status == models.StatusUnderReview {
			eff.ApplicationStatus = target
		}
	} else {
		eff.ApplicationStatus = target
	}

	eff.Notifications = []models.Notification{
		buildNotification(tpl, iv.AdopterID, interviewVars(iv), interviewMetadata(iv)),
	}
	return eff
}

// Schedule books an interview for an application owned by the caller's shelter. The overlap
// check runs under the shelter day lock, so concurrent bookings of one slot cannot both succeed.
func (s *Service) Schedule(ctx context.Context, caller models.Caller, req ScheduleRequest) (iv *models.Interview, err error) {
	ctx, op := s.obs.Start(ctx, "adoption.Schedule",
		attribute.String("application.id", req.ApplicationID),
		attribute.String("interview.type", string(req.Type)),
		attribute.String("interview.date", req.Date))
	defer func() {
		metrics.InterviewBookings.WithLabelValues("schedule", bookingOutcome(err)).Inc()
		op.End(ctx, err)
	}()

	info, ok := models.LookupInterviewType(req.Type)
	if !ok {
		return nil, errors.NewValidationFailedError(
			fmt.Sprintf("unknown interview type %q", req.Type), []string{"type"})
	}
	duration := req.DurationMinutes
	if duration == 0 {
		duration = info.DefaultDuration
	}
	if duration < 0 || duration > maxInterviewMinutes {
		return nil, errors.NewValidationFailedError(
			fmt.Sprintf("durationMinutes must be between 1 and %d", maxInterviewMinutes), []string{"durationMinutes"})
	}
	location := strings.TrimSpace(req.Location)
	if location == "" {
		location = info.DefaultLocation
	}
	start, err := s.validateSlot(req.Date, req.Time)
	if err != nil {
		return nil, err
	}

	var result *applied
	err = s.store.WithinTx(ctx, func(ctx context.Context, repo store.Repository) error {
		app, err := repo.GetApplicationForUpdate(ctx, req.ApplicationID)
		if err != nil {
			return storeError(err, "application", req.ApplicationID)
		}
		if !caller.ManagesShelter(app.ShelterID) {
			return errors.NewForbiddenError("only the owning shelter may schedule interviews")
		}
		if err := workflow.CheckTransition(app.Status, info.ApplicationStatus, workflow.ActorScheduler); err != nil {
			return err
		}

		if err := s.checkSlot(ctx, repo, app.ShelterID, req.Date, req.Time, start, duration, ""); err != nil {
			return err
		}

		now := s.now()
		booked := &models.Interview{
			ID:              s.newID(),
			ApplicationID:   app.ID,
			ShelterID:       app.ShelterID,
			AdopterID:       app.AdopterID,
			Type:            req.Type,
			Status:          models.InterviewScheduled,
			ScheduledDate:   req.Date,
			ScheduledTime:   req.Time,
			DurationMinutes: duration,
			Location:        location,
			ShelterNotes:    strings.TrimSpace(req.Notes),
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := repo.InsertInterview(ctx, booked); err != nil {
			return storeError(err, "interview", booked.ID)
		}

		result, err = s.applyEffect(ctx, repo, app, workflow.ActorScheduler, caller.UserID, PlanBooking(app, booked, false))
		iv = booked
		return err
	})
	if err != nil {
		return nil, err
	}

	s.record(result)
	s.invalidate(ctx, iv.ShelterID, iv.ScheduledDate)
	s.log.Info("Interview scheduled", map[string]interface{}{
		"interviewId":   iv.ID,
		"applicationId": iv.ApplicationID,
		"shelterId":     iv.ShelterID,
		"date":          iv.ScheduledDate,
		"time":          iv.ScheduledTime,
	})
	return iv, nil
}

// Reschedule moves an interview to a new slot and clears the adopter's previous answer.
func (s *Service) Reschedule(ctx context.Context, caller models.Caller, interviewID, newDate, newTime, notes string) (iv *models.Interview, err error) {
	ctx, op := s.obs.Start(ctx, "adoption.Reschedule",
		attribute.String("interview.id", interviewID),
		attribute.String("interview.date", newDate))
	defer func() {
		metrics.InterviewBookings.WithLabelValues("reschedule", bookingOutcome(err)).Inc()
		op.End(ctx, err)
	}()

	start, err := s.validateSlot(newDate, newTime)
	if err != nil {
		return nil, err
	}

	var (
		result  *applied
		oldDate string
	)
	err = s.store.WithinTx(ctx, func(ctx context.Context, repo store.Repository) error {
		app, current, err := s.lockInterview(ctx, repo, interviewID)
		if err != nil {
			return err
		}
		if !caller.ManagesShelter(current.ShelterID) {
			return errors.NewForbiddenError("only the owning shelter may change this interview")
		}
		if err := workflow.CheckInterviewTransition(current.Status, models.InterviewRescheduled); err != nil {
			return err
		}
		if app.Status.IsTerminal() {
			return errors.NewInvalidTransitionError("application", string(app.Status), "rescheduled interview")
		}

		if err := s.checkSlot(ctx, repo, current.ShelterID, newDate, newTime, start, current.EffectiveDuration(), current.ID); err != nil {
			return err
		}

		oldDate = current.ScheduledDate
		current.ScheduledDate = newDate
		current.ScheduledTime = newTime
		current.Status = models.InterviewRescheduled
		current.AdopterResponse = nil
		current.AdopterResponseNotes = ""
		current.RespondedAt = nil
		current.ReminderSentAt = nil
		if notes = strings.TrimSpace(notes); notes != "" {
			current.ShelterNotes = notes
		}
		current.UpdatedAt = s.now()
		if err := repo.UpdateInterview(ctx, current); err != nil {
			return storeError(err, "interview", current.ID)
		}

		result, err = s.applyEffect(ctx, repo, app, workflow.ActorScheduler, caller.UserID, PlanBooking(app, current, true))
		iv = current
		return err
	})
	if err != nil {
		return nil, err
	}

	s.record(result)
	s.invalidate(ctx, iv.ShelterID, oldDate, iv.ScheduledDate)
	return iv, nil
}

// Cancel frees the interview slot. The application status is left for the shelter to decide.
func (s *Service) Cancel(ctx context.Context, caller models.Caller, interviewID, reason string) (iv *models.Interview, err error) {
	ctx, op := s.obs.Start(ctx, "adoption.Cancel", attribute.String("interview.id", interviewID))
	defer func() { op.End(ctx, err) }()

	return s.changeInterviewStatus(ctx, caller, interviewID, models.InterviewCancelled, reason)
}

// UpdateStatus lets the shelter confirm, complete or cancel an interview. No slot check is made.
func (s *Service) UpdateStatus(ctx context.Context, caller models.Caller, interviewID string, status models.InterviewStatus, shelterNotes string) (iv *models.Interview, err error) {
	ctx, op := s.obs.Start(ctx, "adoption.UpdateStatus",
		attribute.String("interview.id", interviewID),
		attribute.String("interview.status", string(status)))
	defer func() { op.End(ctx, err) }()

	if !workflow.StatusUpdateTargets[status] {
		return nil, errors.NewValidationFailedError(
			"status must be one of confirmed, completed, cancelled", []string{"status"})
	}
	return s.changeInterviewStatus(ctx, caller, interviewID, status, shelterNotes)
}

func (s *Service) changeInterviewStatus(ctx context.Context, caller models.Caller, interviewID string, status models.InterviewStatus, notes string) (*models.Interview, error) {
	notes = strings.TrimSpace(notes)

	var (
		iv     *models.Interview
		result *applied
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, repo store.Repository) error {
		current, err := s.loadShelterInterview(ctx, repo, caller, interviewID)
		if err != nil {
			return err
		}
		if err := workflow.CheckInterviewTransition(current.Status, status); err != nil {
			return err
		}

		current.Status = status
		current.UpdatedAt = s.now()
		var eff Effect
		if status == models.InterviewCancelled {
			current.CancelReason = notes
			vars := interviewVars(current)
			vars["reason"] = notes
			eff.Notifications = append(eff.Notifications,
				buildNotification(tplInterviewCancelled, current.AdopterID, vars, interviewMetadata(current)))
		} else if notes != "" {
			current.ShelterNotes = notes
		}
		if err := repo.UpdateInterview(ctx, current); err != nil {
			return storeError(err, "interview", current.ID)
		}

		result, err = s.applyEffect(ctx, repo, nil, workflow.ActorShelter, caller.UserID, eff)
		iv = current
		return err
	})
	if err != nil {
		return nil, err
	}

	s.record(result)
	if !status.IsActive() {
		s.invalidate(ctx, iv.ShelterID, iv.ScheduledDate)
	}
	s.log.Info("Interview status changed", map[string]interface{}{
		"interviewId": iv.ID,
		"status":      iv.Status,
	})
	return iv, nil
}

// GetAvailability computes the slot grid for a shelter day. Results for days other than today are
// cached; store reads are retried on transient failures.
func (s *Service) GetAvailability(ctx context.Context, shelterID, date string, duration int) (result *availability.Availability, err error) {
	ctx, op := s.obs.Start(ctx, "adoption.GetAvailability",
		attribute.String("shelter.id", shelterID),
		attribute.String("date", date))
	defer func() { op.End(ctx, err) }()

	if strings.TrimSpace(shelterID) == "" {
		return nil, errors.NewValidationFailedError("shelterId is required", []string{"shelterId"})
	}
	if _, err := s.calc.ParseDate(date); err != nil {
		return nil, errors.NewValidationFailedError(err.Error(), []string{"date"})
	}
	if duration <= 0 {
		duration = models.DefaultInterviewDuration
	}
	if duration > maxInterviewMinutes {
		return nil, errors.NewValidationFailedError(
			fmt.Sprintf("duration must be at most %d minutes", maxInterviewMinutes), []string{"duration"})
	}

	// today's grid depends on the clock
	cacheable := s.cache != nil && date != s.calc.Now().Format(availability.DateLayout)
	var version int64
	if cacheable {
		cached, v, lookupErr := s.cache.Lookup(ctx, shelterID, date, duration)
		switch {
		case lookupErr != nil:
			metrics.AvailabilityCacheLookups.WithLabelValues("error").Inc()
			s.log.Warn("Availability cache lookup failed", map[string]interface{}{
				"shelterId": shelterID,
				"date":      date,
				"error":     lookupErr.Error(),
			})
			cacheable = false
		case cached != nil:
			metrics.AvailabilityCacheLookups.WithLabelValues("hit").Inc()
			return cached, nil
		default:
			metrics.AvailabilityCacheLookups.WithLabelValues("miss").Inc()
			version = v
		}
	}

	existing, err := retry.Value(ctx, retry.ReadPolicy, func(ctx context.Context) ([]models.Interview, error) {
		return s.store.ListActiveInterviews(ctx, shelterID, date)
	})
	if err != nil {
		return nil, storeError(err, "interview", shelterID)
	}

	result, err = s.calc.Compute(shelterID, date, duration, existing)
	if err != nil {
		return nil, errors.NewValidationFailedError(err.Error(), []string{"date"})
	}

	if cacheable {
		if storeErr := s.cache.Store(ctx, shelterID, date, duration, version, result); storeErr != nil {
			s.log.Warn("Availability cache store failed", map[string]interface{}{
				"shelterId": shelterID,
				"date":      date,
				"error":     storeErr.Error(),
			})
		}
	}
	return result, nil
}

// ListInterviews returns every interview of an application to either party.
func (s *Service) ListInterviews(ctx context.Context, caller models.Caller, applicationID string) ([]models.Interview, error) {
	app, err := s.GetApplication(ctx, caller, applicationID)
	if err != nil {
		return nil, err
	}
	interviews, err := s.store.ListInterviewsByApplication(ctx, app.ID)
	if err != nil {
		return nil, storeError(err, "interview", "")
	}
	return interviews, nil
}

// validateSlot checks date and start time and returns the start in minutes past midnight.
func (s *Service) validateSlot(date, clock string) (int, error) {
	if _, err := s.calc.ParseDate(date); err != nil {
		return 0, errors.NewValidationFailedError(err.Error(), []string{"date"})
	}
	start, err := availability.ParseClock(clock)
	if err != nil {
		return 0, errors.NewValidationFailedError(err.Error(), []string{"time"})
	}
	if !s.calc.WithinBusinessHours(start) {
		return 0, errors.NewValidationFailedError(
			fmt.Sprintf("time %s is outside business hours", clock), []string{"time"})
	}
	future, err := s.calc.StartsAfterNow(date, start)
	if err != nil {
		return 0, errors.NewValidationFailedError(err.Error(), []string{"date"})
	}
	if !future {
		return 0, errors.NewValidationFailedError("interviews must start in the future", []string{"date", "time"})
	}
	return start, nil
}

// checkSlot takes the shelter day lock and fails with SLOT_CONFLICT if the window is taken.
func (s *Service) checkSlot(ctx context.Context, repo store.Repository, shelterID, date, clock string, start, duration int, excludeID string) error {
	if err := repo.LockShelterDay(ctx, shelterID, date); err != nil {
		return storeError(err, "calendar", shelterID)
	}
	existing, err := repo.ListActiveInterviews(ctx, shelterID, date)
	if err != nil {
		return storeError(err, "interview", shelterID)
	}
	if conflicts := availability.Conflicts(start, duration, existing, excludeID); len(conflicts) > 0 {
		return errors.NewSlotConflictError(date, clock, conflicts)
	}
	return nil
}

// loadShelterInterview locks the interview and checks the caller's shelter owns it.
func (s *Service) loadShelterInterview(ctx context.Context, repo store.Repository, caller models.Caller, id string) (*models.Interview, error) {
	iv, err := repo.GetInterviewForUpdate(ctx, id)
	if err != nil {
		return nil, storeError(err, "interview", id)
	}
	if !caller.ManagesShelter(iv.ShelterID) {
		return nil, errors.NewForbiddenError("only the owning shelter may change this interview")
	}
	return iv, nil
}

// lockInterview locks the interview's application and then the interview. Every transaction that
// locks both takes them in this order.
func (s *Service) lockInterview(ctx context.Context, repo store.Repository, id string) (*models.Application, *models.Interview, error) {
	peek, err := repo.GetInterview(ctx, id)
	if err != nil {
		return nil, nil, storeError(err, "interview", id)
	}
	app, err := repo.GetApplicationForUpdate(ctx, peek.ApplicationID)
	if err != nil {
		return nil, nil, storeError(err, "application", peek.ApplicationID)
	}
	iv, err := repo.GetInterviewForUpdate(ctx, id)
	if err != nil {
		return nil, nil, storeError(err, "interview", id)
	}
	return app, iv, nil
}

// invalidate drops cached availability for the given days.
func (s *Service) invalidate(ctx context.Context, shelterID string, dates ...string) {
	if s.cache == nil {
		return
	}
	seen := make(map[string]bool, len(dates))
	for _, date := range dates {
		if date == "" || seen[date] {
			continue
		}
		seen[date] = true
		if err := s.cache.Invalidate(ctx, shelterID, date); err != nil {
			s.log.Warn("Availability cache invalidation failed", map[string]interface{}{
				"shelterId": shelterID,
				"date":      date,
				"error":     err.Error(),
			})
		}
	}
}

func bookingOutcome(err error) string {
	switch {
	case err == nil:
		return "booked"
	case errors.HasCode(err, errors.ErrCodeSlotConflict):
		return "conflict"
	default:
		return "rejected"
	}
}
