package adoption

import (
	"context"
	"strings"

	"adoption-workflow/internal/common/errors"
	"adoption-workflow/internal/models"
	"adoption-workflow/internal/store"
	"adoption-workflow/internal/workflow"

	"go.opentelemetry.io/otel/attribute"
)

// PlanResponse returns the Effect of the adopter answering iv: an interview_response notification
// for the shelter and, on decline, the application back in under_review.
func PlanResponse(app *models.Application, iv *models.Interview, accepted bool, notes string) Effect {
	eff := Effect{ApplicationID: app.ID}
	tpl := tplInterviewAccepted
	if !accepted {
		tpl = tplInterviewDeclined
		if app.Status != models.StatusUnderReview {
			eff.ApplicationStatus = models.StatusUnderReview
		}
	}

	if app.ShelterUserID != "" {
		vars := interviewVars(iv)
		vars["notes"] = notes
		metadata := interviewMetadata(iv)
		metadata["accepted"] = accepted
		eff.Notifications = append(eff.Notifications, buildNotification(tpl, app.ShelterUserID, vars, metadata))
	}
	return eff
}

// Respond records the adopter's answer to an interview invitation. An interview can be answered
// once; a reschedule clears the answer.
func (s *Service) Respond(ctx context.Context, caller models.Caller, interviewID string, accepted bool, notes string) (iv *models.Interview, err error) {
	ctx, op := s.obs.Start(ctx, "adoption.Respond",
		attribute.String("interview.id", interviewID),
		attribute.Bool("interview.accepted", accepted))
	defer func() { op.End(ctx, err) }()

	notes = strings.TrimSpace(notes)

	var result *applied
	err = s.store.WithinTx(ctx, func(ctx context.Context, repo store.Repository) error {
		app, current, err := s.lockInterview(ctx, repo, interviewID)
		if err != nil {
			return err
		}
		if !caller.IsAdopter() || current.AdopterID != caller.UserID {
			return errors.NewForbiddenError("only the adopter may respond to this interview")
		}
		if current.AdopterResponse != nil {
			return errors.NewNotPendingError(current.ID)
		}
		if !current.Status.IsActive() {
			return errors.NewInvalidTransitionError("interview", string(current.Status), "responded")
		}

		now := s.now()
		current.AdopterResponse = &accepted
		current.AdopterResponseNotes = notes
		current.RespondedAt = &now
		current.UpdatedAt = now
		if err := repo.UpdateInterview(ctx, current); err != nil {
			return storeError(err, "interview", current.ID)
		}

		result, err = s.applyEffect(ctx, repo, app, workflow.ActorResponse, caller.UserID, PlanResponse(app, current, accepted, notes))
		iv = current
		return err
	})
	if err != nil {
		return nil, err
	}

	s.record(result)
	s.log.Info("Interview response recorded", map[string]interface{}{
		"interviewId": iv.ID,
		"accepted":    accepted,
	})
	return iv, nil
}
