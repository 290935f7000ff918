package adoption

import (
	"context"
	"fmt"

	"adoption-workflow/internal/common/errors"
	"adoption-workflow/internal/common/metrics"
	"adoption-workflow/internal/models"
	"adoption-workflow/internal/store"
	"adoption-workflow/internal/workflow"
)

// Effect is the cross-entity outcome of a scheduler or response operation: an optional
// application status change plus the notifications that commit with it.
type Effect struct {
	ApplicationID string
	// ApplicationStatus is the target status; empty leaves the application alone.
	ApplicationStatus models.ApplicationStatus
	Notifications     []models.Notification
}

// applied is what an Effect changed, reported to metrics once the transaction commits.
type applied struct {
	from          models.ApplicationStatus
	to            models.ApplicationStatus
	notifications []models.Notification
}

// applyEffect writes eff through repo. app must be the row locked by the caller's transaction.
func (s *Service) applyEffect(ctx context.Context, repo store.Repository, app *models.Application,
	actor workflow.Actor, actorID string, eff Effect) (*applied, error) {
	now := s.now()
	out := &applied{}

	if eff.ApplicationStatus != "" {
		if app == nil || app.ID != eff.ApplicationID {
			return nil, errors.NewInternalError(fmt.Errorf("effect targets application %q which is not loaded", eff.ApplicationID))
		}
		if err := workflow.CheckTransition(app.Status, eff.ApplicationStatus, actor); err != nil {
			return nil, err
		}
		if app.Status != eff.ApplicationStatus {
			out.from, out.to = app.Status, eff.ApplicationStatus
			app.Status = eff.ApplicationStatus
			app.UpdatedAt = now
			if err := repo.UpdateApplication(ctx, app); err != nil {
				return nil, storeError(err, "application", app.ID)
			}
			if err := repo.AppendAudit(ctx, store.AuditEntry{
				EventType:    "application.status_changed",
				ResourceType: "application",
				ResourceID:   app.ID,
				ActorID:      actorID,
				Details: map[string]interface{}{
					"from":  string(out.from),
					"to":    string(out.to),
					"actor": string(actor),
				},
				CreatedAt: now,
			}); err != nil {
				return nil, storeError(err, "audit", app.ID)
			}
		}
	}

	for _, n := range eff.Notifications {
		n.ID = s.newID()
		n.Status = models.NotificationPending
		n.CreatedAt = now
		if err := repo.InsertNotification(ctx, &n); err != nil {
			return nil, storeError(err, "notification", n.ID)
		}
		out.notifications = append(out.notifications, n)
	}
	return out, nil
}

func (s *Service) record(a *applied) {
	if a == nil {
		return
	}
	if a.to != "" {
		metrics.ApplicationTransitions.WithLabelValues(string(a.from), string(a.to)).Inc()
		s.log.Info("Application status changed", map[string]interface{}{
			"from": a.from,
			"to":   a.to,
		})
	}
	for _, n := range a.notifications {
		metrics.NotificationsCreated.WithLabelValues(string(n.Type)).Inc()
	}
}
