package adoption

import (
	"context"
	"strings"

	"adoption-workflow/internal/availability"
	"adoption-workflow/internal/common/errors"
	"adoption-workflow/internal/common/retry"
	"adoption-workflow/internal/models"
	"adoption-workflow/internal/store"
	"adoption-workflow/internal/workflow"

	"go.opentelemetry.io/otel/attribute"
)

var notificationTypes = map[models.NotificationType]bool{
	models.NotificationInterviewScheduled: true,
	models.NotificationInterviewResponse:  true,
	models.NotificationInterviewReminder:  true,
	models.NotificationGeneral:            true,
}

// Recipient status changes. Repeating the current status is a no-op.
var notificationTransitions = map[models.NotificationStatus][]models.NotificationStatus{
	models.NotificationPending: {models.NotificationRead, models.NotificationDismissed},
	models.NotificationRead:    {models.NotificationDismissed},
}

// Notify queues a pending notification outside any workflow transition.
func (s *Service) Notify(ctx context.Context, recipientID string, typ models.NotificationType, title, message string, metadata map[string]interface{}) (n *models.Notification, err error) {
	ctx, op := s.obs.Start(ctx, "adoption.Notify", attribute.String("notification.type", string(typ)))
	defer func() { op.End(ctx, err) }()

	var fields []string
	if strings.TrimSpace(recipientID) == "" {
		fields = append(fields, "recipientId")
	}
	if !notificationTypes[typ] {
		fields = append(fields, "type")
	}
	if strings.TrimSpace(title) == "" {
		fields = append(fields, "title")
	}
	if len(fields) > 0 {
		return nil, errors.NewValidationFailedError("invalid notification", fields)
	}

	eff := Effect{Notifications: []models.Notification{{
		RecipientID: recipientID,
		Type:        typ,
		Title:       title,
		Message:     message,
		Metadata:    metadata,
	}}}

	var result *applied
	err = s.store.WithinTx(ctx, func(ctx context.Context, repo store.Repository) error {
		var err error
		result, err = s.applyEffect(ctx, repo, nil, workflow.ActorShelter, "", eff)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.record(result)
	return &result.notifications[0], nil
}

// ListNotifications returns the caller's notifications, newest first.
func (s *Service) ListNotifications(ctx context.Context, caller models.Caller, filter models.NotificationFilter) (out []models.Notification, err error) {
	ctx, op := s.obs.Start(ctx, "adoption.ListNotifications")
	defer func() { op.End(ctx, err) }()

	if filter.Type != "" && !notificationTypes[filter.Type] {
		return nil, errors.NewValidationFailedError("unknown notification type", []string{"type"})
	}
	switch filter.Status {
	case "", models.NotificationPending, models.NotificationRead, models.NotificationDismissed:
	default:
		return nil, errors.NewValidationFailedError("unknown notification status", []string{"status"})
	}

	out, err = retry.Value(ctx, retry.ReadPolicy, func(ctx context.Context) ([]models.Notification, error) {
		return s.store.ListNotifications(ctx, caller.UserID, filter)
	})
	if err != nil {
		return nil, storeError(err, "notification", "")
	}
	return out, nil
}

func (s *Service) MarkRead(ctx context.Context, caller models.Caller, id string) (*models.Notification, error) {
	return s.setNotificationStatus(ctx, caller, id, models.NotificationRead)
}

func (s *Service) Dismiss(ctx context.Context, caller models.Caller, id string) (*models.Notification, error) {
	return s.setNotificationStatus(ctx, caller, id, models.NotificationDismissed)
}

func (s *Service) setNotificationStatus(ctx context.Context, caller models.Caller, id string, status models.NotificationStatus) (n *models.Notification, err error) {
	ctx, op := s.obs.Start(ctx, "adoption.SetNotificationStatus",
		attribute.String("notification.id", id),
		attribute.String("notification.status", string(status)))
	defer func() { op.End(ctx, err) }()

	err = s.store.WithinTx(ctx, func(ctx context.Context, repo store.Repository) error {
		current, err := repo.GetNotification(ctx, id)
		if err != nil {
			return storeError(err, "notification", id)
		}
		if current.RecipientID != caller.UserID {
			return errors.NewForbiddenError("only the recipient may change this notification")
		}
		n = current
		if current.Status == status {
			return nil
		}
		if !canChangeNotification(current.Status, status) {
			return errors.NewInvalidTransitionError("notification", string(current.Status), string(status))
		}

		current.Status = status
		if status == models.NotificationRead {
			now := s.now()
			current.ReadAt = &now
		}
		if err := repo.UpdateNotificationStatus(ctx, current); err != nil {
			return storeError(err, "notification", id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return n, nil
}

func canChangeNotification(from, to models.NotificationStatus) bool {
	for _, next := range notificationTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SendDueReminders queues an interview_reminder for every active interview starting within the
// reminder lead and stamps reminderSentAt in the same transaction. It returns the number sent.
func (s *Service) SendDueReminders(ctx context.Context, limit int) (sent int, err error) {
	ctx, op := s.obs.Start(ctx, "adoption.SendDueReminders")
	defer func() { op.End(ctx, err) }()

	now := s.calc.Now()
	horizon := now.Add(s.reminderLead)
	window := store.ReminderWindow{
		FromDate: now.Format(availability.DateLayout),
		FromTime: now.Format(availability.TimeLayout),
		ToDate:   horizon.Format(availability.DateLayout),
		ToTime:   horizon.Format(availability.TimeLayout),
	}

	var result *applied
	err = s.store.WithinTx(ctx, func(ctx context.Context, repo store.Repository) error {
		candidates, err := repo.ListReminderCandidates(ctx, window, limit)
		if err != nil {
			return storeError(err, "interview", "")
		}

		var eff Effect
		stamp := now.UTC()
		for i := range candidates {
			iv := &candidates[i]
			start, err := s.calc.StartTime(iv.ScheduledDate, iv.ScheduledTime)
			if err != nil {
				s.log.Warn("Skipping interview with unparseable start", map[string]interface{}{
					"interviewId": iv.ID,
					"error":       err.Error(),
				})
				continue
			}
			if !start.After(now) || start.After(horizon) {
				continue
			}

			iv.ReminderSentAt = &stamp
			iv.UpdatedAt = stamp
			if err := repo.UpdateInterview(ctx, iv); err != nil {
				return storeError(err, "interview", iv.ID)
			}
			eff.Notifications = append(eff.Notifications,
				buildNotification(tplInterviewReminder, iv.AdopterID, interviewVars(iv), interviewMetadata(iv)))
		}

		result, err = s.applyEffect(ctx, repo, nil, workflow.ActorScheduler, "", eff)
		return err
	})
	if err != nil {
		return 0, err
	}

	s.record(result)
	if n := len(result.notifications); n > 0 {
		s.log.Info("Interview reminders queued", map[string]interface{}{"count": n})
	}
	return len(result.notifications), nil
}
