package delivernotifications

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"adoption-workflow/internal/common/errors"
	"adoption-workflow/internal/common/logger"
	"adoption-workflow/internal/common/metrics"
	"adoption-workflow/internal/models"
	"adoption-workflow/internal/store"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "deliver-notifications"
)

type SESService interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

type SNSService interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Outbox is the part of the store the worker drains.
type Outbox interface {
	ClaimUndelivered(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]models.Notification, error)
	MarkDelivered(ctx context.Context, id string, at time.Time) error
	RetryDeliveryAt(ctx context.Context, id string, at time.Time) error
	AbandonDelivery(ctx context.Context, id string, at time.Time) error
}

type Handler struct {
	config    *Config
	outbox    Outbox
	contacts  store.ContactDirectory
	sesClient SESService
	snsClient SNSService
	logger    logger.Logger
	errors    *errors.ErrorHandler
	now       func() time.Time
}

func NewHandler(cfg *Config, outbox Outbox, contacts store.ContactDirectory, sesClient SESService, snsClient SNSService, log logger.Logger) (*Handler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if outbox == nil || contacts == nil {
		return nil, fmt.Errorf("outbox and contact directory are required")
	}
	if cfg.EmailEnabled && sesClient == nil {
		return nil, fmt.Errorf("SES client is required when email is enabled")
	}
	if cfg.SMSEnabled && snsClient == nil {
		return nil, fmt.Errorf("SNS client is required when sms is enabled")
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})

	return &Handler{
		config:    cfg,
		outbox:    outbox,
		contacts:  contacts,
		sesClient: sesClient,
		snsClient: snsClient,
		logger:    log,
		errors:    errors.NewErrorHandler(log),
		now:       time.Now,
	}, nil
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) error {
	start := time.Now()
	defer func() {
		metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(start).Seconds())
	}()

	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	var input Input
	if vars := job.GetVariables(); vars != "" {
		if err := json.Unmarshal([]byte(vars), &input); err != nil {
			err = errors.NewBadRequestError(fmt.Sprintf("parse input: %v", err))
			metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(errors.ErrCodeBadRequest)).Inc()
			h.errors.HandleJobError(ctx, client, job, err)
			return err
		}
	}

	output, err := h.Execute(ctx, &input)
	if err != nil {
		metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(errors.Normalize(err).Code)).Inc()
		h.errors.HandleJobError(ctx, client, job, err)
		return err
	}

	cmd, err := client.NewCompleteJobCommand().JobKey(job.Key).VariablesFromObject(output)
	if err != nil {
		return fmt.Errorf("create complete job command: %w", err)
	}
	if _, err := cmd.Send(ctx); err != nil {
		return fmt.Errorf("send complete job command: %w", err)
	}
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	return nil
}

// Execute claims one batch of due notifications and delivers it. A notification is stamped
// delivered once any channel accepted it, or when it has nowhere to go. A failed notification
// is retried with a doubling backoff and abandoned after MaxAttempts claims. Only store
// failures abort the batch.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	limit := input.BatchSize
	if limit <= 0 {
		limit = h.config.BatchSize
	}

	// The lease outlives the job, so a crashed batch becomes claimable again.
	claimed, err := h.outbox.ClaimUndelivered(ctx, h.now().UTC(), h.config.Timeout, limit)
	if err != nil {
		return nil, errors.NewDatabaseError("claim undelivered notifications", err)
	}

	out := &Output{Loaded: len(claimed)}
	for i := range claimed {
		n := &claimed[i]
		outcome, err := h.deliver(ctx, n)
		if err != nil {
			return out, err
		}
		switch outcome {
		case OutcomeSent:
			out.Delivered++
		case OutcomeSkipped:
			out.Skipped++
		case OutcomeAbandoned:
			out.Abandoned++
		default:
			out.Failed++
		}
	}

	h.logger.Info("delivery batch finished", map[string]interface{}{
		"loaded":    out.Loaded,
		"delivered": out.Delivered,
		"skipped":   out.Skipped,
		"failed":    out.Failed,
		"abandoned": out.Abandoned,
	})
	return out, nil
}

func (h *Handler) deliver(ctx context.Context, n *models.Notification) (string, error) {
	log := h.logger.WithFields(map[string]interface{}{
		"notificationId": n.ID,
		"recipientId":    n.RecipientID,
		"type":           string(n.Type),
		"attempt":        n.DeliveryAttempts,
	})

	// the recipient already saw or dismissed it in the app
	if n.Status != models.NotificationPending {
		metrics.NotificationDeliveries.WithLabelValues(ChannelNone, OutcomeSkipped).Inc()
		return OutcomeSkipped, h.outboxError(log, "mark notification delivered",
			h.outbox.MarkDelivered(ctx, n.ID, h.now().UTC()))
	}

	contact, err := h.contacts.GetContact(ctx, n.RecipientID)
	switch {
	case stderrors.Is(err, store.ErrNotFound):
		contact = &models.Contact{}
	case err != nil:
		log.Warn("contact lookup failed", map[string]interface{}{"error": err.Error()})
		metrics.NotificationDeliveries.WithLabelValues(ChannelNone, OutcomeFailed).Inc()
		return h.failed(ctx, log, n)
	}

	attempted, sent := 0, 0
	if h.config.EmailEnabled && contact.Email != "" {
		attempted++
		if err := h.sendEmail(ctx, contact.Email, n.Title, n.Message); err != nil {
			log.Error("email send failed", map[string]interface{}{
				"error": errors.NewNotificationSendFailedError(ChannelEmail, err).Details,
			})
			metrics.NotificationDeliveries.WithLabelValues(ChannelEmail, OutcomeFailed).Inc()
		} else {
			metrics.NotificationDeliveries.WithLabelValues(ChannelEmail, OutcomeSent).Inc()
			sent++
		}
	}

	if h.config.SMSEnabled && contact.Phone != "" && n.Type == models.NotificationInterviewReminder {
		attempted++
		if err := h.sendSMS(ctx, contact.Phone, smsText(n)); err != nil {
			log.Error("SMS send failed", map[string]interface{}{
				"error": errors.NewNotificationSendFailedError(ChannelSMS, err).Details,
			})
			metrics.NotificationDeliveries.WithLabelValues(ChannelSMS, OutcomeFailed).Inc()
		} else {
			metrics.NotificationDeliveries.WithLabelValues(ChannelSMS, OutcomeSent).Inc()
			sent++
		}
	}

	outcome := OutcomeSent
	switch {
	case attempted == 0:
		outcome = OutcomeSkipped
		metrics.NotificationDeliveries.WithLabelValues(ChannelNone, OutcomeSkipped).Inc()
	case sent == 0:
		return h.failed(ctx, log, n)
	}

	return outcome, h.outboxError(log, "mark notification delivered",
		h.outbox.MarkDelivered(ctx, n.ID, h.now().UTC()))
}

// failed schedules the next attempt, or abandons the notification once it used MaxAttempts.
func (h *Handler) failed(ctx context.Context, log logger.Logger, n *models.Notification) (string, error) {
	now := h.now().UTC()
	if n.DeliveryAttempts >= h.config.MaxAttempts {
		log.Warn("giving up on notification", map[string]interface{}{"attempts": n.DeliveryAttempts})
		metrics.NotificationDeliveries.WithLabelValues(ChannelNone, OutcomeAbandoned).Inc()
		return OutcomeAbandoned, h.outboxError(log, "abandon notification delivery",
			h.outbox.AbandonDelivery(ctx, n.ID, now))
	}

	retryAt := now.Add(h.retryDelay(n.DeliveryAttempts))
	log.Info("notification delivery will be retried", map[string]interface{}{
		"retryAt": retryAt.Format(time.RFC3339),
	})
	return OutcomeFailed, h.outboxError(log, "reschedule notification delivery",
		h.outbox.RetryDeliveryAt(ctx, n.ID, retryAt))
}

// retryDelay is RetryBackoff doubled per earlier failed attempt, capped at maxRetryBackoff.
func (h *Handler) retryDelay(attempts int) time.Duration {
	delay := h.config.RetryBackoff
	for i := 1; i < attempts && delay < maxRetryBackoff; i++ {
		delay *= 2
	}
	if delay > maxRetryBackoff {
		delay = maxRetryBackoff
	}
	return delay
}

// outboxError ignores rows another worker already settled.
func (h *Handler) outboxError(log logger.Logger, op string, err error) error {
	switch {
	case err == nil:
		return nil
	case stderrors.Is(err, store.ErrNotFound):
		log.Debug("notification already settled", nil)
		return nil
	default:
		return errors.NewDatabaseError(op, err)
	}
}

func (h *Handler) sendEmail(ctx context.Context, to, subject, body string) error {
	_, err := h.sesClient.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject)},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(body)},
			},
		},
		Source: aws.String(h.config.FromEmail),
	})
	return err
}

func (h *Handler) sendSMS(ctx context.Context, to, message string) error {
	_, err := h.snsClient.Publish(ctx, &sns.PublishInput{
		PhoneNumber: aws.String(to),
		Message:     aws.String(message),
	})
	return err
}

// smsText keeps reminders inside a single SMS segment where possible.
func smsText(n *models.Notification) string {
	text := []rune(strings.TrimSpace(n.Title + ": " + n.Message))
	if len(text) > 160 {
		return string(text[:157]) + "..."
	}
	return string(text)
}
