package sendinterviewreminders

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"adoption-workflow/internal/common/errors"
	"adoption-workflow/internal/common/logger"
	"adoption-workflow/internal/common/metrics"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "send-interview-reminders"
)

// Reminders is implemented by adoption.Service.
type Reminders interface {
	SendDueReminders(ctx context.Context, limit int) (int, error)
}

type Handler struct {
	config    *Config
	reminders Reminders
	logger    logger.Logger
	errors    *errors.ErrorHandler
	now       func() time.Time
}

func NewHandler(cfg *Config, reminders Reminders, log logger.Logger) (*Handler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if reminders == nil {
		return nil, fmt.Errorf("reminder service is required")
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})

	return &Handler{
		config:    cfg,
		reminders: reminders,
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

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = h.config.BatchSize
	}

	sent, err := h.reminders.SendDueReminders(ctx, limit)
	if err != nil {
		return nil, err
	}
	if sent > 0 {
		h.logger.Info("interview reminders sent", map[string]interface{}{"count": sent})
	}
	return &Output{
		RemindersSent: sent,
		RanAt:         h.now().UTC().Format(time.RFC3339),
	}, nil
}
