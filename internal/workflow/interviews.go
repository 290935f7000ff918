package workflow

import (
	"adoption-workflow/internal/common/errors"
	"adoption-workflow/internal/models"
)

var interviewTransitions = map[models.InterviewStatus][]models.InterviewStatus{
	models.InterviewScheduled:   {models.InterviewConfirmed, models.InterviewCompleted, models.InterviewCancelled, models.InterviewRescheduled},
	models.InterviewRescheduled: {models.InterviewConfirmed, models.InterviewCompleted, models.InterviewCancelled, models.InterviewRescheduled},
	models.InterviewConfirmed:   {models.InterviewCompleted, models.InterviewCancelled, models.InterviewRescheduled},
}

// CanTransitionInterview reports whether an interview may move from -> to.
// Completed and cancelled interviews are final.
func CanTransitionInterview(from, to models.InterviewStatus) bool {
	for _, s := range interviewTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func CheckInterviewTransition(from, to models.InterviewStatus) error {
	if !CanTransitionInterview(from, to) {
		return errors.NewInvalidTransitionError("interview", string(from), string(to))
	}
	return nil
}

// StatusUpdateTargets are the statuses a shelter may set through UpdateStatus.
// Rescheduling needs a new slot and goes through Reschedule.
var StatusUpdateTargets = map[models.InterviewStatus]bool{
	models.InterviewConfirmed: true,
	models.InterviewCompleted: true,
	models.InterviewCancelled: true,
}
