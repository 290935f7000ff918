// Package workflow holds the adoption application and interview lifecycle rules.
// Everything here is pure; persistence and authorization live in the callers.
package workflow

import (
	"adoption-workflow/internal/common/errors"
	"adoption-workflow/internal/models"
)

// Actor is the party allowed to drive a transition.
type Actor string

const (
	ActorAdopter Actor = "adopter"
	ActorShelter Actor = "shelter"
	// ActorScheduler is a successful interview booking.
	ActorScheduler Actor = "scheduler"
	// ActorResponse is an adopter declining an interview.
	ActorResponse Actor = "response"
)

type edge struct {
	to    models.ApplicationStatus
	actor Actor
}

var scheduledStates = []models.ApplicationStatus{
	models.StatusInterviewScheduled,
	models.StatusMeetGreetScheduled,
	models.StatusHomeVisitScheduled,
}

var applicationTransitions = buildTransitions()

func buildTransitions() map[models.ApplicationStatus][]edge {
	t := map[models.ApplicationStatus][]edge{
		models.StatusDraft: {
			{models.StatusSubmitted, ActorAdopter},
		},
		models.StatusSubmitted: {
			{models.StatusUnderReview, ActorShelter},
		},
		models.StatusUnderReview: {
			{models.StatusPendingApproval, ActorShelter},
		},
		models.StatusPendingApproval: {
			{models.StatusApproved, ActorShelter},
			{models.StatusRejected, ActorShelter},
		},
	}

	for _, s := range scheduledStates {
		t[models.StatusUnderReview] = append(t[models.StatusUnderReview], edge{s, ActorScheduler})
		t[s] = append(t[s],
			edge{models.StatusUnderReview, ActorResponse},
			edge{models.StatusPendingApproval, ActorShelter},
		)
		for _, next := range scheduledStates {
			t[s] = append(t[s], edge{next, ActorScheduler})
		}
	}

	for _, s := range models.AllApplicationStatuses {
		if !s.IsTerminal() {
			t[s] = append(t[s], edge{models.StatusWithdrawn, ActorAdopter})
		}
	}
	return t
}

// CanTransition reports whether actor may move an application from -> to.
func CanTransition(from, to models.ApplicationStatus, actor Actor) bool {
	for _, e := range applicationTransitions[from] {
		if e.to == to && e.actor == actor {
			return true
		}
	}
	return false
}

// CheckTransition is CanTransition returning an INVALID_TRANSITION error.
func CheckTransition(from, to models.ApplicationStatus, actor Actor) error {
	if !CanTransition(from, to, actor) {
		return errors.NewInvalidTransitionError("application", string(from), string(to))
	}
	return nil
}

// NextStatuses lists every status reachable from s in one step, by any actor.
func NextStatuses(s models.ApplicationStatus) []models.ApplicationStatus {
	seen := make(map[models.ApplicationStatus]bool)
	var out []models.ApplicationStatus
	for _, e := range applicationTransitions[s] {
		if !seen[e.to] {
			seen[e.to] = true
			out = append(out, e.to)
		}
	}
	return out
}

// ScheduledStatusFor returns the *_scheduled state booked by an interview of type t.
func ScheduledStatusFor(t models.InterviewType) (models.ApplicationStatus, bool) {
	info, ok := models.LookupInterviewType(t)
	if !ok {
		return "", false
	}
	return info.ApplicationStatus, true
}

// ReviewTargets are the statuses a shelter may request through Review.
var ReviewTargets = map[models.ApplicationStatus]bool{
	models.StatusUnderReview:     true,
	models.StatusPendingApproval: true,
	models.StatusApproved:        true,
	models.StatusRejected:        true,
}
