// internal/models/application.go
package models

import "time"

type ApplicationStatus string

const (
	StatusDraft              ApplicationStatus = "draft"
	StatusSubmitted          ApplicationStatus = "submitted"
	StatusUnderReview        ApplicationStatus = "under_review"
	StatusInterviewScheduled ApplicationStatus = "interview_scheduled"
	StatusMeetGreetScheduled ApplicationStatus = "meet_greet_scheduled"
	StatusHomeVisitScheduled ApplicationStatus = "home_visit_scheduled"
	StatusPendingApproval    ApplicationStatus = "pending_approval"
	StatusApproved           ApplicationStatus = "approved"
	StatusRejected           ApplicationStatus = "rejected"
	StatusWithdrawn          ApplicationStatus = "withdrawn"
)

// AllApplicationStatuses lists every state in lifecycle order.
var AllApplicationStatuses = []ApplicationStatus{
	StatusDraft,
	StatusSubmitted,
	StatusUnderReview,
	StatusInterviewScheduled,
	StatusMeetGreetScheduled,
	StatusHomeVisitScheduled,
	StatusPendingApproval,
	StatusApproved,
	StatusRejected,
	StatusWithdrawn,
}

// IsTerminal reports whether no further transition is possible.
func (s ApplicationStatus) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusWithdrawn
}

// IsScheduled reports whether s is one of the *_scheduled states.
func (s ApplicationStatus) IsScheduled() bool {
	return s == StatusInterviewScheduled || s == StatusMeetGreetScheduled || s == StatusHomeVisitScheduled
}

func ParseApplicationStatus(s string) (ApplicationStatus, bool) {
	for _, st := range AllApplicationStatuses {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// Application is an adopter's request to adopt one pet. Rows are never deleted.
type Application struct {
	ID            string                 `json:"id"`
	PetID         string                 `json:"petId"`
	AdopterID     string                 `json:"adopterId"`
	ShelterID     string                 `json:"shelterId"`
	ShelterUserID string                 `json:"shelterUserId"`
	Status        ApplicationStatus      `json:"status"`
	Details       map[string]interface{} `json:"details"`
	SubmittedAt   *time.Time             `json:"submittedAt,omitempty"`
	ReviewedAt    *time.Time             `json:"reviewedAt,omitempty"`
	ReviewerNotes string                 `json:"reviewerNotes,omitempty"`
	CreatedAt     time.Time              `json:"createdAt"`
	UpdatedAt     time.Time              `json:"updatedAt"`
}

// ApplicationFilter narrows ListApplications. Zero values match everything.
type ApplicationFilter struct {
	AdopterID string
	ShelterID string
	PetID     string
	Status    ApplicationStatus
	Limit     int
}
