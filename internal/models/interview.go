// internal/models/interview.go
package models

import "time"

type InterviewType string

const (
	InterviewTypeInterview InterviewType = "interview"
	InterviewTypeMeetGreet InterviewType = "meet_greet"
	InterviewTypeHomeVisit InterviewType = "home_visit"
)

type InterviewStatus string

const (
	InterviewScheduled   InterviewStatus = "scheduled"
	InterviewConfirmed   InterviewStatus = "confirmed"
	InterviewCompleted   InterviewStatus = "completed"
	InterviewCancelled   InterviewStatus = "cancelled"
	InterviewRescheduled InterviewStatus = "rescheduled"
)

// IsActive reports whether the interview occupies its slot on the shelter calendar.
func (s InterviewStatus) IsActive() bool {
	return s == InterviewScheduled || s == InterviewConfirmed || s == InterviewRescheduled
}

const DefaultInterviewDuration = 60

// InterviewTypeInfo is one row of the interview type lookup table.
type InterviewTypeInfo struct {
	Type            InterviewType
	Label           string
	DefaultDuration int
	DefaultLocation string
	// ApplicationStatus is the *_scheduled state a successful booking moves the application to.
	ApplicationStatus ApplicationStatus
}

var interviewTypes = map[InterviewType]InterviewTypeInfo{
	InterviewTypeInterview: {
		Type:              InterviewTypeInterview,
		Label:             "Phone/Video Interview",
		DefaultDuration:   30,
		DefaultLocation:   "Phone or video call",
		ApplicationStatus: StatusInterviewScheduled,
	},
	InterviewTypeMeetGreet: {
		Type:              InterviewTypeMeetGreet,
		Label:             "Meet & Greet",
		DefaultDuration:   60,
		DefaultLocation:   "Shelter",
		ApplicationStatus: StatusMeetGreetScheduled,
	},
	InterviewTypeHomeVisit: {
		Type:              InterviewTypeHomeVisit,
		Label:             "Home Visit",
		DefaultDuration:   90,
		DefaultLocation:   "Adopter's home",
		ApplicationStatus: StatusHomeVisitScheduled,
	},
}

// LookupInterviewType returns the table row for t.
func LookupInterviewType(t InterviewType) (InterviewTypeInfo, bool) {
	info, ok := interviewTypes[t]
	return info, ok
}

// Interview is a booked calendar slot tied to one application.
// ScheduledDate is YYYY-MM-DD and ScheduledTime is HH:MM in the shelter time zone.
type Interview struct {
	ID                   string          `json:"id"`
	ApplicationID        string          `json:"applicationId"`
	ShelterID            string          `json:"shelterId"`
	AdopterID            string          `json:"adopterId"`
	Type                 InterviewType   `json:"type"`
	Status               InterviewStatus `json:"status"`
	ScheduledDate        string          `json:"scheduledDate"`
	ScheduledTime        string          `json:"scheduledTime"`
	DurationMinutes      int             `json:"durationMinutes"`
	Location             string          `json:"location,omitempty"`
	ShelterNotes         string          `json:"shelterNotes,omitempty"`
	AdopterResponse      *bool           `json:"adopterResponse,omitempty"`
	AdopterResponseNotes string          `json:"adopterResponseNotes,omitempty"`
	RespondedAt          *time.Time      `json:"respondedAt,omitempty"`
	CancelReason         string          `json:"cancelReason,omitempty"`
	ReminderSentAt       *time.Time      `json:"reminderSentAt,omitempty"`
	CreatedAt            time.Time       `json:"createdAt"`
	UpdatedAt            time.Time       `json:"updatedAt"`
}

// EffectiveDuration treats an unset duration as the 60 minute default.
func (i *Interview) EffectiveDuration() int {
	if i.DurationMinutes <= 0 {
		return DefaultInterviewDuration
	}
	return i.DurationMinutes
}
