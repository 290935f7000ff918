package adoption

import (
	"regexp"
	"strconv"
	"strings"

	"adoption-workflow/internal/models"
)

type templateID string

const (
	tplApplicationSubmitted       templateID = "application_submitted"
	tplApplicationWithdrawn       templateID = "application_withdrawn"
	tplApplicationUnderReview     templateID = "application_under_review"
	tplApplicationPendingApproval templateID = "application_pending_approval"
	tplApplicationApproved        templateID = "application_approved"
	tplApplicationRejected        templateID = "application_rejected"
	tplInterviewScheduled         templateID = "interview_scheduled"
	tplInterviewRescheduled       templateID = "interview_rescheduled"
	tplInterviewCancelled         templateID = "interview_cancelled"
	tplInterviewAccepted          templateID = "interview_accepted"
	tplInterviewDeclined          templateID = "interview_declined"
	tplInterviewReminder          templateID = "interview_reminder"
)

type notificationTemplate struct {
	Type    models.NotificationType
	Title   string
	Message string
}

var notificationTemplates = map[templateID]notificationTemplate{
	tplApplicationSubmitted: {
		Type:    models.NotificationGeneral,
		Title:   "New adoption application",
		Message: "A new application was submitted for {{petName}}.",
	},
	tplApplicationWithdrawn: {
		Type:    models.NotificationGeneral,
		Title:   "Application withdrawn",
		Message: "The adopter withdrew their application for {{petName}}.",
	},
	tplApplicationUnderReview: {
		Type:    models.NotificationGeneral,
		Title:   "Application under review",
		Message: "The shelter started reviewing your application.",
	},
	tplApplicationPendingApproval: {
		Type:    models.NotificationGeneral,
		Title:   "Application awaiting decision",
		Message: "Your application has moved to final approval.",
	},
	tplApplicationApproved: {
		Type:    models.NotificationGeneral,
		Title:   "Application approved",
		Message: "Congratulations! Your application was approved. {{notes}}",
	},
	tplApplicationRejected: {
		Type:    models.NotificationGeneral,
		Title:   "Application not approved",
		Message: "Your application was not approved. {{notes}}",
	},
	tplInterviewScheduled: {
		Type:    models.NotificationInterviewScheduled,
		Title:   "{{label}} scheduled",
		Message: "Your {{label}} is scheduled for {{date}} at {{time}} ({{duration}} minutes) at {{location}}.",
	},
	tplInterviewRescheduled: {
		Type:    models.NotificationInterviewScheduled,
		Title:   "{{label}} rescheduled",
		Message: "Your {{label}} has moved to {{date}} at {{time}} ({{duration}} minutes) at {{location}}.",
	},
	tplInterviewCancelled: {
		Type:    models.NotificationGeneral,
		Title:   "{{label}} cancelled",
		Message: "Your {{label}} on {{date}} at {{time}} was cancelled. {{reason}}",
	},
	tplInterviewAccepted: {
		Type:    models.NotificationInterviewResponse,
		Title:   "{{label}} accepted",
		Message: "The adopter accepted the {{label}} on {{date}} at {{time}}. {{notes}}",
	},
	tplInterviewDeclined: {
		Type:    models.NotificationInterviewResponse,
		Title:   "{{label}} declined",
		Message: "The adopter declined the {{label}} on {{date}} at {{time}}. {{notes}}",
	},
	tplInterviewReminder: {
		Type:    models.NotificationInterviewReminder,
		Title:   "Upcoming {{label}}",
		Message: "Reminder: your {{label}} is on {{date}} at {{time}} at {{location}}.",
	},
}

var placeholderPattern = regexp.MustCompile(`\{\{\s*(\w+)\s*\}\}`)

// renderTemplate substitutes {{key}} placeholders. Unknown keys render empty.
func renderTemplate(text string, vars map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(text, func(m string) string {
		key := placeholderPattern.FindStringSubmatch(m)[1]
		return vars[key]
	})
}

// buildNotification renders a template into an unsaved pending notification.
func buildNotification(id templateID, recipientID string, vars map[string]string, metadata map[string]interface{}) models.Notification {
	tpl := notificationTemplates[id]
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	metadata["template"] = string(id)
	return models.Notification{
		RecipientID: recipientID,
		Type:        tpl.Type,
		Status:      models.NotificationPending,
		Title:       trimRendered(renderTemplate(tpl.Title, vars)),
		Message:     trimRendered(renderTemplate(tpl.Message, vars)),
		Metadata:    metadata,
	}
}

// trimRendered collapses the whitespace left behind by empty placeholders.
func trimRendered(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func interviewVars(iv *models.Interview) map[string]string {
	label := string(iv.Type)
	if info, ok := models.LookupInterviewType(iv.Type); ok {
		label = info.Label
	}
	return map[string]string{
		"label":    label,
		"date":     iv.ScheduledDate,
		"time":     iv.ScheduledTime,
		"duration": strconv.Itoa(iv.EffectiveDuration()),
		"location": iv.Location,
	}
}

func interviewMetadata(iv *models.Interview) map[string]interface{} {
	return map[string]interface{}{
		"interviewId":   iv.ID,
		"applicationId": iv.ApplicationID,
		"interviewType": string(iv.Type),
		"scheduledDate": iv.ScheduledDate,
		"scheduledTime": iv.ScheduledTime,
	}
}
