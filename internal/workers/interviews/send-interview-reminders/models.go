package sendinterviewreminders

// Input is read from the job variables. Zero Limit uses the configured batch size.
type Input struct {
	Limit int `json:"limit,omitempty"`
}

type Output struct {
	RemindersSent int    `json:"remindersSent"`
	RanAt         string `json:"ranAt"` // RFC 3339
}
