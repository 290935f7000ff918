package delivernotifications

// Input is read from the job variables. Zero BatchSize uses the configured size.
type Input struct {
	BatchSize int `json:"batchSize,omitempty"`
}

type Output struct {
	Loaded    int `json:"loaded"`
	Delivered int `json:"delivered"`
	Skipped   int `json:"skipped"`
	// Failed counts notifications queued for a retry; Abandoned those that ran out of attempts.
	Failed    int `json:"failed"`
	Abandoned int `json:"abandoned"`
}

// Delivery channels, used as the metrics channel label.
const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
	ChannelNone  = "none"
)

const (
	OutcomeSent      = "sent"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
	OutcomeAbandoned = "abandoned"
)
