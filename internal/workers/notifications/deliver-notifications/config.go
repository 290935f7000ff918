package delivernotifications

import (
	"fmt"
	"time"

	"adoption-workflow/internal/common/config"
)

type Config struct {
	EmailEnabled bool
	SMSEnabled   bool
	FromEmail    string
	BatchSize    int
	Timeout      time.Duration
	// MaxAttempts is the number of failed deliveries after which a notification is abandoned.
	MaxAttempts  int
	RetryBackoff time.Duration
}

// maxRetryBackoff caps the doubling backoff between failed attempts.
const maxRetryBackoff = 6 * time.Hour

// LoadConfig reads the notifications section and this worker's entry in workers.
func LoadConfig(cfg *config.Config) *Config {
	return &Config{
		EmailEnabled: cfg.Notifications.Email.Enabled,
		SMSEnabled:   cfg.Notifications.SMS.Enabled,
		FromEmail:    cfg.Notifications.Email.FromEmail,
		BatchSize:    cfg.Notifications.BatchSize,
		Timeout:      config.GetDuration(config.GetWorkerConfig(cfg, TaskType).Timeout),
		MaxAttempts:  cfg.Notifications.MaxAttempts,
		RetryBackoff: config.GetDuration(cfg.Notifications.RetryBackoff),
	}
}

func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max_attempts must be positive")
	}
	if c.RetryBackoff <= 0 {
		return fmt.Errorf("retry_backoff must be positive")
	}
	if c.EmailEnabled && c.FromEmail == "" {
		return fmt.Errorf("from_email is required when email is enabled")
	}
	return nil
}
