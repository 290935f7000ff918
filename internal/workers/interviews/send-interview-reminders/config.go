package sendinterviewreminders

import (
	"fmt"
	"time"

	"adoption-workflow/internal/common/config"
)

type Config struct {
	BatchSize int
	Timeout   time.Duration
}

func LoadConfig(cfg *config.Config) *Config {
	return &Config{
		BatchSize: cfg.Notifications.BatchSize,
		Timeout:   config.GetDuration(config.GetWorkerConfig(cfg, TaskType).Timeout),
	}
}

func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive")
	}
	return nil
}
