package reconcilestories

import (
	"time"

	"story-workers/internal/common/config"
)

type Config struct {
	Timeout time.Duration
}

func LoadConfig() *Config {
	return &Config{
		Timeout: time.Minute,
	}
}

func ConfigFromApp(cfg *config.Config) *Config {
	c := LoadConfig()
	if cfg == nil {
		return c
	}
	if timeout := config.GetWorkerConfig(cfg, TaskType).Timeout; timeout > 0 {
		c.Timeout = config.GetDuration(timeout)
	}
	return c
}
