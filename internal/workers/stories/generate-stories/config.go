package generatestories

import (
	"time"

	"story-workers/internal/common/config"
)

type Config struct {
	Timeout time.Duration
}

func LoadConfig() *Config {
	return &Config{
		Timeout: 5 * time.Minute,
	}
}

// ConfigFromApp applies the workers.generate-stories section.
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
