package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Port        int    `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL,required"`
	RedisURL    string `env:"REDIS_URL,required"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	MoodleURL        string `env:"MOODLE_URL,required"`
	MSOnlineProxyURL string `env:"MSONLINE_PROXY_URL"`

	TelegramToken      string `env:"TELEGRAM_TOKEN"`
	TelegramRatePerMin int    `env:"TELEGRAM_RATE_PER_MINUTE" envDefault:"25"`

	SessionSyncInterval time.Duration `env:"SESSION_SYNC_INTERVAL" envDefault:"30m"`
	EventsSyncInterval  time.Duration `env:"EVENTS_SYNC_INTERVAL" envDefault:"15m"`
	CoursesSyncInterval time.Duration `env:"COURSES_SYNC_INTERVAL" envDefault:"1h"`
	GradesSyncInterval  time.Duration `env:"GRADES_SYNC_INTERVAL" envDefault:"20m"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Validate() error {
	if c.TelegramRatePerMin <= 0 {
		return fmt.Errorf("TELEGRAM_RATE_PER_MINUTE must be positive")
	}
	for name, interval := range map[string]time.Duration{
		"SESSION_SYNC_INTERVAL": c.SessionSyncInterval,
		"EVENTS_SYNC_INTERVAL":  c.EventsSyncInterval,
		"COURSES_SYNC_INTERVAL": c.CoursesSyncInterval,
		"GRADES_SYNC_INTERVAL":  c.GradesSyncInterval,
	} {
		if interval < time.Minute {
			return fmt.Errorf("%s must be at least one minute", name)
		}
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
