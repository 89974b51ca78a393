package config

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config is the relay's externally visible configuration surface: one port,
// overridable by environment, plus the log level.
type Config struct {
	Port     int    `env:"PORT" env-default:"3333"`
	LogLevel string `env:"LOG_LEVEL" env-default:"debug"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("cannot read config from environment: %w", err)
	}
	return &cfg, nil
}

func (c *Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}
