package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	libconfig "voicecoach/backend/libs/config"
)

// Config defines quota service configuration.
type Config struct {
	HTTP struct {
		Port string `yaml:"port" env:"QUOTA_HTTP_PORT"`
	} `yaml:"http"`
	Database struct {
		DSN          string `yaml:"dsn" env:"QUOTA_POSTGRES_DSN"`
		MaxOpenConns int    `yaml:"max_open_conns" env:"QUOTA_POSTGRES_MAX_OPEN_CONNS"`
		MaxIdleConns int    `yaml:"max_idle_conns" env:"QUOTA_POSTGRES_MAX_IDLE_CONNS"`
	} `yaml:"database"`
	JWT struct {
		Secret    string        `yaml:"secret" env:"JWT_SECRET"`
		ExpiresIn time.Duration `yaml:"expires_in" env:"JWT_EXPIRES_IN"`
	} `yaml:"jwt"`
}

// Load configuration from file/env.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.HTTP.Port = "8082"
	cfg.Database.MaxOpenConns = 10
	cfg.Database.MaxIdleConns = 5
	cfg.JWT.ExpiresIn = 24 * time.Hour

	if err := libconfig.LoadConfig(cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.Database.DSN) == "" {
		return nil, errors.New("config: database dsn required")
	}
	if strings.TrimSpace(cfg.JWT.Secret) == "" {
		return nil, errors.New("config: jwt secret required")
	}
	return cfg, nil
}

// HTTPAddress returns :port style string.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = "8082"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}
