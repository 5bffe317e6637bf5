package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	libconfig "voicecoach/backend/libs/config"
)

// Config defines voice service configuration.
type Config struct {
	HTTP struct {
		Port string `yaml:"port" env:"VOICE_HTTP_PORT"`
	} `yaml:"http"`
	Database struct {
		DSN          string `yaml:"dsn" env:"VOICE_POSTGRES_DSN"`
		MaxOpenConns int    `yaml:"max_open_conns" env:"VOICE_POSTGRES_MAX_OPEN_CONNS"`
		MaxIdleConns int    `yaml:"max_idle_conns" env:"VOICE_POSTGRES_MAX_IDLE_CONNS"`
	} `yaml:"database"`
	Redis struct {
		Addr     string `yaml:"addr" env:"VOICE_REDIS_ADDR"`
		Password string `yaml:"password" env:"VOICE_REDIS_PASSWORD"`
		DB       int    `yaml:"db" env:"VOICE_REDIS_DB"`
	} `yaml:"redis"`
	Quota struct {
		BaseURL string `yaml:"base_url" env:"QUOTA_SERVICE_URL"`
	} `yaml:"quota"`
	Billing struct {
		PointsPerMinute int           `yaml:"points_per_minute" env:"VOICE_POINTS_PER_MINUTE"`
		MaxMinutes      int           `yaml:"max_minutes" env:"VOICE_MAX_MINUTES"`
		TickInterval    time.Duration `yaml:"tick_interval" env:"VOICE_BILLING_TICK_INTERVAL"`
		RecoveryTTL     time.Duration `yaml:"recovery_ttl" env:"VOICE_RECOVERY_TTL"`
	} `yaml:"billing"`
	JWT struct {
		Secret    string        `yaml:"secret" env:"JWT_SECRET"`
		ExpiresIn time.Duration `yaml:"expires_in" env:"JWT_EXPIRES_IN"`
	} `yaml:"jwt"`
}

// Load configuration from file/env.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.HTTP.Port = "8084"
	cfg.Database.MaxOpenConns = 10
	cfg.Database.MaxIdleConns = 5
	cfg.Redis.Addr = "localhost:6379"
	cfg.Billing.PointsPerMinute = 8
	cfg.Billing.MaxMinutes = 10
	cfg.Billing.TickInterval = 10 * time.Second
	cfg.Billing.RecoveryTTL = 30 * time.Minute
	cfg.JWT.ExpiresIn = 24 * time.Hour

	if err := libconfig.LoadConfig(cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.Database.DSN) == "" {
		return nil, errors.New("config: database dsn required")
	}
	if strings.TrimSpace(cfg.Quota.BaseURL) == "" {
		return nil, errors.New("config: quota service url required")
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
		port = "8084"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}
