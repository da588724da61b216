// Package config loads process configuration from the environment, with an
// optional .env file for local runs.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/unclebandit/campaign-consent/internal/service"
)

type LLMConfig struct {
	APIKey   string `env:"API_KEY"`
	Model    string `env:"MODEL" envDefault:"gpt-4o-mini"`
	Endpoint string `env:"ENDPOINT"`
}

type SMTPConfig struct {
	Host string `env:"HOST"`
	Port string `env:"PORT" envDefault:"465"`
	User string `env:"USER"`
	Pass string `env:"PASS"`
}

type Config struct {
	AppEnv   string `env:"APP_ENV" envDefault:"development"`
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`

	// Empty DatabaseURL keeps campaigns in memory; empty AMQPURL uses the
	// in-process queue.
	DatabaseURL string `env:"DATABASE_URL"`
	AMQPURL     string `env:"AMQP_URL"`
	SendQueue   string `env:"SEND_QUEUE" envDefault:"campaign_sends"`

	ConsentSecret string `env:"CONSENT_SECRET,required"`

	LLM  LLMConfig  `envPrefix:"LLM_"`
	SMTP SMTPConfig `envPrefix:"SMTP_"`

	ProviderTimeout      time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"30s"`
	SendTimeout          time.Duration `env:"SEND_TIMEOUT" envDefault:"15s"`
	ProviderRatePerMin   int           `env:"PROVIDER_RATE_PER_MIN" envDefault:"30"`
	ProviderBurst        int           `env:"PROVIDER_BURST" envDefault:"5"`
	QuotaCooldownInitial time.Duration `env:"QUOTA_COOLDOWN_INITIAL" envDefault:"30s"`
	QuotaCooldownMax     time.Duration `env:"QUOTA_COOLDOWN_MAX" envDefault:"15m"`

	DescriptiveAttribute string `env:"DESCRIPTIVE_ATTRIBUTE" envDefault:"description"`
}

// Load reads files (default ".env") into the environment when present, then
// parses Config from it. Missing files are not an error.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if len(c.ConsentSecret) < 16 {
		return errors.New("config: CONSENT_SECRET must be at least 16 bytes")
	}
	if c.QuotaCooldownMax < c.QuotaCooldownInitial {
		return errors.New("config: QUOTA_COOLDOWN_MAX must not be below QUOTA_COOLDOWN_INITIAL")
	}
	if c.ProviderRatePerMin < 0 || c.ProviderBurst < 0 {
		return errors.New("config: provider rate and burst must not be negative")
	}
	return nil
}

func (c *Config) IsProduction() bool { return c.AppEnv == "production" }

func (c *Config) DrafterConfig() service.DrafterConfig {
	return service.DrafterConfig{
		Timeout:         c.ProviderTimeout,
		RatePerMinute:   c.ProviderRatePerMin,
		Burst:           c.ProviderBurst,
		CooldownInitial: c.QuotaCooldownInitial,
		CooldownMax:     c.QuotaCooldownMax,
	}
}

// NewLogger builds a JSON logger in production and a console logger elsewhere.
func (c *Config) NewLogger() (*zap.Logger, error) {
	if c.IsProduction() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
