package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds all configuration for our application
type Config struct {
	DiscordToken  string `env:"DISCORD_TOKEN" validate:"required"`
	DatabaseDSN   string `env:"DATABASE_DSN" validate:"required"`
	MetricsAddr   string `env:"METRICS_ADDR" validate:"required,hostname_port"`
	CommandPrefix string `env:"COMMAND_PREFIX" validate:"required,max=3"`
}

const (
	defaultMetricsAddr   = ":9090"
	defaultCommandPrefix = "!"
)

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// .env file is optional, continue with environment variables
	_ = godotenv.Load()

	return FromEnv(os.Getenv)
}

// FromEnv builds and validates a Config from a lookup function.
func FromEnv(getenv func(string) string) (*Config, error) {
	config := &Config{
		DiscordToken:  getenv("DISCORD_TOKEN"),
		DatabaseDSN:   getenv("DATABASE_DSN"),
		MetricsAddr:   withDefault(getenv("METRICS_ADDR"), defaultMetricsAddr),
		CommandPrefix: withDefault(getenv("COMMAND_PREFIX"), defaultCommandPrefix),
	}

	if err := validate(config); err != nil {
		return nil, err
	}
	return config, nil
}

func withDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func validate(c *Config) error {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string { return f.Tag.Get("env") })
	err := v.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	field := verrs[0].Field()
	if verrs[0].Tag() == "required" {
		return &ConfigError{Field: field, Message: field + " is required"}
	}
	return &ConfigError{Field: field, Message: fmt.Sprintf("%s is invalid (%s)", field, verrs[0].Tag())}
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}
