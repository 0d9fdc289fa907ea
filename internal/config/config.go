// Package config loads engine settings from YAML with environment
// overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/symbolicaengine-ai/symbolica-sub000/internal/preprocessor"
	"github.com/symbolicaengine-ai/symbolica-sub000/internal/runtime"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config holds compiler and runtime settings.
type Config struct {
	// Workers is the runtime pool size. Zero means one per CPU.
	Workers        int           `yaml:"workers" validate:"gte=0"`
	ConflictPolicy string        `yaml:"conflict_policy" validate:"oneof=warn fail"`
	PassTimeout    time.Duration `yaml:"pass_timeout" validate:"gte=0"`
	Cache          bool          `yaml:"cache"`
	LogLevel       string        `yaml:"log_level" validate:"oneof=debug info warn error"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		ConflictPolicy: string(preprocessor.ConflictFail),
		Cache:          true,
		LogLevel:       "info",
	}
}

// Load reads path over the defaults, applies SYMBOLICA_* environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("SYMBOLICA_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SYMBOLICA_WORKERS: %w", err)
		}
		c.Workers = n
	}
	if v := os.Getenv("SYMBOLICA_CONFLICT_POLICY"); v != "" {
		c.ConflictPolicy = v
	}
	if v := os.Getenv("SYMBOLICA_PASS_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SYMBOLICA_PASS_TIMEOUT: %w", err)
		}
		c.PassTimeout = d
	}
	if v := os.Getenv("SYMBOLICA_CACHE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("SYMBOLICA_CACHE: %w", err)
		}
		c.Cache = b
	}
	if v := os.Getenv("SYMBOLICA_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	return nil
}

// Validate checks field ranges and enumerations.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Level returns the zerolog level for LogLevel.
func (c Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

// CompileOptions derives compiler options.
func (c Config) CompileOptions(logger *zerolog.Logger) preprocessor.Options {
	return preprocessor.Options{
		ConflictPolicy: preprocessor.ConflictPolicy(c.ConflictPolicy),
		Logger:         logger,
	}
}

// EngineOptions derives runtime options.
func (c Config) EngineOptions(logger *zerolog.Logger) runtime.Options {
	return runtime.Options{
		Workers:      c.Workers,
		Timeout:      c.PassTimeout,
		DisableCache: !c.Cache,
		Logger:       logger,
	}
}
