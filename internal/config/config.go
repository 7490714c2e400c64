// Package config loads loader settings from the environment and an optional
// .env file. Command-line flags override what is loaded here.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Supported warehouse drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds the settings shared by every command.
type Config struct {
	Driver   string `env:"BUGDW_DRIVER" envDefault:"sqlite" validate:"oneof=sqlite postgres"`
	Database string `env:"BUGDW_DATABASE" validate:"required"`
	// ConnectionString is the original .env name for the warehouse DSN.
	ConnectionString string `env:"SQL_CONNECTION_STRING"`
	DataDir          string `env:"BUGDW_DATA_DIR" envDefault:"./data" validate:"required"`
	SourceURL        string `env:"BUGDW_SOURCE_URL" validate:"omitempty,url"`
	FilePrefix       string `env:"BUGDW_FILE_PREFIX" envDefault:"scribus" validate:"required"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads the first existing file of envFiles (".env" when none are
// given) into the process environment, then parses and validates Config.
// Variables already set in the environment win over file values.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
		break
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// applyDefaults fills Database from SQL_CONNECTION_STRING, then from the
// driver's default.
func (c *Config) applyDefaults() {
	if c.Database == "" {
		c.Database = c.ConnectionString
	}
	if c.Database == "" && c.Driver == DriverSQLite {
		c.Database = "bugdw.db"
	}
}

// Validate checks the settings after flag overrides are applied.
func (c *Config) Validate() error {
	c.Driver = strings.ToLower(strings.TrimSpace(c.Driver))
	c.applyDefaults()
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, describe(fe))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return err
	}
	return nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", fe.Field(), fe.Param(), fe.Value())
	case "url":
		return fmt.Sprintf("%s must be a URL, got %q", fe.Field(), fe.Value())
	default:
		return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	}
}
