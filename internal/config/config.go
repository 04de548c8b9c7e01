// Package config loads service configuration from the environment, an
// optional .env file and an optional config.yaml.
package config

import (
	"time"

	"github.com/shopspring/decimal"

	"lmscirc/internal/circulation"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server" validate:"required"`
	Log         LogConfig         `mapstructure:"log" validate:"required"`
	Store       StoreConfig       `mapstructure:"store" validate:"required"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Auth        AuthConfig        `mapstructure:"auth" validate:"required"`
	Circulation CirculationConfig `mapstructure:"circulation" validate:"required"`
	Sweep       SweepConfig       `mapstructure:"sweep" validate:"required"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
	Chaos       ChaosConfig       `mapstructure:"chaos"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

type LogConfig struct {
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver" validate:"required,oneof=postgres memory"`
}

type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

// AuthConfig carries token settings and the optional first administrator,
// created at startup when no account with that email exists.
type AuthConfig struct {
	JWTSecret     string        `mapstructure:"jwt_secret" validate:"required,min=32"`
	TokenTTL      time.Duration `mapstructure:"token_ttl" validate:"gt=0"`
	LoginRate     float64       `mapstructure:"login_rate" validate:"gt=0"`
	LoginBurst    int           `mapstructure:"login_burst" validate:"gt=0"`
	AdminEmail    string        `mapstructure:"admin_email" validate:"omitempty,email"`
	AdminPassword string        `mapstructure:"admin_password" validate:"required_with=AdminEmail,omitempty,min=8"`
}

type CirculationConfig struct {
	LoanPeriodDays     int           `mapstructure:"loan_period_days" validate:"gt=0"`
	MaxRenewals        int           `mapstructure:"max_renewals" validate:"gte=0"`
	ReservationTTLDays int           `mapstructure:"reservation_ttl_days" validate:"gt=0"`
	ClaimWindow        time.Duration `mapstructure:"claim_window" validate:"gt=0"`
	FinePerDay         string        `mapstructure:"fine_per_day" validate:"required,numeric"`
	BlockOnUnpaidFines bool          `mapstructure:"block_on_unpaid_fines"`
	RetryMaxTries      uint          `mapstructure:"retry_max_tries" validate:"gt=0"`
}

type SweepConfig struct {
	Schedule string `mapstructure:"schedule" validate:"required"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name"`
}

// ChaosConfig injects store faults. Leave it zero outside test environments.
type ChaosConfig struct {
	Latency      time.Duration `mapstructure:"latency" validate:"gte=0"`
	Jitter       time.Duration `mapstructure:"jitter" validate:"gte=0"`
	ConflictRate float64       `mapstructure:"conflict_rate" validate:"gte=0,lte=1"`
}

// Rules converts the circulation settings into service rules.
func (c CirculationConfig) Rules() (circulation.Config, error) {
	fine, err := decimal.NewFromString(c.FinePerDay)
	if err != nil {
		return circulation.Config{}, err
	}
	rules := circulation.DefaultConfig()
	rules.LoanPeriodDays = c.LoanPeriodDays
	rules.MaxRenewals = c.MaxRenewals
	rules.ReservationTTLDays = c.ReservationTTLDays
	rules.ClaimWindow = c.ClaimWindow
	rules.FinePerDay = fine
	rules.RetryMaxTries = c.RetryMaxTries
	return rules, nil
}

// LoanPolicy returns the configured borrowing policy.
func (c CirculationConfig) LoanPolicy() circulation.LoanPolicy {
	if c.BlockOnUnpaidFines {
		return circulation.BlockOnUnpaidFines{}
	}
	return circulation.NoLimit{}
}
