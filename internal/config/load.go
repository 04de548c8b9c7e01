package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable the service reads.
const EnvPrefix = "LIBRANEXUS"

// Option adjusts how Load finds its sources.
type Option func(*loader)

type loader struct {
	envFiles   []string
	configPath string
}

// WithEnvFile loads variables from path before reading the environment. A
// missing file is not an error.
func WithEnvFile(path string) Option {
	return func(l *loader) { l.envFiles = append(l.envFiles, path) }
}

// WithConfigFile reads settings from the given YAML file.
func WithConfigFile(path string) Option {
	return func(l *loader) { l.configPath = path }
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("log.level", "info")
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("database.url", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", "12h")
	v.SetDefault("auth.login_rate", 5)
	v.SetDefault("auth.login_burst", 10)
	v.SetDefault("auth.admin_email", "")
	v.SetDefault("auth.admin_password", "")
	v.SetDefault("circulation.loan_period_days", 14)
	v.SetDefault("circulation.max_renewals", 3)
	v.SetDefault("circulation.reservation_ttl_days", 7)
	v.SetDefault("circulation.claim_window", "48h")
	v.SetDefault("circulation.fine_per_day", "0.50")
	v.SetDefault("circulation.block_on_unpaid_fines", false)
	v.SetDefault("circulation.retry_max_tries", 5)
	v.SetDefault("sweep.schedule", "@every 15m")
	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.service_name", "libranexus-circulation")
	v.SetDefault("chaos.latency", "0s")
	v.SetDefault("chaos.jitter", "0s")
	v.SetDefault("chaos.conflict_rate", 0.0)
}

// Load reads configuration. Precedence, highest first: environment
// variables (LIBRANEXUS_SERVER_PORT and so on), .env files, config.yaml, defaults.
func Load(opts ...Option) (*Config, error) {
	l := &loader{envFiles: []string{".env"}}
	for _, opt := range opts {
		opt(l)
	}

	for _, f := range l.envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	if l.configPath != "" {
		v.SetConfigFile(l.configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints and the cross-field rules tags cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Store.Driver == "postgres" && strings.TrimSpace(c.Database.URL) == "" {
		return errors.New("invalid configuration: database.url is required for the postgres store")
	}
	return nil
}
