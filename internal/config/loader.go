package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

var (
	ErrDigestNeedsUser = errors.New("auth_mode=digest requires a configured [user]")
	ErrInvalidAuthMode = errors.New("auth_mode must be basic or digest")
	ErrInvalidRLKey    = errors.New("rate_limit.key must be ip or username")
	ErrInvalidPort     = errors.New("port must be between 1 and 65535")
	ErrInvalidDriver   = errors.New("cache.driver must be memory or redis")
	ErrInvalidTLSMode  = errors.New("tls.mode must be selfsigned, static, or acme")
)

// FlagOverrides holds CLI flag values. Nil or empty entries leave the
// config untouched; precedence is defaults -> TOML file -> flags.
type FlagOverrides struct {
	Hostname       *string
	Port           *int
	AuthMode       *string
	HTTPS          *bool
	DisableLogging *bool
	Threads        *int
	TLSMode        *string
	LoggingLevel   *string
	CacheDriver    *string
}

// LoaderOptions configures Load.
type LoaderOptions struct {
	// ConfigPath is the optional TOML file to read.
	ConfigPath string

	// Flags are CLI overrides applied last.
	Flags FlagOverrides
}

// Defaults returns the baseline configuration.
func Defaults() *Config {
	return &Config{
		Hostname: "127.0.0.1",
		Port:     1900,
		AuthMode: "basic",
		RateLimit: RateLimitConfig{
			WindowMS: 1000,
			Limit:    1000,
			Key:      "username",
		},
		Threads: defaultThreads(),
		Cache:   CacheConfig{Driver: "memory"},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load builds the configuration with the standard precedence and validates it.
func Load(opts LoaderOptions) (*Config, error) {
	cfg := Defaults()

	if opts.ConfigPath != "" {
		data, err := os.ReadFile(opts.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyFlags(cfg, opts.Flags)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFlags(cfg *Config, f FlagOverrides) {
	if f.Hostname != nil && *f.Hostname != "" {
		cfg.Hostname = *f.Hostname
	}
	if f.Port != nil && *f.Port != 0 {
		cfg.Port = *f.Port
	}
	if f.AuthMode != nil && *f.AuthMode != "" {
		cfg.AuthMode = *f.AuthMode
	}
	if f.HTTPS != nil {
		cfg.HTTPS = *f.HTTPS
	}
	if f.DisableLogging != nil {
		cfg.DisableLogging = *f.DisableLogging
	}
	if f.Threads != nil && *f.Threads != 0 {
		cfg.Threads = *f.Threads
	}
	if f.TLSMode != nil && *f.TLSMode != "" {
		cfg.TLS.Mode = *f.TLSMode
	}
	if f.LoggingLevel != nil && *f.LoggingLevel != "" {
		cfg.Logging.Level = *f.LoggingLevel
	}
	if f.CacheDriver != nil && *f.CacheDriver != "" {
		cfg.Cache.Driver = *f.CacheDriver
	}
}

// Validate enforces the construction-time constraints.
func Validate(cfg *Config) error {
	switch cfg.AuthMode {
	case "basic":
	case "digest":
		if cfg.User == nil || cfg.User.Username == "" {
			return ErrDigestNeedsUser
		}
		if cfg.User.Password == "" {
			return fmt.Errorf("%w: digest needs the plaintext password", ErrDigestNeedsUser)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidAuthMode, cfg.AuthMode)
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, cfg.Port)
	}

	switch cfg.RateLimit.Key {
	case "ip", "username":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidRLKey, cfg.RateLimit.Key)
	}

	switch cfg.Cache.Driver {
	case "memory", "redis":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidDriver, cfg.Cache.Driver)
	}

	switch cfg.EffectiveTLSMode() {
	case "off", "selfsigned", "static", "acme":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidTLSMode, cfg.TLS.Mode)
	}

	return nil
}
