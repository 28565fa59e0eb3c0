// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Config holds the gateway configuration.
type Config struct {
	// Hostname is the listen address. Default: "127.0.0.1".
	Hostname string `toml:"hostname"`

	// Port is the listen port. Default: 1900.
	Port int `toml:"port"`

	// AuthMode is "basic" or "digest". Digest requires [user].
	AuthMode string `toml:"auth_mode"`

	// HTTPS enables TLS. The effective TLS mode defaults to "selfsigned"
	// unless [tls] says otherwise.
	HTTPS bool `toml:"https"`

	// User is the single-tenant credential set. When absent and AuthMode
	// is "basic", the server runs in multi-tenant proxy mode: clients
	// carry backend credentials inside the Basic password.
	User *UserConfig `toml:"user"`

	// RateLimit bounds request rates per client.
	RateLimit RateLimitConfig `toml:"rate_limit"`

	// TempFilesToStoreOnDisk lists glob patterns (matched against the
	// file name and the full path) that are served from local plaintext
	// scratch storage and never uploaded to the backend.
	TempFilesToStoreOnDisk []string `toml:"temp_files_to_store_on_disk"`

	// DisableLogging drops the access log. Errors are always logged.
	DisableLogging bool `toml:"disable_logging"`

	// Threads caps scheduling parallelism (GOMAXPROCS). Default: CPU count.
	Threads int `toml:"threads"`

	// TLS configuration.
	TLS TLSConfig `toml:"tls"`

	// Cache configuration.
	Cache CacheConfig `toml:"cache"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging"`
}

// UserConfig holds single-tenant credentials.
type UserConfig struct {
	Username string `toml:"username"`

	// Password is compared in constant time. Leave empty when
	// PasswordHash is set.
	Password string `toml:"password"`

	// PasswordHash is an optional bcrypt hash accepted instead of the
	// plaintext password (basic mode only; digest needs the plaintext).
	PasswordHash string `toml:"password_hash"`

	// SDKConfig optionally points at backend session material for the
	// single-tenant user (interpreted by the embedding process).
	SDKConfig map[string]any `toml:"sdk_config"`
}

// RateLimitConfig holds rate limiting parameters.
type RateLimitConfig struct {
	// WindowMS is the window length in milliseconds. Default: 1000.
	WindowMS int `toml:"window_ms"`

	// Limit is the allowed requests per window. Default: 1000.
	Limit int64 `toml:"limit"`

	// Key selects the bucket key: "ip" or "username". Default: "username".
	Key string `toml:"key"`
}

// TLSConfig holds TLS settings.
type TLSConfig struct {
	// Mode is one of: selfsigned, static, acme. Empty means selfsigned.
	Mode string `toml:"mode"`

	// CertFile and KeyFile for static mode.
	CertFile string `toml:"cert_file"`
	KeyFile  string `toml:"key_file"`

	// ACME configuration.
	ACME ACMEConfig `toml:"acme"`
}

// ACMEConfig holds ACME/Let's Encrypt settings.
type ACMEConfig struct {
	// Email for ACME registration.
	Email string `toml:"email"`

	// Domain to obtain a certificate for.
	Domain string `toml:"domain"`

	// Directory is the ACME server URL (default: Let's Encrypt production).
	Directory string `toml:"directory"`

	// StorageDir is where ACME certificates and account info are stored.
	StorageDir string `toml:"storage_dir"`

	// UseStaging uses Let's Encrypt staging (for testing).
	UseStaging bool `toml:"use_staging"`
}

// CacheConfig holds cache settings.
type CacheConfig struct {
	// Driver is the cache driver name: "memory" (default) or "redis".
	Driver string `toml:"driver"`

	// Drivers holds per-driver configuration, e.g. [cache.drivers.redis].
	Drivers map[string]any `toml:"drivers"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `toml:"level"`

	// Directory overrides the default log directory.
	Directory string `toml:"directory"`

	// ToFile mirrors logs into a rotating file sink.
	ToFile bool `toml:"to_file"`
}

// ListenAddr returns the hostname:port pair to bind.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Hostname, c.Port)
}

// ProxyMode reports multi-tenant operation: basic auth with no fixed user.
func (c *Config) ProxyMode() bool {
	return c.AuthMode == "basic" && c.User == nil
}

// EffectiveTLSMode resolves the TLS mode, honoring the https switch.
func (c *Config) EffectiveTLSMode() string {
	if !c.HTTPS {
		return "off"
	}
	if c.TLS.Mode == "" {
		return "selfsigned"
	}
	return c.TLS.Mode
}

// ConfigDir returns the platform config directory for the gateway,
// <user-config>/@filen/webdav, creating nothing.
func ConfigDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve user config dir: %w", err)
	}
	return filepath.Join(base, "@filen", "webdav"), nil
}

// LogsDir returns the log directory, honoring the configured override.
func (c *Config) LogsDir() (string, error) {
	if c.Logging.Directory != "" {
		return c.Logging.Directory, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve user config dir: %w", err)
	}
	return filepath.Join(base, "@filen", "logs"), nil
}

// ScratchDir returns the disk-scratch directory for sidecar files.
func ScratchDir() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "tempDiskFiles"), nil
}

// Redacted returns a loggable representation with secrets removed.
func (c *Config) Redacted() string {
	var sb strings.Builder
	sb.WriteString("Config{\n")
	sb.WriteString(fmt.Sprintf("  Hostname: %q,\n", c.Hostname))
	sb.WriteString(fmt.Sprintf("  Port: %d,\n", c.Port))
	sb.WriteString(fmt.Sprintf("  AuthMode: %q,\n", c.AuthMode))
	sb.WriteString(fmt.Sprintf("  HTTPS: %v,\n", c.HTTPS))
	if c.User != nil {
		sb.WriteString("  User: {\n")
		sb.WriteString(fmt.Sprintf("    Username: %q,\n", c.User.Username))
		sb.WriteString("    Password: [REDACTED],\n")
		sb.WriteString("  },\n")
	} else {
		sb.WriteString("  User: <proxy mode>,\n")
	}
	sb.WriteString("  RateLimit: {\n")
	sb.WriteString(fmt.Sprintf("    WindowMS: %d,\n", c.RateLimit.WindowMS))
	sb.WriteString(fmt.Sprintf("    Limit: %d,\n", c.RateLimit.Limit))
	sb.WriteString(fmt.Sprintf("    Key: %q,\n", c.RateLimit.Key))
	sb.WriteString("  },\n")
	sb.WriteString(fmt.Sprintf("  TempFilesToStoreOnDisk: %v,\n", c.TempFilesToStoreOnDisk))
	sb.WriteString(fmt.Sprintf("  DisableLogging: %v,\n", c.DisableLogging))
	sb.WriteString(fmt.Sprintf("  Threads: %d,\n", c.Threads))
	sb.WriteString("  TLS: {\n")
	sb.WriteString(fmt.Sprintf("    Mode: %q,\n", c.EffectiveTLSMode()))
	sb.WriteString(fmt.Sprintf("    CertFile: %q,\n", c.TLS.CertFile))
	sb.WriteString(fmt.Sprintf("    KeyFile: %q,\n", c.TLS.KeyFile))
	sb.WriteString("  },\n")
	sb.WriteString(fmt.Sprintf("  Cache: { Driver: %q },\n", c.Cache.Driver))
	sb.WriteString("  Logging: {\n")
	sb.WriteString(fmt.Sprintf("    Level: %q,\n", c.Logging.Level))
	sb.WriteString(fmt.Sprintf("    ToFile: %v,\n", c.Logging.ToFile))
	sb.WriteString("  },\n")
	sb.WriteString("}")
	return sb.String()
}

func defaultThreads() int { return runtime.NumCPU() }
