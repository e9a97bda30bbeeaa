package config

import (
	"os"
	"strings"
	"time"
)

// ApplyDefaults sets default values for any unspecified configuration
// fields.
//
// Default strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyShutdownTimeoutDefaults(cfg)
	applyServerDefaults(&cfg.Server)
	applyMetricsDefaults(&cfg.Metrics)
	applyAuthDefaults(&cfg.Auth)
	applyCacheDefaults(&cfg.Cache)
	applyKerberosDefaults(&cfg.Kerberos)
	applyDirectoryDefaults(&cfg.Directory)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyShutdownTimeoutDefaults(cfg *Config) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.Port == 0 {
		cfg.Port = 8443
	}
	if cfg.CookieName == "" {
		cfg.CookieName = "rapport_session"
	}
	if cfg.CookiePath == "" {
		cfg.CookiePath = "/"
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
}

// applyMetricsDefaults sets metrics defaults.
func applyMetricsDefaults(cfg *MetricsConfig) {
	// Enabled defaults to false (opt-in for metrics)
	// Port defaults to 9090 if metrics are enabled
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

func applyAuthDefaults(cfg *AuthConfig) {
	if cfg.AnonymousMode == "" {
		cfg.AnonymousMode = "never"
	}
	cfg.AnonymousMode = strings.ToLower(cfg.AnonymousMode)

	if cfg.StandardTTL == 0 {
		cfg.StandardTTL = 60 * time.Second
	}
	if cfg.WriteTTL == 0 {
		cfg.WriteTTL = 5 * time.Minute
	}
	// TicketSecret has no default; a generated key would silently
	// invalidate every ticket on restart.
}

func applyCacheDefaults(cfg *CacheConfig) {
	if cfg.MaxAge == 0 {
		cfg.MaxAge = 15 * time.Minute
	}
	// Path has no default when disabled; Validate requires it when
	// the cache is on.
}

func applyKerberosDefaults(cfg *KerberosConfig) {
	if cfg.Krb5Conf == "" {
		cfg.Krb5Conf = "/etc/krb5.conf"
	}
}

func applyDirectoryDefaults(cfg *DirectoryConfig) {
	if cfg.MachineName == "" {
		if host, err := os.Hostname(); err == nil {
			cfg.MachineName = host
		}
	}
	// A single configured domain with no explicit forest list forms a
	// one-domain forest.
	if len(cfg.Forest) == 0 && len(cfg.Domains) > 0 {
		cfg.Forest = []string{cfg.Domains[0].Name}
	}
}

// GetDefaultConfig returns a Config struct with all default values
// applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Auth: AuthConfig{
			// Placeholder so a generated sample file is loadable; init
			// replaces it with a random secret.
			TicketSecret: "change-me-to-a-long-random-secret",
		},
		Cache: CacheConfig{
			Enabled: true,
			Path:    "/var/lib/rapport/identity-cache",
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
