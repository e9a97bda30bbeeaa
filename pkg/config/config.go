package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the static Rapport configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (RAPPORT_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Server configures the portal HTTP API
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Metrics contains Prometheus metrics server configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Auth contains session and ticket policy knobs
	Auth AuthConfig `mapstructure:"auth" yaml:"auth"`

	// Cache configures the durable identity cache
	Cache CacheConfig `mapstructure:"cache" yaml:"cache"`

	// Kerberos configures the KDC-backed logon provider
	Kerberos KerberosConfig `mapstructure:"kerberos" yaml:"kerberos"`

	// Directory configures domain topology and LDAP endpoints
	Directory DirectoryConfig `mapstructure:"directory" yaml:"directory"`

	// Local declares machine-local accounts and groups
	Local LocalConfig `mapstructure:"local" yaml:"local"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// ServerConfig configures the portal HTTP API server.
type ServerConfig struct {
	// Host is the listen address
	// Default: 0.0.0.0
	Host string `mapstructure:"host" yaml:"host"`

	// Port is the HTTP listen port
	// Default: 8443
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`

	// CookieName is the session ticket cookie
	// Default: "rapport_session"
	CookieName string `mapstructure:"cookie_name" yaml:"cookie_name"`

	// CookiePath scopes the session cookie
	// Default: "/"
	CookiePath string `mapstructure:"cookie_path" yaml:"cookie_path"`

	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`

	// RequestTimeout bounds a single request through the router
	// Default: 30s
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
// When Enabled is false, no metrics are collected (zero overhead).
type MetricsConfig struct {
	// Enabled controls whether metrics collection and HTTP server are enabled
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for the metrics endpoint
	// Default: 9090
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// AuthConfig contains session policy and ticket issuance knobs.
type AuthConfig struct {
	// AnonymousMode gates anonymous sessions.
	// Valid values: always, allow, never
	// Default: "never"
	AnonymousMode string `mapstructure:"anonymous_mode" validate:"required,oneof=always allow never" yaml:"anonymous_mode"`

	// TicketSecret seals session tickets. Required; there is no usable
	// default for a key.
	// Override: RAPPORT_AUTH_TICKET_SECRET
	TicketSecret string `mapstructure:"ticket_secret" validate:"required,min=16" yaml:"ticket_secret"`

	// StandardTTL is the lifetime of ordinary session tickets
	// Default: 60s
	StandardTTL time.Duration `mapstructure:"standard_ttl" validate:"omitempty,gt=0" yaml:"standard_ttl"`

	// WriteTTL is the lifetime of write-capable session tickets
	// Default: 5m
	WriteTTL time.Duration `mapstructure:"write_ttl" validate:"omitempty,gt=0" yaml:"write_ttl"`
}

// CacheConfig configures the durable identity cache.
//
// With the cache disabled every request resolves identity live, and a
// reachability probe runs before each logon so an unreachable domain
// fails fast.
type CacheConfig struct {
	// Enabled controls whether resolved identities are cached
	// Default: true
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Path is the directory for the cache database
	// Required when the cache is enabled
	Path string `mapstructure:"path" yaml:"path"`

	// MaxAge is the staleness budget for fast-path cache reads.
	// 0 means records never go stale.
	// Default: 15m
	MaxAge time.Duration `mapstructure:"max_age" validate:"omitempty,gte=0" yaml:"max_age"`
}

// KerberosConfig configures the KDC-backed logon provider.
type KerberosConfig struct {
	// Krb5Conf is the path to the Kerberos configuration file.
	// Default: /etc/krb5.conf
	// Override: RAPPORT_KERBEROS_KRB5CONF
	Krb5Conf string `mapstructure:"krb5_conf" yaml:"krb5_conf"`

	// DisablePAFXFAST disables FAST pre-authentication armoring.
	// Some KDCs (notably older AD domain controllers) reject FAST.
	DisablePAFXFAST bool `mapstructure:"disable_pa_fx_fast" yaml:"disable_pa_fx_fast"`
}

// DirectoryConfig declares the domain topology and how to reach it.
//
// Topology (forest membership, trusts) is declared here rather than
// discovered: discovery needs domain-admin rights the portal service
// account does not have, and the topology changes rarely.
type DirectoryConfig struct {
	// MachineName is the local computer name used to distinguish
	// machine-local logons from domain logons.
	// Default: os.Hostname()
	MachineName string `mapstructure:"machine_name" yaml:"machine_name"`

	// BindUsername and BindPassword authenticate directory searches.
	// Override: RAPPORT_DIRECTORY_BIND_PASSWORD
	BindUsername string `mapstructure:"bind_username" yaml:"bind_username"`
	BindPassword string `mapstructure:"bind_password" yaml:"bind_password,omitempty"`

	// Domains lists every reachable domain, the home forest first.
	Domains []DomainConfig `mapstructure:"domains" validate:"dive" yaml:"domains"`

	// Forest names the domains (by Name) that share the home forest.
	Forest []string `mapstructure:"forest" yaml:"forest"`

	// Trusts lists external trusted domains.
	Trusts []TrustConfig `mapstructure:"trusts" validate:"dive" yaml:"trusts"`
}

// DomainConfig describes one reachable domain.
type DomainConfig struct {
	// Name is the DNS domain name, e.g. "corp.example.com"
	Name string `mapstructure:"name" validate:"required" yaml:"name"`

	// Host is the directory server, host or host:port
	Host string `mapstructure:"host" validate:"required" yaml:"host"`

	// BaseDN is the domain naming context, e.g. "DC=corp,DC=example,DC=com"
	BaseDN string `mapstructure:"base_dn" validate:"required" yaml:"base_dn"`

	// SID is the domain SID, e.g. "S-1-5-21-100-200-300"
	SID string `mapstructure:"sid" validate:"required" yaml:"sid"`

	// UseTLS dials ldaps instead of ldap
	UseTLS bool `mapstructure:"use_tls" yaml:"use_tls"`
}

// TrustConfig describes a trust link to an external domain.
type TrustConfig struct {
	// Domain references a DomainConfig by Name
	Domain string `mapstructure:"domain" validate:"required" yaml:"domain"`

	// Direction is the trust direction as seen from the home forest.
	// Valid values: inbound, outbound, bidirectional
	Direction string `mapstructure:"direction" validate:"required,oneof=inbound outbound bidirectional" yaml:"direction"`
}

// LocalConfig declares machine-local accounts and groups. The portal
// host is not expected to carry a real SAM database; local principals
// are declared here instead.
type LocalConfig struct {
	Accounts []LocalAccountConfig `mapstructure:"accounts" validate:"dive" yaml:"accounts,omitempty"`
	Groups   []LocalGroupConfig   `mapstructure:"groups" validate:"dive" yaml:"groups,omitempty"`
}

// LocalAccountConfig declares one machine-local account.
type LocalAccountConfig struct {
	Name     string `mapstructure:"name" validate:"required" yaml:"name"`
	SID      string `mapstructure:"sid" validate:"required" yaml:"sid"`
	FullName string `mapstructure:"full_name" yaml:"full_name,omitempty"`

	// PasswordHash is a bcrypt hash for interactive portal logons. An
	// account without one still resolves but cannot log on.
	PasswordHash string `mapstructure:"password_hash" yaml:"password_hash,omitempty"`
}

// LocalGroupConfig declares one machine-local group and its member SIDs.
type LocalGroupConfig struct {
	Name    string   `mapstructure:"name" validate:"required" yaml:"name"`
	SID     string   `mapstructure:"sid" validate:"required" yaml:"sid"`
	Members []string `mapstructure:"members" yaml:"members,omitempty"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (RAPPORT_*)
//  2. Configuration file
//  3. Default values
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !configFileFound {
		cfg := GetDefaultConfig()
		if err := Validate(cfg); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages. It checks
// whether the config file exists and points at 'rapportd init' if not.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  rapportd init\n\n"+
				"Or specify a custom config file:\n"+
				"  rapportd <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Please create the configuration file:\n"+
				"  rapportd init --config %s",
				configPath, configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path in YAML.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// 0600: the file carries the ticket secret and bind password.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variables and config
// file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the RAPPORT_ prefix and underscores.
	// Example: RAPPORT_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("RAPPORT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/rapport/config.yaml
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists. Returns
// (fileFound, error); a missing file is not an error.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// configDecodeHooks returns the combined decode hook for custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
	)
}

// durationDecodeHook converts strings like "30s", "5m", "1h" to
// time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			// Raw integers are nanoseconds
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to
// the current directory if the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "rapport")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "rapport")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	path := GetDefaultConfigPath()
	_, err := os.Stat(path)
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for
// the init command).
func GetConfigDir() string {
	return getConfigDir()
}
