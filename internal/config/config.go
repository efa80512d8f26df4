// File: internal/config/config.go
package config

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Network() NetworkConfig
	Scoring() ScoringConfig
	Domain() DomainConfig
	Redirect() RedirectConfig
	ThreatFeed() ThreatFeedConfig
	Security() SecurityConfig
	Audit() AuditConfig
	Server() ServerConfig

	// Setters used by CLI flag overrides.
	SetThreatFeedEnabled(bool)
	SetAuditLogFile(string)
	SetServerListenAddr(string)
}

// Config holds the entire application configuration.
// Fields are exported so viper can populate them; callers should go through Interface.
type Config struct {
	LoggerCfg     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	NetworkCfg    NetworkConfig    `mapstructure:"network" yaml:"network"`
	ScoringCfg    ScoringConfig    `mapstructure:"scoring" yaml:"scoring"`
	DomainCfg     DomainConfig     `mapstructure:"domain" yaml:"domain"`
	RedirectCfg   RedirectConfig   `mapstructure:"redirect" yaml:"redirect"`
	ThreatFeedCfg ThreatFeedConfig `mapstructure:"threat_feed" yaml:"threat_feed"`
	SecurityCfg   SecurityConfig   `mapstructure:"security" yaml:"security"`
	AuditCfg      AuditConfig      `mapstructure:"audit" yaml:"audit"`
	ServerCfg     ServerConfig     `mapstructure:"server" yaml:"server"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig         { return c.LoggerCfg }
func (c *Config) Network() NetworkConfig       { return c.NetworkCfg }
func (c *Config) Scoring() ScoringConfig       { return c.ScoringCfg }
func (c *Config) Domain() DomainConfig         { return c.DomainCfg }
func (c *Config) Redirect() RedirectConfig     { return c.RedirectCfg }
func (c *Config) ThreatFeed() ThreatFeedConfig { return c.ThreatFeedCfg }
func (c *Config) Security() SecurityConfig     { return c.SecurityCfg }
func (c *Config) Audit() AuditConfig           { return c.AuditCfg }
func (c *Config) Server() ServerConfig         { return c.ServerCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetThreatFeedEnabled(b bool)  { c.ThreatFeedCfg.Enabled = b }
func (c *Config) SetAuditLogFile(path string)  { c.AuditCfg.LogFile = path }
func (c *Config) SetServerListenAddr(a string) { c.ServerCfg.ListenAddr = a }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// NetworkConfig tunes the shared outbound HTTP client.
type NetworkConfig struct {
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
	IgnoreTLSErrors bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	UserAgent       string        `mapstructure:"user_agent" yaml:"user_agent"`
}

// ScoringConfig configures the aggregator.
type ScoringConfig struct {
	// AnalyzerTimeout is an outer guard; each analyzer also owns a tighter timeout.
	AnalyzerTimeout time.Duration `mapstructure:"analyzer_timeout" yaml:"analyzer_timeout"`
}

// DomainConfig configures DNS, TLS and registration-age checks.
type DomainConfig struct {
	TLSProbeTimeout time.Duration `mapstructure:"tls_probe_timeout" yaml:"tls_probe_timeout"`
	AgeOracle       string        `mapstructure:"age_oracle" yaml:"age_oracle"`
	RDAPEndpoint    string        `mapstructure:"rdap_endpoint" yaml:"rdap_endpoint"`
	RDAPTimeout     time.Duration `mapstructure:"rdap_timeout" yaml:"rdap_timeout"`
}

// RedirectConfig configures the redirect chain follower.
type RedirectConfig struct {
	MaxHops int           `mapstructure:"max_hops" yaml:"max_hops"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// ThreatFeedConfig configures the optional reputation service lookup.
type ThreatFeedConfig struct {
	Enabled           bool          `mapstructure:"enabled" yaml:"enabled"`
	Endpoint          string        `mapstructure:"endpoint" yaml:"endpoint"`
	APIKey            string        `mapstructure:"api_key" yaml:"-"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// SecurityConfig groups admission control settings.
type SecurityConfig struct {
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
	Session   SessionConfig   `mapstructure:"session" yaml:"session"`
}

// RateLimitConfig bounds requests per caller over a sliding window.
type RateLimitConfig struct {
	MaxRequests int           `mapstructure:"max_requests" yaml:"max_requests"`
	Window      time.Duration `mapstructure:"window" yaml:"window"`
}

// SessionConfig bounds session lifetime.
type SessionConfig struct {
	IdleTimeout   time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
}

// Audit key modes.
const (
	KeyModeEphemeral = "ephemeral"
	KeyModeDerived   = "derived"
)

// Audit ciphers.
const (
	CipherAESGCM           = "aes-256-gcm"
	CipherChaCha20Poly1305 = "chacha20-poly1305"
)

// AuditConfig configures verdict audit logging.
type AuditConfig struct {
	Cipher      string `mapstructure:"cipher" yaml:"cipher"`
	KeyMode     string `mapstructure:"key_mode" yaml:"key_mode"`
	MasterKey   string `mapstructure:"master_key" yaml:"-"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	DatabaseURL string `mapstructure:"database_url" yaml:"database_url"`
}

// ServerConfig configures the REST adapter.
type ServerConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr" yaml:"listen_addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "phishscope")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Network --
	v.SetDefault("network.timeout", "30s")
	v.SetDefault("network.ignore_tls_errors", false)
	v.SetDefault("network.user_agent", "phishscope/1.0")

	// -- Scoring --
	v.SetDefault("scoring.analyzer_timeout", "10s")

	// -- Analyzers --
	v.SetDefault("domain.tls_probe_timeout", "3s")
	v.SetDefault("domain.age_oracle", "none")
	v.SetDefault("domain.rdap_endpoint", "https://rdap.org/domain/")
	v.SetDefault("domain.rdap_timeout", "5s")
	v.SetDefault("redirect.max_hops", 10)
	v.SetDefault("redirect.timeout", "5s")

	// -- Threat Feed --
	v.SetDefault("threat_feed.enabled", false)
	v.SetDefault("threat_feed.endpoint", "https://safebrowsing.googleapis.com/v4/threatMatches:find")
	v.SetDefault("threat_feed.requests_per_second", 5.0)
	v.SetDefault("threat_feed.timeout", "5s")

	// -- Security --
	v.SetDefault("security.rate_limit.max_requests", 100)
	v.SetDefault("security.rate_limit.window", "60s")
	v.SetDefault("security.session.idle_timeout", "1h")
	v.SetDefault("security.session.sweep_interval", "5m")

	// -- Audit --
	v.SetDefault("audit.cipher", CipherAESGCM)
	v.SetDefault("audit.key_mode", KeyModeEphemeral)
	v.SetDefault("audit.log_file", "audit.log")
	v.SetDefault("audit.max_size", 100)
	v.SetDefault("audit.max_backups", 10)
	v.SetDefault("audit.database_url", "")

	// -- Server --
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.shutdown_timeout", "15s")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Secrets are only ever read from the environment.
	_ = v.BindEnv("threat_feed.api_key", "PHISHSCOPE_THREAT_FEED_API_KEY")
	_ = v.BindEnv("audit.master_key", "PHISHSCOPE_AUDIT_MASTER_KEY")
	_ = v.BindEnv("audit.database_url", "PHISHSCOPE_AUDIT_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// expandPaths resolves "~" in file paths.
func (c *Config) expandPaths() error {
	var err error
	if c.LoggerCfg.LogFile, err = homedir.Expand(c.LoggerCfg.LogFile); err != nil {
		return fmt.Errorf("failed to expand logger.log_file: %w", err)
	}
	if c.AuditCfg.LogFile, err = homedir.Expand(c.AuditCfg.LogFile); err != nil {
		return fmt.Errorf("failed to expand audit.log_file: %w", err)
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.ScoringCfg.AnalyzerTimeout <= 0 {
		return fmt.Errorf("scoring.analyzer_timeout must be a positive duration")
	}
	if err := c.DomainCfg.Validate(); err != nil {
		return fmt.Errorf("domain configuration invalid: %w", err)
	}
	if c.RedirectCfg.MaxHops <= 0 {
		return fmt.Errorf("redirect.max_hops must be a positive integer")
	}
	if c.RedirectCfg.Timeout <= 0 {
		return fmt.Errorf("redirect.timeout must be a positive duration")
	}
	if err := c.ThreatFeedCfg.Validate(); err != nil {
		return fmt.Errorf("threat_feed configuration invalid: %w", err)
	}
	if err := c.SecurityCfg.Validate(); err != nil {
		return fmt.Errorf("security configuration invalid: %w", err)
	}
	if err := c.AuditCfg.Validate(); err != nil {
		return fmt.Errorf("audit configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the DomainConfig settings.
func (d *DomainConfig) Validate() error {
	if d.TLSProbeTimeout <= 0 {
		return fmt.Errorf("tls_probe_timeout must be a positive duration")
	}
	switch d.AgeOracle {
	case "none", "":
	case "rdap":
		if d.RDAPEndpoint == "" {
			return fmt.Errorf("rdap_endpoint is required when age_oracle is rdap")
		}
	default:
		return fmt.Errorf("unknown age_oracle %q", d.AgeOracle)
	}
	return nil
}

// Validate checks the ThreatFeedConfig settings.
func (t *ThreatFeedConfig) Validate() error {
	if !t.Enabled {
		return nil
	}
	if t.Endpoint == "" {
		return fmt.Errorf("endpoint is required when the threat feed is enabled")
	}
	if t.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests_per_second must be positive")
	}
	return nil
}

// Validate checks the SecurityConfig settings.
func (s *SecurityConfig) Validate() error {
	if s.RateLimit.MaxRequests <= 0 {
		return fmt.Errorf("rate_limit.max_requests must be a positive integer")
	}
	if s.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit.window must be a positive duration")
	}
	if s.Session.IdleTimeout <= 0 {
		return fmt.Errorf("session.idle_timeout must be a positive duration")
	}
	return nil
}

// Validate checks the AuditConfig settings.
func (a *AuditConfig) Validate() error {
	switch a.Cipher {
	case CipherAESGCM, CipherChaCha20Poly1305:
	default:
		return fmt.Errorf("unknown cipher %q", a.Cipher)
	}
	switch a.KeyMode {
	case KeyModeEphemeral:
	case KeyModeDerived:
		key, err := hex.DecodeString(a.MasterKey)
		if err != nil {
			return fmt.Errorf("master_key must be hex encoded: %w", err)
		}
		if len(key) < 32 {
			return fmt.Errorf("master_key must be at least 32 bytes. Ensure PHISHSCOPE_AUDIT_MASTER_KEY is set")
		}
	default:
		return fmt.Errorf("unknown key_mode %q", a.KeyMode)
	}
	return nil
}
