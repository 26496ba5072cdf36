// Package config handles YAML configuration loading, environment variable
// expansion, defaults and structural validation for toolgate.
package config

import (
	"time"

	"github.com/flemzord/toolgate/internal/sandbox"
	"github.com/flemzord/toolgate/internal/security"
	"github.com/flemzord/toolgate/internal/tool"
	"github.com/flemzord/toolgate/internal/tool/exttools"
	"gopkg.in/yaml.v3"
)

// Supported locales for approval prompts.
const (
	LocaleEnglish = "en"
	LocaleChinese = "zh"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultAutosave     = "*/5 * * * *"
	DefaultPrune        = "*/10 * * * *"
	DefaultCookieMaxAge = 24 * time.Hour
	DefaultMaxArgsBytes = security.DefaultMaxArgsBytes
	DefaultMaxArgsDepth = security.DefaultMaxArgsDepth
	DefaultServiceName  = "toolgate"
)

// Config is the top-level configuration structure.
type Config struct {
	// Version is the config format version. Currently only "1" is supported.
	Version string `yaml:"version"`

	// Locale selects the approval prompt language ("en" or "zh").
	Locale string `yaml:"locale,omitempty"`

	// DataDir holds persistent state. Empty means the platform default.
	DataDir string `yaml:"data_dir,omitempty"`

	// AllowedRoots are the directories every file tool is confined to.
	AllowedRoots []sandbox.RootConfig `yaml:"allowed_roots"`

	Tools     ToolsConfig     `yaml:"tools"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Security  SecurityConfig  `yaml:"security"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Modules maps module IDs to their raw YAML configuration.
	// Keys must match registered module IDs (e.g. "gateway.http").
	Modules map[string]yaml.Node `yaml:"modules"`
}

// ToolsConfig configures tool approval and the external command tools.
type ToolsConfig struct {
	Policy tool.Policy `yaml:"policy"`

	// External lists administrator-defined commands exposed as tools.
	External []exttools.Config `yaml:"external,omitempty"`
}

// SessionsConfig configures the session store and its background jobs.
type SessionsConfig struct {
	// MaxSessions caps live sessions. Zero uses the rate limiter's cap.
	MaxSessions int `yaml:"max_sessions,omitempty"`

	// CookieMaxAge is the idle lifetime of a session key.
	CookieMaxAge time.Duration `yaml:"cookie_max_age,omitempty"`

	// Autosave is the cron schedule flushing sessions to the persister.
	Autosave string `yaml:"autosave,omitempty"`

	// Prune is the cron schedule evicting expired sessions.
	Prune string `yaml:"prune,omitempty"`
}

// SecurityConfig holds input limits, rate limits and the audit sink.
type SecurityConfig struct {
	RateLimits security.RateLimitConfig `yaml:"rate_limits"`

	// AuditLog is a JSONL file path. Empty disables the audit file.
	AuditLog string `yaml:"audit_log,omitempty"`

	MaxArgsBytes int `yaml:"max_args_bytes,omitempty"`
	MaxArgsDepth int `yaml:"max_args_depth,omitempty"`
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	// Endpoint is the OTLP/HTTP collector host:port. Empty disables export.
	Endpoint    string            `yaml:"endpoint,omitempty"`
	ServiceName string            `yaml:"service_name,omitempty"`
	Insecure    bool              `yaml:"insecure,omitempty"`
	Headers     map[string]string `yaml:"headers,omitempty"`
}

// English reports whether approval prompts use the English locale.
func (c *Config) English() bool {
	return c.Locale != LocaleChinese
}

// ApplyDefaults fills zero-valued optional fields.
func (c *Config) ApplyDefaults() {
	if c.Locale == "" {
		c.Locale = LocaleEnglish
	}
	if c.Sessions.CookieMaxAge == 0 {
		c.Sessions.CookieMaxAge = DefaultCookieMaxAge
	}
	if c.Sessions.Autosave == "" {
		c.Sessions.Autosave = DefaultAutosave
	}
	if c.Sessions.Prune == "" {
		c.Sessions.Prune = DefaultPrune
	}
	if c.Security.MaxArgsBytes == 0 {
		c.Security.MaxArgsBytes = DefaultMaxArgsBytes
	}
	if c.Security.MaxArgsDepth == 0 {
		c.Security.MaxArgsDepth = DefaultMaxArgsDepth
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = DefaultServiceName
	}
}
