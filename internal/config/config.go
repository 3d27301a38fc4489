// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Completion strategies for script-less renders.
const (
	CompletionExplicitLifecycle = "explicit-lifecycle"
	CompletionIdleNetwork       = "idle-network"
)

// Interface is the read-only view of the configuration the commands consume.
type Interface interface {
	Logger() LoggerConfig
	Server() ServerConfig
	Browser() BrowserConfig
	Render() RenderConfig
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	ServerCfg  ServerConfig  `mapstructure:"server" yaml:"server"`
	BrowserCfg BrowserConfig `mapstructure:"browser" yaml:"browser"`
	RenderCfg  RenderConfig  `mapstructure:"render" yaml:"render"`
}

var _ Interface = (*Config)(nil)

// --- Interface Method Implementations ---

func (c *Config) Logger() LoggerConfig   { return c.LoggerCfg }
func (c *Config) Server() ServerConfig   { return c.ServerCfg }
func (c *Config) Browser() BrowserConfig { return c.BrowserCfg }
func (c *Config) Render() RenderConfig   { return c.RenderCfg }

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

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
	// SelfURL is the base URL the service uses to reach itself, for the
	// blank page and the health check. Derived from Port when empty.
	SelfURL         string        `mapstructure:"self_url" yaml:"self_url"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	// RateLimit is the number of /render requests admitted per second.
	// Zero disables limiting.
	RateLimit      float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
	RateBurst      int     `mapstructure:"rate_burst" yaml:"rate_burst"`
	MetricsEnabled bool    `mapstructure:"metrics_enabled" yaml:"metrics_enabled"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// BaseURL returns the URL under which the service can reach its own endpoints.
func (s ServerConfig) BaseURL() string {
	if s.SelfURL != "" {
		return s.SelfURL
	}
	return fmt.Sprintf("http://localhost:%d", s.Port)
}

// BrowserConfig holds settings for the shared headless browser process.
type BrowserConfig struct {
	Headless bool `mapstructure:"headless" yaml:"headless"`
	// ExecPath overrides the Chrome executable. Empty lets chromedp find one.
	ExecPath        string         `mapstructure:"exec_path" yaml:"exec_path"`
	Args            []string       `mapstructure:"args" yaml:"args"`
	IgnoreTLSErrors bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	DisableCache    bool           `mapstructure:"disable_cache" yaml:"disable_cache"`
	LaunchTimeout   time.Duration  `mapstructure:"launch_timeout" yaml:"launch_timeout"`
	Viewport        map[string]int `mapstructure:"viewport" yaml:"viewport"`
	// Persona overrides the identity every page presents.
	Persona PersonaConfig `mapstructure:"persona" yaml:"persona"`
}

// PersonaConfig holds browser identity overrides. Empty fields keep the
// browser's own values; languages or platform without a user agent keep
// Chrome's user agent and override only those.
type PersonaConfig struct {
	UserAgent string   `mapstructure:"user_agent" yaml:"user_agent"`
	Platform  string   `mapstructure:"platform" yaml:"platform"`
	Languages []string `mapstructure:"languages" yaml:"languages"`
	Timezone  string   `mapstructure:"timezone" yaml:"timezone"`
	Locale    string   `mapstructure:"locale" yaml:"locale"`
}

// RenderConfig tunes the render session engine.
type RenderConfig struct {
	DefaultTimeout time.Duration `mapstructure:"default_timeout" yaml:"default_timeout"`
	// Completion selects how a render without a script decides it is done.
	Completion      string        `mapstructure:"completion" yaml:"completion"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	NavRetryBackoff time.Duration `mapstructure:"nav_retry_backoff" yaml:"nav_retry_backoff"`
	PDFTimeout      time.Duration `mapstructure:"pdf_timeout" yaml:"pdf_timeout"`
	// MaxConcurrentSessions caps open browsing contexts. Zero means unbounded.
	MaxConcurrentSessions int  `mapstructure:"max_concurrent_sessions" yaml:"max_concurrent_sessions"`
	CaptureResponseBodies bool `mapstructure:"capture_response_bodies" yaml:"capture_response_bodies"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
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
	v.SetDefault("logger.service_name", "webrender")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Server --
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 80)
	v.SetDefault("server.self_url", "")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.rate_limit", 0.0)
	v.SetDefault("server.rate_burst", 10)
	v.SetDefault("server.metrics_enabled", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.args", []string{})
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.disable_cache", false)
	v.SetDefault("browser.launch_timeout", "30s")
	v.SetDefault("browser.viewport", map[string]int{"width": 1280, "height": 720})
	v.SetDefault("browser.persona.user_agent", "")
	v.SetDefault("browser.persona.platform", "")
	v.SetDefault("browser.persona.languages", []string{})
	v.SetDefault("browser.persona.timezone", "")
	v.SetDefault("browser.persona.locale", "")

	// -- Render --
	v.SetDefault("render.default_timeout", "25s")
	v.SetDefault("render.completion", CompletionExplicitLifecycle)
	v.SetDefault("render.idle_timeout", "1s")
	v.SetDefault("render.nav_retry_backoff", "20ms")
	v.SetDefault("render.pdf_timeout", "30s")
	v.SetDefault("render.max_concurrent_sessions", 16)
	v.SetDefault("render.capture_response_bodies", false)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Environment names the service has always honored.
	_ = v.BindEnv("server.port", "WEBRENDER_SERVER_PORT", "PORT_WEBRENDER")
	_ = v.BindEnv("browser.exec_path", "WEBRENDER_BROWSER_EXEC_PATH", "CHROME_BIN")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.ServerCfg.Port <= 0 || c.ServerCfg.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.ServerCfg.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit must not be negative")
	}
	if c.BrowserCfg.LaunchTimeout <= 0 {
		return fmt.Errorf("browser.launch_timeout must be a positive duration")
	}
	if err := c.RenderCfg.Validate(); err != nil {
		return fmt.Errorf("render configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the render engine settings.
func (r *RenderConfig) Validate() error {
	if r.DefaultTimeout <= 0 {
		return fmt.Errorf("default_timeout must be a positive duration")
	}
	switch r.Completion {
	case CompletionExplicitLifecycle, CompletionIdleNetwork:
	default:
		return fmt.Errorf("completion must be %q or %q, got %q",
			CompletionExplicitLifecycle, CompletionIdleNetwork, r.Completion)
	}
	if r.Completion == CompletionIdleNetwork && r.IdleTimeout <= 0 {
		return fmt.Errorf("idle_timeout must be a positive duration")
	}
	if r.NavRetryBackoff <= 0 {
		return fmt.Errorf("nav_retry_backoff must be a positive duration")
	}
	if r.MaxConcurrentSessions < 0 {
		return fmt.Errorf("max_concurrent_sessions must not be negative")
	}
	return nil
}
