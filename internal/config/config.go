// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Pool     PoolConfig     `mapstructure:"pool" yaml:"pool"`
	Figma    FigmaConfig    `mapstructure:"figma" yaml:"figma"`
	Web      WebConfig      `mapstructure:"web" yaml:"web"`
	Pipeline PipelineConfig `mapstructure:"pipeline" yaml:"pipeline"`
	Compare  CompareConfig  `mapstructure:"compare" yaml:"compare"`
	Report   ReportConfig   `mapstructure:"report" yaml:"report"`
	History  HistoryConfig  `mapstructure:"history" yaml:"history"`
}

// LoggerConfig controls the zap logger and optional rotated file sink.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig maps log levels to terminal colors for the console encoder.
type ColorConfig struct {
	Debug string `mapstructure:"debug" yaml:"debug"`
	Info  string `mapstructure:"info" yaml:"info"`
	Warn  string `mapstructure:"warn" yaml:"warn"`
	Error string `mapstructure:"error" yaml:"error"`
	Fatal string `mapstructure:"fatal" yaml:"fatal"`
}

// ExhaustionPolicy selects pool behavior once the browser cap is reached.
type ExhaustionPolicy string

const (
	// ExhaustReuse hands back any connected browser, trading isolation for
	// availability. This is the default.
	ExhaustReuse ExhaustionPolicy = "reuse"
	// ExhaustQueue waits for a slot until the caller's context expires.
	ExhaustQueue ExhaustionPolicy = "queue"
	// ExhaustReject fails acquisition immediately.
	ExhaustReject ExhaustionPolicy = "reject"
)

// PoolConfig bounds the browser pool.
type PoolConfig struct {
	MaxBrowsers        int              `mapstructure:"max_browsers" yaml:"max_browsers"`
	MaxPagesPerBrowser int              `mapstructure:"max_pages_per_browser" yaml:"max_pages_per_browser"`
	MaxIdleTime        time.Duration    `mapstructure:"max_idle_time" yaml:"max_idle_time"`
	SweepInterval      time.Duration    `mapstructure:"sweep_interval" yaml:"sweep_interval"`
	OnExhausted        ExhaustionPolicy `mapstructure:"on_exhausted" yaml:"on_exhausted"`
	Headless           bool             `mapstructure:"headless" yaml:"headless"`
	LaunchArgs         []string         `mapstructure:"launch_args" yaml:"launch_args"`
}

// FigmaConfig configures the design-source REST client.
type FigmaConfig struct {
	Token     string        `mapstructure:"token" yaml:"token"`
	BaseURL   string        `mapstructure:"base_url" yaml:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit" yaml:"rate_limit"`
	RateBurst int           `mapstructure:"rate_burst" yaml:"rate_burst"`
}

// WebConfig configures the live-page extraction stage.
type WebConfig struct {
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
	ViewportWidth  int           `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight int           `mapstructure:"viewport_height" yaml:"viewport_height"`
	UserAgent      string        `mapstructure:"user_agent" yaml:"user_agent"`
}

// PipelineConfig bounds the post-extraction stages.
type PipelineConfig struct {
	StageTimeout time.Duration `mapstructure:"stage_timeout" yaml:"stage_timeout"`
}

// CompareConfig holds the comparison tolerances.
type CompareConfig struct {
	PositionTolerancePx float64 `mapstructure:"position_tolerance_px" yaml:"position_tolerance_px"`
	ColorTolerance      float64 `mapstructure:"color_tolerance" yaml:"color_tolerance"`
}

// ReportConfig controls report artifact generation.
type ReportConfig struct {
	Format            string `mapstructure:"format" yaml:"format"`
	OutDir            string `mapstructure:"out_dir" yaml:"out_dir"`
	ChunkSize         int    `mapstructure:"chunk_size" yaml:"chunk_size"`
	MaxDepth          int    `mapstructure:"max_depth" yaml:"max_depth"`
	CompressThreshold int64  `mapstructure:"compress_threshold" yaml:"compress_threshold"`
}

// HistoryConfig enables optional run-history persistence. An empty DSN
// disables the store entirely.
type HistoryConfig struct {
	DSN string `mapstructure:"dsn" yaml:"dsn"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "parity")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Pool --
	v.SetDefault("pool.max_browsers", 3)
	v.SetDefault("pool.max_pages_per_browser", 5)
	v.SetDefault("pool.max_idle_time", "5m")
	v.SetDefault("pool.sweep_interval", "1m")
	v.SetDefault("pool.on_exhausted", "reuse")
	v.SetDefault("pool.headless", true)
	v.SetDefault("pool.launch_args", []string{})

	// -- Figma --
	v.SetDefault("figma.base_url", "https://api.figma.com")
	v.SetDefault("figma.timeout", "60s")
	v.SetDefault("figma.rate_limit", 2.0)
	v.SetDefault("figma.rate_burst", 4)

	// -- Web --
	v.SetDefault("web.timeout", "30s")
	v.SetDefault("web.viewport_width", 1440)
	v.SetDefault("web.viewport_height", 900)
	v.SetDefault("web.user_agent", "")

	// -- Pipeline --
	v.SetDefault("pipeline.stage_timeout", "10s")

	// -- Compare --
	v.SetDefault("compare.position_tolerance_px", 2.0)
	v.SetDefault("compare.color_tolerance", 0.0)

	// -- Report --
	v.SetDefault("report.format", "json")
	v.SetDefault("report.out_dir", "./reports")
	v.SetDefault("report.chunk_size", 65536)
	v.SetDefault("report.max_depth", 50)
	v.SetDefault("report.compress_threshold", 1<<20)

	// -- History --
	v.SetDefault("history.dsn", "")
}

// NewDefaultConfig returns a configuration populated with defaults only.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := NewConfigFromViper(v)
	if err != nil {
		// Cannot happen with defaults alone.
		panic(fmt.Sprintf("failed to build default config: %v", err))
	}
	return cfg
}

// NewConfigFromViper unmarshals and validates a configuration from a
// prepared viper instance.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	v.BindEnv("figma.token", "PARITY_FIGMA_TOKEN")
	v.BindEnv("history.dsn", "PARITY_HISTORY_DSN")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load reads the config file (explicit path or discovered in CWD / home
// directory), merges PARITY_* environment variables, and returns the result.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(home)
		}
		v.SetConfigName("parity")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("PARITY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file; defaults plus env vars apply.
	}

	return NewConfigFromViper(v)
}

// Validate rejects configurations the pool and pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Pool.MaxBrowsers < 1 {
		return fmt.Errorf("pool.max_browsers must be at least 1, got %d", c.Pool.MaxBrowsers)
	}
	if c.Pool.MaxPagesPerBrowser < 1 {
		return fmt.Errorf("pool.max_pages_per_browser must be at least 1, got %d", c.Pool.MaxPagesPerBrowser)
	}
	switch c.Pool.OnExhausted {
	case ExhaustReuse, ExhaustQueue, ExhaustReject:
	default:
		return fmt.Errorf("pool.on_exhausted must be one of reuse, queue, reject; got %q", c.Pool.OnExhausted)
	}
	if c.Report.ChunkSize < 1 {
		return fmt.Errorf("report.chunk_size must be positive, got %d", c.Report.ChunkSize)
	}
	switch c.Report.Format {
	case "json", "html", "xml":
	default:
		return fmt.Errorf("report.format must be one of json, html, xml; got %q", c.Report.Format)
	}
	return nil
}
