// Package config provides configuration loading for pdfcbz.
// Supports YAML files, .env files and PDFCBZ_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	MinQuality = 1
	MaxQuality = 100

	// DefaultDPI applies to command line conversions when dpi is 0.
	DefaultDPI = 300
	// DefaultInteractiveDPI applies to conversions started through the HTTP API.
	DefaultInteractiveDPI = 200

	DefaultQuality            = 90
	DefaultInteractiveQuality = 85
)

// Config holds all configuration for pdfcbz.
type Config struct {
	Conversion    ConversionConfig    `yaml:"conversion"`
	Archive       ArchiveConfig       `yaml:"archive"`
	Server        ServerConfig        `yaml:"server"`
	Cache         CacheConfig         `yaml:"cache"`
	Ledger        LedgerConfig        `yaml:"ledger"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ConversionConfig holds pipeline defaults.
type ConversionConfig struct {
	DPI                int  `yaml:"dpi"`
	InteractiveDPI     int  `yaml:"interactive_dpi"`
	Quality            int  `yaml:"quality"`
	InteractiveQuality int  `yaml:"interactive_quality"`
	Workers            int  `yaml:"workers"` // 0 = number of CPUs
	MaxPages           int  `yaml:"max_pages"`
	Lossless           bool `yaml:"lossless"`
}

// ArchiveConfig holds CBZ/CBR settings.
type ArchiveConfig struct {
	RarTool     string        `yaml:"rar_tool"`
	RarToolArgs []string      `yaml:"rar_tool_args"`
	TempDir     string        `yaml:"temp_dir"`
	ToolTimeout time.Duration `yaml:"tool_timeout"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
	MaxUploadMB      int64         `yaml:"max_upload_mb"`
}

// CacheConfig holds conversion result cache settings.
type CacheConfig struct {
	Driver     string        `yaml:"driver"` // none, memory or redis
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
	Redis      RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// LedgerConfig holds conversion history storage settings.
type LedgerConfig struct {
	Driver string `yaml:"driver"` // none, sqlite or postgres
	DSN    string `yaml:"dsn"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	LogOutput string `yaml:"log_output"`
}

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment. Missing files are ignored; existing variables win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// DefaultConfig returns a configuration with defaults for local use.
func DefaultConfig() *Config {
	return &Config{
		Conversion: ConversionConfig{
			DPI:                DefaultDPI,
			InteractiveDPI:     DefaultInteractiveDPI,
			Quality:            DefaultQuality,
			InteractiveQuality: DefaultInteractiveQuality,
		},
		Archive: ArchiveConfig{
			RarTool:     "unar",
			RarToolArgs: []string{"-o"},
			ToolTimeout: 5 * time.Minute,
		},
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8080,
			ReadTimeout:      2 * time.Minute,
			WriteTimeout:     10 * time.Minute,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 30 * time.Second,
			MaxUploadMB:      512,
		},
		Cache: CacheConfig{
			Driver:     "none",
			TTL:        time.Hour,
			MaxEntries: 32,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				PoolSize: 10,
			},
		},
		Ledger: LedgerConfig{
			Driver: "none",
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "console",
			LogOutput: "stderr",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Conversion.DPI < 0 || c.Conversion.InteractiveDPI < 0 {
		return fmt.Errorf("dpi must not be negative")
	}
	if err := ValidateQuality(c.Conversion.Quality); err != nil {
		return err
	}
	if err := ValidateQuality(c.Conversion.InteractiveQuality); err != nil {
		return fmt.Errorf("interactive_%w", err)
	}
	if c.Conversion.Workers < 0 {
		return fmt.Errorf("workers must not be negative")
	}
	if c.Conversion.MaxPages < 0 {
		return fmt.Errorf("max_pages must not be negative")
	}

	if c.Archive.RarTool == "" {
		return fmt.Errorf("rar_tool must be set")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Cache.Driver {
	case "none", "memory", "redis":
	default:
		return fmt.Errorf("invalid cache driver: %s", c.Cache.Driver)
	}

	switch c.Ledger.Driver {
	case "none":
	case "sqlite", "postgres":
		if c.Ledger.DSN == "" {
			return fmt.Errorf("ledger dsn must be set for driver %s", c.Ledger.Driver)
		}
	default:
		return fmt.Errorf("invalid ledger driver: %s", c.Ledger.Driver)
	}

	return nil
}

// ValidateQuality checks a JPEG quality value.
func ValidateQuality(q int) error {
	if q < MinQuality || q > MaxQuality {
		return fmt.Errorf("quality must be %d-%d, got %d", MinQuality, MaxQuality, q)
	}
	return nil
}

// EffectiveWorkers returns the phase-two worker pool size.
func (c ConversionConfig) EffectiveWorkers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.NumCPU()
}

// Addr returns the listen address of the HTTP server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// applyEnvOverrides applies PDFCBZ_* environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	setInt("PDFCBZ_DPI", &cfg.Conversion.DPI)
	setInt("PDFCBZ_INTERACTIVE_DPI", &cfg.Conversion.InteractiveDPI)
	setInt("PDFCBZ_QUALITY", &cfg.Conversion.Quality)
	setInt("PDFCBZ_INTERACTIVE_QUALITY", &cfg.Conversion.InteractiveQuality)
	setInt("PDFCBZ_WORKERS", &cfg.Conversion.Workers)
	setInt("PDFCBZ_MAX_PAGES", &cfg.Conversion.MaxPages)
	setInt("PDFCBZ_PORT", &cfg.Server.Port)

	if v := os.Getenv("PDFCBZ_LOSSLESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Conversion.Lossless = b
		}
	}

	if v := os.Getenv("PDFCBZ_HOST"); v != "" {
		cfg.Server.Host = v
	}

	if v := os.Getenv("PDFCBZ_RAR_TOOL"); v != "" {
		cfg.Archive.RarTool = v
	}

	if v := os.Getenv("PDFCBZ_TEMP_DIR"); v != "" {
		cfg.Archive.TempDir = v
	}

	if v := os.Getenv("PDFCBZ_REDIS_URL"); v != "" {
		cfg.Cache.Driver = "redis"
		cfg.Cache.Redis.Addr = strings.TrimPrefix(v, "redis://")
	}

	if v := os.Getenv("PDFCBZ_LEDGER_URL"); v != "" {
		if strings.HasPrefix(v, "sqlite:") {
			cfg.Ledger.Driver = "sqlite"
			cfg.Ledger.DSN = strings.TrimPrefix(v, "sqlite:")
		} else if strings.HasPrefix(v, "postgres") {
			cfg.Ledger.Driver = "postgres"
			cfg.Ledger.DSN = v
		}
	}

	if v := os.Getenv("PDFCBZ_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("PDFCBZ_LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}

// ResolveRelativePath resolves a path relative to the config file location.
func ResolveRelativePath(configPath, targetPath string) string {
	if filepath.IsAbs(targetPath) {
		return targetPath
	}
	return filepath.Join(filepath.Dir(configPath), targetPath)
}
