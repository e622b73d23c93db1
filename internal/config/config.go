package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"sitemirror/internal/errors"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Renderer names accepted by the renderer setting
const (
	RendererHTTP   = "http"
	RendererChrome = "chrome"
)

// DefaultExtensions are the link suffixes classified as downloadable files
var DefaultExtensions = []string{
	"pdf", "doc", "docx", "xls", "xlsx", "zip", "txt", "jpg", "png", "csv",
	"mp4", "mov", "avi", "wmv", "wav", "mp3", "m4a",
}

// Config represents the application configuration
type Config struct {
	Seeds          []string `mapstructure:"seeds"`
	AllowedDomains []string `mapstructure:"allowed_domains"`
	Output         string   `mapstructure:"output"`
	Timestamped    bool     `mapstructure:"timestamped"`
	TreeFile       string   `mapstructure:"tree_file"`

	Workers           int           `mapstructure:"workers"`
	Timeout           int           `mapstructure:"timeout"`
	ValidateTimeout   int           `mapstructure:"validate_timeout"`
	Retries           int           `mapstructure:"retries"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	UserAgent         string        `mapstructure:"user_agent"`
	Extensions        []string      `mapstructure:"extensions"`
	SkipPatterns      []string      `mapstructure:"skip_patterns"`
	Renderer          string        `mapstructure:"renderer"`
	RespectRobots     bool          `mapstructure:"respect_robots"`

	// Cloud folder source
	FolderEndpoint string   `mapstructure:"folder_endpoint"`
	Folders        []string `mapstructure:"folders"`

	// Logging configuration
	LogLevel      string `mapstructure:"log_level"`
	LogOutput     string `mapstructure:"log_output"`
	LogFilePath   string `mapstructure:"log_file_path"`
	LogStructured bool   `mapstructure:"log_structured"`
	LogNoColor    bool   `mapstructure:"log_no_color"`

	// Telemetry configuration
	TelemetryEnabled      bool   `mapstructure:"telemetry_enabled"`
	TelemetryCollectorURL string `mapstructure:"telemetry_collector_url"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Output:            "mirror",
		Timestamped:       false,
		TreeFile:          "file_tree.json",
		Workers:           6,
		Timeout:           30,
		ValidateTimeout:   10,
		Retries:           2,
		RetryDelay:        time.Second,
		RequestsPerSecond: 0,
		UserAgent:         "Mozilla/5.0 (compatible; sitemirror/1.0)",
		Extensions:        append([]string(nil), DefaultExtensions...),
		SkipPatterns:      []string{"/search"},
		Renderer:          RendererHTTP,
		RespectRobots:     false,
		LogLevel:          "INFO",
		LogOutput:         "console",
		LogFilePath:       "sitemirror.log",
		LogStructured:     false,
	}
}

func setDefaults(v *viper.Viper) {
	config := DefaultConfig()
	v.SetDefault("output", config.Output)
	v.SetDefault("timestamped", config.Timestamped)
	v.SetDefault("tree_file", config.TreeFile)
	v.SetDefault("workers", config.Workers)
	v.SetDefault("timeout", config.Timeout)
	v.SetDefault("validate_timeout", config.ValidateTimeout)
	v.SetDefault("retries", config.Retries)
	v.SetDefault("retry_delay", config.RetryDelay)
	v.SetDefault("requests_per_second", config.RequestsPerSecond)
	v.SetDefault("user_agent", config.UserAgent)
	v.SetDefault("extensions", config.Extensions)
	v.SetDefault("skip_patterns", config.SkipPatterns)
	v.SetDefault("renderer", config.Renderer)
	v.SetDefault("respect_robots", config.RespectRobots)
	v.SetDefault("log_level", config.LogLevel)
	v.SetDefault("log_output", config.LogOutput)
	v.SetDefault("log_file_path", config.LogFilePath)
	v.SetDefault("log_structured", config.LogStructured)
	v.SetDefault("log_no_color", config.LogNoColor)
	v.SetDefault("telemetry_enabled", config.TelemetryEnabled)
	v.SetDefault("telemetry_collector_url", config.TelemetryCollectorURL)
}

// LoadConfigWithViper loads configuration using the provided viper instance.
// Precedence: flags bound to v, SITEMIRROR_* environment, config file, defaults.
// A missing config file is not an error.
func LoadConfigWithViper(v *viper.Viper, configFile string) (*Config, error) {
	setDefaults(v)

	v.SetEnvPrefix("SITEMIRROR") // Will look for SITEMIRROR_WORKERS, etc.
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("config")
		v.AddConfigPath(".") // Also look in the current directory
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || configFile != "" {
			return nil, errors.Wrap(err, errors.ConfigurationError, "error reading config file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, errors.ConfigurationError, "failed to unmarshal config")
	}

	cfg.normalize()
	return &cfg, nil
}

// normalize trims list entries and lowercases extensions
func (c *Config) normalize() {
	c.Seeds = compact(c.Seeds)
	c.AllowedDomains = compact(c.AllowedDomains)
	c.Folders = compact(c.Folders)
	c.SkipPatterns = compact(c.SkipPatterns)

	exts := compact(c.Extensions)
	for i, ext := range exts {
		exts[i] = strings.ToLower(strings.TrimPrefix(ext, "."))
	}
	c.Extensions = exts
}

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate reports setup defects. These are the only errors that end a run.
func (c *Config) Validate() error {
	if len(c.Seeds) == 0 && len(c.Folders) == 0 {
		return errors.New(errors.ValidationError, "at least one seed url or folder is required")
	}
	if len(c.Seeds) > 0 && len(c.AllowedDomains) == 0 {
		return errors.New(errors.ValidationError, "allowed domains are required when seeds are given")
	}
	if c.Output == "" {
		return errors.New(errors.ValidationError, "output folder is required")
	}
	if c.Workers < 1 {
		return errors.New(errors.ConfigurationError, "workers must be at least 1").WithContext("workers", c.Workers)
	}
	if c.Timeout < 1 || c.ValidateTimeout < 1 {
		return errors.New(errors.ConfigurationError, "timeouts must be at least one second")
	}
	if c.Retries < 0 {
		return errors.New(errors.ConfigurationError, "retries must not be negative")
	}
	if c.RequestsPerSecond < 0 {
		return errors.New(errors.ConfigurationError, "requests_per_second must not be negative")
	}
	if len(c.Extensions) == 0 {
		return errors.New(errors.ConfigurationError, "at least one file extension is required")
	}
	if c.Renderer != RendererHTTP && c.Renderer != RendererChrome {
		return errors.New(errors.ConfigurationError, "unknown renderer: "+c.Renderer)
	}
	if len(c.Folders) > 0 && c.FolderEndpoint == "" {
		return errors.New(errors.ConfigurationError, "folder_endpoint is required when folders are given")
	}
	if c.TelemetryEnabled && c.TelemetryCollectorURL == "" {
		return errors.New(errors.ConfigurationError, "telemetry_collector_url is required when telemetry is enabled")
	}
	if strings.ContainsAny(c.TreeFile, `/\`) || c.TreeFile == "" {
		return errors.New(errors.ConfigurationError, "tree_file must be a plain file name")
	}
	return nil
}

// RequestTimeout returns the page and file request timeout
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// ValidationTimeout returns the timeout for the pre-download existence check
func (c *Config) ValidationTimeout() time.Duration {
	return time.Duration(c.ValidateTimeout) * time.Second
}

// WriteDefaultConfigFile writes the defaults as yaml to path if nothing is there yet
func WriteDefaultConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil // File already exists, no need to create
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.Set("seeds", []string{})
	v.Set("allowed_domains", []string{})

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// BindFlags binds Cobra flags to Viper configuration
func BindFlags(v *viper.Viper, cmd *cobra.Command, flagMappings map[string]string) error {
	for flagName, configKey := range flagMappings {
		flag := cmd.Flags().Lookup(flagName)
		if flag == nil {
			return fmt.Errorf("flag %s not found", flagName)
		}
		if err := v.BindPFlag(configKey, flag); err != nil {
			return fmt.Errorf("failed to bind flag %s to config key %s: %w", flagName, configKey, err)
		}
	}
	return nil
}
