package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	// Global settings
	Format  string `mapstructure:"format"`
	Verbose bool   `mapstructure:"verbose"`

	Capture  CaptureConfig  `mapstructure:"capture"`
	Timeline TimelineConfig `mapstructure:"timeline"`
}

// CaptureConfig tunes the write path
type CaptureConfig struct {
	Root                  string `mapstructure:"root"`
	Project               string `mapstructure:"project"`
	MaxProjectBytes       int64  `mapstructure:"max_project_bytes"`
	CaptureUserMessages   bool   `mapstructure:"capture_user_messages"`
	UserMessagePreviewMax int    `mapstructure:"user_message_preview_max"`
}

// TimelineConfig tunes the read path
type TimelineConfig struct {
	PollInterval     string `mapstructure:"poll_interval"`
	SessionLimit     int    `mapstructure:"session_limit"`
	StaleThresholdMs int64  `mapstructure:"stale_threshold_ms"`
}

// Default returns a Config with default values
func Default() *Config {
	root := ".flextrace"
	if home, err := os.UserHomeDir(); err == nil {
		root = filepath.Join(home, ".flextrace")
	}
	project := "default"
	if wd, err := os.Getwd(); err == nil {
		project = filepath.Base(wd)
	}
	return &Config{
		Format:  "json",
		Verbose: false,
		Capture: CaptureConfig{
			Root:                  root,
			Project:               project,
			MaxProjectBytes:       1 << 30,
			CaptureUserMessages:   false,
			UserMessagePreviewMax: 280,
		},
		Timeline: TimelineConfig{
			PollInterval:     "2s",
			SessionLimit:     20,
			StaleThresholdMs: 15000,
		},
	}
}

// Load loads configuration from files and environment
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("flextrace")
	v.SetConfigType("yaml")

	// Config paths in order of precedence, lowest first
	v.AddConfigPath("/etc/flextrace/")
	if configDir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(configDir, "flextrace"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home)
		v.SetConfigName(".flextrace")
	}
	v.AddConfigPath(".")

	// Also check for .flextracerc file
	v.SetConfigName(".flextracerc")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home)
	}

	// Environment variables
	v.SetEnvPrefix("FLEXTRACE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.BindEnv("format", "FLEXTRACE_FORMAT")
	v.BindEnv("verbose", "FLEXTRACE_VERBOSE")
	v.BindEnv("capture.root", "FLEXTRACE_ROOT")
	v.BindEnv("capture.project", "FLEXTRACE_PROJECT_ID")
	v.BindEnv("capture.max_project_bytes", "FLEXTRACE_MAX_PROJECT_BYTES")

	cfg := Default()
	v.SetDefault("format", cfg.Format)
	v.SetDefault("verbose", cfg.Verbose)
	v.SetDefault("capture.root", cfg.Capture.Root)
	v.SetDefault("capture.project", cfg.Capture.Project)
	v.SetDefault("capture.max_project_bytes", cfg.Capture.MaxProjectBytes)
	v.SetDefault("capture.user_message_preview_max", cfg.Capture.UserMessagePreviewMax)
	v.SetDefault("timeline.poll_interval", cfg.Timeline.PollInterval)
	v.SetDefault("timeline.session_limit", cfg.Timeline.SessionLimit)
	v.SetDefault("timeline.stale_threshold_ms", cfg.Timeline.StaleThresholdMs)

	// Try to read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific file
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
