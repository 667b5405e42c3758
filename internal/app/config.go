package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	ScriptPaths []string // hcl files or directories

	LogFormat       string
	LogLevel        string
	LogFile         string // optional; receives JSON logs in addition to the console
	HealthcheckPort int
}

func NewConfig(cfg Config) (*Config, error) {
	if len(cfg.ScriptPaths) == 0 {
		return nil, errors.New("ScriptPaths is a required configuration field and cannot be empty")
	}
	switch cfg.LogFormat {
	case "text", "json":
	default:
		return nil, fmt.Errorf("invalid log format %q: must be 'text' or 'json'", cfg.LogFormat)
	}
	if cfg.HealthcheckPort < 0 {
		return nil, fmt.Errorf("invalid healthcheck port %d", cfg.HealthcheckPort)
	}
	return &cfg, nil
}

// Settings are the defaults the CLI starts from. They come from an optional
// config file and STARBUNDLE_* environment variables.
type Settings struct {
	LogFormat       string `mapstructure:"log_format"`
	LogLevel        string `mapstructure:"log_level"`
	LogFile         string `mapstructure:"log_file"`
	HealthcheckPort int    `mapstructure:"healthcheck_port"`
}

// LoadSettings reads settings. The config file is STARBUNDLE_CONFIG when
// set, otherwise ~/.config/starbundle/config.toml if present. Environment
// variables such as STARBUNDLE_LOG_LEVEL override the file.
func LoadSettings() (Settings, error) {
	v := viper.New()

	v.SetDefault("log_format", "text")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
	v.SetDefault("healthcheck_port", 0)

	v.SetConfigType("toml")
	cfgPath := os.Getenv("STARBUNDLE_CONFIG")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "starbundle"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("STARBUNDLE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// An explicitly named file must exist.
		if cfgPath != "" || !errors.As(err, &notFound) {
			return Settings{}, fmt.Errorf("read config: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return s, nil
}
