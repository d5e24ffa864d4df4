// Package config loads and validates the server configuration.
//
// Configuration sources, in order of precedence:
//  1. Environment variables (ELFINDERD_*)
//  2. Configuration file (YAML or TOML)
//  3. Default values
//
// Volume Configuration Pattern:
// Each volume driver defines its own settings. The VolumeConfig struct
// carries type-specific sections (filesystem, badger, s3) as raw maps and
// only the section matching the selected type is decoded, by the factory for
// that driver (see factories.go).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete server configuration.
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging"`

	// Server contains transport-level settings.
	Server ServerConfig `mapstructure:"server"`

	// Connector contains the protocol policy advertised to clients.
	Connector ConnectorConfig `mapstructure:"connector"`

	// Volumes defines the mounted storage backends, in mount order. The
	// first volume is the default one.
	Volumes []VolumeConfig `mapstructure:"volumes" validate:"dive"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level: DEBUG, INFO, WARN or ERROR.
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format is "text" or "json".
	Format string `mapstructure:"format" validate:"required,oneof=text json"`

	// Output is "stdout", "stderr" or a file path.
	Output string `mapstructure:"output" validate:"required"`
}

// ServerConfig contains transport-level settings.
type ServerConfig struct {
	// Listen is the bind address, e.g. "localhost:8080".
	Listen string `mapstructure:"listen" validate:"required"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`

	// Metrics enables the Prometheus registry and the /metrics endpoint.
	Metrics bool `mapstructure:"metrics"`
}

// ConnectorConfig is the protocol policy injected into the connector's
// capability advertisement. Upload limits and archiver sets are deliberately
// configuration, not code.
type ConnectorConfig struct {
	// UploadMaxSize is the advertised upload ceiling, e.g. "128M".
	UploadMaxSize string `mapstructure:"upload_max_size" validate:"required"`

	// Disabled lists protocol commands hidden from the client.
	Disabled []string `mapstructure:"disabled"`

	// ArchiveCreate and ArchiveExtract list the advertised archive mime
	// types. Empty means the built-in supported set.
	ArchiveCreate  []string `mapstructure:"archive_create"`
	ArchiveExtract []string `mapstructure:"archive_extract"`

	// CopyOverwrite advertises overwrite-on-paste to the client.
	CopyOverwrite bool `mapstructure:"copy_overwrite"`
}

// VolumeConfig defines one mounted volume.
//
// The Type field selects the driver; only the matching type-specific section
// is used. Ids become the volume segment of node identifiers, so they must
// not contain the hash separator.
type VolumeConfig struct {
	// ID is the unique volume id, e.g. "l1".
	ID string `mapstructure:"id" validate:"required,excludes=_"`

	// Type selects the driver: filesystem, badger or s3.
	Type string `mapstructure:"type" validate:"required,oneof=filesystem badger s3"`

	// Filesystem settings, used when Type = "filesystem".
	Filesystem map[string]any `mapstructure:"filesystem"`

	// Badger settings, used when Type = "badger".
	Badger map[string]any `mapstructure:"badger"`

	// S3 settings, used when Type = "s3".
	S3 map[string]any `mapstructure:"s3"`
}

// Load loads configuration from file, environment and defaults.
// An empty configPath falls back to the default location.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures environment variable support and the config file
// location. Environment variables use the ELFINDERD_ prefix, e.g.
// ELFINDERD_LOGGING_LEVEL=DEBUG.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("ELFINDERD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// No config file is fine; defaults apply.
			return nil
		}
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns the configuration directory: $XDG_CONFIG_HOME or
// ~/.config, with the current directory as last resort.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "elfinderd")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "elfinderd")
}
