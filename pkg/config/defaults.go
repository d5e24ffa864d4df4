package config

import (
	"strings"
	"time"

	"github.com/marmos91/elfinderd/pkg/archive"
)

// ApplyDefaults fills unset configuration fields with sensible defaults.
// Zero values are replaced; explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyConnectorDefaults(&cfg.Connector)

	// Default volume if none configured: a filesystem volume rooted in the
	// working directory.
	if len(cfg.Volumes) == 0 {
		cfg.Volumes = []VolumeConfig{
			{
				ID:         "l1",
				Type:       "filesystem",
				Filesystem: map[string]any{"root": "./files"},
			},
		}
	}
	for i := range cfg.Volumes {
		applyVolumeDefaults(&cfg.Volumes[i])
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Listen == "" {
		cfg.Listen = "localhost:8080"
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

func applyConnectorDefaults(cfg *ConnectorConfig) {
	if cfg.UploadMaxSize == "" {
		cfg.UploadMaxSize = "128M"
	}
	if cfg.Disabled == nil {
		cfg.Disabled = []string{}
	}
	if len(cfg.ArchiveCreate) == 0 {
		cfg.ArchiveCreate = archive.CreateMimes()
	}
	if len(cfg.ArchiveExtract) == 0 {
		cfg.ArchiveExtract = archive.ExtractMimes()
	}
}

func applyVolumeDefaults(cfg *VolumeConfig) {
	if cfg.Filesystem == nil {
		cfg.Filesystem = make(map[string]any)
	}
	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}
	if cfg.S3 == nil {
		cfg.S3 = make(map[string]any)
	}
}
