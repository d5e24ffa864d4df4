package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/mitchellh/mapstructure"

	"github.com/marmos91/elfinderd/pkg/volume"
	"github.com/marmos91/elfinderd/pkg/volume/badgerfs"
	volumeFs "github.com/marmos91/elfinderd/pkg/volume/fs"
	volumeS3 "github.com/marmos91/elfinderd/pkg/volume/s3"
)

// CreateVolume builds a volume driver from its configuration.
//
// The Type field selects the implementation; the matching type-specific
// section is decoded into the driver's own config struct and handed to its
// constructor.
func CreateVolume(ctx context.Context, cfg *VolumeConfig) (volume.Driver, error) {
	switch cfg.Type {
	case "filesystem":
		return createFilesystemVolume(cfg.ID, cfg.Filesystem)
	case "badger":
		return createBadgerVolume(cfg.ID, cfg.Badger)
	case "s3":
		return createS3Volume(ctx, cfg.ID, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown volume type: %q", cfg.Type)
	}
}

// CreateVolumes builds every configured volume, preserving mount order.
func CreateVolumes(ctx context.Context, cfgs []VolumeConfig) ([]volume.Driver, error) {
	volumes := make([]volume.Driver, 0, len(cfgs))
	for i := range cfgs {
		vol, err := CreateVolume(ctx, &cfgs[i])
		if err != nil {
			return nil, fmt.Errorf("volumes[%d] (%s): %w", i, cfgs[i].ID, err)
		}
		volumes = append(volumes, vol)
	}
	return volumes, nil
}

func createFilesystemVolume(id string, options map[string]any) (volume.Driver, error) {
	type filesystemVolumeConfig struct {
		Root string `mapstructure:"root"`
	}

	var volCfg filesystemVolumeConfig
	if err := mapstructure.Decode(options, &volCfg); err != nil {
		return nil, fmt.Errorf("failed to decode filesystem volume config: %w", err)
	}
	if volCfg.Root == "" {
		return nil, fmt.Errorf("filesystem volume: root is required")
	}

	return volumeFs.New(id, volCfg.Root)
}

func createBadgerVolume(id string, options map[string]any) (volume.Driver, error) {
	type badgerVolumeConfig struct {
		Path     string `mapstructure:"path"`
		InMemory bool   `mapstructure:"in_memory"`
		RootName string `mapstructure:"root_name"`
	}

	var volCfg badgerVolumeConfig
	if err := mapstructure.Decode(options, &volCfg); err != nil {
		return nil, fmt.Errorf("failed to decode badger volume config: %w", err)
	}
	if volCfg.Path == "" && !volCfg.InMemory {
		return nil, fmt.Errorf("badger volume: path is required")
	}

	return badgerfs.New(id, badgerfs.Options{
		Path:     volCfg.Path,
		InMemory: volCfg.InMemory,
		RootName: volCfg.RootName,
	})
}

func createS3Volume(ctx context.Context, id string, options map[string]any) (volume.Driver, error) {
	type s3VolumeConfig struct {
		Region          string `mapstructure:"region"`
		Bucket          string `mapstructure:"bucket"`
		KeyPrefix       string `mapstructure:"key_prefix"`
		Endpoint        string `mapstructure:"endpoint"`
		AccessKeyID     string `mapstructure:"access_key_id"`
		SecretAccessKey string `mapstructure:"secret_access_key"`
		RootName        string `mapstructure:"root_name"`
		MaxRetries      int    `mapstructure:"max_retries"`
	}

	var volCfg s3VolumeConfig
	if err := mapstructure.Decode(options, &volCfg); err != nil {
		return nil, fmt.Errorf("failed to decode s3 volume config: %w", err)
	}
	if volCfg.Bucket == "" {
		return nil, fmt.Errorf("s3 volume: bucket is required")
	}
	if volCfg.Region == "" {
		return nil, fmt.Errorf("s3 volume: region is required")
	}

	var configOptions []func(*awsConfig.LoadOptions) error
	configOptions = append(configOptions, awsConfig.WithRegion(volCfg.Region))

	// Static credentials when provided; otherwise the default chain
	// (environment, shared config, instance role) applies.
	if volCfg.AccessKeyID != "" && volCfg.SecretAccessKey != "" {
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(volCfg.AccessKeyID, volCfg.SecretAccessKey, ""),
		))
	}

	if volCfg.MaxRetries > 0 {
		maxRetries := volCfg.MaxRetries
		configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
			return retry.AddWithMaxAttempts(retry.NewStandard(), maxRetries)
		}))
	}

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// Custom endpoint for S3-compatible storage (MinIO, Localstack).
		if volCfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(volCfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return volumeS3.New(ctx, id, volumeS3.Config{
		Client:    client,
		Bucket:    volCfg.Bucket,
		KeyPrefix: volCfg.KeyPrefix,
		RootName:  volCfg.RootName,
	})
}
