package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/marmos91/elfinderd/internal/server"
	"github.com/marmos91/elfinderd/pkg/config"
	"github.com/marmos91/elfinderd/pkg/connector"
	"github.com/marmos91/elfinderd/pkg/logger"
	"github.com/marmos91/elfinderd/pkg/metrics"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: $XDG_CONFIG_HOME/elfinderd/config.yaml)")
	logLevel := flag.String("log-level", "", "Override the configured log level (DEBUG, INFO, WARN, ERROR)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "elfinderd: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "elfinderd: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if cfg.Server.Metrics {
		metrics.InitRegistry()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	volumes, err := config.CreateVolumes(ctx, cfg.Volumes)
	if err != nil {
		log.Fatal("failed to create volumes", zap.Error(err))
	}
	defer func() {
		for _, vol := range volumes {
			if closer, ok := vol.(io.Closer); ok {
				closer.Close()
			}
		}
	}()
	for _, vol := range volumes {
		log.Info("volume mounted", zap.String("id", vol.ID()))
	}

	conn, err := connector.New(connector.Options{
		UploadMaxSize:  cfg.Connector.UploadMaxSize,
		Disabled:       cfg.Connector.Disabled,
		ArchiveCreate:  cfg.Connector.ArchiveCreate,
		ArchiveExtract: cfg.Connector.ArchiveExtract,
		CopyOverwrite:  cfg.Connector.CopyOverwrite,
	}, volumes, log, metrics.NewConnectorMetrics())
	if err != nil {
		log.Fatal("failed to create connector", zap.Error(err))
	}

	srv := server.New(cfg.Server.Listen, cfg.Server.ShutdownTimeout, conn, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
		if err := <-errCh; err != nil {
			log.Error("server error during shutdown", zap.Error(err))
			os.Exit(1)
		}
	case err := <-errCh:
		if err != nil {
			log.Fatal("server error", zap.Error(err))
		}
	}
}
