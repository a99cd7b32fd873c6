package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/seantiz/dsplatform/internal/api"
	"github.com/seantiz/dsplatform/internal/config"
	"github.com/seantiz/dsplatform/internal/engine"
	"github.com/seantiz/dsplatform/internal/events"
	"github.com/seantiz/dsplatform/internal/registry"
	"github.com/seantiz/dsplatform/internal/runtime/docker"
	"github.com/seantiz/dsplatform/internal/store"
	"github.com/seantiz/dsplatform/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the orchestration API server",
	Long: `Start the HTTP API and connect to the Docker engine.

Example:
  platformd serve
  platformd serve --listen :9000 --db /var/lib/platformd/events.db
`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("listen", ":8080", "HTTP listen address")
	serveCmd.Flags().String("db", ":memory:", "SQLite path for the event journal")
	serveCmd.Flags().String("docker-host", "", "Docker engine address (default: unix:///var/run/docker.sock)")
	serveCmd.Flags().String("nats-url", "", "NATS server for lifecycle events (disabled when empty)")

	_ = settings.BindPFlag("listen_addr", serveCmd.Flags().Lookup("listen"))
	_ = settings.BindPFlag("db_path", serveCmd.Flags().Lookup("db"))
	_ = settings.BindPFlag("docker.host", serveCmd.Flags().Lookup("docker-host"))
	_ = settings.BindPFlag("nats.url", serveCmd.Flags().Lookup("nats-url"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadFrom(settings, cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("platformd: starting",
		"version", version,
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"docker_host", cfg.Docker.Host,
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:        cfg.Tracing.Enabled,
		Exporter:       cfg.Tracing.Exporter,
		ServiceName:    "platformd",
		ServiceVersion: version,
	}, os.Stdout, logger)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Error("tracing shutdown", "error", err)
		}
	}()

	rt, err := docker.New(cfg.Docker.Host, logger)
	if err != nil {
		return fmt.Errorf("failed to create docker client: %w", err)
	}
	defer rt.Close()

	journal, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open event journal: %w", err)
	}
	defer journal.Close()

	sinks := []engine.EventSink{journal}
	if cfg.NATS.URL != "" {
		pub, err := events.NewPublisher(cfg.NATS.URL, cfg.NATS.SubjectPrefix, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to nats: %w", err)
		}
		defer pub.Close()
		sinks = append(sinks, pub)
	}

	eng := engine.NewEngine(rt, registry.New(), logger, engineOptions(cfg), sinks...)
	srv := api.NewServer(cfg.ListenAddr, eng, journal, logger)

	runErr := srv.Run(ctx)

	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Shutdown.DrainTimeout)
	defer cancel()
	for _, m := range eng.Shutdown(drainCtx) {
		logger.Warn("monitor abandoned at shutdown",
			"experiment_id", m.ExperimentID,
			"container_id", m.ContainerID,
			"kind", m.Kind,
		)
	}

	return runErr
}

// engineOptions maps loaded settings onto the engine's launch parameters.
func engineOptions(cfg config.Config) engine.Options {
	opts := engine.DefaultOptions()
	opts.PlatformID = cfg.PlatformID
	opts.Network = cfg.Docker.Network
	opts.DockerSocketPath = cfg.Docker.SocketPath
	opts.ScriptsPath = cfg.K6.ScriptsPath
	opts.PrometheusRWURL = cfg.K6.PrometheusRWURL
	opts.K6Image = cfg.K6.Image
	opts.PumbaImage = cfg.Pumba.Image
	opts.TCImage = cfg.Pumba.TCImage
	if cfg.K6.DefaultMaxVUs > 0 {
		opts.DefaultMaxVUs = cfg.K6.DefaultMaxVUs
	}
	return opts
}
