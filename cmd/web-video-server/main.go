// Package main implements the entry point for the web video server, an HTTP
// gateway that exposes live frame sources published on a NATS bus as
// on-demand video streams and snapshots.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/mitchellwills/web-video-server/bus"
	"github.com/mitchellwills/web-video-server/codec"
	"github.com/mitchellwills/web-video-server/codec/mjpeg"
	"github.com/mitchellwills/web-video-server/codec/wsjpeg"
	"github.com/mitchellwills/web-video-server/config"
	"github.com/mitchellwills/web-video-server/gateway"
	"github.com/mitchellwills/web-video-server/metric"
	"github.com/mitchellwills/web-video-server/natsclient"
	"github.com/mitchellwills/web-video-server/session"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "web-video-server"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg, logger, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	metricsRegistry := metric.NewMetricsRegistry()
	metrics := metricsRegistry.CoreMetrics()

	natsClient, err := newNATSClient(cfg, logger, metrics)
	if err != nil {
		return fmt.Errorf("create NATS client: %w", err)
	}
	if err := connectToNATS(signalCtx, natsClient); err != nil {
		return err
	}
	defer func() { _ = natsClient.Close(context.Background()) }()
	metrics.RecordBusStatus(true)

	frameBus := bus.NewNATSBus(natsClient, bus.NATSBusConfig{
		Workers: cfg.BusWorkers,
		Logger:  logger,
		Metrics: metrics,
	})
	if err := frameBus.Start(signalCtx); err != nil {
		return fmt.Errorf("start frame bus: %w", err)
	}
	defer func() { _ = frameBus.Stop(cliCfg.ShutdownTimeout) }()

	codecs, err := registerCodecs()
	if err != nil {
		return fmt.Errorf("register codecs: %w", err)
	}
	slog.Info("Codecs registered", "codecs", codecs.Names())

	sessions := session.NewRegistry(logger, metrics)
	sweeper := session.NewSweeper(sessions, session.DefaultSweepInterval, logger)
	sweeper.Start(signalCtx)
	defer sweeper.Stop()

	if metricsServer := startMetricsServer(cfg, metricsRegistry); metricsServer != nil {
		defer func() { _ = metricsServer.Stop() }()
	}

	server := gateway.NewServer(gateway.Config{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		HTTPWorkers: cfg.HTTPWorkers,
	}, codecs, sessions, frameBus, logger, metrics)

	slog.Info("Starting web video server",
		"port", cfg.Port,
		"http_workers", cfg.HTTPWorkers,
		"bus_workers", cfg.BusWorkers)

	if err := server.Serve(signalCtx); err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	slog.Info("Shutdown complete")
	return nil
}

// initializeCLI parses flags and sets up logging
func initializeCLI() (*CLIConfig, *slog.Logger, bool, error) {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, nil, true, nil
	}

	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil, nil, true, nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting web video server",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	return cliCfg, logger, false, nil
}

// newNATSClient builds the connection manager from config
func newNATSClient(cfg *config.Config, logger *slog.Logger, metrics *metric.Metrics) (*natsclient.Client, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithLogger(logger),
		natsclient.WithName(cfg.NATS.Name),
		natsclient.WithDisconnectCallback(func(error) { metrics.RecordBusStatus(false) }),
		natsclient.WithReconnectCallback(func() { metrics.RecordBusStatus(true) }),
	}
	if cfg.NATS.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	}
	if cfg.NATS.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.NATS.Token))
	}

	return natsclient.NewClient(cfg.NATS.URLs[0], opts...)
}

// connectToNATS establishes the bus connection and waits for it to be ready
func connectToNATS(ctx context.Context, natsClient *natsclient.Client) error {
	slog.Info("Connecting to NATS", "url", natsClient.URL())
	if err := natsClient.Connect(ctx); err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := natsClient.WaitForConnection(connCtx); err != nil {
		return fmt.Errorf("NATS connection timeout: %w", err)
	}
	return nil
}

// registerCodecs builds the codec registry. Registration happens once here;
// the registry is read-only afterwards.
func registerCodecs() (*codec.Registry, error) {
	codecs := codec.NewRegistry()
	for _, desc := range []codec.Descriptor{
		mjpeg.Descriptor(),
		wsjpeg.Descriptor(),
	} {
		if err := codecs.Register(desc); err != nil {
			return nil, err
		}
	}
	return codecs, nil
}

// startMetricsServer exposes /metrics when a port is configured
func startMetricsServer(cfg *config.Config, registry *metric.MetricsRegistry) *metric.Server {
	if cfg.MetricsPort == 0 {
		return nil
	}

	srv := metric.NewServer(cfg.MetricsPort, "/metrics", registry)
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("Metrics server failed", "error", err)
		}
	}()
	slog.Info("Metrics server started", "addr", srv.Address())
	return srv
}
