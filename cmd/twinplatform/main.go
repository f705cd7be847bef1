// Package main runs the twin platform process: a generation-cached, lazily
// populated view of the twin graph held in NATS JetStream, plus batched
// ingestion of telemetry rows into an analytical store.
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

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/promotion0824/TwinPlatform-sub045/config"
	"github.com/promotion0824/TwinPlatform-sub045/health"
	"github.com/promotion0824/TwinPlatform-sub045/ingest"
	"github.com/promotion0824/TwinPlatform-sub045/ingest/intake"
	"github.com/promotion0824/TwinPlatform-sub045/ingest/kusto"
	"github.com/promotion0824/TwinPlatform-sub045/ingest/localstore"
	"github.com/promotion0824/TwinPlatform-sub045/metric"
	"github.com/promotion0824/TwinPlatform-sub045/natsclient"
	"github.com/promotion0824/TwinPlatform-sub045/twin/cache"
	"github.com/promotion0824/TwinPlatform-sub045/twin/natsstore"
	"github.com/promotion0824/TwinPlatform-sub045/twin/reader"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "twinplatform"
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

	if err := run(os.Args[1:]); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string) error {
	cliCfg, err := parseFlags(args)
	if err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}

	cfg, err := loadConfig(cliCfg)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Service.LogLevel, cfg.Service.LogFormat)
	slog.SetDefault(logger)

	if cliCfg.Validate {
		logger.Info("Configuration is valid", "config", cfg.String())
		return nil
	}
	if cliCfg.Query.Enabled {
		return printTwinsQuery(os.Stdout, cliCfg.Query)
	}

	logger.Info("Starting twin platform",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := metric.NewMetricsRegistry()

	natsClient, err := connectToNATS(ctx, cfg, registry, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cliCfg.ShutdownTimeout)
		defer cancel()
		if err := natsClient.Close(closeCtx); err != nil {
			logger.Warn("NATS close failed", "error", err)
		}
	}()

	openStore := natsstore.Open
	if cliCfg.Lookup != "" && cliCfg.SeedPath == "" {
		openStore = natsstore.OpenExisting
	}
	store, err := openStore(ctx, natsClient, cfg.NATS.BucketPrefix, logger)
	if err != nil {
		return fmt.Errorf("open twin store: %w", err)
	}

	if cliCfg.SeedPath != "" {
		ds, err := seedFile(ctx, store, cliCfg.SeedPath)
		if err != nil {
			return err
		}
		logger.Info("Seeded twin store",
			"models", len(ds.Models),
			"twins", len(ds.Twins),
			"relationships", len(ds.Relationships))
	}

	provider := cache.NewProvider(store, cache.WithLogger(logger), cache.WithMetrics(registry))
	if _, err := provider.GetOrCreateCache(ctx, false); err != nil {
		return fmt.Errorf("build twin cache: %w", err)
	}

	if cliCfg.Lookup != "" {
		remote := reader.NewMetricsRemote(
			reader.NewTracingRemote(store, otel.Tracer("twinplatform/reader")),
			registry)
		return lookup(ctx, reader.NewLazyReader(remote, provider, logger), cliCfg.Lookup, os.Stdout)
	}

	return serve(ctx, cfg, cliCfg, natsClient, provider, registry, logger)
}

// serve runs the background loops until ctx is cancelled. On shutdown the
// intake drains first so the local store's final flush includes every
// accepted message.
func serve(
	ctx context.Context,
	cfg *config.Config,
	cliCfg *CLIConfig,
	natsClient *natsclient.Client,
	provider *cache.Provider,
	registry *metric.MetricsRegistry,
	logger *slog.Logger,
) error {
	g, gctx := errgroup.WithContext(ctx)

	if cfg.Cache.RebuildInterval > 0 {
		g.Go(func() error {
			return provider.Run(gctx, cfg.Cache.RebuildInterval)
		})
	}

	var (
		rows         backlog
		in           *intake.Intake
		cancelIngest context.CancelFunc = func() {}
	)
	if cfg.Kusto.Endpoint != "" {
		store, client, err := setupIngestion(cfg, registry, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := client.Close(); err != nil {
				logger.Warn("Kusto client close failed", "error", err)
			}
		}()
		rows = store

		if cfg.Ingest.Subject != "" {
			in = intake.New(store,
				intake.WithDefaultDatabase(cfg.Ingest.Database),
				intake.WithLogger(logger),
				intake.WithMetrics(registry))
			if err := in.Start(gctx, natsClient, cfg.Ingest.Subject); err != nil {
				return err
			}
		}

		var ingestCtx context.Context
		ingestCtx, cancelIngest = context.WithCancel(context.WithoutCancel(gctx))
		g.Go(func() error {
			return store.Run(ingestCtx, cfg.Ingest.FlushInterval)
		})
	} else {
		logger.Info("Ingestion disabled, no kusto endpoint configured")
	}
	defer cancelIngest()

	monitor := newHealthMonitor(natsClient, provider, rows, cfg.Ingest.Threshold)
	natsClient.OnHealthChange(func(healthy bool) {
		logger.Info("NATS health changed", "healthy", healthy)
	})

	if cfg.Metrics.Enabled {
		server := metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, registry, provider.IsCacheReady)
		server.Mount("/health", health.Handler(monitor, appName))
		g.Go(server.Start)
		g.Go(func() error {
			<-gctx.Done()
			return server.Stop()
		})
		logger.Info("Metrics server listening", "address", server.Address())
	}

	logger.Info("Twin platform started")
	<-gctx.Done()
	logger.Info("Received shutdown signal")

	if err := in.Stop(cliCfg.ShutdownTimeout); err != nil {
		logger.Warn("Intake did not drain", "error", err)
	}
	cancelIngest()

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("background task failed: %w", err)
		}
	case <-time.After(cliCfg.ShutdownTimeout):
		return fmt.Errorf("graceful shutdown timed out after %v", cliCfg.ShutdownTimeout)
	}

	logger.Info("Twin platform shutdown complete", "status", monitor.AggregateHealth(appName).Status)
	return nil
}

func setupIngestion(cfg *config.Config, registry *metric.MetricsRegistry, logger *slog.Logger) (*localstore.LocalStore, *kusto.Client, error) {
	client, err := kusto.New(kusto.Config{
		Endpoint:          cfg.Kusto.Endpoint,
		ClientID:          cfg.Kusto.ClientID,
		ClientSecret:      cfg.Kusto.ClientSecret,
		TenantID:          cfg.Kusto.TenantID,
		Token:             cfg.Kusto.Token,
		Timeout:           cfg.Kusto.Timeout,
		RequestsPerSecond: cfg.Kusto.RequestsPerSecond,
		Burst:             cfg.Kusto.Burst,
	}, kusto.WithLogger(logger))
	if err != nil {
		return nil, nil, fmt.Errorf("create kusto client: %w", err)
	}

	ingestor := ingest.NewIngestor(client, ingest.WithLogger(logger), ingest.WithMetrics(registry))

	store, err := localstore.New(ingestor,
		localstore.WithThreshold(cfg.Ingest.Threshold),
		localstore.WithLogger(logger),
		localstore.WithMetrics(registry))
	if err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("create local store: %w", err)
	}
	return store, client, nil
}

// connectToNATS establishes the NATS connection and waits for it to be ready
func connectToNATS(
	ctx context.Context,
	cfg *config.Config,
	registry *metric.MetricsRegistry,
	logger *slog.Logger,
) (*natsclient.Client, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithLogger(logger),
		natsclient.WithMetrics(registry),
		natsclient.WithName(cfg.Service.Name),
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
		natsclient.WithReconnectWait(cfg.NATS.ReconnectWait),
		natsclient.WithTimeout(cfg.NATS.Timeout),
	}
	if cfg.NATS.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	}
	if cfg.NATS.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.NATS.Token))
	}

	client, err := natsclient.NewClient(cfg.NATS.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	logger.Info("Connecting to NATS", "url", cfg.NATS.URL)
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.WaitForConnection(connCtx); err != nil {
		_ = client.Close(context.Background())
		return nil, fmt.Errorf("NATS connection timeout: %w", err)
	}

	return client, nil
}

// loadConfig layers the optional config file over defaults, then applies
// log flags on top.
func loadConfig(cliCfg *CLIConfig) (*config.Config, error) {
	loader := config.NewLoader()
	if cliCfg.ConfigPath != "" {
		loader.AddLayer(cliCfg.ConfigPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if cliCfg.LogLevel != "" {
		cfg.Service.LogLevel = cliCfg.LogLevel
	}
	if cliCfg.LogFormat != "" {
		cfg.Service.LogFormat = cliCfg.LogFormat
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
