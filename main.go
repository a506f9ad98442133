package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"nodewatch/config"
	"nodewatch/handlers"
	"nodewatch/middleware"
	"nodewatch/models"
	"nodewatch/services"
	"nodewatch/utils"
)

var (
	configFile string
	serverPort int
	serverHost string
	seedNodes  []string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "nodewatch",
	Short: "Crawls a blockchain peer network and serves node availability",
	Long: `nodewatch discovers the nodes of a network by walking peer lists from a
set of seed nodes, probes every node for liveness, and keeps the result in
MongoDB together with aggregate statistics and a node-count time series.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the monitor loop and the HTTP API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context())
	},
}

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single monitor cycle and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runOnce(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "JSON config file (default: $CONFIG_FILE or config/config.json)")
	rootCmd.PersistentFlags().StringSliceVar(&seedNodes, "seed", nil, "Seed node base URL, repeatable (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")

	serveCmd.Flags().IntVar(&serverPort, "port", 0, "HTTP listen port (overrides config)")
	serveCmd.Flags().StringVar(&serverHost, "host", "", "HTTP listen host (overrides config)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(onceCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// loadConfig layers command-line flags over the file and environment config.
func loadConfig() (*config.Config, error) {
	if configFile != "" {
		if err := os.Setenv("CONFIG_FILE", configFile); err != nil {
			return nil, err
		}
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	if serverPort != 0 {
		cfg.Server.Port = serverPort
	}
	if serverHost != "" {
		cfg.Server.Host = serverHost
	}
	if len(seedNodes) > 0 {
		cfg.Monitor.SeedNodes = seedNodes
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func buildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	cfg.EncoderConfig.TimeKey = "ts"
	return cfg.Build()
}

// app holds the wired components and the cleanups to run on exit.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	store    *services.Store
	monitor  *services.NodeMonitor
	closers  []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func buildApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := services.NewMetrics(a.registry)

	// Storage
	var db services.CollectionProvider
	if cfg.MongoDB.Enabled {
		mongoService, err := services.NewMongoDBService(ctx, cfg, logger.Named("mongodb"))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() {
			if err := mongoService.Close(); err != nil {
				logger.Warn("MongoDB disconnect failed", zap.Error(err))
			}
		})
		db = mongoService
	} else {
		logger.Warn("MongoDB disabled, state is kept in memory and lost on exit")
		db = services.NewMemoryDatabase()
	}

	redisClient, err := services.NewRedisClient(ctx, cfg.Redis, logger.Named("redis"))
	if err != nil {
		logger.Warn("Redis unavailable, serving from in-process cache only", zap.Error(err))
		redisClient = nil
	}
	if redisClient != nil {
		a.closers = append(a.closers, func() { _ = redisClient.Close() })
	}
	caches := services.NewReadCaches(redisClient, 2*cfg.IntervalDuration(), logger.Named("cache"))

	// Node protocol
	timeout := cfg.RequestTimeoutDuration()
	nodeClient := services.NewNodeClient(cfg)
	peerProber := services.NewTCPProber(timeout, cfg.Node.TimeoutMargin)
	rewards := services.NewRewardsClient(cfg.Rewards.ControllerEndpoint, timeout, cfg.Node.TimeoutMargin)

	geo := utils.NewGeoResolver(cfg.GeoIP.DBPath, cfg.GeoIP.APIRatePerMinute, timeout, cfg.Node.TimeoutMargin, logger.Named("geo"))
	a.closers = append(a.closers, geo.Close)

	notifier, err := services.NewDiscordNotifier(cfg.Discord.Token, cfg.Discord.ChannelID, logger.Named("discord"))
	if err != nil {
		logger.Warn("Discord notifier initialization failed, notifications disabled", zap.Error(err))
		notifier, _ = services.NewDiscordNotifier("", "", logger)
	}
	a.closers = append(a.closers, notifier.Close)

	// Pipeline
	resolver := services.NewIdentityResolver(nodeClient, logger.Named("identity"))
	crawler := services.NewPeerCrawler(nodeClient, cfg.Monitor.CrawlChunkSize, logger.Named("crawler"))
	enricher := services.NewNodeEnricher(nodeClient, peerProber, geo, rewards, nil, services.EnricherOptions{
		ChunkSize:       cfg.Monitor.EnrichChunkSize,
		ChunkDelay:      cfg.ChunkDelayDuration(),
		DefaultPeerPort: cfg.Node.PeerPort,
		Versions:        &utils.VersionConfig{MinSupported: cfg.Versions.MinSupported},
	}, logger.Named("enricher"))

	a.store = services.NewStore(db, metrics, logger.Named("store"))
	series := services.NewTimeSeries(db, services.CollectionNodeCountDay, services.CollectionNodeCountSeries, models.AggregateAverageRound, logger.Named("timeseries"))

	a.monitor = services.NewNodeMonitor(services.MonitorOptions{
		SeedURLs:               cfg.Monitor.SeedNodes,
		Interval:               cfg.IntervalDuration(),
		RestartDelay:           cfg.RestartDelayDuration(),
		KeepStaleFor:           cfg.KeepStaleDuration(),
		FailureNotifyThreshold: cfg.Monitor.FailureNotifyThreshold,
	}, resolver, crawler, enricher, a.store, series, caches, metrics, notifier, logger.Named("monitor"))

	return a, nil
}

func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger, err := buildLogger(cfg.Log.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("build logger: %w", err)
	}
	return cfg, logger, nil
}

func runOnce(ctx context.Context) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return err
	}
	defer a.Close()

	if err := a.monitor.RunCycle(ctx); err != nil {
		logger.Error("monitor cycle failed", zap.Error(err))
		return err
	}
	return nil
}

func runServe(ctx context.Context) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("configuration loaded",
		zap.String("listen", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)),
		zap.Strings("seeds", cfg.Monitor.SeedNodes),
		zap.Bool("mongodb", cfg.MongoDB.Enabled),
		zap.Bool("redis", cfg.Redis.Enabled),
	)

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return err
	}
	defer a.Close()

	// Web server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.LoggerMiddleware(logger))
	e.Use(middleware.CORSMiddleware(cfg.Server.AllowedOrigins))
	e.Use(middleware.RecoverMiddleware(logger))

	h := handlers.NewHandler(a.monitor, a.store, logger.Named("api"))
	handlers.RegisterRoutes(e, h, services.MetricsHandler(a.registry))

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", serverAddr))
		if err := e.Start(serverAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	a.monitor.Start(ctx)

	select {
	case <-ctx.Done():
		logger.Info("graceful shutdown initiated")
	case err = <-serverErr:
		logger.Error("HTTP server failed", zap.Error(err))
	}

	a.monitor.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(shutdownErr))
	}

	logger.Info("server exited")
	return err
}
