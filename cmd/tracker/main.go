// Polymarket Insider Tracker — detects suspicious trading activity on
// Polymarket prediction markets in near real time.
//
// Architecture:
//
//	main.go              — entry point: config, logging, wiring, signal handling
//	pipeline/            — supervisor: feed → bus → detect/sniper stages → alerts
//	stream/              — WebSocket trade feed with reconnect/backoff
//	bus/                 — Redis Streams event bus with consumer groups
//	chain/               — Polygon JSON-RPC client with cache, limits, failover
//	profiler/            — wallet analyzer (nonce, age, balances) + funding tracer
//	metadata/            — CLOB market catalog sync with Redis cache
//	detector/            — fresh-wallet, size-anomaly, sniper-cluster, scorer
//	alerter/             — formatter, Discord/Telegram channels, dispatcher, history
//	storage/             — Postgres audit trail (profiles, transfers, alerts)
//	health/              — stream liveness monitor + /health /metrics endpoints
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"polymarket-tracker/internal/alerter"
	"polymarket-tracker/internal/bus"
	"polymarket-tracker/internal/chain"
	"polymarket-tracker/internal/config"
	"polymarket-tracker/internal/detector"
	"polymarket-tracker/internal/health"
	"polymarket-tracker/internal/metadata"
	"polymarket-tracker/internal/metrics"
	"polymarket-tracker/internal/pipeline"
	"polymarket-tracker/internal/profiler"
	"polymarket-tracker/internal/storage"
	"polymarket-tracker/internal/stream"
)

const (
	appName    = "polymarket-insider-tracker"
	appVersion = "1.0.0"

	shutdownGrace = 30 * time.Second

	exitSuccess     = 0
	exitError       = 1
	exitConfigError = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		showVersion = pflag.Bool("version", false, "print version and exit")
		configCheck = pflag.Bool("config-check", false, "validate configuration and exit")
		dryRun      = pflag.Bool("dry-run", false, "run the pipeline without sending alerts")
		logLevel    = pflag.String("log-level", "", "override log level (DEBUG..CRITICAL)")
		healthPort  = pflag.Int("health-port", 0, "override health check port")
	)
	pflag.Parse()

	if *showVersion {
		fmt.Printf("%s %s\n", appName, appVersion)
		return exitSuccess
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration load failed: %v\n", err)
		return exitConfigError
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *healthPort != 0 {
		cfg.HealthPort = *healthPort
	}
	if *dryRun {
		cfg.DryRun = true
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "configuration validation failed: %v\n", err)
		return exitConfigError
	}

	logger := buildLogger(cfg.LogLevel, cfg.LogFormat)

	if *configCheck {
		printConfigSummary(cfg)
		fmt.Println("All checks passed. Ready to run.")
		return exitSuccess
	}

	code, err := runPipeline(cfg, logger)
	if err != nil {
		logger.Error("pipeline failed", "error", err)
	}
	return code
}

func runPipeline(cfg *config.Config, logger *slog.Logger) (int, error) {
	ctx := context.Background()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return exitConfigError, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	db, err := storage.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return exitError, fmt.Errorf("open database: %w", err)
	}
	store := storage.New(db, logger)
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return exitError, fmt.Errorf("migrate database: %w", err)
	}

	chainClient, err := chain.NewClient(chain.ClientConfig{
		RPCURL:         cfg.Polygon.RPCURL,
		FallbackRPCURL: cfg.Polygon.FallbackRPCURL,
		RateLimit:      cfg.Polygon.RateLimit,
		MaxRetries:     cfg.Polygon.MaxRetries,
		CacheTTL:       cfg.Polygon.CacheTTL,
	}, rdb, logger)
	if err != nil {
		return exitError, fmt.Errorf("chain client: %w", err)
	}

	reg := metrics.NewRegistry()
	analyzer := profiler.NewAnalyzer(chainClient, rdb, profiler.AnalyzerConfig{
		FreshThreshold: cfg.Detector.FreshThreshold,
	}, logger)
	tracer := profiler.NewTracer(chainClient, chain.NewEntityRegistry(nil), profiler.DefaultMaxHops, logger)

	clob := metadata.NewClient(cfg.Polymarket.CLOBBaseURL, cfg.Polymarket.APIKey, logger)
	catalog := metadata.NewSync(rdb, clob, metadata.SyncConfig{
		SyncInterval: cfg.Polymarket.SyncInterval,
		CacheTTL:     cfg.Polymarket.MetadataTTL,
	}, logger)

	scorer := detector.NewScorer(rdb, detector.ScorerConfig{
		AlertThreshold: cfg.Detector.AlertThreshold,
		DedupWindow:    cfg.Detector.DedupWindow,
	}, logger)

	var channels []alerter.Channel
	if cfg.Discord.Enabled() {
		channels = append(channels, alerter.NewDiscordChannel(cfg.Discord.WebhookURL, logger))
	}
	if cfg.Telegram.Enabled() {
		channels = append(channels, alerter.NewTelegramChannel(cfg.Telegram.BotToken, cfg.Telegram.ChatID, logger))
	}
	if len(channels) == 0 && !cfg.DryRun {
		logger.Warn("no alert channels configured, alerts will only be recorded")
	}
	dispatcher := alerter.NewDispatcher(channels, alerter.DispatcherConfig{DryRun: cfg.DryRun}, reg, logger)
	history := alerter.NewHistory(rdb, alerter.HistoryConfig{
		DedupWindowHours: int(cfg.Detector.DedupWindow.Hours()),
	}, logger)

	monitor := health.NewMonitor(health.MonitorConfig{
		OnChange: func(r health.Report) {
			logger.Warn("pipeline health changed", "status", string(r.Status))
		},
	}, logger)
	healthServer := health.NewServer(cfg.HealthPort, monitor, reg, logger)
	go func() {
		if err := healthServer.Start(); err != nil {
			logger.Error("health server failed", "error", err)
		}
	}()

	pipe := pipeline.New(pipeline.Config{
		Stream: stream.Config{
			Host:          cfg.Polymarket.WSURL,
			EventFilter:   cfg.Polymarket.EventFilter,
			MarketFilters: cfg.MarketFilters(),
		},
		AlertThreshold: cfg.Detector.AlertThreshold,
		SniperInterval: cfg.Detector.SniperInterval,
	}, pipeline.Deps{
		Bus:        bus.New(rdb, "", 0, logger),
		Analyzer:   analyzer,
		Tracer:     tracer,
		Fresh:      detector.NewFreshWalletDetector(analyzer, detector.DefaultLargeTradeThreshold, logger),
		Size:       detector.NewSizeAnomalyDetector(detector.SizeAnomalyConfig{}, logger),
		Sniper:     detector.NewSniperDetector(detector.SniperConfig{}, logger),
		Scorer:     scorer,
		Metadata:   catalog,
		CLOB:       clob,
		Formatter:  alerter.NewFormatter(alerter.VerbosityDetailed),
		Dispatcher: dispatcher,
		History:    history,
		Store:      store,
		Monitor:    monitor,
		Metrics:    reg,
	}, logger)

	if err := pipe.Start(ctx); err != nil {
		return exitError, fmt.Errorf("start pipeline: %w", err)
	}
	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — alerts will not be sent")
	}
	logger.Info("insider tracker started",
		"version", appVersion,
		"health_port", cfg.HealthPort,
		"channels", len(channels),
		"dry_run", cfg.DryRun,
	)

	// First signal starts a graceful drain; a second one forces exit
	// with the conventional 128+signum code.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	done := make(chan struct{})
	go func() {
		pipe.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := healthServer.Stop(shutdownCtx); err != nil {
			logger.Error("health server stop failed", "error", err)
		}
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
		return exitSuccess, nil
	case again := <-sigCh:
		logger.Warn("second signal, forcing exit", "signal", again.String())
		return 128 + int(again.(syscall.Signal)), nil
	case <-time.After(shutdownGrace):
		return exitError, fmt.Errorf("graceful shutdown exceeded %s", shutdownGrace)
	}
}

func buildLogger(level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(level)}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARNING":
		return slog.LevelWarn
	case "ERROR", "CRITICAL":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func printConfigSummary(cfg *config.Config) {
	onOff := func(b bool) string {
		if b {
			return "enabled"
		}
		return "disabled"
	}
	fmt.Println("Configuration is valid!")
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Printf("  Database: %s\n", redactURL(cfg.DatabaseURL))
	fmt.Printf("  Redis: %s\n", redactURL(cfg.RedisURL))
	fmt.Printf("  Log Level: %s\n", strings.ToUpper(cfg.LogLevel))
	fmt.Printf("  Health Port: %d\n", cfg.HealthPort)
	fmt.Printf("  Dry Run: %t\n", cfg.DryRun)
	fmt.Printf("  Discord: %s\n", onOff(cfg.Discord.Enabled()))
	fmt.Printf("  Telegram: %s\n", onOff(cfg.Telegram.Enabled()))
	fmt.Println()
}

// redactURL hides credentials embedded in connection URLs.
func redactURL(raw string) string {
	at := strings.LastIndex(raw, "@")
	if at == -1 {
		return raw
	}
	scheme := strings.Index(raw, "://")
	if scheme == -1 {
		return raw
	}
	return raw[:scheme+3] + "***" + raw[at:]
}
