package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/StrathCole/oracle-engine/pkg/config"
	"github.com/StrathCole/oracle-engine/pkg/logging"
	"github.com/StrathCole/oracle-engine/pkg/metrics"
	"github.com/StrathCole/oracle-engine/pkg/server/aggregator"
	"github.com/StrathCole/oracle-engine/pkg/server/api"
	"github.com/StrathCole/oracle-engine/pkg/server/engine"
	"github.com/StrathCole/oracle-engine/pkg/server/fetcher"
	"github.com/StrathCole/oracle-engine/pkg/server/publish"
	"github.com/StrathCole/oracle-engine/pkg/server/signer"
	"github.com/StrathCole/oracle-engine/pkg/server/sources"
	"github.com/StrathCole/oracle-engine/pkg/version"

	// Import adapters to register them
	_ "github.com/StrathCole/oracle-engine/pkg/server/sources/cex"
	_ "github.com/StrathCole/oracle-engine/pkg/server/sources/custom"
	_ "github.com/StrathCole/oracle-engine/pkg/server/sources/fiat"
)

var (
	configFile = flag.String("config", "config/config.yaml", "Path to configuration file")
	envFile    = flag.String("env", ".env", "Optional dotenv file loaded before the config")
	showVer    = flag.Bool("version", false, "Show version and exit")
	once       = flag.Bool("once", false, "Run one cycle for every pair, print the prices as JSON and exit")
)

func main() {
	flag.Parse()

	if *showVer {
		fmt.Printf("oracle-engine version %s\n", version.Version)
		os.Exit(0)
	}

	// A missing .env is fine; the environment may already be set.
	envErr := godotenv.Load(*envFile)

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobal(logger)

	logger.Info("Starting oracle-engine", "version", version.Version, "pairs", len(cfg.Pairs), "sources", len(cfg.Sources))
	if envErr != nil && !errors.Is(envErr, os.ErrNotExist) {
		logger.Warn("Failed to load env file", "file", *envFile, "error", envErr)
	}

	if cfg.Metrics.Enabled {
		metrics.Init()
		if !*once {
			go func() {
				logger.Info("Starting metrics server", "addr", cfg.Metrics.Addr, "path", cfg.Metrics.Path)
				if err := metrics.ServeHTTP(cfg.Metrics.Addr, cfg.Metrics.Path); err != nil {
					logger.Error("Metrics server failed", "error", err)
				}
			}()
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("oracle-engine failed", "error", err)
		os.Exit(1)
	}
	logger.Info("Shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	registry := buildRegistry(cfg, logger)
	if len(registry.List()) == 0 {
		return fmt.Errorf("no usable sources configured")
	}

	opts := []engine.Option{
		engine.WithHealthManager(registry),
		engine.WithCycleDeadline(cfg.Engine.CycleDeadline.ToDuration()),
		engine.WithPublishTimeout(cfg.Engine.PublishTimeout.ToDuration()),
	}

	if cfg.Signer.Enabled {
		s, err := signer.FromEnv(cfg.Signer.PrivateKeyEnv)
		if err != nil {
			return fmt.Errorf("signer: %w", err)
		}
		logger.Info("Signing prices", "address", s.Address().Hex())
		opts = append(opts, engine.WithSigner(s))
	}

	publishers, store, err := buildPublishers(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := publishers.Close(); err != nil {
			logger.Warn("Failed to close publishers", "error", err)
		}
	}()

	var wsServer *api.WebSocketServer
	if cfg.Server.WebSocket.Enabled && !*once {
		wsServer = api.NewWebSocketServer(cfg.Server.WebSocket.Addr, logger)
		publishers.Add(wsServer)
	}
	opts = append(opts, engine.WithPublisher(publishers))

	collector := fetcher.New(registry, logger,
		fetcher.WithMaxWorkers(cfg.Engine.MaxWorkers),
		fetcher.WithMaxClockSkew(cfg.Engine.MaxClockSkew.ToDuration()),
	)
	eng := engine.New(collector, logger, opts...)
	addPairs(eng, cfg, logger)
	if len(eng.Pairs()) == 0 {
		return fmt.Errorf("no usable pairs configured")
	}

	if *once {
		return printOnce(ctx, eng)
	}

	server := api.NewServer(cfg.Server.HTTP.Addr, eng, registry, logger)
	if store != nil {
		server.SetHistoryStore(store)
	}
	if cfg.Server.HTTP.TLS.Enabled {
		server.SetTLS(cfg.Server.HTTP.TLS.Cert, cfg.Server.HTTP.TLS.Key)
	}

	if wsServer != nil {
		go func() {
			if err := wsServer.Start(context.Background()); err != nil {
				logger.Error("WebSocket server error", "error", err)
			}
		}()
	}

	scheduler := engine.NewScheduler(eng, cfg.Engine.CycleInterval.ToDuration(), logger)
	scheduler.Start(ctx)

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-errChan:
		if err != nil {
			logger.Error("HTTP server failed", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info("Shutting down gracefully...")
	select {
	case <-scheduler.Stop().Done():
	case <-shutdownCtx.Done():
		logger.Warn("Timed out waiting for running cycles")
	}
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown failed", "error", err)
	}
	return nil
}

// buildRegistry creates adapters for every configured source. A bad source is
// logged and skipped; it never stops the others.
func buildRegistry(cfg *config.Config, logger *logging.Logger) *sources.Registry {
	registry := sources.NewRegistry(logger)

	for i := range cfg.Sources {
		sc := &cfg.Sources[i]
		if err := config.ValidateSource(sc); err != nil {
			logger.Warn("Skipping source", "source", sc.ID, "error", err)
			continue
		}

		if sc.Config == nil {
			sc.Config = make(map[string]interface{})
		}
		sc.Config["logger"] = logger

		adapter, err := sources.Create(sc.Adapter, sc.Config)
		if err != nil {
			logger.Warn("Failed to create adapter", "source", sc.ID, "adapter", sc.Adapter, "error", err)
			continue
		}
		if err := adapter.Validate(); err != nil {
			logger.Warn("Adapter configuration invalid", "source", sc.ID, "adapter", sc.Adapter, "error", err)
			continue
		}

		status := sources.StatusActive
		if !sc.Enabled {
			status = sources.StatusInactive
		}
		err = registry.Add(sources.SourceConfig{
			ID:              sc.ID,
			Name:            sc.Name,
			Type:            sources.SourceType(sc.Type),
			Weight:          sc.WeightValue(),
			Status:          status,
			SupportedAssets: sc.SupportedAssets,
			Policy: sources.Policy{
				Timeout:          sc.Timeout.ToDuration(),
				UpdateInterval:   sc.UpdateInterval.ToDuration(),
				FailureThreshold: sc.FailureThreshold,
				Cooldown:         sc.CooldownValue(),
			},
		}, adapter)
		if err != nil {
			logger.Warn("Failed to register source", "source", sc.ID, "error", err)
			continue
		}
		logger.Info("Source registered", "source", sc.ID, "adapter", sc.Adapter, "weight", sc.WeightValue(), "status", string(status))
	}
	return registry
}

func addPairs(eng *engine.Engine, cfg *config.Config, logger *logging.Logger) {
	for i := range cfg.Pairs {
		pc := &cfg.Pairs[i]
		if err := config.ValidatePair(pc); err != nil {
			logger.Warn("Skipping pair", "pair", pc.Key(), "error", err)
			continue
		}
		err := eng.AddPair(engine.PairSettings{
			Pair: aggregator.PairConfig{
				Symbol:           pc.Symbol,
				BaseCurrency:     pc.BaseCurrency,
				MaxStaleness:     pc.MaxStaleness.ToDuration(),
				OutlierThreshold: pc.OutlierThresholdPercent / 100,
				WidenFactor:      pc.WidenFactor,
				MinSources:       pc.MinSources,
				MaxClockSkew:     cfg.Engine.MaxClockSkew.ToDuration(),
			},
			HistoryIntervals: pc.HistoryIntervals,
			HistoryRetention: pc.HistoryRetention,
		})
		if err != nil {
			logger.Warn("Skipping pair", "pair", pc.Key(), "error", err)
			continue
		}
		logger.Info("Pair registered", "pair", pc.Key(), "intervals", pc.HistoryIntervals)
	}
}

// buildPublishers connects the enabled downstream systems. A configured
// publisher that cannot connect is fatal.
func buildPublishers(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*publish.Multi, publish.HistoryStore, error) {
	multi := publish.NewMulti()
	var store publish.HistoryStore

	if k := cfg.Publish.Kafka; k.Enabled {
		p, err := publish.NewKafkaPublisher(publish.KafkaOptions{
			Brokers:      k.Brokers,
			PriceTopic:   k.PriceTopic,
			HistoryTopic: k.HistoryTopic,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("kafka: %w", err)
		}
		multi.Add(p)
		logger.Info("Publishing to Kafka", "brokers", k.Brokers)
	}

	if r := cfg.Publish.Redis; r.Enabled {
		p, err := publish.NewRedisPublisher(ctx, publish.RedisOptions{
			Addr:     r.Addr,
			Password: r.Password,
			DB:       r.DB,
			Prefix:   r.Prefix,
			TTL:      r.TTL.ToDuration(),
			Channel:  r.Channel,
		}, logger)
		if err != nil {
			_ = multi.Close()
			return nil, nil, fmt.Errorf("redis: %w", err)
		}
		multi.Add(p)
		logger.Info("Publishing to Redis", "addr", r.Addr)
	}

	if c := cfg.Publish.ClickHouse; c.Enabled {
		s, err := publish.NewClickHouseStore(ctx, publish.ClickHouseOptions{
			Addr:     c.Addr,
			Database: c.Database,
			Username: c.Username,
			Password: c.Password,
			Table:    c.Table,
		}, logger)
		if err != nil {
			_ = multi.Close()
			return nil, nil, fmt.Errorf("clickhouse: %w", err)
		}
		if err := s.EnsureSchema(ctx); err != nil {
			_ = s.Close()
			_ = multi.Close()
			return nil, nil, fmt.Errorf("clickhouse: %w", err)
		}
		multi.Add(s)
		store = s
		logger.Info("Persisting history to ClickHouse", "addr", c.Addr)
	}

	return multi, store, nil
}

func printOnce(ctx context.Context, eng *engine.Engine) error {
	prices := eng.RunAll(ctx)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(prices)
}
