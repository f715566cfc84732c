package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rule-broker/config"
	"rule-broker/internal/broker"
	"rule-broker/internal/broker/mqtt"
	"rule-broker/internal/broker/nats"
	"rule-broker/internal/httpapi"
	"rule-broker/internal/ingest"
	"rule-broker/internal/logger"
	"rule-broker/internal/metrics"
	"rule-broker/internal/persistence"
	"rule-broker/internal/reading"
	"rule-broker/internal/rule"
	"rule-broker/internal/stats"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")

	// Optional override flags
	httpAddrOverride := flag.String("http-addr", "", "override REST API address (empty = use config)")
	metricsAddrOverride := flag.String("metrics-addr", "", "override metrics server address (empty = use config)")
	metricsPathOverride := flag.String("metrics-path", "", "override metrics endpoint path (empty = use config)")
	metricsIntervalOverride := flag.Duration("metrics-interval", 0, "override metrics collection interval (0 = use config)")
	cascadeOverride := flag.Int("max-cascade-depth", -1, "override max cascade depth (-1 = use config)")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	cfg.ApplyOverrides(
		*httpAddrOverride,
		*metricsAddrOverride,
		*metricsPathOverride,
		*metricsIntervalOverride,
		*cascadeOverride,
	)

	logger, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var metricsService *metrics.Metrics
	var metricsCollector *metrics.MetricsCollector
	var metricsServer *http.Server

	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		metricsService, err = metrics.NewMetrics(reg)
		if err != nil {
			logger.Fatal("failed to create metrics service", "error", err)
		}

		updateInterval, err := time.ParseDuration(cfg.Metrics.UpdateInterval)
		if err != nil {
			logger.Fatal("invalid metrics update interval", "error", err)
		}
		metricsCollector = metrics.NewMetricsCollector(metricsService, updateInterval)

		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{
			Registry:          reg,
			EnableOpenMetrics: true,
		}))
		metricsServer = &http.Server{
			Addr:              cfg.Metrics.Address,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			logger.Info("starting metrics server",
				"address", cfg.Metrics.Address,
				"path", cfg.Metrics.Path)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server error", "error", err)
			}
		}()
	}

	statsCollector := stats.NewStatsCollector()

	readingStore, err := openReadingStore(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to open reading store", "error", err)
	}
	defer readingStore.Close()

	ruleStore, err := openRuleStore(cfg, logger)
	if err != nil {
		logger.Fatal("failed to open rule store", "error", err)
	}
	defer ruleStore.Close()

	seeded := seedRules(ctx, cfg.RulesPath, ruleStore, logger)

	if metricsCollector != nil {
		metricsCollector.AddSource(func(m *metrics.Metrics) {
			if n, err := ruleStore.CountActive(ctx); err == nil {
				m.SetRulesActive(float64(n))
			}
		})
		metricsCollector.Start()
		defer metricsCollector.Stop()
	}

	// ingest and the engine depend on each other through the executor
	svc := ingest.NewService(readingStore, cfg.Processing.MaxCascadeDepth, logger, metricsService, statsCollector)
	executor := rule.NewExecutor(svc, &http.Client{Timeout: cfg.WebHookTimeout()}, logger, metricsService)
	engine := rule.NewEngine(ruleStore, readingStore, executor, logger, metricsService, statsCollector)
	svc.SetEvaluator(engine)

	deviceBroker, err := openBroker(&cfg.Broker, svc, logger, metricsService)
	if err != nil {
		logger.Fatal("failed to create broker", "error", err)
	}
	if deviceBroker != nil {
		svc.SetPublisher(deviceBroker)
		if err := deviceBroker.Start(ctx); err != nil {
			logger.Fatal("failed to start broker", "error", err)
		}
	}

	server := httpapi.NewServer(cfg.HTTP.Address, httpapi.Dependencies{
		Ingest:   svc,
		Readings: readingStore,
		Rules:    ruleStore,
		Clients:  cfg.Clients,
		Stats:    statsCollector,
		Logger:   logger,
	})
	go func() {
		if err := server.Start(); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	logger.Info("rule-broker started",
		"httpAddress", cfg.HTTP.Address,
		"readingStore", cfg.Storage.Readings.Backend,
		"ruleStore", cfg.Storage.Rules.Backend,
		"broker", cfg.Broker.Type,
		"maxCascadeDepth", cfg.Processing.MaxCascadeDepth,
		"rulesSeeded", seeded,
		"clients", len(cfg.Clients),
		"metricsEnabled", cfg.Metrics.Enabled)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		select {
		case <-ctx.Done():
			logger.Info("context cancelled, shutting down")
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				logger.Info("received SIGHUP, reopening logs")
				logger.Sync()
				continue
			}
			logger.Info("shutting down...", "signal", sig.String())
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)

		cancel()
		if deviceBroker != nil {
			deviceBroker.Close()
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown http server", "error", err)
		}
		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("failed to shutdown metrics server", "error", err)
			}
		}

		shutdownCancel()
		return
	}
}

func openReadingStore(ctx context.Context, cfg *config.Config) (reading.Store, error) {
	if cfg.Storage.Readings.Backend != config.BackendRedis {
		return reading.NewMemoryStore(), nil
	}

	redisCfg := cfg.Storage.Readings.Redis
	client, err := reading.NewRedisClient(ctx, reading.RedisOptions{
		Address:  redisCfg.Address,
		Password: redisCfg.Password,
		DB:       redisCfg.DB,
	})
	if err != nil {
		return nil, err
	}
	return reading.NewRedisStore(client, redisCfg.KeyPrefix), nil
}

func openRuleStore(cfg *config.Config, log *logger.Logger) (rule.Store, error) {
	if cfg.Storage.Rules.Backend == config.BackendSQLite {
		return persistence.OpenSQLite(cfg.Storage.Rules.DSN, log)
	}
	return rule.NewRuleIndex(log), nil
}

// seedRules loads rule files into the store. Rules whose id is already
// stored are skipped, so a persistent store can be seeded on every start.
func seedRules(ctx context.Context, path string, store rule.Store, log *logger.Logger) int {
	if path == "" {
		return 0
	}

	rules, err := rule.NewRulesLoader(log).LoadFromDirectory(path)
	if err != nil {
		log.Fatal("failed to load rules", "path", path, "error", err)
	}

	added := 0
	for i := range rules {
		if _, err := store.Add(ctx, &rules[i]); err != nil {
			if errors.Is(err, rule.ErrDuplicateRule) {
				log.Debug("seed rule already stored", "ruleId", rules[i].ID)
				continue
			}
			log.Fatal("failed to seed rule", "name", rules[i].Name, "error", err)
		}
		added++
	}
	return added
}

func openBroker(cfg *config.BrokerConfig, submit broker.Submitter, log *logger.Logger, m *metrics.Metrics) (broker.Broker, error) {
	switch cfg.Type {
	case config.BrokerMQTT:
		b, err := mqtt.NewBroker(cfg, submit, log, m)
		if err != nil {
			return nil, err
		}
		return b, nil
	case config.BrokerNATS:
		b, err := nats.NewBroker(cfg, submit, log, m)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, nil
	}
}
