package main

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/header-rotator/internal/api"
	"github.com/header-rotator/internal/config"
	"github.com/header-rotator/internal/engine"
	"github.com/header-rotator/internal/health"
	"github.com/header-rotator/internal/metrics"
	"github.com/header-rotator/internal/persist"
	"github.com/header-rotator/internal/profile"
	"github.com/header-rotator/internal/proxy"
	"github.com/header-rotator/internal/telemetry"
	"github.com/header-rotator/internal/types"
	log "github.com/sirupsen/logrus"
)

const version = "1.0.0"

func main() {
	log.SetFormatter(&log.JSONFormatter{})
	log.SetLevel(log.InfoLevel)
	log.Infof("Starting Header Rotator Service v%s", version)

	// Load configuration
	cfg, err := config.Load("config.json")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Set log level
	if level, err := log.ParseLevel(cfg.Logging.Level); err == nil {
		log.SetLevel(level)
	}
	if cfg.Logging.Format == "text" {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	// Set GOMAXPROCS to use all available CPUs
	numCPU := runtime.NumCPU()
	runtime.GOMAXPROCS(numCPU)
	log.Infof("GOMAXPROCS set to %d", numCPU)

	// Initialize metrics
	metricsCollector := metrics.NewCollector(cfg.Metrics.Namespace)

	// Initialize the persistence adapter shared by health state and
	// sticky bindings
	adapter, err := persist.New(cfg.Persistence.Backend, cfg.Persistence.DSN)
	if err != nil {
		log.Fatalf("Failed to initialize persistence backend: %v", err)
	}
	defer adapter.Close()
	log.Infof("Persistence backend: %s", cfg.Persistence.Backend)

	// Initialize health store
	store := health.NewStore(adapter, cfg.Persistence.Namespace, cfg.Cooldown)

	// Load profiles
	profiles := loadProfiles(cfg)
	log.Infof("Loaded %d browser profiles", len(profiles.All()))

	// Load proxies
	proxies := proxy.NewProvider(loadLocalProxies(cfg))
	fetcher := proxy.NewFetcher(time.Duration(cfg.Providers.FetchTimeoutMs) * time.Millisecond)

	// Initialize telemetry
	publisher := telemetry.NewPublisher(cfg.Telemetry.Enabled, cfg.Telemetry.SampleRate)
	if cfg.Telemetry.LogEvents {
		publisher.Subscribe(telemetry.LogSink{})
	}
	if cfg.Metrics.Enabled {
		publisher.Subscribe(metrics.NewSink(metricsCollector))
	}

	// Initialize engine
	transport := engine.NewHTTPTransport(time.Duration(cfg.Retry.AttemptTimeoutMs) * time.Millisecond)
	eng, err := engine.New(cfg, profiles, proxies, store, adapter, transport, publisher)
	if err != nil {
		log.Fatalf("Failed to initialize engine: %v", err)
	}

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reload := func(ctx context.Context) error {
		refreshProxies(ctx, cfg, proxies, fetcher, metricsCollector)
		eng.RefreshRegistries(ctx)
		updatePoolGauges(ctx, eng, metricsCollector)
		return nil
	}

	// Start provider refresh loop
	go runRefreshLoop(ctx, reload, cfg.Providers.RefreshIntervalSec)

	// Start API server
	apiServer := api.NewServer(cfg, eng, metricsCollector, reload)
	go func() {
		if err := apiServer.Start(); err != nil {
			log.Fatalf("API server failed: %v", err)
		}
	}()

	log.Infof("Service started successfully on %s", cfg.API.Addr)

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down gracefully...")
	cancel()

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Errorf("API server shutdown error: %v", err)
	}

	log.Info("Shutdown complete")
}

// loadProfiles reads the configured profile file or remote feed, falling back
// to the builtin corpus when the source is missing or unreadable.
func loadProfiles(cfg *config.Config) *profile.Provider {
	if cfg.Providers.ProfileFile != "" {
		provider, err := profile.FromJSONFile(cfg.Providers.ProfileFile)
		if err != nil {
			log.Warnf("Failed to load profile file: %v (using builtin profiles)", err)
		} else {
			return provider
		}
	}
	if cfg.Providers.ProfileURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Providers.FetchTimeoutMs)*time.Millisecond)
		defer cancel()
		provider, err := profile.FromRemote(ctx, cfg.Providers.ProfileURL, time.Duration(cfg.Providers.FetchTimeoutMs)*time.Millisecond)
		if err != nil {
			log.Warnf("Failed to load profile feed: %v (using builtin profiles)", err)
		} else {
			return provider
		}
	}
	return profile.NewProvider(nil)
}

// loadLocalProxies merges the file and environment proxy sources. Remote
// feeds are fetched by the refresh loop.
func loadLocalProxies(cfg *config.Config) []types.ProxyEndpoint {
	endpoints := make([]types.ProxyEndpoint, 0)

	if cfg.Providers.ProxyFile != "" {
		fromFile, err := proxy.FromFile(cfg.Providers.ProxyFile)
		if err != nil {
			log.Warnf("Failed to load proxy file: %v", err)
		} else {
			log.Infof("Loaded %d proxies from %s", len(fromFile), cfg.Providers.ProxyFile)
			endpoints = append(endpoints, fromFile...)
		}
	}

	if cfg.Providers.ProxyEnv != "" {
		fromEnv := proxy.FromEnv(cfg.Providers.ProxyEnv)
		if len(fromEnv) > 0 {
			log.Infof("Loaded %d proxies from $%s", len(fromEnv), cfg.Providers.ProxyEnv)
			endpoints = append(endpoints, fromEnv...)
		}
	}

	return proxy.Deduplicate(endpoints)
}

func runRefreshLoop(ctx context.Context, reload api.ReloadFunc, intervalSeconds int) {
	// Run immediately on startup
	if err := reload(ctx); err != nil {
		log.Errorf("Initial refresh failed: %v", err)
	}

	ticker := time.NewTicker(time.Duration(intervalSeconds) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Refresh loop stopped")
			return
		case <-ticker.C:
			if err := reload(ctx); err != nil {
				log.Errorf("Refresh failed: %v", err)
			}
		}
	}
}

// refreshProxies re-fetches remote feeds, merges them with the local sources,
// and swaps the new pool into the provider.
func refreshProxies(ctx context.Context, cfg *config.Config, proxies *proxy.Provider, fetcher *proxy.Fetcher, collector *metrics.Collector) {
	start := time.Now()
	endpoints := loadLocalProxies(cfg)

	if len(cfg.Providers.ProxyURLs) > 0 {
		fetched, stats := fetcher.FetchAll(ctx, cfg.Providers.ProxyURLs)
		endpoints = append(endpoints, fetched...)
		for source, stat := range stats {
			collector.RecordProxiesScraped(source, stat.ProxiesFound)
		}
		log.Infof("Fetched %d proxies from %d remote feeds", len(fetched), len(cfg.Providers.ProxyURLs))
	}

	if len(endpoints) == 0 {
		log.Warn("No proxies found during refresh, keeping the previous pool")
		return
	}

	proxies.Replace(endpoints)
	log.Infof("Proxy pool refreshed: %d unique endpoints in %v", proxies.Size(), time.Since(start))
}

func updatePoolGauges(ctx context.Context, eng *engine.Engine, collector *metrics.Collector) {
	for _, kind := range []types.Kind{types.KindProfile, types.KindProxy} {
		states := eng.PoolState(ctx, kind)
		available := 0
		for _, state := range states {
			if state.Available {
				available++
			}
		}
		collector.SetPoolSize(string(kind), len(states))
		collector.SetPoolAvailable(string(kind), available)
	}
}
