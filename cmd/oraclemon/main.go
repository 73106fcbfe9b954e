package main

import (
	"OracleMon/internal/identity"
	"OracleMon/internal/monitor"
	"OracleMon/internal/node"
	"OracleMon/internal/observability"
	"OracleMon/internal/persistence"
	"OracleMon/internal/publish"
	"OracleMon/internal/reconcile"
	"OracleMon/internal/registry"
	"OracleMon/internal/scanner"
	"OracleMon/internal/timeseries"
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config holds all daemon configuration, loaded from environment variables.
type Config struct {
	// Consensus node candidates, tried in order.
	Nodes []string

	// Snapshot artifact location.
	SnapshotPath string

	// Optional price-history Postgres. Empty disables forwarding.
	PostgresDSN string
	// Optional NATS for outbound events. Empty disables publishing.
	NATSURL string
	// Optional identity service. Empty leaves sender identities unresolved.
	IdentityURL string

	MetricsAddr string
	SourceTag   string

	MigrationsDir string

	// Loop timer intervals, in seconds. Zero falls back to the monitor's
	// defaults.
	PollSeconds      int
	StatsSeconds     int
	RecheckSeconds   int
	HeartbeatSeconds int
}

func DefaultConfig() Config {
	return Config{
		Nodes:         splitNodes(envOrDefault("ORACLEMON_NODES", "127.0.0.1:21841")),
		SnapshotPath:  envOrDefault("ORACLEMON_SNAPSHOT_PATH", "data/oraclemon-snapshot.json"),
		PostgresDSN:   os.Getenv("ORACLEMON_PG_DSN"),
		NATSURL:       os.Getenv("ORACLEMON_NATS_URL"),
		IdentityURL:   os.Getenv("ORACLEMON_IDENTITY_URL"),
		MetricsAddr:   envOrDefault("ORACLEMON_METRICS_ADDR", ":9091"),
		SourceTag:     envOrDefault("ORACLEMON_SOURCE_TAG", "oraclemon"),
		MigrationsDir: envOrDefault("ORACLEMON_MIGRATIONS_DIR", "migrations"),

		PollSeconds:      envIntOrDefault("ORACLEMON_POLL_INTERVAL_SECONDS", 0),
		StatsSeconds:     envIntOrDefault("ORACLEMON_STATS_INTERVAL_SECONDS", 0),
		RecheckSeconds:   envIntOrDefault("ORACLEMON_RECHECK_INTERVAL_SECONDS", 0),
		HeartbeatSeconds: envIntOrDefault("ORACLEMON_HEARTBEAT_INTERVAL_SECONDS", 0),
	}
}

func (c Config) monitorConfig() monitor.Config {
	return monitor.Config{
		PollInterval:      time.Duration(c.PollSeconds) * time.Second,
		StatsInterval:     time.Duration(c.StatsSeconds) * time.Second,
		RecheckInterval:   time.Duration(c.RecheckSeconds) * time.Second,
		HeartbeatInterval: time.Duration(c.HeartbeatSeconds) * time.Second,
	}
}

func main() {
	modeFlag := flag.String("mode", "watch", "startup mode: watch, catchup, or reset")
	flag.Parse()

	logger := observability.NewLogger("main")

	mode, err := monitor.ParseMode(*modeFlag)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid mode")
	}

	cfg := DefaultConfig()
	if len(cfg.Nodes) == 0 {
		logger.Fatal().Msg("ORACLEMON_NODES is empty")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
		cancel()
	}()

	metrics := observability.NewMetrics()
	health := observability.NewHealthChecker()

	// --- Node client ---
	client := node.NewClient(cfg.Nodes, observability.NewLogger("node"), metrics)
	defer client.Close()

	// --- Optional sender identity resolution ---
	var resolver identity.Resolver
	if cfg.IdentityURL != "" {
		resolver = identity.NewHTTPResolver(cfg.IdentityURL, observability.NewLogger("identity"))
	}

	// --- Optional price-history store ---
	var prices *timeseries.PriceSink
	if cfg.PostgresDSN != "" {
		db, err := timeseries.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("price store connect failed")
		}
		defer db.Close()

		migrator := timeseries.NewMigrator(db, cfg.MigrationsDir, observability.NewLogger("migrate"))
		if err := migrator.Up(ctx); err != nil {
			logger.Fatal().Err(err).Msg("price store migrations failed")
		}
		prices = timeseries.NewPriceSink(db, cfg.SourceTag, observability.NewLogger("timeseries"), metrics)
		logger.Info().Msg("price forwarding enabled")
	} else {
		logger.Info().Msg("no ORACLEMON_PG_DSN, price forwarding disabled")
	}

	// --- Optional outbound events ---
	var events *publish.Publisher
	if cfg.NATSURL != "" {
		nc, js, err := publish.Connect(cfg.NATSURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("nats connect failed")
		}
		defer nc.Close()
		if err := publish.EnsureStream(ctx, js); err != nil {
			logger.Fatal().Err(err).Msg("ensure events stream failed")
		}
		events = publish.New(js, observability.NewLogger("publish"), metrics)
		logger.Info().Msg("event publishing enabled")
	} else {
		logger.Info().Msg("no ORACLEMON_NATS_URL, event publishing disabled")
	}

	// --- Core components ---
	reg := registry.New(observability.NewLogger("registry"))
	sc := scanner.New(client, reg, resolver, observability.NewLogger("scanner"), metrics)
	rec := reconcile.New(client, reg, sc, observability.NewLogger("reconcile"), metrics)
	snapshots := persistence.NewSnapshotWriter(cfg.SnapshotPath, observability.NewLogger("persistence"), metrics)

	mon := monitor.New(mode, cfg.monitorConfig(), client, reg, sc, rec,
		snapshots, prices, events, health, observability.NewLogger("monitor"), metrics)

	// --- Metrics + health server ---
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.LivenessHandler)
	mux.HandleFunc("/readyz", health.ReadinessHandler)
	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	go func() {
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()
	defer func() {
		shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		srv.Shutdown(shutCtx)
	}()

	// --- Bootstrap + run ---
	logger.Info().
		Str("mode", string(mode)).
		Strs("nodes", cfg.Nodes).
		Str("snapshot", cfg.SnapshotPath).
		Msg("oraclemon starting")

	if err := mon.Bootstrap(ctx); err != nil {
		logger.Fatal().Err(err).Msg("bootstrap failed")
	}
	logger.Info().Msg("bootstrap complete")

	if mode == monitor.ModeCatchup {
		logger.Info().Msg("catchup mode, snapshot written, exiting")
		return
	}

	if err := mon.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("monitor exited with error")
	}
	logger.Info().Msg("oraclemon shutdown complete")
}

func splitNodes(s string) []string {
	var nodes []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			nodes = append(nodes, part)
		}
	}
	return nodes
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOrDefault(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}
