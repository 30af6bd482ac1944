// Command coordinator runs the control plane: job scheduling, the worker
// claim/lease RPCs, the public video/HLS surface, and the admin surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"vlog/internal/apikeys"
	"vlog/internal/catalog"
	"vlog/internal/coordinator"
	"vlog/internal/eventbus"
	"vlog/internal/observability/logging"
	"vlog/internal/observability/metrics"
	"vlog/internal/serverutil"
	"vlog/internal/settingsvc"
)

func main() {
	configPath := flag.String("config", ".", "directory to search for config.yml")
	flag.Parse()

	cfg, err := coordinator.LoadProcessConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}

	log := logging.WithComponent(logging.Init(logging.Config{Level: cfg.LogLevel}), "coordinator")

	if err := run(log, cfg); err != nil {
		log.Fatal().Err(err).Msg("coordinator exited")
	}
}

func run(log zerolog.Logger, cfg *coordinator.ProcessConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := openRepository(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open repository: %w", err)
	}

	bus := eventbus.New(eventbus.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Logger:   log,
	})

	auditLog, err := coordinator.NewAuditLog(cfg.AuditLogPath, 0, 0, log)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}

	m := metrics.New()

	co := coordinator.New(coordinator.Config{
		Repo:     repo,
		Bus:      bus,
		Issuer:   apikeys.NewIssuer(repo),
		Settings: settingsvc.New(repo, 0),
		Metrics:  m,
		Log:      log,

		VideosDir:  cfg.VideosDir,
		SourcesDir: cfg.SourcesDir,

		AdminSessionTTL:   cfg.AdminSessionTTL,
		AdminSharedSecret: cfg.AdminSharedSecret,
		RateLimit: coordinator.RateLimitConfig{
			RequestsPerWindow: cfg.RateLimitRequestsPerWindow,
			Window:            cfg.RateLimitWindow,
		},
		AuditLog: auditLog,
		Reaper: coordinator.ReaperConfig{
			Interval:     cfg.ReaperInterval,
			OfflineAfter: cfg.ReaperOfflineAfter,
			StaleAfter:   cfg.ReaperStaleAfter,
		},
	})

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           co.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go co.Reaper().Run(ctx)

	log.Info().Str("addr", cfg.Addr).Msg("coordinator listening")
	err = serverutil.Run(ctx, serverutil.Config{
		Server:          httpServer,
		TLS:             serverutil.TLSConfig{CertFile: cfg.TLSCertFile, KeyFile: cfg.TLSKeyFile},
		ShutdownTimeout: 15 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func openRepository(ctx context.Context, cfg *coordinator.ProcessConfig) (catalog.Repository, error) {
	switch cfg.StorageDriver {
	case "postgres":
		return catalog.NewPostgresRepository(ctx, catalog.PostgresConfig{DSN: cfg.PostgresDSN})
	default:
		return catalog.NewMemoryRepository(), nil
	}
}
