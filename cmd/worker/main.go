// Command worker runs one transcoding worker agent: it registers with the
// coordinator, heartbeats, claims jobs, and runs the ffmpeg pipeline for
// each one it's assigned, while a separate goroutine listens for
// out-of-band commands (restart/update/get_logs/get_metrics).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"vlog/internal/agent"
	"vlog/internal/eventbus"
	"vlog/internal/observability/logging"
)

func main() {
	configPath := flag.String("config", ".", "directory to search for config.yml")
	flag.Parse()

	cfg, err := agent.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}

	log := logging.WithComponent(logging.Init(logging.Config{Level: cfg.LogLevel}), "worker")

	if err := run(log, cfg); err != nil {
		log.Fatal().Err(err).Msg("worker exited")
	}
}

func run(log zerolog.Logger, cfg *agent.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := agent.NewCoordinatorClient(cfg.CoordinatorURL, log)

	execAdapter := &jobExecutorAdapter{
		client:     client,
		tempRoot:   cfg.TempDir,
		ffmpegBin:  cfg.FFmpegBin,
		ffprobeBin: cfg.FFprobeBin,
		log:        log,
	}

	runner, err := agent.NewRunner(*cfg, client, execAdapter, log)
	if err != nil {
		return fmt.Errorf("build runner: %w", err)
	}

	workerID, err := runner.Bootstrap(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap worker identity: %w", err)
	}
	log.Info().Str("worker_id", workerID).Msg("worker starting")

	bus := eventbus.New(eventbus.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Logger:   log,
	})
	listener := agent.NewCommandListener(bus, workerID, cfg.LogPath, log)
	go listener.Run(ctx)

	return runner.Run(ctx)
}
