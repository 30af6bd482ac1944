package agent

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the static configuration a worker process needs to run.
// Priority, highest first: environment variables, config file, defaults.
type Config struct {
	CoordinatorURL    string        `mapstructure:"coordinator_url"`
	WorkerName        string        `mapstructure:"worker_name"`
	StateFile         string        `mapstructure:"state_file"`
	TempDir           string        `mapstructure:"temp_dir"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	MaxConcurrentJobs int           `mapstructure:"max_concurrent_jobs"`
	LogLevel          string        `mapstructure:"log_level"`

	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	FFmpegBin  string `mapstructure:"ffmpeg_bin"`
	FFprobeBin string `mapstructure:"ffprobe_bin"`
	LogPath    string `mapstructure:"log_path"`
}

// Load reads configuration from a config.yml under path and the environment,
// env vars taking precedence (VLOGWK_COORDINATOR_URL overrides
// coordinator_url, etc).
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("temp_dir", "/tmp/vlog-worker")
	v.SetDefault("state_file", "/var/lib/vlog-worker/identity.json")
	v.SetDefault("heartbeat_interval", "10s")
	v.SetDefault("poll_interval", "5s")
	v.SetDefault("max_concurrent_jobs", 1)
	v.SetDefault("log_level", "info")
	v.SetDefault("redis_addr", "127.0.0.1:6379")
	v.SetDefault("redis_db", 0)
	v.SetDefault("ffmpeg_bin", "ffmpeg")
	v.SetDefault("ffprobe_bin", "ffprobe")
	v.SetDefault("coordinator_url", "")
	v.SetDefault("worker_name", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("log_path", "")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(path)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("VLOGWK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.CoordinatorURL == "" {
		return errors.New("configuration 'coordinator_url' is required")
	}
	if cfg.WorkerName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("worker_name not set and unable to retrieve hostname: %w", err)
		}
		cfg.WorkerName = hostname
	}
	if err := os.MkdirAll(cfg.TempDir, 0o750); err != nil {
		return fmt.Errorf("unable to create temp_dir at %s: %w", cfg.TempDir, err)
	}
	return nil
}
