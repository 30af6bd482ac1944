package coordinator

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ProcessConfig holds the static bootstrap configuration cmd/coordinator
// needs before it can construct a Coordinator: listen address, storage
// driver selection, and the Redis/Postgres endpoints backing the event bus
// and catalog. Everything a running job can tune at runtime instead lives in
// internal/settingsvc, not here.
type ProcessConfig struct {
	Addr string `mapstructure:"addr"`

	StorageDriver string `mapstructure:"storage_driver"`
	PostgresDSN   string `mapstructure:"postgres_dsn"`

	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	VideosDir  string `mapstructure:"videos_dir"`
	SourcesDir string `mapstructure:"sources_dir"`

	AdminSharedSecret string        `mapstructure:"admin_shared_secret"`
	AdminSessionTTL   time.Duration `mapstructure:"admin_session_ttl"`

	AuditLogPath string `mapstructure:"audit_log_path"`

	RateLimitRequestsPerWindow int           `mapstructure:"rate_limit_requests_per_window"`
	RateLimitWindow            time.Duration `mapstructure:"rate_limit_window"`

	ReaperInterval     time.Duration `mapstructure:"reaper_interval"`
	ReaperOfflineAfter time.Duration `mapstructure:"reaper_offline_after"`
	ReaperStaleAfter   time.Duration `mapstructure:"reaper_stale_after"`

	LogLevel string `mapstructure:"log_level"`

	// TLSCertFile/TLSKeyFile enable TLS termination directly on the
	// coordinator's listener via internal/serverutil.Run. Both empty means
	// plain HTTP, left to a fronting proxy/load balancer.
	TLSCertFile string `mapstructure:"tls_cert_file"`
	TLSKeyFile  string `mapstructure:"tls_key_file"`
}

// LoadProcessConfig reads configuration from a config.yml under path and the
// environment, env vars taking precedence (VLOGCO_ADDR overrides addr,
// etc), mirroring internal/agent.Load's config-file-then-env convention.
func LoadProcessConfig(path string) (*ProcessConfig, error) {
	v := viper.New()

	v.SetDefault("addr", ":8080")
	v.SetDefault("storage_driver", "memory")
	v.SetDefault("redis_addr", "127.0.0.1:6379")
	v.SetDefault("redis_db", 0)
	v.SetDefault("videos_dir", "/var/lib/vlog-coordinator/videos")
	v.SetDefault("sources_dir", "/var/lib/vlog-coordinator/sources")
	v.SetDefault("admin_session_ttl", "24h")
	v.SetDefault("audit_log_path", "/var/log/vlog-coordinator/audit.log")
	v.SetDefault("rate_limit_requests_per_window", 60)
	v.SetDefault("rate_limit_window", "1m")
	v.SetDefault("reaper_interval", "30s")
	v.SetDefault("reaper_offline_after", "60s")
	v.SetDefault("reaper_stale_after", "5m")
	v.SetDefault("log_level", "info")
	v.SetDefault("postgres_dsn", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("admin_shared_secret", "")
	v.SetDefault("tls_cert_file", "")
	v.SetDefault("tls_key_file", "")

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

	v.SetEnvPrefix("VLOGCO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg ProcessConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if cfg.StorageDriver == "postgres" && cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("configuration 'postgres_dsn' is required when storage_driver is postgres")
	}
	if cfg.AdminSharedSecret == "" {
		return nil, fmt.Errorf("configuration 'admin_shared_secret' is required")
	}

	return &cfg, nil
}
