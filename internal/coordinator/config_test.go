package coordinator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadProcessConfig_RequiresAdminSharedSecret(t *testing.T) {
	_, err := LoadProcessConfig(t.TempDir())
	require.ErrorContains(t, err, "admin_shared_secret")
}

func TestLoadProcessConfig_RequiresPostgresDSNWhenDriverIsPostgres(t *testing.T) {
	t.Setenv("VLOGCO_ADMIN_SHARED_SECRET", "s3cr3t")
	t.Setenv("VLOGCO_STORAGE_DRIVER", "postgres")
	_, err := LoadProcessConfig(t.TempDir())
	require.ErrorContains(t, err, "postgres_dsn")
}

func TestLoadProcessConfig_DefaultsApplyWithMemoryDriver(t *testing.T) {
	t.Setenv("VLOGCO_ADMIN_SHARED_SECRET", "s3cr3t")
	cfg, err := LoadProcessConfig(t.TempDir())
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Addr)
	require.Equal(t, "memory", cfg.StorageDriver)
	require.Equal(t, 60, cfg.RateLimitRequestsPerWindow)
}

func TestLoadProcessConfig_EnvOverridesAddr(t *testing.T) {
	t.Setenv("VLOGCO_ADMIN_SHARED_SECRET", "s3cr3t")
	t.Setenv("VLOGCO_ADDR", ":9090")
	cfg, err := LoadProcessConfig(t.TempDir())
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.Addr)
}

