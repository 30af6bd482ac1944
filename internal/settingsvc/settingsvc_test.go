package settingsvc

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"vlog/internal/catalog"
	"vlog/internal/models"
)

func TestGet_FallsBackToEnvVarWithCategoryPrefixStripped(t *testing.T) {
	repo := catalog.NewMemoryRepository()
	svc := New(repo, time.Minute)

	t.Setenv("VLOG_HLS_SEGMENT_DURATION", "6")

	val, err := svc.Get(context.Background(), "transcoding.hls_segment_duration", "4")
	require.NoError(t, err)
	require.Equal(t, "6", val)
}

func TestGet_FallsBackToDefaultWhenEnvUnset(t *testing.T) {
	repo := catalog.NewMemoryRepository()
	svc := New(repo, time.Minute)

	os.Unsetenv("VLOG_MISSING_KEY")
	val, err := svc.Get(context.Background(), "category.missing_key", "fallback")
	require.NoError(t, err)
	require.Equal(t, "fallback", val)
}

func TestPut_RejectsOutOfRangeValue(t *testing.T) {
	repo := catalog.NewMemoryRepository()
	svc := New(repo, time.Minute)

	min := 1.0
	max := 10.0
	err := svc.Put(context.Background(), models.Setting{
		Key:   "transcoding.max_parallel_jobs",
		Type:  models.SettingInt,
		Value: "50",
		Constraints: models.SettingConstraints{
			Min: &min,
			Max: &max,
		},
	}, "admin")
	require.Error(t, err)
}

func TestPut_RejectsMissingCategory(t *testing.T) {
	repo := catalog.NewMemoryRepository()
	svc := New(repo, time.Minute)

	err := svc.Put(context.Background(), models.Setting{
		Key:   "transcoding.preset",
		Type:  models.SettingEnum,
		Value: "fast",
		Constraints: models.SettingConstraints{
			EnumValues: []string{"fast", "medium", "slow"},
		},
	}, "admin")
	require.Error(t, err, "Category is a required field; struct-shape validation must reject its absence before constraint checks ever run")
}

func TestPut_ThenGet_ReflectsWriteImmediately(t *testing.T) {
	repo := catalog.NewMemoryRepository()
	svc := New(repo, time.Hour)

	require.NoError(t, svc.Put(context.Background(), models.Setting{
		Key:      "transcoding.preset",
		Type:     models.SettingEnum,
		Value:    "fast",
		Category: "transcoding",
		Constraints: models.SettingConstraints{
			EnumValues: []string{"fast", "medium", "slow"},
		},
	}, "admin"))

	val, err := svc.Get(context.Background(), "transcoding.preset", "")
	require.NoError(t, err)
	require.Equal(t, "fast", val)

	require.NoError(t, svc.Put(context.Background(), models.Setting{
		Key:      "transcoding.preset",
		Type:     models.SettingEnum,
		Value:    "slow",
		Category: "transcoding",
		Constraints: models.SettingConstraints{
			EnumValues: []string{"fast", "medium", "slow"},
		},
	}, "admin"))

	val, err = svc.Get(context.Background(), "transcoding.preset", "")
	require.NoError(t, err)
	require.Equal(t, "slow", val, "a write must invalidate the cache so the next read sees it")
}

func TestGetInt_FallsBackOnUnparsableStoredValue(t *testing.T) {
	repo := catalog.NewMemoryRepository()
	svc := New(repo, time.Minute)

	n := svc.GetInt(context.Background(), "transcoding.max_parallel_jobs", 3)
	require.Equal(t, 3, n)
}

func TestValidate_EnumRejectsUnknownValue(t *testing.T) {
	err := Validate(models.Setting{
		Type:  models.SettingEnum,
		Value: "ultra",
		Constraints: models.SettingConstraints{
			EnumValues: []string{"fast", "medium", "slow"},
		},
	})
	require.Error(t, err)
}

func TestValidate_PatternMustMatch(t *testing.T) {
	err := Validate(models.Setting{
		Type:  models.SettingString,
		Value: "not-an-email",
		Constraints: models.SettingConstraints{
			Pattern: `^[^@]+@[^@]+\.[^@]+$`,
		},
	})
	require.Error(t, err)
}
