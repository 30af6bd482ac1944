// Package settingsvc implements the typed, validated, TTL-cached settings
// store described in spec.md §4.7. Writes are checked against the setting's
// declared Constraints before they commit; a successful write invalidates
// the cache entry so the next read observes it immediately. A key the
// catalog does not hold falls back to the env var VLOG_<KEY_UPPER>, with any
// category prefix stripped before uppercasing, parsed according to the
// setting's declared type; a parse failure yields the caller-supplied
// default instead of an error.
package settingsvc

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"

	"vlog/internal/apierr"
	"vlog/internal/catalog"
	"vlog/internal/models"
)

type cacheEntry struct {
	setting   models.Setting
	expiresAt time.Time
}

// Service is the typed settings facade used by the coordinator and CLI.
type Service struct {
	repo catalog.Repository
	ttl  time.Duration

	validate *validator.Validate

	mu    sync.RWMutex
	cache map[string]cacheEntry

	group singleflight.Group
}

// New constructs a Service with the given cache TTL (defaulting to 30s).
func New(repo catalog.Repository, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Service{
		repo:     repo,
		ttl:      ttl,
		validate: validator.New(),
		cache:    make(map[string]cacheEntry),
	}
}

// Get returns the current value for key, consulting the cache first, then
// the catalog, then the environment, falling back to defaultValue.
func (s *Service) Get(ctx context.Context, key string, defaultValue string) (string, error) {
	if cached, ok := s.cachedValue(key); ok {
		return cached.Value, nil
	}

	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		setting, err := s.repo.GetSetting(ctx, key)
		if err != nil {
			if apierr.Of(err) == apierr.NotFound {
				return models.Setting{}, err
			}
			return models.Setting{}, err
		}
		s.store(setting)
		return setting, nil
	})
	if err == nil {
		return v.(models.Setting).Value, nil
	}
	if apierr.Of(err) != apierr.NotFound {
		return "", err
	}

	if envVal, ok := lookupEnv(key); ok {
		return envVal, nil
	}
	return defaultValue, nil
}

// GetTyped parses Get's result according to typ, returning defaultValue on
// any parse failure rather than an error — matching the original's
// "failure to parse yields the provided default" behavior.
func (s *Service) GetTyped(ctx context.Context, key string, typ models.SettingType, defaultValue string) string {
	raw, err := s.Get(ctx, key, defaultValue)
	if err != nil {
		return defaultValue
	}
	if !validTyped(typ, raw) {
		return defaultValue
	}
	return raw
}

// GetInt is a convenience wrapper over GetTyped for SettingInt values.
func (s *Service) GetInt(ctx context.Context, key string, defaultValue int) int {
	raw := s.GetTyped(ctx, key, models.SettingInt, strconv.Itoa(defaultValue))
	n, err := strconv.Atoi(raw)
	if err != nil {
		return defaultValue
	}
	return n
}

// GetBool is a convenience wrapper over GetTyped for SettingBool values.
func (s *Service) GetBool(ctx context.Context, key string, defaultValue bool) bool {
	raw := s.GetTyped(ctx, key, models.SettingBool, strconv.FormatBool(defaultValue))
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return defaultValue
	}
	return b
}

// Put validates setting's shape, then its value against its constraints,
// and if both pass, commits it and invalidates the cache entry.
func (s *Service) Put(ctx context.Context, setting models.Setting, updatedBy string) error {
	if err := s.validate.Struct(setting); err != nil {
		return apierr.New(apierr.Validation, err.Error())
	}
	if err := Validate(setting); err != nil {
		return apierr.New(apierr.Validation, err.Error())
	}
	setting.UpdatedAt = time.Now().UTC()
	setting.UpdatedBy = updatedBy
	if err := s.repo.PutSetting(ctx, setting); err != nil {
		return err
	}
	s.invalidate(setting.Key)
	return nil
}

// List proxies to the catalog, unfiltered by cache (listing is rare and
// always meant to reflect committed state).
func (s *Service) List(ctx context.Context, category string) ([]models.Setting, error) {
	return s.repo.ListSettings(ctx, category)
}

func (s *Service) cachedValue(key string) (models.Setting, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.cache[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return models.Setting{}, false
	}
	return entry.setting, true
}

func (s *Service) store(setting models.Setting) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[setting.Key] = cacheEntry{setting: setting, expiresAt: time.Now().Add(s.ttl)}
}

func (s *Service) invalidate(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, key)
}

// envName converts a dotted, category-namespaced key like
// "transcoding.hls_segment_duration" into "VLOG_HLS_SEGMENT_DURATION": the
// first dot-delimited segment (the category) is dropped, the rest is
// upper-cased with dots folded to underscores.
func envName(key string) string {
	parts := strings.SplitN(key, ".", 2)
	rest := key
	if len(parts) == 2 {
		rest = parts[1]
	}
	rest = strings.ReplaceAll(rest, ".", "_")
	return "VLOG_" + strings.ToUpper(rest)
}

func lookupEnv(key string) (string, bool) {
	return os.LookupEnv(envName(key))
}

func validTyped(typ models.SettingType, raw string) bool {
	switch typ {
	case models.SettingInt:
		_, err := strconv.Atoi(raw)
		return err == nil
	case models.SettingFloat:
		_, err := strconv.ParseFloat(raw, 64)
		return err == nil
	case models.SettingBool:
		_, err := strconv.ParseBool(raw)
		return err == nil
	default:
		return true
	}
}

// Validate checks setting.Value against setting.Constraints for
// setting.Type, returning a descriptive error on the first violation.
func Validate(setting models.Setting) error {
	c := setting.Constraints
	switch setting.Type {
	case models.SettingInt, models.SettingFloat:
		f, err := strconv.ParseFloat(setting.Value, 64)
		if err != nil {
			return fmt.Errorf("value %q is not numeric", setting.Value)
		}
		if c.Min != nil && f < *c.Min {
			return fmt.Errorf("value %v is below minimum %v", f, *c.Min)
		}
		if c.Max != nil && f > *c.Max {
			return fmt.Errorf("value %v is above maximum %v", f, *c.Max)
		}
	case models.SettingBool:
		if _, err := strconv.ParseBool(setting.Value); err != nil {
			return fmt.Errorf("value %q is not a bool", setting.Value)
		}
	case models.SettingEnum:
		if len(c.EnumValues) > 0 && !contains(c.EnumValues, setting.Value) {
			return fmt.Errorf("value %q is not one of %v", setting.Value, c.EnumValues)
		}
	case models.SettingString, models.SettingJSON:
		if c.MinLength != nil && len(setting.Value) < *c.MinLength {
			return fmt.Errorf("value shorter than minimum length %d", *c.MinLength)
		}
		if c.MaxLength != nil && len(setting.Value) > *c.MaxLength {
			return fmt.Errorf("value longer than maximum length %d", *c.MaxLength)
		}
		if c.Pattern != "" {
			if ok, err := matchPattern(c.Pattern, setting.Value); err != nil {
				return fmt.Errorf("invalid pattern %q: %w", c.Pattern, err)
			} else if !ok {
				return fmt.Errorf("value %q does not match pattern %q", setting.Value, c.Pattern)
			}
		}
	}
	return nil
}

func matchPattern(pattern, value string) (bool, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, err
	}
	return re.MatchString(value), nil
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
