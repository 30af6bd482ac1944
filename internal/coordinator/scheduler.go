package coordinator

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"vlog/internal/catalog"
	"vlog/internal/observability/metrics"
)

// ReaperConfig tunes the periodic sweep spec.md §4.3 describes: clearing
// expired claims, marking silent workers offline, and soft-failing stalled
// jobs.
type ReaperConfig struct {
	Interval     time.Duration
	OfflineAfter time.Duration
	StaleAfter   time.Duration
}

func (c ReaperConfig) withDefaults() ReaperConfig {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.OfflineAfter <= 0 {
		c.OfflineAfter = 90 * time.Second
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 5 * time.Minute
	}
	return c
}

// Reaper runs catalog.Repository.ReapExpiredClaims on a fixed interval
// until its context is canceled.
type Reaper struct {
	repo    catalog.Repository
	cfg     ReaperConfig
	metrics *metrics.Recorder
	log     zerolog.Logger
}

// NewReaper constructs a Reaper. metrics may be nil to skip instrumentation.
func NewReaper(repo catalog.Repository, cfg ReaperConfig, m *metrics.Recorder, log zerolog.Logger) *Reaper {
	if m == nil {
		m = metrics.Default()
	}
	return &Reaper{repo: repo, cfg: cfg.withDefaults(), metrics: m, log: log}
}

// Run blocks, sweeping every cfg.Interval until ctx is canceled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reaper) sweep(ctx context.Context) {
	now := time.Now().UTC()
	summary, err := r.repo.ReapExpiredClaims(ctx, now, r.cfg.OfflineAfter, r.cfg.StaleAfter)
	if err != nil {
		r.log.Warn().Err(err).Msg("reaper sweep failed")
		return
	}
	for i := 0; i < summary.ClaimsExpired; i++ {
		r.metrics.JobReaped()
	}
	if summary.ClaimsExpired > 0 || summary.WorkersOffline > 0 || summary.StalledRetried > 0 {
		r.log.Info().
			Int("claims_expired", summary.ClaimsExpired).
			Int("workers_offline", summary.WorkersOffline).
			Int("stalled_retried", summary.StalledRetried).
			Msg("reaper sweep completed")
	}
}
