// Package coordinator implements the control plane spec.md §4.3 describes:
// job scheduling, the worker claim/lease lifecycle, the public video/HLS
// surface, the admin surface, and the ambient request boundary (request
// IDs, rate limiting, security headers, audit logging) that every route
// passes through.
package coordinator

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"vlog/internal/apikeys"
	"vlog/internal/catalog"
	"vlog/internal/eventbus"
	"vlog/internal/observability/metrics"
	"vlog/internal/settingsvc"
)

// Config gathers everything New needs to assemble a Coordinator.
type Config struct {
	Repo    catalog.Repository
	Bus     *eventbus.Bus
	Issuer  *apikeys.Issuer
	Settings *settingsvc.Service
	Metrics *metrics.Recorder
	Log     zerolog.Logger

	VideosDir  string
	SourcesDir string

	HeartbeatInterval time.Duration

	AdminSessionTTL    time.Duration
	AdminSharedSecret  string
	RateLimit          RateLimitConfig
	AuditLog           *AuditLog
	Reaper             ReaperConfig
}

// Coordinator holds every dependency the HTTP surface needs and exposes a
// ready-to-serve chi.Router via Routes.
type Coordinator struct {
	repo     catalog.Repository
	bus      *eventbus.Bus
	issuer   *apikeys.Issuer
	settings *settingsvc.Service
	metrics  *metrics.Recorder
	log      zerolog.Logger

	videosDir  string
	sourcesDir string

	heartbeatInterval time.Duration

	storageHealth  *StorageHealth
	analyticsCache *AnalyticsCache
	adminSessions  *AdminSessionStore
	audit          *AuditLog
	rateLimitCfg   RateLimitConfig
	ipResolver     *clientIPResolver

	reaper *Reaper
}

// New constructs a Coordinator from cfg, wiring the storage health probe,
// analytics cache, admin session store and reaper on top of the supplied
// repository.
func New(cfg Config) *Coordinator {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 10 * time.Second
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.Default()
	}
	c := &Coordinator{
		repo:              cfg.Repo,
		bus:               cfg.Bus,
		issuer:            cfg.Issuer,
		settings:          cfg.Settings,
		metrics:           m,
		log:               cfg.Log,
		videosDir:         cfg.VideosDir,
		sourcesDir:        cfg.SourcesDir,
		heartbeatInterval: cfg.HeartbeatInterval,
		storageHealth:     NewStorageHealth(cfg.VideosDir, 0),
		analyticsCache:    NewAnalyticsCache(cfg.Repo, 0),
		adminSessions:     NewAdminSessionStore(cfg.Repo, cfg.AdminSessionTTL, cfg.AdminSharedSecret),
		audit:             cfg.AuditLog,
		rateLimitCfg:      cfg.RateLimit,
		ipResolver:         newClientIPResolver(cfg.RateLimit),
	}
	c.reaper = NewReaper(cfg.Repo, cfg.Reaper, m, cfg.Log)
	return c
}

// Reaper exposes the background sweep so cmd/coordinator can run it on its
// own goroutine alongside the HTTP server.
func (c *Coordinator) Reaper() *Reaper { return c.reaper }

// Routes assembles the full chi.Router: request ID and security headers on
// everything, rate limiting on worker registration and the whole admin
// surface, audit logging on mutating admin routes,
// workerAuth guarding the worker RPCs, and AdminSessionStore guarding the
// admin surface.
func (c *Coordinator) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware(c.log))
	r.Use(securityHeaders)
	r.Use(func(next http.Handler) http.Handler { return metrics.HTTPMiddleware(c.metrics, next) })
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", c.Healthz)
	r.Get("/readyz", c.Readyz)
	r.Handle("/metrics", c.metrics.Handler())

	r.Route("/api/videos", func(api chi.Router) {
		api.Get("/", c.ListVideos)
		api.Get("/{slug}", c.GetVideoBySlug)
		api.Get("/{slug}/progress", c.VideoProgress)
	})
	r.Route("/api/categories", func(api chi.Router) {
		api.Get("/", c.ListCategories)
		api.Get("/{slug}", c.GetCategory)
	})
	r.Get("/videos/{slug}/*", c.ServeSegment)

	r.Route("/api/worker", func(wr chi.Router) {
		wr.With(rateLimitMiddleware(c.rateLimitCfg, c.ipResolver)).Post("/register", c.RegisterWorker)

		wr.Group(func(auth chi.Router) {
			auth.Use(workerAuth(c.issuer))
			auth.Post("/heartbeat", c.Heartbeat)
			auth.Post("/claim", c.ClaimJob)
			auth.Get("/source/{video_id}", c.StreamSource)
			auth.Post("/{job_id}/progress", c.ReportProgress)
			auth.Post("/upload-segment/{video_id}", c.UploadSegment)
			auth.Post("/finalize/{video_id}/{quality}", c.Finalize)
			auth.Post("/{job_id}/complete", c.CompleteJob)
			auth.Post("/{job_id}/fail", c.FailJob)
		})
	})

	r.Route("/api/admin", func(ar chi.Router) {
		ar.Use(rateLimitMiddleware(c.rateLimitCfg, c.ipResolver))
		ar.Use(auditMiddleware(c.audit, c.ipResolver))

		// Login issues the session the rest of the surface requires, so it
		// must run ahead of the session-gate middleware below.
		ar.Post("/login", c.AdminLogin)

		ar.Group(func(gated chi.Router) {
			gated.Use(c.adminSessions.Middleware)

			gated.Post("/logout", c.AdminLogout)

			gated.Post("/videos", c.AdminCreateVideo)
			gated.Get("/videos", c.AdminListVideos)
			gated.Delete("/videos/{id}", c.AdminDeleteVideo)
			gated.Post("/videos/{id}/retry", c.AdminRetryVideo)

			gated.Get("/workers", c.AdminListWorkers)
			gated.Post("/workers/{id}/revoke", c.AdminRevokeWorker)
			gated.Post("/workers/{id}/restart", c.AdminRestartWorker)
			gated.Post("/workers/{id}/update", c.AdminUpdateWorker)
			gated.Get("/workers/{id}/logs", c.AdminWorkerLogs)
			gated.Get("/workers/{id}/metrics", c.AdminWorkerMetrics)

			gated.Get("/settings", c.AdminListSettings)
			gated.Get("/settings/{key}", c.AdminGetSetting)
			gated.Put("/settings/{key}", c.AdminPutSetting)

			gated.Get("/analytics/overview", c.AdminAnalyticsOverview)
		})
	})

	return r
}

// Healthz is a liveness probe: the process is up.
func (c *Coordinator) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz reports whether storage is reachable.
func (c *Coordinator) Readyz(w http.ResponseWriter, r *http.Request) {
	if !c.storageHealth.Healthy(r.Context()) {
		w.Header().Set("Retry-After", "30")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "storage_unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
