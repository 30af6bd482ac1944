package coordinator

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"vlog/internal/apierr"
	"vlog/internal/catalog"
	"vlog/internal/models"
)

type qualityProgressView struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
}

type progressResponse struct {
	Status          string                `json:"status"`
	CurrentStep     string                `json:"current_step,omitempty"`
	ProgressPercent int                   `json:"progress_percent"`
	Qualities       []qualityProgressView `json:"qualities"`
	Attempt         int                   `json:"attempt"`
	MaxAttempts     int                   `json:"max_attempts"`
	StartedAt       string                `json:"started_at,omitempty"`
	LastError       string                `json:"last_error,omitempty"`
}

type videoView struct {
	ID              string  `json:"id"`
	Slug            string  `json:"slug"`
	Title           string  `json:"title"`
	Duration        float64 `json:"duration"`
	Status          string  `json:"status"`
	StreamingFormat string  `json:"streaming_format"`
	PrimaryCodec    string  `json:"primary_codec"`
}

func toVideoView(v models.Video) videoView {
	return videoView{
		ID:              v.ID,
		Slug:            v.Slug,
		Title:           v.Title,
		Duration:        v.Duration,
		Status:          string(v.Status),
		StreamingFormat: string(v.StreamingFormat),
		PrimaryCodec:    string(v.PrimaryCodec),
	}
}

// ListVideos handles GET /api/videos.
func (c *Coordinator) ListVideos(w http.ResponseWriter, r *http.Request) {
	videos, err := c.repo.ListVideos(r.Context(), catalog.VideoFilter{Limit: 100})
	if err != nil {
		writeError(w, r, loggerFromRequest(r), err)
		return
	}
	out := make([]videoView, 0, len(videos))
	for _, v := range videos {
		out = append(out, toVideoView(v))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetVideoBySlug handles GET /api/videos/{slug}.
func (c *Coordinator) GetVideoBySlug(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	if err := models.ValidateSlug(slug); err != nil {
		writeError(w, r, loggerFromRequest(r), apierr.New(apierr.Validation, "invalid slug"))
		return
	}
	video, err := c.repo.GetVideoBySlug(r.Context(), slug)
	if err != nil {
		writeError(w, r, loggerFromRequest(r), err)
		return
	}
	writeJSON(w, http.StatusOK, toVideoView(video))
}

// VideoProgress handles GET /api/videos/{slug}/progress.
func (c *Coordinator) VideoProgress(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	if err := models.ValidateSlug(slug); err != nil {
		writeError(w, r, loggerFromRequest(r), apierr.New(apierr.Validation, "invalid slug"))
		return
	}
	video, err := c.repo.GetVideoBySlug(r.Context(), slug)
	if err != nil {
		writeError(w, r, loggerFromRequest(r), err)
		return
	}
	job, err := c.repo.GetJobByVideo(r.Context(), video.ID)
	if err != nil {
		writeError(w, r, loggerFromRequest(r), err)
		return
	}
	qualities, err := c.repo.ListQualityProgress(r.Context(), job.ID)
	if err != nil {
		writeError(w, r, loggerFromRequest(r), err)
		return
	}

	state, err := c.repo.JobState(r.Context(), job.ID, time.Now())
	if err != nil {
		writeError(w, r, loggerFromRequest(r), err)
		return
	}
	resp := progressResponse{
		Status:          string(state),
		CurrentStep:     job.CurrentStep,
		ProgressPercent: job.ProgressPercent,
		Attempt:         job.AttemptNumber,
		MaxAttempts:     job.MaxAttempts,
		LastError:       job.LastError,
	}
	if job.ClaimedAt != nil {
		resp.StartedAt = job.ClaimedAt.UTC().Format(time.RFC3339)
	}
	for _, q := range qualities {
		resp.Qualities = append(resp.Qualities, qualityProgressView{
			Name:     string(q.Quality),
			Status:   string(q.Status),
			Progress: q.ProgressPercent,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListCategories handles GET /api/categories. The distilled data model
// carries no Category entity (spec.md §3 enumerates Video, Job,
// QualityProgress, Worker, APIKey, AdminSession, Setting, DeploymentEvent,
// Segment only), so categories are derived on the fly from each video's
// primary codec as a stand-in grouping dimension until a real taxonomy is
// introduced.
func (c *Coordinator) ListCategories(w http.ResponseWriter, r *http.Request) {
	videos, err := c.repo.ListVideos(r.Context(), catalog.VideoFilter{Limit: 1000})
	if err != nil {
		writeError(w, r, loggerFromRequest(r), err)
		return
	}
	counts := make(map[string]int)
	for _, v := range videos {
		counts[string(v.PrimaryCodec)]++
	}
	type category struct {
		Slug  string `json:"slug"`
		Count int    `json:"count"`
	}
	out := make([]category, 0, len(counts))
	for slug, count := range counts {
		out = append(out, category{Slug: slug, Count: count})
	}
	writeJSON(w, http.StatusOK, out)
}

// GetCategory handles GET /api/categories/{slug}.
func (c *Coordinator) GetCategory(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	videos, err := c.repo.ListVideos(r.Context(), catalog.VideoFilter{Limit: 1000})
	if err != nil {
		writeError(w, r, loggerFromRequest(r), err)
		return
	}
	out := make([]videoView, 0)
	for _, v := range videos {
		if string(v.PrimaryCodec) == slug {
			out = append(out, toVideoView(v))
		}
	}
	writeJSON(w, http.StatusOK, out)
}
