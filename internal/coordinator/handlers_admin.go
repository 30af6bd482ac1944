package coordinator

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"vlog/internal/apierr"
	"vlog/internal/catalog"
	"vlog/internal/eventbus"
	"vlog/internal/models"
)

// maxSourceUploadBytes bounds an ingested source file. Generous enough for
// a long-form source video, small enough to keep one bad upload from
// filling the coordinator's disk.
const maxSourceUploadBytes = 8 * 1024 * 1024 * 1024

// AdminCreateVideo handles POST /api/admin/videos: the operator CLI's
// `upload` command streams the source file as the request body, with the
// multipart-free metadata (slug/title/streaming_format/primary_codec)
// carried on the query string so the whole body can be a single streamed
// write to sourcesDir, matching StreamSource's read side.
func (c *Coordinator) AdminCreateVideo(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	slug := q.Get("slug")
	title := q.Get("title")
	if err := models.ValidateSlug(slug); err != nil {
		writeError(w, r, loggerFromRequest(r), apierr.New(apierr.Validation, err.Error()))
		return
	}
	if title == "" {
		title = slug
	}
	format := models.StreamingFormat(q.Get("streaming_format"))
	if format == "" {
		format = models.FormatHLSTS
	}
	codec := models.Codec(q.Get("primary_codec"))
	if codec == "" {
		codec = models.CodecH264
	}

	video, job, err := c.repo.CreateVideo(r.Context(), catalog.CreateVideoParams{
		Slug:            slug,
		Title:           title,
		StreamingFormat: format,
		PrimaryCodec:    codec,
		MaxAttempts:     3,
	})
	recordAudit(r, auditInfo{Action: "create_video", ResourceType: "video", ResourceID: video.ID, ResourceName: slug, Error: errString(err)})
	if err != nil {
		writeError(w, r, loggerFromRequest(r), err)
		return
	}

	if err := c.storeSource(video, r.Body); err != nil {
		_ = c.repo.SoftDeleteVideo(r.Context(), video.ID)
		writeError(w, r, loggerFromRequest(r), apierr.Wrap(apierr.StorageUnavailable, err))
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"video_id": video.ID, "job_id": job.ID, "slug": video.Slug})
}

// storeSource persists the uploaded bytes at the exact path StreamSource
// later reads from: sourcesDir/{videoID}{ext}.
func (c *Coordinator) storeSource(v models.Video, body io.Reader) error {
	if err := os.MkdirAll(c.sourcesDir, 0o750); err != nil {
		return err
	}
	path := filepath.Join(c.sourcesDir, v.ID+sourceFileExt(v))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, io.LimitReader(body, maxSourceUploadBytes))
	return err
}

// AdminLogin handles POST /api/admin/login. The operator presents the
// shared admin secret once; on success the coordinator mints a rotating
// session cookie so the rest of the admin UI doesn't need to carry the
// secret on every request.
func (c *Coordinator) AdminLogin(w http.ResponseWriter, r *http.Request) {
	if !c.adminSessions.checkSharedSecret(r) {
		writeError(w, r, loggerFromRequest(r), apierr.New(apierr.AuthDenied, "invalid admin secret"))
		return
	}
	sess, err := c.adminSessions.Login(r.Context(), w, r)
	if err != nil {
		writeError(w, r, loggerFromRequest(r), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"expires_at": sess.ExpiresAt})
}

// AdminLogout handles POST /api/admin/logout.
func (c *Coordinator) AdminLogout(w http.ResponseWriter, r *http.Request) {
	c.adminSessions.Logout(r.Context(), w, r)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// AdminListVideos handles GET /api/admin/videos.
func (c *Coordinator) AdminListVideos(w http.ResponseWriter, r *http.Request) {
	videos, err := c.repo.ListVideos(r.Context(), catalog.VideoFilter{IncludeDeleted: true, Limit: 500})
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

// AdminDeleteVideo handles DELETE /api/admin/videos/{id}.
func (c *Coordinator) AdminDeleteVideo(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := c.repo.SoftDeleteVideo(r.Context(), id)
	recordAudit(r, auditInfo{Action: "delete_video", ResourceType: "video", ResourceID: id, Error: errString(err)})
	if err != nil {
		writeError(w, r, loggerFromRequest(r), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// AdminRetryVideo handles POST /api/admin/videos/{id}/retry, forcing a
// fresh Job for a video stuck in a terminal failed state.
func (c *Coordinator) AdminRetryVideo(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := c.repo.RequeueVideo(r.Context(), id)
	recordAudit(r, auditInfo{Action: "retry_video", ResourceType: "video", ResourceID: id, Error: errString(err)})
	if err != nil {
		writeError(w, r, loggerFromRequest(r), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job_id": job.ID})
}

type workerView struct {
	WorkerID      string              `json:"worker_id"`
	WorkerName    string              `json:"worker_name"`
	WorkerType    string              `json:"worker_type"`
	Status        string              `json:"status"`
	LastHeartbeat time.Time           `json:"last_heartbeat"`
	CurrentJobID  *string             `json:"current_job_id,omitempty"`
	Capabilities  models.Capabilities `json:"capabilities"`
}

func toWorkerView(w models.Worker) workerView {
	return workerView{
		WorkerID:      w.WorkerID,
		WorkerName:    w.WorkerName,
		WorkerType:    string(w.WorkerType),
		Status:        string(w.Status),
		LastHeartbeat: w.LastHeartbeat,
		CurrentJobID:  w.CurrentJobID,
		Capabilities:  w.Capabilities,
	}
}

// AdminListWorkers handles GET /api/admin/workers.
func (c *Coordinator) AdminListWorkers(w http.ResponseWriter, r *http.Request) {
	workers, err := c.repo.ListWorkers(r.Context())
	if err != nil {
		writeError(w, r, loggerFromRequest(r), err)
		return
	}
	out := make([]workerView, 0, len(workers))
	for _, wk := range workers {
		out = append(out, toWorkerView(wk))
	}
	writeJSON(w, http.StatusOK, out)
}

// AdminRevokeWorker handles POST /api/admin/workers/{id}/revoke.
func (c *Coordinator) AdminRevokeWorker(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := c.issuer.Revoke(r.Context(), id)
	if err == nil {
		err = c.repo.SetWorkerDisabled(r.Context(), id, true)
	}
	recordAudit(r, auditInfo{Action: "revoke_worker", ResourceType: "worker", ResourceID: id, Error: errString(err)})
	if err != nil {
		writeError(w, r, loggerFromRequest(r), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (c *Coordinator) dispatchDeploymentCommand(r *http.Request, id string, command string, evtType models.DeploymentEventType) error {
	now := time.Now().UTC()
	if err := c.repo.RecordDeploymentEvent(r.Context(), models.DeploymentEvent{
		ID:          uuid.NewString(),
		WorkerID:    id,
		EventType:   evtType,
		Status:      "queued",
		TriggeredBy: requestID(r),
		CreatedAt:   now,
	}); err != nil {
		return err
	}
	err := c.bus.PublishCommand(r.Context(), eventbus.CommandEvent{
		WorkerID:  id,
		CommandID: uuid.NewString(),
		Command:   command,
		Immediate: false,
	})
	if err == nil {
		c.metrics.EventPublished("command")
	}
	return err
}

// AdminRestartWorker handles POST /api/admin/workers/{id}/restart. The
// command is published as non-immediate; the worker's CommandListener acts
// on it when it arrives and does not wait for an in-flight job to finish.
func (c *Coordinator) AdminRestartWorker(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := c.dispatchDeploymentCommand(r, id, "restart", models.DeployRestart)
	recordAudit(r, auditInfo{Action: "restart_worker", ResourceType: "worker", ResourceID: id, Error: errString(err)})
	if err != nil {
		writeError(w, r, loggerFromRequest(r), err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"queued": true})
}

// AdminUpdateWorker handles POST /api/admin/workers/{id}/update, another
// non-immediate command; the worker only logs it.
func (c *Coordinator) AdminUpdateWorker(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := c.dispatchDeploymentCommand(r, id, "update", models.DeployUpdate)
	recordAudit(r, auditInfo{Action: "update_worker", ResourceType: "worker", ResourceID: id, Error: errString(err)})
	if err != nil {
		writeError(w, r, loggerFromRequest(r), err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"queued": true})
}

// commandResponseTimeout bounds how long the admin surface waits for a
// get_logs/get_metrics immediate-command reply before giving up.
const commandResponseTimeout = 3 * time.Second

func (c *Coordinator) requestImmediate(ctx context.Context, workerID, command string) (json.RawMessage, error) {
	commandID := uuid.NewString()
	responseChannel := eventbus.ChannelName(eventbus.ChannelCommands, workerID+":response")
	sub := c.bus.Subscribe(ctx, responseChannel)
	defer sub.Close()

	if err := c.bus.PublishCommand(ctx, eventbus.CommandEvent{
		WorkerID:  workerID,
		CommandID: commandID,
		Command:   command,
		Immediate: true,
	}); err != nil {
		return nil, apierr.Wrap(apierr.TransientBus, err)
	}

	timeout := time.NewTimer(commandResponseTimeout)
	defer timeout.Stop()
	select {
	case msg := <-sub.Channel():
		return json.RawMessage(msg.Payload), nil
	case <-timeout.C:
		return nil, apierr.New(apierr.TransientBus, "worker did not respond in time")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// AdminWorkerLogs handles GET /api/admin/workers/{id}/logs, an immediate
// command that bypasses the worker's main loop entirely.
func (c *Coordinator) AdminWorkerLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	payload, err := c.requestImmediate(r.Context(), id, "get_logs")
	if err != nil {
		writeError(w, r, loggerFromRequest(r), err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

// AdminWorkerMetrics handles GET /api/admin/workers/{id}/metrics.
func (c *Coordinator) AdminWorkerMetrics(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	payload, err := c.requestImmediate(r.Context(), id, "get_metrics")
	if err != nil {
		writeError(w, r, loggerFromRequest(r), err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

// AdminListSettings handles GET /api/admin/settings.
func (c *Coordinator) AdminListSettings(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")
	settings, err := c.settings.List(r.Context(), category)
	if err != nil {
		writeError(w, r, loggerFromRequest(r), err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// AdminGetSetting handles GET /api/admin/settings/{key}.
func (c *Coordinator) AdminGetSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	value, err := c.settings.Get(r.Context(), key, "")
	if err != nil {
		writeError(w, r, loggerFromRequest(r), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": value})
}

type putSettingRequest struct {
	Type        models.SettingType        `json:"type"`
	Value       string                    `json:"value"`
	Category    string                    `json:"category"`
	Constraints models.SettingConstraints `json:"constraints"`
}

// AdminPutSetting handles PUT /api/admin/settings/{key}.
func (c *Coordinator) AdminPutSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var req putSettingRequest
	if err := decodeJSON(r, &req, maxCapabilitiesBytes); err != nil {
		writeError(w, r, loggerFromRequest(r), apierr.New(apierr.Validation, "malformed request body"))
		return
	}
	err := c.settings.Put(r.Context(), models.Setting{
		Key:         key,
		Type:        req.Type,
		Value:       req.Value,
		Category:    req.Category,
		Constraints: req.Constraints,
	}, adminIdentity(r))
	recordAudit(r, auditInfo{Action: "put_setting", ResourceType: "setting", ResourceID: key, Details: req.Value, Error: errString(err)})
	if err != nil {
		writeError(w, r, loggerFromRequest(r), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// AdminAnalyticsOverview handles GET /api/admin/analytics/overview.
func (c *Coordinator) AdminAnalyticsOverview(w http.ResponseWriter, r *http.Request) {
	overview, err := c.analyticsCache.Overview(r.Context())
	if err != nil {
		writeError(w, r, loggerFromRequest(r), err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

func adminIdentity(r *http.Request) string {
	if c, err := r.Cookie(adminSessionCookie); err == nil {
		return c.Value
	}
	return "shared-secret"
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func recordAudit(r *http.Request, info auditInfo) {
	ctx := withAuditInfo(r.Context(), info)
	*r = *r.WithContext(ctx)
}
