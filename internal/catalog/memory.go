package catalog

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"vlog/internal/apierr"
	"vlog/internal/jobstate"
	"vlog/internal/models"
)

// MemoryRepository is a mutex-guarded, in-process Repository implementation.
// It is the reference implementation exercised by the property tests in
// spec.md §8 and is what cmd/coordinator uses for local development when
// storage_driver is anything other than "postgres" (the default is
// "memory"). It is safe for concurrent use.
type MemoryRepository struct {
	mu sync.Mutex

	videos   map[string]*models.Video
	slugs    map[string]string // slug -> video id
	jobs     map[string]*models.Job
	jobByVid map[string]string // video id -> job id (most recent)
	quality  map[string]map[models.Quality]*models.QualityProgress
	segments map[string]map[string]*models.Segment // videoID|quality -> filename -> segment

	workers map[string]*models.Worker
	keys    map[string][]*models.APIKey // workerID -> keys
	sess    map[string]*models.AdminSession
	setting map[string]*models.Setting
	deploy  []models.DeploymentEvent

	idSeq int
}

// NewMemoryRepository constructs an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		videos:   make(map[string]*models.Video),
		slugs:    make(map[string]string),
		jobs:     make(map[string]*models.Job),
		jobByVid: make(map[string]string),
		quality:  make(map[string]map[models.Quality]*models.QualityProgress),
		segments: make(map[string]map[string]*models.Segment),
		workers:  make(map[string]*models.Worker),
		keys:     make(map[string][]*models.APIKey),
		sess:     make(map[string]*models.AdminSession),
		setting:  make(map[string]*models.Setting),
	}
}

func (r *MemoryRepository) nextID(prefix string) string {
	r.idSeq++
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return prefix + "_" + hex.EncodeToString(buf)
}

func (r *MemoryRepository) Ping(ctx context.Context) error { return nil }

func (r *MemoryRepository) CreateVideo(ctx context.Context, params CreateVideoParams) (models.Video, models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.slugs[params.Slug]; exists {
		return models.Video{}, models.Job{}, apierr.New(apierr.Validation, "slug already exists")
	}
	now := time.Now().UTC()
	maxAttempts := params.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	v := &models.Video{
		ID:              r.nextID("vid"),
		Slug:            params.Slug,
		Title:           params.Title,
		Status:          models.VideoPending,
		StreamingFormat: params.StreamingFormat,
		PrimaryCodec:    params.PrimaryCodec,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if v.StreamingFormat == "" {
		v.StreamingFormat = models.FormatHLSTS
	}
	j := &models.Job{
		ID:            r.nextID("job"),
		VideoID:       v.ID,
		AttemptNumber: 1,
		MaxAttempts:   maxAttempts,
		CreatedAt:     now,
		LastCheckpoint: now,
	}
	r.videos[v.ID] = v
	r.slugs[v.Slug] = v.ID
	r.jobs[j.ID] = j
	r.jobByVid[v.ID] = j.ID
	return *v, *j, nil
}

func (r *MemoryRepository) GetVideo(ctx context.Context, id string) (models.Video, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.videos[id]
	if !ok || v.DeletedAt != nil {
		return models.Video{}, apierr.New(apierr.NotFound, "video not found")
	}
	return *v, nil
}

func (r *MemoryRepository) GetVideoBySlug(ctx context.Context, slug string) (models.Video, error) {
	r.mu.Lock()
	id, ok := r.slugs[slug]
	r.mu.Unlock()
	if !ok {
		return models.Video{}, apierr.New(apierr.NotFound, "video not found")
	}
	return r.GetVideo(ctx, id)
}

func (r *MemoryRepository) ListVideos(ctx context.Context, filter VideoFilter) ([]models.Video, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Video, 0, len(r.videos))
	for _, v := range r.videos {
		if v.DeletedAt != nil && !filter.IncludeDeleted {
			continue
		}
		if filter.Status != "" && v.Status != filter.Status {
			continue
		}
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if filter.Offset > 0 && filter.Offset < len(out) {
		out = out[filter.Offset:]
	} else if filter.Offset >= len(out) {
		out = nil
	}
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *MemoryRepository) SoftDeleteVideo(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.videos[id]
	if !ok {
		return apierr.New(apierr.NotFound, "video not found")
	}
	now := time.Now().UTC()
	v.DeletedAt = &now
	return nil
}

func (r *MemoryRepository) RequeueVideo(ctx context.Context, videoID string) (models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.videos[videoID]
	if !ok {
		return models.Job{}, apierr.New(apierr.NotFound, "video not found")
	}
	now := time.Now().UTC()
	j := &models.Job{
		ID:             r.nextID("job"),
		VideoID:        videoID,
		AttemptNumber:  1,
		MaxAttempts:    3,
		CreatedAt:      now,
		LastCheckpoint: now,
	}
	r.jobs[j.ID] = j
	r.jobByVid[videoID] = j.ID
	v.Status = models.VideoPending
	v.UpdatedAt = now
	return *j, nil
}

func (r *MemoryRepository) GetJob(ctx context.Context, jobID string) (models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[jobID]
	if !ok {
		return models.Job{}, apierr.New(apierr.NotFound, "job not found")
	}
	return *j, nil
}

func (r *MemoryRepository) GetJobByVideo(ctx context.Context, videoID string) (models.Job, error) {
	r.mu.Lock()
	id, ok := r.jobByVid[videoID]
	r.mu.Unlock()
	if !ok {
		return models.Job{}, apierr.New(apierr.NotFound, "job not found")
	}
	return r.GetJob(ctx, id)
}

func (r *MemoryRepository) JobState(ctx context.Context, jobID string, now time.Time) (jobstate.State, error) {
	j, err := r.GetJob(ctx, jobID)
	if err != nil {
		return "", err
	}
	return jobstate.Of(j, now), nil
}

func (r *MemoryRepository) ListQualityProgress(ctx context.Context, jobID string) ([]models.QualityProgress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.quality[jobID]
	if !ok {
		return nil, nil
	}
	out := make([]models.QualityProgress, 0, len(m))
	for _, q := range m {
		out = append(out, *q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Quality < out[j].Quality })
	return out, nil
}

// ClaimNextJob selects the oldest claimable job (UNCLAIMED or RETRYING)
// whose video is pending or processing (a retried or reaped job's video
// stays processing), ordered FIFO by the video's created_at with
// job id as tie-break, and atomically assigns the claim. Concurrent callers
// racing for the same job: exactly one wins under the single mutex; the
// caller scans again for a different job on every call, so no caller is ever
// told "lost the race" — they simply see no job if none remain claimable.
func (r *MemoryRepository) ClaimNextJob(ctx context.Context, workerID string, caps models.Capabilities, now time.Time) (*models.Job, *models.Video, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	type candidate struct {
		job   *models.Job
		video *models.Video
	}
	var candidates []candidate
	for _, j := range r.jobs {
		v, ok := r.videos[j.VideoID]
		if !ok || v.DeletedAt != nil || (v.Status != models.VideoPending && v.Status != models.VideoProcessing) {
			continue
		}
		if !jobstate.Claimable(jobstate.Of(*j, now)) {
			continue
		}
		candidates = append(candidates, candidate{job: j, video: v})
	}
	if len(candidates) == 0 {
		return nil, nil, nil
	}
	sort.Slice(candidates, func(i, k int) bool {
		if !candidates[i].video.CreatedAt.Equal(candidates[k].video.CreatedAt) {
			return candidates[i].video.CreatedAt.Before(candidates[k].video.CreatedAt)
		}
		return candidates[i].job.ID < candidates[k].job.ID
	})

	chosen := candidates[0]
	lease := 5 * time.Minute
	expiresAt := now.Add(lease)
	chosen.job.ClaimedAt = &now
	chosen.job.ClaimExpiresAt = &expiresAt
	wid := workerID
	chosen.job.WorkerID = &wid
	chosen.video.Status = models.VideoProcessing
	chosen.video.UpdatedAt = now

	jobCopy := *chosen.job
	videoCopy := *chosen.video
	return &jobCopy, &videoCopy, nil
}

func (r *MemoryRepository) ExtendClaim(ctx context.Context, jobID, workerID string, now time.Time, lease time.Duration) (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[jobID]
	if !ok {
		return time.Time{}, apierr.New(apierr.NotFound, "job not found")
	}
	if j.WorkerID == nil || *j.WorkerID != workerID || j.CompletedAt != nil {
		return time.Time{}, apierr.New(apierr.ClaimLost, "worker does not hold the claim")
	}
	if j.ClaimExpiresAt == nil || !j.ClaimExpiresAt.After(now) {
		return time.Time{}, apierr.New(apierr.ClaimLost, "worker does not hold the claim")
	}
	if lease <= 0 {
		lease = 5 * time.Minute
	}
	newExpiry := now.Add(lease)
	j.ClaimExpiresAt = &newExpiry
	return newExpiry, nil
}

func (r *MemoryRepository) UpdateProgress(ctx context.Context, jobID, workerID string, step string, percent int, qualities []models.QualityProgress, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[jobID]
	if !ok {
		return apierr.New(apierr.NotFound, "job not found")
	}
	if j.WorkerID == nil || *j.WorkerID != workerID {
		return apierr.New(apierr.ClaimLost, "worker does not hold the claim")
	}
	if j.CompletedAt != nil {
		// No progress update may overtake a completion.
		return apierr.New(apierr.ClaimLost, "job already completed")
	}
	j.CurrentStep = step
	j.ProgressPercent = percent
	j.LastCheckpoint = now
	lease := 5 * time.Minute
	expiresAt := now.Add(lease)
	j.ClaimExpiresAt = &expiresAt

	if len(qualities) > 0 {
		m, ok := r.quality[jobID]
		if !ok {
			m = make(map[models.Quality]*models.QualityProgress)
			r.quality[jobID] = m
		}
		for _, q := range qualities {
			qc := q
			qc.JobID = jobID
			m[q.Quality] = &qc
		}
	}
	return nil
}

func (r *MemoryRepository) CompleteJob(ctx context.Context, jobID, workerID string, result CompleteResult, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[jobID]
	if !ok {
		return apierr.New(apierr.NotFound, "job not found")
	}
	if j.WorkerID == nil || *j.WorkerID != workerID {
		return apierr.New(apierr.ClaimLost, "worker does not hold the claim")
	}
	v, ok := r.videos[j.VideoID]
	if !ok {
		return apierr.New(apierr.NotFound, "video not found")
	}
	j.CompletedAt = &now
	j.ProgressPercent = 100
	j.CurrentStep = "completed"
	j.ProcessedByWorkerID = workerID
	if w, ok := r.workers[workerID]; ok {
		j.ProcessedByWorkerName = w.WorkerName
	}
	j.LastCheckpoint = now

	m, ok := r.quality[jobID]
	if !ok {
		m = make(map[models.Quality]*models.QualityProgress)
		r.quality[jobID] = m
	}
	for _, q := range result.Qualities {
		qc := q
		qc.JobID = jobID
		m[q.Quality] = &qc
	}

	v.Status = models.VideoReady
	v.Duration = result.Duration
	if result.SourceWidth > 0 {
		v.SourceWidth = result.SourceWidth
	}
	if result.SourceHeight > 0 {
		v.SourceHeight = result.SourceHeight
	}
	v.UpdatedAt = now
	return nil
}

func (r *MemoryRepository) FailJob(ctx context.Context, jobID, workerID, errMsg string, retry bool, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[jobID]
	if !ok {
		return apierr.New(apierr.NotFound, "job not found")
	}
	if j.WorkerID == nil || *j.WorkerID != workerID {
		return apierr.New(apierr.ClaimLost, "worker does not hold the claim")
	}
	v, ok := r.videos[j.VideoID]
	if !ok {
		return apierr.New(apierr.NotFound, "video not found")
	}

	j.LastError = errMsg
	j.ProcessedByWorkerID = workerID
	if w, ok := r.workers[workerID]; ok {
		j.ProcessedByWorkerName = w.WorkerName
	}
	j.LastCheckpoint = now
	j.ClaimedAt = nil
	j.ClaimExpiresAt = nil
	j.WorkerID = nil

	if retry && j.AttemptNumber < j.MaxAttempts {
		j.AttemptNumber++
	}
	if retry && j.AttemptNumber < j.MaxAttempts {
		v.Status = models.VideoProcessing
	} else {
		v.Status = models.VideoFailed
	}
	v.UpdatedAt = now
	return nil
}

// ReapExpiredClaims implements spec.md §4.3's three-part sweep: clear
// expired claims, mark stale workers offline, and treat long-stalled
// checkpoints as a soft failure attributed to the last known worker (the
// recommended resolution of the open question in spec.md §9).
func (r *MemoryRepository) ReapExpiredClaims(ctx context.Context, now time.Time, offlineAfter, staleAfter time.Duration) (ReapSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var summary ReapSummary

	for _, j := range r.jobs {
		if j.CompletedAt != nil {
			continue
		}
		if j.ClaimedAt != nil && j.ClaimExpiresAt != nil && !j.ClaimExpiresAt.After(now) {
			j.ClaimedAt = nil
			j.ClaimExpiresAt = nil
			j.WorkerID = nil
			summary.ClaimsExpired++
			continue
		}
		if staleAfter > 0 && !j.LastCheckpoint.IsZero() && now.Sub(j.LastCheckpoint) > staleAfter {
			if j.WorkerID != nil {
				j.ProcessedByWorkerID = *j.WorkerID
				if w, ok := r.workers[*j.WorkerID]; ok {
					j.ProcessedByWorkerName = w.WorkerName
				}
			}
			j.ClaimedAt = nil
			j.ClaimExpiresAt = nil
			j.WorkerID = nil
			if j.AttemptNumber < j.MaxAttempts {
				j.AttemptNumber++
			}
			j.LastError = "stalled: no checkpoint within staleness window"
			j.LastCheckpoint = now
			summary.StalledRetried++
			if v, ok := r.videos[j.VideoID]; ok {
				if j.AttemptNumber >= j.MaxAttempts {
					v.Status = models.VideoFailed
				}
				v.UpdatedAt = now
			}
		}
	}

	for _, w := range r.workers {
		if offlineAfter > 0 && now.Sub(w.LastHeartbeat) > offlineAfter && w.Status != models.WorkerOffline && w.Status != models.WorkerDisabled {
			w.Status = models.WorkerOffline
			w.CurrentJobID = nil
			summary.WorkersOffline++
		}
	}

	return summary, nil
}

func (r *MemoryRepository) RegisterWorker(ctx context.Context, reg WorkerRegistration, now time.Time) (models.Worker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w := &models.Worker{
		WorkerID:      reg.WorkerID,
		WorkerName:    reg.WorkerName,
		WorkerType:    reg.WorkerType,
		RegisteredAt:  now,
		LastHeartbeat: now,
		Status:        models.WorkerIdle,
		Capabilities:  reg.Capabilities,
		Metadata:      reg.Metadata,
	}
	r.workers[w.WorkerID] = w
	return *w, nil
}

func (r *MemoryRepository) Heartbeat(ctx context.Context, workerID string, status models.WorkerStatus, metadata map[string]string, now time.Time) (models.Worker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[workerID]
	if !ok {
		return models.Worker{}, apierr.New(apierr.NotFound, "worker not found")
	}
	w.LastHeartbeat = now
	if status != "" {
		w.Status = status
	}
	if metadata != nil {
		w.Metadata = metadata
	}
	lease := 5 * time.Minute
	for _, j := range r.jobs {
		if j.WorkerID != nil && *j.WorkerID == workerID && j.CompletedAt == nil {
			id := j.ID
			w.CurrentJobID = &id
			// A live heartbeat is proof of work in progress: extend the held
			// claim the same way ExtendClaim/UpdateProgress do, so a worker
			// busy between progress reports doesn't lose its claim.
			expiresAt := now.Add(lease)
			j.ClaimExpiresAt = &expiresAt
		}
	}
	return *w, nil
}

func (r *MemoryRepository) GetWorker(ctx context.Context, workerID string) (models.Worker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[workerID]
	if !ok {
		return models.Worker{}, apierr.New(apierr.NotFound, "worker not found")
	}
	return *w, nil
}

func (r *MemoryRepository) ListWorkers(ctx context.Context) ([]models.Worker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Worker, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RegisteredAt.Before(out[j].RegisteredAt) })
	return out, nil
}

func (r *MemoryRepository) DeleteWorker(ctx context.Context, workerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.workers[workerID]; !ok {
		return apierr.New(apierr.NotFound, "worker not found")
	}
	delete(r.workers, workerID)
	delete(r.keys, workerID)
	for _, j := range r.jobs {
		if j.WorkerID != nil && *j.WorkerID == workerID {
			j.WorkerID = nil
			j.ClaimedAt = nil
			j.ClaimExpiresAt = nil
		}
	}
	return nil
}

func (r *MemoryRepository) SetWorkerDisabled(ctx context.Context, workerID string, disabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[workerID]
	if !ok {
		return apierr.New(apierr.NotFound, "worker not found")
	}
	if disabled {
		w.Status = models.WorkerDisabled
	} else {
		w.Status = models.WorkerIdle
	}
	return nil
}

func (r *MemoryRepository) CreateAPIKey(ctx context.Context, workerID, keyPrefix, keyHash string, version models.HashVersion, expiresAt *time.Time, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := &models.APIKey{
		WorkerID:    workerID,
		KeyPrefix:   keyPrefix,
		KeyHash:     keyHash,
		HashVersion: version,
		CreatedAt:   now,
		ExpiresAt:   expiresAt,
	}
	r.keys[workerID] = append(r.keys[workerID], k)
	return nil
}

func (r *MemoryRepository) FindAPIKeyCandidates(ctx context.Context, keyPrefix string, now time.Time) ([]models.APIKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.APIKey
	for _, list := range r.keys {
		for _, k := range list {
			if k.KeyPrefix != keyPrefix {
				continue
			}
			if k.RevokedAt != nil {
				continue
			}
			if k.ExpiresAt != nil && !k.ExpiresAt.After(now) {
				continue
			}
			out = append(out, *k)
		}
	}
	return out, nil
}

func (r *MemoryRepository) TouchAPIKey(ctx context.Context, workerID, keyPrefix string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range r.keys[workerID] {
		if k.KeyPrefix == keyPrefix {
			k.LastUsedAt = &now
		}
	}
	return nil
}

func (r *MemoryRepository) RevokeAPIKeys(ctx context.Context, workerID string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range r.keys[workerID] {
		k.RevokedAt = &now
	}
	return nil
}

func (r *MemoryRepository) CreateSession(ctx context.Context, sess models.AdminSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := sess
	r.sess[sess.Token] = &cp
	return nil
}

func (r *MemoryRepository) GetSession(ctx context.Context, token string) (models.AdminSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sess[token]
	if !ok {
		return models.AdminSession{}, apierr.New(apierr.NotFound, "session not found")
	}
	return *s, nil
}

func (r *MemoryRepository) TouchSession(ctx context.Context, token string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sess[token]
	if !ok {
		return apierr.New(apierr.NotFound, "session not found")
	}
	s.LastUsedAt = now
	return nil
}

func (r *MemoryRepository) DeleteSession(ctx context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sess, token)
	return nil
}

func (r *MemoryRepository) PurgeExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for token, s := range r.sess {
		if now.After(s.ExpiresAt) {
			delete(r.sess, token)
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) GetSetting(ctx context.Context, key string) (models.Setting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.setting[key]
	if !ok {
		return models.Setting{}, apierr.New(apierr.NotFound, "setting not found")
	}
	return *s, nil
}

func (r *MemoryRepository) ListSettings(ctx context.Context, category string) ([]models.Setting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Setting
	for _, s := range r.setting {
		if category != "" && s.Category != category {
			continue
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (r *MemoryRepository) PutSetting(ctx context.Context, s models.Setting) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := s
	r.setting[s.Key] = &cp
	return nil
}

func (r *MemoryRepository) RecordDeploymentEvent(ctx context.Context, evt models.DeploymentEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if evt.ID == "" {
		evt.ID = r.nextID("deploy")
	}
	r.deploy = append(r.deploy, evt)
	return nil
}

func (r *MemoryRepository) ListDeploymentEvents(ctx context.Context, workerID string, limit int) ([]models.DeploymentEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.DeploymentEvent
	for i := len(r.deploy) - 1; i >= 0; i-- {
		e := r.deploy[i]
		if workerID != "" && e.WorkerID != workerID {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func segKey(videoID string, quality models.Quality) string {
	return videoID + "|" + string(quality)
}

func (r *MemoryRepository) RecordSegment(ctx context.Context, seg models.Segment) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !seg.SHA256Valid {
		return false, nil
	}
	key := segKey(seg.VideoID, seg.Quality)
	m, ok := r.segments[key]
	if !ok {
		m = make(map[string]*models.Segment)
		r.segments[key] = m
	}
	if _, exists := m[seg.Filename]; exists {
		// Idempotent: same (video, quality, filename, sha256) twice
		// results in one persisted segment.
		return true, nil
	}
	cp := seg
	m[seg.Filename] = &cp
	return true, nil
}

func (r *MemoryRepository) SegmentCount(ctx context.Context, videoID string, quality models.Quality) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.segments[segKey(videoID, quality)]), nil
}

func (r *MemoryRepository) FinalizeQuality(ctx context.Context, videoID string, quality models.Quality, declaredCount int, manifestSHA256 string, now time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	persisted := len(r.segments[segKey(videoID, quality)])
	if persisted >= declaredCount {
		return nil, nil
	}
	missing := make([]string, 0, declaredCount-persisted)
	for i := persisted; i < declaredCount; i++ {
		missing = append(missing, "segment_missing")
	}
	return missing, nil
}
