package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"vlog/internal/apierr"
	"vlog/internal/jobstate"
	"vlog/internal/models"
)

// PostgresConfig describes how postgresRepository initializes its
// connection pool.
type PostgresConfig struct {
	DSN                 string
	MaxConnections       int32
	MinConnections       int32
	MaxConnLifetime      time.Duration
	MaxConnIdleTime      time.Duration
	HealthCheckInterval  time.Duration
	ApplicationName      string
}

func (c PostgresConfig) withDefaults() PostgresConfig {
	if c.MaxConnections <= 0 {
		c.MaxConnections = 10
	}
	if c.MaxConnLifetime <= 0 {
		c.MaxConnLifetime = time.Hour
	}
	if c.MaxConnIdleTime <= 0 {
		c.MaxConnIdleTime = 30 * time.Minute
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = time.Minute
	}
	if c.ApplicationName == "" {
		c.ApplicationName = "vlog-coordinator"
	}
	return c
}

// postgresRepository is the durable Repository backing a production
// coordinator. It owns a pgxpool.Pool and expresses every claim/heartbeat
// transition from spec.md §4.1 as a WHERE-clause predicate rather than a
// SELECT-then-UPDATE, so a racing second caller's UPDATE simply affects zero
// rows instead of corrupting state.
type postgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository opens a pool against cfg.DSN and verifies
// connectivity with a ping before returning.
func NewPostgresRepository(ctx context.Context, cfg PostgresConfig) (Repository, error) {
	cfg = cfg.withDefaults()
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConnections
	poolCfg.MinConns = cfg.MinConnections
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolCfg.HealthCheckPeriod = cfg.HealthCheckInterval
	poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &postgresRepository{pool: pool}, nil
}

func (r *postgresRepository) Close() {
	r.pool.Close()
}

func (r *postgresRepository) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return apierr.Wrap(apierr.StorageUnavailable, err)
	}
	return nil
}

func rollbackTx(ctx context.Context, tx pgx.Tx) {
	_ = tx.Rollback(ctx)
}

func (r *postgresRepository) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return apierr.Wrap(apierr.TransientStorage, fmt.Errorf("begin tx: %w", err))
	}
	defer rollbackTx(ctx, tx)
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return apierr.Wrap(apierr.TransientStorage, fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

func (r *postgresRepository) CreateVideo(ctx context.Context, params CreateVideoParams) (models.Video, models.Job, error) {
	var v models.Video
	var j models.Job
	maxAttempts := params.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	streamingFormat := params.StreamingFormat
	if streamingFormat == "" {
		streamingFormat = models.FormatHLSTS
	}

	err := r.withTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			INSERT INTO videos (slug, title, status, streaming_format, primary_codec, created_at, updated_at)
			VALUES ($1, $2, 'pending', $3, $4, now(), now())
			RETURNING id, slug, title, duration, source_width, source_height, status, streaming_format, primary_codec, created_at, updated_at
		`, params.Slug, params.Title, streamingFormat, params.PrimaryCodec)
		if err := scanVideo(row, &v); err != nil {
			return translatePgErr(err, "slug")
		}

		row = tx.QueryRow(ctx, `
			INSERT INTO jobs (video_id, attempt_number, max_attempts, last_checkpoint, created_at)
			VALUES ($1, 1, $2, now(), now())
			RETURNING id, video_id, claimed_at, claim_expires_at, completed_at, current_step, progress_percent,
				attempt_number, max_attempts, last_error, last_checkpoint, worker_id,
				processed_by_worker_id, processed_by_worker_name, created_at
		`, v.ID, maxAttempts)
		return scanJob(row, &j)
	})
	return v, j, err
}

func scanVideo(row pgx.Row, v *models.Video) error {
	return row.Scan(&v.ID, &v.Slug, &v.Title, &v.Duration, &v.SourceWidth, &v.SourceHeight,
		&v.Status, &v.StreamingFormat, &v.PrimaryCodec, &v.CreatedAt, &v.UpdatedAt)
}

func scanJob(row pgx.Row, j *models.Job) error {
	var workerID, processedWorkerID, processedWorkerName, lastError *string
	if err := row.Scan(&j.ID, &j.VideoID, &j.ClaimedAt, &j.ClaimExpiresAt, &j.CompletedAt,
		&j.CurrentStep, &j.ProgressPercent, &j.AttemptNumber, &j.MaxAttempts, &lastError,
		&j.LastCheckpoint, &workerID, &processedWorkerID, &processedWorkerName, &j.CreatedAt); err != nil {
		return err
	}
	if workerID != nil {
		j.WorkerID = workerID
	}
	if lastError != nil {
		j.LastError = *lastError
	}
	if processedWorkerID != nil {
		j.ProcessedByWorkerID = *processedWorkerID
	}
	if processedWorkerName != nil {
		j.ProcessedByWorkerName = *processedWorkerName
	}
	return nil
}

func translatePgErr(err error, field string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apierr.New(apierr.NotFound, "not found")
	}
	// unique_violation
	if pgErrCode(err) == "23505" {
		return apierr.New(apierr.Validation, field+" already exists")
	}
	return apierr.Wrap(apierr.TransientStorage, err)
}

func (r *postgresRepository) GetVideo(ctx context.Context, id string) (models.Video, error) {
	var v models.Video
	row := r.pool.QueryRow(ctx, `
		SELECT id, slug, title, duration, source_width, source_height, status, streaming_format, primary_codec, created_at, updated_at
		FROM videos WHERE id = $1 AND deleted_at IS NULL
	`, id)
	if err := scanVideo(row, &v); err != nil {
		return models.Video{}, translatePgErr(err, "video")
	}
	return v, nil
}

func (r *postgresRepository) GetVideoBySlug(ctx context.Context, slug string) (models.Video, error) {
	var v models.Video
	row := r.pool.QueryRow(ctx, `
		SELECT id, slug, title, duration, source_width, source_height, status, streaming_format, primary_codec, created_at, updated_at
		FROM videos WHERE slug = $1 AND deleted_at IS NULL
	`, slug)
	if err := scanVideo(row, &v); err != nil {
		return models.Video{}, translatePgErr(err, "video")
	}
	return v, nil
}

func (r *postgresRepository) ListVideos(ctx context.Context, filter VideoFilter) ([]models.Video, error) {
	query := `
		SELECT id, slug, title, duration, source_width, source_height, status, streaming_format, primary_codec, created_at, updated_at
		FROM videos WHERE ($1 OR deleted_at IS NULL) AND ($2 = '' OR status = $2)
		ORDER BY created_at ASC
		OFFSET $3 LIMIT $4
	`
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, query, filter.IncludeDeleted, string(filter.Status), filter.Offset, limit)
	if err != nil {
		return nil, apierr.Wrap(apierr.TransientStorage, err)
	}
	defer rows.Close()

	var out []models.Video
	for rows.Next() {
		var v models.Video
		if err := scanVideo(rows, &v); err != nil {
			return nil, apierr.Wrap(apierr.TransientStorage, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (r *postgresRepository) SoftDeleteVideo(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE videos SET deleted_at = now(), updated_at = now() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return apierr.Wrap(apierr.TransientStorage, err)
	}
	if tag.RowsAffected() == 0 {
		return apierr.New(apierr.NotFound, "video not found")
	}
	return nil
}

func (r *postgresRepository) RequeueVideo(ctx context.Context, videoID string) (models.Job, error) {
	var j models.Job
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE videos SET status = 'pending', updated_at = now() WHERE id = $1 AND deleted_at IS NULL`, videoID)
		if err != nil {
			return apierr.Wrap(apierr.TransientStorage, err)
		}
		if tag.RowsAffected() == 0 {
			return apierr.New(apierr.NotFound, "video not found")
		}
		row := tx.QueryRow(ctx, `
			INSERT INTO jobs (video_id, attempt_number, max_attempts, last_checkpoint, created_at)
			VALUES ($1, 1, 3, now(), now())
			RETURNING id, video_id, claimed_at, claim_expires_at, completed_at, current_step, progress_percent,
				attempt_number, max_attempts, last_error, last_checkpoint, worker_id,
				processed_by_worker_id, processed_by_worker_name, created_at
		`, videoID)
		return scanJob(row, &j)
	})
	return j, err
}

func (r *postgresRepository) GetJob(ctx context.Context, jobID string) (models.Job, error) {
	var j models.Job
	row := r.pool.QueryRow(ctx, `
		SELECT id, video_id, claimed_at, claim_expires_at, completed_at, current_step, progress_percent,
			attempt_number, max_attempts, last_error, last_checkpoint, worker_id,
			processed_by_worker_id, processed_by_worker_name, created_at
		FROM jobs WHERE id = $1
	`, jobID)
	if err := scanJob(row, &j); err != nil {
		return models.Job{}, translatePgErr(err, "job")
	}
	return j, nil
}

func (r *postgresRepository) GetJobByVideo(ctx context.Context, videoID string) (models.Job, error) {
	var j models.Job
	row := r.pool.QueryRow(ctx, `
		SELECT id, video_id, claimed_at, claim_expires_at, completed_at, current_step, progress_percent,
			attempt_number, max_attempts, last_error, last_checkpoint, worker_id,
			processed_by_worker_id, processed_by_worker_name, created_at
		FROM jobs WHERE video_id = $1 ORDER BY created_at DESC LIMIT 1
	`, videoID)
	if err := scanJob(row, &j); err != nil {
		return models.Job{}, translatePgErr(err, "job")
	}
	return j, nil
}

func (r *postgresRepository) JobState(ctx context.Context, jobID string, now time.Time) (jobstate.State, error) {
	j, err := r.GetJob(ctx, jobID)
	if err != nil {
		return "", err
	}
	return jobstate.Of(j, now), nil
}

func (r *postgresRepository) ListQualityProgress(ctx context.Context, jobID string) ([]models.QualityProgress, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT job_id, quality, status, progress_percent, segments_total, segments_completed
		FROM quality_progress WHERE job_id = $1 ORDER BY quality
	`, jobID)
	if err != nil {
		return nil, apierr.Wrap(apierr.TransientStorage, err)
	}
	defer rows.Close()

	var out []models.QualityProgress
	for rows.Next() {
		var q models.QualityProgress
		if err := rows.Scan(&q.JobID, &q.Quality, &q.Status, &q.ProgressPercent, &q.SegmentsTotal, &q.SegmentsCompleted); err != nil {
			return nil, apierr.Wrap(apierr.TransientStorage, err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// ClaimNextJob uses SELECT ... FOR UPDATE SKIP LOCKED to pick the oldest
// claimable job (by the video's created_at) without blocking on a job a
// concurrent transaction already has locked, then an UPDATE scoped to that
// row's primary key completes the claim within the same transaction.
func (r *postgresRepository) ClaimNextJob(ctx context.Context, workerID string, caps models.Capabilities, now time.Time) (*models.Job, *models.Video, error) {
	var j models.Job
	var v models.Video
	lease := 5 * time.Minute

	err := r.withTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			SELECT j.id
			FROM jobs j
			JOIN videos vid ON vid.id = j.video_id
			WHERE vid.deleted_at IS NULL
			  AND vid.status IN ('pending', 'processing')
			  AND j.completed_at IS NULL
			  AND (
			        j.claimed_at IS NULL
			        AND NOT (j.last_error <> '' AND j.attempt_number >= j.max_attempts)
			      )
			ORDER BY vid.created_at ASC, j.id ASC
			LIMIT 1
			FOR UPDATE OF j SKIP LOCKED
		`)
		var jobID string
		if err := row.Scan(&jobID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return errNoClaimableJob
			}
			return apierr.Wrap(apierr.TransientStorage, err)
		}

		expiresAt := now.Add(lease)
		updated := tx.QueryRow(ctx, `
			UPDATE jobs SET claimed_at = $2, claim_expires_at = $3, worker_id = $4
			WHERE id = $1
			RETURNING id, video_id, claimed_at, claim_expires_at, completed_at, current_step, progress_percent,
				attempt_number, max_attempts, last_error, last_checkpoint, worker_id,
				processed_by_worker_id, processed_by_worker_name, created_at
		`, jobID, now, expiresAt, workerID)
		if err := scanJob(updated, &j); err != nil {
			return apierr.Wrap(apierr.TransientStorage, err)
		}

		videoRow := tx.QueryRow(ctx, `
			UPDATE videos SET status = 'processing', updated_at = now()
			WHERE id = $1
			RETURNING id, slug, title, duration, source_width, source_height, status, streaming_format, primary_codec, created_at, updated_at
		`, j.VideoID)
		return scanVideo(videoRow, &v)
	})
	if errors.Is(err, errNoClaimableJob) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return &j, &v, nil
}

var errNoClaimableJob = errors.New("no claimable job")

func (r *postgresRepository) ExtendClaim(ctx context.Context, jobID, workerID string, now time.Time, lease time.Duration) (time.Time, error) {
	if lease <= 0 {
		lease = 5 * time.Minute
	}
	newExpiry := now.Add(lease)
	row := r.pool.QueryRow(ctx, `
		UPDATE jobs SET claim_expires_at = $4
		WHERE id = $1 AND worker_id = $2 AND completed_at IS NULL AND claim_expires_at > $3
		RETURNING claim_expires_at
	`, jobID, workerID, now, newExpiry)
	var got time.Time
	if err := row.Scan(&got); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, apierr.New(apierr.ClaimLost, "worker does not hold the claim")
		}
		return time.Time{}, apierr.Wrap(apierr.TransientStorage, err)
	}
	return got, nil
}

func (r *postgresRepository) UpdateProgress(ctx context.Context, jobID, workerID string, step string, percent int, qualities []models.QualityProgress, now time.Time) error {
	return r.withTx(ctx, func(tx pgx.Tx) error {
		lease := 5 * time.Minute
		tag, err := tx.Exec(ctx, `
			UPDATE jobs SET current_step = $3, progress_percent = $4, last_checkpoint = $5, claim_expires_at = $6
			WHERE id = $1 AND worker_id = $2 AND completed_at IS NULL
		`, jobID, workerID, step, percent, now, now.Add(lease))
		if err != nil {
			return apierr.Wrap(apierr.TransientStorage, err)
		}
		if tag.RowsAffected() == 0 {
			return apierr.New(apierr.ClaimLost, "worker does not hold the claim")
		}
		for _, q := range qualities {
			_, err := tx.Exec(ctx, `
				INSERT INTO quality_progress (job_id, quality, status, progress_percent, segments_total, segments_completed)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (job_id, quality) DO UPDATE SET
					status = EXCLUDED.status,
					progress_percent = EXCLUDED.progress_percent,
					segments_total = EXCLUDED.segments_total,
					segments_completed = EXCLUDED.segments_completed
			`, jobID, q.Quality, q.Status, q.ProgressPercent, q.SegmentsTotal, q.SegmentsCompleted)
			if err != nil {
				return apierr.Wrap(apierr.TransientStorage, err)
			}
		}
		return nil
	})
}

func (r *postgresRepository) CompleteJob(ctx context.Context, jobID, workerID string, result CompleteResult, now time.Time) error {
	return r.withTx(ctx, func(tx pgx.Tx) error {
		var videoID, workerName string
		row := tx.QueryRow(ctx, `SELECT worker_name FROM workers WHERE worker_id = $1`, workerID)
		_ = row.Scan(&workerName)

		updJob := tx.QueryRow(ctx, `
			UPDATE jobs SET completed_at = $3, progress_percent = 100, current_step = 'completed',
				processed_by_worker_id = $2, processed_by_worker_name = $4
			WHERE id = $1 AND worker_id = $2 AND completed_at IS NULL
			RETURNING video_id
		`, jobID, workerID, now, workerName)
		if err := updJob.Scan(&videoID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apierr.New(apierr.ClaimLost, "worker does not hold the claim")
			}
			return apierr.Wrap(apierr.TransientStorage, err)
		}

		for _, q := range result.Qualities {
			_, err := tx.Exec(ctx, `
				INSERT INTO quality_progress (job_id, quality, status, progress_percent, segments_total, segments_completed)
				VALUES ($1, $2, $3, 100, $4, $4)
				ON CONFLICT (job_id, quality) DO UPDATE SET
					status = EXCLUDED.status, progress_percent = 100,
					segments_total = EXCLUDED.segments_total, segments_completed = EXCLUDED.segments_completed
			`, jobID, q.Quality, q.Status, q.SegmentsTotal)
			if err != nil {
				return apierr.Wrap(apierr.TransientStorage, err)
			}
		}

		_, err := tx.Exec(ctx, `
			UPDATE videos SET status = 'ready', duration = $2, source_width = $3, source_height = $4, updated_at = $5
			WHERE id = $1
		`, videoID, result.Duration, result.SourceWidth, result.SourceHeight, now)
		if err != nil {
			return apierr.Wrap(apierr.TransientStorage, err)
		}
		return nil
	})
}

func (r *postgresRepository) FailJob(ctx context.Context, jobID, workerID, errMsg string, retry bool, now time.Time) error {
	return r.withTx(ctx, func(tx pgx.Tx) error {
		var videoID string
		var attempt, maxAttempts int
		row := tx.QueryRow(ctx, `
			UPDATE jobs SET last_error = $3, last_checkpoint = $4, claimed_at = NULL, claim_expires_at = NULL, worker_id = NULL,
				attempt_number = CASE WHEN $5 AND attempt_number < max_attempts THEN attempt_number + 1 ELSE attempt_number END
			WHERE id = $1 AND worker_id = $2 AND completed_at IS NULL
			RETURNING video_id, attempt_number, max_attempts
		`, jobID, workerID, errMsg, now, retry)
		if err := row.Scan(&videoID, &attempt, &maxAttempts); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apierr.New(apierr.ClaimLost, "worker does not hold the claim")
			}
			return apierr.Wrap(apierr.TransientStorage, err)
		}

		status := "processing"
		if !retry || attempt >= maxAttempts {
			status = "failed"
		}
		_, err := tx.Exec(ctx, `UPDATE videos SET status = $2, updated_at = $3 WHERE id = $1`, videoID, status, now)
		if err != nil {
			return apierr.Wrap(apierr.TransientStorage, err)
		}
		return nil
	})
}

func (r *postgresRepository) ReapExpiredClaims(ctx context.Context, now time.Time, offlineAfter, staleAfter time.Duration) (ReapSummary, error) {
	var summary ReapSummary
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE jobs SET claimed_at = NULL, claim_expires_at = NULL, worker_id = NULL
			WHERE completed_at IS NULL AND claimed_at IS NOT NULL AND claim_expires_at <= $1
		`, now)
		if err != nil {
			return apierr.Wrap(apierr.TransientStorage, err)
		}
		summary.ClaimsExpired = int(tag.RowsAffected())

		if staleAfter > 0 {
			// Any non-terminal job with a checkpoint older than staleAfter is
			// treated as a soft failure, whether or not its claim is still
			// live: a worker can keep heartbeating (and so keep extending its
			// claim) while its transcode has actually stopped progressing.
			// Attribute the failure to whichever worker held it and drop the
			// claim so the job becomes claimable again.
			tag, err = tx.Exec(ctx, `
				UPDATE jobs j SET
					attempt_number = CASE WHEN j.attempt_number < j.max_attempts THEN j.attempt_number + 1 ELSE j.attempt_number END,
					last_error = 'stalled: no checkpoint within staleness window',
					last_checkpoint = $1,
					processed_by_worker_id = CASE WHEN j.worker_id IS NOT NULL THEN j.worker_id ELSE j.processed_by_worker_id END,
					processed_by_worker_name = CASE WHEN j.worker_id IS NOT NULL
						THEN COALESCE((SELECT worker_name FROM workers WHERE worker_id = j.worker_id), '')
						ELSE j.processed_by_worker_name END,
					claimed_at = NULL,
					claim_expires_at = NULL,
					worker_id = NULL
				WHERE j.completed_at IS NULL AND $1 - j.last_checkpoint > $2
			`, now, staleAfter)
			if err != nil {
				return apierr.Wrap(apierr.TransientStorage, err)
			}
			summary.StalledRetried = int(tag.RowsAffected())

			_, err = tx.Exec(ctx, `
				UPDATE videos v SET status = 'failed', updated_at = $1
				FROM jobs j
				WHERE j.video_id = v.id AND j.completed_at IS NULL AND j.attempt_number >= j.max_attempts AND j.last_error <> ''
			`, now)
			if err != nil {
				return apierr.Wrap(apierr.TransientStorage, err)
			}
		}

		if offlineAfter > 0 {
			tag, err = tx.Exec(ctx, `
				UPDATE workers SET status = 'offline', current_job_id = NULL
				WHERE status NOT IN ('offline', 'disabled') AND $1 - last_heartbeat > $2
			`, now, offlineAfter)
			if err != nil {
				return apierr.Wrap(apierr.TransientStorage, err)
			}
			summary.WorkersOffline = int(tag.RowsAffected())
		}
		return nil
	})
	return summary, err
}

func (r *postgresRepository) RegisterWorker(ctx context.Context, reg WorkerRegistration, now time.Time) (models.Worker, error) {
	capsJSON, err := json.Marshal(reg.Capabilities)
	if err != nil {
		return models.Worker{}, apierr.Wrap(apierr.Internal, err)
	}
	metaJSON, err := json.Marshal(reg.Metadata)
	if err != nil {
		return models.Worker{}, apierr.Wrap(apierr.Internal, err)
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO workers (worker_id, worker_name, worker_type, registered_at, last_heartbeat, status, capabilities, metadata)
		VALUES ($1, $2, $3, $4, $4, 'idle', $5, $6)
		ON CONFLICT (worker_id) DO UPDATE SET
			worker_name = EXCLUDED.worker_name, worker_type = EXCLUDED.worker_type,
			last_heartbeat = EXCLUDED.last_heartbeat, capabilities = EXCLUDED.capabilities, metadata = EXCLUDED.metadata
		RETURNING worker_id, worker_name, worker_type, registered_at, last_heartbeat, status, current_job_id, capabilities, metadata
	`, reg.WorkerID, reg.WorkerName, reg.WorkerType, now, capsJSON, metaJSON)
	var w models.Worker
	if err := scanWorker(row, &w); err != nil {
		return models.Worker{}, apierr.Wrap(apierr.TransientStorage, err)
	}
	return w, nil
}

func scanWorker(row pgx.Row, w *models.Worker) error {
	var capsJSON, metaJSON []byte
	if err := row.Scan(&w.WorkerID, &w.WorkerName, &w.WorkerType, &w.RegisteredAt, &w.LastHeartbeat,
		&w.Status, &w.CurrentJobID, &capsJSON, &metaJSON); err != nil {
		return err
	}
	if len(capsJSON) > 0 {
		_ = json.Unmarshal(capsJSON, &w.Capabilities)
	}
	if len(metaJSON) > 0 {
		_ = json.Unmarshal(metaJSON, &w.Metadata)
	}
	return nil
}

func (r *postgresRepository) Heartbeat(ctx context.Context, workerID string, status models.WorkerStatus, metadata map[string]string, now time.Time) (models.Worker, error) {
	var metaJSON []byte
	var err error
	if metadata != nil {
		metaJSON, err = json.Marshal(metadata)
		if err != nil {
			return models.Worker{}, apierr.Wrap(apierr.Internal, err)
		}
	}
	var w models.Worker
	err = r.withTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			UPDATE workers SET last_heartbeat = $2,
				status = CASE WHEN $3 <> '' THEN $3 ELSE status END,
				metadata = CASE WHEN $4::jsonb IS NOT NULL THEN $4::jsonb ELSE metadata END
			WHERE worker_id = $1
			RETURNING worker_id, worker_name, worker_type, registered_at, last_heartbeat, status, current_job_id, capabilities, metadata
		`, workerID, now, string(status), metaJSON)
		if err := scanWorker(row, &w); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apierr.New(apierr.NotFound, "worker not found")
			}
			return apierr.Wrap(apierr.TransientStorage, err)
		}

		// A live heartbeat is proof of work in progress: extend whatever
		// claim this worker currently holds the same way
		// ExtendClaim/UpdateProgress do, so a worker busy between progress
		// reports doesn't lose its claim.
		lease := 5 * time.Minute
		if _, err := tx.Exec(ctx, `
			UPDATE jobs SET claim_expires_at = $2
			WHERE worker_id = $1 AND completed_at IS NULL
		`, workerID, now.Add(lease)); err != nil {
			return apierr.Wrap(apierr.TransientStorage, err)
		}
		return nil
	})
	if err != nil {
		return models.Worker{}, err
	}
	return w, nil
}

func (r *postgresRepository) GetWorker(ctx context.Context, workerID string) (models.Worker, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT worker_id, worker_name, worker_type, registered_at, last_heartbeat, status, current_job_id, capabilities, metadata
		FROM workers WHERE worker_id = $1
	`, workerID)
	var w models.Worker
	if err := scanWorker(row, &w); err != nil {
		return models.Worker{}, translatePgErr(err, "worker")
	}
	return w, nil
}

func (r *postgresRepository) ListWorkers(ctx context.Context) ([]models.Worker, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT worker_id, worker_name, worker_type, registered_at, last_heartbeat, status, current_job_id, capabilities, metadata
		FROM workers ORDER BY registered_at ASC
	`)
	if err != nil {
		return nil, apierr.Wrap(apierr.TransientStorage, err)
	}
	defer rows.Close()

	var out []models.Worker
	for rows.Next() {
		var w models.Worker
		if err := scanWorker(rows, &w); err != nil {
			return nil, apierr.Wrap(apierr.TransientStorage, err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (r *postgresRepository) DeleteWorker(ctx context.Context, workerID string) error {
	return r.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `UPDATE jobs SET worker_id = NULL, claimed_at = NULL, claim_expires_at = NULL WHERE worker_id = $1`, workerID)
		if err != nil {
			return apierr.Wrap(apierr.TransientStorage, err)
		}
		_, err = tx.Exec(ctx, `DELETE FROM api_keys WHERE worker_id = $1`, workerID)
		if err != nil {
			return apierr.Wrap(apierr.TransientStorage, err)
		}
		tag, err := tx.Exec(ctx, `DELETE FROM workers WHERE worker_id = $1`, workerID)
		if err != nil {
			return apierr.Wrap(apierr.TransientStorage, err)
		}
		if tag.RowsAffected() == 0 {
			return apierr.New(apierr.NotFound, "worker not found")
		}
		return nil
	})
}

func (r *postgresRepository) SetWorkerDisabled(ctx context.Context, workerID string, disabled bool) error {
	status := models.WorkerIdle
	if disabled {
		status = models.WorkerDisabled
	}
	tag, err := r.pool.Exec(ctx, `UPDATE workers SET status = $2 WHERE worker_id = $1`, workerID, status)
	if err != nil {
		return apierr.Wrap(apierr.TransientStorage, err)
	}
	if tag.RowsAffected() == 0 {
		return apierr.New(apierr.NotFound, "worker not found")
	}
	return nil
}

func (r *postgresRepository) CreateAPIKey(ctx context.Context, workerID, keyPrefix, keyHash string, version models.HashVersion, expiresAt *time.Time, now time.Time) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO api_keys (worker_id, key_prefix, key_hash, hash_version, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, workerID, keyPrefix, keyHash, version, now, expiresAt)
	if err != nil {
		return apierr.Wrap(apierr.TransientStorage, err)
	}
	return nil
}

func (r *postgresRepository) FindAPIKeyCandidates(ctx context.Context, keyPrefix string, now time.Time) ([]models.APIKey, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT worker_id, key_hash, key_prefix, hash_version, created_at, expires_at, revoked_at, last_used_at
		FROM api_keys
		WHERE key_prefix = $1 AND revoked_at IS NULL AND (expires_at IS NULL OR expires_at > $2)
	`, keyPrefix, now)
	if err != nil {
		return nil, apierr.Wrap(apierr.TransientStorage, err)
	}
	defer rows.Close()

	var out []models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.WorkerID, &k.KeyHash, &k.KeyPrefix, &k.HashVersion, &k.CreatedAt, &k.ExpiresAt, &k.RevokedAt, &k.LastUsedAt); err != nil {
			return nil, apierr.Wrap(apierr.TransientStorage, err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (r *postgresRepository) TouchAPIKey(ctx context.Context, workerID, keyPrefix string, now time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE api_keys SET last_used_at = $3 WHERE worker_id = $1 AND key_prefix = $2`, workerID, keyPrefix, now)
	if err != nil {
		return apierr.Wrap(apierr.TransientStorage, err)
	}
	return nil
}

func (r *postgresRepository) RevokeAPIKeys(ctx context.Context, workerID string, now time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE api_keys SET revoked_at = $2 WHERE worker_id = $1 AND revoked_at IS NULL`, workerID, now)
	if err != nil {
		return apierr.Wrap(apierr.TransientStorage, err)
	}
	return nil
}

func (r *postgresRepository) CreateSession(ctx context.Context, sess models.AdminSession) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO admin_sessions (token, created_at, expires_at, last_used_at, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, sess.Token, sess.CreatedAt, sess.ExpiresAt, sess.LastUsedAt, sess.IPAddress, sess.UserAgent)
	if err != nil {
		return apierr.Wrap(apierr.TransientStorage, err)
	}
	return nil
}

func (r *postgresRepository) GetSession(ctx context.Context, token string) (models.AdminSession, error) {
	var s models.AdminSession
	row := r.pool.QueryRow(ctx, `
		SELECT token, created_at, expires_at, last_used_at, ip_address, user_agent FROM admin_sessions WHERE token = $1
	`, token)
	if err := row.Scan(&s.Token, &s.CreatedAt, &s.ExpiresAt, &s.LastUsedAt, &s.IPAddress, &s.UserAgent); err != nil {
		return models.AdminSession{}, translatePgErr(err, "session")
	}
	return s, nil
}

func (r *postgresRepository) TouchSession(ctx context.Context, token string, now time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE admin_sessions SET last_used_at = $2 WHERE token = $1`, token, now)
	if err != nil {
		return apierr.Wrap(apierr.TransientStorage, err)
	}
	if tag.RowsAffected() == 0 {
		return apierr.New(apierr.NotFound, "session not found")
	}
	return nil
}

func (r *postgresRepository) DeleteSession(ctx context.Context, token string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM admin_sessions WHERE token = $1`, token)
	if err != nil {
		return apierr.Wrap(apierr.TransientStorage, err)
	}
	return nil
}

func (r *postgresRepository) PurgeExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM admin_sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, apierr.Wrap(apierr.TransientStorage, err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *postgresRepository) GetSetting(ctx context.Context, key string) (models.Setting, error) {
	var s models.Setting
	row := r.pool.QueryRow(ctx, `SELECT key, type, value, category, updated_at, updated_by FROM settings WHERE key = $1`, key)
	if err := row.Scan(&s.Key, &s.Type, &s.Value, &s.Category, &s.UpdatedAt, &s.UpdatedBy); err != nil {
		return models.Setting{}, translatePgErr(err, "setting")
	}
	return s, nil
}

func (r *postgresRepository) ListSettings(ctx context.Context, category string) ([]models.Setting, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT key, type, value, category, updated_at, updated_by FROM settings
		WHERE ($1 = '' OR category = $1) ORDER BY key
	`, category)
	if err != nil {
		return nil, apierr.Wrap(apierr.TransientStorage, err)
	}
	defer rows.Close()

	var out []models.Setting
	for rows.Next() {
		var s models.Setting
		if err := rows.Scan(&s.Key, &s.Type, &s.Value, &s.Category, &s.UpdatedAt, &s.UpdatedBy); err != nil {
			return nil, apierr.Wrap(apierr.TransientStorage, err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *postgresRepository) PutSetting(ctx context.Context, s models.Setting) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO settings (key, type, value, category, updated_at, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at, updated_by = EXCLUDED.updated_by
	`, s.Key, s.Type, s.Value, s.Category, s.UpdatedAt, s.UpdatedBy)
	if err != nil {
		return apierr.Wrap(apierr.TransientStorage, err)
	}
	return nil
}

func (r *postgresRepository) RecordDeploymentEvent(ctx context.Context, evt models.DeploymentEvent) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO deployment_events (worker_id, event_type, old_version, new_version, status, triggered_by, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, evt.WorkerID, evt.EventType, evt.OldVersion, evt.NewVersion, evt.Status, evt.TriggeredBy, evt.CreatedAt, evt.CompletedAt)
	if err != nil {
		return apierr.Wrap(apierr.TransientStorage, err)
	}
	return nil
}

func (r *postgresRepository) ListDeploymentEvents(ctx context.Context, workerID string, limit int) ([]models.DeploymentEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, worker_id, event_type, old_version, new_version, status, triggered_by, created_at, completed_at
		FROM deployment_events
		WHERE ($1 = '' OR worker_id = $1)
		ORDER BY created_at DESC LIMIT $2
	`, workerID, limit)
	if err != nil {
		return nil, apierr.Wrap(apierr.TransientStorage, err)
	}
	defer rows.Close()

	var out []models.DeploymentEvent
	for rows.Next() {
		var e models.DeploymentEvent
		if err := rows.Scan(&e.ID, &e.WorkerID, &e.EventType, &e.OldVersion, &e.NewVersion, &e.Status, &e.TriggeredBy, &e.CreatedAt, &e.CompletedAt); err != nil {
			return nil, apierr.Wrap(apierr.TransientStorage, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *postgresRepository) RecordSegment(ctx context.Context, seg models.Segment) (bool, error) {
	if !seg.SHA256Valid {
		return false, nil
	}
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO segments (video_id, quality, filename, size, sha256, sha256_valid, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (video_id, quality, filename) DO NOTHING
	`, seg.VideoID, seg.Quality, seg.Filename, seg.Size, seg.SHA256, seg.SHA256Valid, seg.CreatedAt)
	if err != nil {
		return false, apierr.Wrap(apierr.TransientStorage, err)
	}
	_ = tag
	return true, nil
}

func (r *postgresRepository) SegmentCount(ctx context.Context, videoID string, quality models.Quality) (int, error) {
	var n int
	row := r.pool.QueryRow(ctx, `SELECT count(*) FROM segments WHERE video_id = $1 AND quality = $2`, videoID, quality)
	if err := row.Scan(&n); err != nil {
		return 0, apierr.Wrap(apierr.TransientStorage, err)
	}
	return n, nil
}

func (r *postgresRepository) FinalizeQuality(ctx context.Context, videoID string, quality models.Quality, declaredCount int, manifestSHA256 string, now time.Time) ([]string, error) {
	persisted, err := r.SegmentCount(ctx, videoID, quality)
	if err != nil {
		return nil, err
	}
	if persisted >= declaredCount {
		return nil, nil
	}
	missing := make([]string, 0, declaredCount-persisted)
	for i := persisted; i < declaredCount; i++ {
		missing = append(missing, "segment_missing")
	}
	return missing, nil
}

func pgErrCode(err error) string {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState()
	}
	return ""
}
