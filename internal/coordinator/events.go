package coordinator

import (
	"vlog/internal/eventbus"
	"vlog/internal/models"
)

func qualityProgressToEvent(qualities []models.QualityProgress) []eventbus.QualityProgress {
	out := make([]eventbus.QualityProgress, 0, len(qualities))
	for _, q := range qualities {
		out = append(out, eventbus.QualityProgress{
			Quality:           string(q.Quality),
			Status:            string(q.Status),
			ProgressPercent:   q.ProgressPercent,
			SegmentsTotal:     q.SegmentsTotal,
			SegmentsCompleted: q.SegmentsCompleted,
		})
	}
	return out
}

func progressEventFrom(job models.Job, video models.Video, req progressRequest) eventbus.ProgressEvent {
	return eventbus.ProgressEvent{
		VideoID:         video.ID,
		JobID:           job.ID,
		CurrentStep:     req.CurrentStep,
		ProgressPercent: req.ProgressPercent,
		Qualities:       qualityProgressToEvent(req.QualityProgress),
	}
}

func completedEventFrom(job models.Job, video models.Video, worker models.Worker, req completeRequest) eventbus.JobCompletedEvent {
	return eventbus.JobCompletedEvent{
		JobID:           job.ID,
		VideoID:         video.ID,
		VideoSlug:       video.Slug,
		WorkerID:        worker.WorkerID,
		WorkerName:      worker.WorkerName,
		Qualities:       qualityProgressToEvent(req.Qualities),
		DurationSeconds: req.Duration,
	}
}

func failedEventFrom(job models.Job, video models.Video, worker models.Worker, req failRequest) eventbus.JobFailedEvent {
	return eventbus.JobFailedEvent{
		JobID:       job.ID,
		VideoID:     video.ID,
		VideoSlug:   video.Slug,
		WorkerID:    worker.WorkerID,
		WorkerName:  worker.WorkerName,
		Error:       req.ErrorMessage,
		WillRetry:   req.Retry,
		Attempt:     job.AttemptNumber,
		MaxAttempts: job.MaxAttempts,
	}
}
