// Package eventbus is the typed Redis pub/sub layer used to fan out
// transcoding progress, worker status and job outcome notifications to SSE
// clients and the operator dashboard. It mirrors the channel layout of
// vlog:progress:{id}, vlog:progress:all, vlog:workers:status,
// vlog:jobs:completed and vlog:jobs:failed, and wraps every publish call
// in a circuit breaker (subscriptions go to Redis directly) so a Redis
// outage degrades these features instead of taking down the coordinator.
package eventbus

import (
	"fmt"
	"time"
)

const channelPrefix = "vlog"

// ChannelKind names the channel families this bus publishes to.
type ChannelKind string

const (
	ChannelProgress      ChannelKind = "progress"
	ChannelWorkersStatus ChannelKind = "workers"
	ChannelJobsCompleted ChannelKind = "jobs"
	ChannelCommands      ChannelKind = "commands"
)

// ChannelName builds the canonical "vlog:<kind>:<entity>" channel name. An
// empty entity yields the bare "vlog:<kind>" channel.
func ChannelName(kind ChannelKind, entity string) string {
	if entity == "" {
		return fmt.Sprintf("%s:%s", channelPrefix, kind)
	}
	return fmt.Sprintf("%s:%s:%s", channelPrefix, kind, entity)
}

// EventType discriminates the payload shapes published on the bus.
type EventType string

const (
	EventProgress      EventType = "progress"
	EventWorkerStatus  EventType = "worker_status"
	EventJobCompleted  EventType = "job_completed"
	EventJobFailed     EventType = "job_failed"
	EventCommand       EventType = "command"
	EventCommandResult EventType = "command_response"
)

// ProgressEvent reports the current state of one transcoding job.
type ProgressEvent struct {
	Type            EventType          `json:"type"`
	VideoID         string             `json:"video_id"`
	JobID           string             `json:"job_id"`
	CurrentStep     string             `json:"current_step"`
	ProgressPercent int                `json:"progress_percent"`
	Qualities       []QualityProgress  `json:"qualities,omitempty"`
	Status          string             `json:"status,omitempty"`
	LastError       string             `json:"last_error,omitempty"`
	Timestamp       time.Time          `json:"timestamp"`
}

// QualityProgress is the wire shape of one rendition's progress, distinct
// from models.QualityProgress so the bus payload stays decoupled from the
// catalog's storage representation.
type QualityProgress struct {
	Quality           string `json:"quality"`
	Status            string `json:"status"`
	ProgressPercent   int    `json:"progress_percent"`
	SegmentsTotal     int    `json:"segments_total"`
	SegmentsCompleted int    `json:"segments_completed"`
}

// WorkerStatusEvent reports a worker transitioning between operational
// states.
type WorkerStatusEvent struct {
	Type              EventType `json:"type"`
	WorkerID          string    `json:"worker_id"`
	WorkerName        string    `json:"worker_name"`
	Status            string    `json:"status"`
	CurrentJobID      string    `json:"current_job_id,omitempty"`
	CurrentVideoSlug  string    `json:"current_video_slug,omitempty"`
	HWAccelType       string    `json:"hwaccel_type,omitempty"`
	ProgressPercent   int       `json:"progress_percent,omitempty"`
	CurrentStep       string    `json:"current_step,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// JobCompletedEvent announces a successful transcode.
type JobCompletedEvent struct {
	Type            EventType         `json:"type"`
	JobID           string            `json:"job_id"`
	VideoID         string            `json:"video_id"`
	VideoSlug       string            `json:"video_slug"`
	WorkerID        string            `json:"worker_id"`
	WorkerName      string            `json:"worker_name"`
	Qualities       []QualityProgress `json:"qualities"`
	DurationSeconds float64           `json:"duration_seconds,omitempty"`
	Timestamp       time.Time         `json:"timestamp"`
}

// JobFailedEvent announces a failed transcoding attempt; PublishJobFailed
// truncates its error text to 200 bytes before it leaves the process.
type JobFailedEvent struct {
	Type        EventType `json:"type"`
	JobID       string    `json:"job_id"`
	VideoID     string    `json:"video_id"`
	VideoSlug   string    `json:"video_slug"`
	WorkerID    string    `json:"worker_id"`
	WorkerName  string    `json:"worker_name"`
	Error       string    `json:"error"`
	WillRetry   bool      `json:"will_retry"`
	Attempt     int       `json:"attempt"`
	MaxAttempts int       `json:"max_attempts"`
	Timestamp   time.Time `json:"timestamp"`
}

// CommandEvent is an operator-issued instruction delivered to a specific
// worker (restart, update, get_logs, get_metrics).
type CommandEvent struct {
	Type      EventType `json:"type"`
	WorkerID  string    `json:"worker_id"`
	CommandID string    `json:"command_id"`
	Command   string    `json:"command"`
	Immediate bool      `json:"immediate"`
	IssuedBy  string     `json:"issued_by"`
	Timestamp time.Time `json:"timestamp"`
}

func errorLimit200(s string) string {
	if len(s) <= 200 {
		return s
	}
	return s[:200]
}

func truncateError(s string) string { return errorLimit200(s) }
