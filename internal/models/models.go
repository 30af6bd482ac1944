// Package models holds the persistent entities of the catalog: videos,
// transcoding jobs, workers, credentials, sessions, settings and audit
// records. These are plain structs; behaviour lives in internal/jobstate,
// internal/catalog and internal/apikeys.
package models

import "time"

// VideoStatus enumerates the lifecycle of a Video row.
type VideoStatus string

const (
	VideoPending    VideoStatus = "pending"
	VideoProcessing VideoStatus = "processing"
	VideoReady      VideoStatus = "ready"
	VideoFailed     VideoStatus = "failed"
)

// StreamingFormat selects the container/layout used for a video's rendition
// ladder on disk.
type StreamingFormat string

const (
	FormatHLSTS StreamingFormat = "hls_ts"
	FormatCMAF  StreamingFormat = "cmaf"
)

// Codec enumerates the primary video codec used for the source rendition.
type Codec string

const (
	CodecH264 Codec = "h264"
	CodecHEVC Codec = "hevc"
	CodecAV1  Codec = "av1"
)

// Video is an uploaded source asset and the adaptive-bitrate artifacts
// produced from it.
type Video struct {
	ID              string
	Slug            string
	Title           string
	Duration        float64
	SourceWidth     int
	SourceHeight    int
	Status          VideoStatus
	StreamingFormat StreamingFormat
	PrimaryCodec    Codec
	CreatedAt       time.Time
	UpdatedAt       time.Time
	DeletedAt       *time.Time
}

// QualityStatus enumerates the lifecycle of a single rendition's upload.
type QualityStatus string

const (
	QualityPending    QualityStatus = "pending"
	QualityInProgress QualityStatus = "in_progress"
	QualityUploading  QualityStatus = "uploading"
	QualityUploaded   QualityStatus = "uploaded"
	QualityCompleted  QualityStatus = "completed"
	QualityFailed     QualityStatus = "failed"
	QualitySkipped    QualityStatus = "skipped"
)

// Quality names the rendition ladder rungs. "original" passes the source
// through unscaled.
type Quality string

const (
	Quality360p  Quality = "360p"
	Quality480p  Quality = "480p"
	Quality720p  Quality = "720p"
	Quality1080p Quality = "1080p"
	Quality1440p Quality = "1440p"
	Quality2160p Quality = "2160p"
	QualityOrig  Quality = "original"
)

// QualityRank orders renditions from lowest to highest. Nothing in the
// module consults it when deciding a Video's status.
var QualityRank = map[Quality]int{
	Quality360p:  1,
	Quality480p:  2,
	Quality720p:  3,
	Quality1080p: 4,
	Quality1440p: 5,
	Quality2160p: 6,
	QualityOrig:  7,
}

// QualityProgress is the per-rendition sub-progress of a Job.
type QualityProgress struct {
	JobID             string
	Quality           Quality
	Status            QualityStatus
	ProgressPercent   int
	SegmentsTotal     int
	SegmentsCompleted int
}

// Job is one transcoding attempt for a Video. Exactly one non-terminal Job
// exists per Video at any time (enforced by a unique index in the catalog).
type Job struct {
	ID                    string
	VideoID               string
	ClaimedAt             *time.Time
	ClaimExpiresAt        *time.Time
	CompletedAt           *time.Time
	CurrentStep           string
	ProgressPercent       int
	AttemptNumber         int
	MaxAttempts           int
	LastError             string
	LastCheckpoint        time.Time
	WorkerID              *string
	ProcessedByWorkerID   string
	ProcessedByWorkerName string
	CreatedAt             time.Time
}

// WorkerType distinguishes workers that run on the coordinator's own host
// from independently deployed remote executors.
type WorkerType string

const (
	WorkerLocal  WorkerType = "local"
	WorkerRemote WorkerType = "remote"
)

// WorkerStatus enumerates the operational state of a registered Worker.
type WorkerStatus string

const (
	WorkerActive   WorkerStatus = "active"
	WorkerIdle     WorkerStatus = "idle"
	WorkerBusy     WorkerStatus = "busy"
	WorkerOffline  WorkerStatus = "offline"
	WorkerDisabled WorkerStatus = "disabled"
)

// Capabilities is the bounded, whitelisted record of hardware/software
// facts a worker reports about itself.
type Capabilities struct {
	HWAccelType  string   `json:"hwaccel_type,omitempty"`
	CPUCores     int      `json:"cpu_cores,omitempty"`
	TotalMemMB   int      `json:"total_mem_mb,omitempty"`
	Codecs       []string `json:"codecs,omitempty"`
	MaxJobs      int      `json:"max_jobs,omitempty"`
	OS           string   `json:"os,omitempty"`
	AgentVersion string   `json:"agent_version,omitempty"`
}

// Worker is a registered remote or local transcoding executor.
type Worker struct {
	WorkerID      string
	WorkerName    string
	WorkerType    WorkerType
	RegisteredAt  time.Time
	LastHeartbeat time.Time
	Status        WorkerStatus
	CurrentJobID  *string
	Capabilities  Capabilities
	Metadata      map[string]string
}

// HashVersion identifies the algorithm used to hash an APIKey's plaintext.
type HashVersion int

const (
	HashSHA256Legacy HashVersion = 1
	HashArgon2ID     HashVersion = 2
)

// APIKey is the credential issued to exactly one Worker.
type APIKey struct {
	WorkerID    string
	KeyHash     string
	KeyPrefix   string
	HashVersion HashVersion
	CreatedAt   time.Time
	ExpiresAt   *time.Time
	RevokedAt   *time.Time
	LastUsedAt  *time.Time
}

// AdminSession is a server-side session for the operator UI, delivered only
// via an HTTP-only cookie.
type AdminSession struct {
	Token      string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	LastUsedAt time.Time
	IPAddress  string
	UserAgent  string
}

// SettingType enumerates the typed kinds a Setting's value may hold.
type SettingType string

const (
	SettingString SettingType = "string"
	SettingInt    SettingType = "int"
	SettingFloat  SettingType = "float"
	SettingBool   SettingType = "bool"
	SettingEnum   SettingType = "enum"
	SettingJSON   SettingType = "json"
)

// SettingConstraints bounds the values a Setting may be written with.
type SettingConstraints struct {
	Min        *float64
	Max        *float64
	EnumValues []string
	Pattern    string
	MinLength  *int
	MaxLength  *int
}

// Setting is a runtime-configurable, typed value with an optional env-var
// fallback. The validate tags check struct shape (non-empty key/category,
// a known type) before settingsvc ever consults Constraints for the
// value itself.
type Setting struct {
	Key         string       `validate:"required"`
	Type        SettingType  `validate:"required,oneof=string int float bool enum json"`
	Value       string
	Category    string       `validate:"required"`
	Constraints SettingConstraints
	UpdatedAt   time.Time
	UpdatedBy   string
}

// DeploymentEventType enumerates operator actions taken against a Worker.
type DeploymentEventType string

const (
	DeployRestart       DeploymentEventType = "restart"
	DeployStop          DeploymentEventType = "stop"
	DeployUpdate        DeploymentEventType = "update"
	DeployDeploy        DeploymentEventType = "deploy"
	DeployRollback      DeploymentEventType = "rollback"
	DeployVersionChange DeploymentEventType = "version_change"
)

// DeploymentEvent is an append-only audit row of an operator action on a
// Worker.
type DeploymentEvent struct {
	ID          string
	WorkerID    string
	EventType   DeploymentEventType
	OldVersion  string
	NewVersion  string
	Status      string
	TriggeredBy string
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// Segment is one upload unit of the streaming pipeline: a quality-scoped
// file with a server-verified checksum.
type Segment struct {
	VideoID     string
	Quality     Quality
	Filename    string
	Size        int64
	SHA256      string
	SHA256Valid bool
	CreatedAt   time.Time
}
