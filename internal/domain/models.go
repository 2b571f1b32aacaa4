// Package domain holds the GORM row types persisted by the indexing
// daemon. Every table lives in a single sqlite file per library root; there
// is no cross-database join anywhere in this package.
package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ArtifactKind enumerates the five derived-work kinds tracked per page.
type ArtifactKind string

const (
	ArtifactText    ArtifactKind = "text"
	ArtifactThumb   ArtifactKind = "thumb"
	ArtifactTextVec ArtifactKind = "text_vec"
	ArtifactImgVec  ArtifactKind = "img_vec"
	ArtifactBm25    ArtifactKind = "bm25"
)

var AllArtifactKinds = []ArtifactKind{ArtifactText, ArtifactThumb, ArtifactTextVec, ArtifactImgVec, ArtifactBm25}

type ArtifactStatus string

const (
	ArtifactMissing   ArtifactStatus = "missing"
	ArtifactQueued    ArtifactStatus = "queued"
	ArtifactRunning   ArtifactStatus = "running"
	ArtifactReady     ArtifactStatus = "ready"
	ArtifactSkipped   ArtifactStatus = "skipped"
	ArtifactError     ArtifactStatus = "error"
	ArtifactCancelled ArtifactStatus = "cancelled"
)

type TaskKind string

const (
	TaskText    TaskKind = "text"
	TaskPDF     TaskKind = "pdf"
	TaskThumb   TaskKind = "thumb"
	TaskBm25    TaskKind = "bm25"
	TaskTextVec TaskKind = "text_vec"
	TaskImgVec  TaskKind = "img_vec"
)

type TaskStatus string

const (
	TaskQueued    TaskStatus = "queued"
	TaskRunning   TaskStatus = "running"
	TaskSucceeded TaskStatus = "succeeded"
	TaskError     TaskStatus = "error"
	TaskSkipped   TaskStatus = "skipped"
	TaskCancelled TaskStatus = "cancelled"
)

type JobStatus string

const (
	JobCreated         JobStatus = "created"
	JobPlanning        JobStatus = "planning"
	JobRunning         JobStatus = "running"
	JobPaused          JobStatus = "paused"
	JobCancelRequested JobStatus = "cancel_requested"
	JobCancelled       JobStatus = "cancelled"
	JobCompleted       JobStatus = "completed"
	JobFailed          JobStatus = "failed"
)

type Aspect string

const (
	Aspect4x3    Aspect = "4:3"
	Aspect16x9   Aspect = "16:9"
	AspectUnkown Aspect = "unknown"
)

// File is one row per distinct absolute path inside a library root.
type File struct {
	ID            int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Path          string     `gorm:"uniqueIndex;not null" json:"path"`
	SizeBytes     int64      `gorm:"not null" json:"size_bytes"`
	MtimeEpoch    int64      `gorm:"not null" json:"mtime_epoch"`
	SlideCount    int        `gorm:"not null;default:0" json:"slide_count"`
	SlideAspect   Aspect     `gorm:"not null;default:unknown" json:"slide_aspect"`
	LastScannedAt *time.Time `json:"last_scanned_at,omitempty"`
	ScanError     string     `json:"scan_error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`

	Pages []Page `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

// Page is one row per (file, page_no).
type Page struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	FileID     int64     `gorm:"not null;uniqueIndex:idx_page_file_no" json:"file_id"`
	PageNo     int       `gorm:"not null;uniqueIndex:idx_page_file_no" json:"page_no"`
	Aspect     Aspect    `gorm:"not null;default:unknown" json:"aspect"`
	SizeBytes  int64     `gorm:"not null" json:"size_bytes"`
	MtimeEpoch int64     `gorm:"not null" json:"mtime_epoch"`
	CreatedAt  time.Time `json:"created_at"`

	Artifacts []Artifact `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

// Artifact is one row per (page, kind); exactly one row per kind exists for
// every page once planning has completed for it.
type Artifact struct {
	ID           int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	PageID       int64          `gorm:"not null;uniqueIndex:idx_artifact_page_kind" json:"page_id"`
	Kind         ArtifactKind   `gorm:"not null;uniqueIndex:idx_artifact_page_kind" json:"kind"`
	Status       ArtifactStatus `gorm:"not null;default:missing" json:"status"`
	UpdatedAt    time.Time      `json:"updated_at"`
	ParamsJSON   datatypes.JSON `json:"params_json,omitempty"`
	ErrorCode    string         `json:"error_code,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Attempts     int            `gorm:"not null;default:0" json:"attempts"`
}

// PageText holds the extracted text for a page. One row per page.
type PageText struct {
	PageID    int64     `gorm:"primaryKey" json:"page_id"`
	RawText   string    `json:"raw_text"`
	NormText  string    `json:"norm_text"`
	TextSig   string    `gorm:"index" json:"text_sig"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Thumbnail is keyed by (page, aspect, width, height).
type Thumbnail struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	PageID    int64     `gorm:"not null;uniqueIndex:idx_thumb_key" json:"page_id"`
	Aspect    Aspect    `gorm:"not null;uniqueIndex:idx_thumb_key" json:"aspect"`
	Width     int       `gorm:"not null;uniqueIndex:idx_thumb_key" json:"width"`
	Height    int       `gorm:"not null;uniqueIndex:idx_thumb_key" json:"height"`
	ImagePath string    `gorm:"not null" json:"image_path"`
	CreatedAt time.Time `json:"created_at"`
}

// EmbeddingCacheText is content-addressed: (model, text_sig) -> vector.
type EmbeddingCacheText struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Model      string    `gorm:"not null;uniqueIndex:idx_embed_cache_key" json:"model"`
	TextSig    string    `gorm:"not null;uniqueIndex:idx_embed_cache_key" json:"text_sig"`
	Dim        int       `gorm:"not null" json:"dim"`
	VectorBlob []byte    `gorm:"not null" json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

// PageTextEmbedding links a page to a cache row via text_sig, so identical
// text across pages shares one vector and one remote embedding call.
type PageTextEmbedding struct {
	PageID  int64  `gorm:"primaryKey" json:"page_id"`
	Model   string `gorm:"primaryKey" json:"model"`
	TextSig string `gorm:"not null;index" json:"text_sig"`
}

// PageImageEmbedding stores a per-page image vector directly; thumbnails
// differ page to page so there is no cache to share.
type PageImageEmbedding struct {
	PageID     int64  `gorm:"primaryKey" json:"page_id"`
	Model      string `gorm:"primaryKey" json:"model"`
	Dim        int    `gorm:"not null" json:"dim"`
	VectorBlob []byte `gorm:"not null" json:"-"`
}

// Job is a single indexing run.
type Job struct {
	ID          uuid.UUID      `gorm:"primaryKey;type:text" json:"id"`
	LibraryRoot string         `gorm:"not null" json:"library_root"`
	Status      JobStatus      `gorm:"not null;index" json:"status"`
	OptionsJSON datatypes.JSON `json:"options_json,omitempty"`
	SummaryJSON datatypes.JSON `json:"summary_json,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	FinishedAt  *time.Time     `json:"finished_at,omitempty"`

	Tasks  []Task  `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Events []Event `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

// Task represents one unit of work assigned to a worker pool.
type Task struct {
	ID              int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	JobID           uuid.UUID  `gorm:"not null;index;type:text" json:"job_id"`
	PageID          *int64     `gorm:"index" json:"page_id,omitempty"`
	FileID          *int64     `gorm:"index" json:"file_id,omitempty"`
	Kind            TaskKind   `gorm:"not null;index" json:"kind"`
	Status          TaskStatus `gorm:"not null;index;default:queued" json:"status"`
	Priority        int        `gorm:"not null;default:0;index" json:"priority"`
	DependsOnTaskID *int64     `json:"depends_on_task_id,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	HeartbeatAt     *time.Time `json:"heartbeat_at,omitempty"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
	Progress        float64    `gorm:"not null;default:0" json:"progress"`
	Message         string     `json:"message,omitempty"`
	ErrorCode       string     `json:"error_code,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
}

// Event is an append-only, per-job ledger entry with a monotonically
// increasing sequence number unique per job.
type Event struct {
	ID      int64          `gorm:"primaryKey;autoIncrement" json:"-"`
	JobID   uuid.UUID      `gorm:"not null;uniqueIndex:idx_event_job_seq;type:text" json:"job_id"`
	Seq     int64          `gorm:"not null;uniqueIndex:idx_event_job_seq" json:"seq"`
	Type    string         `gorm:"not null" json:"type"`
	Payload datatypes.JSON `json:"payload,omitempty"`
	Ts      time.Time      `gorm:"not null" json:"ts"`
}

// AllModels lists every table for AutoMigrate, in an order that satisfies
// foreign key dependencies.
func AllModels() []interface{} {
	return []interface{}{
		&File{},
		&Page{},
		&Artifact{},
		&PageText{},
		&Thumbnail{},
		&EmbeddingCacheText{},
		&PageTextEmbedding{},
		&PageImageEmbedding{},
		&Job{},
		&Task{},
		&Event{},
	}
}
