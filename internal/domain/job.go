package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// JobMeta carries the scene prediction, room type, timings, and the
// immutable attempt history for a job: scene prediction, room type,
// timings, and strict-retry reasons.
type JobMeta struct {
	ScenePrediction string `json:"scenePrediction,omitempty"`
	RoomTypeDetected string `json:"roomTypeDetected,omitempty"`
	ManualOverride bool `json:"manualSceneOverride,omitempty"`
	StrictRetry bool `json:"strictRetry,omitempty"`
	StrictRetryReasons []string `json:"strictRetryReasons,omitempty"`
	TimingsMs map[string]int64 `json:"timings,omitempty"`
	Attempts []ValidatorReport `json:"attempts,omitempty"`
	AnalysisReport *FailureAnalysis `json:"analysisReport,omitempty"`
}

// Job is one image's passage through the pipeline. Version is the
// optimistic-concurrency column: every read-modify-write goes through a
// compare-and-set on this field so two workers racing on the same job
// never both win.
type Job struct {
	ID uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4;primaryKey" json:"id"`
	BatchID uuid.UUID `gorm:"type:uuid;not null;index" json:"batchId"`
	ImageID string `gorm:"column:image_id;not null;index" json:"imageId"`
	UploadIndex int `gorm:"column:upload_index;not null;default:0" json:"uploadIndex"`

	InputImageURL string `gorm:"column:input_image_url;not null" json:"inputImageUrl"`

	StagePlan datatypes.JSON `gorm:"column:stage_plan;type:jsonb;not null" json:"-"`
	PerStageConfig datatypes.JSON `gorm:"column:per_stage_config;type:jsonb;not null" json:"-"`
	StageURLs datatypes.JSON `gorm:"column:stage_urls;type:jsonb;not null;default:'{}'" json:"-"`

	ResultStage *Stage `gorm:"column:result_stage" json:"resultStage,omitempty"`
	ResultURL string `gorm:"column:result_url" json:"resultUrl,omitempty"`

	Status JobStatus `gorm:"column:status;not null;index" json:"status"`
	ErrorCode *ErrorCode `gorm:"column:error_code" json:"errorCode,omitempty"`

	// CurrentStageIndex is the job's position in its own StagePlan: how many
	// stages have fully committed. StageAttempts counts the attempt loops
	// begun within the current stage; the intra-stage fraction of the
	// progress calculation comes from StagePhase, not from this count.
	CurrentStageIndex int `gorm:"column:current_stage_index;not null;default:0" json:"-"`
	StageAttempts int `gorm:"column:stage_attempts;not null;default:0" json:"-"`
	StagePhase string `gorm:"column:stage_phase;not null;default:''" json:"-"`

	LockedAt *time.Time `gorm:"column:locked_at" json:"-"`
	HeartbeatAt *time.Time `gorm:"column:heartbeat_at" json:"-"`
	LastErrorAt *time.Time `gorm:"column:last_error_at" json:"-"`

	RetryState datatypes.JSON `gorm:"column:retry_state;type:jsonb;not null" json:"-"`
	Meta datatypes.JSON `gorm:"column:meta;type:jsonb;not null;default:'{}'" json:"-"`

	CreditHold int64 `gorm:"column:credit_hold;not null" json:"-"`
	Charged bool `gorm:"column:charged;not null;default:false" json:"-"`
	Refunded bool `gorm:"column:refunded;not null;default:false" json:"-"`

	// PerJobCost is PerJobCost(StagePlan) cached at creation so credit
	// reconciliation never has to recompute it from a plan that outlives
	// the settings that produced it.
	PerJobCost int64 `gorm:"column:per_job_cost;not null" json:"-"`

	Version int64 `gorm:"column:version;not null;default:0" json:"-"`

	CreatedAt time.Time `gorm:"not null;default:now;index" json:"createdAt"`
	UpdatedAt time.Time `gorm:"not null;default:now;index" json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Job) TableName() string { return "jobs" }

// FailureAnalysis is the structured output of the optional post-mortem
// analyzer, persisted alongside a failed job's meta but never reopening
// its status.
type FailureAnalysis struct {
	PrimaryIssue string `json:"primaryIssue"`
	Classification string `json:"classification"`
	Confidence float64 `json:"confidence"`
	SupportingEvidence []string `json:"supportingEvidence"`
	RecommendedActions []string `json:"recommendedActions"`
}
