package domain

// Stage identifies one step of a job's stage plan. 1B and 2 each carry a
// mode/variant that downstream components (prompt builder, validators) key
// their behavior on, but the stage identity used for stageUrls/attempts
// bookkeeping is always one of these three strings.
type Stage string

const (
	Stage1A Stage = "1A"
	Stage1B Stage = "1B"
	Stage2  Stage = "2"
)

// DeclutterMode is the 1B variant: keep furniture (light) or strip the room
// bare (full). It determines which stage-2 variant is reachable downstream.
type DeclutterMode string

const (
	DeclutterLight DeclutterMode = "light"
	DeclutterFull  DeclutterMode = "full"
)

// StagingVariant is the stage-2 variant, derived from whichever upstream
// stage last ran: 2A refreshes an already-furnished room, 2B stages an
// empty one.
type StagingVariant string

const (
	Staging2A StagingVariant = "2A" // furnished refresh
	Staging2B StagingVariant = "2B" // empty-room staging
)

// SceneType is the top-level scene classification driving threshold
// selection and which validators apply (landcover/windows are scene-gated).
type SceneType string

const (
	SceneInterior SceneType = "interior"
	SceneExterior SceneType = "exterior"
)

// FurnishedState describes the room's furniture state, relevant only to
// stage 2 prompt assembly and variant derivation.
type FurnishedState string

const (
	FurnishedStateFurnished FurnishedState = "furnished"
	FurnishedStateEmpty    FurnishedState = "empty"
)

// JobStatus is the job state-machine's outward-facing status. Transitions
// are monotone: no value ever moves out of a terminal status.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}

// ErrorCode enumerates the exit-level error codes surfaced to clients.
type ErrorCode string

const (
	ErrQuotaExceeded            ErrorCode = "QUOTA_EXCEEDED"
	ErrRetryComplianceFailed    ErrorCode = "RETRY_COMPLIANCE_FAILED"
	ErrImageNotFound            ErrorCode = "image_not_found"
	ErrStuckQueued              ErrorCode = "stuck_queued"
	ErrStructuralStage1ARejected ErrorCode = "structural_stage1A_rejected"
	ErrStructuralStage1BRejected ErrorCode = "structural_stage1B_rejected"
	ErrStructuralStage2Rejected  ErrorCode = "structural_stage2_rejected"
	ErrGeminiSemantic            ErrorCode = "gemini_semantic"
	ErrGeminiPlacement           ErrorCode = "gemini_placement"
	ErrGeminiParseError          ErrorCode = "gemini_parse_error"
	ErrValidatorError            ErrorCode = "validator_error"
	ErrTimeout                   ErrorCode = "timeout"
	ErrCancelled                 ErrorCode = "cancelled"
)

// StructuralErrorCodeForStage maps a stage to its structural-rejection error
// code, used when the retry controller gives up after exhausting attempts.
func StructuralErrorCodeForStage(stage Stage) ErrorCode {
	switch stage {
	case Stage1A:
		return ErrStructuralStage1ARejected
	case Stage1B:
		return ErrStructuralStage1BRejected
	case Stage2:
		return ErrStructuralStage2Rejected
	default:
		return ErrValidatorError
	}
}
