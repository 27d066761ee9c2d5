// Package jobmachine implements the job state machine: the transitions a
// job's status can take, and the progress-fraction calculation the status
// API reports mid-flight. It never touches a database — the worker loop
// calls these functions against an in-memory domain.Job and persists
// whatever came out.
package jobmachine

import (
	"errors"

	"github.com/realestate-ai/enhance-pipeline/internal/domain"
)

// ErrAlreadyTerminal is returned by any transition attempted on a job
// whose status is already one of completed/failed/cancelled. Terminal
// statuses are a one-way door.
var ErrAlreadyTerminal = errors.New("jobmachine: job status is already terminal")

// Phase is the intra-stage sub-state exposed in the progress fraction.
// It tracks where in one stage attempt's lifecycle the job currently is;
// it resets to PhaseIdle every time a stage commits or a new attempt
// starts over at PhasePrompting.
type Phase string

const (
	PhaseIdle       Phase = ""
	PhasePrompting  Phase = "prompting"
	PhaseGenerated  Phase = "generated"
	PhaseValidating Phase = "validating"
)

var phaseFraction = map[Phase]float64{
	PhaseIdle:       0.0,
	PhasePrompting:  0.0,
	PhaseGenerated:  0.5,
	PhaseValidating: 0.9,
}

// Progress returns the job's completion fraction in [0, 1]:
// stagesDone/stagesPlanned, plus the current stage's intra-stage
// fraction divided by the stage count. A job with an empty stage plan
// reports 0; a job whose current stage index has reached the plan
// length (i.e. every stage has committed) reports 1.
func Progress(stagePlanLen, currentStageIndex int, phase Phase) float64 {
	if stagePlanLen <= 0 {
		return 0
	}
	if currentStageIndex >= stagePlanLen {
		return 1.0
	}
	frac := phaseFraction[phase]
	return (float64(currentStageIndex) + frac) / float64(stagePlanLen)
}

// Start transitions a queued job to processing. It is idempotent against
// a job already processing, since a worker restart may re-claim a job it
// had already started.
func Start(job *domain.Job) error {
	if job.Status.IsTerminal() {
		return ErrAlreadyTerminal
	}
	job.Status = domain.JobProcessing
	return nil
}

// BeginStageAttempt marks the start of one generative-model call.
func BeginStageAttempt(job *domain.Job) {
	job.StageAttempts++
	job.StagePhase = string(PhasePrompting)
}

// MarkGenerated marks that the generative model returned a candidate and
// the stage executor is about to persist and validate it.
func MarkGenerated(job *domain.Job) {
	job.StagePhase = string(PhaseGenerated)
}

// MarkValidating marks that validation (local and/or judge-model lanes)
// is in flight for the current attempt.
func MarkValidating(job *domain.Job) {
	job.StagePhase = string(PhaseValidating)
}

// CommitStage advances the job to the next stage in its plan, resetting
// the intra-stage phase and attempt counter. Callers are responsible for
// writing the committed stage URL into the job's stageUrls map before
// calling this.
func CommitStage(job *domain.Job) {
	job.CurrentStageIndex++
	job.StageAttempts = 0
	job.StagePhase = string(PhaseIdle)
}

// Complete transitions the job to completed, recording its final result
// stage and URL.
func Complete(job *domain.Job, resultStage domain.Stage, resultURL string) error {
	if job.Status.IsTerminal() {
		return ErrAlreadyTerminal
	}
	job.Status = domain.JobCompleted
	job.ResultStage = &resultStage
	job.ResultURL = resultURL
	job.StagePhase = string(PhaseIdle)
	return nil
}

// Fail transitions the job to failed with the given error code. once
// failed, the job never reopens; a post-mortem analysis report may still
// be attached to it later without changing its status.
func Fail(job *domain.Job, code domain.ErrorCode) error {
	if job.Status.IsTerminal() {
		return ErrAlreadyTerminal
	}
	job.Status = domain.JobFailed
	job.ErrorCode = &code
	job.StagePhase = string(PhaseIdle)
	return nil
}

// Cancel transitions the job to cancelled. It fails with
// ErrAlreadyTerminal if the job already reached a terminal status,
// matching the "cancel races a completion" edge case: whichever terminal
// transition wins the compare-and-set at the persistence layer stands.
func Cancel(job *domain.Job) error {
	if job.Status.IsTerminal() {
		return ErrAlreadyTerminal
	}
	job.Status = domain.JobCancelled
	job.StagePhase = string(PhaseIdle)
	return nil
}

// ShouldStopForCancel reports whether a worker that observes this status
// mid-loop should stop driving the job forward. The worker only checks
// this before each stage (a checkpoint), never mid-stage, so a
// cancel request takes effect at the next checkpoint rather than
// interrupting an in-flight generative call.
func ShouldStopForCancel(status domain.JobStatus) bool {
	return status == domain.JobCancelled
}
