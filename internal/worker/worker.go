// Package worker polls for runnable jobs and drives each one through its
// stage plan to a terminal status. It owns no business logic of its own —
// every decision (what counts as pass/fail, how many retries a stage gets,
// when credits refund) lives in jobmachine, stageexec, and batchcoord; the
// worker is the loop that calls them in the right order and persists what
// they return.
package worker

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/realestate-ai/enhance-pipeline/internal/analysis"
	"github.com/realestate-ai/enhance-pipeline/internal/batchcoord"
	"github.com/realestate-ai/enhance-pipeline/internal/config"
	"github.com/realestate-ai/enhance-pipeline/internal/domain"
	"github.com/realestate-ai/enhance-pipeline/internal/jobmachine"
	"github.com/realestate-ai/enhance-pipeline/internal/persistence"
	"github.com/realestate-ai/enhance-pipeline/internal/pkg/dbctx"
	"github.com/realestate-ai/enhance-pipeline/internal/pkg/logger"
	"github.com/realestate-ai/enhance-pipeline/internal/stageexec"
)

// stageExecutor is the narrow slice of *stageexec.Executor the worker
// calls, accepted as an interface so tests can drive the loop with a fake
// stage outcome instead of a full generative/validator stack.
type stageExecutor interface {
	Run(ctx context.Context, req stageexec.Request) (stageexec.Result, error)
}

// Deps are the collaborators a Worker needs. Analysis is optional: a nil
// Analysis simply skips the post-mortem pass on failed jobs, which is the
// behavior a deployment without judge-model credentials configured wants.
type Deps struct {
	Jobs        persistence.JobRepo
	Executor    stageExecutor
	Coordinator *batchcoord.Coordinator
	Analysis    *analysis.Service
	Cfg         config.Config
	Log         *logger.Logger
	HTTPClient  *http.Client
}

type Worker struct {
	deps Deps
}

func New(deps Deps) *Worker {
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{}
	}
	deps.Log = deps.Log.With("component", "worker")
	return &Worker{deps: deps}
}

// Start launches Cfg.WorkerConcurrency polling goroutines and returns
// immediately; every goroutine exits once ctx is cancelled. Running
// several independent pollers rather than one poller dispatching to a
// pool means a job that blocks for its full stage wall clock never starves
// the others — each goroutine claims, drives, and reclaims on its own.
func (w *Worker) Start(ctx context.Context) {
	n := w.deps.Cfg.WorkerConcurrency
	if n <= 0 {
		n = 1
	}
	for i := 0; i < n; i++ {
		go w.pollLoop(ctx)
	}
}

func (w *Worker) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.deps.Cfg.WorkerPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.claimAndRun(ctx)
		}
	}
}

func (w *Worker) claimAndRun(ctx context.Context) {
	dbc := dbctx.Context{Ctx: ctx}
	job, err := w.deps.Jobs.ClaimNextRunnable(dbc, w.deps.Cfg.WorkerStaleRunning)
	if err != nil {
		w.deps.Log.Warn("claim next runnable failed", "error", err.Error())
		return
	}
	if job == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			w.deps.Log.Error("job processing panicked", "jobId", job.ID, "panic", r)
			w.failAndReconcile(ctx, job, domain.ErrValidatorError)
		}
	}()

	w.run(ctx, job)
}

// run drives job through every stage of its plan starting at
// CurrentStageIndex (0 for a fresh job, a resumed stage index for one a
// prior worker crash interrupted), then marks it completed.
func (w *Worker) run(ctx context.Context, job *domain.Job) {
	dbc := dbctx.Context{Ctx: ctx}

	if err := jobmachine.Start(job); err != nil && err != jobmachine.ErrAlreadyTerminal {
		w.deps.Log.Warn("start transition failed", "jobId", job.ID, "error", err.Error())
		return
	}

	plan, err := job.GetStagePlan()
	if err != nil {
		w.failAndReconcile(ctx, job, domain.ErrValidatorError)
		return
	}
	perStageCfg, err := job.GetPerStageConfig()
	if err != nil {
		w.failAndReconcile(ctx, job, domain.ErrValidatorError)
		return
	}
	stageURLs, err := job.GetStageURLs()
	if err != nil {
		w.failAndReconcile(ctx, job, domain.ErrValidatorError)
		return
	}
	retryState, err := job.GetRetryState()
	if err != nil {
		w.failAndReconcile(ctx, job, domain.ErrValidatorError)
		return
	}
	meta, err := job.GetMeta()
	if err != nil {
		w.failAndReconcile(ctx, job, domain.ErrValidatorError)
		return
	}

	for idx := job.CurrentStageIndex; idx < len(plan); idx++ {
		if w.cancelledSince(ctx, job.ID) {
			return
		}

		stage := plan[idx]
		stageCfg := perStageCfg[stage]

		baselineURL := job.InputImageURL
		if idx > 0 {
			baselineURL = stageURLs[plan[idx-1]]
		}
		baselineRaw, baselineImg, err := fetchBaseline(ctx, w.deps.HTTPClient, baselineURL)
		if err != nil {
			w.deps.Log.Warn("baseline fetch failed", "jobId", job.ID, "stage", stage, "error", err.Error())
			w.failAndReconcile(ctx, job, domain.ErrValidatorError)
			return
		}

		jobmachine.BeginStageAttempt(job)
		heartbeatStop := w.startHeartbeat(ctx, job.ID)

		roomType := stageCfg.RoomType
		result, runErr := w.deps.Executor.Run(ctx, stageexec.Request{
			JobID:              job.ID,
			Stage:              stage,
			Scene:              stageCfg.SceneType,
			StageConfig:        stageCfg,
			RetryState:         retryState,
			BaselineRaw:        baselineRaw,
			BaselineImage:      baselineImg,
			BaselineImageURL:   baselineURL,
			RoomType:           derefString(roomType),
			CustomInstructions: "",
		})
		heartbeatStop()

		if runErr != nil {
			w.deps.Log.Warn("stage executor failed", "jobId", job.ID, "stage", stage, "error", runErr.Error())
			w.failAndReconcile(ctx, job, domain.ErrValidatorError)
			return
		}

		meta.Attempts = append(meta.Attempts, result.Attempts...)
		retryState = result.RetryState

		if result.GiveUp {
			if err := job.SetMeta(meta); err != nil {
				w.deps.Log.Warn("encode meta failed", "jobId", job.ID, "error", err.Error())
			}
			if err := job.SetRetryState(retryState); err != nil {
				w.deps.Log.Warn("encode retry state failed", "jobId", job.ID, "error", err.Error())
			}
			w.failAndReconcile(ctx, job, result.ErrorCode)
			return
		}

		stageURLs[stage] = result.CommittedURL
		jobmachine.CommitStage(job)
		if err := job.SetStageURLs(stageURLs); err != nil {
			w.failAndReconcile(ctx, job, domain.ErrValidatorError)
			return
		}
		if err := job.SetRetryState(retryState); err != nil {
			w.failAndReconcile(ctx, job, domain.ErrValidatorError)
			return
		}
		if err := job.SetMeta(meta); err != nil {
			w.failAndReconcile(ctx, job, domain.ErrValidatorError)
			return
		}

		ok, err := w.deps.Jobs.SaveWithCAS(dbc, job, job.Version)
		if err != nil {
			w.deps.Log.Warn("save stage commit failed", "jobId", job.ID, "stage", stage, "error", err.Error())
			return
		}
		if !ok {
			w.deps.Log.Warn("lost compare-and-set race committing stage, abandoning job to whoever won it", "jobId", job.ID, "stage", stage)
			return
		}
	}

	lastStage := plan[len(plan)-1]
	if err := jobmachine.Complete(job, lastStage, stageURLs[lastStage]); err != nil {
		w.deps.Log.Warn("complete transition failed", "jobId", job.ID, "error", err.Error())
		return
	}
	w.saveAndReconcile(ctx, job)
}

// cancelledSince re-reads job's current row to see whether a concurrent
// cancel request has already terminalized it; the worker only looks at
// this before each stage, never during a stage's attempts. A lookup failure is
// treated as "not cancelled" — the next SaveWithCAS will catch a real
// cancel race via the version check regardless.
func (w *Worker) cancelledSince(ctx context.Context, jobID uuid.UUID) bool {
	dbc := dbctx.Context{Ctx: ctx}
	current, err := w.deps.Jobs.GetByID(dbc, jobID)
	if err != nil {
		return false
	}
	return jobmachine.ShouldStopForCancel(current.Status)
}

func (w *Worker) failAndReconcile(ctx context.Context, job *domain.Job, code domain.ErrorCode) {
	if err := jobmachine.Fail(job, code); err != nil {
		w.deps.Log.Warn("fail transition rejected, job already terminal", "jobId", job.ID, "error", err.Error())
		return
	}
	w.saveAndReconcile(ctx, job)
}

func (w *Worker) saveAndReconcile(ctx context.Context, job *domain.Job) {
	dbc := dbctx.Context{Ctx: ctx}
	ok, err := w.deps.Jobs.SaveWithCAS(dbc, job, job.Version)
	if err != nil {
		w.deps.Log.Error("save terminal status failed", "jobId", job.ID, "error", err.Error())
		return
	}
	if !ok {
		w.deps.Log.Warn("lost compare-and-set race saving terminal status", "jobId", job.ID)
		return
	}

	if w.deps.Coordinator != nil {
		if err := w.deps.Coordinator.ReconcileTerminal(ctx, job.ID); err != nil {
			w.deps.Log.Warn("reconcile terminal failed", "jobId", job.ID, "error", err.Error())
		}
	}
	if job.Status == domain.JobFailed && w.deps.Analysis != nil {
		w.deps.Analysis.AnalyzeFailedJob(ctx, job.ID)
	}
}

// startHeartbeat keeps job's heartbeat_at fresh while a stage attempt loop
// (which can run for up to the stage wall clock across several internal
// retries) is in flight, so ClaimNextRunnable never mistakes a live worker
// for a crashed one. The returned func stops the ticker; callers must call
// it before the job's row is mutated again.
func (w *Worker) startHeartbeat(ctx context.Context, jobID uuid.UUID) func() {
	interval := w.deps.Cfg.WorkerStaleRunning / 4
	if interval < 10*time.Second {
		interval = 10 * time.Second
	}
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		dbc := dbctx.Context{Ctx: ctx}
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := w.deps.Jobs.Heartbeat(dbc, jobID); err != nil {
					w.deps.Log.Warn("heartbeat failed", "jobId", jobID, "error", err.Error())
				}
			}
		}
	}()
	return func() { close(stop) }
}

func derefString(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
