// Package batchcoord turns an upload request into a held credit charge
// plus N queued jobs, and reconciles those credits back out again once
// every job in a batch reaches a terminal status. It owns no retry or
// generative logic of its own — that's internal/stageexec and
// internal/worker — only the credit/bookkeeping envelope around a batch.
package batchcoord

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/realestate-ai/enhance-pipeline/internal/config"
	"github.com/realestate-ai/enhance-pipeline/internal/domain"
	"github.com/realestate-ai/enhance-pipeline/internal/jobmachine"
	"github.com/realestate-ai/enhance-pipeline/internal/pkg/dbctx"
	"github.com/realestate-ai/enhance-pipeline/internal/pkg/logger"
	"github.com/realestate-ai/enhance-pipeline/internal/persistence"
)

type Deps struct {
	Users   persistence.UserRepo
	Jobs    persistence.JobRepo
	Batches persistence.BatchRepo
	Index   persistence.SecondaryIndex // optional: nil disables fan-out indexing
	Cfg     config.Config
	Log     *logger.Logger
}

type Coordinator struct{ deps Deps }

func New(deps Deps) *Coordinator { return &Coordinator{deps: deps} }

// ImageUpload is one entry of the upload request's images[]/metaJson
// arrays, already paired up by upload index. JobID is pre-assigned by the
// caller (mirroring the teacher's assign-id-before-uploading-content
// pattern) because the input image is uploaded to object storage keyed by
// job ID before CreateBatch is ever called; CreateBatch reuses it rather
// than minting its own.
type ImageUpload struct {
	JobID         uuid.UUID
	ImageID       string
	InputImageURL string
	Meta          domain.ImageMeta
}

type UploadRequest struct {
	UserID   uuid.UUID
	Settings domain.BatchSettings
	Images   []ImageUpload
}

type JobRef struct {
	JobID   uuid.UUID
	ImageID string
}

type UploadResult struct {
	BatchID uuid.UUID
	Jobs    []JobRef
}

// CreateBatch authenticates the user, derives each image's stage plan and
// cost, holds the total credits atomically, and persists the batch plus
// its jobs. If credit hold succeeds but job persistence then fails, the
// hold is refunded before returning the error.
func (c *Coordinator) CreateBatch(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	if len(req.Images) == 0 {
		return nil, ErrEmptyBatch
	}
	dbc := dbctx.Context{Ctx: ctx}

	if _, err := c.deps.Users.GetByID(dbc, req.UserID); err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("load user: %w", err)
	}

	type built struct {
		job  *domain.Job
		cost int64
	}
	items := make([]built, 0, len(req.Images))
	var totalCost int64

	for i, img := range req.Images {
		plan, stageCfg := planForImage(req.Settings, img.Meta)
		cost := domain.PerJobCost(plan)
		totalCost += cost

		jobID := img.JobID
		if jobID == uuid.Nil {
			jobID = uuid.New()
		}
		job := &domain.Job{
			ID:            jobID,
			ImageID:       img.ImageID,
			UploadIndex:   i,
			InputImageURL: img.InputImageURL,
			Status:        domain.JobQueued,
			CreditHold:    cost,
			PerJobCost:    cost,
		}
		if err := job.SetStagePlan(plan); err != nil {
			return nil, fmt.Errorf("encode stage plan: %w", err)
		}
		if err := job.SetPerStageConfig(stageCfg); err != nil {
			return nil, fmt.Errorf("encode stage config: %w", err)
		}
		if err := job.SetStageURLs(map[domain.Stage]string{}); err != nil {
			return nil, fmt.Errorf("encode stage urls: %w", err)
		}
		if err := job.SetRetryState(domain.NewRetryState()); err != nil {
			return nil, fmt.Errorf("encode retry state: %w", err)
		}
		meta := domain.JobMeta{
			ScenePrediction:  img.Meta.ScenePrediction,
			RoomTypeDetected: img.Meta.RoomType,
			ManualOverride:   img.Meta.ManualSceneOverride,
		}
		if err := job.SetMeta(meta); err != nil {
			return nil, fmt.Errorf("encode job meta: %w", err)
		}

		items = append(items, built{job: job, cost: cost})
	}

	if err := c.deps.Users.HoldCredits(dbc, req.UserID, totalCost, c.deps.Cfg); err != nil {
		if errors.Is(err, persistence.ErrInsufficientCredits) {
			return nil, ErrQuotaExceeded
		}
		return nil, fmt.Errorf("hold credits: %w", err)
	}

	batchID := uuid.New()
	jobs := make([]*domain.Job, 0, len(items))
	jobIDs := make([]uuid.UUID, 0, len(items))
	refs := make([]JobRef, 0, len(items))
	for _, it := range items {
		it.job.BatchID = batchID
		jobs = append(jobs, it.job)
		jobIDs = append(jobIDs, it.job.ID)
		refs = append(refs, JobRef{JobID: it.job.ID, ImageID: it.job.ImageID})
	}

	batch := &domain.Batch{ID: batchID, OwnerUserID: req.UserID, CreditHold: totalCost}
	if err := batch.SetSettings(req.Settings); err != nil {
		_ = c.deps.Users.RefundCredits(dbc, req.UserID, totalCost, c.deps.Cfg)
		return nil, fmt.Errorf("encode batch settings: %w", err)
	}
	if err := batch.SetJobIDs(jobIDs); err != nil {
		_ = c.deps.Users.RefundCredits(dbc, req.UserID, totalCost, c.deps.Cfg)
		return nil, fmt.Errorf("encode batch job ids: %w", err)
	}

	if err := c.deps.Batches.Create(dbc, batch); err != nil {
		_ = c.deps.Users.RefundCredits(dbc, req.UserID, totalCost, c.deps.Cfg)
		return nil, fmt.Errorf("create batch: %w", err)
	}
	if _, err := c.deps.Jobs.Create(dbc, jobs); err != nil {
		_ = c.deps.Users.RefundCredits(dbc, req.UserID, totalCost, c.deps.Cfg)
		return nil, fmt.Errorf("create jobs: %w", err)
	}

	c.indexBatch(ctx, req.UserID, batch, jobIDs)

	return &UploadResult{BatchID: batchID, Jobs: refs}, nil
}

// RetryRequest re-runs one previously submitted image as a fresh
// single-image batch: its own credit hold, its own job, sharing the
// original job's ImageID so the client can still correlate it with the
// image it retried.
type RetryRequest struct {
	UserID        uuid.UUID
	OriginalJobID uuid.UUID
	JobID         uuid.UUID
	InputImageURL string
	Meta          domain.ImageMeta
	Settings      domain.BatchSettings
}

type RetryResult struct {
	JobID   uuid.UUID
	ImageID string
}

// RetrySingle resolves the original job (and the batch it belongs to, to
// confirm ownership) then submits the replacement image through the same
// CreateBatch path as a fresh one-image batch.
func (c *Coordinator) RetrySingle(ctx context.Context, req RetryRequest) (*RetryResult, error) {
	dbc := dbctx.Context{Ctx: ctx}

	original, err := c.deps.Jobs.GetByID(dbc, req.OriginalJobID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return nil, ErrImageNotFound
		}
		return nil, fmt.Errorf("load original job: %w", err)
	}
	originalBatch, err := c.deps.Batches.GetByID(dbc, original.BatchID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return nil, ErrImageNotFound
		}
		return nil, fmt.Errorf("load original batch: %w", err)
	}
	if originalBatch.OwnerUserID != req.UserID {
		return nil, ErrImageNotFound
	}

	result, err := c.CreateBatch(ctx, UploadRequest{
		UserID:   req.UserID,
		Settings: req.Settings,
		Images: []ImageUpload{{
			JobID:         req.JobID,
			ImageID:       original.ImageID,
			InputImageURL: req.InputImageURL,
			Meta:          req.Meta,
		}},
	})
	if err != nil {
		return nil, err
	}
	return &RetryResult{JobID: result.Jobs[0].JobID, ImageID: result.Jobs[0].ImageID}, nil
}

func (c *Coordinator) indexBatch(ctx context.Context, userID uuid.UUID, batch *domain.Batch, jobIDs []uuid.UUID) {
	if c.deps.Index == nil {
		return
	}
	if err := c.deps.Index.IndexBatch(ctx, userID, batch.ID, batch.CreatedAt); err != nil {
		c.deps.Log.Warn("secondary index batch write failed", "batchId", batch.ID, "error", err.Error())
	}
	for _, jobID := range jobIDs {
		if err := c.deps.Index.IndexJob(ctx, batch.ID, jobID); err != nil {
			c.deps.Log.Warn("secondary index job write failed", "batchId", batch.ID, "jobId", jobID, "error", err.Error())
		}
	}
}

// JobStatusItem is one job's entry in a status response, matching the
// per-item status envelope clients poll.
type JobStatusItem struct {
	JobID         uuid.UUID
	ImageID       string
	InputImageURL string
	Status        domain.JobStatus
	Progress      float64
	StageURLs     map[domain.Stage]string
	ResultStage   *domain.Stage
	ResultURL     string
	ErrorCode     *domain.ErrorCode
	Meta          domain.JobMeta
	IsTerminal    bool
}

type BatchStatus struct {
	BatchID uuid.UUID
	Items   []JobStatusItem
	Counts  map[domain.JobStatus]int
	Done    bool
}

// Status aggregates every job in a batch into the counts/items/done shape
// clients poll.
func (c *Coordinator) Status(ctx context.Context, batchID uuid.UUID) (*BatchStatus, error) {
	dbc := dbctx.Context{Ctx: ctx}
	jobs, err := c.deps.Jobs.ListByBatch(dbc, batchID)
	if err != nil {
		return nil, fmt.Errorf("list batch jobs: %w", err)
	}
	if len(jobs) == 0 {
		return nil, ErrBatchNotFound
	}

	out := &BatchStatus{BatchID: batchID, Counts: map[domain.JobStatus]int{}}
	done := true
	for _, job := range jobs {
		item, err := statusItemFor(job)
		if err != nil {
			return nil, err
		}
		out.Items = append(out.Items, item)
		out.Counts[job.Status]++
		if !job.Status.IsTerminal() {
			done = false
		}
	}
	out.Done = done
	return out, nil
}

// JobStatus looks up a single job's status item directly, for the
// single-job status endpoint.
func (c *Coordinator) JobStatus(ctx context.Context, jobID uuid.UUID) (*JobStatusItem, error) {
	job, err := c.deps.Jobs.GetByID(dbctx.Context{Ctx: ctx}, jobID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return nil, ErrBatchNotFound
		}
		return nil, fmt.Errorf("load job: %w", err)
	}
	item, err := statusItemFor(job)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func statusItemFor(job *domain.Job) (JobStatusItem, error) {
	plan, err := job.GetStagePlan()
	if err != nil {
		return JobStatusItem{}, fmt.Errorf("decode stage plan: %w", err)
	}
	stageURLs, err := job.GetStageURLs()
	if err != nil {
		return JobStatusItem{}, fmt.Errorf("decode stage urls: %w", err)
	}
	meta, err := job.GetMeta()
	if err != nil {
		return JobStatusItem{}, fmt.Errorf("decode meta: %w", err)
	}

	progress := jobmachine.Progress(len(plan), job.CurrentStageIndex, jobmachine.Phase(job.StagePhase))
	if job.Status.IsTerminal() {
		progress = 1.0
	}

	return JobStatusItem{
		JobID:         job.ID,
		ImageID:       job.ImageID,
		InputImageURL: job.InputImageURL,
		Status:        job.Status,
		Progress:      progress,
		StageURLs:     stageURLs,
		ResultStage:   job.ResultStage,
		ResultURL:     job.ResultURL,
		ErrorCode:     job.ErrorCode,
		Meta:          meta,
		IsTerminal:    job.Status.IsTerminal(),
	}, nil
}

// CancelBatch marks every non-terminal job in the batch cancelled and
// refunds their held credits.
func (c *Coordinator) CancelBatch(ctx context.Context, batchID uuid.UUID) ([]uuid.UUID, error) {
	dbc := dbctx.Context{Ctx: ctx}

	batch, err := c.deps.Batches.GetByID(dbc, batchID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return nil, ErrBatchNotFound
		}
		return nil, fmt.Errorf("load batch: %w", err)
	}

	cancelledIDs, err := c.deps.Jobs.CancelNonTerminal(dbc, batchID)
	if err != nil {
		return nil, fmt.Errorf("cancel jobs: %w", err)
	}

	for _, jobID := range cancelledIDs {
		if err := c.refundJob(ctx, batch.OwnerUserID, jobID); err != nil {
			c.deps.Log.Warn("refund on cancel failed", "jobId", jobID, "error", err.Error())
		}
	}

	return cancelledIDs, nil
}

// ReconcileTerminal is called once a job has reached a terminal status
// (completed/failed/cancelled): failed and cancelled jobs refund their
// held credits, completed jobs are marked charged. Idempotent — a job
// already marked Refunded or Charged is left untouched.
func (c *Coordinator) ReconcileTerminal(ctx context.Context, jobID uuid.UUID) error {
	dbc := dbctx.Context{Ctx: ctx}
	job, err := c.deps.Jobs.GetByID(dbc, jobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if !job.Status.IsTerminal() {
		return nil
	}

	switch job.Status {
	case domain.JobFailed, domain.JobCancelled:
		if job.Refunded {
			return nil
		}
		batch, err := c.deps.Batches.GetByID(dbc, job.BatchID)
		if err != nil {
			return fmt.Errorf("load batch for refund: %w", err)
		}
		if err := c.deps.Users.RefundCredits(dbc, batch.OwnerUserID, job.CreditHold, c.deps.Cfg); err != nil {
			return fmt.Errorf("refund credits: %w", err)
		}
		job.Refunded = true
	case domain.JobCompleted:
		if job.Charged {
			return nil
		}
		job.Charged = true
	}

	if _, err := c.deps.Jobs.SaveWithCAS(dbc, job, job.Version); err != nil {
		return fmt.Errorf("persist reconciliation: %w", err)
	}
	return nil
}

func (c *Coordinator) refundJob(ctx context.Context, ownerUserID uuid.UUID, jobID uuid.UUID) error {
	dbc := dbctx.Context{Ctx: ctx}
	job, err := c.deps.Jobs.GetByID(dbc, jobID)
	if err != nil {
		return err
	}
	if job.Refunded {
		return nil
	}
	if err := c.deps.Users.RefundCredits(dbc, ownerUserID, job.CreditHold, c.deps.Cfg); err != nil {
		return err
	}
	job.Refunded = true
	_, err = c.deps.Jobs.SaveWithCAS(dbc, job, job.Version)
	return err
}
