package analysis

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/realestate-ai/enhance-pipeline/internal/domain"
	"github.com/realestate-ai/enhance-pipeline/internal/pkg/dbctx"
	"github.com/realestate-ai/enhance-pipeline/internal/pkg/logger"
	"github.com/realestate-ai/enhance-pipeline/internal/persistence"
)

// Service runs the post-mortem analyzer against a terminally failed job
// and attaches its report to that job's meta, without ever touching the
// job's status, retry state, or credit bookkeeping.
type Service struct {
	jobs     persistence.JobRepo
	analyzer Analyzer
	log      *logger.Logger
}

func NewService(jobs persistence.JobRepo, analyzer Analyzer, log *logger.Logger) *Service {
	return &Service{jobs: jobs, analyzer: analyzer, log: log.With("component", "failure_analysis_service")}
}

// AnalyzeFailedJob loads jobID, runs the rubric call, and saves the
// resulting report onto job.meta.analysisReport via compare-and-set. Any
// error — load, judge call, parse, or a lost CAS race — is logged and
// swallowed; the job's own terminal status stands regardless.
func (s *Service) AnalyzeFailedJob(ctx context.Context, jobID uuid.UUID) {
	if err := s.analyzeFailedJob(ctx, jobID); err != nil {
		s.log.Warn("failure analysis skipped", "jobId", jobID, "error", err.Error())
	}
}

func (s *Service) analyzeFailedJob(ctx context.Context, jobID uuid.UUID) error {
	dbc := dbctx.Context{Ctx: ctx}
	job, err := s.jobs.GetByID(dbc, jobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if job.Status != domain.JobFailed {
		return fmt.Errorf("job is not in a failed terminal state: %s", job.Status)
	}

	stageURLs, err := job.GetStageURLs()
	if err != nil {
		return fmt.Errorf("decode stage urls: %w", err)
	}
	retryState, err := job.GetRetryState()
	if err != nil {
		return fmt.Errorf("decode retry state: %w", err)
	}
	meta, err := job.GetMeta()
	if err != nil {
		return fmt.Errorf("decode meta: %w", err)
	}

	report, err := s.analyzer.Analyze(ctx, Request{
		OriginalImageURL: job.InputImageURL,
		StageURLs:        stageURLs,
		Attempts:         meta.Attempts,
		RetryState:       retryState,
		ErrorCode:        job.ErrorCode,
	})
	if err != nil {
		return fmt.Errorf("run analyzer: %w", err)
	}

	meta.AnalysisReport = report
	if err := job.SetMeta(meta); err != nil {
		return fmt.Errorf("encode meta: %w", err)
	}
	if ok, err := s.jobs.SaveWithCAS(dbc, job, job.Version); err != nil {
		return fmt.Errorf("save analysis report: %w", err)
	} else if !ok {
		return fmt.Errorf("lost compare-and-set race attaching analysis report")
	}
	return nil
}
