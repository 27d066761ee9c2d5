package persistence

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/realestate-ai/enhance-pipeline/internal/domain"
	"github.com/realestate-ai/enhance-pipeline/internal/pkg/dbctx"
	"github.com/realestate-ai/enhance-pipeline/internal/pkg/logger"
)

// JobRepo is the durable store for jobs: creation, lookup, the
// claim-next-runnable query a worker polls, and the compare-and-set save
// every stage transition goes through.
type JobRepo interface {
	Create(dbc dbctx.Context, jobs []*domain.Job) ([]*domain.Job, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Job, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*domain.Job, error)
	ListByBatch(dbc dbctx.Context, batchID uuid.UUID) ([]*domain.Job, error)

	// ClaimNextRunnable locks and claims the oldest queued job, or a
	// processing job whose heartbeat has gone stale past staleRunning,
	// marking it processing with a fresh heartbeat before returning it.
	ClaimNextRunnable(dbc dbctx.Context, staleRunning time.Duration) (*domain.Job, error)
	Heartbeat(dbc dbctx.Context, id uuid.UUID) error

	// SaveWithCAS persists every mutable field of job, succeeding only if
	// the row's version still matches prevVersion; on success job.Version
	// is advanced to match the new row. ok=false with a nil error means a
	// concurrent writer won the race.
	SaveWithCAS(dbc dbctx.Context, job *domain.Job, prevVersion int64) (ok bool, err error)

	// CancelNonTerminal marks every non-terminal job in a batch cancelled,
	// returning the cancelled job IDs so the caller can refund their holds.
	CancelNonTerminal(dbc dbctx.Context, batchID uuid.UUID) ([]uuid.UUID, error)
}

type jobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobRepo(db *gorm.DB, baseLog *logger.Logger) JobRepo {
	return &jobRepo{db: db, log: baseLog.With("repo", "JobRepo")}
}

func (r *jobRepo) Create(dbc dbctx.Context, jobs []*domain.Job) ([]*domain.Job, error) {
	if len(jobs) == 0 {
		return jobs, nil
	}
	if err := tx(dbc, r.db).WithContext(dbc.Ctx).Create(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *jobRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Job, error) {
	var job domain.Job
	err := tx(dbc, r.db).WithContext(dbc.Ctx).Where("id = ?", id).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *jobRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*domain.Job, error) {
	var out []*domain.Job
	if len(ids) == 0 {
		return out, nil
	}
	err := tx(dbc, r.db).WithContext(dbc.Ctx).Where("id IN ?", ids).Find(&out).Error
	return out, err
}

func (r *jobRepo) ListByBatch(dbc dbctx.Context, batchID uuid.UUID) ([]*domain.Job, error) {
	var out []*domain.Job
	err := tx(dbc, r.db).WithContext(dbc.Ctx).
		Where("batch_id = ?", batchID).
		Order("upload_index ASC").
		Find(&out).Error
	return out, err
}

func (r *jobRepo) ClaimNextRunnable(dbc dbctx.Context, staleRunning time.Duration) (*domain.Job, error) {
	now := time.Now()
	staleCutoff := now.Add(-staleRunning)

	var claimed *domain.Job
	err := tx(dbc, r.db).WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		var job domain.Job
		q := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where(
				"status = ? OR (status = ? AND heartbeat_at IS NOT NULL AND heartbeat_at < ?)",
				domain.JobQueued, domain.JobProcessing, staleCutoff,
			).
			Order("created_at ASC")
		qErr := q.First(&job).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}

		uErr := txx.Model(&domain.Job{}).
			Where("id = ?", job.ID).
			Updates(map[string]interface{}{
				"status":       domain.JobProcessing,
				"locked_at":    now,
				"heartbeat_at": now,
				"version":      gorm.Expr("version + 1"),
				"updated_at":   now,
			}).Error
		if uErr != nil {
			return uErr
		}
		job.Status = domain.JobProcessing
		job.Version++
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *jobRepo) Heartbeat(dbc dbctx.Context, id uuid.UUID) error {
	now := time.Now()
	return tx(dbc, r.db).WithContext(dbc.Ctx).
		Model(&domain.Job{}).
		Where("id = ? AND status = ?", id, domain.JobProcessing).
		Updates(map[string]interface{}{
			"heartbeat_at": now,
			"updated_at":   now,
		}).Error
}

func (r *jobRepo) SaveWithCAS(dbc dbctx.Context, job *domain.Job, prevVersion int64) (bool, error) {
	newVersion := prevVersion + 1
	res := tx(dbc, r.db).WithContext(dbc.Ctx).Model(&domain.Job{}).
		Where("id = ? AND version = ?", job.ID, prevVersion).
		Updates(map[string]interface{}{
			"status":              job.Status,
			"error_code":          job.ErrorCode,
			"current_stage_index": job.CurrentStageIndex,
			"stage_attempts":      job.StageAttempts,
			"stage_phase":         job.StagePhase,
			"stage_urls":          job.StageURLs,
			"retry_state":         job.RetryState,
			"meta":                job.Meta,
			"result_stage":        job.ResultStage,
			"result_url":          job.ResultURL,
			"charged":             job.Charged,
			"refunded":            job.Refunded,
			"heartbeat_at":        job.HeartbeatAt,
			"locked_at":           job.LockedAt,
			"last_error_at":       job.LastErrorAt,
			"version":             newVersion,
			"updated_at":          time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	job.Version = newVersion
	return true, nil
}

func (r *jobRepo) CancelNonTerminal(dbc dbctx.Context, batchID uuid.UUID) ([]uuid.UUID, error) {
	var jobs []domain.Job
	t := tx(dbc, r.db)
	terminal := []domain.JobStatus{domain.JobCompleted, domain.JobFailed, domain.JobCancelled}

	if err := t.WithContext(dbc.Ctx).
		Where("batch_id = ? AND status NOT IN ?", batchID, terminal).
		Find(&jobs).Error; err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, 0, len(jobs))
	for _, j := range jobs {
		ids = append(ids, j.ID)
	}
	if len(ids) == 0 {
		return ids, nil
	}

	if err := t.WithContext(dbc.Ctx).Model(&domain.Job{}).
		Where("id IN ? AND status NOT IN ?", ids, terminal).
		Updates(map[string]interface{}{
			"status":     domain.JobCancelled,
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now(),
		}).Error; err != nil {
		return nil, err
	}
	return ids, nil
}
