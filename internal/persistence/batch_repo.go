package persistence

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/realestate-ai/enhance-pipeline/internal/domain"
	"github.com/realestate-ai/enhance-pipeline/internal/pkg/dbctx"
	"github.com/realestate-ai/enhance-pipeline/internal/pkg/logger"
)

// BatchRepo is the durable store for batches. It never mutates a
// batch's jobIds/settings after creation; the only later write is
// attaching a post-mortem analysis report, which lives on the jobs
// themselves, not the batch row.
type BatchRepo interface {
	Create(dbc dbctx.Context, batch *domain.Batch) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Batch, error)
	ListByUser(dbc dbctx.Context, userID uuid.UUID, limit int) ([]*domain.Batch, error)
}

type batchRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewBatchRepo(db *gorm.DB, baseLog *logger.Logger) BatchRepo {
	return &batchRepo{db: db, log: baseLog.With("repo", "BatchRepo")}
}

func (r *batchRepo) Create(dbc dbctx.Context, batch *domain.Batch) error {
	return tx(dbc, r.db).WithContext(dbc.Ctx).Create(batch).Error
}

func (r *batchRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Batch, error) {
	var batch domain.Batch
	err := tx(dbc, r.db).WithContext(dbc.Ctx).Where("id = ?", id).First(&batch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

func (r *batchRepo) ListByUser(dbc dbctx.Context, userID uuid.UUID, limit int) ([]*domain.Batch, error) {
	var out []*domain.Batch
	q := tx(dbc, r.db).WithContext(dbc.Ctx).
		Where("owner_user_id = ?", userID).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}
