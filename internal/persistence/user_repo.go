// Package persistence is the durable store for users, jobs, and batches:
// GORM repos backed by Postgres, a Redis secondary index for batch/job
// fan-out lookups, and an append-only file fallback for when Redis is
// unreachable at startup. Every multi-step update to a single row goes
// through compare-and-set on a version column so two workers racing on
// the same job or user never both win.
package persistence

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/realestate-ai/enhance-pipeline/internal/config"
	"github.com/realestate-ai/enhance-pipeline/internal/domain"
	"github.com/realestate-ai/enhance-pipeline/internal/pkg/dbctx"
	"github.com/realestate-ai/enhance-pipeline/internal/pkg/logger"
)

// UserRepo owns the user record and its credit balance. Credits are only
// ever mutated through HoldCredits/RefundCredits, both of which CAS-loop
// on the version column rather than taking a row lock, matching the
// optimistic-concurrency discipline used for jobs.
type UserRepo interface {
	Create(dbc dbctx.Context, user *domain.User) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.User, error)
	GetByEmail(dbc dbctx.Context, email string) (*domain.User, error)
	HoldCredits(dbc dbctx.Context, userID uuid.UUID, amount int64, cfg config.Config) error
	RefundCredits(dbc dbctx.Context, userID uuid.UUID, amount int64, cfg config.Config) error
	ChargeHeld(dbc dbctx.Context, userID uuid.UUID, cfg config.Config) error
}

type userRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUserRepo(db *gorm.DB, baseLog *logger.Logger) UserRepo {
	return &userRepo{db: db, log: baseLog.With("repo", "UserRepo")}
}

func tx(dbc dbctx.Context, db *gorm.DB) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return db
}

func (r *userRepo) Create(dbc dbctx.Context, user *domain.User) error {
	return tx(dbc, r.db).WithContext(dbc.Ctx).Create(user).Error
}

func (r *userRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.User, error) {
	var user domain.User
	err := tx(dbc, r.db).WithContext(dbc.Ctx).Where("id = ?", id).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepo) GetByEmail(dbc dbctx.Context, email string) (*domain.User, error) {
	var user domain.User
	err := tx(dbc, r.db).WithContext(dbc.Ctx).Where("email = ?", email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// casUpdateCredits applies delta to the user's balance with a
// read-current-version, conditional-update, retry-on-conflict loop,
// bounded by cfg.CASMaxAttempts with cfg.CASBaseBackoff doubling each
// retry. requireSufficient rejects the update (without consuming a
// retry) when the resulting balance would go negative.
func (r *userRepo) casUpdateCredits(dbc dbctx.Context, userID uuid.UUID, delta int64, requireSufficient bool, cfg config.Config) error {
	backoff := cfg.CASBaseBackoff
	t := tx(dbc, r.db)

	for attempt := 0; attempt < cfg.CASMaxAttempts; attempt++ {
		var user domain.User
		if err := t.WithContext(dbc.Ctx).Where("id = ?", userID).First(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		newBalance := user.Credits + delta
		if requireSufficient && newBalance < 0 {
			return ErrInsufficientCredits
		}

		res := t.WithContext(dbc.Ctx).Model(&domain.User{}).
			Where("id = ? AND version = ?", userID, user.Version).
			Updates(map[string]interface{}{
				"credits":    newBalance,
				"version":    user.Version + 1,
				"updated_at": time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			return nil
		}

		r.log.Debug("credit CAS conflict, retrying", "userId", userID, "attempt", attempt)
		time.Sleep(backoff)
		backoff *= 2
	}
	return ErrCASExhausted
}

// HoldCredits atomically debits amount from the user's balance at batch
// creation time, failing with ErrInsufficientCredits rather than driving
// the balance negative.
func (r *userRepo) HoldCredits(dbc dbctx.Context, userID uuid.UUID, amount int64, cfg config.Config) error {
	return r.casUpdateCredits(dbc, userID, -amount, true, cfg)
}

// RefundCredits atomically credits amount back to the user's balance,
// used when a held job ends up failed or cancelled.
func (r *userRepo) RefundCredits(dbc dbctx.Context, userID uuid.UUID, amount int64, cfg config.Config) error {
	return r.casUpdateCredits(dbc, userID, amount, false, cfg)
}

// ChargeHeld is a no-op on the balance: a completed job's held credits
// are already debited at hold time, so "charging" only needs to mark the
// job as charged (done by the job repo) rather than move any more money.
// It exists so callers have one symmetric reconciliation call per
// terminal status rather than special-casing "completed".
func (r *userRepo) ChargeHeld(dbc dbctx.Context, userID uuid.UUID, cfg config.Config) error {
	return nil
}
