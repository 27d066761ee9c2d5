package batchcoord

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/realestate-ai/enhance-pipeline/internal/config"
	"github.com/realestate-ai/enhance-pipeline/internal/domain"
	"github.com/realestate-ai/enhance-pipeline/internal/pkg/dbctx"
	"github.com/realestate-ai/enhance-pipeline/internal/pkg/logger"
	"github.com/realestate-ai/enhance-pipeline/internal/persistence"
)

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]*domain.User
}

func newFakeUserRepo() *fakeUserRepo { return &fakeUserRepo{users: map[uuid.UUID]*domain.User{}} }

func (r *fakeUserRepo) Create(_ dbctx.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *fakeUserRepo) GetByID(_ dbctx.Context, id uuid.UUID) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *fakeUserRepo) GetByEmail(_ dbctx.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, persistence.ErrNotFound
}

func (r *fakeUserRepo) HoldCredits(_ dbctx.Context, userID uuid.UUID, amount int64, _ config.Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return persistence.ErrNotFound
	}
	if u.Credits-amount < 0 {
		return persistence.ErrInsufficientCredits
	}
	u.Credits -= amount
	return nil
}

func (r *fakeUserRepo) RefundCredits(_ dbctx.Context, userID uuid.UUID, amount int64, _ config.Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return persistence.ErrNotFound
	}
	u.Credits += amount
	return nil
}

func (r *fakeUserRepo) ChargeHeld(_ dbctx.Context, _ uuid.UUID, _ config.Config) error { return nil }

type fakeJobRepo struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*domain.Job
}

func newFakeJobRepo() *fakeJobRepo { return &fakeJobRepo{jobs: map[uuid.UUID]*domain.Job{}} }

func (r *fakeJobRepo) Create(_ dbctx.Context, jobs []*domain.Job) ([]*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range jobs {
		cp := *j
		r.jobs[j.ID] = &cp
	}
	return jobs, nil
}

func (r *fakeJobRepo) GetByID(_ dbctx.Context, id uuid.UUID) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (r *fakeJobRepo) GetByIDs(_ dbctx.Context, ids []uuid.UUID) ([]*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.Job, 0, len(ids))
	for _, id := range ids {
		if j, ok := r.jobs[id]; ok {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeJobRepo) ListByBatch(_ dbctx.Context, batchID uuid.UUID) ([]*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Job
	for _, j := range r.jobs {
		if j.BatchID == batchID {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeJobRepo) ClaimNextRunnable(_ dbctx.Context, _ time.Duration) (*domain.Job, error) {
	return nil, nil
}

func (r *fakeJobRepo) Heartbeat(_ dbctx.Context, _ uuid.UUID) error { return nil }

func (r *fakeJobRepo) SaveWithCAS(_ dbctx.Context, job *domain.Job, prevVersion int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.jobs[job.ID]
	if !ok || existing.Version != prevVersion {
		return false, nil
	}
	cp := *job
	cp.Version = prevVersion + 1
	r.jobs[job.ID] = &cp
	job.Version = cp.Version
	return true, nil
}

func (r *fakeJobRepo) CancelNonTerminal(_ dbctx.Context, batchID uuid.UUID) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []uuid.UUID
	for _, j := range r.jobs {
		if j.BatchID == batchID && !j.Status.IsTerminal() {
			j.Status = domain.JobCancelled
			j.Version++
			ids = append(ids, j.ID)
		}
	}
	return ids, nil
}

type fakeBatchRepo struct {
	mu      sync.Mutex
	batches map[uuid.UUID]*domain.Batch
}

func newFakeBatchRepo() *fakeBatchRepo { return &fakeBatchRepo{batches: map[uuid.UUID]*domain.Batch{}} }

func (r *fakeBatchRepo) Create(_ dbctx.Context, batch *domain.Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *batch
	r.batches[batch.ID] = &cp
	return nil
}

func (r *fakeBatchRepo) GetByID(_ dbctx.Context, id uuid.UUID) (*domain.Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[id]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (r *fakeBatchRepo) ListByUser(_ dbctx.Context, userID uuid.UUID, _ int) ([]*domain.Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Batch
	for _, b := range r.batches {
		if b.OwnerUserID == userID {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, nil
}

func testDeps(t *testing.T) (Deps, *fakeUserRepo, *fakeJobRepo, *fakeBatchRepo) {
	t.Helper()
	log, err := logger.New("test")
	require.NoError(t, err)
	users := newFakeUserRepo()
	jobs := newFakeJobRepo()
	batches := newFakeBatchRepo()
	return Deps{
		Users:   users,
		Jobs:    jobs,
		Batches: batches,
		Cfg:     config.Config{CASMaxAttempts: 5, CASBaseBackoff: time.Millisecond},
		Log:     log,
	}, users, jobs, batches
}

func twoImageUpload(userID uuid.UUID) UploadRequest {
	return UploadRequest{
		UserID: userID,
		Settings: domain.BatchSettings{
			AllowStaging: true,
			Declutter:    true,
			DeclutterMode: "light",
		},
		Images: []ImageUpload{
			{ImageID: "img-1", InputImageURL: "https://example.test/1.jpg", Meta: domain.ImageMeta{SceneType: domain.SceneInterior, RoomType: "living_room"}},
			{ImageID: "img-2", InputImageURL: "https://example.test/2.jpg", Meta: domain.ImageMeta{SceneType: domain.SceneExterior}},
		},
	}
}

func TestCreateBatch_HoldsCreditsAndCreatesJobs(t *testing.T) {
	deps, users, jobs, _ := testDeps(t)
	userID := uuid.New()
	require.NoError(t, users.Create(dbctx.Context{Ctx: context.Background()}, &domain.User{ID: userID, Credits: 10}))

	coord := New(deps)
	res, err := coord.CreateBatch(context.Background(), twoImageUpload(userID))
	require.NoError(t, err)
	require.Len(t, res.Jobs, 2)

	got, err := users.GetByID(dbctx.Context{Ctx: context.Background()}, userID)
	require.NoError(t, err)
	// interior image runs stage2 (cost 2), exterior image does not (cost 1).
	require.Equal(t, int64(10-3), got.Credits)
	require.Len(t, jobs.jobs, 2)
}

func TestCreateBatch_QuotaExceeded(t *testing.T) {
	deps, users, _, _ := testDeps(t)
	userID := uuid.New()
	require.NoError(t, users.Create(dbctx.Context{Ctx: context.Background()}, &domain.User{ID: userID, Credits: 1}))

	coord := New(deps)
	_, err := coord.CreateBatch(context.Background(), twoImageUpload(userID))
	require.ErrorIs(t, err, ErrQuotaExceeded)

	got, err := users.GetByID(dbctx.Context{Ctx: context.Background()}, userID)
	require.NoError(t, err)
	require.Equal(t, int64(1), got.Credits)
}

func TestCreateBatch_UnknownUser(t *testing.T) {
	deps, _, _, _ := testDeps(t)
	coord := New(deps)
	_, err := coord.CreateBatch(context.Background(), twoImageUpload(uuid.New()))
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestStatus_AggregatesCountsAndDone(t *testing.T) {
	deps, users, _, _ := testDeps(t)
	userID := uuid.New()
	require.NoError(t, users.Create(dbctx.Context{Ctx: context.Background()}, &domain.User{ID: userID, Credits: 10}))

	coord := New(deps)
	res, err := coord.CreateBatch(context.Background(), twoImageUpload(userID))
	require.NoError(t, err)

	status, err := coord.Status(context.Background(), res.BatchID)
	require.NoError(t, err)
	require.False(t, status.Done)
	require.Equal(t, 2, status.Counts[domain.JobQueued])
}

func TestCancelBatch_RefundsHeldCredits(t *testing.T) {
	deps, users, _, _ := testDeps(t)
	userID := uuid.New()
	require.NoError(t, users.Create(dbctx.Context{Ctx: context.Background()}, &domain.User{ID: userID, Credits: 10}))

	coord := New(deps)
	res, err := coord.CreateBatch(context.Background(), twoImageUpload(userID))
	require.NoError(t, err)

	afterHold, err := users.GetByID(dbctx.Context{Ctx: context.Background()}, userID)
	require.NoError(t, err)
	require.Equal(t, int64(7), afterHold.Credits)

	cancelledIDs, err := coord.CancelBatch(context.Background(), res.BatchID)
	require.NoError(t, err)
	require.Len(t, cancelledIDs, 2)

	afterCancel, err := users.GetByID(dbctx.Context{Ctx: context.Background()}, userID)
	require.NoError(t, err)
	require.Equal(t, int64(10), afterCancel.Credits)
}

func TestReconcileTerminal_CompletedMarksCharged(t *testing.T) {
	deps, users, jobs, batches := testDeps(t)
	userID := uuid.New()
	require.NoError(t, users.Create(dbctx.Context{Ctx: context.Background()}, &domain.User{ID: userID, Credits: 10}))

	coord := New(deps)
	res, err := coord.CreateBatch(context.Background(), twoImageUpload(userID))
	require.NoError(t, err)

	jobID := res.Jobs[0].JobID
	dbc := dbctx.Context{Ctx: context.Background()}
	job, err := jobs.GetByID(dbc, jobID)
	require.NoError(t, err)
	job.Status = domain.JobCompleted
	ok, err := jobs.SaveWithCAS(dbc, job, job.Version)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, coord.ReconcileTerminal(context.Background(), jobID))

	reconciled, err := jobs.GetByID(dbc, jobID)
	require.NoError(t, err)
	require.True(t, reconciled.Charged)

	// second call is a no-op, not a double charge.
	require.NoError(t, coord.ReconcileTerminal(context.Background(), jobID))

	_, err = batches.GetByID(dbc, res.BatchID)
	require.NoError(t, err)
}
