package httpapi

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/realestate-ai/enhance-pipeline/internal/config"
	"github.com/realestate-ai/enhance-pipeline/internal/domain"
	"github.com/realestate-ai/enhance-pipeline/internal/objectstore"
	"github.com/realestate-ai/enhance-pipeline/internal/pkg/dbctx"
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

// fakeStore is an in-memory objectstore.Store: handler tests only ever
// exercise the write side, so reads that aren't hit by the handlers under
// test are left unimplemented.
type fakeStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeStore() *fakeStore { return &fakeStore{data: map[string][]byte{}} }

func (s *fakeStore) UploadFile(_ dbctx.Context, category objectstore.ArtifactCategory, key string, file io.Reader) error {
	buf, err := io.ReadAll(file)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[string(category)+"/"+key] = buf
	return nil
}

func (s *fakeStore) DeleteFile(_ dbctx.Context, category objectstore.ArtifactCategory, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, string(category)+"/"+key)
	return nil
}

func (s *fakeStore) ReplaceFile(dbc dbctx.Context, category objectstore.ArtifactCategory, key string, newFile io.Reader) error {
	return s.UploadFile(dbc, category, key, newFile)
}

func (s *fakeStore) DownloadFile(_ context.Context, _ objectstore.ArtifactCategory, _ string) (io.ReadCloser, error) {
	return nil, persistence.ErrNotFound
}

func (s *fakeStore) CopyObject(_ context.Context, _ objectstore.ArtifactCategory, _, _ string) error {
	return nil
}

func (s *fakeStore) ListKeys(_ context.Context, _ objectstore.ArtifactCategory, _ string) ([]string, error) {
	return nil, nil
}

func (s *fakeStore) DeletePrefix(_ context.Context, _ objectstore.ArtifactCategory, _ string) error {
	return nil
}

func (s *fakeStore) GetPublicURL(category objectstore.ArtifactCategory, key string) string {
	return "https://cdn.example.test/" + string(category) + "/" + key
}
