package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestFileIndex_IndexAndQuery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.ndjson")
	log := testLogger(t)

	idx, err := NewFileIndex(path, log)
	require.NoError(t, err)
	defer idx.Close()

	ctx := context.Background()
	userID := uuid.New()
	oldBatch := uuid.New()
	newBatch := uuid.New()

	require.NoError(t, idx.IndexBatch(ctx, userID, oldBatch, time.Now().Add(-time.Hour)))
	require.NoError(t, idx.IndexBatch(ctx, userID, newBatch, time.Now()))

	jobA, jobB := uuid.New(), uuid.New()
	require.NoError(t, idx.IndexJob(ctx, newBatch, jobA))
	require.NoError(t, idx.IndexJob(ctx, newBatch, jobB))

	batches, err := idx.BatchIDsForUser(ctx, userID, 0)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{newBatch, oldBatch}, batches)

	jobs, err := idx.JobIDsForBatch(ctx, newBatch)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{jobA, jobB}, jobs)
}

func TestFileIndex_ReplaysAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.ndjson")
	log := testLogger(t)

	idx, err := NewFileIndex(path, log)
	require.NoError(t, err)

	ctx := context.Background()
	userID, batchID, jobID := uuid.New(), uuid.New(), uuid.New()
	require.NoError(t, idx.IndexBatch(ctx, userID, batchID, time.Now()))
	require.NoError(t, idx.IndexJob(ctx, batchID, jobID))
	require.NoError(t, idx.Close())

	reopened, err := NewFileIndex(path, log)
	require.NoError(t, err)
	defer reopened.Close()

	batches, err := reopened.BatchIDsForUser(ctx, userID, 0)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{batchID}, batches)

	jobs, err := reopened.JobIDsForBatch(ctx, batchID)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{jobID}, jobs)
}

type fakeRedisLikeIndex struct {
	batches map[uuid.UUID][]uuid.UUID
	jobs    map[uuid.UUID][]uuid.UUID
}

func newFakeRedisLikeIndex() *fakeRedisLikeIndex {
	return &fakeRedisLikeIndex{batches: map[uuid.UUID][]uuid.UUID{}, jobs: map[uuid.UUID][]uuid.UUID{}}
}

func (f *fakeRedisLikeIndex) IndexBatch(_ context.Context, userID, batchID uuid.UUID, _ time.Time) error {
	for _, b := range f.batches[userID] {
		if b == batchID {
			return nil
		}
	}
	f.batches[userID] = append(f.batches[userID], batchID)
	return nil
}

func (f *fakeRedisLikeIndex) IndexJob(_ context.Context, batchID, jobID uuid.UUID) error {
	f.jobs[batchID] = append(f.jobs[batchID], jobID)
	return nil
}

func (f *fakeRedisLikeIndex) BatchIDsForUser(_ context.Context, userID uuid.UUID, _ int64) ([]uuid.UUID, error) {
	return f.batches[userID], nil
}

func (f *fakeRedisLikeIndex) JobIDsForBatch(_ context.Context, batchID uuid.UUID) ([]uuid.UUID, error) {
	return f.jobs[batchID], nil
}

func (f *fakeRedisLikeIndex) Ping(_ context.Context) error { return nil }

func TestMigrateFileIndexToRedis_IsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.ndjson")
	log := testLogger(t)

	idx, err := NewFileIndex(path, log)
	require.NoError(t, err)
	defer idx.Close()

	ctx := context.Background()
	userID, batchID, jobID := uuid.New(), uuid.New(), uuid.New()
	require.NoError(t, idx.IndexBatch(ctx, userID, batchID, time.Now()))
	require.NoError(t, idx.IndexJob(ctx, batchID, jobID))

	target := newFakeRedisLikeIndex()
	require.NoError(t, MigrateFileIndexToRedis(ctx, idx, target, log))
	require.NoError(t, MigrateFileIndexToRedis(ctx, idx, target, log))

	require.Equal(t, []uuid.UUID{batchID}, target.batches[userID])
	require.Equal(t, []uuid.UUID{jobID}, target.jobs[batchID])
}
