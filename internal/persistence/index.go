package persistence

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/realestate-ai/enhance-pipeline/internal/pkg/logger"
)

// indexHandle wraps the currently active SecondaryIndex behind an atomic
// pointer so NewSecondaryIndex can hand callers one stable value up front
// and later swap it from the file fallback to Redis in the background,
// without ever exposing the unexported fileIndex type across the package
// boundary.
type indexHandle struct {
	current atomic.Value // holds SecondaryIndex
}

func newIndexHandle(initial SecondaryIndex) *indexHandle {
	h := &indexHandle{}
	h.current.Store(initial)
	return h
}

func (h *indexHandle) get() SecondaryIndex { return h.current.Load().(SecondaryIndex) }

func (h *indexHandle) IndexBatch(ctx context.Context, userID, batchID uuid.UUID, createdAt time.Time) error {
	return h.get().IndexBatch(ctx, userID, batchID, createdAt)
}

func (h *indexHandle) IndexJob(ctx context.Context, batchID, jobID uuid.UUID) error {
	return h.get().IndexJob(ctx, batchID, jobID)
}

func (h *indexHandle) BatchIDsForUser(ctx context.Context, userID uuid.UUID, limit int64) ([]uuid.UUID, error) {
	return h.get().BatchIDsForUser(ctx, userID, limit)
}

func (h *indexHandle) JobIDsForBatch(ctx context.Context, batchID uuid.UUID) ([]uuid.UUID, error) {
	return h.get().JobIDsForBatch(ctx, batchID)
}

func (h *indexHandle) Ping(ctx context.Context) error { return h.get().Ping(ctx) }

// NewSecondaryIndex tries Redis first. If Redis is unreachable at startup
// it falls back to an append-only NDJSON file at fallbackPath and spawns a
// background goroutine (bound to ctx) that keeps retrying Redis; once
// reconnected, it replays the fallback log into Redis and atomically
// swaps the handle over, so every caller holding the returned
// SecondaryIndex observes the upgrade without re-wiring anything. The
// returned closer (possibly nil) should be closed on shutdown.
func NewSecondaryIndex(ctx context.Context, fallbackPath string, log *logger.Logger) (SecondaryIndex, func() error, error) {
	if idx, err := NewRedisIndex(log); err == nil {
		return idx, nil, nil
	} else {
		log.Warn("redis unreachable at startup, using file-backed index fallback", "error", err.Error())
	}

	file, err := NewFileIndex(fallbackPath, log)
	if err != nil {
		return nil, nil, err
	}

	handle := newIndexHandle(file)
	go reconnectLoop(ctx, handle, file, 10*time.Second, log)
	return handle, file.Close, nil
}

func reconnectLoop(ctx context.Context, handle *indexHandle, file *fileIndex, retryEvery time.Duration, log *logger.Logger) {
	ticker := time.NewTicker(retryEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			redisIdx, err := NewRedisIndex(log)
			if err != nil {
				continue
			}
			if err := MigrateFileIndexToRedis(ctx, file, redisIdx, log); err != nil {
				log.Warn("fallback index migration failed, will retry", "error", err.Error())
				continue
			}
			handle.current.Store(redisIdx)
			log.Info("secondary index reconnected to redis, fallback file retired")
			return
		}
	}
}
