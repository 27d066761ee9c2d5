package persistence

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/google/uuid"

	"github.com/realestate-ai/enhance-pipeline/internal/pkg/logger"
)

// SecondaryIndex maintains the fan-out lookups named by the key-value
// contract: batch:byUser:{userId} (sorted set by createdAt) for history,
// and job:byBatch:{batchId} (list) for O(1) fan-out from a batch to its
// jobs. Postgres remains the source of truth; this index only speeds up
// the two access patterns the status/history endpoints need.
type SecondaryIndex interface {
	IndexBatch(ctx context.Context, userID, batchID uuid.UUID, createdAt time.Time) error
	IndexJob(ctx context.Context, batchID, jobID uuid.UUID) error
	BatchIDsForUser(ctx context.Context, userID uuid.UUID, limit int64) ([]uuid.UUID, error)
	JobIDsForBatch(ctx context.Context, batchID uuid.UUID) ([]uuid.UUID, error)
	Ping(ctx context.Context) error
}

type redisIndex struct {
	log *logger.Logger
	rdb *goredis.Client
}

// NewRedisIndex connects to Redis using REDIS_ADDR from the environment,
// pinging once to fail fast at startup rather than on first use.
func NewRedisIndex(log *logger.Logger) (SecondaryIndex, error) {
	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &redisIndex{log: log.With("component", "SecondaryIndex"), rdb: rdb}, nil
}

func batchByUserKey(userID uuid.UUID) string { return "batch:byUser:" + userID.String() }
func jobByBatchKey(batchID uuid.UUID) string { return "job:byBatch:" + batchID.String() }

func (idx *redisIndex) IndexBatch(ctx context.Context, userID, batchID uuid.UUID, createdAt time.Time) error {
	return idx.rdb.ZAdd(ctx, batchByUserKey(userID), goredis.Z{
		Score:  float64(createdAt.UnixNano()),
		Member: batchID.String(),
	}).Err()
}

func (idx *redisIndex) IndexJob(ctx context.Context, batchID, jobID uuid.UUID) error {
	return idx.rdb.RPush(ctx, jobByBatchKey(batchID), jobID.String()).Err()
}

func (idx *redisIndex) BatchIDsForUser(ctx context.Context, userID uuid.UUID, limit int64) ([]uuid.UUID, error) {
	stop := limit - 1
	if limit <= 0 {
		stop = -1
	}
	raw, err := idx.rdb.ZRevRange(ctx, batchByUserKey(userID), 0, stop).Result()
	if err != nil {
		return nil, err
	}
	return parseUUIDs(raw)
}

func (idx *redisIndex) JobIDsForBatch(ctx context.Context, batchID uuid.UUID) ([]uuid.UUID, error) {
	raw, err := idx.rdb.LRange(ctx, jobByBatchKey(batchID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	return parseUUIDs(raw)
}

func (idx *redisIndex) Ping(ctx context.Context) error {
	return idx.rdb.Ping(ctx).Err()
}

func parseUUIDs(raw []string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("parse indexed id %q: %w", s, err)
		}
		out = append(out, id)
	}
	return out, nil
}
