package persistence

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/realestate-ai/enhance-pipeline/internal/pkg/logger"
)

// indexEvent is one append-only record in the fallback log. Replaying the
// log in order and keeping only the latest state per key reconstructs the
// same batch:byUser/job:byBatch shapes the Redis index serves.
type indexEvent struct {
	Kind      string    `json:"kind"` // "batch" or "job"
	UserID    uuid.UUID `json:"userId,omitempty"`
	BatchID   uuid.UUID `json:"batchId"`
	JobID     uuid.UUID `json:"jobId,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// fileIndex is a SecondaryIndex backed by an append-only NDJSON file,
// used when Redis is unreachable at process startup. It trades O(1)
// lookups for an in-memory replay of the log, which is acceptable since
// it only ever serves while Redis is down.
type fileIndex struct {
	log *logger.Logger

	mu   sync.Mutex
	path string
	f    *os.File

	batchesByUser map[uuid.UUID][]uuid.UUID // insertion order, oldest first
	batchCreated  map[uuid.UUID]time.Time
	jobsByBatch   map[uuid.UUID][]uuid.UUID
}

// NewFileIndex opens (creating if absent) an NDJSON log at path and
// replays it into memory. Safe to use concurrently with appends.
func NewFileIndex(path string, log *logger.Logger) (*fileIndex, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open fallback index %q: %w", path, err)
	}

	idx := &fileIndex{
		log:           log.With("component", "FileIndex"),
		path:          path,
		f:             f,
		batchesByUser: make(map[uuid.UUID][]uuid.UUID),
		batchCreated:  make(map[uuid.UUID]time.Time),
		jobsByBatch:   make(map[uuid.UUID][]uuid.UUID),
	}
	if err := idx.replay(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return idx, nil
}

func (idx *fileIndex) replay() error {
	if _, err := idx.f.Seek(0, 0); err != nil {
		return err
	}
	scanner := bufio.NewScanner(idx.f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev indexEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			idx.log.Warn("skipping malformed fallback index line", "error", err.Error())
			continue
		}
		idx.apply(ev)
	}
	if _, err := idx.f.Seek(0, 2); err != nil {
		return err
	}
	return scanner.Err()
}

func (idx *fileIndex) apply(ev indexEvent) {
	switch ev.Kind {
	case "batch":
		if _, seen := idx.batchCreated[ev.BatchID]; !seen {
			idx.batchesByUser[ev.UserID] = append(idx.batchesByUser[ev.UserID], ev.BatchID)
		}
		idx.batchCreated[ev.BatchID] = ev.CreatedAt
	case "job":
		idx.jobsByBatch[ev.BatchID] = append(idx.jobsByBatch[ev.BatchID], ev.JobID)
	}
}

func (idx *fileIndex) appendEvent(ev indexEvent) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	if _, err := idx.f.Write(b); err != nil {
		return err
	}
	idx.apply(ev)
	return nil
}

func (idx *fileIndex) IndexBatch(_ context.Context, userID, batchID uuid.UUID, createdAt time.Time) error {
	return idx.appendEvent(indexEvent{Kind: "batch", UserID: userID, BatchID: batchID, CreatedAt: createdAt})
}

func (idx *fileIndex) IndexJob(_ context.Context, batchID, jobID uuid.UUID) error {
	return idx.appendEvent(indexEvent{Kind: "job", BatchID: batchID, JobID: jobID})
}

func (idx *fileIndex) BatchIDsForUser(_ context.Context, userID uuid.UUID, limit int64) ([]uuid.UUID, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	ids := append([]uuid.UUID(nil), idx.batchesByUser[userID]...)
	sort.SliceStable(ids, func(i, j int) bool {
		return idx.batchCreated[ids[i]].After(idx.batchCreated[ids[j]])
	})
	if limit > 0 && int64(len(ids)) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (idx *fileIndex) JobIDsForBatch(_ context.Context, batchID uuid.UUID) ([]uuid.UUID, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return append([]uuid.UUID(nil), idx.jobsByBatch[batchID]...), nil
}

func (idx *fileIndex) Ping(_ context.Context) error { return nil }

func (idx *fileIndex) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.f.Close()
}

// MigrateFileIndexToRedis replays a fallback log into Redis once
// connectivity is restored. It is idempotent: ZAdd on an already present
// member only updates its score, and job IDs already in a batch's Redis
// list are skipped, so a retried migration never duplicates entries from
// a prior partial attempt.
func MigrateFileIndexToRedis(ctx context.Context, file *fileIndex, target SecondaryIndex, log *logger.Logger) error {
	file.mu.Lock()
	users := make(map[uuid.UUID][]uuid.UUID, len(file.batchesByUser))
	for u, batches := range file.batchesByUser {
		users[u] = append([]uuid.UUID(nil), batches...)
	}
	batchCreated := make(map[uuid.UUID]time.Time, len(file.batchCreated))
	for b, t := range file.batchCreated {
		batchCreated[b] = t
	}
	jobs := make(map[uuid.UUID][]uuid.UUID, len(file.jobsByBatch))
	for b, js := range file.jobsByBatch {
		jobs[b] = append([]uuid.UUID(nil), js...)
	}
	file.mu.Unlock()

	for userID, batchIDs := range users {
		for _, batchID := range batchIDs {
			if err := target.IndexBatch(ctx, userID, batchID, batchCreated[batchID]); err != nil {
				return fmt.Errorf("migrate batch %s: %w", batchID, err)
			}
		}
	}
	for batchID, jobIDs := range jobs {
		existing, err := target.JobIDsForBatch(ctx, batchID)
		if err != nil {
			return fmt.Errorf("migrate jobs for batch %s: %w", batchID, err)
		}
		seen := make(map[uuid.UUID]bool, len(existing))
		for _, id := range existing {
			seen[id] = true
		}
		for _, jobID := range jobIDs {
			if seen[jobID] {
				continue
			}
			if err := target.IndexJob(ctx, batchID, jobID); err != nil {
				return fmt.Errorf("migrate job %s: %w", jobID, err)
			}
		}
	}

	log.Info("fallback index migrated to redis", "users", len(users), "batches", len(batchCreated), "jobBatches", len(jobs))
	return nil
}
